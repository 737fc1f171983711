package watcher

import (
	"github.com/fsnotify/fsnotify"
	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "filewatch"

// Metrics counts what the detectors observe. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	polls         prometheus.Counter
	notifications *prometheus.CounterVec
	readFailures  prometheus.Counter
	events        *prometheus.CounterVec
	lastEventTime prometheus.Gauge
}

// NewMetrics creates the collectors and registers them on reg when it is
// not nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		polls: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "polls_total",
			Help:      "Number of polling reads of the watched file.",
		}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "notifications_total",
			Help:      "Filesystem notifications received, by operation.",
		}, []string{"op"}),
		readFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "read_failures_total",
			Help:      "Reads of the watched file that failed after retries.",
		}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "events_total",
			Help:      "Change events emitted, by kind.",
		}, []string{"kind"}),
		lastEventTime: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "last_event_timestamp_seconds",
			Help:      "Unix time of the last emitted change event.",
		}),
	}

	if reg != nil {
		reg.MustRegister(m.polls, m.notifications, m.readFailures, m.events, m.lastEventTime)
	}
	return m
}

func (m *Metrics) RecordPoll() {
	if m == nil {
		return
	}
	m.polls.Inc()
}

func (m *Metrics) RecordNotification(op fsnotify.Op) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(op.String()).Inc()
}

func (m *Metrics) RecordReadFailure() {
	if m == nil {
		return
	}
	m.readFailures.Inc()
}

func (m *Metrics) RecordEvent(ev ChangeEvent) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(string(ev.Kind())).Inc()
	m.lastEventTime.SetToCurrentTime()
}
