// Package eventsink defines where watch notifications go. The engine only
// sees the Sink interface; the log backend, the persistent journal and test
// recorders all sit behind it.
package eventsink

import (
	"errors"
	"time"
)

// DefaultSource names the producer on every entry.
const DefaultSource = "FileWatcher"

type Severity int

const (
	SeverityInformation Severity = iota
	SeverityWarning
	SeverityError
)

func (s Severity) String() string {
	switch s {
	case SeverityInformation:
		return "Information"
	case SeverityWarning:
		return "Warning"
	case SeverityError:
		return "Error"
	}
	return "Unknown"
}

// Entry is a single notification.
type Entry struct {
	Time     time.Time
	Severity Severity
	Source   string
	WatchID  string
	Path     string
	Message  string
}

type Sink interface {
	Write(e Entry) error
}

type multiSink []Sink

// Multi fans every entry out to all sinks. A failing sink does not keep the
// others from receiving the entry.
func Multi(sinks ...Sink) Sink {
	return multiSink(sinks)
}

func (m multiSink) Write(e Entry) error {
	var errs []error
	for _, s := range m {
		if err := s.Write(e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
