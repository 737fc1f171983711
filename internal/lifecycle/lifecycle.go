// Package lifecycle runs one file watch at a time on behalf of a process
// supervisor: it starts and stops the change detector, forwards what the
// detector sees to a notification sink and ends the watch on its own when
// the file is deleted or can no longer be read.
package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"filewatch/internal/eventsink"
	"filewatch/internal/util/logger/sl"
	"filewatch/internal/watcher"
)

const DefaultQueueSize = 64

// DetectorFactory builds a fresh detector for every watch.
type DetectorFactory func() (watcher.Detector, error)

type Config struct {
	NewDetector DetectorFactory
	Sink        eventsink.Sink
	Logger      *slog.Logger
	// OnAbort is called once a running watch has ended on its own, with the
	// reason. It is not called for failed starts or stop commands.
	OnAbort   func(error)
	QueueSize int
	Now       func() time.Time
}

type Lifecycle struct {
	newDetector DetectorFactory
	sink        eventsink.Sink
	logger      *slog.Logger
	onAbort     func(error)
	queueSize   int
	now         func() time.Time

	mu      sync.Mutex
	state   State
	current *watch
}

// watch - один запуск от Start до остановки
type watch struct {
	id     string
	target watcher.Target

	events     chan watcher.ChangeEvent
	quit       chan struct{} // closed when teardown begins
	dispatched chan struct{} // closed when the dispatcher returns
	stopped    chan struct{} // closed when the watch reached StateStopped

	// защищены Lifecycle.mu
	detector watcher.Detector
	stopping bool

	// sinkMu упорядочивает записи этого запуска, после sealed
	// ничего не пишется
	sinkMu sync.Mutex
	sealed bool
}

func New(config Config) *Lifecycle {
	if config.NewDetector == nil {
		config.NewDetector = func() (watcher.Detector, error) {
			return watcher.New(watcher.Config{Logger: config.Logger})
		}
	}
	if config.Logger == nil {
		config.Logger = slog.New(slog.NewTextHandler(os.Stdout, nil))
	}
	if config.Sink == nil {
		config.Sink = eventsink.NewSlogSink(config.Logger)
	}
	if config.QueueSize <= 0 {
		config.QueueSize = DefaultQueueSize
	}
	if config.Now == nil {
		config.Now = time.Now
	}

	return &Lifecycle{
		newDetector: config.NewDetector,
		sink:        config.Sink,
		logger:      config.Logger,
		onAbort:     config.OnAbort,
		queueSize:   config.QueueSize,
		now:         config.Now,
	}
}

func (l *Lifecycle) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Done returns a channel closed when the current watch reaches
// StateStopped. Without a watch the channel is already closed.
func (l *Lifecycle) Done() <-chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.current == nil {
		done := make(chan struct{})
		close(done)
		return done
	}
	return l.current.stopped
}

// Start begins watching path. It returns once the detector is running, or
// with an error wrapping ErrConfiguration when the watch cannot start, in
// which case the lifecycle is back in StateStopped.
func (l *Lifecycle) Start(ctx context.Context, path string) error {
	const op = "lifecycle.Start"

	target, targetErr := watcher.NewTarget(path)

	l.mu.Lock()
	if l.state != StateStopped {
		state := l.state
		l.mu.Unlock()
		return fmt.Errorf("%w: state is %s", ErrAlreadyRunning, state)
	}
	w := l.newWatch(target)
	l.current = w
	l.setState(StateStarting)
	l.mu.Unlock()

	l.notify(w, eventsink.SeverityInformation, "Starting service")
	l.notify(w, eventsink.SeverityInformation, "Configuring...")

	if targetErr != nil {
		return l.failStart(w, fmt.Errorf("%w: %w", ErrConfiguration, targetErr))
	}
	l.notify(w, eventsink.SeverityInformation, fmt.Sprintf("Setting %s as path", target.Path))

	detector, err := l.newDetector()
	if err != nil {
		return l.failStart(w, fmt.Errorf("%w: %w", ErrConfiguration, err))
	}

	l.mu.Lock()
	if w.stopping {
		l.mu.Unlock()
		if err := detector.Stop(); err != nil {
			l.logger.Error("failed to stop detector", slog.String("op", op), sl.Err(err))
		}
		return ErrStartAborted
	}
	w.detector = detector
	l.mu.Unlock()

	l.notify(w, eventsink.SeverityInformation,
		fmt.Sprintf("Testing file using %s detection", detector.Strategy()))

	startCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-w.quit:
			cancel()
		case <-startCtx.Done():
		}
	}()

	if err := detector.Start(startCtx, target, w.deliver); err != nil {
		l.mu.Lock()
		aborted := w.stopping
		l.mu.Unlock()
		if aborted {
			return ErrStartAborted
		}
		return l.failStart(w, fmt.Errorf("%w: %w", ErrConfiguration, err))
	}

	l.mu.Lock()
	if w.stopping {
		l.mu.Unlock()
		return ErrStartAborted
	}
	l.setState(StateRunning)
	l.mu.Unlock()

	l.notify(w, eventsink.SeverityInformation, "Configuring Done")
	l.notify(w, eventsink.SeverityInformation, "Started background watch")
	l.notify(w, eventsink.SeverityInformation, "Background worker running")
	return nil
}

// Stop ends the current watch and returns once nothing more will be written
// for it. Without a watch it does nothing.
func (l *Lifecycle) Stop() error {
	l.mu.Lock()
	w := l.current
	l.mu.Unlock()

	if w == nil {
		return nil
	}

	l.teardown(w, nil, false)
	return nil
}

// newWatch вызывается под l.mu
func (l *Lifecycle) newWatch(target watcher.Target) *watch {
	w := &watch{
		id:         uuid.NewString(),
		target:     target,
		events:     make(chan watcher.ChangeEvent, l.queueSize),
		quit:       make(chan struct{}),
		dispatched: make(chan struct{}),
		stopped:    make(chan struct{}),
	}

	go l.dispatch(w)
	return w
}

// deliver - колбэк детектора. Блокируется только при полной очереди
// и сдается, когда запуск останавливается
func (w *watch) deliver(ev watcher.ChangeEvent) {
	select {
	case w.events <- ev:
	case <-w.quit:
	}
}

func (l *Lifecycle) dispatch(w *watch) {
	defer close(w.dispatched)

	for {
		select {
		case <-w.quit:
			return
		case ev := <-w.events:
			select {
			case <-w.quit:
				return
			default:
			}

			if cause := l.handle(w, ev); cause != nil {
				l.teardown(w, cause, true)
				return
			}
		}
	}
}

// handle передает событие в sink и возвращает причину,
// если наблюдение нужно завершить
func (l *Lifecycle) handle(w *watch, ev watcher.ChangeEvent) error {
	switch ev := ev.(type) {
	case watcher.Changed:
		msg := fmt.Sprintf("Change detected, new length %d bytes", ev.NewLength)
		if ev.Diff != nil {
			msg += fmt.Sprintf(" (+%d/-%d)", ev.Diff.Inserted, ev.Diff.Deleted)
		}
		l.notify(w, eventsink.SeverityInformation, msg)

	case watcher.Renamed:
		msg := fmt.Sprintf("File renamed from %s", ev.OldPath)
		if ev.NewPath != "" {
			msg += " to " + ev.NewPath
		}
		l.notify(w, eventsink.SeverityWarning, msg)

	case watcher.Deleted:
		l.notify(w, eventsink.SeverityError, fmt.Sprintf("File deleted: %s", ev.Path))
		return ErrTargetDeleted

	case watcher.ObservationError:
		severity := eventsink.SeverityError
		if ev.Source == watcher.ObservationSubsystem {
			severity = eventsink.SeverityWarning
		}

		msg := ev.Message
		if ev.Err != nil {
			msg = fmt.Sprintf("%s: %v", ev.Message, ev.Err)
		}
		l.notify(w, severity, msg)

		if ev.Fatal {
			return fmt.Errorf("%w: %s", ErrObservation, msg)
		}
	}
	return nil
}

func (l *Lifecycle) failStart(w *watch, err error) error {
	l.notify(w, eventsink.SeverityError, fmt.Sprintf("Fatal error: %v", err))
	l.teardown(w, err, false)
	return err
}

// teardown переводит w в StateStopped. nil cause - команда остановки,
// иначе через StateStoppingError. fromDispatcher выставляется при вызове
// из горутины диспетчера, она не должна ждать сама себя.
func (l *Lifecycle) teardown(w *watch, cause error, fromDispatcher bool) {
	const op = "lifecycle.teardown"
	log := l.logger.With(slog.String("op", op), slog.String("watch_id", w.id))

	l.mu.Lock()
	if w.stopping {
		l.mu.Unlock()
		if !fromDispatcher {
			<-w.stopped
		}
		return
	}
	w.stopping = true
	if cause != nil {
		l.setState(StateStoppingError)
	}
	detector := w.detector
	l.mu.Unlock()

	if cause == nil {
		l.notify(w, eventsink.SeverityInformation, "Stopping service")
	}

	close(w.quit)

	if detector != nil {
		if err := detector.Stop(); err != nil {
			log.Error("failed to stop detector", sl.Err(err))
		}
	}
	if !fromDispatcher {
		<-w.dispatched
	}

	if cause == nil {
		l.seal(w, "Service Stopped Cleanly")
	} else {
		l.seal(w, "Service stopped after error")
	}

	l.mu.Lock()
	if l.current == w {
		l.current = nil
		l.setState(StateStopped)
	}
	l.mu.Unlock()

	if cause != nil && fromDispatcher && l.onAbort != nil {
		l.onAbort(cause)
	}
	close(w.stopped)
}

// setState вызывается под l.mu
func (l *Lifecycle) setState(s State) {
	if l.state == s {
		return
	}
	l.logger.Debug("watch state changed",
		slog.String("from", l.state.String()),
		slog.String("to", s.String()),
	)
	l.state = s
}

func (l *Lifecycle) notify(w *watch, severity eventsink.Severity, msg string) {
	w.sinkMu.Lock()
	defer w.sinkMu.Unlock()

	if w.sealed {
		return
	}
	l.write(w, severity, msg)
}

// seal пишет последнюю запись w
func (l *Lifecycle) seal(w *watch, msg string) {
	w.sinkMu.Lock()
	defer w.sinkMu.Unlock()

	if w.sealed {
		return
	}
	l.write(w, eventsink.SeverityInformation, msg)
	w.sealed = true
}

func (l *Lifecycle) write(w *watch, severity eventsink.Severity, msg string) {
	const op = "lifecycle.write"

	err := l.sink.Write(eventsink.Entry{
		Time:     l.now(),
		Severity: severity,
		Source:   eventsink.DefaultSource,
		WatchID:  w.id,
		Path:     w.target.Path,
		Message:  fmt.Sprintf("%s: %s", eventsink.DefaultSource, msg),
	})
	if err != nil {
		l.logger.Error("failed to write notification", slog.String("op", op), sl.Err(err))
	}
}
