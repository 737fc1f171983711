package watcher

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"sync"
	"time"

	"filewatch/internal/util/logger/sl"
)

// PollingDetector re-reads the target on a fixed interval and compares the
// content with the previous read.
type PollingDetector struct {
	reader     ContentReader
	interval   time.Duration
	fatalReads bool
	logger     *slog.Logger
	metrics    *Metrics
	now        func() time.Time

	mu      sync.Mutex
	started bool
	stopped bool
	cancel  context.CancelFunc
	done    chan struct{}

	// snapshot is written by Start before the loop exists and by the loop
	// afterwards.
	snapshot []byte
}

func NewPollingDetector(config Config) *PollingDetector {
	config = config.withDefaults()

	return &PollingDetector{
		reader:     config.Reader,
		interval:   config.PollInterval,
		fatalReads: config.ReadErrorPolicy.fatal(true),
		logger:     config.Logger,
		metrics:    config.Metrics,
		now:        config.Now,
	}
}

func (d *PollingDetector) Strategy() Strategy {
	return StrategyPoll
}

// Start seeds the snapshot with a first read and launches the polling loop.
// The watch does not start if that first read fails.
func (d *PollingDetector) Start(ctx context.Context, target Target, onEvent func(ChangeEvent)) error {
	const op = "watcher.PollingDetector.Start"

	content, err := d.reader.ReadFile(ctx, target.Path)
	if err != nil {
		d.metrics.RecordReadFailure()
		return fmt.Errorf("%w: %w", ErrInitialRead, err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return ErrDetectorStopped
	}
	if d.started {
		return ErrAlreadyStarted
	}

	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	d.snapshot = content
	d.cancel = cancel
	d.done = make(chan struct{})
	d.started = true

	go d.run(loopCtx, target, onEvent)

	d.logger.Debug("polling started",
		slog.String("op", op),
		slog.String("path", target.Path),
		slog.Duration("interval", d.interval),
	)
	return nil
}

func (d *PollingDetector) run(ctx context.Context, target Target, onEvent func(ChangeEvent)) {
	defer close(d.done)

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if !d.poll(ctx, target, onEvent) {
			return
		}
	}
}

// poll reads the target once and reports whether the loop should go on.
func (d *PollingDetector) poll(ctx context.Context, target Target, onEvent func(ChangeEvent)) bool {
	const op = "watcher.PollingDetector.poll"

	d.metrics.RecordPoll()

	content, err := d.reader.ReadFile(ctx, target.Path)
	if ctx.Err() != nil {
		return false
	}

	if err != nil {
		d.metrics.RecordReadFailure()
		d.logger.Debug("poll failed", slog.String("op", op), slog.String("path", target.Path), sl.Err(err))

		if errors.Is(err, fs.ErrNotExist) {
			d.emit(onEvent, Deleted{At: d.now(), Path: target.Path})
			return false
		}

		d.emit(onEvent, ObservationError{
			Source:  ObservationRead,
			Message: fmt.Sprintf("failed to read %s", target.Path),
			Err:     err,
			Fatal:   d.fatalReads,
		})
		return !d.fatalReads
	}

	if bytes.Equal(content, d.snapshot) {
		return true
	}

	ev := Changed{
		At:        d.now(),
		NewLength: len(content),
		Diff:      diffStat(d.snapshot, content),
	}
	d.snapshot = content
	d.emit(onEvent, ev)
	return true
}

func (d *PollingDetector) emit(onEvent func(ChangeEvent), ev ChangeEvent) {
	d.metrics.RecordEvent(ev)
	onEvent(ev)
}

// Stop cancels the loop and waits for it to exit. A read in progress is
// abandoned at its next retry boundary.
func (d *PollingDetector) Stop() error {
	d.mu.Lock()
	d.stopped = true
	cancel, done := d.cancel, d.done
	d.mu.Unlock()

	if cancel == nil {
		return nil
	}

	cancel()
	<-done
	return nil
}
