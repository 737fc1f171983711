package watcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"filewatch/internal/util/logger/sl"
)

// NotifyDetector reacts to filesystem notifications. It subscribes to the
// directory holding the target, which keeps working across the
// replace-by-rename saves many editors do, and filters by file name.
type NotifyDetector struct {
	watcher    *fsnotify.Watcher
	reader     ContentReader
	fatalReads bool
	logger     *slog.Logger
	metrics    *Metrics
	now        func() time.Time

	mu        sync.Mutex
	started   bool
	stopped   bool
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once
	closeErr  error
}

func NewNotifyDetector(config Config) (*NotifyDetector, error) {
	config = config.withDefaults()

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotifyUnavailable, err)
	}

	return &NotifyDetector{
		watcher:    w,
		reader:     config.Reader,
		fatalReads: config.ReadErrorPolicy.fatal(false),
		logger:     config.Logger,
		metrics:    config.Metrics,
		now:        config.Now,
	}, nil
}

func (d *NotifyDetector) Strategy() Strategy {
	return StrategyNotify
}

// Start checks that the target is an existing regular file and subscribes
// to its directory.
func (d *NotifyDetector) Start(ctx context.Context, target Target, onEvent func(ChangeEvent)) error {
	const op = "watcher.NotifyDetector.Start"

	info, err := os.Stat(target.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrTargetNotFound, target.Path)
		}
		return fmt.Errorf("failed to stat %s: %w", target.Path, err)
	}
	if info.IsDir() {
		return fmt.Errorf("%w: %s", ErrTargetIsDir, target.Path)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return ErrDetectorStopped
	}
	if d.started {
		return ErrAlreadyStarted
	}

	if err := d.watcher.Add(target.Dir); err != nil {
		return fmt.Errorf("failed to watch directory %s: %w", target.Dir, err)
	}

	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	d.cancel = cancel
	d.started = true

	d.wg.Add(1)
	go d.run(loopCtx, target, onEvent)

	d.logger.Debug("subscribed to notifications",
		slog.String("op", op),
		slog.String("dir", target.Dir),
		slog.String("name", target.Name),
	)
	return nil
}

func (d *NotifyDetector) run(ctx context.Context, target Target, onEvent func(ChangeEvent)) {
	defer d.wg.Done()

	// A rename of the target is held back briefly so that the create of
	// its new name, which the platform reports right after, can be paired
	// with it. Writes are read once writeSettle after the first of them.
	var (
		renamed      bool
		renameExpiry <-chan time.Time

		written      bool
		writeSettled <-chan time.Time
	)
	flushRename := func(newPath string) {
		if !renamed {
			return
		}
		renamed, renameExpiry = false, nil
		d.emit(ctx, onEvent, Renamed{OldPath: target.Path, NewPath: newPath})
	}

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-d.watcher.Events:
			if !ok {
				return
			}
			d.metrics.RecordNotification(event.Op)

			name := filepath.Clean(event.Name)
			if name == target.Path || name == target.Dir {
				switch {
				case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
					written, writeSettled = false, nil
				case name == target.Path && (event.Has(fsnotify.Write) || event.Has(fsnotify.Create)):
					flushRename("")
					if !written {
						written, writeSettled = true, time.After(writeSettle)
					}
					continue
				}
			}

			if renamed {
				if event.Has(fsnotify.Create) && filepath.Dir(name) == target.Dir && name != target.Path {
					flushRename(name)
					continue
				}
				flushRename("")
			}

			if name == target.Path && event.Has(fsnotify.Rename) && !event.Has(fsnotify.Remove) {
				renamed, renameExpiry = true, time.After(renameGrace)
				continue
			}
			d.handleEvent(ctx, target, name, event.Op, onEvent)

		case <-renameExpiry:
			flushRename("")

		case <-writeSettled:
			written, writeSettled = false, nil
			d.readTarget(ctx, target, onEvent)

		case err, ok := <-d.watcher.Errors:
			if !ok {
				return
			}
			d.handleError(ctx, err, onEvent)
		}
	}
}

func (d *NotifyDetector) handleEvent(ctx context.Context, target Target, name string, op fsnotify.Op, onEvent func(ChangeEvent)) {
	if op&WatchedEvents == 0 {
		return
	}

	switch {
	case name == target.Dir && (op.Has(fsnotify.Remove) || op.Has(fsnotify.Rename)):
		// the watched directory went away and took the target with it
		d.emit(ctx, onEvent, Deleted{At: d.now(), Path: target.Path})
	case name != target.Path:
		return
	case op.Has(fsnotify.Remove):
		d.emit(ctx, onEvent, Deleted{At: d.now(), Path: target.Path})
	case op.Has(fsnotify.Write), op.Has(fsnotify.Create):
		d.readTarget(ctx, target, onEvent)
	}
}

func (d *NotifyDetector) readTarget(ctx context.Context, target Target, onEvent func(ChangeEvent)) {
	const op = "watcher.NotifyDetector.readTarget"

	content, err := d.reader.ReadFile(ctx, target.Path)
	if ctx.Err() != nil {
		return
	}

	if errors.Is(err, os.ErrNotExist) {
		// reported by the remove or rename notification that follows
		d.logger.Debug("file gone before it was read", slog.String("op", op))
		return
	}
	if err != nil {
		d.metrics.RecordReadFailure()
		d.logger.Debug("read after notification failed", slog.String("op", op), sl.Err(err))
		d.emit(ctx, onEvent, ObservationError{
			Source:  ObservationRead,
			Message: fmt.Sprintf("failed to read %s after change notification", target.Path),
			Err:     err,
			Fatal:   d.fatalReads,
		})
		return
	}

	d.emit(ctx, onEvent, Changed{At: d.now(), NewLength: len(content)})
}

func (d *NotifyDetector) handleError(ctx context.Context, err error, onEvent func(ChangeEvent)) {
	msg := "filesystem notification error"
	if errors.Is(err, fsnotify.ErrEventOverflow) {
		msg = "notification queue overflowed, changes may have been missed"
	}

	d.emit(ctx, onEvent, ObservationError{
		Source:  ObservationSubsystem,
		Message: msg,
		Err:     err,
	})
}

func (d *NotifyDetector) emit(ctx context.Context, onEvent func(ChangeEvent), ev ChangeEvent) {
	if ctx.Err() != nil {
		return
	}
	d.metrics.RecordEvent(ev)
	onEvent(ev)
}

// Stop unsubscribes and waits for the event goroutine to return. It is safe
// to call more than once and before Start.
func (d *NotifyDetector) Stop() error {
	d.mu.Lock()
	d.stopped = true
	cancel := d.cancel
	d.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	d.closeOnce.Do(func() {
		d.closeErr = d.watcher.Close()
	})
	d.wg.Wait()

	if d.closeErr != nil {
		return fmt.Errorf("failed to close watcher: %w", d.closeErr)
	}
	return nil
}
