package lifecycle

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"filewatch/internal/eventsink"
	"filewatch/internal/reader"
	"filewatch/internal/watcher"
)

type mockDetector struct {
	mock.Mock

	mu      sync.Mutex
	onEvent func(watcher.ChangeEvent)
}

func (m *mockDetector) Start(ctx context.Context, target watcher.Target, onEvent func(watcher.ChangeEvent)) error {
	m.mu.Lock()
	m.onEvent = onEvent
	m.mu.Unlock()

	args := m.Called(ctx, target)
	return args.Error(0)
}

func (m *mockDetector) Stop() error {
	args := m.Called()
	return args.Error(0)
}

func (m *mockDetector) Strategy() watcher.Strategy {
	return watcher.StrategyPoll
}

func (m *mockDetector) emit(ev watcher.ChangeEvent) {
	m.mu.Lock()
	onEvent := m.onEvent
	m.mu.Unlock()

	onEvent(ev)
}

type recordingSink struct {
	mu      sync.Mutex
	entries []eventsink.Entry
}

func (s *recordingSink) Write(e eventsink.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, e)
	return nil
}

func (s *recordingSink) all() []eventsink.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]eventsink.Entry(nil), s.entries...)
}

func (s *recordingSink) count(substr string) int {
	n := 0
	for _, e := range s.all() {
		if strings.Contains(e.Message, substr) {
			n++
		}
	}
	return n
}

func (s *recordingSink) bySeverity(severity eventsink.Severity) []eventsink.Entry {
	var out []eventsink.Entry
	for _, e := range s.all() {
		if e.Severity == severity {
			out = append(out, e)
		}
	}
	return out
}

type abortRecorder struct {
	mu     sync.Mutex
	causes []error
}

func (r *abortRecorder) record(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.causes = append(r.causes, err)
}

func (r *abortRecorder) all() []error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]error(nil), r.causes...)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newWithMock(t *testing.T) (*Lifecycle, *mockDetector, *recordingSink, *abortRecorder) {
	t.Helper()

	detector := &mockDetector{}
	sink := &recordingSink{}
	aborts := &abortRecorder{}

	lc := New(Config{
		NewDetector: func() (watcher.Detector, error) { return detector, nil },
		Sink:        sink,
		Logger:      discardLogger(),
		OnAbort:     aborts.record,
	})
	return lc, detector, sink, aborts
}

func startRunning(t *testing.T) (*Lifecycle, *mockDetector, *recordingSink, *abortRecorder) {
	t.Helper()

	lc, detector, sink, aborts := newWithMock(t)
	detector.On("Start", mock.Anything, mock.Anything).Return(nil).Once()
	detector.On("Stop").Return(nil).Once()

	require.NoError(t, lc.Start(context.Background(), filepath.Join(t.TempDir(), "watched.txt")))
	require.Equal(t, StateRunning, lc.State())
	return lc, detector, sink, aborts
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "Stopped", StateStopped.String())
	assert.Equal(t, "Starting", StateStarting.String())
	assert.Equal(t, "Running", StateRunning.String())
	assert.Equal(t, "StoppingError", StateStoppingError.String())
	assert.Equal(t, "Unknown", State(42).String())
}

func TestStart_EmptyPath(t *testing.T) {
	sink := &recordingSink{}
	called := false

	lc := New(Config{
		NewDetector: func() (watcher.Detector, error) {
			called = true
			return nil, nil
		},
		Sink:   sink,
		Logger: discardLogger(),
	})

	err := lc.Start(context.Background(), "  ")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConfiguration)
	assert.ErrorIs(t, err, watcher.ErrEmptyPath)
	assert.False(t, called)
	assert.Equal(t, StateStopped, lc.State())

	assert.Len(t, sink.bySeverity(eventsink.SeverityError), 1)
	assert.Equal(t, 1, sink.count("Service stopped after error"))
}

func TestStart_NonexistentFile(t *testing.T) {
	sink := &recordingSink{}
	aborts := &abortRecorder{}

	lc := New(Config{
		NewDetector: func() (watcher.Detector, error) {
			return watcher.New(watcher.Config{
				Strategy: watcher.StrategyPoll,
				Reader:   reader.New(nil, reader.Config{Delay: time.Millisecond}),
				Logger:   discardLogger(),
			})
		},
		Sink:    sink,
		Logger:  discardLogger(),
		OnAbort: aborts.record,
	})

	path := filepath.Join(t.TempDir(), "missing.txt")
	err := lc.Start(context.Background(), path)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConfiguration)
	assert.ErrorIs(t, err, watcher.ErrInitialRead)
	assert.Equal(t, StateStopped, lc.State())

	errs := sink.bySeverity(eventsink.SeverityError)
	require.Len(t, errs, 1)
	assert.Equal(t, path, errs[0].Path)
	assert.Zero(t, sink.count("Change detected"))
	assert.Empty(t, aborts.all())

	select {
	case <-lc.Done():
	default:
		t.Fatal("Done is not closed after a failed start")
	}
}

func TestStart_DetectorFactoryError(t *testing.T) {
	sink := &recordingSink{}
	factoryErr := errors.New("no detector")

	lc := New(Config{
		NewDetector: func() (watcher.Detector, error) { return nil, factoryErr },
		Sink:        sink,
		Logger:      discardLogger(),
	})

	err := lc.Start(context.Background(), filepath.Join(t.TempDir(), "watched.txt"))
	assert.ErrorIs(t, err, ErrConfiguration)
	assert.ErrorIs(t, err, factoryErr)
	assert.Equal(t, StateStopped, lc.State())
}

func TestStart_WhileRunning(t *testing.T) {
	lc, detector, _, _ := startRunning(t)

	err := lc.Start(context.Background(), "other.txt")
	assert.ErrorIs(t, err, ErrAlreadyRunning)
	assert.Equal(t, StateRunning, lc.State())

	require.NoError(t, lc.Stop())
	detector.AssertExpectations(t)
}

func TestStart_Milestones(t *testing.T) {
	lc, _, sink, _ := startRunning(t)
	require.NoError(t, lc.Stop())

	var messages []string
	for _, e := range sink.all() {
		assert.Equal(t, eventsink.SeverityInformation, e.Severity)
		assert.Equal(t, eventsink.DefaultSource, e.Source)
		assert.NotEmpty(t, e.WatchID)
		messages = append(messages, e.Message)
	}

	require.Len(t, messages, 9)
	assert.Equal(t, "FileWatcher: Starting service", messages[0])
	assert.Equal(t, "FileWatcher: Configuring...", messages[1])
	assert.Contains(t, messages[2], "FileWatcher: Setting ")
	assert.Equal(t, "FileWatcher: Testing file using poll detection", messages[3])
	assert.Equal(t, "FileWatcher: Configuring Done", messages[4])
	assert.Equal(t, "FileWatcher: Started background watch", messages[5])
	assert.Equal(t, "FileWatcher: Background worker running", messages[6])
	assert.Equal(t, "FileWatcher: Stopping service", messages[7])
	assert.Equal(t, "FileWatcher: Service Stopped Cleanly", messages[8])
}

func TestLifecycle_EventSeverities(t *testing.T) {
	lc, detector, sink, aborts := startRunning(t)

	detector.emit(watcher.Changed{NewLength: 5, Diff: &watcher.DiffStat{Inserted: 2, Deleted: 1}})
	detector.emit(watcher.Renamed{OldPath: "/w/a.txt", NewPath: "/w/b.txt"})
	detector.emit(watcher.ObservationError{
		Source:  watcher.ObservationSubsystem,
		Message: "notification buffer overflowed",
	})
	detector.emit(watcher.ObservationError{
		Source:  watcher.ObservationRead,
		Message: "failed to read file",
		Err:     errors.New("locked"),
	})

	require.Eventually(t, func() bool {
		return sink.count("failed to read file") == 1
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, 1, sink.count("Change detected, new length 5 bytes (+2/-1)"))
	assert.Len(t, sink.bySeverity(eventsink.SeverityWarning), 2)
	assert.Len(t, sink.bySeverity(eventsink.SeverityError), 1)
	assert.Equal(t, StateRunning, lc.State())

	require.NoError(t, lc.Stop())
	assert.Empty(t, aborts.all())
	detector.AssertExpectations(t)
}

func TestLifecycle_DeletedAbortsWatch(t *testing.T) {
	lc, detector, sink, aborts := startRunning(t)
	done := lc.Done()

	detector.emit(watcher.Deleted{Path: "/w/a.txt"})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("watch did not stop after deletion")
	}

	assert.Equal(t, StateStopped, lc.State())
	require.Len(t, aborts.all(), 1)
	assert.ErrorIs(t, aborts.all()[0], ErrTargetDeleted)

	errs := sink.bySeverity(eventsink.SeverityError)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Message, "File deleted")

	entries := sink.all()
	assert.Equal(t, "FileWatcher: Service stopped after error", entries[len(entries)-1].Message)
	assert.Zero(t, sink.count("Stopping service"))

	// the watch is already gone
	require.NoError(t, lc.Stop())
	detector.AssertExpectations(t)
}

func TestLifecycle_FatalObservationAbortsWatch(t *testing.T) {
	lc, detector, _, aborts := startRunning(t)
	done := lc.Done()

	detector.emit(watcher.ObservationError{
		Source:  watcher.ObservationRead,
		Message: "failed to read file",
		Err:     errors.New("locked"),
		Fatal:   true,
	})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("watch did not stop after a fatal read failure")
	}

	require.Len(t, aborts.all(), 1)
	assert.ErrorIs(t, aborts.all()[0], ErrObservation)
	assert.Equal(t, StateStopped, lc.State())
	detector.AssertExpectations(t)
}

func TestStop_NothingWrittenAfterwards(t *testing.T) {
	lc, detector, sink, _ := startRunning(t)

	detector.emit(watcher.Changed{NewLength: 1})
	require.Eventually(t, func() bool {
		return sink.count("Change detected") == 1
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, lc.Stop())
	assert.Equal(t, StateStopped, lc.State())
	before := len(sink.all())

	detector.emit(watcher.Changed{NewLength: 2})
	detector.emit(watcher.Deleted{Path: "/w/a.txt"})
	time.Sleep(20 * time.Millisecond)

	assert.Len(t, sink.all(), before)
	detector.AssertExpectations(t)
}

func TestStop_Twice(t *testing.T) {
	lc, detector, sink, _ := startRunning(t)

	require.NoError(t, lc.Stop())
	require.NoError(t, lc.Stop())

	assert.Equal(t, 1, sink.count("Service Stopped Cleanly"))
	detector.AssertNumberOfCalls(t, "Stop", 1)
}

func TestStop_WithoutStart(t *testing.T) {
	lc, _, sink, _ := newWithMock(t)

	require.NoError(t, lc.Stop())
	assert.Empty(t, sink.all())
	assert.Equal(t, StateStopped, lc.State())
}

func TestStop_WhileStarting(t *testing.T) {
	lc, detector, _, aborts := newWithMock(t)

	detector.On("Start", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			<-args.Get(0).(context.Context).Done()
		}).
		Return(watcher.ErrDetectorStopped).
		Maybe()
	detector.On("Stop").Return(nil)

	result := make(chan error, 1)
	go func() {
		result <- lc.Start(context.Background(), filepath.Join(t.TempDir(), "watched.txt"))
	}()

	require.Eventually(t, func() bool {
		return lc.State() == StateStarting
	}, time.Second, time.Millisecond)

	require.NoError(t, lc.Stop())
	assert.Equal(t, StateStopped, lc.State())

	select {
	case err := <-result:
		assert.ErrorIs(t, err, ErrStartAborted)
	case <-time.After(time.Second):
		t.Fatal("Start did not return after Stop")
	}
	assert.Empty(t, aborts.all())
}

func TestLifecycle_Restart(t *testing.T) {
	detector := &mockDetector{}
	detector.On("Start", mock.Anything, mock.Anything).Return(nil).Twice()
	detector.On("Stop").Return(nil).Twice()
	sink := &recordingSink{}

	lc := New(Config{
		NewDetector: func() (watcher.Detector, error) { return detector, nil },
		Sink:        sink,
		Logger:      discardLogger(),
	})

	path := filepath.Join(t.TempDir(), "watched.txt")
	require.NoError(t, lc.Start(context.Background(), path))
	require.NoError(t, lc.Stop())
	require.NoError(t, lc.Start(context.Background(), path))
	require.NoError(t, lc.Stop())

	ids := map[string]struct{}{}
	for _, e := range sink.all() {
		ids[e.WatchID] = struct{}{}
	}
	assert.Len(t, ids, 2)
	detector.AssertExpectations(t)
}

func TestLifecycle_PollingEndToEnd(t *testing.T) {
	path := filepath.Join(t.TempDir(), "watched.txt")
	require.NoError(t, os.WriteFile(path, []byte("A"), 0o644))

	sink := &recordingSink{}
	aborts := &abortRecorder{}

	lc := New(Config{
		NewDetector: func() (watcher.Detector, error) {
			return watcher.New(watcher.Config{
				Strategy:     watcher.StrategyPoll,
				PollInterval: 5 * time.Millisecond,
				Reader:       reader.New(nil, reader.Config{Delay: time.Millisecond}),
				Logger:       discardLogger(),
			})
		},
		Sink:    sink,
		Logger:  discardLogger(),
		OnAbort: aborts.record,
	})

	require.NoError(t, lc.Start(context.Background(), path))
	done := lc.Done()

	tmp := path + ".tmp"
	require.NoError(t, os.WriteFile(tmp, []byte("B"), 0o644))
	require.NoError(t, os.Rename(tmp, path))
	require.Eventually(t, func() bool {
		return sink.count("Change detected") == 1
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, os.Remove(path))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("watch did not stop after deletion")
	}

	assert.Equal(t, StateStopped, lc.State())
	assert.Equal(t, 1, sink.count("Change detected"))
	assert.Equal(t, 1, sink.count("File deleted"))
	require.Len(t, aborts.all(), 1)
	assert.ErrorIs(t, aborts.all()[0], ErrTargetDeleted)
}

func TestLifecycle_DefaultStrategyEndToEnd(t *testing.T) {
	for i := 0; i < 5; i++ {
		path := filepath.Join(t.TempDir(), "watched.txt")
		require.NoError(t, os.WriteFile(path, []byte("A"), 0o644))

		sink := &recordingSink{}
		aborts := &abortRecorder{}

		lc := New(Config{
			Sink:    sink,
			Logger:  discardLogger(),
			OnAbort: aborts.record,
		})

		require.NoError(t, lc.Start(context.Background(), path))
		require.Equal(t, 1, sink.count("using notify detection"), "run %d", i)
		done := lc.Done()

		// in place: truncate then write
		require.NoError(t, os.WriteFile(path, []byte("B"), 0o644))
		require.Eventually(t, func() bool {
			return sink.count("Change detected") >= 1
		}, 2*time.Second, 5*time.Millisecond)
		time.Sleep(200 * time.Millisecond)

		require.Equal(t, 1, sink.count("Change detected"), "run %d", i)
		assert.Equal(t, 1, sink.count("new length 1 bytes"), "run %d", i)

		require.NoError(t, os.Remove(path))

		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatalf("run %d: watch did not stop after deletion", i)
		}

		assert.Equal(t, StateStopped, lc.State())
		assert.Equal(t, 1, sink.count("File deleted"))
		require.Len(t, aborts.all(), 1)
		assert.ErrorIs(t, aborts.all()[0], ErrTargetDeleted)

		entries := sink.all()
		assert.Contains(t, entries[len(entries)-2].Message, "File deleted")
		assert.Equal(t, "FileWatcher: Service stopped after error", entries[len(entries)-1].Message)
	}
}

func TestStop_DetectorStopErrorsAreLogged(t *testing.T) {
	t.Run("Teardown", func(t *testing.T) {
		var logs bytes.Buffer
		detector := &mockDetector{}
		detector.On("Start", mock.Anything, mock.Anything).Return(nil)
		detector.On("Stop").Return(errors.New("close inotify: bad file descriptor"))

		lc := New(Config{
			NewDetector: func() (watcher.Detector, error) { return detector, nil },
			Sink:        &recordingSink{},
			Logger:      slog.New(slog.NewJSONHandler(&logs, nil)),
		})

		require.NoError(t, lc.Start(context.Background(), filepath.Join(t.TempDir(), "watched.txt")))
		require.NoError(t, lc.Stop())

		assert.Contains(t, logs.String(), "failed to stop detector")
		assert.Contains(t, logs.String(), "bad file descriptor")
	})

	t.Run("StartAborted", func(t *testing.T) {
		var logs bytes.Buffer
		detector := &mockDetector{}
		detector.On("Stop").Return(errors.New("close inotify: bad file descriptor"))

		entered := make(chan struct{})
		release := make(chan struct{})
		lc := New(Config{
			NewDetector: func() (watcher.Detector, error) {
				close(entered)
				<-release
				return detector, nil
			},
			Sink:   &recordingSink{},
			Logger: slog.New(slog.NewJSONHandler(&logs, nil)),
		})

		path := filepath.Join(t.TempDir(), "watched.txt")
		result := make(chan error, 1)
		go func() {
			result <- lc.Start(context.Background(), path)
		}()

		<-entered
		require.NoError(t, lc.Stop())
		close(release)

		select {
		case err := <-result:
			assert.ErrorIs(t, err, ErrStartAborted)
		case <-time.After(time.Second):
			t.Fatal("Start did not return")
		}

		assert.Contains(t, logs.String(), "failed to stop detector")
		detector.AssertNumberOfCalls(t, "Stop", 1)
		detector.AssertNotCalled(t, "Start", mock.Anything, mock.Anything)
	})
}
