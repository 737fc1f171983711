// Package watcher detects changes to a single file, either by polling its
// content or by subscribing to filesystem notifications. Both detectors
// implement Detector so the owner of a watch can use either one.
package watcher

import (
	"context"
	"fmt"
	"log/slog"

	"filewatch/internal/util/logger/sl"
)

// Detector observes one Target and reports through onEvent.
//
// onEvent is called from a goroutine owned by the detector, one event at a
// time. Stop must not be called from inside onEvent. Once Stop returns no
// further calls to onEvent are made.
type Detector interface {
	Start(ctx context.Context, target Target, onEvent func(ChangeEvent)) error
	Stop() error
	Strategy() Strategy
}

var (
	_ Detector = (*PollingDetector)(nil)
	_ Detector = (*NotifyDetector)(nil)
)

// New builds the detector for config.Strategy. With StrategyAuto a
// NotifyDetector is returned unless notifications cannot be set up, in
// which case it falls back to a PollingDetector.
func New(config Config) (Detector, error) {
	const op = "watcher.New"

	config = config.withDefaults()
	log := config.Logger.With(slog.String("op", op))

	switch config.Strategy {
	case StrategyPoll:
		return NewPollingDetector(config), nil
	case StrategyNotify:
		return NewNotifyDetector(config)
	case StrategyAuto:
		d, err := NewNotifyDetector(config)
		if err == nil {
			return d, nil
		}
		log.Warn("falling back to polling", sl.Err(err))
		return NewPollingDetector(config), nil
	}

	return nil, fmt.Errorf("%w: %q", ErrUnknownStrategy, config.Strategy)
}
