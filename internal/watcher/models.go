package watcher

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"filewatch/internal/reader"
)

// Target is the file under watch, resolved once when a watch starts.
type Target struct {
	Path string
	Dir  string
	Name string
}

func NewTarget(path string) (Target, error) {
	if strings.TrimSpace(path) == "" {
		return Target{}, ErrEmptyPath
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return Target{}, fmt.Errorf("%w: %v", ErrInvalidPath, err)
	}

	name := filepath.Base(abs)
	if name == "." || name == string(filepath.Separator) {
		return Target{}, fmt.Errorf("%w: %s has no file name", ErrInvalidPath, path)
	}

	return Target{
		Path: abs,
		Dir:  filepath.Dir(abs),
		Name: name,
	}, nil
}

// ContentReader returns the full content of a file. reader.RetryingReader
// is the production implementation.
type ContentReader interface {
	ReadFile(ctx context.Context, path string) ([]byte, error)
}

// Strategy selects how a file is observed.
type Strategy string

const (
	// StrategyAuto prefers notifications and falls back to polling when
	// the platform cannot provide them.
	StrategyAuto   Strategy = "auto"
	StrategyNotify Strategy = "notify"
	StrategyPoll   Strategy = "poll"
)

func ParseStrategy(s string) (Strategy, error) {
	switch strategy := Strategy(strings.ToLower(strings.TrimSpace(s))); strategy {
	case "":
		return StrategyAuto, nil
	case StrategyAuto, StrategyNotify, StrategyPoll:
		return strategy, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownStrategy, s)
}

// ReadErrorPolicy decides whether a definitive read failure ends the watch.
type ReadErrorPolicy string

const (
	// ReadErrorDefault stops a polling watch and keeps a notification
	// watch running.
	ReadErrorDefault  ReadErrorPolicy = "default"
	ReadErrorStop     ReadErrorPolicy = "stop"
	ReadErrorContinue ReadErrorPolicy = "continue"
)

func ParseReadErrorPolicy(s string) (ReadErrorPolicy, error) {
	switch policy := ReadErrorPolicy(strings.ToLower(strings.TrimSpace(s))); policy {
	case "":
		return ReadErrorDefault, nil
	case ReadErrorDefault, ReadErrorStop, ReadErrorContinue:
		return policy, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownPolicy, s)
}

func (p ReadErrorPolicy) fatal(fatalByDefault bool) bool {
	switch p {
	case ReadErrorStop:
		return true
	case ReadErrorContinue:
		return false
	}
	return fatalByDefault
}

// Config holds the settings shared by both detectors.
type Config struct {
	Strategy        Strategy
	PollInterval    time.Duration
	ReadErrorPolicy ReadErrorPolicy
	Reader          ContentReader
	Logger          *slog.Logger
	Metrics         *Metrics
	// Now stamps events. Defaults to time.Now.
	Now func() time.Time
}

func (c Config) withDefaults() Config {
	if c.Strategy == "" {
		c.Strategy = StrategyAuto
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.ReadErrorPolicy == "" {
		c.ReadErrorPolicy = ReadErrorDefault
	}
	if c.Reader == nil {
		c.Reader = reader.New(nil, reader.Config{})
	}
	if c.Logger == nil {
		c.Logger = slog.New(slog.NewTextHandler(os.Stdout, nil))
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}
