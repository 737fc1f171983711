package eventsink

import (
	"context"
	"log/slog"
)

// SlogSink writes entries to a structured logger, mapping severities onto
// slog levels.
type SlogSink struct {
	log *slog.Logger
}

func NewSlogSink(log *slog.Logger) *SlogSink {
	return &SlogSink{log: log}
}

func (s *SlogSink) Write(e Entry) error {
	attrs := []slog.Attr{
		slog.String("source", e.Source),
		slog.String("severity", e.Severity.String()),
	}
	if e.WatchID != "" {
		attrs = append(attrs, slog.String("watch_id", e.WatchID))
	}
	if e.Path != "" {
		attrs = append(attrs, slog.String("path", e.Path))
	}

	s.log.LogAttrs(context.Background(), level(e.Severity), e.Message, attrs...)
	return nil
}

func level(s Severity) slog.Level {
	switch s {
	case SeverityWarning:
		return slog.LevelWarn
	case SeverityError:
		return slog.LevelError
	}
	return slog.LevelInfo
}
