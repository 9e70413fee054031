package channel

import (
	"context"
	"log/slog"

	"github.com/driftgate/driftgate/internal/event"
)

// Log writes notifications to the structured log. Useful as a default
// channel and in development.
type Log struct {
	level slog.Level
}

// NewLog builds a log notifier. The optional "level" setting accepts
// debug, info, warn, or error (default info).
func NewLog(settings map[string]string) (Notifier, error) {
	l := &Log{level: slog.LevelInfo}
	if raw := settings["level"]; raw != "" {
		if err := l.level.UnmarshalText([]byte(raw)); err != nil {
			return nil, err
		}
	}
	return l, nil
}

func (l *Log) ConfigSchema() map[string]string {
	return map[string]string{
		"level": "log level: debug, info, warn, or error (default info)",
	}
}

func (l *Log) Send(ctx context.Context, msg Message, ev *event.NotificationEvent) error {
	attrs := []any{"text", msg.Text, "severity", msg.Severity}
	if ev != nil {
		attrs = append(attrs, "event_type", ev.EventType, "source", ev.SourceName)
	}
	slog.Log(ctx, l.level, "notification", attrs...)
	return nil
}
