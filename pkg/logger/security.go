package logger

import (
	"context"
	"log/slog"
)

// SecurityEntry is the log view of a recorded security event.
type SecurityEntry struct {
	ID        string
	EventType string
	Severity  string
	Message   string
	IP        string
	User      string
	UserAgent string
	Path      string
	Method    string
	FactoryID int64
}

// SecurityLogger writes security events to the structured log.
type SecurityLogger struct {
	logger *slog.Logger
}

func NewSecurityLogger(logger *slog.Logger) *SecurityLogger {
	return &SecurityLogger{logger: logger.With(slog.String("log_type", "security"))}
}

// Log emits the entry at a level derived from its severity: INFO at Info,
// WARNING at Warn, anything else at Error.
func (sl *SecurityLogger) Log(ctx context.Context, e SecurityEntry) {
	attrs := []slog.Attr{
		slog.String("event_id", e.ID),
		slog.String("event_type", e.EventType),
		slog.String("severity", e.Severity),
		slog.String("ip", orDefault(e.IP, "Unknown")),
		slog.String("user", orDefault(e.User, "Anonymous")),
	}
	if e.UserAgent != "" {
		attrs = append(attrs, slog.String("user_agent", e.UserAgent))
	}
	if e.Path != "" {
		attrs = append(attrs, slog.String("path", e.Path), slog.String("method", e.Method))
	}
	if e.FactoryID != 0 {
		attrs = append(attrs, slog.Int64("factory_id", e.FactoryID))
	}
	attrs = append(attrs, slog.String("detail", e.Message))

	level := slog.LevelError
	switch e.Severity {
	case "INFO":
		level = slog.LevelInfo
	case "WARNING":
		level = slog.LevelWarn
	}
	sl.logger.LogAttrs(ctx, level, "security_event", attrs...)
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
