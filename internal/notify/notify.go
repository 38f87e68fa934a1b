// Package notify delivers operator notifications about job outcomes and
// capacity changes.
package notify

import (
	"context"
	"log/slog"
)

// Severity ranks a notification.
type Severity string

const (
	SeverityInfo     Severity = "INFO"
	SeverityWarning  Severity = "WARNING"
	SeverityCritical Severity = "CRITICAL"
)

// Message is one notification. Throttled messages are suppressed when the
// same subject was sent within the throttle window.
type Message struct {
	Subject   string
	Body      string
	Severity  Severity
	Throttled bool
}

// Notifier sends notifications. Implementations must be safe for
// concurrent use; delivery errors are returned, never panicked.
type Notifier interface {
	Notify(ctx context.Context, msg Message) error
}

// LogNotifier writes notifications to the log. It is used when no mail
// channel is configured.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier creates a LogNotifier.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.With("component", "notify")}
}

// Notify implements Notifier.
func (n *LogNotifier) Notify(ctx context.Context, msg Message) error {
	level := slog.LevelInfo
	switch msg.Severity {
	case SeverityWarning:
		level = slog.LevelWarn
	case SeverityCritical:
		level = slog.LevelError
	}
	n.logger.Log(ctx, level, "notification", "subject", msg.Subject, "severity", msg.Severity, "body", msg.Body)
	return nil
}

// Nop discards every notification.
type Nop struct{}

// Notify implements Notifier.
func (Nop) Notify(context.Context, Message) error { return nil }

// Send delivers msg and logs a delivery failure instead of returning it.
// Notifications are always best effort for callers on the job path.
func Send(ctx context.Context, n Notifier, logger *slog.Logger, msg Message) {
	if err := n.Notify(ctx, msg); err != nil {
		logger.Error("notification failed", "subject", msg.Subject, "error", err)
	}
}
