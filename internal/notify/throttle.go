package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Throttle suppresses repeated throttled messages with the same subject
// within a window. Unthrottled messages always pass through.
type Throttle struct {
	next   Notifier
	window time.Duration
	logger *slog.Logger

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewThrottle wraps next. A non-positive window disables suppression.
func NewThrottle(next Notifier, window time.Duration, logger *slog.Logger) *Throttle {
	return &Throttle{
		next:     next,
		window:   window,
		logger:   logger.With("component", "notify"),
		limiters: make(map[string]*rate.Limiter),
	}
}

// Notify implements Notifier.
func (t *Throttle) Notify(ctx context.Context, msg Message) error {
	if msg.Throttled && t.window > 0 && !t.allow(msg.Subject) {
		t.logger.Info("notification suppressed by throttle", "subject", msg.Subject, "window", t.window)
		return nil
	}
	return t.next.Notify(ctx, msg)
}

func (t *Throttle) allow(subject string) bool {
	t.mu.Lock()
	lim, ok := t.limiters[subject]
	if !ok {
		lim = rate.NewLimiter(rate.Every(t.window), 1)
		t.limiters[subject] = lim
	}
	t.mu.Unlock()
	return lim.Allow()
}
