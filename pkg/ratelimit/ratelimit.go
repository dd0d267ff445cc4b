// Package ratelimit gates turn submission per user across a per-minute and a
// per-hour window. Counters live in a shared store (Redis in production, an
// in-process map in tests and single-node deployments); when the store is
// unreachable the gate fails open.
package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/atriumhq/atrium/pkg/observability"
)

// CounterStore is the minimal atomic counter surface the gate needs.
type CounterStore interface {
	Incr(ctx context.Context, key string) (int64, error)
	Expire(ctx context.Context, key string, ttl time.Duration) error
}

// LimitExceededError carries the seconds a caller should wait before
// retrying.
type LimitExceededError struct {
	Window     string // "minute" or "hour"
	RetryAfter int    // seconds, >= 1
}

func (e *LimitExceededError) Error() string {
	return fmt.Sprintf("rate limit exceeded for %s window, retry after %ds", e.Window, e.RetryAfter)
}

// Config sets the per-window turn caps. Zero disables the corresponding
// window.
type Config struct {
	TurnsPerMinute int
	TurnsPerHour   int
}

// Gate enforces the limits.
type Gate struct {
	store  CounterStore
	config Config
	logger *slog.Logger
	now    func() time.Time
}

func NewGate(store CounterStore, cfg Config, logger *slog.Logger) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{store: store, config: cfg, logger: logger, now: time.Now}
}

// Allow reports whether the user may submit a turn now. Store failures are
// logged and bypassed; rate limiting is protection, not a ledger.
func (g *Gate) Allow(ctx context.Context, userID string) error {
	now := g.now()

	if g.config.TurnsPerMinute > 0 {
		if err := g.check(ctx, userID, "minute", now, 60, g.config.TurnsPerMinute); err != nil {
			return err
		}
	}
	if g.config.TurnsPerHour > 0 {
		if err := g.check(ctx, userID, "hour", now, 3600, g.config.TurnsPerHour); err != nil {
			return err
		}
	}
	return nil
}

func (g *Gate) check(ctx context.Context, userID, window string, now time.Time, windowSecs int64, limit int) error {
	bucket := now.Unix() / windowSecs
	key := fmt.Sprintf("rl:turns:%s:%s:%d", userID, window, bucket)

	n, err := g.store.Incr(ctx, key)
	if err != nil {
		g.logger.Warn("rate gate counter store unavailable, bypassing", "error", err)
		return nil
	}
	if n == 1 {
		// Keys expire well after the window closes; staleness is harmless.
		if err := g.store.Expire(ctx, key, time.Duration(2*windowSecs)*time.Second); err != nil {
			g.logger.Warn("rate gate expire failed", "key", key, "error", err)
		}
	}

	if n > int64(limit) {
		retryAfter := int(windowSecs - now.Unix()%windowSecs)
		if retryAfter < 1 {
			retryAfter = 1
		}
		if m := observability.GetGlobalMetrics(); m != nil {
			m.RecordRateLimited()
		}
		return &LimitExceededError{Window: window, RetryAfter: retryAfter}
	}
	return nil
}
