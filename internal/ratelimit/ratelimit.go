// Package ratelimit implements fixed-window request counting over a pluggable
// counter store.
package ratelimit

import (
	"context"
	"log/slog"
	"time"
)

// Store increments the counter for key, starting a new window of the given
// length when none is open, and reports the count and when the window resets.
type Store interface {
	Increment(ctx context.Context, key string, window time.Duration) (count int64, resetAt time.Time, err error)
}

// Rule is a named limit; the scope prefixes every key.
type Rule struct {
	Scope  string
	Limit  int
	Window time.Duration
}

var (
	ChatMessages = Rule{Scope: "chat", Limit: 10, Window: time.Minute}
	Applications = Rule{Scope: "applications", Limit: 5, Window: 10 * time.Minute}
)

type Decision struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}

// RetryAfter returns whole seconds until the window resets, at least one.
func (d Decision) RetryAfter(now time.Time) int {
	secs := int(d.ResetAt.Sub(now).Round(time.Second) / time.Second)
	if secs < 1 {
		return 1
	}
	return secs
}

type Limiter struct {
	store    Store
	log      *slog.Logger
	onReject func(scope string)
}

func NewLimiter(store Store, log *slog.Logger) *Limiter {
	if log == nil {
		log = slog.Default()
	}
	return &Limiter{store: store, log: log}
}

// OnReject registers a callback invoked for every rejected request.
func (l *Limiter) OnReject(fn func(scope string)) { l.onReject = fn }

// Allow counts one hit for subject under rule. Store errors fail open.
func (l *Limiter) Allow(ctx context.Context, rule Rule, subject string) Decision {
	count, resetAt, err := l.store.Increment(ctx, rule.Scope+":"+subject, rule.Window)
	if err != nil {
		l.log.Warn("rate limit store unavailable, allowing request", "scope", rule.Scope, "error", err)
		return Decision{Allowed: true, Remaining: rule.Limit}
	}
	d := Decision{Allowed: count <= int64(rule.Limit), ResetAt: resetAt}
	if d.Allowed {
		d.Remaining = rule.Limit - int(count)
	} else if l.onReject != nil {
		l.onReject(rule.Scope)
	}
	return d
}
