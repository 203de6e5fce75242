package engine

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/ratewatch/ratewatch/internal/core"
)

// Default backoff bounds applied when a 429 carries no usable Retry-After.
const (
	DefaultBaseBackoff = time.Minute
	DefaultMaxBackoff  = time.Hour
)

// PollLimiter keeps the poller from hammering APIs whose endpoint answered 429.
type PollLimiter struct {
	Store       RateLimitStore
	Clock       func() time.Time
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

// RateLimitStore stores backoff state keyed by API.
type RateLimitStore interface {
	GetRateLimit(ctx context.Context, apiName string) (*core.RateLimitState, error)
	UpdateRateLimit(ctx context.Context, apiName string, state *core.RateLimitState) error
}

// Allow reports whether the API may be polled now, and how long to wait if not.
func (l *PollLimiter) Allow(ctx context.Context, endpoint string) (bool, time.Duration, error) {
	if l == nil || l.Store == nil || endpoint == "" {
		return true, 0, nil
	}

	state, err := l.Store.GetRateLimit(ctx, endpoint)
	if err != nil {
		return true, 0, err
	}
	if state == nil || state.BackoffUntil == nil {
		return true, 0, nil
	}

	now := l.now()
	if now.Before(*state.BackoffUntil) {
		return false, state.BackoffUntil.Sub(now), nil
	}
	return true, 0, nil
}

// Record429 starts a backoff window. Without a Retry-After hint the window
// doubles for each consecutive 429, capped at MaxBackoff.
func (l *PollLimiter) Record429(ctx context.Context, endpoint string, retryAfter time.Duration) (time.Duration, error) {
	if l == nil || l.Store == nil || endpoint == "" {
		return 0, nil
	}

	state, err := l.Store.GetRateLimit(ctx, endpoint)
	if err != nil {
		return 0, err
	}
	if state == nil {
		state = &core.RateLimitState{}
	}

	now := l.now()
	state.Last429At = &now
	state.Consecutive++

	wait := retryAfter
	if wait <= 0 {
		wait = l.base()
		for i := 1; i < state.Consecutive && wait < l.max(); i++ {
			wait *= 2
		}
	}
	if wait > l.max() {
		wait = l.max()
	}
	until := now.Add(wait)
	state.BackoffUntil = &until

	return wait, l.Store.UpdateRateLimit(ctx, endpoint, state)
}

// RecordSuccess clears any backoff for the API.
func (l *PollLimiter) RecordSuccess(ctx context.Context, endpoint string) error {
	if l == nil || l.Store == nil || endpoint == "" {
		return nil
	}

	state, err := l.Store.GetRateLimit(ctx, endpoint)
	if err != nil {
		return err
	}
	if state == nil || (state.BackoffUntil == nil && state.Consecutive == 0) {
		return nil
	}

	state.BackoffUntil = nil
	state.Consecutive = 0
	return l.Store.UpdateRateLimit(ctx, endpoint, state)
}

func (l *PollLimiter) base() time.Duration {
	if l != nil && l.BaseBackoff > 0 {
		return l.BaseBackoff
	}
	return DefaultBaseBackoff
}

func (l *PollLimiter) max() time.Duration {
	if l != nil && l.MaxBackoff > 0 {
		return l.MaxBackoff
	}
	return DefaultMaxBackoff
}

func (l *PollLimiter) now() time.Time {
	if l != nil && l.Clock != nil {
		return l.Clock()
	}
	return time.Now().UTC()
}

// backoffKey keys backoff state per monitored API so a 429 on one token
// never pauses another API sharing the same host.
func backoffKey(api core.MonitoredAPI) string {
	return api.Key()
}

func retryAfterHeader(resp *http.Response) time.Duration {
	if resp == nil || resp.Header == nil {
		return 0
	}

	retry := strings.TrimSpace(resp.Header.Get("Retry-After"))
	if retry == "" {
		return 0
	}

	if seconds, err := time.ParseDuration(retry + "s"); err == nil {
		return seconds
	}
	if parsed, err := http.ParseTime(retry); err == nil {
		return time.Until(parsed)
	}
	return 0
}
