package exchange

import (
	"context"
	"log"
	"sync"
	"time"
)

// RateLimitConfig is the static per-exchange rate limit configuration. The
// core spec treats rate limiting as entirely the client's responsibility
// (§4.5); unlike its teacher this is no longer backed by a persisted,
// mutable Connector document — there is exactly one configured exchange, so
// its limits are loaded once from process configuration.
type RateLimitConfig struct {
	Limit      int // max calls per period
	PeriodMs   int
	MinDelayMs int // explicit floor; 0 means derive from Limit/PeriodMs
}

// RateLimiter enforces a minimum delay and a fixed-window period budget
// between calls to one exchange. State is entirely in-memory, matching the spec's
// "rate-limiter state is internal to the client" (§5).
type RateLimiter struct {
	cfg RateLimitConfig

	mu          sync.Mutex
	lastCall    time.Time
	periodStart time.Time
	usage       int
}

// NewRateLimiter returns a RateLimiter enforcing cfg.
func NewRateLimiter(cfg RateLimitConfig) *RateLimiter {
	return &RateLimiter{cfg: cfg, periodStart: time.Now()}
}

// WaitForSlot blocks until it is safe to make another API call, then
// records the call. It must be invoked immediately before every exchange
// request.
func (r *RateLimiter) WaitForSlot(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	minDelay := time.Duration(r.minDelayMs()) * time.Millisecond
	if !r.lastCall.IsZero() {
		if wait := minDelay - time.Since(r.lastCall); wait > 0 {
			log.Printf("[RATE_LIMIT] waiting %v before next call (min delay %v)", wait.Round(time.Millisecond), minDelay)
			if err := r.sleep(ctx, wait); err != nil {
				return err
			}
		}
	}

	if r.cfg.PeriodMs > 0 && r.cfg.Limit > 0 {
		periodElapsed := time.Since(r.periodStart)
		if periodElapsed >= time.Duration(r.cfg.PeriodMs)*time.Millisecond {
			r.periodStart = time.Now()
			r.usage = 0
		} else if r.usage >= r.cfg.Limit {
			remaining := time.Duration(r.cfg.PeriodMs)*time.Millisecond - periodElapsed
			log.Printf("[RATE_LIMIT] period budget exhausted (%d/%d), waiting %v", r.usage, r.cfg.Limit, remaining.Round(time.Millisecond))
			if err := r.sleep(ctx, remaining); err != nil {
				return err
			}
			r.periodStart = time.Now()
			r.usage = 0
		}
	}

	r.lastCall = time.Now()
	r.usage++
	return nil
}

func (r *RateLimiter) sleep(ctx context.Context, d time.Duration) error {
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// minDelayMs mirrors the teacher's getMinDelay: an explicit floor wins,
// otherwise it is derived from Limit/PeriodMs, floored at one second for
// safety, falling back to a conservative five-second default.
func (r *RateLimiter) minDelayMs() int {
	if r.cfg.MinDelayMs > 0 {
		return r.cfg.MinDelayMs
	}
	if r.cfg.Limit > 0 && r.cfg.PeriodMs > 0 {
		calculated := r.cfg.PeriodMs / r.cfg.Limit
		if calculated < 1000 {
			return 1000
		}
		return calculated
	}
	return 5000
}

// Status reports the current rate-limit bookkeeping, exposed for
// operational visibility.
type Status struct {
	Usage         int   `json:"usage"`
	Limit         int   `json:"limit"`
	PeriodMs      int   `json:"period_ms"`
	MinDelayMs    int   `json:"min_delay_ms"`
	LastCallAgoMs int64 `json:"last_call_ago_ms"`
}

func (r *RateLimiter) GetStatus() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	var lastAgo int64
	if !r.lastCall.IsZero() {
		lastAgo = time.Since(r.lastCall).Milliseconds()
	}
	return Status{
		Usage:         r.usage,
		Limit:         r.cfg.Limit,
		PeriodMs:      r.cfg.PeriodMs,
		MinDelayMs:    r.minDelayMs(),
		LastCallAgoMs: lastAgo,
	}
}
