package collector

import (
	"errors"
	"time"

	"github.com/yourusername/candlecore/internal/exchange"
)

// RetryPolicy controls chunk-level retry/backoff behavior. Adapted from the
// teacher's job-retry constants, now config-driven (CollectorConfig) rather
// than fixed, so a deployment can tune it without a code change.
type RetryPolicy struct {
	MaxAttempts        int
	BaseBackoffSeconds int
	MaxBackoffSeconds  int
	BackoffMultiplier  float64
}

// DefaultRetryPolicy mirrors the teacher's own job-retry defaults: a small
// fixed bound with exponential backoff, capped at 30 minutes.
var DefaultRetryPolicy = RetryPolicy{
	MaxAttempts:        5,
	BaseBackoffSeconds: 30,
	MaxBackoffSeconds:  1800,
	BackoffMultiplier:  2.0,
}

// IsRetryable reports whether err is a TransientFetch failure the
// Coordinator may retry at the chunk boundary.
func IsRetryable(err error) bool {
	return errors.Is(err, exchange.ErrTransientFetch)
}

// backoff returns the exponential backoff duration for the given 1-indexed
// retry attempt, capped at p.MaxBackoffSeconds.
func (p RetryPolicy) backoff(attempt int) time.Duration {
	seconds := float64(p.BaseBackoffSeconds) * pow(p.BackoffMultiplier, float64(attempt-1))
	if seconds > float64(p.MaxBackoffSeconds) {
		seconds = float64(p.MaxBackoffSeconds)
	}
	return time.Duration(seconds) * time.Second
}

// pow computes base^exp for non-negative integer exp.
func pow(base, exp float64) float64 {
	result := 1.0
	for i := 0; i < int(exp); i++ {
		result *= base
	}
	return result
}
