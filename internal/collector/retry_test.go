package collector

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/yourusername/candlecore/internal/exchange"
)

func TestRetryPolicyBackoff(t *testing.T) {
	policy := DefaultRetryPolicy
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 30 * time.Second},
		{2, 60 * time.Second},
		{3, 120 * time.Second},
		{10, time.Duration(policy.MaxBackoffSeconds) * time.Second}, // exceeds cap
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("attempt %d", tt.attempt), func(t *testing.T) {
			got := policy.backoff(tt.attempt)
			if got != tt.want {
				t.Errorf("backoff(%d) = %s, want %s", tt.attempt, got, tt.want)
			}
		})
	}
}

func TestRetryPolicyBackoffCustomConfig(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 3, BaseBackoffSeconds: 10, MaxBackoffSeconds: 40, BackoffMultiplier: 2.0}
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 10 * time.Second},
		{2, 20 * time.Second},
		{3, 40 * time.Second}, // reaches the cap exactly
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("attempt %d", tt.attempt), func(t *testing.T) {
			got := policy.backoff(tt.attempt)
			if got != tt.want {
				t.Errorf("backoff(%d) = %s, want %s", tt.attempt, got, tt.want)
			}
		})
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"transient fetch error", fmt.Errorf("wrapped: %w", exchange.ErrTransientFetch), true},
		{"rate exhausted is not retryable", exchange.ErrRateExhausted, false},
		{"unrelated error", errors.New("boom"), false},
		{"nil", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.want {
				t.Errorf("IsRetryable(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}
