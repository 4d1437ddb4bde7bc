package exchange

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/yourusername/candlecore/internal/models"
	"github.com/yourusername/candlecore/internal/timegrid"
)

// ErrRateExhausted is a fatal chunk failure: the client could not acquire a
// slot within its own budget (as opposed to a transient network error,
// which the core retries).
var ErrRateExhausted = errors.New("exchange: rate limit exhausted")

// ErrTransientFetch wraps network, throttle, and 5xx failures the core
// retries at the chunk boundary with exponential backoff.
var ErrTransientFetch = errors.New("exchange: transient fetch error")

// Client is the single operation the core consumes from an exchange
// collaborator (spec §4.5): fetch at most count candles with aligned
// boundary strictly less than toExclusive, newest first. A nil toExclusive
// returns the most recent count rows.
type Client interface {
	Fetch(ctx context.Context, symbol string, tf models.Timeframe, count int, toExclusive *time.Time) ([]models.Candle, error)
}

// CHUNK_MAX-scale safety cap shared with the collector package's default,
// kept here too so a Client built without a collector-supplied value still
// refuses unreasonable requests.
const maxChunk = 200

// CCXTClient is the concrete Client backed by a single configured CCXT
// exchange instance, grounded on the teacher's FetchOHLCVRange: fetch
// ascending from a computed `since`, then reverse to the newest-first order
// this core's contract requires.
type CCXTClient struct {
	adapter     *Adapter
	symbolReady bool
	limiter     *RateLimiter
}

// NewCCXTClient loads markets for exchangeID once and returns a ready
// Client. limiter may be shared across multiple CCXTClient instances that
// target the same exchange.
func NewCCXTClient(exchangeID string, limiter *RateLimiter) (*CCXTClient, error) {
	adapter, err := NewAdapter(exchangeID, true)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransientFetch, err)
	}
	if err := adapter.LoadMarkets(); err != nil {
		return nil, fmt.Errorf("%w: load markets: %v", ErrTransientFetch, err)
	}
	return &CCXTClient{adapter: adapter, limiter: limiter}, nil
}

func (c *CCXTClient) Close() error { return c.adapter.Close() }

// GetExchangeID returns the configured exchange's id, used by the health
// endpoint to report which exchange backs this deployment.
func (c *CCXTClient) GetExchangeID() string { return c.adapter.GetExchangeID() }

// Fetch implements Client. count must be in [1, maxChunk].
func (c *CCXTClient) Fetch(ctx context.Context, symbol string, tf models.Timeframe, count int, toExclusive *time.Time) ([]models.Candle, error) {
	if count < 1 || count > maxChunk {
		return nil, fmt.Errorf("exchange: count %d out of range [1,%d]", count, maxChunk)
	}

	if c.limiter != nil {
		if err := c.limiter.WaitForSlot(ctx); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrRateExhausted, err)
		}
	}

	var since *time.Time
	if toExclusive != nil {
		lastWanted, err := timegrid.AlignDown(toExclusive.Add(-time.Nanosecond), tf)
		if err != nil {
			return nil, err
		}
		s, err := timegrid.Advance(lastWanted, tf, -(count - 1))
		if err != nil {
			return nil, err
		}
		since = &s
	}

	ccxtTF := string(tf)
	bars, err := c.adapter.FetchOHLCV(symbol, ccxtTF, since, count)
	if err != nil {
		if isTransient(err) {
			return nil, fmt.Errorf("%w: %v", ErrTransientFetch, err)
		}
		return nil, err
	}

	log.Printf("[EXCHANGE] fetched %d bars for %s %s (since=%v, toExclusive=%v)", len(bars), symbol, tf, since, toExclusive)

	// CCXT returns ascending (oldest first); the core's contract is
	// newest-first, so reverse — mirroring FetchOHLCVRange's own reversal.
	descending := make([]models.Candle, 0, len(bars))
	for i := len(bars) - 1; i >= 0; i-- {
		bar := bars[i]
		bar.Timeframe = tf
		if toExclusive != nil && !bar.UTCBoundary.Before(*toExclusive) {
			continue
		}
		descending = append(descending, bar)
	}
	sort.Slice(descending, func(i, j int) bool { return descending[i].UTCBoundary.After(descending[j].UTCBoundary) })
	if len(descending) > count {
		descending = descending[:count]
	}
	return descending, nil
}

// isTransient classifies an error by message the way the teacher's
// isTransientError does: string-pattern matching against known retryable
// failure modes, since CCXT surfaces exchange errors as plain Go errors
// without a typed taxonomy.
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	patterns := []string{
		"rate limit", "too many requests", "429",
		"timeout", "timed out",
		"connection reset", "connection refused",
		"temporary failure", "service unavailable",
		"503", "502", "504",
	}
	for _, p := range patterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}
