package collector

import (
	"sync"
	"time"

	"github.com/montanaflynn/stats"
)

// LatencyTracker keeps a rolling window of per-chunk processing latencies
// and reports a mean. The mean is served by the stats endpoint, and the
// progress snapshot's estimated-time-remaining figure is derived from it.
// It is not part of any collection correctness path.
type LatencyTracker struct {
	mu      sync.Mutex
	window  int
	samples []float64
}

// NewLatencyTracker returns a tracker retaining the last window samples.
func NewLatencyTracker(window int) *LatencyTracker {
	if window <= 0 {
		window = 20
	}
	return &LatencyTracker{window: window}
}

// Observe records one chunk's processing duration.
func (t *LatencyTracker) Observe(d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.samples = append(t.samples, d.Seconds())
	if len(t.samples) > t.window {
		t.samples = t.samples[len(t.samples)-t.window:]
	}
}

// Mean returns the rolling mean chunk latency, or zero if no samples have
// been observed yet.
func (t *LatencyTracker) Mean() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.samples) == 0 {
		return 0
	}
	m, err := stats.Mean(t.samples)
	if err != nil {
		return 0
	}
	return time.Duration(m * float64(time.Second))
}

// EstimateRemaining projects remaining wall-clock time for a collection
// given how many chunks are left, using the current rolling mean.
func (t *LatencyTracker) EstimateRemaining(chunksRemaining int) time.Duration {
	if chunksRemaining <= 0 {
		return 0
	}
	return t.Mean() * time.Duration(chunksRemaining)
}
