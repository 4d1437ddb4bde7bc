package collector

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/yourusername/candlecore/internal/models"
	"github.com/yourusername/candlecore/internal/store"
	"github.com/yourusername/candlecore/internal/timegrid"
)

// ErrInvalidRequest indicates the caller supplied a parameter combination
// outside the four shapes of §4.7.1, or an otherwise malformed request.
var ErrInvalidRequest = errors.New("collector: invalid request")

// ErrFutureTime indicates an aligned boundary is after now_aligned(tf).
var ErrFutureTime = errors.New("collector: boundary in the future")

// ErrCancelled is returned when ctx is done between chunks. The in-flight
// chunk, if any, is always allowed to finish its current phase first.
var ErrCancelled = errors.New("collector: cancelled")

// NewRequestInfo normalizes (symbol, tf, count, to, end) into a validated
// RequestInfo per the four accepted shapes of §4.7.1. Exactly one shape must
// match; anything else is ErrInvalidRequest.
func NewRequestInfo(symbol string, tf models.Timeframe, count *int, to, end *time.Time) (RequestInfo, error) {
	if !tf.IsValid() {
		return RequestInfo{}, fmt.Errorf("%w: unknown timeframe %q", ErrInvalidRequest, tf)
	}
	if count != nil && *count < 1 {
		return RequestInfo{}, fmt.Errorf("%w: count must be >= 1", ErrInvalidRequest)
	}

	now, err := timegrid.NowAligned(tf)
	if err != nil {
		return RequestInfo{}, err
	}

	hasCount, hasTo, hasEnd := count != nil, to != nil, end != nil

	var alignedTo time.Time
	var alignedEnd *time.Time
	var targetCount int
	var requestType RequestType

	switch {
	case hasCount && !hasTo && !hasEnd:
		requestType = CountOnly
		alignedTo = now
		targetCount = *count

	case hasCount && hasTo && !hasEnd:
		requestType = ToCount
		stepped, err := alignToExclusive(*to, tf)
		if err != nil {
			return RequestInfo{}, err
		}
		alignedTo = stepped
		targetCount = *count

	case hasTo && hasEnd && !hasCount:
		requestType = ToEnd
		stepped, err := alignToExclusive(*to, tf)
		if err != nil {
			return RequestInfo{}, err
		}
		alignedTo = stepped
		e, err := timegrid.AlignDown(*end, tf)
		if err != nil {
			return RequestInfo{}, err
		}
		alignedEnd = &e
		targetCount, err = timegrid.CountBetween(e, alignedTo, tf)
		if err != nil {
			return RequestInfo{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
		}

	case hasEnd && !hasCount && !hasTo:
		requestType = EndOnly
		alignedTo = now
		e, err := timegrid.AlignDown(*end, tf)
		if err != nil {
			return RequestInfo{}, err
		}
		alignedEnd = &e
		targetCount, err = timegrid.CountBetween(e, now, tf)
		if err != nil {
			return RequestInfo{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
		}

	default:
		return RequestInfo{}, fmt.Errorf("%w: exactly one of {count}, {count,to}, {to,end}, {end} must be supplied", ErrInvalidRequest)
	}

	if alignedTo.After(now) {
		return RequestInfo{}, fmt.Errorf("%w: aligned_to %s is after now", ErrFutureTime, alignedTo)
	}
	if alignedEnd != nil && alignedEnd.After(now) {
		return RequestInfo{}, fmt.Errorf("%w: aligned_end %s is after now", ErrFutureTime, *alignedEnd)
	}

	return RequestInfo{
		RequestID:   uuid.NewString(),
		Symbol:      symbol,
		Timeframe:   tf,
		AlignedTo:   alignedTo,
		AlignedEnd:  alignedEnd,
		TargetCount: targetCount,
		RequestType: requestType,
	}, nil
}

// alignToExclusive implements the exclusive-boundary compensation of
// §4.7.1: a user-supplied `to` is inclusive, so align down then step back
// one tick, cancelling the symmetric +1 tick Phase 2 applies when it
// translates back to the exchange's exclusive `to`.
func alignToExclusive(to time.Time, tf models.Timeframe) (time.Time, error) {
	aligned, err := timegrid.AlignDown(to, tf)
	if err != nil {
		return time.Time{}, err
	}
	return timegrid.Advance(aligned, tf, -1)
}

// Coordinator drives a single request's chunk sequence to completion.
type Coordinator struct {
	Processor *ChunkProcessor
	Repo      store.CandleRepository
	ChunkMax  int
	Latency   *LatencyTracker
	Retry     RetryPolicy

	statsMu sync.Mutex
	stats   []RunRecord
}

// NewCoordinator returns a Coordinator with the default CHUNK_MAX of 200 and
// DefaultRetryPolicy. Callers populate Retry from CollectorConfig to make
// retry/backoff tunable per deployment.
func NewCoordinator(processor *ChunkProcessor, repo store.CandleRepository) *Coordinator {
	return &Coordinator{Processor: processor, Repo: repo, ChunkMax: 200, Latency: NewLatencyTracker(20), Retry: DefaultRetryPolicy}
}

// CollectHistorical is a convenience wrapper over Collect for a first-time
// backfill: an END_ONLY request bounded below by defaultStart, the per-
// timeframe default a caller derives from HistoricalDataConfig when no
// caller-supplied end exists. This does not introduce a persisted job model
// — it is a request-shaping helper only.
func (co *Coordinator) CollectHistorical(ctx context.Context, symbol string, tf models.Timeframe, defaultStart time.Time, cb ProgressCallback) (*CollectionState, []models.Candle, error) {
	req, err := NewRequestInfo(symbol, tf, nil, nil, &defaultStart)
	if err != nil {
		return nil, nil, err
	}
	return co.Collect(ctx, req, cb)
}

// RunRecord is one retained entry of RecentRuns, the in-memory observability
// record exposed at GET /api/v1/candles/stats. It does not reintroduce the
// teacher's persisted job/scheduler model: nothing here survives a restart.
type RunRecord struct {
	RequestID string
	Symbol    string
	Timeframe models.Timeframe
	StartedAt time.Time
	Duration  time.Duration
	Collected int
	Requested int
	Success   bool
	Err       string
}

const maxRetainedRuns = 50

func (co *Coordinator) recordRun(state *CollectionState, err error) {
	rec := RunRecord{
		RequestID: state.RequestInfo.RequestID,
		Symbol:    state.RequestInfo.Symbol,
		Timeframe: state.RequestInfo.Timeframe,
		StartedAt: state.StartedAt,
		Duration:  time.Since(state.StartedAt),
		Collected: state.TotalCollected,
		Requested: state.TotalRequested,
		Success:   err == nil,
	}
	if err != nil {
		rec.Err = err.Error()
	}

	co.statsMu.Lock()
	defer co.statsMu.Unlock()
	co.stats = append(co.stats, rec)
	if len(co.stats) > maxRetainedRuns {
		co.stats = co.stats[len(co.stats)-maxRetainedRuns:]
	}
}

// RecentRuns returns the last n retained run records, newest last.
func (co *Coordinator) RecentRuns(n int) []RunRecord {
	co.statsMu.Lock()
	defer co.statsMu.Unlock()
	if n <= 0 || n > len(co.stats) {
		n = len(co.stats)
	}
	out := make([]RunRecord, n)
	copy(out, co.stats[len(co.stats)-n:])
	return out
}

// Collect drives req to completion, returning the final descending,
// duplicate-free candle sequence assembled from storage after the last
// chunk. cb may be nil.
func (co *Coordinator) Collect(ctx context.Context, req RequestInfo, cb ProgressCallback) (*CollectionState, []models.Candle, error) {
	state := &CollectionState{
		RequestInfo:    req,
		TotalRequested: req.TargetCount,
		StartedAt:      time.Now(),
	}
	defer func() { co.recordRun(state, state.Err) }()

	nextTo := req.AlignedTo
	chunkIndex := 0

	totalChunksEstimate := req.TargetCount/co.ChunkMax + 1

	for {
		select {
		case <-ctx.Done():
			state.Err = fmt.Errorf("%w: %v", ErrCancelled, ctx.Err())
			return state, nil, state.Err
		default:
		}

		remaining := state.TotalRequested - state.TotalCollected
		if remaining <= 0 {
			break
		}
		plannedCount := remaining
		if plannedCount > co.ChunkMax {
			plannedCount = co.ChunkMax
		}
		plannedEnd, err := timegrid.Advance(nextTo, req.Timeframe, -(plannedCount - 1))
		if err != nil {
			state.Err = err
			return state, nil, err
		}

		chunk := &ChunkInfo{
			ChunkID:      uuid.NewString(),
			Index:        chunkIndex,
			PlannedTo:    nextTo,
			PlannedEnd:   plannedEnd,
			PlannedCount: plannedCount,
		}

		skipOverlap := chunkIndex == 0 && (req.RequestType == CountOnly || req.RequestType == EndOnly)

		var fallbackReference *time.Time
		if chunkIndex > 0 {
			prevEnd, _ := state.LastProcessedTime()
			fallbackReference = &prevEnd
		}

		chunkStarted := time.Now()
		result, err := co.runChunkWithRetry(ctx, req, chunk, skipOverlap, fallbackReference)
		if err != nil {
			state.Err = err
			return state, nil, err
		}
		if co.Latency != nil {
			co.Latency.Observe(time.Since(chunkStarted))
		}

		state.Completed = append(state.Completed, *chunk)
		state.Current = nil
		state.TotalCollected += chunk.effectiveCount()
		state.ReachedUpstreamEnd = result.ReachedUpstreamEnd

		if cb != nil {
			var estimatedRemaining time.Duration
			if co.Latency != nil {
				chunksRemaining := totalChunksEstimate - chunkIndex - 1
				estimatedRemaining = co.Latency.EstimateRemaining(chunksRemaining)
			}
			cb(ProgressSnapshot{
				Symbol:              req.Symbol,
				Timeframe:           req.Timeframe,
				RequestID:           req.RequestID,
				ChunkIndex:          chunkIndex,
				TotalChunksEstimate: totalChunksEstimate,
				Collected:           state.TotalCollected,
				Requested:           state.TotalRequested,
				Elapsed:             time.Since(state.StartedAt),
				EstimatedRemaining:  estimatedRemaining,
				Phase:               "persisted",
			})
		}

		lastProcessed, _ := state.LastProcessedTime()
		if state.TotalCollected >= state.TotalRequested {
			break
		}
		if target := state.TargetEndTime(); target != nil && !lastProcessed.After(*target) {
			break
		}
		if result.ReachedUpstreamEnd {
			break
		}

		prev, _ := timegrid.Advance(lastProcessed, req.Timeframe, -1)
		nextTo = prev
		chunkIndex++
	}

	state.IsCompleted = true

	lower := req.AlignedTo
	if last, ok := state.LastProcessedTime(); ok {
		lower = last
	}
	rows, err := co.Repo.GetRange(ctx, req.Symbol, req.Timeframe, store.Range{Start: lower, End: req.AlignedTo})
	if err != nil {
		state.Err = fmt.Errorf("%w: %v", store.ErrStorage, err)
		return state, nil, state.Err
	}
	if len(rows) > req.TargetCount {
		rows = rows[:req.TargetCount]
	}
	return state, rows, nil
}

// runChunkWithRetry executes one chunk, retrying transient fetch failures
// with exponential backoff for at most co.Retry.MaxAttempts attempts in
// total. Retries are at chunk granularity only, never mid-phase.
func (co *Coordinator) runChunkWithRetry(ctx context.Context, req RequestInfo, chunk *ChunkInfo, skipOverlap bool, fallbackReference *time.Time) (*ChunkResult, error) {
	policy := co.Retry
	if policy.MaxAttempts == 0 {
		policy = DefaultRetryPolicy
	}
	var lastErr error
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		result, err := co.Processor.Process(ctx, req.Symbol, req.Timeframe, chunk, skipOverlap, fallbackReference)
		if err == nil {
			return result, nil
		}
		if !IsRetryable(err) {
			return nil, err
		}
		lastErr = err
		select {
		case <-time.After(policy.backoff(attempt)):
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %v", ErrCancelled, ctx.Err())
		}
	}
	return nil, fmt.Errorf("collector: chunk %s failed after %d attempts: %w", chunk.ChunkID, policy.MaxAttempts, lastErr)
}

// effectiveCount is the number of aligned boundaries this chunk's planned
// target range now covers, whether via storage already present,
// newly-fetched-and-filled rows, or both.
func (c *ChunkInfo) effectiveCount() int {
	if c.FinalCount != nil {
		return *c.FinalCount
	}
	return 0
}
