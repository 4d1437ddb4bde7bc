// Package collector implements the ChunkProcessor and CollectionCoordinator
// of the candle pipeline: normalizing a request, planning and executing
// chunks sequentially, and assembling the final contiguous sequence.
package collector

import (
	"time"

	"github.com/yourusername/candlecore/internal/models"
	"github.com/yourusername/candlecore/internal/overlap"
)

// RequestType is a closed variant over the four accepted parameter
// combinations of §4.7.1.
type RequestType string

const (
	CountOnly RequestType = "COUNT_ONLY"
	ToCount   RequestType = "TO_COUNT"
	ToEnd     RequestType = "TO_END"
	EndOnly   RequestType = "END_ONLY"
)

// RequestInfo is the normalized, validated form of a user request. It is
// immutable after construction.
type RequestInfo struct {
	RequestID   string
	Symbol      string
	Timeframe   models.Timeframe
	AlignedTo   time.Time  // internal upper bound: the boundary just before the exclusive exchange `to`
	AlignedEnd  *time.Time // lower bound for TO_END / END_ONLY
	TargetCount int
	RequestType RequestType
}

// ChunkInfo is the mutable state for one chunk of at most ChunkMax candles.
// It is owned by the Coordinator and mutated only by the active
// ChunkProcessor; it carries no back-pointer to CollectionState.
type ChunkInfo struct {
	ChunkID      string
	Index        int
	PlannedTo    time.Time // newest boundary targeted by this chunk
	PlannedEnd   time.Time // oldest boundary targeted by this chunk
	PlannedCount int

	OverlapStatus     overlap.Status
	DBStart, DBEnd    *time.Time
	APIRequiredStart  *time.Time
	APIRequiredEnd    *time.Time

	APIRequestCount                   *int
	APIResponseCount                  *int
	APIResponseStart, APIResponseEnd *time.Time

	FinalCount               *int
	FinalStart, FinalEnd    *time.Time
}

// EffectiveEnd returns the first non-null of FinalEnd, DBEnd, APIResponseEnd,
// PlannedEnd — the single source of "last known aligned candle" used for
// continuity decisions. A cached "last time" field is deliberately absent;
// see DESIGN.md.
func (c *ChunkInfo) EffectiveEnd() time.Time {
	if c.FinalEnd != nil {
		return *c.FinalEnd
	}
	if c.DBEnd != nil {
		return *c.DBEnd
	}
	if c.APIResponseEnd != nil {
		return *c.APIResponseEnd
	}
	return c.PlannedEnd
}

// ChunkResult is returned by ChunkProcessor.Process.
type ChunkResult struct {
	SavedCount         int
	EffectiveEnd       time.Time
	ReachedUpstreamEnd bool
}

// CollectionState aggregates a running request. LastProcessedTime and
// TargetEndTime are derived accessors, never cached fields — see
// DESIGN.md's "avoided stored last-time field" entry.
type CollectionState struct {
	RequestInfo        RequestInfo
	Completed          []ChunkInfo
	Current            *ChunkInfo
	TotalRequested     int
	TotalCollected     int
	StartedAt          time.Time
	IsCompleted        bool
	ReachedUpstreamEnd bool
	Err                error
}

// LastProcessedTime delegates to the last completed chunk's EffectiveEnd.
// ok is false if no chunk has completed yet.
func (s *CollectionState) LastProcessedTime() (t time.Time, ok bool) {
	if len(s.Completed) == 0 {
		return time.Time{}, false
	}
	last := s.Completed[len(s.Completed)-1]
	return last.EffectiveEnd(), true
}

// TargetEndTime delegates to RequestInfo.AlignedEnd.
func (s *CollectionState) TargetEndTime() *time.Time {
	return s.RequestInfo.AlignedEnd
}

// ProgressSnapshot is the read-only progress record the Coordinator emits
// after each chunk boundary.
type ProgressSnapshot struct {
	Symbol              string
	Timeframe           models.Timeframe
	RequestID           string
	ChunkIndex          int
	TotalChunksEstimate int
	Collected           int
	Requested           int
	Elapsed             time.Duration
	EstimatedRemaining  time.Duration
	Phase               string
}

// ProgressCallback is invoked synchronously on the coordinator's execution
// context after each chunk; a long-running callback will slow the
// collection.
type ProgressCallback func(ProgressSnapshot)
