// Package store defines the persistence contract the candle pipeline
// depends on. internal/repository provides the MongoDB-backed
// implementation; internal/store/memstore provides an in-memory
// implementation used by tests.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/yourusername/candlecore/internal/models"
)

// ErrStorage wraps connection, disk, or corruption failures from a
// CandleRepository implementation. Collections fail fatally on this error.
var ErrStorage = errors.New("store: storage error")

// Range is a closed interval [Start, End] of aligned boundaries at a given
// timeframe. Expected candle count within a Range is derived on demand via
// timegrid.CountBetween rather than cached here.
type Range struct {
	Start time.Time
	End   time.Time
}

// CandleRepository persists aligned candles and answers the narrow set of
// range/continuity queries the overlap analyzer and final assembly need.
// Storage is partitioned by (symbol, timeframe); each partition is an
// append-heavy set with utc_boundary as primary key.
type CandleRepository interface {
	// EnsurePartition creates the partition for (symbol, tf) on first use.
	// Idempotent.
	EnsurePartition(ctx context.Context, symbol string, tf models.Timeframe) error

	// InsertChunk inserts rows, ignoring any whose key already exists.
	// Never overwrites an existing row. Returns the count actually
	// inserted. Atomic per call.
	InsertChunk(ctx context.Context, symbol string, tf models.Timeframe, rows []models.Candle) (int, error)

	// GetRange returns rows with r.Start <= utc_boundary <= r.End in
	// descending order.
	GetRange(ctx context.Context, symbol string, tf models.Timeframe, r Range) ([]models.Candle, error)

	// FirstContiguousRun returns the largest end such that every boundary
	// in [end, startAt] exists, walking backward from startAt. Returns
	// ok=false if startAt itself is missing.
	FirstContiguousRun(ctx context.Context, symbol string, tf models.Timeframe, startAt time.Time) (end time.Time, ok bool, err error)

	// CountInRange returns the row count in r, used to cheaply detect
	// COMPLETE_OVERLAP.
	CountInRange(ctx context.Context, symbol string, tf models.Timeframe, r Range) (int, error)

	// FindGapsInRange returns disjoint missing sub-ranges within r.
	FindGapsInRange(ctx context.Context, symbol string, tf models.Timeframe, r Range) ([]Range, error)
}

// QualityReport summarizes gap structure and synthesis ratio for a
// partition. This is a supplemental, read-only operation layered on top of
// FindGapsInRange; it never mutates storage.
type QualityReport struct {
	Symbol         string
	Timeframe      models.Timeframe
	TotalCandles   int
	RealCandles    int
	EmptyCopyCount int
	GapCount       int
	GapTotal       time.Duration
	OldestBoundary time.Time
	NewestBoundary time.Time
}
