package collector

import (
	"context"
	"fmt"
	"time"

	"github.com/yourusername/candlecore/internal/exchange"
	"github.com/yourusername/candlecore/internal/gapfill"
	"github.com/yourusername/candlecore/internal/models"
	"github.com/yourusername/candlecore/internal/overlap"
	"github.com/yourusername/candlecore/internal/store"
	"github.com/yourusername/candlecore/internal/timegrid"
)

// ChunkProcessor executes one chunk of a collection: plan, analyze, fetch,
// fill, persist. This is the densest pipeline in the package; each phase is
// an explicit step inside Process, with early-exit points.
type ChunkProcessor struct {
	Repo     store.CandleRepository
	Analyzer *overlap.Analyzer
	Client   exchange.Client
}

// Process executes chunk's four-phase pipeline for one request.
//
// skipOverlapAnalysis must be true exactly for the first chunk of a
// COUNT_ONLY or END_ONLY request (§4.6 Phase 1): nothing useful can be
// stored above "now", so the chunk proceeds straight to fetch.
//
// fallbackReference is the aligned boundary one tick newer than this
// chunk's api-required range — the previous chunk's effective end — used by
// the gap filler to detect gaps spanning the chunk boundary. It is nil for
// the first chunk of a request.
func (p *ChunkProcessor) Process(ctx context.Context, symbol string, tf models.Timeframe, chunk *ChunkInfo, skipOverlapAnalysis bool, fallbackReference *time.Time) (*ChunkResult, error) {
	target := store.Range{Start: chunk.PlannedEnd, End: chunk.PlannedTo}

	// Phase 1 — plan and analyze.
	if skipOverlapAnalysis {
		chunk.OverlapStatus = overlap.NoOverlap
		start, end := target.Start, target.End
		chunk.APIRequiredStart, chunk.APIRequiredEnd = &start, &end
	} else {
		classification, err := p.Analyzer.Classify(ctx, symbol, tf, target)
		if err != nil {
			return nil, fmt.Errorf("collector: overlap classify: %w", err)
		}
		chunk.OverlapStatus = classification.Status
		if classification.APIRequired != nil {
			start, end := classification.APIRequired.Start, classification.APIRequired.End
			chunk.APIRequiredStart, chunk.APIRequiredEnd = &start, &end
		}

		if classification.Status == overlap.CompleteOverlap {
			dbStart, dbEnd := target.End, target.Start
			chunk.DBStart, chunk.DBEnd = &dbStart, &dbEnd
			fullCount := chunk.PlannedCount
			chunk.FinalCount = &fullCount
			return &ChunkResult{SavedCount: 0, EffectiveEnd: chunk.EffectiveEnd(), ReachedUpstreamEnd: false}, nil
		}
	}

	apiRequired := store.Range{Start: *chunk.APIRequiredStart, End: *chunk.APIRequiredEnd}

	// Phase 2 — boundary translation and fetch.
	// The only place the exclusive/inclusive mismatch is bridged for
	// outgoing calls: advance the inclusive api_required_end one tick
	// forward to get the exchange's exclusive `to`.
	toExclusive, err := timegrid.Advance(apiRequired.End, tf, 1)
	if err != nil {
		return nil, fmt.Errorf("collector: boundary translation: %w", err)
	}
	count, err := timegrid.CountBetween(apiRequired.Start, apiRequired.End, tf)
	if err != nil {
		return nil, fmt.Errorf("collector: api required count: %w", err)
	}
	requestCount := count
	chunk.APIRequestCount = &requestCount

	response, err := p.Client.Fetch(ctx, symbol, tf, requestCount, &toExclusive)
	if err != nil {
		return nil, err
	}
	responseCount := len(response)
	chunk.APIResponseCount = &responseCount
	reachedUpstreamEnd := responseCount < requestCount
	if responseCount > 0 {
		respStart, respEnd := response[0].UTCBoundary, response[responseCount-1].UTCBoundary
		chunk.APIResponseStart, chunk.APIResponseEnd = &respStart, &respEnd
	}

	// Phase 3 — gap fill.
	var lastKnownReal *models.Candle
	if fallbackReference != nil {
		rows, err := p.Repo.GetRange(ctx, symbol, tf, store.Range{Start: *fallbackReference, End: *fallbackReference})
		if err != nil {
			return nil, fmt.Errorf("collector: fallback reference lookup: %w", err)
		}
		if len(rows) > 0 {
			lastKnownReal = &rows[0]
		}
	}

	filled, err := gapfill.Fill(symbol, tf, response, fallbackReference, lastKnownReal)
	if err != nil {
		return nil, err
	}

	// Phase 4 — persist.
	saved, err := p.Repo.InsertChunk(ctx, symbol, tf, filled)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrStorage, err)
	}

	var finalStart, finalEnd time.Time
	switch {
	case chunk.OverlapStatus == overlap.NoOverlap:
		if len(filled) > 0 {
			finalStart, finalEnd = filled[0].UTCBoundary, filled[len(filled)-1].UTCBoundary
		}
	case !reachedUpstreamEnd:
		// The full api-required gap was fetched and filled; classification
		// already guarantees the rest of target was stored beforehand, so
		// the chunk's overall coverage is the full target.
		finalStart, finalEnd = target.End, target.Start
	case len(filled) > 0:
		// The exchange ran out of history partway through the gap. The
		// already-stored region above the gap is still covered, but
		// coverage stops wherever the fetch actually reached, not at
		// target.Start — reporting target.Start here would overstate
		// persisted coverage and corrupt the next chunk's continuity check.
		finalStart, finalEnd = target.End, filled[len(filled)-1].UTCBoundary
	default:
		// Nothing at all came back for the gap: coverage stops right above
		// it, at the boundary classification had already confirmed stored.
		aboveGap, err := timegrid.Advance(apiRequired.End, tf, 1)
		if err != nil {
			return nil, fmt.Errorf("collector: final coverage boundary: %w", err)
		}
		finalStart, finalEnd = target.End, aboveGap
	}
	chunk.FinalStart, chunk.FinalEnd = &finalStart, &finalEnd

	finalCount, err := timegrid.CountBetween(finalEnd, finalStart, tf)
	if err != nil {
		return nil, fmt.Errorf("collector: final count: %w", err)
	}
	chunk.FinalCount = &finalCount

	return &ChunkResult{
		SavedCount:         saved,
		EffectiveEnd:       chunk.EffectiveEnd(),
		ReachedUpstreamEnd: reachedUpstreamEnd,
	}, nil
}
