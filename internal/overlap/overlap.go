// Package overlap classifies a target aligned range against stored data and
// computes the minimal API range that must still be fetched.
package overlap

import (
	"context"
	"fmt"

	"github.com/yourusername/candlecore/internal/models"
	"github.com/yourusername/candlecore/internal/store"
	"github.com/yourusername/candlecore/internal/timegrid"
)

// Status is a closed variant over the five overlap classifications. Adding
// a sixth member is a breaking change that must update every dispatch site
// in this package and in internal/collector.
type Status string

const (
	NoOverlap               Status = "NO_OVERLAP"
	CompleteOverlap         Status = "COMPLETE_OVERLAP"
	PartialStart            Status = "PARTIAL_START"
	PartialMiddleContinuous Status = "PARTIAL_MIDDLE_CONTINUOUS"
	PartialMiddleFragment   Status = "PARTIAL_MIDDLE_FRAGMENT"
)

// Classification is the outcome the ChunkProcessor records on a ChunkInfo:
// the status plus the minimal range still requiring an API fetch. Every
// status but COMPLETE_OVERLAP populates APIRequired; for NO_OVERLAP it is
// the whole target.
type Classification struct {
	Status      Status
	APIRequired *store.Range
}

// Analyzer is pure with respect to the repository; it never mutates state.
type Analyzer struct {
	Repo store.CandleRepository
}

// New returns an Analyzer backed by repo.
func New(repo store.CandleRepository) *Analyzer {
	return &Analyzer{Repo: repo}
}

// Classify implements the algorithm of spec §4.3: count rows in the target
// range, and if it is neither empty nor full, classify the gap structure.
func (a *Analyzer) Classify(ctx context.Context, symbol string, tf models.Timeframe, target store.Range) (Classification, error) {
	count, err := a.Repo.CountInRange(ctx, symbol, tf, target)
	if err != nil {
		return Classification{}, fmt.Errorf("overlap: count in range: %w", err)
	}
	if count == 0 {
		return Classification{Status: NoOverlap, APIRequired: &target}, nil
	}

	expected, err := timegrid.CountBetween(target.Start, target.End, tf)
	if err != nil {
		return Classification{}, fmt.Errorf("overlap: expected count: %w", err)
	}
	if count == expected {
		return Classification{Status: CompleteOverlap}, nil
	}

	gaps, err := a.Repo.FindGapsInRange(ctx, symbol, tf, target)
	if err != nil {
		return Classification{}, fmt.Errorf("overlap: find gaps: %w", err)
	}
	if len(gaps) == 0 {
		// Count says partial but no gap was found: the only consistent
		// explanation is that every boundary is present, so treat as
		// complete rather than issuing a needless fetch.
		return Classification{Status: CompleteOverlap}, nil
	}

	if len(gaps) == 1 {
		g := gaps[0]
		if g.End.Equal(target.End) {
			return Classification{Status: PartialStart, APIRequired: &g}, nil
		}
		return Classification{Status: PartialMiddleContinuous, APIRequired: &g}, nil
	}

	minStart := gaps[0].Start
	maxEnd := gaps[0].End
	for _, g := range gaps[1:] {
		if g.Start.Before(minStart) {
			minStart = g.Start
		}
		if g.End.After(maxEnd) {
			maxEnd = g.End
		}
	}
	covering := store.Range{Start: minStart, End: maxEnd}
	return Classification{Status: PartialMiddleFragment, APIRequired: &covering}, nil
}
