// Package gapfill synthesizes EMPTY_COPY rows for every aligned boundary an
// exchange response should have contained but omitted, so the persisted
// sequence is dense on timeframe boundaries.
package gapfill

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/yourusername/candlecore/internal/models"
	"github.com/yourusername/candlecore/internal/timegrid"
)

// ErrGapFill indicates the exchange response violated ordering or alignment
// invariants. This is a programmer-visible contract violation, not
// recoverable data to be worked around.
var ErrGapFill = errors.New("gapfill: invalid response")

// Fill synthesizes EMPTY_COPY rows between every pair of adjacent boundaries
// in [fallbackReference] ++ response (descending) whose gap exceeds one
// tick, then re-sorts descending.
//
// response must already be descending and aligned to tf. fallbackReference
// is the aligned boundary of the most recent REAL or EMPTY_COPY row
// immediately preceding response's range — required for every chunk but the
// first, because gaps spanning the chunk boundary are otherwise invisible.
// lastKnownReal, if non-nil, seeds OHLC reconstruction for EMPTY_COPY rows
// synthesized before response's first REAL row is seen; it is typically the
// REAL row the fallback reference itself points at.
func Fill(symbol string, tf models.Timeframe, response []models.Candle, fallbackReference *time.Time, lastKnownReal *models.Candle) ([]models.Candle, error) {
	if err := validateDescendingAligned(response, tf); err != nil {
		return nil, err
	}

	boundaries := make([]time.Time, 0, len(response)+1)
	if fallbackReference != nil {
		boundaries = append(boundaries, fallbackReference.UTC())
	}
	for _, c := range response {
		boundaries = append(boundaries, c.UTCBoundary.UTC())
	}

	out := make([]models.Candle, 0, len(response))
	out = append(out, response...)

	// currentReal tracks the nearest preceding REAL row seen so far while
	// walking newest-to-oldest, so synthesized rows always copy the most
	// recent known close.
	currentReal := lastKnownReal

	// Vectorized gap detection: walk successive diffs over the combined
	// boundary vector and flag every diff strictly greater than one tick.
	// Per-row iteration over large responses is too slow, and omitting the
	// fallback reference silently drops cross-chunk gaps.
	if fallbackReference == nil && len(response) > 0 && response[0].SourceTag == models.SourceReal {
		r := response[0]
		currentReal = &r
	}

	for i := 0; i+1 < len(boundaries); i++ {
		newer := boundaries[i]
		older := boundaries[i+1]

		// Track the REAL row at this newer boundary, if it is a response
		// row (index 0 of boundaries is the fallback reference when
		// present, so response rows start at boundaries[1] in that case).
		respPos := i
		if fallbackReference != nil {
			respPos = i - 1
		}
		if respPos >= 0 && respPos < len(response) && response[respPos].SourceTag == models.SourceReal {
			r := response[respPos]
			currentReal = &r
		}

		expectedOlder, err := timegrid.Advance(newer, tf, -1)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrGapFill, err)
		}
		cursor := expectedOlder
		for cursor.After(older) {
			row := models.Candle{
				Symbol:      symbol,
				Timeframe:   tf,
				UTCBoundary: cursor,
				SourceTag:   models.SourceEmptyCopy,
			}
			if currentReal != nil {
				row.Open = currentReal.Close
				row.High = currentReal.Close
				row.Low = currentReal.Close
				row.Close = currentReal.Close
				ref := currentReal.UTCBoundary
				if currentReal.SourceTag == models.SourceEmptyCopy && currentReal.CopySourceUTC != nil {
					// A seed that is itself synthesized points on to its REAL source.
					ref = *currentReal.CopySourceUTC
				}
				row.CopySourceUTC = &ref
			}
			out = append(out, row)

			next, err := timegrid.Advance(cursor, tf, -1)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrGapFill, err)
			}
			cursor = next
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UTCBoundary.After(out[j].UTCBoundary) })

	if err := assertLocallyDense(out, tf); err != nil {
		return nil, err
	}
	return out, nil
}

func validateDescendingAligned(response []models.Candle, tf models.Timeframe) error {
	for i, c := range response {
		ok, err := timegrid.IsAligned(c.UTCBoundary, tf)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrGapFill, err)
		}
		if !ok {
			return fmt.Errorf("%w: boundary %s is not aligned to %s", ErrGapFill, c.UTCBoundary, tf)
		}
		if i > 0 && !response[i-1].UTCBoundary.After(c.UTCBoundary) {
			return fmt.Errorf("%w: response is not strictly descending at index %d", ErrGapFill, i)
		}
	}
	return nil
}

// assertLocallyDense verifies every adjacent pair in the filled sequence
// differs by exactly one tick — the post-condition of §4.4: "the returned
// sequence contains exactly one row per aligned boundary" within whatever
// span the input actually covered.
func assertLocallyDense(filled []models.Candle, tf models.Timeframe) error {
	for i := 0; i+1 < len(filled); i++ {
		want, err := timegrid.Advance(filled[i].UTCBoundary, tf, -1)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrGapFill, err)
		}
		if !want.Equal(filled[i+1].UTCBoundary) {
			return fmt.Errorf("%w: non-dense sequence between %s and %s", ErrGapFill, filled[i].UTCBoundary, filled[i+1].UTCBoundary)
		}
	}
	return nil
}
