// Package memstore is an in-memory implementation of store.CandleRepository
// used by tests that would otherwise need a live MongoDB instance.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/yourusername/candlecore/internal/models"
	"github.com/yourusername/candlecore/internal/store"
	"github.com/yourusername/candlecore/internal/timegrid"
)

type partitionKey struct {
	symbol string
	tf     models.Timeframe
}

// Store is a goroutine-safe, map-backed CandleRepository. Each (symbol, tf)
// partition serializes its own writers via the shared mutex, matching the
// contract that InsertChunk is atomic per call.
type Store struct {
	mu   sync.Mutex
	data map[partitionKey]map[int64]models.Candle
}

// New returns an empty Store.
func New() *Store {
	return &Store{data: make(map[partitionKey]map[int64]models.Candle)}
}

func (s *Store) partition(symbol string, tf models.Timeframe) map[int64]models.Candle {
	key := partitionKey{symbol, tf}
	p, ok := s.data[key]
	if !ok {
		p = make(map[int64]models.Candle)
		s.data[key] = p
	}
	return p
}

func (s *Store) EnsurePartition(ctx context.Context, symbol string, tf models.Timeframe) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.partition(symbol, tf)
	return nil
}

func (s *Store) InsertChunk(ctx context.Context, symbol string, tf models.Timeframe, rows []models.Candle) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.partition(symbol, tf)
	inserted := 0
	for _, row := range rows {
		key := row.UTCBoundary.UTC().UnixNano()
		if _, exists := p[key]; exists {
			continue
		}
		p[key] = row
		inserted++
	}
	return inserted, nil
}

func (s *Store) GetRange(ctx context.Context, symbol string, tf models.Timeframe, r store.Range) ([]models.Candle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.partition(symbol, tf)
	out := make([]models.Candle, 0)
	for _, c := range p {
		if !c.UTCBoundary.Before(r.Start) && !c.UTCBoundary.After(r.End) {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UTCBoundary.After(out[j].UTCBoundary) })
	return out, nil
}

func (s *Store) FirstContiguousRun(ctx context.Context, symbol string, tf models.Timeframe, startAt time.Time) (time.Time, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.partition(symbol, tf)
	key := startAt.UTC().UnixNano()
	if _, ok := p[key]; !ok {
		return time.Time{}, false, nil
	}
	cur := startAt.UTC()
	for {
		prev, err := timegrid.Advance(cur, tf, -1)
		if err != nil {
			return time.Time{}, false, err
		}
		if _, ok := p[prev.UnixNano()]; !ok {
			return cur, true, nil
		}
		cur = prev
	}
}

func (s *Store) CountInRange(ctx context.Context, symbol string, tf models.Timeframe, r store.Range) (int, error) {
	rows, err := s.GetRange(ctx, symbol, tf, r)
	if err != nil {
		return 0, err
	}
	return len(rows), nil
}

func (s *Store) FindGapsInRange(ctx context.Context, symbol string, tf models.Timeframe, r store.Range) ([]store.Range, error) {
	boundaries, err := timegrid.Enumerate(r.Start, r.End, tf)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	p := s.partition(symbol, tf)
	present := make([]bool, len(boundaries))
	for i, b := range boundaries {
		_, present[i] = p[b.UTC().UnixNano()]
	}
	s.mu.Unlock()

	var gaps []store.Range
	i := 0
	for i < len(boundaries) {
		if present[i] {
			i++
			continue
		}
		start := boundaries[i]
		j := i
		for j < len(boundaries) && !present[j] {
			j++
		}
		gaps = append(gaps, store.Range{Start: start, End: boundaries[j-1]})
		i = j
	}
	return gaps, nil
}

// QualityReport implements the supplemental reporting operation over the
// in-memory partition, with the same fields the MongoDB implementation fills.
func (s *Store) QualityReport(ctx context.Context, symbol string, tf models.Timeframe) (*store.QualityReport, error) {
	s.mu.Lock()
	p := s.data[partitionKey{symbol, tf}]
	rows := make([]models.Candle, 0, len(p))
	for _, c := range p {
		rows = append(rows, c)
	}
	s.mu.Unlock()

	report := &store.QualityReport{Symbol: symbol, Timeframe: tf}
	if len(rows) == 0 {
		return report, nil
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].UTCBoundary.After(rows[j].UTCBoundary) })

	report.TotalCandles = len(rows)
	report.NewestBoundary = rows[0].UTCBoundary
	report.OldestBoundary = rows[len(rows)-1].UTCBoundary
	for _, c := range rows {
		if c.SourceTag == models.SourceReal {
			report.RealCandles++
		} else {
			report.EmptyCopyCount++
		}
	}

	gaps, err := s.FindGapsInRange(ctx, symbol, tf, store.Range{Start: report.OldestBoundary, End: report.NewestBoundary})
	if err != nil {
		return nil, err
	}
	report.GapCount = len(gaps)
	for _, g := range gaps {
		report.GapTotal += g.End.Sub(g.Start)
	}
	return report, nil
}
