package collector

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/yourusername/candlecore/internal/exchange"
	"github.com/yourusername/candlecore/internal/models"
	"github.com/yourusername/candlecore/internal/overlap"
	"github.com/yourusername/candlecore/internal/store/memstore"
)

func day(d int) time.Time {
	return time.Date(2024, 3, d, 0, 0, 0, 0, time.UTC)
}

// fakeClient serves Fetch from a fixed in-memory table of REAL candles keyed
// by boundary, mimicking an exchange that has a gap at every boundary not
// present in table. Mirrors the teacher's own preference for hand-written
// fakes over a mocking framework.
type fakeClient struct {
	table map[int64]models.Candle // keyed by UnixNano boundary
	calls int
	err   error
}

func newFakeClient(real map[int]float64) *fakeClient {
	table := make(map[int64]models.Candle, len(real))
	for d, close := range real {
		c := models.Candle{
			Symbol: "KRW-BTC", Timeframe: models.TF1d,
			UTCBoundary: day(d),
			Open:        close, High: close, Low: close, Close: close,
			SourceTag: models.SourceReal,
		}
		table[day(d).UnixNano()] = c
	}
	return &fakeClient{table: table}
}

// Fetch returns up to count boundaries walking backward from toExclusive,
// omitting any boundary absent from table — mirroring an exchange that
// silently skips zero-activity candles rather than padding them.
func (f *fakeClient) Fetch(ctx context.Context, symbol string, tf models.Timeframe, count int, toExclusive *time.Time) ([]models.Candle, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	cursor := day(0)
	if toExclusive != nil {
		cursor = toExclusive.Add(-24 * time.Hour)
	}
	var out []models.Candle
	for i := 0; i < count; i++ {
		if c, ok := f.table[cursor.UnixNano()]; ok {
			out = append(out, c)
		}
		cursor = cursor.Add(-24 * time.Hour)
	}
	return out, nil
}

func TestNewRequestInfoCountOnly(t *testing.T) {
	count := 10
	req, err := NewRequestInfo("KRW-BTC", models.TF1h, &count, nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if req.RequestType != CountOnly {
		t.Errorf("expected COUNT_ONLY, got %s", req.RequestType)
	}
	if req.TargetCount != 10 {
		t.Errorf("expected target count 10, got %d", req.TargetCount)
	}
	if req.AlignedEnd != nil {
		t.Errorf("expected no aligned end, got %v", req.AlignedEnd)
	}
}

func TestNewRequestInfoToEnd(t *testing.T) {
	to := day(10)
	end := day(5)
	req, err := NewRequestInfo("KRW-BTC", models.TF1d, nil, &to, &end)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if req.RequestType != ToEnd {
		t.Errorf("expected TO_END, got %s", req.RequestType)
	}
	// to is inclusive on the way in, so AlignedTo is one tick before day(10).
	if !req.AlignedTo.Equal(day(9)) {
		t.Errorf("expected aligned_to day 9, got %s", req.AlignedTo)
	}
	if req.TargetCount != 5 {
		t.Errorf("expected target count 5 (day5..day9 inclusive), got %d", req.TargetCount)
	}
}

func TestNewRequestInfoRejectsAmbiguousShapes(t *testing.T) {
	count := 5
	to := day(1)
	end := day(0)
	if _, err := NewRequestInfo("KRW-BTC", models.TF1d, &count, &to, &end); !errors.Is(err, ErrInvalidRequest) {
		t.Errorf("expected ErrInvalidRequest for count+to+end, got %v", err)
	}
	if _, err := NewRequestInfo("KRW-BTC", models.TF1d, nil, nil, nil); !errors.Is(err, ErrInvalidRequest) {
		t.Errorf("expected ErrInvalidRequest for no params, got %v", err)
	}
}

func TestNewRequestInfoRejectsFutureTime(t *testing.T) {
	future := time.Now().UTC().Add(365 * 24 * time.Hour)
	count := 5
	if _, err := NewRequestInfo("KRW-BTC", models.TF1d, &count, &future, nil); !errors.Is(err, ErrFutureTime) {
		t.Errorf("expected ErrFutureTime, got %v", err)
	}
}

func TestNewRequestInfoRejectsUnknownTimeframe(t *testing.T) {
	count := 5
	if _, err := NewRequestInfo("KRW-BTC", models.Timeframe("2h"), &count, nil, nil); !errors.Is(err, ErrInvalidRequest) {
		t.Errorf("expected ErrInvalidRequest for unknown timeframe, got %v", err)
	}
}

// TestCollectToEndFillsGapsAndPersists exercises the full pipeline across
// a single chunk: the fake exchange has a gap, and Collect must return a
// dense, duplicate-free, gap-filled sequence and persist it via the repo.
func TestCollectToEndFillsGapsAndPersists(t *testing.T) {
	repo := memstore.New()
	client := newFakeClient(map[int]float64{0: 100, 1: 101, 3: 103, 4: 104})

	analyzer := overlap.New(repo)
	processor := &ChunkProcessor{Repo: repo, Analyzer: analyzer, Client: client}
	co := NewCoordinator(processor, repo)

	to := day(5)
	end := day(0)
	req, err := NewRequestInfo("KRW-BTC", models.TF1d, nil, &to, &end)
	if err != nil {
		t.Fatalf("NewRequestInfo: %v", err)
	}

	state, candles, err := co.Collect(context.Background(), req, nil)
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if !state.IsCompleted {
		t.Error("expected state to be completed")
	}
	if len(candles) == 0 {
		t.Fatal("expected at least one candle")
	}

	sort.Slice(candles, func(i, j int) bool { return candles[i].UTCBoundary.After(candles[j].UTCBoundary) })
	for i := 0; i+1 < len(candles); i++ {
		diff := candles[i].UTCBoundary.Sub(candles[i+1].UTCBoundary)
		if diff != 24*time.Hour {
			t.Errorf("expected dense daily sequence, gap of %s between %s and %s", diff, candles[i].UTCBoundary, candles[i+1].UTCBoundary)
		}
	}

	var sawEmptyCopy bool
	for _, c := range candles {
		if c.SourceTag == models.SourceEmptyCopy {
			sawEmptyCopy = true
		}
	}
	if !sawEmptyCopy {
		t.Error("expected at least one synthesized EMPTY_COPY row for the fake exchange's gap")
	}
}

func TestCollectIsIdempotentOnRerun(t *testing.T) {
	repo := memstore.New()
	client := newFakeClient(map[int]float64{0: 100, 1: 101, 2: 102})
	analyzer := overlap.New(repo)
	processor := &ChunkProcessor{Repo: repo, Analyzer: analyzer, Client: client}
	co := NewCoordinator(processor, repo)

	to := day(3)
	end := day(0)
	req, err := NewRequestInfo("KRW-BTC", models.TF1d, nil, &to, &end)
	if err != nil {
		t.Fatalf("NewRequestInfo: %v", err)
	}

	_, first, err := co.Collect(context.Background(), req, nil)
	if err != nil {
		t.Fatalf("first Collect: %v", err)
	}
	callsAfterFirst := client.calls
	if callsAfterFirst == 0 {
		t.Fatal("expected the first Collect to issue at least one fetch call")
	}

	req2, err := NewRequestInfo("KRW-BTC", models.TF1d, nil, &to, &end)
	if err != nil {
		t.Fatalf("NewRequestInfo: %v", err)
	}
	_, second, err := co.Collect(context.Background(), req2, nil)
	if err != nil {
		t.Fatalf("second Collect: %v", err)
	}

	if len(first) != len(second) {
		t.Errorf("expected rerun to return the same %d rows, got %d", len(first), len(second))
	}
	if client.calls != callsAfterFirst {
		t.Errorf("expected rerun to be a COMPLETE_OVERLAP no-op (no new fetch calls), calls went from %d to %d", callsAfterFirst, client.calls)
	}
}
