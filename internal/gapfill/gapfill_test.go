package gapfill

import (
	"testing"
	"time"

	"github.com/yourusername/candlecore/internal/models"
)

func hour(h int) time.Time {
	return time.Date(2024, 3, 1, h, 0, 0, 0, time.UTC)
}

func real(h int, close float64) models.Candle {
	return models.Candle{
		Symbol:      "KRW-BTC",
		Timeframe:   models.TF1h,
		UTCBoundary: hour(h),
		Open:        close,
		High:        close,
		Low:         close,
		Close:       close,
		SourceTag:   models.SourceReal,
	}
}

func TestFillNoGaps(t *testing.T) {
	response := []models.Candle{real(3, 103), real(2, 102), real(1, 101)}
	got, err := Fill("KRW-BTC", models.TF1h, response, nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(got))
	}
	for i, c := range got {
		if c.SourceTag != models.SourceReal {
			t.Errorf("index %d: expected REAL, got %s", i, c.SourceTag)
		}
	}
}

func TestFillInternalGap(t *testing.T) {
	// Hour 2 is missing between hour 3 and hour 1.
	response := []models.Candle{real(3, 103), real(1, 101)}
	got, err := Fill("KRW-BTC", models.TF1h, response, nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 rows after fill, got %d", len(got))
	}
	if !got[1].UTCBoundary.Equal(hour(2)) {
		t.Fatalf("expected synthesized row at hour 2, got %s", got[1].UTCBoundary)
	}
	if got[1].SourceTag != models.SourceEmptyCopy {
		t.Errorf("expected EMPTY_COPY at hour 2, got %s", got[1].SourceTag)
	}
	if got[1].Close != 103 {
		t.Errorf("expected synthesized close to copy the preceding REAL close 103, got %f", got[1].Close)
	}
	if got[1].CopySourceUTC == nil || !got[1].CopySourceUTC.Equal(hour(3)) {
		t.Errorf("expected copy source to point at hour 3")
	}
}

func TestFillCrossChunkGap(t *testing.T) {
	// fallbackReference is hour 5; response starts at hour 3, so hour 4 is a
	// gap spanning the chunk boundary that response alone cannot reveal.
	fallback := hour(5)
	lastKnown := real(5, 105)
	response := []models.Candle{real(3, 103)}

	got, err := Fill("KRW-BTC", models.TF1h, response, &fallback, &lastKnown)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 rows (hour 4 synthesized, hour 3 real), got %d", len(got))
	}
	if !got[0].UTCBoundary.Equal(hour(4)) || got[0].SourceTag != models.SourceEmptyCopy {
		t.Fatalf("expected synthesized row at hour 4, got %+v", got[0])
	}
	if got[0].Close != 105 {
		t.Errorf("expected synthesized close to copy fallback's close 105, got %f", got[0].Close)
	}
}

func TestFillRejectsUnalignedResponse(t *testing.T) {
	bad := real(3, 100)
	bad.UTCBoundary = bad.UTCBoundary.Add(time.Minute)
	if _, err := Fill("KRW-BTC", models.TF1h, []models.Candle{bad}, nil, nil); err == nil {
		t.Error("expected error for unaligned boundary")
	}
}

func TestFillRejectsNonDescendingResponse(t *testing.T) {
	ascending := []models.Candle{real(1, 101), real(2, 102)}
	if _, err := Fill("KRW-BTC", models.TF1h, ascending, nil, nil); err == nil {
		t.Error("expected error for non-descending response")
	}
}
