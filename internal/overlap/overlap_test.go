package overlap

import (
	"context"
	"testing"
	"time"

	"github.com/yourusername/candlecore/internal/models"
	"github.com/yourusername/candlecore/internal/store"
	"github.com/yourusername/candlecore/internal/store/memstore"
)

func hour(h int) time.Time {
	return time.Date(2024, 3, 1, h, 0, 0, 0, time.UTC)
}

func candle(h int) models.Candle {
	return models.Candle{
		Symbol:      "KRW-BTC",
		Timeframe:   models.TF1h,
		UTCBoundary: hour(h),
		SourceTag:   models.SourceReal,
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name        string
		stored      []int // hours present in storage
		targetStart int
		targetEnd   int
		wantStatus  Status
		wantAPI     *store.Range // nil means no fetch required
	}{
		{
			name:        "nothing stored is NO_OVERLAP",
			stored:      nil,
			targetStart: 0,
			targetEnd:   4,
			wantStatus:  NoOverlap,
			wantAPI:     &store.Range{Start: hour(0), End: hour(4)},
		},
		{
			name:        "every boundary stored is COMPLETE_OVERLAP",
			stored:      []int{0, 1, 2, 3, 4},
			targetStart: 0,
			targetEnd:   4,
			wantStatus:  CompleteOverlap,
			wantAPI:     nil,
		},
		{
			name:        "gap touches target end is PARTIAL_START",
			stored:      []int{0, 1, 2},
			targetStart: 0,
			targetEnd:   4,
			wantStatus:  PartialStart,
			wantAPI:     &store.Range{Start: hour(3), End: hour(4)},
		},
		{
			name:        "gap in the middle is PARTIAL_MIDDLE_CONTINUOUS",
			stored:      []int{0, 1, 4},
			targetStart: 0,
			targetEnd:   4,
			wantStatus:  PartialMiddleContinuous,
			wantAPI:     &store.Range{Start: hour(2), End: hour(3)},
		},
		{
			name:        "two disjoint gaps is PARTIAL_MIDDLE_FRAGMENT",
			stored:      []int{0, 2, 4},
			targetStart: 0,
			targetEnd:   4,
			wantStatus:  PartialMiddleFragment,
			wantAPI:     &store.Range{Start: hour(1), End: hour(3)},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := memstore.New()
			var rows []models.Candle
			for _, h := range tt.stored {
				rows = append(rows, candle(h))
			}
			if _, err := repo.InsertChunk(context.Background(), "KRW-BTC", models.TF1h, rows); err != nil {
				t.Fatalf("seed insert: %v", err)
			}

			analyzer := New(repo)
			target := store.Range{Start: hour(tt.targetStart), End: hour(tt.targetEnd)}
			got, err := analyzer.Classify(context.Background(), "KRW-BTC", models.TF1h, target)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got.Status != tt.wantStatus {
				t.Errorf("status = %s, want %s", got.Status, tt.wantStatus)
			}
			if tt.wantAPI == nil {
				if got.APIRequired != nil {
					t.Errorf("expected no API range, got %+v", got.APIRequired)
				}
				return
			}
			if got.APIRequired == nil {
				t.Fatal("expected an API range, got nil")
			}
			if !got.APIRequired.Start.Equal(tt.wantAPI.Start) || !got.APIRequired.End.Equal(tt.wantAPI.End) {
				t.Errorf("API range = [%s,%s], want [%s,%s]", got.APIRequired.Start, got.APIRequired.End, tt.wantAPI.Start, tt.wantAPI.End)
			}
		})
	}
}
