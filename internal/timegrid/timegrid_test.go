package timegrid

import (
	"testing"
	"time"

	"github.com/yourusername/candlecore/internal/models"
)

func utc(y int, m time.Month, d, h int) time.Time {
	return time.Date(y, m, d, h, 0, 0, 0, time.UTC)
}

func TestAlignDown(t *testing.T) {
	tests := []struct {
		name string
		in   time.Time
		tf   models.Timeframe
		want time.Time
	}{
		{"1h already aligned", utc(2024, 3, 1, 5), models.TF1h, utc(2024, 3, 1, 5)},
		{"1h mid-hour rounds down", time.Date(2024, 3, 1, 5, 42, 10, 0, time.UTC), models.TF1h, utc(2024, 3, 1, 5)},
		{"1d rounds down to midnight", time.Date(2024, 3, 1, 13, 0, 0, 0, time.UTC), models.TF1d, utc(2024, 3, 1, 0)},
		{"1M rounds down to month start", time.Date(2024, 3, 17, 9, 0, 0, 0, time.UTC), models.TF1M, utc(2024, 3, 1, 0)},
		{"1w rounds down to Monday", time.Date(2024, 3, 6, 9, 0, 0, 0, time.UTC), models.TF1w, utc(2024, 3, 4, 0)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := AlignDown(tt.in, tt.tf)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !got.Equal(tt.want) {
				t.Errorf("AlignDown(%s, %s) = %s, want %s", tt.in, tt.tf, got, tt.want)
			}
		})
	}
}

func TestAlignDownUnknownTimeframe(t *testing.T) {
	if _, err := AlignDown(utc(2024, 1, 1, 0), models.Timeframe("2h")); err == nil {
		t.Error("expected error for unknown timeframe")
	}
}

func TestAdvance(t *testing.T) {
	tests := []struct {
		name string
		in   time.Time
		tf   models.Timeframe
		n    int
		want time.Time
	}{
		{"1h forward", utc(2024, 3, 1, 5), models.TF1h, 3, utc(2024, 3, 1, 8)},
		{"1h backward", utc(2024, 3, 1, 5), models.TF1h, -5, utc(2024, 3, 1, 0)},
		{"1M forward crosses year", utc(2024, 12, 1, 0), models.TF1M, 1, utc(2025, 1, 1, 0)},
		{"1M backward", utc(2024, 3, 1, 0), models.TF1M, -3, utc(2023, 12, 1, 0)},
		{"1w forward", utc(2024, 3, 4, 0), models.TF1w, 2, utc(2024, 3, 18, 0)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Advance(tt.in, tt.tf, tt.n)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !got.Equal(tt.want) {
				t.Errorf("Advance(%s, %s, %d) = %s, want %s", tt.in, tt.tf, tt.n, got, tt.want)
			}
		})
	}
}

func TestAdvanceRejectsUnaligned(t *testing.T) {
	unaligned := time.Date(2024, 3, 1, 5, 30, 0, 0, time.UTC)
	if _, err := Advance(unaligned, models.TF1h, 1); err == nil {
		t.Error("expected error for unaligned input")
	}
}

func TestCountBetween(t *testing.T) {
	tests := []struct {
		name string
		a, b time.Time
		tf   models.Timeframe
		want int
	}{
		{"same boundary", utc(2024, 3, 1, 5), utc(2024, 3, 1, 5), models.TF1h, 1},
		{"five hours", utc(2024, 3, 1, 0), utc(2024, 3, 1, 4), models.TF1h, 5},
		{"calendar months", utc(2024, 1, 1, 0), utc(2024, 4, 1, 0), models.TF1M, 4},
		{"calendar months across year", utc(2023, 11, 1, 0), utc(2024, 2, 1, 0), models.TF1M, 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := CountBetween(tt.a, tt.b, tt.tf)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("CountBetween(%s, %s, %s) = %d, want %d", tt.a, tt.b, tt.tf, got, tt.want)
			}
		})
	}
}

func TestCountBetweenRejectsInverted(t *testing.T) {
	if _, err := CountBetween(utc(2024, 3, 1, 5), utc(2024, 3, 1, 0), models.TF1h); err == nil {
		t.Error("expected error for inverted range")
	}
}

func TestEnumerate(t *testing.T) {
	got, err := Enumerate(utc(2024, 3, 1, 0), utc(2024, 3, 1, 2), models.TF1h)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []time.Time{utc(2024, 3, 1, 0), utc(2024, 3, 1, 1), utc(2024, 3, 1, 2)}
	if len(got) != len(want) {
		t.Fatalf("expected %d boundaries, got %d", len(want), len(got))
	}
	for i := range want {
		if !got[i].Equal(want[i]) {
			t.Errorf("index %d: got %s, want %s", i, got[i], want[i])
		}
	}
}

func TestIsAligned(t *testing.T) {
	tests := []struct {
		name string
		in   time.Time
		tf   models.Timeframe
		want bool
	}{
		{"aligned hour", utc(2024, 3, 1, 5), models.TF1h, true},
		{"unaligned hour", time.Date(2024, 3, 1, 5, 1, 0, 0, time.UTC), models.TF1h, false},
		{"aligned month start", utc(2024, 3, 1, 0), models.TF1M, true},
		{"unaligned month day", utc(2024, 3, 2, 0), models.TF1M, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := IsAligned(tt.in, tt.tf)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("IsAligned(%s, %s) = %v, want %v", tt.in, tt.tf, got, tt.want)
			}
		})
	}
}
