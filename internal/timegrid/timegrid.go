// Package timegrid centralises every timeframe-boundary alignment and tick
// arithmetic operation used by the candle pipeline. No other package aligns
// to timeframe boundaries or steps between them directly.
package timegrid

import (
	"errors"
	"fmt"
	"time"

	"github.com/yourusername/candlecore/internal/models"
)

// ErrInvalidTime is returned for unknown timeframes, unaligned inputs where
// alignment is required, and inverted ranges. Future boundaries are not
// checked here.
var ErrInvalidTime = errors.New("timegrid: invalid time")

func tickWidth(tf models.Timeframe) (time.Duration, bool) {
	switch tf {
	case models.TF1s:
		return time.Second, true
	case models.TF1m:
		return time.Minute, true
	case models.TF3m:
		return 3 * time.Minute, true
	case models.TF5m:
		return 5 * time.Minute, true
	case models.TF10m:
		return 10 * time.Minute, true
	case models.TF15m:
		return 15 * time.Minute, true
	case models.TF30m:
		return 30 * time.Minute, true
	case models.TF1h:
		return time.Hour, true
	case models.TF4h:
		return 4 * time.Hour, true
	case models.TF1d:
		return 24 * time.Hour, true
	case models.TF1w:
		return 7 * 24 * time.Hour, true
	default:
		return 0, false
	}
}

// weekAnchor is a known Monday 00:00 UTC used to align week boundaries.
// 1970-01-05 was a Monday.
var weekAnchor = time.Date(1970, 1, 5, 0, 0, 0, 0, time.UTC)

// AlignDown rounds dt down to the previous aligned boundary for tf.
func AlignDown(dt time.Time, tf models.Timeframe) (time.Time, error) {
	if !tf.IsValid() {
		return time.Time{}, fmt.Errorf("%w: unknown timeframe %q", ErrInvalidTime, tf)
	}
	dt = dt.UTC()

	if tf.IsCalendar() {
		return time.Date(dt.Year(), dt.Month(), 1, 0, 0, 0, 0, time.UTC), nil
	}
	if tf == models.TF1w {
		elapsed := dt.Sub(weekAnchor)
		weeks := elapsed / (7 * 24 * time.Hour)
		if elapsed < 0 && elapsed%(7*24*time.Hour) != 0 {
			weeks--
		}
		return weekAnchor.Add(weeks * 7 * 24 * time.Hour), nil
	}

	width, _ := tickWidth(tf)
	epoch := dt.Unix()
	w := int64(width / time.Second)
	aligned := (epoch / w) * w
	if epoch < 0 && epoch%w != 0 {
		aligned -= w
	}
	return time.Unix(aligned, 0).UTC(), nil
}

// IsAligned reports whether dt already sits on a tf boundary.
func IsAligned(dt time.Time, tf models.Timeframe) (bool, error) {
	aligned, err := AlignDown(dt, tf)
	if err != nil {
		return false, err
	}
	return aligned.Equal(dt.UTC()), nil
}

// Advance moves dt n boundaries forward (n < 0 moves backward). dt must
// already be aligned to tf. For 1M this performs calendar-month arithmetic;
// since 1M boundaries are always the first of a month, "Jan 31 + 1M" has no
// meaning here — advance requires an aligned input, which for 1M is always
// day one of some month, and adding n months to day one never overflows.
func Advance(dt time.Time, tf models.Timeframe, n int) (time.Time, error) {
	ok, err := IsAligned(dt, tf)
	if err != nil {
		return time.Time{}, err
	}
	if !ok {
		return time.Time{}, fmt.Errorf("%w: %s is not aligned to %s", ErrInvalidTime, dt, tf)
	}

	if tf.IsCalendar() {
		dt = dt.UTC()
		return time.Date(dt.Year(), dt.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, n, 0), nil
	}

	width, _ := tickWidth(tf)
	return dt.UTC().Add(time.Duration(n) * width), nil
}

// CountBetween returns the number of aligned boundaries in [a,b] inclusive.
// Both bounds must be aligned and a <= b.
func CountBetween(a, b time.Time, tf models.Timeframe) (int, error) {
	if err := requireOrdered(a, b, tf); err != nil {
		return 0, err
	}
	if tf.IsCalendar() {
		a, b = a.UTC(), b.UTC()
		months := (b.Year()-a.Year())*12 + int(b.Month()-a.Month())
		return months + 1, nil
	}
	width, _ := tickWidth(tf)
	return int(b.Sub(a)/width) + 1, nil
}

// Enumerate returns every aligned boundary in [a,b], descending is not
// implied — callers that need descending order reverse the result. The
// sequence is always finite and non-empty when a <= b.
func Enumerate(a, b time.Time, tf models.Timeframe) ([]time.Time, error) {
	n, err := CountBetween(a, b, tf)
	if err != nil {
		return nil, err
	}
	out := make([]time.Time, 0, n)
	cur := a
	for i := 0; i < n; i++ {
		out = append(out, cur)
		if i == n-1 {
			break
		}
		cur, err = Advance(cur, tf, 1)
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

// NowAligned returns the current wall-clock time aligned down to tf.
func NowAligned(tf models.Timeframe) (time.Time, error) {
	return AlignDown(time.Now().UTC(), tf)
}

func requireOrdered(a, b time.Time, tf models.Timeframe) error {
	okA, err := IsAligned(a, tf)
	if err != nil {
		return err
	}
	okB, err := IsAligned(b, tf)
	if err != nil {
		return err
	}
	if !okA || !okB {
		return fmt.Errorf("%w: bounds must be aligned", ErrInvalidTime)
	}
	if a.After(b) {
		return fmt.Errorf("%w: start %s is after end %s", ErrInvalidTime, a, b)
	}
	return nil
}
