package features

import (
	"errors"

	"MarketPull/internal/domain/models"
	domrepo "MarketPull/internal/domain/repository"

	"github.com/shopspring/decimal"
)

// ErrInsufficientData is returned when fewer than two closes are available.
var ErrInsufficientData = errors.New("not enough candle data")

var hundred = decimal.NewFromInt(100)

// LastTwo returns the previous and current close of an ascending series.
func LastTwo(candles []models.Candle) (prev, cur decimal.Decimal, err error) {
	if len(candles) < 2 {
		return decimal.Zero, decimal.Zero, ErrInsufficientData
	}
	return candles[len(candles)-2].Close, candles[len(candles)-1].Close, nil
}

// PercentChange computes (cur-prev)/prev*100.
func PercentChange(prev, cur decimal.Decimal) (decimal.Decimal, error) {
	if prev.IsZero() {
		return decimal.Zero, errors.New("previous close is zero")
	}
	return cur.Sub(prev).Div(prev).Mul(hundred), nil
}

// CrossedAbove reports a strict upward crossing: prev below the threshold
// and cur at or over it.
func CrossedAbove(prev, cur, threshold decimal.Decimal) bool {
	return prev.LessThan(threshold) && cur.GreaterThanOrEqual(threshold)
}

// CrossedBelow is the mirror of CrossedAbove.
func CrossedBelow(prev, cur, threshold decimal.Decimal) bool {
	return prev.GreaterThan(threshold) && cur.LessThanOrEqual(threshold)
}

// ForwardReturn is the percent return from entry to exit.
func ForwardReturn(entry, exit decimal.Decimal) (float64, bool) {
	pct, err := PercentChange(entry, exit)
	if err != nil {
		return 0, false
	}
	f, _ := pct.Float64()
	return f, true
}

// AlignRange snaps [from, to] onto bar boundaries for fixed-width
// resolutions so equivalent windows share a cache key. Weekly and monthly
// windows are returned unchanged. ok is false when the window holds no bar
// boundary at all.
func AlignRange(from, to int64, res domrepo.Resolution) (int64, int64, bool) {
	if res == domrepo.ResW || res == domrepo.ResM {
		return from, to, from <= to
	}
	step := int64(res.Duration().Seconds())
	if step <= 0 {
		return from, to, from <= to
	}
	if rem := from % step; rem != 0 {
		from += step - rem
	}
	to -= to % step
	return from, to, from <= to
}
