package features

import (
	"testing"

	"MarketPull/internal/domain/models"
	domrepo "MarketPull/internal/domain/repository"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(v float64) decimal.Decimal { return decimal.NewFromFloat(v) }

func TestCrossing(t *testing.T) {
	cases := []struct {
		name      string
		prev, cur float64
		above     bool
		below     bool
	}{
		{"crosses up", 99, 101, true, false},
		{"already above", 101, 102, false, false},
		{"still below", 98, 99, false, false},
		{"touches from below", 99, 100, true, false},
		{"crosses down", 101, 99, false, true},
		{"already below", 99, 98, false, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.above, CrossedAbove(d(tc.prev), d(tc.cur), d(100)))
			assert.Equal(t, tc.below, CrossedBelow(d(tc.prev), d(tc.cur), d(100)))
		})
	}
}

func TestPercentChange(t *testing.T) {
	pct, err := PercentChange(d(100), d(105))
	require.NoError(t, err)
	assert.Equal(t, "5", pct.String())

	pct, err = PercentChange(d(200), d(190))
	require.NoError(t, err)
	assert.Equal(t, "-5", pct.String())

	_, err = PercentChange(decimal.Zero, d(1))
	assert.Error(t, err)
}

func TestLastTwo(t *testing.T) {
	_, _, err := LastTwo([]models.Candle{{Close: d(1)}})
	assert.ErrorIs(t, err, ErrInsufficientData)

	prev, cur, err := LastTwo([]models.Candle{{Close: d(1)}, {Close: d(2)}, {Close: d(3)}})
	require.NoError(t, err)
	assert.Equal(t, "2", prev.String())
	assert.Equal(t, "3", cur.String())
}

func TestForwardReturn(t *testing.T) {
	r, ok := ForwardReturn(d(50), d(55))
	require.True(t, ok)
	assert.InDelta(t, 10.0, r, 1e-9)

	_, ok = ForwardReturn(decimal.Zero, d(55))
	assert.False(t, ok)
}

func TestAlignRange(t *testing.T) {
	from, to, ok := AlignRange(86400+10, 3*86400+500, domrepo.ResD)
	require.True(t, ok)
	assert.Equal(t, int64(2*86400), from)
	assert.Equal(t, int64(3*86400), to)

	from, to, ok = AlignRange(300, 601, domrepo.Res5m)
	require.True(t, ok)
	assert.Equal(t, int64(300), from)
	assert.Equal(t, int64(600), to)

	from, to, ok = AlignRange(7, 9, domrepo.ResM)
	require.True(t, ok)
	assert.Equal(t, int64(7), from)
	assert.Equal(t, int64(9), to)
}

func TestAlignRange_NarrowerThanOneBar(t *testing.T) {
	_, _, ok := AlignRange(86400+10, 86400+500, domrepo.ResD)
	assert.False(t, ok)

	// A window starting on a boundary still holds that bar.
	from, to, ok := AlignRange(300, 350, domrepo.Res5m)
	require.True(t, ok)
	assert.Equal(t, from, to)
}
