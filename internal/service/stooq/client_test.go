package stooq

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"MarketPull/internal/domain/models"
	"MarketPull/internal/domain/service"
	"MarketPull/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleCSV = `Date,Open,High,Low,Close,Volume
2026-01-06,101.2,103.5,100.9,103.1,51234567
2026-01-05,100,101.8,99.4,101.2,48000000
2026-01-07,103.1,104,102.2,102.6,
`

func TestParseCSV(t *testing.T) {
	candles, err := ParseCSV(strings.NewReader(sampleCSV))
	require.NoError(t, err)
	require.Len(t, candles, 3)

	assert.Equal(t, time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC).Unix(), candles[0].Timestamp)
	assert.Equal(t, "101.2", candles[0].Close.String())
	assert.Equal(t, int64(51234567), candles[1].Volume)
	assert.Equal(t, int64(0), candles[2].Volume)
}

func TestParseCSV_ByteOrderMark(t *testing.T) {
	candles, err := ParseCSV(strings.NewReader("\uFEFF" + sampleCSV))
	require.NoError(t, err)
	assert.Len(t, candles, 3)
}

func TestParseCSV_NoData(t *testing.T) {
	candles, err := ParseCSV(strings.NewReader("No data"))
	require.NoError(t, err)
	assert.Empty(t, candles)

	candles, err = ParseCSV(strings.NewReader(""))
	require.NoError(t, err)
	assert.Empty(t, candles)
}

func TestParseCSV_Malformed(t *testing.T) {
	_, err := ParseCSV(strings.NewReader("Date,Open,High,Low,Close\n2026-01-05,abc,1,1,1\n"))
	assert.Error(t, err)

	_, err = ParseCSV(strings.NewReader("<html>oops</html>"))
	assert.Error(t, err)
}

func TestClient_DailyCandles(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "brk-b.us", r.URL.Query().Get("s"))
		assert.Equal(t, "d", r.URL.Query().Get("i"))
		assert.Equal(t, "20260105", r.URL.Query().Get("d1"))
		_, _ = w.Write([]byte(sampleCSV))
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL, Suffix: ".us"}, logger.NewNop())
	from := time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC)
	to := time.Date(2026, 1, 6, 0, 0, 0, 0, time.UTC)

	s, err := c.DailyCandles(context.Background(), "BRK.B", from, to)
	require.NoError(t, err)
	assert.Equal(t, models.StatusOK, s.Status)
	require.Equal(t, 2, s.Len())
	assert.Equal(t, "103.1", s.Close[1].String())
}

func TestClient_RateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL, Suffix: ".us"}, logger.NewNop())
	_, err := c.DailyCandles(context.Background(), "AAPL", time.Now().AddDate(0, 0, -5), time.Now())
	assert.True(t, errors.Is(err, service.ErrRateLimited))
}
