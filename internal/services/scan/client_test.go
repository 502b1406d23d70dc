package scan

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"MarketPull/internal/domain/models"
	"MarketPull/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_RunScan(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/tools/run_scan", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))

		var call toolCall
		require.NoError(t, json.NewDecoder(r.Body).Decode(&call))
		assert.Equal(t, "run_scan", call.Tool)
		assert.Equal(t, []string{"AAPL", "MSFT"}, call.Arguments.Symbols)
		assert.Equal(t, "AND", call.Arguments.Logic)
		require.NotNil(t, call.Arguments.AsOf)

		_, _ = w.Write([]byte(`{"result":{"matches":[{"symbol":"AAPL","close":190.5}]}}`))
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL, APIKey: "secret", Retries: 1}, logger.NewNop())
	asOf := time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC)
	res, err := c.RunScan(context.Background(), models.ScanRequest{
		Symbols: []string{"AAPL", "MSFT"},
		Filters: json.RawMessage(`{"rsi":{"lt":30}}`),
		AsOf:    &asOf,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"AAPL"}, res.Symbols())
	assert.Equal(t, 1, res.Total)
}

func TestClient_RetriesServerErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"result":{"matches":[]}}`))
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL, Retries: 3}, logger.NewNop())
	c.SetBackoff(time.Millisecond)
	res, err := c.RunScan(context.Background(), models.ScanRequest{Filters: json.RawMessage(`{}`)})
	require.NoError(t, err)
	assert.Empty(t, res.Matches)
	assert.EqualValues(t, 3, atomic.LoadInt32(&calls))
}

func TestClient_DoesNotRetryBadRequest(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL, Retries: 3}, logger.NewNop())
	c.SetBackoff(time.Millisecond)
	_, err := c.RunScan(context.Background(), models.ScanRequest{})
	assert.Error(t, err)
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
}

func TestClient_ToolError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"error":"unknown filter rsi2"}`))
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL, Retries: 1}, logger.NewNop())
	_, err := c.RunScan(context.Background(), models.ScanRequest{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown filter rsi2")
}
