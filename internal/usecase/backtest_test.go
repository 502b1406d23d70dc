package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"MarketPull/internal/domain/models"
	"MarketPull/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBacktestRunner(t *testing.T, st *testStore, scanner *fakeScanRunner, jobs JobEnqueuer) *BacktestRunner {
	t.Helper()
	return NewBacktestRunner(BacktestDeps{
		Backtests: st.backtests,
		Scans:     st.scans,
		Symbols:   st.symbols,
		Candles:   st.candles,
		Scanner:   scanner,
		Jobs:      jobs,
	}, logger.NewNop())
}

func TestTradingDaysSkipsWeekends(t *testing.T) {
	from := time.Date(2026, 3, 6, 0, 0, 0, 0, time.UTC) // Friday
	to := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	days := tradingDays(from, to)
	require.Len(t, days, 3)
	assert.Equal(t, time.Friday, days[0].Weekday())
	assert.Equal(t, time.Monday, days[1].Weekday())
}

func TestBacktest_SubmitEnqueuesJob(t *testing.T) {
	st := newTestStore(t)
	jobs := &fakeEnqueuer{}
	scan := &models.SavedScan{UserID: 1, Filters: json.RawMessage(`{"rsi":{"gt":70}}`), Logic: "OR", Universe: []string{"AAPL"}}
	require.NoError(t, st.db.Create(scan).Error)
	runner := newBacktestRunner(t, st, &fakeScanRunner{}, jobs)

	bt, err := runner.Submit(context.Background(), models.BacktestRequest{
		ScanID: &scan.ID, From: "2026-03-02", To: "2026-03-06", HoldDays: 3,
	})
	require.NoError(t, err)
	assert.Equal(t, models.BacktestPending, bt.Status)
	assert.Equal(t, "OR", bt.Logic)
	assert.Equal(t, []string{"AAPL"}, bt.Symbols)
	assert.Equal(t, "job-1", bt.JobID)
	require.Len(t, jobs.jobs, 1)
	assert.Equal(t, models.BacktestPayload{BacktestID: bt.ID}, jobs.jobs[0].payload)

	_, err = runner.Submit(context.Background(), models.BacktestRequest{From: "2026-03-06", To: "2026-03-02"})
	assert.ErrorIs(t, err, ErrInvalidQuery)
}

func TestBacktest_RunScoresForwardReturns(t *testing.T) {
	st := newTestStore(t)
	monday := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	seedCloses(t, st, "AAPL", monday.Unix()/day, 100, 101, 102, 103, 104, 105)

	scanner := &fakeScanRunner{result: &models.ScanResult{Matches: []models.ScanMatch{{Symbol: "AAPL"}, {Symbol: "GONE"}}}}
	runner := newBacktestRunner(t, st, scanner, nil)
	bt := &models.Backtest{Filters: json.RawMessage(`{}`), Logic: "AND", Symbols: []string{"AAPL", "GONE"},
		From: monday, To: monday.AddDate(0, 0, 1), HoldDays: 2}
	require.NoError(t, st.backtests.Create(context.Background(), bt))

	done, err := runner.Run(context.Background(), bt.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BacktestCompleted, done.Status)
	assert.Equal(t, 2, done.DaysReplayed)
	assert.Equal(t, 2, done.MatchedDays)
	assert.Equal(t, 4, done.TotalSignals)
	require.NotNil(t, done.WinRate)
	assert.Equal(t, 1.0, *done.WinRate)
	require.NotNil(t, done.AvgReturn)
	assert.InDelta(t, (2.0+200.0/101.0)/2, *done.AvgReturn, 1e-6)

	require.Len(t, scanner.reqs, 2)
	require.NotNil(t, scanner.reqs[0].AsOf)
	assert.Equal(t, monday.Add(24*time.Hour-time.Second), *scanner.reqs[0].AsOf)

	stored, err := st.backtests.Get(context.Background(), bt.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BacktestCompleted, stored.Status)
	assert.Len(t, stored.Signals, 4)
	assert.NotNil(t, stored.CompletedAt)
}

func TestBacktest_ScanFailureMarksFailed(t *testing.T) {
	st := newTestStore(t)
	monday := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	runner := newBacktestRunner(t, st, &fakeScanRunner{err: errors.New("boom")}, nil)
	bt := &models.Backtest{Logic: "AND", From: monday, To: monday, HoldDays: 1}
	require.NoError(t, st.backtests.Create(context.Background(), bt))

	_, err := runner.Run(context.Background(), bt.ID)
	require.Error(t, err)

	stored, err := st.backtests.Get(context.Background(), bt.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BacktestFailed, stored.Status)
	assert.Contains(t, stored.Error, "boom")
}
