package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"MarketPull/internal/domain/models"
	domrepo "MarketPull/internal/domain/repository"
	"MarketPull/internal/domain/service"
	"MarketPull/internal/service/ratelimit"
	"MarketPull/pkg/cache"
	"MarketPull/pkg/logger"
	"MarketPull/pkg/queue"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type enqueued struct {
	queue, msgType string
	payload        interface{}
	delay          time.Duration
}

type fakeEnqueuer struct {
	mu   sync.Mutex
	jobs []enqueued
}

func (f *fakeEnqueuer) Enqueue(_ context.Context, q, msgType string, payload interface{}, opts ...queue.EnqueueOption) (*queue.Message, error) {
	t0 := time.Unix(0, 0)
	msg := &queue.Message{ID: fmt.Sprintf("job-%d", len(f.jobs)+1), EnqueuedAt: t0, RunAt: t0}
	for _, opt := range opts {
		opt(msg)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs = append(f.jobs, enqueued{queue: q, msgType: msgType, payload: payload, delay: msg.RunAt.Sub(t0)})
	return msg, nil
}

type fakeListings struct {
	mu       sync.Mutex
	listings []models.SymbolInfo
	// failOnce makes the first Profile call for a ticker return err.
	failOnce map[string]error
	profiles []string
}

func (f *fakeListings) Symbols(context.Context, string) ([]models.SymbolInfo, error) {
	return f.listings, nil
}

func (f *fakeListings) Profile(_ context.Context, ticker string) (*models.CompanyProfile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.profiles = append(f.profiles, ticker)
	if err, ok := f.failOnce[ticker]; ok {
		delete(f.failOnce, ticker)
		return nil, err
	}
	return &models.CompanyProfile{Ticker: ticker, Sector: "Technology", Industry: "Software", MarketCap: 1e9}, nil
}

type fakeSnapshots struct {
	fail map[string]bool
}

func (f *fakeSnapshots) Metrics(_ context.Context, ticker string) (*models.MetricSnapshot, error) {
	if f.fail[ticker] {
		return nil, errors.New("upstream 500")
	}
	return &models.MetricSnapshot{Ticker: ticker, Source: "test", Ratios: map[string]float64{"pe": 21.5, "eps": 3.2}}, nil
}

type fakeQuotes struct {
	calls     [][]string
	throttled int
}

func (f *fakeQuotes) BatchSize() int { return 2 }

func (f *fakeQuotes) BatchMetrics(_ context.Context, tickers []string) (map[string]*models.MetricSnapshot, error) {
	f.calls = append(f.calls, tickers)
	if f.throttled > 0 {
		f.throttled--
		return nil, &service.RateLimitError{Provider: "quotes"}
	}
	out := make(map[string]*models.MetricSnapshot)
	for _, t := range tickers {
		if t == "S1" {
			continue
		}
		out[t] = &models.MetricSnapshot{Ticker: t, Source: "batch", Ratios: map[string]float64{"price": 10}}
	}
	return out, nil
}

type sleepRecorder struct {
	mu     sync.Mutex
	sleeps []time.Duration
}

func (s *sleepRecorder) sleep(_ context.Context, d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sleeps = append(s.sleeps, d)
	return nil
}

type ingestionFixture struct {
	st        *testStore
	svc       *IngestionService
	primary   *fakeCandleProvider
	listings  *fakeListings
	snapshots *fakeSnapshots
	jobs      *fakeEnqueuer
	lock      *cache.MemoryCache
	pacer     *ratelimit.Pacer
	sleeps    *sleepRecorder
}

func newIngestionFixture(t *testing.T, secondary *fakeDailySource) *ingestionFixture {
	st := newTestStore(t)
	f := &ingestionFixture{
		st:        st,
		primary:   &fakeCandleProvider{series: seriesOf("X", 10, 1, 2, 3)},
		listings:  &fakeListings{failOnce: map[string]error{}},
		snapshots: &fakeSnapshots{fail: map[string]bool{}},
		jobs:      &fakeEnqueuer{},
		lock:      newTestCache(t),
		sleeps:    &sleepRecorder{},
	}
	f.pacer = ratelimit.NewPacer("primary", ratelimit.PacerConfig{Cooldown: time.Minute, MaxRetries: 3},
		logger.NewNop(), ratelimit.WithSleep(f.sleeps.sleep))
	market := newMarketData(t, st, f.lock, f.primary, secondary)
	f.svc = NewIngestionService(IngestionDeps{
		Market:    market,
		Symbols:   st.symbols,
		Metrics:   st.metrics,
		Listings:  f.listings,
		Snapshots: f.snapshots,
		Lock:      f.lock,
		Jobs:      f.jobs,
		Pacer:     f.pacer,
	}, IngestConfig{Stagger: 2 * time.Second, ProgressEvery: 3}, logger.NewNop())
	return f
}

func (f *ingestionFixture) listSymbols(t *testing.T, n int) {
	t.Helper()
	listings := make([]models.SymbolInfo, n)
	for i := range listings {
		listings[i] = models.SymbolInfo{Ticker: fmt.Sprintf("S%d", i), Name: fmt.Sprintf("Symbol %d", i), Exchange: models.ExchangeNYSE}
	}
	_, _, err := f.st.symbols.UpsertListings(context.Background(), listings)
	require.NoError(t, err)
}

func TestDispatchEOD_StaggersJobs(t *testing.T) {
	f := newIngestionFixture(t, nil)
	f.listSymbols(t, 3)

	res, err := f.svc.DispatchEOD(context.Background(), models.EODDispatchPayload{All: true})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Enqueued)
	require.Len(t, f.jobs.jobs, 3)
	for i, j := range f.jobs.jobs {
		assert.Equal(t, models.QueueEOD, j.queue)
		assert.Equal(t, models.JobEODSymbol, j.msgType)
		assert.Equal(t, time.Duration(i)*2*time.Second, j.delay)
		assert.Equal(t, models.EODSymbolPayload{Symbol: fmt.Sprintf("S%d", i), WindowDays: 10}, j.payload)
	}
}

func TestDispatchEOD_ExplicitSymbols(t *testing.T) {
	f := newIngestionFixture(t, nil)

	res, err := f.svc.DispatchEOD(context.Background(), models.EODDispatchPayload{Symbols: []string{"aapl", "msft"}, WindowDays: 3})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Enqueued)
	assert.Equal(t, models.EODSymbolPayload{Symbol: "AAPL", WindowDays: 3}, f.jobs.jobs[0].payload)
}

func TestIngestEOD_WritesCandles(t *testing.T) {
	f := newIngestionFixture(t, nil)

	res, err := f.svc.IngestEOD(context.Background(), models.EODSymbolPayload{Symbol: "AAPL"})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Inserted)
	assert.Equal(t, models.SourcePrimary, res.Source)

	res, err = f.svc.IngestEOD(context.Background(), models.EODSymbolPayload{Symbol: "AAPL"})
	require.NoError(t, err)
	assert.Equal(t, 0, res.Inserted)
	assert.Equal(t, 3, res.Updated)
}

func TestIngestEOD_RateLimitPausesAndRetries(t *testing.T) {
	f := newIngestionFixture(t, nil)
	calls := 0
	f.primary.respond = func(string) (*models.CandleSeries, error) {
		calls++
		if calls == 1 {
			return nil, &service.RateLimitError{Provider: "primary"}
		}
		return seriesOf("AAPL", 10, 1, 2), nil
	}

	res, err := f.svc.IngestEOD(context.Background(), models.EODSymbolPayload{Symbol: "AAPL"})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Inserted)
	assert.Equal(t, 2, calls)
	assert.Equal(t, 1, f.pacer.Pauses())
}

func TestRefreshMetrics_OneFailureDoesNotSinkTheBatch(t *testing.T) {
	f := newIngestionFixture(t, nil)
	f.listSymbols(t, 10)
	f.snapshots.fail["S3"] = true

	counts, err := f.svc.RefreshMetrics(context.Background(), models.MetricsRefreshPayload{Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, 10, counts.Processed)
	assert.Equal(t, 9, counts.Inserted)
	assert.Equal(t, 1, counts.Failed)

	var n int64
	require.NoError(t, f.st.db.Model(&models.FinancialMetric{}).Count(&n).Error)
	assert.Equal(t, int64(9), n)
}

func TestRefreshMetrics_Slices(t *testing.T) {
	f := newIngestionFixture(t, nil)
	f.listSymbols(t, 10)

	counts, err := f.svc.RefreshMetrics(context.Background(), models.MetricsRefreshPayload{Offset: 8, Limit: 5})
	require.NoError(t, err)
	assert.Equal(t, 2, counts.Processed)
}

func TestRefreshMetrics_BatchProvider(t *testing.T) {
	f := newIngestionFixture(t, nil)
	quotes := &fakeQuotes{}
	f.svc.quotes = quotes
	f.listSymbols(t, 5)

	counts, err := f.svc.RefreshMetrics(context.Background(), models.MetricsRefreshPayload{Limit: 5, Batch: true})
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"S0", "S1"}, {"S2", "S3"}, {"S4"}}, quotes.calls)
	assert.Equal(t, 5, counts.Processed)
	assert.Equal(t, 4, counts.Inserted)
	assert.Equal(t, 1, counts.Skipped)
}

func TestRefreshMetrics_BatchProviderHasItsOwnPacer(t *testing.T) {
	f := newIngestionFixture(t, nil)
	quotePacer := ratelimit.NewPacer("quotes", ratelimit.PacerConfig{Cooldown: time.Minute, MaxRetries: 3},
		logger.NewNop(), ratelimit.WithSleep(f.sleeps.sleep))
	f.svc.quotes = &fakeQuotes{throttled: 1}
	f.svc.quoteRate = quotePacer
	f.listSymbols(t, 2)

	counts, err := f.svc.RefreshMetrics(context.Background(), models.MetricsRefreshPayload{Limit: 2, Batch: true})
	require.NoError(t, err)
	assert.Equal(t, 1, counts.Inserted)
	assert.Equal(t, 1, quotePacer.Pauses())
	assert.Equal(t, 0, f.pacer.Pauses())
}

func TestSyncSymbols_PausesOnRateLimitThenContinues(t *testing.T) {
	f := newIngestionFixture(t, nil)
	f.listings.listings = []models.SymbolInfo{
		{Ticker: "AAA", Exchange: models.ExchangeNASDAQ},
		{Ticker: "BBB", Exchange: models.ExchangeNASDAQ},
		{Ticker: "CCC", Exchange: models.ExchangeNYSE},
	}
	f.listings.failOnce["BBB"] = &service.RateLimitError{Provider: "primary"}

	res, err := f.svc.SyncSymbols(context.Background(), models.SymbolSyncPayload{Exchange: "us"})
	require.NoError(t, err)
	assert.Equal(t, "US", res.Exchange)
	assert.Equal(t, 3, res.Fetched)
	assert.Equal(t, 3, res.Created)
	assert.Equal(t, 3, res.Enriched)
	assert.Equal(t, 0, res.EnrichFailed)
	assert.Equal(t, 1, res.RateLimitPauses)
	assert.Equal(t, []string{"AAA", "BBB", "BBB", "CCC"}, f.listings.profiles)

	require.NotEmpty(t, f.sleeps.sleeps)
	assert.InDelta(t, time.Minute.Seconds(), f.sleeps.sleeps[0].Seconds(), 1)

	sym, err := f.st.symbols.GetByTicker(context.Background(), "BBB")
	require.NoError(t, err)
	require.NotNil(t, sym.Sector)
	assert.Equal(t, "Technology", *sym.Sector)
}

func TestSyncSymbols_SecondRunUpdates(t *testing.T) {
	f := newIngestionFixture(t, nil)
	f.listings.listings = []models.SymbolInfo{{Ticker: "AAA"}, {Ticker: "BBB"}}

	_, err := f.svc.SyncSymbols(context.Background(), models.SymbolSyncPayload{SkipEnrich: true})
	require.NoError(t, err)
	res, err := f.svc.SyncSymbols(context.Background(), models.SymbolSyncPayload{SkipEnrich: true})
	require.NoError(t, err)
	assert.Equal(t, 0, res.Created)
	assert.Equal(t, 2, res.Updated)
	assert.Empty(t, f.listings.profiles)
}

func TestSyncSymbols_LockPreventsOverlap(t *testing.T) {
	f := newIngestionFixture(t, nil)
	ctx := context.Background()
	token, ok, err := f.lock.TryLock(ctx, syncLockKey("US"), time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, err = f.svc.SyncSymbols(ctx, models.SymbolSyncPayload{Exchange: "US"})
	assert.ErrorIs(t, err, ErrSyncInProgress)

	require.NoError(t, f.lock.Unlock(ctx, syncLockKey("US"), token))
	_, err = f.svc.SyncSymbols(ctx, models.SymbolSyncPayload{Exchange: "US"})
	assert.NoError(t, err)
}

func TestBulkSeed_CountsBothPhases(t *testing.T) {
	f := newIngestionFixture(t, nil)
	f.listSymbols(t, 4)
	f.snapshots.fail["S2"] = true
	f.primary.respond = func(symbol string) (*models.CandleSeries, error) {
		if symbol == "S1" {
			return nil, errors.New("connection reset")
		}
		return seriesOf(symbol, 10, 1, 2), nil
	}

	res, err := f.svc.BulkSeed(context.Background(), models.BulkSeedPayload{
		Years: 1, Limit: 4, Candles: true, Metrics: true, Concurrency: 2, BatchSize: 3,
	})
	require.NoError(t, err)
	assert.Equal(t, 4, res.Symbols)
	assert.Equal(t, models.BatchCounts{Processed: 4, Inserted: 6, Failed: 1}, res.Candles)
	assert.Equal(t, 4, res.Metrics.Processed)
	assert.Equal(t, 3, res.Metrics.Inserted)
	assert.Equal(t, 1, res.Metrics.Failed)
}

func TestBulkSeed_Concurrency(t *testing.T) {
	withSecondary := newIngestionFixture(t, &fakeDailySource{})
	assert.Equal(t, 3, withSecondary.svc.seedConcurrency(10))
	assert.Equal(t, 2, withSecondary.svc.seedConcurrency(2))

	primaryOnly := newIngestionFixture(t, nil)
	assert.Equal(t, 10, primaryOnly.svc.seedConcurrency(10))
	assert.Equal(t, 25, primaryOnly.svc.seedConcurrency(100))
	assert.Equal(t, 1, primaryOnly.svc.seedConcurrency(0))
}

func TestBackfill_Validates(t *testing.T) {
	f := newIngestionFixture(t, nil)
	ctx := context.Background()

	_, err := f.svc.Backfill(ctx, models.BackfillPayload{Symbol: "AAPL", Resolution: "7", From: 0, To: 10})
	assert.ErrorIs(t, err, ErrInvalidQuery)
	_, err = f.svc.Backfill(ctx, models.BackfillPayload{Symbol: "AAPL", Resolution: "D", From: 10, To: 0})
	assert.ErrorIs(t, err, ErrInvalidQuery)

	res, err := f.svc.Backfill(ctx, models.BackfillPayload{Symbol: "AAPL", Resolution: "D", From: 10 * day, To: 12 * day})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Inserted)
	assert.Equal(t, domrepo.ResD.String(), res.Resolution)
}
