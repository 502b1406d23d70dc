package usecase

import (
	"context"
	"sync"
	"testing"
	"time"

	"MarketPull/internal/domain/models"
	domrepo "MarketPull/internal/domain/repository"
	"MarketPull/internal/domain/service"
	"MarketPull/internal/repository"
	"MarketPull/pkg/cache"
	"MarketPull/pkg/logger"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

const day = int64(86400)

type testStore struct {
	db        *gorm.DB
	symbols   *repository.SymbolRepository
	candles   *repository.CandleRepository
	metrics   *repository.MetricRepository
	alerts    *repository.AlertRepository
	scans     *repository.ScanRepository
	backtests *repository.BacktestRepository
}

func newTestStore(t *testing.T) *testStore {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, repository.Migrate(db))

	return &testStore{
		db:        db,
		symbols:   repository.NewSymbolRepository(db),
		candles:   repository.NewCandleRepository(db),
		metrics:   repository.NewMetricRepository(db),
		alerts:    repository.NewAlertRepository(db),
		scans:     repository.NewScanRepository(db),
		backtests: repository.NewBacktestRepository(db),
	}
}

func newTestCache(t *testing.T) *cache.MemoryCache {
	c := cache.NewMemoryCache(cache.MemoryConfig{})
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func dailyBar(symbol string, ts int64, close float64) models.Candle {
	c := decimal.NewFromFloat(close)
	return models.Candle{
		Symbol:     symbol,
		Resolution: "D",
		Timestamp:  ts,
		Open:       c,
		High:       c,
		Low:        c,
		Close:      c,
		Volume:     100,
	}
}

// seedCloses stores one daily bar per close, starting at startDay.
func seedCloses(t *testing.T, st *testStore, symbol string, startDay int64, closes ...float64) {
	t.Helper()
	sym, err := st.symbols.EnsureSymbol(context.Background(), symbol)
	require.NoError(t, err)
	bars := make([]models.Candle, len(closes))
	for i, c := range closes {
		bars[i] = dailyBar(symbol, (startDay+int64(i))*day, c)
	}
	_, err = st.candles.Upsert(context.Background(), sym.ID, domrepo.ResD, bars)
	require.NoError(t, err)
}

func seriesOf(symbol string, startDay int64, closes ...float64) *models.CandleSeries {
	bars := make([]models.Candle, len(closes))
	for i, c := range closes {
		bars[i] = dailyBar(symbol, (startDay+int64(i))*day, c)
	}
	s := models.SeriesFromCandles(bars)
	return &s
}

// callLog records provider calls across fakes in order.
type callLog struct {
	mu    sync.Mutex
	calls []string
}

func (l *callLog) add(s string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, s)
}

func (l *callLog) list() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.calls...)
}

type fakeCandleProvider struct {
	log       *callLog
	series    *models.CandleSeries
	err       error
	synthetic bool
	respond   func(symbol string) (*models.CandleSeries, error)
}

func (p *fakeCandleProvider) Name() string { return "primary" }

func (p *fakeCandleProvider) Synthetic() bool { return p.synthetic }

func (p *fakeCandleProvider) Candles(_ context.Context, symbol string, res domrepo.Resolution, _, _ time.Time) (*models.CandleSeries, error) {
	if p.log != nil {
		p.log.add("primary:" + symbol + ":" + res.String())
	}
	if p.respond != nil {
		return p.respond(symbol)
	}
	return p.series, p.err
}

type fakeDailySource struct {
	log    *callLog
	series *models.CandleSeries
	err    error
}

func (d *fakeDailySource) Name() string { return "secondary" }

func (d *fakeDailySource) DailyCandles(_ context.Context, symbol string, _, _ time.Time) (*models.CandleSeries, error) {
	if d.log != nil {
		d.log.add("secondary:" + symbol)
	}
	return d.series, d.err
}

func newMarketData(t *testing.T, st *testStore, c cache.Service, primary *fakeCandleProvider, secondary *fakeDailySource) *MarketDataService {
	t.Helper()
	cfg := MarketDataConfig{
		TTL:           CacheTTLConfig{Daily: time.Hour, Intraday: time.Minute, NoData: time.Minute},
		MetricsMaxAge: 24 * time.Hour,
	}
	var sec service.DailySource
	if secondary != nil {
		sec = secondary
	}
	return NewMarketDataService(st.symbols, st.candles, st.metrics, c, primary, sec, cfg, nil, logger.NewNop())
}
