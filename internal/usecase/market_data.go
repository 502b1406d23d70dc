package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"MarketPull/internal/domain/models"
	domrepo "MarketPull/internal/domain/repository"
	"MarketPull/internal/domain/service"
	"MarketPull/internal/services/features"
	"MarketPull/pkg/cache"
	pkghttp "MarketPull/pkg/http"
	"MarketPull/pkg/logger"
)

// ErrInvalidQuery marks a caller mistake in a read request.
var ErrInvalidQuery = errors.New("invalid query")

// Scope selects how far a candle read may reach.
type Scope string

const (
	// ScopeLive may fall back to the network providers.
	ScopeLive Scope = "live"
	// ScopeLocal reads the cache and the store only.
	ScopeLocal Scope = "local"
)

type CacheTTLConfig struct {
	Daily    time.Duration `yaml:"daily" default:"24h"`
	Intraday time.Duration `yaml:"intraday" default:"1m"`
	NoData   time.Duration `yaml:"no_data" default:"5m"`
}

type MarketDataConfig struct {
	TTL           CacheTTLConfig `yaml:"ttl"`
	MetricsMaxAge time.Duration  `yaml:"metrics_max_age" default:"24h"`
}

type CandleQuery struct {
	Symbol     string
	Resolution domrepo.Resolution
	From       time.Time
	To         time.Time
	Scope      Scope
}

// MarketDataService resolves candle reads through the cache, the store and
// then the providers, writing provider results back to the store.
type MarketDataService struct {
	symbols   domrepo.SymbolRepository
	candles   domrepo.CandleRepository
	metrics   domrepo.MetricRepository
	cache     cache.Service
	primary   service.CandleProvider
	secondary service.DailySource
	cfg       MarketDataConfig
	rec       domrepo.Metrics
	log       *logger.Logger
	now       func() time.Time
}

// NewMarketDataService wires the read path. secondary may be nil.
func NewMarketDataService(
	symbols domrepo.SymbolRepository,
	candles domrepo.CandleRepository,
	metrics domrepo.MetricRepository,
	c cache.Service,
	primary service.CandleProvider,
	secondary service.DailySource,
	cfg MarketDataConfig,
	rec domrepo.Metrics,
	lgr *logger.Logger,
) *MarketDataService {
	if c == nil {
		c = cache.NullCache{}
	}
	if rec == nil {
		rec = domrepo.NopMetrics{}
	}
	if cfg.MetricsMaxAge <= 0 {
		cfg.MetricsMaxAge = 24 * time.Hour
	}
	return &MarketDataService{
		symbols:   symbols,
		candles:   candles,
		metrics:   metrics,
		cache:     c,
		primary:   primary,
		secondary: secondary,
		cfg:       cfg,
		rec:       rec,
		log:       lgr.With(logger.String("component", "market_data")),
		now:       time.Now,
	}
}

func candleKey(scope Scope, symbol string, res domrepo.Resolution, from, to int64) string {
	return cache.GenerateKeyWithParams("candles", scope, symbol, res, from, to)
}

func normalizeSymbol(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

// GetCandles returns candles for the window. Data absence and terminal
// provider errors are reported in the result; rate limits, transport
// failures and store errors are returned.
func (s *MarketDataService) GetCandles(ctx context.Context, q CandleQuery) (*models.CandleResult, error) {
	symbol := normalizeSymbol(q.Symbol)
	if symbol == "" {
		return nil, fmt.Errorf("%w: symbol required", ErrInvalidQuery)
	}
	if q.To.Before(q.From) {
		return nil, fmt.Errorf("%w: from must be <= to", ErrInvalidQuery)
	}
	if q.Resolution == "" {
		q.Resolution = domrepo.DefaultResolution()
	}
	if q.Scope == "" {
		q.Scope = ScopeLive
	}

	from, to, ok := features.AlignRange(q.From.Unix(), q.To.Unix(), q.Resolution)
	if !ok {
		return &models.CandleResult{
			Symbol:     symbol,
			Resolution: q.Resolution.String(),
			From:       q.From.Unix(),
			To:         q.To.Unix(),
			Series:     models.NoDataSeries(),
			Source:     models.SourceNone,
		}, nil
	}
	key := candleKey(q.Scope, symbol, q.Resolution, from, to)

	var cached models.CandleResult
	switch err := s.cache.Get(ctx, key, &cached); {
	case err == nil:
		s.rec.RecordCache("hit")
		cached.Source = models.SourceCache
		return &cached, nil
	case errors.Is(err, cache.ErrCacheMiss):
		s.rec.RecordCache("miss")
	default:
		s.rec.RecordCache("error")
		s.log.Warn("cache read failed", logger.String("key", key), logger.Error(err))
	}

	result := &models.CandleResult{
		Symbol:     symbol,
		Resolution: q.Resolution.String(),
		From:       from,
		To:         to,
	}

	stored, err := s.fromStore(ctx, symbol, q.Resolution, from, to)
	if err != nil {
		return nil, err
	}
	if len(stored) > 0 {
		result.Series = models.SeriesFromCandles(stored)
		result.Source = models.SourceStore
		s.remember(ctx, key, q.Resolution, result)
		return result, nil
	}

	if q.Scope == ScopeLocal {
		result.Series = models.NoDataSeries()
		result.Source = models.SourceNone
		s.remember(ctx, key, q.Resolution, result)
		return result, nil
	}

	fetched, err := s.fetch(ctx, symbol, q.Resolution, from, to)
	if err != nil {
		if IsTerminal(err) {
			s.rec.RecordError("provider_terminal")
			result.Series = models.CandleSeries{Status: models.StatusError}
			result.Source = models.SourceNone
			result.Error = err.Error()
			return result, nil
		}
		return nil, err
	}

	result.Series = fetched.series
	result.Source = fetched.source
	result.Synthetic = fetched.synthetic
	s.rec.RecordCandleSource(string(fetched.source))

	if fetched.series.Status != models.StatusOK {
		s.remember(ctx, key, q.Resolution, result)
		return result, nil
	}
	if fetched.synthetic {
		return result, nil
	}
	if _, err := s.StoreCandles(ctx, symbol, q.Resolution, fetched.series.Candles(symbol, q.Resolution.String())); err != nil {
		s.log.Error("candle write-back failed",
			logger.String("symbol", symbol),
			logger.String("resolution", q.Resolution.String()),
			logger.Error(err))
		return result, nil
	}
	s.remember(ctx, key, q.Resolution, result)
	return result, nil
}

func (s *MarketDataService) fromStore(ctx context.Context, symbol string, res domrepo.Resolution, from, to int64) ([]models.Candle, error) {
	sym, err := s.symbols.GetByTicker(ctx, symbol)
	if errors.Is(err, domrepo.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lookup symbol %s: %w", symbol, err)
	}
	candles, err := s.candles.Range(ctx, sym.ID, res, from, to)
	if err != nil {
		return nil, fmt.Errorf("read candles %s: %w", symbol, err)
	}
	return candles, nil
}

type fetchResult struct {
	series    models.CandleSeries
	source    models.CandleSource
	synthetic bool
}

// fetch walks the provider chain: the secondary source for daily bars, then
// the primary provider.
func (s *MarketDataService) fetch(ctx context.Context, symbol string, res domrepo.Resolution, from, to int64) (*fetchResult, error) {
	fromT, toT := time.Unix(from, 0).UTC(), time.Unix(to, 0).UTC()

	if res == domrepo.ResD && s.secondary != nil {
		series, err := s.secondary.DailyCandles(ctx, symbol, fromT, toT)
		switch {
		case err != nil:
			s.log.Warn("secondary source failed, trying primary",
				logger.String("provider", s.secondary.Name()),
				logger.String("symbol", symbol),
				logger.Error(err))
		case series != nil && series.Status == models.StatusOK && series.Len() > 0:
			return &fetchResult{series: *series, source: models.SourceSecondary}, nil
		}
	}

	if s.primary == nil {
		return &fetchResult{series: models.NoDataSeries(), source: models.SourceNone}, nil
	}
	series, err := s.primary.Candles(ctx, symbol, res, fromT, toT)
	if err != nil {
		if errors.Is(err, service.ErrRateLimited) {
			s.rec.RecordRateLimited(s.primary.Name())
		}
		return nil, fmt.Errorf("%s candles %s: %w", s.primary.Name(), symbol, err)
	}
	if series == nil || series.Len() == 0 || series.Status == models.StatusNoData {
		return &fetchResult{series: models.NoDataSeries(), source: models.SourceNone}, nil
	}
	synthetic := false
	if sr, ok := s.primary.(service.SyntheticReporter); ok {
		synthetic = sr.Synthetic()
	}
	return &fetchResult{series: *series, source: models.SourcePrimary, synthetic: synthetic}, nil
}

func (s *MarketDataService) remember(ctx context.Context, key string, res domrepo.Resolution, result *models.CandleResult) {
	ttl := s.cfg.TTL.Daily
	if res.Class() == domrepo.ClassIntraday {
		ttl = s.cfg.TTL.Intraday
	}
	if result.Series.Status == models.StatusNoData {
		ttl = s.cfg.TTL.NoData
	}
	if ttl <= 0 {
		return
	}
	if err := s.cache.Set(ctx, key, result, ttl); err != nil {
		s.log.Warn("cache write failed", logger.String("key", key), logger.Error(err))
	}
}

// StoreCandles upserts candles for symbol, creating the symbol on first
// reference, and drops cached reads of that symbol and resolution.
func (s *MarketDataService) StoreCandles(ctx context.Context, symbol string, res domrepo.Resolution, candles []models.Candle) (models.UpsertResult, error) {
	if len(candles) == 0 {
		return models.UpsertResult{}, nil
	}
	symbol = normalizeSymbol(symbol)
	sym, err := s.symbols.EnsureSymbol(ctx, symbol)
	if err != nil {
		return models.UpsertResult{}, fmt.Errorf("ensure symbol %s: %w", symbol, err)
	}
	ur, err := s.candles.Upsert(ctx, sym.ID, res, candles)
	if err != nil {
		return models.UpsertResult{}, fmt.Errorf("upsert candles %s: %w", symbol, err)
	}
	pattern := cache.GenerateKeyWithParams("candles", "*", symbol, res, "*")
	if err := s.cache.DeleteByPattern(ctx, pattern); err != nil {
		s.log.Warn("cache invalidation failed", logger.String("pattern", pattern), logger.Error(err))
	}
	return ur, nil
}

// Ingest fetches the window from the provider chain, skipping cache and
// store, and writes it back. Synthetic data is never persisted.
func (s *MarketDataService) Ingest(ctx context.Context, symbol string, res domrepo.Resolution, from, to time.Time) (*models.IngestResult, error) {
	symbol = normalizeSymbol(symbol)
	out := &models.IngestResult{Symbol: symbol, Resolution: res.String()}

	fetched, err := s.fetch(ctx, symbol, res, from.Unix(), to.Unix())
	if err != nil {
		return nil, err
	}
	out.Source = fetched.source
	out.Synthetic = fetched.synthetic
	out.Fetched = fetched.series.Len()
	s.rec.RecordCandleSource(string(fetched.source))
	if fetched.series.Status != models.StatusOK || fetched.synthetic {
		return out, nil
	}

	ur, err := s.StoreCandles(ctx, symbol, res, fetched.series.Candles(symbol, res.String()))
	if err != nil {
		return nil, err
	}
	out.Inserted = ur.Inserted
	out.Updated = ur.Updated
	return out, nil
}

// GetMetrics returns the newest stored snapshot younger than the configured
// maximum age. It never calls a provider.
func (s *MarketDataService) GetMetrics(ctx context.Context, symbol string) (*models.FinancialMetric, error) {
	sym, err := s.symbols.GetByTicker(ctx, normalizeSymbol(symbol))
	if err != nil {
		return nil, err
	}
	return s.metrics.LatestSince(ctx, sym.ID, s.now().Add(-s.cfg.MetricsMaxAge))
}

// IsTerminal reports provider errors that retrying cannot fix: a missing
// credential, an unsupported request, or a 4xx other than 429.
func IsTerminal(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, service.ErrNoCredential) || errors.Is(err, service.ErrUnsupported) {
		return true
	}
	if se, ok := pkghttp.AsStatusError(err); ok {
		return se.StatusCode >= 400 && !se.Retryable()
	}
	return false
}
