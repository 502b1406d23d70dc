package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"MarketPull/internal/domain/models"
	domrepo "MarketPull/internal/domain/repository"
	"MarketPull/internal/domain/service"
	"MarketPull/internal/service/ratelimit"
	"MarketPull/pkg/cache"
	"MarketPull/pkg/logger"
	"MarketPull/pkg/queue"
)

// ErrSyncInProgress is returned when another run holds the sync lock.
var ErrSyncInProgress = errors.New("symbol sync already running")

type IngestConfig struct {
	WindowDays     int           `yaml:"window_days" default:"10"`
	Stagger        time.Duration `yaml:"stagger" default:"2s"`
	MetricsSlice   int           `yaml:"metrics_slice" default:"100"`
	ProgressEvery  int           `yaml:"progress_every" default:"10"`
	MaxConcurrency int           `yaml:"max_concurrency" default:"25"`
	// SecondaryConcurrency caps parallel daily fetches while the free CSV
	// source is in the chain.
	SecondaryConcurrency int           `yaml:"secondary_concurrency" default:"3"`
	SyncLockTTL          time.Duration `yaml:"sync_lock_ttl" default:"30m"`
	IntradaySymbols      []string      `yaml:"intraday_symbols"`
	IntradayResolution   string        `yaml:"intraday_resolution" default:"5"`
	IntradayWindow       time.Duration `yaml:"intraday_window" default:"2h"`
}

// JobEnqueuer is the subset of queue.Manager the dispatchers need.
type JobEnqueuer interface {
	Enqueue(ctx context.Context, queue, msgType string, payload interface{}, opts ...queue.EnqueueOption) (*queue.Message, error)
}

// IngestionService runs the background acquisition families: end-of-day,
// intraday, backfill, symbol sync, metrics refresh and bulk seed.
type IngestionService struct {
	market    *MarketDataService
	symbols   domrepo.SymbolRepository
	metrics   domrepo.MetricRepository
	listings  service.SymbolProvider
	snapshots service.MetricsProvider
	quotes    service.QuoteBatchProvider
	lock      cache.Service
	jobs      JobEnqueuer
	pacer     *ratelimit.Pacer
	quoteRate *ratelimit.Pacer
	cfg       IngestConfig
	secondary bool
	log       *logger.Logger
	now       func() time.Time
}

type IngestionDeps struct {
	Market    *MarketDataService
	Symbols   domrepo.SymbolRepository
	Metrics   domrepo.MetricRepository
	Listings  service.SymbolProvider
	Snapshots service.MetricsProvider
	// Quotes is optional; without it batch refreshes fall back to
	// per-symbol snapshots.
	Quotes service.QuoteBatchProvider
	Lock   cache.Service
	Jobs   JobEnqueuer
	// Pacer paces the primary provider. QuotePacer paces Quotes on its own
	// budget, so a 429 from one provider never stalls the other.
	Pacer      *ratelimit.Pacer
	QuotePacer *ratelimit.Pacer
}

func NewIngestionService(deps IngestionDeps, cfg IngestConfig, lgr *logger.Logger) *IngestionService {
	if cfg.WindowDays <= 0 {
		cfg.WindowDays = 10
	}
	if cfg.MetricsSlice <= 0 {
		cfg.MetricsSlice = 100
	}
	if cfg.ProgressEvery <= 0 {
		cfg.ProgressEvery = 10
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 25
	}
	if cfg.SecondaryConcurrency <= 0 {
		cfg.SecondaryConcurrency = 3
	}
	if cfg.SyncLockTTL <= 0 {
		cfg.SyncLockTTL = 30 * time.Minute
	}
	if cfg.IntradayWindow <= 0 {
		cfg.IntradayWindow = 2 * time.Hour
	}
	lock := deps.Lock
	if lock == nil {
		lock = cache.NullCache{}
	}
	return &IngestionService{
		market:    deps.Market,
		symbols:   deps.Symbols,
		metrics:   deps.Metrics,
		listings:  deps.Listings,
		snapshots: deps.Snapshots,
		quotes:    deps.Quotes,
		lock:      lock,
		jobs:      deps.Jobs,
		pacer:     deps.Pacer,
		quoteRate: deps.QuotePacer,
		cfg:       cfg,
		secondary: deps.Market != nil && deps.Market.secondary != nil,
		log:       lgr.With(logger.String("component", "ingestion")),
		now:       time.Now,
	}
}

// paced runs fn through the primary provider pacer when one is configured.
func (s *IngestionService) paced(ctx context.Context, fn func(ctx context.Context) error) error {
	return pacedBy(ctx, s.pacer, fn)
}

// quotePaced runs a batch quote call through the quote provider's pacer.
func (s *IngestionService) quotePaced(ctx context.Context, fn func(ctx context.Context) error) error {
	return pacedBy(ctx, s.quoteRate, fn)
}

func pacedBy(ctx context.Context, p *ratelimit.Pacer, fn func(ctx context.Context) error) error {
	if p == nil {
		return fn(ctx)
	}
	return p.Do(ctx, fn)
}

func (s *IngestionService) pauses() int {
	if s.pacer == nil {
		return 0
	}
	return s.pacer.Pauses()
}

// ingest fetches and stores one window, pacing and retrying on 429.
func (s *IngestionService) ingest(ctx context.Context, symbol string, res domrepo.Resolution, from, to time.Time) (*models.IngestResult, error) {
	var out *models.IngestResult
	err := s.paced(ctx, func(ctx context.Context) error {
		r, err := s.market.Ingest(ctx, symbol, res, from, to)
		if err != nil {
			return err
		}
		out = r
		return nil
	})
	return out, err
}

// DispatchEOD enqueues one end-of-day job per symbol, each delayed by its
// position times the stagger.
func (s *IngestionService) DispatchEOD(ctx context.Context, p models.EODDispatchPayload) (*models.EODDispatchResult, error) {
	if s.jobs == nil {
		return nil, errors.New("no job enqueuer configured")
	}
	symbols := p.Symbols
	if p.All || len(symbols) == 0 {
		all, err := s.allActive(ctx)
		if err != nil {
			return nil, err
		}
		symbols = all
	}
	window := p.WindowDays
	if window <= 0 {
		window = s.cfg.WindowDays
	}

	out := &models.EODDispatchResult{JobIDs: make([]string, 0, len(symbols))}
	for i, sym := range symbols {
		msg, err := s.jobs.Enqueue(ctx, models.QueueEOD, models.JobEODSymbol,
			models.EODSymbolPayload{Symbol: normalizeSymbol(sym), WindowDays: window},
			queue.WithDelay(time.Duration(i)*s.cfg.Stagger))
		if err != nil {
			return out, fmt.Errorf("enqueue eod %s: %w", sym, err)
		}
		out.Enqueued++
		out.JobIDs = append(out.JobIDs, msg.ID)
	}
	s.log.Info("eod jobs dispatched",
		logger.Int("count", out.Enqueued),
		logger.Duration("stagger_ms", s.cfg.Stagger))
	return out, nil
}

func (s *IngestionService) allActive(ctx context.Context) ([]string, error) {
	const page = 1000
	var out []string
	for offset := 0; ; offset += page {
		rows, err := s.symbols.ListActive(ctx, offset, page)
		if err != nil {
			return nil, fmt.Errorf("list active symbols: %w", err)
		}
		for _, r := range rows {
			out = append(out, r.Ticker)
		}
		if len(rows) < page {
			return out, nil
		}
	}
}

// IngestEOD refreshes the rolling daily window for one symbol.
func (s *IngestionService) IngestEOD(ctx context.Context, p models.EODSymbolPayload) (*models.IngestResult, error) {
	if normalizeSymbol(p.Symbol) == "" {
		return nil, fmt.Errorf("%w: symbol required", ErrInvalidQuery)
	}
	window := p.WindowDays
	if window <= 0 {
		window = s.cfg.WindowDays
	}
	to := s.now().UTC()
	from := to.AddDate(0, 0, -window)
	return s.ingest(ctx, p.Symbol, domrepo.ResD, from, to)
}

// RefreshIntraday refreshes a short trailing window for a small symbol set.
// A failing symbol is counted and skipped.
func (s *IngestionService) RefreshIntraday(ctx context.Context, p models.IntradayPayload) (*models.BatchCounts, error) {
	symbols := p.Symbols
	if len(symbols) == 0 {
		symbols = s.cfg.IntradaySymbols
	}
	res := domrepo.NormalizeResolution(p.Resolution)
	if p.Resolution == "" {
		res = domrepo.NormalizeResolution(s.cfg.IntradayResolution)
	}
	window := time.Duration(p.WindowMinutes) * time.Minute
	if window <= 0 {
		window = s.cfg.IntradayWindow
	}
	to := s.now().UTC()
	from := to.Add(-window)

	counts := &models.BatchCounts{}
	for _, sym := range symbols {
		if err := ctx.Err(); err != nil {
			return counts, err
		}
		counts.Processed++
		r, err := s.ingest(ctx, sym, res, from, to)
		if err != nil {
			counts.Failed++
			s.log.Warn("intraday refresh failed", logger.String("symbol", sym), logger.Error(err))
			continue
		}
		counts.Inserted += r.Inserted
		counts.Updated += r.Updated
	}
	return counts, nil
}

// Backfill loads one symbol and resolution over an explicit range.
func (s *IngestionService) Backfill(ctx context.Context, p models.BackfillPayload) (*models.IngestResult, error) {
	if normalizeSymbol(p.Symbol) == "" {
		return nil, fmt.Errorf("%w: symbol required", ErrInvalidQuery)
	}
	res, err := domrepo.ParseResolution(p.Resolution)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidQuery, err)
	}
	if p.To < p.From {
		return nil, fmt.Errorf("%w: from must be <= to", ErrInvalidQuery)
	}
	return s.ingest(ctx, p.Symbol, res, time.Unix(p.From, 0).UTC(), time.Unix(p.To, 0).UTC())
}

func (s *IngestionService) progress(ctx context.Context, v interface{}) {
	if err := queue.ReportProgress(ctx, v); err != nil {
		s.log.Debug("report progress failed", logger.Error(err))
	}
}
