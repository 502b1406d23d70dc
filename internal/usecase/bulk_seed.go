package usecase

import (
	"context"
	"sync"
	"time"

	"MarketPull/internal/domain/models"
	domrepo "MarketPull/internal/domain/repository"
	"MarketPull/pkg/logger"

	"golang.org/x/sync/errgroup"
)

// seedConcurrency clamps the requested parallelism to the configured
// ceiling, and further to the secondary source's cap when it is in use.
func (s *IngestionService) seedConcurrency(requested int) int {
	n := requested
	if n <= 0 {
		n = 1
	}
	if n > s.cfg.MaxConcurrency {
		n = s.cfg.MaxConcurrency
	}
	if s.secondary && n > s.cfg.SecondaryConcurrency {
		n = s.cfg.SecondaryConcurrency
	}
	return n
}

// BulkSeed backfills daily history for a symbol slice with bounded
// parallelism, then refreshes metrics for the same slice serially.
func (s *IngestionService) BulkSeed(ctx context.Context, p models.BulkSeedPayload) (*models.BulkSeedResult, error) {
	years := p.Years
	if years <= 0 {
		years = 5
	}
	batch := p.BatchSize
	if batch <= 0 {
		batch = 50
	}
	symbols, err := s.slice(ctx, p.Offset, p.Limit)
	if err != nil {
		return nil, err
	}

	out := &models.BulkSeedResult{Symbols: len(symbols)}
	to := s.now().UTC()
	from := to.AddDate(-years, 0, 0)
	workers := s.seedConcurrency(p.Concurrency)

	s.log.Info("bulk seed started",
		logger.Int("symbols", len(symbols)),
		logger.Int("years", years),
		logger.Int("concurrency", workers),
		logger.Bool("candles", p.Candles),
		logger.Bool("metrics", p.Metrics))

	if p.Candles {
		for start := 0; start < len(symbols); start += batch {
			end := start + batch
			if end > len(symbols) {
				end = len(symbols)
			}
			if err := s.seedCandles(ctx, symbols[start:end], from, to, workers, &out.Candles); err != nil {
				return out, err
			}
			s.progress(ctx, out)
		}
	}

	if p.Metrics {
		counts, err := s.refreshMetrics(ctx, symbols)
		if counts != nil {
			out.Metrics = *counts
		}
		if err != nil {
			return out, err
		}
	}

	s.log.Info("bulk seed done",
		logger.Int("candles_processed", out.Candles.Processed),
		logger.Int("candles_inserted", out.Candles.Inserted),
		logger.Int("metrics_processed", out.Metrics.Processed),
		logger.Int("metrics_inserted", out.Metrics.Inserted))
	return out, nil
}

func (s *IngestionService) seedCandles(ctx context.Context, symbols []models.Symbol, from, to time.Time, workers int, counts *models.BatchCounts) error {
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for _, sym := range symbols {
		sym := sym
		g.Go(func() error {
			r, err := s.ingest(gctx, sym.Ticker, domrepo.ResD, from, to)

			mu.Lock()
			defer mu.Unlock()
			counts.Processed++
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				counts.Failed++
				s.log.Warn("seed candles failed", logger.String("symbol", sym.Ticker), logger.Error(err))
				return nil
			}
			counts.Inserted += r.Inserted
			counts.Updated += r.Updated
			return nil
		})
	}
	return g.Wait()
}
