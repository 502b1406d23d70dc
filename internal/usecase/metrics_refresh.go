package usecase

import (
	"context"
	"fmt"

	"MarketPull/internal/domain/models"
	"MarketPull/pkg/logger"
)

func (s *IngestionService) slice(ctx context.Context, offset, limit int) ([]models.Symbol, error) {
	if offset < 0 {
		offset = 0
	}
	if limit <= 0 {
		limit = s.cfg.MetricsSlice
	}
	rows, err := s.symbols.ListActive(ctx, offset, limit)
	if err != nil {
		return nil, fmt.Errorf("list active symbols: %w", err)
	}
	return rows, nil
}

// RefreshMetrics fetches one snapshot per symbol in the slice, paced, and
// inserts it. A failing symbol is counted and skipped; a store failure
// fails the run.
func (s *IngestionService) RefreshMetrics(ctx context.Context, p models.MetricsRefreshPayload) (*models.BatchCounts, error) {
	symbols, err := s.slice(ctx, p.Offset, p.Limit)
	if err != nil {
		return nil, err
	}
	if p.Batch && s.quotes != nil {
		return s.refreshMetricsBatch(ctx, symbols)
	}
	return s.refreshMetrics(ctx, symbols)
}

func (s *IngestionService) refreshMetrics(ctx context.Context, symbols []models.Symbol) (*models.BatchCounts, error) {
	counts := &models.BatchCounts{}
	for _, sym := range symbols {
		if err := ctx.Err(); err != nil {
			return counts, err
		}
		counts.Processed++

		var snap *models.MetricSnapshot
		err := s.paced(ctx, func(ctx context.Context) error {
			var err error
			snap, err = s.snapshots.Metrics(ctx, sym.Ticker)
			return err
		})
		if err != nil {
			counts.Failed++
			s.log.Warn("metrics fetch failed", logger.String("symbol", sym.Ticker), logger.Error(err))
		} else if err := s.storeSnapshot(ctx, sym, snap, counts); err != nil {
			return counts, err
		}

		if counts.Processed%s.cfg.ProgressEvery == 0 {
			s.log.Info("metrics refresh progress",
				logger.Int("processed", counts.Processed),
				logger.Int("inserted", counts.Inserted),
				logger.Int("failed", counts.Failed),
				logger.Int("total", len(symbols)))
			s.progress(ctx, counts)
		}
	}
	s.log.Info("metrics refresh done",
		logger.Int("processed", counts.Processed),
		logger.Int("inserted", counts.Inserted),
		logger.Int("failed", counts.Failed))
	return counts, nil
}

// refreshMetricsBatch uses the batch quote provider, one call per chunk.
func (s *IngestionService) refreshMetricsBatch(ctx context.Context, symbols []models.Symbol) (*models.BatchCounts, error) {
	counts := &models.BatchCounts{}
	size := s.quotes.BatchSize()
	if size <= 0 {
		size = 50
	}
	for start := 0; start < len(symbols); start += size {
		if err := ctx.Err(); err != nil {
			return counts, err
		}
		end := start + size
		if end > len(symbols) {
			end = len(symbols)
		}
		chunk := symbols[start:end]
		tickers := make([]string, len(chunk))
		for i, sym := range chunk {
			tickers[i] = sym.Ticker
		}

		var snaps map[string]*models.MetricSnapshot
		err := s.quotePaced(ctx, func(ctx context.Context) error {
			var err error
			snaps, err = s.quotes.BatchMetrics(ctx, tickers)
			return err
		})
		counts.Processed += len(chunk)
		if err != nil {
			counts.Failed += len(chunk)
			s.log.Warn("batch quote failed", logger.Int("offset", start), logger.Error(err))
			continue
		}
		for _, sym := range chunk {
			if err := s.storeSnapshot(ctx, sym, snaps[sym.Ticker], counts); err != nil {
				return counts, err
			}
		}
		s.progress(ctx, counts)
	}
	return counts, nil
}

func (s *IngestionService) storeSnapshot(ctx context.Context, sym models.Symbol, snap *models.MetricSnapshot, counts *models.BatchCounts) error {
	if snap == nil || len(snap.Ratios) == 0 {
		counts.Skipped++
		return nil
	}
	m := &models.FinancialMetric{SymbolID: sym.ID, Source: snap.Source, FetchedAt: s.now().UTC()}
	for name, v := range snap.Ratios {
		m.SetRatio(name, v)
	}
	if m.Empty() {
		counts.Skipped++
		return nil
	}
	if err := s.metrics.Insert(ctx, m); err != nil {
		return fmt.Errorf("insert metrics %s: %w", sym.Ticker, err)
	}
	counts.Inserted++
	return nil
}
