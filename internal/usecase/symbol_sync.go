package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"MarketPull/internal/domain/models"
	domrepo "MarketPull/internal/domain/repository"
	"MarketPull/internal/domain/service"
	"MarketPull/pkg/cache"
	"MarketPull/pkg/logger"
)

func syncLockKey(exchange string) string {
	return cache.GenerateKeyWithParams("lock", "symbol-sync", exchange)
}

// SyncSymbols upserts the provider's listing for an exchange group and then
// enriches the profiles of newly created symbols. Only one run per exchange
// holds the lock; a crashed run's lock expires after SyncLockTTL.
func (s *IngestionService) SyncSymbols(ctx context.Context, p models.SymbolSyncPayload) (*models.SymbolSyncResult, error) {
	exchange := strings.ToUpper(strings.TrimSpace(p.Exchange))
	if exchange == "" {
		exchange = "US"
	}
	key := syncLockKey(exchange)

	token, ok, err := s.lock.TryLock(ctx, key, s.cfg.SyncLockTTL)
	if err != nil {
		return nil, fmt.Errorf("acquire sync lock: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSyncInProgress, exchange)
	}
	defer func() {
		if err := s.lock.Unlock(context.Background(), key, token); err != nil && !errors.Is(err, cache.ErrLockHeld) {
			s.log.Warn("release sync lock failed", logger.String("exchange", exchange), logger.Error(err))
		}
	}()

	startPauses := s.pauses()
	out := &models.SymbolSyncResult{Exchange: exchange}

	var listings []models.SymbolInfo
	err = s.paced(ctx, func(ctx context.Context) error {
		var err error
		listings, err = s.listings.Symbols(ctx, exchange)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("fetch symbols %s: %w", exchange, err)
	}
	out.Fetched = len(listings)

	ur, created, err := s.symbols.UpsertListings(ctx, listings)
	if err != nil {
		return nil, fmt.Errorf("upsert symbols: %w", err)
	}
	out.Created = ur.Inserted
	out.Updated = ur.Updated
	s.log.Info("symbol listing upserted",
		logger.String("exchange", exchange),
		logger.Int("fetched", out.Fetched),
		logger.Int("created", out.Created),
		logger.Int("updated", out.Updated))

	if !p.SkipEnrich {
		if err := s.enrich(ctx, created, out); err != nil {
			return out, err
		}
	}
	out.RateLimitPauses = s.pauses() - startPauses
	return out, nil
}

func (s *IngestionService) enrich(ctx context.Context, created []models.Symbol, out *models.SymbolSyncResult) error {
	for i, sym := range created {
		if err := ctx.Err(); err != nil {
			return err
		}
		var profile *models.CompanyProfile
		err := s.paced(ctx, func(ctx context.Context) error {
			var err error
			profile, err = s.listings.Profile(ctx, sym.Ticker)
			return err
		})
		switch {
		case errors.Is(err, service.ErrNoCredential):
			s.log.Warn("no credential, skipping enrichment", logger.Int("remaining", len(created)-i))
			return nil
		case err != nil:
			out.EnrichFailed++
			s.log.Warn("enrich symbol failed", logger.String("symbol", sym.Ticker), logger.Error(err))
			continue
		case profile == nil:
			continue
		}
		if err := s.symbols.ApplyProfile(ctx, sym.ID, profile); err != nil {
			if errors.Is(err, domrepo.ErrNotFound) {
				continue
			}
			return fmt.Errorf("apply profile %s: %w", sym.Ticker, err)
		}
		out.Enriched++
		if (i+1)%s.cfg.ProgressEvery == 0 {
			s.progress(ctx, out)
		}
	}
	return nil
}
