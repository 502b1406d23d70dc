package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"MarketPull/internal/domain/models"
	domrepo "MarketPull/internal/domain/repository"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const listingBatchSize = 500

type SymbolRepository struct {
	db  *gorm.DB
	now func() time.Time
}

var _ domrepo.SymbolRepository = (*SymbolRepository)(nil)

func NewSymbolRepository(db *gorm.DB) *SymbolRepository {
	return &SymbolRepository{db: db, now: time.Now}
}

func normalizeTicker(t string) string {
	return strings.ToUpper(strings.TrimSpace(t))
}

func (r *SymbolRepository) EnsureSymbol(ctx context.Context, ticker string) (*models.Symbol, error) {
	ticker = normalizeTicker(ticker)
	if ticker == "" {
		return nil, fmt.Errorf("ensure symbol: empty ticker")
	}

	s := models.Symbol{Ticker: ticker, Name: ticker, Exchange: models.ExchangeOther, Active: true}
	db := r.db.WithContext(ctx)
	// Concurrent first references race on the unique ticker; the loser
	// simply reads the winner's row.
	if err := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "ticker"}},
		DoNothing: true,
	}).Create(&s).Error; err != nil {
		return nil, fmt.Errorf("ensure symbol %s: %w", ticker, err)
	}

	var out models.Symbol
	if err := db.Where("ticker = ?", ticker).First(&out).Error; err != nil {
		return nil, notFound(err)
	}
	return &out, nil
}

func (r *SymbolRepository) GetByTicker(ctx context.Context, ticker string) (*models.Symbol, error) {
	var s models.Symbol
	err := r.db.WithContext(ctx).Where("ticker = ?", normalizeTicker(ticker)).First(&s).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &s, nil
}

// UpsertListings refreshes listing fields of known tickers and creates the
// unknown ones. It returns the created rows so callers can enrich them.
func (r *SymbolRepository) UpsertListings(ctx context.Context, listings []models.SymbolInfo) (models.UpsertResult, []models.Symbol, error) {
	var (
		result  models.UpsertResult
		created []models.Symbol
	)
	if len(listings) == 0 {
		return result, nil, nil
	}

	now := r.now().UTC()
	rows := make([]models.Symbol, 0, len(listings))
	seen := make(map[string]struct{}, len(listings))
	for _, l := range listings {
		t := normalizeTicker(l.Ticker)
		if t == "" {
			continue
		}
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		name := l.Name
		if name == "" {
			name = t
		}
		rows = append(rows, models.Symbol{
			Ticker:       t,
			Name:         name,
			Exchange:     l.Exchange,
			Currency:     l.Currency,
			Type:         l.Type,
			Active:       true,
			LastSyncedAt: &now,
		})
	}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for start := 0; start < len(rows); start += listingBatchSize {
			end := start + listingBatchSize
			if end > len(rows) {
				end = len(rows)
			}
			chunk := rows[start:end]
			tickers := make([]string, len(chunk))
			for i := range chunk {
				tickers[i] = chunk[i].Ticker
			}

			var existing []string
			if err := tx.Model(&models.Symbol{}).Where("ticker IN ?", tickers).Pluck("ticker", &existing).Error; err != nil {
				return err
			}
			known := make(map[string]struct{}, len(existing))
			for _, t := range existing {
				known[t] = struct{}{}
			}

			if err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "ticker"}},
				DoUpdates: clause.AssignmentColumns([]string{"name", "exchange", "currency", "type", "active", "last_synced_at", "updated_at"}),
			}).Create(&chunk).Error; err != nil {
				return err
			}

			var fresh []string
			for _, t := range tickers {
				if _, ok := known[t]; !ok {
					fresh = append(fresh, t)
				}
			}
			result.Inserted += len(fresh)
			result.Updated += len(known)
			if len(fresh) > 0 {
				var batch []models.Symbol
				if err := tx.Where("ticker IN ?", fresh).Order("id").Find(&batch).Error; err != nil {
					return err
				}
				created = append(created, batch...)
			}
		}
		return nil
	})
	if err != nil {
		return models.UpsertResult{}, nil, fmt.Errorf("upsert listings: %w", err)
	}
	return result, created, nil
}

func (r *SymbolRepository) ListActive(ctx context.Context, offset, limit int) ([]models.Symbol, error) {
	q := r.db.WithContext(ctx).Where("active = ?", true).Order("id")
	if offset > 0 {
		q = q.Offset(offset)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	var out []models.Symbol
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *SymbolRepository) CountActive(ctx context.Context) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&models.Symbol{}).Where("active = ?", true).Count(&n).Error
	return n, err
}

// ApplyProfile fills the enrichment fields. Empty profile values leave the
// stored ones untouched.
func (r *SymbolRepository) ApplyProfile(ctx context.Context, id uint, p *models.CompanyProfile) error {
	updates := map[string]interface{}{}
	if p.Sector != "" {
		updates["sector"] = p.Sector
	}
	if p.Industry != "" {
		updates["industry"] = p.Industry
	}
	if p.MarketCap > 0 {
		updates["market_cap"] = p.MarketCap
	}
	if p.Name != "" {
		updates["name"] = p.Name
	}
	if p.Currency != "" {
		updates["currency"] = p.Currency
	}
	if p.Exchange != "" && p.Exchange != models.ExchangeOther {
		updates["exchange"] = p.Exchange
	}
	if len(updates) == 0 {
		return nil
	}
	res := r.db.WithContext(ctx).Model(&models.Symbol{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domrepo.ErrNotFound
	}
	return nil
}
