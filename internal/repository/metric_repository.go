package repository

import (
	"context"
	"time"

	"MarketPull/internal/domain/models"
	domrepo "MarketPull/internal/domain/repository"

	"gorm.io/gorm"
)

type MetricRepository struct {
	db *gorm.DB
}

var _ domrepo.MetricRepository = (*MetricRepository)(nil)

func NewMetricRepository(db *gorm.DB) *MetricRepository {
	return &MetricRepository{db: db}
}

func (r *MetricRepository) Insert(ctx context.Context, m *models.FinancialMetric) error {
	if m.FetchedAt.IsZero() {
		m.FetchedAt = time.Now().UTC()
	}
	return r.db.WithContext(ctx).Create(m).Error
}

func (r *MetricRepository) LatestSince(ctx context.Context, symbolID uint, since time.Time) (*models.FinancialMetric, error) {
	var m models.FinancialMetric
	err := r.db.WithContext(ctx).
		Where("symbol_id = ? AND fetched_at > ?", symbolID, since).
		Order("fetched_at DESC").
		First(&m).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &m, nil
}
