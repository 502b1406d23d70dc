package repository

import (
	"context"

	"MarketPull/internal/domain/models"
	domrepo "MarketPull/internal/domain/repository"

	"gorm.io/gorm"
)

type ScanRepository struct {
	db *gorm.DB
}

var _ domrepo.ScanRepository = (*ScanRepository)(nil)

func NewScanRepository(db *gorm.DB) *ScanRepository {
	return &ScanRepository{db: db}
}

func (r *ScanRepository) GetSavedScan(ctx context.Context, id uint) (*models.SavedScan, error) {
	var s models.SavedScan
	if err := r.db.WithContext(ctx).First(&s, id).Error; err != nil {
		return nil, notFound(err)
	}
	return &s, nil
}

type BacktestRepository struct {
	db *gorm.DB
}

var _ domrepo.BacktestRepository = (*BacktestRepository)(nil)

func NewBacktestRepository(db *gorm.DB) *BacktestRepository {
	return &BacktestRepository{db: db}
}

func (r *BacktestRepository) Create(ctx context.Context, b *models.Backtest) error {
	if b.Status == "" {
		b.Status = models.BacktestPending
	}
	return r.db.WithContext(ctx).Create(b).Error
}

func (r *BacktestRepository) Get(ctx context.Context, id uint) (*models.Backtest, error) {
	var b models.Backtest
	if err := r.db.WithContext(ctx).First(&b, id).Error; err != nil {
		return nil, notFound(err)
	}
	return &b, nil
}

func (r *BacktestRepository) Save(ctx context.Context, b *models.Backtest) error {
	return r.db.WithContext(ctx).Save(b).Error
}
