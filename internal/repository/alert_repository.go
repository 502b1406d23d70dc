package repository

import (
	"context"
	"fmt"

	"MarketPull/internal/domain/models"
	domrepo "MarketPull/internal/domain/repository"

	"gorm.io/gorm"
)

type AlertRepository struct {
	db *gorm.DB
}

var _ domrepo.AlertRepository = (*AlertRepository)(nil)

func NewAlertRepository(db *gorm.DB) *AlertRepository {
	return &AlertRepository{db: db}
}

func (r *AlertRepository) ListActive(ctx context.Context) ([]models.Alert, error) {
	var out []models.Alert
	err := r.db.WithContext(ctx).
		Where("status = ?", models.AlertActive).
		Order("created_at ASC, id ASC").
		Find(&out).Error
	return out, err
}

func (r *AlertRepository) MarkExpired(ctx context.Context, ids []uint) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res := r.db.WithContext(ctx).Model(&models.Alert{}).
		Where("id IN ? AND status = ?", ids, models.AlertActive).
		Update("status", models.AlertExpired)
	return res.RowsAffected, res.Error
}

// RecordTrigger flips an active alert to triggered and appends h. An alert
// that is no longer active yields ErrNotFound and no history row.
func (r *AlertRepository) RecordTrigger(ctx context.Context, alertID uint, h *models.AlertHistory) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Alert{}).
			Where("id = ? AND status = ?", alertID, models.AlertActive).
			Updates(map[string]interface{}{
				"status":       models.AlertTriggered,
				"triggered_at": h.TriggeredAt,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("alert %d not active: %w", alertID, domrepo.ErrNotFound)
		}
		h.AlertID = alertID
		return tx.Create(h).Error
	})
}

func (r *AlertRepository) History(ctx context.Context, alertID uint) ([]models.AlertHistory, error) {
	var out []models.AlertHistory
	err := r.db.WithContext(ctx).Where("alert_id = ?", alertID).Order("triggered_at ASC, id ASC").Find(&out).Error
	return out, err
}
