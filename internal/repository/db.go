package repository

import (
	"errors"

	"MarketPull/internal/domain/models"
	domrepo "MarketPull/internal/domain/repository"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// CandleRow is the stored form of a candle.
type CandleRow struct {
	ID         uint            `gorm:"primaryKey"`
	SymbolID   uint            `gorm:"not null;uniqueIndex:idx_candle_sym_res_ts,priority:1"`
	Resolution string          `gorm:"size:4;not null;uniqueIndex:idx_candle_sym_res_ts,priority:2"`
	Ts         int64           `gorm:"column:ts;not null;uniqueIndex:idx_candle_sym_res_ts,priority:3"`
	Open       decimal.Decimal `gorm:"type:decimal(18,6);not null"`
	High       decimal.Decimal `gorm:"type:decimal(18,6);not null"`
	Low        decimal.Decimal `gorm:"type:decimal(18,6);not null"`
	Close      decimal.Decimal `gorm:"type:decimal(18,6);not null"`
	Volume     int64           `gorm:"not null;default:0"`
}

func (CandleRow) TableName() string { return "candles" }

func (r CandleRow) toCandle(ticker string) models.Candle {
	return models.Candle{
		Symbol:     ticker,
		Resolution: r.Resolution,
		Timestamp:  r.Ts,
		Open:       r.Open,
		High:       r.High,
		Low:        r.Low,
		Close:      r.Close,
		Volume:     r.Volume,
	}
}

// Migrate creates or updates every relational table.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.Symbol{},
		&CandleRow{},
		&models.FinancialMetric{},
		&models.Alert{},
		&models.AlertHistory{},
		&models.SavedScan{},
		&models.Backtest{},
	)
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domrepo.ErrNotFound
	}
	return err
}
