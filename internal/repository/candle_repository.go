package repository

import (
	"context"
	"fmt"
	"sort"

	"MarketPull/internal/domain/models"
	domrepo "MarketPull/internal/domain/repository"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const candleChunkSize = 1000

type CandleRepository struct {
	db *gorm.DB
}

var _ domrepo.CandleRepository = (*CandleRepository)(nil)

func NewCandleRepository(db *gorm.DB) *CandleRepository {
	return &CandleRepository{db: db}
}

// toRows orders candles by timestamp and keeps the last bar for a repeated
// timestamp.
func toRows(symbolID uint, res domrepo.Resolution, candles []models.Candle) []CandleRow {
	byTs := make(map[int64]int, len(candles))
	rows := make([]CandleRow, 0, len(candles))
	for _, c := range candles {
		row := CandleRow{
			SymbolID:   symbolID,
			Resolution: string(res),
			Ts:         c.Timestamp,
			Open:       c.Open,
			High:       c.High,
			Low:        c.Low,
			Close:      c.Close,
			Volume:     c.Volume,
		}
		if i, ok := byTs[c.Timestamp]; ok {
			rows[i] = row
			continue
		}
		byTs[c.Timestamp] = len(rows)
		rows = append(rows, row)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Ts < rows[j].Ts })
	return rows
}

func (r *CandleRepository) Upsert(ctx context.Context, symbolID uint, res domrepo.Resolution, candles []models.Candle) (models.UpsertResult, error) {
	var result models.UpsertResult
	rows := toRows(symbolID, res, candles)
	if len(rows) == 0 {
		return result, nil
	}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for start := 0; start < len(rows); start += candleChunkSize {
			end := start + candleChunkSize
			if end > len(rows) {
				end = len(rows)
			}
			chunk := rows[start:end]

			var existing int64
			if err := tx.Model(&CandleRow{}).
				Where("symbol_id = ? AND resolution = ? AND ts IN ?", symbolID, string(res), timestamps(chunk)).
				Count(&existing).Error; err != nil {
				return err
			}

			if err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "symbol_id"}, {Name: "resolution"}, {Name: "ts"}},
				DoUpdates: clause.AssignmentColumns([]string{"open", "high", "low", "close", "volume"}),
			}).Create(&chunk).Error; err != nil {
				return err
			}
			result.Updated += int(existing)
			result.Inserted += len(chunk) - int(existing)
		}
		return nil
	})
	if err != nil {
		return models.UpsertResult{}, fmt.Errorf("upsert candles: %w", err)
	}
	return result, nil
}

func timestamps(rows []CandleRow) []int64 {
	out := make([]int64, len(rows))
	for i := range rows {
		out[i] = rows[i].Ts
	}
	return out
}

func (r *CandleRepository) Range(ctx context.Context, symbolID uint, res domrepo.Resolution, from, to int64) ([]models.Candle, error) {
	var rows []CandleRow
	err := r.db.WithContext(ctx).
		Where("symbol_id = ? AND resolution = ? AND ts >= ? AND ts <= ?", symbolID, string(res), from, to).
		Order("ts ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return r.toCandles(ctx, symbolID, rows)
}

func (r *CandleRepository) Latest(ctx context.Context, symbolID uint, res domrepo.Resolution, n int, asOf int64) ([]models.Candle, error) {
	if n <= 0 {
		return nil, nil
	}
	q := r.db.WithContext(ctx).Where("symbol_id = ? AND resolution = ?", symbolID, string(res))
	if asOf > 0 {
		q = q.Where("ts <= ?", asOf)
	}
	var rows []CandleRow
	if err := q.Order("ts DESC").Limit(n).Find(&rows).Error; err != nil {
		return nil, err
	}
	for i, j := 0, len(rows)-1; i < j; i, j = i+1, j-1 {
		rows[i], rows[j] = rows[j], rows[i]
	}
	return r.toCandles(ctx, symbolID, rows)
}

func (r *CandleRepository) toCandles(ctx context.Context, symbolID uint, rows []CandleRow) ([]models.Candle, error) {
	if len(rows) == 0 {
		return nil, nil
	}
	var tickers []string
	if err := r.db.WithContext(ctx).Model(&models.Symbol{}).Where("id = ?", symbolID).Pluck("ticker", &tickers).Error; err != nil {
		return nil, err
	}
	var ticker string
	if len(tickers) > 0 {
		ticker = tickers[0]
	}
	out := make([]models.Candle, len(rows))
	for i, row := range rows {
		out[i] = row.toCandle(ticker)
	}
	return out, nil
}
