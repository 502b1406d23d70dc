package repository

import (
	"context"
	"errors"
	"time"

	"MarketPull/internal/domain/models"
)

var ErrNotFound = errors.New("repository: not found")

type SymbolRepository interface {
	// EnsureSymbol returns the symbol row for ticker, creating a minimal one
	// on first reference.
	EnsureSymbol(ctx context.Context, ticker string) (*models.Symbol, error)
	GetByTicker(ctx context.Context, ticker string) (*models.Symbol, error)
	// UpsertListings creates unknown tickers and refreshes known ones.
	UpsertListings(ctx context.Context, listings []models.SymbolInfo) (models.UpsertResult, []models.Symbol, error)
	ListActive(ctx context.Context, offset, limit int) ([]models.Symbol, error)
	CountActive(ctx context.Context) (int64, error)
	ApplyProfile(ctx context.Context, id uint, p *models.CompanyProfile) error
}

type CandleRepository interface {
	// Upsert writes candles in timestamp order inside one transaction and
	// reports how many rows were new.
	Upsert(ctx context.Context, symbolID uint, res Resolution, candles []models.Candle) (models.UpsertResult, error)
	// Range returns candles with from <= t <= to ordered by time.
	Range(ctx context.Context, symbolID uint, res Resolution, from, to int64) ([]models.Candle, error)
	// Latest returns up to n most recent candles at or before asOf, oldest
	// first. asOf <= 0 means now.
	Latest(ctx context.Context, symbolID uint, res Resolution, n int, asOf int64) ([]models.Candle, error)
}

type MetricRepository interface {
	Insert(ctx context.Context, m *models.FinancialMetric) error
	// LatestSince returns the newest snapshot fetched after since, or
	// ErrNotFound.
	LatestSince(ctx context.Context, symbolID uint, since time.Time) (*models.FinancialMetric, error)
}

type AlertRepository interface {
	// ListActive returns active alerts in creation order.
	ListActive(ctx context.Context) ([]models.Alert, error)
	MarkExpired(ctx context.Context, ids []uint) (int64, error)
	// RecordTrigger sets the alert to triggered and appends the history row
	// in one transaction.
	RecordTrigger(ctx context.Context, alertID uint, h *models.AlertHistory) error
	History(ctx context.Context, alertID uint) ([]models.AlertHistory, error)
}

type ScanRepository interface {
	GetSavedScan(ctx context.Context, id uint) (*models.SavedScan, error)
}

type BacktestRepository interface {
	Create(ctx context.Context, b *models.Backtest) error
	Get(ctx context.Context, id uint) (*models.Backtest, error)
	Save(ctx context.Context, b *models.Backtest) error
}

// TickStore archives live trades.
type TickStore interface {
	Init(ctx context.Context) error
	StoreBatch(ctx context.Context, trades []*models.Trade) error
	Query(ctx context.Context, symbol string, from, to time.Time, limit int) ([]*models.Trade, error)
	Health(ctx context.Context) error
	Close() error
}

// TickPublisher forwards live trades to the event bus.
type TickPublisher interface {
	Publish(ctx context.Context, t *models.Trade) error
	PublishBatch(ctx context.Context, trades []*models.Trade) error
	Close() error
}

type Metrics interface {
	RecordJob(queue, state string, seconds float64)
	RecordCache(outcome string)
	RecordCandleSource(source string)
	RecordProviderCall(provider, outcome string, seconds float64)
	RecordRateLimited(provider string)
	RecordAlerts(evaluated, triggered int)
	RecordTrade(symbol string, price float64)
	RecordError(kind string)
}

// NopMetrics discards every observation.
type NopMetrics struct{}

func (NopMetrics) RecordJob(string, string, float64)          {}
func (NopMetrics) RecordCache(string)                         {}
func (NopMetrics) RecordCandleSource(string)                  {}
func (NopMetrics) RecordProviderCall(string, string, float64) {}
func (NopMetrics) RecordRateLimited(string)                   {}
func (NopMetrics) RecordAlerts(int, int)                      {}
func (NopMetrics) RecordTrade(string, float64)                {}
func (NopMetrics) RecordError(string)                         {}
