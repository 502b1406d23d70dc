package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"MarketPull/internal/domain/models"
	"MarketPull/internal/domain/repository"
)

var (
	ErrRateLimited  = errors.New("provider: rate limited")
	ErrNoCredential = errors.New("provider: no credential configured")
	ErrUnsupported  = errors.New("provider: unsupported request")
)

// RateLimitError is returned when a provider answers 429. It matches
// ErrRateLimited with errors.Is.
type RateLimitError struct {
	Provider   string
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("%s: rate limited, retry after %s", e.Provider, e.RetryAfter)
	}
	return fmt.Sprintf("%s: rate limited", e.Provider)
}

func (e *RateLimitError) Is(target error) bool { return target == ErrRateLimited }

// RetryAfter extracts the provider's hint from err, if any.
func RetryAfter(err error) (time.Duration, bool) {
	var rl *RateLimitError
	if errors.As(err, &rl) {
		return rl.RetryAfter, true
	}
	return 0, errors.Is(err, ErrRateLimited)
}

// CandleProvider returns candles in the columnar shape. An empty window is
// a no_data series, not an error.
type CandleProvider interface {
	Name() string
	Candles(ctx context.Context, symbol string, res repository.Resolution, from, to time.Time) (*models.CandleSeries, error)
}

// DailySource is a daily-only candle source.
type DailySource interface {
	Name() string
	DailyCandles(ctx context.Context, symbol string, from, to time.Time) (*models.CandleSeries, error)
}

// SyntheticReporter is implemented by providers that may serve stand-in
// data when no credential is configured.
type SyntheticReporter interface {
	Synthetic() bool
}

type SymbolProvider interface {
	Symbols(ctx context.Context, exchange string) ([]models.SymbolInfo, error)
	Profile(ctx context.Context, ticker string) (*models.CompanyProfile, error)
}

type MetricsProvider interface {
	Metrics(ctx context.Context, ticker string) (*models.MetricSnapshot, error)
}

// QuoteBatchProvider fetches metrics for many tickers per call.
type QuoteBatchProvider interface {
	BatchSize() int
	BatchMetrics(ctx context.Context, tickers []string) (map[string]*models.MetricSnapshot, error)
}

// ScanRunner runs a filter set over a symbol list on the external scan
// service.
type ScanRunner interface {
	RunScan(ctx context.Context, req models.ScanRequest) (*models.ScanResult, error)
}

type AlertEmail struct {
	To        string
	AlertName string
	Details   map[string]interface{}
}

// Notifier sends alert emails. It reports whether the mail was sent and
// never fails.
type Notifier interface {
	SendAlertTriggered(ctx context.Context, email AlertEmail) bool
}

type AlertTriggeredEvent struct {
	AlertID        uint                   `json:"alert_id"`
	UserID         uint                   `json:"user_id"`
	Type           models.AlertType       `json:"type"`
	Ticker         string                 `json:"ticker,omitempty"`
	Value          *float64               `json:"value,omitempty"`
	Price          *float64               `json:"price,omitempty"`
	MatchedSymbols []string               `json:"matched_symbols,omitempty"`
	Details        map[string]interface{} `json:"details,omitempty"`
	TriggeredAt    time.Time              `json:"triggered_at"`
}

// EventPublisher emits domain events. Publishing is best effort.
type EventPublisher interface {
	AlertTriggered(ctx context.Context, ev AlertTriggeredEvent) error
}

// MarketStream is an upstream live trade feed.
type MarketStream interface {
	Connect(ctx context.Context) error
	Subscribe(ctx context.Context, symbols ...string) error
	Unsubscribe(ctx context.Context, symbols ...string) error
	Read(ctx context.Context) (<-chan *models.Trade, <-chan error)
	Close() error
	IsConnected() bool
}
