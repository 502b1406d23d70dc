package usecase

import (
	"context"
	"fmt"
	"time"

	"MarketPull/internal/domain/models"
	domrepo "MarketPull/internal/domain/repository"
)

// Archive backends for live trades.
const (
	BackendKafka      = "kafka"
	BackendClickHouse = "clickhouse"
	BackendNone       = "none"
)

// TradeProcessor archives live trades to the configured backend: the Kafka
// ticks topic, or ClickHouse directly when Kafka is not deployed.
type TradeProcessor struct {
	pub     domrepo.TickPublisher
	store   domrepo.TickStore
	metrics domrepo.Metrics
	backend string
}

func NewTradeProcessor(pub domrepo.TickPublisher, store domrepo.TickStore, metrics domrepo.Metrics, backend string) (*TradeProcessor, error) {
	switch backend {
	case BackendKafka:
		if pub == nil {
			return nil, fmt.Errorf("trade backend %s: publisher not configured", backend)
		}
	case BackendClickHouse:
		if store == nil {
			return nil, fmt.Errorf("trade backend %s: store not configured", backend)
		}
	case BackendNone, "":
		backend = BackendNone
	default:
		return nil, fmt.Errorf("unknown trade backend: %s", backend)
	}
	if metrics == nil {
		metrics = domrepo.NopMetrics{}
	}
	return &TradeProcessor{pub: pub, store: store, metrics: metrics, backend: backend}, nil
}

func (p *TradeProcessor) Backend() string { return p.backend }

func (p *TradeProcessor) Process(ctx context.Context, t *models.Trade) error {
	if t == nil {
		return fmt.Errorf("trade is nil")
	}
	return p.ProcessBatch(ctx, []*models.Trade{t})
}

func (p *TradeProcessor) ProcessBatch(ctx context.Context, trades []*models.Trade) error {
	if len(trades) == 0 || p.backend == BackendNone {
		return nil
	}

	start := time.Now()
	var err error
	switch p.backend {
	case BackendKafka:
		err = p.pub.PublishBatch(ctx, trades)
	case BackendClickHouse:
		err = p.store.StoreBatch(ctx, trades)
	}

	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	p.metrics.RecordProviderCall(p.backend, outcome, time.Since(start).Seconds())
	if err != nil {
		return fmt.Errorf("archive %d trades: %w", len(trades), err)
	}
	return nil
}

// Close releases the backend handles this processor owns.
func (p *TradeProcessor) Close() error {
	if p.pub != nil {
		if err := p.pub.Close(); err != nil {
			return err
		}
	}
	if p.store != nil {
		return p.store.Close()
	}
	return nil
}
