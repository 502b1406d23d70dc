package usecase

import (
	"context"
	"fmt"
	"time"

	"MarketPull/internal/domain/models"
	domrepo "MarketPull/internal/domain/repository"
	pkgkafka "MarketPull/pkg/kafka"
)

// TickDecoder parses one ticks topic payload.
type TickDecoder func(payload []byte) (*models.Trade, error)

// KafkaTicksHandler drains the ticks topic into the tick archive.
type KafkaTicksHandler struct {
	topic   string
	decode  TickDecoder
	store   domrepo.TickStore
	metrics domrepo.Metrics
}

var _ pkgkafka.MessageHandler = (*KafkaTicksHandler)(nil)

func NewKafkaTicksHandler(topic string, decode TickDecoder, store domrepo.TickStore, metrics domrepo.Metrics) *KafkaTicksHandler {
	if metrics == nil {
		metrics = domrepo.NopMetrics{}
	}
	return &KafkaTicksHandler{topic: topic, decode: decode, store: store, metrics: metrics}
}

func (h *KafkaTicksHandler) Topic() string { return h.topic }

func (h *KafkaTicksHandler) Handle(ctx context.Context, b []byte) error {
	t, err := h.decode(b)
	if err != nil {
		h.metrics.RecordError("ticks_decode")
		return fmt.Errorf("decode tick: %w", err)
	}
	if t.Symbol == "" || t.Timestamp <= 0 {
		h.metrics.RecordError("ticks_decode")
		return fmt.Errorf("decode tick: incomplete payload")
	}

	start := time.Now()
	err = h.store.StoreBatch(ctx, []*models.Trade{t})
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	h.metrics.RecordProviderCall("clickhouse", outcome, time.Since(start).Seconds())
	if err != nil {
		return fmt.Errorf("store tick %s: %w", t.Symbol, err)
	}
	return nil
}
