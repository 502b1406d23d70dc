package repository

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"
	"time"

	"MarketPull/internal/domain/models"
	domrepo "MarketPull/internal/domain/repository"
	"MarketPull/internal/domain/service"
	pkgkafka "MarketPull/pkg/kafka"
	"MarketPull/pkg/logger"
	"MarketPull/pkg/queue"
)

// MessageProducer is the subset of the Kafka producer the publishers use.
type MessageProducer interface {
	Publish(ctx context.Context, topic string, key []byte, value interface{}) error
	PublishBatch(ctx context.Context, topic string, messages []pkgkafka.Message) error
	Close() error
}

type tickMessage struct {
	Symbol string  `json:"symbol"`
	T      int64   `json:"t"`
	Price  float64 `json:"p"`
	Volume float64 `json:"v"`
}

// KafkaTickPublisher forwards live trades keyed by symbol.
type KafkaTickPublisher struct {
	producer MessageProducer
	topic    string
}

var _ domrepo.TickPublisher = (*KafkaTickPublisher)(nil)

func NewKafkaTickPublisher(producer MessageProducer, topic string) *KafkaTickPublisher {
	return &KafkaTickPublisher{producer: producer, topic: topic}
}

func toTickMessage(t *models.Trade) tickMessage {
	return tickMessage{Symbol: t.Symbol, T: t.Timestamp, Price: t.Price, Volume: t.Volume}
}

func (p *KafkaTickPublisher) Publish(ctx context.Context, t *models.Trade) error {
	return p.producer.Publish(ctx, p.topic, []byte(t.Symbol), toTickMessage(t))
}

func (p *KafkaTickPublisher) PublishBatch(ctx context.Context, trades []*models.Trade) error {
	if len(trades) == 0 {
		return nil
	}
	msgs := make([]pkgkafka.Message, len(trades))
	for i, t := range trades {
		msgs[i] = pkgkafka.Message{Key: []byte(t.Symbol), Value: toTickMessage(t)}
	}
	return p.producer.PublishBatch(ctx, p.topic, msgs)
}

// Close is a no-op; the producer is shared and closed by its owner.
func (p *KafkaTickPublisher) Close() error { return nil }

// DecodeTick parses a trades topic payload.
func DecodeTick(payload []byte) (*models.Trade, error) {
	var m tickMessage
	if err := json.Unmarshal(payload, &m); err != nil {
		return nil, err
	}
	return &models.Trade{Symbol: m.Symbol, Timestamp: m.T, Price: m.Price, Volume: m.Volume}, nil
}

type EventTopics struct {
	Alerts string
	Jobs   string
}

// KafkaEventPublisher publishes alert and job lifecycle events. Job events
// arrive from queue observers, which must not block, so they are buffered
// and written by a background loop; a full buffer drops the event.
type KafkaEventPublisher struct {
	producer MessageProducer
	topics   EventTopics
	log      *logger.Logger
	timeout  time.Duration

	jobs    chan queue.Event
	done    chan struct{}
	mu      sync.Mutex
	closed  bool
	dropped int64
}

var _ service.EventPublisher = (*KafkaEventPublisher)(nil)

func NewKafkaEventPublisher(producer MessageProducer, topics EventTopics, lgr *logger.Logger) *KafkaEventPublisher {
	p := &KafkaEventPublisher{
		producer: producer,
		topics:   topics,
		log:      lgr.With(logger.String("component", "event_publisher")),
		timeout:  5 * time.Second,
		jobs:     make(chan queue.Event, 1024),
		done:     make(chan struct{}),
	}
	go p.loop()
	return p
}

func (p *KafkaEventPublisher) AlertTriggered(ctx context.Context, ev service.AlertTriggeredEvent) error {
	key := []byte(strconv.FormatUint(uint64(ev.AlertID), 10))
	return p.producer.Publish(ctx, p.topics.Alerts, key, ev)
}

// ObserveJob is a queue.Observer.
func (p *KafkaEventPublisher) ObserveJob(ev queue.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	select {
	case p.jobs <- ev:
	default:
		p.dropped++
	}
}

func (p *KafkaEventPublisher) Dropped() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dropped
}

func (p *KafkaEventPublisher) loop() {
	defer close(p.done)
	for ev := range p.jobs {
		ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
		if err := p.producer.Publish(ctx, p.topics.Jobs, []byte(ev.Queue), ev); err != nil {
			p.log.Warn("publish job event failed",
				logger.String("queue", ev.Queue),
				logger.String("job_id", ev.JobID),
				logger.Error(err))
		}
		cancel()
	}
}

// Close drains buffered job events. The producer is closed by its owner.
func (p *KafkaEventPublisher) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.jobs)
	p.mu.Unlock()
	<-p.done
	return nil
}
