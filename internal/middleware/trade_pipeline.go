package middleware

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"MarketPull/internal/domain/models"
	domrepo "MarketPull/internal/domain/repository"
	"MarketPull/pkg/logger"

	"golang.org/x/time/rate"
)

var (
	ErrInvalidTrade = errors.New("invalid trade")
	ErrThrottled    = errors.New("trade throttled")
)

// Fanout delivers a trade to live subscribers.
type Fanout interface {
	Publish(t *models.Trade) int
}

// Archiver persists or forwards trades. A failure is retried from the
// pipeline buffer.
type Archiver interface {
	Process(ctx context.Context, t *models.Trade) error
}

type PipelineConfig struct {
	// MaxRPS caps accepted trades per symbol per second. Zero disables it.
	MaxRPS     float64       `yaml:"max_rps" default:"20"`
	BufferSize int           `yaml:"buffer_size" default:"1000"`
	RetryMin   time.Duration `yaml:"retry_min" default:"50ms"`
	RetryMax   time.Duration `yaml:"retry_max" default:"2s"`
}

// TradePipeline sits between the upstream feed and its consumers: it
// validates and throttles trades, fans them out to live subscribers, and
// hands them to the archiver, buffering whatever the archiver rejects.
type TradePipeline struct {
	fanout   Fanout
	archiver Archiver
	metrics  domrepo.Metrics
	cfg      PipelineConfig
	log      *logger.Logger

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	buf      chan *models.Trade
	stop     chan struct{}
	done     chan struct{}
	started  bool
	now      func() time.Time
}

func NewTradePipeline(fanout Fanout, archiver Archiver, metrics domrepo.Metrics, cfg PipelineConfig, lgr *logger.Logger) *TradePipeline {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1000
	}
	if cfg.RetryMin <= 0 {
		cfg.RetryMin = 50 * time.Millisecond
	}
	if cfg.RetryMax < cfg.RetryMin {
		cfg.RetryMax = 2 * time.Second
	}
	if metrics == nil {
		metrics = domrepo.NopMetrics{}
	}
	return &TradePipeline{
		fanout:   fanout,
		archiver: archiver,
		metrics:  metrics,
		cfg:      cfg,
		log:      lgr.With(logger.String("component", "trade_pipeline")),
		limiters: make(map[string]*rate.Limiter),
		buf:      make(chan *models.Trade, cfg.BufferSize),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
		now:      time.Now,
	}
}

// Start launches the retry loop for buffered trades.
func (p *TradePipeline) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started || p.archiver == nil {
		return
	}
	p.started = true
	go p.drain(ctx)
}

func (p *TradePipeline) drain(ctx context.Context) {
	defer close(p.done)
	backoff := p.cfg.RetryMin
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stop:
			return
		case t := <-p.buf:
			if err := p.archiver.Process(ctx, t); err != nil {
				p.metrics.RecordError("pipeline_retry")
				p.requeue(t)
				select {
				case <-time.After(backoff):
				case <-ctx.Done():
					return
				case <-p.stop:
					return
				}
				if backoff *= 2; backoff > p.cfg.RetryMax {
					backoff = p.cfg.RetryMax
				}
				continue
			}
			backoff = p.cfg.RetryMin
		}
	}
}

// Stop ends the retry loop. Buffered trades are abandoned.
func (p *TradePipeline) Stop() {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return
	}
	p.started = false
	p.mu.Unlock()
	close(p.stop)
	<-p.done
}

// Buffered returns the number of trades waiting for the archiver.
func (p *TradePipeline) Buffered() int { return len(p.buf) }

// Process implements the stream sink.
func (p *TradePipeline) Process(ctx context.Context, t *models.Trade) error {
	if err := validateTrade(t); err != nil {
		p.metrics.RecordError("pipeline_validate")
		return err
	}
	t.Symbol = strings.ToUpper(t.Symbol)
	if !p.allow(t.Symbol) {
		p.metrics.RecordError("pipeline_throttle")
		return ErrThrottled
	}

	p.metrics.RecordTrade(t.Symbol, t.Price)
	if p.fanout != nil {
		p.fanout.Publish(t)
	}
	if p.archiver == nil {
		return nil
	}
	if err := p.archiver.Process(ctx, t); err != nil {
		p.metrics.RecordError("pipeline_archive")
		p.requeue(t)
		return fmt.Errorf("archive trade: %w", err)
	}
	return nil
}

func (p *TradePipeline) requeue(t *models.Trade) {
	select {
	case p.buf <- t:
	default:
		p.metrics.RecordError("pipeline_buffer_full")
		p.log.Warn("trade buffer full, dropping", logger.String("symbol", t.Symbol))
	}
}

func validateTrade(t *models.Trade) error {
	switch {
	case t == nil:
		return fmt.Errorf("%w: nil", ErrInvalidTrade)
	case strings.TrimSpace(t.Symbol) == "":
		return fmt.Errorf("%w: empty symbol", ErrInvalidTrade)
	case t.Timestamp <= 0:
		return fmt.Errorf("%w: timestamp %d", ErrInvalidTrade, t.Timestamp)
	case t.Price <= 0 || t.Volume < 0:
		return fmt.Errorf("%w: price %v volume %v", ErrInvalidTrade, t.Price, t.Volume)
	}
	return nil
}

func (p *TradePipeline) allow(symbol string) bool {
	if p.cfg.MaxRPS <= 0 {
		return true
	}
	p.mu.Lock()
	lim, ok := p.limiters[symbol]
	if !ok {
		burst := int(p.cfg.MaxRPS)
		if burst < 1 {
			burst = 1
		}
		lim = rate.NewLimiter(rate.Limit(p.cfg.MaxRPS), burst)
		p.limiters[symbol] = lim
	}
	p.mu.Unlock()
	return lim.AllowN(p.now(), 1)
}
