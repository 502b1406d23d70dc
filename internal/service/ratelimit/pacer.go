package ratelimit

import (
	"context"
	"errors"
	"sync"
	"time"

	"MarketPull/internal/domain/service"
	"MarketPull/pkg/logger"

	"golang.org/x/time/rate"
)

// PacerConfig controls request spacing for one upstream provider.
type PacerConfig struct {
	// MinInterval is the minimum spacing between calls. Zero disables
	// spacing.
	MinInterval time.Duration `yaml:"min_interval" default:"1s"`
	// Cooldown is the pause after a 429 when the provider gives no
	// Retry-After hint, or a shorter one.
	Cooldown time.Duration `yaml:"cooldown" default:"60s"`
	// MaxRetries bounds how often Do retries one call after a 429.
	MaxRetries int `yaml:"max_retries" default:"3"`
}

// Pacer spaces calls to a provider and pauses everyone after a 429.
type Pacer struct {
	name    string
	cfg     PacerConfig
	limiter *rate.Limiter
	log     *logger.Logger

	mu          sync.Mutex
	pausedUntil time.Time
	pauses      int
	onPause     func(provider string)

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

type PacerOption func(*Pacer)

// WithSleep replaces the blocking sleep, for tests.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) PacerOption {
	return func(p *Pacer) { p.sleep = fn }
}

// WithPauseHook is called on every cool-down.
func WithPauseHook(fn func(provider string)) PacerOption {
	return func(p *Pacer) { p.onPause = fn }
}

func NewPacer(name string, cfg PacerConfig, lgr *logger.Logger, opts ...PacerOption) *Pacer {
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 60 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	limit := rate.Inf
	if cfg.MinInterval > 0 {
		limit = rate.Every(cfg.MinInterval)
	}
	p := &Pacer{
		name:    name,
		cfg:     cfg,
		limiter: rate.NewLimiter(limit, 1),
		log:     lgr.With(logger.String("provider", name)),
		now:     time.Now,
		sleep:   sleepCtx,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Wait blocks until any cool-down has passed and the next slot is free.
func (p *Pacer) Wait(ctx context.Context) error {
	p.mu.Lock()
	until := p.pausedUntil
	p.mu.Unlock()

	if d := until.Sub(p.now()); d > 0 {
		if err := p.sleep(ctx, d); err != nil {
			return err
		}
	}
	return p.limiter.Wait(ctx)
}

// Cooldown starts a pause of at least the configured cool-down, or hint
// when longer, and returns its length.
func (p *Pacer) Cooldown(hint time.Duration) time.Duration {
	d := p.cfg.Cooldown
	if hint > d {
		d = hint
	}
	p.mu.Lock()
	until := p.now().Add(d)
	if until.After(p.pausedUntil) {
		p.pausedUntil = until
	}
	p.pauses++
	p.mu.Unlock()

	if p.onPause != nil {
		p.onPause(p.name)
	}
	p.log.Warn("rate limited, cooling down", logger.Duration("cooldown_ms", d))
	return d
}

// Pauses returns how many cool-downs were started.
func (p *Pacer) Pauses() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pauses
}

// Do runs fn in the next slot. A rate-limit error starts a cool-down and
// retries fn up to MaxRetries times; other errors return immediately.
func (p *Pacer) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	for attempt := 0; ; attempt++ {
		if err := p.Wait(ctx); err != nil {
			return err
		}
		err := fn(ctx)
		if err == nil || !errors.Is(err, service.ErrRateLimited) {
			return err
		}
		hint, _ := service.RetryAfter(err)
		p.Cooldown(hint)
		if attempt >= p.cfg.MaxRetries {
			return err
		}
	}
}
