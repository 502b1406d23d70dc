package usecase

import (
	"context"
	"errors"
	"sync"

	"MarketPull/internal/middleware"
	"MarketPull/internal/stream"
	"MarketPull/pkg/logger"
)

// TradeCollector owns the live trade path: upstream connection, pipeline
// and the subscriber hub.
type TradeCollector struct {
	manager  *stream.ConnectionManager
	pipeline *middleware.TradePipeline
	hub      *stream.Hub
	log      *logger.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewTradeCollector(manager *stream.ConnectionManager, pipeline *middleware.TradePipeline, hub *stream.Hub, lgr *logger.Logger) *TradeCollector {
	return &TradeCollector{
		manager:  manager,
		pipeline: pipeline,
		hub:      hub,
		log:      lgr.With(logger.String("component", "trade_collector")),
	}
}

// Start runs the connection manager in the background. Calling it twice is
// a no-op.
func (c *TradeCollector) Start(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		return
	}
	ctx, c.cancel = context.WithCancel(ctx)
	c.done = make(chan struct{})

	c.manager.Follow(c.hub)
	c.pipeline.Start(ctx)
	go func() {
		defer close(c.done)
		if err := c.manager.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			c.log.Error("trade stream stopped", logger.Error(err))
		}
	}()
	c.log.Info("trade collector started", logger.Strings("symbols", c.manager.Wanted()))
}

func (c *TradeCollector) Connected() bool { return c.manager.Connected() }

func (c *TradeCollector) Hub() *stream.Hub { return c.hub }

// Shutdown stops the stream and waits for it to exit.
func (c *TradeCollector) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.cancel = nil
	c.mu.Unlock()
	if cancel == nil {
		return nil
	}

	cancel()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	c.pipeline.Stop()
	return nil
}
