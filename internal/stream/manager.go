package stream

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"MarketPull/internal/domain/models"
	"MarketPull/internal/domain/service"
	"MarketPull/pkg/logger"
)

// TradeSink receives every trade read from the upstream feed.
type TradeSink interface {
	Process(ctx context.Context, t *models.Trade) error
}

type ManagerConfig struct {
	// Symbols are subscribed on every connect regardless of hub interest.
	Symbols    []string      `yaml:"symbols"`
	BackoffMin time.Duration `yaml:"backoff_min" default:"1s"`
	BackoffMax time.Duration `yaml:"backoff_max" default:"30s"`
}

// ConnectionManager owns the upstream socket lifecycle: connect, subscribe,
// read, and reconnect with exponential backoff. The wanted symbol set
// survives reconnects and is replayed on each new connection.
type ConnectionManager struct {
	stream service.MarketStream
	sink   TradeSink
	cfg    ManagerConfig
	log    *logger.Logger
	sleep  func(ctx context.Context, d time.Duration) error

	mu         sync.Mutex
	wanted     map[string]struct{}
	pinned     map[string]struct{}
	connected  bool
	reconnects int
}

func NewConnectionManager(stream service.MarketStream, sink TradeSink, cfg ManagerConfig, lgr *logger.Logger) *ConnectionManager {
	if cfg.BackoffMin <= 0 {
		cfg.BackoffMin = time.Second
	}
	if cfg.BackoffMax < cfg.BackoffMin {
		cfg.BackoffMax = 30 * time.Second
	}
	m := &ConnectionManager{
		stream: stream,
		sink:   sink,
		cfg:    cfg,
		log:    lgr.With(logger.String("component", "stream_manager")),
		sleep:  sleepCtx,
		wanted: make(map[string]struct{}),
		pinned: make(map[string]struct{}),
	}
	for _, s := range normalize(cfg.Symbols) {
		m.wanted[s] = struct{}{}
		m.pinned[s] = struct{}{}
	}
	return m
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

// Backoff returns the wait before reconnect attempt n (starting at 1).
func (m *ConnectionManager) Backoff(attempt int) time.Duration {
	d := m.cfg.BackoffMin
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= m.cfg.BackoffMax {
			return m.cfg.BackoffMax
		}
	}
	return d
}

// Run keeps the feed connected until ctx is cancelled.
func (m *ConnectionManager) Run(ctx context.Context) error {
	attempt := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := m.session(ctx)
		if ctx.Err() != nil {
			m.setConnected(false)
			_ = m.stream.Close()
			return ctx.Err()
		}
		if err == nil {
			// A session that ended cleanly had been connected; start over.
			attempt = 0
		}

		attempt++
		delay := m.Backoff(attempt)
		m.mu.Lock()
		m.reconnects++
		m.mu.Unlock()
		m.log.Warn("stream disconnected, reconnecting",
			logger.Int("attempt", attempt),
			logger.Duration("backoff_ms", delay),
			logger.Error(err))
		if err := m.sleep(ctx, delay); err != nil {
			return err
		}
	}
}

// session runs one connection until the read side reports an error. It
// returns nil when the connection had been established and later dropped.
func (m *ConnectionManager) session(ctx context.Context) error {
	if err := m.stream.Connect(ctx); err != nil {
		return err
	}
	symbols := m.Wanted()
	if len(symbols) > 0 {
		if err := m.stream.Subscribe(ctx, symbols...); err != nil {
			_ = m.stream.Close()
			return err
		}
	}
	m.setConnected(true)
	m.log.Info("stream connected", logger.Int("symbols", len(symbols)))

	readCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	trades, errs := m.stream.Read(readCtx)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case t, ok := <-trades:
			if !ok {
				trades = nil
				if errs == nil {
					return m.drop(errors.New("stream closed"))
				}
				continue
			}
			if err := m.sink.Process(ctx, t); err != nil {
				m.log.Debug("trade rejected", logger.String("symbol", t.Symbol), logger.Error(err))
			}
		case err, ok := <-errs:
			if !ok {
				errs = nil
				if trades == nil {
					return m.drop(errors.New("stream closed"))
				}
				continue
			}
			return m.drop(err)
		}
	}
}

func (m *ConnectionManager) drop(err error) error {
	m.setConnected(false)
	_ = m.stream.Close()
	m.log.Warn("stream read failed", logger.Error(err))
	return nil
}

func (m *ConnectionManager) setConnected(v bool) {
	m.mu.Lock()
	m.connected = v
	m.mu.Unlock()
}

func (m *ConnectionManager) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *ConnectionManager) Reconnects() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reconnects
}

// Wanted returns the symbols subscribed on every connect.
func (m *ConnectionManager) Wanted() []string {
	m.mu.Lock()
	out := make([]string, 0, len(m.wanted))
	for s := range m.wanted {
		out = append(out, s)
	}
	m.mu.Unlock()
	sort.Strings(out)
	return out
}

// Subscribe adds symbols to the wanted set and, when connected, subscribes
// them upstream right away.
func (m *ConnectionManager) Subscribe(ctx context.Context, symbols ...string) error {
	m.mu.Lock()
	var fresh []string
	for _, s := range normalize(symbols) {
		if _, ok := m.wanted[s]; !ok {
			m.wanted[s] = struct{}{}
			fresh = append(fresh, s)
		}
	}
	connected := m.connected
	m.mu.Unlock()

	if !connected || len(fresh) == 0 {
		return nil
	}
	return m.stream.Subscribe(ctx, fresh...)
}

// Unsubscribe drops symbols from the wanted set. Configured symbols stay.
func (m *ConnectionManager) Unsubscribe(ctx context.Context, symbols ...string) error {
	m.mu.Lock()
	var gone []string
	for _, s := range normalize(symbols) {
		if _, pinned := m.pinned[s]; pinned {
			continue
		}
		if _, ok := m.wanted[s]; ok {
			delete(m.wanted, s)
			gone = append(gone, s)
		}
	}
	connected := m.connected
	m.mu.Unlock()

	if !connected || len(gone) == 0 {
		return nil
	}
	return m.stream.Unsubscribe(ctx, gone...)
}

// Follow keeps the wanted set in step with hub interest, starting with the
// symbols the hub already serves.
func (m *ConnectionManager) Follow(h *Hub) {
	if current := h.Symbols(); len(current) > 0 {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := m.Subscribe(ctx, current...); err != nil {
			m.log.Warn("upstream subscribe failed", logger.Error(err))
		}
		cancel()
	}
	h.OnInterest(func(symbol string, added bool) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		var err error
		if added {
			err = m.Subscribe(ctx, symbol)
		} else {
			err = m.Unsubscribe(ctx, symbol)
		}
		if err != nil {
			m.log.Warn("upstream subscription change failed",
				logger.String("symbol", symbol),
				logger.Bool("added", added),
				logger.Error(err))
		}
	})
}
