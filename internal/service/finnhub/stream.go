package finnhub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"MarketPull/internal/domain/models"
	"MarketPull/internal/domain/service"
	"MarketPull/pkg/logger"

	"github.com/gorilla/websocket"
)

var errNotConnected = errors.New("finnhub stream not connected")

// TradeStream is the websocket trade feed. Reconnects are driven by the
// caller; a read failure closes the channels returned by Read.
type TradeStream struct {
	cfg    Config
	dialer *websocket.Dialer
	log    *logger.Logger

	mu        sync.Mutex
	conn      *websocket.Conn
	connected bool
}

var _ service.MarketStream = (*TradeStream)(nil)

func NewTradeStream(cfg Config, lgr *logger.Logger) *TradeStream {
	if cfg.WebSocketURL == "" {
		cfg.WebSocketURL = DefaultWebSocketURL
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 30 * time.Second
	}
	return &TradeStream{
		cfg:    cfg,
		dialer: websocket.DefaultDialer,
		log:    lgr.With(logger.String("provider", providerName), logger.String("component", "trade_stream")),
	}
}

func (s *TradeStream) Connect(ctx context.Context) error {
	if s.cfg.APIKey == "" {
		return fmt.Errorf("finnhub stream: %w", service.ErrNoCredential)
	}
	u, err := url.Parse(s.cfg.WebSocketURL)
	if err != nil {
		return fmt.Errorf("finnhub stream url: %w", err)
	}
	q := u.Query()
	q.Set("token", s.cfg.APIKey)
	u.RawQuery = q.Encode()

	conn, _, err := s.dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("finnhub connect: %w", err)
	}

	s.mu.Lock()
	if s.conn != nil {
		_ = s.conn.Close()
	}
	s.conn = conn
	s.connected = true
	s.mu.Unlock()

	s.log.Info("connected")
	return nil
}

type controlFrame struct {
	Type   string `json:"type"`
	Symbol string `json:"symbol"`
}

func (s *TradeStream) send(kind string, symbols []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil || !s.connected {
		return errNotConnected
	}
	for _, sym := range symbols {
		if err := s.conn.WriteJSON(controlFrame{Type: kind, Symbol: sym}); err != nil {
			return fmt.Errorf("%s %s: %w", kind, sym, err)
		}
	}
	return nil
}

func (s *TradeStream) Subscribe(_ context.Context, symbols ...string) error {
	if err := s.send("subscribe", symbols); err != nil {
		return err
	}
	s.log.Debug("subscribed", logger.Strings("symbols", symbols))
	return nil
}

func (s *TradeStream) Unsubscribe(_ context.Context, symbols ...string) error {
	return s.send("unsubscribe", symbols)
}

type wireTrade struct {
	S string   `json:"s"`
	P float64  `json:"p"`
	V float64  `json:"v"`
	T int64    `json:"t"` // ms
	C []string `json:"c"`
}

type wireMessage struct {
	Type string      `json:"type"`
	Data []wireTrade `json:"data"`
	Msg  string      `json:"msg"`
}

// Read starts the read and ping loops. Both channels close when ctx ends or
// the connection fails; a failure is reported on the error channel first.
// Trades are dropped when the consumer falls behind.
func (s *TradeStream) Read(ctx context.Context) (<-chan *models.Trade, <-chan error) {
	trades := make(chan *models.Trade, 1024)
	errs := make(chan error, 1)

	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		errs <- errNotConnected
		close(errs)
		close(trades)
		return trades, errs
	}

	stop := make(chan struct{})
	go s.pingLoop(ctx, stop)
	go func() {
		<-ctx.Done()
		// Unblocks ReadMessage.
		_ = conn.SetReadDeadline(time.Now())
	}()

	go func() {
		defer close(stop)
		defer close(trades)
		defer close(errs)
		for {
			_, b, err := conn.ReadMessage()
			if err != nil {
				if ctx.Err() == nil {
					errs <- fmt.Errorf("finnhub read: %w", err)
				}
				return
			}
			var m wireMessage
			if err := json.Unmarshal(b, &m); err != nil {
				continue
			}
			switch m.Type {
			case "trade":
			case "error":
				s.log.Warn("stream error frame", logger.String("msg", m.Msg))
				continue
			default:
				continue
			}
			for _, d := range m.Data {
				t := &models.Trade{Symbol: d.S, Price: d.P, Volume: d.V, Timestamp: d.T, Conditions: d.C}
				select {
				case trades <- t:
				default:
				}
			}
		}
	}()

	return trades, errs
}

func (s *TradeStream) pingLoop(ctx context.Context, stop <-chan struct{}) {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			s.mu.Lock()
			if s.conn != nil {
				_ = s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
			}
			s.mu.Unlock()
		}
	}
}

func (s *TradeStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = false
	if s.conn == nil {
		return nil
	}
	err := s.conn.Close()
	s.conn = nil
	return err
}

func (s *TradeStream) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}
