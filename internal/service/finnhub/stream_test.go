package finnhub

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"MarketPull/internal/domain/service"
	"MarketPull/pkg/logger"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newWSServer(t *testing.T, fn func(conn *websocket.Conn)) string {
	t.Helper()
	up := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "k", r.URL.Query().Get("token"))
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		fn(conn)
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestTradeStream_SubscribeAndRead(t *testing.T) {
	got := make(chan controlFrame, 1)
	url := newWSServer(t, func(conn *websocket.Conn) {
		var f controlFrame
		if err := conn.ReadJSON(&f); err != nil {
			return
		}
		got <- f
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"ping"}`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"trade","data":[{"s":"AAPL","p":189.5,"v":10,"t":1700000000123,"c":["1"]}]}`))
		// Hold the connection until the client goes away.
		_, _, _ = conn.ReadMessage()
	})

	s := NewTradeStream(Config{APIKey: "k", WebSocketURL: url}, logger.NewNop())
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, s.Connect(ctx))
	assert.True(t, s.IsConnected())
	require.NoError(t, s.Subscribe(ctx, "AAPL"))
	assert.Equal(t, controlFrame{Type: "subscribe", Symbol: "AAPL"}, <-got)

	readCtx, stop := context.WithCancel(ctx)
	trades, _ := s.Read(readCtx)
	select {
	case tr := <-trades:
		assert.Equal(t, "AAPL", tr.Symbol)
		assert.Equal(t, 189.5, tr.Price)
		assert.Equal(t, int64(1700000000123), tr.Timestamp)
		assert.Equal(t, []string{"1"}, tr.Conditions)
	case <-ctx.Done():
		t.Fatal("no trade")
	}

	stop()
	for range trades {
	}
	require.NoError(t, s.Close())
	assert.False(t, s.IsConnected())
}

func TestTradeStream_ReadReportsDisconnect(t *testing.T) {
	url := newWSServer(t, func(conn *websocket.Conn) {})

	s := NewTradeStream(Config{APIKey: "k", WebSocketURL: url}, logger.NewNop())
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Connect(ctx))

	_, errs := s.Read(ctx)
	select {
	case err := <-errs:
		assert.Error(t, err)
	case <-ctx.Done():
		t.Fatal("disconnect not reported")
	}
}

func TestTradeStream_RequiresKey(t *testing.T) {
	s := NewTradeStream(Config{}, logger.NewNop())
	err := s.Connect(context.Background())
	assert.True(t, errors.Is(err, service.ErrNoCredential))
	assert.ErrorIs(t, s.Subscribe(context.Background(), "AAPL"), errNotConnected)
}
