package api

import (
	"net/http"
	"time"

	"MarketPull/internal/stream"
	xhttp "MarketPull/pkg/http"
	"MarketPull/pkg/logger"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = wsPongWait * 9 / 10
	wsMaxSymbols = 50
)

// TradesHandler attaches websocket clients to the trade hub.
type TradesHandler struct {
	hub      *stream.Hub
	upgrader websocket.Upgrader
	log      *logger.Logger
}

func NewTradesHandler(hub *stream.Hub, lgr *logger.Logger) *TradesHandler {
	return &TradesHandler{
		hub: hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		log: lgr.With(logger.String("handler", "trades_ws")),
	}
}

func (h *TradesHandler) RegisterRoutes(e *echo.Echo) {
	e.GET("/ws/trades", h.Trades)
}

// Trades streams every trade for ?symbols=AAPL,MSFT as a JSON text frame.
// Client frames are ignored apart from close and pong handling.
func (h *TradesHandler) Trades(c echo.Context) error {
	symbols := xhttp.SplitList(c.QueryParam("symbols"))
	if len(symbols) == 0 {
		return xhttp.AppErrorResponse(c, xhttp.BadRequestError("symbols is required").WithField("symbols"))
	}
	if len(symbols) > wsMaxSymbols {
		return xhttp.AppErrorResponse(c, xhttp.BadRequestErrorf("at most %d symbols", wsMaxSymbols).WithField("symbols"))
	}

	sub, err := h.hub.Subscribe(symbols...)
	if err != nil {
		return xhttp.AppErrorResponse(c, xhttp.BadRequestError(err.Error()).WithField("symbols"))
	}
	conn, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		h.hub.Unsubscribe(sub)
		h.log.Warn("websocket upgrade failed", logger.Error(err))
		return nil
	}
	h.log.Info("trade subscriber attached",
		logger.String("remote", c.RealIP()),
		logger.Strings("symbols", sub.Symbols()))

	closed := make(chan struct{})
	go h.readPump(conn, closed)
	h.writePump(conn, sub, closed)

	h.hub.Unsubscribe(sub)
	_ = conn.Close()
	h.log.Info("trade subscriber detached",
		logger.String("remote", c.RealIP()),
		logger.Int64("dropped", sub.Dropped()))
	return nil
}

func (h *TradesHandler) readPump(conn *websocket.Conn, closed chan<- struct{}) {
	defer close(closed)
	conn.SetReadLimit(4096)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *TradesHandler) writePump(conn *websocket.Conn, sub *stream.Subscription, closed <-chan struct{}) {
	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()

	for {
		select {
		case <-closed:
			return
		case t, ok := <-sub.C:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, ""), time.Now().Add(wsWriteWait))
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(t); err != nil {
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return
			}
		}
	}
}
