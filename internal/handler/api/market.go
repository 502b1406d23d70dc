package api

import (
	"context"
	"time"

	"MarketPull/internal/domain/models"
	domrepo "MarketPull/internal/domain/repository"
	"MarketPull/internal/usecase"
	xhttp "MarketPull/pkg/http"
	"MarketPull/pkg/logger"

	"github.com/labstack/echo/v4"
)

// MarketReader is the read side of the market data service.
type MarketReader interface {
	GetCandles(ctx context.Context, q usecase.CandleQuery) (*models.CandleResult, error)
	GetMetrics(ctx context.Context, symbol string) (*models.FinancialMetric, error)
}

type MarketHandler struct {
	market MarketReader
	log    *logger.Logger
	now    func() time.Time
}

func NewMarketHandler(market MarketReader, lgr *logger.Logger) *MarketHandler {
	return &MarketHandler{
		market: market,
		log:    lgr.With(logger.String("handler", "market")),
		now:    time.Now,
	}
}

func (h *MarketHandler) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/api/v1")
	g.GET("/candles/:symbol", h.Candles)
	g.GET("/metrics/:symbol", h.Metrics)
}

// defaultLookback is the window used when from is omitted.
func defaultLookback(res domrepo.Resolution) time.Duration {
	if res.IsDaily() {
		return 365 * 24 * time.Hour
	}
	return 24 * time.Hour
}

func (h *MarketHandler) Candles(c echo.Context) error {
	req := &models.CandlesRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	res, err := domrepo.ParseResolution(req.Resolution)
	if err != nil {
		return xhttp.AppErrorResponse(c, xhttp.BadRequestError(err.Error()))
	}

	to := xhttp.ParseTimeDefault(req.To, h.now().UTC())
	from := xhttp.ParseTimeDefault(req.From, to.Add(-defaultLookback(res)))

	result, err := h.market.GetCandles(c.Request().Context(), usecase.CandleQuery{
		Symbol:     req.Symbol,
		Resolution: res,
		From:       from,
		To:         to,
		Scope:      usecase.Scope(req.Scope),
	})
	if err != nil {
		h.log.Warn("candle read failed", logger.String("symbol", req.Symbol), logger.Error(err))
		return xhttp.AppErrorResponse(c, appError(err))
	}
	return xhttp.CachedResponse(c, result.Source == models.SourceCache, result)
}

// Metrics serves the stored snapshot only. A stale or missing snapshot is
// a 404; refreshing is a job.
func (h *MarketHandler) Metrics(c echo.Context) error {
	req := &models.SymbolRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	m, err := h.market.GetMetrics(c.Request().Context(), req.Symbol)
	if err != nil {
		return xhttp.AppErrorResponse(c, appError(err))
	}
	return xhttp.SuccessResponse(c, m)
}
