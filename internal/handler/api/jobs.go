package api

import (
	"context"
	"math"

	"MarketPull/internal/domain/models"
	"MarketPull/internal/service/ratelimit"
	xhttp "MarketPull/pkg/http"
	"MarketPull/pkg/logger"
	"MarketPull/pkg/queue"

	"github.com/labstack/echo/v4"
)

// Triggers is the manual job surface.
type Triggers interface {
	TriggerEOD(ctx context.Context, req models.EODTriggerRequest) (*queue.Message, error)
	TriggerSymbolSync(ctx context.Context, req models.SymbolSyncRequest) (*queue.Message, error)
	Backfill(ctx context.Context, req models.BackfillRequest) (interface{}, error)
	TriggerMetrics(ctx context.Context, req models.MetricsTriggerRequest) (*queue.Message, error)
	TriggerSeed(ctx context.Context, req models.SeedRequest) (*queue.Message, error)
	TriggerIntraday(ctx context.Context, req models.IntradayTriggerRequest) (*queue.Message, error)
	TriggerAlerts(ctx context.Context, source string) (*queue.Message, error)
	SubmitBacktest(ctx context.Context, req models.BacktestRequest) (*models.Backtest, error)
	Status(ctx context.Context, family string, limit int) (*queue.Status, error)
	Job(ctx context.Context, family, id string) (*queue.Message, error)
}

// BacktestReader loads stored backtest results.
type BacktestReader interface {
	Get(ctx context.Context, id uint) (*models.Backtest, error)
}

// RateLimit is the per-client token bucket applied to trigger endpoints.
type RateLimit struct {
	Burst  float64
	Refill float64
}

type JobsHandler struct {
	triggers  Triggers
	backtests BacktestReader
	limiter   *ratelimit.Limiter
	rate      RateLimit
	log       *logger.Logger
}

func NewJobsHandler(triggers Triggers, backtests BacktestReader, limiter *ratelimit.Limiter, rate RateLimit, lgr *logger.Logger) *JobsHandler {
	if limiter == nil {
		limiter = ratelimit.New()
	}
	if rate.Burst <= 0 {
		rate.Burst = 10
	}
	if rate.Refill <= 0 {
		rate.Refill = 0.5
	}
	return &JobsHandler{
		triggers:  triggers,
		backtests: backtests,
		limiter:   limiter,
		rate:      rate,
		log:       lgr.With(logger.String("handler", "jobs")),
	}
}

func (h *JobsHandler) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/api/v1")

	g.POST("/jobs/eod", h.EOD, h.throttle)
	g.POST("/jobs/symbol-sync", h.SymbolSync, h.throttle)
	g.POST("/backfill", h.Backfill, h.throttle)
	g.POST("/jobs/metrics", h.Metrics, h.throttle)
	g.POST("/jobs/seed", h.Seed, h.throttle)
	g.POST("/jobs/intraday", h.Intraday, h.throttle)
	g.POST("/jobs/alerts", h.Alerts, h.throttle)
	g.POST("/jobs/backtest", h.Backtest, h.throttle)

	g.GET("/jobs/:family", h.Status)
	g.GET("/jobs/:family/:id", h.Job)
	g.GET("/backtests/:id", h.BacktestResult)
}

func (h *JobsHandler) throttle(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if !h.limiter.Allow("trigger:"+c.RealIP(), h.rate.Burst, h.rate.Refill) {
			h.log.Warn("trigger rate limited",
				logger.String("remote", c.RealIP()),
				logger.String("route", c.Path()))
			return xhttp.TooManyRequestsResponse(c, int(math.Ceil(1/h.rate.Refill)))
		}
		return next(c)
	}
}

func (h *JobsHandler) accepted(c echo.Context, msg *queue.Message, err error) error {
	if err != nil {
		h.log.Error("enqueue failed", logger.String("route", c.Path()), logger.Error(err))
		return xhttp.AppErrorResponse(c, appError(err))
	}
	return xhttp.AcceptedResponse(c, msg)
}

func (h *JobsHandler) EOD(c echo.Context) error {
	req := &models.EODTriggerRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	msg, err := h.triggers.TriggerEOD(c.Request().Context(), *req)
	return h.accepted(c, msg, err)
}

func (h *JobsHandler) SymbolSync(c echo.Context) error {
	req := &models.SymbolSyncRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	msg, err := h.triggers.TriggerSymbolSync(c.Request().Context(), *req)
	return h.accepted(c, msg, err)
}

// Backfill runs inline unless async is set, in which case it is queued.
func (h *JobsHandler) Backfill(c echo.Context) error {
	req := &models.BackfillRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	out, err := h.triggers.Backfill(c.Request().Context(), *req)
	if err != nil {
		h.log.Error("backfill failed", logger.String("symbol", req.Symbol), logger.Error(err))
		return xhttp.AppErrorResponse(c, appError(err))
	}
	if req.Async {
		return xhttp.AcceptedResponse(c, out)
	}
	return xhttp.SuccessResponse(c, out)
}

func (h *JobsHandler) Metrics(c echo.Context) error {
	req := &models.MetricsTriggerRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	msg, err := h.triggers.TriggerMetrics(c.Request().Context(), *req)
	return h.accepted(c, msg, err)
}

func (h *JobsHandler) Seed(c echo.Context) error {
	req := &models.SeedRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	msg, err := h.triggers.TriggerSeed(c.Request().Context(), *req)
	return h.accepted(c, msg, err)
}

func (h *JobsHandler) Intraday(c echo.Context) error {
	req := &models.IntradayTriggerRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	msg, err := h.triggers.TriggerIntraday(c.Request().Context(), *req)
	return h.accepted(c, msg, err)
}

func (h *JobsHandler) Alerts(c echo.Context) error {
	msg, err := h.triggers.TriggerAlerts(c.Request().Context(), "manual")
	return h.accepted(c, msg, err)
}

func (h *JobsHandler) Backtest(c echo.Context) error {
	req := &models.BacktestRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	bt, err := h.triggers.SubmitBacktest(c.Request().Context(), *req)
	if err != nil {
		return xhttp.AppErrorResponse(c, appError(err))
	}
	return xhttp.AcceptedResponse(c, bt)
}

func (h *JobsHandler) Status(c echo.Context) error {
	req := &models.JobStatusRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	st, err := h.triggers.Status(c.Request().Context(), req.Family, req.Limit)
	if err != nil {
		return xhttp.AppErrorResponse(c, appError(err))
	}
	return xhttp.SuccessResponse(c, st)
}

func (h *JobsHandler) Job(c echo.Context) error {
	req := &models.JobDetailRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	msg, err := h.triggers.Job(c.Request().Context(), req.Family, req.ID)
	if err != nil {
		return xhttp.AppErrorResponse(c, appError(err))
	}
	return xhttp.SuccessResponse(c, msg)
}

func (h *JobsHandler) BacktestResult(c echo.Context) error {
	req := &models.BacktestGetRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	if h.backtests == nil {
		return xhttp.AppErrorResponse(c, xhttp.NotFoundError("backtests are not enabled"))
	}
	bt, err := h.backtests.Get(c.Request().Context(), req.ID)
	if err != nil {
		return xhttp.AppErrorResponse(c, appError(err))
	}
	return xhttp.SuccessResponse(c, bt)
}
