package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"MarketPull/internal/domain/models"
	domrepo "MarketPull/internal/domain/repository"
	"MarketPull/internal/scheduler"
	"MarketPull/internal/service/ratelimit"
	"MarketPull/internal/stream"
	"MarketPull/internal/usecase"
	xhttp "MarketPull/pkg/http"
	"MarketPull/pkg/logger"
	"MarketPull/pkg/queue"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeMarket struct {
	query   usecase.CandleQuery
	result  *models.CandleResult
	err     error
	metrics *models.FinancialMetric
}

func (f *fakeMarket) GetCandles(_ context.Context, q usecase.CandleQuery) (*models.CandleResult, error) {
	f.query = q
	return f.result, f.err
}

func (f *fakeMarket) GetMetrics(_ context.Context, symbol string) (*models.FinancialMetric, error) {
	if f.metrics == nil {
		return nil, domrepo.ErrNotFound
	}
	return f.metrics, nil
}

type fakeTriggers struct {
	eod      *models.EODTriggerRequest
	seed     *models.SeedRequest
	backfill *models.BackfillRequest
	source   string
	err      error
}

func (f *fakeTriggers) msg(q, typ string) (*queue.Message, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &queue.Message{ID: "job-1", Queue: q, Type: typ, State: queue.StateQueued}, nil
}

func (f *fakeTriggers) TriggerEOD(_ context.Context, req models.EODTriggerRequest) (*queue.Message, error) {
	f.eod = &req
	return f.msg(models.QueueEOD, models.JobEODDispatch)
}

func (f *fakeTriggers) TriggerSymbolSync(context.Context, models.SymbolSyncRequest) (*queue.Message, error) {
	return f.msg(models.QueueSymbolSync, models.JobSymbolSync)
}

func (f *fakeTriggers) Backfill(_ context.Context, req models.BackfillRequest) (interface{}, error) {
	f.backfill = &req
	if f.err != nil {
		return nil, f.err
	}
	return &models.IngestResult{Symbol: req.Symbol}, nil
}

func (f *fakeTriggers) TriggerMetrics(context.Context, models.MetricsTriggerRequest) (*queue.Message, error) {
	return f.msg(models.QueueMetrics, models.JobMetricsRefresh)
}

func (f *fakeTriggers) TriggerSeed(_ context.Context, req models.SeedRequest) (*queue.Message, error) {
	f.seed = &req
	return f.msg(models.QueueSeed, models.JobBulkSeed)
}

func (f *fakeTriggers) TriggerIntraday(context.Context, models.IntradayTriggerRequest) (*queue.Message, error) {
	return f.msg(models.QueueIntraday, models.JobIntraday)
}

func (f *fakeTriggers) TriggerAlerts(_ context.Context, source string) (*queue.Message, error) {
	f.source = source
	return f.msg(models.QueueAlerts, models.JobAlertEvaluation)
}

func (f *fakeTriggers) SubmitBacktest(_ context.Context, req models.BacktestRequest) (*models.Backtest, error) {
	return &models.Backtest{ID: 7, Status: models.BacktestPending, HoldDays: req.HoldDays}, f.err
}

func (f *fakeTriggers) Status(_ context.Context, family string, limit int) (*queue.Status, error) {
	name, err := scheduler.QueueName(family)
	if err != nil {
		return nil, err
	}
	return &queue.Status{Queue: name, Waiting: int64(limit)}, nil
}

func (f *fakeTriggers) Job(_ context.Context, family, id string) (*queue.Message, error) {
	if id != "job-1" {
		return nil, queue.ErrJobNotFound
	}
	return f.msg(family, models.JobEODSymbol)
}

type envelope struct {
	Status  int             `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func do(t *testing.T, e *echo.Echo, method, target, body string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	var env envelope
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	}
	return rec, env
}

func newServer(hs ...xhttp.Handler) *echo.Echo {
	e := echo.New()
	xhttp.Handlers(hs).RegisterRoutes(e)
	return e
}

func TestCandles(t *testing.T) {
	m := &fakeMarket{result: &models.CandleResult{
		Symbol: "AAPL",
		Series: models.SeriesFromCandles([]models.Candle{{Timestamp: 1704153600, Close: decimal.NewFromInt(185)}}),
		Source: models.SourceCache,
	}}
	h := NewMarketHandler(m, logger.NewNop())
	h.now = func() time.Time { return time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC) }
	e := newServer(h)

	rec, env := do(t, e, http.MethodGet, "/api/v1/candles/aapl?from=2024-01-01&to=2024-02-01&scope=local", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "hit", rec.Header().Get("X-Cache"))
	assert.Equal(t, "aapl", m.query.Symbol)
	assert.Equal(t, domrepo.ResD, m.query.Resolution)
	assert.Equal(t, usecase.ScopeLocal, m.query.Scope)
	assert.True(t, m.query.From.Equal(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)))

	var got models.CandleResult
	require.NoError(t, json.Unmarshal(env.Data, &got))
	assert.Equal(t, models.StatusOK, got.Series.Status)

	// Omitted bounds default to a year back from now for daily bars.
	_, _ = do(t, e, http.MethodGet, "/api/v1/candles/MSFT", "")
	assert.True(t, m.query.To.Equal(h.now()))
	assert.Equal(t, 365*24*time.Hour, m.query.To.Sub(m.query.From))
}

func TestCandlesErrors(t *testing.T) {
	m := &fakeMarket{}
	e := newServer(NewMarketHandler(m, logger.NewNop()))

	rec, _ := do(t, e, http.MethodGet, "/api/v1/candles/AAPL?resolution=7", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	m.err = errors.New("store down")
	rec, _ = do(t, e, http.MethodGet, "/api/v1/candles/AAPL", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	m.err = usecase.ErrInvalidQuery
	rec, _ = do(t, e, http.MethodGet, "/api/v1/candles/AAPL", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMetricsNotFound(t *testing.T) {
	m := &fakeMarket{}
	e := newServer(NewMarketHandler(m, logger.NewNop()))

	rec, _ := do(t, e, http.MethodGet, "/api/v1/metrics/AAPL", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	pe := 28.5
	m.metrics = &models.FinancialMetric{SymbolID: 1, PE: &pe}
	rec, _ = do(t, e, http.MethodGet, "/api/v1/metrics/AAPL", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func newJobs(tr *fakeTriggers, rate RateLimit) *echo.Echo {
	return newServer(NewJobsHandler(tr, nil, ratelimit.New(), rate, logger.NewNop()))
}

func TestTriggerEOD(t *testing.T) {
	tr := &fakeTriggers{}
	e := newJobs(tr, RateLimit{Burst: 100, Refill: 100})

	rec, env := do(t, e, http.MethodPost, "/api/v1/jobs/eod", `{"symbols":["AAPL","MSFT"]}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, http.StatusAccepted, env.Status)
	assert.Equal(t, []string{"AAPL", "MSFT"}, tr.eod.Symbols)
	assert.Equal(t, 10, tr.eod.WindowDays)

	var msg queue.Message
	require.NoError(t, json.Unmarshal(env.Data, &msg))
	assert.Equal(t, "job-1", msg.ID)

	// Neither symbols nor all.
	rec, _ = do(t, e, http.MethodPost, "/api/v1/jobs/eod", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTriggerSeedDefaults(t *testing.T) {
	tr := &fakeTriggers{}
	e := newJobs(tr, RateLimit{Burst: 100, Refill: 100})

	rec, _ := do(t, e, http.MethodPost, "/api/v1/jobs/seed", `{"years":2,"metrics":false}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, 2, tr.seed.Years)
	assert.Equal(t, 100, tr.seed.Limit)
	require.NotNil(t, tr.seed.Candles)
	assert.True(t, *tr.seed.Candles)
	require.NotNil(t, tr.seed.Metrics)
	assert.False(t, *tr.seed.Metrics)
}

func TestBackfillSyncAndAsync(t *testing.T) {
	tr := &fakeTriggers{}
	e := newJobs(tr, RateLimit{Burst: 100, Refill: 100})

	rec, _ := do(t, e, http.MethodPost, "/api/v1/backfill", `{"symbol":"IBM","from":1700000000,"to":1700864000}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "D", tr.backfill.Resolution)

	rec, _ = do(t, e, http.MethodPost, "/api/v1/backfill", `{"symbol":"IBM","from":1700000000,"to":1700864000,"async":true}`)
	assert.Equal(t, http.StatusAccepted, rec.Code)

	rec, _ = do(t, e, http.MethodPost, "/api/v1/backfill", `{"symbol":"IBM","from":1700864000,"to":1700000000}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	tr.err = usecase.ErrSyncInProgress
	rec, _ = do(t, e, http.MethodPost, "/api/v1/backfill", `{"symbol":"IBM","from":1700000000,"to":1700864000}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestManualAlertPass(t *testing.T) {
	tr := &fakeTriggers{}
	e := newJobs(tr, RateLimit{Burst: 100, Refill: 100})

	rec, _ := do(t, e, http.MethodPost, "/api/v1/jobs/alerts", "")
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "manual", tr.source)
}

func TestTriggerRateLimited(t *testing.T) {
	tr := &fakeTriggers{}
	e := newJobs(tr, RateLimit{Burst: 2, Refill: 0.25})

	for i := 0; i < 2; i++ {
		rec, _ := do(t, e, http.MethodPost, "/api/v1/jobs/alerts", "")
		require.Equal(t, http.StatusAccepted, rec.Code)
	}
	rec, _ := do(t, e, http.MethodPost, "/api/v1/jobs/alerts", "")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "4", rec.Header().Get("Retry-After"))

	// Status reads are not throttled.
	rec, _ = do(t, e, http.MethodGet, "/api/v1/jobs/eod", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestJobStatus(t *testing.T) {
	e := newJobs(&fakeTriggers{}, RateLimit{})

	rec, env := do(t, e, http.MethodGet, "/api/v1/jobs/eod?limit=5", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var st queue.Status
	require.NoError(t, json.Unmarshal(env.Data, &st))
	assert.Equal(t, models.QueueEOD, st.Queue)
	assert.Equal(t, int64(5), st.Waiting)

	rec, _ = do(t, e, http.MethodGet, "/api/v1/jobs/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, _ = do(t, e, http.MethodGet, "/api/v1/jobs/eod/job-1", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, _ = do(t, e, http.MethodGet, "/api/v1/jobs/eod/job-2", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestTradesWebsocket(t *testing.T) {
	hub := stream.NewHub(8, nil)
	srv := httptest.NewServer(newServer(NewTradesHandler(hub, logger.NewNop())))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/trades?symbols=aapl,msft"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.Subscribers("AAPL") == 1 }, 2*time.Second, 10*time.Millisecond)
	hub.Publish(&models.Trade{Symbol: "IBM", Price: 1, Timestamp: 1})
	hub.Publish(&models.Trade{Symbol: "MSFT", Price: 410.5, Volume: 3, Timestamp: 1700000000000})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var tr models.Trade
	require.NoError(t, conn.ReadJSON(&tr))
	assert.Equal(t, "MSFT", tr.Symbol)
	assert.Equal(t, 410.5, tr.Price)

	require.NoError(t, conn.Close())
	assert.Eventually(t, func() bool { return hub.Subscribers("AAPL") == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestTradesWebsocketRequiresSymbols(t *testing.T) {
	e := newServer(NewTradesHandler(stream.NewHub(8, nil), logger.NewNop()))
	rec, _ := do(t, e, http.MethodGet, "/ws/trades", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
