package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"MarketPull/internal/domain/models"
	domrepo "MarketPull/internal/domain/repository"
	"MarketPull/internal/usecase"
	"MarketPull/pkg/logger"
	"MarketPull/pkg/queue"
)

// ErrUnknownFamily is returned for a job family name that maps to no queue.
var ErrUnknownFamily = errors.New("unknown job family")

var familyAliases = map[string]string{
	"eod":         models.QueueEOD,
	"symbol-sync": models.QueueSymbolSync,
	"symbols":     models.QueueSymbolSync,
	"intraday":    models.QueueIntraday,
	"metrics":     models.QueueMetrics,
	"seed":        models.QueueSeed,
	"alerts":      models.QueueAlerts,
	"backtest":    models.QueueBacktest,
}

// QueueName resolves a family alias or a queue name.
func QueueName(family string) (string, error) {
	f := strings.ToLower(strings.TrimSpace(family))
	if q, ok := familyAliases[f]; ok {
		return q, nil
	}
	for _, q := range models.AllQueues {
		if q == f {
			return q, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrUnknownFamily, family)
}

// JobQueue is the part of queue.Manager the trigger surface uses.
type JobQueue interface {
	Enqueue(ctx context.Context, queue, msgType string, payload interface{}, opts ...queue.EnqueueOption) (*queue.Message, error)
	Status(ctx context.Context, queue string, limit int) (*queue.Status, error)
	Job(ctx context.Context, queue, id string) (*queue.Message, error)
}

// JobTrigger is the manual trigger surface shared by the HTTP API and the
// scheduler.
type JobTrigger struct {
	jobs      JobQueue
	ingest    *usecase.IngestionService
	backtests *usecase.BacktestRunner
	symbols   domrepo.SymbolRepository
	slice     int
	log       *logger.Logger
}

func NewJobTrigger(jobs JobQueue, ingest *usecase.IngestionService, backtests *usecase.BacktestRunner, symbols domrepo.SymbolRepository, metricsSlice int, lgr *logger.Logger) *JobTrigger {
	if metricsSlice <= 0 {
		metricsSlice = 100
	}
	return &JobTrigger{
		jobs:      jobs,
		ingest:    ingest,
		backtests: backtests,
		symbols:   symbols,
		slice:     metricsSlice,
		log:       lgr.With(logger.String("component", "job_trigger")),
	}
}

func (t *JobTrigger) enqueue(ctx context.Context, q, msgType string, payload interface{}) (*queue.Message, error) {
	msg, err := t.jobs.Enqueue(ctx, q, msgType, payload)
	if err != nil {
		return nil, fmt.Errorf("enqueue %s: %w", msgType, err)
	}
	t.log.Info("job enqueued",
		logger.String("queue", q),
		logger.String("type", msgType),
		logger.String("id", msg.ID))
	return msg, nil
}

// TriggerEOD enqueues an end-of-day dispatch for the given symbols or for
// every active symbol.
func (t *JobTrigger) TriggerEOD(ctx context.Context, req models.EODTriggerRequest) (*queue.Message, error) {
	symbols := make([]string, 0, len(req.Symbols))
	for _, s := range req.Symbols {
		if s = strings.ToUpper(strings.TrimSpace(s)); s != "" {
			symbols = append(symbols, s)
		}
	}
	return t.enqueue(ctx, models.QueueEOD, models.JobEODDispatch, models.EODDispatchPayload{
		Symbols:    symbols,
		All:        req.All || len(symbols) == 0,
		WindowDays: req.WindowDays,
	})
}

func (t *JobTrigger) TriggerSymbolSync(ctx context.Context, req models.SymbolSyncRequest) (*queue.Message, error) {
	return t.enqueue(ctx, models.QueueSymbolSync, models.JobSymbolSync, models.SymbolSyncPayload{
		Exchange:   strings.ToUpper(req.Exchange),
		SkipEnrich: req.SkipEnrich,
	})
}

// Backfill runs a backfill inline, or enqueues it when req.Async is set.
// It returns either the IngestResult or the queued message.
func (t *JobTrigger) Backfill(ctx context.Context, req models.BackfillRequest) (interface{}, error) {
	p := models.BackfillPayload{
		Symbol:     strings.ToUpper(strings.TrimSpace(req.Symbol)),
		Resolution: req.Resolution,
		From:       req.From,
		To:         req.To,
	}
	if req.Async {
		return t.enqueue(ctx, models.QueueEOD, models.JobBackfill, p)
	}
	return t.ingest.Backfill(ctx, p)
}

func (t *JobTrigger) TriggerMetrics(ctx context.Context, req models.MetricsTriggerRequest) (*queue.Message, error) {
	msgType := models.JobMetricsRefresh
	if req.Batch {
		msgType = models.JobMetricsBatch
	}
	return t.enqueue(ctx, models.QueueMetrics, msgType, models.MetricsRefreshPayload{
		Offset: req.Offset,
		Limit:  req.Limit,
		Batch:  req.Batch,
	})
}

// TriggerAllMetrics enqueues one metrics slice per page of active symbols.
func (t *JobTrigger) TriggerAllMetrics(ctx context.Context) (int, error) {
	total, err := t.symbols.CountActive(ctx)
	if err != nil {
		return 0, fmt.Errorf("count active symbols: %w", err)
	}
	n := 0
	for offset := 0; int64(offset) < total; offset += t.slice {
		if _, err := t.TriggerMetrics(ctx, models.MetricsTriggerRequest{Offset: offset, Limit: t.slice}); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

func (t *JobTrigger) TriggerSeed(ctx context.Context, req models.SeedRequest) (*queue.Message, error) {
	return t.enqueue(ctx, models.QueueSeed, models.JobBulkSeed, models.BulkSeedPayload{
		Years:       req.Years,
		Offset:      req.Offset,
		Limit:       req.Limit,
		Candles:     req.Candles == nil || *req.Candles,
		Metrics:     req.Metrics == nil || *req.Metrics,
		Concurrency: req.Concurrency,
		BatchSize:   req.BatchSize,
	})
}

func (t *JobTrigger) TriggerIntraday(ctx context.Context, req models.IntradayTriggerRequest) (*queue.Message, error) {
	return t.enqueue(ctx, models.QueueIntraday, models.JobIntraday, models.IntradayPayload{
		Symbols:       req.Symbols,
		Resolution:    req.Resolution,
		WindowMinutes: req.WindowMinutes,
	})
}

// TriggerAlerts enqueues an alert evaluation pass; source is "schedule" or
// "manual".
func (t *JobTrigger) TriggerAlerts(ctx context.Context, source string) (*queue.Message, error) {
	return t.enqueue(ctx, models.QueueAlerts, models.JobAlertEvaluation, models.AlertEvaluationPayload{Trigger: source})
}

func (t *JobTrigger) SubmitBacktest(ctx context.Context, req models.BacktestRequest) (*models.Backtest, error) {
	return t.backtests.Submit(ctx, req)
}

// Status returns the queue snapshot of a family.
func (t *JobTrigger) Status(ctx context.Context, family string, limit int) (*queue.Status, error) {
	q, err := QueueName(family)
	if err != nil {
		return nil, err
	}
	return t.jobs.Status(ctx, q, limit)
}

func (t *JobTrigger) Job(ctx context.Context, family, id string) (*queue.Message, error) {
	q, err := QueueName(family)
	if err != nil {
		return nil, err
	}
	return t.jobs.Job(ctx, q, id)
}
