package worker

import (
	"context"
	"errors"

	"MarketPull/internal/domain/models"
	"MarketPull/internal/usecase"
	"MarketPull/pkg/queue"
)

// handler adapts a typed use-case call to queue.Job.
type handler[P any] struct {
	name string
	typ  string
	run  func(ctx context.Context, p *P) (interface{}, error)
}

func (h *handler[P]) Name() string { return h.name }
func (h *handler[P]) Type() string { return h.typ }

func (h *handler[P]) Handle(ctx context.Context, msg *queue.Message) (interface{}, error) {
	p, err := queue.ParsePayload[P](msg)
	if err != nil {
		return nil, err
	}
	res, err := h.run(ctx, p)
	if err != nil {
		return nil, classify(err)
	}
	return res, nil
}

// classify marks errors a retry cannot fix as permanent. Rate limits,
// transport failures and store errors keep the queue's backoff.
func classify(err error) error {
	switch {
	case errors.Is(err, usecase.ErrInvalidQuery),
		errors.Is(err, usecase.ErrSyncInProgress),
		usecase.IsTerminal(err):
		return queue.Permanent(err)
	default:
		return err
	}
}

func newJob[P any](name, typ string, run func(ctx context.Context, p *P) (interface{}, error)) queue.Job {
	return &handler[P]{name: name, typ: typ, run: run}
}

// EODDispatchJob fans out one eod.symbol job per symbol.
func EODDispatchJob(svc *usecase.IngestionService) queue.Job {
	return newJob("eod dispatch", models.JobEODDispatch, func(ctx context.Context, p *models.EODDispatchPayload) (interface{}, error) {
		return svc.DispatchEOD(ctx, *p)
	})
}

func EODSymbolJob(svc *usecase.IngestionService) queue.Job {
	return newJob("eod ingest", models.JobEODSymbol, func(ctx context.Context, p *models.EODSymbolPayload) (interface{}, error) {
		return svc.IngestEOD(ctx, *p)
	})
}

func BackfillJob(svc *usecase.IngestionService) queue.Job {
	return newJob("candle backfill", models.JobBackfill, func(ctx context.Context, p *models.BackfillPayload) (interface{}, error) {
		return svc.Backfill(ctx, *p)
	})
}

func SymbolSyncJob(svc *usecase.IngestionService) queue.Job {
	return newJob("symbol sync", models.JobSymbolSync, func(ctx context.Context, p *models.SymbolSyncPayload) (interface{}, error) {
		return svc.SyncSymbols(ctx, *p)
	})
}

func IntradayJob(svc *usecase.IngestionService) queue.Job {
	return newJob("intraday refresh", models.JobIntraday, func(ctx context.Context, p *models.IntradayPayload) (interface{}, error) {
		return svc.RefreshIntraday(ctx, *p)
	})
}

func MetricsRefreshJob(svc *usecase.IngestionService) queue.Job {
	return newJob("metrics refresh", models.JobMetricsRefresh, func(ctx context.Context, p *models.MetricsRefreshPayload) (interface{}, error) {
		return svc.RefreshMetrics(ctx, *p)
	})
}

// MetricsBatchJob is the batch-quote variant of MetricsRefreshJob.
func MetricsBatchJob(svc *usecase.IngestionService) queue.Job {
	return newJob("metrics batch refresh", models.JobMetricsBatch, func(ctx context.Context, p *models.MetricsRefreshPayload) (interface{}, error) {
		p.Batch = true
		return svc.RefreshMetrics(ctx, *p)
	})
}

func BulkSeedJob(svc *usecase.IngestionService) queue.Job {
	return newJob("bulk seed", models.JobBulkSeed, func(ctx context.Context, p *models.BulkSeedPayload) (interface{}, error) {
		return svc.BulkSeed(ctx, *p)
	})
}

func AlertEvaluationJob(eval *usecase.AlertEvaluator) queue.Job {
	return newJob("alert evaluation", models.JobAlertEvaluation, func(ctx context.Context, _ *models.AlertEvaluationPayload) (interface{}, error) {
		return eval.Evaluate(ctx)
	})
}

func BacktestJob(runner *usecase.BacktestRunner) queue.Job {
	return newJob("backtest", models.JobBacktest, func(ctx context.Context, p *models.BacktestPayload) (interface{}, error) {
		return runner.Run(ctx, p.BacktestID)
	})
}
