package worker

import (
	"MarketPull/internal/domain/models"
	"MarketPull/internal/usecase"
	"MarketPull/pkg/queue"
)

// Register attaches every job family's handlers to its queue.
func Register(m *queue.Manager, ingest *usecase.IngestionService, alerts *usecase.AlertEvaluator, backtests *usecase.BacktestRunner) error {
	families := map[string][]queue.Job{
		models.QueueEOD:        {EODDispatchJob(ingest), EODSymbolJob(ingest), BackfillJob(ingest)},
		models.QueueSymbolSync: {SymbolSyncJob(ingest)},
		models.QueueIntraday:   {IntradayJob(ingest)},
		models.QueueMetrics:    {MetricsRefreshJob(ingest), MetricsBatchJob(ingest)},
		models.QueueSeed:       {BulkSeedJob(ingest)},
		models.QueueAlerts:     {AlertEvaluationJob(alerts)},
		models.QueueBacktest:   {BacktestJob(backtests)},
	}
	for _, name := range models.AllQueues {
		q, err := m.Queue(name)
		if err != nil {
			return err
		}
		for _, job := range families[name] {
			q.RegisterJob(job)
		}
	}
	return nil
}
