package models

// Queue names, one per job family.
const (
	QueueEOD        = "eod-ingest"
	QueueSymbolSync = "symbol-sync"
	QueueIntraday   = "intraday-refresh"
	QueueMetrics    = "metrics-refresh"
	QueueSeed       = "bulk-seed"
	QueueAlerts     = "alert-evaluation"
	QueueBacktest   = "backtest"
)

// AllQueues lists every job family.
var AllQueues = []string{
	QueueEOD, QueueSymbolSync, QueueIntraday, QueueMetrics, QueueSeed, QueueAlerts, QueueBacktest,
}

// Job message types.
const (
	JobEODDispatch     = "eod.dispatch"
	JobEODSymbol       = "eod.symbol"
	JobSymbolSync      = "symbols.sync"
	JobIntraday        = "intraday.refresh"
	JobMetricsRefresh  = "metrics.refresh"
	JobMetricsBatch    = "metrics.refresh_batch"
	JobBackfill        = "candles.backfill"
	JobBulkSeed        = "seed.bulk"
	JobAlertEvaluation = "alerts.evaluate"
	JobBacktest        = "backtest.run"
)

type EODDispatchPayload struct {
	Symbols    []string `json:"symbols,omitempty"`
	All        bool     `json:"all"`
	WindowDays int      `json:"window_days"`
}

type EODSymbolPayload struct {
	Symbol     string `json:"symbol"`
	WindowDays int    `json:"window_days"`
}

type SymbolSyncPayload struct {
	Exchange   string `json:"exchange"`
	SkipEnrich bool   `json:"skip_enrich"`
}

type IntradayPayload struct {
	Symbols       []string `json:"symbols,omitempty"`
	Resolution    string   `json:"resolution"`
	WindowMinutes int      `json:"window_minutes"`
}

type MetricsRefreshPayload struct {
	Offset int  `json:"offset"`
	Limit  int  `json:"limit"`
	Batch  bool `json:"batch"`
}

type BackfillPayload struct {
	Symbol     string `json:"symbol"`
	Resolution string `json:"resolution"`
	From       int64  `json:"from"`
	To         int64  `json:"to"`
}

type BulkSeedPayload struct {
	Years       int  `json:"years"`
	Offset      int  `json:"offset"`
	Limit       int  `json:"limit"`
	Candles     bool `json:"candles"`
	Metrics     bool `json:"metrics"`
	Concurrency int  `json:"concurrency"`
	BatchSize   int  `json:"batch_size"`
}

type AlertEvaluationPayload struct {
	Trigger string `json:"trigger"` // schedule or manual
}

type BacktestPayload struct {
	BacktestID uint `json:"backtest_id"`
}

// BatchCounts are the counters every batch job reports.
type BatchCounts struct {
	Processed int `json:"processed"`
	Inserted  int `json:"inserted"`
	Updated   int `json:"updated,omitempty"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped,omitempty"`
}

type IngestResult struct {
	Symbol     string       `json:"symbol"`
	Resolution string       `json:"resolution"`
	Fetched    int          `json:"fetched"`
	Inserted   int          `json:"inserted"`
	Updated    int          `json:"updated"`
	Source     CandleSource `json:"source"`
	Synthetic  bool         `json:"synthetic,omitempty"`
}

type EODDispatchResult struct {
	Enqueued int      `json:"enqueued"`
	JobIDs   []string `json:"job_ids,omitempty"`
}

type SymbolSyncResult struct {
	Exchange        string `json:"exchange"`
	Fetched         int    `json:"fetched"`
	Created         int    `json:"created"`
	Updated         int    `json:"updated"`
	Enriched        int    `json:"enriched"`
	EnrichFailed    int    `json:"enrich_failed"`
	RateLimitPauses int    `json:"rate_limit_pauses"`
}

type BulkSeedResult struct {
	Symbols int         `json:"symbols"`
	Candles BatchCounts `json:"candles"`
	Metrics BatchCounts `json:"metrics"`
}
