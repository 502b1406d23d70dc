package models

import "encoding/json"

// Requests for the job trigger and read endpoints.

type EODTriggerRequest struct {
	Symbols    []string `json:"symbols" validate:"required_without=All,omitempty,dive,required,max=32"`
	All        bool     `json:"all"`
	WindowDays int      `json:"window_days" default:"10" validate:"gte=1,lte=365"`
}

type SymbolSyncRequest struct {
	Exchange   string `json:"exchange" default:"US" validate:"required,max=16"`
	SkipEnrich bool   `json:"skip_enrich"`
}

type BackfillRequest struct {
	Symbol     string `json:"symbol" validate:"required,max=32"`
	Resolution string `json:"resolution" default:"D" validate:"oneof=1 5 15 30 60 D W M"`
	From       int64  `json:"from" validate:"required,gt=0"`
	To         int64  `json:"to" validate:"required,gtfield=From"`
	Async      bool   `json:"async"`
}

type MetricsTriggerRequest struct {
	Offset int  `json:"offset" validate:"gte=0"`
	Limit  int  `json:"limit" default:"100" validate:"gte=1,lte=5000"`
	Batch  bool `json:"batch"`
}

type SeedRequest struct {
	Years       int   `json:"years" default:"5" validate:"gte=1,lte=30"`
	Offset      int   `json:"offset" validate:"gte=0"`
	Limit       int   `json:"limit" default:"100" validate:"gte=1,lte=10000"`
	Candles     *bool `json:"candles" default:"true"`
	Metrics     *bool `json:"metrics" default:"true"`
	Concurrency int   `json:"concurrency" default:"3" validate:"gte=1,lte=25"`
	BatchSize   int   `json:"batch_size" default:"50" validate:"gte=1,lte=500"`
}

type IntradayTriggerRequest struct {
	Symbols       []string `json:"symbols" validate:"omitempty,max=50,dive,required,max=32"`
	Resolution    string   `json:"resolution" default:"5" validate:"oneof=1 5 15 30 60"`
	WindowMinutes int      `json:"window_minutes" default:"120" validate:"gte=1,lte=1440"`
}

type BacktestRequest struct {
	ScanID   *uint           `json:"scan_id"`
	Filters  json.RawMessage `json:"filters" validate:"required_without=ScanID"`
	Logic    string          `json:"logic" default:"AND" validate:"oneof=AND OR"`
	Symbols  []string        `json:"symbols" validate:"omitempty,dive,required,max=32"`
	From     string          `json:"from" validate:"required,datetime=2006-01-02"`
	To       string          `json:"to" validate:"required,datetime=2006-01-02"`
	HoldDays int             `json:"hold_days" default:"5" validate:"gte=1,lte=60"`
}

type CandlesRequest struct {
	Symbol     string `param:"symbol" validate:"required,max=32"`
	Resolution string `query:"resolution" default:"D" validate:"oneof=1 5 15 30 60 D W M"`
	// From and To accept a date, RFC3339 or unix seconds.
	From  string `query:"from"`
	To    string `query:"to"`
	Scope string `query:"scope" default:"live" validate:"oneof=live local"`
}

type JobStatusRequest struct {
	Family string `param:"family" validate:"required"`
	Limit  int    `query:"limit" default:"20" validate:"gte=1,lte=200"`
}

type JobDetailRequest struct {
	Family string `param:"family" validate:"required"`
	ID     string `param:"id" validate:"required,max=64"`
}

type SymbolRequest struct {
	Symbol string `param:"symbol" validate:"required,max=32"`
}

type BacktestGetRequest struct {
	ID uint `param:"id" validate:"required,gt=0"`
}
