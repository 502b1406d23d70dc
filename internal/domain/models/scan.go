package models

import (
	"encoding/json"
	"time"
)

// SavedScan is a user's stored filter set. Filters are opaque here; only the
// external scan service interprets them.
type SavedScan struct {
	ID        uint            `gorm:"primaryKey" json:"id"`
	UserID    uint            `gorm:"not null;index" json:"user_id"`
	Name      string          `gorm:"size:255" json:"name"`
	Filters   json.RawMessage `gorm:"type:text;serializer:json" json:"filters"`
	Logic     string          `gorm:"size:8;not null;default:AND" json:"logic"`
	Universe  []string        `gorm:"type:text;serializer:json" json:"universe,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

func (SavedScan) TableName() string { return "saved_scans" }

// ScanRequest is sent across the scan delegation boundary.
type ScanRequest struct {
	Symbols []string        `json:"symbols,omitempty"`
	Filters json.RawMessage `json:"filters"`
	Logic   string          `json:"logic"`
	// AsOf asks the scanner to evaluate using data up to this date. Nil
	// means latest.
	AsOf *time.Time `json:"as_of,omitempty"`
}

type ScanMatch struct {
	Symbol string             `json:"symbol"`
	Close  *float64           `json:"close,omitempty"`
	Values map[string]float64 `json:"values,omitempty"`
}

type ScanResult struct {
	Matches []ScanMatch `json:"matches"`
	Total   int         `json:"total"`
}

// Symbols returns the matched tickers.
func (r *ScanResult) Symbols() []string {
	out := make([]string, 0, len(r.Matches))
	for _, m := range r.Matches {
		out = append(out, m.Symbol)
	}
	return out
}

type BacktestStatus string

const (
	BacktestPending   BacktestStatus = "pending"
	BacktestRunning   BacktestStatus = "running"
	BacktestCompleted BacktestStatus = "completed"
	BacktestFailed    BacktestStatus = "failed"
)

// BacktestSignal is one scan match on one replayed day.
type BacktestSignal struct {
	Date          string   `json:"date"`
	Symbol        string   `json:"symbol"`
	EntryClose    *float64 `json:"entry_close,omitempty"`
	ExitClose     *float64 `json:"exit_close,omitempty"`
	ForwardReturn *float64 `json:"forward_return,omitempty"`
}

type Backtest struct {
	ID           uint             `gorm:"primaryKey" json:"id"`
	JobID        string           `gorm:"size:64;index" json:"job_id"`
	ScanID       *uint            `json:"scan_id,omitempty"`
	Filters      json.RawMessage  `gorm:"type:text;serializer:json" json:"filters"`
	Logic        string           `gorm:"size:8" json:"logic"`
	Symbols      []string         `gorm:"type:text;serializer:json" json:"symbols"`
	From         time.Time        `json:"from"`
	To           time.Time        `json:"to"`
	HoldDays     int              `json:"hold_days"`
	Status       BacktestStatus   `gorm:"size:16;not null;default:pending" json:"status"`
	DaysReplayed int              `json:"days_replayed"`
	MatchedDays  int              `json:"matched_days"`
	TotalSignals int              `json:"total_signals"`
	WinRate      *float64         `json:"win_rate,omitempty"`
	AvgReturn    *float64         `json:"avg_return,omitempty"`
	Signals      []BacktestSignal `gorm:"type:text;serializer:json" json:"signals,omitempty"`
	Error        string           `gorm:"type:text" json:"error,omitempty"`
	CreatedAt    time.Time        `json:"created_at"`
	CompletedAt  *time.Time       `json:"completed_at,omitempty"`
}

func (Backtest) TableName() string { return "backtests" }
