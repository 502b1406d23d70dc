package models

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Exchange groups listings by venue.
type Exchange string

const (
	ExchangeNASDAQ Exchange = "NASDAQ"
	ExchangeNYSE   Exchange = "NYSE"
	ExchangeAMEX   Exchange = "AMEX"
	ExchangeOTC    Exchange = "OTC"
	ExchangeOther  Exchange = "OTHER"
)

// NormalizeExchange maps MIC codes and common names onto Exchange.
func NormalizeExchange(s string) Exchange {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "XNAS", "NASDAQ", "XNGS", "XNCM", "XNMS":
		return ExchangeNASDAQ
	case "XNYS", "NYSE", "ARCX", "NYSE ARCA":
		return ExchangeNYSE
	case "XASE", "AMEX", "NYSE AMERICAN":
		return ExchangeAMEX
	case "OOTC", "OTC", "OTCM", "PINX":
		return ExchangeOTC
	default:
		return ExchangeOther
	}
}

// Symbol is a tradable ticker. Rows are created on first reference and
// never hard-deleted; Active=false retires them.
type Symbol struct {
	ID           uint       `gorm:"primaryKey" json:"id"`
	Ticker       string     `gorm:"size:32;not null;uniqueIndex" json:"ticker"`
	Name         string     `gorm:"size:255" json:"name"`
	Exchange     Exchange   `gorm:"size:16;index" json:"exchange"`
	Currency     string     `gorm:"size:8" json:"currency"`
	Type         string     `gorm:"size:64" json:"type,omitempty"`
	Sector       *string    `gorm:"size:128" json:"sector,omitempty"`
	Industry     *string    `gorm:"size:128" json:"industry,omitempty"`
	MarketCap    *float64   `json:"market_cap,omitempty"`
	Active       bool       `gorm:"not null;default:true;index" json:"active"`
	LastSyncedAt *time.Time `json:"last_synced_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

func (Symbol) TableName() string { return "symbols" }

// NeedsEnrichment reports whether profile fields are still unknown.
func (s *Symbol) NeedsEnrichment() bool {
	return s.Sector == nil || s.Industry == nil || s.MarketCap == nil
}

// Candle is one OHLCV bar. Timestamp is the bar open in unix seconds.
type Candle struct {
	Symbol     string          `json:"symbol"`
	Resolution string          `json:"resolution"`
	Timestamp  int64           `json:"t"`
	Open       decimal.Decimal `json:"o"`
	High       decimal.Decimal `json:"h"`
	Low        decimal.Decimal `json:"l"`
	Close      decimal.Decimal `json:"c"`
	Volume     int64           `json:"v"`
}

// Time returns the bar open as UTC time.
func (c Candle) Time() time.Time {
	return time.Unix(c.Timestamp, 0).UTC()
}

// SeriesStatus tags a CandleSeries.
type SeriesStatus string

const (
	StatusOK     SeriesStatus = "ok"
	StatusNoData SeriesStatus = "no_data"
	StatusError  SeriesStatus = "error"
)

// CandleSeries is the columnar candle shape shared by providers, the cache
// and the read API. All slices have the same length and are ordered by time.
type CandleSeries struct {
	Open   []decimal.Decimal `json:"o"`
	High   []decimal.Decimal `json:"h"`
	Low    []decimal.Decimal `json:"l"`
	Close  []decimal.Decimal `json:"c"`
	Volume []int64           `json:"v"`
	Time   []int64           `json:"t"`
	Status SeriesStatus      `json:"s"`
}

// NoDataSeries returns an empty series tagged no_data.
func NoDataSeries() CandleSeries {
	return CandleSeries{Status: StatusNoData}
}

func (s CandleSeries) Len() int { return len(s.Time) }

// SeriesFromCandles builds an ok series, or no_data for an empty input.
func SeriesFromCandles(candles []Candle) CandleSeries {
	if len(candles) == 0 {
		return NoDataSeries()
	}
	s := CandleSeries{
		Open:   make([]decimal.Decimal, len(candles)),
		High:   make([]decimal.Decimal, len(candles)),
		Low:    make([]decimal.Decimal, len(candles)),
		Close:  make([]decimal.Decimal, len(candles)),
		Volume: make([]int64, len(candles)),
		Time:   make([]int64, len(candles)),
		Status: StatusOK,
	}
	for i, c := range candles {
		s.Open[i] = c.Open
		s.High[i] = c.High
		s.Low[i] = c.Low
		s.Close[i] = c.Close
		s.Volume[i] = c.Volume
		s.Time[i] = c.Timestamp
	}
	return s
}

// Candles expands the series into rows for symbol and resolution.
func (s CandleSeries) Candles(symbol, resolution string) []Candle {
	n := s.Len()
	out := make([]Candle, 0, n)
	for i := 0; i < n; i++ {
		if i >= len(s.Open) || i >= len(s.High) || i >= len(s.Low) || i >= len(s.Close) {
			break
		}
		var vol int64
		if i < len(s.Volume) {
			vol = s.Volume[i]
		}
		out = append(out, Candle{
			Symbol:     symbol,
			Resolution: resolution,
			Timestamp:  s.Time[i],
			Open:       s.Open[i],
			High:       s.High[i],
			Low:        s.Low[i],
			Close:      s.Close[i],
			Volume:     vol,
		})
	}
	return out
}

// CandleSource identifies which layer answered a candle read.
type CandleSource string

const (
	SourceCache     CandleSource = "cache"
	SourceStore     CandleSource = "store"
	SourceSecondary CandleSource = "secondary"
	SourcePrimary   CandleSource = "primary"
	SourceNone      CandleSource = "none"
)

// CandleResult wraps a series with where it came from.
type CandleResult struct {
	Symbol     string       `json:"symbol"`
	Resolution string       `json:"resolution"`
	From       int64        `json:"from"`
	To         int64        `json:"to"`
	Series     CandleSeries `json:"series"`
	Source     CandleSource `json:"source"`
	Synthetic  bool         `json:"synthetic,omitempty"`
	Error      string       `json:"error,omitempty"`
}

// UpsertResult reports how a bulk upsert was applied.
type UpsertResult struct {
	Inserted int `json:"inserted"`
	Updated  int `json:"updated"`
}

func (r UpsertResult) Add(o UpsertResult) UpsertResult {
	return UpsertResult{Inserted: r.Inserted + o.Inserted, Updated: r.Updated + o.Updated}
}

// SymbolInfo is one row of an exchange listing as reported by a provider.
type SymbolInfo struct {
	Ticker   string
	Name     string
	Exchange Exchange
	Currency string
	Type     string
}

// CompanyProfile carries the lazily enriched symbol fields.
type CompanyProfile struct {
	Ticker    string
	Name      string
	Exchange  Exchange
	Currency  string
	Sector    string
	Industry  string
	MarketCap float64 // absolute, in Currency
}

// Trade is one executed trade from the live stream.
type Trade struct {
	Symbol     string   `json:"symbol"`
	Price      float64  `json:"price"`
	Volume     float64  `json:"volume"`
	Timestamp  int64    `json:"t"` // unix millis
	Conditions []string `json:"conditions,omitempty"`
}
