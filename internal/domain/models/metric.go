package models

import "time"

// FinancialMetric is one point-in-time snapshot of a symbol's ratios.
// Every ratio is nullable since provider coverage varies per symbol.
type FinancialMetric struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	SymbolID  uint      `gorm:"not null;index:idx_metric_symbol_fetched,priority:1" json:"symbol_id"`
	FetchedAt time.Time `gorm:"not null;index:idx_metric_symbol_fetched,priority:2" json:"fetched_at"`
	Source    string    `gorm:"size:32" json:"source"`

	Price            *float64 `json:"price,omitempty"`
	MarketCap        *float64 `json:"market_cap,omitempty"`
	PE               *float64 `gorm:"column:pe" json:"pe,omitempty"`
	PB               *float64 `gorm:"column:pb" json:"pb,omitempty"`
	PS               *float64 `gorm:"column:ps" json:"ps,omitempty"`
	EPS              *float64 `gorm:"column:eps" json:"eps,omitempty"`
	DividendYield    *float64 `json:"dividend_yield,omitempty"`
	ROE              *float64 `gorm:"column:roe" json:"roe,omitempty"`
	ROA              *float64 `gorm:"column:roa" json:"roa,omitempty"`
	DebtToEquity     *float64 `json:"debt_to_equity,omitempty"`
	CurrentRatio     *float64 `json:"current_ratio,omitempty"`
	GrossMargin      *float64 `json:"gross_margin,omitempty"`
	OperatingMargin  *float64 `json:"operating_margin,omitempty"`
	NetMargin        *float64 `json:"net_margin,omitempty"`
	RevenueGrowth    *float64 `json:"revenue_growth,omitempty"`
	EPSGrowth        *float64 `gorm:"column:eps_growth" json:"eps_growth,omitempty"`
	Beta             *float64 `json:"beta,omitempty"`
	FiftyTwoWeekHigh *float64 `gorm:"column:week52_high" json:"week52_high,omitempty"`
	FiftyTwoWeekLow  *float64 `gorm:"column:week52_low" json:"week52_low,omitempty"`
}

func (FinancialMetric) TableName() string { return "financial_metrics" }

// Ratios returns the non-null ratios keyed by their JSON names.
func (m *FinancialMetric) Ratios() map[string]float64 {
	out := make(map[string]float64)
	for name, v := range m.fields() {
		if *v != nil {
			out[name] = **v
		}
	}
	return out
}

// SetRatio assigns a ratio by JSON name. Unknown names are ignored and
// reported false.
func (m *FinancialMetric) SetRatio(name string, v float64) bool {
	f, ok := m.fields()[name]
	if !ok {
		return false
	}
	val := v
	*f = &val
	return true
}

// Empty reports whether no ratio is set.
func (m *FinancialMetric) Empty() bool {
	return len(m.Ratios()) == 0
}

func (m *FinancialMetric) fields() map[string]**float64 {
	return map[string]**float64{
		"price":            &m.Price,
		"market_cap":       &m.MarketCap,
		"pe":               &m.PE,
		"pb":               &m.PB,
		"ps":               &m.PS,
		"eps":              &m.EPS,
		"dividend_yield":   &m.DividendYield,
		"roe":              &m.ROE,
		"roa":              &m.ROA,
		"debt_to_equity":   &m.DebtToEquity,
		"current_ratio":    &m.CurrentRatio,
		"gross_margin":     &m.GrossMargin,
		"operating_margin": &m.OperatingMargin,
		"net_margin":       &m.NetMargin,
		"revenue_growth":   &m.RevenueGrowth,
		"eps_growth":       &m.EPSGrowth,
		"beta":             &m.Beta,
		"week52_high":      &m.FiftyTwoWeekHigh,
		"week52_low":       &m.FiftyTwoWeekLow,
	}
}

// MetricSnapshot is a provider-side metrics result before it is bound to
// a stored symbol.
type MetricSnapshot struct {
	Ticker string
	Source string
	Ratios map[string]float64
}
