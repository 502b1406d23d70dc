package finnhub

import (
	"hash/fnv"
	"math"
	"strconv"
	"strings"
	"time"

	"MarketPull/internal/domain/models"
	"MarketPull/internal/domain/repository"

	"github.com/shopspring/decimal"
)

const maxSyntheticBars = 5000

// Synthetic produces stand-in data that is stable per (symbol, timestamp),
// so repeated reads and backfills of the same window agree.
type Synthetic struct{}

func NewSynthetic() *Synthetic { return &Synthetic{} }

func hash64(parts ...string) uint64 {
	h := fnv.New64a()
	for _, p := range parts {
		_, _ = h.Write([]byte(p))
		_, _ = h.Write([]byte{0})
	}
	return h.Sum64()
}

// unit maps a hash onto [-1, 1).
func unit(h uint64) float64 {
	return float64(h%20000)/10000 - 1
}

func (s *Synthetic) price(symbol string, ts int64) float64 {
	base := 20 + float64(hash64(symbol)%480)
	wave := math.Sin(float64(ts) / (86400 * 30))
	noise := unit(hash64(symbol, strconv.FormatInt(ts, 10)))
	return base * (1 + 0.08*wave + 0.01*noise)
}

func round2(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f).Round(2)
}

func (s *Synthetic) Candles(symbol string, res repository.Resolution, from, to time.Time) models.CandleSeries {
	symbol = strings.ToUpper(symbol)
	step := res.Duration()
	start := from.UTC().Truncate(step)
	if start.Before(from) {
		start = start.Add(step)
	}

	var candles []models.Candle
	for t := start; !t.After(to) && len(candles) < maxSyntheticBars; t = t.Add(step) {
		if res.IsDaily() && (t.Weekday() == time.Saturday || t.Weekday() == time.Sunday) {
			continue
		}
		ts := t.Unix()
		open := s.price(symbol, ts-int64(step.Seconds()))
		closeP := s.price(symbol, ts)
		spread := math.Abs(unit(hash64(symbol, "spread", strconv.FormatInt(ts, 10)))) * 0.01 * closeP
		high := math.Max(open, closeP) + spread
		low := math.Min(open, closeP) - spread
		vol := int64(100000 + hash64(symbol, "vol", strconv.FormatInt(ts, 10))%900000)
		candles = append(candles, models.Candle{
			Symbol:     symbol,
			Resolution: string(res),
			Timestamp:  ts,
			Open:       round2(open),
			High:       round2(high),
			Low:        round2(low),
			Close:      round2(closeP),
			Volume:     vol,
		})
	}
	return models.SeriesFromCandles(candles)
}

var syntheticListings = []models.SymbolInfo{
	{Ticker: "SYNA", Name: "Synthetic Alpha Corp", Exchange: models.ExchangeNASDAQ, Currency: "USD", Type: "Common Stock"},
	{Ticker: "SYNB", Name: "Synthetic Beta Inc", Exchange: models.ExchangeNYSE, Currency: "USD", Type: "Common Stock"},
	{Ticker: "SYNC", Name: "Synthetic Gamma Holdings", Exchange: models.ExchangeNASDAQ, Currency: "USD", Type: "Common Stock"},
	{Ticker: "SYND", Name: "Synthetic Delta Group", Exchange: models.ExchangeNYSE, Currency: "USD", Type: "Common Stock"},
	{Ticker: "SYNE", Name: "Synthetic Epsilon ETF", Exchange: models.ExchangeAMEX, Currency: "USD", Type: "ETP"},
}

func (s *Synthetic) Symbols() []models.SymbolInfo {
	return append([]models.SymbolInfo(nil), syntheticListings...)
}

var syntheticSectors = []string{"Technology", "Healthcare", "Financials", "Energy", "Industrials", "Utilities"}

func (s *Synthetic) Profile(ticker string) *models.CompanyProfile {
	ticker = strings.ToUpper(ticker)
	h := hash64(ticker, "profile")
	sector := syntheticSectors[h%uint64(len(syntheticSectors))]
	return &models.CompanyProfile{
		Ticker:    ticker,
		Name:      ticker + " (synthetic)",
		Exchange:  models.ExchangeOther,
		Currency:  "USD",
		Sector:    sector,
		Industry:  sector,
		MarketCap: float64(1+h%500) * 1e9,
	}
}

func (s *Synthetic) Metrics(ticker string) *models.MetricSnapshot {
	ticker = strings.ToUpper(ticker)
	h := hash64(ticker, "metrics")
	price := s.price(ticker, time.Now().UTC().Truncate(24*time.Hour).Unix())
	pe := 8 + float64(h%40)
	return &models.MetricSnapshot{
		Ticker: ticker,
		Source: providerName + "-synthetic",
		Ratios: map[string]float64{
			"price":          math.Round(price*100) / 100,
			"pe":             pe,
			"eps":            math.Round(price/pe*100) / 100,
			"pb":             1 + float64(h%70)/10,
			"beta":           0.5 + float64(h%150)/100,
			"dividend_yield": float64(h%50) / 10,
		},
	}
}
