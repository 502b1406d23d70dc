package finnhub

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"MarketPull/internal/domain/models"
	"MarketPull/internal/domain/repository"
	"MarketPull/internal/domain/service"
	pkghttp "MarketPull/pkg/http"
	"MarketPull/pkg/logger"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"
)

const providerName = "finnhub"

// CallObserver records provider call outcomes.
type CallObserver func(provider, outcome string, seconds float64)

// Client is the primary REST adapter: candles, listings, profiles and
// metrics.
type Client struct {
	cfg       Config
	http      *pkghttp.Client
	limiter   *rate.Limiter
	log       *logger.Logger
	observe   CallObserver
	synthetic *Synthetic
}

var (
	_ service.CandleProvider  = (*Client)(nil)
	_ service.SymbolProvider  = (*Client)(nil)
	_ service.MetricsProvider = (*Client)(nil)
)

type Option func(*Client)

func WithCallObserver(o CallObserver) Option {
	return func(c *Client) { c.observe = o }
}

func NewClient(cfg Config, lgr *logger.Logger, opts ...Option) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	c := &Client{
		cfg:     cfg,
		http:    pkghttp.NewClient(pkghttp.WithTimeout(cfg.Timeout)),
		limiter: rate.NewLimiter(limit, 1),
		log:     lgr.With(logger.String("provider", providerName)),
	}
	if cfg.APIKey == "" && cfg.AllowSynthetic {
		c.synthetic = NewSynthetic()
		c.log.Warn("no api key configured, serving synthetic data")
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) Name() string { return providerName }

// Synthetic reports whether the client serves stand-in data.
func (c *Client) Synthetic() bool { return c.synthetic != nil }

func (c *Client) credential() error {
	if c.cfg.APIKey == "" && c.synthetic == nil {
		return service.ErrNoCredential
	}
	return nil
}

func (c *Client) get(ctx context.Context, path string, params url.Values, dest interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	if params == nil {
		params = url.Values{}
	}

	start := time.Now()
	err := c.http.SendAndParse(ctx, &pkghttp.RequestOptions{
		Method:      pkghttp.MethodGet,
		URL:         c.cfg.BaseURL + path,
		Headers:     map[string]string{"X-Finnhub-Token": c.cfg.APIKey},
		QueryParams: params,
	}, dest)

	outcome := "ok"
	se, isStatus := pkghttp.AsStatusError(err)
	switch {
	case err == nil:
	case isStatus && se.Throttled():
		outcome = "rate_limited"
		err = &service.RateLimitError{Provider: providerName, RetryAfter: se.RetryAfter}
	default:
		outcome = "error"
	}
	if c.observe != nil {
		c.observe(providerName, outcome, time.Since(start).Seconds())
	}
	if err != nil {
		c.log.Debug("request failed", logger.String("path", path), logger.Error(err))
		return fmt.Errorf("finnhub %s: %w", path, err)
	}
	return nil
}

type candleResponse struct {
	C []float64 `json:"c"`
	H []float64 `json:"h"`
	L []float64 `json:"l"`
	O []float64 `json:"o"`
	V []float64 `json:"v"`
	T []int64   `json:"t"`
	S string    `json:"s"`
}

func (c *Client) Candles(ctx context.Context, symbol string, res repository.Resolution, from, to time.Time) (*models.CandleSeries, error) {
	if err := c.credential(); err != nil {
		return nil, err
	}
	if c.synthetic != nil {
		s := c.synthetic.Candles(symbol, res, from, to)
		return &s, nil
	}

	params := url.Values{}
	params.Set("symbol", strings.ToUpper(symbol))
	params.Set("resolution", string(res))
	params.Set("from", strconv.FormatInt(from.Unix(), 10))
	params.Set("to", strconv.FormatInt(to.Unix(), 10))

	var resp candleResponse
	if err := c.get(ctx, "/stock/candle", params, &resp); err != nil {
		return nil, err
	}
	return resp.toSeries()
}

func (r candleResponse) toSeries() (*models.CandleSeries, error) {
	switch models.SeriesStatus(r.S) {
	case models.StatusNoData:
		s := models.NoDataSeries()
		return &s, nil
	case models.StatusOK:
	default:
		return nil, fmt.Errorf("finnhub candle status %q", r.S)
	}

	n := len(r.T)
	if len(r.O) != n || len(r.H) != n || len(r.L) != n || len(r.C) != n {
		return nil, fmt.Errorf("finnhub candle arrays have mismatched lengths")
	}
	if n == 0 {
		s := models.NoDataSeries()
		return &s, nil
	}
	candles := make([]models.Candle, n)
	for i := 0; i < n; i++ {
		var vol int64
		if i < len(r.V) {
			vol = int64(r.V[i])
		}
		candles[i] = models.Candle{
			Timestamp: r.T[i],
			Open:      decimal.NewFromFloat(r.O[i]),
			High:      decimal.NewFromFloat(r.H[i]),
			Low:       decimal.NewFromFloat(r.L[i]),
			Close:     decimal.NewFromFloat(r.C[i]),
			Volume:    vol,
		}
	}
	s := models.SeriesFromCandles(candles)
	return &s, nil
}

type symbolResponse struct {
	Currency      string `json:"currency"`
	Description   string `json:"description"`
	DisplaySymbol string `json:"displaySymbol"`
	MIC           string `json:"mic"`
	Symbol        string `json:"symbol"`
	Type          string `json:"type"`
}

func (c *Client) Symbols(ctx context.Context, exchange string) ([]models.SymbolInfo, error) {
	if err := c.credential(); err != nil {
		return nil, err
	}
	if c.synthetic != nil {
		return c.synthetic.Symbols(), nil
	}

	params := url.Values{}
	params.Set("exchange", exchange)
	var resp []symbolResponse
	if err := c.get(ctx, "/stock/symbol", params, &resp); err != nil {
		return nil, err
	}
	out := make([]models.SymbolInfo, 0, len(resp))
	for _, r := range resp {
		if r.Symbol == "" {
			continue
		}
		out = append(out, models.SymbolInfo{
			Ticker:   r.Symbol,
			Name:     r.Description,
			Exchange: models.NormalizeExchange(r.MIC),
			Currency: r.Currency,
			Type:     r.Type,
		})
	}
	return out, nil
}

type profileResponse struct {
	Currency             string  `json:"currency"`
	Exchange             string  `json:"exchange"`
	Industry             string  `json:"finnhubIndustry"`
	MarketCapitalization float64 `json:"marketCapitalization"` // millions
	Name                 string  `json:"name"`
	Ticker               string  `json:"ticker"`
}

// Profile returns the company profile, or nil when the provider knows
// nothing about ticker.
func (c *Client) Profile(ctx context.Context, ticker string) (*models.CompanyProfile, error) {
	if err := c.credential(); err != nil {
		return nil, err
	}
	if c.synthetic != nil {
		return c.synthetic.Profile(ticker), nil
	}

	params := url.Values{}
	params.Set("symbol", strings.ToUpper(ticker))
	var resp profileResponse
	if err := c.get(ctx, "/stock/profile2", params, &resp); err != nil {
		return nil, err
	}
	if resp.Ticker == "" && resp.Name == "" {
		return nil, nil
	}
	return &models.CompanyProfile{
		Ticker:   strings.ToUpper(ticker),
		Name:     resp.Name,
		Exchange: models.NormalizeExchange(resp.Exchange),
		Currency: resp.Currency,
		// The basic profile carries one industry classification.
		Sector:    resp.Industry,
		Industry:  resp.Industry,
		MarketCap: resp.MarketCapitalization * 1e6,
	}, nil
}

type metricResponse struct {
	Symbol string                 `json:"symbol"`
	Metric map[string]interface{} `json:"metric"`
}

// metricKeys maps ratio names to provider keys in preference order.
var metricKeys = map[string][]string{
	"pe":               {"peTTM", "peBasicExclExtraTTM", "peAnnual"},
	"pb":               {"pbQuarterly", "pbAnnual", "pb"},
	"ps":               {"psTTM", "psAnnual"},
	"eps":              {"epsTTM", "epsBasicExclExtraItemsTTM", "epsAnnual"},
	"dividend_yield":   {"currentDividendYieldTTM", "dividendYieldIndicatedAnnual"},
	"roe":              {"roeTTM", "roeRfy"},
	"roa":              {"roaTTM", "roaRfy"},
	"debt_to_equity":   {"totalDebt/totalEquityQuarterly", "totalDebt/totalEquityAnnual"},
	"current_ratio":    {"currentRatioQuarterly", "currentRatioAnnual"},
	"gross_margin":     {"grossMarginTTM", "grossMarginAnnual"},
	"operating_margin": {"operatingMarginTTM", "operatingMarginAnnual"},
	"net_margin":       {"netProfitMarginTTM", "netProfitMarginAnnual"},
	"revenue_growth":   {"revenueGrowthTTMYoy", "revenueGrowthQuarterlyYoy"},
	"eps_growth":       {"epsGrowthTTMYoy", "epsGrowthQuarterlyYoy"},
	"beta":             {"beta"},
	"week52_high":      {"52WeekHigh"},
	"week52_low":       {"52WeekLow"},
}

func (c *Client) Metrics(ctx context.Context, ticker string) (*models.MetricSnapshot, error) {
	if err := c.credential(); err != nil {
		return nil, err
	}
	if c.synthetic != nil {
		return c.synthetic.Metrics(ticker), nil
	}

	params := url.Values{}
	params.Set("symbol", strings.ToUpper(ticker))
	params.Set("metric", "all")
	var resp metricResponse
	if err := c.get(ctx, "/stock/metric", params, &resp); err != nil {
		return nil, err
	}
	return &models.MetricSnapshot{
		Ticker: strings.ToUpper(ticker),
		Source: providerName,
		Ratios: mapMetrics(resp.Metric),
	}, nil
}

func mapMetrics(raw map[string]interface{}) map[string]float64 {
	out := make(map[string]float64)
	for name, keys := range metricKeys {
		for _, k := range keys {
			if f, ok := raw[k].(float64); ok {
				out[name] = f
				break
			}
		}
	}
	if mc, ok := raw["marketCapitalization"].(float64); ok {
		out["market_cap"] = mc * 1e6
	}
	return out
}
