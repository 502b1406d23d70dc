// Package fmp fetches select ratios for many tickers per request from the
// batch quote endpoint.
package fmp

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"MarketPull/internal/domain/models"
	"MarketPull/internal/domain/service"
	pkghttp "MarketPull/pkg/http"
	"MarketPull/pkg/logger"

	"golang.org/x/time/rate"
)

const providerName = "fmp"

type Config struct {
	APIKey            string        `yaml:"api_key"`
	BaseURL           string        `yaml:"base_url" default:"https://financialmodelingprep.com/api/v3"`
	Timeout           time.Duration `yaml:"timeout" default:"15s"`
	BatchSize         int           `yaml:"batch_size" default:"50"`
	RequestsPerSecond float64       `yaml:"requests_per_second" default:"1"`
}

type Client struct {
	cfg     Config
	http    *pkghttp.Client
	limiter *rate.Limiter
	log     *logger.Logger
}

var _ service.QuoteBatchProvider = (*Client)(nil)

func NewClient(cfg Config, lgr *logger.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://financialmodelingprep.com/api/v3"
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	return &Client{
		cfg:     cfg,
		http:    pkghttp.NewClient(pkghttp.WithTimeout(cfg.Timeout)),
		limiter: rate.NewLimiter(limit, 1),
		log:     lgr.With(logger.String("provider", providerName)),
	}
}

func (c *Client) BatchSize() int { return c.cfg.BatchSize }

type quote struct {
	Symbol           string   `json:"symbol"`
	Price            *float64 `json:"price"`
	MarketCap        *float64 `json:"marketCap"`
	PE               *float64 `json:"pe"`
	EPS              *float64 `json:"eps"`
	YearHigh         *float64 `json:"yearHigh"`
	YearLow          *float64 `json:"yearLow"`
	ChangePercentage *float64 `json:"changesPercentage"`
}

func (q quote) ratios() map[string]float64 {
	out := make(map[string]float64)
	set := func(name string, v *float64) {
		if v != nil {
			out[name] = *v
		}
	}
	set("price", q.Price)
	set("market_cap", q.MarketCap)
	set("pe", q.PE)
	set("eps", q.EPS)
	set("week52_high", q.YearHigh)
	set("week52_low", q.YearLow)
	return out
}

// BatchMetrics fetches one quote per ticker. Tickers the provider does not
// return are absent from the result.
func (c *Client) BatchMetrics(ctx context.Context, tickers []string) (map[string]*models.MetricSnapshot, error) {
	if c.cfg.APIKey == "" {
		return nil, service.ErrNoCredential
	}
	if len(tickers) == 0 {
		return map[string]*models.MetricSnapshot{}, nil
	}
	if len(tickers) > c.cfg.BatchSize {
		return nil, fmt.Errorf("fmp: batch of %d exceeds %d", len(tickers), c.cfg.BatchSize)
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	upper := make([]string, len(tickers))
	for i, t := range tickers {
		upper[i] = strings.ToUpper(strings.TrimSpace(t))
	}
	params := url.Values{}
	params.Set("apikey", c.cfg.APIKey)

	var quotes []quote
	err := c.http.SendAndParse(ctx, &pkghttp.RequestOptions{
		Method:      pkghttp.MethodGet,
		URL:         c.cfg.BaseURL + "/quote/" + strings.Join(upper, ","),
		QueryParams: params,
	}, &quotes)
	if err != nil {
		if se, ok := pkghttp.AsStatusError(err); ok && se.Throttled() {
			return nil, &service.RateLimitError{Provider: providerName, RetryAfter: se.RetryAfter}
		}
		return nil, fmt.Errorf("fmp quote: %w", err)
	}

	out := make(map[string]*models.MetricSnapshot, len(quotes))
	for _, q := range quotes {
		if q.Symbol == "" {
			continue
		}
		sym := strings.ToUpper(q.Symbol)
		out[sym] = &models.MetricSnapshot{Ticker: sym, Source: providerName, Ratios: q.ratios()}
	}
	c.log.Debug("batch quote", logger.Int("requested", len(tickers)), logger.Int("returned", len(out)))
	return out, nil
}
