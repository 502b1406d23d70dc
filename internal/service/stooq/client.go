// Package stooq reads free daily OHLCV CSV files. It needs no credential
// and only serves daily bars.
package stooq

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"MarketPull/internal/domain/models"
	"MarketPull/internal/domain/service"
	pkghttp "MarketPull/pkg/http"
	"MarketPull/pkg/logger"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"
)

const providerName = "stooq"

// The CSV endpoint rejects requests without a browser-like agent.
const userAgent = "Mozilla/5.0 (compatible; marketpull/1.0)"

type Config struct {
	BaseURL           string        `yaml:"base_url" default:"https://stooq.com/q/d/l/"`
	Suffix            string        `yaml:"suffix" default:".us"`
	Timeout           time.Duration `yaml:"timeout" default:"15s"`
	RequestsPerSecond float64       `yaml:"requests_per_second" default:"2"`
	Enabled           bool          `yaml:"enabled" default:"true"`
}

type Client struct {
	cfg     Config
	http    *pkghttp.Client
	limiter *rate.Limiter
	log     *logger.Logger
}

var _ service.DailySource = (*Client)(nil)

func NewClient(cfg Config, lgr *logger.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://stooq.com/q/d/l/"
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
		http:    pkghttp.NewClient(pkghttp.WithTimeout(cfg.Timeout), pkghttp.WithUserAgent(userAgent)),
		limiter: rate.NewLimiter(limit, 1),
		log:     lgr.With(logger.String("provider", providerName)),
	}
}

func (c *Client) Name() string { return providerName }

// Ticker converts an exchange ticker to the provider's form, e.g. BRK.B to
// brk-b.us.
func (c *Client) Ticker(symbol string) string {
	s := strings.ToLower(strings.TrimSpace(symbol))
	s = strings.ReplaceAll(s, ".", "-")
	return s + c.cfg.Suffix
}

func (c *Client) DailyCandles(ctx context.Context, symbol string, from, to time.Time) (*models.CandleSeries, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	params := url.Values{}
	params.Set("s", c.Ticker(symbol))
	params.Set("i", "d")
	params.Set("d1", from.UTC().Format("20060102"))
	params.Set("d2", to.UTC().Format("20060102"))

	var body []byte
	err := c.http.SendAndParse(ctx, &pkghttp.RequestOptions{
		Method:      pkghttp.MethodGet,
		URL:         c.cfg.BaseURL,
		QueryParams: params,
	}, &body)
	if err != nil {
		if se, ok := pkghttp.AsStatusError(err); ok && se.Throttled() {
			return nil, &service.RateLimitError{Provider: providerName, RetryAfter: se.RetryAfter}
		}
		return nil, fmt.Errorf("stooq %s: %w", symbol, err)
	}

	candles, err := ParseCSV(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("stooq %s: %w", symbol, err)
	}

	lo, hi := from.Unix(), to.Unix()
	kept := candles[:0]
	for _, cd := range candles {
		if cd.Timestamp >= lo && cd.Timestamp <= hi {
			cd.Symbol = strings.ToUpper(symbol)
			cd.Resolution = "D"
			kept = append(kept, cd)
		}
	}
	s := models.SeriesFromCandles(kept)
	return &s, nil
}

// ParseCSV parses a Date,Open,High,Low,Close[,Volume] file. The provider
// answers unknown tickers with a plain "No data" body, which yields no rows.
func ParseCSV(r io.Reader) ([]models.Candle, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	if len(header) < 5 || !strings.EqualFold(strings.TrimPrefix(header[0], "\uFEFF"), "Date") {
		if strings.Contains(strings.ToLower(strings.Join(header, ",")), "no data") {
			return nil, nil
		}
		return nil, fmt.Errorf("unexpected csv header %q", strings.Join(header, ","))
	}

	var out []models.Candle
	for line := 2; ; line++ {
		rec, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if len(rec) < 5 {
			continue
		}
		c, err := parseRecord(rec)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp < out[j].Timestamp })
	return out, nil
}

func parseRecord(rec []string) (models.Candle, error) {
	day, err := time.Parse("2006-01-02", rec[0])
	if err != nil {
		return models.Candle{}, fmt.Errorf("date %q: %w", rec[0], err)
	}
	var vals [4]decimal.Decimal
	for i := 0; i < 4; i++ {
		v, err := decimal.NewFromString(rec[i+1])
		if err != nil {
			return models.Candle{}, fmt.Errorf("field %d %q: %w", i+1, rec[i+1], err)
		}
		vals[i] = v
	}
	var vol int64
	if len(rec) > 5 && rec[5] != "" {
		f, err := strconv.ParseFloat(rec[5], 64)
		if err != nil {
			return models.Candle{}, fmt.Errorf("volume %q: %w", rec[5], err)
		}
		vol = int64(f)
	}
	return models.Candle{
		Timestamp: day.UTC().Unix(),
		Open:      vals[0],
		High:      vals[1],
		Low:       vals[2],
		Close:     vals[3],
		Volume:    vol,
	}, nil
}
