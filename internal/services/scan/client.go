package scan

import (
	"context"
	"fmt"
	"time"

	"MarketPull/internal/domain/models"
	"MarketPull/internal/domain/service"
	"MarketPull/internal/services/remote"
	"MarketPull/pkg/logger"
)

type Config struct {
	BaseURL string        `yaml:"base_url"`
	Path    string        `yaml:"path" default:"/v1/tools/run_scan"`
	APIKey  string        `yaml:"api_key"`
	Timeout time.Duration `yaml:"timeout" default:"30s"`
	Retries int           `yaml:"retries" default:"3"`
}

// Client runs saved filter sets on the external tool service. Filter
// semantics live entirely on the other side.
type Client struct {
	*remote.HTTPServiceBase
	cfg Config
	log *logger.Logger
}

var _ service.ScanRunner = (*Client)(nil)

func NewClient(cfg Config, lgr *logger.Logger) *Client {
	headers := map[string]string{}
	if cfg.APIKey != "" {
		headers["Authorization"] = "Bearer " + cfg.APIKey
	}
	if cfg.Path == "" {
		cfg.Path = "/v1/tools/run_scan"
	}
	return &Client{
		HTTPServiceBase: remote.NewHTTPServiceBase(cfg.BaseURL, cfg.Timeout, headers),
		cfg:             cfg,
		log:             lgr.With(logger.String("component", "scan_client")),
	}
}

type toolCall struct {
	Tool      string             `json:"tool"`
	Arguments models.ScanRequest `json:"arguments"`
}

type toolResult struct {
	Result *models.ScanResult `json:"result"`
	Error  string             `json:"error,omitempty"`
}

func (c *Client) RunScan(ctx context.Context, req models.ScanRequest) (*models.ScanResult, error) {
	if req.Logic == "" {
		req.Logic = "AND"
	}
	start := time.Now()
	var out toolResult
	if err := c.PostJSONWithRetry(ctx, c.cfg.Path, toolCall{Tool: "run_scan", Arguments: req}, &out, c.cfg.Retries); err != nil {
		return nil, fmt.Errorf("run scan: %w", err)
	}
	if out.Error != "" {
		return nil, fmt.Errorf("run scan: %s", out.Error)
	}
	if out.Result == nil {
		return &models.ScanResult{}, nil
	}
	if out.Result.Total == 0 {
		out.Result.Total = len(out.Result.Matches)
	}
	c.log.Debug("scan finished",
		logger.Int("symbols", len(req.Symbols)),
		logger.Int("matches", len(out.Result.Matches)),
		logger.Duration("duration_ms", time.Since(start)))
	return out.Result, nil
}
