package notify

import (
	"context"
	"fmt"
	"html"
	"sort"
	"strings"
	"time"

	"MarketPull/internal/domain/service"
	"MarketPull/internal/services/remote"
	"MarketPull/pkg/logger"
)

type Config struct {
	APIURL  string        `yaml:"api_url" default:"https://api.resend.com"`
	Path    string        `yaml:"path" default:"/emails"`
	APIKey  string        `yaml:"api_key"`
	From    string        `yaml:"from" default:"alerts@marketpull.local"`
	Timeout time.Duration `yaml:"timeout" default:"10s"`
	Retries int           `yaml:"retries" default:"2"`
}

// EmailNotifier sends alert emails through a transactional mail API.
type EmailNotifier struct {
	base *remote.HTTPServiceBase
	cfg  Config
	log  *logger.Logger
}

var _ service.Notifier = (*EmailNotifier)(nil)

func NewEmailNotifier(cfg Config, lgr *logger.Logger) *EmailNotifier {
	if cfg.Path == "" {
		cfg.Path = "/emails"
	}
	return &EmailNotifier{
		base: remote.NewHTTPServiceBase(cfg.APIURL, cfg.Timeout, map[string]string{
			"Authorization": "Bearer " + cfg.APIKey,
		}),
		cfg: cfg,
		log: lgr.With(logger.String("component", "email_notifier")),
	}
}

type emailRequest struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	HTML    string   `json:"html"`
}

// SendAlertTriggered reports whether the mail API accepted the message.
// Failures are logged, never returned.
func (n *EmailNotifier) SendAlertTriggered(ctx context.Context, email service.AlertEmail) bool {
	if n.cfg.APIKey == "" || !n.base.Configured() {
		n.log.Debug("mail api not configured, skipping", logger.String("alert", email.AlertName))
		return false
	}
	if strings.TrimSpace(email.To) == "" {
		return false
	}

	req := emailRequest{
		From:    n.cfg.From,
		To:      []string{email.To},
		Subject: fmt.Sprintf("Alert triggered: %s", email.AlertName),
		HTML:    renderBody(email),
	}
	if err := n.base.PostJSONWithRetry(ctx, n.cfg.Path, req, nil, n.cfg.Retries); err != nil {
		n.log.Warn("send alert email failed",
			logger.String("alert", email.AlertName),
			logger.Error(err))
		return false
	}
	return true
}

func renderBody(email service.AlertEmail) string {
	keys := make([]string, 0, len(email.Details))
	for k := range email.Details {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString("<h2>")
	b.WriteString(html.EscapeString(email.AlertName))
	b.WriteString("</h2><table>")
	for _, k := range keys {
		fmt.Fprintf(&b, "<tr><td>%s</td><td>%s</td></tr>",
			html.EscapeString(k), html.EscapeString(fmt.Sprint(email.Details[k])))
	}
	b.WriteString("</table>")
	return b.String()
}
