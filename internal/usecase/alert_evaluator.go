package usecase

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"MarketPull/internal/domain/models"
	domrepo "MarketPull/internal/domain/repository"
	"MarketPull/internal/domain/service"
	"MarketPull/internal/services/features"
	"MarketPull/pkg/logger"

	"github.com/shopspring/decimal"
)

const (
	reasonInsufficientData = "not enough candle data"
	reasonMissingTicker    = "missing ticker"
	reasonInvalidThreshold = "invalid threshold"
	reasonInvalidDirection = "invalid direction"
	reasonMissingScan      = "missing scan reference"
	reasonScanNotFound     = "saved scan not found"
	reasonNoMatches        = "no matching symbols"
	reasonConditionNotMet  = "condition not met"
	reasonUnknownType      = "unknown alert type"
)

type AlertEvaluatorDeps struct {
	Alerts  domrepo.AlertRepository
	Symbols domrepo.SymbolRepository
	Candles domrepo.CandleRepository
	Scans   domrepo.ScanRepository
	Scanner service.ScanRunner
	// Notifier and Events are optional.
	Notifier service.Notifier
	Events   service.EventPublisher
	Metrics  domrepo.Metrics
}

// AlertEvaluator runs one evaluation pass over every active alert.
type AlertEvaluator struct {
	deps AlertEvaluatorDeps
	log  *logger.Logger
	now  func() time.Time
}

func NewAlertEvaluator(deps AlertEvaluatorDeps, lgr *logger.Logger) *AlertEvaluator {
	if deps.Metrics == nil {
		deps.Metrics = domrepo.NopMetrics{}
	}
	return &AlertEvaluator{
		deps: deps,
		log:  lgr.With(logger.String("component", "alert_evaluator")),
		now:  time.Now,
	}
}

// Evaluate checks every active, unexpired alert and records triggers. A
// single alert's failure is counted in the summary; only store failures
// while loading or expiring alerts are returned.
func (e *AlertEvaluator) Evaluate(ctx context.Context) (*models.EvaluationSummary, error) {
	alerts, err := e.deps.Alerts.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("list active alerts: %w", err)
	}

	now := e.now().UTC()
	summary := &models.EvaluationSummary{}
	live := make([]models.Alert, 0, len(alerts))
	var expired []uint
	for _, a := range alerts {
		if a.Expired(now) {
			expired = append(expired, a.ID)
			continue
		}
		live = append(live, a)
	}
	if len(expired) > 0 {
		n, err := e.deps.Alerts.MarkExpired(ctx, expired)
		if err != nil {
			return nil, fmt.Errorf("expire alerts: %w", err)
		}
		summary.Expired = int(n)
	}

	for i := range live {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		a := &live[i]
		summary.Evaluated++

		outcome, err := e.evaluate(ctx, a)
		if err != nil {
			summary.Errors++
			outcome.Reason = err.Error()
			e.log.Warn("alert evaluation failed",
				logger.Uint("alert_id", a.ID),
				logger.String("type", string(a.Type)),
				logger.Error(err))
		}
		if outcome.Triggered {
			if err := e.trigger(ctx, a, &outcome); err != nil {
				if errors.Is(err, domrepo.ErrNotFound) {
					summary.Skipped++
				} else {
					summary.Errors++
					e.log.Error("record alert trigger failed", logger.Uint("alert_id", a.ID), logger.Error(err))
				}
				outcome.Triggered = false
				outcome.Reason = err.Error()
			} else {
				summary.Triggered++
			}
		}
		summary.Outcomes = append(summary.Outcomes, outcome)
	}

	e.deps.Metrics.RecordAlerts(summary.Evaluated, summary.Triggered)
	e.log.Info("alert evaluation done",
		logger.Int("evaluated", summary.Evaluated),
		logger.Int("triggered", summary.Triggered),
		logger.Int("expired", summary.Expired),
		logger.Int("errors", summary.Errors))
	return summary, nil
}

func (e *AlertEvaluator) evaluate(ctx context.Context, a *models.Alert) (models.AlertOutcome, error) {
	out := models.AlertOutcome{AlertID: a.ID}
	switch a.Type {
	case models.AlertPriceCross:
		return e.priceCross(ctx, a, out)
	case models.AlertPercentChange:
		return e.percentChange(ctx, a, out)
	case models.AlertScanMatch:
		return e.scanMatch(ctx, a, out)
	default:
		out.Reason = reasonUnknownType
		return out, nil
	}
}

// lastCloses loads the two most recent daily closes. reason is set when
// the alert cannot be evaluated.
func (e *AlertEvaluator) lastCloses(ctx context.Context, a *models.Alert) (prev, cur decimal.Decimal, reason string, err error) {
	ticker := strings.ToUpper(strings.TrimSpace(a.TickerValue()))
	if ticker == "" {
		return prev, cur, reasonMissingTicker, nil
	}
	sym, err := e.deps.Symbols.GetByTicker(ctx, ticker)
	if errors.Is(err, domrepo.ErrNotFound) {
		return prev, cur, reasonInsufficientData, nil
	}
	if err != nil {
		return prev, cur, "", fmt.Errorf("lookup %s: %w", ticker, err)
	}
	candles, err := e.deps.Candles.Latest(ctx, sym.ID, domrepo.ResD, 2, 0)
	if err != nil {
		return prev, cur, "", fmt.Errorf("latest candles %s: %w", ticker, err)
	}
	prev, cur, err = features.LastTwo(candles)
	if err != nil {
		return prev, cur, reasonInsufficientData, nil
	}
	return prev, cur, "", nil
}

func finite(v *float64) bool {
	return v != nil && !math.IsNaN(*v) && !math.IsInf(*v, 0)
}

func toFloat(d decimal.Decimal) *float64 {
	f, _ := d.Float64()
	return &f
}

func (e *AlertEvaluator) priceCross(ctx context.Context, a *models.Alert, out models.AlertOutcome) (models.AlertOutcome, error) {
	cond := a.Condition
	if !finite(cond.Threshold) {
		out.Reason = reasonInvalidThreshold
		return out, nil
	}
	prev, cur, reason, err := e.lastCloses(ctx, a)
	if err != nil || reason != "" {
		out.Reason = reason
		return out, err
	}
	threshold := decimal.NewFromFloat(*cond.Threshold)

	var crossed bool
	switch cond.Direction {
	case models.DirectionAbove:
		crossed = features.CrossedAbove(prev, cur, threshold)
	case models.DirectionBelow:
		crossed = features.CrossedBelow(prev, cur, threshold)
	default:
		out.Reason = reasonInvalidDirection
		return out, nil
	}

	out.Price = toFloat(cur)
	out.Value = toFloat(cur)
	out.Details = map[string]interface{}{
		"direction":      string(cond.Direction),
		"threshold":      *cond.Threshold,
		"previous_close": *toFloat(prev),
		"current_close":  *toFloat(cur),
	}
	out.Triggered = crossed
	if !crossed {
		out.Reason = reasonConditionNotMet
	}
	return out, nil
}

func (e *AlertEvaluator) percentChange(ctx context.Context, a *models.Alert, out models.AlertOutcome) (models.AlertOutcome, error) {
	cond := a.Condition
	if !finite(cond.PercentChange) {
		out.Reason = reasonInvalidThreshold
		return out, nil
	}
	prev, cur, reason, err := e.lastCloses(ctx, a)
	if err != nil || reason != "" {
		out.Reason = reason
		return out, err
	}
	pct, err := features.PercentChange(prev, cur)
	if err != nil {
		out.Reason = err.Error()
		return out, nil
	}
	threshold := decimal.NewFromFloat(*cond.PercentChange)

	var hit bool
	switch cond.Direction {
	case models.DirectionAbove:
		hit = pct.GreaterThanOrEqual(threshold)
	case models.DirectionBelow:
		hit = pct.LessThanOrEqual(threshold.Neg())
	default:
		out.Reason = reasonInvalidDirection
		return out, nil
	}

	out.Price = toFloat(cur)
	out.Value = toFloat(pct)
	out.Details = map[string]interface{}{
		"direction":      string(cond.Direction),
		"percent_change": *cond.PercentChange,
		"actual_change":  *toFloat(pct),
		"previous_close": *toFloat(prev),
		"current_close":  *toFloat(cur),
	}
	out.Triggered = hit
	if !hit {
		out.Reason = reasonConditionNotMet
	}
	return out, nil
}

func (e *AlertEvaluator) scanMatch(ctx context.Context, a *models.Alert, out models.AlertOutcome) (models.AlertOutcome, error) {
	if a.Condition.ScanID == nil {
		out.Reason = reasonMissingScan
		return out, nil
	}
	scan, err := e.deps.Scans.GetSavedScan(ctx, *a.Condition.ScanID)
	if errors.Is(err, domrepo.ErrNotFound) {
		out.Reason = reasonScanNotFound
		return out, nil
	}
	if err != nil {
		return out, fmt.Errorf("load saved scan %d: %w", *a.Condition.ScanID, err)
	}
	if e.deps.Scanner == nil {
		return out, errors.New("no scan runner configured")
	}

	res, err := e.deps.Scanner.RunScan(ctx, models.ScanRequest{
		Symbols: scan.Universe,
		Filters: scan.Filters,
		Logic:   scan.Logic,
	})
	if err != nil {
		return out, fmt.Errorf("run scan %d: %w", scan.ID, err)
	}
	matched := res.Symbols()
	count := float64(len(matched))
	out.Value = &count
	out.MatchedSymbols = matched
	out.Details = map[string]interface{}{
		"scan_id":       scan.ID,
		"scan_name":     scan.Name,
		"matched_count": len(matched),
	}
	out.Triggered = len(matched) > 0
	if !out.Triggered {
		out.Reason = reasonNoMatches
	}
	return out, nil
}

// trigger notifies when asked to, then records the status change and the
// history row together. A failed send never blocks the record.
func (e *AlertEvaluator) trigger(ctx context.Context, a *models.Alert, out *models.AlertOutcome) error {
	now := e.now().UTC()
	h := &models.AlertHistory{
		AlertID:        a.ID,
		TriggeredAt:    now,
		TriggerValue:   out.Value,
		TriggerPrice:   out.Price,
		MatchedSymbols: out.MatchedSymbols,
		Details:        out.Details,
	}

	switch {
	case !a.NotifyEmail:
		h.NotificationDetail = "disabled"
	case a.Email == nil || strings.TrimSpace(*a.Email) == "":
		h.NotificationDetail = "no address"
	case e.deps.Notifier == nil:
		h.NotificationDetail = "no notifier"
	default:
		name := a.Name
		if name == "" {
			name = fmt.Sprintf("%s %s", a.Type, a.TickerValue())
		}
		h.NotificationSent = e.deps.Notifier.SendAlertTriggered(ctx, service.AlertEmail{
			To:        *a.Email,
			AlertName: name,
			Details:   out.Details,
		})
		h.NotificationDetail = "sent"
		if !h.NotificationSent {
			h.NotificationDetail = "send failed"
		}
	}

	if err := e.deps.Alerts.RecordTrigger(ctx, a.ID, h); err != nil {
		return err
	}

	if e.deps.Events != nil {
		ev := service.AlertTriggeredEvent{
			AlertID:        a.ID,
			UserID:         a.UserID,
			Type:           a.Type,
			Ticker:         a.TickerValue(),
			Value:          out.Value,
			Price:          out.Price,
			MatchedSymbols: out.MatchedSymbols,
			Details:        out.Details,
			TriggeredAt:    now,
		}
		if err := e.deps.Events.AlertTriggered(ctx, ev); err != nil {
			e.log.Warn("publish alert event failed", logger.Uint("alert_id", a.ID), logger.Error(err))
		}
	}

	e.log.Info("alert triggered",
		logger.Uint("alert_id", a.ID),
		logger.String("type", string(a.Type)),
		logger.String("ticker", a.TickerValue()),
		logger.Bool("notified", h.NotificationSent))
	return nil
}
