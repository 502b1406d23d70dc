package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"MarketPull/internal/domain/models"
	domrepo "MarketPull/internal/domain/repository"
	"MarketPull/internal/domain/service"
	"MarketPull/internal/services/features"
	"MarketPull/pkg/logger"
	"MarketPull/pkg/queue"

	"golang.org/x/sync/errgroup"
)

const backtestDateLayout = "2006-01-02"

type BacktestDeps struct {
	Backtests domrepo.BacktestRepository
	Scans     domrepo.ScanRepository
	Symbols   domrepo.SymbolRepository
	Candles   domrepo.CandleRepository
	Scanner   service.ScanRunner
	Jobs      JobEnqueuer
}

// BacktestRunner replays a scan day by day and scores the matches by their
// forward return over the holding period.
type BacktestRunner struct {
	deps BacktestDeps
	log  *logger.Logger
	now  func() time.Time
	// loaders bounds concurrent forward-return lookups.
	loaders int
}

func NewBacktestRunner(deps BacktestDeps, lgr *logger.Logger) *BacktestRunner {
	return &BacktestRunner{
		deps:    deps,
		log:     lgr.With(logger.String("component", "backtest")),
		now:     time.Now,
		loaders: 4,
	}
}

// Submit stores a pending backtest and enqueues its job.
func (r *BacktestRunner) Submit(ctx context.Context, req models.BacktestRequest) (*models.Backtest, error) {
	from, err := time.Parse(backtestDateLayout, req.From)
	if err != nil {
		return nil, fmt.Errorf("%w: from: %v", ErrInvalidQuery, err)
	}
	to, err := time.Parse(backtestDateLayout, req.To)
	if err != nil {
		return nil, fmt.Errorf("%w: to: %v", ErrInvalidQuery, err)
	}
	if to.Before(from) {
		return nil, fmt.Errorf("%w: from must be <= to", ErrInvalidQuery)
	}

	bt := &models.Backtest{
		ScanID:   req.ScanID,
		Filters:  req.Filters,
		Logic:    strings.ToUpper(req.Logic),
		Symbols:  req.Symbols,
		From:     from,
		To:       to,
		HoldDays: req.HoldDays,
		Status:   models.BacktestPending,
	}
	if req.ScanID != nil {
		scan, err := r.deps.Scans.GetSavedScan(ctx, *req.ScanID)
		if err != nil {
			return nil, fmt.Errorf("load saved scan %d: %w", *req.ScanID, err)
		}
		bt.Filters = scan.Filters
		bt.Logic = scan.Logic
		if len(bt.Symbols) == 0 {
			bt.Symbols = scan.Universe
		}
	}
	if bt.Logic == "" {
		bt.Logic = "AND"
	}
	if bt.HoldDays <= 0 {
		bt.HoldDays = 5
	}
	if err := r.deps.Backtests.Create(ctx, bt); err != nil {
		return nil, fmt.Errorf("create backtest: %w", err)
	}

	if r.deps.Jobs != nil {
		msg, err := r.deps.Jobs.Enqueue(ctx, models.QueueBacktest, models.JobBacktest, models.BacktestPayload{BacktestID: bt.ID})
		if err != nil {
			return bt, fmt.Errorf("enqueue backtest %d: %w", bt.ID, err)
		}
		bt.JobID = msg.ID
		if err := r.deps.Backtests.Save(ctx, bt); err != nil {
			return bt, fmt.Errorf("save backtest %d: %w", bt.ID, err)
		}
	}
	return bt, nil
}

type backtestProgress struct {
	Day          string `json:"day"`
	DaysReplayed int    `json:"days_replayed"`
	Signals      int    `json:"signals"`
}

// Run replays the backtest. A scan failure fails the run so the job can be
// retried; a retry starts the replay over.
func (r *BacktestRunner) Run(ctx context.Context, id uint) (*models.Backtest, error) {
	bt, err := r.deps.Backtests.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load backtest %d: %w", id, err)
	}
	if bt.Status == models.BacktestCompleted {
		return bt, nil
	}

	bt.Status = models.BacktestRunning
	bt.Error = ""
	bt.Signals = nil
	bt.DaysReplayed, bt.MatchedDays, bt.TotalSignals = 0, 0, 0
	if err := r.deps.Backtests.Save(ctx, bt); err != nil {
		return nil, fmt.Errorf("save backtest %d: %w", id, err)
	}

	if err := r.replay(ctx, bt); err != nil {
		bt.Status = models.BacktestFailed
		bt.Error = err.Error()
		if serr := r.deps.Backtests.Save(context.Background(), bt); serr != nil {
			r.log.Error("save failed backtest", logger.Uint("id", id), logger.Error(serr))
		}
		return bt, err
	}

	if err := r.score(ctx, bt); err != nil {
		return bt, err
	}
	done := r.now().UTC()
	bt.Status = models.BacktestCompleted
	bt.CompletedAt = &done
	if err := r.deps.Backtests.Save(ctx, bt); err != nil {
		return bt, fmt.Errorf("save backtest %d: %w", id, err)
	}
	r.log.Info("backtest completed",
		logger.Uint("id", id),
		logger.Int("days", bt.DaysReplayed),
		logger.Int("signals", bt.TotalSignals))
	return bt, nil
}

// tradingDays lists weekdays from..to inclusive.
func tradingDays(from, to time.Time) []time.Time {
	var out []time.Time
	for d := from.UTC().Truncate(24 * time.Hour); !d.After(to); d = d.AddDate(0, 0, 1) {
		if wd := d.Weekday(); wd == time.Saturday || wd == time.Sunday {
			continue
		}
		out = append(out, d)
	}
	return out
}

func (r *BacktestRunner) replay(ctx context.Context, bt *models.Backtest) error {
	if r.deps.Scanner == nil {
		return errors.New("no scan runner configured")
	}
	for _, d := range tradingDays(bt.From, bt.To) {
		if err := ctx.Err(); err != nil {
			return err
		}
		asOf := d.Add(24*time.Hour - time.Second)
		res, err := r.deps.Scanner.RunScan(ctx, models.ScanRequest{
			Symbols: bt.Symbols,
			Filters: bt.Filters,
			Logic:   bt.Logic,
			AsOf:    &asOf,
		})
		if err != nil {
			return fmt.Errorf("scan %s: %w", d.Format(backtestDateLayout), err)
		}
		bt.DaysReplayed++
		matched := res.Symbols()
		if len(matched) > 0 {
			bt.MatchedDays++
		}
		for _, sym := range matched {
			bt.Signals = append(bt.Signals, models.BacktestSignal{Date: d.Format(backtestDateLayout), Symbol: sym})
		}
		if err := queue.ReportProgress(ctx, backtestProgress{
			Day:          d.Format(backtestDateLayout),
			DaysReplayed: bt.DaysReplayed,
			Signals:      len(bt.Signals),
		}); err != nil {
			r.log.Debug("report progress failed", logger.Error(err))
		}
	}
	bt.TotalSignals = len(bt.Signals)
	return nil
}

// score fills entry and exit closes and the forward return of every signal,
// then the aggregates.
func (r *BacktestRunner) score(ctx context.Context, bt *models.Backtest) error {
	var (
		mu  sync.Mutex
		ids = make(map[string]uint)
	)
	symbolID := func(ctx context.Context, ticker string) (uint, bool, error) {
		mu.Lock()
		id, ok := ids[ticker]
		mu.Unlock()
		if ok {
			return id, id != 0, nil
		}
		sym, err := r.deps.Symbols.GetByTicker(ctx, ticker)
		if errors.Is(err, domrepo.ErrNotFound) {
			mu.Lock()
			ids[ticker] = 0
			mu.Unlock()
			return 0, false, nil
		}
		if err != nil {
			return 0, false, err
		}
		mu.Lock()
		ids[ticker] = sym.ID
		mu.Unlock()
		return sym.ID, true, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.loaders)
	for i := range bt.Signals {
		sig := &bt.Signals[i]
		g.Go(func() error {
			id, ok, err := symbolID(gctx, sig.Symbol)
			if err != nil || !ok {
				return err
			}
			return r.forwardReturn(gctx, id, bt.HoldDays, sig)
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("score signals: %w", err)
	}

	var wins, scored int
	var sum float64
	for _, s := range bt.Signals {
		if s.ForwardReturn == nil {
			continue
		}
		scored++
		sum += *s.ForwardReturn
		if *s.ForwardReturn > 0 {
			wins++
		}
	}
	if scored > 0 {
		winRate := float64(wins) / float64(scored)
		avg := sum / float64(scored)
		bt.WinRate = &winRate
		bt.AvgReturn = &avg
	}
	return nil
}

func (r *BacktestRunner) forwardReturn(ctx context.Context, symbolID uint, holdDays int, sig *models.BacktestSignal) error {
	day, err := time.Parse(backtestDateLayout, sig.Date)
	if err != nil {
		return err
	}
	asOf := day.Add(24*time.Hour - time.Second).Unix()
	entry, err := r.deps.Candles.Latest(ctx, symbolID, domrepo.ResD, 1, asOf)
	if err != nil {
		return err
	}
	if len(entry) == 0 {
		return nil
	}
	entryClose, _ := entry[0].Close.Float64()
	sig.EntryClose = &entryClose

	// Weekends and holidays stretch the calendar span of holdDays bars.
	horizon := asOf + int64(holdDays*2+7)*86400
	after, err := r.deps.Candles.Range(ctx, symbolID, domrepo.ResD, entry[0].Timestamp+1, horizon)
	if err != nil {
		return err
	}
	if len(after) < holdDays {
		return nil
	}
	exit := after[holdDays-1]
	exitClose, _ := exit.Close.Float64()
	sig.ExitClose = &exitClose
	if ret, ok := features.ForwardReturn(entry[0].Close, exit.Close); ok {
		sig.ForwardReturn = &ret
	}
	return nil
}
