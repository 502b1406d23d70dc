package scheduler

import (
	"context"
	"fmt"
	"time"

	"MarketPull/internal/domain/models"
	"MarketPull/pkg/logger"

	"github.com/go-co-op/gocron"
)

// Config holds the recurring job specs. Cron specs are evaluated in UTC.
type Config struct {
	Enabled        bool          `yaml:"enabled" default:"true"`
	EODCron        string        `yaml:"eod_cron" default:"30 21 * * 1-5"`
	SymbolSyncCron string        `yaml:"symbol_sync_cron" default:"0 2 * * 0"`
	MetricsCron    string        `yaml:"metrics_cron" default:"0 6 * * 1-5"`
	Exchange       string        `yaml:"exchange" default:"US"`
	Intraday       time.Duration `yaml:"intraday_interval" default:"15m"`
	Alerts         time.Duration `yaml:"alerts_interval" default:"5m"`
	// TickTimeout bounds one enqueue round.
	TickTimeout time.Duration `yaml:"tick_timeout" default:"30s"`
}

// Scheduler turns the recurring specs into enqueued jobs. It never runs
// work itself; the workers pick the jobs up.
type Scheduler struct {
	cron    *gocron.Scheduler
	trigger *JobTrigger
	cfg     Config
	log     *logger.Logger
}

func NewScheduler(trigger *JobTrigger, cfg Config, lgr *logger.Logger) *Scheduler {
	if cfg.TickTimeout <= 0 {
		cfg.TickTimeout = 30 * time.Second
	}
	cron := gocron.NewScheduler(time.UTC)
	cron.SingletonModeAll()
	cron.WaitForScheduleAll()
	return &Scheduler{
		cron:    cron,
		trigger: trigger,
		cfg:     cfg,
		log:     lgr.With(logger.String("component", "scheduler")),
	}
}

// Start registers the enabled recurring jobs and starts the clock.
func (s *Scheduler) Start() error {
	if !s.cfg.Enabled {
		s.log.Info("scheduler disabled")
		return nil
	}

	if s.cfg.EODCron != "" {
		if _, err := s.cron.Cron(s.cfg.EODCron).Tag("eod").Do(s.tick, "eod", s.EOD); err != nil {
			return fmt.Errorf("schedule eod: %w", err)
		}
	}
	if s.cfg.SymbolSyncCron != "" {
		if _, err := s.cron.Cron(s.cfg.SymbolSyncCron).Tag("symbol-sync").Do(s.tick, "symbol-sync", s.SymbolSync); err != nil {
			return fmt.Errorf("schedule symbol sync: %w", err)
		}
	}
	if s.cfg.MetricsCron != "" {
		if _, err := s.cron.Cron(s.cfg.MetricsCron).Tag("metrics").Do(s.tick, "metrics", s.Metrics); err != nil {
			return fmt.Errorf("schedule metrics: %w", err)
		}
	}
	if s.cfg.Intraday > 0 {
		if _, err := s.cron.Every(s.cfg.Intraday).Tag("intraday").Do(s.tick, "intraday", s.Intraday); err != nil {
			return fmt.Errorf("schedule intraday: %w", err)
		}
	}
	if s.cfg.Alerts > 0 {
		if _, err := s.cron.Every(s.cfg.Alerts).Tag("alerts").Do(s.tick, "alerts", s.Alerts); err != nil {
			return fmt.Errorf("schedule alerts: %w", err)
		}
	}

	s.cron.StartAsync()
	s.log.Info("scheduler started", logger.Int("jobs", s.cron.Len()))
	return nil
}

func (s *Scheduler) Stop() {
	s.cron.Stop()
	s.log.Info("scheduler stopped")
}

// Len returns the number of registered recurring jobs.
func (s *Scheduler) Len() int { return s.cron.Len() }

func (s *Scheduler) tick(name string, fn func(ctx context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.TickTimeout)
	defer cancel()
	if err := fn(ctx); err != nil {
		s.log.Error("scheduled enqueue failed", logger.String("job", name), logger.Error(err))
	}
}

func (s *Scheduler) EOD(ctx context.Context) error {
	_, err := s.trigger.TriggerEOD(ctx, models.EODTriggerRequest{All: true})
	return err
}

func (s *Scheduler) SymbolSync(ctx context.Context) error {
	_, err := s.trigger.TriggerSymbolSync(ctx, models.SymbolSyncRequest{Exchange: s.cfg.Exchange})
	return err
}

func (s *Scheduler) Metrics(ctx context.Context) error {
	n, err := s.trigger.TriggerAllMetrics(ctx)
	if err != nil {
		return err
	}
	s.log.Info("metrics slices enqueued", logger.Int("slices", n))
	return nil
}

func (s *Scheduler) Intraday(ctx context.Context) error {
	_, err := s.trigger.TriggerIntraday(ctx, models.IntradayTriggerRequest{})
	return err
}

func (s *Scheduler) Alerts(ctx context.Context) error {
	_, err := s.trigger.TriggerAlerts(ctx, "schedule")
	return err
}
