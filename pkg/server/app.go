package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"MarketPull/internal/scheduler"
	"MarketPull/internal/usecase"
	"MarketPull/pkg/config"
	xhttp "MarketPull/pkg/http"
	pkgkafka "MarketPull/pkg/kafka"
	"MarketPull/pkg/logger"
	"MarketPull/pkg/queue"
)

// Role selects which parts of the application a process runs.
type Role string

const (
	// RoleAll runs the API, the workers and the scheduler in one process.
	RoleAll Role = "all"
	// RoleAPI serves HTTP and the live trade socket. Queues are producer
	// only.
	RoleAPI Role = "api"
	// RoleWorker runs the job workers, the scheduler and the tick consumer.
	RoleWorker Role = "worker"
)

// ParseRole validates a role name.
func ParseRole(s string) (Role, error) {
	switch r := Role(s); r {
	case RoleAll, RoleAPI, RoleWorker:
		return r, nil
	case "":
		return RoleAll, nil
	default:
		return "", fmt.Errorf("unknown role %q (want all, api or worker)", s)
	}
}

// Serves reports whether the role runs the HTTP surface.
func (r Role) Serves() bool { return r != RoleWorker }

// Works reports whether the role consumes background jobs.
func (r Role) Works() bool { return r != RoleAPI }

// Components are the long-running parts the App starts and stops. Only
// Queues is required.
type Components struct {
	HTTP      *xhttp.Server
	Queues    *queue.Manager
	Scheduler *scheduler.Scheduler
	Collector *usecase.TradeCollector
	Consumer  *pkgkafka.Consumer
	Ticks     pkgkafka.MessageHandler
	// Closers are released in reverse order after everything has stopped.
	Closers []io.Closer
}

// App encapsulates the application lifecycle.
type App struct {
	cfg  *config.Config
	role Role
	log  *logger.Logger
	c    Components
}

func New(cfg *config.Config, role Role, lgr *logger.Logger, c Components) *App {
	return &App{
		cfg:  cfg,
		role: role,
		log:  lgr.With(logger.String("role", string(role))),
		c:    c,
	}
}

func (a *App) Role() Role { return a.role }

// Run starts the application and blocks until SIGINT or SIGTERM.
func (a *App) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return a.RunContext(ctx)
}

// RunContext starts every component for the role and blocks until ctx is
// done.
func (a *App) RunContext(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := a.start(runCtx); err != nil {
		a.shutdown()
		return err
	}
	a.log.Info("application started", logger.String("env", a.cfg.Environment))

	<-ctx.Done()
	a.log.Info("shutdown signal received")
	cancel()
	a.shutdown()
	return nil
}

func (a *App) start(ctx context.Context) error {
	// Queues start in every role; the api role runs them producer only.
	if err := a.c.Queues.Start(); err != nil {
		return fmt.Errorf("start queues: %w", err)
	}
	a.log.Info("queues started", logger.Strings("queues", a.c.Queues.Names()))

	if a.role.Works() && a.c.Scheduler != nil {
		if err := a.c.Scheduler.Start(); err != nil {
			return fmt.Errorf("start scheduler: %w", err)
		}
	}

	if a.role.Serves() && a.c.Collector != nil {
		a.c.Collector.Start(ctx)
	}

	if a.role.Works() && a.c.Consumer != nil && a.c.Ticks != nil {
		a.c.Consumer.RegisterHandler(a.c.Ticks)
		if err := a.c.Consumer.Start(); err != nil {
			return fmt.Errorf("start kafka consumer: %w", err)
		}
		a.log.Info("kafka consumer started", logger.String("topic", a.c.Ticks.Topic()))
	}

	if a.role.Serves() && a.c.HTTP != nil {
		if err := a.c.HTTP.Start(); err != nil {
			return fmt.Errorf("start http server: %w", err)
		}
	}
	return nil
}

// shutdown stops producers of work before the things they feed: HTTP and
// the scheduler first, then the live stream and the consumer, then the
// queues, then shared clients.
func (a *App) shutdown() {
	timeout := a.cfg.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	a.log.Info("shutting down", logger.Duration("timeout", timeout))

	var errs []error
	if a.role.Serves() && a.c.HTTP != nil {
		if err := a.c.HTTP.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("http: %w", err))
		}
	}
	if a.role.Works() && a.c.Scheduler != nil {
		a.c.Scheduler.Stop()
	}
	if a.c.Collector != nil {
		if err := a.c.Collector.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("trade collector: %w", err))
		}
	}
	if a.role.Works() && a.c.Consumer != nil {
		if err := a.c.Consumer.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("kafka consumer: %w", err))
		}
	}
	if err := a.c.Queues.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("queues: %w", err))
	}
	for i := len(a.c.Closers) - 1; i >= 0; i-- {
		if err := a.c.Closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}

	if err := errors.Join(errs...); err != nil {
		a.log.Warn("shutdown finished with errors", logger.Error(err))
		return
	}
	a.log.Info("shutdown complete")
}
