package di

import (
	"context"
	"fmt"
	"time"

	"MarketPull/internal/domain/models"
	domrepo "MarketPull/internal/domain/repository"
	"MarketPull/internal/domain/service"
	"MarketPull/internal/handler/api"
	mid "MarketPull/internal/middleware"
	internalrepo "MarketPull/internal/repository"
	"MarketPull/internal/scheduler"
	"MarketPull/internal/service/finnhub"
	"MarketPull/internal/service/fmp"
	"MarketPull/internal/service/ratelimit"
	"MarketPull/internal/service/stooq"
	"MarketPull/internal/services/notify"
	"MarketPull/internal/services/scan"
	"MarketPull/internal/stream"
	"MarketPull/internal/usecase"
	"MarketPull/internal/worker"
	"MarketPull/pkg/cache"
	pkgch "MarketPull/pkg/clickhouse"
	"MarketPull/pkg/config"
	"MarketPull/pkg/database"
	xhttp "MarketPull/pkg/http"
	pkgkafka "MarketPull/pkg/kafka"
	"MarketPull/pkg/logger"
	"MarketPull/pkg/metrics"
	"MarketPull/pkg/queue"
	"MarketPull/pkg/server"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// Jobs is the queue manager after every family's handlers are attached.
type Jobs struct {
	Manager *queue.Manager
}

// ProvideKafkaProducer creates the shared producer, or nil when Kafka is
// disabled.
func ProvideKafkaProducer(cfg *config.Config) (*pkgkafka.Producer, func(), error) {
	if !cfg.Kafka.Enabled {
		return nil, func() {}, nil
	}
	producer, err := pkgkafka.NewProducer(cfg.Kafka.ProducerOptions()...)
	if err != nil {
		return nil, nil, fmt.Errorf("kafka producer: %w", err)
	}
	return producer, func() { _ = producer.Close() }, nil
}

// ProvideLogger builds the root logger. With logging.collect set and Kafka
// available, repeated error entries are folded and shipped to the logs
// topic.
func ProvideLogger(cfg *config.Config, producer *pkgkafka.Producer) (*logger.Logger, func(), error) {
	lgr, err := logger.New(&cfg.Logging)
	if err != nil {
		return nil, nil, fmt.Errorf("logger: %w", err)
	}
	if cfg.Logging.Collect && producer != nil {
		topic := cfg.Logging.Topic
		if topic == "" {
			topic = cfg.Kafka.Topics.Logs
		}
		lgr.AddCollector(&logger.CollectionConfig{
			TimeInterval:   30 * time.Second,
			CountThreshold: 100,
			Topic:          topic,
			Publisher:      producer,
		})
	}
	return lgr, lgr.RemoveCollector, nil
}

// ProvideMetrics creates the Prometheus recorder on the default registry.
func ProvideMetrics() *metrics.Recorder {
	return metrics.New()
}

func ProvideDatabase(cfg *config.Config, lgr *logger.Logger) (*gorm.DB, func(), error) {
	db, err := database.Open(cfg.Database, lgr)
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
	if cfg.Database.AutoMigrate {
		if err := internalrepo.Migrate(db); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("migrate: %w", err)
		}
	}
	return db, cleanup, nil
}

func ProvideRedisClient(cfg *config.Config) (*redis.Client, func(), error) {
	client, err := cache.NewRedisClient(cfg.Redis)
	if err != nil {
		return nil, nil, err
	}
	return client, func() { _ = client.Close() }, nil
}

// ProvideCache puts the optional in-process layer in front of Redis.
func ProvideCache(cfg *config.Config, client *redis.Client) cache.Service {
	shared := cache.NewRedisCache(client, cfg.Redis.Prefix)
	if !cfg.Cache.Enabled {
		return shared
	}
	return cache.NewLayeredCache(shared, cfg.Cache)
}

func ProvideSymbolRepository(db *gorm.DB) domrepo.SymbolRepository {
	return internalrepo.NewSymbolRepository(db)
}

func ProvideCandleRepository(db *gorm.DB) domrepo.CandleRepository {
	return internalrepo.NewCandleRepository(db)
}

func ProvideMetricRepository(db *gorm.DB) domrepo.MetricRepository {
	return internalrepo.NewMetricRepository(db)
}

func ProvideAlertRepository(db *gorm.DB) domrepo.AlertRepository {
	return internalrepo.NewAlertRepository(db)
}

func ProvideScanRepository(db *gorm.DB) domrepo.ScanRepository {
	return internalrepo.NewScanRepository(db)
}

func ProvideBacktestRepository(db *gorm.DB) domrepo.BacktestRepository {
	return internalrepo.NewBacktestRepository(db)
}

// ProvideFinnhubClient creates the primary provider. Call outcomes feed
// the provider metrics.
func ProvideFinnhubClient(cfg *config.Config, lgr *logger.Logger, rec *metrics.Recorder) *finnhub.Client {
	return finnhub.NewClient(cfg.Providers.Finnhub, lgr, finnhub.WithCallObserver(rec.RecordProviderCall))
}

// ProvideDailySource returns the free daily CSV source, or nil when it is
// disabled.
func ProvideDailySource(cfg *config.Config, lgr *logger.Logger) service.DailySource {
	if !cfg.Providers.Stooq.Enabled {
		return nil
	}
	return stooq.NewClient(cfg.Providers.Stooq, lgr)
}

// ProvideQuoteBatchProvider returns the batch metrics provider, or nil
// without a key.
func ProvideQuoteBatchProvider(cfg *config.Config, lgr *logger.Logger) service.QuoteBatchProvider {
	if cfg.Providers.FMP.APIKey == "" {
		return nil
	}
	return fmp.NewClient(cfg.Providers.FMP, lgr)
}

// Pacers holds one pacer per upstream provider.
type Pacers struct {
	Finnhub *ratelimit.Pacer
	FMP     *ratelimit.Pacer
}

// ProvidePacers paces bulk provider calls. Every 429 cool-down is counted
// under the provider that returned it.
func ProvidePacers(cfg *config.Config, lgr *logger.Logger, rec *metrics.Recorder) Pacers {
	hook := ratelimit.WithPauseHook(rec.RecordRateLimited)
	return Pacers{
		Finnhub: ratelimit.NewPacer("finnhub", cfg.Pacing.Finnhub, lgr, hook),
		FMP:     ratelimit.NewPacer("fmp", cfg.Pacing.FMP, lgr, hook),
	}
}

func ProvideMarketDataService(
	cfg *config.Config,
	symbols domrepo.SymbolRepository,
	candles domrepo.CandleRepository,
	metricRepo domrepo.MetricRepository,
	c cache.Service,
	primary *finnhub.Client,
	secondary service.DailySource,
	rec *metrics.Recorder,
	lgr *logger.Logger,
) *usecase.MarketDataService {
	return usecase.NewMarketDataService(symbols, candles, metricRepo, c, primary, secondary, cfg.MarketData, rec, lgr)
}

// ProvideEventPublisher publishes alert and job events, or returns nil
// without Kafka.
func ProvideEventPublisher(cfg *config.Config, producer *pkgkafka.Producer, lgr *logger.Logger) *internalrepo.KafkaEventPublisher {
	if producer == nil {
		return nil
	}
	return internalrepo.NewKafkaEventPublisher(producer, internalrepo.EventTopics{
		Alerts: cfg.Kafka.Topics.Alerts,
		Jobs:   cfg.Kafka.Topics.Jobs,
	}, lgr)
}

// ProvideQueueManager creates one Redis backed queue per job family. The
// api role only produces; workers run elsewhere.
func ProvideQueueManager(
	cfg *config.Config,
	role server.Role,
	client *redis.Client,
	rec *metrics.Recorder,
	events *internalrepo.KafkaEventPublisher,
	lgr *logger.Logger,
) *queue.Manager {
	broker := queue.NewRedisBroker(client, queue.WithKeyPrefix(cfg.Queue.KeyPrefix), queue.WithInstance(cfg.Queue.Instance))
	m := queue.NewManager()
	for _, name := range models.AllQueues {
		opts := []queue.Option{queue.WithObserver(rec.ObserveJob)}
		if events != nil {
			opts = append(opts, queue.WithObserver(events.ObserveJob))
		}
		if !role.Works() {
			opts = append(opts, queue.WithMode(queue.ModeProducerOnly))
		}
		m.Add(queue.NewQueue(name, lgr, cfg.Queue.Family(name), broker, opts...))
	}
	return m
}

func ProvideIngestionService(
	cfg *config.Config,
	market *usecase.MarketDataService,
	symbols domrepo.SymbolRepository,
	metricRepo domrepo.MetricRepository,
	primary *finnhub.Client,
	quotes service.QuoteBatchProvider,
	lock cache.Service,
	jobs *queue.Manager,
	pacers Pacers,
	lgr *logger.Logger,
) *usecase.IngestionService {
	deps := usecase.IngestionDeps{
		Market:    market,
		Symbols:   symbols,
		Metrics:   metricRepo,
		Listings:  primary,
		Snapshots: primary,
		Lock:      lock,
		Jobs:      jobs,
		Pacer:     pacers.Finnhub,
	}
	if quotes != nil {
		deps.Quotes = quotes
		deps.QuotePacer = pacers.FMP
	}
	return usecase.NewIngestionService(deps, cfg.Ingestion, lgr)
}

func ProvideScanRunner(cfg *config.Config, lgr *logger.Logger) service.ScanRunner {
	return scan.NewClient(cfg.Scan, lgr)
}

func ProvideNotifier(cfg *config.Config, lgr *logger.Logger) service.Notifier {
	return notify.NewEmailNotifier(cfg.Notify, lgr)
}

func ProvideAlertEvaluator(
	alerts domrepo.AlertRepository,
	symbols domrepo.SymbolRepository,
	candles domrepo.CandleRepository,
	scans domrepo.ScanRepository,
	scanner service.ScanRunner,
	notifier service.Notifier,
	events *internalrepo.KafkaEventPublisher,
	rec *metrics.Recorder,
	lgr *logger.Logger,
) *usecase.AlertEvaluator {
	deps := usecase.AlertEvaluatorDeps{
		Alerts:   alerts,
		Symbols:  symbols,
		Candles:  candles,
		Scans:    scans,
		Scanner:  scanner,
		Notifier: notifier,
		Metrics:  rec,
	}
	if events != nil {
		deps.Events = events
	}
	return usecase.NewAlertEvaluator(deps, lgr)
}

func ProvideBacktestRunner(
	backtests domrepo.BacktestRepository,
	scans domrepo.ScanRepository,
	symbols domrepo.SymbolRepository,
	candles domrepo.CandleRepository,
	scanner service.ScanRunner,
	jobs *queue.Manager,
	lgr *logger.Logger,
) *usecase.BacktestRunner {
	return usecase.NewBacktestRunner(usecase.BacktestDeps{
		Backtests: backtests,
		Scans:     scans,
		Symbols:   symbols,
		Candles:   candles,
		Scanner:   scanner,
		Jobs:      jobs,
	}, lgr)
}

// ProvideJobs attaches the job handlers to their queues.
func ProvideJobs(m *queue.Manager, ingest *usecase.IngestionService, alerts *usecase.AlertEvaluator, backtests *usecase.BacktestRunner) (Jobs, error) {
	if err := worker.Register(m, ingest, alerts, backtests); err != nil {
		return Jobs{}, fmt.Errorf("register jobs: %w", err)
	}
	return Jobs{Manager: m}, nil
}

func ProvideJobTrigger(
	cfg *config.Config,
	jobs Jobs,
	ingest *usecase.IngestionService,
	backtests *usecase.BacktestRunner,
	symbols domrepo.SymbolRepository,
	lgr *logger.Logger,
) *scheduler.JobTrigger {
	return scheduler.NewJobTrigger(jobs.Manager, ingest, backtests, symbols, cfg.Ingestion.MetricsSlice, lgr)
}

func ProvideScheduler(cfg *config.Config, trigger *scheduler.JobTrigger, lgr *logger.Logger) *scheduler.Scheduler {
	return scheduler.NewScheduler(trigger, cfg.Scheduler, lgr)
}

func ProvideHub(cfg *config.Config, rec *metrics.Recorder) *stream.Hub {
	return stream.NewHub(cfg.Stream.HubBuffer, rec)
}

// ProvideClickHouseClient connects only when ClickHouse is enabled.
func ProvideClickHouseClient(cfg *config.Config) (*pkgch.Client, func(), error) {
	if !cfg.ClickHouse.Enabled {
		return nil, func() {}, nil
	}
	client, err := pkgch.NewClient(pkgch.WithConfig(cfg.ClickHouse))
	if err != nil {
		return nil, nil, fmt.Errorf("clickhouse client: %w", err)
	}
	return client, func() { _ = client.Close() }, nil
}

// ProvideTickStore creates the tick table on first use.
func ProvideTickStore(cfg *config.Config, client *pkgch.Client, lgr *logger.Logger) (*internalrepo.ClickHouseTickStore, error) {
	if client == nil {
		return nil, nil
	}
	store := internalrepo.NewClickHouseTickStore(client, cfg.ClickHouse.Table, lgr)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := store.Init(ctx); err != nil {
		return nil, fmt.Errorf("clickhouse schema: %w", err)
	}
	return store, nil
}

// ProvideTradeProcessor archives accepted trades to the configured
// backend.
func ProvideTradeProcessor(
	cfg *config.Config,
	producer *pkgkafka.Producer,
	store *internalrepo.ClickHouseTickStore,
	rec *metrics.Recorder,
) (*usecase.TradeProcessor, error) {
	var (
		pub   domrepo.TickPublisher
		ticks domrepo.TickStore
	)
	if producer != nil {
		pub = internalrepo.NewKafkaTickPublisher(producer, cfg.Kafka.Topics.Ticks)
	}
	if store != nil {
		ticks = store
	}
	backend := cfg.Stream.Backend
	if !cfg.Stream.Enabled {
		backend = usecase.BackendNone
	}
	return usecase.NewTradeProcessor(pub, ticks, rec, backend)
}

// ProvideTradeCollector assembles the live path: upstream socket, pipeline
// and hub. It is nil when streaming is disabled.
func ProvideTradeCollector(
	cfg *config.Config,
	hub *stream.Hub,
	processor *usecase.TradeProcessor,
	rec *metrics.Recorder,
	lgr *logger.Logger,
) *usecase.TradeCollector {
	if !cfg.Stream.Enabled {
		return nil
	}
	upstream := finnhub.NewTradeStream(cfg.Providers.Finnhub, lgr)
	pipeline := mid.NewTradePipeline(hub, processor, rec, cfg.Stream.Pipeline, lgr)
	manager := stream.NewConnectionManager(upstream, pipeline, cfg.Stream.Manager, lgr)
	return usecase.NewTradeCollector(manager, pipeline, hub, lgr)
}

// ProvideKafkaConsumer drains the ticks topic into ClickHouse. It only
// exists when trades go through Kafka and ClickHouse is there to receive
// them.
func ProvideKafkaConsumer(cfg *config.Config, store *internalrepo.ClickHouseTickStore, lgr *logger.Logger) (*pkgkafka.Consumer, error) {
	if !cfg.Kafka.Enabled || store == nil || cfg.Stream.Backend != usecase.BackendKafka {
		return nil, nil
	}
	opts := append(cfg.Kafka.ConsumerOptions(), pkgkafka.WithConsumerLogger(lgr))
	consumer, err := pkgkafka.NewConsumer(opts...)
	if err != nil {
		return nil, fmt.Errorf("kafka consumer: %w", err)
	}
	consumer.SetHook(pkgkafka.NewHookChain(pkgkafka.TraceHook(), pkgkafka.LogHook(lgr)))
	return consumer, nil
}

func ProvideKafkaTicksHandler(cfg *config.Config, consumer *pkgkafka.Consumer, store *internalrepo.ClickHouseTickStore, rec *metrics.Recorder) *usecase.KafkaTicksHandler {
	if consumer == nil {
		return nil
	}
	return usecase.NewKafkaTicksHandler(cfg.Kafka.Topics.Ticks, internalrepo.DecodeTick, store, rec)
}

// ProvideHTTPServer registers the API routes. The trade socket is only
// served when streaming is enabled.
func ProvideHTTPServer(
	cfg *config.Config,
	market *usecase.MarketDataService,
	trigger *scheduler.JobTrigger,
	backtests domrepo.BacktestRepository,
	hub *stream.Hub,
	lgr *logger.Logger,
) *xhttp.Server {
	handlers := xhttp.Handlers{
		api.NewMarketHandler(market, lgr),
		api.NewJobsHandler(trigger, backtests, ratelimit.New(), api.RateLimit{
			Burst:  cfg.API.TriggerBurst,
			Refill: cfg.API.TriggerRefill,
		}, lgr),
	}
	if cfg.Stream.Enabled {
		handlers = append(handlers, api.NewTradesHandler(hub, lgr))
	}

	opts := []xhttp.ServerOption{xhttp.WithConfig(cfg.Server)}
	if cfg.Metrics.Enabled {
		opts = append(opts, xhttp.WithMetricsPath(cfg.Metrics.Path))
	}
	return xhttp.NewServer(handlers, lgr, opts...)
}

func ProvideApp(
	cfg *config.Config,
	role server.Role,
	lgr *logger.Logger,
	srv *xhttp.Server,
	jobs Jobs,
	sched *scheduler.Scheduler,
	collector *usecase.TradeCollector,
	consumer *pkgkafka.Consumer,
	ticks *usecase.KafkaTicksHandler,
	processor *usecase.TradeProcessor,
	events *internalrepo.KafkaEventPublisher,
) *server.App {
	c := server.Components{
		HTTP:      srv,
		Queues:    jobs.Manager,
		Scheduler: sched,
		Collector: collector,
		Consumer:  consumer,
	}
	if ticks != nil {
		c.Ticks = ticks
	}
	// Released before the producer cleanup runs, so buffered events flush.
	c.Closers = append(c.Closers, processor)
	if events != nil {
		c.Closers = append(c.Closers, events)
	}
	return server.New(cfg, role, lgr, c)
}
