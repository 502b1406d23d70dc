//go:build wireinject
// +build wireinject

package di

import (
	"MarketPull/pkg/config"
	"MarketPull/pkg/server"

	"github.com/google/wire"
)

// InitializeApp wires up all dependencies for the given role. The cleanup
// closes shared clients and must run after App.Run returns.
func InitializeApp(cfg *config.Config, role server.Role) (*server.App, func(), error) {
	wire.Build(
		// Infrastructure
		ProvideKafkaProducer,
		ProvideLogger,
		ProvideMetrics,
		ProvideDatabase,
		ProvideRedisClient,
		ProvideCache,
		ProvideClickHouseClient,

		// Repositories
		ProvideSymbolRepository,
		ProvideCandleRepository,
		ProvideMetricRepository,
		ProvideAlertRepository,
		ProvideScanRepository,
		ProvideBacktestRepository,
		ProvideTickStore,
		ProvideEventPublisher,

		// Providers
		ProvideFinnhubClient,
		ProvideDailySource,
		ProvideQuoteBatchProvider,
		ProvidePacers,
		ProvideScanRunner,
		ProvideNotifier,

		// Use cases and jobs
		ProvideMarketDataService,
		ProvideQueueManager,
		ProvideIngestionService,
		ProvideAlertEvaluator,
		ProvideBacktestRunner,
		ProvideJobs,
		ProvideJobTrigger,
		ProvideScheduler,

		// Live trades
		ProvideHub,
		ProvideTradeProcessor,
		ProvideTradeCollector,
		ProvideKafkaConsumer,
		ProvideKafkaTicksHandler,

		// Application server
		ProvideHTTPServer,
		ProvideApp,
	)
	return nil, nil, nil
}
