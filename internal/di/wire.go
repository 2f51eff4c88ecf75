//go:build wireinject
// +build wireinject

package di

import (
	"SignalPipe/pkg/config"
	"SignalPipe/pkg/server"

	"github.com/google/wire"
)

// InitializeApp wires up all dependencies and returns the application.
// Wire will generate the implementation of this function.
func InitializeApp(cfg *config.Config) (*server.App, func(), error) {
	wire.Build(
		// Ambient
		ProvideLogger,
		ProvideMetrics,
		ProvideCalendar,

		// Infrastructure clients
		ProvideClickHouseClient,
		ProvidePostgresClient,
		ProvideRedisCache,
		ProvideCacheService,
		ProvideKafkaProducer,

		// Repositories
		ProvideTopics,
		ProvideStateStore,
		ProvideLogStore,
		ProvideCandleStore,
		ProvidePublisher,
		ProvideStreamSource,
		ProvideVolatility,
		ProvideBroker,

		// Use cases
		ProvideRankingEngine,
		ProvideScanner,
		ProvideGateway,
		ProvideTruthTestRunner,
		ProvideComponents,

		// Transport
		ProvideKafkaConsumer,
		ProvideJobPublisher,
		ProvideJobConsumer,
		ProvideHandlers,

		// Application server
		ProvideApp,
	)
	return nil, nil, nil
}
