//go:build wireinject
// +build wireinject

package di

import (
	"SensorPull/pkg/config"
	"SensorPull/pkg/server"

	"github.com/google/wire"
)

var infraSet = wire.NewSet(
	ProvideLogger,
	ProvideRegistry,
	ProvideMetrics,
	ProvideClickHouseClient,
	ProvideReadingStore,
	ProvideKafkaProducer,
	ProvideObjectStore,
	ProvideRedisCache,
)

var engineSet = wire.NewSet(
	ProvideEngine,
	ProvideDecisionProcessor,
	ProvideAnomalySink,
)

// InitializeRealtimeApp wires the long-running real-time mode.
// Wire will generate the implementation of this function.
func InitializeRealtimeApp(cfg *config.Config) (*server.App, error) {
	wire.Build(
		infraSet,
		engineSet,
		ProvideAlertWorker,
		ProvideRealtimeCleanSink,
		ProvideRealtimeRouter,
		ProvidePipeline,
		ProvideIngestor,
		ProvideCollector,
		ProvideKafkaConsumer,
		ProvideKafkaReadingsHandler,
		ProvideHTTPServer,
		ProvideRealtimeApp,
	)
	return &server.App{}, nil
}

// InitializeBatchApp wires the partition replay mode.
func InitializeBatchApp(cfg *config.Config) (*server.App, error) {
	wire.Build(
		infraSet,
		engineSet,
		ProvideAlertPublisher,
		ProvideBatchCleanSink,
		ProvideBatchRouter,
		ProvideBatchApp,
	)
	return &server.App{}, nil
}
