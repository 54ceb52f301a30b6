//go:build wireinject
// +build wireinject

package di

import (
	"AmberPull/internal/domain/repository"
	"AmberPull/internal/service/amber"
	"AmberPull/pkg/config"
	"AmberPull/pkg/server"

	"github.com/google/wire"
)

// InitializeApp wires up all dependencies and returns the application.
// Wire will generate the implementation of this function.
func InitializeApp(cfg *config.Config) (*server.App, func(), error) {
	wire.Build(
		ProvideLogger,
		ProvideMetrics,

		// Upstream
		ProvideLimiter,
		ProvideAmberClient,
		wire.Bind(new(repository.PriceAPI), new(*amber.Client)),
		ProvidePriceStream,

		// Storage and sinks
		ProvideCache,
		ProvideObservationStore,
		ProvideClickHouseClient,
		ProvideKafkaProducer,
		ProvidePriceSink,
		ProvideSinkPipeline,

		// Use cases
		ProvideOrchestrator,
		ProvidePriceMerger,
		ProvidePricePoller,
		ProvideStreamCollector,

		// HTTP
		ProvideHTTPHandler,
		ProvideHTTPServer,

		ProvideApp,
	)
	return &server.App{}, nil, nil
}
