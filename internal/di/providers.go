package di

import (
	"context"
	"fmt"
	"time"

	"AmberPull/internal/domain/repository"
	"AmberPull/internal/handler/api"
	mid "AmberPull/internal/middleware"
	internalrepo "AmberPull/internal/repository"
	"AmberPull/internal/service/amber"
	"AmberPull/internal/service/ratelimit"
	"AmberPull/internal/services/polling"
	"AmberPull/internal/usecase"
	"AmberPull/pkg/cache"
	pkgch "AmberPull/pkg/clickhouse"
	"AmberPull/pkg/config"
	xhttp "AmberPull/pkg/http"
	pkgkafka "AmberPull/pkg/kafka"
	applogger "AmberPull/pkg/logger"
	"AmberPull/pkg/metrics"
	"AmberPull/pkg/server"
)

// ProvideLogger builds the root logger from the logger section.
func ProvideLogger(cfg *config.Config) (*applogger.Logger, error) {
	l, err := applogger.New(&cfg.Logger)
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	return l, nil
}

// ProvideMetrics creates a Prometheus metrics recorder, or a no-op when disabled.
func ProvideMetrics(cfg *config.Config) repository.Metrics {
	if !cfg.Metrics.Enabled {
		return metrics.Nop{}
	}
	return metrics.New(nil)
}

// ProvideLimiter creates the backoff limiter shared by the client and the loop.
func ProvideLimiter(cfg *config.Config, l *applogger.Logger) *ratelimit.Limiter {
	return ratelimit.New(
		ratelimit.WithBackoff(cfg.Polling.InitialBackoff, cfg.Polling.MaxBackoff),
		ratelimit.WithLogger(l.With("ratelimit")),
	)
}

// ProvideAmberClient creates the REST price client.
func ProvideAmberClient(cfg *config.Config, limiter *ratelimit.Limiter, l *applogger.Logger) *amber.Client {
	return amber.NewClient(cfg.Amber.APIURL, cfg.Amber.APIToken, cfg.Amber.Timeout, limiter,
		amber.WithPricingMode(cfg.Amber.PricingMode),
		amber.WithClientLogger(l.With("amber_client")),
	)
}

// ProvidePriceStream creates the push stream, or nil when it is disabled.
func ProvidePriceStream(cfg *config.Config, l *applogger.Logger) repository.PriceStream {
	if !cfg.Websocket.Enabled {
		return nil
	}
	return amber.NewStream(amber.StreamConfig{
		URL:               cfg.Websocket.URL,
		Token:             cfg.Amber.APIToken,
		SiteID:            cfg.Amber.SiteID,
		PricingMode:       cfg.Amber.PricingMode,
		MinReconnectDelay: cfg.Websocket.MinReconnectDelay,
		MaxReconnectDelay: cfg.Websocket.MaxReconnectDelay,
		Heartbeat:         cfg.Websocket.Heartbeat,
		StaleTimeout:      cfg.Websocket.StaleTimeout,
	}, l)
}

// ProvideCache creates the observation cache: in-memory, or Redis behind a
// small memory layer.
func ProvideCache(cfg *config.Config) (cache.Service, func(), error) {
	if cfg.Storage.Backend != "redis" {
		mc := cache.NewMemoryCache(cache.WithMemoryMaxSize(1024))
		return mc, func() { _ = mc.Close() }, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	rc, err := cache.NewRedisCache(ctx,
		cache.WithRedisAddr(cfg.Storage.Redis.Host, cfg.Storage.Redis.Port),
		cache.WithRedisAuth(cfg.Storage.Redis.Password, cfg.Storage.Redis.DB),
		cache.WithRedisPool(cfg.Storage.Redis.PoolSize, 2, 5*time.Second),
		cache.WithRedisPrefix(cfg.Storage.Redis.Prefix),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("redis cache: %w", err)
	}
	if cfg.Storage.Redis.MemoryLayer <= 0 {
		return rc, func() { _ = rc.Close() }, nil
	}
	lc := cache.NewLayeredCache(rc, cache.WithLayeredMemorySize(cfg.Storage.Redis.MemoryLayer))
	return lc, func() { _ = lc.Close() }, nil
}

// ProvideObservationStore persists the observation window in the cache.
func ProvideObservationStore(c cache.Service, cfg *config.Config, l *applogger.Logger) repository.ObservationStore {
	return internalrepo.NewObservationStore(c, cfg.Amber.SiteID,
		internalrepo.WithObservationTTL(cfg.Storage.TTL),
		internalrepo.WithObservationLogger(l),
	)
}

// ProvideClickHouseClient connects only when the clickhouse sink is selected.
func ProvideClickHouseClient(cfg *config.Config) (*pkgch.Client, func(), error) {
	if cfg.Sink.Backend != "clickhouse" {
		return nil, func() {}, nil
	}
	ch := cfg.Sink.ClickHouse
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	client, err := pkgch.NewClient(ctx,
		pkgch.WithAddr(ch.Host, ch.Port),
		pkgch.WithDatabase(ch.Database),
		pkgch.WithCredentials(ch.User, ch.Password),
		pkgch.WithMaxConnections(10, 5),
		pkgch.WithHTTP(ch.UseHTTP),
		pkgch.WithAsyncInsert(ch.AsyncInsert, ch.WaitForAsync),
		pkgch.WithTimeouts(ch.DialTimeout, ch.ReadTimeout, ch.WriteTimeout),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("clickhouse client: %w", err)
	}
	return client, func() { _ = client.Close() }, nil
}

// ProvideKafkaProducer creates a producer only when the kafka sink is selected.
// The sink owns it and closes it.
func ProvideKafkaProducer(cfg *config.Config) (*pkgkafka.Producer, error) {
	if cfg.Sink.Backend != "kafka" {
		return nil, nil
	}
	k := cfg.Sink.Kafka
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(k.Brokers),
		pkgkafka.WithCompression(k.Compression),
		pkgkafka.WithRequiredAcks(k.RequiredAcks),
		pkgkafka.WithBatchSize(k.BatchSize),
		pkgkafka.WithBatchTimeout(k.Linger),
		pkgkafka.WithTimeouts(k.WriteTimeout, k.WriteTimeout),
		pkgkafka.WithMaxAttempts(k.MaxAttempts),
		pkgkafka.WithAutoCreateTopic(k.AutoCreate),
		pkgkafka.WithHashByKey(true),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	return producer, nil
}

// ProvidePriceSink selects the confirmed price sink backend.
func ProvidePriceSink(cfg *config.Config, ch *pkgch.Client, producer *pkgkafka.Producer, l *applogger.Logger) (repository.PriceSink, error) {
	switch cfg.Sink.Backend {
	case "clickhouse":
		sink, err := internalrepo.NewClickHouseSink(ch, cfg.Sink.ClickHouse.Table, l)
		if err != nil {
			return nil, fmt.Errorf("clickhouse sink: %w", err)
		}
		return sink, nil
	case "kafka":
		return internalrepo.NewKafkaSink(producer, cfg.Sink.Kafka.Topic), nil
	default:
		return internalrepo.NopSink{}, nil
	}
}

// ProvideSinkPipeline fronts the sink with validation and retry buffering.
func ProvideSinkPipeline(sink repository.PriceSink, m repository.Metrics, cfg *config.Config, l *applogger.Logger) *mid.SinkPipeline {
	return mid.NewSinkPipeline(sink, m,
		mid.WithBufferSize(cfg.Sink.BufferSize),
		mid.WithRetryBackoff(cfg.Sink.RetryMin, cfg.Sink.RetryMax),
		mid.WithPipelineLogger(l),
	)
}

// ProvideOrchestrator builds the scheduler and orchestrator from polling settings.
func ProvideOrchestrator(cfg *config.Config, l *applogger.Logger) *polling.Orchestrator {
	sched := polling.NewScheduler(
		polling.WithWindowSize(cfg.Polling.WindowSize),
		polling.WithSchedulerLogger(l.With("scheduler")),
	)
	return polling.NewOrchestrator(sched,
		polling.WithInterval(cfg.Polling.Interval),
		polling.WithSafetyBuffer(cfg.Polling.SafetyBuffer),
		polling.WithDefaultBudget(cfg.Polling.DefaultBudget),
		polling.WithOrchestratorLogger(l.With("orchestrator")),
	)
}

func ProvidePriceMerger() *usecase.PriceMerger {
	return usecase.NewPriceMerger()
}

// ProvidePricePoller wires the poll loop; confirmed prices go through the pipeline.
func ProvidePricePoller(
	cfg *config.Config,
	orch *polling.Orchestrator,
	priceAPI repository.PriceAPI,
	limiter *ratelimit.Limiter,
	merger *usecase.PriceMerger,
	store repository.ObservationStore,
	pipeline *mid.SinkPipeline,
	m repository.Metrics,
	l *applogger.Logger,
) *usecase.PricePoller {
	return usecase.NewPricePoller(usecase.PollerConfig{
		SiteID:            cfg.Amber.SiteID,
		Resolution:        cfg.Amber.Resolution,
		ForecastIntervals: cfg.Amber.ForecastIntervals,
		Tick:              cfg.Polling.Tick,
		RequestTimeout:    cfg.Amber.Timeout,
		SaveTimeout:       cfg.Storage.SaveTimeout,
		WaitForConfirmed:  cfg.Amber.WaitForConfirmed,
	}, orch, priceAPI, limiter, merger, store, pipeline, m, usecase.WithPollerLogger(l))
}

func ProvideStreamCollector(stream repository.PriceStream, merger *usecase.PriceMerger, m repository.Metrics, cfg *config.Config, l *applogger.Logger) *usecase.StreamCollector {
	return usecase.NewStreamCollector(stream, merger, m,
		usecase.WithCollectorLogger(l),
		usecase.WithCollectorWaitForConfirmed(cfg.Amber.WaitForConfirmed),
	)
}

// ProvideHTTPHandler builds the diagnostics API with dependency health checks.
func ProvideHTTPHandler(
	cfg *config.Config,
	l *applogger.Logger,
	poller *usecase.PricePoller,
	merger *usecase.PriceMerger,
	collector *usecase.StreamCollector,
	c cache.Service,
	ch *pkgch.Client,
) xhttp.Handler {
	opts := []api.HandlerOption{
		api.WithHealthCheck("storage", func(ctx context.Context) error {
			_, err := c.Exists(ctx, internalrepo.ObservationKey(cfg.Amber.SiteID))
			return err
		}),
	}
	if cfg.Websocket.Enabled {
		opts = append(opts, api.WithStreamStatus(collector))
	}
	if ch != nil {
		opts = append(opts, api.WithHealthCheck("clickhouse", ch.Health))
	}
	return api.NewPollingEchoHandler(l, poller, merger, opts...)
}

func ProvideHTTPServer(cfg *config.Config, h xhttp.Handler, l *applogger.Logger) *xhttp.Server {
	metricsPath := ""
	if cfg.Metrics.Enabled {
		metricsPath = cfg.Metrics.Path
	}
	return xhttp.NewServer(h,
		xhttp.WithPort(cfg.Server.Port),
		xhttp.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.ShutdownTimeout),
		xhttp.WithSlowThreshold(cfg.Server.SlowThreshold),
		xhttp.WithMetricsPath(metricsPath),
		xhttp.WithCORSOrigins(cfg.Server.CORSOrigins...),
		xhttp.WithLogger(l),
	)
}

// ProvideApp creates the application server.
func ProvideApp(
	cfg *config.Config,
	l *applogger.Logger,
	priceAPI repository.PriceAPI,
	poller *usecase.PricePoller,
	collector *usecase.StreamCollector,
	pipeline *mid.SinkPipeline,
	srv *xhttp.Server,
) *server.App {
	return server.New(cfg, l, priceAPI, poller, collector, pipeline, srv)
}
