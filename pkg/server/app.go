package server

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	drepo "AmberPull/internal/domain/repository"
	mid "AmberPull/internal/middleware"
	"AmberPull/internal/usecase"
	"AmberPull/pkg/config"
	xhttp "AmberPull/pkg/http"
	applogger "AmberPull/pkg/logger"
)

// App encapsulates the entire application lifecycle.
type App struct {
	cfg        *config.Config
	l          *applogger.Logger
	api        drepo.PriceAPI
	poller     *usecase.PricePoller
	collector  *usecase.StreamCollector
	pipeline   *mid.SinkPipeline
	httpServer *xhttp.Server
}

// New creates a new App instance with all dependencies.
func New(
	cfg *config.Config,
	l *applogger.Logger,
	api drepo.PriceAPI,
	poller *usecase.PricePoller,
	collector *usecase.StreamCollector,
	pipeline *mid.SinkPipeline,
	httpServer *xhttp.Server,
) *App {
	return &App{
		cfg:        cfg,
		l:          applogger.OrNop(l).With("app"),
		api:        api,
		poller:     poller,
		collector:  collector,
		pipeline:   pipeline,
		httpServer: httpServer,
	}
}

// Run starts every component and blocks until ctx is cancelled or an
// interrupt arrives.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	initCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	err := a.pipeline.Init(initCtx)
	if err == nil {
		a.checkSite(initCtx)
	}
	cancel()
	if err != nil {
		return fmt.Errorf("sink init: %w", err)
	}

	a.pipeline.Start(ctx)
	if err := a.poller.Start(ctx); err != nil {
		return fmt.Errorf("start poller: %w", err)
	}
	if err := a.collector.Start(ctx); err != nil {
		a.l.Warn("stream collector not started", applogger.Error(err))
	}
	if err := a.httpServer.Start(); err != nil {
		return fmt.Errorf("start http server: %w", err)
	}
	a.l.Info("started",
		applogger.String("site_id", a.cfg.Amber.SiteID),
		applogger.String("storage", a.cfg.Storage.Backend),
		applogger.String("sink", a.cfg.Sink.Backend),
		applogger.Bool("websocket", a.cfg.Websocket.Enabled))

	<-ctx.Done()
	a.l.Info("shutdown signal received")
	return a.shutdown()
}

// checkSite warns when the configured site is missing or its interval
// length disagrees with the configured resolution.
func (a *App) checkSite(ctx context.Context) {
	sites, err := a.api.FetchSites(ctx)
	if err != nil {
		a.l.Warn("site lookup failed", applogger.Error(err))
		return
	}
	for _, s := range sites {
		if s.ID != a.cfg.Amber.SiteID {
			continue
		}
		if r := drepo.NormalizeResolution(s.IntervalLength); int(r) != a.cfg.Amber.Resolution {
			a.l.Warn("site interval length differs from configured resolution",
				applogger.Int("interval_length", s.IntervalLength),
				applogger.Int("resolution", a.cfg.Amber.Resolution))
		}
		return
	}
	a.l.Warn("configured site not visible to token", applogger.Int("sites", len(sites)))
}

// shutdown stops components in reverse dependency order.
func (a *App) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), a.httpServer.ShutdownTimeout())
	defer cancel()

	if err := a.httpServer.Stop(ctx); err != nil {
		a.l.Error("http shutdown error", applogger.Error(err))
	}
	if err := a.collector.Shutdown(ctx); err != nil {
		a.l.Warn("stream collector stop error", applogger.Error(err))
	}
	if err := a.poller.Stop(ctx); err != nil {
		a.l.Warn("poller stop error", applogger.Error(err))
	}
	if err := a.pipeline.Close(); err != nil {
		a.l.Warn("sink close error", applogger.Error(err))
	}

	a.l.Info("shutdown complete")
	return nil
}
