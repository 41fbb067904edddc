package main

import (
	"context"
	"time"

	"github.com/juju/clock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"go-realtime-delivery/internal/application/facade"
	"go-realtime-delivery/internal/infrastructure/auth"
	"go-realtime-delivery/internal/infrastructure/config"
	"go-realtime-delivery/internal/infrastructure/hub"
	"go-realtime-delivery/internal/infrastructure/logger"
	"go-realtime-delivery/internal/infrastructure/server"
)

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:        "serve",
		Usage:       "Run the event delivery server",
		Description: "Serves the event stream endpoints and the internal delivery API",
		Action:      startServer,
	}
}

func startServer(c *cli.Context) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := WithSignal(c.Context)

	metrics := hub.NewMetricsCollector()
	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(
		metrics,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	registry := hub.NewRegistry(log, hub.WithMetrics(metrics))
	if err := registry.Start(ctx); err != nil {
		log.Errorf("failed to start registry: %v", err)
		return err
	}

	deliverer := hub.NewDeliverer(registry, cfg.Stream.DeliveryConcurrency, metrics, log)
	router := InitRouter(routerDeps{
		registry: registry,
		service:  facade.NewDeliveryApplicationService(registry, deliverer, log),
		authn: auth.NewJWTAuthenticator(
			cfg.Auth.JWTSecret,
			cfg.Auth.Issuer,
			auth.WithQueryParam(cfg.Auth.TokenQueryParam),
		),
		serviceAuthn: auth.NewJWTAuthenticator(
			cfg.Auth.ServiceSecret,
			cfg.Auth.Issuer,
			auth.WithQueryParam(""),
		),
		endpoint:   endpointConfig(cfg.Stream, metrics),
		prometheus: promRegistry,
		logger:     log,
	})

	httpSrv := server.NewHTTPServer(router, cfg.HTTP, log)
	app := newApplication(log, httpSrv, registry, time.Duration(cfg.HTTP.ShutdownTimeout)*time.Second)
	if err := app.Run(ctx); err != nil {
		log.Errorf("failed to run application: %v", err)
		return err
	}
	return nil
}

func endpointConfig(cfg config.StreamConfig, metrics *hub.Collector) hub.EndpointConfig {
	return hub.EndpointConfig{
		Session: hub.SessionConfig{
			HeartbeatInterval: cfg.HeartbeatPeriod(),
			Clock:             clock.WallClock,
			Metrics:           metrics,
		},
		Sink: hub.SinkOptions{
			Buffer:      cfg.SendBuffer,
			SendTimeout: cfg.SendWait(),
		},
	}
}

type Application struct {
	logger          logger.Logger
	httpSrv         server.Server
	registry        *hub.Registry
	shutdownTimeout time.Duration
}

func newApplication(
	logger logger.Logger,
	httpSrv server.Server,
	registry *hub.Registry,
	shutdownTimeout time.Duration,
) *Application {
	return &Application{
		logger:          logger.WithField("app", "realtime"),
		httpSrv:         httpSrv,
		registry:        registry,
		shutdownTimeout: shutdownTimeout,
	}
}

// Run serves until ctx is cancelled, then stops the registry before the
// HTTP server so that open streams end instead of holding Shutdown up.
func (app *Application) Run(ctx context.Context) error {
	eg, egCtx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		return app.httpSrv.Start(egCtx)
	})

	eg.Go(func() error {
		<-egCtx.Done()
		app.logger.Info("Shutting down")

		gracefulshutdownCtx, cancel := context.WithTimeout(
			context.Background(),
			app.shutdownTimeout,
		)
		defer cancel()

		if err := app.registry.Stop(gracefulshutdownCtx); err != nil {
			app.logger.Errorf("failed to stop registry: %v", err)
		}

		return app.httpSrv.Stop(gracefulshutdownCtx)
	})

	return eg.Wait()
}
