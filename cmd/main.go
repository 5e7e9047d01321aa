package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/angeloszaimis/dbfailover/config"
	"github.com/angeloszaimis/dbfailover/internal/healthcheck"
	"github.com/angeloszaimis/dbfailover/internal/httpserver"
	"github.com/angeloszaimis/dbfailover/internal/metrics"
	"github.com/angeloszaimis/dbfailover/internal/registry"
	"github.com/angeloszaimis/dbfailover/internal/router"
	"github.com/angeloszaimis/dbfailover/internal/source"
	"github.com/angeloszaimis/dbfailover/pkg/logger"
)

const metricsBufferSize = 1000

// app holds every long-lived component of the process.
type app struct {
	registry *registry.Registry
	router   *router.Router
	healer   *healthcheck.Healer
	server   *httpserver.Server
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", slog.Any("err", err))
		os.Exit(1)
	}

	log := logger.New(cfg.Logging.Level, true, cfg.Server.Environment)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	collector, err := metrics.NewCollector(metricsBufferSize, logger.Component(log, "metrics"),
		metrics.WithRegisterer(promRegistry))
	if err != nil {
		log.Error("Failed to create metrics collector", slog.Any("err", err))
		os.Exit(1)
	}

	collectorCtx, stopCollector := context.WithCancel(context.Background())
	collector.Start(collectorCtx)

	a, err := newApp(ctx, cfg, log, collector, promRegistry)
	if err != nil {
		log.Error("Failed to initialize failover", slog.Any("err", err))
		stopCollector()
		<-collector.Stopped()
		os.Exit(1)
	}

	a.healer.Start(ctx)

	srvErrCh := make(chan error, 1)
	go func() {
		srvErrCh <- a.server.Start()
	}()

	exitCode := 0
	select {
	case <-ctx.Done():
		log.Info("Shutting down gracefully...")
	case err := <-srvErrCh:
		if err != nil {
			log.Error("Admin server failed", slog.Any("err", err))
			exitCode = 1
		}
	}

	a.shutdown(log)
	stopCollector()
	<-collector.Stopped()

	os.Exit(exitCode)
}

// newApp builds the registry, router, healer and admin server from cfg. The
// healer and server are not started.
func newApp(ctx context.Context, cfg *config.Config, log *slog.Logger, collector *metrics.Collector, gatherer prometheus.Gatherer) (*app, error) {
	factory := source.NewSQLFactory(logger.Component(log, "source"))

	reg, err := registry.New(ctx, cfg.Datasources, factory, newProbe(cfg),
		registry.WithLogger(logger.Component(log, "backend")),
		registry.WithCollector(collector))
	if err != nil {
		return nil, err
	}

	r := router.New(reg,
		router.WithLogger(logger.Component(log, "router")),
		router.WithCollector(collector))

	healer := healthcheck.NewHealer(reg.HealTargets(), cfg.HealIntervalDuration(),
		healthcheck.WithLogger(logger.Component(log, "healer")),
		healthcheck.WithCollector(collector))

	mux := setupRouter(log, r, collector, gatherer)

	srv, err := httpserver.New(cfg.Admin.Address, mux, logger.Component(log, "admin"))
	if err != nil {
		_ = reg.Close()
		return nil, err
	}

	return &app{
		registry: reg,
		router:   r,
		healer:   healer,
		server:   srv,
	}, nil
}

// newProbe picks the configured probe strategy. Every probe is bounded by
// the configured timeout and never panics.
func newProbe(cfg *config.Config) healthcheck.Probe {
	var probe healthcheck.Probe
	switch cfg.Failover.Probe {
	case config.ProbePing:
		probe = healthcheck.NewPingProbe()
	default:
		probe = healthcheck.NewStatementProbe()
	}

	return healthcheck.Recovering(healthcheck.WithTimeout(probe, cfg.ProbeTimeoutDuration()))
}

func (a *app) shutdown(log *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := a.server.Shutdown(ctx); err != nil {
		log.Error("Error during admin server shutdown", slog.Any("err", err))
	}

	a.healer.Stop()

	if err := a.registry.Close(); err != nil {
		log.Error("Error closing backends", slog.Any("err", err))
	}
}
