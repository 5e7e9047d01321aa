package main

import (
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/angeloszaimis/dbfailover/internal/handler"
	"github.com/angeloszaimis/dbfailover/internal/metrics"
	"github.com/angeloszaimis/dbfailover/internal/router"
	"github.com/angeloszaimis/dbfailover/pkg/logger"
)

func setupRouter(log *slog.Logger, r *router.Router, collector *metrics.Collector, gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()

	handler.NewAdminHandler(logger.Component(log, "admin"), r).Register(mux)
	mux.HandleFunc("GET /metrics", collector.Handler())
	mux.Handle("GET /metrics/prometheus", metrics.PrometheusHandler(gatherer))

	return handler.Logging(logger.Component(log, "admin"), mux)
}
