package router

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/angeloszaimis/dbfailover/internal/backend"
	"github.com/angeloszaimis/dbfailover/internal/healthcheck"
	"github.com/angeloszaimis/dbfailover/internal/metrics"
	"github.com/angeloszaimis/dbfailover/internal/registry"
)

var ErrNoHealthyBackend = errors.New("no healthy backend")

// Router hands out connections from the active backend: the first one in
// registry order that is marked healthy. Connection failures are returned
// to the caller as is; the failed backend is skipped from the next call on.
type Router struct {
	registry  *registry.Registry
	logger    *slog.Logger
	collector *metrics.Collector
}

type Option func(*Router)

func WithLogger(logger *slog.Logger) Option {
	return func(r *Router) {
		r.logger = logger
	}
}

func WithCollector(collector *metrics.Collector) Option {
	return func(r *Router) {
		r.collector = collector
	}
}

func New(reg *registry.Registry, opts ...Option) *Router {
	r := &Router{
		registry: reg,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Router) Registry() *registry.Registry {
	return r.registry
}

// SelectActive names the backend the next request would use. It never heals.
func (r *Router) SelectActive() (string, error) {
	b, ok := r.selectHealthy()
	if !ok {
		return "", r.exhausted()
	}
	return b.Name(), nil
}

// AcquireConnection returns a connection from the active backend. When no
// backend is marked healthy every backend is healed once, in order, before
// giving up with ErrNoHealthyBackend.
func (r *Router) AcquireConnection(ctx context.Context) (*sql.Conn, error) {
	b, err := r.route(ctx)
	if err != nil {
		return nil, err
	}
	return b.AcquireConnection(ctx)
}

// AcquireConnectionAs is AcquireConnection with explicit credentials.
func (r *Router) AcquireConnectionAs(ctx context.Context, username, password string) (*sql.Conn, error) {
	b, err := r.route(ctx)
	if err != nil {
		return nil, err
	}
	return b.AcquireConnectionAs(ctx, username, password)
}

func (r *Router) route(ctx context.Context) (*backend.ManagedBackend, error) {
	b, ok := r.selectHealthy()
	if !ok {
		b, ok = r.healAndSelect(ctx)
	}
	if !ok {
		r.emit(metrics.EventNoHealthyBackend, "")
		err := r.exhausted()
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = errors.Join(err, ctxErr)
		}
		r.logger.Error("No healthy backend after healing", slog.Any("err", err))
		return nil, err
	}

	r.emit(metrics.EventBackendSelected, b.Name())
	return b, nil
}

func (r *Router) healAndSelect(ctx context.Context) (*backend.ManagedBackend, bool) {
	r.logger.Warn("No backend marked healthy, healing inline",
		slog.Int("backends", r.registry.Len()))
	r.emit(metrics.EventOnDemandHeal, "")

	healthcheck.Sweep(ctx, r.registry.HealTargets(), r.logger, r.collector)

	return r.selectHealthy()
}

func (r *Router) selectHealthy() (*backend.ManagedBackend, bool) {
	for _, b := range r.registry.Backends() {
		if b.IsMarkedHealthy() {
			return b, true
		}
	}
	return nil, false
}

// exhausted builds ErrNoHealthyBackend carrying each backend's latest
// failure.
func (r *Router) exhausted() error {
	var causes []error
	for _, b := range r.registry.Backends() {
		if err := b.LastError(); err != nil {
			causes = append(causes, fmt.Errorf("%s: %w", b.Name(), err))
		}
	}

	if len(causes) == 0 {
		return ErrNoHealthyBackend
	}
	return fmt.Errorf("%w: %w", ErrNoHealthyBackend, errors.Join(causes...))
}

func (r *Router) emit(eventType metrics.EventType, name string) {
	r.collector.Emit(metrics.MetricEvent{
		Type:      eventType,
		Timestamp: time.Now(),
		Backend:   name,
	})
}
