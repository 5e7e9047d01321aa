package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/angeloszaimis/dbfailover/config"
	"github.com/angeloszaimis/dbfailover/internal/backend"
	"github.com/angeloszaimis/dbfailover/internal/healthcheck"
	"github.com/angeloszaimis/dbfailover/internal/metrics"
	"github.com/angeloszaimis/dbfailover/internal/source"
)

var (
	ErrInvalidConfig  = errors.New("invalid datasource configuration")
	ErrUnknownBackend = errors.New("unknown backend")
)

// Registry maps backend names to managed backends in configuration order. It
// is built once and never modified.
type Registry struct {
	backends []*backend.ManagedBackend
	byName   map[string]*backend.ManagedBackend
	logger   *slog.Logger
}

type Option func(*options)

type options struct {
	logger    *slog.Logger
	collector *metrics.Collector
}

func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithCollector forwards backend events to collector.
func WithCollector(collector *metrics.Collector) Option {
	return func(o *options) {
		o.collector = collector
	}
}

// New validates cfgs and builds one backend per entry. Nothing is created
// unless every entry is valid. If a factory call fails, backends already
// built are closed and no registry is returned.
func New(ctx context.Context, cfgs []config.DatasourceConfig, factory source.Factory, probe healthcheck.Probe, opts ...Option) (*Registry, error) {
	o := options{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}

	if err := config.ValidateDatasources(cfgs); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if factory == nil || probe == nil {
		return nil, fmt.Errorf("%w: factory and probe are required", ErrInvalidConfig)
	}

	backends := make([]*backend.ManagedBackend, len(cfgs))

	g, gctx := errgroup.WithContext(ctx)
	for i, cfg := range cfgs {
		g.Go(func() error {
			b, err := backend.New(gctx, cfg, factory, probe,
				backend.WithLogger(o.logger),
				backend.WithCollector(o.collector))
			if err != nil {
				return err
			}
			backends[i] = b
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		for _, b := range backends {
			if b != nil {
				_ = b.Close()
			}
		}
		return nil, err
	}

	byName := make(map[string]*backend.ManagedBackend, len(backends))
	for _, b := range backends {
		byName[b.Name()] = b
	}

	o.logger.Info("Backend registry ready", slog.Any("backends", names(backends)))

	return &Registry{
		backends: backends,
		byName:   byName,
		logger:   o.logger,
	}, nil
}

// Get returns the named backend or ErrUnknownBackend.
func (r *Registry) Get(name string) (*backend.ManagedBackend, error) {
	b, ok := r.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownBackend, name)
	}
	return b, nil
}

// Backends returns the backends in configuration order. The slice is a copy.
func (r *Registry) Backends() []*backend.ManagedBackend {
	return append([]*backend.ManagedBackend(nil), r.backends...)
}

func (r *Registry) Names() []string {
	return names(r.backends)
}

func (r *Registry) Len() int {
	return len(r.backends)
}

// HealTargets exposes the backends, in order, to a healer or sweep.
func (r *Registry) HealTargets() []healthcheck.Target {
	targets := make([]healthcheck.Target, len(r.backends))
	for i, b := range r.backends {
		targets[i] = b
	}
	return targets
}

func (r *Registry) IsMarkedHealthy(name string) (bool, error) {
	b, err := r.Get(name)
	if err != nil {
		return false, err
	}
	return b.IsMarkedHealthy(), nil
}

func (r *Registry) ProbeHealth(ctx context.Context, name string) (bool, error) {
	b, err := r.Get(name)
	if err != nil {
		return false, err
	}
	return b.ProbeHealth(ctx), nil
}

func (r *Registry) HealIfNeeded(ctx context.Context, name string) (bool, error) {
	b, err := r.Get(name)
	if err != nil {
		return false, err
	}
	return b.HealIfNeeded(ctx), nil
}

// Close closes every backend's current source and joins the failures.
func (r *Registry) Close() error {
	var errs []error
	for _, b := range r.backends {
		if err := b.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", b.Name(), err))
		}
	}

	r.logger.Info("Backend registry closed")
	return errors.Join(errs...)
}

func names(backends []*backend.ManagedBackend) []string {
	out := make([]string, len(backends))
	for i, b := range backends {
		out[i] = b.Name()
	}
	return out
}
