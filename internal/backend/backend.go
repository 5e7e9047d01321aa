package backend

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/angeloszaimis/dbfailover/config"
	"github.com/angeloszaimis/dbfailover/internal/healthcheck"
	"github.com/angeloszaimis/dbfailover/internal/metrics"
	"github.com/angeloszaimis/dbfailover/internal/source"
)

// ErrProbeFailed is recorded as the last error when a health probe reports
// the backend unusable.
var ErrProbeFailed = errors.New("health probe failed")

// ManagedBackend owns one backend's current connection source and its
// observed health.
type ManagedBackend struct {
	name      string
	cfg       config.DatasourceConfig
	factory   source.Factory
	probe     healthcheck.Probe
	logger    *slog.Logger
	collector *metrics.Collector

	current    atomic.Pointer[handle]
	healthy    atomic.Bool
	generation atomic.Int64

	// healMu serializes replacement of current. Readers never take it.
	healMu sync.Mutex

	errMu   sync.Mutex
	lastErr error
}

type handle struct {
	src source.Source
}

// Status is a point-in-time view of a backend for operational tooling.
type Status struct {
	Name       string `json:"name"`
	Healthy    bool   `json:"healthy"`
	Generation int64  `json:"generation"`
	LastError  string `json:"last_error,omitempty"`
}

type Option func(*ManagedBackend)

func WithLogger(logger *slog.Logger) Option {
	return func(b *ManagedBackend) {
		b.logger = logger
	}
}

func WithCollector(collector *metrics.Collector) Option {
	return func(b *ManagedBackend) {
		b.collector = collector
	}
}

// New creates the backend's first source and probes it eagerly. cfg must
// already be validated. A factory error is returned as is.
func New(ctx context.Context, cfg config.DatasourceConfig, factory source.Factory, probe healthcheck.Probe, opts ...Option) (*ManagedBackend, error) {
	if factory == nil {
		return nil, errors.New("backend: factory is required")
	}
	if probe == nil {
		return nil, errors.New("backend: probe is required")
	}

	b := &ManagedBackend{
		name:    cfg.Name,
		cfg:     cfg,
		factory: factory,
		probe:   probe,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.logger = b.logger.With(slog.String("backend", b.name))

	src, err := factory.Create(cfg)
	if err != nil {
		return nil, fmt.Errorf("create source for %s: %w", cfg.Name, err)
	}
	b.current.Store(&handle{src: src})
	b.generation.Store(1)

	healthy := b.probeSource(ctx, src)
	b.healthy.Store(healthy)
	b.emit(metrics.EventHealthChanged, healthy)

	if healthy {
		b.logger.Info("Backend registered", slog.Bool("healthy", true))
	} else {
		b.logger.Warn("Backend registered in unhealthy state", slog.Any("err", b.LastError()))
	}

	return b, nil
}

func (b *ManagedBackend) Name() string {
	return b.name
}

func (b *ManagedBackend) Config() config.DatasourceConfig {
	return b.cfg
}

// Current returns a snapshot of the current source. It may be replaced (and
// closed) by a concurrent heal at any time after the call returns.
func (b *ManagedBackend) Current() source.Source {
	return b.current.Load().src
}

// Generation counts the sources this backend has installed, starting at 1.
func (b *ManagedBackend) Generation() int64 {
	return b.generation.Load()
}

// LastError returns the failure that last made this backend unhealthy. It is
// cleared when the backend recovers.
func (b *ManagedBackend) LastError() error {
	b.errMu.Lock()
	defer b.errMu.Unlock()
	return b.lastErr
}

func (b *ManagedBackend) Status() Status {
	status := Status{
		Name:       b.name,
		Healthy:    b.IsMarkedHealthy(),
		Generation: b.Generation(),
	}
	if err := b.LastError(); err != nil {
		status.LastError = err.Error()
	}
	return status
}

// IsMarkedHealthy reads the cached flag without probing.
func (b *ManagedBackend) IsMarkedHealthy() bool {
	return b.healthy.Load()
}

// MarkUnhealthy clears the cached flag.
func (b *ManagedBackend) MarkUnhealthy() {
	b.setHealthy(false)
}

// ProbeHealth probes the current source and overwrites the flag with the
// result. A probe cut short by ctx leaves the flag as it was.
func (b *ManagedBackend) ProbeHealth(ctx context.Context) bool {
	healthy := b.probeSource(ctx, b.Current())
	if !healthy && ctx.Err() != nil {
		return b.IsMarkedHealthy()
	}
	b.setHealthy(healthy)
	return healthy
}

// AcquireConnection borrows a connection from the current source. Success
// marks the backend healthy, failure marks it unhealthy; the error is
// returned unchanged and never retried here.
func (b *ManagedBackend) AcquireConnection(ctx context.Context) (*sql.Conn, error) {
	return b.acquire(ctx, func(src source.Source) (*sql.Conn, error) {
		return src.Conn(ctx)
	})
}

// AcquireConnectionAs is AcquireConnection with explicit credentials.
func (b *ManagedBackend) AcquireConnectionAs(ctx context.Context, username, password string) (*sql.Conn, error) {
	return b.acquire(ctx, func(src source.Source) (*sql.Conn, error) {
		return src.ConnAs(ctx, username, password)
	})
}

func (b *ManagedBackend) acquire(ctx context.Context, open func(source.Source) (*sql.Conn, error)) (*sql.Conn, error) {
	conn, err := open(b.Current())
	if err != nil {
		if !isHealthSignal(ctx, err) {
			return nil, err
		}

		b.recordErr(err)
		b.emit(metrics.EventConnectionFailed, false)
		b.setHealthy(false)
		return nil, err
	}

	b.emit(metrics.EventConnectionAcquired, true)
	b.setHealthy(true)
	return conn, nil
}

// isHealthSignal reports whether err says something about the backend.
// Caller cancellation and unsupported credentials do not.
func isHealthSignal(ctx context.Context, err error) bool {
	if errors.Is(err, source.ErrCredentialsUnsupported) {
		return false
	}
	if ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
		return false
	}
	return true
}

// HealIfNeeded makes sure the backend has a working source, replacing it if
// necessary, and returns the resulting health. Factory and close failures
// are absorbed and reflected only in the flag and LastError. Once ctx is done
// nothing is replaced and the current flag is returned.
func (b *ManagedBackend) HealIfNeeded(ctx context.Context) bool {
	if b.probeSource(ctx, b.Current()) {
		b.setHealthy(true)
		return true
	}
	if ctx.Err() != nil {
		return b.IsMarkedHealthy()
	}

	b.healMu.Lock()
	defer b.healMu.Unlock()

	// Another heal may have replaced the source while we waited for the lock.
	latest := b.Current()
	if b.probeSource(ctx, latest) {
		b.setHealthy(true)
		return true
	}
	if ctx.Err() != nil {
		return b.IsMarkedHealthy()
	}

	replacement, err := b.factory.Create(b.cfg)
	if err != nil {
		b.recordErr(fmt.Errorf("create replacement source: %w", err))
		b.setHealthy(false)
		b.emit(metrics.EventHealFailed, false)
		b.logger.Warn("Heal failed, keeping current source", slog.Any("err", err))
		return false
	}

	previous := b.current.Swap(&handle{src: replacement})
	generation := b.generation.Add(1)

	healthy := b.probeSource(ctx, replacement)
	b.setHealthy(healthy)
	b.emit(metrics.EventSourceReplaced, healthy)

	b.logger.Info("Replaced connection source",
		slog.Int64("generation", generation),
		slog.Bool("healthy", healthy))

	b.closeQuietly(previous.src)
	return healthy
}

// Close releases the current source.
func (b *ManagedBackend) Close() error {
	return b.Current().Close()
}

func (b *ManagedBackend) probeSource(ctx context.Context, src source.Source) bool {
	if b.probe.IsHealthy(ctx, src, b.cfg.ValidationQuery) {
		return true
	}
	if ctx.Err() == nil {
		b.recordErr(ErrProbeFailed)
	}
	return false
}

func (b *ManagedBackend) closeQuietly(src source.Source) {
	if src == nil {
		return
	}
	if err := src.Close(); err != nil {
		b.logger.Debug("Closing replaced source failed", slog.Any("err", err))
	}
}

func (b *ManagedBackend) setHealthy(healthy bool) {
	if healthy {
		b.recordErr(nil)
	}
	if b.healthy.Swap(healthy) == healthy {
		return
	}

	if healthy {
		b.logger.Info("Backend is back up")
	} else {
		b.logger.Warn("Backend is down", slog.Any("err", b.LastError()))
	}
	b.emit(metrics.EventHealthChanged, healthy)
}

func (b *ManagedBackend) recordErr(err error) {
	b.errMu.Lock()
	b.lastErr = err
	b.errMu.Unlock()
}

func (b *ManagedBackend) emit(eventType metrics.EventType, healthy bool) {
	b.collector.Emit(metrics.MetricEvent{
		Type:      eventType,
		Timestamp: time.Now(),
		Backend:   b.name,
		Healthy:   healthy,
	})
}
