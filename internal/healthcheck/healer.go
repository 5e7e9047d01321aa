package healthcheck

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/angeloszaimis/dbfailover/internal/metrics"
)

// DefaultInterval is the sweep period used when none is configured.
const DefaultInterval = 5 * time.Second

// Target is anything the healer can heal. Backends satisfy it.
type Target interface {
	Name() string
	HealIfNeeded(ctx context.Context) bool
}

// Sweep calls HealIfNeeded on every target in order. A panicking target is
// logged and skipped so the remaining targets are still healed. It returns
// how many targets reported healthy.
func Sweep(ctx context.Context, targets []Target, logger *slog.Logger, collector *metrics.Collector) int {
	healthy := 0
	for _, target := range targets {
		if heal(ctx, target, logger, collector) {
			healthy++
		}
	}
	return healthy
}

func heal(ctx context.Context, target Target, logger *slog.Logger, collector *metrics.Collector) (healthy bool) {
	defer func() {
		if r := recover(); r != nil {
			healthy = false
			logger.Warn("Heal failed",
				slog.String("backend", target.Name()),
				slog.Any("err", fmt.Errorf("panic: %v", r)))
			collector.Emit(metrics.MetricEvent{
				Type:      metrics.EventHealFailed,
				Timestamp: time.Now(),
				Backend:   target.Name(),
			})
		}
	}()

	return target.HealIfNeeded(ctx)
}

// Healer sweeps every target, independent of traffic, waiting the interval
// between the end of one sweep and the start of the next. One Healer is
// started per process.
type Healer struct {
	targets   []Target
	interval  time.Duration
	clock     clockwork.Clock
	logger    *slog.Logger
	collector *metrics.Collector

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	done    chan struct{}
}

type HealerOption func(*Healer)

// WithClock replaces the wall clock, mainly for tests.
func WithClock(clock clockwork.Clock) HealerOption {
	return func(h *Healer) {
		h.clock = clock
	}
}

func WithLogger(logger *slog.Logger) HealerOption {
	return func(h *Healer) {
		h.logger = logger
	}
}

func WithCollector(collector *metrics.Collector) HealerOption {
	return func(h *Healer) {
		h.collector = collector
	}
}

// NewHealer creates a healer for targets. A non-positive interval falls back
// to DefaultInterval.
func NewHealer(targets []Target, interval time.Duration, opts ...HealerOption) *Healer {
	if interval <= 0 {
		interval = DefaultInterval
	}

	h := &Healer{
		targets:  append([]Target(nil), targets...),
		interval: interval,
		clock:    clockwork.NewRealClock(),
		logger:   slog.Default(),
		done:     make(chan struct{}),
	}

	for _, opt := range opts {
		opt(h)
	}

	return h
}

func (h *Healer) Interval() time.Duration {
	return h.interval
}

// Start launches the sweep loop. Calling Start more than once has no effect.
func (h *Healer) Start(ctx context.Context) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.started {
		return
	}
	h.started = true

	ctx, h.cancel = context.WithCancel(ctx)
	go h.run(ctx)
}

// Stop cancels the sweep loop and waits for it to exit.
func (h *Healer) Stop() {
	h.mu.Lock()
	started, cancel := h.started, h.cancel
	h.mu.Unlock()

	if !started {
		return
	}

	cancel()
	<-h.done
}

// SweepOnce heals every target immediately.
func (h *Healer) SweepOnce(ctx context.Context) int {
	start := h.clock.Now()
	healthy := Sweep(ctx, h.targets, h.logger, h.collector)

	h.logger.Debug("Heal sweep completed",
		slog.Int("healthy", healthy),
		slog.Int("backends", len(h.targets)),
		slog.Duration("took", h.clock.Since(start)))

	h.collector.Emit(metrics.MetricEvent{
		Type:      metrics.EventSweepCompleted,
		Timestamp: time.Now(),
		Duration:  h.clock.Since(start),
	})

	return healthy
}

func (h *Healer) run(ctx context.Context) {
	defer close(h.done)

	// The next sweep is scheduled once the previous one has finished.
	timer := h.clock.NewTimer(h.interval)
	defer timer.Stop()

	h.logger.Info("Background healer started", slog.Duration("interval", h.interval))

	for {
		select {
		case <-ctx.Done():
			h.logger.Info("Background healer stopped")
			return

		case <-timer.Chan():
			h.SweepOnce(ctx)
			timer.Reset(h.interval)
		}
	}
}
