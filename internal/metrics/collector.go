package metrics

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type EventType string

const (
	EventBackendSelected    EventType = "backend_selected"
	EventConnectionAcquired EventType = "connection_acquired"
	EventConnectionFailed   EventType = "connection_failed"
	EventHealthChanged      EventType = "health_changed"
	EventSourceReplaced     EventType = "source_replaced"
	EventHealFailed         EventType = "heal_failed"
	EventNoHealthyBackend   EventType = "no_healthy_backend"
	EventOnDemandHeal       EventType = "on_demand_heal"
	EventSweepCompleted     EventType = "sweep_completed"
)

type MetricEvent struct {
	Type      EventType
	Timestamp time.Time
	Backend   string
	Duration  time.Duration
	Healthy   bool
}

// Collector aggregates failover events off the hot path. Producers call Emit,
// which never blocks; a full buffer drops the event.
type Collector struct {
	eventCh chan MetricEvent
	metrics *Metrics
	prom    *promMetrics
	logger  *slog.Logger
	stopped chan struct{}
}

type CollectorOption func(*collectorOptions)

type collectorOptions struct {
	registerer prometheus.Registerer
	namespace  string
}

// WithRegisterer registers the prometheus series on reg.
func WithRegisterer(reg prometheus.Registerer) CollectorOption {
	return func(o *collectorOptions) {
		o.registerer = reg
	}
}

// WithNamespace overrides the prometheus namespace (default "dbfailover").
func WithNamespace(namespace string) CollectorOption {
	return func(o *collectorOptions) {
		o.namespace = namespace
	}
}

func NewCollector(bufferSize int, logger *slog.Logger, opts ...CollectorOption) (*Collector, error) {
	options := collectorOptions{namespace: "dbfailover"}
	for _, opt := range opts {
		opt(&options)
	}

	prom := newPromMetrics(options.namespace)
	if options.registerer != nil {
		if err := prom.register(options.registerer); err != nil {
			return nil, err
		}
	}

	return &Collector{
		eventCh: make(chan MetricEvent, bufferSize),
		metrics: NewMetrics(),
		prom:    prom,
		logger:  logger,
		stopped: make(chan struct{}),
	}, nil
}

// Emit queues an event. It is safe to call on a nil Collector.
func (c *Collector) Emit(event MetricEvent) {
	if c == nil {
		return
	}

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	select {
	case c.eventCh <- event:
	default:
	}
}

func (c *Collector) Start(ctx context.Context) {
	go c.run(ctx)
}

// Stopped is closed once the collector has drained and exited.
func (c *Collector) Stopped() <-chan struct{} {
	return c.stopped
}

func (c *Collector) run(ctx context.Context) {
	defer close(c.stopped)

	c.logger.Info("Metrics collector started")
	defer c.logger.Info("Metrics collector stopped")

	for {
		select {
		case event := <-c.eventCh:
			c.processEvent(event)
		case <-ctx.Done():
			c.drain()
			return
		}
	}
}

func (c *Collector) processEvent(event MetricEvent) {
	switch event.Type {
	case EventBackendSelected:
		c.metrics.RecordSelection(event.Backend)

	case EventConnectionAcquired:
		c.metrics.RecordConnection(event.Backend, true)

	case EventConnectionFailed:
		c.metrics.RecordConnection(event.Backend, false)

	case EventHealthChanged:
		c.metrics.UpdateHealthStatus(event.Backend, event.Healthy, event.Timestamp)

	case EventSourceReplaced:
		c.metrics.RecordReplacement(event.Backend)

	case EventHealFailed:
		c.metrics.RecordHealFailure(event.Backend)

	case EventNoHealthyBackend:
		c.metrics.RecordNoHealthyBackend()

	case EventOnDemandHeal:
		c.metrics.RecordOnDemandHeal()

	case EventSweepCompleted:
		c.metrics.RecordSweep(event.Duration)
	}

	c.prom.observe(event)
}

func (c *Collector) drain() {
	for {
		select {
		case event := <-c.eventCh:
			c.processEvent(event)
		default:
			return
		}
	}
}

func (c *Collector) Snapshot() Snapshot {
	return c.metrics.Snapshot()
}
