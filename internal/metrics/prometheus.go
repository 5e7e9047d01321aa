package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

type promMetrics struct {
	selections    *prometheus.CounterVec
	connections   *prometheus.CounterVec
	replacements  *prometheus.CounterVec
	healFailures  *prometheus.CounterVec
	healthy       *prometheus.GaugeVec
	noHealthy     prometheus.Counter
	onDemandHeals prometheus.Counter
	sweepDuration prometheus.Histogram
}

func newPromMetrics(namespace string) *promMetrics {
	return &promMetrics{
		selections: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "router",
				Name:      "selections_total",
				Help:      "Number of requests routed to each backend",
			},
			[]string{"backend"},
		),
		connections: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "backend",
				Name:      "connections_total",
				Help:      "Connection acquisition attempts by outcome",
			},
			[]string{"backend", "result"},
		),
		replacements: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "backend",
				Name:      "source_replacements_total",
				Help:      "Number of times a backend's connection source was replaced by healing",
			},
			[]string{"backend"},
		),
		healFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "backend",
				Name:      "heal_failures_total",
				Help:      "Heal attempts that failed to produce a replacement source",
			},
			[]string{"backend"},
		),
		healthy: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "backend",
				Name:      "healthy",
				Help:      "1 when the backend is marked healthy, 0 otherwise",
			},
			[]string{"backend"},
		),
		noHealthy: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "router",
				Name:      "no_healthy_backend_total",
				Help:      "Requests rejected because no backend could be healed",
			},
		),
		onDemandHeals: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "router",
				Name:      "on_demand_heals_total",
				Help:      "Heal sweeps triggered inline by requests that found no healthy backend",
			},
		),
		sweepDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "healer",
				Name:      "sweep_duration_seconds",
				Help:      "Duration of background heal sweeps",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10},
			},
		),
	}
}

func (p *promMetrics) register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		p.selections,
		p.connections,
		p.replacements,
		p.healFailures,
		p.healthy,
		p.noHealthy,
		p.onDemandHeals,
		p.sweepDuration,
	}

	var errs []error
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

func (p *promMetrics) observe(event MetricEvent) {
	switch event.Type {
	case EventBackendSelected:
		p.selections.WithLabelValues(event.Backend).Inc()

	case EventConnectionAcquired:
		p.connections.WithLabelValues(event.Backend, "success").Inc()

	case EventConnectionFailed:
		p.connections.WithLabelValues(event.Backend, "failure").Inc()

	case EventHealthChanged:
		value := 0.0
		if event.Healthy {
			value = 1
		}
		p.healthy.WithLabelValues(event.Backend).Set(value)

	case EventSourceReplaced:
		p.replacements.WithLabelValues(event.Backend).Inc()

	case EventHealFailed:
		p.healFailures.WithLabelValues(event.Backend).Inc()

	case EventNoHealthyBackend:
		p.noHealthy.Inc()

	case EventOnDemandHeal:
		p.onDemandHeals.Inc()

	case EventSweepCompleted:
		p.sweepDuration.Observe(event.Duration.Seconds())
	}
}
