package metrics

import (
	"sync"
	"time"
)

type Metrics struct {
	mutex         sync.RWMutex
	backends      map[string]*backendCounters
	noHealthy     int64
	onDemandHeals int64
	sweeps        int64
	lastSweep     time.Duration
	startTime     time.Time
}

type backendCounters struct {
	selections   int64
	acquisitions int64
	failures     int64
	replacements int64
	healFailures int64
	healthy      bool
	lastChange   time.Time
}

type Snapshot struct {
	Uptime           time.Duration             `json:"uptime"`
	NoHealthyBackend int64                     `json:"no_healthy_backend"`
	OnDemandHeals    int64                     `json:"on_demand_heals"`
	Sweeps           int64                     `json:"sweeps"`
	LastSweep        time.Duration             `json:"last_sweep"`
	Backends         map[string]BackendMetrics `json:"backends"`
}

type BackendMetrics struct {
	Selections         int64     `json:"selections"`
	Acquisitions       int64     `json:"acquisitions"`
	ConnectionFailures int64     `json:"connection_failures"`
	Replacements       int64     `json:"replacements"`
	HealFailures       int64     `json:"heal_failures"`
	Healthy            bool      `json:"healthy"`
	LastHealthChange   time.Time `json:"last_health_change,omitempty"`
}

func NewMetrics() *Metrics {
	return &Metrics{
		backends:  make(map[string]*backendCounters),
		startTime: time.Now(),
	}
}

// backend must be called with the write lock held.
func (m *Metrics) backend(name string) *backendCounters {
	b, ok := m.backends[name]
	if !ok {
		b = &backendCounters{}
		m.backends[name] = b
	}
	return b
}

func (m *Metrics) RecordSelection(backend string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.backend(backend).selections++
}

func (m *Metrics) RecordConnection(backend string, ok bool) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	b := m.backend(backend)
	if ok {
		b.acquisitions++
	} else {
		b.failures++
	}
}

func (m *Metrics) UpdateHealthStatus(backend string, healthy bool, at time.Time) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	b := m.backend(backend)
	b.healthy = healthy
	b.lastChange = at
}

func (m *Metrics) RecordReplacement(backend string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.backend(backend).replacements++
}

func (m *Metrics) RecordHealFailure(backend string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.backend(backend).healFailures++
}

func (m *Metrics) RecordNoHealthyBackend() {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.noHealthy++
}

func (m *Metrics) RecordOnDemandHeal() {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.onDemandHeals++
}

func (m *Metrics) RecordSweep(took time.Duration) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.sweeps++
	m.lastSweep = took
}

func (m *Metrics) Snapshot() Snapshot {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	snap := Snapshot{
		Uptime:           time.Since(m.startTime),
		NoHealthyBackend: m.noHealthy,
		OnDemandHeals:    m.onDemandHeals,
		Sweeps:           m.sweeps,
		LastSweep:        m.lastSweep,
		Backends:         make(map[string]BackendMetrics, len(m.backends)),
	}

	for name, b := range m.backends {
		snap.Backends[name] = BackendMetrics{
			Selections:         b.selections,
			Acquisitions:       b.acquisitions,
			ConnectionFailures: b.failures,
			Replacements:       b.replacements,
			HealFailures:       b.healFailures,
			Healthy:            b.healthy,
			LastHealthChange:   b.lastChange,
		}
	}

	return snap
}
