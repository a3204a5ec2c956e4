// Package metrics provides Prometheus metrics for the event collector.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Attempt outcomes used as the outcome label.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomeSkipped = "skipped"
)

var defaultDurationBuckets = []float64{1, 2.5, 5, 10, 20, 30, 60, 120}

// Manager owns the collector's Prometheus metrics. A nil or disabled
// Manager accepts every call and records nothing.
type Manager struct {
	namespace       string
	subsystem       string
	durationBuckets []float64
	enabled         bool
	constLabels     map[string]string
	registry        *prometheus.Registry

	// Attempts
	attempts        *prometheus.CounterVec
	attemptDuration prometheus.Histogram
	contentChanged  prometheus.Counter

	// Events
	eventsStored    prometheus.Counter
	eventsDuplicate prometheus.Counter
	eventsRejected  prometheus.Counter

	// Cycles
	cycles         *prometheus.CounterVec
	cycleDuration  prometheus.Histogram
	sourcesDue     prometheus.Gauge
	lastCycleUnix  prometheus.Gauge
	sourceHealth   *prometheus.GaugeVec
	schedulerState prometheus.Gauge
	cacheEntries   prometheus.Gauge
}

// NewManager creates a metrics manager. Without WithPrometheusRegistry a
// fresh registry carrying the Go and process collectors is used.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:       "local_events",
		subsystem:       "collector",
		durationBuckets: defaultDurationBuckets,
		enabled:         true,
		constLabels:     map[string]string{},
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.registry == nil {
		m.registry = prometheus.NewRegistry()
		m.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	if m.enabled {
		m.initializeMetrics()
	}
	return m
}

func (m *Manager) initializeMetrics() {
	auto := promauto.With(m.registry)

	m.attempts = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        "attempts_total",
		Help:        "Collection attempts by outcome",
		ConstLabels: m.constLabels,
	}, []string{"outcome"})

	m.attemptDuration = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        "attempt_duration_seconds",
		Help:        "Wall time of a collection attempt",
		Buckets:     m.durationBuckets,
		ConstLabels: m.constLabels,
	})

	m.contentChanged = auto.NewCounter(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        "content_changed_total",
		Help:        "Attempts whose page content differed from the previous attempt",
		ConstLabels: m.constLabels,
	})

	m.eventsStored = auto.NewCounter(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        "events_stored_total",
		Help:        "Events written to storage",
		ConstLabels: m.constLabels,
	})

	m.eventsDuplicate = auto.NewCounter(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        "events_duplicate_total",
		Help:        "Events skipped because they were already stored",
		ConstLabels: m.constLabels,
	})

	m.eventsRejected = auto.NewCounter(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        "events_rejected_total",
		Help:        "Candidates discarded during normalization",
		ConstLabels: m.constLabels,
	})

	m.cycles = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   "scheduler",
		Name:        "cycles_total",
		Help:        "Scheduler cycles by result",
		ConstLabels: m.constLabels,
	}, []string{"result"})

	m.cycleDuration = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   "scheduler",
		Name:        "cycle_duration_seconds",
		Help:        "Wall time of a scheduler cycle",
		Buckets:     prometheus.ExponentialBuckets(1, 2, 10),
		ConstLabels: m.constLabels,
	})

	m.sourcesDue = auto.NewGauge(prometheus.GaugeOpts{
		Namespace:   m.namespace,
		Subsystem:   "scheduler",
		Name:        "sources_due",
		Help:        "Sources selected by the last cycle",
		ConstLabels: m.constLabels,
	})

	m.lastCycleUnix = auto.NewGauge(prometheus.GaugeOpts{
		Namespace:   m.namespace,
		Subsystem:   "scheduler",
		Name:        "last_cycle_timestamp_seconds",
		Help:        "Unix time the last cycle finished",
		ConstLabels: m.constLabels,
	})

	m.schedulerState = auto.NewGauge(prometheus.GaugeOpts{
		Namespace:   m.namespace,
		Subsystem:   "scheduler",
		Name:        "running",
		Help:        "1 while the continuous loop is running",
		ConstLabels: m.constLabels,
	})

	m.cacheEntries = auto.NewGauge(prometheus.GaugeOpts{
		Namespace:   m.namespace,
		Subsystem:   "cache",
		Name:        "entries",
		Help:        "Unexpired cache entries after the last sweep",
		ConstLabels: m.constLabels,
	})

	m.sourceHealth = auto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        "source_success_rate",
		Help:        "Success rate percentage per source",
		ConstLabels: m.constLabels,
	}, []string{"source"})
}

func (m *Manager) active() bool {
	return m != nil && m.enabled
}

// ObserveAttempt records one attempt's outcome and duration.
func (m *Manager) ObserveAttempt(outcome string, d time.Duration) {
	if !m.active() {
		return
	}
	m.attempts.WithLabelValues(outcome).Inc()
	if outcome != OutcomeSkipped {
		m.attemptDuration.Observe(d.Seconds())
	}
}

// ObserveEvents adds the per-attempt event counts.
func (m *Manager) ObserveEvents(stored, duplicates, rejected int) {
	if !m.active() {
		return
	}
	m.eventsStored.Add(float64(stored))
	m.eventsDuplicate.Add(float64(duplicates))
	m.eventsRejected.Add(float64(rejected))
}

// ContentChanged counts an attempt whose page hash moved.
func (m *Manager) ContentChanged() {
	if !m.active() {
		return
	}
	m.contentChanged.Inc()
}

// SetSourceHealth publishes a source's success rate.
func (m *Manager) SetSourceHealth(source string, rate float64) {
	if !m.active() {
		return
	}
	m.sourceHealth.WithLabelValues(source).Set(rate)
}

// ObserveCycle records a finished scheduler cycle.
func (m *Manager) ObserveCycle(due int, d time.Duration, err error) {
	if !m.active() {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.cycles.WithLabelValues(result).Inc()
	m.cycleDuration.Observe(d.Seconds())
	m.sourcesDue.Set(float64(due))
	m.lastCycleUnix.SetToCurrentTime()
}

// SetRunning publishes the scheduler loop state.
func (m *Manager) SetRunning(running bool) {
	if !m.active() {
		return
	}
	if running {
		m.schedulerState.Set(1)
		return
	}
	m.schedulerState.Set(0)
}

// SetCacheEntries publishes the cache size seen by the last sweep.
func (m *Manager) SetCacheEntries(n int64) {
	if !m.active() {
		return
	}
	m.cacheEntries.Set(float64(n))
}

// Registry returns the registry the metrics live on.
func (m *Manager) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Manager) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
