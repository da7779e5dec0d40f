package forkjoin

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics wraps a dedicated prometheus registry with the counters the
// scheduler itself can meaningfully emit. It is grounded on
// hemzaz-freightliner and lindb, both of which wire prometheus/client_golang
// for exactly this kind of operational counter set. A nil *Metrics disables
// instrumentation entirely (Config.Metrics defaults to nil) so the
// pick-or-steal hot path never pays for collectors it doesn't use.
type Metrics struct {
	registry          *prometheus.Registry
	jobsExecuted      *prometheus.CounterVec
	jobsStolen        *prometheus.CounterVec
	resourceExhausted *prometheus.CounterVec
	deferredDrained   *prometheus.CounterVec
}

// NewMetrics builds a fresh Metrics instance backed by its own registry, so
// multiple Scheduler instances in the same process never collide on metric
// registration.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		jobsExecuted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "forkjoin_jobs_executed_total",
			Help: "Total number of job bodies run, labeled by worker index.",
		}, []string{"worker"}),
		jobsStolen: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "forkjoin_jobs_stolen_total",
			Help: "Total number of jobs obtained via steal rather than the owner's own pop, labeled by thief worker index.",
		}, []string{"worker"}),
		resourceExhausted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "forkjoin_resource_exhausted_total",
			Help: "Total ResourceExhausted events, labeled by the component that raised them.",
		}, []string{"component"}),
		deferredDrained: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "forkjoin_arena_deferred_drained_total",
			Help: "Total arena blocks reclaimed from the cross-worker deferred-free chain, labeled by worker index.",
		}, []string{"worker"}),
	}
	m.registry.MustRegister(m.jobsExecuted, m.jobsStolen, m.resourceExhausted, m.deferredDrained)
	return m
}

// Registry exposes the underlying prometheus.Registry so callers can mount
// it behind their own /metrics handler.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) recordExecuted(workerIndex int, stolen bool) {
	if m == nil {
		return
	}
	label := strconv.Itoa(workerIndex)
	m.jobsExecuted.WithLabelValues(label).Inc()
	if stolen {
		m.jobsStolen.WithLabelValues(label).Inc()
	}
}

func (m *Metrics) recordResourceExhausted(component string) {
	if m == nil {
		return
	}
	m.resourceExhausted.WithLabelValues(component).Inc()
}

func (m *Metrics) recordDeferredDrained(workerIndex, count int) {
	if m == nil || count == 0 {
		return
	}
	m.deferredDrained.WithLabelValues(strconv.Itoa(workerIndex)).Add(float64(count))
}
