package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// statFieldNames mirrors internal/worker.Snapshot.Words' field order, so
// a controller's aggregated STAT gauges and a worker's live gauges speak
// the same label vocabulary.
var statFieldNames = []string{
	"node_count",
	"collisions",
	"inserted",
	"deferred_ite",
	"local_operators",
	"local_operands",
	"routed_operators",
	"routed_operands",
	"dropped",
	"operator_collision",
}

// ControllerMetrics holds the controller-side gauges fed by the flush/
// STAT protocol's per-field min/max/sum, plus the bootstrap and GC
// phase-machine gauges (SPEC_FULL.md's DOMAIN STACK table).
type ControllerMetrics struct {
	statAgg       *prometheus.GaugeVec
	gcGeneration  prometheus.Gauge
	gcState       prometheus.Gauge
	workersReady  prometheus.Gauge
	clientsActive prometheus.Gauge
	flushLatency  prometheus.Histogram
}

// NewControllerMetrics builds and registers the controller's
// instruments on reg. Safe to call whether or not anything ever scrapes
// reg.Handler(); the instruments simply accumulate unobserved.
func NewControllerMetrics(reg *Registry) *ControllerMetrics {
	return &ControllerMetrics{
		statAgg: reg.newGaugeVec(prometheus.GaugeOpts{
			Name: "cloudbdd_controller_stat_aggregate",
			Help: "Per-field min/max/sum across the last completed flush, by worker-reported field and aggregation",
		}, []string{"field", "agg"}),
		gcGeneration: reg.newGauge(prometheus.GaugeOpts{
			Name: "cloudbdd_controller_gc_generation",
			Help: "Current garbage-collection generation",
		}),
		gcState: reg.newGauge(prometheus.GaugeOpts{
			Name: "cloudbdd_controller_gc_state",
			Help: "Current GC phase-machine state (0=READY,1=WAIT_WORKER_START,2=WAIT_CLIENT,3=WAIT_WORKER_FINISH)",
		}),
		workersReady: reg.newGauge(prometheus.GaugeOpts{
			Name: "cloudbdd_controller_workers_ready",
			Help: "Number of workers that have sent READY_WORKER",
		}),
		clientsActive: reg.newGauge(prometheus.GaugeOpts{
			Name: "cloudbdd_controller_clients_active",
			Help: "Number of currently admitted clients",
		}),
		flushLatency: reg.newHistogram(prometheus.HistogramOpts{
			Name:    "cloudbdd_controller_flush_duration_seconds",
			Help:    "Time from DO_FLUSH broadcast to every worker's STAT reply arriving",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

// ObserveFlush records one completed flush's per-field min/max/sum
// triples (each length statFieldCount, in statFieldNames order) and how
// long the round took.
func (m *ControllerMetrics) ObserveFlush(mins, maxs, sums []uint64, elapsed time.Duration) {
	for i, name := range statFieldNames {
		if i >= len(mins) || i >= len(maxs) || i >= len(sums) {
			break
		}
		m.statAgg.WithLabelValues(name, "min").Set(float64(mins[i]))
		m.statAgg.WithLabelValues(name, "max").Set(float64(maxs[i]))
		m.statAgg.WithLabelValues(name, "sum").Set(float64(sums[i]))
	}
	m.flushLatency.Observe(elapsed.Seconds())
}

// SetGCGeneration records the controller's current GC generation.
func (m *ControllerMetrics) SetGCGeneration(gen uint32) { m.gcGeneration.Set(float64(gen)) }

// SetGCState records the controller's current GC phase-machine state.
func (m *ControllerMetrics) SetGCState(state int) { m.gcState.Set(float64(state)) }

// SetWorkersReady records how many workers have reported READY_WORKER.
func (m *ControllerMetrics) SetWorkersReady(n int) { m.workersReady.Set(float64(n)) }

// SetClientsActive records the current admitted-client count.
func (m *ControllerMetrics) SetClientsActive(n int) { m.clientsActive.Set(float64(n)) }
