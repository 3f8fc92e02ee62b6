package metrics

import "github.com/prometheus/client_golang/prometheus"

// WorkerSnapshot is the minimal surface internal/worker.Worker's
// Snapshot type satisfies; kept local so this package doesn't import
// internal/worker and create a dependency cycle risk with any future
// worker-side metrics wiring.
type WorkerSnapshot struct {
	NodeCount         uint64
	Collisions        uint64
	Inserted          uint64
	DeferredITECount  uint64
	LocalOperators    uint64
	LocalOperands     uint64
	RoutedOperators   uint64
	RoutedOperands    uint64
	Dropped           uint64
	OperatorCollision uint64
}

func (s WorkerSnapshot) words() []uint64 {
	return []uint64{
		s.NodeCount, s.Collisions, s.Inserted, s.DeferredITECount,
		s.LocalOperators, s.LocalOperands, s.RoutedOperators,
		s.RoutedOperands, s.Dropped, s.OperatorCollision,
	}
}

// workerCollector is a pull-model prometheus.Collector: it asks source
// for a fresh WorkerSnapshot on every scrape instead of keeping its own
// counters in sync with the agent's, the same pattern the teacher's
// NewCacheMetrics uses for gauges that track live state (RecordBufferCount)
// rather than monotonically-accumulated counters.
type workerCollector struct {
	source func() WorkerSnapshot
	descs  []*prometheus.Desc
}

// NewWorkerCollector returns a prometheus.Collector exposing source's
// live counters under the same field names a controller's
// ControllerMetrics aggregates (statFieldNames), as gauges labeled by
// field. Register it directly on a prometheus registry, or via
// RegisterWorkerCollector on a worker's own Registry.
func NewWorkerCollector(source func() WorkerSnapshot) prometheus.Collector {
	descs := make([]*prometheus.Desc, len(statFieldNames))
	for i, name := range statFieldNames {
		descs[i] = prometheus.NewDesc(
			"cloudbdd_worker_"+name,
			"Live worker counter: "+name,
			nil, nil,
		)
	}
	return &workerCollector{source: source, descs: descs}
}

func (c *workerCollector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range c.descs {
		ch <- d
	}
}

func (c *workerCollector) Collect(ch chan<- prometheus.Metric) {
	words := c.source().words()
	for i, d := range c.descs {
		if i >= len(words) {
			break
		}
		ch <- prometheus.MustNewConstMetric(d, prometheus.GaugeValue, float64(words[i]))
	}
}

// RegisterWorkerCollector registers a worker's live-counter collector on
// reg, so it appears on the same /metrics endpoint reg.Handler() serves.
func RegisterWorkerCollector(reg *Registry, source func() WorkerSnapshot) {
	reg.Register(NewWorkerCollector(source))
}
