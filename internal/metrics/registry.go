// Package metrics exposes the cluster's counters to Prometheus, the way
// the teacher's pkg/metrics/prometheus package backs its cache/S3/Badger
// interfaces: gauges and histograms built with promauto, and an
// http.Handler for a /metrics endpoint. Here the exported surface is the
// distributed BDD engine's own counters instead of a filesystem's: the
// controller's aggregated per-flush STAT fields, and a worker's live
// engine/agent counters.
//
// Unlike the teacher's single process-global registry, Registry is a
// value every controller/worker instance owns independently: a cluster
// process is only ever one of these per binary, but tests construct many
// Controllers and Workers in one process and a shared global registry
// would have every instance past the first panic on duplicate metric
// registration.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry wraps a private prometheus.Registry, pre-populated with the
// standard Go/process collectors the teacher's global registry also
// carries.
type Registry struct {
	reg *prometheus.Registry
}

// NewRegistry builds an empty Registry ready for a controller's or
// worker's own instruments to register onto.
func NewRegistry() *Registry {
	r := prometheus.NewRegistry()
	r.MustRegister(
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)
	return &Registry{reg: r}
}

// Handler returns the promhttp handler serving this registry, for a
// binary's own "-metrics-addr" HTTP listener (SPEC_FULL.md's worker
// /metrics exporter).
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}

// Register adds an already-built collector (e.g. a workerCollector) to
// this registry.
func (r *Registry) Register(c prometheus.Collector) {
	r.reg.MustRegister(c)
}

func (r *Registry) newCounterVec(opts prometheus.CounterOpts, labels []string) *prometheus.CounterVec {
	return promauto.With(r.reg).NewCounterVec(opts, labels)
}

func (r *Registry) newGaugeVec(opts prometheus.GaugeOpts, labels []string) *prometheus.GaugeVec {
	return promauto.With(r.reg).NewGaugeVec(opts, labels)
}

func (r *Registry) newHistogramVec(opts prometheus.HistogramOpts, labels []string) *prometheus.HistogramVec {
	return promauto.With(r.reg).NewHistogramVec(opts, labels)
}

func (r *Registry) newGauge(opts prometheus.GaugeOpts) prometheus.Gauge {
	return promauto.With(r.reg).NewGauge(opts)
}

func (r *Registry) newCounter(opts prometheus.CounterOpts) prometheus.Counter {
	return promauto.With(r.reg).NewCounter(opts)
}

func (r *Registry) newHistogram(opts prometheus.HistogramOpts) prometheus.Histogram {
	return promauto.With(r.reg).NewHistogram(opts)
}
