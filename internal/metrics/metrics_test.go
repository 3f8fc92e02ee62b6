package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func scrape(t *testing.T, h http.Handler) string {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	return rec.Body.String()
}

func TestWorkerCollectorExposesLiveSnapshot(t *testing.T) {
	reg := NewRegistry()
	snap := WorkerSnapshot{NodeCount: 42, Collisions: 3, Inserted: 42, Dropped: 1}
	RegisterWorkerCollector(reg, func() WorkerSnapshot { return snap })

	body := scrape(t, reg.Handler())
	require.Contains(t, body, "cloudbdd_worker_node_count 42")
	require.Contains(t, body, "cloudbdd_worker_collisions 3")
	require.Contains(t, body, "cloudbdd_worker_dropped 1")
}

func TestWorkerCollectorReflectsSourceChangesOnEachScrape(t *testing.T) {
	reg := NewRegistry()
	count := uint64(1)
	RegisterWorkerCollector(reg, func() WorkerSnapshot { return WorkerSnapshot{NodeCount: count} })

	require.Contains(t, scrape(t, reg.Handler()), "cloudbdd_worker_node_count 1")
	count = 99
	require.Contains(t, scrape(t, reg.Handler()), "cloudbdd_worker_node_count 99")
}

func TestControllerMetricsObserveFlushRecordsAggregates(t *testing.T) {
	reg := NewRegistry()
	m := NewControllerMetrics(reg)

	mins := make([]uint64, len(statFieldNames))
	maxs := make([]uint64, len(statFieldNames))
	sums := make([]uint64, len(statFieldNames))
	mins[0], maxs[0], sums[0] = 1, 5, 9
	m.ObserveFlush(mins, maxs, sums, 250*time.Millisecond)

	body := scrape(t, reg.Handler())
	require.Contains(t, body, `cloudbdd_controller_stat_aggregate{agg="min",field="node_count"} 1`)
	require.Contains(t, body, `cloudbdd_controller_stat_aggregate{agg="max",field="node_count"} 5`)
	require.Contains(t, body, `cloudbdd_controller_stat_aggregate{agg="sum",field="node_count"} 9`)
	require.Contains(t, body, "cloudbdd_controller_flush_duration_seconds")
}

func TestControllerMetricsGCAndAdmissionGauges(t *testing.T) {
	reg := NewRegistry()
	m := NewControllerMetrics(reg)

	m.SetGCGeneration(3)
	m.SetGCState(2)
	m.SetWorkersReady(4)
	m.SetClientsActive(7)

	body := scrape(t, reg.Handler())
	require.Contains(t, body, "cloudbdd_controller_gc_generation 3")
	require.Contains(t, body, "cloudbdd_controller_gc_state 2")
	require.Contains(t, body, "cloudbdd_controller_workers_ready 4")
	require.Contains(t, body, "cloudbdd_controller_clients_active 7")
}

func TestObserveFlushIgnoresShortSlices(t *testing.T) {
	reg := NewRegistry()
	m := NewControllerMetrics(reg)

	// Slices shorter than statFieldNames must not panic; fields beyond
	// the slice length are simply left unreported.
	require.NotPanics(t, func() {
		m.ObserveFlush([]uint64{1}, []uint64{2}, []uint64{3}, time.Millisecond)
	})
	body := scrape(t, reg.Handler())
	require.True(t, strings.Contains(body, "node_count"))
}
