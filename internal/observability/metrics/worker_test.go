package metrics

import (
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func scrape(t *testing.T, m *WorkerMetrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	return rec.Body.String()
}

func TestFinishRequestCountsByStatus(t *testing.T) {
	m := NewWorkerMetrics("rp-worker")

	m.StartRequest()
	m.FinishRequest("rp-worker", 120*time.Millisecond, nil)
	m.StartRequest()
	m.FinishRequest("rp-worker", 40*time.Millisecond, errors.New("boom"))

	body := scrape(t, m)
	for _, want := range []string{
		`rp_worker_retrieval_requests_total{service="rp-worker",status="success"} 1`,
		`rp_worker_retrieval_requests_total{service="rp-worker",status="error"} 1`,
		`rp_worker_retrieval_requests_in_flight{service="rp-worker"} 0`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("scrape missing %q:\n%s", want, body)
		}
	}
}

func TestObservePipelineRecordsShape(t *testing.T) {
	m := NewWorkerMetrics("rp-worker")

	m.ObservePipeline("rp-worker", 3, 2, 1, 12)
	m.ObserveFeedback("rp-worker", "useful", nil)

	body := scrape(t, m)
	for _, want := range []string{
		`rp_worker_plan_branches_count{service="rp-worker"} 1`,
		`rp_worker_plan_branches_sum{service="rp-worker"} 3`,
		`rp_worker_branch_cache_lookups_total{outcome="hit",service="rp-worker"} 2`,
		`rp_worker_branch_cache_lookups_total{outcome="miss",service="rp-worker"} 1`,
		`rp_worker_ranked_chunks_sum{service="rp-worker"} 12`,
		`rp_worker_feedback_events_total{kind="useful",service="rp-worker",status="success"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("scrape missing %q:\n%s", want, body)
		}
	}
}

func TestRegisterStoreGaugesSkipsNilCallbacks(t *testing.T) {
	m := NewWorkerMetrics("rp-worker")

	m.RegisterStoreGauges("rp-worker", StoreGauges{
		CacheEntries: func() float64 { return 7 },
		MemoryChunks: func() float64 { return 3 },
	})

	body := scrape(t, m)
	if !strings.Contains(body, `rp_worker_cache_entries{service="rp-worker"} 7`) {
		t.Fatalf("cache entries gauge missing:\n%s", body)
	}
	if !strings.Contains(body, `rp_worker_memory_chunks{service="rp-worker"} 3`) {
		t.Fatalf("memory chunks gauge missing:\n%s", body)
	}
	if strings.Contains(body, "rp_worker_facet_values") {
		t.Fatalf("facet values gauge registered without a callback:\n%s", body)
	}
}
