package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// WorkerMetrics instruments the retrieval worker. Request outcomes are
// observed at the queue edge; the sizes of the process-local stores are
// read at scrape time through registered callbacks.
type WorkerMetrics struct {
	registry *prometheus.Registry

	requestTotal     *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	requestsInFlight prometheus.Gauge

	planBranches  *prometheus.HistogramVec
	rankedChunks  *prometheus.HistogramVec
	branchLookups *prometheus.CounterVec
	feedbackTotal *prometheus.CounterVec
}

func NewWorkerMetrics(service string) *WorkerMetrics {
	registry := prometheus.NewRegistry()

	requestTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rp",
			Subsystem: "worker",
			Name:      "retrieval_requests_total",
			Help:      "Total retrieval requests by status.",
		},
		[]string{"service", "status"},
	)
	requestDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "rp",
			Subsystem: "worker",
			Name:      "retrieval_request_duration_seconds",
			Help:      "Retrieval request duration in seconds by status.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 4, 8, 15},
		},
		[]string{"service", "status"},
	)
	requestsInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "rp",
			Subsystem: "worker",
			Name:      "retrieval_requests_in_flight",
			Help:      "Number of retrieval requests currently being served.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	planBranches := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "rp",
			Subsystem: "worker",
			Name:      "plan_branches",
			Help:      "Search branches fanned out per retrieval request.",
			Buckets:   []float64{1, 2, 3, 4, 6, 8},
		},
		[]string{"service"},
	)
	rankedChunks := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "rp",
			Subsystem: "worker",
			Name:      "ranked_chunks",
			Help:      "Chunks in the final ranked result per request.",
			Buckets:   []float64{1, 5, 10, 20, 40, 80},
		},
		[]string{"service"},
	)
	branchLookups := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rp",
			Subsystem: "worker",
			Name:      "branch_cache_lookups_total",
			Help:      "Per-branch result cache lookups by outcome.",
		},
		[]string{"service", "outcome"},
	)
	feedbackTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rp",
			Subsystem: "worker",
			Name:      "feedback_events_total",
			Help:      "Feedback and invalidation events by kind and status.",
		},
		[]string{"service", "kind", "status"},
	)

	registry.MustRegister(requestTotal, requestDuration, requestsInFlight, planBranches, rankedChunks, branchLookups, feedbackTotal)

	return &WorkerMetrics{
		registry:         registry,
		requestTotal:     requestTotal,
		requestDuration:  requestDuration,
		requestsInFlight: requestsInFlight,
		planBranches:     planBranches,
		rankedChunks:     rankedChunks,
		branchLookups:    branchLookups,
		feedbackTotal:    feedbackTotal,
	}
}

func (m *WorkerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *WorkerMetrics) StartRequest() {
	m.requestsInFlight.Inc()
}

func (m *WorkerMetrics) FinishRequest(service string, duration time.Duration, err error) {
	m.requestsInFlight.Dec()

	status := "success"
	if err != nil {
		status = "error"
	}

	m.requestTotal.WithLabelValues(service, status).Inc()
	m.requestDuration.WithLabelValues(service, status).Observe(duration.Seconds())
}

// ObservePipeline records the shape of one completed retrieval: how many
// branches the plan fanned out, how the branch cache behaved, and how many
// chunks survived reranking.
func (m *WorkerMetrics) ObservePipeline(service string, branches, cacheHits, cacheMisses, ranked int) {
	m.planBranches.WithLabelValues(service).Observe(float64(branches))
	m.rankedChunks.WithLabelValues(service).Observe(float64(ranked))
	if cacheHits > 0 {
		m.branchLookups.WithLabelValues(service, "hit").Add(float64(cacheHits))
	}
	if cacheMisses > 0 {
		m.branchLookups.WithLabelValues(service, "miss").Add(float64(cacheMisses))
	}
}

func (m *WorkerMetrics) ObserveFeedback(service, kind string, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.feedbackTotal.WithLabelValues(service, kind, status).Inc()
}

// StoreGauges exposes the sizes of the process-local stores. Each callback
// is invoked at scrape time; nil callbacks are skipped.
type StoreGauges struct {
	CacheEntries       func() float64
	CacheTrackedChunks func() float64
	CacheEvictions     func() float64
	MemoryChunks       func() float64
	FacetValues        func() float64
}

func (m *WorkerMetrics) RegisterStoreGauges(service string, gauges StoreGauges) {
	labels := prometheus.Labels{"service": service}

	if gauges.CacheEntries != nil {
		m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace:   "rp",
			Subsystem:   "worker",
			Name:        "cache_entries",
			Help:        "Entries currently held by the result cache.",
			ConstLabels: labels,
		}, gauges.CacheEntries))
	}
	if gauges.CacheTrackedChunks != nil {
		m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace:   "rp",
			Subsystem:   "worker",
			Name:        "cache_tracked_chunks",
			Help:        "Distinct chunk ids indexed for cache invalidation.",
			ConstLabels: labels,
		}, gauges.CacheTrackedChunks))
	}
	if gauges.CacheEvictions != nil {
		m.registry.MustRegister(prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace:   "rp",
			Subsystem:   "worker",
			Name:        "cache_evictions_total",
			Help:        "Cache entries evicted by TTL or capacity.",
			ConstLabels: labels,
		}, gauges.CacheEvictions))
	}
	if gauges.MemoryChunks != nil {
		m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace:   "rp",
			Subsystem:   "worker",
			Name:        "memory_chunks",
			Help:        "Chunks with usefulness stats in the memory store.",
			ConstLabels: labels,
		}, gauges.MemoryChunks))
	}
	if gauges.FacetValues != nil {
		m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace:   "rp",
			Subsystem:   "worker",
			Name:        "facet_values",
			Help:        "Facet field/value vectors held by the facet index.",
			ConstLabels: labels,
		}, gauges.FacetValues))
	}
}
