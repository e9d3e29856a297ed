package metrics

import (
	"encoding/json"
	"net/http"

	"github.com/ErlanBelekov/replenishment/internal/health"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Worker metrics

	TriggerPickupLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "replenishment",
		Name:      "trigger_pickup_latency_seconds",
		Help:      "Time from a trigger becoming due to a worker claiming it.",
		Buckets:   []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120, 300},
	})

	ChargeDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "replenishment",
		Name:      "charge_duration_seconds",
		Help:      "Duration of pricing and charging one occurrence.",
		Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
	}, []string{"outcome"})

	JobsInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "replenishment",
		Name:      "worker_jobs_in_flight",
		Help:      "Number of triggers currently being executed by the worker.",
	})

	ExecutionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "replenishment",
		Name:      "executions_total",
		Help:      "Total trigger deliveries finished, by outcome.",
	}, []string{"outcome"})

	// Reaper metrics

	ReaperRescuedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "replenishment",
		Name:      "reaper_rescued_total",
		Help:      "Total stale deliveries handled by the reaper.",
	}, []string{"action"})

	ReaperCycleDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "replenishment",
		Name:      "reaper_cycle_duration_seconds",
		Help:      "Time taken for one reaper cycle.",
		Buckets:   prometheus.DefBuckets,
	})

	// Reconciler metrics

	ReconcileDriftTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "replenishment",
		Name:      "reconcile_drift_total",
		Help:      "Replenishments whose record disagrees with the queue or payload store, by kind.",
	}, []string{"kind"})

	ReconcileSweepDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "replenishment",
		Name:      "reconcile_sweep_duration_seconds",
		Help:      "Time taken for one reconciliation sweep.",
		Buckets:   prometheus.DefBuckets,
	})

	// Worker lifecycle

	WorkerStartTime = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "replenishment",
		Name:      "worker_start_time_seconds",
		Help:      "Unix timestamp when the worker started.",
	})

	WorkerShutdownsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "replenishment",
		Name:      "worker_shutdowns_total",
		Help:      "Number of times the worker has shut down.",
	})

	// HTTP metrics

	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "replenishment",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency.",
		Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "replenishment",
		Name:      "http_requests_total",
		Help:      "Total HTTP requests.",
	}, []string{"method", "path", "status"})
)

func Register() {
	prometheus.MustRegister(
		TriggerPickupLatency,
		ChargeDuration,
		JobsInFlight,
		ExecutionsTotal,
		ReaperRescuedTotal,
		ReaperCycleDuration,
		ReconcileDriftTotal,
		ReconcileSweepDuration,
		WorkerStartTime,
		WorkerShutdownsTotal,
		HTTPRequestDuration,
		HTTPRequestsTotal,
	)
}

// NewServer serves /metrics plus the liveness and readiness probes of checker.
func NewServer(addr string, checker *health.Checker) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeHealth(w, checker.Liveness(r.Context()))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		writeHealth(w, checker.Readiness(r.Context()))
	})
	return &http.Server{Addr: addr, Handler: mux}
}

func writeHealth(w http.ResponseWriter, res health.HealthResult) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(res.StatusCode())
	_ = json.NewEncoder(w).Encode(res)
}
