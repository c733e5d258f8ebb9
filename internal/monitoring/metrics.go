package monitoring

import (
	"context"
	"fmt"
	"net/http"
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector provides Prometheus metrics for the session/
// transaction core: commit throughput and latency, per-backend dispatch
// timing, and signal subscriber failures, plus the ambient HTTP/process
// metrics every service in this codebase exposes.
type MetricsCollector struct {
	registry *prometheus.Registry

	// Commit metrics
	commitsTotal       *prometheus.CounterVec
	commitDuration     *prometheus.HistogramVec
	commitFailures     *prometheus.CounterVec
	instancesCommitted *prometheus.CounterVec

	// Backend dispatch metrics
	backendDispatchTotal    *prometheus.CounterVec
	backendDispatchDuration *prometheus.HistogramVec

	// Signal metrics
	signalDispatchTotal  *prometheus.CounterVec
	signalSubscriberFail *prometheus.CounterVec

	// Session metrics
	activeSessions    prometheus.Gauge
	sessionModelCount *prometheus.CounterVec

	// HTTP metrics
	httpRequestDuration *prometheus.HistogramVec
	httpRequestsTotal   *prometheus.CounterVec

	// System metrics
	memoryUsageBytes prometheus.Gauge
	goroutineCount   prometheus.Gauge

	startupTimeSeconds prometheus.Gauge
	lastStartupTime    time.Time

	mu sync.RWMutex
}

// NewMetricsCollector creates a new metrics collector with every metric
// this core's components record against.
func NewMetricsCollector() *MetricsCollector {
	registry := prometheus.NewRegistry()

	mc := &MetricsCollector{
		registry:        registry,
		lastStartupTime: time.Now(),

		commitsTotal: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "odm_commits_total",
				Help: "Total number of transaction commits attempted",
			},
			[]string{"status"},
		),

		commitDuration: promauto.With(registry).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "odm_commit_duration_seconds",
				Help:    "Duration of transaction commits in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"status"},
		),

		commitFailures: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "odm_commit_failures_total",
				Help: "Total number of per-model commit failures",
			},
			[]string{"model"},
		),

		instancesCommitted: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "odm_instances_committed_total",
				Help: "Total number of instances saved or deleted by a commit",
			},
			[]string{"model", "action"},
		),

		backendDispatchTotal: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "odm_backend_dispatch_total",
				Help: "Total number of backend dispatch calls",
			},
			[]string{"backend", "status"},
		),

		backendDispatchDuration: promauto.With(registry).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "odm_backend_dispatch_duration_seconds",
				Help:    "Duration of a single backend dispatch call in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"backend"},
		),

		signalDispatchTotal: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "odm_signal_dispatch_total",
				Help: "Total number of signal subscriber dispatches",
			},
			[]string{"signal"},
		),

		signalSubscriberFail: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "odm_signal_subscriber_failures_total",
				Help: "Total number of signal subscriber errors or panics",
			},
			[]string{"signal"},
		),

		activeSessions: promauto.With(registry).NewGauge(
			prometheus.GaugeOpts{
				Name: "odm_active_sessions",
				Help: "Current number of open sessions",
			},
		),

		sessionModelCount: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "odm_session_models_touched_total",
				Help: "Total number of model buckets created within a session",
			},
			[]string{"model"},
		),

		httpRequestDuration: promauto.With(registry).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "odm_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "endpoint"},
		),

		httpRequestsTotal: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "odm_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "endpoint", "status_code"},
		),

		memoryUsageBytes: promauto.With(registry).NewGauge(
			prometheus.GaugeOpts{
				Name: "odm_memory_usage_bytes",
				Help: "Current memory usage in bytes",
			},
		),

		goroutineCount: promauto.With(registry).NewGauge(
			prometheus.GaugeOpts{
				Name: "odm_goroutines",
				Help: "Current number of goroutines",
			},
		),

		startupTimeSeconds: promauto.With(registry).NewGauge(
			prometheus.GaugeOpts{
				Name: "odm_startup_time_seconds",
				Help: "Application startup time in seconds",
			},
		),
	}

	registry.MustRegister(prometheus.NewGoCollector())
	registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	mc.startupTimeSeconds.Set(time.Since(mc.lastStartupTime).Seconds())

	go mc.collectSystemMetrics()

	return mc
}

// RecordCommit records one transaction commit outcome.
func (mc *MetricsCollector) RecordCommit(status string, duration time.Duration) {
	mc.commitsTotal.WithLabelValues(status).Inc()
	mc.commitDuration.WithLabelValues(status).Observe(duration.Seconds())
}

// RecordCommitFailure records one per-model commit failure.
func (mc *MetricsCollector) RecordCommitFailure(model string) {
	mc.commitFailures.WithLabelValues(model).Inc()
}

// RecordInstancesCommitted records how many instances a model saved or
// deleted in one commit.
func (mc *MetricsCollector) RecordInstancesCommitted(model, action string, count int) {
	mc.instancesCommitted.WithLabelValues(model, action).Add(float64(count))
}

// RecordBackendDispatch records one backend dispatch call.
func (mc *MetricsCollector) RecordBackendDispatch(backend, status string, duration time.Duration) {
	mc.backendDispatchTotal.WithLabelValues(backend, status).Inc()
	mc.backendDispatchDuration.WithLabelValues(backend).Observe(duration.Seconds())
}

// RecordSignalDispatch records one signal fan-out, and optionally a
// subscriber failure within it.
func (mc *MetricsCollector) RecordSignalDispatch(signal string, failed bool) {
	mc.signalDispatchTotal.WithLabelValues(signal).Inc()
	if failed {
		mc.signalSubscriberFail.WithLabelValues(signal).Inc()
	}
}

// SetActiveSessions updates the current open-session gauge.
func (mc *MetricsCollector) SetActiveSessions(n float64) {
	mc.activeSessions.Set(n)
}

// RecordSessionModelTouched records a model bucket being created in a
// session.
func (mc *MetricsCollector) RecordSessionModelTouched(model string) {
	mc.sessionModelCount.WithLabelValues(model).Inc()
}

// RecordHTTPRequest records an HTTP request's method/endpoint/status and
// duration.
func (mc *MetricsCollector) RecordHTTPRequest(method, endpoint string, statusCode int, duration time.Duration) {
	statusStr := fmt.Sprintf("%d", statusCode)
	mc.httpRequestsTotal.WithLabelValues(method, endpoint, statusStr).Inc()
	mc.httpRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// collectSystemMetrics runs background collection of process metrics.
func (mc *MetricsCollector) collectSystemMetrics() {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for range ticker.C {
		var m runtime.MemStats
		runtime.ReadMemStats(&m)
		mc.memoryUsageBytes.Set(float64(m.Alloc))
		mc.goroutineCount.Set(float64(runtime.NumGoroutine()))
	}
}

// Handler returns the HTTP handler for Prometheus metrics.
func (mc *MetricsCollector) Handler() http.Handler {
	return promhttp.HandlerFor(
		mc.registry,
		promhttp.HandlerOpts{EnableOpenMetrics: true},
	)
}

// Registry returns the Prometheus registry.
func (mc *MetricsCollector) Registry() *prometheus.Registry {
	return mc.registry
}

// HTTPMiddleware provides HTTP request/response metrics collection.
func (mc *MetricsCollector) HTTPMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapped, r)
		mc.RecordHTTPRequest(r.Method, r.URL.Path, wrapped.statusCode, time.Since(start))
	})
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (w *responseWriter) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

// HealthzHandler provides a health check endpoint that doesn't affect
// metrics.
func (mc *MetricsCollector) HealthzHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy","service":"odm-metrics"}`))
	}
}

// MetricsServer provides a standalone metrics server.
type MetricsServer struct {
	collector *MetricsCollector
	server    *http.Server
	mu        sync.RWMutex
}

// NewMetricsServer creates a new metrics server.
func NewMetricsServer(addr string, collector *MetricsCollector) *MetricsServer {
	mux := http.NewServeMux()
	mux.Handle("/metrics", collector.Handler())
	mux.HandleFunc("/healthz", collector.HealthzHandler())

	server := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &MetricsServer{collector: collector, server: server}
}

// Start starts the metrics server in the background.
func (ms *MetricsServer) Start() error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	go func() {
		if err := ms.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			fmt.Printf("metrics server error: %v\n", err)
		}
	}()

	return nil
}

// Stop stops the metrics server gracefully.
func (ms *MetricsServer) Stop(ctx context.Context) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	return ms.server.Shutdown(ctx)
}
