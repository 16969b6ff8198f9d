package observability

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/yungbote/weblink-backend/internal/platform/envutil"
	"github.com/yungbote/weblink-backend/internal/platform/logger"
)

// Metrics is the process-wide Prometheus instrumentation. Every method is safe on a nil
// receiver so callers need not check whether metrics are enabled.
type Metrics struct {
	registry *prometheus.Registry

	apiRequests *prometheus.CounterVec
	apiLatency  *prometheus.HistogramVec
	apiInflight prometheus.Gauge

	jobsEnqueued  *prometheus.CounterVec
	jobsProcessed *prometheus.CounterVec
	jobDuration   *prometheus.HistogramVec
	queueDepth    *prometheus.GaugeVec

	stepOutcomes   *prometheus.CounterVec
	stepDuration   *prometheus.HistogramVec
	lockContention *prometheus.CounterVec

	cacheLookups *prometheus.CounterVec
	fetchLatency *prometheus.HistogramVec

	llmRequests *prometheus.CounterVec
	llmLatency  *prometheus.HistogramVec

	vectorOps       *prometheus.CounterVec
	vectorOpLatency *prometheus.HistogramVec
}

var (
	initOnce sync.Once
	instance *Metrics
)

func Enabled() bool {
	return envutil.Bool("METRICS_ENABLED", false)
}

func Current() *Metrics {
	return instance
}

// Init builds the singleton when METRICS_ENABLED is set and returns nil otherwise.
func Init(log *logger.Logger) *Metrics {
	if !Enabled() {
		return nil
	}
	initOnce.Do(func() {
		instance = NewMetrics()
		if log != nil {
			log.Info("metrics initialized")
		}
	})
	return instance
}

// NewMetrics builds an instance on its own registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		apiRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wl_api_requests_total",
			Help: "Total API requests by method/route/status.",
		}, []string{"method", "route", "status"}),
		apiLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "wl_api_request_duration_seconds",
			Help:    "API request latency in seconds by method/route/status.",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		}, []string{"method", "route", "status"}),
		apiInflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "wl_api_inflight_requests",
			Help: "In-flight API requests.",
		}),
		jobsEnqueued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wl_jobs_enqueued_total",
			Help: "Jobs accepted by the queue by channel and whether they were delayed.",
		}, []string{"channel", "delayed"}),
		jobsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wl_jobs_processed_total",
			Help: "Jobs finished by the worker by channel and outcome.",
		}, []string{"channel", "outcome"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "wl_job_duration_seconds",
			Help:    "Job handler wall time by channel.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60, 120},
		}, []string{"channel"}),
		queueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "wl_job_queue_depth",
			Help: "job_run rows by status.",
		}, []string{"status"}),
		stepOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wl_pipeline_steps_total",
			Help: "Pipeline step outcomes (finish, failed, skipped, contended).",
		}, []string{"step", "outcome"}),
		stepDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "wl_pipeline_step_duration_seconds",
			Help:    "Pipeline step wall time.",
			Buckets: prometheus.DefBuckets,
		}, []string{"step"}),
		lockContention: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wl_lock_contention_total",
			Help: "Lock acquisitions that found the key already held.",
		}, []string{"step"}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wl_content_cache_lookups_total",
			Help: "Content cache lookups by result.",
		}, []string{"result"}),
		fetchLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "wl_fetch_duration_seconds",
			Help:    "Remote fetch latency by outcome.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 20, 30},
		}, []string{"outcome"}),
		llmRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wl_llm_requests_total",
			Help: "Model API requests by model/endpoint/status.",
		}, []string{"model", "endpoint", "status"}),
		llmLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "wl_llm_request_duration_seconds",
			Help:    "Model API latency including retries.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60, 120},
		}, []string{"model", "endpoint"}),
		vectorOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wl_vector_store_operations_total",
			Help: "Vector store calls by provider/operation/status.",
		}, []string{"provider", "operation", "status"}),
		vectorOpLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "wl_vector_store_operation_duration_seconds",
			Help:    "Vector store call latency.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		}, []string{"provider", "operation"}),
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.apiRequests, m.apiLatency, m.apiInflight,
		m.jobsEnqueued, m.jobsProcessed, m.jobDuration, m.queueDepth,
		m.stepOutcomes, m.stepDuration, m.lockContention,
		m.cacheLookups, m.fetchLatency,
		m.llmRequests, m.llmLatency,
		m.vectorOps, m.vectorOpLatency,
	)
	return m
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) StartServer(ctx context.Context, log *logger.Logger, addr string) {
	if m == nil {
		return
	}
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           m.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = srv.Shutdown(shutdownCtx)
		cancel()
	}()
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			if log != nil {
				log.Error("metrics server failed", "error", err, "addr", addr)
			}
		}
	}()
}

func (m *Metrics) ObserveAPI(method, route, status string, dur time.Duration) {
	if m == nil {
		return
	}
	if method == "" {
		method = "UNKNOWN"
	}
	if route == "" {
		route = "unknown"
	}
	if status == "" {
		status = "0"
	}
	m.apiRequests.WithLabelValues(method, route, status).Inc()
	m.apiLatency.WithLabelValues(method, route, status).Observe(dur.Seconds())
}

func (m *Metrics) ApiInflightInc() {
	if m == nil {
		return
	}
	m.apiInflight.Inc()
}

func (m *Metrics) ApiInflightDec() {
	if m == nil {
		return
	}
	m.apiInflight.Dec()
}

func (m *Metrics) JobEnqueued(channel string, delayed bool) {
	if m == nil {
		return
	}
	d := "false"
	if delayed {
		d = "true"
	}
	m.jobsEnqueued.WithLabelValues(channel, d).Inc()
}

func (m *Metrics) ObserveJob(channel, outcome string, dur time.Duration) {
	if m == nil {
		return
	}
	m.jobsProcessed.WithLabelValues(channel, outcome).Inc()
	m.jobDuration.WithLabelValues(channel).Observe(dur.Seconds())
}

func (m *Metrics) SetQueueDepth(counts map[string]int64) {
	if m == nil {
		return
	}
	m.queueDepth.Reset()
	for status, n := range counts {
		if status == "" {
			status = "unknown"
		}
		m.queueDepth.WithLabelValues(status).Set(float64(n))
	}
}

func (m *Metrics) ObserveStep(step, outcome string, dur time.Duration) {
	if m == nil {
		return
	}
	m.stepOutcomes.WithLabelValues(step, outcome).Inc()
	if dur > 0 {
		m.stepDuration.WithLabelValues(step).Observe(dur.Seconds())
	}
}

func (m *Metrics) LockContended(step string) {
	if m == nil {
		return
	}
	m.lockContention.WithLabelValues(step).Inc()
}

func (m *Metrics) CacheHit() {
	if m == nil {
		return
	}
	m.cacheLookups.WithLabelValues("hit").Inc()
}

func (m *Metrics) CacheMiss() {
	if m == nil {
		return
	}
	m.cacheLookups.WithLabelValues("miss").Inc()
}

func (m *Metrics) ObserveFetch(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.fetchLatency.WithLabelValues(outcome).Observe(d.Seconds())
}

func (m *Metrics) ObserveLLMRequest(model, endpoint, status string, dur time.Duration) {
	if m == nil {
		return
	}
	if model == "" {
		model = "unknown"
	}
	m.llmRequests.WithLabelValues(model, endpoint, status).Inc()
	m.llmLatency.WithLabelValues(model, endpoint).Observe(dur.Seconds())
}

func (m *Metrics) ObserveVectorStoreOperation(provider, operation, status string, dur time.Duration) {
	if m == nil {
		return
	}
	m.vectorOps.WithLabelValues(provider, operation, status).Inc()
	m.vectorOpLatency.WithLabelValues(provider, operation).Observe(dur.Seconds())
}

// QueueCounter reports job_run rows per status.
type QueueCounter interface {
	CountByStatus(ctx context.Context) (map[string]int64, error)
}

// StartJobQueueCollector polls queue depth every METRICS_SCRAPE_INTERVAL (default 10s).
func (m *Metrics) StartJobQueueCollector(ctx context.Context, log *logger.Logger, counter QueueCounter) {
	if m == nil || counter == nil {
		return
	}
	interval := envutil.Duration("METRICS_SCRAPE_INTERVAL", 10*time.Second)
	if interval <= 0 {
		interval = 10 * time.Second
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				counts, err := counter.CountByStatus(ctx)
				if err != nil {
					if log != nil {
						log.Warn("metrics: job queue depth query failed", "error", err)
					}
					continue
				}
				m.SetQueueDepth(counts)
			}
		}
	}()
}
