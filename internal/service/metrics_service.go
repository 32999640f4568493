package service

import (
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/noah-isme/sos-safeguard-api/internal/models"
)

// MetricsService encapsulates Prometheus instrumentation for HTTP traffic and the case lifecycle.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	transitions     *prometheus.CounterVec
	penalties       *prometheus.CounterVec
	reminders       *prometheus.CounterVec
	sweepDuration   prometheus.Histogram
	sweepFailures   prometheus.Counter
	loginThrottled  prometheus.Counter
	notifications   *prometheus.CounterVec
	dbQueryDuration *prometheus.HistogramVec
	cacheRequests   *prometheus.CounterVec
	cacheWrite      prometheus.Histogram
}

// QueueStats is the snapshot a tracked queue reports on every scrape.
type QueueStats struct {
	Pending int
	Dropped int64
}

// NewMetricsService registers the collectors on a private registry.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	transitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "case_transitions_total",
		Help: "Case lifecycle operations by outcome",
	}, []string{"operation", "outcome"})

	penalties := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "workflow_penalties_total",
		Help: "Late stage completions recorded as penalties",
	}, []string{"stage"})

	reminders := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "deadline_reminders_total",
		Help: "Deadline reminders by dispatch result",
	}, []string{"result"})

	sweepDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "deadline_sweep_duration_seconds",
		Help:    "Duration of deadline sweeps",
		Buckets: prometheus.DefBuckets,
	})

	sweepFailures := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "deadline_sweep_failures_total",
		Help: "Deadline sweeps that failed or panicked",
	})

	loginThrottled := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "auth_login_throttled_total",
		Help: "Login attempts rejected by the attempt limiter",
	})

	notifications := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "notifications_total",
		Help: "Notifications processed by kind and result",
	}, []string{"kind", "result"})

	dbQueryDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "db_query_duration_seconds",
		Help:    "Duration of aggregate database queries",
		Buckets: prometheus.DefBuckets,
	}, []string{"query"})

	cacheRequests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cache_requests_total",
		Help: "Cache lookups by result",
	}, []string{"result"})

	cacheWrite := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cache_write_duration_seconds",
		Help:    "Duration of cache writes",
		Buckets: prometheus.DefBuckets,
	})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, transitions, penalties, reminders, sweepDuration, sweepFailures,
		loginThrottled, notifications, dbQueryDuration, cacheRequests, cacheWrite, goroutines)

	return &MetricsService{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestDuration: requestDuration,
		requestTotal:    requestTotal,
		transitions:     transitions,
		penalties:       penalties,
		reminders:       reminders,
		sweepDuration:   sweepDuration,
		sweepFailures:   sweepFailures,
		loginThrottled:  loginThrottled,
		notifications:   notifications,
		dbQueryDuration: dbQueryDuration,
		cacheRequests:   cacheRequests,
		cacheWrite:      cacheWrite,
	}
}

// Handler exposes the Prometheus HTTP handler.
func (m *MetricsService) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Registry exposes the underlying registry for tests.
func (m *MetricsService) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObserveHTTPRequest records request metrics.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := fmt.Sprintf("%d", status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
}

// RecordTransition counts a lifecycle operation. outcome is "ok" or the error code.
func (m *MetricsService) RecordTransition(operation Operation, outcome string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(string(operation), outcome).Inc()
}

// RecordPenalty counts a late stage completion.
func (m *MetricsService) RecordPenalty(stage models.StageKey) {
	if m == nil {
		return
	}
	m.penalties.WithLabelValues(string(stage)).Inc()
}

// RecordReminder counts one reminder by result: sent, failed or skipped.
func (m *MetricsService) RecordReminder(result string) {
	if m == nil {
		return
	}
	m.reminders.WithLabelValues(result).Inc()
}

// ObserveSweep records the duration and failure of a deadline sweep.
func (m *MetricsService) ObserveSweep(duration time.Duration, failed bool) {
	if m == nil {
		return
	}
	m.sweepDuration.Observe(duration.Seconds())
	if failed {
		m.sweepFailures.Inc()
	}
}

// RecordLoginThrottled counts a login rejected by the limiter.
func (m *MetricsService) RecordLoginThrottled() {
	if m == nil {
		return
	}
	m.loginThrottled.Inc()
}

// RecordNotification counts a processed notification.
func (m *MetricsService) RecordNotification(kind models.NotificationKind, result string) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(string(kind), result).Inc()
}

// ObserveDBQuery records the duration of a named aggregate query.
func (m *MetricsService) ObserveDBQuery(label string, duration time.Duration) {
	if m == nil {
		return
	}
	m.dbQueryDuration.WithLabelValues(label).Observe(duration.Seconds())
}

// RecordCacheOperation counts a cache lookup as a hit or a miss.
func (m *MetricsService) RecordCacheOperation(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheRequests.WithLabelValues(result).Inc()
}

// ObserveCacheWrite tracks the duration of a cache write.
func (m *MetricsService) ObserveCacheWrite(duration time.Duration) {
	if m == nil {
		return
	}
	m.cacheWrite.Observe(duration.Seconds())
}

// TrackQueue exports the depth and dropped-job count of a named worker queue. stats is
// called on every scrape.
func (m *MetricsService) TrackQueue(name string, stats func() QueueStats) error {
	if m == nil || stats == nil {
		return nil
	}
	labels := prometheus.Labels{"queue": name}
	depth := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name:        "job_queue_depth",
		Help:        "Jobs buffered and waiting for a worker",
		ConstLabels: labels,
	}, func() float64 {
		return float64(stats().Pending)
	})
	dropped := prometheus.NewCounterFunc(prometheus.CounterOpts{
		Name:        "job_queue_dropped_total",
		Help:        "Jobs dropped after exhausting their retries",
		ConstLabels: labels,
	}, func() float64 {
		return float64(stats().Dropped)
	})
	if err := m.registry.Register(depth); err != nil {
		return fmt.Errorf("register queue depth for %s: %w", name, err)
	}
	if err := m.registry.Register(dropped); err != nil {
		m.registry.Unregister(depth)
		return fmt.Errorf("register queue drops for %s: %w", name, err)
	}
	return nil
}
