package service

import (
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsService encapsulates Prometheus instrumentation.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	transitionTotal *prometheus.CounterVec
	notifyOutcome   *prometheus.CounterVec
	outboxSweep     prometheus.Histogram
}

// NewMetricsService registers core Prometheus collectors.
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

	transitionTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "request_transitions_total",
		Help: "Total lifecycle transitions applied to internship requests",
	}, []string{"to_status"})

	notifyOutcome := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "notification_outcomes_total",
		Help: "Delivery outcomes of notification outbox tasks",
	}, []string{"outcome"})

	outboxSweep := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "notification_sweep_duration_seconds",
		Help:    "Duration of one notification outbox sweep",
		Buckets: prometheus.DefBuckets,
	})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, transitionTotal, notifyOutcome, outboxSweep, goroutines)

	return &MetricsService{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestDuration: requestDuration,
		requestTotal:    requestTotal,
		transitionTotal: transitionTotal,
		notifyOutcome:   notifyOutcome,
		outboxSweep:     outboxSweep,
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

// ObserveHTTPRequest records request metrics.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := fmt.Sprintf("%d", status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
}

// ObserveTransition counts one applied lifecycle transition.
func (m *MetricsService) ObserveTransition(toStatus string) {
	if m == nil {
		return
	}
	m.transitionTotal.WithLabelValues(toStatus).Inc()
}

// ObserveNotificationOutcome counts one dispatcher delivery outcome.
func (m *MetricsService) ObserveNotificationOutcome(outcome string) {
	if m == nil {
		return
	}
	m.notifyOutcome.WithLabelValues(outcome).Inc()
}

// ObserveSweep records the duration of one outbox sweep.
func (m *MetricsService) ObserveSweep(duration time.Duration) {
	if m == nil {
		return
	}
	m.outboxSweep.Observe(duration.Seconds())
}
