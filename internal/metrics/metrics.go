// Package metrics holds the Prometheus collectors of the gallery service.
package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "omoide"

// Metrics owns a registry so tests can create independent instances.
// All recording methods are safe on a nil receiver.
type Metrics struct {
	Registry *prometheus.Registry

	httpInFlight      prometheus.Gauge
	httpRequests      *prometheus.CounterVec
	httpDuration      *prometheus.HistogramVec
	galleriesCreated  prometheus.Counter
	slotResults       *prometheus.CounterVec
	generationSeconds *prometheus.HistogramVec
	metadataConflicts prometheus.Counter
	sweepRuns         *prometheus.CounterVec
	sweepDeleted      prometheus.Counter
	sweepFailed       prometheus.Counter
	printOrders       *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		httpInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
		}, []string{"method", "route"}),
		galleriesCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gallery",
			Name:      "created_total",
			Help:      "Galleries created.",
		}),
		slotResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "generation",
			Name:      "slot_results_total",
			Help:      "Image slot outcomes by status.",
		}, []string{"status"}),
		generationSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "generation",
			Name:      "duration_seconds",
			Help:      "Time from slot start to its outcome.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 9),
		}, []string{"mode"}),
		metadataConflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gallery",
			Name:      "metadata_conflicts_total",
			Help:      "Metadata updates that gave up after repeated concurrent writes.",
		}),
		sweepRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cleanup",
			Name:      "runs_total",
			Help:      "Expiry sweeps by outcome.",
		}, []string{"success"}),
		sweepDeleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cleanup",
			Name:      "objects_deleted_total",
			Help:      "Objects of expired galleries removed.",
		}),
		sweepFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cleanup",
			Name:      "failures_total",
			Help:      "Objects or galleries the sweep could not remove.",
		}),
		printOrders: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "prodigi",
			Name:      "requests_total",
			Help:      "Print fulfilment calls by action and outcome.",
		}, []string{"action", "success"}),
	}

	m.Registry.MustRegister(
		m.httpInFlight,
		m.httpRequests,
		m.httpDuration,
		m.galleriesCreated,
		m.slotResults,
		m.generationSeconds,
		m.metadataConflicts,
		m.sweepRuns,
		m.sweepDeleted,
		m.sweepFailed,
		m.printOrders,
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)
	return m
}

// Handler exposes the registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

// Middleware records request counts and latency labelled by chi route pattern.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		m.httpInFlight.Inc()
		defer m.httpInFlight.Dec()

		next.ServeHTTP(rec, r)

		route := routePattern(r)
		method := strings.ToUpper(r.Method)
		m.httpRequests.WithLabelValues(method, route, strconv.Itoa(rec.status)).Inc()
		m.httpDuration.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
	})
}

func (m *Metrics) GalleryCreated() {
	if m == nil {
		return
	}
	m.galleriesCreated.Inc()
}

// SlotFinished records a slot outcome (completed, failed, submitted).
func (m *Metrics) SlotFinished(mode, status string, took time.Duration) {
	if m == nil {
		return
	}
	m.slotResults.WithLabelValues(status).Inc()
	m.generationSeconds.WithLabelValues(mode).Observe(took.Seconds())
}

func (m *Metrics) MetadataConflict() {
	if m == nil {
		return
	}
	m.metadataConflicts.Inc()
}

func (m *Metrics) SweepFinished(success bool, deleted, failed int) {
	if m == nil {
		return
	}
	m.sweepRuns.WithLabelValues(strconv.FormatBool(success)).Inc()
	m.sweepDeleted.Add(float64(deleted))
	m.sweepFailed.Add(float64(failed))
}

func (m *Metrics) PrintRequest(action string, success bool) {
	if m == nil {
		return
	}
	m.printOrders.WithLabelValues(action, strconv.FormatBool(success)).Inc()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// routePattern keeps label cardinality bounded: gallery IDs never become labels.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unmatched"
}
