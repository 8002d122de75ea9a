package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects Prometheus metrics for the application.
type Metrics struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	otpTotal        *prometheus.CounterVec
	gateTotal       *prometheus.CounterVec
	permissionTotal *prometheus.CounterVec
}

// NewMetrics initialises the registry and the base collectors.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gatekeeper_http_requests_total",
		Help: "HTTP requests by route and status code.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "gatekeeper_http_request_duration_seconds",
		Help:    "HTTP request latency per route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	otp := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gatekeeper_otp_total",
		Help: "OTP issuance and verification outcomes.",
	}, []string{"stage", "outcome"})
	gate := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gatekeeper_gate_decisions_total",
		Help: "Request gate decisions.",
	}, []string{"decision"})
	permission := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gatekeeper_permission_checks_total",
		Help: "Permission gate decisions by module and capability.",
	}, []string{"module", "capability", "decision"})
	registry.MustRegister(requests, duration, otp, gate, permission)
	return &Metrics{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:   requests,
		requestDuration: duration,
		otpTotal:        otp,
		gateTotal:       gate,
		permissionTotal: permission,
	}
}

// Handler returns the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Middleware records request count and latency.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(&recorder, r)
		route := routePattern(r)
		m.requestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
		m.requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// ObserveOTP counts an issuance or verification outcome.
func (m *Metrics) ObserveOTP(stage, outcome string) {
	if m == nil {
		return
	}
	m.otpTotal.WithLabelValues(stage, outcome).Inc()
}

// ObserveGate counts a request gate decision.
func (m *Metrics) ObserveGate(decision string) {
	if m == nil {
		return
	}
	m.gateTotal.WithLabelValues(decision).Inc()
}

// ObservePermission counts a permission gate decision.
func (m *Metrics) ObservePermission(module, capability, decision string) {
	if m == nil {
		return
	}
	m.permissionTotal.WithLabelValues(module, capability, decision).Inc()
}

// Registerer exposes the registry for custom collectors.
func (m *Metrics) Registerer() prometheus.Registerer {
	if m == nil {
		return prometheus.DefaultRegisterer
	}
	return m.registry
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func routePattern(r *http.Request) string {
	if routeCtx := chi.RouteContext(r.Context()); routeCtx != nil {
		if pattern := routeCtx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unknown"
}
