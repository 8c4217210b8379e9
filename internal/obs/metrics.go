package obs

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HTTP metrics shared by all handlers.
var (
	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)

// Domain metrics.
var (
	loginAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentra_login_attempts_total",
			Help: "Login attempts by outcome.",
		},
		[]string{"outcome"},
	)

	twoFactorLockouts = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sentra_2fa_lockouts_total",
		Help: "Sessions locked out after too many 2FA attempts.",
	})

	accessTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentra_access_request_transitions_total",
			Help: "JIT access request status transitions.",
		},
		[]string{"to"},
	)

	reconcilerSweeps = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sentra_reconciler_sweeps_total",
		Help: "Completed expiry reconciler sweeps.",
	})

	reconcilerExpired = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sentra_reconciler_expired_total",
		Help: "Access requests transitioned to EXPIRED by the reconciler.",
	})
)

// Init registers metrics in the default registry.
func Init() {
	prometheus.MustRegister(
		httpInFlight, httpRequestsTotal, httpRequestDuration,
		loginAttempts, twoFactorLockouts, accessTransitions,
		reconcilerSweeps, reconcilerExpired,
	)
}

// Handler exposes the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveLogin records a login attempt outcome (ok, invalid, blocked, unverified).
func ObserveLogin(outcome string) { loginAttempts.WithLabelValues(outcome).Inc() }

// ObserveLockout records a 2FA lockout.
func ObserveLockout() { twoFactorLockouts.Inc() }

// ObserveTransition records a JIT status transition.
func ObserveTransition(to string) { accessTransitions.WithLabelValues(to).Inc() }

// ObserveSweep records one reconciler pass and how many requests it expired.
func ObserveSweep(expired int) {
	reconcilerSweeps.Inc()
	reconcilerExpired.Add(float64(expired))
}

// Instrument wraps a handler with RPS/latency/in-flight measurement.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Path
		method := r.Method

		httpInFlight.Inc()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: 200}
		next.ServeHTTP(sw, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(sw.code)

		httpRequestDuration.WithLabelValues(method, path, status).Observe(duration)
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		httpInFlight.Dec()
	})
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
