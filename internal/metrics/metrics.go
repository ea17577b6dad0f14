// Package metrics provides Prometheus metrics for the backend API.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTPRequestsTotal counts total HTTP requests by method, path, and status
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "lockbox",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests by method, path, and status code",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration measures HTTP request duration in seconds
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "lockbox",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path"},
	)

	// HTTPRequestsInFlight tracks current in-flight requests
	HTTPRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "lockbox",
			Subsystem: "http",
			Name:      "requests_in_flight",
			Help:      "Current number of HTTP requests being processed",
		},
	)
)

var (
	// LoginAttempts counts login attempts by outcome
	// (success, invalid_credentials, locked, error)
	LoginAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "lockbox",
			Subsystem: "auth",
			Name:      "login_attempts_total",
			Help:      "Total number of login attempts by outcome",
		},
		[]string{"outcome"},
	)

	// AccountLockouts counts transitions into the locked state
	AccountLockouts = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "lockbox",
			Subsystem: "auth",
			Name:      "account_lockouts_total",
			Help:      "Total number of accounts entering a lockout window",
		},
	)

	// SessionsRevoked counts revoked sessions by reason
	// (logout, revoke, revoke_all, password_change, password_reset)
	SessionsRevoked = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "lockbox",
			Subsystem: "auth",
			Name:      "sessions_revoked_total",
			Help:      "Total number of sessions revoked by reason",
		},
		[]string{"reason"},
	)

	// TokenRefreshes counts refresh attempts by outcome (success, invalid)
	TokenRefreshes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "lockbox",
			Subsystem: "auth",
			Name:      "token_refreshes_total",
			Help:      "Total number of access-token refresh attempts by outcome",
		},
		[]string{"outcome"},
	)

	// SingleUseTokensIssued counts issued single-use tokens by purpose
	SingleUseTokensIssued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "lockbox",
			Subsystem: "auth",
			Name:      "single_use_tokens_issued_total",
			Help:      "Total number of single-use tokens issued by purpose",
		},
		[]string{"purpose"},
	)

	// SingleUseTokensConsumed counts consumed single-use tokens by purpose
	SingleUseTokensConsumed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "lockbox",
			Subsystem: "auth",
			Name:      "single_use_tokens_consumed_total",
			Help:      "Total number of single-use tokens consumed by purpose",
		},
		[]string{"purpose"},
	)

	// AuditEventsDropped counts audit events discarded on a full buffer
	AuditEventsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "lockbox",
			Subsystem: "audit",
			Name:      "events_dropped_total",
			Help:      "Total number of audit events dropped because the buffer was full",
		},
	)

	// AuditWriteFailures counts audit sink write failures
	AuditWriteFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "lockbox",
			Subsystem: "audit",
			Name:      "write_failures_total",
			Help:      "Total number of failed audit event writes",
		},
	)
)

// Handler returns the Prometheus metrics HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware instruments HTTP requests with request count, duration, and
// in-flight gauges. The chi route pattern is used as the path label to keep
// cardinality bounded.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		HTTPRequestsInFlight.Inc()
		defer HTTPRequestsInFlight.Dec()

		ww := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)

		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				path = pattern
			}
		}

		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(ww.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}

// statusWriter captures the response status code
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}
