package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "medassoc_http_requests_total",
			Help: "HTTP requests by route and status",
		},
		[]string{"method", "route", "status"},
	)

	httpDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "medassoc_http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	registrations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "medassoc_registrations_total",
			Help: "Registration attempts by account type and outcome",
		},
		[]string{"account_type", "outcome"},
	)

	membershipChanges = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "medassoc_membership_changes_total",
			Help: "Membership verifications, renewals and upgrades",
		},
		[]string{"operation"},
	)

	rateLimited = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "medassoc_rate_limited_total",
			Help: "Requests rejected by the rate limiter",
		},
		[]string{"scope"},
	)

	eventStatusChanges = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "medassoc_event_status_changes_total",
			Help: "Admin status changes on events, webinars and workshops",
		},
		[]string{"kind", "status"},
	)

	cleanupRemoved = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "medassoc_cleanup_records_total",
			Help: "Records removed or expired by the daily cleanup",
		},
		[]string{"kind"},
	)
)

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

func ObserveHTTP(method, route string, status int, elapsed time.Duration) {
	httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	httpDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

// Registration outcomes
const (
	OutcomeCreated   = "created"
	OutcomeDuplicate = "duplicate"
	OutcomeInvalid   = "invalid"
	OutcomeError     = "error"
)

func RecordRegistration(accountType, outcome string) {
	registrations.WithLabelValues(accountType, outcome).Inc()
}

func RecordMembershipChange(operation string) {
	membershipChanges.WithLabelValues(operation).Inc()
}

func RecordRateLimited(scope string) {
	rateLimited.WithLabelValues(scope).Inc()
}

func RecordStatusChange(kind, status string) {
	eventStatusChanges.WithLabelValues(kind, status).Inc()
}

func RecordCleanup(kind string, n int) {
	if n > 0 {
		cleanupRemoved.WithLabelValues(kind).Add(float64(n))
	}
}
