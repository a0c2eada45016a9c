// Package metrics defines the Prometheus instruments for the club directory.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome labels.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomeError   = "error"
)

// Metrics tracks service operations, membership changes and cache efficiency.
type Metrics struct {
	Operations        *prometheus.CounterVec
	OperationDuration *prometheus.HistogramVec
	MembershipChanges *prometheus.CounterVec
	ReviewsSubmitted  *prometheus.CounterVec
	CacheLookups      *prometheus.CounterVec
	HTTPRequests      *prometheus.CounterVec
}

// New registers all instruments with reg. Pass prometheus.DefaultRegisterer
// in production and a fresh prometheus.NewRegistry() in tests.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Operations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "clubdir_operations_total",
			Help: "Service operations by name and outcome",
		}, []string{"service", "operation", "outcome"}),
		OperationDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "clubdir_operation_duration_seconds",
			Help:    "Duration of service operations",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"service", "operation"}),
		MembershipChanges: f.NewCounterVec(prometheus.CounterOpts{
			Name: "clubdir_membership_changes_total",
			Help: "Join and leave attempts by result code",
		}, []string{"action", "result"}),
		ReviewsSubmitted: f.NewCounterVec(prometheus.CounterOpts{
			Name: "clubdir_reviews_submitted_total",
			Help: "Review upserts split into created and updated",
		}, []string{"kind"}),
		CacheLookups: f.NewCounterVec(prometheus.CounterOpts{
			Name: "clubdir_identity_cache_lookups_total",
			Help: "Identity cache lookups by result",
		}, []string{"result"}),
		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "clubdir_http_requests_total",
			Help: "HTTP requests by route pattern and status class",
		}, []string{"method", "route", "status"}),
	}
}

// ObserveOperation records one service call.
func (m *Metrics) ObserveOperation(service, operation, outcome string, start time.Time) {
	if m == nil {
		return
	}
	m.Operations.WithLabelValues(service, operation, outcome).Inc()
	m.OperationDuration.WithLabelValues(service, operation).Observe(time.Since(start).Seconds())
}

// RecordMembership counts a join or leave attempt.
func (m *Metrics) RecordMembership(action, result string) {
	if m == nil {
		return
	}
	m.MembershipChanges.WithLabelValues(action, result).Inc()
}

// RecordReview counts an upsert as created or updated.
func (m *Metrics) RecordReview(created bool) {
	if m == nil {
		return
	}
	kind := "updated"
	if created {
		kind = "created"
	}
	m.ReviewsSubmitted.WithLabelValues(kind).Inc()
}

// RecordCache counts cache hits and misses.
func (m *Metrics) RecordCache(hits, misses int) {
	if m == nil {
		return
	}
	m.CacheLookups.WithLabelValues("hit").Add(float64(hits))
	m.CacheLookups.WithLabelValues("miss").Add(float64(misses))
}

// RecordHTTP counts a served request.
func (m *Metrics) RecordHTTP(method, route string, status int) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, route, statusClass(status)).Inc()
}

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
