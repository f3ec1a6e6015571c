package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/FACorreiaa/tenant-ledger/pkg/httpx"
	"github.com/FACorreiaa/tenant-ledger/pkg/interceptors"
)

var (
	// RequestsTotal tracks total number of HTTP requests
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "code"},
	)

	// RequestDuration tracks request duration
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ledger_http_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	// ActiveRequests tracks currently active requests
	ActiveRequests = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ledger_http_active_requests",
			Help: "Number of active HTTP requests",
		},
	)

	// StagedRecords counts records staged for review, by duplicate status.
	StagedRecords = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_import_staged_records_total",
			Help: "Records staged for review by duplicate status",
		},
		[]string{"format", "status"},
	)

	// ParseErrors counts rows or documents a parser could not read.
	ParseErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_import_parse_errors_total",
			Help: "Parse errors reported during uploads",
		},
		[]string{"format"},
	)

	// ReviewOutcomes counts records accepted into or rejected from the ledger.
	ReviewOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_import_review_outcomes_total",
			Help: "Staged records resolved by completion or discard",
		},
		[]string{"outcome"},
	)
)

// NewMetricsMiddleware collects Prometheus metrics per route template.
func NewMetricsMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ActiveRequests.Inc()
			defer ActiveRequests.Dec()

			start := time.Now()
			rec := httpx.NewStatusRecorder(w)

			next.ServeHTTP(rec, r)

			route := interceptors.RoutePattern(r)
			RequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
			RequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rec.Status)).Inc()
		})
	}
}

// RecordUpload adds the classification counts of one upload.
func RecordUpload(format string, newCount, exact, potential, parseErrors int) {
	StagedRecords.WithLabelValues(format, "new").Add(float64(newCount))
	StagedRecords.WithLabelValues(format, "exact_duplicate").Add(float64(exact))
	StagedRecords.WithLabelValues(format, "potential_duplicate").Add(float64(potential))
	ParseErrors.WithLabelValues(format).Add(float64(parseErrors))
}

// RecordReview adds the outcome of a completion or discard.
func RecordReview(accepted, rejected int) {
	ReviewOutcomes.WithLabelValues("accepted").Add(float64(accepted))
	ReviewOutcomes.WithLabelValues("rejected").Add(float64(rejected))
}
