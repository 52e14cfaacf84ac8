package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BuildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "flowdrop_api_build_info",
			Help: "Build information of the FlowDrop API",
		},
		[]string{"version", "commit", "date"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flowdrop_api_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "flowdrop_api_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	HTTPRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "flowdrop_api_http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed",
		},
	)

	// Scoring metrics
	PostsScoredTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flowdrop_api_posts_scored_total",
			Help: "Total number of posts scored, by evaluator path",
		},
		[]string{"evaluator"},
	)

	ScoringFallbacksTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "flowdrop_api_scoring_fallbacks_total",
			Help: "Total number of failovers from the primary evaluator to the rule evaluator",
		},
	)

	ScoreDistribution = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "flowdrop_api_post_total_score",
			Help:    "Distribution of weighted post total scores",
			Buckets: prometheus.LinearBuckets(0, 10, 11),
		},
	)

	// Anthropic API metrics
	AnthropicRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flowdrop_api_anthropic_requests_total",
			Help: "Total number of Anthropic API requests",
		},
		[]string{"endpoint", "status"},
	)

	AnthropicRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "flowdrop_api_anthropic_request_duration_seconds",
			Help:    "Duration of Anthropic API requests in seconds",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12), // 100ms to ~410s
		},
		[]string{"endpoint"},
	)

	AnthropicTokensTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flowdrop_api_anthropic_tokens_total",
			Help: "Total number of Anthropic API tokens used",
		},
		[]string{"type"}, // "input" or "output"
	)

	// Stream metrics
	SnapshotRefreshTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flowdrop_api_snapshot_refresh_total",
			Help: "Total number of pool snapshot refreshes",
		},
		[]string{"status"},
	)

	UnitSubmissionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flowdrop_api_unit_submissions_total",
			Help: "Total number of distributor unit update submissions",
		},
		[]string{"status"},
	)

	LiveStreamsGauge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "flowdrop_api_live_streams",
			Help: "Number of live balance subscriptions currently open",
		},
	)
)

// Middleware returns a chi middleware that records HTTP metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		HTTPRequestsInFlight.Inc()
		defer HTTPRequestsInFlight.Dec()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		// Use the route pattern if available, otherwise use the path
		path := chi.RouteContext(r.Context()).RoutePattern()
		if path == "" {
			path = r.URL.Path
		}

		status := strconv.Itoa(ww.Status())
		duration := time.Since(start).Seconds()

		HTTPRequestsTotal.WithLabelValues(r.Method, path, status).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// RecordAnthropicRequest records metrics for an Anthropic API request.
func RecordAnthropicRequest(endpoint string, duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	AnthropicRequestsTotal.WithLabelValues(endpoint, status).Inc()
	AnthropicRequestDuration.WithLabelValues(endpoint).Observe(duration.Seconds())
}

// RecordAnthropicTokens records token usage for an Anthropic API request.
func RecordAnthropicTokens(inputTokens, outputTokens int64) {
	AnthropicTokensTotal.WithLabelValues("input").Add(float64(inputTokens))
	AnthropicTokensTotal.WithLabelValues("output").Add(float64(outputTokens))
}

// RecordPostScored records a completed scoring call.
func RecordPostScored(evaluator string, totalScore float64) {
	PostsScoredTotal.WithLabelValues(evaluator).Inc()
	ScoreDistribution.Observe(totalScore)
}

// RecordSnapshotRefresh records a pool snapshot fetch outcome.
func RecordSnapshotRefresh(status string) {
	SnapshotRefreshTotal.WithLabelValues(status).Inc()
}

// RecordUnitSubmission records a distributor unit update outcome.
func RecordUnitSubmission(err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	UnitSubmissionsTotal.WithLabelValues(status).Inc()
}
