// Package metrics provides Prometheus instrumentation for the Tradegate validator.
package metrics

import (
	"context"
	"database/sql"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tradegate",
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by method, path pattern, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes request latency by method and path.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "tradegate",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// AssessmentsTotal counts trade assessments by final decision.
	AssessmentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tradegate",
			Name:      "assessments_total",
			Help:      "Total trade assessments by final decision.",
		},
		[]string{"decision"},
	)

	// AssessmentDuration observes end-to-end pipeline latency.
	AssessmentDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "tradegate",
		Name:      "assessment_duration_seconds",
		Help:      "Trade assessment pipeline duration in seconds.",
		Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
	})

	// MLOverridesTotal counts decisions reversed by the fraud classifier.
	MLOverridesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "tradegate",
		Name:      "ml_overrides_total",
		Help:      "Total approvals reversed by the fraud classifier.",
	})

	// FraudFlagsTotal counts trades flagged as fraudulent by risk level.
	FraudFlagsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tradegate",
			Name:      "fraud_flags_total",
			Help:      "Total trades flagged as fraudulent by classifier risk level.",
		},
		[]string{"risk_level"},
	)

	// FraudProbability observes classifier output distribution.
	FraudProbability = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "tradegate",
		Name:      "fraud_probability",
		Help:      "Distribution of fraud probabilities emitted by the classifier.",
		Buckets:   []float64{.01, .05, .1, .2, .3, .5, .7, .9},
	})

	// RiskThreshold tracks the current adaptive notional threshold.
	RiskThreshold = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "tradegate",
		Name:      "risk_threshold",
		Help:      "Current adaptive notional risk threshold in human units.",
	})

	// OracleErrorsTotal counts failed balance oracle lookups.
	OracleErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "tradegate",
		Name:      "oracle_errors_total",
		Help:      "Total balance oracle lookup failures (treated fail-closed).",
	})

	// AdvisorFallbacksTotal counts advisory responses that needed keyword fallback.
	AdvisorFallbacksTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "tradegate",
		Name:      "advisor_fallbacks_total",
		Help:      "Total advisory reasoner responses parsed via keyword fallback or discarded.",
	})

	// ActiveWebSocketClients tracks connected verdict-feed clients.
	ActiveWebSocketClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "tradegate",
			Name:      "active_websocket_clients",
			Help:      "Number of currently connected WebSocket clients.",
		},
	)

	// DBOpenConnections tracks open database connections.
	DBOpenConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "tradegate", Name: "db_open_connections",
		Help: "Number of open database connections.",
	})
	// DBInUseConnections tracks in-use database connections.
	DBInUseConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "tradegate", Name: "db_in_use_connections",
		Help: "Number of in-use database connections.",
	})
	// GoroutineCount tracks the current number of goroutines.
	GoroutineCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "tradegate", Name: "goroutines",
		Help: "Current number of goroutines.",
	})
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		AssessmentsTotal,
		AssessmentDuration,
		MLOverridesTotal,
		FraudFlagsTotal,
		FraudProbability,
		RiskThreshold,
		OracleErrorsTotal,
		AdvisorFallbacksTotal,
		ActiveWebSocketClients,
		DBOpenConnections,
		DBInUseConnections,
		GoroutineCount,
	)
}

// StartDBStatsCollector periodically samples sql.DBStats and runtime goroutine
// count into Prometheus gauges. Call in a goroutine; exits when ctx is done.
func StartDBStatsCollector(ctx context.Context, db *sql.DB, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := db.Stats()
			DBOpenConnections.Set(float64(stats.OpenConnections))
			DBInUseConnections.Set(float64(stats.InUse))
			GoroutineCount.Set(float64(runtime.NumGoroutine()))
		}
	}
}

// Middleware returns a gin middleware that records request metrics.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		timer := prometheus.NewTimer(HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(), // Uses route pattern, not actual path (avoids cardinality explosion)
		))

		c.Next()

		timer.ObserveDuration()
		HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			statusBucket(c.Writer.Status()),
		).Inc()
	}
}

// Handler returns the Prometheus metrics HTTP handler for /metrics endpoint.
func Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// statusBucket groups HTTP status codes into buckets (2xx, 3xx, 4xx, 5xx).
func statusBucket(code int) string {
	switch {
	case code < 200:
		return "1xx"
	case code < 300:
		return "2xx"
	case code < 400:
		return "3xx"
	case code < 500:
		return "4xx"
	default:
		return "5xx"
	}
}
