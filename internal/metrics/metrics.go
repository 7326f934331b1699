// Package metrics provides Prometheus instrumentation for the fraud service.
package metrics

import (
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// EvaluationsTotal counts completed evaluation passes by resulting risk level.
	EvaluationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fraud",
			Name:      "evaluations_total",
			Help:      "Total evaluation passes by resulting risk level.",
		},
		[]string{"risk_level"},
	)

	// EvaluationErrorsTotal counts abandoned evaluation passes.
	EvaluationErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "fraud",
			Name:      "evaluation_errors_total",
			Help:      "Total evaluation passes rolled back on error.",
		},
	)

	// EvaluationDuration observes the latency of a full pass.
	EvaluationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "fraud",
			Name:      "evaluation_duration_seconds",
			Help:      "Evaluation pass duration in seconds.",
			Buckets:   []float64{.001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"trigger"},
	)

	// AnomaliesTotal counts persisted anomalies by type and severity.
	AnomaliesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fraud",
			Name:      "anomalies_total",
			Help:      "Total anomalies recorded by type and severity.",
		},
		[]string{"type", "severity"},
	)

	// AlertsTotal counts created alerts by severity and origin.
	AlertsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fraud",
			Name:      "alerts_total",
			Help:      "Total alerts created by severity and origin.",
		},
		[]string{"severity", "origin"},
	)

	// BatchItemsTotal counts items of bulk operations by result.
	BatchItemsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fraud",
			Name:      "batch_items_total",
			Help:      "Total bulk operation items by operation and result.",
		},
		[]string{"operation", "result"},
	)

	// AuditFailuresTotal counts audit entries a sink failed to record.
	AuditFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fraud",
			Name:      "audit_failures_total",
			Help:      "Total audit entries that could not be recorded, by sink.",
		},
		[]string{"sink"},
	)

	// ConsumedEventsTotal counts transaction events read from Kafka by result.
	ConsumedEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fraud",
			Name:      "consumed_events_total",
			Help:      "Total transaction-created events consumed by result.",
		},
		[]string{"result"},
	)

	// HTTPRequestsTotal counts HTTP requests on the operational surface.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fraud",
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by method, path pattern, and status code.",
		},
		[]string{"method", "path", "status"},
	)
)

func init() {
	prometheus.MustRegister(
		EvaluationsTotal,
		EvaluationErrorsTotal,
		EvaluationDuration,
		AnomaliesTotal,
		AlertsTotal,
		BatchItemsTotal,
		AuditFailuresTotal,
		ConsumedEventsTotal,
		HTTPRequestsTotal,
	)
}

// ObserveEvaluation records one committed pass
func ObserveEvaluation(trigger, riskLevel string, d time.Duration) {
	EvaluationsTotal.WithLabelValues(riskLevel).Inc()
	EvaluationDuration.WithLabelValues(trigger).Observe(d.Seconds())
}

// BatchItem records one item of a bulk operation
func BatchItem(operation string, ok bool) {
	result := "ok"
	if !ok {
		result = "failed"
	}
	BatchItemsTotal.WithLabelValues(operation, result).Inc()
}

// Middleware records request counts for the echo server.
func Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			err := next(c)
			status := c.Response().Status
			if err != nil {
				if he, ok := err.(*echo.HTTPError); ok {
					status = he.Code
				}
			}
			path := c.Path()
			if path == "" {
				path = "unmatched"
			}
			HTTPRequestsTotal.WithLabelValues(c.Request().Method, path, statusBucket(status)).Inc()
			return err
		}
	}
}

// Handler returns the echo handler serving /metrics.
func Handler() echo.HandlerFunc {
	return echo.WrapHandler(promhttp.Handler())
}

// statusBucket collapses status codes into classes (2xx, 4xx, ...).
func statusBucket(code int) string {
	if code < 100 || code > 599 {
		return strconv.Itoa(code)
	}
	return strconv.Itoa(code/100) + "xx"
}
