package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusBucket(t *testing.T) {
	tests := []struct {
		code int
		want string
	}{
		{200, "2xx"},
		{201, "2xx"},
		{301, "3xx"},
		{404, "4xx"},
		{503, "5xx"},
		{42, "42"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, statusBucket(tt.code), "code=%d", tt.code)
	}
}

func TestBatchItem(t *testing.T) {
	before := testutil.ToFloat64(BatchItemsTotal.WithLabelValues("bulk_block", "failed"))
	BatchItem("bulk_block", false)
	BatchItem("bulk_block", true)
	assert.Equal(t, before+1, testutil.ToFloat64(BatchItemsTotal.WithLabelValues("bulk_block", "failed")))
}

func TestObserveEvaluation(t *testing.T) {
	before := testutil.ToFloat64(EvaluationsTotal.WithLabelValues("CRITICAL"))
	ObserveEvaluation("ingest", "CRITICAL", 3*time.Millisecond)
	assert.Equal(t, before+1, testutil.ToFloat64(EvaluationsTotal.WithLabelValues("CRITICAL")))
}

func TestMetricsEndpoint(t *testing.T) {
	e := echo.New()
	e.Use(Middleware())
	e.GET("/metrics", Handler())

	ObserveEvaluation("ingest", "LOW", time.Millisecond)

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "fraud_evaluations_total")
	assert.Contains(t, rec.Body.String(), "fraud_evaluation_duration_seconds")
}
