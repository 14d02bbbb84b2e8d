package metrics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric/noop"
)

func TestFilterAttributesDropsForbiddenLabels(t *testing.T) {
	attrs := FilterAttributes(
		attribute.String("org_id", "org-1"),
		attribute.String("serial", "HAILO-A001-123456"),
		attribute.String("reason", "exhausted"),
	)
	if len(attrs) != 2 {
		t.Fatalf("expected 2 attributes, got %d", len(attrs))
	}
	for _, attr := range attrs {
		if attr.Key == "serial" {
			t.Fatalf("serial must not be used as a label")
		}
	}
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	ctx := context.Background()
	m.RecordTokenIssued(ctx, "org")
	m.RecordHandshake(ctx, "CONFIG_ISSUED", "", time.Millisecond)
	m.RecordReportIngested(ctx, "nested", false)
	m.RecordIngestRejected(ctx, "not_found")
	m.RecordDeviceTokenMismatch(ctx)
	m.RecordRateLimitAllowed(ctx, "/ingest")
	m.RecordRateLimitDenied(ctx, "/ingest", "serial-rate")
}

func TestNewWithNoopProvider(t *testing.T) {
	m, err := New(Config{ServiceName: "edgecount"}, noop.NewMeterProvider())
	require.NoError(t, err)
	m.RecordHandshake(context.Background(), "REJECTED", "expired", time.Second)
}

func TestHTTPMetricsCountsRequests(t *testing.T) {
	gin.SetMode(gin.TestMode)
	reg := prometheus.NewRegistry()
	m, err := NewHTTPMetrics(reg)
	require.NoError(t, err)

	r := gin.New()
	r.Use(GinMiddleware(m))
	r.POST("/ingest", func(c *gin.Context) { c.Status(http.StatusOK) })

	for i := 0; i < 3; i++ {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/ingest", nil))
	}
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/nope", nil))

	var out dto.Metric
	require.NoError(t, m.requests.WithLabelValues(http.MethodPost, "/ingest", "200").Write(&out))
	assert.Equal(t, float64(3), out.GetCounter().GetValue())

	out.Reset()
	require.NoError(t, m.requests.WithLabelValues(http.MethodGet, "unknown", "404").Write(&out))
	assert.Equal(t, float64(1), out.GetCounter().GetValue())
}
