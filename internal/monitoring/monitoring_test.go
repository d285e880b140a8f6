package monitoring

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARN":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"info":    slog.LevelInfo,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range tests {
		assert.Equal(t, want, ParseLevel(in), in)
	}
}

func TestLogger_WritesRFC3339Timestamp(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerTo(&buf, slog.LevelInfo)

	logger.PredictionLogger("v1.0.0", 0.58, "Amber", "X1_Heritage_Harm", 12*time.Millisecond, false)

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "Prediction Completed", entry["msg"])
	assert.Equal(t, "Amber", entry["rating"])
	assert.Contains(t, entry, "timestamp")
	assert.NotContains(t, entry, "time")

	_, err := time.Parse(time.RFC3339, entry["timestamp"].(string))
	assert.NoError(t, err)
}

func TestLogger_ExtractionLevels(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerTo(&buf, slog.LevelInfo)

	logger.ExtractionLogger("ps", "text/plain", true, 120, "")
	assert.Empty(t, buf.String(), "successful extraction logs at debug")

	logger.ExtractionLogger("cr", "image/png", false, 0, "unsupported content type")
	assert.Contains(t, buf.String(), "Document Extraction Failed")
	assert.Contains(t, buf.String(), `"level":"WARN"`)

	buf.Reset()
	logger.SetLevel(slog.LevelDebug)
	logger.ExtractionLogger("ps", "text/plain", true, 120, "")
	assert.Contains(t, buf.String(), "Document Extracted")
}

func TestMetrics(t *testing.T) {
	m := NewMetrics()

	m.IncrementRequest()
	m.IncrementRequest()
	m.IncrementError()
	m.IncrementCacheHit()
	m.IncrementCacheMiss()
	m.RecordPrediction("Amber")
	m.RecordPrediction("Amber")
	m.RecordPrediction("Green")
	m.RecordDocument(true)
	m.RecordDocument(false)
	m.IncrementBatchRuns()
	m.RecordResponseTime(10 * time.Millisecond)
	m.RecordRequestByStatus(200)
	m.CollectRuntime()

	stats := m.GetStats()
	assert.Equal(t, int64(2), stats["total_requests"])
	assert.Equal(t, 50.0, stats["error_rate_percent"])
	assert.Equal(t, 50.0, stats["cache_hit_rate_percent"])
	assert.Equal(t, int64(3), stats["predictions"])
	assert.Equal(t, map[string]int64{"Amber": 2, "Green": 1}, stats["rating_distribution"])
	assert.Equal(t, int64(2), stats["documents_scored"])
	assert.Equal(t, int64(1), stats["extraction_failures"])
	assert.Equal(t, int64(1), stats["batch_runs"])
	assert.Greater(t, stats["go_heap_sys_bytes"], int64(0))

	m.Reset()
	stats = m.GetStats()
	assert.Equal(t, int64(0), stats["total_requests"])
	assert.Empty(t, stats["rating_distribution"])
}

func TestGetPercentileResponseTime(t *testing.T) {
	m := NewMetrics()
	assert.Equal(t, time.Duration(0), m.GetPercentileResponseTime(50))

	for i := 1; i <= 100; i++ {
		m.RecordResponseTime(time.Duration(i) * time.Millisecond)
	}
	assert.Equal(t, 50*time.Millisecond, m.GetPercentileResponseTime(50))
	assert.Equal(t, 100*time.Millisecond, m.GetPercentileResponseTime(100))
}

func TestMonitoringMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)

	var buf bytes.Buffer
	logger := NewLoggerTo(&buf, slog.LevelInfo)
	metrics := NewMetrics()

	r := gin.New()
	r.Use(MonitoringMiddleware(metrics, logger))
	r.GET("/ok", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/bad", func(c *gin.Context) { c.Status(http.StatusBadRequest) })

	for _, path := range []string{"/ok", "/bad"} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	}

	assert.Equal(t, int64(2), metrics.RequestCount)
	assert.Equal(t, int64(1), metrics.ErrorCount)
	assert.Equal(t, map[int]int64{200: 1, 400: 1}, metrics.GetStatusCodeDistribution())
	assert.Equal(t, 2, strings.Count(buf.String(), "HTTP Request"))
}

func TestSecurityMonitoringMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)

	var buf bytes.Buffer
	logger := NewLoggerTo(&buf, slog.LevelInfo)

	r := gin.New()
	r.Use(SecurityMonitoringMiddleware(logger, 1024))
	r.GET("/model", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/model", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, buf.String())

	req := httptest.NewRequest(http.MethodGet, "/model?q=1%20UNION%20SELECT%20x", nil)
	req.Header.Set("User-Agent", "sqlmap/1.7")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, buf.String(), "suspicious_activity_detected")
}

func TestSecurityMonitoringMiddleware_ReportsEverySignal(t *testing.T) {
	gin.SetMode(gin.TestMode)

	var buf bytes.Buffer
	r := gin.New()
	r.Use(SecurityMonitoringMiddleware(NewLoggerTo(&buf, slog.LevelInfo), 4))
	r.POST("/analyze", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodPost, "/analyze?x=drop%20table", strings.NewReader("0123456789"))
	req.Header.Set("User-Agent", "nikto")
	r.ServeHTTP(httptest.NewRecorder(), req)

	out := buf.String()
	for _, signal := range []string{"potential_sql_injection", "large_request_body", "suspicious_user_agent"} {
		assert.Contains(t, out, signal)
	}
}
