package cache

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingMetrics struct {
	hits, misses int64
}

func (m *countingMetrics) IncrementCacheHit()  { atomic.AddInt64(&m.hits, 1) }
func (m *countingMetrics) IncrementCacheMiss() { atomic.AddInt64(&m.misses, 1) }

func TestCache_GetSetExpiry(t *testing.T) {
	c := NewCache(50*time.Millisecond, "v1")
	defer c.Close()

	c.Set("k", []byte("value"))
	got, ok := c.Get("k")
	require.True(t, ok)
	assert.Equal(t, []byte("value"), got)
	assert.Equal(t, 1, c.Size())

	time.Sleep(80 * time.Millisecond)
	_, ok = c.Get("k")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Size())
}

func TestCache_KeyIncludesNamespaceAndPath(t *testing.T) {
	a := NewCache(time.Minute, "model-v1")
	b := NewCache(time.Minute, "model-v2")
	defer a.Close()
	defer b.Close()

	body := []byte(`{"ps_text":"x"}`)
	assert.Equal(t, a.Key("/analyze", body), a.Key("/analyze", body))
	assert.NotEqual(t, a.Key("/analyze", body), b.Key("/analyze", body))
	assert.NotEqual(t, a.Key("/analyze", body), a.Key("/predict", body))
}

func TestCache_Middleware(t *testing.T) {
	gin.SetMode(gin.TestMode)

	c := NewCache(time.Minute, "v1")
	defer c.Close()
	metrics := &countingMetrics{}

	var calls int64
	r := gin.New()
	r.Use(c.Middleware(metrics, "/analyze"))
	r.POST("/analyze", func(ctx *gin.Context) {
		atomic.AddInt64(&calls, 1)
		ctx.JSON(http.StatusOK, gin.H{"rating": "Amber"})
	})
	r.POST("/other", func(ctx *gin.Context) {
		atomic.AddInt64(&calls, 1)
		ctx.JSON(http.StatusOK, gin.H{})
	})
	r.POST("/fails", func(ctx *gin.Context) {
		ctx.JSON(http.StatusBadRequest, gin.H{})
	})

	do := func(path, body string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
		r.ServeHTTP(w, req)
		return w
	}

	first := do("/analyze", `{"a":1}`)
	assert.Equal(t, "MISS", first.Header().Get("X-Cache"))
	second := do("/analyze", `{"a":1}`)
	assert.Equal(t, "HIT", second.Header().Get("X-Cache"))
	assert.JSONEq(t, first.Body.String(), second.Body.String())
	assert.Equal(t, int64(1), atomic.LoadInt64(&calls))

	do("/analyze", `{"a":2}`)
	assert.Equal(t, int64(2), atomic.LoadInt64(&calls))

	do("/other", `{"a":1}`)
	do("/other", `{"a":1}`)
	assert.Equal(t, int64(4), atomic.LoadInt64(&calls))

	assert.Equal(t, int64(1), metrics.hits)
	assert.Equal(t, int64(2), metrics.misses)

	c.Clear()
	assert.Equal(t, 0, c.Size())
	stats := c.Stats()
	assert.Equal(t, "v1", stats["namespace"])
}

func TestCache_Sweep(t *testing.T) {
	c := NewCache(time.Minute, "v1")
	defer c.Close()

	c.Set("a", []byte("1"))
	c.Set("b", []byte("22"))
	assert.Equal(t, 3, c.Stats()["bytes"])

	assert.Equal(t, 0, c.sweep(time.Now()))
	assert.Equal(t, 2, c.sweep(time.Now().Add(2*time.Minute)))
	assert.Equal(t, 0, c.Size())
}

func TestCache_MiddlewareNoCacheRefreshes(t *testing.T) {
	gin.SetMode(gin.TestMode)

	c := NewCache(time.Minute, "v1")
	defer c.Close()
	metrics := &countingMetrics{}

	var calls int64
	r := gin.New()
	r.Use(c.Middleware(metrics, "/predict"))
	r.POST("/predict", func(ctx *gin.Context) {
		n := atomic.AddInt64(&calls, 1)
		ctx.JSON(http.StatusOK, gin.H{"call": n})
	})

	do := func(noCache bool) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/predict", strings.NewReader(`{}`))
		if noCache {
			req.Header.Set("Cache-Control", "no-cache")
		}
		r.ServeHTTP(w, req)
		return w
	}

	do(false)
	refreshed := do(true)
	assert.Equal(t, "MISS", refreshed.Header().Get("X-Cache"))
	assert.JSONEq(t, `{"call":2}`, refreshed.Body.String())

	hit := do(false)
	assert.Equal(t, "HIT", hit.Header().Get("X-Cache"))
	assert.JSONEq(t, `{"call":2}`, hit.Body.String())
	assert.Equal(t, int64(2), atomic.LoadInt64(&calls))
}
