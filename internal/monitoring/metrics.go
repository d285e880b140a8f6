package monitoring

import (
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

const latencyWindowSize = 1000

// Metrics collects the counters served at /metrics. Scalar counters are
// atomic; the keyed distributions and latency window share one mutex.
type Metrics struct {
	RequestCount int64
	ErrorCount   int64
	CacheHits    int64
	CacheMisses  int64

	Predictions        int64
	DocumentsScored    int64
	ExtractionFailures int64
	BatchRuns          int64

	RateLimitIPBlocks      int64
	RateLimitRedisErrors   int64
	RateLimitFallbackCount int64

	mu        sync.RWMutex
	startTime time.Time
	byStatus  map[int]int64
	byRating  map[string]int64
	latencies latencyWindow
	mem       runtime.MemStats
}

// latencyWindow is a ring of the most recent response times.
type latencyWindow struct {
	samples []time.Duration
	next    int
	sum     time.Duration
}

func (w *latencyWindow) add(d time.Duration) {
	if len(w.samples) < latencyWindowSize {
		w.samples = append(w.samples, d)
		w.sum += d
		return
	}
	w.sum += d - w.samples[w.next]
	w.samples[w.next] = d
	w.next = (w.next + 1) % latencyWindowSize
}

func (w *latencyWindow) mean() time.Duration {
	if len(w.samples) == 0 {
		return 0
	}
	return w.sum / time.Duration(len(w.samples))
}

// percentile uses the nearest rank below p of the sorted window.
func (w *latencyWindow) percentile(p float64) time.Duration {
	if len(w.samples) == 0 {
		return 0
	}
	sorted := append([]time.Duration(nil), w.samples...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	idx := int(float64(len(sorted)-1) * p / 100)
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

func NewMetrics() *Metrics {
	return &Metrics{
		startTime: time.Now(),
		byStatus:  make(map[int]int64),
		byRating:  make(map[string]int64),
	}
}

func (m *Metrics) IncrementRequest()  { atomic.AddInt64(&m.RequestCount, 1) }
func (m *Metrics) IncrementError()    { atomic.AddInt64(&m.ErrorCount, 1) }
func (m *Metrics) IncrementCacheHit() { atomic.AddInt64(&m.CacheHits, 1) }
func (m *Metrics) IncrementCacheMiss() { atomic.AddInt64(&m.CacheMisses, 1) }
func (m *Metrics) IncrementBatchRuns() { atomic.AddInt64(&m.BatchRuns, 1) }

// RecordPrediction counts a prediction under its rating.
func (m *Metrics) RecordPrediction(rating string) {
	atomic.AddInt64(&m.Predictions, 1)

	m.mu.Lock()
	m.byRating[rating]++
	m.mu.Unlock()
}

// RecordDocument counts a scored document. Unextractable documents are also
// counted as extraction failures.
func (m *Metrics) RecordDocument(extracted bool) {
	atomic.AddInt64(&m.DocumentsScored, 1)
	if !extracted {
		atomic.AddInt64(&m.ExtractionFailures, 1)
	}
}

func (m *Metrics) RecordResponseTime(d time.Duration) {
	m.mu.Lock()
	m.latencies.add(d)
	m.mu.Unlock()
}

func (m *Metrics) RecordRequestByStatus(statusCode int) {
	m.mu.Lock()
	m.byStatus[statusCode]++
	m.mu.Unlock()
}

// CollectRuntime refreshes the Go memory snapshot reported by GetStats.
func (m *Metrics) CollectRuntime() {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	m.mu.Lock()
	m.mem = ms
	m.mu.Unlock()
}

// GetPercentileResponseTime returns the p-th percentile (0-100) of the
// recent response times.
func (m *Metrics) GetPercentileResponseTime(p float64) time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.latencies.percentile(p)
}

func (m *Metrics) GetStatusCodeDistribution() map[int]int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return copyCounts(m.byStatus)
}

func (m *Metrics) GetRatingDistribution() map[string]int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return copyCounts(m.byRating)
}

func copyCounts[K comparable](src map[K]int64) map[K]int64 {
	out := make(map[K]int64, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}

func percent(part, whole int64) float64 {
	if whole == 0 {
		return 0
	}
	return float64(part) / float64(whole) * 100
}

func millis(d time.Duration) float64 { return float64(d) / float64(time.Millisecond) }

// GetStats returns a snapshot of every counter.
func (m *Metrics) GetStats() map[string]interface{} {
	requests := atomic.LoadInt64(&m.RequestCount)
	errs := atomic.LoadInt64(&m.ErrorCount)
	hits := atomic.LoadInt64(&m.CacheHits)
	misses := atomic.LoadInt64(&m.CacheMisses)

	m.mu.RLock()
	start := m.startTime
	mean := m.latencies.mean()
	p50, p95, p99 := m.latencies.percentile(50), m.latencies.percentile(95), m.latencies.percentile(99)
	mem := m.mem
	byStatus := copyCounts(m.byStatus)
	byRating := copyCounts(m.byRating)
	m.mu.RUnlock()

	return map[string]interface{}{
		"uptime_seconds":         time.Since(start).Seconds(),
		"start_time":             start.Format(time.RFC3339),
		"total_requests":         requests,
		"error_count":            errs,
		"error_rate_percent":     percent(errs, requests),
		"cache_hits":             hits,
		"cache_misses":           misses,
		"cache_hit_rate_percent": percent(hits, hits+misses),

		"avg_response_time_ms":     millis(mean),
		"p50_response_time_ms":     millis(p50),
		"p95_response_time_ms":     millis(p95),
		"p99_response_time_ms":     millis(p99),
		"status_code_distribution": byStatus,

		"predictions":         atomic.LoadInt64(&m.Predictions),
		"rating_distribution": byRating,
		"documents_scored":    atomic.LoadInt64(&m.DocumentsScored),
		"extraction_failures": atomic.LoadInt64(&m.ExtractionFailures),
		"batch_runs":          atomic.LoadInt64(&m.BatchRuns),

		"go_gc_count":           int64(mem.NumGC),
		"go_gc_pause_total_ns":  int64(mem.PauseTotalNs),
		"go_heap_alloc_bytes":   int64(mem.HeapAlloc),
		"go_heap_sys_bytes":     int64(mem.HeapSys),
		"go_heap_usage_percent": percent(int64(mem.HeapAlloc), int64(mem.HeapSys)),
	}
}

// Reset zeroes every counter and restarts the uptime clock.
func (m *Metrics) Reset() {
	for _, p := range []*int64{
		&m.RequestCount, &m.ErrorCount, &m.CacheHits, &m.CacheMisses,
		&m.Predictions, &m.DocumentsScored, &m.ExtractionFailures, &m.BatchRuns,
		&m.RateLimitIPBlocks, &m.RateLimitRedisErrors, &m.RateLimitFallbackCount,
	} {
		atomic.StoreInt64(p, 0)
	}

	m.mu.Lock()
	m.startTime = time.Now()
	m.byStatus = make(map[int]int64)
	m.byRating = make(map[string]int64)
	m.latencies = latencyWindow{}
	m.mem = runtime.MemStats{}
	m.mu.Unlock()
}

func (m *Metrics) IncrementRateLimitIPBlock()    { atomic.AddInt64(&m.RateLimitIPBlocks, 1) }
func (m *Metrics) IncrementRateLimitRedisError() { atomic.AddInt64(&m.RateLimitRedisErrors, 1) }
func (m *Metrics) IncrementRateLimitFallback()   { atomic.AddInt64(&m.RateLimitFallbackCount, 1) }

func (m *Metrics) GetRateLimitStats() map[string]interface{} {
	return map[string]interface{}{
		"ip_blocks":      atomic.LoadInt64(&m.RateLimitIPBlocks),
		"redis_errors":   atomic.LoadInt64(&m.RateLimitRedisErrors),
		"fallback_count": atomic.LoadInt64(&m.RateLimitFallbackCount),
	}
}
