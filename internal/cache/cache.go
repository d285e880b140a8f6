package cache

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

const sweepInterval = 5 * time.Minute

// Metrics receives cache hit and miss counts.
type Metrics interface {
	IncrementCacheHit()
	IncrementCacheMiss()
}

type entry struct {
	body    []byte
	expires time.Time
}

func (e entry) expired(now time.Time) bool { return now.After(e.expires) }

// Cache is a TTL cache of response bodies.
type Cache struct {
	mu        sync.RWMutex
	entries   map[string]entry
	ttl       time.Duration
	namespace string
	done      chan struct{}
	closeOnce sync.Once
}

// NewCache creates a cache whose keys are prefixed with namespace, so results
// computed under another model or lexicon never match.
func NewCache(ttl time.Duration, namespace string) *Cache {
	c := &Cache{
		entries:   make(map[string]entry),
		ttl:       ttl,
		namespace: namespace,
		done:      make(chan struct{}),
	}
	go c.sweepLoop()
	return c
}

// Close stops the background sweep.
func (c *Cache) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}

func (c *Cache) sweepLoop() {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case now := <-ticker.C:
			if n := c.sweep(now); n > 0 {
				slog.Debug("Cache sweep", "removed", n)
			}
		}
	}
}

// sweep drops entries expired at now and reports how many went.
func (c *Cache) sweep(now time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for k, e := range c.entries {
		if e.expired(now) {
			delete(c.entries, k)
			removed++
		}
	}
	return removed
}

// Key hashes the namespace, request path and body.
func (c *Cache) Key(path string, body []byte) string {
	h := sha256.New()
	for _, part := range [][]byte{[]byte(c.namespace), []byte(path), body} {
		h.Write(part)
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

func (c *Cache) Get(key string) ([]byte, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok {
		return nil, false
	}
	if e.expired(time.Now()) {
		c.mu.Lock()
		delete(c.entries, key)
		c.mu.Unlock()
		return nil, false
	}
	return e.body, true
}

func (c *Cache) Set(key string, body []byte) {
	c.mu.Lock()
	c.entries[key] = entry{body: body, expires: time.Now().Add(c.ttl)}
	c.mu.Unlock()
}

func (c *Cache) Clear() {
	c.mu.Lock()
	c.entries = make(map[string]entry)
	c.mu.Unlock()
}

func (c *Cache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func (c *Cache) Stats() map[string]interface{} {
	now := time.Now()

	c.mu.RLock()
	defer c.mu.RUnlock()

	expired := 0
	var bytesHeld int
	for _, e := range c.entries {
		if e.expired(now) {
			expired++
		}
		bytesHeld += len(e.body)
	}

	return map[string]interface{}{
		"total_items":   len(c.entries),
		"expired_items": expired,
		"active_items":  len(c.entries) - expired,
		"bytes":         bytesHeld,
		"ttl_seconds":   c.ttl.Seconds(),
		"namespace":     c.namespace,
	}
}

// Middleware serves repeated POST bodies to the given paths from the cache.
// Only 200 responses without handler errors are stored. A request sent with
// "Cache-Control: no-cache" skips the lookup but still refreshes the entry.
func (c *Cache) Middleware(metrics Metrics, paths ...string) gin.HandlerFunc {
	cached := make(map[string]struct{}, len(paths))
	for _, p := range paths {
		cached[p] = struct{}{}
	}

	return func(ctx *gin.Context) {
		if _, ok := cached[ctx.Request.URL.Path]; !ok || ctx.Request.Method != http.MethodPost {
			ctx.Next()
			return
		}

		body, err := io.ReadAll(ctx.Request.Body)
		if err != nil {
			// Let the handler see the read error.
			ctx.Request.Body = io.NopCloser(io.MultiReader(bytes.NewReader(body), errReader{err}))
			ctx.Next()
			return
		}
		ctx.Request.Body = io.NopCloser(bytes.NewReader(body))

		key := c.Key(ctx.Request.URL.Path, body)
		noCache := strings.Contains(ctx.GetHeader("Cache-Control"), "no-cache")

		if !noCache {
			if data, ok := c.Get(key); ok {
				metrics.IncrementCacheHit()
				ctx.Header("X-Cache", "HIT")
				ctx.Data(http.StatusOK, "application/json; charset=utf-8", data)
				ctx.Abort()
				return
			}
		}

		metrics.IncrementCacheMiss()
		ctx.Header("X-Cache", "MISS")

		rec := &recorder{ResponseWriter: ctx.Writer}
		ctx.Writer = rec
		ctx.Next()

		if rec.Status() == http.StatusOK && len(ctx.Errors) == 0 {
			c.Set(key, rec.body.Bytes())
		}
	}
}

type errReader struct{ err error }

func (r errReader) Read([]byte) (int, error) { return 0, r.err }

// recorder tees the response body into a buffer.
type recorder struct {
	gin.ResponseWriter
	body bytes.Buffer
}

func (r *recorder) Write(data []byte) (int, error) {
	r.body.Write(data)
	return r.ResponseWriter.Write(data)
}

func (r *recorder) WriteString(s string) (int, error) {
	r.body.WriteString(s)
	return r.ResponseWriter.WriteString(s)
}
