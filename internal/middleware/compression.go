package middleware

import (
	"compress/gzip"
	"io"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/gin-gonic/gin"
)

// CompressionConfig holds configuration for response compression
type CompressionConfig struct {
	CompressionLevel int      // gzip level, 1-9
	ExcludedPrefixes []string // paths served uncompressed
}

// DefaultCompressionConfig returns the default compression configuration
func DefaultCompressionConfig() CompressionConfig {
	return CompressionConfig{
		CompressionLevel: gzip.DefaultCompression,
		ExcludedPrefixes: []string{"/swagger", "/health"},
	}
}

// Compression gzips responses for clients that accept it. Score tables and
// repository listings are the large bodies this is aimed at.
type Compression struct {
	config CompressionConfig
	pool   sync.Pool
	stats  CompressionStats
}

// NewCompression creates the compression middleware
func NewCompression(config CompressionConfig) *Compression {
	level := config.CompressionLevel
	if level < gzip.HuffmanOnly || level > gzip.BestCompression {
		level = gzip.DefaultCompression
	}
	return &Compression{
		config: config,
		pool: sync.Pool{
			New: func() interface{} {
				gz, _ := gzip.NewWriterLevel(io.Discard, level)
				return gz
			},
		},
	}
}

// Handler returns the gin middleware
func (cm *Compression) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !cm.shouldCompress(c) {
			c.Next()
			return
		}

		gz := cm.pool.Get().(*gzip.Writer)
		gz.Reset(c.Writer)

		c.Header("Content-Encoding", "gzip")
		c.Header("Vary", "Accept-Encoding")
		c.Writer.Header().Del("Content-Length")

		w := &gzipWriter{ResponseWriter: c.Writer, gz: gz}
		c.Writer = w

		defer func() {
			if w.raw == 0 {
				// nothing written; skip the gzip trailer
				gz.Reset(io.Discard)
			}
			_ = gz.Close()
			cm.pool.Put(gz)
			cm.stats.record(w.raw, int64(w.ResponseWriter.Size()))
		}()

		c.Next()
	}
}

func (cm *Compression) shouldCompress(c *gin.Context) bool {
	if !strings.Contains(c.GetHeader("Accept-Encoding"), "gzip") {
		return false
	}
	if c.Request.Method == "HEAD" || strings.Contains(c.GetHeader("Connection"), "Upgrade") {
		return false
	}
	path := c.Request.URL.Path
	for _, p := range cm.config.ExcludedPrefixes {
		if strings.HasPrefix(path, p) {
			return false
		}
	}
	return true
}

// GetStats returns compression statistics
func (cm *Compression) GetStats() map[string]interface{} {
	return cm.stats.snapshot()
}

type gzipWriter struct {
	gin.ResponseWriter
	gz  *gzip.Writer
	raw int64
}

func (w *gzipWriter) Write(data []byte) (int, error) {
	w.Header().Del("Content-Length")
	n, err := w.gz.Write(data)
	w.raw += int64(n)
	return n, err
}

func (w *gzipWriter) WriteString(s string) (int, error) {
	return w.Write([]byte(s))
}

// Flush pushes buffered compressed bytes to the client
func (w *gzipWriter) Flush() {
	_ = w.gz.Flush()
	w.ResponseWriter.Flush()
}

// CompressionStats tracks compression statistics
type CompressionStats struct {
	responses       int64
	rawBytes        int64
	compressedBytes int64
}

func (cs *CompressionStats) record(raw, compressed int64) {
	if raw == 0 {
		return
	}
	atomic.AddInt64(&cs.responses, 1)
	atomic.AddInt64(&cs.rawBytes, raw)
	atomic.AddInt64(&cs.compressedBytes, compressed)
}

func (cs *CompressionStats) snapshot() map[string]interface{} {
	raw := atomic.LoadInt64(&cs.rawBytes)
	compressed := atomic.LoadInt64(&cs.compressedBytes)

	ratio := 0.0
	if raw > 0 {
		ratio = float64(compressed) / float64(raw)
	}

	return map[string]interface{}{
		"compressed_responses": atomic.LoadInt64(&cs.responses),
		"raw_bytes":            raw,
		"compressed_bytes":     compressed,
		"compression_ratio":    ratio,
	}
}
