package security

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// Config holds security configuration
type Config struct {
	MaxTextBytes   int           `json:"max_text_bytes"`
	MaxBodyBytes   int64         `json:"max_body_bytes"`
	AllowedOrigins []string      `json:"allowed_origins"`
	RequestTimeout time.Duration `json:"request_timeout"`
	EnableHSTS     bool          `json:"enable_hsts"`
}

// DefaultConfig returns secure defaults
func DefaultConfig() Config {
	return Config{
		MaxTextBytes:   5 << 20,
		MaxBodyBytes:   50 << 20,
		AllowedOrigins: []string{"*"},
		RequestTimeout: 30 * time.Second,
	}
}

// Guard validates incoming requests before they reach the handlers.
type Guard struct {
	config Config
}

// NewGuard creates a request guard.
func NewGuard(config Config) *Guard {
	return &Guard{config: config}
}

// Config returns the guard configuration.
func (g *Guard) Config() Config { return g.config }

// ValidateText checks a submitted document text. field names the offending
// input in the returned error.
func (g *Guard) ValidateText(field, text string) error {
	if g.config.MaxTextBytes > 0 && len(text) > g.config.MaxTextBytes {
		return fmt.Errorf("%s exceeds maximum length of %d bytes", field, g.config.MaxTextBytes)
	}
	if strings.Contains(text, "\x00") {
		return fmt.Errorf("%s contains invalid characters", field)
	}
	if !utf8.ValidString(text) {
		return fmt.Errorf("%s contains invalid UTF-8 encoding", field)
	}
	return nil
}

// ValidateContentType rejects bodies that are neither JSON nor multipart.
func (g *Guard) ValidateContentType(c *gin.Context) {
	contentType := strings.ToLower(c.GetHeader("Content-Type"))

	if contentType != "" && c.Request.ContentLength != 0 {
		allowed := []string{"application/json", "multipart/form-data"}
		found := false
		for _, a := range allowed {
			if strings.HasPrefix(contentType, a) {
				found = true
				break
			}
		}
		if !found {
			c.AbortWithStatusJSON(http.StatusUnsupportedMediaType, gin.H{
				"error":    "UNSUPPORTED_MEDIA_TYPE",
				"message":  "request body must be application/json or multipart/form-data",
				"category": "validation",
			})
			return
		}
	}

	c.Next()
}

// LimitBody caps the request body at MaxBodyBytes.
func (g *Guard) LimitBody(c *gin.Context) {
	if g.config.MaxBodyBytes > 0 && c.Request.Body != nil {
		if c.Request.ContentLength > g.config.MaxBodyBytes {
			c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, gin.H{
				"error":    "REQUEST_TOO_LARGE",
				"message":  fmt.Sprintf("request body exceeds %d bytes", g.config.MaxBodyBytes),
				"category": "validation",
			})
			return
		}
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, g.config.MaxBodyBytes)
	}
	c.Next()
}

// RequestTimeout enforces request timeout
func (g *Guard) RequestTimeout(c *gin.Context) {
	if g.config.RequestTimeout <= 0 {
		c.Next()
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), g.config.RequestTimeout)
	defer cancel()

	c.Request = c.Request.WithContext(ctx)
	c.Header("X-Timeout", strconv.Itoa(int(g.config.RequestTimeout.Seconds())))

	c.Next()
}

// CORS returns the CORS middleware for the configured origins. "*" or an
// empty list allows every origin without credentials.
func (g *Guard) CORS() gin.HandlerFunc {
	cfg := cors.Config{
		AllowMethods:  []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", "X-Request-ID"},
		ExposeHeaders: []string{"X-Cache", "X-Request-ID", "X-RateLimit-Limit", "X-RateLimit-Remaining", "Retry-After"},
		MaxAge:        12 * time.Hour,
	}

	origins := make([]string, 0, len(g.config.AllowedOrigins))
	for _, o := range g.config.AllowedOrigins {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}

	if len(origins) == 0 || contains(origins, "*") {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = origins
		cfg.AllowCredentials = true
	}

	return cors.New(cfg)
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
