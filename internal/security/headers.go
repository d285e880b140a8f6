package security

import (
	"strings"

	"github.com/gin-gonic/gin"
)

const (
	apiPolicy = "default-src 'none'; frame-ancestors 'none'; base-uri 'none'"
	// the swagger UI page ships inline bootstrap script and styles
	docsPolicy = "default-src 'self'; script-src 'self' 'unsafe-inline'; style-src 'self' 'unsafe-inline'; img-src 'self' data:; frame-ancestors 'none'"
)

// HeadersMiddleware adds security headers to all responses
func (g *Guard) HeadersMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Frame-Options", "DENY")
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Header("Permissions-Policy", "geolocation=(), microphone=(), camera=()")

		if strings.HasPrefix(c.Request.URL.Path, "/swagger") {
			c.Header("Content-Security-Policy", docsPolicy)
		} else {
			c.Header("Content-Security-Policy", apiPolicy)
		}

		if g.config.EnableHSTS {
			c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		c.Next()
	}
}
