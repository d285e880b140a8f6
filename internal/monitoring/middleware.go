package monitoring

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

// slowRequest is the latency above which a non-batch request is reported.
const slowRequest = 5 * time.Second

// MonitoringMiddleware records request metrics and logs each request together
// with any errors the handlers attached.
func MonitoringMiddleware(metrics *Metrics, logger *Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		metrics.IncrementRequest()

		c.Next()

		elapsed := time.Since(start)
		status := c.Writer.Status()
		method, path, ip := c.Request.Method, c.Request.URL.Path, c.ClientIP()

		metrics.RecordResponseTime(elapsed)
		metrics.RecordRequestByStatus(status)
		if status >= http.StatusBadRequest {
			metrics.IncrementError()
		}

		logger.RequestLogger(method, path, ip, c.GetHeader("User-Agent"), status, elapsed)
		for _, e := range c.Errors {
			logger.APIErrorLogger(e.Err, method, path, ip, status)
		}

		// Batch uploads of many PDFs are slow by nature.
		if elapsed > slowRequest && !strings.HasPrefix(path, "/repository") {
			logger.PerformanceLogger("slow_request", elapsed.Seconds(), "seconds")
		}
		if status >= http.StatusInternalServerError {
			logger.SystemLogger("server_error", fmt.Sprintf("status %d for %s %s", status, method, path))
		}
	}
}

// SecurityMonitoringMiddleware logs requests that look like probes. It never
// blocks; the guard middleware enforces limits.
func SecurityMonitoringMiddleware(logger *Logger, maxBodyBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		ua := c.GetHeader("User-Agent")

		var signals []string
		details := map[string]interface{}{}
		if q := c.Request.URL.RawQuery; containsSQLInjectionPatterns(q) {
			signals = append(signals, "potential_sql_injection")
			details["query"] = q
		}
		if maxBodyBytes > 0 && c.Request.ContentLength > maxBodyBytes {
			signals = append(signals, "large_request_body")
			details["size_bytes"] = c.Request.ContentLength
		}
		if containsSuspiciousUserAgent(ua) {
			signals = append(signals, "suspicious_user_agent")
		}

		if len(signals) > 0 {
			details["signals"] = signals
			details["path"] = c.Request.URL.Path
			logger.SecurityLogger("suspicious_activity_detected", c.ClientIP(), ua, details)
		}

		c.Next()
	}
}

var sqlInjectionPatterns = []string{
	"union select",
	"union all",
	"select * from",
	"drop table",
	"delete from",
	"';--",
	"/*",
	"*/",
	" xp_",
	" sp_",
}

func containsSQLInjectionPatterns(query string) bool {
	if unescaped, err := url.QueryUnescape(query); err == nil {
		query = unescaped
	}
	q := strings.ToLower(query)
	for _, pattern := range sqlInjectionPatterns {
		if strings.Contains(q, pattern) {
			return true
		}
	}
	return false
}

var suspiciousAgents = []string{
	"sqlmap",
	"nmap",
	"masscan",
	"zmap",
	"dirbuster",
	"gobuster",
	"nikto",
	"acunetix",
	"nessus",
}

func containsSuspiciousUserAgent(userAgent string) bool {
	ua := strings.ToLower(userAgent)
	for _, agent := range suspiciousAgents {
		if strings.Contains(ua, agent) {
			return true
		}
	}
	return false
}
