package security

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()

	assert.Equal(t, 5<<20, config.MaxTextBytes)
	assert.Equal(t, int64(50<<20), config.MaxBodyBytes)
	assert.Equal(t, []string{"*"}, config.AllowedOrigins)
	assert.Equal(t, 30*time.Second, config.RequestTimeout)
	assert.False(t, config.EnableHSTS)
}

func TestValidateText(t *testing.T) {
	g := NewGuard(Config{MaxTextBytes: 32})

	tests := []struct {
		name     string
		text     string
		errorMsg string
	}{
		{name: "plain text", text: "Listed building preserved."},
		{name: "empty", text: ""},
		{name: "sql-looking prose is fine", text: "-- see para 3; drop table"},
		{name: "too long", text: strings.Repeat("a", 33), errorMsg: "ps_text exceeds maximum length"},
		{name: "null byte", text: "heritage\x00harm", errorMsg: "ps_text contains invalid characters"},
		{name: "invalid utf-8", text: "harm\xff\xfe", errorMsg: "ps_text contains invalid UTF-8"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := g.ValidateText("ps_text", tt.text)
			if tt.errorMsg == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errorMsg)
		})
	}
}

func TestHeadersMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)

	g := NewGuard(Config{EnableHSTS: true})
	r := gin.New()
	r.Use(g.HeadersMiddleware())
	r.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/swagger/index.html", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	headers := w.Header()
	assert.Equal(t, "DENY", headers.Get("X-Frame-Options"))
	assert.Equal(t, "nosniff", headers.Get("X-Content-Type-Options"))
	assert.Equal(t, apiPolicy, headers.Get("Content-Security-Policy"))
	assert.Contains(t, headers.Get("Strict-Transport-Security"), "max-age=31536000")

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/swagger/index.html", nil))
	assert.Equal(t, docsPolicy, w.Header().Get("Content-Security-Policy"))
}

func TestValidateContentType(t *testing.T) {
	gin.SetMode(gin.TestMode)
	g := NewGuard(DefaultConfig())

	r := gin.New()
	r.Use(g.ValidateContentType)
	r.POST("/analyze", func(c *gin.Context) { c.Status(http.StatusOK) })

	tests := []struct {
		name           string
		contentType    string
		body           string
		expectedStatus int
	}{
		{"json", "application/json", `{"ps_text":"x"}`, http.StatusOK},
		{"json with charset", "application/json; charset=utf-8", `{}`, http.StatusOK},
		{"multipart", "multipart/form-data; boundary=xyz", "--xyz--", http.StatusOK},
		{"plain text body", "text/plain", "heritage harm", http.StatusUnsupportedMediaType},
		{"form encoded", "application/x-www-form-urlencoded", "a=b", http.StatusUnsupportedMediaType},
		{"no content type", "", `{}`, http.StatusOK},
		{"empty body", "text/plain", "", http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/analyze", strings.NewReader(tt.body))
			if tt.contentType != "" {
				req.Header.Set("Content-Type", tt.contentType)
			}
			r.ServeHTTP(w, req)
			assert.Equal(t, tt.expectedStatus, w.Code)
		})
	}
}

func TestLimitBody(t *testing.T) {
	gin.SetMode(gin.TestMode)
	g := NewGuard(Config{MaxBodyBytes: 8})

	r := gin.New()
	r.Use(g.LimitBody)
	r.POST("/documents/upload", func(c *gin.Context) {
		data, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.Status(http.StatusRequestEntityTooLarge)
			return
		}
		c.String(http.StatusOK, string(data))
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/documents/upload", strings.NewReader("small")))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "small", w.Body.String())

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/documents/upload", strings.NewReader("much too large")))
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	assert.Contains(t, w.Body.String(), "REQUEST_TOO_LARGE")

	// unknown length is caught while reading
	req := httptest.NewRequest(http.MethodPost, "/documents/upload", strings.NewReader("much too large"))
	req.ContentLength = -1
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}

func TestCORS(t *testing.T) {
	gin.SetMode(gin.TestMode)

	restricted := gin.New()
	restricted.Use(NewGuard(Config{AllowedOrigins: []string{"http://localhost:3000", " "}}).CORS())
	restricted.GET("/model", func(c *gin.Context) { c.Status(http.StatusOK) })

	open := gin.New()
	open.Use(NewGuard(DefaultConfig()).CORS())
	open.GET("/model", func(c *gin.Context) { c.Status(http.StatusOK) })

	tests := []struct {
		name           string
		router         *gin.Engine
		method         string
		origin         string
		expectedStatus int
		allowOrigin    string
	}{
		{"allowed origin", restricted, http.MethodGet, "http://localhost:3000", http.StatusOK, "http://localhost:3000"},
		{"disallowed origin", restricted, http.MethodGet, "http://evil.example", http.StatusForbidden, ""},
		{"preflight", restricted, http.MethodOptions, "http://localhost:3000", http.StatusNoContent, "http://localhost:3000"},
		{"wildcard", open, http.MethodGet, "http://anywhere.example", http.StatusOK, "*"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			req := httptest.NewRequest(tt.method, "/model", nil)
			req.Header.Set("Origin", tt.origin)
			if tt.method == http.MethodOptions {
				req.Header.Set("Access-Control-Request-Method", http.MethodPost)
			}
			tt.router.ServeHTTP(w, req)

			assert.Equal(t, tt.expectedStatus, w.Code)
			assert.Equal(t, tt.allowOrigin, w.Header().Get("Access-Control-Allow-Origin"))
		})
	}
}

func TestRequestTimeout(t *testing.T) {
	gin.SetMode(gin.TestMode)
	g := NewGuard(Config{RequestTimeout: 5 * time.Millisecond})

	r := gin.New()
	r.Use(g.RequestTimeout)
	r.GET("/analyze", func(c *gin.Context) {
		select {
		case <-c.Request.Context().Done():
			assert.ErrorIs(t, c.Request.Context().Err(), context.DeadlineExceeded)
			c.Status(http.StatusGatewayTimeout)
		case <-time.After(time.Second):
			c.Status(http.StatusOK)
		}
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/analyze", nil))
	assert.Equal(t, http.StatusGatewayTimeout, w.Code)
	assert.Equal(t, "0", w.Header().Get("X-Timeout"))
}
