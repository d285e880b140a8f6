package security

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdminAuth_IssueAndValidate(t *testing.T) {
	auth := NewAdminAuth("s3cret")
	require.True(t, auth.Enabled())

	token, err := auth.IssueToken("ops", time.Hour)
	require.NoError(t, err)

	subject, err := auth.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "ops", subject)

	_, err = NewAdminAuth("other").ValidateToken(token)
	assert.Error(t, err)

	expired, err := auth.IssueToken("ops", -time.Minute)
	require.NoError(t, err)
	_, err = auth.ValidateToken(expired)
	assert.Error(t, err)
}

func TestAdminAuth_RejectsWrongRole(t *testing.T) {
	auth := NewAdminAuth("s3cret")

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":  "viewer",
		"role": "reader",
		"exp":  time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte("s3cret"))
	require.NoError(t, err)

	_, err = auth.ValidateToken(signed)
	assert.Error(t, err)
}

func TestAdminAuth_DisabledWithoutSecret(t *testing.T) {
	auth := NewAdminAuth("")
	assert.False(t, auth.Enabled())

	_, err := auth.IssueToken("ops", time.Hour)
	assert.Error(t, err)
}

func TestAdminAuth_Middleware(t *testing.T) {
	gin.SetMode(gin.TestMode)

	auth := NewAdminAuth("s3cret")
	valid, err := auth.IssueToken("ops", time.Hour)
	require.NoError(t, err)

	r := gin.New()
	r.DELETE("/repository", auth.Middleware(), func(c *gin.Context) {
		c.String(http.StatusOK, c.GetString("admin_subject"))
	})

	open := gin.New()
	open.DELETE("/repository", NewAdminAuth("").Middleware(), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	tests := []struct {
		name   string
		router *gin.Engine
		header string
		status int
	}{
		{"valid token", r, "Bearer " + valid, http.StatusOK},
		{"missing header", r, "", http.StatusUnauthorized},
		{"wrong scheme", r, "Basic b3BzOnB3", http.StatusUnauthorized},
		{"garbage token", r, "Bearer not-a-token", http.StatusUnauthorized},
		{"auth disabled", open, "", http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodDelete, "/repository", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			tt.router.ServeHTTP(w, req)

			assert.Equal(t, tt.status, w.Code)
			if tt.status == http.StatusUnauthorized {
				assert.Contains(t, w.Body.String(), "UNAUTHORIZED")
				assert.NotEmpty(t, w.Header().Get("WWW-Authenticate"))
			}
		})
	}

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodDelete, "/repository", nil)
	req.Header.Set("Authorization", "Bearer "+valid)
	r.ServeHTTP(w, req)
	assert.Equal(t, "ops", w.Body.String())
}
