package security

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const adminRole = "admin"

// AdminAuth guards operator routes with HS256 bearer tokens. With an empty
// secret the routes are open.
type AdminAuth struct {
	secret []byte
}

// NewAdminAuth creates the guard for secret.
func NewAdminAuth(secret string) *AdminAuth {
	return &AdminAuth{secret: []byte(secret)}
}

// Enabled reports whether tokens are required.
func (a *AdminAuth) Enabled() bool {
	return len(a.secret) > 0
}

// IssueToken signs an admin token for subject valid for ttl.
func (a *AdminAuth) IssueToken(subject string, ttl time.Duration) (string, error) {
	if !a.Enabled() {
		return "", errors.New("admin secret is not configured")
	}
	now := time.Now()
	claims := jwt.MapClaims{
		"sub":  subject,
		"role": adminRole,
		"iat":  now.Unix(),
		"exp":  now.Add(ttl).Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(a.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// ValidateToken checks signature, expiry and role and returns the subject.
func (a *AdminAuth) ValidateToken(tokenString string) (string, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil {
		return "", err
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return "", errors.New("invalid token")
	}
	if role, _ := claims["role"].(string); role != adminRole {
		return "", errors.New("token does not carry the admin role")
	}
	subject, _ := claims.GetSubject()
	return subject, nil
}

// Middleware rejects requests without a valid admin bearer token.
func (a *AdminAuth) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !a.Enabled() {
			c.Next()
			return
		}

		header := c.GetHeader("Authorization")
		tokenString, found := strings.CutPrefix(header, "Bearer ")
		if !found || tokenString == "" {
			abortUnauthorized(c, "missing bearer token")
			return
		}

		subject, err := a.ValidateToken(tokenString)
		if err != nil {
			abortUnauthorized(c, "invalid admin token")
			return
		}

		c.Set("admin_subject", subject)
		c.Next()
	}
}

func abortUnauthorized(c *gin.Context, message string) {
	c.Header("WWW-Authenticate", `Bearer realm="plancheck"`)
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"error":    "UNAUTHORIZED",
		"message":  message,
		"category": "auth",
	})
}
