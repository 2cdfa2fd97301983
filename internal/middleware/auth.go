package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/newsdigest/core/internal/pkg/jwt"
	"github.com/newsdigest/core/internal/pkg/response"
)

const (
	ContextKeyUserID = "user_id"
	ContextKeyRole   = "role"
)

// Auth returns a middleware that requires a valid staff bearer token.
func Auth(signer *jwt.Signer) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !authenticate(c, signer) {
			response.Unauthorized(c)
			return
		}
		c.Next()
	}
}

// OptionalAuth sets the user if a valid token is present, but does not block the request.
func OptionalAuth(signer *jwt.Signer) gin.HandlerFunc {
	return func(c *gin.Context) {
		authenticate(c, signer)
		c.Next()
	}
}

func authenticate(c *gin.Context, signer *jwt.Signer) bool {
	token := extractToken(c)
	if token == "" {
		return false
	}
	claims, err := signer.Parse(token)
	if err != nil {
		return false
	}
	id, err := claims.UserID()
	if err != nil || id == 0 {
		return false
	}
	c.Set(ContextKeyUserID, id)
	c.Set(ContextKeyRole, claims.Role)
	return true
}

// CurrentUserID extracts the authenticated user ID from context.
func CurrentUserID(c *gin.Context) (uint, bool) {
	v, ok := c.Get(ContextKeyUserID)
	if !ok {
		return 0, false
	}
	id, ok := v.(uint)
	return id, ok
}

// IsAuthenticated returns true if the request has a valid auth token.
func IsAuthenticated(c *gin.Context) bool {
	_, ok := CurrentUserID(c)
	return ok
}

func extractToken(c *gin.Context) string {
	return NormalizeToken(c.GetHeader("Authorization"))
}

// NormalizeToken trims spaces and strips optional Bearer prefix.
func NormalizeToken(raw string) string {
	token := strings.TrimSpace(raw)
	if token == "" {
		return ""
	}
	if strings.HasPrefix(strings.ToLower(token), "bearer ") {
		return strings.TrimSpace(token[7:])
	}
	return token
}
