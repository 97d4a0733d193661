package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/VinByte365/Project-Pamada-sub000/internal/api/response"
	"github.com/VinByte365/Project-Pamada-sub000/internal/config"
	"github.com/VinByte365/Project-Pamada-sub000/pkg/auth"
)

// Context keys set by the middleware chain.
const (
	KeyUserID        = "user_id"
	KeyRole          = "role"
	KeyCorrelationID = "correlation_id"
)

// AuthMiddleware resolves the bearer token into the caller's user id and
// role.
func AuthMiddleware(cfg *config.JWTConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			response.Unauthorized(c, "missing authorization header")
			return
		}

		const bearerPrefix = "Bearer "
		if !strings.HasPrefix(authHeader, bearerPrefix) {
			response.Unauthorized(c, "invalid authorization header format")
			return
		}

		claims, err := auth.ValidateToken(strings.TrimPrefix(authHeader, bearerPrefix), cfg.Secret)
		if err != nil {
			response.Unauthorized(c, "invalid token")
			return
		}

		role := claims.Role
		if role == "" {
			role = auth.RoleUser
		}
		c.Set(KeyUserID, claims.UserID)
		c.Set(KeyRole, role)

		c.Next()
	}
}

// UserID returns the authenticated caller. It panics outside AuthMiddleware.
func UserID(c *gin.Context) uuid.UUID {
	return c.MustGet(KeyUserID).(uuid.UUID)
}

// Role returns the authenticated caller's role.
func Role(c *gin.Context) string {
	role, _ := c.Get(KeyRole)
	s, _ := role.(string)
	return s
}
