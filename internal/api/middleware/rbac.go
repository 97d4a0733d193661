package middleware

import (
	"slices"

	"github.com/gin-gonic/gin"

	"github.com/VinByte365/Project-Pamada-sub000/internal/api/response"
)

// RequireRole rejects callers whose role is not one of allowedRoles.
func RequireRole(allowedRoles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		role, exists := c.Get(KeyRole)
		if !exists {
			response.Forbidden(c, "user role not found in context")
			return
		}
		userRole, ok := role.(string)
		if !ok {
			response.Forbidden(c, "invalid role format")
			return
		}
		if !slices.Contains(allowedRoles, userRole) {
			response.Forbidden(c, "insufficient permissions")
			return
		}
		c.Next()
	}
}
