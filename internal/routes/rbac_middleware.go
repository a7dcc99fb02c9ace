package routes

import (
	"fmt"
	"log/slog"

	"github.com/gin-gonic/gin"

	"site-decisions/internal/access"
)

// RequirePermission creates middleware that checks for specific permission.
// It must run after AuthMiddleware.
func RequirePermission(rbac *access.RBAC, resource, action string) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, err := GetActor(c)
		if err != nil {
			AbortWithError(c, fmt.Errorf("%w: %v", ErrUnauthorized, err))
			return
		}

		if !rbac.Can(actor, resource, action) {
			slog.Warn("Permission denied",
				"userID", actor.ID,
				"resource", resource,
				"action", action)
			AbortWithError(c, fmt.Errorf("%w: %s:%s", ErrInsufficientPermissions, resource, action))
			return
		}

		slog.Debug("Permission granted",
			"userID", actor.ID,
			"resource", resource,
			"action", action)

		c.Next()
	}
}
