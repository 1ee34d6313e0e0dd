package rbac

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"inventory-platform/internal/apperr"
	"inventory-platform/internal/auth"
	"inventory-platform/internal/authz"
	"inventory-platform/pkg/logger"
)

// RequirePermission allows the request only if the caller's role holds every
// listed permission. It must run after auth.RequireAccessToken.
func RequirePermission(cache *authz.Cache, perms ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		role, err := auth.RoleID(ctx)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "role required"})
			return
		}

		err = cache.Authorize(ctx, role, perms...)
		switch {
		case err == nil:
			c.Next()
		case errors.Is(err, apperr.ErrPermissionDenied):
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		default:
			logger.From(ctx).Error("authorization lookup failed", logger.Err(err))
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		}
	}
}
