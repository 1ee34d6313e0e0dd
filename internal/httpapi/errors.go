package httpapi

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"inventory-platform/internal/apperr"
	"inventory-platform/internal/audit"
	"inventory-platform/pkg/logger"
)

// writeError renders a domain error. Unknown errors are logged and hidden.
func writeError(c *gin.Context, err error) {
	var (
		notFound *apperr.NotFoundError
		exists   *apperr.AlreadyExistsError
		invalid  *apperr.InvalidError
	)
	switch {
	case errors.As(err, &notFound):
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{
			"error": err.Error(), "entity": notFound.Entity, "field": notFound.Field, "value": notFound.Value,
		})
	case errors.As(err, &exists):
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{
			"error": err.Error(), "entity": exists.Entity, "field": exists.Field, "value": exists.Value,
		})
	case errors.As(err, &invalid):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
			"error": err.Error(), "entity": invalid.Entity, "field": invalid.Field,
		})
	case errors.Is(err, apperr.ErrInvalid):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, apperr.ErrNotFound), errors.Is(err, audit.ErrNotAudited):
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, apperr.ErrPermissionDenied):
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
	default:
		logger.FromGin(c).Error("request failed", logger.Err(err))
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
