package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"whatsapp-sync/internal/models"
	"whatsapp-sync/internal/provider"
	"whatsapp-sync/internal/service"
)

// scopeFrom reads the identity the auth middleware stored on the request.
func scopeFrom(c *gin.Context) models.Scope {
	return models.Scope{Username: c.GetString("username"), Role: c.GetString("role")}
}

// respondError maps service errors onto HTTP statuses. Anything unexpected
// is logged and answered with 500 and the generic message.
func respondError(c *gin.Context, logger *zap.Logger, err error, message string) {
	var verr *service.ValidationError
	switch {
	case errors.As(err, &verr):
		c.JSON(http.StatusBadRequest, gin.H{"error": verr.Message, "field": verr.Field})
	case errors.Is(err, service.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
	case errors.Is(err, provider.ErrNoConfiguration):
		c.JSON(http.StatusForbidden, gin.H{"error": "No accessible WhatsApp configuration"})
	case errors.Is(err, service.ErrProviderFailed), errors.Is(err, provider.ErrProviderUnavailable):
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
	default:
		logger.Error(message, zap.String("path", c.FullPath()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": message})
	}
}

func paramID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid ID"})
		return 0, false
	}
	return id, true
}

// queryInt reads a non-negative integer query parameter, capped at max when max > 0.
func queryInt(c *gin.Context, key string, def, max int) int {
	v, err := strconv.Atoi(c.Query(key))
	if err != nil || v < 0 {
		return def
	}
	if max > 0 && v > max {
		return max
	}
	return v
}
