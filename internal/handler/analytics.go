package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"whatsapp-sync/internal/audit"
)

type AnalyticsHandler interface {
	GetPerformance(c *gin.Context)
	GetProviderHealth(c *gin.Context)
	GetDailyStats(c *gin.Context)
	GetRecent(c *gin.Context)
}

type analyticsHandler struct {
	audit     *audit.Service
	providers []string
	logger    *zap.Logger
}

func NewAnalyticsHandler(auditService *audit.Service, providers []string, logger *zap.Logger) AnalyticsHandler {
	return &analyticsHandler{audit: auditService, providers: providers, logger: logger}
}

// GetPerformance handles GET /api/audit/metrics?hours=&provider=
func (h *analyticsHandler) GetPerformance(c *gin.Context) {
	hours := queryInt(c, "hours", 24, 24*90)
	if hours == 0 {
		hours = 24
	}
	metrics, err := h.audit.PerformanceMetrics(hours, c.Query("provider"))
	if err != nil {
		respondError(c, h.logger, err, "Failed to compute performance metrics")
		return
	}
	c.JSON(http.StatusOK, metrics)
}

// GetProviderHealth handles GET /api/audit/providers/health
func (h *analyticsHandler) GetProviderHealth(c *gin.Context) {
	health, err := h.audit.ProviderHealthSummary(h.providers)
	if err != nil {
		respondError(c, h.logger, err, "Failed to compute provider health")
		return
	}
	c.JSON(http.StatusOK, gin.H{"providers": health})
}

// GetDailyStats handles GET /api/audit/daily?days=
func (h *analyticsHandler) GetDailyStats(c *gin.Context) {
	days := queryInt(c, "days", 7, 90)
	if days == 0 {
		days = 7
	}
	stats, err := h.audit.DailyStats(days)
	if err != nil {
		respondError(c, h.logger, err, "Failed to compute daily stats")
		return
	}
	c.JSON(http.StatusOK, gin.H{"days": stats})
}

// GetRecent handles GET /api/audit/recent?hours=&provider=
func (h *analyticsHandler) GetRecent(c *gin.Context) {
	hours := queryInt(c, "hours", 1, 24*7)
	if hours == 0 {
		hours = 1
	}
	entries, err := h.audit.Recent(hours, c.Query("provider"))
	if err != nil {
		respondError(c, h.logger, err, "Failed to retrieve audit log")
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries})
}
