package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"whatsapp-sync/internal/service"
)

type ConfigHandler interface {
	ListConfigurations(c *gin.Context)
	CreateConfiguration(c *gin.Context)
	UpdateConfiguration(c *gin.Context)
	SetConfigurationActive(c *gin.Context)
	ValidateConfiguration(c *gin.Context)
}

type configHandler struct {
	configurations *service.ConfigurationService
	logger         *zap.Logger
}

func NewConfigHandler(configurations *service.ConfigurationService, logger *zap.Logger) ConfigHandler {
	return &configHandler{configurations: configurations, logger: logger}
}

// ListConfigurations handles GET /api/configurations
func (h *configHandler) ListConfigurations(c *gin.Context) {
	configs, err := h.configurations.List()
	if err != nil {
		respondError(c, h.logger, err, "Failed to retrieve configurations")
		return
	}
	c.JSON(http.StatusOK, gin.H{"configurations": configs})
}

// CreateConfiguration handles POST /api/configurations
func (h *configHandler) CreateConfiguration(c *gin.Context) {
	var req service.ConfigurationInput
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Error("Failed to bind configuration request", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	cfg, err := h.configurations.Create(req)
	if err != nil {
		respondError(c, h.logger, err, "Failed to create configuration")
		return
	}
	c.JSON(http.StatusCreated, gin.H{"configuration": cfg})
}

// UpdateConfiguration handles PUT /api/configurations/:id
func (h *configHandler) UpdateConfiguration(c *gin.Context) {
	id, ok := paramID(c)
	if !ok {
		return
	}
	var req service.ConfigurationInput
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Error("Failed to bind configuration request", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	cfg, err := h.configurations.Update(id, req)
	if err != nil {
		respondError(c, h.logger, err, "Failed to update configuration")
		return
	}
	c.JSON(http.StatusOK, gin.H{"configuration": cfg})
}

type SetActiveRequest struct {
	Active bool `json:"active"`
}

// SetConfigurationActive handles PUT /api/configurations/:id/active
func (h *configHandler) SetConfigurationActive(c *gin.Context) {
	id, ok := paramID(c)
	if !ok {
		return
	}
	var req SetActiveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.configurations.SetActive(id, req.Active); err != nil {
		respondError(c, h.logger, err, "Failed to update configuration")
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Configuration updated", "active": req.Active})
}

// ValidateConfiguration handles POST /api/configurations/:id/validate
func (h *configHandler) ValidateConfiguration(c *gin.Context) {
	id, ok := paramID(c)
	if !ok {
		return
	}
	res, err := h.configurations.Validate(c.Request.Context(), id)
	if err != nil {
		respondError(c, h.logger, err, "Failed to validate configuration")
		return
	}
	c.JSON(http.StatusOK, res)
}
