package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"whatsapp-sync/internal/repository"
	"whatsapp-sync/internal/sync_engine"
)

type SyncHandler interface {
	SyncContacts(c *gin.Context)
	SyncGroups(c *gin.Context)
	SyncGroupMembers(c *gin.Context)
	SyncMessages(c *gin.Context)
	SyncAll(c *gin.Context)
	ListRuns(c *gin.Context)
	MessageStatus(c *gin.Context)
	RefreshGroup(c *gin.Context)
}

type syncHandler struct {
	engine *sync_engine.Engine
	runs   repository.SyncRunRepository
	logger *zap.Logger
}

func NewSyncHandler(engine *sync_engine.Engine, runs repository.SyncRunRepository, logger *zap.Logger) SyncHandler {
	return &syncHandler{engine: engine, runs: runs, logger: logger}
}

// Sync results are reported in the body; the HTTP status is 200 unless the
// request itself is malformed.

// SyncContacts handles POST /api/sync/contacts
func (h *syncHandler) SyncContacts(c *gin.Context) {
	c.JSON(http.StatusOK, h.engine.SyncContacts(c.Request.Context(), scopeFrom(c)))
}

// SyncGroups handles POST /api/sync/groups?provider=
func (h *syncHandler) SyncGroups(c *gin.Context) {
	c.JSON(http.StatusOK, h.engine.SyncGroups(c.Request.Context(), scopeFrom(c), c.Query("provider")))
}

// SyncGroupMembers handles POST /api/sync/group-members
func (h *syncHandler) SyncGroupMembers(c *gin.Context) {
	c.JSON(http.StatusOK, h.engine.SyncGroupMembers(c.Request.Context(), scopeFrom(c)))
}

type SyncMessagesRequest struct {
	Count    int    `json:"count"`
	TimeFrom int64  `json:"time_from"`
	TimeTo   int64  `json:"time_to"`
	FromMe   *bool  `json:"from_me"`
	Sort     string `json:"sort"`
}

// SyncMessages handles POST /api/sync/messages. The body is optional.
func (h *syncHandler) SyncMessages(c *gin.Context) {
	var req SyncMessagesRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	if req.Count < 0 || (req.TimeTo > 0 && req.TimeFrom > req.TimeTo) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid count or time range"})
		return
	}

	res := h.engine.SyncMessages(c.Request.Context(), scopeFrom(c), sync_engine.MessageSyncOptions{
		Count:    req.Count,
		TimeFrom: req.TimeFrom,
		TimeTo:   req.TimeTo,
		FromMe:   req.FromMe,
		Sort:     req.Sort,
	})
	c.JSON(http.StatusOK, res)
}

// SyncAll handles POST /api/sync/all
func (h *syncHandler) SyncAll(c *gin.Context) {
	run, err := h.engine.SyncAll(c.Request.Context(), sync_engine.TriggerManual)
	if err != nil {
		h.logger.Error("Manual sync failed", zap.Error(err))
		if run == nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to start sync"})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"run": run})
}

// MessageStatus handles GET /api/messages/:message_id/status
func (h *syncHandler) MessageStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.engine.SyncMessageStatus(c.Request.Context(), scopeFrom(c), c.Param("message_id")))
}

// RefreshGroup handles POST /api/groups/:id/refresh
func (h *syncHandler) RefreshGroup(c *gin.Context) {
	id, ok := paramID(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, h.engine.RefreshGroup(c.Request.Context(), scopeFrom(c), id))
}

// ListRuns handles GET /api/sync/runs?limit=
func (h *syncHandler) ListRuns(c *gin.Context) {
	runs, err := h.runs.List(queryInt(c, "limit", 20, 100))
	if err != nil {
		respondError(c, h.logger, err, "Failed to retrieve sync runs")
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs})
}
