package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"whatsapp-sync/internal/models"
	"whatsapp-sync/internal/repository"
)

const (
	defaultPageSize = 50
	maxPageSize     = 500
)

type ListingHandler interface {
	ListContacts(c *gin.Context)
	ListGroups(c *gin.Context)
	GetGroup(c *gin.Context)
	ListMessages(c *gin.Context)
}

type listingHandler struct {
	store  *repository.Store
	logger *zap.Logger
}

func NewListingHandler(store *repository.Store, logger *zap.Logger) ListingHandler {
	return &listingHandler{store: store, logger: logger}
}

// ListContacts handles GET /api/contacts?limit=&offset=
func (h *listingHandler) ListContacts(c *gin.Context) {
	limit := queryInt(c, "limit", defaultPageSize, maxPageSize)
	offset := queryInt(c, "offset", 0, 0)

	contacts, err := h.store.Contacts.List(limit, offset)
	if err != nil {
		respondError(c, h.logger, err, "Failed to retrieve contacts")
		return
	}
	total, err := h.store.Contacts.Count()
	if err != nil {
		respondError(c, h.logger, err, "Failed to count contacts")
		return
	}
	c.JSON(http.StatusOK, gin.H{"contacts": contacts, "total": total})
}

// ListGroups handles GET /api/groups?limit=&offset=
func (h *listingHandler) ListGroups(c *gin.Context) {
	limit := queryInt(c, "limit", defaultPageSize, maxPageSize)
	offset := queryInt(c, "offset", 0, 0)

	groups, err := h.store.Groups.List(limit, offset)
	if err != nil {
		respondError(c, h.logger, err, "Failed to retrieve groups")
		return
	}
	for _, g := range groups {
		participants, err := h.store.Groups.ListParticipants(g.ID)
		if err != nil {
			respondError(c, h.logger, err, "Failed to retrieve group participants")
			return
		}
		g.Participants = participants
	}
	c.JSON(http.StatusOK, gin.H{"groups": groups})
}

// GetGroup handles GET /api/groups/:id
func (h *listingHandler) GetGroup(c *gin.Context) {
	id, ok := paramID(c)
	if !ok {
		return
	}
	group, err := h.store.Groups.GetByID(id)
	if err != nil {
		respondError(c, h.logger, err, "Failed to retrieve group")
		return
	}
	if group == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Group not found"})
		return
	}
	participants, err := h.store.Groups.ListParticipants(group.ID)
	if err != nil {
		respondError(c, h.logger, err, "Failed to retrieve group participants")
		return
	}
	group.Participants = participants
	c.JSON(http.StatusOK, gin.H{"group": group, "invite_link": group.InviteLink()})
}

// ListMessages handles GET /api/messages?chat_id=&group_id=&limit=&offset=
func (h *listingHandler) ListMessages(c *gin.Context) {
	filter := models.MessageFilter{
		ChatID: c.Query("chat_id"),
		Limit:  queryInt(c, "limit", defaultPageSize, maxPageSize),
		Offset: queryInt(c, "offset", 0, 0),
	}
	if raw := c.Query("group_id"); raw != "" {
		groupRef, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid group_id"})
			return
		}
		filter.GroupRef = &groupRef
	}

	messages, err := h.store.Messages.List(filter)
	if err != nil {
		respondError(c, h.logger, err, "Failed to retrieve messages")
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": messages})
}
