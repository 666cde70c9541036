package handler

import (
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"whatsapp-sync/internal/media"
	"whatsapp-sync/internal/provider"
	"whatsapp-sync/internal/service"
)

// maxUploadBytes bounds multipart media uploads.
const maxUploadBytes = 64 << 20

type MessagingHandler interface {
	SendText(c *gin.Context)
	SendMedia(c *gin.Context)
	CreateGroup(c *gin.Context)
	GroupInviteLink(c *gin.Context)
	AddParticipants(c *gin.Context)
	RemoveParticipants(c *gin.Context)
	CheckContacts(c *gin.Context)
}

type messagingHandler struct {
	messaging *service.MessagingService
	logger    *zap.Logger
}

func NewMessagingHandler(messaging *service.MessagingService, logger *zap.Logger) MessagingHandler {
	return &messagingHandler{messaging: messaging, logger: logger}
}

type SendTextRequest struct {
	To   string `json:"to"`
	Body string `json:"body"`
}

// SendText handles POST /api/messages/text
func (h *messagingHandler) SendText(c *gin.Context) {
	var req SendTextRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	msg, err := h.messaging.SendText(c.Request.Context(), scopeFrom(c), req.To, req.Body)
	if err != nil {
		respondError(c, h.logger, err, "Failed to send message")
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": msg})
}

// SendMediaRequest carries the payload as base64 (a data URL prefix is
// accepted) or a hosted URL.
type SendMediaRequest struct {
	To       string `json:"to"`
	Type     string `json:"type"`
	Media    string `json:"media"`
	URL      string `json:"url"`
	Filename string `json:"filename"`
	Caption  string `json:"caption"`
	MimeType string `json:"mime_type"`
}

// SendMedia handles POST /api/messages/media as JSON or multipart with a
// "file" part.
func (h *messagingHandler) SendMedia(c *gin.Context) {
	var req SendMediaRequest
	var payload []byte

	if strings.HasPrefix(c.ContentType(), "multipart/") {
		req.To = c.PostForm("to")
		req.Type = c.PostForm("type")
		req.Caption = c.PostForm("caption")
		req.URL = c.PostForm("url")

		file, err := c.FormFile("file")
		if err == nil {
			if file.Size > maxUploadBytes {
				c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "file too large"})
				return
			}
			f, err := file.Open()
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable file"})
				return
			}
			payload, err = io.ReadAll(f)
			f.Close()
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable file"})
				return
			}
			req.Filename = file.Filename
			req.MimeType = file.Header.Get("Content-Type")
		}
	} else {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if req.Media != "" {
			data := req.Media
			if strings.HasPrefix(data, "data:") {
				if i := strings.Index(data, ";base64,"); i >= 0 {
					if req.MimeType == "" {
						req.MimeType = strings.SplitN(data[len("data:"):i], ";", 2)[0]
					}
					data = data[i+len(";base64,"):]
				}
			}
			payload = []byte(data)
		}
	}

	if req.MimeType == "" || req.MimeType == "application/octet-stream" {
		category := req.Type
		if category == "" {
			category = "document"
		}
		req.MimeType = media.MimeType(category, req.Filename)
	}

	msg, err := h.messaging.SendMedia(c.Request.Context(), scopeFrom(c), req.To, provider.MediaMessage{
		Type:     req.Type,
		Payload:  payload,
		URL:      req.URL,
		Filename: req.Filename,
		Caption:  req.Caption,
		MimeType: req.MimeType,
	})
	if err != nil {
		respondError(c, h.logger, err, "Failed to send media")
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": msg})
}

type CreateGroupRequest struct {
	Name         string   `json:"name"`
	Description  string   `json:"description"`
	Participants []string `json:"participants"`
}

// CreateGroup handles POST /api/groups
func (h *messagingHandler) CreateGroup(c *gin.Context) {
	var req CreateGroupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	group, err := h.messaging.CreateGroup(c.Request.Context(), scopeFrom(c), req.Name, req.Description, req.Participants)
	if err != nil {
		respondError(c, h.logger, err, "Failed to create group")
		return
	}
	c.JSON(http.StatusCreated, gin.H{"group": group, "invite_link": group.InviteLink()})
}

// GroupInviteLink handles GET /api/groups/:id/invite
func (h *messagingHandler) GroupInviteLink(c *gin.Context) {
	id, ok := paramID(c)
	if !ok {
		return
	}
	link, err := h.messaging.GroupInviteLink(c.Request.Context(), scopeFrom(c), id)
	if err != nil {
		respondError(c, h.logger, err, "Failed to get invite link")
		return
	}
	c.JSON(http.StatusOK, gin.H{"invite_link": link})
}

type ParticipantsRequest struct {
	Participants []string `json:"participants"`
}

// AddParticipants handles POST /api/groups/:id/participants
func (h *messagingHandler) AddParticipants(c *gin.Context) {
	id, req, ok := h.participantsRequest(c)
	if !ok {
		return
	}
	res, err := h.messaging.AddParticipants(c.Request.Context(), scopeFrom(c), id, req.Participants)
	if err != nil {
		respondError(c, h.logger, err, "Failed to add participants")
		return
	}
	c.JSON(http.StatusOK, res)
}

// RemoveParticipants handles DELETE /api/groups/:id/participants
func (h *messagingHandler) RemoveParticipants(c *gin.Context) {
	id, req, ok := h.participantsRequest(c)
	if !ok {
		return
	}
	res, err := h.messaging.RemoveParticipants(c.Request.Context(), scopeFrom(c), id, req.Participants)
	if err != nil {
		respondError(c, h.logger, err, "Failed to remove participants")
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *messagingHandler) participantsRequest(c *gin.Context) (int64, ParticipantsRequest, bool) {
	var req ParticipantsRequest
	id, ok := paramID(c)
	if !ok {
		return 0, req, false
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return 0, req, false
	}
	return id, req, true
}

type CheckContactsRequest struct {
	Phones []string `json:"phones"`
}

// CheckContacts handles POST /api/contacts/check
func (h *messagingHandler) CheckContacts(c *gin.Context) {
	var req CheckContactsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	res, err := h.messaging.CheckContacts(c.Request.Context(), scopeFrom(c), req.Phones)
	if err != nil {
		respondError(c, h.logger, err, "Failed to check contacts")
		return
	}
	c.JSON(http.StatusOK, res)
}
