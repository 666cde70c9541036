package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"whatsapp-sync/internal/provider"
	"whatsapp-sync/internal/webhook_processor"
)

// WebhookHandler receives provider callbacks. It always answers 200 so
// gateways do not retry deliveries the processor already rejected.
type WebhookHandler interface {
	Whapi(c *gin.Context)
	Provider(c *gin.Context)
}

type webhookHandler struct {
	processor *webhook_processor.Processor
	logger    *zap.Logger
}

func NewWebhookHandler(processor *webhook_processor.Processor, logger *zap.Logger) WebhookHandler {
	return &webhookHandler{processor: processor, logger: logger}
}

// Whapi handles POST /webhook/whapi/messages and /webhook/whapi/statuses.
func (h *webhookHandler) Whapi(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		h.logger.Error("Failed to read webhook body", zap.Error(err))
		c.JSON(http.StatusOK, webhook_processor.Result{Status: webhook_processor.StatusError, Message: "unreadable body"})
		return
	}
	c.JSON(http.StatusOK, h.processor.Process(c.Request.Context(), body))
}

// Provider handles POST /webhook/:provider for any registered adapter, and
// POST /webhook, which is routed to the default provider.
func (h *webhookHandler) Provider(c *gin.Context) {
	name := strings.ToLower(c.Param("provider"))
	body, err := c.GetRawData()
	if err != nil {
		h.logger.Error("Failed to read webhook body", zap.String("provider", name), zap.Error(err))
		c.JSON(http.StatusOK, webhook_processor.Result{Status: webhook_processor.StatusError, Message: "unreadable body"})
		return
	}

	url := "https://" + c.Request.Host + c.Request.URL.RequestURI()
	if proto := c.GetHeader("X-Forwarded-Proto"); proto != "" {
		url = proto + "://" + c.Request.Host + c.Request.URL.RequestURI()
	}
	req := provider.WebhookRequest{
		URL:     url,
		Headers: c.Request.Header,
		Body:    body,
	}

	res, _ := h.processor.HandleProviderWebhook(c.Request.Context(), name, req)
	c.JSON(http.StatusOK, res)
}
