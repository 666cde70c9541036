// Package webhook_processor applies inbound provider callbacks (new
// messages, edits, deletions and delivery receipts) to the stored
// contacts, groups and messages.
package webhook_processor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"whatsapp-sync/internal/directory"
	"whatsapp-sync/internal/event_publisher"
	"whatsapp-sync/internal/metrics"
	"whatsapp-sync/internal/models"
	"whatsapp-sync/internal/provider"
	"whatsapp-sync/internal/provider/whapi"
	"whatsapp-sync/internal/repository"
)

// DeletedPlaceholder replaces the body of a deleted message.
const DeletedPlaceholder = "[This message was deleted]"

const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Result is the aggregate outcome of one webhook delivery.
type Result struct {
	Status         string `json:"status"`
	ProcessedCount int    `json:"processed_count"`
	ErrorCount     int    `json:"error_count"`
	Message        string `json:"message,omitempty"`
}

func (r *Result) count(err error) {
	if err != nil {
		r.ErrorCount++
		return
	}
	r.ProcessedCount++
}

// ProviderResolver builds adapters for webhook validation and parsing.
// *provider.Factory implements it.
type ProviderResolver interface {
	ProviderForConfiguration(ctx context.Context, cfg *models.Configuration) (provider.Provider, error)
	DefaultProvider(ctx context.Context) (provider.Provider, *models.Configuration, error)
}

type Processor struct {
	store     *repository.Store
	dir       *directory.Directory
	providers ProviderResolver
	publisher event_publisher.Publisher
	metrics   *metrics.Metrics
	logger    *zap.Logger
}

func NewProcessor(
	store *repository.Store,
	dir *directory.Directory,
	providers ProviderResolver,
	publisher event_publisher.Publisher,
	m *metrics.Metrics,
	logger *zap.Logger,
) *Processor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Processor{
		store:     store,
		dir:       dir,
		providers: providers,
		publisher: publisher,
		metrics:   m,
		logger:    logger,
	}
}

// payload is the WHAPI webhook body. Events stay raw so a malformed entry
// only fails itself.
type payload struct {
	ChannelID       string            `json:"channel_id"`
	Messages        []json.RawMessage `json:"messages"`
	MessagesUpdates []json.RawMessage `json:"messages_updates"`
	MessagesRemoved []json.RawMessage `json:"messages_removed"`
	Statuses        []json.RawMessage `json:"statuses"`
	Entry           []struct {
		Changes []struct {
			Value struct {
				Statuses []json.RawMessage `json:"statuses"`
			} `json:"value"`
		} `json:"changes"`
	} `json:"entry"`
}

// Process handles one WHAPI webhook body. Updates are applied before
// removals, removals before new messages and statuses last.
func (p *Processor) Process(ctx context.Context, body []byte) Result {
	var data payload
	if err := json.Unmarshal(body, &data); err != nil {
		p.logger.Warn("Rejected malformed webhook payload", zap.Error(err))
		return Result{Status: StatusError, Message: "invalid payload: " + err.Error()}
	}

	cfg := p.configurationFor(data.ChannelID)
	res := Result{Status: StatusSuccess}

	for _, raw := range data.MessagesUpdates {
		err := p.withEvent(raw, func(event map[string]any) error {
			return p.handleUpdate(ctx, cfg, event)
		})
		p.observe("update", err)
		res.count(err)
	}

	for _, raw := range data.MessagesRemoved {
		var id string
		err := json.Unmarshal(raw, &id)
		if err == nil {
			err = p.handleRemoval(ctx, id)
		}
		if err != nil {
			p.logger.Error("Failed to process message removal", zap.ByteString("event", raw), zap.Error(err))
		}
		p.observe("removal", err)
		res.count(err)
	}

	for _, raw := range data.Messages {
		err := p.withEvent(raw, func(event map[string]any) error {
			return p.handleMessage(ctx, cfg, whapi.ParseMessage(event), models.ProviderWhapi)
		})
		p.observe("message", err)
		res.count(err)
	}

	statuses := data.Statuses
	for _, entry := range data.Entry {
		for _, change := range entry.Changes {
			statuses = append(statuses, change.Value.Statuses...)
		}
	}
	for _, raw := range statuses {
		err := p.withEvent(raw, func(event map[string]any) error {
			update := provider.StatusUpdate{
				MessageID: provider.String(event, "id"),
				Status:    whapi.MapStatus(provider.String(event, "status")),
				Timestamp: provider.Int64(event, "timestamp"),
			}
			if errs := provider.Maps(event, "errors"); len(errs) > 0 {
				update.Error = provider.FirstString(errs[0], "title", "message")
			}
			return p.applyStatus(update)
		})
		p.observe("status", err)
		res.count(err)
	}

	p.logger.Info("Webhook processed",
		zap.String("channel_id", data.ChannelID),
		zap.Int("processed", res.ProcessedCount),
		zap.Int("errors", res.ErrorCount),
	)
	return res
}

// IngestMessages stores messages already parsed by a provider adapter.
func (p *Processor) IngestMessages(ctx context.Context, cfg *models.Configuration, messages []provider.Message) Result {
	providerName := models.ProviderWhapi
	if cfg != nil && cfg.Provider != "" {
		providerName = cfg.Provider
	}
	res := Result{Status: StatusSuccess}
	for _, m := range messages {
		err := p.handleMessage(ctx, cfg, m, providerName)
		if err != nil {
			p.logger.Error("Failed to ingest message", zap.String("message_id", m.ID), zap.Error(err))
		}
		p.observe("message", err)
		res.count(err)
	}
	return res
}

// ApplyStatuses stores delivery receipts parsed by a provider adapter.
func (p *Processor) ApplyStatuses(ctx context.Context, updates []provider.StatusUpdate) Result {
	res := Result{Status: StatusSuccess}
	for _, u := range updates {
		err := p.applyStatus(u)
		if err != nil {
			p.logger.Error("Failed to apply status", zap.String("message_id", u.MessageID), zap.Error(err))
		}
		p.observe("status", err)
		res.count(err)
	}
	return res
}

// HandleProviderWebhook authenticates and processes a callback for the
// named provider using its first active configuration. Without a name the
// factory's default provider validates and parses the callback. The boolean
// is false when the signature check fails.
func (p *Processor) HandleProviderWebhook(ctx context.Context, name string, req provider.WebhookRequest) (Result, bool) {
	adapter, cfg, err := p.webhookProvider(ctx, name)
	if err != nil {
		p.logger.Warn("No provider for webhook", zap.String("provider", name), zap.Error(err))
		return Result{Status: StatusError, Message: err.Error()}, true
	}
	if name == "" {
		name = adapter.Name()
	}
	if !adapter.ValidateWebhook(req) {
		p.logger.Warn("Rejected webhook with invalid signature", zap.String("provider", name))
		p.observe("signature", errors.New("invalid signature"))
		return Result{Status: StatusError, Message: "invalid signature"}, false
	}

	if strings.EqualFold(name, models.ProviderWhapi) {
		return p.Process(ctx, req.Body), true
	}

	res := p.IngestMessages(ctx, cfg, adapter.ParseWebhookMessage(req.Body))
	statuses := p.ApplyStatuses(ctx, adapter.ParseWebhookStatus(req.Body))
	res.ProcessedCount += statuses.ProcessedCount
	res.ErrorCount += statuses.ErrorCount
	return res, true
}

func (p *Processor) webhookProvider(ctx context.Context, name string) (provider.Provider, *models.Configuration, error) {
	if name == "" {
		return p.providers.DefaultProvider(ctx)
	}
	cfg, err := p.activeConfiguration(name)
	if err != nil {
		return nil, nil, err
	}
	adapter, err := p.providers.ProviderForConfiguration(ctx, cfg)
	if err != nil {
		return nil, cfg, err
	}
	return adapter, cfg, nil
}

func (p *Processor) activeConfiguration(name string) (*models.Configuration, error) {
	configs, err := p.store.Configurations.ListActive()
	if err != nil {
		return nil, fmt.Errorf("failed to list configurations: %w", err)
	}
	for _, cfg := range configs {
		if strings.EqualFold(cfg.Provider, name) {
			return cfg, nil
		}
	}
	return nil, fmt.Errorf("no active configuration for provider %s", name)
}

func (p *Processor) configurationFor(channelID string) *models.Configuration {
	if channelID == "" {
		return nil
	}
	cfg, err := p.store.Configurations.GetByChannelID(channelID)
	if err != nil {
		p.logger.Error("Failed to resolve channel", zap.String("channel_id", channelID), zap.Error(err))
		return nil
	}
	if cfg == nil {
		p.logger.Warn("No configuration for channel, processing without configuration linkage", zap.String("channel_id", channelID))
	}
	return cfg
}

func (p *Processor) withEvent(raw json.RawMessage, handle func(map[string]any) error) error {
	var event map[string]any
	if err := json.Unmarshal(raw, &event); err != nil || event == nil {
		p.logger.Error("Skipping malformed webhook event", zap.ByteString("event", raw), zap.Error(err))
		return fmt.Errorf("malformed event: %s", raw)
	}
	if err := handle(event); err != nil {
		p.logger.Error("Failed to process webhook event",
			zap.String("id", provider.String(event, "id")),
			zap.Error(err),
		)
		return err
	}
	return nil
}

func (p *Processor) observe(kind string, err error) {
	outcome := "processed"
	if err != nil {
		outcome = "failed"
	}
	p.metrics.IncWebhookEvent(kind, outcome)
}

func (p *Processor) emit(ctx context.Context, eventType string, msg *models.Message) {
	event_publisher.Emit(ctx, p.publisher, p.logger, eventType, msg)
}

func configurationID(cfg *models.Configuration) *int64 {
	if cfg == nil {
		return nil
	}
	id := cfg.ID
	return &id
}
