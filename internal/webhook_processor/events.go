package webhook_processor

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"whatsapp-sync/internal/directory"
	"whatsapp-sync/internal/event_publisher"
	"whatsapp-sync/internal/models"
	"whatsapp-sync/internal/provider"
	"whatsapp-sync/internal/provider/whapi"
)

// handleMessage stores a new message, linking its sender and group. A
// message id seen before only refreshes metadata and timestamp.
func (p *Processor) handleMessage(ctx context.Context, cfg *models.Configuration, m provider.Message, providerName string) error {
	if m.Type == models.MessageTypeAction {
		return p.handleAction(ctx, cfg, m)
	}

	isGroup := models.IsGroupChat(m.ChatID)
	sender := m.From
	if sender == "" && !isGroup {
		sender = m.ChatID
	}
	if m.ID == "" || m.ChatID == "" || (sender == "" && !m.FromMe) {
		return errors.New("missing required fields (id, chat_id, from)")
	}

	msg := directory.MessageFromProvider(m, providerName, configurationID(cfg))

	var group *models.Group
	if isGroup {
		g, err := p.group(cfg, m.ChatID, m.ChatName, providerName)
		if err != nil {
			return err
		}
		group = g
		msg.GroupRef = &group.ID
		if msg.ConfigurationID == nil {
			msg.ConfigurationID = group.ConfigurationID
		}
	}

	if sender != "" && !m.FromMe {
		contactID, phone := directory.CanonicalContact(sender)
		contact, _, err := p.dir.ResolveContact(directory.ContactInput{
			ContactID:       contactID,
			Phone:           phone,
			Name:            m.FromName,
			Pushname:        m.FromName,
			IsWAContact:     true,
			IsChatContact:   true,
			Provider:        providerName,
			ConfigurationID: configurationID(cfg),
		})
		if err != nil {
			return fmt.Errorf("failed to resolve sender %s: %w", sender, err)
		}
		msg.ContactRef = &contact.ID

		if group != nil {
			added, err := p.dir.LinkParticipant(group, contact)
			if err != nil {
				return err
			}
			if added {
				p.logger.Info("Added contact to group",
					zap.String("contact_id", contact.ContactID),
					zap.String("group_id", group.GroupID),
				)
			}
		}
	}

	stored, created, err := p.dir.UpsertMessage(msg)
	if err != nil {
		return err
	}
	if created {
		p.logger.Info("Stored webhook message", zap.String("message_id", stored.MessageID), zap.String("chat_id", stored.ChatID))
		p.emit(ctx, event_publisher.EventMessageReceived, stored)
	} else {
		p.logger.Debug("Message redelivered, metadata refreshed", zap.String("message_id", stored.MessageID))
	}
	return nil
}

// group finds or creates the chat's group. A known chat name refreshes the
// stored one.
func (p *Processor) group(cfg *models.Configuration, groupID, name, providerName string) (*models.Group, error) {
	in := directory.GroupInput{
		GroupID:         groupID,
		Name:            name,
		Provider:        providerName,
		ConfigurationID: configurationID(cfg),
	}
	if name == "" {
		return p.dir.EnsureGroup(in)
	}
	g, _, err := p.dir.UpsertGroup(in)
	return g, err
}

func (p *Processor) handleAction(ctx context.Context, cfg *models.Configuration, m provider.Message) error {
	action := provider.Map(m.Raw, "action")
	if m.ID == "" || m.ChatID == "" || action == nil {
		return errors.New("missing required fields in action message")
	}
	actionType := provider.String(action, "type")
	target := provider.String(action, "target")
	if actionType == "" || target == "" {
		return errors.New("missing action type or target")
	}

	switch actionType {
	case "edit":
		return p.handleEdit(ctx, cfg, m, target, action)
	case "delete":
		return p.handleDelete(ctx, cfg, m, target)
	default:
		p.logger.Info("Ignoring unhandled action", zap.String("type", actionType), zap.String("message_id", m.ID))
		return nil
	}
}

func (p *Processor) handleEdit(ctx context.Context, cfg *models.Configuration, m provider.Message, target string, action map[string]any) error {
	existing, err := p.store.Messages.GetByMessageID(target)
	if err != nil {
		return fmt.Errorf("failed to look up message %s: %w", target, err)
	}
	if existing == nil {
		p.logger.Warn("Edit target not found", zap.String("target", target))
		return p.systemMessage(ctx, cfg, m, "Message edit")
	}
	if existing.Status == models.StatusDeleted {
		p.logger.Info("Ignoring edit of deleted message", zap.String("target", target))
		return p.systemMessage(ctx, cfg, m, "Message edit")
	}

	body := provider.String(action, "edited_content", "body")
	if body == "" {
		body = existing.Body
	}
	existing.Body = body
	existing.Metadata = directory.JSON(map[string]any{
		"original_metadata": directory.Decode(existing.Metadata),
		"edit_action":       m.Raw,
	})
	if err := p.store.Messages.Update(existing); err != nil {
		return fmt.Errorf("failed to apply edit to %s: %w", target, err)
	}
	p.logger.Info("Applied message edit", zap.String("message_id", target))
	p.emit(ctx, event_publisher.EventMessageEdited, existing)

	return p.systemMessage(ctx, cfg, m, "Message edited: "+body)
}

func (p *Processor) handleDelete(ctx context.Context, cfg *models.Configuration, m provider.Message, target string) error {
	existing, err := p.store.Messages.GetByMessageID(target)
	if err != nil {
		return fmt.Errorf("failed to look up message %s: %w", target, err)
	}
	switch {
	case existing == nil:
		p.logger.Warn("Delete target not found", zap.String("target", target))
	case existing.Status == models.StatusDeleted:
		p.logger.Debug("Delete target already deleted", zap.String("target", target))
	default:
		if err := p.redact(existing, map[string]any{"delete_action": m.Raw}); err != nil {
			return err
		}
		p.logger.Info("Marked message as deleted", zap.String("message_id", target))
		p.emit(ctx, event_publisher.EventMessageDeleted, existing)
	}
	return p.systemMessage(ctx, cfg, m, "Message deleted")
}

// redact replaces the body with the placeholder and keeps the previous
// metadata under original_metadata.
func (p *Processor) redact(msg *models.Message, extra map[string]any) error {
	meta := map[string]any{"original_metadata": directory.Decode(msg.Metadata)}
	for k, v := range extra {
		meta[k] = v
	}
	msg.Body = DeletedPlaceholder
	msg.Status = models.StatusDeleted
	msg.Metadata = directory.JSON(meta)
	if err := p.store.Messages.Update(msg); err != nil {
		return fmt.Errorf("failed to mark %s deleted: %w", msg.MessageID, err)
	}
	return nil
}

// systemMessage records the action event itself as a narrated message.
func (p *Processor) systemMessage(ctx context.Context, cfg *models.Configuration, m provider.Message, description string) error {
	existing, err := p.store.Messages.GetByMessageID(m.ID)
	if err != nil {
		return fmt.Errorf("failed to look up message %s: %w", m.ID, err)
	}
	if existing != nil {
		p.logger.Debug("System message already recorded", zap.String("message_id", m.ID))
		return nil
	}

	author := m.FromName
	if author == "" {
		author = "System"
	}
	msg := &models.Message{
		MessageID:       m.ID,
		Body:            fmt.Sprintf("[System] %s by %s", description, author),
		MessageType:     models.MessageTypeSystem,
		ChatID:          m.ChatID,
		Timestamp:       m.Timestamp,
		Status:          models.StatusDelivered,
		Metadata:        directory.JSON(m.Raw),
		ConfigurationID: configurationID(cfg),
		Provider:        models.ProviderWhapi,
	}
	if models.IsGroupChat(m.ChatID) {
		group, err := p.group(cfg, m.ChatID, m.ChatName, models.ProviderWhapi)
		if err != nil {
			return err
		}
		msg.GroupRef = &group.ID
		if msg.ConfigurationID == nil {
			msg.ConfigurationID = group.ConfigurationID
		}
	}
	_, _, err = p.dir.UpsertMessage(msg)
	return err
}

// handleUpdate applies a messages_updates patch. An unknown target is
// created from the after_update payload.
func (p *Processor) handleUpdate(ctx context.Context, cfg *models.Configuration, event map[string]any) error {
	id := provider.String(event, "id")
	if id == "" {
		return errors.New("update without message id")
	}
	after := provider.Map(event, "after_update")

	newType := provider.String(after, "type")
	if newType == "" {
		newType = provider.String(event, "trigger", "action", "edited_type")
	}
	body := updatedBody(newType, after)

	existing, err := p.store.Messages.GetByMessageID(id)
	if err != nil {
		return fmt.Errorf("failed to look up message %s: %w", id, err)
	}
	if existing != nil && existing.Status == models.StatusDeleted {
		p.logger.Info("Ignoring update of deleted message", zap.String("message_id", id))
		return nil
	}
	if existing != nil {
		existing.Body = body
		if newType != "" {
			existing.MessageType = newType
		}
		existing.Metadata = directory.JSON(event)
		if err := p.store.Messages.Update(existing); err != nil {
			return fmt.Errorf("failed to apply update to %s: %w", id, err)
		}
		p.emit(ctx, event_publisher.EventMessageEdited, existing)
		return nil
	}

	if len(after) == 0 {
		return fmt.Errorf("message %s not found and update has no content", id)
	}
	created := make(map[string]any, len(after)+2)
	for k, v := range after {
		created[k] = v
	}
	created["id"] = id
	if newType == models.MessageTypeText {
		if _, ok := created["text"]; !ok {
			created["text"] = map[string]any{"body": body}
		}
	}
	return p.handleMessage(ctx, cfg, whapi.ParseMessage(created), models.ProviderWhapi)
}

func updatedBody(msgType string, after map[string]any) string {
	switch msgType {
	case models.MessageTypeText:
		return provider.String(after, "text", "body")
	case models.MessageTypeImage, models.MessageTypeVideo, models.MessageTypeAudio, models.MessageTypeDocument:
		if caption := provider.String(after, msgType, "caption"); caption != "" {
			return caption
		}
		return provider.Title(msgType) + " message"
	}
	if body := provider.String(after, "text", "body"); body != "" {
		return body
	}
	if msgType == "" {
		msgType = models.MessageTypeText
	}
	return provider.Title(msgType) + " message"
}

// handleRemoval marks a message from messages_removed as deleted.
func (p *Processor) handleRemoval(ctx context.Context, id string) error {
	if id == "" {
		return errors.New("empty message id")
	}
	existing, err := p.store.Messages.GetByMessageID(id)
	if err != nil {
		return fmt.Errorf("failed to look up message %s: %w", id, err)
	}
	if existing == nil {
		p.logger.Warn("Message not found for removal event", zap.String("message_id", id))
		return fmt.Errorf("message %s not found", id)
	}
	if existing.Status == models.StatusDeleted {
		p.logger.Debug("Message already deleted", zap.String("message_id", id))
		return nil
	}
	if err := p.redact(existing, nil); err != nil {
		return err
	}
	p.emit(ctx, event_publisher.EventMessageDeleted, existing)
	return nil
}

// applyStatus stores a delivery receipt. Unknown message ids and status
// values outside the canonical vocabulary are ignored.
func (p *Processor) applyStatus(u provider.StatusUpdate) error {
	if u.MessageID == "" {
		return errors.New("status without message id")
	}
	if u.Status == "" || u.Status == models.StatusUnknown {
		p.logger.Debug("Unrecognised status ignored", zap.String("message_id", u.MessageID))
		return nil
	}
	found, err := p.store.Messages.UpdateStatus(u.MessageID, u.Status, u.Error)
	if err != nil {
		return fmt.Errorf("failed to update status of %s: %w", u.MessageID, err)
	}
	if !found {
		p.logger.Debug("Status for unknown message ignored", zap.String("message_id", u.MessageID))
	}
	return nil
}
