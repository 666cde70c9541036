package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"whatsapp-sync/internal/directory"
	"whatsapp-sync/internal/event_publisher"
	"whatsapp-sync/internal/media"
	"whatsapp-sync/internal/models"
	"whatsapp-sync/internal/provider"
	"whatsapp-sync/internal/repository"
)

// ScopedProviders resolves the adapter an operator may use.
type ScopedProviders interface {
	ProviderForScope(ctx context.Context, scope models.Scope) (provider.Provider, *models.Configuration, error)
}

// MessagingService sends messages and manages groups through the caller's
// provider and mirrors the outcome into storage.
type MessagingService struct {
	providers ScopedProviders
	store     *repository.Store
	dir       *directory.Directory
	publisher event_publisher.Publisher
	logger    *zap.Logger
	now       func() time.Time
}

func NewMessagingService(providers ScopedProviders, store *repository.Store, dir *directory.Directory, publisher event_publisher.Publisher, logger *zap.Logger) *MessagingService {
	return &MessagingService{
		providers: providers,
		store:     store,
		dir:       dir,
		publisher: publisher,
		logger:    logger,
		now:       time.Now,
	}
}

// SendText stores the message as pending, sends it and records the outcome.
// A provider failure returns the failed record together with ErrProviderFailed.
func (s *MessagingService) SendText(ctx context.Context, scope models.Scope, to, body string) (*models.Message, error) {
	if strings.TrimSpace(to) == "" {
		return nil, invalid("to", "recipient is required")
	}
	if strings.TrimSpace(body) == "" {
		return nil, invalid("body", "message body is required")
	}
	p, cfg, err := s.providers.ProviderForScope(ctx, scope)
	if err != nil {
		return nil, err
	}

	msg, err := s.pending(p, cfg, to, models.MessageTypeText, body)
	if err != nil {
		return nil, err
	}
	return s.complete(ctx, msg, p.SendText(ctx, to, body))
}

// SendMedia sends an attachment given as payload bytes or a hosted URL.
func (s *MessagingService) SendMedia(ctx context.Context, scope models.Scope, to string, m provider.MediaMessage) (*models.Message, error) {
	if strings.TrimSpace(to) == "" {
		return nil, invalid("to", "recipient is required")
	}
	if len(m.Payload) == 0 && m.URL == "" {
		return nil, invalid("media", "media payload or url is required")
	}
	if m.Type == "" {
		m.Type = media.MessageTypeFromMime(m.MimeType)
	}
	if !models.MediaMessageTypes[m.Type] {
		return nil, invalid("type", "unsupported media type "+m.Type)
	}
	p, cfg, err := s.providers.ProviderForScope(ctx, scope)
	if err != nil {
		return nil, err
	}

	body := m.Caption
	if body == "" {
		body = provider.Title(m.Type) + " message"
	}
	msg, err := s.pending(p, cfg, to, m.Type, body)
	if err != nil {
		return nil, err
	}
	msg.Caption = m.Caption
	msg.MediaURL = m.URL
	msg.MediaType = m.MimeType
	return s.complete(ctx, msg, p.SendMedia(ctx, to, m))
}

func (s *MessagingService) pending(p provider.Provider, cfg *models.Configuration, to, msgType, body string) (*models.Message, error) {
	chatID := models.UserChatID(to)
	msg := &models.Message{
		MessageID:       "pending-" + uuid.NewString(),
		Body:            body,
		MessageType:     msgType,
		ChatID:          chatID,
		FromMe:          true,
		Timestamp:       s.now().Unix(),
		Status:          models.StatusPending,
		ConfigurationID: &cfg.ID,
		Provider:        p.Name(),
	}

	if models.IsGroupChat(chatID) {
		group, err := s.store.Groups.GetByGroupID(chatID)
		if err != nil {
			return nil, fmt.Errorf("failed to look up group %s: %w", chatID, err)
		}
		if group != nil {
			msg.GroupRef = &group.ID
		}
	} else {
		contactID, phone := directory.CanonicalContact(chatID)
		contact, err := s.store.Contacts.FindByContactIDOrPhone(contactID, phone)
		if err != nil {
			return nil, fmt.Errorf("failed to look up contact %s: %w", contactID, err)
		}
		if contact != nil {
			msg.ContactRef = &contact.ID
		}
	}

	now := s.now()
	msg.SyncedAt = &now
	if err := s.store.Messages.Create(msg); err != nil {
		s.logger.Error("Failed to store outbound message", zap.String("chat_id", chatID), zap.Error(err))
		return nil, fmt.Errorf("failed to store message: %w", err)
	}
	return msg, nil
}

func (s *MessagingService) complete(ctx context.Context, msg *models.Message, res provider.SendResult) (*models.Message, error) {
	if !res.Success {
		msg.Status = models.StatusFailed
		msg.ErrorMessage = res.Message
		if err := s.store.Messages.Update(msg); err != nil {
			s.logger.Error("Failed to mark message failed", zap.Int64("id", msg.ID), zap.Error(err))
		}
		s.logger.Warn("Message send failed", zap.String("chat_id", msg.ChatID), zap.String("reason", res.Message))
		return msg, fmt.Errorf("%w: %s", ErrProviderFailed, res.Message)
	}

	if res.MessageID != "" {
		msg.MessageID = res.MessageID
	}
	msg.Status = models.StatusSent
	if res.Status != "" && res.Status != models.StatusPending && res.Status != models.StatusUnknown {
		msg.Status = res.Status
	}
	msg.Metadata = directory.JSON(res.Data)
	if err := s.store.Messages.Update(msg); err != nil {
		s.logger.Error("Failed to mark message sent", zap.String("message_id", msg.MessageID), zap.Error(err))
		return msg, fmt.Errorf("message sent but not stored: %w", err)
	}
	s.logger.Info("Message sent", zap.String("message_id", msg.MessageID), zap.String("chat_id", msg.ChatID))
	event_publisher.Emit(ctx, s.publisher, s.logger, event_publisher.EventMessageSent, msg)
	return msg, nil
}

// CreateGroup creates the group at the provider, then stores it with its
// participants. Participants may be contact ids or phone numbers.
func (s *MessagingService) CreateGroup(ctx context.Context, scope models.Scope, name, description string, participants []string) (*models.Group, error) {
	if strings.TrimSpace(name) == "" {
		return nil, invalid("name", "group name is required")
	}
	phones, err := s.participantPhones(participants)
	if err != nil {
		return nil, err
	}
	if len(phones) == 0 {
		return nil, invalid("participants", "no valid participant phone numbers")
	}
	p, cfg, err := s.providers.ProviderForScope(ctx, scope)
	if err != nil {
		return nil, err
	}

	res := p.CreateGroup(ctx, name, phones, description)
	if !res.Success || res.GroupID == "" {
		s.logger.Warn("Group creation failed", zap.String("name", name), zap.String("reason", res.Message))
		return nil, fmt.Errorf("%w: %s", ErrProviderFailed, res.Message)
	}

	group, _, err := s.dir.UpsertGroup(directory.GroupInput{
		GroupID:         res.GroupID,
		Name:            name,
		Description:     description,
		Raw:             res.Data,
		Provider:        p.Name(),
		ConfigurationID: &cfg.ID,
	})
	if err != nil {
		return nil, fmt.Errorf("group %s created but not stored: %w", res.GroupID, err)
	}
	if res.InviteCode != "" {
		now := s.now()
		group.InviteCode = res.InviteCode
		group.InviteFetchedAt = &now
		if err := s.store.Groups.Update(group); err != nil {
			s.logger.Error("Failed to store invite code", zap.String("group_id", group.GroupID), zap.Error(err))
		}
	} else if res.Message != "" {
		s.logger.Warn("Group created without invite link", zap.String("group_id", group.GroupID), zap.String("reason", res.Message))
	}

	s.linkPhones(p.Name(), cfg, group, phones)
	event_publisher.Emit(ctx, s.publisher, s.logger, event_publisher.EventGroupCreated, group)
	return group, nil
}

func (s *MessagingService) participantPhones(participants []string) ([]string, error) {
	phones := make([]string, 0, len(participants))
	seen := map[string]bool{}
	for _, raw := range participants {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		contactID, phone := directory.CanonicalContact(raw)
		contact, err := s.store.Contacts.FindByContactIDOrPhone(contactID, phone)
		if err != nil {
			return nil, fmt.Errorf("failed to look up participant %s: %w", raw, err)
		}
		candidate := raw
		if contact != nil && contact.Phone != "" {
			candidate = contact.Phone
		} else if strings.Contains(raw, "@") {
			candidate = models.PhoneFromChatID(raw)
		}
		normalized, ok := provider.ValidatePhoneNumber(candidate)
		if !ok {
			s.logger.Warn("Skipping participant without valid phone", zap.String("participant", raw))
			continue
		}
		digits := strings.TrimPrefix(normalized, "+")
		if !seen[digits] {
			seen[digits] = true
			phones = append(phones, digits)
		}
	}
	return phones, nil
}

func (s *MessagingService) linkPhones(providerName string, cfg *models.Configuration, group *models.Group, phones []string) {
	for _, phone := range phones {
		contactID, digits := directory.CanonicalContact(phone)
		contact, _, err := s.dir.ResolveContact(directory.ContactInput{
			ContactID:       contactID,
			Phone:           digits,
			IsWAContact:     true,
			Provider:        providerName,
			ConfigurationID: &cfg.ID,
		})
		if err != nil {
			s.logger.Error("Failed to resolve participant", zap.String("phone", phone), zap.Error(err))
			continue
		}
		if _, err := s.dir.LinkParticipant(group, contact); err != nil {
			s.logger.Error("Failed to link participant", zap.String("phone", phone), zap.Error(err))
		}
	}
}

func (s *MessagingService) storedGroup(groupRef int64) (*models.Group, error) {
	group, err := s.store.Groups.GetByID(groupRef)
	if err != nil {
		return nil, fmt.Errorf("failed to load group %d: %w", groupRef, err)
	}
	if group == nil || group.GroupID == "" {
		return nil, ErrNotFound
	}
	return group, nil
}

// GroupInviteLink fetches a fresh invite link and stores its code.
func (s *MessagingService) GroupInviteLink(ctx context.Context, scope models.Scope, groupRef int64) (string, error) {
	group, err := s.storedGroup(groupRef)
	if err != nil {
		return "", err
	}
	p, _, err := s.providers.ProviderForScope(ctx, scope)
	if err != nil {
		return "", err
	}
	res := p.GetGroupInviteLink(ctx, group.GroupID)
	if !res.Success {
		return "", fmt.Errorf("%w: %s", ErrProviderFailed, res.Message)
	}
	now := s.now()
	group.InviteCode = res.InviteCode
	group.InviteFetchedAt = &now
	if err := s.store.Groups.Update(group); err != nil {
		s.logger.Error("Failed to store invite code", zap.String("group_id", group.GroupID), zap.Error(err))
	}
	if res.InviteLink != "" {
		return res.InviteLink, nil
	}
	return group.InviteLink(), nil
}

// AddParticipants adds phones to the group and links them locally.
func (s *MessagingService) AddParticipants(ctx context.Context, scope models.Scope, groupRef int64, participants []string) (provider.ParticipantsResult, error) {
	group, phones, p, cfg, err := s.participantChange(ctx, scope, groupRef, participants)
	if err != nil {
		return provider.ParticipantsResult{}, err
	}
	res := p.AddGroupParticipants(ctx, group.GroupID, phones)
	if !res.Success {
		return res, fmt.Errorf("%w: %s", ErrProviderFailed, res.Message)
	}
	s.linkPhones(p.Name(), cfg, group, phones)
	return res, nil
}

// RemoveParticipants removes phones from the group and unlinks them locally.
func (s *MessagingService) RemoveParticipants(ctx context.Context, scope models.Scope, groupRef int64, participants []string) (provider.ParticipantsResult, error) {
	group, phones, p, _, err := s.participantChange(ctx, scope, groupRef, participants)
	if err != nil {
		return provider.ParticipantsResult{}, err
	}
	res := p.RemoveGroupParticipants(ctx, group.GroupID, phones)
	if !res.Success {
		return res, fmt.Errorf("%w: %s", ErrProviderFailed, res.Message)
	}

	removed := make(map[string]bool, len(phones))
	for _, phone := range phones {
		removed[phone] = true
	}
	current, err := s.store.Groups.ListParticipants(group.ID)
	if err != nil {
		return res, fmt.Errorf("failed to list participants: %w", err)
	}
	keep := make([]int64, 0, len(current))
	for _, c := range current {
		if !removed[models.DigitsOnly(c.Phone)] {
			keep = append(keep, c.ID)
		}
	}
	if err := s.store.Groups.ReplaceParticipants(group.ID, keep, 100); err != nil {
		return res, fmt.Errorf("failed to unlink participants: %w", err)
	}
	return res, nil
}

func (s *MessagingService) participantChange(ctx context.Context, scope models.Scope, groupRef int64, participants []string) (*models.Group, []string, provider.Provider, *models.Configuration, error) {
	group, err := s.storedGroup(groupRef)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	phones, err := s.participantPhones(participants)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	if len(phones) == 0 {
		return nil, nil, nil, nil, invalid("participants", "no valid participant phone numbers")
	}
	p, cfg, err := s.providers.ProviderForScope(ctx, scope)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	return group, phones, p, cfg, nil
}

// CheckContacts asks the provider which numbers are on WhatsApp.
func (s *MessagingService) CheckContacts(ctx context.Context, scope models.Scope, phones []string) (provider.ContactCheckResult, error) {
	if len(phones) == 0 {
		return provider.ContactCheckResult{}, invalid("phones", "at least one phone number is required")
	}
	p, _, err := s.providers.ProviderForScope(ctx, scope)
	if err != nil {
		return provider.ContactCheckResult{}, err
	}
	return p.CheckContactsExist(ctx, phones), nil
}

// IsClientError reports whether err stems from the caller's input.
func IsClientError(err error) bool {
	var verr *ValidationError
	return errors.As(err, &verr)
}
