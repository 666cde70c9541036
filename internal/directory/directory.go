// Package directory keeps contacts, groups and messages consistent when the
// same record is seen through sync listings, webhooks and outbound sends.
package directory

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx/types"
	"go.uber.org/zap"

	"whatsapp-sync/internal/models"
	"whatsapp-sync/internal/provider"
	"whatsapp-sync/internal/repository"
)

type Directory struct {
	store  *repository.Store
	logger *zap.Logger
	now    func() time.Time
}

func New(store *repository.Store, logger *zap.Logger) *Directory {
	return &Directory{store: store, logger: logger, now: time.Now}
}

// ContactInput is a contact as observed in a listing, webhook or group.
type ContactInput struct {
	ContactID       string
	Phone           string
	Name            string
	Pushname        string
	IsWAContact     bool
	IsPhoneContact  bool
	IsChatContact   bool
	Provider        string
	ConfigurationID *int64
}

// CanonicalContact normalizes an identifier into a contact id and phone.
// Bare digits become <digits>@s.whatsapp.net; legacy @c.us ids are rewritten.
func CanonicalContact(id string) (contactID, phone string) {
	id = strings.TrimSpace(id)
	switch {
	case models.IsDigits(strings.TrimPrefix(id, "+")):
		digits := strings.TrimPrefix(id, "+")
		return digits + models.UserSuffix, digits
	case strings.HasSuffix(id, models.LegacySuffix):
		phone = strings.TrimSuffix(id, models.LegacySuffix)
		return phone + models.UserSuffix, phone
	case strings.HasSuffix(id, models.UserSuffix):
		return id, strings.TrimSuffix(id, models.UserSuffix)
	}
	return id, id
}

// UpsertContact creates the contact or merges into the existing record with
// the same contact_id. Membership flags are OR-merged and names only
// overwritten by non-empty values. It reports whether a record was created.
func (d *Directory) UpsertContact(in ContactInput) (*models.Contact, bool, error) {
	if in.ContactID == "" {
		return nil, false, errors.New("contact_id is required")
	}
	existing, err := d.store.Contacts.GetByContactID(in.ContactID)
	if err != nil {
		return nil, false, fmt.Errorf("failed to look up contact %s: %w", in.ContactID, err)
	}
	if existing != nil {
		return existing, false, d.mergeContact(existing, in)
	}

	contact := d.newContact(in)
	if err := d.store.Contacts.Create(contact); err != nil {
		if !errors.Is(err, repository.ErrDuplicate) {
			return nil, false, fmt.Errorf("failed to create contact %s: %w", in.ContactID, err)
		}
		// Lost a concurrent create; merge into the winner.
		d.logger.Debug("Contact created concurrently, merging", zap.String("contact_id", in.ContactID))
		existing, err = d.store.Contacts.GetByContactID(in.ContactID)
		if err != nil || existing == nil {
			return nil, false, fmt.Errorf("failed to re-read contact %s after conflict: %w", in.ContactID, err)
		}
		return existing, false, d.mergeContact(existing, in)
	}
	return contact, true, nil
}

// ResolveContact finds a contact by id or phone and creates a chat contact
// when neither matches.
func (d *Directory) ResolveContact(in ContactInput) (*models.Contact, bool, error) {
	existing, err := d.store.Contacts.FindByContactIDOrPhone(in.ContactID, in.Phone)
	if err != nil {
		return nil, false, fmt.Errorf("failed to look up contact %s: %w", in.ContactID, err)
	}
	if existing != nil {
		if existing.ConfigurationID == nil && in.ConfigurationID != nil {
			existing.ConfigurationID = in.ConfigurationID
			if err := d.store.Contacts.Update(existing); err != nil {
				return nil, false, fmt.Errorf("failed to backfill configuration on contact %s: %w", existing.ContactID, err)
			}
		}
		return existing, false, nil
	}
	if in.Name == "" {
		in.Name = in.Phone
	}
	in.IsChatContact = true
	return d.UpsertContact(in)
}

func (d *Directory) newContact(in ContactInput) *models.Contact {
	now := d.now()
	phone := in.Phone
	if phone == "" {
		phone = models.PhoneFromChatID(in.ContactID)
	}
	return &models.Contact{
		ContactID:       in.ContactID,
		Phone:           phone,
		Name:            in.Name,
		Pushname:        in.Pushname,
		IsWAContact:     in.IsWAContact,
		IsPhoneContact:  in.IsPhoneContact,
		IsChatContact:   in.IsChatContact,
		IsActive:        true,
		Provider:        in.Provider,
		ConfigurationID: in.ConfigurationID,
		SyncedAt:        &now,
	}
}

func (d *Directory) mergeContact(c *models.Contact, in ContactInput) error {
	if in.Name != "" {
		c.Name = in.Name
	}
	if in.Pushname != "" {
		c.Pushname = in.Pushname
	}
	if in.Phone != "" {
		c.Phone = in.Phone
	}
	if in.Provider != "" {
		c.Provider = in.Provider
	}
	c.IsWAContact = c.IsWAContact || in.IsWAContact
	c.IsPhoneContact = c.IsPhoneContact || in.IsPhoneContact
	c.IsChatContact = c.IsChatContact || in.IsChatContact
	if c.ConfigurationID == nil {
		c.ConfigurationID = in.ConfigurationID
	}
	now := d.now()
	c.SyncedAt = &now
	if err := d.store.Contacts.Update(c); err != nil {
		return fmt.Errorf("failed to update contact %s: %w", c.ContactID, err)
	}
	return nil
}

// ContactFromParticipant turns a group participant into a ContactInput.
func ContactFromParticipant(p provider.Participant, providerName string, configurationID *int64) ContactInput {
	contactID, phone := CanonicalContact(p.ID)
	if p.Phone != "" && models.IsDigits(strings.TrimPrefix(p.Phone, "+")) {
		phone = strings.TrimPrefix(p.Phone, "+")
	}
	return ContactInput{
		ContactID:       contactID,
		Phone:           phone,
		Name:            p.Name,
		Pushname:        p.Name,
		IsWAContact:     true,
		Provider:        providerName,
		ConfigurationID: configurationID,
	}
}

// GroupInput is a group as observed in a listing or webhook.
type GroupInput struct {
	GroupID         string
	Name            string
	Description     string
	Raw             map[string]any
	Provider        string
	ConfigurationID *int64
}

// UpsertGroup creates the group or refreshes name, description and
// metadata of the existing record with the same group_id.
func (d *Directory) UpsertGroup(in GroupInput) (*models.Group, bool, error) {
	if in.GroupID == "" {
		return nil, false, errors.New("group_id is required")
	}
	existing, err := d.store.Groups.GetByGroupID(in.GroupID)
	if err != nil {
		return nil, false, fmt.Errorf("failed to look up group %s: %w", in.GroupID, err)
	}
	if existing != nil {
		return existing, false, d.refreshGroup(existing, in)
	}

	now := d.now()
	group := &models.Group{
		GroupID:         in.GroupID,
		Name:            in.Name,
		Description:     in.Description,
		Metadata:        JSON(in.Raw),
		IsActive:        true,
		Provider:        in.Provider,
		ConfigurationID: in.ConfigurationID,
		SyncedAt:        &now,
	}
	if group.Name == "" {
		group.Name = in.GroupID
	}
	if err := d.store.Groups.Create(group); err != nil {
		if !errors.Is(err, repository.ErrDuplicate) {
			return nil, false, fmt.Errorf("failed to create group %s: %w", in.GroupID, err)
		}
		existing, err = d.store.Groups.GetByGroupID(in.GroupID)
		if err != nil || existing == nil {
			return nil, false, fmt.Errorf("failed to re-read group %s after conflict: %w", in.GroupID, err)
		}
		return existing, false, d.refreshGroup(existing, in)
	}
	return group, true, nil
}

// EnsureGroup finds a group by id and creates it when missing. Unlike
// UpsertGroup it does not overwrite stored names.
func (d *Directory) EnsureGroup(in GroupInput) (*models.Group, error) {
	existing, err := d.store.Groups.GetByGroupID(in.GroupID)
	if err != nil {
		return nil, fmt.Errorf("failed to look up group %s: %w", in.GroupID, err)
	}
	if existing == nil {
		group, _, err := d.UpsertGroup(in)
		return group, err
	}
	if existing.ConfigurationID == nil && in.ConfigurationID != nil {
		existing.ConfigurationID = in.ConfigurationID
		if err := d.store.Groups.Update(existing); err != nil {
			return nil, fmt.Errorf("failed to backfill configuration on group %s: %w", existing.GroupID, err)
		}
	}
	return existing, nil
}

func (d *Directory) refreshGroup(g *models.Group, in GroupInput) error {
	if in.Name != "" {
		g.Name = in.Name
	}
	if in.Description != "" {
		g.Description = in.Description
	}
	if in.Raw != nil {
		g.Metadata = JSON(in.Raw)
	}
	if in.Provider != "" {
		g.Provider = in.Provider
	}
	if g.ConfigurationID == nil {
		g.ConfigurationID = in.ConfigurationID
	}
	now := d.now()
	g.SyncedAt = &now
	if err := d.store.Groups.Update(g); err != nil {
		return fmt.Errorf("failed to update group %s: %w", g.GroupID, err)
	}
	return nil
}

// UpsertMessage stores msg, or, when a message with the same message_id
// exists, refreshes only its metadata, timestamp and missing links. The
// metadata of a deleted message is kept so the redacted content stays put.
func (d *Directory) UpsertMessage(msg *models.Message) (*models.Message, bool, error) {
	if msg.MessageID == "" {
		return nil, false, errors.New("message_id is required")
	}
	existing, err := d.store.Messages.GetByMessageID(msg.MessageID)
	if err != nil {
		return nil, false, fmt.Errorf("failed to look up message %s: %w", msg.MessageID, err)
	}
	if existing == nil {
		now := d.now()
		msg.SyncedAt = &now
		err := d.store.Messages.Create(msg)
		if err == nil {
			return msg, true, nil
		}
		if !errors.Is(err, repository.ErrDuplicate) {
			return nil, false, fmt.Errorf("failed to create message %s: %w", msg.MessageID, err)
		}
		existing, err = d.store.Messages.GetByMessageID(msg.MessageID)
		if err != nil || existing == nil {
			return nil, false, fmt.Errorf("failed to re-read message %s after conflict: %w", msg.MessageID, err)
		}
	}

	if len(msg.Metadata) > 0 && existing.Status != models.StatusDeleted {
		existing.Metadata = msg.Metadata
	}
	if msg.Timestamp != 0 {
		existing.Timestamp = msg.Timestamp
	}
	if existing.ContactRef == nil {
		existing.ContactRef = msg.ContactRef
	}
	if existing.GroupRef == nil {
		existing.GroupRef = msg.GroupRef
	}
	if existing.ConfigurationID == nil {
		existing.ConfigurationID = msg.ConfigurationID
	}
	now := d.now()
	existing.SyncedAt = &now
	if err := d.store.Messages.Update(existing); err != nil {
		return nil, false, fmt.Errorf("failed to update message %s: %w", existing.MessageID, err)
	}
	return existing, false, nil
}

// LinkParticipant adds contact to group, reporting whether it was new.
func (d *Directory) LinkParticipant(group *models.Group, contact *models.Contact) (bool, error) {
	added, err := d.store.Groups.AddParticipant(group.ID, contact.ID)
	if err != nil {
		return false, fmt.Errorf("failed to link contact %s to group %s: %w", contact.ContactID, group.GroupID, err)
	}
	return added, nil
}

// MessageFromProvider maps a normalized provider message onto a record.
// Links to contacts and groups are left to the caller.
func MessageFromProvider(m provider.Message, providerName string, configurationID *int64) *models.Message {
	status := m.Status
	if status == "" {
		status = models.StatusDelivered
	}
	msg := &models.Message{
		MessageID:       m.ID,
		Body:            m.Body,
		MessageType:     m.Type,
		ChatID:          m.ChatID,
		FromMe:          m.FromMe,
		Timestamp:       m.Timestamp,
		Status:          status,
		Metadata:        JSON(m.Raw),
		ConfigurationID: configurationID,
		Provider:        providerName,
	}
	if m.Media != nil {
		msg.MediaURL = m.Media.URL
		msg.MediaType = m.Media.MimeType
		msg.Caption = m.Media.Caption
	}
	return msg
}

// JSON encodes v for a JSONB column; nil and unencodable values become nil.
func JSON(v any) types.JSONText {
	if v == nil {
		return nil
	}
	raw, err := json.Marshal(v)
	if err != nil || string(raw) == "null" {
		return nil
	}
	return types.JSONText(raw)
}

// Decode unpacks a JSONB column into a map, empty on invalid content.
func Decode(raw types.JSONText) map[string]any {
	out := map[string]any{}
	if len(raw) == 0 {
		return out
	}
	if err := json.Unmarshal(raw, &out); err != nil || out == nil {
		return map[string]any{}
	}
	return out
}
