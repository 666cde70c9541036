package sync_engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"whatsapp-sync/internal/audit"
	"whatsapp-sync/internal/directory"
	"whatsapp-sync/internal/event_publisher"
	"whatsapp-sync/internal/metrics"
	"whatsapp-sync/internal/models"
	"whatsapp-sync/internal/provider"
	"whatsapp-sync/internal/repository"
)

// ErrNoConfiguration is returned when the caller has no usable configuration.
var ErrNoConfiguration = provider.ErrNoConfiguration

const (
	ContactPageSize      = 500
	GroupPageSize        = 100
	MessageBatchSize     = 50
	ParticipantBatchSize = 100

	maxReportedErrors = 5
)

// ProviderSource resolves adapters. *provider.Factory implements it.
type ProviderSource interface {
	ProviderForScope(ctx context.Context, scope models.Scope) (provider.Provider, *models.Configuration, error)
	ProviderForScopeAs(ctx context.Context, scope models.Scope, name string) (provider.Provider, *models.Configuration, error)
	ProviderForConfiguration(ctx context.Context, cfg *models.Configuration) (provider.Provider, error)
}

// Notifier is told about finished full runs.
type Notifier interface {
	NotifySyncRun(run *models.SyncRun)
}

// Options tune message sync defaults.
type Options struct {
	MessageCount      int
	MessageWindowDays int
}

// Result is returned by every sync entry point.
type Result struct {
	Success    bool     `json:"success"`
	Message    string   `json:"message"`
	Synced     int      `json:"synced_count"`
	Created    int      `json:"created_count"`
	Updated    int      `json:"updated_count"`
	ErrorCount int      `json:"error_count"`
	Errors     []string `json:"errors,omitempty"`
	// Status is set by single-message status refreshes.
	Status     string   `json:"status,omitempty"`
}

// MessageSyncOptions parameterize SyncMessages. A nil FromMe syncs both
// directions; zero times select the default window.
type MessageSyncOptions struct {
	Count    int
	TimeFrom int64
	TimeTo   int64
	FromMe   *bool
	Sort     string
}

type Engine struct {
	providers ProviderSource
	store     *repository.Store
	dir       *directory.Directory
	recorder  audit.Recorder
	metrics   *metrics.Metrics
	publisher event_publisher.Publisher
	notifier  Notifier
	logger    *zap.Logger
	opts      Options
	now       func() time.Time
}

func NewEngine(
	providers ProviderSource,
	store *repository.Store,
	dir *directory.Directory,
	recorder audit.Recorder,
	m *metrics.Metrics,
	publisher event_publisher.Publisher,
	notifier Notifier,
	logger *zap.Logger,
	opts Options,
) *Engine {
	if recorder == nil {
		recorder = audit.NopRecorder{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.MessageCount <= 0 {
		opts.MessageCount = MessageBatchSize
	}
	if opts.MessageWindowDays <= 0 {
		opts.MessageWindowDays = 30
	}
	return &Engine{
		providers: providers,
		store:     store,
		dir:       dir,
		recorder:  recorder,
		metrics:   m,
		publisher: publisher,
		notifier:  notifier,
		logger:    logger,
		opts:      opts,
		now:       time.Now,
	}
}

// tally accumulates per-item outcomes of one pass.
type tally struct {
	entity  string
	created int
	updated int
	failed  int
	errors  []string
	fatal   bool
}

func (t *tally) record(created bool) {
	if created {
		t.created++
	} else {
		t.updated++
	}
}

func (t *tally) fail(msg string) {
	t.failed++
	if len(t.errors) < maxReportedErrors {
		t.errors = append(t.errors, msg)
	}
}

func (t *tally) result(noun string) Result {
	res := Result{
		Success:    !t.fatal,
		Synced:     t.created + t.updated,
		Created:    t.created,
		Updated:    t.updated,
		ErrorCount: t.failed,
		Errors:     t.errors,
	}
	res.Message = fmt.Sprintf("Synced %d %s", res.Synced, noun)
	if t.failed > 0 {
		res.Message += fmt.Sprintf(" with %d errors", t.failed)
	}
	if t.fatal && len(t.errors) > 0 {
		res.Message = t.errors[0]
	}
	return res
}

func failure(err error) Result {
	if errors.Is(err, ErrNoConfiguration) {
		return Result{Success: false, Message: "No accessible WhatsApp configuration"}
	}
	return Result{Success: false, Message: err.Error()}
}

func (e *Engine) observe(ctx context.Context, name string, p provider.Provider, started time.Time, t *tally) {
	e.metrics.AddSyncItems(t.entity, "created", t.created)
	e.metrics.AddSyncItems(t.entity, "updated", t.updated)
	e.metrics.AddSyncItems(t.entity, "failed", t.failed)
	op := audit.Operation{
		Name:     name,
		Provider: p.Name(),
		Success:  !t.fatal,
		Duration: e.now().Sub(started),
	}
	if len(t.errors) > 0 {
		op.Error = strings.Join(t.errors, "; ")
	}
	e.recorder.RecordOperation(ctx, op)
}

// SyncContacts imports address book entries and one-to-one chat partners.
func (e *Engine) SyncContacts(ctx context.Context, scope models.Scope) Result {
	p, cfg, err := e.providers.ProviderForScope(ctx, scope)
	if err != nil {
		e.logger.Warn("Contact sync skipped", zap.String("username", scope.Username), zap.Error(err))
		return failure(err)
	}
	return e.syncContacts(ctx, p, cfg)
}

func (e *Engine) syncContacts(ctx context.Context, p provider.Provider, cfg *models.Configuration) Result {
	started := e.now()
	t := &tally{entity: "contact"}
	supported := 0

	if e.syncPhoneContacts(ctx, p, cfg, t) {
		supported++
	}
	if e.syncChatContacts(ctx, p, cfg, t) {
		supported++
	}
	if supported == 0 && !t.fatal {
		t.fatal = true
		t.errors = append([]string{p.Name() + " does not support contact listing"}, t.errors...)
	}

	e.observe(ctx, "sync_contacts", p, started, t)
	res := t.result("contacts")
	e.logger.Info("Contact sync finished",
		zap.Int64("configuration_id", cfg.ID),
		zap.Int("synced", res.Synced),
		zap.Int("errors", res.ErrorCount),
	)
	return res
}

// syncPhoneContacts reports whether the provider supports contact listing.
func (e *Engine) syncPhoneContacts(ctx context.Context, p provider.Provider, cfg *models.Configuration, t *tally) bool {
	for offset := 0; ; {
		if ctx.Err() != nil {
			t.fatal = true
			t.fail(ctx.Err().Error())
			return true
		}
		page := p.GetContacts(ctx, ContactPageSize, offset)
		if !page.Success {
			if page.ErrorType == provider.ErrorTypeNotSupported {
				e.logger.Info("Provider has no contact listing", zap.String("provider", p.Name()))
				return false
			}
			t.fatal = true
			t.fail("failed to fetch contacts: " + page.Message)
			return true
		}

		for _, c := range page.Contacts {
			id := c.ContactID
			if id == "" {
				id = c.Phone
			}
			if id == "" {
				t.fail("contact without id skipped")
				continue
			}
			contactID, phone := directory.CanonicalContact(id)
			if c.Phone != "" {
				phone = strings.TrimPrefix(c.Phone, "+")
			}
			_, created, err := e.dir.UpsertContact(directory.ContactInput{
				ContactID:       contactID,
				Phone:           phone,
				Name:            c.Name,
				Pushname:        c.Pushname,
				IsWAContact:     c.IsWAContact,
				IsPhoneContact:  true,
				Provider:        p.Name(),
				ConfigurationID: &cfg.ID,
			})
			if err != nil {
				e.logger.Error("Failed to sync contact", zap.String("contact_id", contactID), zap.Error(err))
				t.fail(fmt.Sprintf("contact %s: %v", contactID, err))
				continue
			}
			t.record(created)
		}

		if len(page.Contacts) < ContactPageSize {
			return true
		}
		offset += len(page.Contacts)
	}
}

func (e *Engine) syncChatContacts(ctx context.Context, p provider.Provider, cfg *models.Configuration, t *tally) bool {
	for offset := 0; ; {
		if ctx.Err() != nil {
			t.fatal = true
			t.fail(ctx.Err().Error())
			return true
		}
		page := p.GetChats(ctx, ContactPageSize, offset)
		if !page.Success {
			if page.ErrorType == provider.ErrorTypeNotSupported {
				e.logger.Info("Provider has no chat listing", zap.String("provider", p.Name()))
				return false
			}
			t.fatal = true
			t.fail("failed to fetch chats: " + page.Message)
			return true
		}

		for _, chat := range page.Chats {
			if chat.Type != "chat" || chat.ID == "" || models.IsGroupChat(chat.ID) {
				continue
			}
			contactID, phone := directory.CanonicalContact(chat.ID)
			_, created, err := e.dir.UpsertContact(directory.ContactInput{
				ContactID:       contactID,
				Phone:           phone,
				Name:            chat.Name,
				IsWAContact:     true,
				IsChatContact:   true,
				Provider:        p.Name(),
				ConfigurationID: &cfg.ID,
			})
			if err != nil {
				e.logger.Error("Failed to sync chat contact", zap.String("contact_id", contactID), zap.Error(err))
				t.fail(fmt.Sprintf("contact %s: %v", contactID, err))
				continue
			}
			t.record(created)
		}

		if len(page.Chats) < ContactPageSize {
			return true
		}
		offset += len(page.Chats)
	}
}

// SyncGroups imports the group listing. A non-empty providerOverride
// builds the adapter for that provider instead of the configured one.
func (e *Engine) SyncGroups(ctx context.Context, scope models.Scope, providerOverride string) Result {
	p, cfg, err := e.providers.ProviderForScopeAs(ctx, scope, providerOverride)
	if err != nil {
		e.logger.Warn("Group sync skipped", zap.String("username", scope.Username), zap.Error(err))
		return failure(err)
	}
	return e.syncGroups(ctx, p, cfg)
}

func (e *Engine) syncGroups(ctx context.Context, p provider.Provider, cfg *models.Configuration) Result {
	started := e.now()
	t := &tally{entity: "group"}

	for offset := 0; ; {
		if ctx.Err() != nil {
			t.fatal = true
			t.fail(ctx.Err().Error())
			break
		}
		page := p.GetGroups(ctx, GroupPageSize, offset)
		if !page.Success {
			t.fatal = true
			t.fail("failed to fetch groups: " + page.Message)
			break
		}

		for _, g := range page.Groups {
			if g.GroupID == "" {
				t.fail("group without id skipped")
				continue
			}
			_, created, err := e.dir.UpsertGroup(directory.GroupInput{
				GroupID:         g.GroupID,
				Name:            g.Name,
				Description:     g.Description,
				Raw:             g.Raw,
				Provider:        p.Name(),
				ConfigurationID: &cfg.ID,
			})
			if err != nil {
				e.logger.Error("Failed to sync group", zap.String("group_id", g.GroupID), zap.Error(err))
				t.fail(fmt.Sprintf("group %s: %v", g.GroupID, err))
				continue
			}
			t.record(created)
		}

		if len(page.Groups) < GroupPageSize {
			break
		}
		offset += len(page.Groups)
	}

	e.observe(ctx, "sync_groups", p, started, t)
	res := t.result("groups")
	e.logger.Info("Group sync finished",
		zap.Int64("configuration_id", cfg.ID),
		zap.Int("synced", res.Synced),
		zap.Int("errors", res.ErrorCount),
	)
	return res
}

// SyncGroupMembers replaces the participant set of every active group with
// the provider's current member list.
func (e *Engine) SyncGroupMembers(ctx context.Context, scope models.Scope) Result {
	p, cfg, err := e.providers.ProviderForScope(ctx, scope)
	if err != nil {
		e.logger.Warn("Group member sync skipped", zap.String("username", scope.Username), zap.Error(err))
		return failure(err)
	}
	return e.syncGroupMembers(ctx, p, cfg)
}

func (e *Engine) syncGroupMembers(ctx context.Context, p provider.Provider, cfg *models.Configuration) Result {
	started := e.now()
	t := &tally{entity: "group_members"}

	groups, err := e.store.Groups.ListSyncable(&cfg.ID)
	if err != nil {
		e.logger.Error("Failed to list groups for member sync", zap.Error(err))
		return failure(fmt.Errorf("failed to list groups: %w", err))
	}

	participants := 0
	for _, g := range groups {
		if ctx.Err() != nil {
			t.fatal = true
			t.fail(ctx.Err().Error())
			break
		}
		n, err := e.syncMembersOf(ctx, p, cfg, g)
		if err != nil {
			e.logger.Error("Failed to sync group members", zap.String("group_id", g.GroupID), zap.Error(err))
			t.fail(fmt.Sprintf("group %s: %v", g.GroupID, err))
			continue
		}
		participants += n
		t.updated++
	}

	e.observe(ctx, "sync_group_members", p, started, t)
	res := t.result("groups")
	if !t.fatal {
		res.Message = fmt.Sprintf("Synced members of %d groups (%d participants)", res.Synced, participants)
		if t.failed > 0 {
			res.Message += fmt.Sprintf(" with %d errors", t.failed)
		}
	}
	e.logger.Info("Group member sync finished",
		zap.Int64("configuration_id", cfg.ID),
		zap.Int("groups", res.Synced),
		zap.Int("participants", participants),
		zap.Int("errors", res.ErrorCount),
	)
	return res
}

func (e *Engine) syncMembersOf(ctx context.Context, p provider.Provider, cfg *models.Configuration, g *models.Group) (int, error) {
	info := p.GetGroupInfo(ctx, g.GroupID)
	if !info.Success {
		return 0, errors.New(info.Message)
	}

	var members []provider.Participant
	if info.Group != nil {
		members = info.Group.Participants
		if len(members) == 0 && info.Group.Raw != nil {
			members = provider.ParticipantsFromRaw(info.Group.Raw)
		}
	}

	refs := make([]int64, 0, len(members))
	seen := make(map[int64]bool, len(members))
	for _, member := range members {
		in := directory.ContactFromParticipant(member, p.Name(), &cfg.ID)
		if in.ContactID == "" {
			continue
		}
		contact, _, err := e.dir.ResolveContact(in)
		if err != nil {
			e.logger.Error("Failed to resolve participant",
				zap.String("group_id", g.GroupID),
				zap.String("participant", member.ID),
				zap.Error(err),
			)
			continue
		}
		if !seen[contact.ID] {
			seen[contact.ID] = true
			refs = append(refs, contact.ID)
		}
	}

	if err := e.store.Groups.ReplaceParticipants(g.ID, refs, ParticipantBatchSize); err != nil {
		return 0, fmt.Errorf("failed to replace participants: %w", err)
	}
	return len(refs), nil
}

// SyncMessages imports message history. Unless opts.FromMe is set it runs
// once for received and once for sent messages.
func (e *Engine) SyncMessages(ctx context.Context, scope models.Scope, opts MessageSyncOptions) Result {
	p, cfg, err := e.providers.ProviderForScope(ctx, scope)
	if err != nil {
		e.logger.Warn("Message sync skipped", zap.String("username", scope.Username), zap.Error(err))
		return failure(err)
	}
	return e.syncMessages(ctx, p, cfg, opts)
}

func (e *Engine) syncMessages(ctx context.Context, p provider.Provider, cfg *models.Configuration, opts MessageSyncOptions) Result {
	started := e.now()
	t := &tally{entity: "message"}

	if opts.Count <= 0 {
		opts.Count = e.opts.MessageCount
	}
	if opts.TimeTo == 0 {
		opts.TimeTo = started.Unix()
	}
	if opts.TimeFrom == 0 {
		opts.TimeFrom = started.Add(-time.Duration(e.opts.MessageWindowDays) * 24 * time.Hour).Unix()
	}
	if opts.Sort == "" {
		opts.Sort = "desc"
	}

	directions := []bool{false, true}
	if opts.FromMe != nil {
		directions = []bool{*opts.FromMe}
	}
	for _, fromMe := range directions {
		e.syncMessageDirection(ctx, p, cfg, opts, fromMe, t)
	}

	e.observe(ctx, "sync_messages", p, started, t)
	res := t.result("messages")
	e.logger.Info("Message sync finished",
		zap.Int64("configuration_id", cfg.ID),
		zap.Int("synced", res.Synced),
		zap.Int("errors", res.ErrorCount),
	)
	return res
}

func (e *Engine) syncMessageDirection(ctx context.Context, p provider.Provider, cfg *models.Configuration, opts MessageSyncOptions, fromMe bool, t *tally) {
	for offset := 0; ; {
		if ctx.Err() != nil {
			t.fatal = true
			t.fail(ctx.Err().Error())
			return
		}
		page := p.ListMessages(ctx, provider.MessageQuery{
			Count:    opts.Count,
			Offset:   offset,
			TimeFrom: opts.TimeFrom,
			TimeTo:   opts.TimeTo,
			FromMe:   &fromMe,
			Sort:     opts.Sort,
		})
		if !page.Success {
			t.fatal = true
			t.fail(fmt.Sprintf("failed to fetch messages (from_me=%t): %s", fromMe, page.Message))
			return
		}
		if len(page.Messages) == 0 {
			return
		}

		batch := make([]provider.Message, 0, len(page.Messages))
		for _, m := range page.Messages {
			if models.SyncableMessageTypes[m.Type] {
				batch = append(batch, m)
			}
		}
		for start := 0; start < len(batch); start += MessageBatchSize {
			end := start + MessageBatchSize
			if end > len(batch) {
				end = len(batch)
			}
			for _, m := range batch[start:end] {
				_, created, err := e.storeMessage(p.Name(), cfg, m)
				if err != nil {
					e.logger.Error("Failed to sync message", zap.String("message_id", m.ID), zap.Error(err))
					t.fail(fmt.Sprintf("message %s: %v", m.ID, err))
					continue
				}
				t.record(created)
			}
		}

		step := page.Count
		if step <= 0 {
			step = len(page.Messages)
		}
		offset += step
		if page.Total > 0 {
			if offset >= page.Total {
				return
			}
		} else if len(page.Messages) < opts.Count {
			return
		}
	}
}

// storeMessage upserts m and links it to its sender and group.
func (e *Engine) storeMessage(providerName string, cfg *models.Configuration, m provider.Message) (*models.Message, bool, error) {
	if m.ID == "" {
		return nil, false, errors.New("message without id")
	}
	msg := directory.MessageFromProvider(m, providerName, &cfg.ID)

	if models.IsGroupChat(m.ChatID) {
		group, err := e.dir.EnsureGroup(directory.GroupInput{
			GroupID:         m.ChatID,
			Name:            m.ChatName,
			Provider:        providerName,
			ConfigurationID: &cfg.ID,
		})
		if err != nil {
			return nil, false, err
		}
		msg.GroupRef = &group.ID
	}

	sender := m.From
	if sender == "" && !m.FromMe && !models.IsGroupChat(m.ChatID) {
		sender = m.ChatID
	}
	if sender != "" && !m.FromMe {
		contactID, phone := directory.CanonicalContact(sender)
		contact, _, err := e.dir.ResolveContact(directory.ContactInput{
			ContactID:       contactID,
			Phone:           phone,
			Name:            m.FromName,
			Pushname:        m.FromName,
			IsWAContact:     true,
			Provider:        providerName,
			ConfigurationID: &cfg.ID,
		})
		if err != nil {
			return nil, false, err
		}
		msg.ContactRef = &contact.ID
	}

	return e.dir.UpsertMessage(msg)
}

// SyncMessageStatus asks the provider for one message's status and stores
// it. A status outside the canonical vocabulary leaves the record as is.
func (e *Engine) SyncMessageStatus(ctx context.Context, scope models.Scope, messageID string) Result {
	if messageID == "" {
		return Result{Success: false, Message: "message id is required"}
	}
	p, _, err := e.providers.ProviderForScope(ctx, scope)
	if err != nil {
		return failure(err)
	}
	status := p.GetMessageStatus(ctx, messageID)
	if !status.Success {
		return Result{Success: false, Message: status.Message}
	}
	if status.Status == "" || status.Status == models.StatusUnknown {
		e.logger.Warn("Provider reported an unrecognised status", zap.String("message_id", messageID))
		return Result{Success: true, Status: models.StatusUnknown, Message: "Unrecognised status, stored status kept"}
	}

	found, err := e.store.Messages.UpdateStatus(messageID, status.Status, "")
	if err != nil {
		e.logger.Error("Failed to update message status", zap.String("message_id", messageID), zap.Error(err))
		return failure(fmt.Errorf("failed to update message status: %w", err))
	}
	if !found {
		return Result{Success: true, Status: status.Status, Message: "Message " + messageID + " is not stored"}
	}
	return Result{Success: true, Synced: 1, Updated: 1, Status: status.Status, Message: "Status updated to " + status.Status}
}

// RefreshGroup runs SyncGroupInfo for a stored group.
func (e *Engine) RefreshGroup(ctx context.Context, scope models.Scope, groupRef int64) Result {
	group, err := e.store.Groups.GetByID(groupRef)
	if err != nil {
		e.logger.Error("Failed to load group", zap.Int64("group_ref", groupRef), zap.Error(err))
		return failure(err)
	}
	if group == nil || group.GroupID == "" {
		return Result{Success: false, Message: fmt.Sprintf("Group %d not found", groupRef)}
	}
	return e.SyncGroupInfo(ctx, scope, group.GroupID)
}

// SyncGroupInfo refreshes one group's details and invite code.
func (e *Engine) SyncGroupInfo(ctx context.Context, scope models.Scope, groupID string) Result {
	p, cfg, err := e.providers.ProviderForScope(ctx, scope)
	if err != nil {
		return failure(err)
	}
	info := p.GetGroupInfo(ctx, groupID)
	if !info.Success || info.Group == nil {
		return Result{Success: false, Message: info.Message}
	}
	group, created, err := e.dir.UpsertGroup(directory.GroupInput{
		GroupID:         groupID,
		Name:            info.Group.Name,
		Description:     info.Group.Description,
		Raw:             info.Group.Raw,
		Provider:        p.Name(),
		ConfigurationID: &cfg.ID,
	})
	if err != nil {
		e.logger.Error("Failed to store group info", zap.String("group_id", groupID), zap.Error(err))
		return failure(err)
	}

	invite := p.GetGroupInviteLink(ctx, groupID)
	if invite.Success && invite.InviteCode != "" {
		now := e.now()
		group.InviteCode = invite.InviteCode
		group.InviteFetchedAt = &now
		if err := e.store.Groups.Update(group); err != nil {
			e.logger.Error("Failed to store invite code", zap.String("group_id", groupID), zap.Error(err))
			return failure(err)
		}
	} else if !invite.Success {
		e.logger.Warn("Invite link unavailable", zap.String("group_id", groupID), zap.String("reason", invite.Message))
	}

	res := Result{Success: true, Synced: 1, Message: "Group " + group.Name + " refreshed"}
	if created {
		res.Created = 1
	} else {
		res.Updated = 1
	}
	return res
}
