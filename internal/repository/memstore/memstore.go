// Package memstore keeps every repository in process memory. It enforces the
// same uniqueness rules as the postgres schema and backs tests and the
// database-less development mode.
package memstore

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"whatsapp-sync/internal/models"
	"whatsapp-sync/internal/repository"
)

type db struct {
	mu sync.RWMutex

	seq int64

	configurations map[int64]*models.Configuration
	contacts       map[int64]*models.Contact
	groups         map[int64]*models.Group
	participants   map[int64]map[int64]bool
	messages       map[int64]*models.Message
	auditLogs      []*models.AuditLog
	syncRuns       []*models.SyncRun
	users          map[string]*models.User
}

// New returns a Store whose repositories share one in-memory database.
func New() *repository.Store {
	d := &db{
		configurations: make(map[int64]*models.Configuration),
		contacts:       make(map[int64]*models.Contact),
		groups:         make(map[int64]*models.Group),
		participants:   make(map[int64]map[int64]bool),
		messages:       make(map[int64]*models.Message),
		users:          make(map[string]*models.User),
	}
	return &repository.Store{
		Configurations: &configurations{d},
		Contacts:       &contacts{d},
		Groups:         &groups{d},
		Messages:       &messages{d},
		AuditLogs:      &auditLogs{d},
		SyncRuns:       &syncRuns{d},
		Users:          &users{d},
	}
}

func (d *db) nextID() int64 {
	d.seq++
	return d.seq
}

func duplicate(what string) error {
	return fmt.Errorf("%w: %s", repository.ErrDuplicate, what)
}

func sortedKeys[V any](m map[int64]V) []int64 {
	keys := make([]int64, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

func page[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return nil
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}

// configurations

type configurations struct{ d *db }

func (r *configurations) Create(cfg *models.Configuration) error {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()
	if err := r.checkChannel(cfg); err != nil {
		return err
	}
	cfg.ID = r.d.nextID()
	cfg.CreatedAt = time.Now()
	cfg.UpdatedAt = cfg.CreatedAt
	c := *cfg
	r.d.configurations[cfg.ID] = &c
	return nil
}

func (r *configurations) Update(cfg *models.Configuration) error {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()
	if _, ok := r.d.configurations[cfg.ID]; !ok {
		return repository.ErrNotFound
	}
	if err := r.checkChannel(cfg); err != nil {
		return err
	}
	cfg.UpdatedAt = time.Now()
	c := *cfg
	r.d.configurations[cfg.ID] = &c
	return nil
}

func (r *configurations) checkChannel(cfg *models.Configuration) error {
	if cfg.ChannelID == "" || !cfg.Active {
		return nil
	}
	for _, other := range r.d.configurations {
		if other.ID != cfg.ID && other.Active && other.ChannelID == cfg.ChannelID {
			return duplicate("configurations_active_channel_uidx")
		}
	}
	return nil
}

func (r *configurations) GetByID(id int64) (*models.Configuration, error) {
	r.d.mu.RLock()
	defer r.d.mu.RUnlock()
	if c, ok := r.d.configurations[id]; ok {
		cp := *c
		return &cp, nil
	}
	return nil, nil
}

func (r *configurations) GetByChannelID(channelID string) (*models.Configuration, error) {
	r.d.mu.RLock()
	defer r.d.mu.RUnlock()
	for _, id := range sortedKeys(r.d.configurations) {
		c := r.d.configurations[id]
		if c.Active && c.ChannelID == channelID {
			cp := *c
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *configurations) ListActive() ([]*models.Configuration, error) {
	return r.list(true), nil
}

func (r *configurations) List() ([]*models.Configuration, error) {
	return r.list(false), nil
}

func (r *configurations) list(activeOnly bool) []*models.Configuration {
	r.d.mu.RLock()
	defer r.d.mu.RUnlock()
	var out []*models.Configuration
	for _, id := range sortedKeys(r.d.configurations) {
		c := r.d.configurations[id]
		if activeOnly && !c.Active {
			continue
		}
		cp := *c
		out = append(out, &cp)
	}
	return out
}

func (r *configurations) SetActive(id int64, active bool) error {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()
	c, ok := r.d.configurations[id]
	if !ok {
		return repository.ErrNotFound
	}
	c.Active = active
	c.UpdatedAt = time.Now()
	return nil
}

// contacts

type contacts struct{ d *db }

func (r *contacts) Create(contact *models.Contact) error {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()
	for _, c := range r.d.contacts {
		if c.ContactID == contact.ContactID {
			return duplicate("contacts_contact_id_key")
		}
	}
	contact.ID = r.d.nextID()
	contact.CreatedAt = time.Now()
	contact.UpdatedAt = contact.CreatedAt
	c := *contact
	r.d.contacts[contact.ID] = &c
	return nil
}

func (r *contacts) Update(contact *models.Contact) error {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()
	if _, ok := r.d.contacts[contact.ID]; !ok {
		return repository.ErrNotFound
	}
	contact.UpdatedAt = time.Now()
	c := *contact
	r.d.contacts[contact.ID] = &c
	return nil
}

func (r *contacts) GetByID(id int64) (*models.Contact, error) {
	r.d.mu.RLock()
	defer r.d.mu.RUnlock()
	if c, ok := r.d.contacts[id]; ok {
		cp := *c
		return &cp, nil
	}
	return nil, nil
}

func (r *contacts) GetByContactID(contactID string) (*models.Contact, error) {
	return r.find(func(c *models.Contact) bool { return c.ContactID == contactID }), nil
}

func (r *contacts) FindByContactIDOrPhone(contactID, phone string) (*models.Contact, error) {
	if c := r.find(func(c *models.Contact) bool { return c.ContactID == contactID }); c != nil {
		return c, nil
	}
	if phone == "" {
		return nil, nil
	}
	return r.find(func(c *models.Contact) bool { return c.Phone == phone }), nil
}

func (r *contacts) find(match func(*models.Contact) bool) *models.Contact {
	r.d.mu.RLock()
	defer r.d.mu.RUnlock()
	for _, id := range sortedKeys(r.d.contacts) {
		if c := r.d.contacts[id]; match(c) {
			cp := *c
			return &cp
		}
	}
	return nil
}

func (r *contacts) List(limit, offset int) ([]*models.Contact, error) {
	r.d.mu.RLock()
	defer r.d.mu.RUnlock()
	var out []*models.Contact
	for _, id := range sortedKeys(r.d.contacts) {
		cp := *r.d.contacts[id]
		out = append(out, &cp)
	}
	return page(out, limit, offset), nil
}

func (r *contacts) Count() (int, error) {
	r.d.mu.RLock()
	defer r.d.mu.RUnlock()
	return len(r.d.contacts), nil
}

// groups

type groups struct{ d *db }

func (r *groups) Create(group *models.Group) error {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()
	if err := r.checkGroupID(group); err != nil {
		return err
	}
	if len(group.Metadata) == 0 {
		group.Metadata = []byte("{}")
	}
	group.ID = r.d.nextID()
	group.CreatedAt = time.Now()
	group.UpdatedAt = group.CreatedAt
	g := *group
	g.Participants = nil
	r.d.groups[group.ID] = &g
	return nil
}

func (r *groups) Update(group *models.Group) error {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()
	if _, ok := r.d.groups[group.ID]; !ok {
		return repository.ErrNotFound
	}
	if err := r.checkGroupID(group); err != nil {
		return err
	}
	group.UpdatedAt = time.Now()
	g := *group
	g.Participants = nil
	r.d.groups[group.ID] = &g
	return nil
}

func (r *groups) checkGroupID(group *models.Group) error {
	if group.GroupID == "" {
		return nil
	}
	for _, g := range r.d.groups {
		if g.ID != group.ID && g.GroupID == group.GroupID {
			return duplicate("groups_group_id_key")
		}
	}
	return nil
}

func (r *groups) GetByID(id int64) (*models.Group, error) {
	r.d.mu.RLock()
	defer r.d.mu.RUnlock()
	if g, ok := r.d.groups[id]; ok {
		cp := *g
		return &cp, nil
	}
	return nil, nil
}

func (r *groups) GetByGroupID(groupID string) (*models.Group, error) {
	if groupID == "" {
		return nil, nil
	}
	r.d.mu.RLock()
	defer r.d.mu.RUnlock()
	for _, id := range sortedKeys(r.d.groups) {
		if g := r.d.groups[id]; g.GroupID == groupID {
			cp := *g
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *groups) ListSyncable(configurationID *int64) ([]*models.Group, error) {
	r.d.mu.RLock()
	defer r.d.mu.RUnlock()
	var out []*models.Group
	for _, id := range sortedKeys(r.d.groups) {
		g := r.d.groups[id]
		if !g.IsActive || g.GroupID == "" {
			continue
		}
		if configurationID != nil && g.ConfigurationID != nil && *g.ConfigurationID != *configurationID {
			continue
		}
		cp := *g
		out = append(out, &cp)
	}
	return out, nil
}

func (r *groups) List(limit, offset int) ([]*models.Group, error) {
	r.d.mu.RLock()
	defer r.d.mu.RUnlock()
	var out []*models.Group
	for _, id := range sortedKeys(r.d.groups) {
		cp := *r.d.groups[id]
		out = append(out, &cp)
	}
	return page(out, limit, offset), nil
}

func (r *groups) ReplaceParticipants(groupRef int64, contactRefs []int64, _ int) error {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()
	set := make(map[int64]bool, len(contactRefs))
	for _, ref := range contactRefs {
		if _, ok := r.d.contacts[ref]; !ok {
			return fmt.Errorf("contact %d does not exist", ref)
		}
		set[ref] = true
	}
	r.d.participants[groupRef] = set
	return nil
}

func (r *groups) AddParticipant(groupRef, contactRef int64) (bool, error) {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()
	set, ok := r.d.participants[groupRef]
	if !ok {
		set = make(map[int64]bool)
		r.d.participants[groupRef] = set
	}
	if set[contactRef] {
		return false, nil
	}
	set[contactRef] = true
	return true, nil
}

func (r *groups) ListParticipants(groupRef int64) ([]*models.Contact, error) {
	r.d.mu.RLock()
	defer r.d.mu.RUnlock()
	var out []*models.Contact
	for _, id := range sortedKeys(r.d.participants[groupRef]) {
		if c, ok := r.d.contacts[id]; ok {
			cp := *c
			out = append(out, &cp)
		}
	}
	return out, nil
}

// messages

type messages struct{ d *db }

func (r *messages) Create(message *models.Message) error {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()
	for _, m := range r.d.messages {
		if m.MessageID == message.MessageID {
			return duplicate("messages_message_id_key")
		}
	}
	if len(message.Metadata) == 0 {
		message.Metadata = []byte("{}")
	}
	message.ID = r.d.nextID()
	message.CreatedAt = time.Now()
	message.UpdatedAt = message.CreatedAt
	m := *message
	r.d.messages[message.ID] = &m
	return nil
}

func (r *messages) Update(message *models.Message) error {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()
	if _, ok := r.d.messages[message.ID]; !ok {
		return repository.ErrNotFound
	}
	for id, m := range r.d.messages {
		if id != message.ID && m.MessageID == message.MessageID {
			return duplicate("messages_message_id_key")
		}
	}
	message.UpdatedAt = time.Now()
	m := *message
	r.d.messages[message.ID] = &m
	return nil
}

func (r *messages) GetByMessageID(messageID string) (*models.Message, error) {
	r.d.mu.RLock()
	defer r.d.mu.RUnlock()
	for _, m := range r.d.messages {
		if m.MessageID == messageID {
			cp := *m
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *messages) UpdateStatus(messageID, status, errorMessage string) (bool, error) {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()
	for _, m := range r.d.messages {
		if m.MessageID == messageID {
			if m.Status == models.StatusDeleted {
				return true, nil
			}
			m.Status = status
			m.ErrorMessage = errorMessage
			m.UpdatedAt = time.Now()
			return true, nil
		}
	}
	return false, nil
}

func (r *messages) List(filter models.MessageFilter) ([]*models.Message, error) {
	r.d.mu.RLock()
	defer r.d.mu.RUnlock()
	var out []*models.Message
	for _, id := range sortedKeys(r.d.messages) {
		m := r.d.messages[id]
		if filter.ChatID != "" && m.ChatID != filter.ChatID {
			continue
		}
		if filter.GroupRef != nil && (m.GroupRef == nil || *m.GroupRef != *filter.GroupRef) {
			continue
		}
		cp := *m
		out = append(out, &cp)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp > out[j].Timestamp })
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	return page(out, limit, filter.Offset), nil
}

// audit logs

type auditLogs struct{ d *db }

func (r *auditLogs) Insert(entry *models.AuditLog) error {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()
	entry.ID = r.d.nextID()
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	e := *entry
	r.d.auditLogs = append(r.d.auditLogs, &e)
	return nil
}

func (r *auditLogs) ListSince(since time.Time, provider string) ([]*models.AuditLog, error) {
	r.d.mu.RLock()
	defer r.d.mu.RUnlock()
	var out []*models.AuditLog
	for _, e := range r.d.auditLogs {
		if e.CreatedAt.Before(since) || (provider != "" && e.Provider != provider) {
			continue
		}
		cp := *e
		out = append(out, &cp)
	}
	return out, nil
}

func (r *auditLogs) DeleteOlderThan(cutoff time.Time) (int64, error) {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()
	kept := r.d.auditLogs[:0]
	var removed int64
	for _, e := range r.d.auditLogs {
		if e.CreatedAt.Before(cutoff) {
			removed++
			continue
		}
		kept = append(kept, e)
	}
	r.d.auditLogs = kept
	return removed, nil
}

// sync runs

type syncRuns struct{ d *db }

func (r *syncRuns) Create(run *models.SyncRun) error {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()
	run.ID = r.d.nextID()
	run.StartedAt = time.Now()
	cp := *run
	r.d.syncRuns = append(r.d.syncRuns, &cp)
	return nil
}

func (r *syncRuns) Finish(run *models.SyncRun) error {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()
	for _, existing := range r.d.syncRuns {
		if existing.ID == run.ID {
			existing.Status = run.Status
			existing.Message = run.Message
			existing.FinishedAt = run.FinishedAt
			return nil
		}
	}
	return repository.ErrNotFound
}

func (r *syncRuns) Latest() (*models.SyncRun, error) {
	r.d.mu.RLock()
	defer r.d.mu.RUnlock()
	if len(r.d.syncRuns) == 0 {
		return nil, nil
	}
	cp := *r.d.syncRuns[len(r.d.syncRuns)-1]
	return &cp, nil
}

func (r *syncRuns) List(limit int) ([]*models.SyncRun, error) {
	r.d.mu.RLock()
	defer r.d.mu.RUnlock()
	if limit <= 0 {
		limit = 20
	}
	var out []*models.SyncRun
	for i := len(r.d.syncRuns) - 1; i >= 0 && len(out) < limit; i-- {
		cp := *r.d.syncRuns[i]
		out = append(out, &cp)
	}
	return out, nil
}

// users

type users struct{ d *db }

func (r *users) CreateUser(user *models.User) error {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()
	if _, ok := r.d.users[user.Username]; ok {
		return duplicate("users_username_key")
	}
	user.ID = r.d.nextID()
	user.CreatedAt = time.Now()
	cp := *user
	r.d.users[user.Username] = &cp
	return nil
}

func (r *users) GetUserByUsername(username string) (*models.User, error) {
	r.d.mu.RLock()
	defer r.d.mu.RUnlock()
	u, ok := r.d.users[username]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (r *users) CountUsers() (int, error) {
	r.d.mu.RLock()
	defer r.d.mu.RUnlock()
	return len(r.d.users), nil
}
