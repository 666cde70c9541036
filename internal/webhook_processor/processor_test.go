package webhook_processor

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"whatsapp-sync/internal/directory"
	"whatsapp-sync/internal/event_publisher"
	"whatsapp-sync/internal/models"
	"whatsapp-sync/internal/provider"
	"whatsapp-sync/internal/repository"
	"whatsapp-sync/internal/repository/memstore"
)

type recordingPublisher struct {
	keys []string
}

func (p *recordingPublisher) Publish(ctx context.Context, key string, msg event_publisher.Envelope) error {
	p.keys = append(p.keys, key)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

type fakeAdapter struct {
	provider.Provider
	valid    bool
	messages []provider.Message
	statuses []provider.StatusUpdate
}

func (a *fakeAdapter) Name() string { return models.ProviderTwilio }

func (a *fakeAdapter) ValidateWebhook(req provider.WebhookRequest) bool { return a.valid }

func (a *fakeAdapter) ParseWebhookMessage(body []byte) []provider.Message { return a.messages }

func (a *fakeAdapter) ParseWebhookStatus(body []byte) []provider.StatusUpdate { return a.statuses }

type fakeResolver struct {
	adapter provider.Provider
	cfg     *models.Configuration
}

func (r *fakeResolver) ProviderForConfiguration(ctx context.Context, cfg *models.Configuration) (provider.Provider, error) {
	return r.adapter, nil
}

func (r *fakeResolver) DefaultProvider(ctx context.Context) (provider.Provider, *models.Configuration, error) {
	if r.adapter == nil {
		return nil, nil, provider.ErrNoConfiguration
	}
	return r.adapter, r.cfg, nil
}

func newTestProcessor(t *testing.T) (*Processor, *repository.Store, *recordingPublisher) {
	t.Helper()
	store := memstore.New()
	pub := &recordingPublisher{}
	p := NewProcessor(store, directory.New(store, zap.NewNop()), &fakeResolver{}, pub, nil, zap.NewNop())
	return p, store, pub
}

func post(t *testing.T, p *Processor, body any) Result {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	return p.Process(context.Background(), raw)
}

func groupMessage(id, from, text string) map[string]any {
	return map[string]any{
		"id":        id,
		"chat_id":   "120363@g.us",
		"chat_name": "Team",
		"type":      "text",
		"timestamp": 1700000000,
		"from":      from,
		"from_name": "Ann",
		"text":      map[string]any{"body": text},
	}
}

func messageCount(t *testing.T, store *repository.Store) int {
	t.Helper()
	all, err := store.Messages.List(models.MessageFilter{Limit: 1000})
	require.NoError(t, err)
	return len(all)
}

func TestProcess_MalformedPayloads(t *testing.T) {
	p, _, _ := newTestProcessor(t)

	res := p.Process(context.Background(), []byte(`{}`))
	assert.Equal(t, Result{Status: StatusSuccess}, res)

	res = p.Process(context.Background(), []byte(`{"messages":[]}`))
	assert.Equal(t, Result{Status: StatusSuccess}, res)

	res = p.Process(context.Background(), []byte(`{"messages":[{"id":"x"}]}`))
	assert.Equal(t, StatusSuccess, res.Status)
	assert.Equal(t, 0, res.ProcessedCount)
	assert.Equal(t, 1, res.ErrorCount)

	res = p.Process(context.Background(), []byte(`{"messages":["oops", {"id":"x"}], "messages_removed":[42]}`))
	assert.Equal(t, 0, res.ProcessedCount)
	assert.Equal(t, 3, res.ErrorCount)

	res = p.Process(context.Background(), []byte(`not json`))
	assert.Equal(t, StatusError, res.Status)
	assert.NotEmpty(t, res.Message)
}

func TestProcess_NewGroupMessageLinksContactAndGroup(t *testing.T) {
	p, store, pub := newTestProcessor(t)

	res := post(t, p, map[string]any{"messages": []any{groupMessage("m1", "15550001111", "hello")}})
	assert.Equal(t, 1, res.ProcessedCount)
	assert.Equal(t, 0, res.ErrorCount)

	msg, err := store.Messages.GetByMessageID("m1")
	require.NoError(t, err)
	require.NotNil(t, msg)
	assert.Equal(t, "hello", msg.Body)
	assert.Equal(t, models.StatusDelivered, msg.Status)
	require.NotNil(t, msg.GroupRef)
	require.NotNil(t, msg.ContactRef)

	group, err := store.Groups.GetByGroupID("120363@g.us")
	require.NoError(t, err)
	assert.Equal(t, "Team", group.Name)
	contact, err := store.Contacts.GetByContactID("15550001111@s.whatsapp.net")
	require.NoError(t, err)
	require.NotNil(t, contact)
	assert.Equal(t, "Ann", contact.Pushname)
	assert.True(t, contact.IsChatContact)

	participants, err := store.Groups.ListParticipants(group.ID)
	require.NoError(t, err)
	require.Len(t, participants, 1)
	assert.Equal(t, contact.ID, participants[0].ID)

	redelivered := groupMessage("m1", "15550001111", "hello")
	redelivered["timestamp"] = 1700000500
	res = post(t, p, map[string]any{"messages": []any{redelivered}})
	assert.Equal(t, 1, res.ProcessedCount)
	assert.Equal(t, 1, messageCount(t, store))

	msg, err = store.Messages.GetByMessageID("m1")
	require.NoError(t, err)
	assert.Equal(t, int64(1700000500), msg.Timestamp)
	assert.Equal(t, []string{event_publisher.EventMessageReceived}, pub.keys)
}

func TestProcess_IndividualMessageAndChannelConfiguration(t *testing.T) {
	p, store, _ := newTestProcessor(t)
	cfg := &models.Configuration{Name: "main", Provider: "whapi", ChannelID: "CH-1", Active: true}
	require.NoError(t, store.Configurations.Create(cfg))

	res := post(t, p, map[string]any{
		"channel_id": "CH-1",
		"messages": []any{map[string]any{
			"id":      "d1",
			"chat_id": "15550002222@s.whatsapp.net",
			"type":    "document",
			"document": map[string]any{
				"filename":  "report.pdf",
				"caption":   "see attached",
				"link":      "https://files.example/report.pdf",
				"mime_type": "application/pdf",
			},
		}},
	})
	assert.Equal(t, 1, res.ProcessedCount)

	msg, err := store.Messages.GetByMessageID("d1")
	require.NoError(t, err)
	assert.Equal(t, "Document: report.pdf", msg.Body)
	assert.Equal(t, "https://files.example/report.pdf", msg.MediaURL)
	assert.Nil(t, msg.GroupRef)
	require.NotNil(t, msg.ConfigurationID)
	assert.Equal(t, cfg.ID, *msg.ConfigurationID)

	contact, err := store.Contacts.GetByContactID("15550002222@s.whatsapp.net")
	require.NoError(t, err)
	require.NotNil(t, contact)
	require.NotNil(t, contact.ConfigurationID)
	assert.Equal(t, cfg.ID, *contact.ConfigurationID)

	// Unknown channels are processed without linkage.
	res = post(t, p, map[string]any{"channel_id": "nope", "messages": []any{groupMessage("g1", "15550003333", "hi")}})
	assert.Equal(t, 1, res.ProcessedCount)
	msg, err = store.Messages.GetByMessageID("g1")
	require.NoError(t, err)
	assert.Nil(t, msg.ConfigurationID)
}

func editAction(id, target, body string) map[string]any {
	return map[string]any{
		"id":        id,
		"chat_id":   "120363@g.us",
		"type":      "action",
		"from":      "15550001111",
		"from_name": "Ann",
		"timestamp": 1700000100,
		"action": map[string]any{
			"type":           "edit",
			"target":         target,
			"edited_content": map[string]any{"body": body},
		},
	}
}

func TestProcess_EditAction(t *testing.T) {
	p, store, pub := newTestProcessor(t)
	post(t, p, map[string]any{"messages": []any{groupMessage("M", "15550001111", "hello")}})

	res := post(t, p, map[string]any{"messages": []any{editAction("E1", "M", "hello world")}})
	assert.Equal(t, 1, res.ProcessedCount)

	msg, err := store.Messages.GetByMessageID("M")
	require.NoError(t, err)
	assert.Equal(t, "hello world", msg.Body)
	meta := directory.Decode(msg.Metadata)
	assert.Equal(t, "M", provider.String(meta, "original_metadata", "id"))
	assert.Equal(t, "E1", provider.String(meta, "edit_action", "id"))

	system, err := store.Messages.GetByMessageID("E1")
	require.NoError(t, err)
	require.NotNil(t, system)
	assert.Equal(t, models.MessageTypeSystem, system.MessageType)
	assert.Equal(t, "[System] Message edited: hello world by Ann", system.Body)
	assert.NotNil(t, system.GroupRef)
	assert.Equal(t, 2, messageCount(t, store))
	assert.Contains(t, pub.keys, event_publisher.EventMessageEdited)

	// Redelivery of the same action does not add another system message.
	post(t, p, map[string]any{"messages": []any{editAction("E1", "M", "hello world")}})
	assert.Equal(t, 2, messageCount(t, store))
}

func TestProcess_EditOfUnknownMessageOnlyNarrates(t *testing.T) {
	p, store, _ := newTestProcessor(t)

	res := post(t, p, map[string]any{"messages": []any{editAction("E2", "N", "new")}})
	assert.Equal(t, 1, res.ProcessedCount)
	assert.Equal(t, 1, messageCount(t, store))

	system, err := store.Messages.GetByMessageID("E2")
	require.NoError(t, err)
	assert.Equal(t, "[System] Message edit by Ann", system.Body)
}

func TestProcess_DeleteActionIsSoft(t *testing.T) {
	p, store, pub := newTestProcessor(t)
	post(t, p, map[string]any{"messages": []any{groupMessage("M", "15550001111", "secret")}})

	del := editAction("D1", "M", "")
	del["action"] = map[string]any{"type": "delete", "target": "M"}
	res := post(t, p, map[string]any{"messages": []any{del}})
	assert.Equal(t, 1, res.ProcessedCount)

	msg, err := store.Messages.GetByMessageID("M")
	require.NoError(t, err)
	assert.Equal(t, DeletedPlaceholder, msg.Body)
	assert.Equal(t, models.StatusDeleted, msg.Status)
	meta := directory.Decode(msg.Metadata)
	assert.Equal(t, "secret", provider.String(meta, "original_metadata", "text", "body"))

	system, err := store.Messages.GetByMessageID("D1")
	require.NoError(t, err)
	assert.Equal(t, "[System] Message deleted by Ann", system.Body)
	assert.Equal(t, 2, messageCount(t, store))
	assert.Contains(t, pub.keys, event_publisher.EventMessageDeleted)

	// Unhandled action types succeed without side effects.
	other := editAction("R1", "M", "")
	other["action"] = map[string]any{"type": "reaction", "target": "M"}
	res = post(t, p, map[string]any{"messages": []any{other}})
	assert.Equal(t, 1, res.ProcessedCount)
	assert.Equal(t, 2, messageCount(t, store))
}

func TestProcess_RemovalsRunBeforeMessages(t *testing.T) {
	p, store, _ := newTestProcessor(t)
	post(t, p, map[string]any{"messages": []any{groupMessage("old", "15550001111", "bye")}})

	res := post(t, p, map[string]any{
		"messages":         []any{groupMessage("fresh", "15550001111", "hi")},
		"messages_removed": []any{"old", "fresh"},
	})
	// "fresh" is not stored yet when removals run.
	assert.Equal(t, 2, res.ProcessedCount)
	assert.Equal(t, 1, res.ErrorCount)

	old, err := store.Messages.GetByMessageID("old")
	require.NoError(t, err)
	assert.Equal(t, DeletedPlaceholder, old.Body)
	assert.Equal(t, models.StatusDeleted, old.Status)
	assert.Equal(t, "old", provider.String(directory.Decode(old.Metadata), "original_metadata", "id"))

	fresh, err := store.Messages.GetByMessageID("fresh")
	require.NoError(t, err)
	assert.Equal(t, "hi", fresh.Body)
}

func TestProcess_MessageUpdates(t *testing.T) {
	p, store, _ := newTestProcessor(t)
	post(t, p, map[string]any{"messages": []any{groupMessage("U1", "15550001111", "typo")}})

	res := post(t, p, map[string]any{"messages_updates": []any{
		map[string]any{
			"id":           "U1",
			"after_update": map[string]any{"type": "text", "text": map[string]any{"body": "fixed"}},
		},
		map[string]any{
			"id": "U2",
			"after_update": map[string]any{
				"chat_id": "120363@g.us",
				"from":    "15550001111",
				"type":    "image",
				"image":   map[string]any{"caption": "look"},
			},
		},
		map[string]any{"id": "U3"},
	}})
	assert.Equal(t, 2, res.ProcessedCount)
	assert.Equal(t, 1, res.ErrorCount)

	u1, err := store.Messages.GetByMessageID("U1")
	require.NoError(t, err)
	assert.Equal(t, "fixed", u1.Body)
	assert.Equal(t, "U1", provider.String(directory.Decode(u1.Metadata), "id"))

	u2, err := store.Messages.GetByMessageID("U2")
	require.NoError(t, err)
	require.NotNil(t, u2)
	assert.Equal(t, "look", u2.Body)
	assert.Equal(t, models.MessageTypeImage, u2.MessageType)
}

func TestUpdatedBody(t *testing.T) {
	assert.Equal(t, "hi", updatedBody("text", map[string]any{"text": map[string]any{"body": "hi"}}))
	assert.Equal(t, "Video message", updatedBody("video", map[string]any{}))
	assert.Equal(t, "Poll message", updatedBody("poll", nil))
	assert.Equal(t, "Text message", updatedBody("", nil))
}

func TestProcess_Statuses(t *testing.T) {
	p, store, _ := newTestProcessor(t)
	post(t, p, map[string]any{"messages": []any{groupMessage("S1", "15550001111", "x"), groupMessage("S2", "15550001111", "y")}})

	res := post(t, p, map[string]any{
		"statuses": []any{
			map[string]any{"id": "S1", "status": "read"},
			map[string]any{"id": "unknown", "status": "delivered"},
		},
		"entry": []any{map[string]any{"changes": []any{map[string]any{"value": map[string]any{
			"statuses": []any{map[string]any{"id": "S2", "status": "failed", "errors": []any{map[string]any{"title": "Number not on WhatsApp"}}}},
		}}}}},
	})
	assert.Equal(t, 3, res.ProcessedCount)
	assert.Equal(t, 0, res.ErrorCount)

	s1, err := store.Messages.GetByMessageID("S1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusRead, s1.Status)
	s2, err := store.Messages.GetByMessageID("S2")
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, s2.Status)
	assert.Equal(t, "Number not on WhatsApp", s2.ErrorMessage)
}

func TestHandleProviderWebhook(t *testing.T) {
	p, store, _ := newTestProcessor(t)
	cfg := &models.Configuration{Name: "sms", Provider: "twilio", Active: true}
	require.NoError(t, store.Configurations.Create(cfg))

	adapter := &fakeAdapter{valid: false}
	p.providers = &fakeResolver{adapter: adapter}

	res, ok := p.HandleProviderWebhook(context.Background(), "twilio", provider.WebhookRequest{Body: []byte("x")})
	assert.False(t, ok)
	assert.Equal(t, StatusError, res.Status)

	adapter.valid = true
	adapter.messages = []provider.Message{{ID: "SM1", ChatID: "15550004444@s.whatsapp.net", From: "15550004444", Type: "text", Body: "hi"}}
	adapter.statuses = []provider.StatusUpdate{{MessageID: "SM1", Status: models.StatusRead}}
	res, ok = p.HandleProviderWebhook(context.Background(), "twilio", provider.WebhookRequest{Body: []byte("x")})
	assert.True(t, ok)
	assert.Equal(t, 2, res.ProcessedCount)

	msg, err := store.Messages.GetByMessageID("SM1")
	require.NoError(t, err)
	assert.Equal(t, "twilio", msg.Provider)
	assert.Equal(t, models.StatusRead, msg.Status)
	require.NotNil(t, msg.ConfigurationID)
	assert.Equal(t, cfg.ID, *msg.ConfigurationID)

	res, _ = p.HandleProviderWebhook(context.Background(), "wassenger", provider.WebhookRequest{})
	assert.Equal(t, StatusError, res.Status)
}

func TestProcess_DeletedStatusIsTerminal(t *testing.T) {
	p, store, _ := newTestProcessor(t)
	post(t, p, map[string]any{"messages": []any{groupMessage("m1", "15550001111", "secret")}})
	post(t, p, map[string]any{"messages_removed": []any{"m1"}})

	res := post(t, p, map[string]any{"statuses": []any{map[string]any{"id": "m1", "status": "read"}}})
	assert.Equal(t, 1, res.ProcessedCount)
	assert.Equal(t, 0, res.ErrorCount)

	msg, err := store.Messages.GetByMessageID("m1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusDeleted, msg.Status)
	assert.Equal(t, DeletedPlaceholder, msg.Body)

	// Edits, updates and redeliveries leave the deleted record alone.
	post(t, p, map[string]any{"messages": []any{editAction("E9", "m1", "resurrected")}})
	post(t, p, map[string]any{"messages_updates": []any{map[string]any{
		"id":           "m1",
		"after_update": map[string]any{"type": "text", "text": map[string]any{"body": "again"}},
	}}})
	post(t, p, map[string]any{"messages": []any{groupMessage("m1", "15550001111", "secret")}})

	msg, err = store.Messages.GetByMessageID("m1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusDeleted, msg.Status)
	assert.Equal(t, DeletedPlaceholder, msg.Body)
	assert.Equal(t, "secret", provider.String(directory.Decode(msg.Metadata), "original_metadata", "text", "body"))
}

func TestProcess_UnrecognisedStatusIsIgnored(t *testing.T) {
	p, store, _ := newTestProcessor(t)
	post(t, p, map[string]any{"messages": []any{groupMessage("m1", "15550001111", "x")}})
	post(t, p, map[string]any{"statuses": []any{map[string]any{"id": "m1", "status": "delivered"}}})

	res := post(t, p, map[string]any{"statuses": []any{map[string]any{"id": "m1", "status": "bogus_vocab"}}})
	assert.Equal(t, 1, res.ProcessedCount)
	assert.Equal(t, 0, res.ErrorCount)

	msg, err := store.Messages.GetByMessageID("m1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusDelivered, msg.Status)

	res = p.ApplyStatuses(context.Background(), []provider.StatusUpdate{{MessageID: "m1", Status: models.StatusUnknown}})
	assert.Equal(t, 1, res.ProcessedCount)
	msg, err = store.Messages.GetByMessageID("m1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusDelivered, msg.Status)
}

func TestProcess_RepeatedDeletesKeepOriginalMetadata(t *testing.T) {
	p, store, pub := newTestProcessor(t)
	post(t, p, map[string]any{"messages": []any{groupMessage("m1", "15550001111", "secret")}})

	for i := 0; i < 2; i++ {
		res := post(t, p, map[string]any{"messages_removed": []any{"m1"}})
		assert.Equal(t, 1, res.ProcessedCount)
		assert.Equal(t, 0, res.ErrorCount)
	}
	del := editAction("D1", "m1", "")
	del["action"] = map[string]any{"type": "delete", "target": "m1"}
	res := post(t, p, map[string]any{"messages": []any{del}})
	assert.Equal(t, 1, res.ProcessedCount)

	msg, err := store.Messages.GetByMessageID("m1")
	require.NoError(t, err)
	meta := directory.Decode(msg.Metadata)
	original := provider.Map(meta, "original_metadata")
	assert.Equal(t, "secret", provider.String(original, "text", "body"))
	assert.Nil(t, provider.Map(original, "original_metadata"))
	assert.Nil(t, meta["delete_action"])

	deletions := 0
	for _, key := range pub.keys {
		if key == event_publisher.EventMessageDeleted {
			deletions++
		}
	}
	assert.Equal(t, 1, deletions)

	system, err := store.Messages.GetByMessageID("D1")
	require.NoError(t, err)
	require.NotNil(t, system)
	assert.Equal(t, "[System] Message deleted by Ann", system.Body)
}

func TestHandleProviderWebhook_DefaultProviderWithoutRoutingKey(t *testing.T) {
	p, store, _ := newTestProcessor(t)

	res, ok := p.HandleProviderWebhook(context.Background(), "", provider.WebhookRequest{Body: []byte("x")})
	assert.True(t, ok)
	assert.Equal(t, StatusError, res.Status)

	cfg := &models.Configuration{Name: "sms", Provider: "twilio", Active: true}
	require.NoError(t, store.Configurations.Create(cfg))
	adapter := &fakeAdapter{valid: false}
	p.providers = &fakeResolver{adapter: adapter, cfg: cfg}

	res, ok = p.HandleProviderWebhook(context.Background(), "", provider.WebhookRequest{Body: []byte("x")})
	assert.False(t, ok)
	assert.Equal(t, "invalid signature", res.Message)

	adapter.valid = true
	adapter.messages = []provider.Message{{ID: "SM9", ChatID: "15550005555@s.whatsapp.net", From: "15550005555", Type: "text", Body: "hey"}}
	res, ok = p.HandleProviderWebhook(context.Background(), "", provider.WebhookRequest{Body: []byte("x")})
	assert.True(t, ok)
	assert.Equal(t, 1, res.ProcessedCount)

	msg, err := store.Messages.GetByMessageID("SM9")
	require.NoError(t, err)
	require.NotNil(t, msg)
	assert.Equal(t, models.ProviderTwilio, msg.Provider)
	require.NotNil(t, msg.ConfigurationID)
	assert.Equal(t, cfg.ID, *msg.ConfigurationID)
}
