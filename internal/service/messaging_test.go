package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"whatsapp-sync/internal/directory"
	"whatsapp-sync/internal/models"
	"whatsapp-sync/internal/provider"
	"whatsapp-sync/internal/repository"
	"whatsapp-sync/internal/repository/memstore"
)

type fakeProvider struct {
	provider.Provider

	sent        []string
	sendResult  provider.SendResult
	createGroup func(name string, participants []string) provider.GroupCreateResult
	removed     []string
}

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) SendText(ctx context.Context, to, body string) provider.SendResult {
	f.sent = append(f.sent, to+":"+body)
	return f.sendResult
}

func (f *fakeProvider) SendMedia(ctx context.Context, to string, m provider.MediaMessage) provider.SendResult {
	f.sent = append(f.sent, to+":"+m.Type)
	return f.sendResult
}

func (f *fakeProvider) CreateGroup(ctx context.Context, name string, participants []string, description string) provider.GroupCreateResult {
	return f.createGroup(name, participants)
}

func (f *fakeProvider) RemoveGroupParticipants(ctx context.Context, groupID string, participants []string) provider.ParticipantsResult {
	f.removed = append(f.removed, participants...)
	return provider.ParticipantsResult{Result: provider.Ok(), Participants: participants}
}

type fakeScope struct {
	p   provider.Provider
	cfg *models.Configuration
	err error
}

func (s *fakeScope) ProviderForScope(ctx context.Context, scope models.Scope) (provider.Provider, *models.Configuration, error) {
	return s.p, s.cfg, s.err
}

var operator = models.Scope{Username: "ops", Role: models.RoleOperator}

func newTestMessaging(t *testing.T, p provider.Provider) (*MessagingService, *repository.Store) {
	t.Helper()
	store := memstore.New()
	cfg := &models.Configuration{Name: "main", Provider: "fake", Active: true, AllowedUsers: []string{"ops"}}
	require.NoError(t, store.Configurations.Create(cfg))
	svc := NewMessagingService(&fakeScope{p: p, cfg: cfg}, store, directory.New(store, zap.NewNop()), nil, zap.NewNop())
	return svc, store
}

func TestSendText_MarksSent(t *testing.T) {
	p := &fakeProvider{sendResult: provider.SendResult{Result: provider.Ok(), MessageID: "wamid.1", Status: models.StatusSent}}
	svc, store := newTestMessaging(t, p)

	msg, err := svc.SendText(context.Background(), operator, "+1 555 123 4567", "hello")
	require.NoError(t, err)
	assert.Equal(t, "wamid.1", msg.MessageID)
	assert.Equal(t, models.StatusSent, msg.Status)
	assert.Equal(t, "15551234567@s.whatsapp.net", msg.ChatID)
	assert.True(t, msg.FromMe)

	stored, err := store.Messages.GetByMessageID("wamid.1")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, "hello", stored.Body)
	assert.Equal(t, []string{"+1 555 123 4567:hello"}, p.sent)
}

func TestSendText_ProviderFailureMarksFailed(t *testing.T) {
	p := &fakeProvider{sendResult: provider.SendResult{Result: provider.Fail(provider.ErrorTypeAPI, "HTTP 401")}}
	svc, store := newTestMessaging(t, p)

	msg, err := svc.SendText(context.Background(), operator, "15551234567", "hello")
	assert.ErrorIs(t, err, ErrProviderFailed)
	require.NotNil(t, msg)
	assert.Equal(t, models.StatusFailed, msg.Status)

	stored, err := store.Messages.GetByMessageID(msg.MessageID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, models.StatusFailed, stored.Status)
	assert.Equal(t, "HTTP 401", stored.ErrorMessage)
}

func TestSendText_Validation(t *testing.T) {
	p := &fakeProvider{}
	svc, _ := newTestMessaging(t, p)

	_, err := svc.SendText(context.Background(), operator, "", "hello")
	assert.True(t, IsClientError(err))
	_, err = svc.SendText(context.Background(), operator, "15551234567", "  ")
	assert.True(t, IsClientError(err))
	assert.Empty(t, p.sent)
}

func TestSendText_NoConfiguration(t *testing.T) {
	store := memstore.New()
	svc := NewMessagingService(&fakeScope{err: provider.ErrNoConfiguration}, store, directory.New(store, zap.NewNop()), nil, zap.NewNop())

	_, err := svc.SendText(context.Background(), operator, "15551234567", "hello")
	assert.ErrorIs(t, err, provider.ErrNoConfiguration)
}

func TestSendMedia_InfersTypeFromMime(t *testing.T) {
	p := &fakeProvider{sendResult: provider.SendResult{Result: provider.Ok(), MessageID: "wamid.2"}}
	svc, _ := newTestMessaging(t, p)

	msg, err := svc.SendMedia(context.Background(), operator, "15551234567", provider.MediaMessage{
		Payload:  []byte("fake image"),
		MimeType: "image/png",
		Filename: "photo.png",
	})
	require.NoError(t, err)
	assert.Equal(t, models.MessageTypeImage, msg.MessageType)
	assert.Equal(t, "Image message", msg.Body)
	assert.Equal(t, models.StatusSent, msg.Status)

	_, err = svc.SendMedia(context.Background(), operator, "15551234567", provider.MediaMessage{MimeType: "image/png"})
	assert.True(t, IsClientError(err))
}

func TestCreateGroup_StoresGroupAndParticipants(t *testing.T) {
	var gotParticipants []string
	p := &fakeProvider{createGroup: func(name string, participants []string) provider.GroupCreateResult {
		gotParticipants = participants
		return provider.GroupCreateResult{Result: provider.Ok(), GroupID: "120363@g.us", InviteCode: "AbC"}
	}}
	svc, store := newTestMessaging(t, p)
	require.NoError(t, store.Contacts.Create(&models.Contact{ContactID: "alice@lid", Phone: "15550000001"}))

	group, err := svc.CreateGroup(context.Background(), operator, "Team", "desc",
		[]string{"alice@lid", "+1 555 000 0002", "15550000002", "not a phone"})
	require.NoError(t, err)
	assert.Equal(t, []string{"15550000001", "15550000002"}, gotParticipants)
	assert.Equal(t, "120363@g.us", group.GroupID)
	assert.Equal(t, "https://chat.whatsapp.com/AbC", group.InviteLink())

	members, err := store.Groups.ListParticipants(group.ID)
	require.NoError(t, err)
	assert.Len(t, members, 2)
}

func TestCreateGroup_Validation(t *testing.T) {
	p := &fakeProvider{createGroup: func(string, []string) provider.GroupCreateResult {
		t.Fatal("provider must not be called")
		return provider.GroupCreateResult{}
	}}
	svc, _ := newTestMessaging(t, p)

	_, err := svc.CreateGroup(context.Background(), operator, "", "", []string{"15551234567"})
	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "name", verr.Field)

	_, err = svc.CreateGroup(context.Background(), operator, "Team", "", []string{"abc", ""})
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "participants", verr.Field)
}

func TestCreateGroup_ProviderFailure(t *testing.T) {
	p := &fakeProvider{createGroup: func(string, []string) provider.GroupCreateResult {
		return provider.GroupCreateResult{Result: provider.NotSupported("fake", "group creation")}
	}}
	svc, _ := newTestMessaging(t, p)

	_, err := svc.CreateGroup(context.Background(), operator, "Team", "", []string{"15551234567"})
	assert.ErrorIs(t, err, ErrProviderFailed)
}

func TestRemoveParticipants_UnlinksLocally(t *testing.T) {
	p := &fakeProvider{createGroup: func(name string, participants []string) provider.GroupCreateResult {
		return provider.GroupCreateResult{Result: provider.Ok(), GroupID: "120363@g.us"}
	}}
	svc, store := newTestMessaging(t, p)
	ctx := context.Background()

	group, err := svc.CreateGroup(ctx, operator, "Team", "", []string{"15550000001", "15550000002"})
	require.NoError(t, err)

	_, err = svc.RemoveParticipants(ctx, operator, group.ID, []string{"15550000001@s.whatsapp.net"})
	require.NoError(t, err)
	assert.Equal(t, []string{"15550000001"}, p.removed)

	members, err := store.Groups.ListParticipants(group.ID)
	require.NoError(t, err)
	require.Len(t, members, 1)
	assert.Equal(t, "15550000002", members[0].Phone)

	_, err = svc.RemoveParticipants(ctx, operator, 9999, []string{"15550000002"})
	assert.ErrorIs(t, err, ErrNotFound)
}
