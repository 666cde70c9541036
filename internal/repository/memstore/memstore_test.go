package memstore

import (
	"errors"
	"testing"

	"whatsapp-sync/internal/models"
	"whatsapp-sync/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContacts_UniqueContactID(t *testing.T) {
	store := New()
	require.NoError(t, store.Contacts.Create(&models.Contact{ContactID: "a"}))
	err := store.Contacts.Create(&models.Contact{ContactID: "a"})
	assert.True(t, errors.Is(err, repository.ErrDuplicate))
}

func TestContacts_FindPrefersContactID(t *testing.T) {
	store := New()
	require.NoError(t, store.Contacts.Create(&models.Contact{ContactID: "x", Phone: "15550001111"}))
	require.NoError(t, store.Contacts.Create(&models.Contact{ContactID: "15550001111@s.whatsapp.net"}))

	c, err := store.Contacts.FindByContactIDOrPhone("15550001111@s.whatsapp.net", "15550001111")
	require.NoError(t, err)
	assert.Equal(t, "15550001111@s.whatsapp.net", c.ContactID)

	c, err = store.Contacts.FindByContactIDOrPhone("other", "15550001111")
	require.NoError(t, err)
	assert.Equal(t, "x", c.ContactID)
}

func TestGroups_EmptyGroupIDIsNotUnique(t *testing.T) {
	store := New()
	require.NoError(t, store.Groups.Create(&models.Group{Name: "a"}))
	require.NoError(t, store.Groups.Create(&models.Group{Name: "b"}))
	require.NoError(t, store.Groups.Create(&models.Group{Name: "c", GroupID: "1@g.us"}))
	err := store.Groups.Create(&models.Group{Name: "d", GroupID: "1@g.us"})
	assert.True(t, errors.Is(err, repository.ErrDuplicate))
}

func TestConfigurations_ActiveChannelUnique(t *testing.T) {
	store := New()
	require.NoError(t, store.Configurations.Create(&models.Configuration{Name: "a", ChannelID: "ch", Active: true}))
	err := store.Configurations.Create(&models.Configuration{Name: "b", ChannelID: "ch", Active: true})
	assert.True(t, errors.Is(err, repository.ErrDuplicate))
	require.NoError(t, store.Configurations.Create(&models.Configuration{Name: "c", ChannelID: "ch", Active: false}))
}

func TestGroups_ReplaceAndAddParticipants(t *testing.T) {
	store := New()
	g := &models.Group{Name: "g", GroupID: "1@g.us", IsActive: true}
	require.NoError(t, store.Groups.Create(g))
	a := &models.Contact{ContactID: "a"}
	b := &models.Contact{ContactID: "b"}
	require.NoError(t, store.Contacts.Create(a))
	require.NoError(t, store.Contacts.Create(b))

	require.NoError(t, store.Groups.ReplaceParticipants(g.ID, []int64{a.ID}, 100))
	added, err := store.Groups.AddParticipant(g.ID, b.ID)
	require.NoError(t, err)
	assert.True(t, added)
	added, err = store.Groups.AddParticipant(g.ID, b.ID)
	require.NoError(t, err)
	assert.False(t, added)

	members, err := store.Groups.ListParticipants(g.ID)
	require.NoError(t, err)
	assert.Len(t, members, 2)

	require.NoError(t, store.Groups.ReplaceParticipants(g.ID, nil, 100))
	members, err = store.Groups.ListParticipants(g.ID)
	require.NoError(t, err)
	assert.Empty(t, members)
}

func TestMessages_DeletedStatusIsTerminal(t *testing.T) {
	store := New()
	require.NoError(t, store.Messages.Create(&models.Message{MessageID: "m1", Status: models.StatusDeleted}))

	found, err := store.Messages.UpdateStatus("m1", models.StatusRead, "")
	require.NoError(t, err)
	assert.True(t, found)

	m, err := store.Messages.GetByMessageID("m1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusDeleted, m.Status)

	found, err = store.Messages.UpdateStatus("missing", models.StatusRead, "")
	require.NoError(t, err)
	assert.False(t, found)
}
