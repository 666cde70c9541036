package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContactDisplayName(t *testing.T) {
	cases := []struct {
		name    string
		contact Contact
		want    string
	}{
		{"pushname wins", Contact{Pushname: "Ann", Name: "Anna", Phone: "1"}, "Ann"},
		{"name next", Contact{Name: "Anna", Phone: "1"}, "Anna"},
		{"phone next", Contact{Phone: "15551234567", ContactID: "x"}, "15551234567"},
		{"contact id next", Contact{ContactID: "15551234567@s.whatsapp.net"}, "15551234567@s.whatsapp.net"},
		{"fallback", Contact{}, "Unknown"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.contact.DisplayName())
		})
	}
}

func TestChatIDHelpers(t *testing.T) {
	assert.True(t, IsGroupChat("120363@g.us"))
	assert.False(t, IsGroupChat("15551234567@s.whatsapp.net"))

	assert.Equal(t, "15551234567", PhoneFromChatID("15551234567@s.whatsapp.net"))
	assert.Equal(t, "15551234567", PhoneFromChatID("15551234567@c.us"))
	assert.Equal(t, "120363@g.us", PhoneFromChatID("120363@g.us"))

	assert.Equal(t, "15551234567@s.whatsapp.net", UserChatID("+1 (555) 123-4567"))
	assert.Equal(t, "120363@g.us", UserChatID("120363@g.us"))

	assert.True(t, IsDigits("0123"))
	assert.False(t, IsDigits(""))
	assert.False(t, IsDigits("+123"))
	assert.Equal(t, "15551234567", DigitsOnly("+1 (555) 123-4567"))
}

func TestConfigurationAllowsUser(t *testing.T) {
	cfg := Configuration{AllowedUsers: []string{"alice", "bob"}}
	assert.True(t, cfg.AllowsUser("bob"))
	assert.False(t, cfg.AllowsUser("carol"))
}

func TestGroupInviteLink(t *testing.T) {
	assert.Equal(t, "", (&Group{}).InviteLink())
	assert.Equal(t, "https://chat.whatsapp.com/AbC", (&Group{InviteCode: "AbC"}).InviteLink())
}
