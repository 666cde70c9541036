package models

import (
	"time"

	"github.com/lib/pq"
)

// Configuration is one provider account: credentials, routing key and access list.
type Configuration struct {
	ID              int64          `db:"id" json:"id"`
	Name            string         `db:"name" json:"name"`
	Provider        string         `db:"provider" json:"provider"`
	TokenEncrypted  string         `db:"token_encrypted" json:"-"`
	AccountSID      string         `db:"account_sid" json:"account_sid,omitempty"` // twilio
	FromNumber      string         `db:"from_number" json:"from_number,omitempty"` // twilio
	DeviceID        string         `db:"device_id" json:"device_id,omitempty"`     // wassenger
	SupervisorPhone string         `db:"supervisor_phone" json:"supervisor_phone,omitempty"`
	ChannelID       string         `db:"channel_id" json:"channel_id,omitempty"` // webhook routing key
	Active          bool           `db:"active" json:"active"`
	AllowedUsers    pq.StringArray `db:"allowed_users" json:"allowed_users"`
	CreatedAt       time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time      `db:"updated_at" json:"updated_at"`
}

// AllowsUser reports whether username is on the access list.
func (c *Configuration) AllowsUser(username string) bool {
	for _, u := range c.AllowedUsers {
		if u == username {
			return true
		}
	}
	return false
}
