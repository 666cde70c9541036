package models

import "time"

// Contact is a WhatsApp address book or chat participant entry.
type Contact struct {
	ID              int64      `db:"id" json:"id"`
	ContactID       string     `db:"contact_id" json:"contact_id"` // provider identifier, unique
	Phone           string     `db:"phone" json:"phone"`
	Name            string     `db:"name" json:"name"`
	Pushname        string     `db:"pushname" json:"pushname"`
	IsWAContact     bool       `db:"is_wa_contact" json:"is_wa_contact"`
	IsPhoneContact  bool       `db:"is_phone_contact" json:"is_phone_contact"`
	IsChatContact   bool       `db:"is_chat_contact" json:"is_chat_contact"`
	IsActive        bool       `db:"is_active" json:"is_active"`
	Provider        string     `db:"provider" json:"provider"`
	ConfigurationID *int64     `db:"configuration_id" json:"configuration_id,omitempty"`
	SyncedAt        *time.Time `db:"synced_at" json:"synced_at,omitempty"`
	CreatedAt       time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time  `db:"updated_at" json:"updated_at"`
}

// DisplayName picks pushname, then name, then phone, then contact id.
func (c *Contact) DisplayName() string {
	switch {
	case c.Pushname != "":
		return c.Pushname
	case c.Name != "":
		return c.Name
	case c.Phone != "":
		return c.Phone
	case c.ContactID != "":
		return c.ContactID
	}
	return "Unknown"
}
