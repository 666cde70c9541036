package models

import (
	"time"

	"github.com/jmoiron/sqlx/types"
)

// Message represents a message stored in the 'messages' table.
type Message struct {
	ID              int64          `db:"id" json:"id"`
	MessageID       string         `db:"message_id" json:"message_id"` // provider identifier, unique
	Body            string         `db:"body" json:"body"`
	MessageType     string         `db:"message_type" json:"message_type"`
	ChatID          string         `db:"chat_id" json:"chat_id"`
	FromMe          bool           `db:"from_me" json:"from_me"`
	Timestamp       int64          `db:"timestamp" json:"timestamp"` // unix seconds as reported by the provider
	Status          string         `db:"status" json:"status"`
	ErrorMessage    string         `db:"error_message" json:"error_message,omitempty"`
	MediaURL        string         `db:"media_url" json:"media_url,omitempty"`
	MediaType       string         `db:"media_type" json:"media_type,omitempty"`
	Caption         string         `db:"caption" json:"caption,omitempty"`
	Metadata        types.JSONText `db:"metadata" json:"metadata,omitempty"`
	ContactRef      *int64         `db:"contact_ref" json:"contact_ref,omitempty"`
	GroupRef        *int64         `db:"group_ref" json:"group_ref,omitempty"`
	ConfigurationID *int64         `db:"configuration_id" json:"configuration_id,omitempty"`
	Provider        string         `db:"provider" json:"provider"`
	SyncedAt        *time.Time     `db:"synced_at" json:"synced_at,omitempty"`
	CreatedAt       time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time      `db:"updated_at" json:"updated_at"`
}

// MessageFilter narrows message listings.
type MessageFilter struct {
	ChatID   string
	GroupRef *int64
	Limit    int
	Offset   int
}
