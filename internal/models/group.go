package models

import (
	"time"

	"github.com/jmoiron/sqlx/types"
)

// Group is a WhatsApp group chat.
type Group struct {
	ID              int64          `db:"id" json:"id"`
	GroupID         string         `db:"group_id" json:"group_id"` // unique when non-empty
	Name            string         `db:"name" json:"name"`
	Description     string         `db:"description" json:"description"`
	Metadata        types.JSONText `db:"metadata" json:"metadata,omitempty"`
	InviteCode      string         `db:"invite_code" json:"invite_code,omitempty"`
	InviteFetchedAt *time.Time     `db:"invite_fetched_at" json:"invite_fetched_at,omitempty"`
	IsActive        bool           `db:"is_active" json:"is_active"`
	Provider        string         `db:"provider" json:"provider"`
	ConfigurationID *int64         `db:"configuration_id" json:"configuration_id,omitempty"`
	SyncedAt        *time.Time     `db:"synced_at" json:"synced_at,omitempty"`
	CreatedAt       time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time      `db:"updated_at" json:"updated_at"`

	Participants []*Contact `db:"-" json:"participants,omitempty"`
}

// InviteLink returns the public join link, or "" when no invite code is known.
func (g *Group) InviteLink() string {
	if g.InviteCode == "" {
		return ""
	}
	return InviteBaseURL + g.InviteCode
}
