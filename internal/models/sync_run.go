package models

import "time"

// Sync run states.
const (
	SyncStatusIdle    = "idle"
	SyncStatusRunning = "running"
	SyncStatusSuccess = "success"
	SyncStatusError   = "error"
)

// SyncRun records one scheduled or manual full synchronization.
type SyncRun struct {
	ID         int64      `db:"id" json:"id"`
	Trigger    string     `db:"trigger" json:"trigger"` // "cron" or "manual"
	Status     string     `db:"status" json:"status"`
	Message    string     `db:"message" json:"message"`
	StartedAt  time.Time  `db:"started_at" json:"started_at"`
	FinishedAt *time.Time `db:"finished_at" json:"finished_at,omitempty"`
}
