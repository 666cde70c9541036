package models

import "time"

// AuditLog is one outbound provider call or internal operation.
type AuditLog struct {
	ID             int64     `db:"id" json:"id"`
	Operation      string    `db:"operation" json:"operation"`
	Provider       string    `db:"provider" json:"provider"`
	Username       string    `db:"username" json:"username,omitempty"`
	Success        bool      `db:"success" json:"success"`
	ResponseTimeMs int64     `db:"response_time_ms" json:"response_time_ms"`
	Method         string    `db:"method" json:"method,omitempty"`
	Endpoint       string    `db:"endpoint" json:"endpoint,omitempty"`
	ErrorMessage   string    `db:"error_message" json:"error_message,omitempty"`
	ErrorCode      string    `db:"error_code" json:"error_code,omitempty"`
	RetryCount     int       `db:"retry_count" json:"retry_count"`
	MessageID      string    `db:"message_id" json:"message_id,omitempty"`
	GroupID        string    `db:"group_id" json:"group_id,omitempty"`
	ContactPhone   string    `db:"contact_phone" json:"contact_phone,omitempty"`
	RequestID      string    `db:"request_id" json:"request_id"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
}
