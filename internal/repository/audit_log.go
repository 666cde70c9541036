package repository

import (
	"time"

	"whatsapp-sync/internal/models"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

type AuditLogRepository interface {
	Insert(entry *models.AuditLog) error
	// ListSince returns entries newer than since, optionally for one provider.
	ListSince(since time.Time, provider string) ([]*models.AuditLog, error)
	DeleteOlderThan(cutoff time.Time) (int64, error)
}

type auditLogRepository struct {
	db     *sqlx.DB
	logger *zap.Logger
}

func NewAuditLogRepository(db *sqlx.DB, logger *zap.Logger) AuditLogRepository {
	return &auditLogRepository{db: db, logger: logger}
}

func (r *auditLogRepository) Insert(entry *models.AuditLog) error {
	query := `INSERT INTO audit_logs (operation, provider, username, success, response_time_ms, method, endpoint,
	          error_message, error_code, retry_count, message_id, group_id, contact_phone, request_id)
	          VALUES (:operation, :provider, :username, :success, :response_time_ms, :method, :endpoint,
	          :error_message, :error_code, :retry_count, :message_id, :group_id, :contact_phone, :request_id)`
	_, err := r.db.NamedExec(query, entry)
	return err
}

func (r *auditLogRepository) ListSince(since time.Time, provider string) ([]*models.AuditLog, error) {
	var entries []*models.AuditLog
	query := `SELECT id, operation, provider, username, success, response_time_ms, method, endpoint, error_message,
	          error_code, retry_count, message_id, group_id, contact_phone, request_id, created_at
	          FROM audit_logs WHERE created_at >= $1 AND ($2 = '' OR provider = $2) ORDER BY created_at`
	if err := r.db.Select(&entries, query, since, provider); err != nil {
		return nil, err
	}
	return entries, nil
}

func (r *auditLogRepository) DeleteOlderThan(cutoff time.Time) (int64, error) {
	res, err := r.db.Exec(`DELETE FROM audit_logs WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
