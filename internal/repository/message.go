package repository

import (
	"database/sql"
	"errors"

	"whatsapp-sync/internal/models"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

type MessageRepository interface {
	Create(message *models.Message) error
	Update(message *models.Message) error
	GetByMessageID(messageID string) (*models.Message, error)
	// UpdateStatus reports false when no message carries messageID. A
	// deleted message is found but keeps its status.
	UpdateStatus(messageID, status, errorMessage string) (bool, error)
	List(filter models.MessageFilter) ([]*models.Message, error)
}

type messageRepository struct {
	db     *sqlx.DB
	logger *zap.Logger
}

func NewMessageRepository(db *sqlx.DB, logger *zap.Logger) MessageRepository {
	return &messageRepository{db: db, logger: logger}
}

const messageColumns = `id, message_id, body, message_type, chat_id, from_me, timestamp, status, error_message,
	media_url, media_type, caption, metadata, contact_ref, group_ref, configuration_id, provider, synced_at,
	created_at, updated_at`

// Create returns ErrDuplicate when message_id is already stored.
func (r *messageRepository) Create(message *models.Message) error {
	if len(message.Metadata) == 0 {
		message.Metadata = []byte("{}")
	}
	query := `INSERT INTO messages (message_id, body, message_type, chat_id, from_me, timestamp, status, error_message,
	          media_url, media_type, caption, metadata, contact_ref, group_ref, configuration_id, provider, synced_at)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
	          RETURNING id, created_at, updated_at`
	err := r.db.QueryRowx(query, message.MessageID, message.Body, message.MessageType, message.ChatID, message.FromMe,
		message.Timestamp, message.Status, message.ErrorMessage, message.MediaURL, message.MediaType, message.Caption,
		message.Metadata, message.ContactRef, message.GroupRef, message.ConfigurationID, message.Provider,
		message.SyncedAt).StructScan(message)
	if err != nil {
		return translateError(err)
	}
	return nil
}

func (r *messageRepository) Update(message *models.Message) error {
	if len(message.Metadata) == 0 {
		message.Metadata = []byte("{}")
	}
	query := `UPDATE messages SET body = $1, message_type = $2, chat_id = $3, from_me = $4, timestamp = $5, status = $6,
	          error_message = $7, media_url = $8, media_type = $9, caption = $10, metadata = $11, contact_ref = $12,
	          group_ref = $13, configuration_id = $14, provider = $15, synced_at = $16, message_id = $17, updated_at = NOW()
	          WHERE id = $18`
	res, err := r.db.Exec(query, message.Body, message.MessageType, message.ChatID, message.FromMe, message.Timestamp,
		message.Status, message.ErrorMessage, message.MediaURL, message.MediaType, message.Caption, message.Metadata,
		message.ContactRef, message.GroupRef, message.ConfigurationID, message.Provider, message.SyncedAt,
		message.MessageID, message.ID)
	if err != nil {
		return translateError(err)
	}
	return expectRow(res)
}

func (r *messageRepository) GetByMessageID(messageID string) (*models.Message, error) {
	var message models.Message
	err := r.db.Get(&message, `SELECT `+messageColumns+` FROM messages WHERE message_id = $1`, messageID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &message, nil
}

func (r *messageRepository) UpdateStatus(messageID, status, errorMessage string) (bool, error) {
	query := `UPDATE messages SET status = $1, error_message = $2, updated_at = NOW()
	          WHERE message_id = $3 AND status <> $4`
	res, err := r.db.Exec(query, status, errorMessage, messageID, models.StatusDeleted)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n > 0 {
		return true, nil
	}

	var exists bool
	if err := r.db.Get(&exists, `SELECT EXISTS(SELECT 1 FROM messages WHERE message_id = $1)`, messageID); err != nil {
		return false, err
	}
	return exists, nil
}

func (r *messageRepository) List(filter models.MessageFilter) ([]*models.Message, error) {
	if filter.Limit <= 0 {
		filter.Limit = 100
	}
	var messages []*models.Message
	query := `SELECT ` + messageColumns + ` FROM messages
	          WHERE ($1 = '' OR chat_id = $1) AND ($2::bigint IS NULL OR group_ref = $2)
	          ORDER BY timestamp DESC, id DESC LIMIT $3 OFFSET $4`
	if err := r.db.Select(&messages, query, filter.ChatID, filter.GroupRef, filter.Limit, filter.Offset); err != nil {
		return nil, err
	}
	return messages, nil
}
