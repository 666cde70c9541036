package repository

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"whatsapp-sync/internal/models"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

type GroupRepository interface {
	Create(group *models.Group) error
	Update(group *models.Group) error
	GetByID(id int64) (*models.Group, error)
	GetByGroupID(groupID string) (*models.Group, error)
	// ListSyncable returns active groups with a provider id that belong to
	// the configuration or to no configuration at all.
	ListSyncable(configurationID *int64) ([]*models.Group, error)
	List(limit, offset int) ([]*models.Group, error)
	ReplaceParticipants(groupRef int64, contactRefs []int64, batchSize int) error
	AddParticipant(groupRef, contactRef int64) (bool, error)
	ListParticipants(groupRef int64) ([]*models.Contact, error)
}

type groupRepository struct {
	db     *sqlx.DB
	logger *zap.Logger
}

func NewGroupRepository(db *sqlx.DB, logger *zap.Logger) GroupRepository {
	return &groupRepository{db: db, logger: logger}
}

const groupColumns = `id, COALESCE(group_id, '') AS group_id, name, description, metadata, invite_code, invite_fetched_at,
	is_active, provider, configuration_id, synced_at, created_at, updated_at`

func (r *groupRepository) Create(group *models.Group) error {
	if len(group.Metadata) == 0 {
		group.Metadata = []byte("{}")
	}
	query := `INSERT INTO groups (group_id, name, description, metadata, invite_code, invite_fetched_at, is_active,
	          provider, configuration_id, synced_at)
	          VALUES (NULLIF($1, ''), $2, $3, $4, $5, $6, $7, $8, $9, $10) RETURNING id, created_at, updated_at`
	err := r.db.QueryRowx(query, group.GroupID, group.Name, group.Description, group.Metadata, group.InviteCode,
		group.InviteFetchedAt, group.IsActive, group.Provider, group.ConfigurationID, group.SyncedAt).StructScan(group)
	if err != nil {
		return translateError(err)
	}
	return nil
}

func (r *groupRepository) Update(group *models.Group) error {
	if len(group.Metadata) == 0 {
		group.Metadata = []byte("{}")
	}
	query := `UPDATE groups SET group_id = NULLIF($1, ''), name = $2, description = $3, metadata = $4, invite_code = $5,
	          invite_fetched_at = $6, is_active = $7, provider = $8, configuration_id = $9, synced_at = $10,
	          updated_at = NOW() WHERE id = $11`
	res, err := r.db.Exec(query, group.GroupID, group.Name, group.Description, group.Metadata, group.InviteCode,
		group.InviteFetchedAt, group.IsActive, group.Provider, group.ConfigurationID, group.SyncedAt, group.ID)
	if err != nil {
		return translateError(err)
	}
	return expectRow(res)
}

func (r *groupRepository) GetByID(id int64) (*models.Group, error) {
	return r.getOne(`SELECT `+groupColumns+` FROM groups WHERE id = $1`, id)
}

func (r *groupRepository) GetByGroupID(groupID string) (*models.Group, error) {
	if groupID == "" {
		return nil, nil
	}
	return r.getOne(`SELECT `+groupColumns+` FROM groups WHERE group_id = $1`, groupID)
}

func (r *groupRepository) ListSyncable(configurationID *int64) ([]*models.Group, error) {
	var groups []*models.Group
	query := `SELECT ` + groupColumns + ` FROM groups
	          WHERE is_active AND group_id IS NOT NULL AND group_id <> ''
	          AND ($1::bigint IS NULL OR configuration_id IS NULL OR configuration_id = $1)
	          ORDER BY id`
	if err := r.db.Select(&groups, query, configurationID); err != nil {
		return nil, err
	}
	return groups, nil
}

func (r *groupRepository) List(limit, offset int) ([]*models.Group, error) {
	var groups []*models.Group
	query := `SELECT ` + groupColumns + ` FROM groups ORDER BY id LIMIT $1 OFFSET $2`
	if err := r.db.Select(&groups, query, limit, offset); err != nil {
		return nil, err
	}
	return groups, nil
}

// ReplaceParticipants clears the participant set and re-inserts it in
// batches inside a single transaction.
func (r *groupRepository) ReplaceParticipants(groupRef int64, contactRefs []int64, batchSize int) error {
	if batchSize <= 0 {
		batchSize = 100
	}

	tx, err := r.db.Beginx()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.Exec(`DELETE FROM group_participants WHERE group_ref = $1`, groupRef); err != nil {
		return fmt.Errorf("failed to clear participants: %w", err)
	}

	for start := 0; start < len(contactRefs); start += batchSize {
		end := start + batchSize
		if end > len(contactRefs) {
			end = len(contactRefs)
		}
		batch := contactRefs[start:end]

		values := make([]string, 0, len(batch))
		args := make([]any, 0, len(batch)+1)
		args = append(args, groupRef)
		for i, ref := range batch {
			values = append(values, fmt.Sprintf("($1, $%d)", i+2))
			args = append(args, ref)
		}
		query := `INSERT INTO group_participants (group_ref, contact_ref) VALUES ` +
			strings.Join(values, ", ") + ` ON CONFLICT DO NOTHING`
		if _, err := tx.Exec(query, args...); err != nil {
			return fmt.Errorf("failed to insert participant batch: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit participants: %w", err)
	}
	return nil
}

// AddParticipant reports true when the link did not exist before.
func (r *groupRepository) AddParticipant(groupRef, contactRef int64) (bool, error) {
	res, err := r.db.Exec(`INSERT INTO group_participants (group_ref, contact_ref) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
		groupRef, contactRef)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *groupRepository) ListParticipants(groupRef int64) ([]*models.Contact, error) {
	var contacts []*models.Contact
	query := `SELECT c.id, c.contact_id, c.phone, c.name, c.pushname, c.is_wa_contact, c.is_phone_contact,
	          c.is_chat_contact, c.is_active, c.provider, c.configuration_id, c.synced_at, c.created_at, c.updated_at
	          FROM contacts c JOIN group_participants gp ON gp.contact_ref = c.id
	          WHERE gp.group_ref = $1 ORDER BY c.id`
	if err := r.db.Select(&contacts, query, groupRef); err != nil {
		return nil, err
	}
	return contacts, nil
}

func (r *groupRepository) getOne(query string, args ...any) (*models.Group, error) {
	var group models.Group
	err := r.db.Get(&group, query, args...)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &group, nil
}
