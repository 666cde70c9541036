package repository

import (
	"database/sql"
	"errors"

	"whatsapp-sync/internal/models"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

type ContactRepository interface {
	Create(contact *models.Contact) error
	Update(contact *models.Contact) error
	GetByID(id int64) (*models.Contact, error)
	GetByContactID(contactID string) (*models.Contact, error)
	FindByContactIDOrPhone(contactID, phone string) (*models.Contact, error)
	List(limit, offset int) ([]*models.Contact, error)
	Count() (int, error)
}

type contactRepository struct {
	db     *sqlx.DB
	logger *zap.Logger
}

func NewContactRepository(db *sqlx.DB, logger *zap.Logger) ContactRepository {
	return &contactRepository{db: db, logger: logger}
}

const contactColumns = `id, contact_id, phone, name, pushname, is_wa_contact, is_phone_contact, is_chat_contact,
	is_active, provider, configuration_id, synced_at, created_at, updated_at`

// Create returns ErrDuplicate when contact_id is already taken.
func (r *contactRepository) Create(contact *models.Contact) error {
	query := `INSERT INTO contacts (contact_id, phone, name, pushname, is_wa_contact, is_phone_contact, is_chat_contact,
	          is_active, provider, configuration_id, synced_at)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11) RETURNING id, created_at, updated_at`
	err := r.db.QueryRowx(query, contact.ContactID, contact.Phone, contact.Name, contact.Pushname, contact.IsWAContact,
		contact.IsPhoneContact, contact.IsChatContact, contact.IsActive, contact.Provider, contact.ConfigurationID,
		contact.SyncedAt).StructScan(contact)
	if err != nil {
		return translateError(err)
	}
	return nil
}

func (r *contactRepository) Update(contact *models.Contact) error {
	query := `UPDATE contacts SET phone = $1, name = $2, pushname = $3, is_wa_contact = $4, is_phone_contact = $5,
	          is_chat_contact = $6, is_active = $7, provider = $8, configuration_id = $9, synced_at = $10,
	          updated_at = NOW() WHERE id = $11`
	res, err := r.db.Exec(query, contact.Phone, contact.Name, contact.Pushname, contact.IsWAContact,
		contact.IsPhoneContact, contact.IsChatContact, contact.IsActive, contact.Provider, contact.ConfigurationID,
		contact.SyncedAt, contact.ID)
	if err != nil {
		return translateError(err)
	}
	return expectRow(res)
}

func (r *contactRepository) GetByID(id int64) (*models.Contact, error) {
	return r.getOne(`SELECT `+contactColumns+` FROM contacts WHERE id = $1`, id)
}

func (r *contactRepository) GetByContactID(contactID string) (*models.Contact, error) {
	return r.getOne(`SELECT `+contactColumns+` FROM contacts WHERE contact_id = $1`, contactID)
}

// FindByContactIDOrPhone prefers an exact contact_id match over a phone match.
func (r *contactRepository) FindByContactIDOrPhone(contactID, phone string) (*models.Contact, error) {
	query := `SELECT ` + contactColumns + ` FROM contacts
	          WHERE contact_id = $1 OR ($2 <> '' AND phone = $2)
	          ORDER BY (contact_id = $1) DESC, id LIMIT 1`
	return r.getOne(query, contactID, phone)
}

func (r *contactRepository) List(limit, offset int) ([]*models.Contact, error) {
	var contacts []*models.Contact
	query := `SELECT ` + contactColumns + ` FROM contacts ORDER BY id LIMIT $1 OFFSET $2`
	if err := r.db.Select(&contacts, query, limit, offset); err != nil {
		return nil, err
	}
	return contacts, nil
}

func (r *contactRepository) Count() (int, error) {
	var count int
	if err := r.db.Get(&count, `SELECT COUNT(*) FROM contacts`); err != nil {
		return 0, err
	}
	return count, nil
}

func (r *contactRepository) getOne(query string, args ...any) (*models.Contact, error) {
	var contact models.Contact
	err := r.db.Get(&contact, query, args...)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Contact not found
		}
		return nil, err
	}
	return &contact, nil
}
