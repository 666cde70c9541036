package repository

import (
	"database/sql"
	"errors"

	"whatsapp-sync/internal/models"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

type ConfigurationRepository interface {
	Create(cfg *models.Configuration) error
	Update(cfg *models.Configuration) error
	GetByID(id int64) (*models.Configuration, error)
	GetByChannelID(channelID string) (*models.Configuration, error)
	ListActive() ([]*models.Configuration, error)
	List() ([]*models.Configuration, error)
	SetActive(id int64, active bool) error
}

type configurationRepository struct {
	db     *sqlx.DB
	logger *zap.Logger
}

func NewConfigurationRepository(db *sqlx.DB, logger *zap.Logger) ConfigurationRepository {
	return &configurationRepository{db: db, logger: logger}
}

const configurationColumns = `id, name, provider, token_encrypted, account_sid, from_number, device_id,
	supervisor_phone, COALESCE(channel_id, '') AS channel_id, active, allowed_users, created_at, updated_at`

func (r *configurationRepository) Create(cfg *models.Configuration) error {
	query := `INSERT INTO configurations (name, provider, token_encrypted, account_sid, from_number, device_id,
	          supervisor_phone, channel_id, active, allowed_users)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8, ''), $9, $10) RETURNING id, created_at, updated_at`
	err := r.db.QueryRowx(query, cfg.Name, cfg.Provider, cfg.TokenEncrypted, cfg.AccountSID, cfg.FromNumber,
		cfg.DeviceID, cfg.SupervisorPhone, cfg.ChannelID, cfg.Active, cfg.AllowedUsers).StructScan(cfg)
	if err != nil {
		return translateError(err)
	}
	return nil
}

func (r *configurationRepository) Update(cfg *models.Configuration) error {
	query := `UPDATE configurations SET name = $1, provider = $2, token_encrypted = $3, account_sid = $4,
	          from_number = $5, device_id = $6, supervisor_phone = $7, channel_id = NULLIF($8, ''), active = $9,
	          allowed_users = $10, updated_at = NOW() WHERE id = $11`
	res, err := r.db.Exec(query, cfg.Name, cfg.Provider, cfg.TokenEncrypted, cfg.AccountSID, cfg.FromNumber,
		cfg.DeviceID, cfg.SupervisorPhone, cfg.ChannelID, cfg.Active, cfg.AllowedUsers, cfg.ID)
	if err != nil {
		return translateError(err)
	}
	return expectRow(res)
}

func (r *configurationRepository) GetByID(id int64) (*models.Configuration, error) {
	var cfg models.Configuration
	err := r.db.Get(&cfg, `SELECT `+configurationColumns+` FROM configurations WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &cfg, nil
}

// GetByChannelID looks among active configurations only.
func (r *configurationRepository) GetByChannelID(channelID string) (*models.Configuration, error) {
	var cfg models.Configuration
	query := `SELECT ` + configurationColumns + ` FROM configurations WHERE channel_id = $1 AND active LIMIT 1`
	err := r.db.Get(&cfg, query, channelID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &cfg, nil
}

func (r *configurationRepository) ListActive() ([]*models.Configuration, error) {
	var cfgs []*models.Configuration
	err := r.db.Select(&cfgs, `SELECT `+configurationColumns+` FROM configurations WHERE active ORDER BY id`)
	if err != nil {
		return nil, err
	}
	return cfgs, nil
}

func (r *configurationRepository) List() ([]*models.Configuration, error) {
	var cfgs []*models.Configuration
	err := r.db.Select(&cfgs, `SELECT `+configurationColumns+` FROM configurations ORDER BY id`)
	if err != nil {
		return nil, err
	}
	return cfgs, nil
}

func (r *configurationRepository) SetActive(id int64, active bool) error {
	res, err := r.db.Exec(`UPDATE configurations SET active = $1, updated_at = NOW() WHERE id = $2`, active, id)
	if err != nil {
		return translateError(err)
	}
	return expectRow(res)
}

func expectRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
