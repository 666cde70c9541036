package repository

import (
	"database/sql"
	"errors"

	"whatsapp-sync/internal/models"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

type SyncRunRepository interface {
	Create(run *models.SyncRun) error
	Finish(run *models.SyncRun) error
	Latest() (*models.SyncRun, error)
	List(limit int) ([]*models.SyncRun, error)
}

type syncRunRepository struct {
	db     *sqlx.DB
	logger *zap.Logger
}

func NewSyncRunRepository(db *sqlx.DB, logger *zap.Logger) SyncRunRepository {
	return &syncRunRepository{db: db, logger: logger}
}

func (r *syncRunRepository) Create(run *models.SyncRun) error {
	query := `INSERT INTO sync_runs (trigger, status, message) VALUES ($1, $2, $3) RETURNING id, started_at`
	return r.db.QueryRowx(query, run.Trigger, run.Status, run.Message).StructScan(run)
}

func (r *syncRunRepository) Finish(run *models.SyncRun) error {
	res, err := r.db.Exec(`UPDATE sync_runs SET status = $1, message = $2, finished_at = $3 WHERE id = $4`,
		run.Status, run.Message, run.FinishedAt, run.ID)
	if err != nil {
		return err
	}
	return expectRow(res)
}

func (r *syncRunRepository) Latest() (*models.SyncRun, error) {
	var run models.SyncRun
	err := r.db.Get(&run, `SELECT id, trigger, status, message, started_at, finished_at FROM sync_runs ORDER BY id DESC LIMIT 1`)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &run, nil
}

func (r *syncRunRepository) List(limit int) ([]*models.SyncRun, error) {
	if limit <= 0 {
		limit = 20
	}
	var runs []*models.SyncRun
	query := `SELECT id, trigger, status, message, started_at, finished_at FROM sync_runs ORDER BY id DESC LIMIT $1`
	if err := r.db.Select(&runs, query, limit); err != nil {
		return nil, err
	}
	return runs, nil
}
