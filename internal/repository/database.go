package repository

import (
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file" // Required for file source
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/sirupsen/logrus"
	"go.uber.org/zap"
)

var (
	ErrDuplicate = errors.New("duplicate record")
	ErrNotFound  = errors.New("record not found")
)

const uniqueViolation = "23505"

// Store bundles every repository the service works with.
type Store struct {
	Configurations ConfigurationRepository
	Contacts       ContactRepository
	Groups         GroupRepository
	Messages       MessageRepository
	AuditLogs      AuditLogRepository
	SyncRuns       SyncRunRepository
	Users          AuthRepository
}

// NewPostgresStore wires the postgres-backed repositories.
func NewPostgresStore(db *sqlx.DB, logger *zap.Logger, log *logrus.Logger) *Store {
	return &Store{
		Configurations: NewConfigurationRepository(db, logger),
		Contacts:       NewContactRepository(db, logger),
		Groups:         NewGroupRepository(db, logger),
		Messages:       NewMessageRepository(db, logger),
		AuditLogs:      NewAuditLogRepository(db, logger),
		SyncRuns:       NewSyncRunRepository(db, logger),
		Users:          NewAuthRepository(db, log),
	}
}

// NewPostgresDB establishes a new connection to the PostgreSQL database.
func NewPostgresDB(dataSourceName string, logger *zap.Logger) (*sqlx.DB, error) {
	db, err := sqlx.Connect("postgres", dataSourceName)
	if err != nil {
		return nil, err
	}

	err = db.Ping()
	if err != nil {
		return nil, err
	}

	logger.Info("Successfully connected to the database!")
	return db, nil
}

// MigrateDB runs database migrations from migrationsPath.
func MigrateDB(db *sqlx.DB, migrationsPath string, logger *zap.Logger) {
	driver, err := postgres.WithInstance(db.DB, &postgres.Config{})
	if err != nil {
		logger.Fatal("Couldn't get database instance for running migrations", zap.Error(err))
	}

	m, err := migrate.NewWithDatabaseInstance("file://"+migrationsPath, "whatsapp_sync", driver)
	if err != nil {
		logger.Fatal("Couldn't create migrate instance", zap.Error(err))
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		logger.Fatal("Couldn't run database migration", zap.Error(err))
	}

	logger.Info("Database migration was run successfully")
}

// translateError maps driver errors onto the package sentinels.
func translateError(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return fmt.Errorf("%w: %s", ErrDuplicate, pqErr.Constraint)
	}
	return err
}
