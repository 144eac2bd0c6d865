package stores

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.sia.tech/ephemerald/api"
	"go.sia.tech/ephemerald/webhooks"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	glogger "gorm.io/gorm/logger"
)

type (
	// Model defines the common fields of every table. Same as Model
	// but excludes soft deletion since it breaks cascading deletes.
	Model struct {
		ID        uint `gorm:"primarykey"`
		CreatedAt time.Time
	}

	// SQLStore is a helper type for interacting with a SQL-based backend.
	SQLStore struct {
		db     *gorm.DB
		logger *zap.SugaredLogger
	}
)

// NewEphemeralSQLiteConnection creates a connection to an in-memory SQLite DB.
// NOTE: Use simple names such as a random hex identifier or the filepath.Base
// of a test's name. Certain symbols will break the cfg string and cause a file
// to be created on disk.
//
//	mode: set to memory for in-memory database
//	cache: set to shared which is required for in-memory databases
//	_foreign_keys: enforce foreign_key relations
func NewEphemeralSQLiteConnection(name string) gorm.Dialector {
	return sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared&_foreign_keys=1", name))
}

// NewSQLiteConnection opens a sqlite db at the given path.
//
//	_busy_timeout: set to prevent concurrent transactions from failing and
//	  instead have them block
//	_foreign_keys: enforce foreign_key relations
//	_journal_mode: set to WAL instead of delete since it's usually the fastest.
//	  Only downside is that the db won't work on network drives.
func NewSQLiteConnection(path string) gorm.Dialector {
	return sqlite.Open(fmt.Sprintf("file:%s?_busy_timeout=30000&_foreign_keys=1&_journal_mode=WAL", path))
}

// NewMySQLConnection creates a connection to a MySQL database.
func NewMySQLConnection(user, password, addr, dbName string) gorm.Dialector {
	return mysql.Open(fmt.Sprintf("%s:%s@tcp(%s)/%s?charset=utf8mb4&parseTime=True&loc=Local", user, password, addr, dbName))
}

// NewSQLStore uses a given Dialector to connect to a SQL database. NOTE: Only
// pass migrate=true for the first instance of SQLStore if you connect via the
// same Dialector multiple times.
func NewSQLStore(conn gorm.Dialector, migrate bool, logger *zap.Logger, gormLogger glogger.Interface) (*SQLStore, error) {
	db, err := gorm.Open(conn, &gorm.Config{
		Logger: gormLogger, // custom logger
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open SQL db: %w", err)
	}
	l := logger.Named("sql").Sugar()

	if migrate {
		if err := performMigrations(db, l); err != nil {
			return nil, fmt.Errorf("failed to perform migrations: %w", err)
		}
	}

	if err := initConsensusInfo(db); err != nil {
		return nil, err
	}

	return &SQLStore{
		db:     db,
		logger: l,
	}, nil
}

func isSQLite(db *gorm.DB) bool {
	switch db.Dialector.(type) {
	case *sqlite.Dialector:
		return true
	case *mysql.Dialector:
		return false
	default:
		panic(fmt.Sprintf("unknown dialector: %T", db.Dialector))
	}
}

// Close closes the underlying database connection of the store.
func (s *SQLStore) Close() error {
	db, err := s.db.DB()
	if err != nil {
		return err
	}
	return db.Close()
}

func (s *SQLStore) retryTransaction(ctx context.Context, fc func(tx *gorm.DB) error) error {
	abortRetry := func(err error) bool {
		if err == nil ||
			errors.Is(err, context.Canceled) ||
			errors.Is(err, context.DeadlineExceeded) ||
			errors.Is(err, gorm.ErrRecordNotFound) ||
			errors.Is(err, api.ErrAccountNotFound) ||
			errors.Is(err, api.ErrTransferFailed) ||
			errors.Is(err, api.ErrInsufficientBalance) ||
			errors.Is(err, webhooks.ErrWebhookNotFound) {
			return true
		}
		return false
	}
	var err error
	timeoutIntervals := []time.Duration{200 * time.Millisecond, 500 * time.Millisecond, time.Second, 3 * time.Second, 10 * time.Second, 10 * time.Second}
	for i := 0; i < len(timeoutIntervals); i++ {
		err = s.db.WithContext(ctx).Transaction(fc)
		if abortRetry(err) {
			return err
		}
		s.logger.Warnw(fmt.Sprintf("transaction attempt %d/%d failed, retry in %v", i+1, len(timeoutIntervals), timeoutIntervals[i]), zap.Error(err))
		select {
		case <-ctx.Done():
			return fmt.Errorf("retryTransaction interrupted: %w", errors.Join(err, ctx.Err()))
		case <-time.After(timeoutIntervals[i]):
		}
	}
	return fmt.Errorf("retryTransaction failed: %w", err)
}
