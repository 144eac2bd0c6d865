package stores

import (
	"fmt"

	"github.com/go-gormigrate/gormigrate/v2"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	tables = []interface{}{
		// ephemeralaccounts.Store tables
		&dbAccount{},
		&dbAccountPayment{},

		// transfer service tables
		&dbBalance{},
		&dbTransfer{},

		// chain.Store tables
		&dbConsensusInfo{},

		// webhooks.WebhookStore tables
		&dbWebhook{},
	}
)

// initSchema is executed only on a clean database. Otherwise the individual
// migrations are executed.
func initSchema(tx *gorm.DB) error {
	if err := tx.AutoMigrate(tables...); err != nil {
		return fmt.Errorf("failed to init schema: %w", err)
	}
	return nil
}

func performMigrations(db *gorm.DB, logger *zap.SugaredLogger) error {
	migrations := []*gormigrate.Migration{
		{
			ID: "00001_account_sweep_nonce",
			Migrate: func(tx *gorm.DB) error {
				return performMigration00001_accountSweepNonce(tx, logger)
			},
		},
		{
			ID: "00002_transfer_indices",
			Migrate: func(tx *gorm.DB) error {
				return performMigration00002_transferIndices(tx, logger)
			},
		},
	}
	// Create migrator.
	m := gormigrate.New(db, gormigrate.DefaultOptions, migrations)

	// Set init function.
	m.InitSchema(initSchema)

	// Perform migrations.
	if err := m.Migrate(); err != nil {
		return fmt.Errorf("failed to migrate: %v", err)
	}
	return nil
}

func performMigration00001_accountSweepNonce(txn *gorm.DB, logger *zap.SugaredLogger) error {
	logger.Info("performing migration 00001_account_sweep_nonce")
	if !txn.Migrator().HasColumn(&dbAccount{}, "SweepNonce") {
		if err := txn.Migrator().AddColumn(&dbAccount{}, "SweepNonce"); err != nil {
			return err
		}
	}
	logger.Info("migration 00001_account_sweep_nonce complete")
	return nil
}

func performMigration00002_transferIndices(txn *gorm.DB, logger *zap.SugaredLogger) error {
	logger.Info("performing migration 00002_transfer_indices")
	for _, field := range []string{"Source", "Destination"} {
		if !txn.Migrator().HasIndex(&dbTransfer{}, field) {
			if err := txn.Migrator().CreateIndex(&dbTransfer{}, field); err != nil {
				return err
			}
		}
	}
	logger.Info("migration 00002_transfer_indices complete")
	return nil
}
