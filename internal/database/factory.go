package database

import (
	"fmt"
	"os"
	"path/filepath"

	"hrb-go/internal/config"
	"hrb-go/internal/database/migrations"
)

// DatabaseFileName is the sqlite file inside data_dir.
const DatabaseFileName = "hrbsync.db"

// NewDatabaseFromConfig opens the sync history database. A memory database
// is migrated on open; a sqlite file must be migrated with `hrbsync db
// migrate` and is checked here.
func NewDatabaseFromConfig(cfg config.DatabaseConfig) (*SQLiteDatabase, error) {
	switch cfg.Type {
	case "sqlite":
		if cfg.DataDir == "" {
			return nil, fmt.Errorf("data_dir required for sqlite database")
		}
		if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		db, err := NewSQLiteDatabase(filepath.Join(cfg.DataDir, DatabaseFileName))
		if err != nil {
			return nil, err
		}
		if err := migrations.CheckDBMigrationStatus(db.DB()); err != nil {
			db.Close()
			return nil, fmt.Errorf("checking schema: %w", err)
		}
		return db, nil
	case "memory":
		db, err := NewSQLiteDatabase(":memory:")
		if err != nil {
			return nil, err
		}
		if err := migrations.MigrateUp(db.DB()); err != nil {
			db.Close()
			return nil, fmt.Errorf("migrating memory database: %w", err)
		}
		return db, nil
	default:
		return nil, fmt.Errorf("unknown database type: %s", cfg.Type)
	}
}

// MigrateFromConfig brings the configured database to the latest schema.
func MigrateFromConfig(cfg config.DatabaseConfig) error {
	if cfg.Type != "sqlite" {
		return fmt.Errorf("only sqlite databases are migrated, got type %q", cfg.Type)
	}
	if cfg.DataDir == "" {
		return fmt.Errorf("data_dir required for sqlite database")
	}
	if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	db, err := NewSQLiteDatabase(filepath.Join(cfg.DataDir, DatabaseFileName))
	if err != nil {
		return err
	}
	defer db.Close()

	return migrations.MigrateUp(db.DB())
}
