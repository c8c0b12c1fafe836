package database

import (
	"fmt"
	"path/filepath"

	"ledgerback/internal/config"
	"ledgerback/internal/database/migrations"
)

// NewDatabaseFromConfig creates a migrated SQLiteDatabase based on the
// database config type.
func NewDatabaseFromConfig(cfg config.DatabaseConfig) (*SQLiteDatabase, error) {
	var path string
	switch cfg.Type {
	case "sqlite":
		if cfg.DataDir == "" {
			return nil, fmt.Errorf("data_dir required for sqlite database")
		}
		path = filepath.Join(cfg.DataDir, "ledger.db")
	case "memory":
		path = ":memory:"
	default:
		return nil, fmt.Errorf("unknown database type: %s", cfg.Type)
	}

	db, err := NewSQLiteDatabase(path)
	if err != nil {
		return nil, err
	}

	if err := migrations.MigrateUp(db.DB()); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating database: %w", err)
	}
	return db, nil
}
