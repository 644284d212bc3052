package database

import (
	"fmt"
	"os"
	"path/filepath"

	"nestfs/internal/config"
	"nestfs/internal/database/migrations"
)

// DatabaseFileName is the name of the SQLite file under the data directory.
const DatabaseFileName = "nestfs.db"

// NewStoreFromConfig creates a store based on the configuration.
// A "memory" store is created fresh and migrated on every open;
// a "sqlite" store is opened as-is and the caller decides when to
// migrate (see MigrateUp and CheckMigrations).
func NewStoreFromConfig(cfg config.DatabaseConfig) (*SQLiteStore, error) {
	switch cfg.Type {
	case "sqlite":
		if cfg.DataDir == "" {
			return nil, fmt.Errorf("sqlite database requires a data_dir")
		}
		if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		return NewSQLiteStore(filepath.Join(cfg.DataDir, DatabaseFileName))
	case "memory":
		store, err := NewSQLiteStore(":memory:")
		if err != nil {
			return nil, err
		}
		if err := migrations.MigrateUp(store.db); err != nil {
			store.Close()
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown database type: %s", cfg.Type)
	}
}

// MigrateUp brings the store's schema to the latest version.
func (s *SQLiteStore) MigrateUp() error {
	return migrations.MigrateUp(s.db)
}
