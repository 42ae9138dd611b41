package main

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/formlane/formlane/internal/db"
)

// migrateCommand applies the schema to the database named by FORMLANE_DB
// and exits. The server also migrates on startup; this exists so
// provisioning can run ahead of the first start.
func migrateCommand() error {
	path := os.Getenv("FORMLANE_DB")
	if path == "" {
		return errors.New("FORMLANE_DB is required for migrate")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create db dir: %w", err)
		}
	}
	sqlDB, err := sql.Open("sqlite3", "file:"+path+"?cache=shared&_busy_timeout=5000")
	if err != nil {
		return fmt.Errorf("open sqlite: %w", err)
	}
	defer func() { _ = sqlDB.Close() }()
	return db.RunMigrations(sqlDB, os.Getenv("FORMLANE_MIGRATIONS_DIR"))
}
