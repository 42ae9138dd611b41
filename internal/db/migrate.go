package db

import (
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"strings"
)

//go:embed migrations/*.sql
var embeddedMigrations embed.FS

// RunMigrations applies every .sql file in lexical order. When dir names
// an existing directory its files are used; otherwise the migrations
// compiled into the binary run. Statements are idempotent (CREATE IF NOT
// EXISTS) so reapplying on startup is safe.
func RunMigrations(sqlDB *sql.DB, dir string) error {
	fsys, pattern := migrationSource(dir)
	names, err := fs.Glob(fsys, pattern)
	if err != nil {
		return fmt.Errorf("list migrations: %w", err)
	}
	sort.Strings(names)
	for _, name := range names {
		data, err := fs.ReadFile(fsys, name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}
		if strings.TrimSpace(string(data)) == "" {
			continue
		}
		if _, err := sqlDB.Exec(string(data)); err != nil {
			return fmt.Errorf("exec migration %s: %w", name, err)
		}
	}
	return nil
}

func migrationSource(dir string) (fs.FS, string) {
	if dir != "" {
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			return os.DirFS(dir), "*.sql"
		}
	}
	return embeddedMigrations, "migrations/*.sql"
}
