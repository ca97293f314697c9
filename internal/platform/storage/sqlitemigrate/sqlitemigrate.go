// Package sqlitemigrate applies embedded SQL migrations to a SQLite
// database, recording each applied file so replays are no-ops.
package sqlitemigrate

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
	"time"
)

const (
	migrationTable = "schema_migrations"
	upMarker       = "-- +migrate Up"
	downMarker     = "-- +migrate Down"
)

// ApplyMigrations runs every pending .sql file under root in lexical order.
// Each file runs in its own transaction together with the row that marks it
// applied, so a failed migration leaves no record behind.
func ApplyMigrations(db *sql.DB, fsys fs.FS, root string) error {
	if db == nil {
		return fmt.Errorf("sql db is required")
	}
	if err := ensureMigrationTable(db); err != nil {
		return err
	}

	files, err := listMigrations(fsys, root)
	if err != nil {
		return err
	}
	for _, name := range files {
		if err := applyOne(db, fsys, name); err != nil {
			return err
		}
	}
	return nil
}

func ensureMigrationTable(db *sql.DB) error {
	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
    name TEXT PRIMARY KEY,
    applied_at INTEGER NOT NULL
);`, migrationTable)
	if _, err := db.Exec(ddl); err != nil {
		return fmt.Errorf("ensure migration table: %w", err)
	}
	return nil
}

// listMigrations returns the .sql files under root, keyed by their
// root-relative path so the applied record survives directory moves.
func listMigrations(fsys fs.FS, root string) ([]string, error) {
	dir := strings.TrimSpace(root)
	if dir == "" {
		dir = "."
	}
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("read migrations dir: %w", err)
	}

	var files []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		name := entry.Name()
		if dir != "." {
			name = path.Join(dir, name)
		}
		files = append(files, name)
	}
	sort.Strings(files)
	return files, nil
}

func applyOne(db *sql.DB, fsys fs.FS, name string) error {
	applied, err := isApplied(db, name)
	if err != nil {
		return fmt.Errorf("check migration %s: %w", name, err)
	}
	if applied {
		return nil
	}

	content, err := fs.ReadFile(fsys, name)
	if err != nil {
		return fmt.Errorf("read migration %s: %w", name, err)
	}
	upSQL := UpSection(string(content))
	if strings.TrimSpace(upSQL) == "" {
		return nil
	}

	tx, err := db.BeginTx(context.Background(), nil)
	if err != nil {
		return fmt.Errorf("begin migration %s: %w", name, err)
	}
	if _, err := tx.Exec(upSQL); err != nil && !isAlreadyExists(err) {
		_ = tx.Rollback()
		return fmt.Errorf("exec migration %s: %w", name, err)
	}
	if _, err := tx.Exec(
		fmt.Sprintf("INSERT OR IGNORE INTO %s (name, applied_at) VALUES (?, ?)", migrationTable),
		name,
		time.Now().UTC().UnixMilli(),
	); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("record migration %s: %w", name, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration %s: %w", name, err)
	}
	return nil
}

// UpSection extracts the SQL between the Up and Down markers. Files without
// markers run whole.
func UpSection(content string) string {
	up := strings.Index(content, upMarker)
	if up == -1 {
		return content
	}
	rest := content[up+len(upMarker):]
	if down := strings.Index(rest, downMarker); down != -1 {
		return rest[:down]
	}
	return rest
}

// isAlreadyExists treats duplicate DDL as idempotent success so a schema
// that predates the migration record does not wedge startup.
func isAlreadyExists(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "already exists") || strings.Contains(msg, "duplicate column name")
}

func isApplied(db *sql.DB, name string) (bool, error) {
	var found int
	err := db.QueryRow("SELECT 1 FROM "+migrationTable+" WHERE name = ?", name).Scan(&found)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
