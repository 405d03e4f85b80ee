// Package store persists access records, the interaction log and report run
// history in SQLite.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	. "github.com/roelfdiedericks/reportbot/internal/logging"
)

// ErrNotFound is returned when a row does not exist.
var ErrNotFound = errors.New("not found")

// Store wraps the reportbot database.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path and migrates it.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migration failed: %w", err)
	}

	if n, err := s.abandonRunningReports(context.Background()); err != nil {
		L_warn("store: failed to reset stale report runs", "error", err)
	} else if n > 0 {
		L_warn("store: marked report runs from a previous process as abandoned", "count", n)
	}

	L_info("store: opened", "path", path)
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

const currentSchemaVersion = 2

func (s *Store) migrate() error {
	var version int
	err := s.db.QueryRow("SELECT version FROM schema_version ORDER BY version DESC LIMIT 1").Scan(&version)
	if err != nil {
		// table doesn't exist yet
		version = 0
	}
	if version >= currentSchemaVersion {
		L_debug("store: schema up to date", "version", version)
		return nil
	}

	L_info("store: migrating schema", "from", version, "to", currentSchemaVersion)
	migrations := []func(*sql.DB) error{
		migrateV1,
		migrateV2,
	}
	for i := version; i < len(migrations); i++ {
		if err := migrations[i](s.db); err != nil {
			return fmt.Errorf("migration v%d failed: %w", i+1, err)
		}
		L_debug("store: applied migration", "version", i+1)
	}
	return nil
}

// migrateV1 creates access users and the interaction log
func migrateV1(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at INTEGER NOT NULL
	);
	INSERT INTO schema_version (version, applied_at) VALUES (1, ?);

	CREATE TABLE IF NOT EXISTS users (
		address TEXT PRIMARY KEY,
		display_name TEXT NOT NULL DEFAULT '',
		role TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_users_role ON users(role);

	CREATE TABLE IF NOT EXISTS interactions (
		id TEXT PRIMARY KEY,
		address TEXT NOT NULL,
		channel TEXT NOT NULL,
		direction TEXT NOT NULL,
		kind TEXT NOT NULL,
		content TEXT NOT NULL DEFAULT '',
		ok INTEGER NOT NULL DEFAULT 1,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_interactions_address ON interactions(address, created_at);
	`
	_, err := db.Exec(schema, time.Now().Unix())
	return err
}

// migrateV2 adds the report run journal
func migrateV2(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS report_runs (
		id TEXT PRIMARY KEY,
		address TEXT NOT NULL,
		kind TEXT NOT NULL,
		zone TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		failure TEXT NOT NULL DEFAULT '',
		started_at INTEGER NOT NULL,
		finished_at INTEGER
	);
	CREATE INDEX IF NOT EXISTS idx_report_runs_status ON report_runs(status);

	INSERT INTO schema_version (version, applied_at) VALUES (2, ?);
	`
	_, err := db.Exec(schema, time.Now().Unix())
	return err
}
