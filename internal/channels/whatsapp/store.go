package whatsapp

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
	"go.mau.fi/whatsmeow/store/sqlstore"
	waLog "go.mau.fi/whatsmeow/util/log"

	. "github.com/roelfdiedericks/reportbot/internal/logging"
	"github.com/roelfdiedericks/reportbot/internal/paths"
)

// DefaultDBPath is the device store location relative to ~/.reportbot.
const DefaultDBPath = "whatsapp.db"

// logAdapter bridges whatsmeow's waLog.Logger to our L_* functions
type logAdapter struct {
	module string
}

func (l *logAdapter) Debugf(msg string, args ...interface{}) {
	L_trace(fmt.Sprintf("whatsmeow/%s: %s", l.module, fmt.Sprintf(msg, args...)))
}

func (l *logAdapter) Infof(msg string, args ...interface{}) {
	L_debug(fmt.Sprintf("whatsmeow/%s: %s", l.module, fmt.Sprintf(msg, args...)))
}

func (l *logAdapter) Warnf(msg string, args ...interface{}) {
	L_warn(fmt.Sprintf("whatsmeow/%s: %s", l.module, fmt.Sprintf(msg, args...)))
}

func (l *logAdapter) Errorf(msg string, args ...interface{}) {
	L_error(fmt.Sprintf("whatsmeow/%s: %s", l.module, fmt.Sprintf(msg, args...)))
}

func (l *logAdapter) Sub(module string) waLog.Logger {
	return &logAdapter{module: l.module + "/" + module}
}

// resolveDBPath applies the default and makes relative paths live under ~/.reportbot.
func resolveDBPath(dbPath string) (string, error) {
	if dbPath == "" {
		dbPath = DefaultDBPath
	}
	resolved, err := paths.Resolve(dbPath)
	if err != nil {
		return "", fmt.Errorf("failed to resolve whatsapp db path: %w", err)
	}
	if err := paths.EnsureParentDir(resolved); err != nil {
		return "", err
	}
	return resolved, nil
}

// deviceStore is an open whatsmeow device container and its database.
type deviceStore struct {
	db        *sql.DB
	container *sqlstore.Container
}

func (s *deviceStore) Close() error {
	return s.db.Close()
}

// openStore opens (and migrates) the device store at dbPath.
func openStore(ctx context.Context, dbPath string, log waLog.Logger) (*deviceStore, error) {
	resolved, err := resolveDBPath(dbPath)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite3", resolved+"?_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open whatsapp db: %w", err)
	}

	container := sqlstore.NewWithDB(db, "sqlite3", log)
	if err := container.Upgrade(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to upgrade whatsapp store: %w", err)
	}
	return &deviceStore{db: db, container: container}, nil
}
