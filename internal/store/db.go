package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/syui/aigpt/internal/errs"
)

// DB is the companion's single SQLite database: relationships, fortunes,
// scheduler tasks and the append-only transmission and history streams.
type DB struct {
	*sql.DB
	Path string
}

// DefaultHome returns the default data directory, <user config dir>/syui/ai/gpt.
// AIGPT_HOME overrides it through config.
func DefaultHome() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("get config dir: %w", err)
	}
	return filepath.Join(dir, "syui", "ai", "gpt"), nil
}

// DefaultDBPath returns the default database path inside DefaultHome.
func DefaultDBPath() (string, error) {
	home, err := DefaultHome()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, "aigpt.db"), nil
}

// Open opens (or creates) the database at path and brings its schema up to
// date. Every failure is fatal: Corrupt when the file is not a usable SQLite
// database, Persist otherwise.
func Open(path string) (*DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, openError("create db dir", err)
	}

	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, openError("open sqlite", err)
	}

	db := &DB{DB: sqlDB, Path: path}
	if err := db.configurePragmas(); err != nil {
		sqlDB.Close()
		return nil, openError("configure", err)
	}
	if err := db.migrate(); err != nil {
		sqlDB.Close()
		return nil, openError("migrate", err)
	}
	return db, nil
}

// openError classifies a failure to open the database.
func openError(op string, err error) error {
	msg := err.Error()
	if strings.Contains(msg, "not a database") || strings.Contains(msg, "malformed") {
		return errs.E(errs.Corrupt, op, err)
	}
	return errs.E(errs.Persist, op, err)
}

// OpenMemory opens an in-memory SQLite database for testing.
func OpenMemory() (*DB, error) {
	sqlDB, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("open sqlite memory: %w", err)
	}
	// Every pooled connection would otherwise get its own empty database.
	sqlDB.SetMaxOpenConns(1)

	db := &DB{DB: sqlDB, Path: ":memory:"}
	if err := db.configurePragmas(); err != nil {
		sqlDB.Close()
		return nil, err
	}
	if err := db.migrate(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return db, nil
}

func (db *DB) configurePragmas() error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return fmt.Errorf("pragma %q: %w", p, err)
		}
	}
	return nil
}
