// Package storage persists generated log entries in SQLite and serves the
// time-range, per-domain, and summary queries used by the daemon and CLI.
package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"

	_ "modernc.org/sqlite" // pure-Go SQLite driver

	"github.com/GoSim-25-26J-441/cdnsim/pkg/logger"
)

// ErrClosed is returned by every operation on a closed store
var ErrClosed = errors.New("storage: store is closed")

const memoryPath = ":memory:"

// Store is a SQLite-backed log store. It is safe for concurrent use.
type Store struct {
	db     *sql.DB
	path   string
	closed atomic.Bool
	logger *slog.Logger
}

// Open opens (or creates) the database at path, applies pragmas for a
// single-writer WAL database, and runs pending migrations.
func Open(path string) (*Store, error) {
	if path != memoryPath {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("create db dir %s: %w", dir, err)
			}
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open db %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("exec %q on %s: %w", p, path, err)
		}
	}

	if err := migrateLogsDB(db); err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db, path: path, logger: logger.Component("storage")}, nil
}

// Path returns the database path
func (s *Store) Path() string {
	return s.path
}

// Close closes the database. Further calls return ErrClosed.
func (s *Store) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return ErrClosed
	}
	return s.db.Close()
}

func (s *Store) check() error {
	if s.closed.Load() {
		return ErrClosed
	}
	return nil
}
