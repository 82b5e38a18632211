package storage

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

const (
	migrationsPath  = "migrations"
	migrationsTable = "schema_migrations"

	// Keep in sync with the highest SQL file under migrations/.
	schemaVersion = 1
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// migrateLogsDB applies the embedded migrations. The migrator is not closed
// because closing it would close db.
func migrateLogsDB(db *sql.DB) error {
	sourceDriver, err := iofs.New(migrationsFS, migrationsPath)
	if err != nil {
		return fmt.Errorf("migrate: init source: %w", err)
	}

	dbDriver, err := migratesqlite.WithInstance(db, &migratesqlite.Config{
		MigrationsTable: migrationsTable,
	})
	if err != nil {
		return fmt.Errorf("migrate: init db driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite", dbDriver)
	if err != nil {
		return fmt.Errorf("migrate: init migrator: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate: up: %w", err)
	}
	return nil
}

// SchemaVersion reports the applied migration version
func (s *Store) SchemaVersion() (int, error) {
	if err := s.check(); err != nil {
		return 0, err
	}
	var version int
	var dirty bool
	err := s.db.QueryRow(fmt.Sprintf("SELECT version, dirty FROM %s LIMIT 1", migrationsTable)).Scan(&version, &dirty)
	if err != nil {
		return 0, fmt.Errorf("read %s: %w", migrationsTable, err)
	}
	if dirty {
		return version, fmt.Errorf("schema version %d is dirty", version)
	}
	return version, nil
}
