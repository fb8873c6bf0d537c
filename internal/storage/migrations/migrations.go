// Package migrations embeds the versioned schema for the durable stores and
// applies it with golang-migrate.
package migrations

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	migratepgx "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

// Dialect selects which embedded migration set to apply.
type Dialect string

// Supported dialects.
const (
	Postgres Dialect = "postgres"
	SQLite   Dialect = "sqlite"
)

//go:embed postgres/*.sql sqlite/*.sql
var files embed.FS

// Up applies every pending migration. An already current schema is not an error.
func Up(db *sql.DB, dialect Dialect) error {
	m, src, err := newMigrate(db, dialect)
	if err != nil {
		return err
	}
	defer closeMigrate(m, src, dialect)
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up failed: %w", err)
	}
	return nil
}

// Down rolls back every applied migration.
func Down(db *sql.DB, dialect Dialect) error {
	m, src, err := newMigrate(db, dialect)
	if err != nil {
		return err
	}
	defer closeMigrate(m, src, dialect)
	if err := m.Down(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration down failed: %w", err)
	}
	return nil
}

// Version reports the applied schema version. A fresh database reports 0.
func Version(db *sql.DB, dialect Dialect) (uint, bool, error) {
	m, src, err := newMigrate(db, dialect)
	if err != nil {
		return 0, false, err
	}
	defer closeMigrate(m, src, dialect)
	v, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("read migration version: %w", err)
	}
	return v, dirty, nil
}

func newMigrate(db *sql.DB, dialect Dialect) (*migrate.Migrate, source.Driver, error) {
	var (
		driver database.Driver
		err    error
	)
	switch dialect {
	case Postgres:
		driver, err = migratepgx.WithInstance(db, &migratepgx.Config{})
	case SQLite:
		driver, err = migratesqlite.WithInstance(db, &migratesqlite.Config{})
	default:
		return nil, nil, fmt.Errorf("unsupported migration dialect %q", dialect)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("could not create migration driver: %w", err)
	}

	src, err := iofs.New(files, string(dialect))
	if err != nil {
		return nil, nil, fmt.Errorf("could not open embedded migrations: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, string(dialect), driver)
	if err != nil {
		_ = src.Close()
		return nil, nil, fmt.Errorf("could not create migrate instance: %w", err)
	}
	return m, src, nil
}

// closeMigrate releases the migration source. For Postgres it closes the whole
// instance, which also returns the dedicated connection the driver holds. The
// SQLite driver would close the shared *sql.DB, so only the source is closed.
func closeMigrate(m *migrate.Migrate, src source.Driver, dialect Dialect) {
	if dialect == Postgres {
		_, _ = m.Close()
		return
	}
	_ = src.Close()
}
