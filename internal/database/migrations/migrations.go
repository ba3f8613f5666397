// Package migrations holds the sync history schema and applies it with
// golang-migrate.
package migrations

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed files/*.sql
var schemaFiles embed.FS

// ErrNeedsMigration means the history schema is older than this binary
// expects. `hrbsync db migrate` fixes it.
var ErrNeedsMigration = errors.New("sync history schema needs migration")

// Status describes where a database stands relative to the embedded schema.
type Status struct {
	Current uint // 0 when no migration ever ran
	Latest  uint
	Dirty   bool
}

// ReadStatus reports the schema version of db without changing it.
func ReadStatus(db *sql.DB) (Status, error) {
	m, err := open(db)
	if err != nil {
		return Status{}, err
	}
	// m is not closed: closing it would close db, which the caller owns.

	var st Status
	st.Current, st.Dirty, err = m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return Status{}, fmt.Errorf("reading schema version: %w", err)
	}

	src, err := iofs.New(schemaFiles, "files")
	if err != nil {
		return Status{}, fmt.Errorf("reading schema files: %w", err)
	}
	defer src.Close()

	if st.Latest, err = lastVersion(src); err != nil {
		return Status{}, fmt.Errorf("finding latest schema version: %w", err)
	}
	return st, nil
}

// CheckDBMigrationStatus returns nil when db is exactly at the latest schema
// version. An old or empty schema wraps ErrNeedsMigration.
func CheckDBMigrationStatus(db *sql.DB) error {
	st, err := ReadStatus(db)
	if err != nil {
		return err
	}
	switch {
	case st.Dirty:
		return fmt.Errorf("schema version %d is dirty; a previous migration failed", st.Current)
	case st.Current == 0:
		return fmt.Errorf("no schema version: %w", ErrNeedsMigration)
	case st.Current < st.Latest:
		return fmt.Errorf("schema version %d, latest %d: %w", st.Current, st.Latest, ErrNeedsMigration)
	case st.Current > st.Latest:
		return fmt.Errorf("schema version %d is newer than this binary supports (%d)", st.Current, st.Latest)
	}
	return nil
}

// MigrateUp applies every pending migration. An up-to-date db is not an error.
func MigrateUp(db *sql.DB) error {
	m, err := open(db)
	if err != nil {
		return err
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrating: %w", err)
	}
	return nil
}

func open(db *sql.DB) (*migrate.Migrate, error) {
	src, err := iofs.New(schemaFiles, "files")
	if err != nil {
		return nil, fmt.Errorf("reading schema files: %w", err)
	}

	driver, err := sqlite3.WithInstance(db, &sqlite3.Config{})
	if err != nil {
		src.Close()
		return nil, fmt.Errorf("creating migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "sqlite3", driver)
	if err != nil {
		src.Close()
		return nil, fmt.Errorf("creating migrator: %w", err)
	}
	return m, nil
}

// lastVersion walks src to its final migration.
func lastVersion(src source.Driver) (uint, error) {
	v, err := src.First()
	if err != nil {
		return 0, err
	}
	for {
		next, err := src.Next(v)
		if err != nil {
			return v, nil
		}
		v = next
	}
}
