package store

import (
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/matheus3301/chatline/internal/store/migrations"
)

// MigrateResult describes what a Migrate call did.
type MigrateResult struct {
	From    uint
	Version uint
	Dirty   bool
	Changed bool
}

// Migrate brings the archive schema to the latest embedded version.
func (db *DB) Migrate() (*MigrateResult, error) {
	source, err := iofs.New(migrations.FS, ".")
	if err != nil {
		return nil, fmt.Errorf("migration source: %w", err)
	}
	driver, err := sqlite3.WithInstance(db.DB, &sqlite3.Config{})
	if err != nil {
		return nil, fmt.Errorf("migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", source, "sqlite3", driver)
	if err != nil {
		return nil, fmt.Errorf("migration instance: %w", err)
	}

	from, err := currentVersion(m)
	if err != nil {
		return nil, err
	}
	if from.Dirty {
		return nil, fmt.Errorf("archive schema is dirty at version %d", from.Version)
	}

	changed := true
	if err := m.Up(); errors.Is(err, migrate.ErrNoChange) {
		changed = false
	} else if err != nil {
		return nil, fmt.Errorf("migration up from %d: %w", from.Version, err)
	}

	to, err := currentVersion(m)
	if err != nil {
		return nil, err
	}
	return &MigrateResult{
		From:    from.Version,
		Version: to.Version,
		Dirty:   to.Dirty,
		Changed: changed,
	}, nil
}

type schemaVersion struct {
	Version uint
	Dirty   bool
}

// currentVersion reports version 0 for an empty archive.
func currentVersion(m *migrate.Migrate) (schemaVersion, error) {
	v, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return schemaVersion{}, nil
	}
	if err != nil {
		return schemaVersion{}, fmt.Errorf("migration version: %w", err)
	}
	return schemaVersion{Version: v, Dirty: dirty}, nil
}
