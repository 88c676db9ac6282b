package store

import (
	"errors"
	"fmt"

	"github.com/AngkinV/Nexus-Chat/internal/store/migrations"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

// ErrDirtySchema is returned when an earlier migration stopped halfway and
// the prefs database needs manual repair.
var ErrDirtySchema = errors.New("prefs schema is dirty")

// Schema reports the schema version before and after Migrate.
type Schema struct {
	From uint
	To   uint
}

// Upgraded reports whether Migrate applied anything.
func (s Schema) Upgraded() bool { return s.From != s.To }

// Migrate brings the prefs schema up to the embedded version.
func (db *DB) Migrate() (Schema, error) {
	src, err := iofs.New(migrations.FS, ".")
	if err != nil {
		return Schema{}, fmt.Errorf("open embedded migrations: %w", err)
	}
	drv, err := sqlite3.WithInstance(db.DB, &sqlite3.Config{})
	if err != nil {
		return Schema{}, fmt.Errorf("prepare sqlite driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite3", drv)
	if err != nil {
		return Schema{}, fmt.Errorf("prepare migrator: %w", err)
	}

	from, err := schemaVersion(m)
	if err != nil {
		return Schema{}, err
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return Schema{From: from}, fmt.Errorf("upgrade prefs schema from v%d: %w", from, err)
	}
	to, err := schemaVersion(m)
	if err != nil {
		return Schema{From: from}, err
	}
	return Schema{From: from, To: to}, nil
}

// schemaVersion is zero for a fresh database.
func schemaVersion(m *migrate.Migrate) (uint, error) {
	v, dirty, err := m.Version()
	switch {
	case errors.Is(err, migrate.ErrNilVersion):
		return 0, nil
	case err != nil:
		return 0, fmt.Errorf("read prefs schema version: %w", err)
	case dirty:
		return v, fmt.Errorf("%w at v%d", ErrDirtySchema, v)
	}
	return v, nil
}
