package postgres

import (
	"context"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5/stdlib"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Migrate implements storage.Store. initialize drops and recreates the
// schema from scratch (spec §6's --initialize-db); upgrade applies any
// forward migrations beyond golang-migrate's recorded revision
// (--upgrade-db). With neither flag set nothing is applied: Migrate only
// returns an error if the schema was never initialized or is marked dirty.
// The logical schema_version var is checked separately by
// checkpoint.Store.CheckSchemaVersion.
func (s *Store) Migrate(ctx context.Context, initialize, upgrade bool) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("load embedded migrations: %w", err)
	}

	db := stdlib.OpenDBFromPool(s.pool)
	defer db.Close()

	driver, err := migratepg.WithInstance(db, &migratepg.Config{})
	if err != nil {
		return fmt.Errorf("postgres migrate driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return fmt.Errorf("build migrator: %w", err)
	}

	if initialize {
		if err := m.Drop(); err != nil && !errors.Is(err, migrate.ErrNilVersion) {
			return fmt.Errorf("drop schema: %w", err)
		}
	}

	if initialize || upgrade {
		if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			return fmt.Errorf("apply migrations: %w", err)
		}
		return nil
	}

	version, dirty, err := m.Version()
	if err != nil {
		if errors.Is(err, migrate.ErrNilVersion) {
			return fmt.Errorf("schema not initialized: run with --initialize-db")
		}
		return fmt.Errorf("read schema version: %w", err)
	}
	if dirty {
		return fmt.Errorf("schema at version %d is dirty, needs manual repair", version)
	}
	return nil
}
