// Package migrations embeds the schema and applies it with golang-migrate.
// Grounded on tarsy's pkg/database/client.go runMigrations (embed.FS +
// iofs source + postgres driver + Up/ErrNoChange), adapted from an
// Ent-driven *sql.DB to the plain database/sql connection this module opens
// for migrations only — the application's own queries run through pgxpool
// (see repository.NewPool), never through this database/sql handle.
package migrations

import (
	"context"
	stdsql "database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver
)

//go:embed 001_initial_schema.up.sql 001_initial_schema.down.sql
var migrationsFS embed.FS

// Up opens databaseURL over database/sql and applies every pending
// migration. Safe to call on every process start: a schema already at the
// latest version reports migrate.ErrNoChange, which Up treats as success.
func Up(ctx context.Context, databaseURL string) error {
	db, err := stdsql.Open("pgx", databaseURL)
	if err != nil {
		return fmt.Errorf("migrations.Up: open: %w", err)
	}
	defer db.Close()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("migrations.Up: ping: %w", err)
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("migrations.Up: postgres driver: %w", err)
	}

	sourceDriver, err := iofs.New(migrationsFS, ".")
	if err != nil {
		return fmt.Errorf("migrations.Up: source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "pgx", driver)
	if err != nil {
		return fmt.Errorf("migrations.Up: migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrations.Up: apply: %w", err)
	}

	// Do not call m.Close(): it closes the database driver, which would
	// close the *sql.DB we're about to close ourselves via defer.
	return sourceDriver.Close()
}
