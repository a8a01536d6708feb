package ledger

import (
	"context"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations
var migrationsFS embed.FS

const migrationsTable = "ledger_schema_migrations"

// Migrate brings the schema up to date. Running it on a current schema is a no-op.
func (l *SQLLedger) Migrate(ctx context.Context) error {
	source, err := iofs.New(migrationsFS, "migrations/"+string(l.dialect))
	if err != nil {
		return fmt.Errorf("could not open migrations: %w", err)
	}

	var driver database.Driver
	switch l.dialect {
	case DialectPostgres:
		conn, err := l.db.Conn(ctx)
		if err != nil {
			return fmt.Errorf("could not acquire connection: %w", err)
		}
		defer conn.Close()
		driver, err = postgres.WithConnection(ctx, conn, &postgres.Config{MigrationsTable: migrationsTable})
		if err != nil {
			return fmt.Errorf("could not create migration driver: %w", err)
		}
	default:
		driver, err = sqlite.WithInstance(l.db, &sqlite.Config{MigrationsTable: migrationsTable})
		if err != nil {
			return fmt.Errorf("could not create migration driver: %w", err)
		}
	}

	m, err := migrate.NewWithInstance("iofs", source, string(l.dialect), driver)
	if err != nil {
		return fmt.Errorf("could not create migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("could not run migrations: %w", err)
	}
	return nil
}
