// Package db is the single source-of-truth layer: every mutation the core
// makes goes through here, and every in-process cache elsewhere is
// explicitly soft.
//
// There is no ORM / generated client: the three DatabaseProvider drivers
// (SQLite, Postgres, SqlServer) are registered directly with database/sql,
// and every query in repository.go is hand-written, following this
// codebase's rework note "ORM include child → explicit SELECTs with joins".
package db

import (
	"context"
	"database/sql"
	"embed"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/database/sqlserver"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/microsoft/go-mssqldb"
	_ "modernc.org/sqlite"

	"autowatch/internal/config"
)

//go:embed migrations
var migrationsFS embed.FS

// DB wraps the raw connection plus the dialect-specific placeholder
// rewriter every repository query needs, since pgx and go-mssqldb don't
// accept "?" placeholders the way the sqlite driver does.
type DB struct {
	*sql.DB
	Provider config.DatabaseProvider
}

func driverName(provider config.DatabaseProvider) (string, error) {
	switch provider {
	case config.ProviderSQLite:
		return "sqlite", nil
	case config.ProviderPostgres:
		return "pgx", nil
	case config.ProviderSqlServer:
		return "sqlserver", nil
	default:
		return "", fmt.Errorf("unsupported database provider %q", provider)
	}
}

// Open opens the database, applies pending migrations, and returns a ready
// connection pool.
func Open(ctx context.Context, cfg *config.Config) (*DB, error) {
	driver, err := driverName(cfg.DatabaseProvider)
	if err != nil {
		return nil, err
	}

	sqlDB, err := sql.Open(driver, cfg.ConnectionStrings.Default)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	if err := runMigrations(sqlDB, cfg.DatabaseProvider); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return &DB{DB: sqlDB, Provider: cfg.DatabaseProvider}, nil
}

func runMigrations(sqlDB *sql.DB, provider config.DatabaseProvider) error {
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("loading embedded migrations: %w", err)
	}
	defer sourceDriver.Close()

	var dbDriver database.Driver
	switch provider {
	case config.ProviderSQLite:
		dbDriver, err = sqlite3.WithInstance(sqlDB, &sqlite3.Config{})
	case config.ProviderPostgres:
		dbDriver, err = postgres.WithInstance(sqlDB, &postgres.Config{})
	case config.ProviderSqlServer:
		dbDriver, err = sqlserver.WithInstance(sqlDB, &sqlserver.Config{})
	default:
		return fmt.Errorf("unsupported database provider %q", provider)
	}
	if err != nil {
		return fmt.Errorf("creating migrate driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, string(provider), dbDriver)
	if err != nil {
		return fmt.Errorf("creating migrate instance: %w", err)
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("applying migrations: %w", err)
	}
	return nil
}

// rebind rewrites "?" placeholders for dialects that don't use them.
func (d *DB) rebind(query string) string {
	if d.Provider == config.ProviderSQLite {
		return query
	}
	out := make([]byte, 0, len(query)+16)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			switch d.Provider {
			case config.ProviderPostgres:
				out = append(out, []byte(fmt.Sprintf("$%d", n))...)
			case config.ProviderSqlServer:
				out = append(out, []byte(fmt.Sprintf("@p%d", n))...)
			default:
				out = append(out, '?')
			}
			continue
		}
		out = append(out, query[i])
	}
	return string(out)
}
