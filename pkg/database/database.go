package database

import (
	"database/sql"
	"embed"
	"fmt"
	"log/slog"

	migrate "github.com/rubenv/sql-migrate"
	"github.com/uptrace/bun/driver/pgdriver"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const (
	DialectPostgres = "postgres"
	DialectSQLite   = "sqlite3"
)

// NewPostgres opens a Postgres pool through the bun driver and applies
// pending migrations.
func NewPostgres(dsn string) (*sql.DB, error) {
	db := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}

	if err := Migrate(db, DialectPostgres); err != nil {
		db.Close()
		return nil, err
	}

	return db, nil
}

// NewSQLite opens (or creates) the SQLite database at path. ":memory:" is
// accepted and pinned to a single connection so every query sees the same
// database.
func NewSQLite(path string) (*sql.DB, error) {
	dsn := path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite: %w", err)
	}
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	} else if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling wal: %w", err)
	}

	if err := Migrate(db, DialectSQLite); err != nil {
		db.Close()
		return nil, err
	}

	return db, nil
}

func Migrate(db *sql.DB, dialect string) error {
	source := &migrate.EmbedFileSystemMigrationSource{
		FileSystem: migrationsFS,
		Root:       "migrations",
	}

	n, err := migrate.Exec(db, dialect, source, migrate.Up)
	if err != nil {
		return fmt.Errorf("applying migrations: %w", err)
	}

	slog.Info("database migrated", "dialect", dialect, "applied", n)
	return nil
}
