package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	applog "tally/internal/log"
)

// Repository is the SQL implementation of Store.
type Repository struct {
	db      *sql.DB
	dialect Dialect
	logger  *applog.Logger
	now     func() time.Time
}

var _ Store = (*Repository)(nil)

// SQLiteDSN builds a modernc.org/sqlite DSN with the pragmas the repository relies on.
func SQLiteDSN(dbPath string) string {
	return dbPath + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
}

// NewSQLiteRepository opens (creating if needed) the SQLite database at
// dbPath and applies migrations.
func NewSQLiteRepository(dbPath string, logger *applog.Logger) (*Repository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}
	return open(DialectSQLite, SQLiteDSN(dbPath), logger)
}

// NewPostgresRepository connects to PostgreSQL and applies migrations.
func NewPostgresRepository(dsn string, logger *applog.Logger) (*Repository, error) {
	return open(DialectPostgres, dsn, logger)
}

func open(dialect Dialect, dsn string, logger *applog.Logger) (*Repository, error) {
	if logger == nil {
		logger = applog.Nop()
	}
	db, err := sql.Open(dialect.driverName(), dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", dialect, err)
	}
	if dialect == DialectSQLite {
		// Single connection: SQLite writers must not interleave.
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dialect, dsn); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &Repository{
		db:      db,
		dialect: dialect,
		logger:  logger.WithComponent(applog.ComponentStorage),
		now:     time.Now,
	}, nil
}

// Dialect reports the SQL flavour in use.
func (r *Repository) Dialect() Dialect { return r.dialect }

func (r *Repository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func (r *Repository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

func (r *Repository) q(query string) string { return r.dialect.rebind(query) }

// forUpdate locks selected rows on PostgreSQL; SQLite serializes writers anyway.
func (r *Repository) forUpdate() string {
	if r.dialect == DialectPostgres {
		return " FOR UPDATE"
	}
	return ""
}

// withTx runs fn inside a transaction, rolling back on error.
func (r *Repository) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
