// Package remote is the relational store the local project tree is mirrored
// to.
//
// Rows are keyed by public code: the "id" column holds the public code and
// the "code" column the local id as decimal text. Child rows point at their
// project through project_id (the project's public code). The store does not
// cascade deletes; callers remove children before their project.
//
// Three backends are supported, chosen from the DSN:
//   - file:/path.db, *.db        embedded SQLite (ncruces/go-sqlite3)
//   - libsql://, https://        Turso / libSQL (cgo builds only)
//   - postgres://, postgresql:// PostgreSQL (pgx)
//
// Every method borrows a pooled connection for a single statement.
package remote

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// Store wraps a database/sql pool for one remote backend.
type Store struct {
	conn    *sql.DB
	dialect *dialect
	logger  *slog.Logger
}

type options struct {
	authToken string
	logger    *slog.Logger
}

// Option configures Open.
type Option func(*options)

// WithAuthToken sets the token sent to libSQL servers.
func WithAuthToken(token string) Option {
	return func(o *options) { o.authToken = token }
}

// WithLogger sets the logger used for query diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// Open connects to the store named by dsn.
//
// The caller MUST call Close() when done.
//
// Example:
//
//	store, err := remote.Open(ctx, "file:loom.db")
//	if err != nil {
//	    return err
//	}
//	defer store.Close()
func Open(ctx context.Context, dsn string, opts ...Option) (*Store, error) {
	o := options{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}

	d, driverDSN, err := dialectFor(dsn)
	if err != nil {
		return nil, err
	}
	if d.name == "libsql" && o.authToken != "" {
		driverDSN = withQueryParam(driverDSN, "authToken", o.authToken)
	}

	conn, err := sql.Open(d.driver, driverDSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", d.name, err)
	}

	if err := conn.PingContext(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping %s database: %w", d.name, err)
	}

	maxOpen := 25
	if d.maxOpen > 0 {
		maxOpen = d.maxOpen
	}
	conn.SetMaxOpenConns(maxOpen)
	conn.SetMaxIdleConns(min(5, maxOpen))
	conn.SetConnMaxLifetime(5 * time.Minute)

	for _, pragma := range d.pragmas {
		if _, err := conn.ExecContext(ctx, pragma); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	o.logger.Debug("remote store opened", "dialect", d.name, "dsn", redact(dsn))
	return &Store{conn: conn, dialect: d, logger: o.logger}, nil
}

// Dialect returns the backend name: sqlite, libsql or postgres.
func (s *Store) Dialect() string {
	return s.dialect.name
}

// RawDB returns the underlying sql.DB connection.
func (s *Store) RawDB() *sql.DB {
	return s.conn
}

// Close closes the connection pool.
func (s *Store) Close() error {
	if s.conn == nil {
		return nil
	}
	if s.dialect.name == "sqlite" {
		if _, err := s.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
			s.logger.Warn("failed to checkpoint WAL", "error", err)
		}
	}
	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	s.conn = nil
	return nil
}

// InitSchema creates every table and index if missing. It is idempotent.
func (s *Store) InitSchema(ctx context.Context) error {
	for _, stmt := range s.dialect.ddl() {
		if _, err := s.conn.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to initialize schema: %w", err)
		}
	}
	return nil
}

func (s *Store) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.conn.ExecContext(ctx, s.dialect.rebind(query), args...)
}

func (s *Store) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return s.conn.QueryContext(ctx, s.dialect.rebind(query), args...)
}

func withQueryParam(dsn, key, value string) string {
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + key + "=" + url.QueryEscape(value)
}
