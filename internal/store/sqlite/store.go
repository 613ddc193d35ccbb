// Package sqlite is a persistent implementation of the geofence store on
// SQLite. A partial unique index keeps at most one unresolved alert per
// natural key, even across processes sharing the file.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/mattn/go-sqlite3"

	"github.com/signalsfoundry/rail-geofence/internal/logging"
	"github.com/signalsfoundry/rail-geofence/model"
)

//go:embed schema.sql
var schemaSQL string

// Config holds database configuration. MaxOpenConns defaults to 1; SQLite
// serialises writers anyway.
type Config struct {
	Path          string
	MaxOpenConns  int
	BusyTimeoutMs int
}

// DefaultConfig returns the default database configuration.
func DefaultConfig() Config {
	return Config{
		Path:          "./data/railfence.db",
		MaxOpenConns:  1,
		BusyTimeoutMs: 5000,
	}
}

// Store implements the domain store on a *sql.DB.
type Store struct {
	db  *sql.DB
	log logging.Logger
}

// Open creates the database directory if needed, opens the file and applies
// the schema.
func Open(ctx context.Context, cfg Config, log logging.Logger) (*Store, error) {
	if cfg.Path == "" {
		cfg.Path = DefaultConfig().Path
	}
	if cfg.MaxOpenConns <= 0 {
		cfg.MaxOpenConns = 1
	}
	if cfg.BusyTimeoutMs <= 0 {
		cfg.BusyTimeoutMs = DefaultConfig().BusyTimeoutMs
	}

	if cfg.Path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_busy_timeout=%d&_journal_mode=WAL", cfg.Path, cfg.BusyTimeoutMs)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxOpenConns)
	db.SetConnMaxLifetime(0)

	s := New(db, log)
	if err := s.Health(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if err := s.InitializeSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	s.log.Info(ctx, "sqlite store ready", logging.String("path", cfg.Path))
	return s, nil
}

// New wraps an already opened database. The schema is not applied.
func New(db *sql.DB, log logging.Logger) *Store {
	if log == nil {
		log = logging.Noop()
	}
	return &Store{db: db, log: log}
}

// InitializeSchema executes the embedded schema.
func (s *Store) InitializeSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("initialize schema: %w", err)
	}
	return nil
}

// Transaction executes fn within a database transaction.
func (s *Store) Transaction(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("transaction error: %w, rollback error: %v", err, rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// Health checks the database connection.
func (s *Store) Health(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database connection is nil")
	}
	return s.db.PingContext(ctx)
}

// Close closes the database.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// EntityCounts reports the size of each table and the number of unresolved
// alerts.
func (s *Store) EntityCounts(ctx context.Context) (model.EntityCounts, error) {
	var c model.EntityCounts
	err := s.db.QueryRowContext(ctx, `
SELECT
    (SELECT COUNT(*) FROM stations),
    (SELECT COUNT(*) FROM trains),
    (SELECT COUNT(*) FROM tracked_objects),
    (SELECT COUNT(*) FROM users),
    (SELECT COUNT(*) FROM alerts WHERE resolved = 0)`).
		Scan(&c.Stations, &c.Trains, &c.Objects, &c.Users, &c.UnresolvedAlerts)
	if err != nil {
		return model.EntityCounts{}, fmt.Errorf("count entities: %w", err)
	}
	return c, nil
}

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// isUniqueViolation reports whether err is a primary key or unique
// constraint failure.
func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
		sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
}

// requireAffected maps a zero-row update or delete to notFound.
func requireAffected(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return notFound
	}
	return nil
}
