package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"orderstack-kds/internal/logger"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
)

const schema = `CREATE TABLE IF NOT EXISTS kv_store (
	key        TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	updated_at TIMESTAMP NOT NULL
)`

type queries struct {
	get    string
	put    string
	delete string
}

var dialects = map[string]queries{
	DriverSQLite: {
		get: `SELECT value FROM kv_store WHERE key = ?`,
		put: `INSERT INTO kv_store (key, value, updated_at) VALUES (?, ?, ?)
			ON CONFLICT (key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		delete: `DELETE FROM kv_store WHERE key = ?`,
	},
	DriverPostgres: {
		get: `SELECT value FROM kv_store WHERE key = $1`,
		put: `INSERT INTO kv_store (key, value, updated_at) VALUES ($1, $2, $3)
			ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at`,
		delete: `DELETE FROM kv_store WHERE key = $1`,
	},
}

// SQLStore keeps keys in a single kv_store table on SQLite or Postgres.
type SQLStore struct {
	db  *sql.DB
	q   queries
	now func() time.Time
}

// Open connects to the database, applies SQLite pragmas when relevant and
// creates the kv_store table.
func Open(driver, dsn string) (*SQLStore, error) {
	if _, ok := dialects[driver]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedDriver, driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open storage: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping storage: %w", err)
	}

	if driver == DriverSQLite {
		// SQLite allows one writer at a time.
		db.SetMaxOpenConns(1)
		if err := applyPragmas(db); err != nil {
			db.Close()
			return nil, err
		}
	}

	s, err := New(db, driver)
	if err != nil {
		db.Close()
		return nil, err
	}

	logger.L().Info("storage opened", zap.String("driver", driver))
	return s, nil
}

// New wraps an open database and ensures the schema exists.
func New(db *sql.DB, driver string) (*SQLStore, error) {
	q, ok := dialects[driver]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedDriver, driver)
	}
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("failed to create kv_store: %w", err)
	}
	return &SQLStore{db: db, q: q, now: time.Now}, nil
}

func applyPragmas(db *sql.DB) error {
	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	return nil
}

func (s *SQLStore) Get(ctx context.Context, key string) ([]byte, error) {
	var value string
	err := s.db.QueryRowContext(ctx, s.q.get, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	return []byte(value), nil
}

func (s *SQLStore) Put(ctx context.Context, key string, value []byte) error {
	if _, err := s.db.ExecContext(ctx, s.q.put, key, string(value), s.now().UTC()); err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}

func (s *SQLStore) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, s.q.delete, key); err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

func (s *SQLStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}
