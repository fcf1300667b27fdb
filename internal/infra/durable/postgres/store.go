// Package postgres provides a durable record store on PostgreSQL through the
// pgx database/sql driver.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"hospitalcore/pkg/domain"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver
)

var _ domain.DurableStore = (*Store)(nil)

const (
	defaultDriver = "pgx"
	defaultDSN    = "postgres://localhost/hospitalcore?sslmode=disable"
)

var (
	sqlOpen = sql.Open
	openMu  sync.Mutex
)

const createRecordsTable = `CREATE TABLE IF NOT EXISTS records (
	kind TEXT NOT NULL,
	id TEXT NOT NULL,
	version BIGINT NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	payload JSONB NOT NULL,
	PRIMARY KEY (kind, id)
)`

const upsertRecord = `INSERT INTO records (kind, id, version, updated_at, payload) VALUES ($1,$2,$3,$4,$5) ON CONFLICT (kind, id) DO UPDATE SET version = EXCLUDED.version, updated_at = EXCLUDED.updated_at, payload = EXCLUDED.payload WHERE records.version < EXCLUDED.version`

const selectRecords = `SELECT id, version, updated_at, payload FROM records WHERE kind = $1 ORDER BY id`

// Store keeps one row per entity holding its newest version.
type Store struct {
	db *sql.DB
}

// NewStore opens a Postgres connection using dsn (falls back to defaultDSN)
// and ensures the records table exists.
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		dsn = defaultDSN
	}
	openMu.Lock()
	db, err := sqlOpen(defaultDriver, dsn)
	openMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := db.ExecContext(ctx, createRecordsTable); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure records table: %w", err)
	}
	return &Store{db: db}, nil
}

// Read returns the records of a kind matching filter, ordered by id.
func (s *Store) Read(ctx context.Context, kind domain.EntityType, filter domain.Filter) ([]domain.Record, error) {
	rows, err := s.db.QueryContext(ctx, selectRecords, string(kind))
	if err != nil {
		return nil, fmt.Errorf("select %s: %w", kind, err)
	}
	defer func() { _ = rows.Close() }()
	var out []domain.Record
	for rows.Next() {
		rec := domain.Record{Kind: kind}
		var version int64
		var payload []byte
		if err := rows.Scan(&rec.ID, &version, &rec.UpdatedAt, &payload); err != nil {
			return nil, fmt.Errorf("scan %s: %w", kind, err)
		}
		rec.Version = uint64(version)
		rec.Payload = payload
		if filter.Matches(rec) {
			out = append(out, rec)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s: %w", kind, err)
	}
	return out, nil
}

// Write upserts rec when its version is newer than the stored one.
func (s *Store) Write(ctx context.Context, rec domain.Record) error {
	updated := rec.UpdatedAt
	if updated.IsZero() {
		updated = time.Now()
	}
	if _, err := s.db.ExecContext(ctx, upsertRecord,
		string(rec.Kind), rec.ID, int64(rec.Version), updated.UTC(), []byte(rec.Payload)); err != nil {
		return fmt.Errorf("upsert %s %s: %w", rec.Kind, rec.ID, err)
	}
	return nil
}

// Close releases the connection pool.
func (s *Store) Close() error { return s.db.Close() }

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }

// OverrideSQLOpen swaps the sqlOpen function for tests and returns a restore function.
func OverrideSQLOpen(fn func(driverName, dataSourceName string) (*sql.DB, error)) func() {
	openMu.Lock()
	defer openMu.Unlock()
	prev := sqlOpen
	sqlOpen = fn
	return func() {
		openMu.Lock()
		defer openMu.Unlock()
		sqlOpen = prev
	}
}
