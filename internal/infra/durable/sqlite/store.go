// Package sqlite provides a durable record store on an embedded SQLite file.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"hospitalcore/pkg/domain"

	_ "modernc.org/sqlite" // pure go sqlite driver
)

var _ domain.DurableStore = (*Store)(nil)

// DefaultPath is used when no database path is configured.
const DefaultPath = "hospitalcore.db"

// Store keeps one row per entity holding its newest version as JSON.
type Store struct {
	db   *sql.DB
	path string
}

// NewStore opens (creating when needed) the SQLite database at path.
func NewStore(ctx context.Context, path string) (*Store, error) {
	if path == "" {
		path = DefaultPath
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
		return nil, fmt.Errorf("create dirs: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// SQLite serialises writers; one connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS records (
		kind TEXT NOT NULL,
		id TEXT NOT NULL,
		version INTEGER NOT NULL,
		updated_at TEXT NOT NULL,
		payload BLOB NOT NULL,
		PRIMARY KEY (kind, id)
	)`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create records table: %w", err)
	}
	return &Store{db: db, path: path}, nil
}

// Read returns the records of a kind matching filter, ordered by id.
func (s *Store) Read(ctx context.Context, kind domain.EntityType, filter domain.Filter) ([]domain.Record, error) {
	query := `SELECT id, version, updated_at, payload FROM records WHERE kind = ?`
	args := []any{string(kind)}
	if len(filter.IDs) > 0 {
		query += ` AND id IN (?` + strings.Repeat(`,?`, len(filter.IDs)-1) + `)`
		for _, id := range filter.IDs {
			args = append(args, id)
		}
	}
	query += ` ORDER BY id`
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select %s: %w", kind, err)
	}
	defer func() { _ = rows.Close() }()
	var out []domain.Record
	for rows.Next() {
		rec := domain.Record{Kind: kind}
		var updated string
		var version int64
		if err := rows.Scan(&rec.ID, &version, &updated, &rec.Payload); err != nil {
			return nil, fmt.Errorf("scan %s: %w", kind, err)
		}
		rec.Version = uint64(version)
		if rec.UpdatedAt, err = time.Parse(time.RFC3339Nano, updated); err != nil {
			return nil, fmt.Errorf("parse updated_at of %s %s: %w", kind, rec.ID, err)
		}
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
	_, err := s.db.ExecContext(ctx, `INSERT INTO records(kind, id, version, updated_at, payload) VALUES(?,?,?,?,?)
		ON CONFLICT(kind, id) DO UPDATE SET version=excluded.version, updated_at=excluded.updated_at, payload=excluded.payload
		WHERE excluded.version > records.version`,
		string(rec.Kind), rec.ID, int64(rec.Version), rec.UpdatedAt.UTC().Format(time.RFC3339Nano), []byte(rec.Payload))
	if err != nil {
		return fmt.Errorf("upsert %s %s: %w", rec.Kind, rec.ID, err)
	}
	return nil
}

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }

// Path returns the configured database path.
func (s *Store) Path() string { return s.path }
