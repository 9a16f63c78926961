package kvstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/nerrad567/gray-logic-dispatch/internal/infrastructure/database"
)

// SQL is a Store backed by the kv_entries table on SQLite or PostgreSQL.
type SQL struct {
	db *database.DB
}

// NewSQL wraps an open, migrated database.
func NewSQL(db *database.DB) *SQL {
	return &SQL{db: db}
}

// Put inserts or replaces the value stored under key.
func (s *SQL) Put(ctx context.Context, key string, value []byte) error {
	if value == nil {
		value = []byte{}
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO kv_entries (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT (key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("putting %q: %w", key, err)
	}
	return nil
}

// Get returns the value stored under key.
func (s *SQL) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx, `SELECT value FROM kv_entries WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting %q: %w", key, err)
	}
	return value, nil
}

// Scan visits entries whose key starts with prefix in key order.
//
// Rows are read fully before fn runs so fn may write to the store; the
// SQLite pool has a single connection.
func (s *SQL) Scan(ctx context.Context, prefix string, fn ScanFunc) error {
	query := `SELECT key, value FROM kv_entries ORDER BY key`
	var args []any
	if prefix != "" {
		query = `SELECT key, value FROM kv_entries WHERE substr(key, 1, ?) = ? ORDER BY key`
		args = []any{utf8.RuneCountInString(prefix), prefix}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("scanning %q: %w", prefix, err)
	}

	type entry struct {
		key   string
		value []byte
	}
	var entries []entry
	for rows.Next() {
		var e entry
		if err := rows.Scan(&e.key, &e.value); err != nil {
			rows.Close()
			return fmt.Errorf("scanning %q: %w", prefix, err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return fmt.Errorf("scanning %q: %w", prefix, err)
	}
	rows.Close()

	for _, e := range entries {
		if err := fn(e.key, e.value); err != nil {
			if errors.Is(err, ErrStopScan) {
				return nil
			}
			return err
		}
	}
	return nil
}

// Delete removes key.
func (s *SQL) Delete(ctx context.Context, key string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM kv_entries WHERE key = ?`, key)
	if err != nil {
		return fmt.Errorf("deleting %q: %w", key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("deleting %q: %w", key, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Close is a no-op; the database is owned by the caller.
func (s *SQL) Close() error { return nil }
