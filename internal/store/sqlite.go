package store

import (
	"context"
	"database/sql"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/pkg/errors"
)

const kvTable = "kv_store"

// SQLiteStore is a Store backed by the kv_store table.
type SQLiteStore struct {
	db *sql.DB
	sb sq.StatementBuilderType
}

// NewSQLiteStore wraps a migrated database handle.
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{
		db: db,
		sb: sq.StatementBuilder.PlaceholderFormat(sq.Question).RunWith(db),
	}
}

// Get implements Store.
func (s *SQLiteStore) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.sb.Select("value").
		From(kvTable).
		Where(sq.Eq{"key": key}).
		QueryRowContext(ctx).
		Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, errors.Wrapf(err, "kv get %q", key)
	}
	return value, true, nil
}

// Set implements Store. The write is a single upsert statement, so a reader
// sees either the previous or the new value.
func (s *SQLiteStore) Set(ctx context.Context, key, value string) error {
	_, err := s.sb.Insert(kvTable).
		Columns("key", "value", "updated_at").
		Values(key, value, time.Now().UnixMilli()).
		Suffix("ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at").
		ExecContext(ctx)
	if err != nil {
		return errors.Wrapf(err, "kv set %q", key)
	}
	return nil
}

// Delete implements Store.
func (s *SQLiteStore) Delete(ctx context.Context, key string) error {
	_, err := s.sb.Delete(kvTable).
		Where(sq.Eq{"key": key}).
		ExecContext(ctx)
	if err != nil {
		return errors.Wrapf(err, "kv delete %q", key)
	}
	return nil
}
