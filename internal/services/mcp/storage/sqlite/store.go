package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/louisbranch/ledger.space/internal/platform/id"
	"github.com/louisbranch/ledger.space/internal/platform/storage/sqlitemigrate"
	"github.com/louisbranch/ledger.space/internal/services/mcp/storage"
	"github.com/louisbranch/ledger.space/internal/services/mcp/storage/sqlite/migrations"
	_ "modernc.org/sqlite"
)

const recordColumns = "id, entity_type, entity_id, budget_id, context, created_at, updated_at"

// Store is a SQLite-backed annotation store.
type Store struct {
	sqlDB *sql.DB
	clock storage.Clock
	newID func() (string, error)
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source for created/updated timestamps.
func WithClock(clock storage.Clock) Option {
	return func(s *Store) { s.clock = clock }
}

// Open opens (creating if needed) the SQLite file at path and applies the
// embedded migrations.
func Open(ctx context.Context, path string, opts ...Option) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}

	cleanPath := filepath.Clean(path)
	dsn := cleanPath + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// SQLite has a single writer; one connection keeps concurrent upserts from
	// surfacing SQLITE_BUSY.
	sqlDB.SetMaxOpenConns(1)
	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}

	store := &Store{sqlDB: sqlDB, newID: id.NewID}
	for _, opt := range opts {
		opt(store)
	}
	if err := sqlitemigrate.ApplyMigrations(ctx, sqlDB, migrations.FS, ""); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return store, nil
}

// Close closes the underlying SQLite database.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

func (s *Store) ready() error {
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	return nil
}

// SetContext upserts the record for key. The unique index on the key resolves
// concurrent first writes into one row; only context and updated_at change on
// conflict. updated_at moves forward by at least one millisecond per write.
func (s *Store) SetContext(ctx context.Context, key storage.Key, data storage.Document) (storage.EntityContext, error) {
	if err := key.Validate(); err != nil {
		return storage.EntityContext{}, err
	}
	if err := s.ready(); err != nil {
		return storage.EntityContext{}, storage.WrapStorageError("set_context", key, err)
	}
	payload, err := json.Marshal(data)
	if err != nil {
		return storage.EntityContext{}, storage.WrapStorageError("set_context", key, fmt.Errorf("encode context: %w", err))
	}
	recordID, err := s.newID()
	if err != nil {
		return storage.EntityContext{}, storage.WrapStorageError("set_context", key, err)
	}
	now := s.clock.Now().UnixMilli()

	row := s.sqlDB.QueryRowContext(ctx, `
INSERT INTO entity_contexts (`+recordColumns+`)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(entity_type, entity_id, budget_id) DO UPDATE SET
    context = excluded.context,
    updated_at = max(excluded.updated_at, entity_contexts.updated_at + 1)
RETURNING `+recordColumns,
		recordID, string(key.EntityType), key.EntityID, key.BudgetID, string(payload), now, now,
	)
	record, err := scanRecord(row)
	if err != nil {
		return storage.EntityContext{}, storage.WrapStorageError("set_context", key, err)
	}
	return record, nil
}

// GetContext returns the record for key, if any.
func (s *Store) GetContext(ctx context.Context, key storage.Key) (storage.EntityContext, bool, error) {
	if err := key.Validate(); err != nil {
		return storage.EntityContext{}, false, err
	}
	if err := s.ready(); err != nil {
		return storage.EntityContext{}, false, storage.WrapStorageError("get_context", key, err)
	}
	row := s.sqlDB.QueryRowContext(ctx,
		"SELECT "+recordColumns+" FROM entity_contexts WHERE entity_type = ? AND entity_id = ? AND budget_id = ?",
		string(key.EntityType), key.EntityID, key.BudgetID,
	)
	record, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.EntityContext{}, false, nil
	}
	if err != nil {
		return storage.EntityContext{}, false, storage.WrapStorageError("get_context", key, err)
	}
	return record, true, nil
}

// ClearContext deletes the record for key.
func (s *Store) ClearContext(ctx context.Context, key storage.Key) (bool, error) {
	if err := key.Validate(); err != nil {
		return false, err
	}
	if err := s.ready(); err != nil {
		return false, storage.WrapStorageError("clear_context", key, err)
	}
	result, err := s.sqlDB.ExecContext(ctx,
		"DELETE FROM entity_contexts WHERE entity_type = ? AND entity_id = ? AND budget_id = ?",
		string(key.EntityType), key.EntityID, key.BudgetID,
	)
	if err != nil {
		return false, storage.WrapStorageError("clear_context", key, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, storage.WrapStorageError("clear_context", key, err)
	}
	return affected > 0, nil
}

// SearchContext narrows by the indexed columns in SQL and evaluates context
// predicates on the decoded rows.
func (s *Store) SearchContext(ctx context.Context, query storage.ContextQuery) ([]storage.EntityContext, error) {
	if err := query.Validate(); err != nil {
		return nil, err
	}
	key := storage.Key{EntityType: query.EntityType, EntityID: query.EntityID, BudgetID: query.BudgetID}
	if err := s.ready(); err != nil {
		return nil, storage.WrapStorageError("search_context", key, err)
	}

	var (
		clauses []string
		args    []any
	)
	if query.EntityType != "" {
		clauses = append(clauses, "entity_type = ?")
		args = append(args, string(query.EntityType))
	}
	if query.EntityID != "" {
		clauses = append(clauses, "entity_id = ?")
		args = append(args, query.EntityID)
	}
	if query.BudgetID != "" {
		clauses = append(clauses, "budget_id = ?")
		args = append(args, query.BudgetID)
	}
	statement := "SELECT " + recordColumns + " FROM entity_contexts"
	if len(clauses) > 0 {
		statement += " WHERE " + strings.Join(clauses, " AND ")
	}
	statement += " ORDER BY created_at, id"

	rows, err := s.sqlDB.QueryContext(ctx, statement, args...)
	if err != nil {
		return nil, storage.WrapStorageError("search_context", key, err)
	}
	defer rows.Close()

	records := []storage.EntityContext{}
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, storage.WrapStorageError("search_context", key, err)
		}
		if query.Matches(record) {
			records = append(records, record)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, storage.WrapStorageError("search_context", key, err)
	}
	return records, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (storage.EntityContext, error) {
	var (
		record     storage.EntityContext
		entityType string
		payload    string
		createdAt  int64
		updatedAt  int64
	)
	if err := row.Scan(&record.ID, &entityType, &record.EntityID, &record.BudgetID, &payload, &createdAt, &updatedAt); err != nil {
		return storage.EntityContext{}, err
	}
	doc, err := storage.ParseDocument([]byte(payload))
	if err != nil {
		return storage.EntityContext{}, fmt.Errorf("decode context for %s: %w", record.ID, err)
	}
	record.EntityType = storage.EntityType(entityType)
	record.Context = doc
	record.CreatedAt = time.UnixMilli(createdAt).UTC()
	record.UpdatedAt = time.UnixMilli(updatedAt).UTC()
	return record, nil
}

var _ storage.Store = (*Store)(nil)
