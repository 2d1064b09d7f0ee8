package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	apperrors "github.com/louisbranch/ledger.space/internal/platform/errors"
)

// EntityType names the kind of ledger entity an annotation is attached to.
type EntityType string

const (
	EntityOwner       EntityType = "owner"
	EntityAccount     EntityType = "account"
	EntityBudget      EntityType = "budget"
	EntityTransaction EntityType = "transaction"
	EntityCategory    EntityType = "category"
)

// EntityTypes lists every accepted entity type.
var EntityTypes = []EntityType{EntityOwner, EntityAccount, EntityBudget, EntityTransaction, EntityCategory}

// Valid reports whether t is one of EntityTypes.
func (t EntityType) Valid() bool {
	for _, known := range EntityTypes {
		if t == known {
			return true
		}
	}
	return false
}

// ParseEntityType normalizes and validates an entity type name.
func ParseEntityType(value string) (EntityType, error) {
	t := EntityType(strings.ToLower(strings.TrimSpace(value)))
	if !t.Valid() {
		return "", apperrors.WithMetadata(apperrors.CodeInvalidArgument,
			fmt.Sprintf("unknown entity type %q", value),
			map[string]string{apperrors.MetaField: "entity_type"})
	}
	return t, nil
}

// Key identifies at most one annotation record.
type Key struct {
	EntityType EntityType
	EntityID   string
	BudgetID   string
}

// Validate checks every key component is present and the type is known.
func (k Key) Validate() error {
	if !k.EntityType.Valid() {
		return invalidArgument("entity_type", fmt.Sprintf("unknown entity type %q", k.EntityType))
	}
	if strings.TrimSpace(k.EntityID) == "" {
		return invalidArgument("entity_id", "entity id is required")
	}
	if strings.TrimSpace(k.BudgetID) == "" {
		return invalidArgument("budget_id", "budget id is required")
	}
	return nil
}

// Metadata describes the key for error reports.
func (k Key) Metadata(operation string) map[string]string {
	return map[string]string{
		apperrors.MetaOperation:  operation,
		apperrors.MetaEntityType: string(k.EntityType),
		apperrors.MetaEntityID:   k.EntityID,
		apperrors.MetaBudgetID:   k.BudgetID,
	}
}

// EntityContext is one stored annotation.
type EntityContext struct {
	ID         string
	EntityType EntityType
	EntityID   string
	BudgetID   string
	Context    Document
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Key returns the record's identifying triple.
func (c EntityContext) Key() Key {
	return Key{EntityType: c.EntityType, EntityID: c.EntityID, BudgetID: c.BudgetID}
}

// FieldPredicate requires the context value at Path (dot separated) to equal
// Value. When the path resolves to an array and Value is not an array, any
// matching element satisfies the predicate. A null Value also matches a
// missing field.
type FieldPredicate struct {
	Path  string
	Value json.RawMessage
}

// ContextQuery filters annotations. Empty filters match everything.
type ContextQuery struct {
	EntityType EntityType
	EntityID   string
	BudgetID   string
	Fields     []FieldPredicate
}

// Validate rejects unknown entity types and malformed predicates.
func (q ContextQuery) Validate() error {
	if q.EntityType != "" && !q.EntityType.Valid() {
		return invalidArgument("entity_type", fmt.Sprintf("unknown entity type %q", q.EntityType))
	}
	for _, field := range q.Fields {
		if err := validatePath(field.Path); err != nil {
			return err
		}
		if !json.Valid(field.Value) {
			return invalidArgument("fields", fmt.Sprintf("predicate value for %q is not valid JSON", field.Path))
		}
	}
	return nil
}

func validatePath(path string) error {
	if strings.TrimSpace(path) == "" {
		return invalidArgument("fields", "predicate path is required")
	}
	for _, segment := range strings.Split(path, ".") {
		if segment == "" {
			return invalidArgument("fields", fmt.Sprintf("predicate path %q has an empty segment", path))
		}
		if strings.HasPrefix(segment, "$") {
			return invalidArgument("fields", fmt.Sprintf("predicate path %q may not start a segment with $", path))
		}
	}
	return nil
}

func invalidArgument(field, message string) error {
	return apperrors.WithMetadata(apperrors.CodeInvalidArgument, message,
		map[string]string{apperrors.MetaField: field})
}

// WrapStorageError reports a backend failure for key as STORAGE_ERROR.
func WrapStorageError(operation string, key Key, err error) error {
	return apperrors.WrapWithMetadata(apperrors.CodeStorage, operation+" failed", key.Metadata(operation), err)
}

// ContextStore persists annotations.
type ContextStore interface {
	// SetContext replaces the context stored under key, creating the record
	// when absent, and returns the stored record.
	SetContext(ctx context.Context, key Key, data Document) (EntityContext, error)
	// GetContext returns the record for key; found is false when absent.
	GetContext(ctx context.Context, key Key) (record EntityContext, found bool, err error)
	// ClearContext deletes the record for key and reports whether one existed.
	ClearContext(ctx context.Context, key Key) (removed bool, err error)
	// SearchContext returns every record matching query, never nil.
	SearchContext(ctx context.Context, query ContextQuery) ([]EntityContext, error)
}

// Store is a ContextStore that owns a backend connection.
type Store interface {
	ContextStore
	Close() error
}

// Clock returns the current time; backends accept one for deterministic tests.
type Clock func() time.Time

// Now truncates to milliseconds in UTC, the precision every backend keeps.
func (c Clock) Now() time.Time {
	if c == nil {
		return time.Now().UTC().Truncate(time.Millisecond)
	}
	return c().UTC().Truncate(time.Millisecond)
}
