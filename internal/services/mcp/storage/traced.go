package storage

import (
	"context"

	"github.com/louisbranch/ledger.space/internal/platform/otel"
)

const tracerScope = "services/mcp/storage"

// Traced wraps store so each operation runs in an annotation.<op> span.
func Traced(store Store) Store {
	return tracedStore{next: store}
}

type tracedStore struct {
	next Store
}

func startKeySpan(ctx context.Context, name string, key Key) (context.Context, spanEnder) {
	ctx, span := otel.StartSpan(ctx, tracerScope, name,
		"entity_type", string(key.EntityType),
		"entity_id", key.EntityID,
		"budget_id", key.BudgetID,
	)
	return ctx, func(err error) { otel.EndSpan(span, err) }
}

type spanEnder func(error)

func (s tracedStore) SetContext(ctx context.Context, key Key, data Document) (record EntityContext, err error) {
	ctx, end := startKeySpan(ctx, "annotation.set", key)
	defer func() { end(err) }()
	return s.next.SetContext(ctx, key, data)
}

func (s tracedStore) GetContext(ctx context.Context, key Key) (record EntityContext, found bool, err error) {
	ctx, end := startKeySpan(ctx, "annotation.get", key)
	defer func() { end(err) }()
	return s.next.GetContext(ctx, key)
}

func (s tracedStore) ClearContext(ctx context.Context, key Key) (removed bool, err error) {
	ctx, end := startKeySpan(ctx, "annotation.clear", key)
	defer func() { end(err) }()
	return s.next.ClearContext(ctx, key)
}

func (s tracedStore) SearchContext(ctx context.Context, query ContextQuery) (records []EntityContext, err error) {
	ctx, span := otel.StartSpan(ctx, tracerScope, "annotation.search",
		"entity_type", string(query.EntityType),
		"budget_id", query.BudgetID,
	)
	defer func() { otel.EndSpan(span, err) }()
	return s.next.SearchContext(ctx, query)
}

func (s tracedStore) Close() error {
	return s.next.Close()
}
