package mongo

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/louisbranch/ledger.space/internal/platform/id"
	"github.com/louisbranch/ledger.space/internal/platform/timeouts"
	"github.com/louisbranch/ledger.space/internal/services/mcp/storage"
)

const (
	fieldID         = "_id"
	fieldEntityType = "entityType"
	fieldEntityID   = "entityId"
	fieldBudgetID   = "budgetId"
	fieldContext    = "context"
	fieldRawContext = "contextJson"
	fieldCreatedAt  = "createdAt"
	fieldUpdatedAt  = "updatedAt"
)

// Config selects the deployment.
type Config struct {
	URI        string
	Database   string
	Collection string
}

// Store is a MongoDB-backed annotation store.
type Store struct {
	client     *mongo.Client
	collection *mongo.Collection
	clock      storage.Clock
	newID      func() (string, error)
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source for created/updated timestamps.
func WithClock(clock storage.Clock) Option {
	return func(s *Store) { s.clock = clock }
}

// Open connects, verifies the server is reachable, and ensures indexes.
func Open(ctx context.Context, cfg Config, opts ...Option) (*Store, error) {
	if strings.TrimSpace(cfg.URI) == "" {
		return nil, fmt.Errorf("mongo uri is required")
	}
	if strings.TrimSpace(cfg.Database) == "" || strings.TrimSpace(cfg.Collection) == "" {
		return nil, fmt.Errorf("mongo database and collection are required")
	}

	connectCtx, cancel := context.WithTimeout(ctx, timeouts.StoreConnect)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(connectCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}

	store := &Store{
		client:     client,
		collection: client.Database(cfg.Database).Collection(cfg.Collection),
		newID:      id.NewID,
	}
	for _, opt := range opts {
		opt(store)
	}
	if err := store.ensureIndexes(connectCtx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ensure indexes: %w", err)
	}
	return store, nil
}

func (s *Store) ensureIndexes(ctx context.Context) error {
	_, err := s.collection.Indexes().CreateMany(ctx, indexModels())
	return err
}

func indexModels() []mongo.IndexModel {
	return []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: fieldEntityType, Value: 1}, {Key: fieldEntityID, Value: 1}, {Key: fieldBudgetID, Value: 1}},
			Options: options.Index().SetName("entity_key").SetUnique(true),
		},
		{
			Keys:    bson.D{{Key: fieldBudgetID, Value: 1}},
			Options: options.Index().SetName("budget_id"),
		},
		{
			Keys:    bson.D{{Key: fieldEntityType, Value: 1}},
			Options: options.Index().SetName("entity_type"),
		},
	}
}

// Close disconnects from the server.
func (s *Store) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeouts.Shutdown)
	defer cancel()
	return s.client.Disconnect(ctx)
}

type record struct {
	ID         string    `bson:"_id"`
	EntityType string    `bson:"entityType"`
	EntityID   string    `bson:"entityId"`
	BudgetID   string    `bson:"budgetId"`
	Context    bson.Raw  `bson:"context,omitempty"`
	RawContext string    `bson:"contextJson,omitempty"`
	CreatedAt  time.Time `bson:"createdAt"`
	UpdatedAt  time.Time `bson:"updatedAt"`
}

func (r record) toEntityContext() (storage.EntityContext, error) {
	var (
		doc storage.Document
		err error
	)
	if r.RawContext != "" {
		doc, err = storage.ParseDocument([]byte(r.RawContext))
	} else {
		doc, err = fromBSON(r.Context)
	}
	if err != nil {
		return storage.EntityContext{}, fmt.Errorf("decode context for %s: %w", r.ID, err)
	}
	return storage.EntityContext{
		ID:         r.ID,
		EntityType: storage.EntityType(r.EntityType),
		EntityID:   r.EntityID,
		BudgetID:   r.BudgetID,
		Context:    doc,
		CreatedAt:  r.CreatedAt.UTC(),
		UpdatedAt:  r.UpdatedAt.UTC(),
	}, nil
}

func keyFilter(key storage.Key) bson.D {
	return bson.D{
		{Key: fieldEntityType, Value: string(key.EntityType)},
		{Key: fieldEntityID, Value: key.EntityID},
		{Key: fieldBudgetID, Value: key.BudgetID},
	}
}

// SetContext upserts the record for key. If two first writes race, the
// server may reject the loser with a duplicate key error instead of retrying
// it as an update; that case is replayed once, when the document exists.
func (s *Store) SetContext(ctx context.Context, key storage.Key, data storage.Document) (storage.EntityContext, error) {
	if err := key.Validate(); err != nil {
		return storage.EntityContext{}, err
	}
	if s == nil || s.collection == nil {
		return storage.EntityContext{}, storage.WrapStorageError("set_context", key, errors.New("storage is not configured"))
	}
	rawContext, err := json.Marshal(data)
	if err != nil {
		return storage.EntityContext{}, storage.WrapStorageError("set_context", key, err)
	}
	contextDoc, queryable, err := toBSON(data)
	if err != nil {
		return storage.EntityContext{}, storage.WrapStorageError("set_context", key, err)
	}
	recordID, err := s.newID()
	if err != nil {
		return storage.EntityContext{}, storage.WrapStorageError("set_context", key, err)
	}

	now := s.clock.Now()
	set := bson.D{{Key: fieldRawContext, Value: string(rawContext)}, {Key: fieldUpdatedAt, Value: now}}
	update := bson.D{}
	if queryable {
		set = append(set, bson.E{Key: fieldContext, Value: contextDoc})
	} else {
		update = append(update, bson.E{Key: "$unset", Value: bson.D{{Key: fieldContext, Value: ""}}})
	}
	update = append(update,
		bson.E{Key: "$set", Value: set},
		bson.E{Key: "$setOnInsert", Value: bson.D{{Key: fieldID, Value: recordID}, {Key: fieldCreatedAt, Value: now}}},
	)
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)

	var stored record
	err = s.collection.FindOneAndUpdate(ctx, keyFilter(key), update, opts).Decode(&stored)
	if mongo.IsDuplicateKeyError(err) {
		err = s.collection.FindOneAndUpdate(ctx, keyFilter(key), update, opts).Decode(&stored)
	}
	if err != nil {
		return storage.EntityContext{}, storage.WrapStorageError("set_context", key, err)
	}
	result, err := stored.toEntityContext()
	if err != nil {
		return storage.EntityContext{}, storage.WrapStorageError("set_context", key, err)
	}
	return result, nil
}

// GetContext returns the record for key, if any.
func (s *Store) GetContext(ctx context.Context, key storage.Key) (storage.EntityContext, bool, error) {
	if err := key.Validate(); err != nil {
		return storage.EntityContext{}, false, err
	}
	if s == nil || s.collection == nil {
		return storage.EntityContext{}, false, storage.WrapStorageError("get_context", key, errors.New("storage is not configured"))
	}
	var stored record
	err := s.collection.FindOne(ctx, keyFilter(key)).Decode(&stored)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return storage.EntityContext{}, false, nil
	}
	if err != nil {
		return storage.EntityContext{}, false, storage.WrapStorageError("get_context", key, err)
	}
	result, err := stored.toEntityContext()
	if err != nil {
		return storage.EntityContext{}, false, storage.WrapStorageError("get_context", key, err)
	}
	return result, true, nil
}

// ClearContext deletes the record for key.
func (s *Store) ClearContext(ctx context.Context, key storage.Key) (bool, error) {
	if err := key.Validate(); err != nil {
		return false, err
	}
	if s == nil || s.collection == nil {
		return false, storage.WrapStorageError("clear_context", key, errors.New("storage is not configured"))
	}
	result, err := s.collection.DeleteOne(ctx, keyFilter(key))
	if err != nil {
		return false, storage.WrapStorageError("clear_context", key, err)
	}
	return result.DeletedCount > 0, nil
}

// SearchContext pushes the structured filters and scalar predicates down to
// the server, then re-checks every predicate locally so object and array
// comparisons ignore key order the same way on every backend.
func (s *Store) SearchContext(ctx context.Context, query storage.ContextQuery) ([]storage.EntityContext, error) {
	if err := query.Validate(); err != nil {
		return nil, err
	}
	key := storage.Key{EntityType: query.EntityType, EntityID: query.EntityID, BudgetID: query.BudgetID}
	if s == nil || s.collection == nil {
		return nil, storage.WrapStorageError("search_context", key, errors.New("storage is not configured"))
	}
	filter, err := searchFilter(query)
	if err != nil {
		return nil, storage.WrapStorageError("search_context", key, err)
	}

	opts := options.Find().SetSort(bson.D{{Key: fieldCreatedAt, Value: 1}, {Key: fieldID, Value: 1}})
	cursor, err := s.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, storage.WrapStorageError("search_context", key, err)
	}
	defer cursor.Close(ctx)

	results := []storage.EntityContext{}
	for cursor.Next(ctx) {
		var stored record
		if err := cursor.Decode(&stored); err != nil {
			return nil, storage.WrapStorageError("search_context", key, err)
		}
		converted, err := stored.toEntityContext()
		if err != nil {
			return nil, storage.WrapStorageError("search_context", key, err)
		}
		if query.Matches(converted) {
			results = append(results, converted)
		}
	}
	if err := cursor.Err(); err != nil {
		return nil, storage.WrapStorageError("search_context", key, err)
	}
	return results, nil
}

// searchFilter narrows the scan with the structured filters and the scalar
// predicates on addressable paths. Records stored without a queryable copy
// of their context always pass the predicate part and are checked locally.
func searchFilter(query storage.ContextQuery) (bson.D, error) {
	filter := bson.D{}
	if query.EntityType != "" {
		filter = append(filter, bson.E{Key: fieldEntityType, Value: string(query.EntityType)})
	}
	if query.EntityID != "" {
		filter = append(filter, bson.E{Key: fieldEntityID, Value: query.EntityID})
	}
	if query.BudgetID != "" {
		filter = append(filter, bson.E{Key: fieldBudgetID, Value: query.BudgetID})
	}

	predicates := bson.D{}
	for _, field := range query.Fields {
		if !addressablePath(field.Path) {
			continue
		}
		value, scalar, err := scalarValue(field.Value)
		if err != nil {
			return nil, fmt.Errorf("predicate %s: %w", field.Path, err)
		}
		if !scalar {
			continue
		}
		predicates = append(predicates, bson.E{Key: fieldContext + "." + field.Path, Value: value})
	}
	if len(predicates) > 0 {
		filter = append(filter, bson.E{Key: "$or", Value: bson.A{
			bson.D{{Key: fieldContext, Value: bson.D{{Key: "$exists", Value: false}}}},
			predicates,
		}})
	}
	return filter, nil
}

// addressablePath reports whether every segment of path can be named in a
// server-side query.
func addressablePath(path string) bool {
	for _, segment := range strings.Split(path, ".") {
		if !addressableKey(segment) {
			return false
		}
	}
	return true
}

func addressableKey(key string) bool {
	return key != "" && !strings.HasPrefix(key, "$") && !strings.Contains(key, ".")
}

// scalarValue converts a JSON scalar into its BSON value. Objects and arrays
// report scalar=false.
func scalarValue(raw json.RawMessage) (any, bool, error) {
	trimmed := strings.TrimSpace(string(raw))
	if strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[") {
		return nil, false, nil
	}
	var wrapper bson.D
	if err := bson.UnmarshalExtJSON([]byte(`{"v":`+trimmed+`}`), false, &wrapper); err != nil {
		return nil, false, err
	}
	if len(wrapper) != 1 {
		return nil, false, fmt.Errorf("unexpected predicate value %s", trimmed)
	}
	return wrapper[0].Value, true, nil
}

// toBSON builds the queryable copy of doc, keeping field order. Keys are
// copied literally; queryable is false when some key could not be addressed
// by a query path, in which case only the raw JSON is stored.
func toBSON(doc storage.Document) (out bson.D, queryable bool, err error) {
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, false, fmt.Errorf("encode context: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	value, queryable, err := decodeBSONValue(dec)
	if err != nil {
		return nil, false, fmt.Errorf("convert context: %w", err)
	}
	out, ok := value.(bson.D)
	if !ok {
		return nil, false, errors.New("context must be a JSON object")
	}
	return out, queryable, nil
}

func decodeBSONValue(dec *json.Decoder) (any, bool, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, false, err
	}
	switch v := tok.(type) {
	case json.Delim:
		switch v {
		case '{':
			out := bson.D{}
			queryable := true
			for dec.More() {
				keyTok, err := dec.Token()
				if err != nil {
					return nil, false, err
				}
				key, ok := keyTok.(string)
				if !ok {
					return nil, false, fmt.Errorf("unexpected key %v", keyTok)
				}
				value, ok, err := decodeBSONValue(dec)
				if err != nil {
					return nil, false, err
				}
				queryable = queryable && ok && addressableKey(key)
				out = append(out, bson.E{Key: key, Value: value})
			}
			if _, err := dec.Token(); err != nil {
				return nil, false, err
			}
			return out, queryable, nil
		case '[':
			out := bson.A{}
			queryable := true
			for dec.More() {
				value, ok, err := decodeBSONValue(dec)
				if err != nil {
					return nil, false, err
				}
				queryable = queryable && ok
				out = append(out, value)
			}
			if _, err := dec.Token(); err != nil {
				return nil, false, err
			}
			return out, queryable, nil
		}
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return n, true, nil
		}
		f, err := v.Float64()
		if err != nil {
			// Out of double range; the raw JSON still holds it.
			return nil, false, nil
		}
		return f, true, nil
	case string, bool, nil:
		return v, true, nil
	}
	return nil, false, fmt.Errorf("unexpected token %v", tok)
}

// fromBSON reads records written before the raw JSON copy was stored.
func fromBSON(raw bson.Raw) (storage.Document, error) {
	if len(raw) == 0 {
		return storage.Document{}, nil
	}
	data, err := bson.MarshalExtJSON(raw, false, false)
	if err != nil {
		return nil, err
	}
	return storage.ParseDocument(data)
}

var _ storage.Store = (*Store)(nil)
