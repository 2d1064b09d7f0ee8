package domain

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	apperrors "github.com/louisbranch/ledger.space/internal/platform/errors"
	"github.com/louisbranch/ledger.space/internal/platform/timeouts"
	"github.com/louisbranch/ledger.space/internal/services/mcp/session"
	"github.com/louisbranch/ledger.space/internal/services/mcp/storage"
)

const timestampFormat = "2006-01-02T15:04:05.000Z07:00"

// EntityContextKeyInput identifies one annotation.
type EntityContextKeyInput struct {
	EntityType string `json:"entity_type" jsonschema:"owner, account, budget, transaction, or category"`
	EntityID   string `json:"entity_id" jsonschema:"identifier of the annotated entity"`
	BudgetID   string `json:"budget_id,omitempty" jsonschema:"budget scope; defaults to the configured budget"`
}

// SetEntityContextInput represents the MCP tool input for storing an annotation.
type SetEntityContextInput struct {
	EntityType string           `json:"entity_type"`
	EntityID   string           `json:"entity_id"`
	BudgetID   string           `json:"budget_id,omitempty"`
	Context    storage.Document `json:"context"`
}

// EntityContextEntry is a stored annotation as returned to MCP clients.
type EntityContextEntry struct {
	ID         string `json:"id" jsonschema:"record identifier"`
	EntityType string `json:"entity_type" jsonschema:"annotated entity type"`
	EntityID   string `json:"entity_id" jsonschema:"annotated entity identifier"`
	BudgetID   string `json:"budget_id" jsonschema:"budget scope"`
	Context    any    `json:"context" jsonschema:"free-form context document"`
	CreatedAt  string `json:"created_at" jsonschema:"RFC3339 creation timestamp"`
	UpdatedAt  string `json:"updated_at" jsonschema:"RFC3339 last update timestamp"`
}

// SetEntityContextResult represents the MCP tool output for storing an annotation.
type SetEntityContextResult struct {
	Record EntityContextEntry `json:"record" jsonschema:"stored record"`
}

// SetEntityContextTool defines the MCP tool schema for storing an annotation.
// The context document is free-form, so the input schema is declared by hand.
func SetEntityContextTool() *mcp.Tool {
	entityTypes := make([]any, 0, len(storage.EntityTypes))
	for _, t := range storage.EntityTypes {
		entityTypes = append(entityTypes, string(t))
	}
	return &mcp.Tool{
		Name:        "set_entity_context",
		Description: "Stores free-form context for a ledger entity, replacing any previous context for the same entity and budget",
		InputSchema: &jsonschema.Schema{
			Type: "object",
			Properties: map[string]*jsonschema.Schema{
				"entity_type": {Type: "string", Enum: entityTypes, Description: "annotated entity type"},
				"entity_id":   {Type: "string", Description: "identifier of the annotated entity"},
				"budget_id":   {Type: "string", Description: "budget scope; defaults to the configured budget"},
				"context":     {Type: "object", Description: "context document stored as given"},
			},
			Required: []string{"entity_type", "entity_id", "context"},
		},
	}
}

// SetEntityContextHandler upserts an annotation.
func SetEntityContextHandler(sessions *session.Manager, store storage.ContextStore) mcp.ToolHandlerFor[SetEntityContextInput, SetEntityContextResult] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input SetEntityContextInput) (*mcp.CallToolResult, SetEntityContextResult, error) {
		const operation = "set_entity_context"
		call, err := newToolInvocation(ctx, timeouts.LedgerRequest)
		if err != nil {
			return nil, SetEntityContextResult{}, toolFailure(operation, fmt.Errorf("generate invocation id: %w", err))
		}
		defer call.Cancel()

		key, err := resolveKey(sessions, input.EntityType, input.EntityID, input.BudgetID)
		if err != nil {
			return nil, SetEntityContextResult{}, toolFailure(operation, err)
		}
		if input.Context == nil {
			return nil, SetEntityContextResult{}, toolFailure(operation, invalidArgument("context", "context is required"))
		}
		record, err := store.SetContext(call.RunCtx, key, input.Context)
		if err != nil {
			return nil, SetEntityContextResult{}, toolFailure(operation, err)
		}
		entry, err := entityContextEntry(record)
		if err != nil {
			return nil, SetEntityContextResult{}, toolFailure(operation, err)
		}
		return call.result(), SetEntityContextResult{Record: entry}, nil
	}
}

// GetEntityContextResult represents the MCP tool output for reading an annotation.
type GetEntityContextResult struct {
	Found  bool                `json:"found" jsonschema:"whether a record exists"`
	Record *EntityContextEntry `json:"record,omitempty" jsonschema:"stored record when found"`
}

// GetEntityContextTool defines the MCP tool schema for reading an annotation.
func GetEntityContextTool() *mcp.Tool {
	return &mcp.Tool{
		Name:        "get_entity_context",
		Description: "Reads the stored context for a ledger entity; found is false when none exists",
	}
}

// GetEntityContextHandler reads one annotation.
func GetEntityContextHandler(sessions *session.Manager, store storage.ContextStore) mcp.ToolHandlerFor[EntityContextKeyInput, GetEntityContextResult] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input EntityContextKeyInput) (*mcp.CallToolResult, GetEntityContextResult, error) {
		const operation = "get_entity_context"
		call, err := newToolInvocation(ctx, timeouts.LedgerRequest)
		if err != nil {
			return nil, GetEntityContextResult{}, toolFailure(operation, fmt.Errorf("generate invocation id: %w", err))
		}
		defer call.Cancel()

		key, err := resolveKey(sessions, input.EntityType, input.EntityID, input.BudgetID)
		if err != nil {
			return nil, GetEntityContextResult{}, toolFailure(operation, err)
		}
		record, found, err := store.GetContext(call.RunCtx, key)
		if err != nil {
			return nil, GetEntityContextResult{}, toolFailure(operation, err)
		}
		if !found {
			return call.result(), GetEntityContextResult{}, nil
		}
		entry, err := entityContextEntry(record)
		if err != nil {
			return nil, GetEntityContextResult{}, toolFailure(operation, err)
		}
		return call.result(), GetEntityContextResult{Found: true, Record: &entry}, nil
	}
}

// ClearEntityContextResult represents the MCP tool output for deleting an annotation.
type ClearEntityContextResult struct {
	Removed bool `json:"removed" jsonschema:"whether a record was deleted"`
}

// ClearEntityContextTool defines the MCP tool schema for deleting an annotation.
func ClearEntityContextTool() *mcp.Tool {
	return &mcp.Tool{
		Name:        "clear_entity_context",
		Description: "Deletes the stored context for a ledger entity; removed is false when none existed",
	}
}

// ClearEntityContextHandler deletes one annotation.
func ClearEntityContextHandler(sessions *session.Manager, store storage.ContextStore) mcp.ToolHandlerFor[EntityContextKeyInput, ClearEntityContextResult] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input EntityContextKeyInput) (*mcp.CallToolResult, ClearEntityContextResult, error) {
		const operation = "clear_entity_context"
		call, err := newToolInvocation(ctx, timeouts.LedgerRequest)
		if err != nil {
			return nil, ClearEntityContextResult{}, toolFailure(operation, fmt.Errorf("generate invocation id: %w", err))
		}
		defer call.Cancel()

		key, err := resolveKey(sessions, input.EntityType, input.EntityID, input.BudgetID)
		if err != nil {
			return nil, ClearEntityContextResult{}, toolFailure(operation, err)
		}
		removed, err := store.ClearContext(call.RunCtx, key)
		if err != nil {
			return nil, ClearEntityContextResult{}, toolFailure(operation, err)
		}
		return call.result(), ClearEntityContextResult{Removed: removed}, nil
	}
}

// ContextFieldFilter requires the context value at Path to equal Value.
type ContextFieldFilter struct {
	Path  string `json:"path" jsonschema:"dot-separated path into the context document"`
	Value any    `json:"value" jsonschema:"JSON value the field must equal; null also matches a missing field"`
}

// SearchEntityContextInput represents the MCP tool input for searching annotations.
type SearchEntityContextInput struct {
	EntityType string               `json:"entity_type,omitempty" jsonschema:"restrict to one entity type"`
	EntityID   string               `json:"entity_id,omitempty" jsonschema:"restrict to one entity"`
	BudgetID   string               `json:"budget_id,omitempty" jsonschema:"restrict to one budget"`
	Fields     []ContextFieldFilter `json:"fields,omitempty" jsonschema:"equality predicates on context fields"`
}

// SearchEntityContextResult represents the MCP tool output for searching annotations.
type SearchEntityContextResult struct {
	Records []EntityContextEntry `json:"records" jsonschema:"matching records, oldest first"`
}

// SearchEntityContextTool defines the MCP tool schema for searching annotations.
func SearchEntityContextTool() *mcp.Tool {
	return &mcp.Tool{
		Name:        "search_entity_context",
		Description: "Finds stored contexts by entity type, entity id, budget, and context field values",
	}
}

// SearchEntityContextHandler lists annotations matching the filters. Unlike
// the keyed tools, an omitted budget_id searches every budget.
func SearchEntityContextHandler(store storage.ContextStore) mcp.ToolHandlerFor[SearchEntityContextInput, SearchEntityContextResult] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input SearchEntityContextInput) (*mcp.CallToolResult, SearchEntityContextResult, error) {
		const operation = "search_entity_context"
		call, err := newToolInvocation(ctx, timeouts.LedgerRequest)
		if err != nil {
			return nil, SearchEntityContextResult{}, toolFailure(operation, fmt.Errorf("generate invocation id: %w", err))
		}
		defer call.Cancel()

		query, err := searchQuery(input)
		if err != nil {
			return nil, SearchEntityContextResult{}, toolFailure(operation, err)
		}
		records, err := store.SearchContext(call.RunCtx, query)
		if err != nil {
			return nil, SearchEntityContextResult{}, toolFailure(operation, err)
		}
		result := SearchEntityContextResult{Records: make([]EntityContextEntry, 0, len(records))}
		for _, record := range records {
			entry, err := entityContextEntry(record)
			if err != nil {
				return nil, SearchEntityContextResult{}, toolFailure(operation, err)
			}
			result.Records = append(result.Records, entry)
		}
		return call.result(), result, nil
	}
}

func searchQuery(input SearchEntityContextInput) (storage.ContextQuery, error) {
	query := storage.ContextQuery{
		EntityID: strings.TrimSpace(input.EntityID),
		BudgetID: strings.TrimSpace(input.BudgetID),
	}
	if strings.TrimSpace(input.EntityType) != "" {
		entityType, err := storage.ParseEntityType(input.EntityType)
		if err != nil {
			return storage.ContextQuery{}, err
		}
		query.EntityType = entityType
	}
	for _, field := range input.Fields {
		value, err := json.Marshal(field.Value)
		if err != nil {
			return storage.ContextQuery{}, apperrors.WrapWithMetadata(apperrors.CodeInvalidArgument,
				fmt.Sprintf("predicate value for %q is not JSON", field.Path),
				map[string]string{apperrors.MetaField: "fields"}, err)
		}
		query.Fields = append(query.Fields, storage.FieldPredicate{Path: strings.TrimSpace(field.Path), Value: value})
	}
	return query, query.Validate()
}

// resolveKey builds a storage key, falling back to the configured budget
// without touching the ledger.
func resolveKey(sessions *session.Manager, entityType, entityID, budgetID string) (storage.Key, error) {
	parsed, err := storage.ParseEntityType(entityType)
	if err != nil {
		return storage.Key{}, err
	}
	budget, err := sessions.ResolveBudgetID(budgetID)
	if err != nil {
		return storage.Key{}, err
	}
	key := storage.Key{EntityType: parsed, EntityID: strings.TrimSpace(entityID), BudgetID: budget}
	return key, key.Validate()
}

func entityContextEntry(record storage.EntityContext) (EntityContextEntry, error) {
	data, err := record.Context.MarshalJSON()
	if err != nil {
		return EntityContextEntry{}, fmt.Errorf("encode context: %w", err)
	}
	return EntityContextEntry{
		ID:         record.ID,
		EntityType: string(record.EntityType),
		EntityID:   record.EntityID,
		BudgetID:   record.BudgetID,
		Context:    json.RawMessage(data),
		CreatedAt:  formatTimestamp(record.CreatedAt),
		UpdatedAt:  formatTimestamp(record.UpdatedAt),
	}, nil
}

func formatTimestamp(t time.Time) string {
	return t.UTC().Format(timestampFormat)
}
