package domain

import (
	"context"
	"encoding/json"
	"testing"

	apperrors "github.com/louisbranch/ledger.space/internal/platform/errors"
	"github.com/louisbranch/ledger.space/internal/services/mcp/storage"
)

func TestSetEntityContextTool(t *testing.T) {
	tool := SetEntityContextTool()
	if tool.InputSchema == nil {
		t.Fatal("expected explicit input schema")
	}
	data, err := json.Marshal(tool.InputSchema)
	if err != nil {
		t.Fatalf("marshal schema: %v", err)
	}
	var schema struct {
		Required   []string                   `json:"required"`
		Properties map[string]json.RawMessage `json:"properties"`
	}
	if err := json.Unmarshal(data, &schema); err != nil {
		t.Fatalf("decode schema: %v", err)
	}
	if len(schema.Required) != 3 {
		t.Errorf("expected 3 required fields, got %v", schema.Required)
	}
	if _, ok := schema.Properties["context"]; !ok {
		t.Error("expected context property")
	}
}

func TestEntityContextHandlers(t *testing.T) {
	client := newFakeLedger()
	sessions := newSessions(t, client, "b1")
	store := newStore(t)
	set := SetEntityContextHandler(sessions, store)
	get := GetEntityContextHandler(sessions, store)
	clearTool := ClearEntityContextHandler(sessions, store)
	search := SearchEntityContextHandler(store)
	ctx := context.Background()

	_, first, err := set(ctx, nil, SetEntityContextInput{
		EntityType: "account",
		EntityID:   "a1",
		Context:    storage.MustParseDocument(`{"purpose":"bills","tags":["fixed","monthly"]}`),
	})
	if err != nil {
		t.Fatalf("set: %v", err)
	}
	if first.Record.BudgetID != "b1" {
		t.Errorf("expected default budget, got %q", first.Record.BudgetID)
	}
	if client.loadCount() != 0 {
		t.Errorf("annotation tools must not load budgets, got %d loads", client.loadCount())
	}

	_, second, err := set(ctx, nil, SetEntityContextInput{
		EntityType: "ACCOUNT",
		EntityID:   "a1",
		BudgetID:   "b1",
		Context:    storage.MustParseDocument(`{"purpose":"rent"}`),
	})
	if err != nil {
		t.Fatalf("second set: %v", err)
	}
	if second.Record.ID != first.Record.ID || second.Record.CreatedAt != first.Record.CreatedAt {
		t.Errorf("expected same record, got %+v then %+v", first.Record, second.Record)
	}

	t.Run("get returns last write", func(t *testing.T) {
		_, result, err := get(ctx, nil, EntityContextKeyInput{EntityType: "account", EntityID: "a1"})
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if !result.Found || result.Record == nil {
			t.Fatal("expected record")
		}
		if got := mustJSON(t, result.Record.Context); got != `{"purpose":"rent"}` {
			t.Errorf("context = %s", got)
		}
	})

	t.Run("get missing", func(t *testing.T) {
		_, result, err := get(ctx, nil, EntityContextKeyInput{EntityType: "account", EntityID: "a1", BudgetID: "b2"})
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if result.Found || result.Record != nil {
			t.Errorf("expected not found, got %+v", result)
		}
	})

	t.Run("search", func(t *testing.T) {
		if _, _, err := set(ctx, nil, SetEntityContextInput{
			EntityType: "category",
			EntityID:   "c1",
			BudgetID:   "b2",
			Context:    storage.MustParseDocument(`{"limits":{"monthly":250},"tags":["food"]}`),
		}); err != nil {
			t.Fatalf("seed: %v", err)
		}

		_, byBudget, err := search(ctx, nil, SearchEntityContextInput{BudgetID: "b2"})
		if err != nil {
			t.Fatalf("search: %v", err)
		}
		if len(byBudget.Records) != 1 || byBudget.Records[0].EntityID != "c1" {
			t.Errorf("unexpected budget search %+v", byBudget.Records)
		}

		_, byField, err := search(ctx, nil, SearchEntityContextInput{
			Fields: []ContextFieldFilter{{Path: "limits.monthly", Value: 250.0}, {Path: "tags", Value: "food"}},
		})
		if err != nil {
			t.Fatalf("search fields: %v", err)
		}
		if len(byField.Records) != 1 || byField.Records[0].EntityType != "category" {
			t.Errorf("unexpected field search %+v", byField.Records)
		}

		_, none, err := search(ctx, nil, SearchEntityContextInput{EntityType: "owner"})
		if err != nil {
			t.Fatalf("search owner: %v", err)
		}
		if none.Records == nil || len(none.Records) != 0 {
			t.Errorf("expected empty non-nil records, got %#v", none.Records)
		}
	})

	t.Run("clear once", func(t *testing.T) {
		_, removed, err := clearTool(ctx, nil, EntityContextKeyInput{EntityType: "account", EntityID: "a1"})
		if err != nil || !removed.Removed {
			t.Fatalf("expected removal, got %+v (%v)", removed, err)
		}
		_, again, err := clearTool(ctx, nil, EntityContextKeyInput{EntityType: "account", EntityID: "a1"})
		if err != nil || again.Removed {
			t.Fatalf("expected second clear to report false, got %+v (%v)", again, err)
		}
	})
}

func TestEntityContextHandlerErrors(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	t.Run("unknown entity type", func(t *testing.T) {
		handler := GetEntityContextHandler(newSessions(t, newFakeLedger(), "b1"), store)
		_, _, err := handler(ctx, nil, EntityContextKeyInput{EntityType: "ledger", EntityID: "x"})
		requireCode(t, err, apperrors.CodeInvalidArgument)
	})

	t.Run("no budget resolvable", func(t *testing.T) {
		handler := ClearEntityContextHandler(newSessions(t, newFakeLedger(), ""), store)
		_, _, err := handler(ctx, nil, EntityContextKeyInput{EntityType: "account", EntityID: "a1"})
		requireCode(t, err, apperrors.CodeConfig)
	})

	t.Run("missing context", func(t *testing.T) {
		handler := SetEntityContextHandler(newSessions(t, newFakeLedger(), "b1"), store)
		_, _, err := handler(ctx, nil, SetEntityContextInput{EntityType: "account", EntityID: "a1"})
		toolErr := requireCode(t, err, apperrors.CodeInvalidArgument)
		if toolErr.Report.Metadata[apperrors.MetaField] != "context" {
			t.Errorf("expected context field, got %v", toolErr.Report.Metadata)
		}
	})

	t.Run("bad predicate path", func(t *testing.T) {
		handler := SearchEntityContextHandler(store)
		_, _, err := handler(ctx, nil, SearchEntityContextInput{Fields: []ContextFieldFilter{{Path: "a..b", Value: 1}}})
		requireCode(t, err, apperrors.CodeInvalidArgument)
	})

	t.Run("closed store", func(t *testing.T) {
		closed := newStore(t)
		if err := closed.Close(); err != nil {
			t.Fatalf("close: %v", err)
		}
		handler := GetEntityContextHandler(newSessions(t, newFakeLedger(), "b1"), closed)
		_, _, err := handler(ctx, nil, EntityContextKeyInput{EntityType: "account", EntityID: "a1"})
		if err == nil {
			t.Fatal("expected error from closed store")
		}
	})
}
