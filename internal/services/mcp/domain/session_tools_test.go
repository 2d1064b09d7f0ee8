package domain

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	apperrors "github.com/louisbranch/ledger.space/internal/platform/errors"
)

func TestLoadBudgetHandler(t *testing.T) {
	t.Run("loads once and notifies", func(t *testing.T) {
		client := newFakeLedger()
		var notified []string
		notify := func(_ context.Context, uri string) { notified = append(notified, uri) }
		handler := LoadBudgetHandler(newSessions(t, client, "b1"), notify)

		for range 2 {
			_, result, err := handler(context.Background(), nil, LoadBudgetInput{})
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if result.BudgetID != "b1" {
				t.Errorf("expected b1, got %q", result.BudgetID)
			}
		}
		if client.loadCount() != 1 {
			t.Errorf("expected one ledger load, got %d", client.loadCount())
		}
		if len(notified) != 2 || notified[0] != SessionResourceURI {
			t.Errorf("unexpected notifications %v", notified)
		}
	})

	t.Run("switch failure", func(t *testing.T) {
		client := newFakeLedger()
		sessions := newSessions(t, client, "b1")
		handler := LoadBudgetHandler(sessions, nil)
		if _, _, err := handler(context.Background(), nil, LoadBudgetInput{}); err != nil {
			t.Fatalf("initial load: %v", err)
		}
		_, _, err := handler(context.Background(), nil, LoadBudgetInput{BudgetID: "gone"})
		requireCode(t, err, apperrors.CodeConnection)

		state, err := sessions.Status(context.Background())
		if err != nil {
			t.Fatalf("status: %v", err)
		}
		if state.BudgetID != "" {
			t.Errorf("expected no active budget after failed switch, got %q", state.BudgetID)
		}
	})
}

func TestListBudgetsHandler(t *testing.T) {
	client := newFakeLedger()
	handler := ListBudgetsHandler(newSessions(t, client, ""), client)
	_, result, err := handler(context.Background(), nil, ListBudgetsInput{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Budgets) != 2 || result.Budgets[1].Name != "Business" {
		t.Errorf("unexpected budgets %+v", result.Budgets)
	}
	if client.loadCount() != 0 {
		t.Errorf("listing budgets must not load one, got %d loads", client.loadCount())
	}
}

func TestSessionResourceHandler(t *testing.T) {
	client := newFakeLedger()
	sessions := newSessions(t, client, "b1")
	handler := SessionResourceHandler(sessions)

	read := func() SessionResourcePayload {
		t.Helper()
		result, err := handler(context.Background(), &mcp.ReadResourceRequest{
			Params: &mcp.ReadResourceParams{URI: SessionResourceURI},
		})
		if err != nil {
			t.Fatalf("read resource: %v", err)
		}
		var payload SessionResourcePayload
		if err := json.Unmarshal([]byte(result.Contents[0].Text), &payload); err != nil {
			t.Fatalf("decode payload: %v", err)
		}
		return payload
	}

	before := read()
	if before.Session.Phase != "uninitialized" || before.Session.BudgetID != nil {
		t.Errorf("unexpected initial session %+v", before.Session)
	}

	if _, err := sessions.EnsureBudgetLoaded(context.Background(), ""); err != nil {
		t.Fatalf("load: %v", err)
	}
	after := read()
	if after.Session.Phase != "ready" || after.Session.BudgetID == nil || *after.Session.BudgetID != "b1" {
		t.Errorf("unexpected loaded session %+v", after.Session)
	}

	_, err := handler(context.Background(), &mcp.ReadResourceRequest{
		Params: &mcp.ReadResourceParams{URI: "session://other"},
	})
	if err == nil {
		t.Error("expected error for unknown uri")
	}
}
