package domain

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/louisbranch/ledger.space/internal/platform/timeouts"
	"github.com/louisbranch/ledger.space/internal/services/mcp/ledger"
	"github.com/louisbranch/ledger.space/internal/services/mcp/session"
)

// SessionResourceURI addresses the current session snapshot.
const SessionResourceURI = "session://current"

// LoadBudgetInput represents the MCP tool input for loading a budget.
type LoadBudgetInput struct {
	BudgetID string `json:"budget_id,omitempty" jsonschema:"budget to load; defaults to the configured budget"`
}

// LoadBudgetResult represents the MCP tool output for loading a budget.
type LoadBudgetResult struct {
	BudgetID string `json:"budget_id" jsonschema:"budget now active for ledger reads"`
}

// LoadBudgetTool defines the MCP tool schema for loading a budget.
func LoadBudgetTool() *mcp.Tool {
	return &mcp.Tool{
		Name:        "load_budget",
		Description: "Makes a budget the active one for ledger reads. Reloading the active budget is a no-op",
	}
}

// LoadBudgetHandler switches the session to the requested budget.
func LoadBudgetHandler(sessions *session.Manager, notify ResourceUpdateNotifier) mcp.ToolHandlerFor[LoadBudgetInput, LoadBudgetResult] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input LoadBudgetInput) (*mcp.CallToolResult, LoadBudgetResult, error) {
		const operation = "load_budget"
		call, err := newToolInvocation(ctx, timeouts.LedgerLoad)
		if err != nil {
			return nil, LoadBudgetResult{}, toolFailure(operation, fmt.Errorf("generate invocation id: %w", err))
		}
		defer call.Cancel()

		budgetID, err := sessions.EnsureBudgetLoaded(call.RunCtx, input.BudgetID)
		if err != nil {
			return nil, LoadBudgetResult{}, toolFailure(operation, err)
		}
		NotifyResourceUpdates(ctx, notify, SessionResourceURI)
		return call.result(), LoadBudgetResult{BudgetID: budgetID}, nil
	}
}

// ListBudgetsInput represents the MCP tool input for listing budgets.
type ListBudgetsInput struct{}

// BudgetEntry is one budget the ledger can serve.
type BudgetEntry struct {
	ID   string `json:"id" jsonschema:"budget identifier"`
	Name string `json:"name" jsonschema:"budget display name"`
}

// ListBudgetsResult represents the MCP tool output for listing budgets.
type ListBudgetsResult struct {
	Budgets []BudgetEntry `json:"budgets" jsonschema:"budgets available on the ledger"`
}

// ListBudgetsTool defines the MCP tool schema for listing budgets.
func ListBudgetsTool() *mcp.Tool {
	return &mcp.Tool{
		Name:        "list_budgets",
		Description: "Lists the budgets available on the ledger server",
	}
}

// ListBudgetsHandler lists budgets; it needs a connection but no loaded budget.
func ListBudgetsHandler(sessions *session.Manager, client ledger.Client) mcp.ToolHandlerFor[ListBudgetsInput, ListBudgetsResult] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, _ ListBudgetsInput) (*mcp.CallToolResult, ListBudgetsResult, error) {
		const operation = "list_budgets"
		call, err := newToolInvocation(ctx, timeouts.LedgerRequest)
		if err != nil {
			return nil, ListBudgetsResult{}, toolFailure(operation, fmt.Errorf("generate invocation id: %w", err))
		}
		defer call.Cancel()

		if err := sessions.EnsureConnection(call.RunCtx); err != nil {
			return nil, ListBudgetsResult{}, toolFailure(operation, err)
		}
		budgets, err := client.ListBudgets(call.RunCtx)
		if err != nil {
			return nil, ListBudgetsResult{}, toolFailure(operation, ledgerError(operation, nil, err))
		}
		result := ListBudgetsResult{Budgets: make([]BudgetEntry, 0, len(budgets))}
		for _, budget := range budgets {
			result.Budgets = append(result.Budgets, BudgetEntry{ID: budget.ID, Name: budget.Name})
		}
		return call.result(), result, nil
	}
}

// SessionResourcePayload represents the MCP resource payload for the session.
type SessionResourcePayload struct {
	Session struct {
		Phase    string  `json:"phase"`
		BudgetID *string `json:"budget_id"`
	} `json:"session"`
}

// SessionResource defines the MCP resource for the current session.
func SessionResource() *mcp.Resource {
	return &mcp.Resource{
		Name:        "session_current",
		Title:       "Current Session",
		Description: "Readable ledger session state (phase and active budget_id)",
		MIMEType:    "application/json",
		URI:         SessionResourceURI,
	}
}

// SessionResourceHandler returns a readable current session resource.
func SessionResourceHandler(sessions *session.Manager) mcp.ResourceHandler {
	return func(ctx context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
		if sessions == nil {
			return nil, fmt.Errorf("session manager is not configured")
		}

		uri := SessionResourceURI
		if req != nil && req.Params != nil && req.Params.URI != "" {
			uri = req.Params.URI
		}
		if uri != SessionResourceURI {
			return nil, fmt.Errorf("invalid URI: expected %s, got %q", SessionResourceURI, uri)
		}

		state, err := sessions.Status(ctx)
		if err != nil {
			return nil, fmt.Errorf("read session: %w", err)
		}
		payload := SessionResourcePayload{}
		payload.Session.Phase = state.Phase.String()
		if state.BudgetID != "" {
			payload.Session.BudgetID = &state.BudgetID
		}

		data, err := json.MarshalIndent(payload, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("marshal session: %w", err)
		}
		return &mcp.ReadResourceResult{
			Contents: []*mcp.ResourceContents{
				{
					URI:      uri,
					MIMEType: "application/json",
					Text:     string(data),
				},
			},
		}, nil
	}
}
