package domain

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/louisbranch/ledger.space/internal/platform/timeouts"
	"github.com/louisbranch/ledger.space/internal/services/mcp/balance"
	"github.com/louisbranch/ledger.space/internal/services/mcp/convert"
	"github.com/louisbranch/ledger.space/internal/services/mcp/session"
)

// BalanceHistoryInput represents the MCP tool input for balance history.
type BalanceHistoryInput struct {
	BudgetID  string `json:"budget_id,omitempty" jsonschema:"budget to read; defaults to the configured budget"`
	AccountID string `json:"account_id" jsonschema:"account identifier (required)"`
	StartDate string `json:"start_date" jsonschema:"first day included, YYYY-MM-DD"`
	EndDate   string `json:"end_date" jsonschema:"first day excluded, YYYY-MM-DD"`
}

// BalanceHistoryEntry is one day of balance history in major units.
type BalanceHistoryEntry struct {
	Date                           string  `json:"date" jsonschema:"calendar day, YYYY-MM-DD"`
	EndOfDayBalance                float64 `json:"end_of_day_balance" jsonschema:"balance after every transaction of the day"`
	TheoreticalPeakIntradayBalance float64 `json:"theoretical_peak_intraday_balance" jsonschema:"previous close plus the day's credits"`
}

// BalanceHistoryResult represents the MCP tool output for balance history.
type BalanceHistoryResult struct {
	BudgetID  string                `json:"budget_id" jsonschema:"budget the account belongs to"`
	AccountID string                `json:"account_id" jsonschema:"account identifier"`
	History   []BalanceHistoryEntry `json:"history" jsonschema:"one entry per day in [start_date, end_date)"`
	Note      string                `json:"note" jsonschema:"how to read the theoretical peak"`
}

// BalanceHistoryTool defines the MCP tool schema for balance history.
func BalanceHistoryTool() *mcp.Tool {
	return &mcp.Tool{
		Name:        "get_account_balance_history",
		Description: "Returns end-of-day and theoretical peak intraday balances for each day from start_date up to but excluding end_date",
	}
}

// BalanceHistoryHandler projects day-level balance history for an account.
func BalanceHistoryHandler(sessions *session.Manager, projector *balance.Projector) mcp.ToolHandlerFor[BalanceHistoryInput, BalanceHistoryResult] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input BalanceHistoryInput) (*mcp.CallToolResult, BalanceHistoryResult, error) {
		const operation = "get_account_balance_history"
		call, err := newToolInvocation(ctx, timeouts.ToolCall)
		if err != nil {
			return nil, BalanceHistoryResult{}, toolFailure(operation, fmt.Errorf("generate invocation id: %w", err))
		}
		defer call.Cancel()

		accountID, start, end, err := parseAccountRange(input.AccountID, input.StartDate, input.EndDate)
		if err != nil {
			return nil, BalanceHistoryResult{}, toolFailure(operation, err)
		}
		var result BalanceHistoryResult
		err = sessions.WithBudget(call.RunCtx, input.BudgetID, func(ctx context.Context, budgetID string) error {
			points, err := projector.History(ctx, accountID, start, end)
			if err != nil {
				return err
			}
			history := make([]BalanceHistoryEntry, 0, len(points))
			for _, point := range points {
				history = append(history, BalanceHistoryEntry{
					Date:                           point.Date.String(),
					EndOfDayBalance:                convert.MinorToMajor(point.EndOfDayBalance),
					TheoreticalPeakIntradayBalance: convert.MinorToMajor(point.TheoreticalPeakIntradayBalance),
				})
			}
			result = BalanceHistoryResult{
				BudgetID:  budgetID,
				AccountID: accountID,
				History:   history,
				Note:      balance.PeakNote,
			}
			return nil
		})
		if err != nil {
			return nil, BalanceHistoryResult{}, toolFailure(operation, err)
		}
		return call.result(), result, nil
	}
}
