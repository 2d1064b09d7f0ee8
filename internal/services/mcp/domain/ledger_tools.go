package domain

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"golang.org/x/sync/errgroup"

	"github.com/louisbranch/ledger.space/internal/platform/date"
	apperrors "github.com/louisbranch/ledger.space/internal/platform/errors"
	"github.com/louisbranch/ledger.space/internal/platform/timeouts"
	"github.com/louisbranch/ledger.space/internal/services/mcp/convert"
	"github.com/louisbranch/ledger.space/internal/services/mcp/ledger"
	"github.com/louisbranch/ledger.space/internal/services/mcp/session"
)

// balanceFanOut caps concurrent balance reads for one get_accounts call.
const balanceFanOut = 4

// GetAccountsInput represents the MCP tool input for listing accounts.
type GetAccountsInput struct {
	BudgetID      string `json:"budget_id,omitempty" jsonschema:"budget to read; defaults to the configured budget"`
	IncludeClosed bool   `json:"include_closed,omitempty" jsonschema:"include closed accounts"`
}

// GetAccountsResult represents the MCP tool output for listing accounts.
type GetAccountsResult struct {
	BudgetID string `json:"budget_id" jsonschema:"budget the accounts belong to"`
	Accounts any    `json:"accounts" jsonschema:"accounts with current balance in major units"`
}

// GetAccountsTool defines the MCP tool schema for listing accounts.
func GetAccountsTool() *mcp.Tool {
	return &mcp.Tool{
		Name:        "get_accounts",
		Description: "Lists accounts in the budget with their current balance",
	}
}

type accountWithBalance struct {
	ledger.Account
	Balance int64 `json:"balance"`
}

// GetAccountsHandler lists accounts and their current balances.
func GetAccountsHandler(sessions *session.Manager, client ledger.Client) mcp.ToolHandlerFor[GetAccountsInput, GetAccountsResult] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input GetAccountsInput) (*mcp.CallToolResult, GetAccountsResult, error) {
		const operation = "get_accounts"
		call, err := newToolInvocation(ctx, timeouts.LedgerLoad)
		if err != nil {
			return nil, GetAccountsResult{}, toolFailure(operation, fmt.Errorf("generate invocation id: %w", err))
		}
		defer call.Cancel()

		var result GetAccountsResult
		err = sessions.WithBudget(call.RunCtx, input.BudgetID, func(ctx context.Context, budgetID string) error {
			meta := map[string]string{apperrors.MetaBudgetID: budgetID}
			accounts, err := client.GetAccounts(ctx)
			if err != nil {
				return ledgerError(operation, meta, err)
			}

			selected := make([]accountWithBalance, 0, len(accounts))
			for _, account := range accounts {
				if account.Closed && !input.IncludeClosed {
					continue
				}
				selected = append(selected, accountWithBalance{Account: account})
			}

			group, groupCtx := errgroup.WithContext(ctx)
			group.SetLimit(balanceFanOut)
			for i := range selected {
				group.Go(func() error {
					balance, err := client.GetAccountBalance(groupCtx, selected[i].ID, nil)
					if err != nil {
						return ledgerError(operation, map[string]string{
							apperrors.MetaBudgetID:  budgetID,
							apperrors.MetaAccountID: selected[i].ID,
						}, err)
					}
					selected[i].Balance = balance
					return nil
				})
			}
			if err := group.Wait(); err != nil {
				return err
			}

			normalized, err := convert.Normalize(selected)
			if err != nil {
				return err
			}
			result = GetAccountsResult{BudgetID: budgetID, Accounts: normalized}
			return nil
		})
		if err != nil {
			return nil, GetAccountsResult{}, toolFailure(operation, err)
		}
		return call.result(), result, nil
	}
}

// GetTransactionsInput represents the MCP tool input for listing transactions.
type GetTransactionsInput struct {
	BudgetID  string `json:"budget_id,omitempty" jsonschema:"budget to read; defaults to the configured budget"`
	AccountID string `json:"account_id" jsonschema:"account identifier (required)"`
	StartDate string `json:"start_date" jsonschema:"first day included, YYYY-MM-DD"`
	EndDate   string `json:"end_date" jsonschema:"first day excluded, YYYY-MM-DD"`
}

// GetTransactionsResult represents the MCP tool output for listing transactions.
type GetTransactionsResult struct {
	BudgetID     string `json:"budget_id" jsonschema:"budget the account belongs to"`
	AccountID    string `json:"account_id" jsonschema:"account identifier"`
	StartDate    string `json:"start_date" jsonschema:"first day included"`
	EndDate      string `json:"end_date" jsonschema:"first day excluded"`
	Transactions any    `json:"transactions" jsonschema:"transactions with amounts in major units"`
}

// GetTransactionsTool defines the MCP tool schema for listing transactions.
func GetTransactionsTool() *mcp.Tool {
	return &mcp.Tool{
		Name:        "get_transactions",
		Description: "Lists an account's transactions dated from start_date up to but excluding end_date",
	}
}

// GetTransactionsHandler lists transactions for one account and date range.
func GetTransactionsHandler(sessions *session.Manager, client ledger.Client) mcp.ToolHandlerFor[GetTransactionsInput, GetTransactionsResult] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input GetTransactionsInput) (*mcp.CallToolResult, GetTransactionsResult, error) {
		const operation = "get_transactions"
		call, err := newToolInvocation(ctx, timeouts.LedgerLoad)
		if err != nil {
			return nil, GetTransactionsResult{}, toolFailure(operation, fmt.Errorf("generate invocation id: %w", err))
		}
		defer call.Cancel()

		accountID, start, end, err := parseAccountRange(input.AccountID, input.StartDate, input.EndDate)
		if err != nil {
			return nil, GetTransactionsResult{}, toolFailure(operation, err)
		}
		var result GetTransactionsResult
		err = sessions.WithBudget(call.RunCtx, input.BudgetID, func(ctx context.Context, budgetID string) error {
			meta := map[string]string{apperrors.MetaBudgetID: budgetID, apperrors.MetaAccountID: accountID}
			transactions, err := client.GetTransactions(ctx, accountID, start, end)
			if err != nil {
				return ledgerError(operation, meta, err)
			}
			normalized, err := convert.Normalize(nonNil(transactions))
			if err != nil {
				return err
			}
			result = GetTransactionsResult{
				BudgetID:     budgetID,
				AccountID:    accountID,
				StartDate:    start.String(),
				EndDate:      end.String(),
				Transactions: normalized,
			}
			return nil
		})
		if err != nil {
			return nil, GetTransactionsResult{}, toolFailure(operation, err)
		}
		return call.result(), result, nil
	}
}

// GetBudgetOverviewInput represents the MCP tool input for a budget overview.
type GetBudgetOverviewInput struct {
	BudgetID string `json:"budget_id,omitempty" jsonschema:"budget to read; defaults to the configured budget"`
}

// GetBudgetOverviewResult represents the MCP tool output for a budget overview.
type GetBudgetOverviewResult struct {
	BudgetID   string `json:"budget_id" jsonschema:"budget summarized"`
	Accounts   any    `json:"accounts" jsonschema:"accounts in the budget"`
	Categories any    `json:"categories" jsonschema:"budget categories"`
	Payees     any    `json:"payees" jsonschema:"payees"`
}

// GetBudgetOverviewTool defines the MCP tool schema for a budget overview.
func GetBudgetOverviewTool() *mcp.Tool {
	return &mcp.Tool{
		Name:        "get_budget_overview",
		Description: "Returns accounts, categories, and payees of the budget in one call",
	}
}

// GetBudgetOverviewHandler reads accounts, categories, and payees concurrently.
func GetBudgetOverviewHandler(sessions *session.Manager, client ledger.Client) mcp.ToolHandlerFor[GetBudgetOverviewInput, GetBudgetOverviewResult] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input GetBudgetOverviewInput) (*mcp.CallToolResult, GetBudgetOverviewResult, error) {
		const operation = "get_budget_overview"
		call, err := newToolInvocation(ctx, timeouts.LedgerLoad)
		if err != nil {
			return nil, GetBudgetOverviewResult{}, toolFailure(operation, fmt.Errorf("generate invocation id: %w", err))
		}
		defer call.Cancel()

		var (
			mu     sync.Mutex
			result GetBudgetOverviewResult
		)
		set := func(target *any, value any) error {
			normalized, err := convert.Normalize(value)
			if err != nil {
				return err
			}
			mu.Lock()
			*target = normalized
			mu.Unlock()
			return nil
		}

		err = sessions.WithBudget(call.RunCtx, input.BudgetID, func(ctx context.Context, budgetID string) error {
			result.BudgetID = budgetID
			meta := func() map[string]string { return map[string]string{apperrors.MetaBudgetID: budgetID} }

			group, groupCtx := errgroup.WithContext(ctx)
			group.Go(func() error {
				accounts, err := client.GetAccounts(groupCtx)
				if err != nil {
					return ledgerError(operation, meta(), err)
				}
				return set(&result.Accounts, nonNil(accounts))
			})
			group.Go(func() error {
				categories, err := client.GetCategories(groupCtx)
				if err != nil {
					return ledgerError(operation, meta(), err)
				}
				return set(&result.Categories, nonNil(categories))
			})
			group.Go(func() error {
				payees, err := client.GetPayees(groupCtx)
				if err != nil {
					return ledgerError(operation, meta(), err)
				}
				return set(&result.Payees, nonNil(payees))
			})
			return group.Wait()
		})
		if err != nil {
			return nil, GetBudgetOverviewResult{}, toolFailure(operation, err)
		}
		return call.result(), result, nil
	}
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}

// parseAccountRange validates an account id and a [start, end) date range.
func parseAccountRange(accountID, startDate, endDate string) (string, date.Date, date.Date, error) {
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return "", date.Date{}, date.Date{}, invalidArgument("account_id", "account_id is required")
	}
	start, err := date.Parse(strings.TrimSpace(startDate))
	if err != nil {
		return "", date.Date{}, date.Date{}, apperrors.WrapWithMetadata(apperrors.CodeInvalidArgument,
			"start_date is invalid", map[string]string{apperrors.MetaField: "start_date"}, err)
	}
	end, err := date.Parse(strings.TrimSpace(endDate))
	if err != nil {
		return "", date.Date{}, date.Date{}, apperrors.WrapWithMetadata(apperrors.CodeInvalidArgument,
			"end_date is invalid", map[string]string{apperrors.MetaField: "end_date"}, err)
	}
	if end.Before(start) {
		return "", date.Date{}, date.Date{}, invalidArgument("end_date",
			fmt.Sprintf("end_date %s is before start_date %s", end, start))
	}
	return accountID, start, end, nil
}

// ledgerError classifies a ledger read failure. Unknown budgets and accounts
// become NOT_FOUND; everything else is a connection problem.
func ledgerError(operation string, meta map[string]string, err error) error {
	var domainErr *apperrors.Error
	if errors.As(err, &domainErr) {
		return err
	}
	if meta == nil {
		meta = map[string]string{}
	}
	meta[apperrors.MetaOperation] = operation
	code := apperrors.CodeConnection
	if errors.Is(err, ledger.ErrNotFound) {
		code = apperrors.CodeNotFound
	}
	return apperrors.WrapWithMetadata(code, operation+" failed", meta, err)
}
