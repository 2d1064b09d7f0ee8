package domain

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/louisbranch/ledger.space/internal/platform/date"
	apperrors "github.com/louisbranch/ledger.space/internal/platform/errors"
	"github.com/louisbranch/ledger.space/internal/services/mcp/ledger"
	"github.com/louisbranch/ledger.space/internal/services/mcp/session"
	"github.com/louisbranch/ledger.space/internal/services/mcp/storage/sqlite"
)

// fakeLedger serves one budget ("b1") with canned data.
type fakeLedger struct {
	mu           sync.Mutex
	loads        []string
	budgets      []ledger.Budget
	accounts     []ledger.Account
	balances     map[string]map[date.Date]int64
	current      map[string]int64
	transactions []ledger.Transaction
	categories   []ledger.Category
	payees       []ledger.Payee
	accountsErr  error
	payeesErr    error
	balanceErr   error
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{
		budgets: []ledger.Budget{{ID: "b1", Name: "Home"}, {ID: "b2", Name: "Business"}},
		accounts: []ledger.Account{
			{ID: "a1", Name: "Checking"},
			{ID: "a2", Name: "Old savings", Closed: true},
		},
		current:  map[string]int64{"a1": 12345, "a2": 0},
		balances: map[string]map[date.Date]int64{},
		categories: []ledger.Category{
			{ID: "c1", Name: "Food", GroupID: "g1"},
		},
		payees: []ledger.Payee{{ID: "p1", Name: "Employer"}},
	}
}

func (f *fakeLedger) Init(context.Context, ledger.InitConfig) error { return nil }
func (f *fakeLedger) Shutdown(context.Context) error                 { return nil }

func (f *fakeLedger) LoadBudget(_ context.Context, budgetID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loads = append(f.loads, budgetID)
	for _, budget := range f.budgets {
		if budget.ID == budgetID {
			return nil
		}
	}
	return ledger.ErrNotFound
}

func (f *fakeLedger) ListBudgets(context.Context) ([]ledger.Budget, error) {
	return f.budgets, nil
}

func (f *fakeLedger) GetAccounts(context.Context) ([]ledger.Account, error) {
	return f.accounts, f.accountsErr
}

func (f *fakeLedger) GetAccountBalance(_ context.Context, accountID string, asOf *date.Date) (int64, error) {
	if f.balanceErr != nil {
		return 0, f.balanceErr
	}
	if asOf == nil {
		return f.current[accountID], nil
	}
	return f.balances[accountID][*asOf], nil
}

func (f *fakeLedger) GetTransactions(_ context.Context, accountID string, start, end date.Date) ([]ledger.Transaction, error) {
	var out []ledger.Transaction
	for _, tx := range f.transactions {
		if tx.AccountID == accountID && !tx.Date.Before(start) && tx.Date.Before(end) {
			out = append(out, tx)
		}
	}
	return out, nil
}

func (f *fakeLedger) GetCategories(context.Context) ([]ledger.Category, error) {
	return f.categories, nil
}

func (f *fakeLedger) GetPayees(context.Context) ([]ledger.Payee, error) {
	return f.payees, f.payeesErr
}

func (f *fakeLedger) loadCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.loads)
}

func newSessions(t *testing.T, client ledger.Client, defaultBudget string) *session.Manager {
	t.Helper()
	return session.NewManager(client, session.Config{
		ServerURL:       "http://ledger.test",
		DataDir:         filepath.Join(t.TempDir(), "data"),
		DefaultBudgetID: defaultBudget,
	})
}

func newStore(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.Open(context.Background(), filepath.Join(t.TempDir(), "annotations.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

// requireCode asserts err is a ToolError reporting code.
func requireCode(t *testing.T, err error, code apperrors.Code) *ToolError {
	t.Helper()
	var toolErr *ToolError
	if !errors.As(err, &toolErr) {
		t.Fatalf("expected ToolError, got %T (%v)", err, err)
	}
	if toolErr.Report.Code != code {
		t.Fatalf("expected code %s, got %s (%s)", code, toolErr.Report.Code, toolErr.Report.Message)
	}
	return toolErr
}
