package ledger

import (
	"context"
	"errors"

	"github.com/louisbranch/ledger.space/internal/platform/date"
)

var (
	// ErrNotFound indicates the ledger has no such budget or account.
	ErrNotFound = errors.New("ledger: not found")
	// ErrNotInitialized indicates a call before Init or after Shutdown.
	ErrNotInitialized = errors.New("ledger: client not initialized")
	// ErrNoBudget indicates a budget-scoped call before any LoadBudget succeeded.
	ErrNoBudget = errors.New("ledger: no budget loaded")
)

// InitConfig carries the opaque connection settings for Init.
type InitConfig struct {
	ServerURL  string
	Credential string
	DataDir    string
}

// Client is the ledger surface consumed by the session manager, the balance
// projector, and the read tools. Budget-scoped reads apply to the budget most
// recently loaded with LoadBudget.
type Client interface {
	Init(ctx context.Context, cfg InitConfig) error
	Shutdown(ctx context.Context) error
	LoadBudget(ctx context.Context, budgetID string) error

	ListBudgets(ctx context.Context) ([]Budget, error)
	GetAccounts(ctx context.Context) ([]Account, error)
	// GetAccountBalance returns the end-of-day balance on asOf, or the current
	// balance when asOf is nil.
	GetAccountBalance(ctx context.Context, accountID string, asOf *date.Date) (int64, error)
	// GetTransactions returns the account's transactions dated in [start, end).
	GetTransactions(ctx context.Context, accountID string, start, end date.Date) ([]Transaction, error)
	GetCategories(ctx context.Context) ([]Category, error)
	GetPayees(ctx context.Context) ([]Payee, error)
}

// Budget is a named ledger dataset.
type Budget struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Account is a ledger account.
type Account struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	OffBudget bool   `json:"off_budget"`
	Closed    bool   `json:"closed"`
}

// Transaction is one ledger entry. Amount is signed minor units: credits are
// positive, debits negative.
type Transaction struct {
	ID              string        `json:"id"`
	AccountID       string        `json:"account_id"`
	Date            date.Date     `json:"date"`
	Amount          int64         `json:"amount"`
	PayeeID         string        `json:"payee_id,omitempty"`
	CategoryID      string        `json:"category_id,omitempty"`
	Notes           string        `json:"notes,omitempty"`
	Cleared         bool          `json:"cleared"`
	Subtransactions []Transaction `json:"subtransactions,omitempty"`
}

// Category is a budget category.
type Category struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	GroupID  string `json:"group_id,omitempty"`
	IsIncome bool   `json:"is_income"`
}

// Payee is a transaction counterparty.
type Payee struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	TransferAccount string `json:"transfer_account,omitempty"`
}

// FindAccount returns the account with id from accounts.
func FindAccount(accounts []Account, id string) (Account, bool) {
	for _, account := range accounts {
		if account.ID == id {
			return account, true
		}
	}
	return Account{}, false
}
