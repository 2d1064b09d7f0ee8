package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"

	"github.com/louisbranch/ledger.space/internal/platform/date"
)

const (
	apiKeyHeader  = "x-api-key"
	maxErrorBytes = 512
)

// HTTPClient talks to a ledger REST bridge that serves budgets under
// /v1/budgets/{budget}. Responses are wrapped as {"data": ...}.
type HTTPClient struct {
	httpClient *http.Client

	mu         sync.RWMutex
	baseURL    *url.URL
	credential string
	budgetID   string
}

// NewHTTPClient builds a client using httpClient (http.DefaultClient when nil).
// It is unusable until Init succeeds.
func NewHTTPClient(httpClient *http.Client) *HTTPClient {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &HTTPClient{httpClient: httpClient}
}

// Init records connection settings and verifies the bridge accepts the
// credential. The bridge keeps budget files on its side; DataDir is only
// checked to exist so a misconfigured working directory fails early.
func (c *HTTPClient) Init(ctx context.Context, cfg InitConfig) error {
	serverURL := strings.TrimSpace(cfg.ServerURL)
	if serverURL == "" {
		return fmt.Errorf("server url is required")
	}
	base, err := url.Parse(serverURL)
	if err != nil {
		return fmt.Errorf("parse server url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return fmt.Errorf("server url %q must be absolute", serverURL)
	}
	if cfg.DataDir != "" {
		info, err := os.Stat(cfg.DataDir)
		if err != nil {
			return fmt.Errorf("stat data dir: %w", err)
		}
		if !info.IsDir() {
			return fmt.Errorf("data dir %q is not a directory", cfg.DataDir)
		}
	}

	c.mu.Lock()
	c.baseURL = base
	c.credential = cfg.Credential
	c.budgetID = ""
	c.mu.Unlock()

	if _, err := c.ListBudgets(ctx); err != nil {
		c.reset()
		return fmt.Errorf("probe ledger: %w", err)
	}
	return nil
}

// Shutdown forgets the connection and releases idle HTTP connections.
func (c *HTTPClient) Shutdown(context.Context) error {
	c.reset()
	c.httpClient.CloseIdleConnections()
	return nil
}

func (c *HTTPClient) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.baseURL = nil
	c.credential = ""
	c.budgetID = ""
}

// LoadBudget asks the bridge to open budgetID and makes it the target of
// budget-scoped reads. The previous budget stays current if this fails.
func (c *HTTPClient) LoadBudget(ctx context.Context, budgetID string) error {
	budgetID = strings.TrimSpace(budgetID)
	if budgetID == "" {
		return fmt.Errorf("budget id is required")
	}
	var accounts []accountWire
	if err := c.get(ctx, []string{"budgets", budgetID, "accounts"}, nil, &accounts); err != nil {
		return fmt.Errorf("load budget %s: %w", budgetID, err)
	}
	c.mu.Lock()
	c.budgetID = budgetID
	c.mu.Unlock()
	return nil
}

// ListBudgets returns the budgets the bridge can serve.
func (c *HTTPClient) ListBudgets(ctx context.Context) ([]Budget, error) {
	var wire []budgetWire
	if err := c.get(ctx, []string{"budgets"}, nil, &wire); err != nil {
		return nil, fmt.Errorf("list budgets: %w", err)
	}
	budgets := make([]Budget, 0, len(wire))
	for _, b := range wire {
		id := b.GroupID
		if id == "" {
			id = b.ID
		}
		budgets = append(budgets, Budget{ID: id, Name: b.Name})
	}
	return budgets, nil
}

// GetAccounts lists accounts in the loaded budget.
func (c *HTTPClient) GetAccounts(ctx context.Context) ([]Account, error) {
	var wire []accountWire
	if err := c.getBudget(ctx, []string{"accounts"}, nil, &wire); err != nil {
		return nil, fmt.Errorf("get accounts: %w", err)
	}
	accounts := make([]Account, 0, len(wire))
	for _, a := range wire {
		accounts = append(accounts, Account{ID: a.ID, Name: a.Name, OffBudget: a.OffBudget, Closed: a.Closed})
	}
	return accounts, nil
}

// GetAccountBalance returns the balance at the end of asOf (current when nil).
func (c *HTTPClient) GetAccountBalance(ctx context.Context, accountID string, asOf *date.Date) (int64, error) {
	query := url.Values{}
	if asOf != nil {
		query.Set("cutoff_date", asOf.String())
	}
	var balance int64
	if err := c.getBudget(ctx, []string{"accounts", accountID, "balance"}, query, &balance); err != nil {
		return 0, fmt.Errorf("get balance for account %s: %w", accountID, err)
	}
	return balance, nil
}

// GetTransactions returns transactions dated in [start, end). The bridge's
// until_date is inclusive, so the request asks for end minus one day.
func (c *HTTPClient) GetTransactions(ctx context.Context, accountID string, start, end date.Date) ([]Transaction, error) {
	if !start.Before(end) {
		return []Transaction{}, nil
	}
	query := url.Values{}
	query.Set("since_date", start.String())
	query.Set("until_date", end.Add(-1).String())
	var wire []transactionWire
	if err := c.getBudget(ctx, []string{"accounts", accountID, "transactions"}, query, &wire); err != nil {
		return nil, fmt.Errorf("get transactions for account %s: %w", accountID, err)
	}
	transactions := make([]Transaction, 0, len(wire))
	for _, tx := range wire {
		converted, err := tx.toTransaction(accountID)
		if err != nil {
			return nil, err
		}
		transactions = append(transactions, converted)
	}
	return transactions, nil
}

// GetCategories lists budget categories.
func (c *HTTPClient) GetCategories(ctx context.Context) ([]Category, error) {
	var wire []categoryWire
	if err := c.getBudget(ctx, []string{"categories"}, nil, &wire); err != nil {
		return nil, fmt.Errorf("get categories: %w", err)
	}
	categories := make([]Category, 0, len(wire))
	for _, cat := range wire {
		categories = append(categories, Category{ID: cat.ID, Name: cat.Name, GroupID: cat.GroupID, IsIncome: cat.IsIncome})
	}
	return categories, nil
}

// GetPayees lists payees.
func (c *HTTPClient) GetPayees(ctx context.Context) ([]Payee, error) {
	var wire []payeeWire
	if err := c.getBudget(ctx, []string{"payees"}, nil, &wire); err != nil {
		return nil, fmt.Errorf("get payees: %w", err)
	}
	payees := make([]Payee, 0, len(wire))
	for _, p := range wire {
		payees = append(payees, Payee{ID: p.ID, Name: p.Name, TransferAccount: p.TransferAccount})
	}
	return payees, nil
}

func (c *HTTPClient) getBudget(ctx context.Context, segments []string, query url.Values, out any) error {
	c.mu.RLock()
	budgetID := c.budgetID
	c.mu.RUnlock()
	if budgetID == "" {
		return ErrNoBudget
	}
	return c.get(ctx, append([]string{"budgets", budgetID}, segments...), query, out)
}

func (c *HTTPClient) get(ctx context.Context, segments []string, query url.Values, out any) error {
	c.mu.RLock()
	base := c.baseURL
	credential := c.credential
	c.mu.RUnlock()
	if base == nil {
		return ErrNotInitialized
	}

	escaped := make([]string, 0, len(segments)+1)
	escaped = append(escaped, "v1")
	for _, segment := range segments {
		escaped = append(escaped, url.PathEscape(segment))
	}
	endpoint := base.JoinPath(escaped...)
	endpoint.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if credential != "" {
		req.Header.Set(apiKeyHeader, credential)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case resp.StatusCode >= 300:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBytes))
		return fmt.Errorf("ledger responded %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}

	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if out == nil || len(envelope.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(envelope.Data, out); err != nil {
		return fmt.Errorf("decode data: %w", err)
	}
	return nil
}

type budgetWire struct {
	ID      string `json:"id"`
	GroupID string `json:"groupId"`
	Name    string `json:"name"`
}

type accountWire struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	OffBudget bool   `json:"offbudget"`
	Closed    bool   `json:"closed"`
}

type transactionWire struct {
	ID              string            `json:"id"`
	Account         string            `json:"account"`
	Date            string            `json:"date"`
	Amount          int64             `json:"amount"`
	Payee           string            `json:"payee"`
	Category        string            `json:"category"`
	Notes           string            `json:"notes"`
	Cleared         bool              `json:"cleared"`
	Subtransactions []transactionWire `json:"subtransactions"`
}

func (w transactionWire) toTransaction(accountID string) (Transaction, error) {
	on, err := date.Parse(w.Date)
	if err != nil {
		return Transaction{}, fmt.Errorf("transaction %s: %w", w.ID, err)
	}
	if w.Account != "" {
		accountID = w.Account
	}
	tx := Transaction{
		ID:         w.ID,
		AccountID:  accountID,
		Date:       on,
		Amount:     w.Amount,
		PayeeID:    w.Payee,
		CategoryID: w.Category,
		Notes:      w.Notes,
		Cleared:    w.Cleared,
	}
	for _, sub := range w.Subtransactions {
		if sub.Date == "" {
			sub.Date = w.Date
		}
		converted, err := sub.toTransaction(accountID)
		if err != nil {
			return Transaction{}, err
		}
		tx.Subtransactions = append(tx.Subtransactions, converted)
	}
	return tx, nil
}

type categoryWire struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	GroupID  string `json:"group_id"`
	IsIncome bool   `json:"is_income"`
}

type payeeWire struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	TransferAccount string `json:"transfer_acct"`
}

var _ Client = (*HTTPClient)(nil)
