package domain

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/louisbranch/ledger.space/internal/platform/date"
	apperrors "github.com/louisbranch/ledger.space/internal/platform/errors"
	"github.com/louisbranch/ledger.space/internal/services/mcp/ledger"
)

func mustJSON(t *testing.T, v any) string {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return string(data)
}

func TestGetAccountsHandler(t *testing.T) {
	t.Run("open accounts with major unit balances", func(t *testing.T) {
		client := newFakeLedger()
		handler := GetAccountsHandler(newSessions(t, client, "b1"), client)
		toolResult, result, err := handler(context.Background(), nil, GetAccountsInput{})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if toolResult == nil || toolResult.Meta[InvocationIDMetaKey] == "" {
			t.Fatal("expected invocation id in result metadata")
		}
		if result.BudgetID != "b1" {
			t.Errorf("expected budget b1, got %q", result.BudgetID)
		}
		got := mustJSON(t, result.Accounts)
		want := `[{"balance":123.45,"closed":false,"id":"a1","name":"Checking","off_budget":false}]`
		if got != want {
			t.Errorf("accounts = %s, want %s", got, want)
		}
	})

	t.Run("include closed", func(t *testing.T) {
		client := newFakeLedger()
		handler := GetAccountsHandler(newSessions(t, client, "b1"), client)
		_, result, err := handler(context.Background(), nil, GetAccountsInput{IncludeClosed: true})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !strings.Contains(mustJSON(t, result.Accounts), `"id":"a2"`) {
			t.Errorf("expected closed account a2 in %s", mustJSON(t, result.Accounts))
		}
	})

	t.Run("no budget configured", func(t *testing.T) {
		client := newFakeLedger()
		handler := GetAccountsHandler(newSessions(t, client, ""), client)
		_, _, err := handler(context.Background(), nil, GetAccountsInput{})
		requireCode(t, err, apperrors.CodeConfig)
		if client.loadCount() != 0 {
			t.Fatalf("expected no budget load, got %d", client.loadCount())
		}
	})

	t.Run("unknown budget", func(t *testing.T) {
		client := newFakeLedger()
		handler := GetAccountsHandler(newSessions(t, client, ""), client)
		_, _, err := handler(context.Background(), nil, GetAccountsInput{BudgetID: "missing"})
		toolErr := requireCode(t, err, apperrors.CodeConnection)
		if toolErr.Report.Metadata[apperrors.MetaBudgetID] != "missing" {
			t.Errorf("expected attempted budget id in metadata, got %v", toolErr.Report.Metadata)
		}
	})

	t.Run("balance failure", func(t *testing.T) {
		client := newFakeLedger()
		client.balanceErr = errors.New("bridge down")
		handler := GetAccountsHandler(newSessions(t, client, "b1"), client)
		_, _, err := handler(context.Background(), nil, GetAccountsInput{})
		toolErr := requireCode(t, err, apperrors.CodeConnection)
		if toolErr.Report.Metadata[apperrors.MetaAccountID] != "a1" {
			t.Errorf("expected account id in metadata, got %v", toolErr.Report.Metadata)
		}
	})
}

func TestGetTransactionsHandler(t *testing.T) {
	client := newFakeLedger()
	client.transactions = []ledger.Transaction{
		{ID: "t1", AccountID: "a1", Date: date.MustParse("2025-01-01"), Amount: 5000},
		{ID: "t2", AccountID: "a1", Date: date.MustParse("2025-01-02"), Amount: -7050,
			Subtransactions: []ledger.Transaction{
				{ID: "t2a", AccountID: "a1", Date: date.MustParse("2025-01-02"), Amount: -7050},
			}},
		{ID: "t3", AccountID: "a1", Date: date.MustParse("2025-01-03"), Amount: 100},
	}
	handler := GetTransactionsHandler(newSessions(t, client, "b1"), client)

	t.Run("half-open range rescaled", func(t *testing.T) {
		_, result, err := handler(context.Background(), nil, GetTransactionsInput{
			AccountID: "a1",
			StartDate: "2025-01-01",
			EndDate:   "2025-01-03",
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		got := mustJSON(t, result.Transactions)
		if strings.Contains(got, `"t3"`) {
			t.Errorf("end date must be exclusive: %s", got)
		}
		for _, want := range []string{`"amount":50`, `"amount":-70.5`} {
			if !strings.Contains(got, want) {
				t.Errorf("expected %s in %s", want, got)
			}
		}
		if strings.Count(got, `"amount":-70.5`) != 2 {
			t.Errorf("expected subtransaction amount rescaled too: %s", got)
		}
	})

	t.Run("empty range", func(t *testing.T) {
		_, result, err := handler(context.Background(), nil, GetTransactionsInput{
			AccountID: "a1",
			StartDate: "2025-02-01",
			EndDate:   "2025-02-01",
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got := mustJSON(t, result.Transactions); got != "[]" {
			t.Errorf("expected empty list, got %s", got)
		}
	})

	t.Run("invalid arguments", func(t *testing.T) {
		cases := []struct {
			name  string
			input GetTransactionsInput
			field string
		}{
			{"missing account", GetTransactionsInput{StartDate: "2025-01-01", EndDate: "2025-01-02"}, "account_id"},
			{"bad start", GetTransactionsInput{AccountID: "a1", StartDate: "01/01/2025", EndDate: "2025-01-02"}, "start_date"},
			{"bad end", GetTransactionsInput{AccountID: "a1", StartDate: "2025-01-01"}, "end_date"},
			{"reversed", GetTransactionsInput{AccountID: "a1", StartDate: "2025-01-02", EndDate: "2025-01-01"}, "end_date"},
		}
		for _, tc := range cases {
			t.Run(tc.name, func(t *testing.T) {
				_, _, err := handler(context.Background(), nil, tc.input)
				toolErr := requireCode(t, err, apperrors.CodeInvalidArgument)
				if toolErr.Report.Metadata[apperrors.MetaField] != tc.field {
					t.Errorf("expected field %q, got %v", tc.field, toolErr.Report.Metadata)
				}
			})
		}
	})
}

func TestGetBudgetOverviewHandler(t *testing.T) {
	t.Run("fan out", func(t *testing.T) {
		client := newFakeLedger()
		handler := GetBudgetOverviewHandler(newSessions(t, client, "b1"), client)
		_, result, err := handler(context.Background(), nil, GetBudgetOverviewInput{})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !strings.Contains(mustJSON(t, result.Accounts), `"a2"`) {
			t.Errorf("expected every account in overview")
		}
		if !strings.Contains(mustJSON(t, result.Categories), `"Food"`) {
			t.Errorf("expected categories in overview")
		}
		if !strings.Contains(mustJSON(t, result.Payees), `"Employer"`) {
			t.Errorf("expected payees in overview")
		}
	})

	t.Run("empty lists are arrays", func(t *testing.T) {
		client := newFakeLedger()
		client.payees = nil
		handler := GetBudgetOverviewHandler(newSessions(t, client, "b1"), client)
		_, result, err := handler(context.Background(), nil, GetBudgetOverviewInput{})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got := mustJSON(t, result.Payees); got != "[]" {
			t.Errorf("expected [], got %s", got)
		}
	})

	t.Run("one read fails", func(t *testing.T) {
		client := newFakeLedger()
		client.payeesErr = errors.New("timeout")
		handler := GetBudgetOverviewHandler(newSessions(t, client, "b1"), client)
		_, _, err := handler(context.Background(), nil, GetBudgetOverviewInput{})
		requireCode(t, err, apperrors.CodeConnection)
	})
}

func TestLedgerError(t *testing.T) {
	if code := apperrors.CodeOf(ledgerError("op", nil, ledger.ErrNotFound)); code != apperrors.CodeNotFound {
		t.Errorf("expected NOT_FOUND, got %s", code)
	}
	if code := apperrors.CodeOf(ledgerError("op", nil, errors.New("refused"))); code != apperrors.CodeConnection {
		t.Errorf("expected CONNECTION_ERROR, got %s", code)
	}
	config := apperrors.New(apperrors.CodeConfig, "no budget")
	if got := ledgerError("op", nil, config); got != error(config) {
		t.Errorf("expected domain error to pass through, got %v", got)
	}
}

// switchingLedger answers GetAccounts from whichever budget is loaded at read
// time, and can hold a read open until released.
type switchingLedger struct {
	*fakeLedger
	mu      sync.Mutex
	active  string
	reading chan struct{}
	release chan struct{}
}

func (f *switchingLedger) LoadBudget(ctx context.Context, budgetID string) error {
	if err := f.fakeLedger.LoadBudget(ctx, budgetID); err != nil {
		return err
	}
	f.mu.Lock()
	f.active = budgetID
	f.mu.Unlock()
	return nil
}

func (f *switchingLedger) GetAccounts(context.Context) ([]ledger.Account, error) {
	if f.reading != nil {
		close(f.reading)
		f.reading = nil
		<-f.release
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return []ledger.Account{{ID: "acct-of-" + f.active}}, nil
}

func TestGetAccountsHandlerHoldsBudgetAcrossReads(t *testing.T) {
	client := &switchingLedger{
		fakeLedger: newFakeLedger(),
		reading:    make(chan struct{}),
		release:    make(chan struct{}),
	}
	reading := client.reading
	sessions := newSessions(t, client, "")

	type outcome struct {
		result GetAccountsResult
		err    error
	}
	read := make(chan outcome, 1)
	go func() {
		_, result, err := GetAccountsHandler(sessions, client)(context.Background(), nil, GetAccountsInput{BudgetID: "b1"})
		read <- outcome{result, err}
	}()
	<-reading

	switched := make(chan error, 1)
	go func() {
		_, _, err := LoadBudgetHandler(sessions, nil)(context.Background(), nil, LoadBudgetInput{BudgetID: "b2"})
		switched <- err
	}()
	select {
	case err := <-switched:
		t.Fatalf("load_budget finished during an in-flight read: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	close(client.release)
	got := <-read
	if got.err != nil {
		t.Fatalf("get accounts: %v", got.err)
	}
	accounts := mustJSON(t, got.result.Accounts)
	if got.result.BudgetID != "b1" || !strings.Contains(accounts, `"id":"acct-of-b1"`) {
		t.Fatalf("expected b1 accounts labelled b1, got budget %q accounts %s", got.result.BudgetID, accounts)
	}
	if err := <-switched; err != nil {
		t.Fatalf("load_budget: %v", err)
	}
}
