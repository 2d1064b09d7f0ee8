// Package balance reconstructs day-level account balance history from ledger
// balances and transactions.
package balance

import (
	"context"
	"fmt"

	"github.com/louisbranch/ledger.space/internal/platform/date"
	apperrors "github.com/louisbranch/ledger.space/internal/platform/errors"
	"github.com/louisbranch/ledger.space/internal/platform/otel"
	"github.com/louisbranch/ledger.space/internal/services/mcp/ledger"
)

const tracerScope = "services/mcp/balance"

// PeakNote explains how to read TheoreticalPeakIntradayBalance. It is
// returned alongside every history.
const PeakNote = "theoretical_peak_intraday_balance is a conservative upper bound: the previous day's closing " +
	"balance plus every credit of the day, as if all credits landed before any debit. It is meant for " +
	"overdraft and exposure analysis and is not a balance the account necessarily reached."

// Reader is the subset of the ledger client the projector needs.
type Reader interface {
	GetAccounts(ctx context.Context) ([]ledger.Account, error)
	GetAccountBalance(ctx context.Context, accountID string, asOf *date.Date) (int64, error)
	GetTransactions(ctx context.Context, accountID string, start, end date.Date) ([]ledger.Transaction, error)
}

// Point is one day of history. Balances are in minor units.
type Point struct {
	Date                           date.Date
	EndOfDayBalance                int64
	TheoreticalPeakIntradayBalance int64
}

// Projector builds balance history against a loaded budget.
type Projector struct {
	reader Reader
}

// NewProjector returns a projector reading from reader.
func NewProjector(reader Reader) *Projector {
	return &Projector{reader: reader}
}

// History returns one point per day in [start, end). The account is checked
// before any per-day work, so an unknown account fails with NOT_FOUND without
// further ledger calls. Cancelling ctx stops the day loop.
func (p *Projector) History(ctx context.Context, accountID string, start, end date.Date) (points []Point, err error) {
	meta := map[string]string{
		apperrors.MetaOperation: "balance_history",
		apperrors.MetaAccountID: accountID,
	}
	if start.IsZero() || end.IsZero() {
		return nil, apperrors.WithMetadata(apperrors.CodeInvalidArgument, "start and end dates are required", meta)
	}
	if end.Before(start) {
		return nil, apperrors.WithMetadata(apperrors.CodeInvalidArgument,
			fmt.Sprintf("end date %s is before start date %s", end, start), meta)
	}

	ctx, span := otel.StartSpan(ctx, tracerScope, "balance.history",
		"account_id", accountID, "start", start.String(), "end", end.String())
	defer func() { otel.EndSpan(span, err) }()

	accounts, err := p.reader.GetAccounts(ctx)
	if err != nil {
		return nil, apperrors.WrapWithMetadata(apperrors.CodeConnection, "list accounts", meta, err)
	}
	if _, ok := ledger.FindAccount(accounts, accountID); !ok {
		return nil, apperrors.WithMetadata(apperrors.CodeNotFound, fmt.Sprintf("account %s not found", accountID), meta)
	}
	if !start.Before(end) {
		return []Point{}, nil
	}

	transactions, err := p.reader.GetTransactions(ctx, accountID, start, end)
	if err != nil {
		return nil, apperrors.WrapWithMetadata(apperrors.CodeConnection, "get transactions", meta, err)
	}
	credits := creditsByDay(transactions)

	previous := start.Add(-1)
	dayBefore, err := p.reader.GetAccountBalance(ctx, accountID, &previous)
	if err != nil {
		return nil, apperrors.WrapWithMetadata(apperrors.CodeConnection, fmt.Sprintf("get balance on %s", previous), meta, err)
	}

	points = make([]Point, 0, start.DaysUntil(end))
	for day := start; day.Before(end); day = day.Add(1) {
		if err := ctx.Err(); err != nil {
			return nil, apperrors.WrapWithMetadata(apperrors.CodeConnection, "balance history cancelled", meta, err)
		}
		current, err := p.reader.GetAccountBalance(ctx, accountID, &day)
		if err != nil {
			return nil, apperrors.WrapWithMetadata(apperrors.CodeConnection, fmt.Sprintf("get balance on %s", day), meta, err)
		}
		points = append(points, Point{
			Date:                           day,
			EndOfDayBalance:                current,
			TheoreticalPeakIntradayBalance: dayBefore + credits[day],
		})
		dayBefore = current
	}
	return points, nil
}

// creditsByDay sums the strictly positive amounts per calendar day. Split
// parents are counted once; their subtransactions are not added again.
func creditsByDay(transactions []ledger.Transaction) map[date.Date]int64 {
	credits := make(map[date.Date]int64)
	for _, tx := range transactions {
		if tx.Amount > 0 {
			credits[tx.Date] += tx.Amount
		}
	}
	return credits
}
