// Package credit maintains the append-only customer credit ledger.
package credit

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/pos-ledger/internal/shared"
)

// TransactionType is the closed set of credit ledger events.
type TransactionType string

const (
	// TypeCreditAdded tops up the customer balance.
	TypeCreditAdded TransactionType = "credit_added"
	// TypeCreditUsed draws on the balance; a shortfall the customer owes.
	TypeCreditUsed TransactionType = "credit_used"
	// TypeCreditRefund returns value to the customer.
	TypeCreditRefund TransactionType = "credit_refund"
)

// Valid reports whether t is a known type.
func (t TransactionType) Valid() bool {
	switch t {
	case TypeCreditAdded, TypeCreditUsed, TypeCreditRefund:
		return true
	}
	return false
}

// Signed returns amount with the sign t applies to a balance.
func (t TransactionType) Signed(amount decimal.Decimal) (decimal.Decimal, error) {
	switch t {
	case TypeCreditAdded, TypeCreditRefund:
		return amount, nil
	case TypeCreditUsed:
		return amount.Neg(), nil
	}
	return decimal.Zero, shared.Validation("transaction_type", "unknown credit transaction type %q", string(t))
}

// Entry is one immutable credit ledger row. BalanceAfter snapshots the
// running balance including this entry.
type Entry struct {
	ID           int64           `json:"id"`
	CustomerID   int64           `json:"customer_id"`
	Seq          int64           `json:"seq"`
	SaleID       *int64          `json:"sale_id,omitempty"`
	ReturnID     *int64          `json:"return_id,omitempty"`
	Type         TransactionType `json:"transaction_type"`
	Amount       decimal.Decimal `json:"amount"`
	BalanceAfter decimal.Decimal `json:"balance_after"`
	Description  string          `json:"description,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}

// PostInput describes an entry to append.
type PostInput struct {
	CustomerID  int64
	SaleID      *int64
	ReturnID    *int64
	Type        TransactionType
	Amount      decimal.Decimal
	Description string
	Actor       string
}

// VerifyResult is the outcome of replaying one customer's ledger.
type VerifyResult struct {
	CustomerID int64           `json:"customer_id"`
	Entries    int             `json:"entries"`
	Replayed   decimal.Decimal `json:"replayed_balance"`
	Snapshot   decimal.Decimal `json:"snapshot_balance"`
	Consistent bool            `json:"consistent"`
	Detail     string          `json:"detail,omitempty"`
}

// ErrNoEntries indicates the customer has no ledger history yet.
var ErrNoEntries = errors.New("credit: no entries")

// Replay recomputes the balance from genesis over entries ordered by Seq and
// reports the first entry whose snapshot or sequence disagrees.
func Replay(entries []Entry) (decimal.Decimal, error) {
	balance := decimal.Zero
	for i, e := range entries {
		violation := func(format string, args ...any) error {
			return &shared.InvariantViolationError{
				Entity: fmt.Sprintf("credit entry %d", e.ID),
				Detail: fmt.Sprintf(format, args...),
			}
		}
		if e.Seq != int64(i+1) {
			return balance, violation("sequence %d, expected %d", e.Seq, i+1)
		}
		signed, err := e.Type.Signed(e.Amount)
		if err != nil {
			return balance, violation("%v", err)
		}
		balance = balance.Add(signed)
		if !balance.Equal(e.BalanceAfter) {
			return balance, violation("balance_after %s replays to %s", e.BalanceAfter, balance)
		}
	}
	return balance, nil
}
