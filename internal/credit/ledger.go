package credit

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/pos-ledger/internal/shared"
)

// TxRepository exposes the transactional ledger operations.
type TxRepository interface {
	// LockCustomer takes the customer row lock serialising ledger appends and
	// fails with a NotFoundError for unknown customers.
	LockCustomer(ctx context.Context, customerID int64) error
	LatestEntryForUpdate(ctx context.Context, customerID int64) (Entry, error)
	InsertEntry(ctx context.Context, entry Entry) (Entry, error)
}

// Ledger appends entries inside a caller-owned transaction.
type Ledger struct {
	clock func() time.Time
}

// NewLedger constructs a Ledger using the wall clock.
func NewLedger() *Ledger {
	return &Ledger{clock: func() time.Time { return time.Now().UTC() }}
}

func (l *Ledger) now() time.Time {
	if l == nil || l.clock == nil {
		return time.Now().UTC()
	}
	return l.clock()
}

// Post appends an entry whose balance_after is the previous balance plus the
// signed amount.
func (l *Ledger) Post(ctx context.Context, tx TxRepository, input PostInput) (Entry, error) {
	if input.CustomerID <= 0 {
		return Entry{}, shared.Validation("customer_id", "customer required")
	}
	if !input.Type.Valid() {
		return Entry{}, shared.Validation("transaction_type", "unknown credit transaction type %q", string(input.Type))
	}
	if !input.Amount.IsPositive() {
		return Entry{}, shared.Validation("amount", "must be > 0, got %s", input.Amount)
	}
	if !shared.HasScale(input.Amount, shared.MoneyPlaces) {
		return Entry{}, shared.Validation("amount", "at most %d decimal places", shared.MoneyPlaces)
	}
	prev, err := l.head(ctx, tx, input.CustomerID)
	if err != nil {
		return Entry{}, err
	}
	signed, err := input.Type.Signed(input.Amount)
	if err != nil {
		return Entry{}, err
	}
	entry := Entry{
		CustomerID:   input.CustomerID,
		Seq:          prev.Seq + 1,
		SaleID:       input.SaleID,
		ReturnID:     input.ReturnID,
		Type:         input.Type,
		Amount:       input.Amount,
		BalanceAfter: prev.BalanceAfter.Add(signed),
		Description:  input.Description,
		CreatedAt:    l.now(),
	}
	return tx.InsertEntry(ctx, entry)
}

// CurrentBalance locks the customer and returns the latest balance_after,
// zero when there is no history.
func (l *Ledger) CurrentBalance(ctx context.Context, tx TxRepository, customerID int64) (decimal.Decimal, error) {
	prev, err := l.head(ctx, tx, customerID)
	if err != nil {
		return decimal.Zero, err
	}
	return prev.BalanceAfter, nil
}

func (l *Ledger) head(ctx context.Context, tx TxRepository, customerID int64) (Entry, error) {
	if err := tx.LockCustomer(ctx, customerID); err != nil {
		return Entry{}, err
	}
	prev, err := tx.LatestEntryForUpdate(ctx, customerID)
	if errors.Is(err, ErrNoEntries) {
		return Entry{CustomerID: customerID, BalanceAfter: decimal.Zero}, nil
	}
	return prev, err
}
