package stock

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/pos-ledger/internal/shared"
)

// VerifyChain checks a whole chain given oldest first: every batch passes
// CheckBatch, each batch links to and snapshots its predecessor, only the
// last batch is a head, and Σcumulative − Σsold equals the head's remaining
// stock.
func VerifyChain(batches []Batch) error {
	if len(batches) == 0 {
		return nil
	}
	violation := func(b Batch, format string, args ...any) error {
		return &shared.InvariantViolationError{
			Entity: fmt.Sprintf("stock chain %d/%d batch %d", b.ProductID, b.SupplierID, b.ID),
			Detail: fmt.Sprintf(format, args...),
		}
	}
	cumulative, sold := decimal.Zero, decimal.Zero
	for i, b := range batches {
		if err := CheckBatch(b); err != nil {
			return err
		}
		last := i == len(batches)-1
		if b.IsHead() != last {
			return violation(b, "head flag %t at position %d of %d", b.IsHead(), i+1, len(batches))
		}
		if i == 0 {
			if b.PreviousBatchID != nil {
				return violation(b, "first batch links to %d", *b.PreviousBatchID)
			}
			if !b.PreviousRemaining.IsZero() {
				return violation(b, "first batch carries previous remaining %s", b.PreviousRemaining)
			}
		} else {
			prev := batches[i-1]
			if b.PreviousBatchID == nil || *b.PreviousBatchID != prev.ID {
				return violation(b, "does not link to predecessor %d", prev.ID)
			}
			if !b.PreviousRemaining.Equal(prev.RemainingStock) {
				return violation(b, "previous remaining %s, predecessor ended at %s", b.PreviousRemaining, prev.RemainingStock)
			}
		}
		cumulative = cumulative.Add(b.CumulativeQuantity)
		sold = sold.Add(b.SoldQuantity)
	}
	head := batches[len(batches)-1]
	if !cumulative.Sub(sold).Equal(head.RemainingStock) {
		return violation(head, "cumulative %s - sold %s != remaining %s", cumulative, sold, head.RemainingStock)
	}
	return nil
}
