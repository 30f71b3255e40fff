package stock

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/pos-ledger/internal/shared"
)

var hundred = decimal.NewFromInt(100)

// TxRepository exposes the transactional batch operations used by the ledger.
// Every *ForUpdate read takes a row lock held until commit.
type TxRepository interface {
	HeadBatchForUpdate(ctx context.Context, productID, supplierID int64) (Batch, error)
	HeadBatchesForUpdate(ctx context.Context, productID int64) ([]Batch, error)
	BatchForUpdate(ctx context.Context, id int64) (Batch, error)
	InsertBatch(ctx context.Context, batch Batch) (Batch, error)
	// UpdateBatch writes batch if its stored version still equals
	// expectedVersion, returning shared.ErrStaleWrite otherwise.
	UpdateBatch(ctx context.Context, batch Batch, expectedVersion int64) (Batch, error)
}

// Ledger applies the rolling stock rules inside a caller-owned transaction.
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

// CreateDelivery appends a batch to the chain of the product/supplier pair.
// Its starting remaining stock is the previous head's remaining stock plus
// the delivered quantity.
func (l *Ledger) CreateDelivery(ctx context.Context, tx TxRepository, input DeliveryInput) (Batch, error) {
	if input.ProductID <= 0 {
		return Batch{}, shared.Validation("product_id", "product required")
	}
	if input.SupplierID <= 0 {
		return Batch{}, shared.Validation("supplier_id", "supplier required")
	}
	if input.CumulativeQuantity.IsNegative() {
		return Batch{}, shared.Validation("cumulative_quantity", "must be >= 0, got %s", input.CumulativeQuantity)
	}
	if input.UnitCost.IsNegative() {
		return Batch{}, shared.Validation("unit_cost", "must be >= 0, got %s", input.UnitCost)
	}

	now := l.now()
	var prev *Batch
	head, err := tx.HeadBatchForUpdate(ctx, input.ProductID, input.SupplierID)
	switch {
	case errors.Is(err, ErrNoBatch):
	case err != nil:
		return Batch{}, err
	default:
		prev = &head
	}

	batch := NewDelivery(prev, input, now)
	if err := CheckBatch(batch); err != nil {
		return Batch{}, err
	}

	if prev != nil {
		superseded := *prev
		superseded.SupersededAt = &now
		if _, err := tx.UpdateBatch(ctx, superseded, prev.Version); err != nil {
			return Batch{}, fmt.Errorf("supersede batch %d: %w", prev.ID, err)
		}
	}
	return tx.InsertBatch(ctx, batch)
}

// NewDelivery builds the next batch of a chain whose current head is prev.
func NewDelivery(prev *Batch, input DeliveryInput, now time.Time) Batch {
	batch := Batch{
		ProductID:          input.ProductID,
		SupplierID:         input.SupplierID,
		CumulativeQuantity: input.CumulativeQuantity,
		SoldQuantity:       decimal.Zero,
		PreviousRemaining:  decimal.Zero,
		UnitCost:           input.UnitCost,
		CreatedAt:          now,
	}
	if prev != nil {
		id := prev.ID
		batch.PreviousBatchID = &id
		batch.PreviousRemaining = prev.RemainingStock
	}
	batch.RemainingStock = batch.PreviousRemaining.Add(batch.CumulativeQuantity)
	return batch
}

// RecordSale deducts quantity from batch and persists the new state.
// The batch must still be the head of its chain.
func (l *Ledger) RecordSale(ctx context.Context, tx TxRepository, batch Batch, quantity decimal.Decimal) (Batch, error) {
	if !batch.IsHead() {
		return Batch{}, shared.Validation("batch_id", "batch %d has been superseded by a newer delivery", batch.ID)
	}
	next, err := ApplySale(batch, quantity)
	if err != nil {
		return Batch{}, err
	}
	if err := CheckBatch(next); err != nil {
		return Batch{}, err
	}
	return tx.UpdateBatch(ctx, next, batch.Version)
}

// ApplySale returns batch after selling quantity units from it.
func ApplySale(batch Batch, quantity decimal.Decimal) (Batch, error) {
	if quantity.IsNegative() {
		return Batch{}, shared.Validation("quantity", "must be >= 0, got %s", quantity)
	}
	if quantity.GreaterThan(batch.RemainingStock) {
		return Batch{}, &shared.InsufficientStockError{
			ProductID: batch.ProductID,
			Requested: quantity,
			Available: batch.RemainingStock,
		}
	}
	batch.RemainingStock = batch.RemainingStock.Sub(quantity)
	batch.SoldQuantity = batch.SoldQuantity.Add(quantity)
	return batch, nil
}

// ApplyRestore reverses up to quantity sold units on batch. The amount
// restored is capped so SoldQuantity never goes negative.
func ApplyRestore(batch Batch, quantity decimal.Decimal) (Batch, decimal.Decimal, error) {
	if quantity.IsNegative() {
		return Batch{}, decimal.Zero, shared.Validation("quantity", "must be >= 0, got %s", quantity)
	}
	restored := decimal.Min(quantity, batch.SoldQuantity)
	batch.SoldQuantity = batch.SoldQuantity.Sub(restored)
	batch.RemainingStock = batch.RemainingStock.Add(restored)
	return batch, restored, nil
}

// UtilizationPercentage is sold/cumulative*100, or 0 for an empty delivery.
func UtilizationPercentage(batch Batch) decimal.Decimal {
	if batch.CumulativeQuantity.IsZero() {
		return decimal.Zero
	}
	return batch.SoldQuantity.Mul(hundred).Div(batch.CumulativeQuantity)
}

// CheckBatch guards the derived quantities of batch before it is written.
func CheckBatch(batch Batch) error {
	violation := func(format string, args ...any) error {
		return &shared.InvariantViolationError{
			Entity: fmt.Sprintf("stock batch %d", batch.ID),
			Detail: fmt.Sprintf(format, args...),
		}
	}
	if batch.RemainingStock.IsNegative() {
		return violation("remaining stock %s is negative", batch.RemainingStock)
	}
	if batch.SoldQuantity.IsNegative() {
		return violation("sold quantity %s is negative", batch.SoldQuantity)
	}
	if batch.CumulativeQuantity.IsNegative() {
		return violation("cumulative quantity %s is negative", batch.CumulativeQuantity)
	}
	ceiling := batch.PreviousRemaining.Add(batch.CumulativeQuantity)
	if batch.SoldQuantity.GreaterThan(ceiling) {
		return violation("sold %s exceeds previous remaining plus delivery %s", batch.SoldQuantity, ceiling)
	}
	if !ceiling.Sub(batch.SoldQuantity).Equal(batch.RemainingStock) {
		return violation("remaining %s != %s - %s", batch.RemainingStock, ceiling, batch.SoldQuantity)
	}
	return nil
}

// Reserve locks the head batch of every supplier chain holding the demanded
// products, checks availability for all demands and only then deducts,
// oldest head first. It returns the allocations per demand, in demand order.
func (l *Ledger) Reserve(ctx context.Context, tx TxRepository, demands []Demand) ([][]Allocation, error) {
	products := make([]int64, 0, len(demands))
	seen := make(map[int64]bool, len(demands))
	for _, d := range demands {
		if d.Units.IsNegative() {
			return nil, shared.Validation("units", "line %d: must be >= 0, got %s", d.Line, d.Units)
		}
		if !seen[d.ProductID] {
			seen[d.ProductID] = true
			products = append(products, d.ProductID)
		}
	}
	// fixed lock order across transactions
	sort.Slice(products, func(i, j int) bool { return products[i] < products[j] })

	heads := make(map[int64][]Batch, len(products))
	for _, productID := range products {
		batches, err := tx.HeadBatchesForUpdate(ctx, productID)
		if err != nil {
			return nil, fmt.Errorf("lock stock for product %d: %w", productID, err)
		}
		heads[productID] = batches
	}

	allocations, err := PlanAllocations(heads, demands)
	if err != nil {
		return nil, err
	}

	byID := make(map[int64]Batch)
	for _, batches := range heads {
		for _, b := range batches {
			byID[b.ID] = b
		}
	}
	for _, lineAllocs := range allocations {
		for _, a := range lineAllocs {
			current := byID[a.BatchID]
			updated, err := l.RecordSale(ctx, tx, current, a.Quantity)
			if err != nil {
				return nil, err
			}
			byID[a.BatchID] = updated
		}
	}
	return allocations, nil
}

// PlanAllocations distributes demands FIFO over the head batches of each
// product without mutating anything. Heads are consumed oldest first.
func PlanAllocations(heads map[int64][]Batch, demands []Demand) ([][]Allocation, error) {
	required := make(map[int64]decimal.Decimal)
	for _, d := range demands {
		required[d.ProductID] = required[d.ProductID].Add(d.Units)
	}
	available := make(map[int64]map[int64]decimal.Decimal)
	for productID, want := range required {
		batches := append([]Batch(nil), heads[productID]...)
		sort.SliceStable(batches, func(i, j int) bool {
			if batches[i].CreatedAt.Equal(batches[j].CreatedAt) {
				return batches[i].ID < batches[j].ID
			}
			return batches[i].CreatedAt.Before(batches[j].CreatedAt)
		})
		heads[productID] = batches
		total := decimal.Zero
		avail := make(map[int64]decimal.Decimal, len(batches))
		for _, b := range batches {
			total = total.Add(b.RemainingStock)
			avail[b.ID] = b.RemainingStock
		}
		if want.GreaterThan(total) {
			return nil, &shared.InsufficientStockError{ProductID: productID, Requested: want, Available: total}
		}
		available[productID] = avail
	}

	plan := make([][]Allocation, len(demands))
	for i, d := range demands {
		need := d.Units
		for _, b := range heads[d.ProductID] {
			if !need.IsPositive() {
				break
			}
			free := available[d.ProductID][b.ID]
			if !free.IsPositive() {
				continue
			}
			take := decimal.Min(need, free)
			available[d.ProductID][b.ID] = free.Sub(take)
			need = need.Sub(take)
			plan[i] = append(plan[i], Allocation{
				BatchID:    b.ID,
				ProductID:  b.ProductID,
				SupplierID: b.SupplierID,
				Quantity:   take,
			})
		}
	}
	return plan, nil
}

// Restore puts back up to units stock units drawn by allocations, newest
// allocation first. The current head of each allocation's chain absorbs what
// it has sold; any residual is appended to the chain as a restock batch so no
// returned unit is lost. It returns the units restored.
func (l *Ledger) Restore(ctx context.Context, tx TxRepository, allocations []Allocation, units decimal.Decimal) (decimal.Decimal, error) {
	if units.IsNegative() {
		return decimal.Zero, shared.Validation("units", "must be >= 0, got %s", units)
	}
	left := units
	restored := decimal.Zero
	for i := len(allocations) - 1; i >= 0 && left.IsPositive(); i-- {
		a := allocations[i]
		want := decimal.Min(left, a.Quantity)
		if !want.IsPositive() {
			continue
		}
		head, err := tx.HeadBatchForUpdate(ctx, a.ProductID, a.SupplierID)
		if err != nil {
			return decimal.Zero, fmt.Errorf("lock head for batch %d: %w", a.BatchID, err)
		}
		next, got, err := ApplyRestore(head, want)
		if err != nil {
			return decimal.Zero, err
		}
		var restock *Batch
		if residual := want.Sub(got); residual.IsPositive() {
			now := l.now()
			b := NewDelivery(&next, DeliveryInput{
				ProductID:          a.ProductID,
				SupplierID:         a.SupplierID,
				CumulativeQuantity: residual,
				UnitCost:           head.UnitCost,
			}, now)
			if err := CheckBatch(b); err != nil {
				return decimal.Zero, err
			}
			next.SupersededAt = &now
			restock = &b
		}
		if err := CheckBatch(next); err != nil {
			return decimal.Zero, err
		}
		if _, err := tx.UpdateBatch(ctx, next, head.Version); err != nil {
			return decimal.Zero, err
		}
		if restock != nil {
			if _, err := tx.InsertBatch(ctx, *restock); err != nil {
				return decimal.Zero, fmt.Errorf("restock chain %d/%d: %w", a.ProductID, a.SupplierID, err)
			}
		}
		restored = restored.Add(want)
		left = left.Sub(want)
	}
	return restored, nil
}
