package memory

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/odyssey-erp/pos-ledger/internal/credit"
	"github.com/odyssey-erp/pos-ledger/internal/returns"
	"github.com/odyssey-erp/pos-ledger/internal/sales"
	"github.com/odyssey-erp/pos-ledger/internal/shared"
	"github.com/odyssey-erp/pos-ledger/internal/stock"
)

// tx implements the stock, credit, sales and returns transactional
// repositories over the locked state.
type tx struct {
	st    *state
	fault func(op string) error
}

var (
	_ stock.TxRepository   = (*tx)(nil)
	_ credit.TxRepository  = (*tx)(nil)
	_ sales.TxRepository   = (*tx)(nil)
	_ returns.TxRepository = (*tx)(nil)
)

func (t *tx) check(op string) error {
	if t.fault == nil {
		return nil
	}
	return t.fault(op)
}

// ============================================================================
// STOCK
// ============================================================================

func (t *tx) HeadBatchForUpdate(_ context.Context, productID, supplierID int64) (stock.Batch, error) {
	chain := t.st.chain(productID, supplierID)
	for i := len(chain) - 1; i >= 0; i-- {
		if chain[i].IsHead() {
			return chain[i], nil
		}
	}
	return stock.Batch{}, stock.ErrNoBatch
}

func (t *tx) HeadBatchesForUpdate(_ context.Context, productID int64) ([]stock.Batch, error) {
	var heads []stock.Batch
	for _, b := range t.st.chain(productID, 0) {
		if b.IsHead() {
			heads = append(heads, b)
		}
	}
	return heads, nil
}

func (t *tx) BatchForUpdate(_ context.Context, id int64) (stock.Batch, error) {
	b, ok := t.st.batches[id]
	if !ok {
		return stock.Batch{}, shared.NotFound("stock batch", id)
	}
	return b, nil
}

func (t *tx) InsertBatch(_ context.Context, batch stock.Batch) (stock.Batch, error) {
	if err := t.check("InsertBatch"); err != nil {
		return stock.Batch{}, err
	}
	for _, b := range t.st.batches {
		if b.ProductID != batch.ProductID || b.SupplierID != batch.SupplierID {
			continue
		}
		forked := batch.PreviousBatchID == nil && b.PreviousBatchID == nil
		if batch.PreviousBatchID != nil && b.PreviousBatchID != nil && *b.PreviousBatchID == *batch.PreviousBatchID {
			forked = true
		}
		if forked {
			return stock.Batch{}, uniqueViolation("stock_batches_chain_key")
		}
	}
	batch.ID = t.st.id()
	batch.Version = 1
	t.st.batches[batch.ID] = batch
	return batch, nil
}

func (t *tx) UpdateBatch(_ context.Context, batch stock.Batch, expectedVersion int64) (stock.Batch, error) {
	if err := t.check("UpdateBatch"); err != nil {
		return stock.Batch{}, err
	}
	stored, ok := t.st.batches[batch.ID]
	if !ok || stored.Version != expectedVersion {
		return stock.Batch{}, fmt.Errorf("update stock batch %d: %w", batch.ID, shared.ErrStaleWrite)
	}
	stored.SoldQuantity = batch.SoldQuantity
	stored.RemainingStock = batch.RemainingStock
	stored.SupersededAt = batch.SupersededAt
	stored.Version++
	t.st.batches[stored.ID] = stored
	return stored, nil
}

// ============================================================================
// CREDIT
// ============================================================================

func (t *tx) LockCustomer(_ context.Context, customerID int64) error {
	if _, ok := t.st.customers[customerID]; !ok {
		return shared.NotFound("customer", customerID)
	}
	return nil
}

func (t *tx) LatestEntryForUpdate(_ context.Context, customerID int64) (credit.Entry, error) {
	entries := t.st.entries(customerID)
	if len(entries) == 0 {
		return credit.Entry{}, credit.ErrNoEntries
	}
	return entries[len(entries)-1], nil
}

func (t *tx) InsertEntry(_ context.Context, entry credit.Entry) (credit.Entry, error) {
	if err := t.check("InsertEntry"); err != nil {
		return credit.Entry{}, err
	}
	for _, e := range t.st.credits {
		if e.CustomerID == entry.CustomerID && e.Seq == entry.Seq {
			return credit.Entry{}, uniqueViolation("customer_credits_customer_seq_key")
		}
	}
	entry.ID = t.st.id()
	t.st.credits = append(t.st.credits, entry)
	return entry, nil
}

// ============================================================================
// SALES
// ============================================================================

func (t *tx) InsertSale(_ context.Context, sale sales.Sale) (sales.Sale, error) {
	if err := t.check("InsertSale"); err != nil {
		return sales.Sale{}, err
	}
	if _, dup := t.st.saleByTx[sale.TransactionID]; dup {
		return sales.Sale{}, uniqueViolation("sales_transaction_id_key")
	}
	sale = cloneSale(sale)
	sale.ID = t.st.id()
	for i := range sale.Items {
		sale.Items[i].ID = t.st.id()
		sale.Items[i].SaleID = sale.ID
	}
	for i := range sale.Payments {
		sale.Payments[i].ID = t.st.id()
		sale.Payments[i].SaleID = sale.ID
	}
	sale.Credits = nil
	t.st.sales[sale.ID] = sale
	t.st.saleByTx[sale.TransactionID] = sale.ID
	return cloneSale(sale), nil
}

// ============================================================================
// RETURNS
// ============================================================================

func (t *tx) SaleForUpdate(_ context.Context, saleID int64) (sales.Sale, error) {
	return t.st.loadSale(saleID)
}

func (t *tx) Claims(_ context.Context, saleID int64) (map[int64]returns.Claim, error) {
	claims := make(map[int64]returns.Claim)
	for _, ret := range t.st.returns {
		if ret.SaleID != saleID || ret.Status == returns.StatusRejected {
			continue
		}
		for _, it := range ret.Items {
			c := claims[it.SaleItemID]
			c.Quantity = c.Quantity.Add(it.Quantity)
			c.Refunded = c.Refunded.Add(it.RefundAmount)
			c.RestoredUnits = c.RestoredUnits.Add(it.RestoredUnits)
			claims[it.SaleItemID] = c
		}
	}
	return claims, nil
}

func (t *tx) InsertReturn(_ context.Context, ret returns.Return) (returns.Return, error) {
	if err := t.check("InsertReturn"); err != nil {
		return returns.Return{}, err
	}
	ret = cloneReturn(ret)
	ret.ID = t.st.id()
	for i := range ret.Items {
		ret.Items[i].ID = t.st.id()
		ret.Items[i].ReturnID = ret.ID
	}
	t.st.returns[ret.ID] = ret
	return cloneReturn(ret), nil
}

func (t *tx) ReturnForUpdate(_ context.Context, id int64) (returns.Return, error) {
	ret, ok := t.st.returns[id]
	if !ok {
		return returns.Return{}, shared.NotFound("return", id)
	}
	return cloneReturn(ret), nil
}

func (t *tx) UpdateReturn(_ context.Context, ret returns.Return) error {
	if err := t.check("UpdateReturn"); err != nil {
		return err
	}
	if _, ok := t.st.returns[ret.ID]; !ok {
		return shared.NotFound("return", ret.ID)
	}
	t.st.returns[ret.ID] = cloneReturn(ret)
	return nil
}

func (st *state) loadSale(id int64) (sales.Sale, error) {
	sale, ok := st.sales[id]
	if !ok {
		return sales.Sale{}, shared.NotFound("sale", id)
	}
	sale = cloneSale(sale)
	for _, e := range st.credits {
		if e.SaleID != nil && *e.SaleID == id {
			sale.Credits = append(sale.Credits, e)
		}
	}
	return sale, nil
}

// uniqueViolation mirrors the postgres error a unique index raises.
func uniqueViolation(constraint string) error {
	return &pgconn.PgError{
		Severity:       "ERROR",
		Code:           "23505",
		Message:        "duplicate key value violates unique constraint \"" + constraint + "\"",
		ConstraintName: constraint,
	}
}
