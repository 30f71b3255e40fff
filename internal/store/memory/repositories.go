package memory

import (
	"context"
	"sort"

	"github.com/odyssey-erp/pos-ledger/internal/credit"
	"github.com/odyssey-erp/pos-ledger/internal/returns"
	"github.com/odyssey-erp/pos-ledger/internal/sales"
	"github.com/odyssey-erp/pos-ledger/internal/shared"
	"github.com/odyssey-erp/pos-ledger/internal/stock"
)

var (
	_ stock.RepositoryPort   = (*StockRepository)(nil)
	_ credit.RepositoryPort  = (*CreditRepository)(nil)
	_ sales.RepositoryPort   = (*SalesRepository)(nil)
	_ returns.RepositoryPort = (*ReturnsRepository)(nil)
)

// ============================================================================
// STOCK
// ============================================================================

// StockRepository implements stock.RepositoryPort.
type StockRepository struct{ s *Store }

// WithTx runs fn in a serialised transaction.
func (r *StockRepository) WithTx(ctx context.Context, fn func(context.Context, stock.TxRepository) error) error {
	return r.s.withTx(ctx, func(t *tx) error { return fn(ctx, t) })
}

// LatestBatch returns the newest batch of a chain.
func (r *StockRepository) LatestBatch(_ context.Context, productID, supplierID int64) (stock.Batch, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	chain := r.s.data.chain(productID, supplierID)
	if len(chain) == 0 {
		return stock.Batch{}, stock.ErrNoBatch
	}
	return chain[len(chain)-1], nil
}

// GetBatch loads a batch.
func (r *StockRepository) GetBatch(_ context.Context, id int64) (stock.Batch, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	b, ok := r.s.data.batches[id]
	if !ok {
		return stock.Batch{}, shared.NotFound("stock batch", id)
	}
	return b, nil
}

// ListBatches lists batches newest first.
func (r *StockRepository) ListBatches(_ context.Context, filter stock.BatchFilter) ([]stock.Batch, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	chain := r.s.data.chain(filter.ProductID, filter.SupplierID)
	out := make([]stock.Batch, 0, len(chain))
	for i := len(chain) - 1; i >= 0 && (filter.Limit <= 0 || len(out) < filter.Limit); i-- {
		out = append(out, chain[i])
	}
	return out, nil
}

// ChainBatches lists a chain oldest first.
func (r *StockRepository) ChainBatches(_ context.Context, key stock.ChainKey) ([]stock.Batch, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.s.data.chain(key.ProductID, key.SupplierID), nil
}

// Chains lists every chain with deliveries.
func (r *StockRepository) Chains(_ context.Context) ([]stock.ChainKey, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	seen := make(map[stock.ChainKey]bool)
	var keys []stock.ChainKey
	for _, b := range r.s.data.batches {
		k := stock.ChainKey{ProductID: b.ProductID, SupplierID: b.SupplierID}
		if !seen[k] {
			seen[k] = true
			keys = append(keys, k)
		}
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].ProductID == keys[j].ProductID {
			return keys[i].SupplierID < keys[j].SupplierID
		}
		return keys[i].ProductID < keys[j].ProductID
	})
	return keys, nil
}

// OverwriteBatch replaces a stored batch without ledger rules. Tests use it
// to plant drift in a chain.
func (r *StockRepository) OverwriteBatch(batch stock.Batch) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.data.batches[batch.ID] = batch
}

// ============================================================================
// CREDIT
// ============================================================================

// CreditRepository implements credit.RepositoryPort.
type CreditRepository struct{ s *Store }

// WithTx runs fn in a serialised transaction.
func (r *CreditRepository) WithTx(ctx context.Context, fn func(context.Context, credit.TxRepository) error) error {
	return r.s.withTx(ctx, func(t *tx) error { return fn(ctx, t) })
}

// EnsureCustomer fails for unknown customers.
func (r *CreditRepository) EnsureCustomer(_ context.Context, customerID int64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.data.customers[customerID]; !ok {
		return shared.NotFound("customer", customerID)
	}
	return nil
}

// LatestEntry returns the newest entry.
func (r *CreditRepository) LatestEntry(_ context.Context, customerID int64) (credit.Entry, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	entries := r.s.data.entries(customerID)
	if len(entries) == 0 {
		return credit.Entry{}, credit.ErrNoEntries
	}
	return entries[len(entries)-1], nil
}

// ListEntries lists entries newest first.
func (r *CreditRepository) ListEntries(_ context.Context, customerID int64, limit int) ([]credit.Entry, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	entries := r.s.data.entries(customerID)
	out := make([]credit.Entry, 0, len(entries))
	for i := len(entries) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		out = append(out, entries[i])
	}
	return out, nil
}

// AllEntries lists the full ledger in sequence order.
func (r *CreditRepository) AllEntries(_ context.Context, customerID int64) ([]credit.Entry, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.s.data.entries(customerID), nil
}

// CustomerIDs lists customers with ledger history.
func (r *CreditRepository) CustomerIDs(_ context.Context) ([]int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	seen := make(map[int64]bool)
	var ids []int64
	for _, e := range r.s.data.credits {
		if !seen[e.CustomerID] {
			seen[e.CustomerID] = true
			ids = append(ids, e.CustomerID)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

// AppendRaw writes an entry without ledger rules. Tests use it to plant
// corrupted history.
func (r *CreditRepository) AppendRaw(entry credit.Entry) credit.Entry {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	entry.ID = r.s.data.id()
	r.s.data.credits = append(r.s.data.credits, entry)
	return entry
}

// ============================================================================
// SALES
// ============================================================================

// SalesRepository implements sales.RepositoryPort.
type SalesRepository struct{ s *Store }

// WithTx runs fn in a serialised transaction.
func (r *SalesRepository) WithTx(ctx context.Context, fn func(context.Context, sales.TxRepository) error) error {
	return r.s.withTx(ctx, func(t *tx) error { return fn(ctx, t) })
}

// GetCustomer loads a customer.
func (r *SalesRepository) GetCustomer(_ context.Context, id int64) (sales.Customer, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.data.customers[id]
	if !ok {
		return sales.Customer{}, shared.NotFound("customer", id)
	}
	return c, nil
}

// GetProducts loads the listed products.
func (r *SalesRepository) GetProducts(_ context.Context, ids []int64) (map[int64]sales.Product, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := make(map[int64]sales.Product, len(ids))
	for _, id := range ids {
		if p, ok := r.s.data.products[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}

// GetSale loads a sale with its credit entries.
func (r *SalesRepository) GetSale(_ context.Context, id int64) (sales.Sale, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.s.data.loadSale(id)
}

// GetSaleByTransactionID loads a sale by transaction id.
func (r *SalesRepository) GetSaleByTransactionID(_ context.Context, transactionID string) (sales.Sale, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	id, ok := r.s.data.saleByTx[transactionID]
	if !ok {
		return sales.Sale{}, shared.NotFound("sale", transactionID)
	}
	return r.s.data.loadSale(id)
}

// ListSales lists sales newest first.
func (r *SalesRepository) ListSales(_ context.Context, filter sales.ListFilter) ([]sales.Sale, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []sales.Sale
	for id, sale := range r.s.data.sales {
		if filter.CustomerID > 0 && (sale.CustomerID == nil || *sale.CustomerID != filter.CustomerID) {
			continue
		}
		if filter.Type != "" && sale.Type != filter.Type {
			continue
		}
		loaded, err := r.s.data.loadSale(id)
		if err != nil {
			return nil, err
		}
		out = append(out, loaded)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// ============================================================================
// RETURNS
// ============================================================================

// ReturnsRepository implements returns.RepositoryPort.
type ReturnsRepository struct{ s *Store }

// WithTx runs fn in a serialised transaction.
func (r *ReturnsRepository) WithTx(ctx context.Context, fn func(context.Context, returns.TxRepository) error) error {
	return r.s.withTx(ctx, func(t *tx) error { return fn(ctx, t) })
}

// GetReturn loads a return.
func (r *ReturnsRepository) GetReturn(_ context.Context, id int64) (returns.Return, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	ret, ok := r.s.data.returns[id]
	if !ok {
		return returns.Return{}, shared.NotFound("return", id)
	}
	return cloneReturn(ret), nil
}

// ListReturns lists the returns of a sale oldest first.
func (r *ReturnsRepository) ListReturns(_ context.Context, saleID int64) ([]returns.Return, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.data.sales[saleID]; !ok {
		return nil, shared.NotFound("sale", saleID)
	}
	var out []returns.Return
	for _, ret := range r.s.data.returns {
		if ret.SaleID == saleID {
			out = append(out, cloneReturn(ret))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
