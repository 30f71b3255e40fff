// Package memory is an in-process implementation of every repository. It
// backs the server when no database is configured and the service tests.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/pos-ledger/internal/credit"
	"github.com/odyssey-erp/pos-ledger/internal/returns"
	"github.com/odyssey-erp/pos-ledger/internal/sales"
	"github.com/odyssey-erp/pos-ledger/internal/stock"
)

// Store holds all tables. A transaction holds mu until it commits or rolls
// back, so transactions are fully serialised.
type Store struct {
	mu    sync.Mutex
	data  state
	fault func(op string) error
}

type state struct {
	nextID    int64
	batches   map[int64]stock.Batch
	customers map[int64]sales.Customer
	products  map[int64]sales.Product
	credits   []credit.Entry
	sales     map[int64]sales.Sale
	saleByTx  map[string]int64
	returns   map[int64]returns.Return
}

// New returns an empty store.
func New() *Store {
	return &Store{data: state{
		batches:   make(map[int64]stock.Batch),
		customers: make(map[int64]sales.Customer),
		products:  make(map[int64]sales.Product),
		sales:     make(map[int64]sales.Sale),
		saleByTx:  make(map[string]int64),
		returns:   make(map[int64]returns.Return),
	}}
}

// NewSeeded returns a store with demo customers and products for running the
// server without postgres.
func NewSeeded() *Store {
	s := New()
	s.AddCustomer(sales.Customer{ID: 1, Name: "Walk-in Account", Status: sales.CustomerActive})
	s.AddCustomer(sales.Customer{ID: 2, Name: "Mama Ngozi Stores", Status: sales.CustomerActive})
	s.AddCustomer(sales.Customer{ID: 3, Name: "Blocked Trader", Status: sales.CustomerBlocked})
	s.AddProduct(sales.Product{ID: 1, Name: "Groundnut Oil 25L", Price: decimal.NewFromInt(42000), SaleType: sales.SaleTypeWholesale})
	s.AddProduct(sales.Product{ID: 2, Name: "Groundnut Oil 5L", Price: decimal.NewFromInt(9000), SaleType: sales.SaleTypeRetail})
	s.AddProduct(sales.Product{ID: 3, Name: "Groundnut Oil 1L", Price: decimal.NewFromInt(1900), SaleType: sales.SaleTypeRetail})
	return s
}

// AddCustomer inserts or replaces a customer.
func (s *Store) AddCustomer(c sales.Customer) sales.Customer {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.ID == 0 {
		c.ID = s.data.id()
	} else if c.ID > s.data.nextID {
		s.data.nextID = c.ID
	}
	if c.Status == "" {
		c.Status = sales.CustomerActive
	}
	s.data.customers[c.ID] = c
	return c
}

// AddProduct inserts or replaces a product.
func (s *Store) AddProduct(p sales.Product) sales.Product {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.ID == 0 {
		p.ID = s.data.id()
	} else if p.ID > s.data.nextID {
		s.data.nextID = p.ID
	}
	if p.SaleType == "" {
		p.SaleType = sales.SaleTypeRetail
	}
	s.data.products[p.ID] = p
	return p
}

// InjectFault installs a hook consulted before every transactional write.
// A non-nil error from the hook fails that write.
func (s *Store) InjectFault(hook func(op string) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fault = hook
}

// Stock returns the stock repository view.
func (s *Store) Stock() *StockRepository { return &StockRepository{s: s} }

// Credit returns the credit repository view.
func (s *Store) Credit() *CreditRepository { return &CreditRepository{s: s} }

// Sales returns the sales repository view.
func (s *Store) Sales() *SalesRepository { return &SalesRepository{s: s} }

// Returns returns the returns repository view.
func (s *Store) Returns() *ReturnsRepository { return &ReturnsRepository{s: s} }

// withTx runs fn under the store lock and restores the snapshot taken at
// begin when fn fails or the context is done.
func (s *Store) withTx(ctx context.Context, fn func(*tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	snapshot := s.data.clone()
	t := &tx{st: &s.data, fault: s.fault}
	err := fn(t)
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		s.data = snapshot
		return err
	}
	return nil
}

func (st *state) id() int64 {
	st.nextID++
	return st.nextID
}

// clone copies the table maps. Stored values are replaced, never mutated in
// place, so a shallow copy of each map is a consistent snapshot.
func (st state) clone() state {
	out := state{
		nextID:    st.nextID,
		batches:   make(map[int64]stock.Batch, len(st.batches)),
		customers: make(map[int64]sales.Customer, len(st.customers)),
		products:  make(map[int64]sales.Product, len(st.products)),
		credits:   append([]credit.Entry(nil), st.credits...),
		sales:     make(map[int64]sales.Sale, len(st.sales)),
		saleByTx:  make(map[string]int64, len(st.saleByTx)),
		returns:   make(map[int64]returns.Return, len(st.returns)),
	}
	for k, v := range st.batches {
		out.batches[k] = v
	}
	for k, v := range st.customers {
		out.customers[k] = v
	}
	for k, v := range st.products {
		out.products[k] = v
	}
	for k, v := range st.sales {
		out.sales[k] = v
	}
	for k, v := range st.saleByTx {
		out.saleByTx[k] = v
	}
	for k, v := range st.returns {
		out.returns[k] = v
	}
	return out
}

// chain returns the batches of one pair oldest first.
func (st *state) chain(productID, supplierID int64) []stock.Batch {
	var out []stock.Batch
	for _, b := range st.batches {
		if b.ProductID == productID && (supplierID == 0 || b.SupplierID == supplierID) {
			out = append(out, b)
		}
	}
	sortBatches(out)
	return out
}

func sortBatches(batches []stock.Batch) {
	sort.Slice(batches, func(i, j int) bool {
		if batches[i].CreatedAt.Equal(batches[j].CreatedAt) {
			return batches[i].ID < batches[j].ID
		}
		return batches[i].CreatedAt.Before(batches[j].CreatedAt)
	})
}

func (st *state) entries(customerID int64) []credit.Entry {
	var out []credit.Entry
	for _, e := range st.credits {
		if e.CustomerID == customerID {
			out = append(out, e)
		}
	}
	return out
}

func cloneSale(sale sales.Sale) sales.Sale {
	sale.Items = append([]sales.Item(nil), sale.Items...)
	for i := range sale.Items {
		sale.Items[i].Allocations = append([]stock.Allocation(nil), sale.Items[i].Allocations...)
	}
	sale.Payments = append([]sales.Payment(nil), sale.Payments...)
	sale.Credits = append([]credit.Entry(nil), sale.Credits...)
	return sale
}

func cloneReturn(ret returns.Return) returns.Return {
	ret.Items = append([]returns.Item(nil), ret.Items...)
	return ret
}
