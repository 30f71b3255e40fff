package sales

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/pos-ledger/internal/credit"
	"github.com/odyssey-erp/pos-ledger/internal/platform/db"
	"github.com/odyssey-erp/pos-ledger/internal/shared"
	"github.com/odyssey-erp/pos-ledger/internal/stock"
)

const saleColumns = `id, transaction_id, customer_id, sale_type, subtotal, discount, total,
amount_paid, credit_applied, amount_due, created_by, created_at`

// Repository provides PostgreSQL backed persistence for sales.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type (
	stockTx  = stock.TxRepository
	creditTx = credit.TxRepository
)

type txRepo struct {
	stockTx
	creditTx
	q db.Querier
}

// NewTxRepository composes the stock, credit and sale writes of one
// transaction.
func NewTxRepository(tx pgx.Tx) TxRepository {
	return &txRepo{
		stockTx:  stock.NewTxRepository(tx),
		creditTx: credit.NewTxRepository(tx),
		q:        tx,
	}
}

// WithTx wraps callback in repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, NewTxRepository(tx))
	})
}

// ============================================================================
// REFERENCE DATA
// ============================================================================

// GetCustomer loads a customer.
func (r *Repository) GetCustomer(ctx context.Context, id int64) (Customer, error) {
	var c Customer
	var status string
	err := r.pool.QueryRow(ctx, `SELECT id, name, status, credit_limit FROM customers WHERE id = $1`, id).
		Scan(&c.ID, &c.Name, &status, &c.CreditLimit)
	if errors.Is(err, pgx.ErrNoRows) {
		return Customer{}, shared.NotFound("customer", id)
	}
	if err != nil {
		return Customer{}, err
	}
	c.Status = CustomerStatus(status)
	return c, nil
}

// GetProducts loads the listed products keyed by id. Missing ids are absent.
func (r *Repository) GetProducts(ctx context.Context, ids []int64) (map[int64]Product, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, name, price, sale_type FROM products WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	products := make(map[int64]Product, len(ids))
	for rows.Next() {
		var p Product
		var saleType string
		if err := rows.Scan(&p.ID, &p.Name, &p.Price, &saleType); err != nil {
			return nil, err
		}
		p.SaleType = SaleType(saleType)
		products[p.ID] = p
	}
	return products, rows.Err()
}

// ============================================================================
// SALES
// ============================================================================

// GetSale loads a sale with its lines, payments and credit entries.
func (r *Repository) GetSale(ctx context.Context, id int64) (Sale, error) {
	return LoadSale(ctx, r.pool, id)
}

// GetSaleByTransactionID loads a sale by transaction id.
func (r *Repository) GetSaleByTransactionID(ctx context.Context, transactionID string) (Sale, error) {
	var id int64
	err := r.pool.QueryRow(ctx, `SELECT id FROM sales WHERE transaction_id = $1`, transactionID).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return Sale{}, shared.NotFound("sale", transactionID)
	}
	if err != nil {
		return Sale{}, err
	}
	return LoadSale(ctx, r.pool, id)
}

// ListSales lists sale headers newest first.
func (r *Repository) ListSales(ctx context.Context, filter ListFilter) ([]Sale, error) {
	query := `SELECT ` + saleColumns + ` FROM sales WHERE 1=1`
	args := []any{}
	if filter.CustomerID > 0 {
		args = append(args, filter.CustomerID)
		query += fmt.Sprintf(` AND customer_id = $%d`, len(args))
	}
	if filter.Type != "" {
		args = append(args, string(filter.Type))
		query += fmt.Sprintf(` AND sale_type = $%d`, len(args))
	}
	args = append(args, filter.Limit)
	query += fmt.Sprintf(` ORDER BY created_at DESC, id DESC LIMIT $%d`, len(args))
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Sale
	for rows.Next() {
		sale, err := scanSale(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sale)
	}
	return out, rows.Err()
}

// LoadSale reads a complete sale through q, which may be a pool or an open
// transaction.
func LoadSale(ctx context.Context, q db.Querier, id int64) (Sale, error) {
	sale, err := scanSale(q.QueryRow(ctx, `SELECT `+saleColumns+` FROM sales WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Sale{}, shared.NotFound("sale", id)
	}
	if err != nil {
		return Sale{}, err
	}
	if sale.Items, err = loadItems(ctx, q, id); err != nil {
		return Sale{}, err
	}
	if sale.Payments, err = loadPayments(ctx, q, id); err != nil {
		return Sale{}, err
	}
	if sale.Credits, err = loadCredits(ctx, q, id); err != nil {
		return Sale{}, err
	}
	return sale, nil
}

func loadItems(ctx context.Context, q db.Querier, saleID int64) ([]Item, error) {
	rows, err := q.Query(ctx, `SELECT id, sale_id, product_id, quantity, unit_price, line_total, stock_units
FROM sale_items WHERE sale_id = $1 ORDER BY line_no`, saleID)
	if err != nil {
		return nil, err
	}
	var items []Item
	index := make(map[int64]int)
	for rows.Next() {
		var it Item
		if err := rows.Scan(&it.ID, &it.SaleID, &it.ProductID, &it.Quantity, &it.UnitPrice, &it.LineTotal, &it.StockUnits); err != nil {
			rows.Close()
			return nil, err
		}
		index[it.ID] = len(items)
		items = append(items, it)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = q.Query(ctx, `SELECT a.sale_item_id, a.batch_id, a.product_id, a.supplier_id, a.quantity
FROM sale_item_allocations a JOIN sale_items i ON i.id = a.sale_item_id
WHERE i.sale_id = $1 ORDER BY a.id`, saleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var itemID int64
		var a stock.Allocation
		if err := rows.Scan(&itemID, &a.BatchID, &a.ProductID, &a.SupplierID, &a.Quantity); err != nil {
			return nil, err
		}
		if i, ok := index[itemID]; ok {
			items[i].Allocations = append(items[i].Allocations, a)
		}
	}
	return items, rows.Err()
}

func loadPayments(ctx context.Context, q db.Querier, saleID int64) ([]Payment, error) {
	rows, err := q.Query(ctx, `SELECT id, sale_id, method, amount FROM payments WHERE sale_id = $1 ORDER BY id`, saleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var payments []Payment
	for rows.Next() {
		var p Payment
		var method string
		if err := rows.Scan(&p.ID, &p.SaleID, &method, &p.Amount); err != nil {
			return nil, err
		}
		p.Method = PaymentMethod(method)
		payments = append(payments, p)
	}
	return payments, rows.Err()
}

func loadCredits(ctx context.Context, q db.Querier, saleID int64) ([]credit.Entry, error) {
	rows, err := q.Query(ctx, `SELECT `+credit.EntryColumns+` FROM customer_credits WHERE sale_id = $1 ORDER BY seq`, saleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var entries []credit.Entry
	for rows.Next() {
		entry, err := credit.ScanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// InsertSale writes the sale header, lines, allocations and payments.
func (t *txRepo) InsertSale(ctx context.Context, sale Sale) (Sale, error) {
	err := t.q.QueryRow(ctx, `INSERT INTO sales (
	transaction_id, customer_id, sale_type, subtotal, discount, total,
	amount_paid, credit_applied, amount_due, created_by, created_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
RETURNING id`,
		sale.TransactionID, sale.CustomerID, string(sale.Type), sale.Subtotal, sale.Discount, sale.Total,
		sale.AmountPaid, sale.CreditApplied, sale.AmountDue, sale.CreatedBy, sale.CreatedAt,
	).Scan(&sale.ID)
	if err != nil {
		return Sale{}, fmt.Errorf("insert sale %s: %w", sale.TransactionID, err)
	}

	items := make([]Item, len(sale.Items))
	for i, it := range sale.Items {
		it.SaleID = sale.ID
		err := t.q.QueryRow(ctx, `INSERT INTO sale_items (
	sale_id, line_no, product_id, quantity, unit_price, line_total, stock_units
) VALUES ($1, $2, $3, $4, $5, $6, $7)
RETURNING id`,
			sale.ID, i+1, it.ProductID, it.Quantity, it.UnitPrice, it.LineTotal, it.StockUnits,
		).Scan(&it.ID)
		if err != nil {
			return Sale{}, fmt.Errorf("insert sale item: %w", err)
		}
		for _, a := range it.Allocations {
			_, err := t.q.Exec(ctx, `INSERT INTO sale_item_allocations (
	sale_item_id, batch_id, product_id, supplier_id, quantity
) VALUES ($1, $2, $3, $4, $5)`, it.ID, a.BatchID, a.ProductID, a.SupplierID, a.Quantity)
			if err != nil {
				return Sale{}, fmt.Errorf("insert allocation: %w", err)
			}
		}
		items[i] = it
	}
	sale.Items = items

	payments := make([]Payment, len(sale.Payments))
	for i, p := range sale.Payments {
		p.SaleID = sale.ID
		err := t.q.QueryRow(ctx, `INSERT INTO payments (sale_id, method, amount) VALUES ($1, $2, $3) RETURNING id`,
			sale.ID, string(p.Method), p.Amount,
		).Scan(&p.ID)
		if err != nil {
			return Sale{}, fmt.Errorf("insert payment: %w", err)
		}
		payments[i] = p
	}
	sale.Payments = payments
	return sale, nil
}

func scanSale(row pgx.Row) (Sale, error) {
	var s Sale
	var saleType string
	err := row.Scan(&s.ID, &s.TransactionID, &s.CustomerID, &saleType, &s.Subtotal, &s.Discount, &s.Total,
		&s.AmountPaid, &s.CreditApplied, &s.AmountDue, &s.CreatedBy, &s.CreatedAt)
	s.Type = SaleType(saleType)
	return s, err
}
