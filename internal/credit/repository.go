package credit

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/pos-ledger/internal/platform/db"
	"github.com/odyssey-erp/pos-ledger/internal/shared"
)

// EntryColumns is the select list ScanEntry expects.
const EntryColumns = `id, customer_id, seq, sale_id, return_id, transaction_type, amount, balance_after, description, created_at`

// Repository persists credit entries in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type txRepo struct {
	q db.Querier
}

// NewTxRepository binds ledger operations to an open transaction.
func NewTxRepository(tx pgx.Tx) TxRepository {
	return &txRepo{q: tx}
}

// WithTx executes the callback inside repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, NewTxRepository(tx))
	})
}

// EnsureCustomer returns a NotFoundError for unknown customers.
func (r *Repository) EnsureCustomer(ctx context.Context, customerID int64) error {
	var id int64
	err := r.pool.QueryRow(ctx, `SELECT id FROM customers WHERE id = $1`, customerID).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return shared.NotFound("customer", customerID)
	}
	return err
}

// LatestEntry returns the newest entry without locking.
func (r *Repository) LatestEntry(ctx context.Context, customerID int64) (Entry, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+EntryColumns+` FROM customer_credits
WHERE customer_id = $1 ORDER BY seq DESC LIMIT 1`, customerID)
	entry, err := ScanEntry(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Entry{}, ErrNoEntries
	}
	return entry, err
}

// ListEntries lists entries newest first.
func (r *Repository) ListEntries(ctx context.Context, customerID int64, limit int) ([]Entry, error) {
	return r.query(ctx, `SELECT `+EntryColumns+` FROM customer_credits
WHERE customer_id = $1 ORDER BY seq DESC LIMIT $2`, customerID, limit)
}

// AllEntries lists the full ledger in sequence order.
func (r *Repository) AllEntries(ctx context.Context, customerID int64) ([]Entry, error) {
	return r.query(ctx, `SELECT `+EntryColumns+` FROM customer_credits
WHERE customer_id = $1 ORDER BY seq ASC`, customerID)
}

// CustomerIDs lists customers that have ledger history.
func (r *Repository) CustomerIDs(ctx context.Context) ([]int64, error) {
	rows, err := r.pool.Query(ctx, `SELECT DISTINCT customer_id FROM customer_credits ORDER BY customer_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *Repository) query(ctx context.Context, sql string, args ...any) ([]Entry, error) {
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var entries []Entry
	for rows.Next() {
		entry, err := ScanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func (r *txRepo) LockCustomer(ctx context.Context, customerID int64) error {
	var id int64
	err := r.q.QueryRow(ctx, `SELECT id FROM customers WHERE id = $1 FOR UPDATE`, customerID).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return shared.NotFound("customer", customerID)
	}
	if err != nil {
		return fmt.Errorf("lock customer %d: %w", customerID, err)
	}
	return nil
}

func (r *txRepo) LatestEntryForUpdate(ctx context.Context, customerID int64) (Entry, error) {
	row := r.q.QueryRow(ctx, `SELECT `+EntryColumns+` FROM customer_credits
WHERE customer_id = $1 ORDER BY seq DESC LIMIT 1 FOR UPDATE`, customerID)
	entry, err := ScanEntry(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Entry{}, ErrNoEntries
	}
	return entry, err
}

func (r *txRepo) InsertEntry(ctx context.Context, entry Entry) (Entry, error) {
	err := r.q.QueryRow(ctx, `INSERT INTO customer_credits (
	customer_id, seq, sale_id, return_id, transaction_type, amount, balance_after, description, created_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
RETURNING id`,
		entry.CustomerID, entry.Seq, entry.SaleID, entry.ReturnID, string(entry.Type),
		entry.Amount, entry.BalanceAfter, entry.Description, entry.CreatedAt,
	).Scan(&entry.ID)
	if err != nil {
		return Entry{}, fmt.Errorf("insert credit entry: %w", err)
	}
	return entry, nil
}

// ScanEntry scans one row selected with EntryColumns.
func ScanEntry(row pgx.Row) (Entry, error) {
	var e Entry
	var txType string
	err := row.Scan(&e.ID, &e.CustomerID, &e.Seq, &e.SaleID, &e.ReturnID, &txType,
		&e.Amount, &e.BalanceAfter, &e.Description, &e.CreatedAt)
	e.Type = TransactionType(txType)
	return e, err
}
