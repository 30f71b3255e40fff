package stock

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/pos-ledger/internal/platform/db"
	"github.com/odyssey-erp/pos-ledger/internal/shared"
)

const batchColumns = `id, product_id, supplier_id, cumulative_quantity, sold_quantity, remaining_stock,
previous_batch_id, previous_remaining, unit_cost, version, superseded_at, created_at`

// Repository persists stock batches in PostgreSQL.
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

// NewTxRepository binds the batch operations to an open transaction so other
// modules can compose them into their own unit of work.
func NewTxRepository(tx pgx.Tx) TxRepository {
	return &txRepo{q: tx}
}

// WithTx executes the callback inside repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, NewTxRepository(tx))
	})
}

// LatestBatch returns the newest batch of a chain without locking.
func (r *Repository) LatestBatch(ctx context.Context, productID, supplierID int64) (Batch, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+batchColumns+` FROM stock_batches
WHERE product_id = $1 AND supplier_id = $2
ORDER BY created_at DESC, id DESC LIMIT 1`, productID, supplierID)
	batch, err := scanBatch(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Batch{}, ErrNoBatch
	}
	return batch, err
}

// GetBatch loads a batch by id.
func (r *Repository) GetBatch(ctx context.Context, id int64) (Batch, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+batchColumns+` FROM stock_batches WHERE id = $1`, id)
	batch, err := scanBatch(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Batch{}, shared.NotFound("stock batch", id)
	}
	return batch, err
}

// ListBatches lists batches newest first.
func (r *Repository) ListBatches(ctx context.Context, filter BatchFilter) ([]Batch, error) {
	query := `SELECT ` + batchColumns + ` FROM stock_batches WHERE product_id = $1`
	args := []any{filter.ProductID}
	if filter.SupplierID > 0 {
		query += ` AND supplier_id = $2`
		args = append(args, filter.SupplierID)
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC, id DESC LIMIT %d`, filter.Limit)
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var batches []Batch
	for rows.Next() {
		batch, err := scanBatch(rows)
		if err != nil {
			return nil, err
		}
		batches = append(batches, batch)
	}
	return batches, rows.Err()
}

// ChainBatches lists a chain oldest first.
func (r *Repository) ChainBatches(ctx context.Context, key ChainKey) ([]Batch, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+batchColumns+` FROM stock_batches
WHERE product_id = $1 AND supplier_id = $2
ORDER BY created_at ASC, id ASC`, key.ProductID, key.SupplierID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var batches []Batch
	for rows.Next() {
		batch, err := scanBatch(rows)
		if err != nil {
			return nil, err
		}
		batches = append(batches, batch)
	}
	return batches, rows.Err()
}

// Chains lists every product/supplier pair with deliveries.
func (r *Repository) Chains(ctx context.Context) ([]ChainKey, error) {
	rows, err := r.pool.Query(ctx, `SELECT DISTINCT product_id, supplier_id FROM stock_batches ORDER BY product_id, supplier_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var keys []ChainKey
	for rows.Next() {
		var k ChainKey
		if err := rows.Scan(&k.ProductID, &k.SupplierID); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

func (r *txRepo) HeadBatchForUpdate(ctx context.Context, productID, supplierID int64) (Batch, error) {
	row := r.q.QueryRow(ctx, `SELECT `+batchColumns+` FROM stock_batches
WHERE product_id = $1 AND supplier_id = $2 AND superseded_at IS NULL
ORDER BY created_at DESC, id DESC LIMIT 1
FOR UPDATE`, productID, supplierID)
	batch, err := scanBatch(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Batch{}, ErrNoBatch
	}
	return batch, err
}

func (r *txRepo) HeadBatchesForUpdate(ctx context.Context, productID int64) ([]Batch, error) {
	rows, err := r.q.Query(ctx, `SELECT `+batchColumns+` FROM stock_batches
WHERE product_id = $1 AND superseded_at IS NULL
ORDER BY created_at ASC, id ASC
FOR UPDATE`, productID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var batches []Batch
	for rows.Next() {
		batch, err := scanBatch(rows)
		if err != nil {
			return nil, err
		}
		batches = append(batches, batch)
	}
	return batches, rows.Err()
}

func (r *txRepo) BatchForUpdate(ctx context.Context, id int64) (Batch, error) {
	row := r.q.QueryRow(ctx, `SELECT `+batchColumns+` FROM stock_batches WHERE id = $1 FOR UPDATE`, id)
	batch, err := scanBatch(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Batch{}, shared.NotFound("stock batch", id)
	}
	return batch, err
}

func (r *txRepo) InsertBatch(ctx context.Context, batch Batch) (Batch, error) {
	err := r.q.QueryRow(ctx, `INSERT INTO stock_batches (
	product_id, supplier_id, cumulative_quantity, sold_quantity, remaining_stock,
	previous_batch_id, previous_remaining, unit_cost, version, created_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 1, $9)
RETURNING id, version`,
		batch.ProductID, batch.SupplierID, batch.CumulativeQuantity, batch.SoldQuantity, batch.RemainingStock,
		batch.PreviousBatchID, batch.PreviousRemaining, batch.UnitCost, batch.CreatedAt,
	).Scan(&batch.ID, &batch.Version)
	if err != nil {
		return Batch{}, fmt.Errorf("insert stock batch: %w", err)
	}
	return batch, nil
}

func (r *txRepo) UpdateBatch(ctx context.Context, batch Batch, expectedVersion int64) (Batch, error) {
	err := r.q.QueryRow(ctx, `UPDATE stock_batches
SET sold_quantity = $1, remaining_stock = $2, superseded_at = $3, version = version + 1
WHERE id = $4 AND version = $5
RETURNING version`,
		batch.SoldQuantity, batch.RemainingStock, batch.SupersededAt, batch.ID, expectedVersion,
	).Scan(&batch.Version)
	if errors.Is(err, pgx.ErrNoRows) {
		return Batch{}, fmt.Errorf("update stock batch %d: %w", batch.ID, shared.ErrStaleWrite)
	}
	if err != nil {
		return Batch{}, fmt.Errorf("update stock batch %d: %w", batch.ID, err)
	}
	return batch, nil
}

func scanBatch(row pgx.Row) (Batch, error) {
	var b Batch
	err := row.Scan(
		&b.ID, &b.ProductID, &b.SupplierID, &b.CumulativeQuantity, &b.SoldQuantity, &b.RemainingStock,
		&b.PreviousBatchID, &b.PreviousRemaining, &b.UnitCost, &b.Version, &b.SupersededAt, &b.CreatedAt,
	)
	return b, err
}
