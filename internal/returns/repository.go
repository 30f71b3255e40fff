package returns

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/pos-ledger/internal/credit"
	"github.com/odyssey-erp/pos-ledger/internal/platform/db"
	"github.com/odyssey-erp/pos-ledger/internal/sales"
	"github.com/odyssey-erp/pos-ledger/internal/shared"
	"github.com/odyssey-erp/pos-ledger/internal/stock"
)

const returnColumns = `id, sale_id, status, reason, refund_amount, decision_note, created_by, created_at, decided_at, completed_at`

// Repository persists returns in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
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

// WithTx executes the callback inside repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{
			stockTx:  stock.NewTxRepository(tx),
			creditTx: credit.NewTxRepository(tx),
			q:        tx,
		})
	})
}

// GetReturn loads a return with its items.
func (r *Repository) GetReturn(ctx context.Context, id int64) (Return, error) {
	return loadReturn(ctx, r.pool, id, false)
}

// ListReturns lists the returns of a sale oldest first.
func (r *Repository) ListReturns(ctx context.Context, saleID int64) ([]Return, error) {
	rows, err := r.pool.Query(ctx, `SELECT id FROM returns WHERE sale_id = $1 ORDER BY id`, saleID)
	if err != nil {
		return nil, err
	}
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	out := make([]Return, 0, len(ids))
	for _, id := range ids {
		ret, err := loadReturn(ctx, r.pool, id, false)
		if err != nil {
			return nil, err
		}
		out = append(out, ret)
	}
	return out, nil
}

func (t *txRepo) SaleForUpdate(ctx context.Context, saleID int64) (sales.Sale, error) {
	var id int64
	err := t.q.QueryRow(ctx, `SELECT id FROM sales WHERE id = $1 FOR UPDATE`, saleID).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return sales.Sale{}, shared.NotFound("sale", saleID)
	}
	if err != nil {
		return sales.Sale{}, fmt.Errorf("lock sale %d: %w", saleID, err)
	}
	return sales.LoadSale(ctx, t.q, id)
}

func (t *txRepo) Claims(ctx context.Context, saleID int64) (map[int64]Claim, error) {
	rows, err := t.q.Query(ctx, `SELECT ri.sale_item_id, SUM(ri.quantity), SUM(ri.refund_amount), SUM(ri.restored_units)
FROM return_items ri JOIN returns r ON r.id = ri.return_id
WHERE r.sale_id = $1 AND r.status <> $2
GROUP BY ri.sale_item_id`, saleID, string(StatusRejected))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	claims := make(map[int64]Claim)
	for rows.Next() {
		var id int64
		var qty, refunded, restored decimal.Decimal
		if err := rows.Scan(&id, &qty, &refunded, &restored); err != nil {
			return nil, err
		}
		claims[id] = Claim{Quantity: qty, Refunded: refunded, RestoredUnits: restored}
	}
	return claims, rows.Err()
}

func (t *txRepo) InsertReturn(ctx context.Context, ret Return) (Return, error) {
	err := t.q.QueryRow(ctx, `INSERT INTO returns (sale_id, status, reason, refund_amount, decision_note, created_by, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id`,
		ret.SaleID, string(ret.Status), ret.Reason, ret.RefundAmount, ret.DecisionNote, ret.CreatedBy, ret.CreatedAt,
	).Scan(&ret.ID)
	if err != nil {
		return Return{}, fmt.Errorf("insert return: %w", err)
	}
	items := make([]Item, len(ret.Items))
	for i, it := range ret.Items {
		it.ReturnID = ret.ID
		err := t.q.QueryRow(ctx, `INSERT INTO return_items (return_id, sale_item_id, product_id, quantity, refund_amount, restored_units)
VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`,
			ret.ID, it.SaleItemID, it.ProductID, it.Quantity, it.RefundAmount, it.RestoredUnits,
		).Scan(&it.ID)
		if err != nil {
			return Return{}, fmt.Errorf("insert return item: %w", err)
		}
		items[i] = it
	}
	ret.Items = items
	return ret, nil
}

func (t *txRepo) ReturnForUpdate(ctx context.Context, id int64) (Return, error) {
	return loadReturn(ctx, t.q, id, true)
}

func (t *txRepo) UpdateReturn(ctx context.Context, ret Return) error {
	tag, err := t.q.Exec(ctx, `UPDATE returns
SET status = $1, decision_note = $2, decided_at = $3, completed_at = $4
WHERE id = $5`, string(ret.Status), ret.DecisionNote, ret.DecidedAt, ret.CompletedAt, ret.ID)
	if err != nil {
		return fmt.Errorf("update return %d: %w", ret.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return shared.NotFound("return", ret.ID)
	}
	for _, it := range ret.Items {
		if _, err := t.q.Exec(ctx, `UPDATE return_items SET restored_units = $1 WHERE id = $2`, it.RestoredUnits, it.ID); err != nil {
			return fmt.Errorf("update return item %d: %w", it.ID, err)
		}
	}
	return nil
}

func loadReturn(ctx context.Context, q db.Querier, id int64, lock bool) (Return, error) {
	query := `SELECT ` + returnColumns + ` FROM returns WHERE id = $1`
	if lock {
		query += ` FOR UPDATE`
	}
	var ret Return
	var status string
	err := q.QueryRow(ctx, query, id).Scan(&ret.ID, &ret.SaleID, &status, &ret.Reason, &ret.RefundAmount,
		&ret.DecisionNote, &ret.CreatedBy, &ret.CreatedAt, &ret.DecidedAt, &ret.CompletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Return{}, shared.NotFound("return", id)
	}
	if err != nil {
		return Return{}, err
	}
	ret.Status = Status(status)
	rows, err := q.Query(ctx, `SELECT id, return_id, sale_item_id, product_id, quantity, refund_amount, restored_units
FROM return_items WHERE return_id = $1 ORDER BY id`, id)
	if err != nil {
		return Return{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var it Item
		if err := rows.Scan(&it.ID, &it.ReturnID, &it.SaleItemID, &it.ProductID, &it.Quantity, &it.RefundAmount, &it.RestoredUnits); err != nil {
			return Return{}, err
		}
		ret.Items = append(ret.Items, it)
	}
	return ret, rows.Err()
}
