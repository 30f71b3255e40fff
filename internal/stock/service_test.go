package stock_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/pos-ledger/internal/platform/db"
	"github.com/odyssey-erp/pos-ledger/internal/shared"
	"github.com/odyssey-erp/pos-ledger/internal/stock"
	"github.com/odyssey-erp/pos-ledger/internal/store/memory"
)

func qty(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func newService(t *testing.T) (*stock.Service, *memory.Store) {
	t.Helper()
	store := memory.New()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := stock.NewService(store.Stock(), stock.NewLedger(), nil, db.RetryPolicy{MaxAttempts: 3}, logger)
	return svc, store
}

func deliver(t *testing.T, svc *stock.Service, productID, supplierID int64, quantity string) stock.Batch {
	t.Helper()
	batch, err := svc.CreateDelivery(context.Background(), stock.DeliveryInput{
		ProductID:          productID,
		SupplierID:         supplierID,
		CumulativeQuantity: qty(quantity),
		UnitCost:           qty("100"),
		Actor:              "test",
	})
	require.NoError(t, err)
	return batch
}

func TestServiceDeliveryChain(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	first := deliver(t, svc, 1, 7, "100")
	sold, err := svc.RecordSale(ctx, first.ID, qty("30"), "test")
	require.NoError(t, err)
	assert.True(t, sold.RemainingStock.Equal(qty("70")))

	util, err := svc.Utilization(ctx, first.ID)
	require.NoError(t, err)
	assert.True(t, util.Equal(qty("30")))

	second := deliver(t, svc, 1, 7, "50")
	require.NotNil(t, second.PreviousBatchID)
	assert.Equal(t, first.ID, *second.PreviousBatchID)
	assert.True(t, second.PreviousRemaining.Equal(qty("70")))
	assert.True(t, second.RemainingStock.Equal(qty("120")))

	remaining, found, err := svc.LatestRemainingStock(ctx, 1, 7)
	require.NoError(t, err)
	assert.True(t, found)
	assert.True(t, remaining.Equal(qty("120")))

	old, err := svc.GetBatch(ctx, first.ID)
	require.NoError(t, err)
	assert.False(t, old.IsHead())

	_, err = svc.RecordSale(ctx, first.ID, qty("1"), "test")
	assert.ErrorIs(t, err, shared.ErrValidation)

	report, err := svc.VerifyChain(ctx, stock.ChainKey{ProductID: 1, SupplierID: 7})
	require.NoError(t, err)
	assert.True(t, report.Consistent, report.Detail)
	assert.Equal(t, 2, report.Batches)
	assert.True(t, report.Remaining.Equal(qty("120")))
}

func TestServiceLatestRemainingWithoutDeliveries(t *testing.T) {
	svc, _ := newService(t)

	remaining, found, err := svc.LatestRemainingStock(context.Background(), 4, 4)
	require.NoError(t, err)
	assert.False(t, found)
	assert.True(t, remaining.IsZero())

	_, _, err = svc.LatestRemainingStock(context.Background(), 0, 4)
	assert.ErrorIs(t, err, shared.ErrValidation)
}

func TestServiceInsufficientStockLeavesBatch(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	batch := deliver(t, svc, 2, 3, "50")

	_, err := svc.RecordSale(ctx, batch.ID, qty("60"), "test")
	var stockErr *shared.InsufficientStockError
	require.ErrorAs(t, err, &stockErr)
	assert.True(t, stockErr.Shortfall().Equal(qty("10")))

	current, err := svc.GetBatch(ctx, batch.ID)
	require.NoError(t, err)
	assert.True(t, current.RemainingStock.Equal(qty("50")))
	assert.True(t, current.SoldQuantity.IsZero())
}

func TestServiceRejectsInvalidDelivery(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	_, err := svc.CreateDelivery(ctx, stock.DeliveryInput{ProductID: 1, SupplierID: 1, CumulativeQuantity: qty("-1")})
	assert.ErrorIs(t, err, shared.ErrValidation)
	_, err = svc.CreateDelivery(ctx, stock.DeliveryInput{SupplierID: 1, CumulativeQuantity: qty("1")})
	assert.ErrorIs(t, err, shared.ErrValidation)
}

func TestServiceStaleWriteBecomesConflict(t *testing.T) {
	svc, store := newService(t)
	ctx := context.Background()
	batch := deliver(t, svc, 1, 1, "10")

	calls := 0
	store.InjectFault(func(op string) error {
		if op == "UpdateBatch" {
			calls++
			return fmt.Errorf("update: %w", shared.ErrStaleWrite)
		}
		return nil
	})
	_, err := svc.RecordSale(ctx, batch.ID, qty("1"), "test")
	var conflict *shared.ConflictError
	require.True(t, errors.As(err, &conflict))
	assert.Equal(t, 3, conflict.Attempts)
	assert.Equal(t, 3, calls)

	store.InjectFault(nil)
	current, err := svc.GetBatch(ctx, batch.ID)
	require.NoError(t, err)
	assert.True(t, current.RemainingStock.Equal(qty("10")))
}

func TestLedgerReserveAndRestore(t *testing.T) {
	svc, store := newService(t)
	ctx := context.Background()
	ledger := stock.NewLedger()
	repo := store.Stock()

	older := deliver(t, svc, 5, 1, "4")
	newer := deliver(t, svc, 5, 2, "10")

	var allocs [][]stock.Allocation
	err := repo.WithTx(ctx, func(ctx context.Context, tx stock.TxRepository) error {
		var err error
		allocs, err = ledger.Reserve(ctx, tx, []stock.Demand{{Line: 0, ProductID: 5, Units: qty("6")}})
		return err
	})
	require.NoError(t, err)
	require.Len(t, allocs[0], 2)
	assert.Equal(t, older.ID, allocs[0][0].BatchID)
	assert.Equal(t, newer.ID, allocs[0][1].BatchID)

	// a new delivery on supplier 2 moves its head
	head := deliver(t, svc, 5, 2, "5")

	var restored decimal.Decimal
	err = repo.WithTx(ctx, func(ctx context.Context, tx stock.TxRepository) error {
		var err error
		restored, err = ledger.Restore(ctx, tx, allocs[0], qty("6"))
		return err
	})
	require.NoError(t, err)
	// supplier 1 absorbs its 4 on the head; the fresh supplier 2 head has
	// nothing sold, so its 2 come back as a restock batch
	assert.True(t, restored.Equal(qty("6")))

	got, err := svc.GetBatch(ctx, older.ID)
	require.NoError(t, err)
	assert.True(t, got.RemainingStock.Equal(qty("4")))
	got, err = svc.GetBatch(ctx, head.ID)
	require.NoError(t, err)
	assert.False(t, got.IsHead())
	assert.True(t, got.RemainingStock.Equal(qty("13")))

	remaining, ok, err := svc.LatestRemainingStock(ctx, 5, 2)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, remaining.Equal(qty("15")))
	batches, err := svc.ListBatches(ctx, stock.BatchFilter{ProductID: 5, SupplierID: 2})
	require.NoError(t, err)
	require.Len(t, batches, 3)
	assert.True(t, batches[0].CumulativeQuantity.Equal(qty("2")))
	require.NotNil(t, batches[0].PreviousBatchID)
	assert.Equal(t, head.ID, *batches[0].PreviousBatchID)

	for _, key := range []stock.ChainKey{{ProductID: 5, SupplierID: 1}, {ProductID: 5, SupplierID: 2}} {
		report, err := svc.VerifyChain(ctx, key)
		require.NoError(t, err)
		assert.True(t, report.Consistent, report.Detail)
	}
}

func TestReserveIsAllOrNothing(t *testing.T) {
	svc, store := newService(t)
	ctx := context.Background()
	a := deliver(t, svc, 1, 1, "5")
	deliver(t, svc, 2, 1, "1")

	err := store.Stock().WithTx(ctx, func(ctx context.Context, tx stock.TxRepository) error {
		_, err := stock.NewLedger().Reserve(ctx, tx, []stock.Demand{
			{Line: 0, ProductID: 1, Units: qty("2")},
			{Line: 1, ProductID: 2, Units: qty("3")},
		})
		return err
	})
	assert.ErrorIs(t, err, shared.ErrInsufficientStock)

	got, err := svc.GetBatch(ctx, a.ID)
	require.NoError(t, err)
	assert.True(t, got.RemainingStock.Equal(qty("5")))
}

func TestVerifyChainReportsDrift(t *testing.T) {
	svc, store := newService(t)
	ctx := context.Background()
	batch := deliver(t, svc, 3, 3, "20")

	batch.RemainingStock = qty("25")
	store.Stock().OverwriteBatch(batch)

	report, err := svc.VerifyChain(ctx, stock.ChainKey{ProductID: 3, SupplierID: 3})
	require.NoError(t, err)
	assert.False(t, report.Consistent)
	assert.NotEmpty(t, report.Detail)

	keys, err := svc.Chains(ctx)
	require.NoError(t, err)
	assert.Equal(t, []stock.ChainKey{{ProductID: 3, SupplierID: 3}}, keys)
}

func TestRestoreSplitsBetweenHeadAndRestock(t *testing.T) {
	svc, store := newService(t)
	ctx := context.Background()
	ledger := stock.NewLedger()
	repo := store.Stock()

	deliver(t, svc, 7, 1, "10")
	var allocs [][]stock.Allocation
	err := repo.WithTx(ctx, func(ctx context.Context, tx stock.TxRepository) error {
		var err error
		allocs, err = ledger.Reserve(ctx, tx, []stock.Demand{{Line: 0, ProductID: 7, Units: qty("5")}})
		return err
	})
	require.NoError(t, err)

	head := deliver(t, svc, 7, 1, "2")
	_, err = svc.RecordSale(ctx, head.ID, qty("1"), "test")
	require.NoError(t, err)

	var restored decimal.Decimal
	err = repo.WithTx(ctx, func(ctx context.Context, tx stock.TxRepository) error {
		var err error
		restored, err = ledger.Restore(ctx, tx, allocs[0], qty("5"))
		return err
	})
	require.NoError(t, err)
	assert.True(t, restored.Equal(qty("5")))

	// 5 + 2 - 1 on hand before, all 5 returned units are back
	remaining, _, err := svc.LatestRemainingStock(ctx, 7, 1)
	require.NoError(t, err)
	assert.True(t, remaining.Equal(qty("11")))

	got, err := svc.GetBatch(ctx, head.ID)
	require.NoError(t, err)
	assert.True(t, got.SoldQuantity.IsZero())

	report, err := svc.VerifyChain(ctx, stock.ChainKey{ProductID: 7, SupplierID: 1})
	require.NoError(t, err)
	assert.True(t, report.Consistent, report.Detail)
	assert.Equal(t, 3, report.Batches)
}
