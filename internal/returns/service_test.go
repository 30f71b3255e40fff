package returns_test

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/pos-ledger/internal/credit"
	"github.com/odyssey-erp/pos-ledger/internal/platform/db"
	"github.com/odyssey-erp/pos-ledger/internal/returns"
	"github.com/odyssey-erp/pos-ledger/internal/sales"
	"github.com/odyssey-erp/pos-ledger/internal/shared"
	"github.com/odyssey-erp/pos-ledger/internal/stock"
	"github.com/odyssey-erp/pos-ledger/internal/store/memory"
)

const (
	customerID int64 = 1
	productID  int64 = 10
	supplierID int64 = 20
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type fixture struct {
	stock   *stock.Service
	credit  *credit.Service
	sales   *sales.Service
	returns *returns.Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.New()
	store.AddCustomer(sales.Customer{ID: customerID, Name: "Amaka"})
	store.AddProduct(sales.Product{ID: productID, Name: "Palm Oil 4L", Price: dec("100")})
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	stockLedger, creditLedger := stock.NewLedger(), credit.NewLedger()
	f := &fixture{
		stock:   stock.NewService(store.Stock(), stockLedger, nil, db.RetryPolicy{}, logger),
		credit:  credit.NewService(store.Credit(), creditLedger, nil, db.RetryPolicy{}, logger),
		sales:   sales.NewService(store.Sales(), stockLedger, creditLedger, sales.Config{Logger: logger}),
		returns: returns.NewService(store.Returns(), stockLedger, creditLedger, nil, db.RetryPolicy{}, logger),
	}
	f.deliver(t, "10")
	return f
}

func (f *fixture) deliver(t *testing.T, quantity string) {
	t.Helper()
	_, err := f.stock.CreateDelivery(context.Background(), stock.DeliveryInput{
		ProductID: productID, SupplierID: supplierID, CumulativeQuantity: dec(quantity),
	})
	require.NoError(t, err)
}

// sell books 3 × 100 with a 30 discount, paid in full.
func (f *fixture) sell(t *testing.T, customer *int64) sales.Sale {
	t.Helper()
	sale, err := f.sales.CreateSale(context.Background(), sales.CreateSaleInput{
		CustomerID: customer,
		Type:       sales.SaleTypeRetail,
		Items:      []sales.ItemInput{{ProductID: productID, Quantity: dec("3"), UnitPrice: dec("100")}},
		Payments:   []sales.PaymentInput{{Method: sales.PaymentCash, Amount: dec("270")}},
		Discount:   dec("30"),
	})
	require.NoError(t, err)
	return sale
}

func (f *fixture) remaining(t *testing.T) decimal.Decimal {
	t.Helper()
	remaining, _, err := f.stock.LatestRemainingStock(context.Background(), productID, supplierID)
	require.NoError(t, err)
	return remaining
}

func (f *fixture) balance(t *testing.T) decimal.Decimal {
	t.Helper()
	balance, err := f.credit.CurrentBalance(context.Background(), customerID)
	require.NoError(t, err)
	return balance
}

func returnOne(saleID, itemID int64, qty string) returns.CreateInput {
	return returns.CreateInput{
		SaleID: saleID,
		Items:  []returns.ItemInput{{SaleItemID: itemID, Quantity: dec(qty)}},
		Reason: "damaged seal",
		Actor:  "supervisor",
	}
}

func TestReturnApproveRestoresStockAndRefunds(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := customerID
	sale := f.sell(t, &id)
	require.True(t, f.remaining(t).Equal(dec("7")))

	ret, err := f.returns.CreateReturn(ctx, returnOne(sale.ID, sale.Items[0].ID, "1"))
	require.NoError(t, err)
	assert.Equal(t, returns.StatusPending, ret.Status)
	assert.True(t, ret.RefundAmount.Equal(dec("90")))
	// pending returns do not touch the ledgers
	assert.True(t, f.remaining(t).Equal(dec("7")))
	assert.True(t, f.balance(t).IsZero())

	approved, err := f.returns.Approve(ctx, ret.ID, "ok", "manager")
	require.NoError(t, err)
	assert.Equal(t, returns.StatusApproved, approved.Status)
	assert.True(t, approved.Items[0].RestoredUnits.Equal(dec("1")))
	require.NotNil(t, approved.DecidedAt)
	assert.True(t, f.remaining(t).Equal(dec("8")))
	assert.True(t, f.balance(t).Equal(dec("90")))

	history, err := f.credit.History(ctx, customerID, 10)
	require.NoError(t, err)
	require.NotEmpty(t, history)
	assert.Equal(t, credit.TypeCreditRefund, history[0].Type)
	require.NotNil(t, history[0].ReturnID)
	assert.Equal(t, ret.ID, *history[0].ReturnID)

	completed, err := f.returns.Complete(ctx, ret.ID, "manager")
	require.NoError(t, err)
	assert.Equal(t, returns.StatusCompleted, completed.Status)
	require.NotNil(t, completed.CompletedAt)

	report, err := f.stock.VerifyChain(ctx, stock.ChainKey{ProductID: productID, SupplierID: supplierID})
	require.NoError(t, err)
	assert.True(t, report.Consistent, report.Detail)
}

func TestReturnCannotOverClaim(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sale := f.sell(t, nil)
	itemID := sale.Items[0].ID

	_, err := f.returns.CreateReturn(ctx, returnOne(sale.ID, itemID, "4"))
	assert.ErrorIs(t, err, shared.ErrValidation)

	first, err := f.returns.CreateReturn(ctx, returnOne(sale.ID, itemID, "2"))
	require.NoError(t, err)
	_, err = f.returns.CreateReturn(ctx, returnOne(sale.ID, itemID, "2"))
	assert.ErrorIs(t, err, shared.ErrValidation)

	// a rejected return releases its claim
	_, err = f.returns.Reject(ctx, first.ID, "no receipt", "manager")
	require.NoError(t, err)
	_, err = f.returns.CreateReturn(ctx, returnOne(sale.ID, itemID, "3"))
	require.NoError(t, err)

	list, err := f.returns.ListReturns(ctx, sale.ID)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, returns.StatusRejected, list[0].Status)
}

func TestReturnValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sale := f.sell(t, nil)
	itemID := sale.Items[0].ID

	noReason := returnOne(sale.ID, itemID, "1")
	noReason.Reason = "  "
	_, err := f.returns.CreateReturn(ctx, noReason)
	assert.ErrorIs(t, err, shared.ErrValidation)

	_, err = f.returns.CreateReturn(ctx, returnOne(sale.ID, itemID, "0"))
	assert.ErrorIs(t, err, shared.ErrValidation)

	_, err = f.returns.CreateReturn(ctx, returnOne(sale.ID, 9999, "1"))
	assert.ErrorIs(t, err, shared.ErrValidation)

	_, err = f.returns.CreateReturn(ctx, returnOne(4242, itemID, "1"))
	assert.ErrorIs(t, err, shared.ErrNotFound)

	_, err = f.returns.ListReturns(ctx, 0)
	assert.ErrorIs(t, err, shared.ErrValidation)
}

func TestReturnWorkflowTransitions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sale := f.sell(t, nil)

	ret, err := f.returns.CreateReturn(ctx, returnOne(sale.ID, sale.Items[0].ID, "1"))
	require.NoError(t, err)

	_, err = f.returns.Complete(ctx, ret.ID, "manager")
	assert.ErrorIs(t, err, shared.ErrValidation)

	_, err = f.returns.Reject(ctx, ret.ID, "", "manager")
	assert.ErrorIs(t, err, shared.ErrValidation)

	_, err = f.returns.Approve(ctx, ret.ID, "", "manager")
	require.NoError(t, err)
	_, err = f.returns.Approve(ctx, ret.ID, "", "manager")
	assert.ErrorIs(t, err, shared.ErrValidation)
	_, err = f.returns.Reject(ctx, ret.ID, "too late", "manager")
	assert.ErrorIs(t, err, shared.ErrValidation)

	_, err = f.returns.Approve(ctx, 777, "", "manager")
	assert.ErrorIs(t, err, shared.ErrNotFound)

	// walk-in sale: stock comes back, no credit posted
	assert.True(t, f.remaining(t).Equal(dec("8")))
	got, err := f.returns.GetReturn(ctx, ret.ID)
	require.NoError(t, err)
	assert.Equal(t, returns.StatusApproved, got.Status)
}

func TestReturnAfterNewDeliveryRestoresEveryUnit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := customerID
	sale := f.sell(t, &id)

	// the new head has nothing sold, so the returned units restock the chain
	f.deliver(t, "5")
	require.True(t, f.remaining(t).Equal(dec("12")))

	ret, err := f.returns.CreateReturn(ctx, returnOne(sale.ID, sale.Items[0].ID, "2"))
	require.NoError(t, err)
	approved, err := f.returns.Approve(ctx, ret.ID, "", "manager")
	require.NoError(t, err)
	assert.True(t, approved.Items[0].RestoredUnits.Equal(dec("2")))
	assert.True(t, f.remaining(t).Equal(dec("14")))
	assert.True(t, f.balance(t).Equal(dec("180")))

	report, err := f.stock.VerifyChain(ctx, stock.ChainKey{ProductID: productID, SupplierID: supplierID})
	require.NoError(t, err)
	assert.True(t, report.Consistent, report.Detail)
	assert.Equal(t, 3, report.Batches)
}

func TestPartialReturnsRestoreOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sale := f.sell(t, nil)
	itemID := sale.Items[0].ID

	for i := 0; i < 3; i++ {
		ret, err := f.returns.CreateReturn(ctx, returnOne(sale.ID, itemID, "1"))
		require.NoError(t, err)
		_, err = f.returns.Approve(ctx, ret.ID, "", "manager")
		require.NoError(t, err)
	}
	assert.True(t, f.remaining(t).Equal(dec("10")))

	_, err := f.returns.CreateReturn(ctx, returnOne(sale.ID, itemID, "1"))
	assert.ErrorIs(t, err, shared.ErrValidation)
}

func TestPartialRefundsNeverExceedLineValue(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := customerID
	// 3 × 1.00 less 1.00 discount: each unit is worth 0.666…
	sale, err := f.sales.CreateSale(ctx, sales.CreateSaleInput{
		CustomerID: &id,
		Type:       sales.SaleTypeRetail,
		Items:      []sales.ItemInput{{ProductID: productID, Quantity: dec("3"), UnitPrice: dec("1")}},
		Payments:   []sales.PaymentInput{{Method: sales.PaymentCash, Amount: dec("2")}},
		Discount:   dec("1"),
	})
	require.NoError(t, err)
	require.True(t, sale.Total.Equal(dec("2")))

	var refunds []decimal.Decimal
	for i := 0; i < 3; i++ {
		ret, err := f.returns.CreateReturn(ctx, returnOne(sale.ID, sale.Items[0].ID, "1"))
		require.NoError(t, err)
		_, err = f.returns.Approve(ctx, ret.ID, "", "manager")
		require.NoError(t, err)
		refunds = append(refunds, ret.RefundAmount)
	}
	assert.True(t, refunds[0].Equal(dec("0.67")))
	assert.True(t, refunds[1].Equal(dec("0.67")))
	assert.True(t, refunds[2].Equal(dec("0.66")))
	assert.True(t, f.balance(t).Equal(sale.Total))
}

func TestRejectedReturnFreesItsRefund(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := customerID
	sale := f.sell(t, &id)
	itemID := sale.Items[0].ID

	ret, err := f.returns.CreateReturn(ctx, returnOne(sale.ID, itemID, "3"))
	require.NoError(t, err)
	_, err = f.returns.Reject(ctx, ret.ID, "seal intact", "manager")
	require.NoError(t, err)

	ret, err = f.returns.CreateReturn(ctx, returnOne(sale.ID, itemID, "3"))
	require.NoError(t, err)
	assert.True(t, ret.RefundAmount.Equal(dec("270")))
}
