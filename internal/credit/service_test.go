package credit_test

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/pos-ledger/internal/credit"
	"github.com/odyssey-erp/pos-ledger/internal/platform/db"
	"github.com/odyssey-erp/pos-ledger/internal/sales"
	"github.com/odyssey-erp/pos-ledger/internal/shared"
	"github.com/odyssey-erp/pos-ledger/internal/store/memory"
)

func amt(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type recordingAudit struct {
	logs []shared.AuditLog
}

func (a *recordingAudit) Record(_ context.Context, log shared.AuditLog) error {
	a.logs = append(a.logs, log)
	return nil
}

func newService(t *testing.T) (*credit.Service, *memory.Store, *recordingAudit) {
	t.Helper()
	store := memory.New()
	store.AddCustomer(sales.Customer{ID: 1, Name: "Ada"})
	audit := &recordingAudit{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return credit.NewService(store.Credit(), credit.NewLedger(), audit, db.RetryPolicy{MaxAttempts: 2}, logger), store, audit
}

func TestServicePostMaintainsRunningBalance(t *testing.T) {
	svc, _, audit := newService(t)
	ctx := context.Background()

	added, err := svc.Post(ctx, credit.PostInput{CustomerID: 1, Type: credit.TypeCreditAdded, Amount: amt("100"), Actor: "cashier"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), added.Seq)
	assert.True(t, added.BalanceAfter.Equal(amt("100")))

	used, err := svc.Post(ctx, credit.PostInput{CustomerID: 1, Type: credit.TypeCreditUsed, Amount: amt("40")})
	require.NoError(t, err)
	assert.Equal(t, int64(2), used.Seq)
	assert.True(t, used.BalanceAfter.Equal(amt("60")))

	balance, err := svc.CurrentBalance(ctx, 1)
	require.NoError(t, err)
	assert.True(t, balance.Equal(amt("60")))

	history, err := svc.History(ctx, 1, 0)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, used.ID, history[0].ID)

	result, err := svc.Verify(ctx, 1)
	require.NoError(t, err)
	assert.True(t, result.Consistent)
	assert.Equal(t, 2, result.Entries)
	assert.True(t, result.Replayed.Equal(result.Snapshot))

	require.Len(t, audit.logs, 2)
	assert.Equal(t, "credit:credit_added", audit.logs[0].Action)
}

func TestServiceManualDrawNeedsBalance(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()

	_, err := svc.Post(ctx, credit.PostInput{CustomerID: 1, Type: credit.TypeCreditAdded, Amount: amt("10")})
	require.NoError(t, err)

	_, err = svc.Post(ctx, credit.PostInput{CustomerID: 1, Type: credit.TypeCreditUsed, Amount: amt("10.01")})
	assert.ErrorIs(t, err, shared.ErrValidation)

	balance, err := svc.CurrentBalance(ctx, 1)
	require.NoError(t, err)
	assert.True(t, balance.Equal(amt("10")))
}

func TestServicePostValidation(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()

	cases := map[string]credit.PostInput{
		"zero amount":    {CustomerID: 1, Type: credit.TypeCreditAdded, Amount: decimal.Zero},
		"negative":       {CustomerID: 1, Type: credit.TypeCreditAdded, Amount: amt("-5")},
		"too precise":    {CustomerID: 1, Type: credit.TypeCreditAdded, Amount: amt("1.005")},
		"unknown type":   {CustomerID: 1, Type: "gift", Amount: amt("1")},
		"missing member": {Type: credit.TypeCreditAdded, Amount: amt("1")},
	}
	for name, input := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := svc.Post(ctx, input)
			assert.ErrorIs(t, err, shared.ErrValidation)
		})
	}

	_, err := svc.Post(ctx, credit.PostInput{CustomerID: 42, Type: credit.TypeCreditAdded, Amount: amt("1")})
	assert.ErrorIs(t, err, shared.ErrNotFound)
}

func TestServiceUnknownCustomer(t *testing.T) {
	svc, _, _ := newService(t)

	_, err := svc.CurrentBalance(context.Background(), 9)
	assert.ErrorIs(t, err, shared.ErrNotFound)
	_, err = svc.History(context.Background(), 9, 10)
	assert.ErrorIs(t, err, shared.ErrNotFound)
}

func TestServiceVerifyFlagsDrift(t *testing.T) {
	svc, store, _ := newService(t)
	ctx := context.Background()

	_, err := svc.Post(ctx, credit.PostInput{CustomerID: 1, Type: credit.TypeCreditAdded, Amount: amt("50")})
	require.NoError(t, err)
	store.Credit().AppendRaw(credit.Entry{CustomerID: 1, Seq: 2, Type: credit.TypeCreditUsed, Amount: amt("5"), BalanceAfter: amt("50")})

	result, err := svc.Verify(ctx, 1)
	require.NoError(t, err)
	assert.False(t, result.Consistent)
	assert.Contains(t, result.Detail, "balance_after")

	ids, err := svc.Customers(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{1}, ids)
}

func TestHandlerRoutes(t *testing.T) {
	svc, _, _ := newService(t)
	h := credit.NewHandler(slog.New(slog.NewTextHandler(io.Discard, nil)), svc)
	r := chi.NewRouter()
	r.Route("/customers/{id}", h.MountRoutes)

	req := httptest.NewRequest(http.MethodPost, "/customers/1/credits", strings.NewReader(`{"transaction_type":"credit_added","amount":"25.00"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/customers/1/balance", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"balance":"25"`)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/customers/1/credits/verify", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"consistent":true`)

	req = httptest.NewRequest(http.MethodPost, "/customers/1/credits", strings.NewReader(`{"transaction_type":"loan","amount":"1"}`))
	req.Header.Set("Content-Type", "application/json")
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
