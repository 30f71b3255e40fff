package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/pos-ledger/internal/credit"
	"github.com/odyssey-erp/pos-ledger/internal/observability"
	"github.com/odyssey-erp/pos-ledger/internal/returns"
	"github.com/odyssey-erp/pos-ledger/internal/sales"
	"github.com/odyssey-erp/pos-ledger/internal/stock"
	"github.com/odyssey-erp/pos-ledger/internal/store/memory"
	"github.com/odyssey-erp/pos-ledger/jobs"
)

func newTestRouter(t *testing.T, checks map[string]HealthChecker) http.Handler {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := &Config{SaleMaxAttempts: 3}
	metrics := observability.NewMetrics()
	svcs := NewServices(ServiceDeps{
		Config:  cfg,
		Logger:  logger,
		Backend: MemoryBackend(memory.NewSeeded()),
		Metrics: metrics,
	})
	return NewRouter(RouterParams{
		Logger:         logger,
		Config:         cfg,
		StockHandler:   stock.NewHandler(logger, svcs.Stock),
		CreditHandler:  credit.NewHandler(logger, svcs.Credit),
		SalesHandler:   sales.NewHandler(logger, svcs.Sales),
		ReturnsHandler: returns.NewHandler(logger, svcs.Returns),
		JobHandler:     jobs.NewHandler(nil, nil, logger),
		Metrics:        metrics,
		Checks:         checks,
	})
}

func do(t *testing.T, h http.Handler, method, path string, body any, out any) int {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Actor", "cashier-1")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if out != nil && rr.Code < 300 {
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), out), rr.Body.String())
	}
	return rr.Code
}

func TestRouterSaleAndReturnFlow(t *testing.T) {
	h := newTestRouter(t, nil)

	code := do(t, h, http.MethodPost, "/stock/deliveries", map[string]any{
		"product_id": 2, "supplier_id": 10, "cumulative_quantity": "100", "unit_cost": "7000",
	}, nil)
	require.Equal(t, http.StatusCreated, code)

	var sale sales.Sale
	code = do(t, h, http.MethodPost, "/sales", map[string]any{
		"customer_id": 2,
		"sale_type":   "retail",
		"items":       []map[string]any{{"product_id": 2, "quantity": "3", "unit_price": "9000"}},
		"payments":    []map[string]any{{"method": "cash", "amount": "20000"}},
	}, &sale)
	require.Equal(t, http.StatusCreated, code)
	assert.True(t, sales.ValidTransactionID(sale.TransactionID))
	assert.True(t, sale.AmountDue.Equal(decimal.NewFromInt(7000)))
	require.Len(t, sale.Items, 1)

	var balance struct {
		Balance decimal.Decimal `json:"balance"`
	}
	require.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/customers/2/balance", nil, &balance))
	assert.True(t, balance.Balance.Equal(decimal.NewFromInt(-7000)), balance.Balance.String())

	var latest struct {
		RemainingStock decimal.Decimal `json:"remaining_stock"`
	}
	require.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/stock/latest?product_id=2&supplier_id=10", nil, &latest))
	assert.True(t, latest.RemainingStock.Equal(decimal.NewFromInt(97)))

	var ret returns.Return
	code = do(t, h, http.MethodPost, "/returns", map[string]any{
		"sale_id": sale.ID,
		"items":   []map[string]any{{"sale_item_id": sale.Items[0].ID, "quantity": "1"}},
		"reason":  "cracked container",
	}, &ret)
	require.Equal(t, http.StatusCreated, code)
	assert.Equal(t, returns.StatusPending, ret.Status)

	require.Equal(t, http.StatusOK, do(t, h, http.MethodPost, fmt.Sprintf("/returns/%d/approve", ret.ID), nil, &ret))
	assert.Equal(t, returns.StatusApproved, ret.Status)
	assert.True(t, ret.RefundAmount.Equal(decimal.NewFromInt(9000)))

	require.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/customers/2/balance", nil, &balance))
	assert.True(t, balance.Balance.Equal(decimal.NewFromInt(2000)), balance.Balance.String())
	require.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/stock/latest?product_id=2&supplier_id=10", nil, &latest))
	assert.True(t, latest.RemainingStock.Equal(decimal.NewFromInt(98)))

	var verify credit.VerifyResult
	require.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/customers/2/credits/verify", nil, &verify))
	assert.True(t, verify.Consistent)
	assert.Equal(t, 2, verify.Entries)

	var byTx []sales.Sale
	require.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/sales?transaction_id=%23"+sale.TransactionID[1:], nil, &byTx))
	require.Len(t, byTx, 1)
	assert.Equal(t, sale.ID, byTx[0].ID)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Contains(t, rr.Body.String(), `posledger_sales_total{sale_type="retail"} 1`)
}

func TestRouterInsufficientStockProblem(t *testing.T) {
	h := newTestRouter(t, nil)
	require.Equal(t, http.StatusCreated, do(t, h, http.MethodPost, "/stock/deliveries", map[string]any{
		"product_id": 3, "supplier_id": 10, "cumulative_quantity": "50",
	}, nil))

	body, err := json.Marshal(map[string]any{
		"sale_type": "retail",
		"items":     []map[string]any{{"product_id": 3, "quantity": "60", "unit_price": "1900"}},
		"payments":  []map[string]any{{"method": "cash", "amount": "114000"}},
	})
	require.NoError(t, err)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/sales", bytes.NewReader(body)))
	require.Equal(t, http.StatusConflict, rr.Code)

	var problem map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &problem))
	assert.Equal(t, "60", problem["requested"])
	assert.Equal(t, "50", problem["available"])
	assert.Equal(t, "10", problem["shortfall"])

	var latest struct {
		RemainingStock decimal.Decimal `json:"remaining_stock"`
	}
	require.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/stock/latest?product_id=3&supplier_id=10", nil, &latest))
	assert.True(t, latest.RemainingStock.Equal(decimal.NewFromInt(50)))
}

func TestRouterHealthAndReadiness(t *testing.T) {
	h := newTestRouter(t, map[string]HealthChecker{
		"postgres": func(context.Context) error { return nil },
		"redis":    func(context.Context) error { return errors.New("dial tcp: refused") },
	})

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "nosniff", rr.Header().Get("X-Content-Type-Options"))

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	var status map[string]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &status))
	assert.Equal(t, map[string]string{"postgres": "ok", "redis": "unavailable"}, status)

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/jobs/health", nil))
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/jobs/ledger-integrity", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}
