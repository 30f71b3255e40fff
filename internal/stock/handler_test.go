package stock_test

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/pos-ledger/internal/stock"
)

func newRouter(t *testing.T) http.Handler {
	t.Helper()
	svc, _ := newService(t)
	h := stock.NewHandler(slog.New(slog.NewTextHandler(io.Discard, nil)), svc)
	r := chi.NewRouter()
	r.Route("/stock", h.MountRoutes)
	return r
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHandlerDeliveryAndSale(t *testing.T) {
	r := newRouter(t)

	rec := do(t, r, http.MethodPost, "/stock/deliveries", `{"product_id":1,"supplier_id":2,"cumulative_quantity":"100","unit_cost":"50"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var batch struct {
		ID             int64  `json:"id"`
		RemainingStock string `json:"remaining_stock"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &batch))
	assert.Equal(t, "100", batch.RemainingStock)

	rec = do(t, r, http.MethodPost, fmt.Sprintf("/stock/batches/%d/sales", batch.ID), `{"quantity":"30"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var sold struct {
		RemainingStock string `json:"remaining_stock"`
		Utilization    string `json:"utilization_percentage"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sold))
	assert.Equal(t, "70", sold.RemainingStock)
	assert.Equal(t, "30", sold.Utilization)

	rec = do(t, r, http.MethodGet, "/stock/latest?product_id=1&supplier_id=2", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"found":true`)
	assert.Contains(t, rec.Body.String(), `"remaining_stock":"70"`)

	rec = do(t, r, http.MethodGet, "/stock/batches?product_id=1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list []json.RawMessage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Len(t, list, 1)
}

func TestHandlerErrors(t *testing.T) {
	r := newRouter(t)

	rec := do(t, r, http.MethodPost, "/stock/deliveries", `{"product_id":0,"supplier_id":2,"cumulative_quantity":"1"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, r, http.MethodGet, "/stock/batches/99", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, r, http.MethodGet, "/stock/latest?product_id=x&supplier_id=2", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, r, http.MethodPost, "/stock/deliveries", `{"product_id":1,"supplier_id":1,"cumulative_quantity":"50"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	rec = do(t, r, http.MethodPost, "/stock/batches/1/sales", `{"quantity":"60"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), `"shortfall"`)
}
