package httpx

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/pos-ledger/internal/shared"
)

func TestRespondErrorStatusMapping(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"validation", shared.Validation("qty", "must be positive"), http.StatusBadRequest},
		{"not found", fmt.Errorf("load: %w", shared.NotFound("sale", 9)), http.StatusNotFound},
		{"conflict", &shared.ConflictError{Attempts: 5}, http.StatusConflict},
		{"in flight", shared.ErrIdempotencyInFlight, http.StatusConflict},
		{"invariant", &shared.InvariantViolationError{Entity: "batch", Detail: "negative"}, http.StatusInternalServerError},
		{"unknown", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			RespondError(rec, tc.err)
			assert.Equal(t, tc.want, rec.Code)
		})
	}
}

func TestRespondErrorInsufficientStockDetails(t *testing.T) {
	rec := httptest.NewRecorder()
	RespondError(rec, &shared.InsufficientStockError{
		ProductID: 3,
		Requested: decimal.NewFromInt(60),
		Available: decimal.NewFromInt(50),
	})
	require.Equal(t, http.StatusConflict, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "60", body["requested"])
	assert.Equal(t, "50", body["available"])
	assert.Equal(t, "10", body["shortfall"])
}

func TestDecodeJSONRejectsMalformedBody(t *testing.T) {
	var target struct {
		Qty int `json:"qty"`
	}
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"qty":`))
	err := DecodeJSON(httptest.NewRecorder(), req, &target)
	require.ErrorIs(t, err, shared.ErrValidation)

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"qty":1,"extra":true}`))
	err = DecodeJSON(httptest.NewRecorder(), req, &target)
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestValidateReportsField(t *testing.T) {
	type form struct {
		ProductID int64 `json:"product_id" validate:"required"`
	}
	err := Validate(NewValidator(), form{})
	var verr *shared.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "product_id", verr.Field)
	require.NoError(t, Validate(NewValidator(), form{ProductID: 1}))
}
