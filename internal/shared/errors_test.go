package shared

import (
	"errors"
	"fmt"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestErrorKinds(t *testing.T) {
	assert.ErrorIs(t, fmt.Errorf("wrap: %w", Validation("qty", "bad")), ErrValidation)
	assert.ErrorIs(t, NotFound("sale", 7), ErrNotFound)
	assert.ErrorIs(t, &InvariantViolationError{Entity: "batch", Detail: "negative"}, ErrInvariantViolation)

	conflict := &ConflictError{Attempts: 5, Err: fmt.Errorf("row: %w", ErrStaleWrite)}
	assert.ErrorIs(t, conflict, ErrConflict)
	assert.ErrorIs(t, conflict, ErrStaleWrite)
	assert.Contains(t, conflict.Error(), "5 attempts")

	stock := &InsufficientStockError{ProductID: 3, Requested: decimal.NewFromInt(60), Available: decimal.NewFromInt(50)}
	assert.True(t, errors.Is(stock, ErrInsufficientStock))
	assert.Equal(t, "10", stock.Shortfall().String())
	assert.Equal(t, "sale 7 not found", NotFound("sale", 7).Error())
	assert.Equal(t, "bad", Validation("", "bad").Error())
}

func TestHasScale(t *testing.T) {
	assert.True(t, HasScale(decimal.RequireFromString("1.25"), MoneyPlaces))
	assert.True(t, HasScale(decimal.RequireFromString("1.250"), MoneyPlaces))
	assert.False(t, HasScale(decimal.RequireFromString("1.255"), MoneyPlaces))
	assert.True(t, HasScale(decimal.RequireFromString("0.125"), QuantityPlaces))
	assert.False(t, HasScale(decimal.RequireFromString("0.1255"), QuantityPlaces))
}
