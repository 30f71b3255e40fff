package db

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/pos-ledger/internal/shared"
)

func TestRetryStopsOnSuccess(t *testing.T) {
	calls := 0
	retried := 0
	policy := RetryPolicy{MaxAttempts: 4, OnRetry: func(int, error) { retried++ }}
	err := policy.Do(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return fmt.Errorf("update batch: %w", shared.ErrStaleWrite)
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 3, calls)
	require.Equal(t, 2, retried)
}

func TestRetryExhaustionReturnsConflict(t *testing.T) {
	calls := 0
	err := RetryPolicy{MaxAttempts: 3}.Do(context.Background(), func(context.Context) error {
		calls++
		return &pgconn.PgError{Code: "40001"}
	})
	require.Equal(t, 3, calls)
	require.ErrorIs(t, err, shared.ErrConflict)

	var conflict *shared.ConflictError
	require.True(t, errors.As(err, &conflict))
	require.Equal(t, 3, conflict.Attempts)
}

func TestRetryPassesThroughPermanentErrors(t *testing.T) {
	calls := 0
	err := RetryPolicy{MaxAttempts: 5}.Do(context.Background(), func(context.Context) error {
		calls++
		return shared.Validation("discount", "must not be negative")
	})
	require.Equal(t, 1, calls)
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestRetryRespectsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	calls := 0
	err := RetryPolicy{}.Do(ctx, func(context.Context) error {
		calls++
		return nil
	})
	require.ErrorIs(t, err, context.Canceled)
	require.Zero(t, calls)
}

func TestIsRetryable(t *testing.T) {
	require.True(t, IsRetryable(&pgconn.PgError{Code: "40P01"}))
	require.True(t, IsRetryable(&pgconn.PgError{Code: "23505"}))
	require.False(t, IsRetryable(&pgconn.PgError{Code: "23503"}))
	require.False(t, IsRetryable(errors.New("boom")))
	require.False(t, IsRetryable(nil))
}
