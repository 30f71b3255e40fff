package db

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/odyssey-erp/pos-ledger/internal/shared"
)

const (
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
	codeUniqueViolation      = "23505"
)

// DefaultMaxAttempts bounds optimistic retries when no policy is configured.
const DefaultMaxAttempts = 5

// RetryPolicy is the bounded-retry combinator wrapped around optimistic
// units of work.
type RetryPolicy struct {
	MaxAttempts int
	Backoff     time.Duration
	// OnRetry is called before each new attempt.
	OnRetry func(attempt int, err error)
}

// IsRetryable reports whether err came from a lost optimistic race.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, shared.ErrStaleWrite) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case codeSerializationFailure, codeDeadlockDetected, codeUniqueViolation:
			return true
		}
	}
	return false
}

// Do runs fn until it succeeds, fails with a non-retryable error, or the
// attempt budget is spent, in which case a *shared.ConflictError is returned.
func (p RetryPolicy) Do(ctx context.Context, fn func(context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = DefaultMaxAttempts
	}
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if !IsRetryable(err) {
			return err
		}
		lastErr = err
		if attempt == attempts {
			break
		}
		if p.OnRetry != nil {
			p.OnRetry(attempt, err)
		}
		if p.Backoff > 0 {
			timer := time.NewTimer(time.Duration(attempt) * p.Backoff)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}
	}
	return &shared.ConflictError{Attempts: attempts, Err: lastErr}
}
