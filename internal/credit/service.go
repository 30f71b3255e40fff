package credit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/pos-ledger/internal/platform/db"
	"github.com/odyssey-erp/pos-ledger/internal/shared"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	EnsureCustomer(ctx context.Context, customerID int64) error
	LatestEntry(ctx context.Context, customerID int64) (Entry, error)
	ListEntries(ctx context.Context, customerID int64, limit int) ([]Entry, error)
	AllEntries(ctx context.Context, customerID int64) ([]Entry, error)
	CustomerIDs(ctx context.Context) ([]int64, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service exposes the credit ledger outside of sales and returns.
type Service struct {
	repo   RepositoryPort
	ledger *Ledger
	audit  AuditPort
	retry  db.RetryPolicy
	logger *slog.Logger
}

// NewService builds Service.
func NewService(repo RepositoryPort, ledger *Ledger, audit AuditPort, retry db.RetryPolicy, logger *slog.Logger) *Service {
	if ledger == nil {
		ledger = NewLedger()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, ledger: ledger, audit: audit, retry: retry, logger: logger}
}

// Post appends a manual entry such as a top-up or an offsetting correction.
func (s *Service) Post(ctx context.Context, input PostInput) (Entry, error) {
	var entry Entry
	err := s.retry.Do(ctx, func(ctx context.Context) error {
		return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			// manual draws cannot take the balance below zero
			if input.Type == TypeCreditUsed && input.CustomerID > 0 {
				balance, err := s.ledger.CurrentBalance(ctx, tx, input.CustomerID)
				if err != nil {
					return err
				}
				if balance.LessThan(input.Amount) {
					return shared.Validation("amount", "insufficient credit balance: %s available", balance)
				}
			}
			var err error
			entry, err = s.ledger.Post(ctx, tx, input)
			return err
		})
	})
	if err != nil {
		return Entry{}, err
	}
	s.logger.Info("credit entry posted",
		slog.Int64("customer_id", entry.CustomerID),
		slog.String("type", string(entry.Type)),
		slog.String("amount", entry.Amount.String()),
		slog.String("balance_after", entry.BalanceAfter.String()),
	)
	if s.audit != nil {
		err := s.audit.Record(ctx, shared.AuditLog{
			Actor:    input.Actor,
			Action:   "credit:" + string(entry.Type),
			Entity:   "customer_credit",
			EntityID: fmt.Sprintf("%d", entry.ID),
			Meta: map[string]any{
				"customer_id":   entry.CustomerID,
				"amount":        entry.Amount.String(),
				"balance_after": entry.BalanceAfter.String(),
			},
		})
		if err != nil {
			s.logger.Warn("audit credit entry", slog.Any("error", err))
		}
	}
	return entry, nil
}

// CurrentBalance returns the latest snapshot balance, zero without history.
func (s *Service) CurrentBalance(ctx context.Context, customerID int64) (decimal.Decimal, error) {
	entry, err := s.repo.LatestEntry(ctx, customerID)
	if errors.Is(err, ErrNoEntries) {
		if err := s.repo.EnsureCustomer(ctx, customerID); err != nil {
			return decimal.Zero, err
		}
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, err
	}
	return entry.BalanceAfter, nil
}

// History lists the customer's entries newest first.
func (s *Service) History(ctx context.Context, customerID int64, limit int) ([]Entry, error) {
	if err := s.repo.EnsureCustomer(ctx, customerID); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return s.repo.ListEntries(ctx, customerID, limit)
}

// Verify replays a customer's ledger from genesis and compares it against
// the latest snapshot.
func (s *Service) Verify(ctx context.Context, customerID int64) (VerifyResult, error) {
	entries, err := s.repo.AllEntries(ctx, customerID)
	if err != nil {
		return VerifyResult{}, err
	}
	result := VerifyResult{CustomerID: customerID, Entries: len(entries), Consistent: true}
	if len(entries) > 0 {
		result.Snapshot = entries[len(entries)-1].BalanceAfter
	}
	replayed, err := Replay(entries)
	result.Replayed = replayed
	var violation *shared.InvariantViolationError
	switch {
	case errors.As(err, &violation):
		result.Consistent = false
		result.Detail = violation.Error()
	case err != nil:
		return VerifyResult{}, err
	}
	return result, nil
}

// Customers lists every customer id for ledger scans.
func (s *Service) Customers(ctx context.Context) ([]int64, error) {
	return s.repo.CustomerIDs(ctx)
}
