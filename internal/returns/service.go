package returns

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/pos-ledger/internal/credit"
	"github.com/odyssey-erp/pos-ledger/internal/platform/db"
	"github.com/odyssey-erp/pos-ledger/internal/sales"
	"github.com/odyssey-erp/pos-ledger/internal/shared"
	"github.com/odyssey-erp/pos-ledger/internal/stock"
)

// TxRepository is the unit of work of one return transition.
type TxRepository interface {
	stock.TxRepository
	credit.TxRepository
	// SaleForUpdate locks the sale row and loads the full sale.
	SaleForUpdate(ctx context.Context, saleID int64) (sales.Sale, error)
	// Claims returns per sale item what non-rejected returns hold.
	Claims(ctx context.Context, saleID int64) (map[int64]Claim, error)
	InsertReturn(ctx context.Context, ret Return) (Return, error)
	ReturnForUpdate(ctx context.Context, id int64) (Return, error)
	UpdateReturn(ctx context.Context, ret Return) error
}

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetReturn(ctx context.Context, id int64) (Return, error)
	ListReturns(ctx context.Context, saleID int64) ([]Return, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service drives the return workflow.
type Service struct {
	repo   RepositoryPort
	stock  *stock.Ledger
	credit *credit.Ledger
	audit  AuditPort
	retry  db.RetryPolicy
	logger *slog.Logger
	clock  func() time.Time
}

// NewService builds Service.
func NewService(repo RepositoryPort, stockLedger *stock.Ledger, creditLedger *credit.Ledger, audit AuditPort, retry db.RetryPolicy, logger *slog.Logger) *Service {
	if stockLedger == nil {
		stockLedger = stock.NewLedger()
	}
	if creditLedger == nil {
		creditLedger = credit.NewLedger()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:   repo,
		stock:  stockLedger,
		credit: creditLedger,
		audit:  audit,
		retry:  retry,
		logger: logger,
		clock:  func() time.Time { return time.Now().UTC() },
	}
}

// CreateReturn records a pending return against a sale. Quantities may not
// exceed what the sale line still has unclaimed.
func (s *Service) CreateReturn(ctx context.Context, input CreateInput) (Return, error) {
	if input.SaleID <= 0 {
		return Return{}, shared.Validation("sale_id", "sale required")
	}
	if len(input.Items) == 0 {
		return Return{}, shared.Validation("items", "at least one item required")
	}
	requested := make(map[int64]decimal.Decimal, len(input.Items))
	var order []int64
	for i, it := range input.Items {
		if !it.Quantity.IsPositive() {
			return Return{}, shared.Validation("items", "line %d: quantity must be > 0, got %s", i+1, it.Quantity)
		}
		if !shared.HasScale(it.Quantity, shared.QuantityPlaces) {
			return Return{}, shared.Validation("items", "line %d: quantity allows %d decimal places", i+1, shared.QuantityPlaces)
		}
		if _, ok := requested[it.SaleItemID]; !ok {
			order = append(order, it.SaleItemID)
		}
		requested[it.SaleItemID] = requested[it.SaleItemID].Add(it.Quantity)
	}
	reason := strings.TrimSpace(input.Reason)
	if reason == "" {
		return Return{}, shared.Validation("reason", "reason required")
	}

	var ret Return
	err := s.retry.Do(ctx, func(ctx context.Context) error {
		return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			sale, err := tx.SaleForUpdate(ctx, input.SaleID)
			if err != nil {
				return err
			}
			claims, err := tx.Claims(ctx, sale.ID)
			if err != nil {
				return err
			}
			ret = Return{
				SaleID:    sale.ID,
				Status:    StatusPending,
				Reason:    reason,
				CreatedBy: input.Actor,
				CreatedAt: s.clock(),
			}
			saleRefunded := decimal.Zero
			for _, c := range claims {
				saleRefunded = saleRefunded.Add(c.Refunded)
			}
			for _, saleItemID := range order {
				line, ok := findItem(sale, saleItemID)
				if !ok {
					return shared.Validation("items", "sale item %d is not part of sale %d", saleItemID, sale.ID)
				}
				qty := requested[saleItemID]
				open := line.Quantity.Sub(claims[saleItemID].Quantity)
				if qty.GreaterThan(open) {
					return shared.Validation("items", "sale item %d: returning %s exceeds returnable %s", saleItemID, qty, open)
				}
				refund := CappedRefund(sale, line, qty, claims[saleItemID], saleRefunded)
				saleRefunded = saleRefunded.Add(refund)
				ret.Items = append(ret.Items, Item{
					SaleItemID:    saleItemID,
					ProductID:     line.ProductID,
					Quantity:      qty,
					RefundAmount:  refund,
					RestoredUnits: decimal.Zero,
				})
				ret.RefundAmount = ret.RefundAmount.Add(refund)
			}
			ret, err = tx.InsertReturn(ctx, ret)
			return err
		})
	})
	if err != nil {
		return Return{}, err
	}
	s.logger.Info("return created",
		slog.Int64("return_id", ret.ID),
		slog.Int64("sale_id", ret.SaleID),
		slog.String("refund_amount", ret.RefundAmount.String()),
	)
	s.record(ctx, input.Actor, "return:create", ret)
	return ret, nil
}

// Approve restores the returned stock and posts the compensating credit in
// one transaction.
func (s *Service) Approve(ctx context.Context, id int64, note, actor string) (Return, error) {
	var ret Return
	var unrestored decimal.Decimal
	err := s.retry.Do(ctx, func(ctx context.Context) error {
		return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			var err error
			ret, err = s.transition(ctx, tx, id, StatusApproved)
			if err != nil {
				return err
			}
			sale, err := tx.SaleForUpdate(ctx, ret.SaleID)
			if err != nil {
				return err
			}
			claims, err := tx.Claims(ctx, sale.ID)
			if err != nil {
				return err
			}
			unrestored = decimal.Zero
			for i, it := range ret.Items {
				line, ok := findItem(sale, it.SaleItemID)
				if !ok {
					return &shared.InvariantViolationError{
						Entity: fmt.Sprintf("return %d", ret.ID),
						Detail: fmt.Sprintf("sale item %d missing from sale %d", it.SaleItemID, sale.ID),
					}
				}
				units := StockUnits(line, it.Quantity)
				allocs := Outstanding(line.Allocations, claims[it.SaleItemID].RestoredUnits)
				restored, err := s.stock.Restore(ctx, tx, allocs, units)
				if err != nil {
					return err
				}
				ret.Items[i].RestoredUnits = restored
				unrestored = unrestored.Add(units.Sub(restored))
			}
			if sale.CustomerID != nil && ret.RefundAmount.IsPositive() {
				saleID, returnID := sale.ID, ret.ID
				if _, err := s.credit.Post(ctx, tx, credit.PostInput{
					CustomerID:  *sale.CustomerID,
					SaleID:      &saleID,
					ReturnID:    &returnID,
					Type:        credit.TypeCreditRefund,
					Amount:      ret.RefundAmount,
					Description: fmt.Sprintf("refund for return %d on sale %s", ret.ID, sale.TransactionID),
					Actor:       actor,
				}); err != nil {
					return err
				}
			}
			now := s.clock()
			ret.DecisionNote = note
			ret.DecidedAt = &now
			return tx.UpdateReturn(ctx, ret)
		})
	})
	if err != nil {
		return Return{}, err
	}
	if unrestored.IsPositive() {
		s.logger.Warn("return restored less stock than requested",
			slog.Int64("return_id", ret.ID),
			slog.String("unrestored_units", unrestored.String()),
		)
	}
	s.logger.Info("return approved", slog.Int64("return_id", ret.ID), slog.String("refund_amount", ret.RefundAmount.String()))
	s.record(ctx, actor, "return:approve", ret)
	return ret, nil
}

// Reject closes a pending return without side effects.
func (s *Service) Reject(ctx context.Context, id int64, note, actor string) (Return, error) {
	if strings.TrimSpace(note) == "" {
		return Return{}, shared.Validation("note", "rejection note required")
	}
	ret, err := s.simpleTransition(ctx, id, StatusRejected, func(r *Return, now time.Time) {
		r.DecisionNote = note
		r.DecidedAt = &now
	})
	if err != nil {
		return Return{}, err
	}
	s.logger.Info("return rejected", slog.Int64("return_id", ret.ID))
	s.record(ctx, actor, "return:reject", ret)
	return ret, nil
}

// Complete marks an approved return as finished.
func (s *Service) Complete(ctx context.Context, id int64, actor string) (Return, error) {
	ret, err := s.simpleTransition(ctx, id, StatusCompleted, func(r *Return, now time.Time) {
		r.CompletedAt = &now
	})
	if err != nil {
		return Return{}, err
	}
	s.record(ctx, actor, "return:complete", ret)
	return ret, nil
}

// GetReturn loads a return.
func (s *Service) GetReturn(ctx context.Context, id int64) (Return, error) {
	return s.repo.GetReturn(ctx, id)
}

// ListReturns lists the returns of a sale.
func (s *Service) ListReturns(ctx context.Context, saleID int64) ([]Return, error) {
	if saleID <= 0 {
		return nil, shared.Validation("sale_id", "sale required")
	}
	return s.repo.ListReturns(ctx, saleID)
}

func (s *Service) simpleTransition(ctx context.Context, id int64, next Status, apply func(*Return, time.Time)) (Return, error) {
	var ret Return
	err := s.retry.Do(ctx, func(ctx context.Context) error {
		return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			var err error
			ret, err = s.transition(ctx, tx, id, next)
			if err != nil {
				return err
			}
			apply(&ret, s.clock())
			return tx.UpdateReturn(ctx, ret)
		})
	})
	return ret, err
}

func (s *Service) transition(ctx context.Context, tx TxRepository, id int64, next Status) (Return, error) {
	ret, err := tx.ReturnForUpdate(ctx, id)
	if err != nil {
		return Return{}, err
	}
	if !ret.Status.CanTransition(next) {
		return Return{}, shared.Validation("status", "return %d cannot move from %s to %s", ret.ID, ret.Status, next)
	}
	ret.Status = next
	return ret, nil
}

func (s *Service) record(ctx context.Context, actor, action string, ret Return) {
	if s.audit == nil {
		return
	}
	err := s.audit.Record(ctx, shared.AuditLog{
		Actor:    actor,
		Action:   action,
		Entity:   "return",
		EntityID: strconv.FormatInt(ret.ID, 10),
		Meta: map[string]any{
			"sale_id":       ret.SaleID,
			"status":        string(ret.Status),
			"refund_amount": ret.RefundAmount.String(),
		},
	})
	if err != nil {
		s.logger.Warn("audit return", slog.String("action", action), slog.Any("error", err))
	}
}

func findItem(sale sales.Sale, saleItemID int64) (sales.Item, bool) {
	for _, it := range sale.Items {
		if it.ID == saleItemID {
			return it, true
		}
	}
	return sales.Item{}, false
}
