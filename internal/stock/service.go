package stock

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
	LatestBatch(ctx context.Context, productID, supplierID int64) (Batch, error)
	GetBatch(ctx context.Context, id int64) (Batch, error)
	ListBatches(ctx context.Context, filter BatchFilter) ([]Batch, error)
	// ChainBatches lists a chain oldest first.
	ChainBatches(ctx context.Context, key ChainKey) ([]Batch, error)
	Chains(ctx context.Context) ([]ChainKey, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service coordinates standalone stock operations. Sales and returns drive
// the Ledger directly inside their own transactions.
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

// CreateDelivery records a delivery intake as the new head of its chain.
func (s *Service) CreateDelivery(ctx context.Context, input DeliveryInput) (Batch, error) {
	var batch Batch
	err := s.retry.Do(ctx, func(ctx context.Context) error {
		return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			var err error
			batch, err = s.ledger.CreateDelivery(ctx, tx, input)
			return err
		})
	})
	if err != nil {
		return Batch{}, err
	}
	s.logger.Info("stock delivery created",
		slog.Int64("batch_id", batch.ID),
		slog.Int64("product_id", batch.ProductID),
		slog.Int64("supplier_id", batch.SupplierID),
		slog.String("quantity", batch.CumulativeQuantity.String()),
		slog.String("remaining", batch.RemainingStock.String()),
	)
	s.record(ctx, input.Actor, "stock:delivery", batch, map[string]any{
		"cumulative_quantity": batch.CumulativeQuantity.String(),
		"remaining_stock":     batch.RemainingStock.String(),
	})
	return batch, nil
}

// LatestRemainingStock returns the remaining stock of the newest batch of the
// chain, and false when the chain has no deliveries.
func (s *Service) LatestRemainingStock(ctx context.Context, productID, supplierID int64) (decimal.Decimal, bool, error) {
	if productID <= 0 || supplierID <= 0 {
		return decimal.Zero, false, shared.Validation("", "product and supplier required")
	}
	batch, err := s.repo.LatestBatch(ctx, productID, supplierID)
	if errors.Is(err, ErrNoBatch) {
		return decimal.Zero, false, nil
	}
	if err != nil {
		return decimal.Zero, false, err
	}
	return batch.RemainingStock, true, nil
}

// RecordSale deducts quantity from the batch identified by batchID.
func (s *Service) RecordSale(ctx context.Context, batchID int64, quantity decimal.Decimal, actor string) (Batch, error) {
	var batch Batch
	err := s.retry.Do(ctx, func(ctx context.Context) error {
		return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			current, err := tx.BatchForUpdate(ctx, batchID)
			if err != nil {
				return err
			}
			batch, err = s.ledger.RecordSale(ctx, tx, current, quantity)
			return err
		})
	})
	if err != nil {
		return Batch{}, err
	}
	s.record(ctx, actor, "stock:sale", batch, map[string]any{
		"quantity":        quantity.String(),
		"remaining_stock": batch.RemainingStock.String(),
	})
	return batch, nil
}

// GetBatch loads one batch.
func (s *Service) GetBatch(ctx context.Context, id int64) (Batch, error) {
	return s.repo.GetBatch(ctx, id)
}

// ListBatches lists a chain newest first.
func (s *Service) ListBatches(ctx context.Context, filter BatchFilter) ([]Batch, error) {
	if filter.ProductID <= 0 {
		return nil, shared.Validation("product_id", "product required")
	}
	if filter.Limit <= 0 || filter.Limit > 200 {
		filter.Limit = 50
	}
	return s.repo.ListBatches(ctx, filter)
}

// Utilization returns the utilization percentage of a batch.
func (s *Service) Utilization(ctx context.Context, id int64) (decimal.Decimal, error) {
	batch, err := s.repo.GetBatch(ctx, id)
	if err != nil {
		return decimal.Zero, err
	}
	return UtilizationPercentage(batch), nil
}

// Chains lists every product/supplier chain.
func (s *Service) Chains(ctx context.Context) ([]ChainKey, error) {
	return s.repo.Chains(ctx)
}

// VerifyChain replays one chain and reports whether it is consistent.
func (s *Service) VerifyChain(ctx context.Context, key ChainKey) (ChainReport, error) {
	batches, err := s.repo.ChainBatches(ctx, key)
	if err != nil {
		return ChainReport{}, err
	}
	report := ChainReport{ChainKey: key, Batches: len(batches), Consistent: true}
	if len(batches) > 0 {
		report.Remaining = batches[len(batches)-1].RemainingStock
	}
	var violation *shared.InvariantViolationError
	switch err := VerifyChain(batches); {
	case errors.As(err, &violation):
		report.Consistent = false
		report.Detail = violation.Error()
	case err != nil:
		return ChainReport{}, err
	}
	return report, nil
}

func (s *Service) record(ctx context.Context, actor, action string, batch Batch, meta map[string]any) {
	if s.audit == nil {
		return
	}
	meta["product_id"] = batch.ProductID
	meta["supplier_id"] = batch.SupplierID
	err := s.audit.Record(ctx, shared.AuditLog{
		Actor:    actor,
		Action:   action,
		Entity:   "stock_batch",
		EntityID: fmt.Sprintf("%d", batch.ID),
		Meta:     meta,
	})
	if err != nil {
		s.logger.Warn("audit stock event", slog.String("action", action), slog.Any("error", err))
	}
}
