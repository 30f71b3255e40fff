package sales

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/pos-ledger/internal/credit"
	"github.com/odyssey-erp/pos-ledger/internal/platform/db"
	"github.com/odyssey-erp/pos-ledger/internal/shared"
	"github.com/odyssey-erp/pos-ledger/internal/stock"
)

const idempotencyModule = "sales"

// TxRepository is the unit of work of one sale: stock, credit and the sale
// rows commit or roll back together.
type TxRepository interface {
	stock.TxRepository
	credit.TxRepository
	InsertSale(ctx context.Context, sale Sale) (Sale, error)
}

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetCustomer(ctx context.Context, id int64) (Customer, error)
	GetProducts(ctx context.Context, ids []int64) (map[int64]Product, error)
	GetSale(ctx context.Context, id int64) (Sale, error)
	GetSaleByTransactionID(ctx context.Context, transactionID string) (Sale, error)
	ListSales(ctx context.Context, filter ListFilter) ([]Sale, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// IdempotencyPort deduplicates resubmitted sale requests.
type IdempotencyPort interface {
	Begin(ctx context.Context, module, key string) (string, error)
	Complete(ctx context.Context, module, key, ref string) error
	Release(ctx context.Context, module, key string) error
}

// Recorder receives sale outcome metrics.
type Recorder interface {
	SaleCreated(saleType string, total decimal.Decimal)
	SaleRejected(reason string)
}

// Config carries optional collaborators of Service.
type Config struct {
	Units       UnitConverter
	Audit       AuditPort
	Idempotency IdempotencyPort
	Metrics     Recorder
	Retry       db.RetryPolicy
	Logger      *slog.Logger
	// NewTransactionID overrides the transaction id generator.
	NewTransactionID func() (string, error)
}

// Service creates sales.
type Service struct {
	repo    RepositoryPort
	stock   *stock.Ledger
	credit  *credit.Ledger
	units   UnitConverter
	audit   AuditPort
	idem    IdempotencyPort
	metrics Recorder
	retry   db.RetryPolicy
	logger  *slog.Logger
	newTxID func() (string, error)
	clock   func() time.Time
}

// NewService builds Service.
func NewService(repo RepositoryPort, stockLedger *stock.Ledger, creditLedger *credit.Ledger, cfg Config) *Service {
	if stockLedger == nil {
		stockLedger = stock.NewLedger()
	}
	if creditLedger == nil {
		creditLedger = credit.NewLedger()
	}
	if cfg.Units == nil {
		cfg.Units = UnitTable(nil)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.NewTransactionID == nil {
		cfg.NewTransactionID = NewTransactionID
	}
	return &Service{
		repo:    repo,
		stock:   stockLedger,
		credit:  creditLedger,
		units:   cfg.Units,
		audit:   cfg.Audit,
		idem:    cfg.Idempotency,
		metrics: cfg.Metrics,
		retry:   cfg.Retry,
		logger:  cfg.Logger,
		newTxID: cfg.NewTransactionID,
		clock:   func() time.Time { return time.Now().UTC() },
	}
}

// CreateSale validates the request, then in one transaction deducts stock
// FIFO, persists the sale with its items and payments and posts the credit
// entries that reconcile credit payments, shortfall and overpayment.
func (s *Service) CreateSale(ctx context.Context, input CreateSaleInput) (Sale, error) {
	if input.IdempotencyKey != "" && s.idem != nil {
		ref, err := s.idem.Begin(ctx, idempotencyModule, input.IdempotencyKey)
		if err != nil {
			return Sale{}, err
		}
		if ref != "" {
			id, err := strconv.ParseInt(ref, 10, 64)
			if err != nil {
				return Sale{}, fmt.Errorf("idempotency reference %q: %w", ref, err)
			}
			return s.repo.GetSale(ctx, id)
		}
	}

	sale, err := s.createSale(ctx, input)
	if err != nil {
		s.reject(err)
		if input.IdempotencyKey != "" && s.idem != nil {
			if relErr := s.idem.Release(context.WithoutCancel(ctx), idempotencyModule, input.IdempotencyKey); relErr != nil {
				s.logger.Warn("release idempotency key", slog.Any("error", relErr))
			}
		}
		return Sale{}, err
	}
	if input.IdempotencyKey != "" && s.idem != nil {
		if err := s.idem.Complete(ctx, idempotencyModule, input.IdempotencyKey, strconv.FormatInt(sale.ID, 10)); err != nil {
			// a key left pending rejects every resubmit until it expires
			s.logger.Warn("complete idempotency key", slog.Any("error", err))
			if relErr := s.idem.Release(context.WithoutCancel(ctx), idempotencyModule, input.IdempotencyKey); relErr != nil {
				s.logger.Warn("release idempotency key", slog.Any("error", relErr))
			}
		}
	}

	s.logger.Info("sale created",
		slog.String("transaction_id", sale.TransactionID),
		slog.String("sale_type", string(sale.Type)),
		slog.String("total", sale.Total.String()),
		slog.String("amount_due", sale.AmountDue.String()),
		slog.Int("items", len(sale.Items)),
	)
	if s.metrics != nil {
		s.metrics.SaleCreated(string(sale.Type), sale.Total)
	}
	s.record(ctx, input.Actor, sale)
	return sale, nil
}

func (s *Service) createSale(ctx context.Context, input CreateSaleInput) (Sale, error) {
	if !input.Type.Valid() {
		return Sale{}, shared.Validation("sale_type", "unknown sale type %q", string(input.Type))
	}
	totals, err := ComputeTotals(input.Items, input.Payments, input.Discount)
	if err != nil {
		return Sale{}, err
	}
	customer, err := s.checkCustomer(ctx, input.CustomerID, totals)
	if err != nil {
		return Sale{}, err
	}
	if err := s.checkProducts(ctx, input.Items); err != nil {
		return Sale{}, err
	}

	draft := s.draft(input, totals)
	demands := make([]stock.Demand, len(draft.Items))
	for i, item := range draft.Items {
		demands[i] = stock.Demand{Line: i, ProductID: item.ProductID, Units: item.StockUnits}
	}

	var sale Sale
	err = s.retry.Do(ctx, func(ctx context.Context) error {
		return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			var err error
			sale, err = s.commit(ctx, tx, customer, draft, demands)
			return err
		})
	})
	if err != nil {
		return Sale{}, err
	}
	return sale, nil
}

// commit is one attempt of the sale unit of work. customer is nil for
// walk-in sales.
func (s *Service) commit(ctx context.Context, tx TxRepository, customer *Customer, draft Sale, demands []stock.Demand) (Sale, error) {
	sale := draft
	sale.Items = append([]Item(nil), draft.Items...)

	allocations, err := s.stock.Reserve(ctx, tx, demands)
	if err != nil {
		return Sale{}, err
	}
	for i := range sale.Items {
		sale.Items[i].Allocations = allocations[i]
	}

	if customer != nil && (sale.CreditApplied.IsPositive() || sale.AmountDue.IsPositive()) {
		balance, err := s.credit.CurrentBalance(ctx, tx, customer.ID)
		if err != nil {
			return Sale{}, err
		}
		if balance.LessThan(sale.CreditApplied) {
			return Sale{}, shared.Validation("payments", "insufficient credit balance: %s available, %s applied", balance, sale.CreditApplied)
		}
		after := balance.Sub(sale.CreditApplied)
		if sale.AmountDue.IsPositive() {
			after = after.Sub(sale.AmountDue)
		}
		if !customer.WithinLimit(after) {
			return Sale{}, shared.Validation("amount_due", "shortfall %s exceeds credit limit %s of customer %d", sale.AmountDue, *customer.CreditLimit, customer.ID)
		}
	}

	txid, err := s.newTxID()
	if err != nil {
		return Sale{}, err
	}
	sale.TransactionID = txid
	sale, err = tx.InsertSale(ctx, sale)
	if err != nil {
		return Sale{}, err
	}

	for _, post := range creditPostings(sale) {
		entry, err := s.credit.Post(ctx, tx, post)
		if err != nil {
			return Sale{}, fmt.Errorf("post %s for sale %s: %w", post.Type, sale.TransactionID, err)
		}
		sale.Credits = append(sale.Credits, entry)
	}
	return sale, nil
}

// creditPostings lists the ledger entries a committed sale posts.
func creditPostings(sale Sale) []credit.PostInput {
	if sale.CustomerID == nil {
		return nil
	}
	saleID := sale.ID
	var posts []credit.PostInput
	if sale.CreditApplied.IsPositive() {
		posts = append(posts, credit.PostInput{
			CustomerID:  *sale.CustomerID,
			SaleID:      &saleID,
			Type:        credit.TypeCreditUsed,
			Amount:      sale.CreditApplied,
			Description: "credit used for sale " + sale.TransactionID,
			Actor:       sale.CreatedBy,
		})
	}
	switch sale.AmountDue.Sign() {
	case 1:
		posts = append(posts, credit.PostInput{
			CustomerID:  *sale.CustomerID,
			SaleID:      &saleID,
			Type:        credit.TypeCreditUsed,
			Amount:      sale.AmountDue,
			Description: "shortfall on sale " + sale.TransactionID,
			Actor:       sale.CreatedBy,
		})
	case -1:
		posts = append(posts, credit.PostInput{
			CustomerID:  *sale.CustomerID,
			SaleID:      &saleID,
			Type:        credit.TypeCreditRefund,
			Amount:      sale.AmountDue.Neg(),
			Description: "overpayment on sale " + sale.TransactionID,
			Actor:       sale.CreatedBy,
		})
	}
	return posts
}

func (s *Service) checkCustomer(ctx context.Context, customerID *int64, totals Totals) (*Customer, error) {
	if customerID == nil {
		if !totals.AmountDue.IsZero() {
			return nil, shared.Validation("customer_id", "amount due %s requires an identified customer", totals.AmountDue)
		}
		if totals.CreditApplied.IsPositive() {
			return nil, shared.Validation("customer_id", "credit payment requires an identified customer")
		}
		return nil, nil
	}
	customer, err := s.repo.GetCustomer(ctx, *customerID)
	if err != nil {
		return nil, err
	}
	if !customer.Status.CanBuy() {
		return nil, shared.Validation("customer_id", "customer %d is %s", customer.ID, customer.Status)
	}
	return &customer, nil
}

func (s *Service) checkProducts(ctx context.Context, items []ItemInput) error {
	ids := make([]int64, 0, len(items))
	seen := make(map[int64]bool, len(items))
	for _, item := range items {
		if !seen[item.ProductID] {
			seen[item.ProductID] = true
			ids = append(ids, item.ProductID)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	products, err := s.repo.GetProducts(ctx, ids)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if _, ok := products[id]; !ok {
			return shared.NotFound("product", id)
		}
	}
	return nil
}

func (s *Service) draft(input CreateSaleInput, totals Totals) Sale {
	sale := Sale{
		CustomerID:    input.CustomerID,
		Type:          input.Type,
		Subtotal:      totals.Subtotal,
		Discount:      totals.Discount,
		Total:         totals.Total,
		AmountPaid:    totals.AmountPaid,
		CreditApplied: totals.CreditApplied,
		AmountDue:     totals.AmountDue,
		CreatedBy:     input.Actor,
		CreatedAt:     s.clock(),
		Items:         make([]Item, len(input.Items)),
		Payments:      make([]Payment, len(input.Payments)),
	}
	for i, item := range input.Items {
		sale.Items[i] = Item{
			ProductID:  item.ProductID,
			Quantity:   item.Quantity,
			UnitPrice:  item.UnitPrice,
			LineTotal:  totals.LineTotals[i],
			StockUnits: item.Quantity.Mul(s.units.UnitsPerItem(item.ProductID)).Round(shared.StockPlaces),
		}
	}
	for i, p := range input.Payments {
		sale.Payments[i] = Payment{Method: p.Method, Amount: p.Amount}
	}
	return sale
}

// GetSale loads a sale by id.
func (s *Service) GetSale(ctx context.Context, id int64) (Sale, error) {
	return s.repo.GetSale(ctx, id)
}

// GetSaleByTransactionID loads a sale by its transaction id.
func (s *Service) GetSaleByTransactionID(ctx context.Context, transactionID string) (Sale, error) {
	if !ValidTransactionID(transactionID) {
		return Sale{}, shared.Validation("transaction_id", "malformed transaction id %q", transactionID)
	}
	return s.repo.GetSaleByTransactionID(ctx, transactionID)
}

// ListSales lists sales newest first.
func (s *Service) ListSales(ctx context.Context, filter ListFilter) ([]Sale, error) {
	if filter.Type != "" && !filter.Type.Valid() {
		return nil, shared.Validation("sale_type", "unknown sale type %q", string(filter.Type))
	}
	if filter.Limit <= 0 || filter.Limit > 200 {
		filter.Limit = 50
	}
	return s.repo.ListSales(ctx, filter)
}

func (s *Service) reject(err error) {
	reason := "error"
	switch {
	case errors.Is(err, shared.ErrInsufficientStock):
		reason = "insufficient_stock"
		s.logger.Info("sale rejected", slog.String("reason", reason), slog.Any("error", err))
	case errors.Is(err, shared.ErrValidation):
		reason = "validation"
	case errors.Is(err, shared.ErrNotFound):
		reason = "not_found"
	case errors.Is(err, shared.ErrConflict):
		reason = "conflict"
		s.logger.Warn("sale conflict", slog.Any("error", err))
	case errors.Is(err, shared.ErrInvariantViolation):
		reason = "invariant"
		s.logger.Error("sale aborted on invariant violation", slog.Any("error", err))
	default:
		s.logger.Error("sale failed", slog.Any("error", err))
	}
	if s.metrics != nil {
		s.metrics.SaleRejected(reason)
	}
}

func (s *Service) record(ctx context.Context, actor string, sale Sale) {
	if s.audit == nil {
		return
	}
	meta := map[string]any{
		"transaction_id": sale.TransactionID,
		"total":          sale.Total.String(),
		"amount_due":     sale.AmountDue.String(),
	}
	if sale.CustomerID != nil {
		meta["customer_id"] = *sale.CustomerID
	}
	err := s.audit.Record(ctx, shared.AuditLog{
		Actor:    actor,
		Action:   "sale:create",
		Entity:   "sale",
		EntityID: strconv.FormatInt(sale.ID, 10),
		Meta:     meta,
	})
	if err != nil {
		s.logger.Warn("audit sale", slog.Any("error", err))
	}
}
