package app

import (
	"context"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/pos-ledger/internal/credit"
	"github.com/odyssey-erp/pos-ledger/internal/observability"
	"github.com/odyssey-erp/pos-ledger/internal/platform/db"
	"github.com/odyssey-erp/pos-ledger/internal/returns"
	"github.com/odyssey-erp/pos-ledger/internal/sales"
	"github.com/odyssey-erp/pos-ledger/internal/shared"
	"github.com/odyssey-erp/pos-ledger/internal/stock"
	"github.com/odyssey-erp/pos-ledger/internal/store/memory"
)

// Backend bundles the repositories of one storage engine.
type Backend struct {
	Stock   stock.RepositoryPort
	Credit  credit.RepositoryPort
	Sales   sales.RepositoryPort
	Returns returns.RepositoryPort
}

// PostgresBackend binds every repository to pool.
func PostgresBackend(pool *pgxpool.Pool) Backend {
	return Backend{
		Stock:   stock.NewRepository(pool),
		Credit:  credit.NewRepository(pool),
		Sales:   sales.NewRepository(pool),
		Returns: returns.NewRepository(pool),
	}
}

// MemoryBackend binds every repository to store.
func MemoryBackend(store *memory.Store) Backend {
	return Backend{
		Stock:   store.Stock(),
		Credit:  store.Credit(),
		Sales:   store.Sales(),
		Returns: store.Returns(),
	}
}

// Auditor records business events.
type Auditor interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// ServiceDeps collects what NewServices needs.
type ServiceDeps struct {
	Config  *Config
	Logger  *slog.Logger
	Backend Backend
	Audit   Auditor
	// Idempotency is optional; nil disables request deduplication.
	Idempotency sales.IdempotencyPort
	Metrics     *observability.Metrics
}

// Services are the application services sharing one set of ledgers.
type Services struct {
	Stock   *stock.Service
	Credit  *credit.Service
	Sales   *sales.Service
	Returns *returns.Service
}

// NewServices builds the services with a shared stock and credit ledger.
func NewServices(deps ServiceDeps) Services {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	attempts := db.DefaultMaxAttempts
	var units sales.UnitConverter = sales.UnitTable(nil)
	if deps.Config != nil {
		attempts = deps.Config.SaleMaxAttempts
		units = deps.Config.Units()
	}
	policy := func(operation string) db.RetryPolicy {
		count := deps.Metrics.RetryHook(operation)
		p := db.RetryPolicy{
			MaxAttempts: attempts,
			OnRetry: func(attempt int, err error) {
				logger.Warn("optimistic conflict, retrying",
					slog.String("operation", operation),
					slog.Int("attempt", attempt),
					slog.Any("error", err),
				)
				count(attempt, err)
			},
		}
		if deps.Config != nil {
			p.Backoff = deps.Config.RetryBackoff
		}
		return p
	}

	var audit Auditor = shared.LogAuditor{Logger: logger}
	if deps.Audit != nil {
		audit = deps.Audit
	}
	var recorder sales.Recorder
	if deps.Metrics != nil {
		recorder = deps.Metrics
	}

	stockLedger := stock.NewLedger()
	creditLedger := credit.NewLedger()
	return Services{
		Stock:  stock.NewService(deps.Backend.Stock, stockLedger, audit, policy("stock"), logger),
		Credit: credit.NewService(deps.Backend.Credit, creditLedger, audit, policy("credit"), logger),
		Sales: sales.NewService(deps.Backend.Sales, stockLedger, creditLedger, sales.Config{
			Units:       units,
			Audit:       audit,
			Idempotency: deps.Idempotency,
			Metrics:     recorder,
			Retry:       policy("sale"),
			Logger:      logger,
		}),
		Returns: returns.NewService(deps.Backend.Returns, stockLedger, creditLedger, audit, policy("return"), logger),
	}
}
