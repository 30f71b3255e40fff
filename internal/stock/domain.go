package stock

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Batch is one delivery in the rolling stock chain of a product/supplier pair.
// RemainingStock carries the running balance of the whole chain, so only the
// head batch of a chain is ever available for sale.
type Batch struct {
	ID                 int64           `json:"id"`
	ProductID          int64           `json:"product_id"`
	SupplierID         int64           `json:"supplier_id"`
	CumulativeQuantity decimal.Decimal `json:"cumulative_quantity"`
	SoldQuantity       decimal.Decimal `json:"sold_quantity"`
	RemainingStock     decimal.Decimal `json:"remaining_stock"`
	PreviousBatchID    *int64          `json:"previous_batch_id,omitempty"`
	PreviousRemaining  decimal.Decimal `json:"previous_remaining"`
	UnitCost           decimal.Decimal `json:"unit_cost"`
	Version            int64           `json:"version"`
	SupersededAt       *time.Time      `json:"superseded_at,omitempty"`
	CreatedAt          time.Time       `json:"created_at"`
}

// IsHead reports whether no newer delivery has superseded the batch.
func (b Batch) IsHead() bool {
	return b.SupersededAt == nil
}

// DeliveryInput describes a delivery intake.
type DeliveryInput struct {
	ProductID          int64
	SupplierID         int64
	CumulativeQuantity decimal.Decimal
	UnitCost           decimal.Decimal
	Actor              string
}

// Allocation records how many stock units one sale line drew from a batch.
type Allocation struct {
	BatchID    int64           `json:"batch_id"`
	ProductID  int64           `json:"product_id"`
	SupplierID int64           `json:"supplier_id"`
	Quantity   decimal.Decimal `json:"quantity"`
}

// Demand asks for a number of stock units of a product. Line identifies the
// caller's line so the resulting allocations can be mapped back.
type Demand struct {
	Line      int
	ProductID int64
	Units     decimal.Decimal
}

// BatchFilter narrows batch listings.
type BatchFilter struct {
	ProductID  int64
	SupplierID int64
	Limit      int
}

// ErrNoBatch indicates no delivery exists yet for the chain.
var ErrNoBatch = errors.New("stock: no batch for chain")

// ChainKey identifies the rolling chain of one product/supplier pair.
type ChainKey struct {
	ProductID  int64 `json:"product_id"`
	SupplierID int64 `json:"supplier_id"`
}

// ChainReport is the outcome of verifying one chain.
type ChainReport struct {
	ChainKey
	Batches    int             `json:"batches"`
	Remaining  decimal.Decimal `json:"remaining_stock"`
	Consistent bool            `json:"consistent"`
	Detail     string          `json:"detail,omitempty"`
}
