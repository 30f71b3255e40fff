// Package returns implements the sale return approval workflow.
package returns

import (
	"time"

	"github.com/shopspring/decimal"
)

// Status is the closed set of return workflow states.
type Status string

const (
	StatusPending   Status = "pending"
	StatusApproved  Status = "approved"
	StatusCompleted Status = "completed"
	StatusRejected  Status = "rejected"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusCompleted, StatusRejected:
		return true
	}
	return false
}

// CanTransition reports whether the workflow allows moving from s to next.
func (s Status) CanTransition(next Status) bool {
	switch s {
	case StatusPending:
		return next == StatusApproved || next == StatusRejected
	case StatusApproved:
		return next == StatusCompleted
	case StatusCompleted, StatusRejected:
		return false
	}
	return false
}

// Return is a request to reverse part of a sale.
type Return struct {
	ID           int64           `json:"id"`
	SaleID       int64           `json:"sale_id"`
	Status       Status          `json:"status"`
	Reason       string          `json:"reason"`
	Items        []Item          `json:"items"`
	RefundAmount decimal.Decimal `json:"refund_amount"`
	DecisionNote string          `json:"decision_note,omitempty"`
	CreatedBy    string          `json:"created_by,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	DecidedAt    *time.Time      `json:"decided_at,omitempty"`
	CompletedAt  *time.Time      `json:"completed_at,omitempty"`
}

// Item is one returned sale line. RestoredUnits is set on approval.
type Item struct {
	ID            int64           `json:"id"`
	ReturnID      int64           `json:"return_id"`
	SaleItemID    int64           `json:"sale_item_id"`
	ProductID     int64           `json:"product_id"`
	Quantity      decimal.Decimal `json:"quantity"`
	RefundAmount  decimal.Decimal `json:"refund_amount"`
	RestoredUnits decimal.Decimal `json:"restored_units"`
}

// ItemInput names a sale line and the quantity coming back.
type ItemInput struct {
	SaleItemID int64
	Quantity   decimal.Decimal
}

// CreateInput is the return request.
type CreateInput struct {
	SaleID int64
	Items  []ItemInput
	Reason string
	Actor  string
}

// Claim sums what non-rejected returns already hold against one sale line.
type Claim struct {
	Quantity      decimal.Decimal
	Refunded      decimal.Decimal
	RestoredUnits decimal.Decimal
}
