// Package sales implements atomic POS sale creation over the stock and credit
// ledgers.
package sales

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/pos-ledger/internal/credit"
	"github.com/odyssey-erp/pos-ledger/internal/stock"
)

// ============================================================================
// ENUMS
// ============================================================================

// SaleType is the price tier of a sale.
type SaleType string

const (
	SaleTypeRetail    SaleType = "retail"
	SaleTypeWholesale SaleType = "wholesale"
)

// Valid reports whether t is a known sale type.
func (t SaleType) Valid() bool {
	switch t {
	case SaleTypeRetail, SaleTypeWholesale:
		return true
	}
	return false
}

// PaymentMethod is how a payment was tendered.
type PaymentMethod string

const (
	PaymentCash        PaymentMethod = "cash"
	PaymentTransfer    PaymentMethod = "transfer"
	PaymentCredit      PaymentMethod = "credit"
	PaymentPartPayment PaymentMethod = "part_payment"
)

// Valid reports whether m is a known payment method.
func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentCash, PaymentTransfer, PaymentCredit, PaymentPartPayment:
		return true
	}
	return false
}

// DrawsCredit reports whether the payment is taken from the customer's
// existing credit balance.
func (m PaymentMethod) DrawsCredit() bool {
	switch m {
	case PaymentCredit:
		return true
	case PaymentCash, PaymentTransfer, PaymentPartPayment:
		return false
	}
	return false
}

// CustomerStatus gates whether a customer may buy.
type CustomerStatus string

const (
	CustomerActive   CustomerStatus = "active"
	CustomerInactive CustomerStatus = "inactive"
	CustomerBlocked  CustomerStatus = "blocked"
)

// CanBuy reports whether a customer in status s may be sold to.
func (s CustomerStatus) CanBuy() bool {
	switch s {
	case CustomerActive, CustomerInactive:
		return true
	case CustomerBlocked:
		return false
	}
	return false
}

// ============================================================================
// REFERENCE DATA
// ============================================================================

// Customer is the buyer reference a sale may carry. A nil CreditLimit puts
// no bound on how far sale shortfalls may take the credit balance below zero.
type Customer struct {
	ID          int64            `json:"id"`
	Name        string           `json:"name"`
	Status      CustomerStatus   `json:"status"`
	CreditLimit *decimal.Decimal `json:"credit_limit,omitempty"`
}

// WithinLimit reports whether a credit balance of balance is allowed.
func (c Customer) WithinLimit(balance decimal.Decimal) bool {
	return c.CreditLimit == nil || !balance.Add(*c.CreditLimit).IsNegative()
}

// Product is the sellable item reference.
type Product struct {
	ID       int64           `json:"id"`
	Name     string          `json:"name"`
	Price    decimal.Decimal `json:"price"`
	SaleType SaleType        `json:"sale_type"`
}

// ============================================================================
// SALE
// ============================================================================

// Sale is an immutable committed sale with its lines, payments and the credit
// entries it posted.
type Sale struct {
	ID            int64           `json:"id"`
	TransactionID string          `json:"transaction_id"`
	CustomerID    *int64          `json:"customer_id,omitempty"`
	Type          SaleType        `json:"sale_type"`
	Subtotal      decimal.Decimal `json:"subtotal"`
	Discount      decimal.Decimal `json:"discount"`
	Total         decimal.Decimal `json:"total"`
	AmountPaid    decimal.Decimal `json:"amount_paid"`
	CreditApplied decimal.Decimal `json:"credit_applied"`
	AmountDue     decimal.Decimal `json:"amount_due"`
	Items         []Item          `json:"items"`
	Payments      []Payment       `json:"payments"`
	Credits       []credit.Entry  `json:"credits,omitempty"`
	CreatedBy     string          `json:"created_by,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

// Item is one sale line. StockUnits is Quantity converted to stock units.
type Item struct {
	ID          int64              `json:"id"`
	SaleID      int64              `json:"sale_id"`
	ProductID   int64              `json:"product_id"`
	Quantity    decimal.Decimal    `json:"quantity"`
	UnitPrice   decimal.Decimal    `json:"unit_price"`
	LineTotal   decimal.Decimal    `json:"line_total"`
	StockUnits  decimal.Decimal    `json:"stock_units"`
	Allocations []stock.Allocation `json:"allocations"`
}

// Payment is one tender against a sale.
type Payment struct {
	ID     int64           `json:"id"`
	SaleID int64           `json:"sale_id"`
	Method PaymentMethod   `json:"method"`
	Amount decimal.Decimal `json:"amount"`
}

// ItemInput is a requested sale line.
type ItemInput struct {
	ProductID int64
	Quantity  decimal.Decimal
	UnitPrice decimal.Decimal
}

// PaymentInput is a requested tender.
type PaymentInput struct {
	Method PaymentMethod
	Amount decimal.Decimal
}

// CreateSaleInput is the sale request.
type CreateSaleInput struct {
	CustomerID     *int64
	Type           SaleType
	Items          []ItemInput
	Payments       []PaymentInput
	Discount       decimal.Decimal
	IdempotencyKey string
	Actor          string
}

// ListFilter narrows sale listings.
type ListFilter struct {
	CustomerID int64
	Type       SaleType
	Limit      int
}
