package sales

import (
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/pos-ledger/internal/shared"
)

// Totals are the derived money figures of a sale.
type Totals struct {
	Subtotal      decimal.Decimal
	Discount      decimal.Decimal
	Total         decimal.Decimal
	AmountPaid    decimal.Decimal
	CreditApplied decimal.Decimal
	AmountDue     decimal.Decimal
	LineTotals    []decimal.Decimal
}

// LineTotal is quantity × unit price at money precision.
func LineTotal(quantity, unitPrice decimal.Decimal) decimal.Decimal {
	return quantity.Mul(unitPrice).Round(shared.MoneyPlaces)
}

// ComputeTotals validates the line, payment and discount inputs and derives
// subtotal, total and amount due.
func ComputeTotals(items []ItemInput, payments []PaymentInput, discount decimal.Decimal) (Totals, error) {
	if len(items) == 0 {
		return Totals{}, shared.Validation("items", "at least one item required")
	}
	t := Totals{Discount: discount, LineTotals: make([]decimal.Decimal, len(items))}
	for i, item := range items {
		if item.ProductID <= 0 {
			return Totals{}, shared.Validation("items", "line %d: product required", i+1)
		}
		if !item.Quantity.IsPositive() {
			return Totals{}, shared.Validation("items", "line %d: quantity must be > 0, got %s", i+1, item.Quantity)
		}
		if !shared.HasScale(item.Quantity, shared.QuantityPlaces) {
			return Totals{}, shared.Validation("items", "line %d: quantity allows %d decimal places", i+1, shared.QuantityPlaces)
		}
		if item.UnitPrice.IsNegative() {
			return Totals{}, shared.Validation("items", "line %d: unit price must be >= 0, got %s", i+1, item.UnitPrice)
		}
		if !shared.HasScale(item.UnitPrice, shared.MoneyPlaces) {
			return Totals{}, shared.Validation("items", "line %d: unit price allows %d decimal places", i+1, shared.MoneyPlaces)
		}
		line := LineTotal(item.Quantity, item.UnitPrice)
		t.LineTotals[i] = line
		t.Subtotal = t.Subtotal.Add(line)
	}
	if discount.IsNegative() {
		return Totals{}, shared.Validation("discount", "must be >= 0, got %s", discount)
	}
	if !shared.HasScale(discount, shared.MoneyPlaces) {
		return Totals{}, shared.Validation("discount", "allows %d decimal places", shared.MoneyPlaces)
	}
	if discount.GreaterThan(t.Subtotal) {
		return Totals{}, shared.Validation("discount", "%s exceeds subtotal %s", discount, t.Subtotal)
	}
	t.Total = t.Subtotal.Sub(discount)
	for i, p := range payments {
		if !p.Method.Valid() {
			return Totals{}, shared.Validation("payments", "payment %d: unknown method %q", i+1, string(p.Method))
		}
		if p.Amount.IsNegative() {
			return Totals{}, shared.Validation("payments", "payment %d: amount must be >= 0, got %s", i+1, p.Amount)
		}
		if !shared.HasScale(p.Amount, shared.MoneyPlaces) {
			return Totals{}, shared.Validation("payments", "payment %d: amount allows %d decimal places", i+1, shared.MoneyPlaces)
		}
		t.AmountPaid = t.AmountPaid.Add(p.Amount)
		if p.Method.DrawsCredit() {
			t.CreditApplied = t.CreditApplied.Add(p.Amount)
		}
	}
	t.AmountDue = t.Total.Sub(t.AmountPaid)
	return t, nil
}
