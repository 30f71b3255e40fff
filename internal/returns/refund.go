package returns

import (
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/pos-ledger/internal/sales"
	"github.com/odyssey-erp/pos-ledger/internal/shared"
	"github.com/odyssey-erp/pos-ledger/internal/stock"
)

// RefundValue is the value of qty units of line less the line's proportional
// share of the sale discount.
func RefundValue(sale sales.Sale, line sales.Item, qty decimal.Decimal) decimal.Decimal {
	value := qty.Mul(line.UnitPrice)
	if sale.Discount.IsPositive() && sale.Subtotal.IsPositive() {
		value = value.Sub(value.Mul(sale.Discount).Div(sale.Subtotal))
	}
	return value.Round(shared.MoneyPlaces)
}

// CappedRefund is RefundValue bounded by what is left to refund. The return
// that closes out a line takes the exact remainder of the line's net value,
// and no line may push the sale past its total. saleRefunded is what the sale
// has already refunded, including earlier lines of the same return.
func CappedRefund(sale sales.Sale, line sales.Item, qty decimal.Decimal, claim Claim, saleRefunded decimal.Decimal) decimal.Decimal {
	lineLeft := RefundValue(sale, line, line.Quantity).Sub(claim.Refunded)
	refund := RefundValue(sale, line, qty)
	if claim.Quantity.Add(qty).GreaterThanOrEqual(line.Quantity) {
		refund = lineLeft
	}
	refund = decimal.Min(refund, lineLeft, sale.Total.Sub(saleRefunded))
	if refund.IsNegative() {
		return decimal.Zero
	}
	return refund
}

// StockUnits converts returned items to stock units at the ratio the sale
// line used, rounded to the stored stock precision.
func StockUnits(line sales.Item, qty decimal.Decimal) decimal.Decimal {
	if !line.Quantity.IsPositive() {
		return decimal.Zero
	}
	if qty.Equal(line.Quantity) {
		return line.StockUnits
	}
	return line.StockUnits.Mul(qty).Div(line.Quantity).Round(shared.StockPlaces)
}

// Outstanding trims allocations by units already restored by earlier
// returns. Restores consume allocations newest first, so the trim does too.
func Outstanding(allocations []stock.Allocation, restored decimal.Decimal) []stock.Allocation {
	out := append([]stock.Allocation(nil), allocations...)
	left := restored
	for i := len(out) - 1; i >= 0 && left.IsPositive(); i-- {
		take := decimal.Min(left, out[i].Quantity)
		out[i].Quantity = out[i].Quantity.Sub(take)
		left = left.Sub(take)
	}
	return out
}
