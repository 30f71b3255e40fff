package sales

import "github.com/shopspring/decimal"

// UnitConverter maps a product to the stock units one sold item consumes.
type UnitConverter interface {
	UnitsPerItem(productID int64) decimal.Decimal
}

// UnitTable is a configured product → units-per-item mapping. Products not
// listed consume one stock unit per item.
type UnitTable map[int64]decimal.Decimal

// UnitsPerItem implements UnitConverter.
func (t UnitTable) UnitsPerItem(productID int64) decimal.Decimal {
	if units, ok := t[productID]; ok && units.IsPositive() {
		return units
	}
	return decimal.NewFromInt(1)
}
