package shared

import "github.com/shopspring/decimal"

// Declared precision of persisted values.
const (
	MoneyPlaces    int32 = 2
	QuantityPlaces int32 = 3
	// StockPlaces matches the NUMERIC scale of stock columns.
	StockPlaces int32 = 6
)

// HasScale reports whether d needs no more than places fractional digits.
func HasScale(d decimal.Decimal, places int32) bool {
	return d.Equal(d.Round(places))
}
