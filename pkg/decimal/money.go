package decimal

import (
	"github.com/shopspring/decimal"
)

// Money represents a monetary amount with proper financial precision.
type Money struct {
	decimal.Decimal
}

// NewMoney creates a new Money instance from a float64.
func NewMoney(value float64) Money {
	return Money{decimal.NewFromFloat(value)}
}

// Round rounds the money amount to cents, with halves rounded away from
// zero.
func (m Money) Round() Money {
	return Money{m.Decimal.Round(2)}
}

// String returns the string representation with proper formatting.
func (m Money) String() string {
	return m.Decimal.StringFixed(2)
}

// Format formats the money amount with proper currency formatting.
func (m Money) Format() string {
	return "$" + m.String()
}
