package domain

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// Amounts are int64 counts of the currency's minor unit (cents, for KES and USD).
const minorUnitsPerMajor = 100

var (
	ErrNegativeAmount = errors.New("amount must not be negative")
	ErrInvalidRate    = errors.New("rate must be between 0 and 1")
)

// Money pairs a minor-unit amount with its ISO 4217 currency.
type Money struct {
	Amount   int64
	Currency string
}

// NewMoney creates a new Money instance from minor units.
func NewMoney(amount int64, currency string) Money {
	return Money{Amount: amount, Currency: currency}
}

// ToDecimal converts the minor-unit amount into major units.
func (m Money) ToDecimal() decimal.Decimal {
	return decimal.NewFromInt(m.Amount).Div(decimal.NewFromInt(minorUnitsPerMajor))
}

// FromDecimal converts major units into minor units, rounding half away from zero.
func FromDecimal(d decimal.Decimal) int64 {
	return d.Mul(decimal.NewFromInt(minorUnitsPerMajor)).Round(0).IntPart()
}

func (m Money) String() string {
	return fmt.Sprintf("%s %s", m.ToDecimal().StringFixed(2), m.Currency)
}

// ParseRate parses a fractional rate such as "0.05" and checks it is within [0, 1].
func ParseRate(s string) (decimal.Decimal, error) {
	rate, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse rate %q: %w", s, err)
	}
	if rate.IsNegative() || rate.GreaterThan(decimal.NewFromInt(1)) {
		return decimal.Zero, ErrInvalidRate
	}
	return rate, nil
}

// ApplyRate returns amount*rate rounded half up to the nearest minor unit.
func ApplyRate(amount int64, rate decimal.Decimal) int64 {
	return decimal.NewFromInt(amount).Mul(rate).Round(0).IntPart()
}
