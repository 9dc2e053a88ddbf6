package domain

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// AmountScale is the maximum number of fractional digits a transfer amount may carry.
const AmountScale = 4

// Money represents a monetary value in a specific currency.
type Money struct {
	Amount   decimal.Decimal
	Currency string // ISO 4217
}

// NewMoney creates a Money value with a normalized currency code.
func NewMoney(amount decimal.Decimal, currency string) Money {
	return Money{
		Amount:   amount,
		Currency: NormalizeCurrency(currency),
	}
}

// ParseMoney parses a decimal string such as "40.00".
func ParseMoney(amount, currency string) (Money, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(amount))
	if err != nil {
		return Money{}, fmt.Errorf("invalid amount %q: %w", amount, err)
	}
	return NewMoney(d, currency), nil
}

// NormalizeCurrency upper-cases and trims a currency code.
func NormalizeCurrency(currency string) string {
	return strings.ToUpper(strings.TrimSpace(currency))
}

// IsPositive reports whether the amount is strictly greater than zero.
func (m Money) IsPositive() bool {
	return m.Amount.IsPositive()
}

// HasValidScale reports whether the amount fits within AmountScale fractional digits.
func (m Money) HasValidScale() bool {
	return m.Amount.Equal(m.Amount.Truncate(AmountScale))
}

// Add returns m + other. Currencies must match.
func (m Money) Add(other Money) (Money, error) {
	if m.Currency != other.Currency {
		return Money{}, fmt.Errorf("currency mismatch: %s vs %s", m.Currency, other.Currency)
	}
	return Money{Amount: m.Amount.Add(other.Amount), Currency: m.Currency}, nil
}

// Sub returns m - other. Currencies must match.
func (m Money) Sub(other Money) (Money, error) {
	if m.Currency != other.Currency {
		return Money{}, fmt.Errorf("currency mismatch: %s vs %s", m.Currency, other.Currency)
	}
	return Money{Amount: m.Amount.Sub(other.Amount), Currency: m.Currency}, nil
}

// StringAmount renders the amount with two decimals, or more when the value needs them.
func (m Money) StringAmount() string {
	places := int32(2)
	s := m.Amount.String()
	if i := strings.IndexByte(s, '.'); i >= 0 && int32(len(s)-i-1) > places {
		places = int32(len(s) - i - 1)
	}
	return m.Amount.StringFixed(places)
}

// String returns the string representation of the money.
func (m Money) String() string {
	return fmt.Sprintf("%s %s", m.StringAmount(), m.Currency)
}
