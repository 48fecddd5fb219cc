package models

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

// MinorUnitDigits is the number of fractional digits kept for every amount
const MinorUnitDigits = 2

// MaxAmount is the largest amount accepted as a price, bid or increment.
// Prices built from it (a starting bid plus ten increments) stay far below
// the int64 range.
const MaxAmount Money = 1_000_000_000_000_00

var maxAmountDecimal = decimal.New(int64(MaxAmount), -MinorUnitDigits)

// Money is a monetary amount in integer minor units (cents).
// Amounts are never converted through floating point.
type Money int64

// FromMajor converts whole currency units into Money
func FromMajor(units int64) Money {
	return Money(units).Times(100)
}

// Valid reports whether m is within [0, MaxAmount]
func (m Money) Valid() bool {
	return m >= 0 && m <= MaxAmount
}

// ParseMoney parses a decimal string such as "5500" or "5500.25"
func ParseMoney(s string) (Money, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("parse money %q: %w", s, err)
	}

	minor := d.Shift(MinorUnitDigits)
	if !minor.IsInteger() {
		return 0, fmt.Errorf("parse money %q: more than %d decimal places", s, MinorUnitDigits)
	}
	if d.Abs().GreaterThan(maxAmountDecimal) {
		return 0, fmt.Errorf("parse money %q: exceeds %s", s, MaxAmount)
	}
	return Money(minor.IntPart()), nil
}

// MustParseMoney is ParseMoney for literals; it panics on malformed input.
func MustParseMoney(s string) Money {
	m, err := ParseMoney(s)
	if err != nil {
		panic(err)
	}
	return m
}

// Decimal returns the amount in major units
func (m Money) Decimal() decimal.Decimal {
	return decimal.New(int64(m), -MinorUnitDigits)
}

func (m Money) String() string {
	return m.Decimal().StringFixed(MinorUnitDigits)
}

// Add returns m + o, saturating at the int64 bounds
func (m Money) Add(o Money) Money {
	sum := m + o
	switch {
	case o > 0 && sum < m:
		return math.MaxInt64
	case o < 0 && sum > m:
		return math.MinInt64
	}
	return sum
}

// Times returns m multiplied by n, saturating at the int64 bounds
func (m Money) Times(n int64) Money {
	if m == 0 || n == 0 {
		return 0
	}
	p := m * Money(n)
	if p/Money(n) != m || (m == -1 && n == math.MinInt64) || (n == -1 && m == math.MinInt64) {
		if (m < 0) != (n < 0) {
			return math.MinInt64
		}
		return math.MaxInt64
	}
	return p
}

// Saturated reports whether m is pinned at an int64 bound by Add or Times
func (m Money) Saturated() bool {
	return m == math.MaxInt64 || m == math.MinInt64
}

// MarshalJSON renders the amount as a decimal string, e.g. "5500.00"
func (m Money) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.String())
}

// UnmarshalJSON accepts a decimal string or a bare JSON number. Numbers are
// parsed from their textual form.
func (m *Money) UnmarshalJSON(b []byte) error {
	raw := strings.TrimSpace(string(b))
	if raw == "null" {
		return nil
	}

	if strings.HasPrefix(raw, `"`) {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return fmt.Errorf("money: %w", err)
		}
		raw = s
	}

	parsed, err := ParseMoney(raw)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}
