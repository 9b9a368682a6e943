package ledger

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// =============================================================================
// MONEY - Currency amount with fixed 3-decimal precision
// =============================================================================

// Precision is the number of decimal places every monetary value carries.
const Precision = 3

// Money is a currency amount. All arithmetic rounds to the nearest 0.001
// (half away from zero), never truncates.
type Money struct {
	Value decimal.Decimal
}

var Zero = Money{Value: decimal.Zero}

func NewMoney(v float64) Money      { return Money{Value: decimal.NewFromFloat(v).Round(Precision)} }
func NewMoneyFromInt(v int64) Money { return Money{Value: decimal.NewFromInt(v)} }
func MoneyOf(d decimal.Decimal) Money {
	return Money{Value: d.Round(Precision)}
}

// ParseMoney parses a decimal string such as "12.500".
func ParseMoney(s string) (Money, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return Zero, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	return MoneyOf(d), nil
}

// MustParseMoney is ParseMoney for literals in tests and fixtures.
func MustParseMoney(s string) Money {
	m, err := ParseMoney(s)
	if err != nil {
		panic(err)
	}
	return m
}

func (m Money) Add(o Money) Money        { return MoneyOf(m.Value.Add(o.Value)) }
func (m Money) Sub(o Money) Money        { return MoneyOf(m.Value.Sub(o.Value)) }
func (m Money) MulInt(n int) Money       { return MoneyOf(m.Value.Mul(decimal.NewFromInt(int64(n)))) }
func (m Money) Neg() Money               { return Money{Value: m.Value.Neg()} }
func (m Money) Abs() Money               { return Money{Value: m.Value.Abs()} }
func (m Money) IsZero() bool             { return m.Value.IsZero() }
func (m Money) IsPositive() bool         { return m.Value.IsPositive() }
func (m Money) IsNegative() bool         { return m.Value.IsNegative() }
func (m Money) Equal(o Money) bool       { return m.Value.Equal(o.Value) }
func (m Money) GreaterThan(o Money) bool { return m.Value.GreaterThan(o.Value) }
func (m Money) LessThan(o Money) bool    { return m.Value.LessThan(o.Value) }
func (m Money) String() string           { return m.Value.StringFixed(Precision) }

// Round re-applies currency precision to a value built outside Money arithmetic.
func (m Money) Round() Money { return MoneyOf(m.Value) }

func Sum(values ...Money) Money {
	total := Zero
	for _, v := range values {
		total = total.Add(v)
	}
	return total
}

// MarshalJSON writes a fixed 3-decimal string so clients never see float noise.
func (m Money) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.String())
}

// UnmarshalJSON accepts both JSON strings ("12.500") and numbers (12.5).
func (m *Money) UnmarshalJSON(data []byte) error {
	raw := strings.TrimSpace(string(data))
	if raw == "null" {
		*m = Zero
		return nil
	}
	raw = strings.Trim(raw, `"`)
	parsed, err := ParseMoney(raw)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}
