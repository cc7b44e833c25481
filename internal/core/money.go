// Package core provides money parsing and handling utilities.
//
// Amounts are kept as arbitrary-precision decimals so that sums over many
// transactions never accumulate floating-point error.
package core

import (
	"encoding/json"
	"strings"
	"unicode"

	"github.com/shopspring/decimal"
)

// Money is a signed decimal amount in the account currency.
type Money struct {
	decimal.Decimal
}

// Zero is the zero amount.
var Zero = Money{Decimal: decimal.Zero}

// NewMoney builds an amount from a decimal.
func NewMoney(d decimal.Decimal) Money {
	return Money{Decimal: d}
}

// MoneyFromCents builds an amount from integer minor units.
func MoneyFromCents(cents int64) Money {
	return Money{Decimal: decimal.New(cents, -2)}
}

// MustMoney parses s and panics on failure. Intended for tests and constants.
func MustMoney(s string) Money {
	m, err := ParseAmount(s)
	if err != nil {
		panic(err)
	}
	return m
}

func (m Money) Add(o Money) Money { return Money{Decimal: m.Decimal.Add(o.Decimal)} }
func (m Money) Sub(o Money) Money { return Money{Decimal: m.Decimal.Sub(o.Decimal)} }
func (m Money) Abs() Money        { return Money{Decimal: m.Decimal.Abs()} }
func (m Money) Neg() Money        { return Money{Decimal: m.Decimal.Neg()} }

// Equal compares by value, so 50 and 50.00 are equal.
func (m Money) Equal(o Money) bool { return m.Decimal.Equal(o.Decimal) }

// String renders the amount with two decimal places.
func (m Money) String() string {
	return m.Decimal.StringFixed(2)
}

// MarshalJSON renders the amount as a JSON number with two decimals.
func (m Money) MarshalJSON() ([]byte, error) {
	return []byte(m.Decimal.StringFixed(2)), nil
}

func (m *Money) UnmarshalJSON(b []byte) error {
	var s string
	if len(b) > 0 && b[0] == '"' {
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
	} else {
		s = string(b)
	}
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return ErrInvalidAmount
	}
	m.Decimal = d
	return nil
}

// ParseAmount converts a bank-export amount string into a signed Money value.
//
// It accepts thousands separators, a decimal comma, currency symbols and
// ISO codes, a leading or trailing minus, accounting-style parentheses and
// DR/CR markers:
//
//	ParseAmount("1,234.56")  -> 1234.56
//	ParseAmount("-50")       -> -50
//	ParseAmount("(50.00)")   -> -50
//	ParseAmount("€12,34")    -> 12.34
//	ParseAmount("1.234,56")  -> 1234.56
//	ParseAmount("50.00 DR")  -> -50
//	ParseAmount("AUD 20 CR") -> 20
//
// Any other letter, such as an exponent, is rejected.
func ParseAmount(s string) (Money, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Money{}, ErrInvalidAmount
	}

	neg := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		neg = true
		s = strings.TrimSpace(s[1 : len(s)-1])
	}

	num, marker, err := splitAmount(s)
	if err != nil {
		return Money{}, err
	}

	var b strings.Builder
	for _, r := range num {
		switch {
		case unicode.IsDigit(r), r == '.', r == ',':
			b.WriteRune(r)
		case r == '-':
			neg = !neg
		case r == '+':
		case unicode.IsSpace(r), unicode.Is(unicode.Sc, r), r == '\'':
		default:
			return Money{}, ErrInvalidAmount
		}
	}
	digits := normalizeSeparators(b.String())
	if digits == "" || digits == "." {
		return Money{}, ErrInvalidAmount
	}

	d, err := decimal.NewFromString(digits)
	if err != nil {
		return Money{}, ErrInvalidAmount
	}
	switch marker {
	case "DR":
		neg = true
	case "CR":
		neg = false
	}
	if neg {
		d = d.Neg()
	}
	return Money{Decimal: d}, nil
}

// splitAmount removes the letter words around the number in s. Each word
// must be a three-letter currency code or a DR/CR marker, and may only
// appear before the first digit or after the last one. The marker found,
// if any, is returned upper-cased.
func splitAmount(s string) (num, marker string, err error) {
	first := strings.IndexFunc(s, unicode.IsDigit)
	last := strings.LastIndexFunc(s, unicode.IsDigit)
	if first < 0 {
		return "", "", ErrInvalidAmount
	}
	if strings.IndexFunc(s[first:last+1], unicode.IsLetter) >= 0 {
		return "", "", ErrInvalidAmount
	}

	strip := func(part string) (string, error) {
		var out strings.Builder
		rs := []rune(part)
		for i := 0; i < len(rs); {
			if !unicode.IsLetter(rs[i]) {
				out.WriteRune(rs[i])
				i++
				continue
			}
			j := i
			for j < len(rs) && unicode.IsLetter(rs[j]) {
				j++
			}
			word := string(rs[i:j])
			switch up := strings.ToUpper(word); {
			case up == "DR" || up == "CR":
				if marker != "" {
					return "", ErrInvalidAmount
				}
				marker = up
			case isCurrencyCode(word):
			default:
				return "", ErrInvalidAmount
			}
			i = j
		}
		return out.String(), nil
	}

	head, err := strip(s[:first])
	if err != nil {
		return "", "", err
	}
	tail, err := strip(s[last+1:])
	if err != nil {
		return "", "", err
	}
	return head + s[first:last+1] + tail, marker, nil
}

func isCurrencyCode(w string) bool {
	if len(w) != 3 {
		return false
	}
	for _, r := range w {
		if r < 'A' || r > 'Z' {
			return false
		}
	}
	return true
}

// normalizeSeparators turns a number with mixed grouping/decimal separators
// into a plain dot-decimal string.
func normalizeSeparators(s string) string {
	lastDot := strings.LastIndex(s, ".")
	lastComma := strings.LastIndex(s, ",")

	switch {
	case lastDot >= 0 && lastComma >= 0:
		// Whichever comes last is the decimal separator.
		if lastComma > lastDot {
			s = strings.ReplaceAll(s, ".", "")
			return strings.Replace(s, ",", ".", 1)
		}
		return strings.ReplaceAll(s, ",", "")
	case lastComma >= 0:
		// A single comma followed by 1-2 digits is a decimal comma.
		if strings.Count(s, ",") == 1 && len(s)-lastComma-1 <= 2 {
			return strings.Replace(s, ",", ".", 1)
		}
		return strings.ReplaceAll(s, ",", "")
	case strings.Count(s, ".") > 1:
		// "1.234.567" uses dots for grouping.
		return strings.ReplaceAll(s, ".", "")
	}
	return s
}
