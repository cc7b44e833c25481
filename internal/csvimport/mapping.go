package csvimport

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode"

	"tally/internal/core"
)

// ErrMappingUnresolved is returned when no mapper can locate the required columns.
var ErrMappingUnresolved = errors.New("cannot map CSV columns")

// ColumnMapping holds the index of each known column, or -1 when absent.
type ColumnMapping struct {
	Date        int `json:"date"`
	Description int `json:"description"`
	Amount      int `json:"amount"`
	Debit       int `json:"debit"`
	Credit      int `json:"credit"`
}

// NoMapping is a mapping with every column absent.
func NoMapping() ColumnMapping {
	return ColumnMapping{Date: -1, Description: -1, Amount: -1, Debit: -1, Credit: -1}
}

// Valid reports whether the mapping locates a date, a description and
// either a signed amount or at least one of debit/credit.
func (m ColumnMapping) Valid() bool {
	return m.Date >= 0 && m.Description >= 0 && (m.Amount >= 0 || m.Debit >= 0 || m.Credit >= 0)
}

func (m ColumnMapping) within(n int) bool {
	for _, i := range []int{m.Date, m.Description, m.Amount, m.Debit, m.Credit} {
		if i >= n || i < -1 {
			return false
		}
	}
	return true
}

// Mapper decides which columns of a CSV hold which transaction fields.
type Mapper interface {
	Map(ctx context.Context, headers []string, sample [][]string) (ColumnMapping, error)
}

var synonyms = map[string][]string{
	"date":        {"date", "transaction date", "posted", "posting date", "posted date", "value date", "booking date", "data"},
	"description": {"description", "details", "narrative", "memo", "payee", "transaction details", "merchant", "reference", "descrizione"},
	"amount":      {"amount", "value", "transaction amount", "importo"},
	"debit":       {"debit", "withdrawal", "withdrawals", "paid out", "money out", "debit amount"},
	"credit":      {"credit", "deposit", "deposits", "paid in", "money in", "credit amount"},
}

// HeuristicMapper maps columns by matching header names against known synonyms.
type HeuristicMapper struct{}

func normalizeHeader(h string) string {
	h = strings.ToLower(strings.TrimSpace(h))
	h = strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return r
		}
		return ' '
	}, h)
	return strings.Join(strings.Fields(h), " ")
}

func (HeuristicMapper) Map(_ context.Context, headers []string, _ [][]string) (ColumnMapping, error) {
	norm := make([]string, len(headers))
	for i, h := range headers {
		norm[i] = normalizeHeader(h)
	}
	used := map[int]bool{}

	find := func(field string) int {
		// exact synonym first, then a header containing a synonym
		for _, syn := range synonyms[field] {
			for i, h := range norm {
				if !used[i] && h == syn {
					used[i] = true
					return i
				}
			}
		}
		for _, syn := range synonyms[field] {
			for i, h := range norm {
				if !used[i] && strings.Contains(h, syn) {
					used[i] = true
					return i
				}
			}
		}
		return -1
	}

	m := NoMapping()
	m.Date = find("date")
	// a single "Debit/Credit" column carries signed amounts
	for i, h := range norm {
		if !used[i] && mentions(h, "debit") && mentions(h, "credit") {
			used[i] = true
			m.Amount = i
			break
		}
	}
	m.Debit = find("debit")
	m.Credit = find("credit")
	if m.Amount < 0 {
		m.Amount = find("amount")
	}
	m.Description = find("description")
	if !m.Valid() {
		return m, unresolved(headers)
	}
	return m, nil
}

func mentions(header, field string) bool {
	for _, syn := range synonyms[field] {
		if strings.Contains(header, syn) {
			return true
		}
	}
	return false
}

// ChainMapper tries each mapper in order and returns the first valid mapping.
type ChainMapper []Mapper

func (c ChainMapper) Map(ctx context.Context, headers []string, sample [][]string) (ColumnMapping, error) {
	var errs []error
	for _, m := range c {
		if m == nil {
			continue
		}
		cm, err := m.Map(ctx, headers, sample)
		if err == nil && cm.Valid() && cm.within(len(headers)) {
			return cm, nil
		}
		if err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return NoMapping(), errors.Join(append([]error{unresolved(headers)}, errs...)...)
	}
	return NoMapping(), unresolved(headers)
}

func unresolved(headers []string) error {
	return fmt.Errorf("%w: %w: need date, description and amount (or debit/credit) columns, got %q",
		core.ErrValidation, ErrMappingUnresolved, headers)
}
