package core

import (
	"sort"
	"time"
)

// CategoryAmount represents an amount aggregated by category.
type CategoryAmount struct {
	CategoryID string `json:"category_id"`
	Amount     Money  `json:"amount"`
}

// MonthlyAggregate is the derived per-month summary of a user's transactions.
// It is unique per (UserID, Month) and always recomputable from transactions.
type MonthlyAggregate struct {
	UserID           string           `json:"user_id"`
	Month            Date             `json:"-"`
	Income           Money            `json:"income"`
	Expenses         Money            `json:"expenses"`
	CategoryExpenses []CategoryAmount `json:"category_expenses"`
	TransactionCount int              `json:"transaction_count"`
	UpdatedAt        time.Time        `json:"updated_at"`
}

// Net is income minus expenses.
func (a MonthlyAggregate) Net() Money {
	return a.Income.Sub(a.Expenses)
}

// CategoryTotal sums the expense breakdown; it equals Expenses for a
// well-formed aggregate.
func (a MonthlyAggregate) CategoryTotal() Money {
	total := Zero
	for _, c := range a.CategoryExpenses {
		total = total.Add(c.Amount)
	}
	return total
}

// SortCategoryAmounts orders a breakdown by amount descending, then category ID.
func SortCategoryAmounts(cs []CategoryAmount) {
	sort.Slice(cs, func(i, j int) bool {
		if c := cs[i].Amount.Cmp(cs[j].Amount.Decimal); c != 0 {
			return c > 0
		}
		return cs[i].CategoryID < cs[j].CategoryID
	})
}
