// Package portfolio reduces spreadsheet asset snapshots into the allocation
// of the latest quarter and estimates how long savings would last.
package portfolio

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"tally/internal/core"
)

var (
	hundred = decimal.NewFromInt(100)

	// "2024 Q3", "2024-Q3", "2024Q3", "2024/q3"
	yearFirst = regexp.MustCompile(`^(\d{4})\s*[-/ ]?\s*[Qq]([1-4])$`)
	// "Q3 2024", "Q3-2024"
	quarterFirst = regexp.MustCompile(`^[Qq]([1-4])\s*[-/ ]?\s*(\d{4})$`)
)

// Allocation is the share of one asset type in the quarter total.
type Allocation struct {
	AssetType  string          `json:"asset_type"`
	Value      core.Money      `json:"value"`
	Percentage decimal.Decimal `json:"percentage"`
}

// Summary is the allocation of the most recent quarter.
type Summary struct {
	Quarter     string       `json:"quarter"`
	Total       core.Money   `json:"total"`
	Allocations []Allocation `json:"allocations"`
}

// ParseQuarter turns a quarter label into a sortable integer: "2024 Q3" -> 20243.
func ParseQuarter(label string) (int, error) {
	s := strings.TrimSpace(label)
	var year, q string
	if m := yearFirst.FindStringSubmatch(s); m != nil {
		year, q = m[1], m[2]
	} else if m := quarterFirst.FindStringSubmatch(s); m != nil {
		year, q = m[2], m[1]
	} else {
		return 0, fmt.Errorf("%w: invalid quarter %q, want \"YYYY Qn\"", core.ErrValidation, label)
	}
	y, _ := strconv.Atoi(year)
	n, _ := strconv.Atoi(q)
	return y*10 + n, nil
}

// FormatQuarter is the inverse of ParseQuarter.
func FormatQuarter(key int) string {
	return fmt.Sprintf("%d Q%d", key/10, key%10)
}

// Summarize computes the allocation of the latest quarter present in rows.
// Rows with an unparseable quarter are ignored. With no rows, or a zero
// total, the allocation list is empty.
func Summarize(rows []core.AssetSnapshot) Summary {
	latest := 0
	keys := make([]int, len(rows))
	for i, r := range rows {
		k, err := ParseQuarter(r.Quarter)
		if err != nil {
			continue
		}
		keys[i] = k
		if k > latest {
			latest = k
		}
	}

	s := Summary{Total: core.Zero, Allocations: []Allocation{}}
	if latest == 0 {
		return s
	}
	s.Quarter = FormatQuarter(latest)

	byType := map[string]core.Money{}
	var order []string
	for i, r := range rows {
		if keys[i] != latest {
			continue
		}
		name := strings.TrimSpace(r.AssetType)
		if _, seen := byType[name]; !seen {
			order = append(order, name)
			byType[name] = core.Zero
		}
		v := r.EffectiveValue()
		byType[name] = byType[name].Add(v)
		s.Total = s.Total.Add(v)
	}

	if !s.Total.IsPositive() {
		return s
	}

	for _, name := range order {
		v := byType[name]
		s.Allocations = append(s.Allocations, Allocation{
			AssetType:  name,
			Value:      v,
			Percentage: v.Decimal.Mul(hundred).DivRound(s.Total.Decimal, 4),
		})
	}
	sort.SliceStable(s.Allocations, func(i, j int) bool {
		ai, aj := s.Allocations[i], s.Allocations[j]
		if c := ai.Value.Cmp(aj.Value.Decimal); c != 0 {
			return c > 0
		}
		return ai.AssetType < aj.AssetType
	})
	return s
}

// Runway is how many months savings cover at the given monthly spend,
// rounded to one decimal. ok is false when monthlyExpenses is not positive.
func Runway(savings, monthlyExpenses core.Money) (months decimal.Decimal, ok bool) {
	if !monthlyExpenses.IsPositive() {
		return decimal.Zero, false
	}
	return savings.Decimal.DivRound(monthlyExpenses.Decimal, 8).Round(1), true
}

// AverageMonthlyExpenses is the mean of Expenses over the given months.
func AverageMonthlyExpenses(aggs []core.MonthlyAggregate) core.Money {
	if len(aggs) == 0 {
		return core.Zero
	}
	total := core.Zero
	for _, a := range aggs {
		total = total.Add(a.Expenses)
	}
	return core.NewMoney(total.Decimal.DivRound(decimal.NewFromInt(int64(len(aggs))), 2))
}
