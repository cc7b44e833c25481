package sheets

import (
	"fmt"
	"strings"

	"tally/internal/core"
)

// Header names of the supported tabs.
var (
	SavingsHeaders       = []string{"Quarter", "Asset Type", "Value", "Base Currency Value"}
	ExpenseDetailHeaders = []string{"Date", "Description", "Amount", "Category"}
)

// headerIndex locates each wanted header in headers, case-insensitively.
// It fails with a validation error naming every missing header.
func headerIndex(tab string, headers []string, want []string, optional map[string]bool) (map[string]int, error) {
	idx := make(map[string]int, len(want))
	var missing []string
	for _, w := range want {
		i := indexOf(headers, w)
		if i == -1 && !optional[w] {
			missing = append(missing, w)
		}
		idx[w] = i
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: unexpected %s header: missing %s; got headers=%v",
			core.ErrValidation, tab, strings.Join(missing, ","), headers)
	}
	return idx, nil
}

// ParseSavings converts the "Savings" tab into asset snapshots. Rows without
// a quarter are skipped; an empty base-currency cell leaves it nil.
func ParseSavings(values [][]string) ([]core.AssetSnapshot, error) {
	if len(values) == 0 {
		return nil, nil
	}
	idx, err := headerIndex("savings", values[0], SavingsHeaders, map[string]bool{"Base Currency Value": true})
	if err != nil {
		return nil, err
	}

	var out []core.AssetSnapshot
	for i := 1; i < len(values); i++ {
		row := values[i]
		quarter := strings.TrimSpace(safeGet(row, idx["Quarter"]))
		if quarter == "" {
			continue
		}
		value, err := core.ParseAmount(safeGet(row, idx["Value"]))
		if err != nil {
			return nil, fmt.Errorf("%w: savings row %d: value %q", core.ErrValidation, i+1, safeGet(row, idx["Value"]))
		}
		snap := core.AssetSnapshot{
			Quarter:   quarter,
			AssetType: strings.TrimSpace(safeGet(row, idx["Asset Type"])),
			Value:     value,
		}
		if s := strings.TrimSpace(safeGet(row, idx["Base Currency Value"])); s != "" {
			base, err := core.ParseAmount(s)
			if err != nil {
				return nil, fmt.Errorf("%w: savings row %d: base currency value %q", core.ErrValidation, i+1, s)
			}
			snap.BaseCurrencyValue = &base
		}
		out = append(out, snap)
	}
	return out, nil
}

// ParseExpenseDetail converts the "Expense-Detail" tab into expense rows.
// Blank rows are skipped.
func ParseExpenseDetail(values [][]string) ([]ExpenseRow, error) {
	if len(values) == 0 {
		return nil, nil
	}
	idx, err := headerIndex("expense detail", values[0], ExpenseDetailHeaders, map[string]bool{"Category": true})
	if err != nil {
		return nil, err
	}

	var out []ExpenseRow
	for i := 1; i < len(values); i++ {
		row := values[i]
		dateStr := strings.TrimSpace(safeGet(row, idx["Date"]))
		desc := strings.TrimSpace(safeGet(row, idx["Description"]))
		amtStr := strings.TrimSpace(safeGet(row, idx["Amount"]))
		if dateStr == "" && desc == "" && amtStr == "" {
			continue
		}
		d, err := core.ParseDate(dateStr)
		if err != nil {
			return nil, fmt.Errorf("%w: expense detail row %d: %w", core.ErrValidation, i+1, err)
		}
		amt, err := core.ParseAmount(amtStr)
		if err != nil {
			return nil, fmt.Errorf("%w: expense detail row %d: amount %q", core.ErrValidation, i+1, amtStr)
		}
		out = append(out, ExpenseRow{
			Date:        d,
			Description: desc,
			Amount:      amt,
			Category:    strings.TrimSpace(safeGet(row, idx["Category"])),
		})
	}
	return out, nil
}

func indexOf(arr []string, target string) int {
	for i, v := range arr {
		if strings.EqualFold(strings.TrimSpace(v), strings.TrimSpace(target)) {
			return i
		}
	}
	return -1
}

func safeGet(arr []string, idx int) string {
	if idx < 0 || idx >= len(arr) {
		return ""
	}
	return arr[idx]
}
