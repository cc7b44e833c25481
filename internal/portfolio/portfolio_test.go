package portfolio

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"tally/internal/core"
)

func TestParseQuarter(t *testing.T) {
	cases := []struct {
		in   string
		want int
		ok   bool
	}{
		{"2024 Q3", 20243, true},
		{"2024-Q1", 20241, true},
		{"2024Q4", 20244, true},
		{"q2 2023", 20232, true},
		{" 2022 q1 ", 20221, true},
		{"2024 Q5", 0, false},
		{"Q3", 0, false},
		{"", 0, false},
	}
	for _, tc := range cases {
		got, err := ParseQuarter(tc.in)
		if tc.ok && (err != nil || got != tc.want) {
			t.Fatalf("%q: expected %d, got %d (err=%v)", tc.in, tc.want, got, err)
		}
		if !tc.ok && !errors.Is(err, core.ErrValidation) {
			t.Fatalf("%q: expected validation error, got %v", tc.in, err)
		}
	}
}

func snap(q, typ, value string, base string) core.AssetSnapshot {
	s := core.AssetSnapshot{Quarter: q, AssetType: typ, Value: core.MustMoney(value)}
	if base != "" {
		b := core.MustMoney(base)
		s.BaseCurrencyValue = &b
	}
	return s
}

func TestSummarizeLatestQuarter(t *testing.T) {
	rows := []core.AssetSnapshot{
		snap("2024 Q2", "Cash", "99999", ""),
		snap("2024 Q3", "Cash", "1000", ""),
		snap("2024 Q3", "Stocks", "100", "2000"), // base currency value wins
		snap("2024 Q3", "Cash", "1000", ""),
		snap("2024 Q3", "Crypto", "1000", ""),
		snap("bad label", "Gold", "5000", ""),
	}
	s := Summarize(rows)

	if s.Quarter != "2024 Q3" {
		t.Fatalf("expected 2024 Q3, got %q", s.Quarter)
	}
	if !s.Total.Equal(core.MustMoney("5000")) {
		t.Fatalf("expected total 5000, got %s", s.Total)
	}
	want := []struct {
		typ string
		pct string
	}{{"Cash", "40"}, {"Stocks", "40"}, {"Crypto", "20"}}
	if len(s.Allocations) != len(want) {
		t.Fatalf("unexpected allocations: %+v", s.Allocations)
	}
	for i, w := range want {
		a := s.Allocations[i]
		if a.AssetType != w.typ || !a.Percentage.Equal(decimal.RequireFromString(w.pct)) {
			t.Fatalf("allocation %d: expected %s %s%%, got %s %s%%", i, w.typ, w.pct, a.AssetType, a.Percentage)
		}
	}
}

func TestSummarizePercentagesSumToHundred(t *testing.T) {
	rows := []core.AssetSnapshot{
		snap("2025 Q1", "A", "1", ""),
		snap("2025 Q1", "B", "1", ""),
		snap("2025 Q1", "C", "1", ""),
		snap("2025 Q1", "D", "7.77", ""),
	}
	s := Summarize(rows)
	sum := decimal.Zero
	for _, a := range s.Allocations {
		sum = sum.Add(a.Percentage)
	}
	if sum.Sub(decimal.NewFromInt(100)).Abs().GreaterThan(decimal.RequireFromString("0.001")) {
		t.Fatalf("percentages sum to %s", sum)
	}
}

func TestSummarizeEmpty(t *testing.T) {
	for name, rows := range map[string][]core.AssetSnapshot{
		"no rows":    nil,
		"zero total": {snap("2024 Q1", "Cash", "0", "")},
	} {
		s := Summarize(rows)
		if len(s.Allocations) != 0 {
			t.Fatalf("%s: expected empty allocations, got %+v", name, s.Allocations)
		}
	}
}

func TestSummarizeIsPure(t *testing.T) {
	rows := []core.AssetSnapshot{snap("2024 Q4", "Cash", "10", ""), snap("2024 Q4", "Bonds", "30", "")}
	a, b := Summarize(rows), Summarize(rows)
	if a.Quarter != b.Quarter || !a.Total.Equal(b.Total) || len(a.Allocations) != len(b.Allocations) {
		t.Fatalf("results differ: %+v vs %+v", a, b)
	}
	for i := range a.Allocations {
		if a.Allocations[i].AssetType != b.Allocations[i].AssetType || !a.Allocations[i].Percentage.Equal(b.Allocations[i].Percentage) {
			t.Fatalf("allocation %d differs", i)
		}
	}
}

func TestRunway(t *testing.T) {
	months, ok := Runway(core.MustMoney("10000"), core.MustMoney("3000"))
	if !ok || !months.Equal(decimal.RequireFromString("3.3")) {
		t.Fatalf("expected 3.3 months, got %s ok=%v", months, ok)
	}
	if _, ok := Runway(core.MustMoney("10000"), core.Zero); ok {
		t.Fatalf("zero expenses must not produce a runway")
	}
}

func TestAverageMonthlyExpenses(t *testing.T) {
	aggs := []core.MonthlyAggregate{
		{Expenses: core.MustMoney("1000")},
		{Expenses: core.MustMoney("2000")},
		{Expenses: core.MustMoney("1500.5")},
	}
	if got := AverageMonthlyExpenses(aggs); !got.Equal(core.MustMoney("1500.17")) {
		t.Fatalf("expected 1500.17, got %s", got)
	}
	if !AverageMonthlyExpenses(nil).IsZero() {
		t.Fatalf("expected zero for no months")
	}
}
