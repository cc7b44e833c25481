package aggregate

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"tally/internal/core"
)

type fakeStore struct {
	mu      sync.Mutex
	txs     []core.Transaction
	rows    map[string]core.MonthlyAggregate
	upserts int

	ListFn func(from core.Date) error
}

func newFakeStore(txs ...core.Transaction) *fakeStore {
	return &fakeStore{txs: txs, rows: map[string]core.MonthlyAggregate{}}
}

func (f *fakeStore) ListTransactions(_ context.Context, userID string, from, to core.Date) ([]core.Transaction, error) {
	if f.ListFn != nil {
		if err := f.ListFn(from); err != nil {
			return nil, err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []core.Transaction
	for _, t := range f.txs {
		if t.UserID == userID && !t.Date.Before(from.Time) && !t.Date.After(to.Time) {
			out = append(out, t)
		}
	}
	return out, nil
}

func (f *fakeStore) UpsertMonthlyAggregate(_ context.Context, agg core.MonthlyAggregate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows[agg.UserID+"|"+agg.Month.MonthKey()] = agg
	f.upserts++
	return nil
}

type sinkFunc func(core.MonthlyAggregate) error

func (s sinkFunc) ExportAggregate(_ context.Context, agg core.MonthlyAggregate) error { return s(agg) }

func tx(user, date, amount, category string) core.Transaction {
	d, err := core.ParseDate(date)
	if err != nil {
		panic(err)
	}
	t := core.NewTransaction(d, "row", core.MustMoney(amount))
	t.UserID = user
	t.CategoryID = category
	return t
}

func januaryTxs() []core.Transaction {
	return []core.Transaction{
		tx("u1", "2024-01-01", "2500", ""),
		tx("u1", "2024-01-15", "500", ""),
		tx("u1", "2024-01-03", "-1200", "rent"),
		tx("u1", "2024-01-10", "-400", "food"),
		tx("u1", "2024-01-31", "-150", "food"),
		tx("u1", "2024-01-20", "-50", ""),
		// outside the month or owned by someone else
		tx("u1", "2023-12-31", "-999", "food"),
		tx("u1", "2024-02-01", "-999", "food"),
		tx("u2", "2024-01-10", "-999", "food"),
	}
}

func TestFoldIncomeAndExpenses(t *testing.T) {
	agg := Fold(januaryTxs(), "u1", core.NewDate(2024, 1, 1))

	if !agg.Income.Equal(core.MustMoney("3000")) {
		t.Fatalf("expected income 3000, got %s", agg.Income)
	}
	if !agg.Expenses.Equal(core.MustMoney("1800")) {
		t.Fatalf("expected expenses 1800, got %s", agg.Expenses)
	}
	if !agg.CategoryTotal().Equal(agg.Expenses) {
		t.Fatalf("breakdown sums to %s, expected %s", agg.CategoryTotal(), agg.Expenses)
	}
	if agg.TransactionCount != 6 {
		t.Fatalf("expected 6 transactions, got %d", agg.TransactionCount)
	}

	want := []struct {
		id  string
		amt string
	}{{"rent", "1200"}, {"food", "550"}, {"", "50"}}
	if len(agg.CategoryExpenses) != len(want) {
		t.Fatalf("unexpected breakdown: %+v", agg.CategoryExpenses)
	}
	for i, w := range want {
		got := agg.CategoryExpenses[i]
		if got.CategoryID != w.id || !got.Amount.Equal(core.MustMoney(w.amt)) {
			t.Fatalf("entry %d: expected %s=%s, got %s=%s", i, w.id, w.amt, got.CategoryID, got.Amount)
		}
	}
}

func TestFoldEmptyMonth(t *testing.T) {
	agg := Fold(nil, "u1", core.NewDate(2024, 3, 9))
	if !agg.Income.IsZero() || !agg.Expenses.IsZero() || len(agg.CategoryExpenses) != 0 {
		t.Fatalf("expected zero aggregate, got %+v", agg)
	}
	if agg.Month.String() != "2024-03-01" {
		t.Fatalf("expected month normalized to first day, got %s", agg.Month)
	}
}

func TestAggregateMonthIsIdempotent(t *testing.T) {
	store := newFakeStore(januaryTxs()...)
	fixed := time.Date(2024, 2, 1, 12, 0, 0, 0, time.UTC)
	a := New(store, nil, WithClock(func() time.Time { return fixed }))
	ctx := context.Background()

	first, err := a.AggregateMonth(ctx, "u1", time.Date(2024, 1, 17, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("AggregateMonth: %v", err)
	}
	second, err := a.AggregateMonth(ctx, "u1", time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("AggregateMonth: %v", err)
	}

	if len(store.rows) != 1 {
		t.Fatalf("expected exactly one stored row, got %d", len(store.rows))
	}
	if !first.Income.Equal(second.Income) || !first.Expenses.Equal(second.Expenses) {
		t.Fatalf("totals differ between runs: %+v vs %+v", first, second)
	}
	row := store.rows["u1|2024-01"]
	if !row.Income.Equal(core.MustMoney("3000")) || !row.Expenses.Equal(core.MustMoney("1800")) {
		t.Fatalf("unexpected stored row: %+v", row)
	}
	if !row.UpdatedAt.Equal(fixed) {
		t.Fatalf("expected UpdatedAt from clock, got %v", row.UpdatedAt)
	}
}

func TestAggregateMonthRequiresUser(t *testing.T) {
	a := New(newFakeStore(), nil)
	if _, err := a.AggregateMonth(context.Background(), "", time.Now()); !errors.Is(err, core.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestRecalculateRangeToleratesFailures(t *testing.T) {
	store := newFakeStore(januaryTxs()...)
	store.ListFn = func(from core.Date) error {
		if from.MonthKey() == "2024-02" {
			return errors.New("db down")
		}
		return nil
	}
	a := New(store, nil)

	res, err := a.RecalculateRange(context.Background(), "u1",
		time.Date(2023, 12, 20, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("RecalculateRange: %v", err)
	}
	if res.MonthsProcessed != 3 {
		t.Fatalf("expected 3 months processed, got %d", res.MonthsProcessed)
	}
	if len(res.Failures) != 1 || res.Failures[0].Month != "2024-02" {
		t.Fatalf("unexpected failures: %+v", res.Failures)
	}
	for _, k := range []string{"u1|2023-12", "u1|2024-01", "u1|2024-03"} {
		if _, ok := store.rows[k]; !ok {
			t.Fatalf("missing row %s", k)
		}
	}
}

func TestRecalculateRangeRejectsReversedRange(t *testing.T) {
	a := New(newFakeStore(), nil)
	_, err := a.RecalculateRange(context.Background(), "u1",
		time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	if !errors.Is(err, core.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestRecalculateRangeStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	a := New(newFakeStore(), nil)
	res, err := a.RecalculateRange(ctx, "u1",
		time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if res.MonthsProcessed != 0 {
		t.Fatalf("expected nothing processed, got %d", res.MonthsProcessed)
	}
}

func TestSinkErrorsDoNotFailAggregation(t *testing.T) {
	var exported []string
	ok := sinkFunc(func(a core.MonthlyAggregate) error {
		exported = append(exported, a.Month.MonthKey())
		return nil
	})
	broken := sinkFunc(func(core.MonthlyAggregate) error { return errors.New("quota") })

	a := New(newFakeStore(januaryTxs()...), nil, WithSink(broken), WithSink(ok))
	if _, err := a.AggregateMonth(context.Background(), "u1", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)); err != nil {
		t.Fatalf("sink failure must not fail aggregation: %v", err)
	}
	if len(exported) != 1 || exported[0] != "2024-01" {
		t.Fatalf("expected export of 2024-01, got %v", exported)
	}
}

func TestConcurrentRecomputesLeaveOneRow(t *testing.T) {
	store := newFakeStore(januaryTxs()...)
	a := New(store, nil)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := a.AggregateMonth(context.Background(), "u1", time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC)); err != nil {
				t.Errorf("AggregateMonth: %v", err)
			}
		}()
	}
	wg.Wait()

	if len(store.rows) != 1 || store.upserts != 16 {
		t.Fatalf("expected 1 row after 16 upserts, got %d rows / %d upserts", len(store.rows), store.upserts)
	}
	if n := len(a.locks); n != 0 {
		t.Fatalf("expected month locks to be released, %d left", n)
	}
}

func TestMonthLocksAreDroppedAfterUse(t *testing.T) {
	store := newFakeStore(januaryTxs()...)
	a := New(store, nil)

	res, err := a.RecalculateRange(context.Background(), "u1",
		time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC), time.Date(2024, 12, 1, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("RecalculateRange: %v", err)
	}
	if res.MonthsProcessed != 24 {
		t.Fatalf("expected 24 months, got %d", res.MonthsProcessed)
	}
	if n := len(a.locks); n != 0 {
		t.Fatalf("expected no month locks after recompute, got %d", n)
	}
}
