// Package aggregate folds raw transactions into per-month summaries and
// persists them as derived rows, one per (user, month).
package aggregate

import (
	"context"
	"fmt"
	"sync"
	"time"

	"tally/internal/core"
	applog "tally/internal/log"
)

// Store is what the aggregator needs from persistence.
type Store interface {
	ListTransactions(ctx context.Context, userID string, from, to core.Date) ([]core.Transaction, error)
	// UpsertMonthlyAggregate replaces the row for (UserID, Month), including
	// its category breakdown, atomically.
	UpsertMonthlyAggregate(ctx context.Context, agg core.MonthlyAggregate) error
}

// Sink receives every aggregate after it has been stored.
type Sink interface {
	ExportAggregate(ctx context.Context, agg core.MonthlyAggregate) error
}

// MonthFailure records a month that could not be recomputed.
type MonthFailure struct {
	Month string `json:"month"`
	Error string `json:"error"`
}

// RangeResult reports the outcome of RecalculateRange.
type RangeResult struct {
	MonthsProcessed int            `json:"months_processed"`
	Failures        []MonthFailure `json:"failures,omitempty"`
}

// Aggregator computes monthly aggregates.
type Aggregator struct {
	store  Store
	sinks  []Sink
	logger *applog.Logger
	now    func() time.Time

	mapMu sync.Mutex
	locks map[string]*monthLock
}

// monthLock serializes recomputes of one (user, month); holders counts the
// callers holding or waiting on it so the entry can be dropped when idle.
type monthLock struct {
	mu      sync.Mutex
	holders int
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithSink registers a sink notified after each successful upsert.
func WithSink(s Sink) Option {
	return func(a *Aggregator) {
		if s != nil {
			a.sinks = append(a.sinks, s)
		}
	}
}

// WithClock overrides the time source used for UpdatedAt.
func WithClock(now func() time.Time) Option {
	return func(a *Aggregator) { a.now = now }
}

func New(store Store, logger *applog.Logger, opts ...Option) *Aggregator {
	if logger == nil {
		logger = applog.Nop()
	}
	a := &Aggregator{
		store:  store,
		logger: logger.WithComponent(applog.ComponentAggregate),
		now:    time.Now,
		locks:  make(map[string]*monthLock),
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// lockMonth acquires the lock for (userID, month) and returns its release.
func (a *Aggregator) lockMonth(userID string, month core.Date) func() {
	k := userID + "|" + month.MonthKey()

	a.mapMu.Lock()
	l, ok := a.locks[k]
	if !ok {
		l = &monthLock{}
		a.locks[k] = l
	}
	l.holders++
	a.mapMu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		a.mapMu.Lock()
		l.holders--
		if l.holders == 0 {
			delete(a.locks, k)
		}
		a.mapMu.Unlock()
	}
}

// AggregateMonth recomputes and stores the aggregate of the month containing
// month. Running it twice leaves one row with identical totals.
func (a *Aggregator) AggregateMonth(ctx context.Context, userID string, month time.Time) (core.MonthlyAggregate, error) {
	if userID == "" {
		return core.MonthlyAggregate{}, core.Validationf("user id is required")
	}
	first := core.MonthStart(month)
	last := core.MonthEnd(month)

	defer a.lockMonth(userID, first)()

	txs, err := a.store.ListTransactions(ctx, userID, first, last)
	if err != nil {
		return core.MonthlyAggregate{}, fmt.Errorf("load transactions for %s: %w", first.MonthKey(), err)
	}

	agg := Fold(txs, userID, first)
	agg.UpdatedAt = a.now().UTC()

	if err := a.store.UpsertMonthlyAggregate(ctx, agg); err != nil {
		return core.MonthlyAggregate{}, fmt.Errorf("store aggregate for %s: %w", first.MonthKey(), err)
	}

	for _, s := range a.sinks {
		if err := s.ExportAggregate(ctx, agg); err != nil {
			a.logger.WarnContext(ctx, "Aggregate export failed",
				applog.FieldUserID, userID, applog.FieldMonth, first.MonthKey(), applog.FieldError, err)
		}
	}

	a.logger.DebugContext(ctx, "Month aggregated",
		applog.FieldUserID, userID,
		applog.FieldMonth, first.MonthKey(),
		"income", agg.Income.String(),
		"expenses", agg.Expenses.String(),
		applog.FieldCount, agg.TransactionCount)
	return agg, nil
}

// RecalculateRange recomputes every month from start's month to end's month
// inclusive. A failing month is logged and recorded, and the loop moves on.
// The returned error is non-nil only for an invalid range or a cancelled context.
func (a *Aggregator) RecalculateRange(ctx context.Context, userID string, start, end time.Time) (RangeResult, error) {
	var res RangeResult
	months := core.MonthsBetween(start, end)
	if months == nil {
		return res, core.Validationf("range end %s precedes start %s", core.DateOf(end), core.DateOf(start))
	}

	for _, m := range months {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if _, err := a.AggregateMonth(ctx, userID, m.Time); err != nil {
			a.logger.ErrorContext(ctx, "Month recalculation failed",
				applog.FieldUserID, userID, applog.FieldMonth, m.MonthKey(), applog.FieldError, err)
			res.Failures = append(res.Failures, MonthFailure{Month: m.MonthKey(), Error: err.Error()})
			continue
		}
		res.MonthsProcessed++
	}

	a.logger.InfoContext(ctx, "Range recalculated",
		applog.FieldUserID, userID,
		applog.FieldStart, months[0].MonthKey(),
		applog.FieldEnd, months[len(months)-1].MonthKey(),
		"months_processed", res.MonthsProcessed,
		"failures", len(res.Failures))
	return res, nil
}

// Fold reduces the transactions of one month into its aggregate. Rows outside
// the month or owned by another user are ignored. Credits add to Income,
// debits add their absolute value to Expenses and to the breakdown of their
// category (the empty ID collects uncategorized spending).
func Fold(txs []core.Transaction, userID string, month core.Date) core.MonthlyAggregate {
	first := core.MonthStart(month.Time)
	last := core.MonthEnd(month.Time)

	agg := core.MonthlyAggregate{
		UserID:   userID,
		Month:    first,
		Income:   core.Zero,
		Expenses: core.Zero,
	}
	byCategory := map[string]core.Money{}

	for _, t := range txs {
		if t.UserID != "" && t.UserID != userID {
			continue
		}
		if t.Date.Before(first.Time) || t.Date.After(last.Time) {
			continue
		}
		agg.TransactionCount++
		switch t.Direction {
		case core.Credit:
			agg.Income = agg.Income.Add(t.AbsAmount())
		case core.Debit:
			amt := t.AbsAmount()
			agg.Expenses = agg.Expenses.Add(amt)
			byCategory[t.CategoryID] = byCategory[t.CategoryID].Add(amt)
		}
	}

	agg.CategoryExpenses = make([]core.CategoryAmount, 0, len(byCategory))
	for id, amt := range byCategory {
		agg.CategoryExpenses = append(agg.CategoryExpenses, core.CategoryAmount{CategoryID: id, Amount: amt})
	}
	core.SortCategoryAmounts(agg.CategoryExpenses)
	return agg
}
