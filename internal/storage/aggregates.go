package storage

import (
	"context"
	"database/sql"
	"fmt"

	"tally/internal/core"
)

// UpsertMonthlyAggregate writes the aggregate row for (UserID, Month) and
// replaces its category breakdown atomically.
func (r *Repository) UpsertMonthlyAggregate(ctx context.Context, agg core.MonthlyAggregate) error {
	month := core.MonthStart(agg.Month.Time).String()

	return r.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, r.q(`INSERT INTO monthly_aggregates
			(user_id, month, income, expenses, transaction_count, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT (user_id, month) DO UPDATE SET
				income = excluded.income,
				expenses = excluded.expenses,
				transaction_count = excluded.transaction_count,
				updated_at = excluded.updated_at`),
			agg.UserID, month, agg.Income, agg.Expenses, agg.TransactionCount, agg.UpdatedAt.UTC()); err != nil {
			return fmt.Errorf("upsert monthly aggregate: %w", err)
		}

		if _, err := tx.ExecContext(ctx, r.q(`DELETE FROM monthly_category_expenses WHERE user_id = ? AND month = ?`),
			agg.UserID, month); err != nil {
			return fmt.Errorf("clear category expenses: %w", err)
		}
		for _, c := range agg.CategoryExpenses {
			if _, err := tx.ExecContext(ctx, r.q(`INSERT INTO monthly_category_expenses
				(user_id, month, category_id, amount) VALUES (?, ?, ?, ?)`),
				agg.UserID, month, c.CategoryID, c.Amount); err != nil {
				return fmt.Errorf("insert category expense: %w", err)
			}
		}
		return nil
	})
}

func (r *Repository) GetMonthlyAggregate(ctx context.Context, userID string, month core.Date) (core.MonthlyAggregate, error) {
	m := core.MonthStart(month.Time)
	aggs, err := r.ListMonthlyAggregates(ctx, userID, m, m)
	if err != nil {
		return core.MonthlyAggregate{}, err
	}
	if len(aggs) == 0 {
		return core.MonthlyAggregate{}, core.NotFoundf("aggregate for %s", m.MonthKey())
	}
	return aggs[0], nil
}

// ListMonthlyAggregates returns the aggregates whose month falls in [from, to], oldest first.
func (r *Repository) ListMonthlyAggregates(ctx context.Context, userID string, from, to core.Date) ([]core.MonthlyAggregate, error) {
	lo := core.MonthStart(from.Time).String()
	hi := to.String()

	rows, err := r.db.QueryContext(ctx, r.q(`SELECT user_id, month, income, expenses, transaction_count, updated_at
		FROM monthly_aggregates
		WHERE user_id = ? AND month >= ? AND month <= ?
		ORDER BY month`), userID, lo, hi)
	if err != nil {
		return nil, fmt.Errorf("query monthly aggregates: %w", err)
	}

	var aggs []core.MonthlyAggregate
	index := map[string]int{}
	for rows.Next() {
		var a core.MonthlyAggregate
		if err := rows.Scan(&a.UserID, dateCol{&a.Month}, &a.Income, &a.Expenses, &a.TransactionCount,
			timeCol{&a.UpdatedAt}); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan monthly aggregate: %w", err)
		}
		a.CategoryExpenses = []core.CategoryAmount{}
		index[a.Month.String()] = len(aggs)
		aggs = append(aggs, a)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()
	if len(aggs) == 0 {
		return nil, nil
	}

	crow, err := r.db.QueryContext(ctx, r.q(`SELECT month, category_id, amount FROM monthly_category_expenses
		WHERE user_id = ? AND month >= ? AND month <= ?
		ORDER BY month, category_id`), userID, lo, hi)
	if err != nil {
		return nil, fmt.Errorf("query category expenses: %w", err)
	}
	defer crow.Close()

	for crow.Next() {
		var (
			m core.Date
			c core.CategoryAmount
		)
		if err := crow.Scan(dateCol{&m}, &c.CategoryID, &c.Amount); err != nil {
			return nil, fmt.Errorf("scan category expense: %w", err)
		}
		if i, ok := index[m.String()]; ok {
			aggs[i].CategoryExpenses = append(aggs[i].CategoryExpenses, c)
		}
	}
	if err := crow.Err(); err != nil {
		return nil, err
	}

	// TEXT amounts in SQLite do not sort numerically.
	for i := range aggs {
		core.SortCategoryAmounts(aggs[i].CategoryExpenses)
	}
	return aggs, nil
}
