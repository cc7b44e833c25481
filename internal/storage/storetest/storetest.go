// Package storetest holds behaviour checks every storage.Store must pass.
package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"tally/internal/core"
	"tally/internal/storage"
)

func tx(user, account, date, amount, desc string) core.Transaction {
	d, err := core.ParseDate(date)
	if err != nil {
		panic(err)
	}
	t := core.NewTransaction(d, desc, core.MustMoney(amount))
	t.UserID = user
	t.BankAccountID = account
	return t
}

// Run exercises s. newStore must return an empty store.
func Run(t *testing.T, newStore func(t *testing.T) storage.Store) {
	t.Run("transactions and balances", func(t *testing.T) { testTransactions(t, newStore(t)) })
	t.Run("aggregates upsert", func(t *testing.T) { testAggregates(t, newStore(t)) })
	t.Run("categories", func(t *testing.T) { testCategories(t, newStore(t)) })
	t.Run("api keys", func(t *testing.T) { testAPIKeys(t, newStore(t)) })
}

func testTransactions(t *testing.T, s storage.Store) {
	ctx := context.Background()

	acct, err := s.CreateBankAccount(ctx, core.BankAccount{UserID: "u1", Name: "Everyday", Balance: core.MustMoney("100")})
	if err != nil {
		t.Fatalf("CreateBankAccount: %v", err)
	}

	ids, err := s.InsertTransactions(ctx, []core.Transaction{
		tx("u1", acct.ID, "2024-01-05", "-50", "Woolworths"),
		tx("u1", acct.ID, "2024-01-20", "1000", "Salary"),
		tx("u1", "", "2024-02-01", "-10", "Cash"),
	})
	if err != nil {
		t.Fatalf("InsertTransactions: %v", err)
	}
	if len(ids) != 3 || ids[0] == "" {
		t.Fatalf("expected 3 generated ids, got %v", ids)
	}

	got, err := s.GetBankAccount(ctx, "u1", acct.ID)
	if err != nil {
		t.Fatalf("GetBankAccount: %v", err)
	}
	if !got.Balance.Equal(core.MustMoney("1050")) {
		t.Fatalf("expected balance 1050 after import, got %s", got.Balance)
	}

	jan, err := s.ListTransactions(ctx, "u1", core.NewDate(2024, 1, 1), core.NewDate(2024, 1, 31))
	if err != nil {
		t.Fatalf("ListTransactions: %v", err)
	}
	if len(jan) != 2 || jan[0].Description != "Woolworths" || jan[1].Description != "Salary" {
		t.Fatalf("unexpected January transactions: %+v", jan)
	}
	if !jan[0].Amount.Equal(core.MustMoney("-50")) || jan[0].Direction != core.Debit || jan[0].Date.String() != "2024-01-05" {
		t.Fatalf("round trip mismatch: %+v", jan[0])
	}

	if other, _ := s.ListTransactions(ctx, "u2", core.NewDate(2024, 1, 1), core.NewDate(2024, 12, 31)); len(other) != 0 {
		t.Fatalf("transactions leaked across users: %+v", other)
	}

	deleted, err := s.DeleteTransaction(ctx, "u1", ids[1])
	if err != nil {
		t.Fatalf("DeleteTransaction: %v", err)
	}
	if deleted.Description != "Salary" {
		t.Fatalf("expected deleted Salary, got %+v", deleted)
	}
	got, _ = s.GetBankAccount(ctx, "u1", acct.ID)
	if !got.Balance.Equal(core.MustMoney("50")) {
		t.Fatalf("expected balance 50 after reversal, got %s", got.Balance)
	}
	if _, err := s.GetTransaction(ctx, "u1", ids[1]); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected not found after delete, got %v", err)
	}
	if _, err := s.DeleteTransaction(ctx, "u2", ids[0]); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("other users must not delete, got %v", err)
	}

	cat, err := s.EnsureCategory(ctx, "u1", "Groceries")
	if err != nil {
		t.Fatalf("EnsureCategory: %v", err)
	}
	updated, err := s.UpdateTransactionCategory(ctx, "u1", ids[0], cat.ID)
	if err != nil {
		t.Fatalf("UpdateTransactionCategory: %v", err)
	}
	if updated.CategoryID != cat.ID {
		t.Fatalf("expected category %s, got %s", cat.ID, updated.CategoryID)
	}

	users, err := s.ActiveUsers(ctx, core.NewDate(2024, 1, 15))
	if err != nil || len(users) != 1 || users[0] != "u1" {
		t.Fatalf("unexpected active users %v (err=%v)", users, err)
	}

	bad := tx("u1", "", "2024-01-01", "-1", "x")
	bad.Direction = core.Credit
	if _, err := s.InsertTransactions(ctx, []core.Transaction{tx("u1", "", "2024-03-01", "-1", "ok"), bad}); !errors.Is(err, core.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if mar, _ := s.ListTransactions(ctx, "u1", core.NewDate(2024, 3, 1), core.NewDate(2024, 3, 31)); len(mar) != 0 {
		t.Fatalf("failed batch must not be partially stored: %+v", mar)
	}
}

func testAggregates(t *testing.T, s storage.Store) {
	ctx := context.Background()
	month := core.NewDate(2024, 1, 1)

	first := core.MonthlyAggregate{
		UserID:   "u1",
		Month:    month,
		Income:   core.MustMoney("3000"),
		Expenses: core.MustMoney("1800"),
		CategoryExpenses: []core.CategoryAmount{
			{CategoryID: "rent", Amount: core.MustMoney("1200")},
			{CategoryID: "", Amount: core.MustMoney("600")},
		},
		TransactionCount: 4,
		UpdatedAt:        time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC),
	}
	if err := s.UpsertMonthlyAggregate(ctx, first); err != nil {
		t.Fatalf("UpsertMonthlyAggregate: %v", err)
	}

	second := first
	second.Expenses = core.MustMoney("900")
	second.CategoryExpenses = []core.CategoryAmount{{CategoryID: "", Amount: core.MustMoney("900")}}
	if err := s.UpsertMonthlyAggregate(ctx, second); err != nil {
		t.Fatalf("UpsertMonthlyAggregate (again): %v", err)
	}

	aggs, err := s.ListMonthlyAggregates(ctx, "u1", core.NewDate(2023, 12, 1), core.NewDate(2024, 12, 31))
	if err != nil {
		t.Fatalf("ListMonthlyAggregates: %v", err)
	}
	if len(aggs) != 1 {
		t.Fatalf("expected one row per (user, month), got %d", len(aggs))
	}
	a := aggs[0]
	if !a.Expenses.Equal(core.MustMoney("900")) || !a.Income.Equal(core.MustMoney("3000")) {
		t.Fatalf("expected latest totals, got %+v", a)
	}
	if len(a.CategoryExpenses) != 1 || !a.CategoryTotal().Equal(a.Expenses) {
		t.Fatalf("category rows not replaced: %+v", a.CategoryExpenses)
	}
	if a.Month.String() != "2024-01-01" {
		t.Fatalf("unexpected month %s", a.Month)
	}

	if _, err := s.GetMonthlyAggregate(ctx, "u1", core.NewDate(2024, 1, 20)); err != nil {
		t.Fatalf("GetMonthlyAggregate: %v", err)
	}
	if _, err := s.GetMonthlyAggregate(ctx, "u1", core.NewDate(2024, 2, 1)); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func testCategories(t *testing.T, s storage.Store) {
	ctx := context.Background()
	a, err := s.EnsureCategory(ctx, "u1", "Groceries")
	if err != nil {
		t.Fatalf("EnsureCategory: %v", err)
	}
	b, err := s.EnsureCategory(ctx, "u1", " groceries ")
	if err != nil {
		t.Fatalf("EnsureCategory: %v", err)
	}
	if a.ID != b.ID {
		t.Fatalf("expected the same category, got %s and %s", a.ID, b.ID)
	}
	if _, err := s.EnsureCategory(ctx, "u2", "Groceries"); err != nil {
		t.Fatalf("EnsureCategory for second user: %v", err)
	}
	cats, err := s.ListCategories(ctx, "u1")
	if err != nil || len(cats) != 1 {
		t.Fatalf("expected one category for u1, got %v (err=%v)", cats, err)
	}
	if _, err := s.GetCategory(ctx, "u2", a.ID); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("categories must be scoped per user, got %v", err)
	}
}

func testAPIKeys(t *testing.T, s storage.Store) {
	ctx := context.Background()
	if _, err := s.APIKeyForUser(ctx, "u1"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if err := s.SetAPIKey(ctx, "u1", "k1"); err != nil {
		t.Fatalf("SetAPIKey: %v", err)
	}
	if err := s.SetAPIKey(ctx, "u1", "k2"); err != nil {
		t.Fatalf("SetAPIKey (replace): %v", err)
	}
	if k, err := s.APIKeyForUser(ctx, "u1"); err != nil || k != "k2" {
		t.Fatalf("expected k2, got %q (err=%v)", k, err)
	}
}
