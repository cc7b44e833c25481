// Package storage persists transactions, categories, bank accounts and
// monthly aggregates in SQLite or PostgreSQL.
package storage

import (
	"context"
	"strconv"
	"strings"

	"tally/internal/core"
)

// Dialect selects the SQL flavour and database/sql driver.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

func (d Dialect) driverName() string {
	if d == DialectPostgres {
		return "postgres"
	}
	return "sqlite"
}

// rebind rewrites ? placeholders into $n for PostgreSQL.
func (d Dialect) rebind(q string) string {
	if d != DialectPostgres {
		return q
	}
	var b strings.Builder
	b.Grow(len(q) + 8)
	n := 0
	for _, r := range q {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Store is the full persistence surface shared by the SQL repository and
// the in-memory store.
type Store interface {
	Ping(ctx context.Context) error
	Close() error

	InsertTransactions(ctx context.Context, txs []core.Transaction) ([]string, error)
	ListTransactions(ctx context.Context, userID string, from, to core.Date) ([]core.Transaction, error)
	ListTrainingTransactions(ctx context.Context, userID string) ([]core.Transaction, error)
	GetTransaction(ctx context.Context, userID, id string) (core.Transaction, error)
	DeleteTransaction(ctx context.Context, userID, id string) (core.Transaction, error)
	UpdateTransactionCategory(ctx context.Context, userID, id, categoryID string) (core.Transaction, error)
	ActiveUsers(ctx context.Context, since core.Date) ([]string, error)

	UpsertMonthlyAggregate(ctx context.Context, agg core.MonthlyAggregate) error
	GetMonthlyAggregate(ctx context.Context, userID string, month core.Date) (core.MonthlyAggregate, error)
	ListMonthlyAggregates(ctx context.Context, userID string, from, to core.Date) ([]core.MonthlyAggregate, error)

	EnsureCategory(ctx context.Context, userID, name string) (core.Category, error)
	GetCategory(ctx context.Context, userID, id string) (core.Category, error)
	ListCategories(ctx context.Context, userID string) ([]core.Category, error)

	CreateBankAccount(ctx context.Context, acct core.BankAccount) (core.BankAccount, error)
	GetBankAccount(ctx context.Context, userID, id string) (core.BankAccount, error)

	APIKeyForUser(ctx context.Context, userID string) (string, error)
	SetAPIKey(ctx context.Context, userID, apiKey string) error
}
