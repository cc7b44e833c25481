package sheets

import (
	"context"

	"tally/internal/core"
)

// Ports for outbound adapters.
type (
	// SavingsReader returns every row of the "Savings" tab.
	SavingsReader interface {
		ReadSavings(ctx context.Context) ([]core.AssetSnapshot, error)
	}

	// ExpenseDetailReader returns every row of the "Expense-Detail" tab.
	ExpenseDetailReader interface {
		ReadExpenseDetail(ctx context.Context) ([]ExpenseRow, error)
	}

	// Reader is implemented by both the Google and the in-memory sources.
	Reader interface {
		SavingsReader
		ExpenseDetailReader
	}
)

// ExpenseRow is one row of the "Expense-Detail" tab. Amounts are positive
// spend figures.
type ExpenseRow struct {
	Date        core.Date
	Description string
	Amount      core.Money
	Category    string
}

// Transaction converts the row into a debit transaction.
func (r ExpenseRow) Transaction() core.Transaction {
	return core.NewTransaction(r.Date, r.Description, r.Amount.Abs().Neg())
}
