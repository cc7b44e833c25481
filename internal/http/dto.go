package http

import (
	"time"

	"tally/internal/core"
)

type transactionJSON struct {
	ID             string         `json:"id"`
	BankAccountID  string         `json:"bank_account_id,omitempty"`
	CategoryID     string         `json:"category_id,omitempty"`
	Date           string         `json:"date"`
	Description    string         `json:"description"`
	Amount         core.Money     `json:"amount"`
	Direction      core.Direction `json:"direction"`
	IsTrainingData bool           `json:"is_training_data"`
	CreatedAt      time.Time      `json:"created_at"`
}

func toTransactionJSON(t core.Transaction) transactionJSON {
	return transactionJSON{
		ID:             t.ID,
		BankAccountID:  t.BankAccountID,
		CategoryID:     t.CategoryID,
		Date:           t.Date.String(),
		Description:    t.Description,
		Amount:         t.Amount,
		Direction:      t.Direction,
		IsTrainingData: t.IsTrainingData,
		CreatedAt:      t.CreatedAt,
	}
}

type aggregateJSON struct {
	Month            string                `json:"month"`
	Income           core.Money            `json:"income"`
	Expenses         core.Money            `json:"expenses"`
	Net              core.Money            `json:"net"`
	TransactionCount int                   `json:"transaction_count"`
	CategoryExpenses []core.CategoryAmount `json:"category_expenses"`
	UpdatedAt        time.Time             `json:"updated_at"`
}

func toAggregateJSON(a core.MonthlyAggregate) aggregateJSON {
	cats := a.CategoryExpenses
	if cats == nil {
		cats = []core.CategoryAmount{}
	}
	return aggregateJSON{
		Month:            a.Month.MonthKey(),
		Income:           a.Income,
		Expenses:         a.Expenses,
		Net:              a.Net(),
		TransactionCount: a.TransactionCount,
		CategoryExpenses: cats,
		UpdatedAt:        a.UpdatedAt,
	}
}
