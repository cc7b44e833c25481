package services

import (
	"context"
	"fmt"

	"tally/internal/core"
	applog "tally/internal/log"
	"tally/internal/storage"
)

// TransactionService edits stored transactions and keeps the affected
// month's aggregate current.
type TransactionService struct {
	store  storage.Store
	recalc Recalculator
	logger *applog.Logger
}

func NewTransactionService(store storage.Store, recalc Recalculator, logger *applog.Logger) *TransactionService {
	if logger == nil {
		logger = applog.Nop()
	}
	return &TransactionService{store: store, recalc: recalc, logger: logger.WithComponent(applog.ComponentAggregate)}
}

func (s *TransactionService) List(ctx context.Context, userID string, from, to core.Date) ([]core.Transaction, error) {
	if to.Before(from.Time) {
		return nil, core.Validationf("range end %s precedes start %s", to, from)
	}
	return s.store.ListTransactions(ctx, userID, from, to)
}

// Delete removes a transaction, reversing its effect on the bank account
// balance, and recomputes its month.
func (s *TransactionService) Delete(ctx context.Context, userID, id string) (core.Transaction, error) {
	t, err := s.store.DeleteTransaction(ctx, userID, id)
	if err != nil {
		return core.Transaction{}, fmt.Errorf("delete transaction: %w", err)
	}
	s.refreshMonth(ctx, userID, t.Date)
	return t, nil
}

// Recategorize moves a transaction to categoryID; empty clears it.
func (s *TransactionService) Recategorize(ctx context.Context, userID, id, categoryID string) (core.Transaction, error) {
	if categoryID != "" {
		if _, err := s.store.GetCategory(ctx, userID, categoryID); err != nil {
			return core.Transaction{}, fmt.Errorf("category: %w", err)
		}
	}
	t, err := s.store.UpdateTransactionCategory(ctx, userID, id, categoryID)
	if err != nil {
		return core.Transaction{}, fmt.Errorf("update category: %w", err)
	}
	s.refreshMonth(ctx, userID, t.Date)
	return t, nil
}

// refreshMonth logs failures; the edit itself already succeeded and the
// periodic worker recomputes recent months anyway.
func (s *TransactionService) refreshMonth(ctx context.Context, userID string, d core.Date) {
	if _, err := s.recalc.AggregateMonth(ctx, userID, d.Time); err != nil {
		s.logger.ErrorContext(ctx, "Failed to recompute month",
			applog.FieldUserID, userID, applog.FieldMonth, d.MonthKey(), applog.FieldError, err)
	}
}
