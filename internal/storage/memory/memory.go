// Package memory is an in-process implementation of storage.Store used for
// local development and tests.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"tally/internal/core"
)

type aggKey struct {
	user  string
	month string
}

type Store struct {
	mu         sync.Mutex
	txs        map[string]core.Transaction
	aggs       map[aggKey]core.MonthlyAggregate
	categories map[string]core.Category
	accounts   map[string]core.BankAccount
	keys       map[string]string
	now        func() time.Time
}

func New() *Store {
	return &Store{
		txs:        map[string]core.Transaction{},
		aggs:       map[aggKey]core.MonthlyAggregate{},
		categories: map[string]core.Category{},
		accounts:   map[string]core.BankAccount{},
		keys:       map[string]string{},
		now:        time.Now,
	}
}

func (s *Store) Ping(context.Context) error { return nil }
func (s *Store) Close() error               { return nil }

// InsertTransactions stores all of txs or none of them.
func (s *Store) InsertTransactions(_ context.Context, txs []core.Transaction) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	staged := make([]core.Transaction, len(txs))
	deltas := map[string]core.Money{}
	for i, t := range txs {
		if err := t.Validate(); err != nil {
			return nil, core.Validationf("transaction %d: %v", i, err)
		}
		if t.ID == "" {
			t.ID = uuid.NewString()
		}
		if _, dup := s.txs[t.ID]; dup {
			return nil, core.ErrConflict
		}
		if t.CategoryID != "" {
			if _, ok := s.categories[t.CategoryID]; !ok {
				return nil, core.NotFoundf("category %s", t.CategoryID)
			}
		}
		if t.BankAccountID != "" {
			a, ok := s.accounts[t.BankAccountID]
			if !ok || a.UserID != t.UserID {
				return nil, core.NotFoundf("bank account %s", t.BankAccountID)
			}
			deltas[t.BankAccountID] = deltas[t.BankAccountID].Add(t.Amount)
		}
		if t.CreatedAt.IsZero() {
			t.CreatedAt = s.now().UTC()
		}
		staged[i] = t
	}

	ids := make([]string, len(staged))
	for i, t := range staged {
		s.txs[t.ID] = t
		ids[i] = t.ID
	}
	for id, d := range deltas {
		a := s.accounts[id]
		a.Balance = a.Balance.Add(d)
		s.accounts[id] = a
	}
	return ids, nil
}

func (s *Store) filterTransactions(keep func(core.Transaction) bool) []core.Transaction {
	var out []core.Transaction
	for _, t := range s.txs {
		if keep(t) {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date.Time) {
			return out[i].Date.Before(out[j].Date.Time)
		}
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (s *Store) ListTransactions(_ context.Context, userID string, from, to core.Date) ([]core.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.filterTransactions(func(t core.Transaction) bool {
		return t.UserID == userID && !t.Date.Before(from.Time) && !t.Date.After(to.Time)
	}), nil
}

func (s *Store) ListTrainingTransactions(_ context.Context, userID string) ([]core.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.filterTransactions(func(t core.Transaction) bool {
		return t.UserID == userID && t.IsTrainingData && t.CategoryID != ""
	}), nil
}

func (s *Store) GetTransaction(_ context.Context, userID, id string) (core.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.txs[id]
	if !ok || t.UserID != userID {
		return core.Transaction{}, core.NotFoundf("transaction %s", id)
	}
	return t, nil
}

func (s *Store) DeleteTransaction(_ context.Context, userID, id string) (core.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.txs[id]
	if !ok || t.UserID != userID {
		return core.Transaction{}, core.NotFoundf("transaction %s", id)
	}
	delete(s.txs, id)
	if a, ok := s.accounts[t.BankAccountID]; ok {
		a.Balance = a.Balance.Sub(t.Amount)
		s.accounts[t.BankAccountID] = a
	}
	return t, nil
}

func (s *Store) UpdateTransactionCategory(_ context.Context, userID, id, categoryID string) (core.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.txs[id]
	if !ok || t.UserID != userID {
		return core.Transaction{}, core.NotFoundf("transaction %s", id)
	}
	if categoryID != "" {
		if _, ok := s.categories[categoryID]; !ok {
			return core.Transaction{}, core.NotFoundf("category %s", categoryID)
		}
	}
	t.CategoryID = categoryID
	s.txs[id] = t
	return t, nil
}

func (s *Store) ActiveUsers(_ context.Context, since core.Date) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := map[string]bool{}
	var users []string
	for _, t := range s.txs {
		if !t.Date.Before(since.Time) && !seen[t.UserID] {
			seen[t.UserID] = true
			users = append(users, t.UserID)
		}
	}
	sort.Strings(users)
	return users, nil
}

func (s *Store) UpsertMonthlyAggregate(_ context.Context, agg core.MonthlyAggregate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	agg.Month = core.MonthStart(agg.Month.Time)
	agg.CategoryExpenses = append([]core.CategoryAmount{}, agg.CategoryExpenses...)
	core.SortCategoryAmounts(agg.CategoryExpenses)
	s.aggs[aggKey{agg.UserID, agg.Month.MonthKey()}] = agg
	return nil
}

func (s *Store) GetMonthlyAggregate(_ context.Context, userID string, month core.Date) (core.MonthlyAggregate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.aggs[aggKey{userID, month.MonthKey()}]
	if !ok {
		return core.MonthlyAggregate{}, core.NotFoundf("aggregate for %s", month.MonthKey())
	}
	return a, nil
}

func (s *Store) ListMonthlyAggregates(_ context.Context, userID string, from, to core.Date) ([]core.MonthlyAggregate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	lo := core.MonthStart(from.Time)
	var out []core.MonthlyAggregate
	for k, a := range s.aggs {
		if k.user == userID && !a.Month.Before(lo.Time) && !a.Month.After(to.Time) {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Month.Before(out[j].Month.Time) })
	return out, nil
}

func (s *Store) EnsureCategory(_ context.Context, userID, name string) (core.Category, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return core.Category{}, core.Validationf("category name is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.categories {
		if c.UserID == userID && strings.EqualFold(c.Name, name) {
			return c, nil
		}
	}
	c := core.Category{ID: uuid.NewString(), UserID: userID, Name: name}
	s.categories[c.ID] = c
	return c, nil
}

func (s *Store) GetCategory(_ context.Context, userID, id string) (core.Category, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.categories[id]
	if !ok || c.UserID != userID {
		return core.Category{}, core.NotFoundf("category %s", id)
	}
	return c, nil
}

func (s *Store) ListCategories(_ context.Context, userID string) ([]core.Category, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []core.Category
	for _, c := range s.categories {
		if c.UserID == userID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *Store) CreateBankAccount(_ context.Context, acct core.BankAccount) (core.BankAccount, error) {
	if strings.TrimSpace(acct.Name) == "" {
		return core.BankAccount{}, core.Validationf("bank account name is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if acct.ID == "" {
		acct.ID = uuid.NewString()
	}
	if _, exists := s.accounts[acct.ID]; exists {
		return core.BankAccount{}, core.ErrConflict
	}
	s.accounts[acct.ID] = acct
	return acct, nil
}

func (s *Store) GetBankAccount(_ context.Context, userID, id string) (core.BankAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[id]
	if !ok || a.UserID != userID {
		return core.BankAccount{}, core.NotFoundf("bank account %s", id)
	}
	return a, nil
}

func (s *Store) APIKeyForUser(_ context.Context, userID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k, ok := s.keys[userID]
	if !ok {
		return "", core.NotFoundf("classification api key for user %s", userID)
	}
	return k, nil
}

func (s *Store) SetAPIKey(_ context.Context, userID, apiKey string) error {
	if strings.TrimSpace(apiKey) == "" {
		return core.Validationf("api key is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys[userID] = apiKey
	return nil
}
