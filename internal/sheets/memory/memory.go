// Package memory serves spreadsheet tabs from local CSV seeds so the API
// can run without Google credentials.
package memory

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"tally/internal/core"
	"tally/internal/sheets"
)

type Store struct {
	mu       sync.Mutex
	savings  []core.AssetSnapshot
	expenses []sheets.ExpenseRow
}

var _ sheets.Reader = (*Store)(nil)

func New(savings []core.AssetSnapshot, expenses []sheets.ExpenseRow) *Store {
	return &Store{savings: savings, expenses: expenses}
}

// NewFromFiles loads savings.csv and expense_detail.csv from base. Missing
// files yield empty tabs.
func NewFromFiles(base string) (*Store, error) {
	savingsValues, err := readCSV(filepath.Join(base, "savings.csv"))
	if err != nil {
		return nil, err
	}
	savings, err := sheets.ParseSavings(savingsValues)
	if err != nil {
		return nil, fmt.Errorf("savings.csv: %w", err)
	}

	expenseValues, err := readCSV(filepath.Join(base, "expense_detail.csv"))
	if err != nil {
		return nil, err
	}
	expenses, err := sheets.ParseExpenseDetail(expenseValues)
	if err != nil {
		return nil, fmt.Errorf("expense_detail.csv: %w", err)
	}
	return New(savings, expenses), nil
}

func (s *Store) ReadSavings(context.Context) ([]core.AssetSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]core.AssetSnapshot(nil), s.savings...), nil
}

func (s *Store) ReadExpenseDetail(context.Context) ([]sheets.ExpenseRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]sheets.ExpenseRow(nil), s.expenses...), nil
}

// SetSavings replaces the savings tab.
func (s *Store) SetSavings(rows []core.AssetSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.savings = append([]core.AssetSnapshot(nil), rows...)
}

func readCSV(path string) ([][]string, error) {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true
	values, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return values, nil
}
