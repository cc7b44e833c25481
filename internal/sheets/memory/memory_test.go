package memory

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"tally/internal/core"
)

func TestNewFromFiles(t *testing.T) {
	dir := t.TempDir()
	savings := "Quarter,Asset Type,Value,Base Currency Value\n2024 Q3,Cash,1000,\n2024 Q3,Stocks,500,650\n"
	if err := os.WriteFile(filepath.Join(dir, "savings.csv"), []byte(savings), 0o644); err != nil {
		t.Fatal(err)
	}

	s, err := NewFromFiles(dir)
	if err != nil {
		t.Fatalf("NewFromFiles: %v", err)
	}
	rows, err := s.ReadSavings(context.Background())
	if err != nil || len(rows) != 2 {
		t.Fatalf("expected 2 savings rows, got %v (err=%v)", rows, err)
	}
	if !rows[1].EffectiveValue().Equal(core.MustMoney("650")) {
		t.Fatalf("unexpected stocks row: %+v", rows[1])
	}

	expenses, err := s.ReadExpenseDetail(context.Background())
	if err != nil || len(expenses) != 0 {
		t.Fatalf("missing expense file should yield no rows, got %v (err=%v)", expenses, err)
	}
}

func TestNewFromFilesBadHeader(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "savings.csv"), []byte("a,b\n1,2\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := NewFromFiles(dir); err == nil {
		t.Fatalf("expected header error")
	}
}
