package services

import (
	"context"
	"errors"
	"strings"
	"testing"

	"tally/internal/aggregate"
	"tally/internal/amqp"
	"tally/internal/core"
	"tally/internal/csvimport"
	"tally/internal/dedupe"
	"tally/internal/events"
	"tally/internal/sheets"
	sheetsmem "tally/internal/sheets/memory"
	"tally/internal/storage/memory"
)

const bankCSV = "Date,Description,Amount\n" +
	"2024-01-05,Woolworths,-45.20\n" +
	"2024-01-05,WOOLWORTHS ,-45.20\n" +
	"2024-01-10,Salary,3000.00\n" +
	"2024-02-01,Rent,-1500.00\n" +
	"not a date,Broken,-1\n"

func newImportFixture(t *testing.T, opts ...ImportOption) (*ImportService, *memory.Store, core.BankAccount) {
	t.Helper()
	store := memory.New()
	acct, err := store.CreateBankAccount(context.Background(), core.BankAccount{UserID: "u1", Name: "Everyday"})
	if err != nil {
		t.Fatalf("CreateBankAccount() error = %v", err)
	}
	return NewImportService(store, aggregate.New(store, nil), nil, opts...), store, acct
}

func TestImportCSV(t *testing.T) {
	archiver := &fakeArchiver{}
	ev := &fakeEvents{}
	svc, store, acct := newImportFixture(t, WithArchiver(archiver), WithEvents(ev))
	ctx := context.Background()

	report, err := svc.ImportCSV(ctx, ImportRequest{UserID: "u1", BankAccountID: acct.ID, Filename: "jan.csv", Body: []byte(bankCSV)})
	if err != nil {
		t.Fatalf("ImportCSV() error = %v", err)
	}

	want := dedupe.Counts{Unique: 3, DuplicateExisting: 0, DuplicateInBatch: 1}
	if report.Counts != want {
		t.Errorf("Counts = %+v, want %+v", report.Counts, want)
	}
	if len(report.InsertedIDs) != 3 {
		t.Errorf("inserted %d, want 3", len(report.InsertedIDs))
	}
	if len(report.Rejected) != 1 || report.Rejected[0].Line != 6 {
		t.Errorf("Rejected = %+v", report.Rejected)
	}
	if len(report.Duplicates) != 1 || report.Duplicates[0].FirstIndex == nil || *report.Duplicates[0].FirstIndex != 0 {
		t.Errorf("Duplicates = %+v", report.Duplicates)
	}
	if got := report.Months; len(got) != 2 || got[0] != "2024-01" || got[1] != "2024-02" {
		t.Errorf("Months = %v", got)
	}
	if report.Recalculation != RecalcCompleted {
		t.Errorf("Recalculation = %q", report.Recalculation)
	}
	if archiver.calls != 1 || report.ArchivedObject == "" {
		t.Errorf("archive calls = %d, object = %q", archiver.calls, report.ArchivedObject)
	}
	if len(ev.events) != 1 || ev.events[0].Type != events.TypeTransactionsImported {
		t.Errorf("events = %+v", ev.events)
	}

	jan, err := store.GetMonthlyAggregate(ctx, "u1", core.NewDate(2024, 1, 1))
	if err != nil {
		t.Fatalf("GetMonthlyAggregate() error = %v", err)
	}
	if !jan.Income.Equal(core.MustMoney("3000")) || !jan.Expenses.Equal(core.MustMoney("45.20")) {
		t.Errorf("January = income %s expenses %s", jan.Income, jan.Expenses)
	}

	got, _ := store.GetBankAccount(ctx, "u1", acct.ID)
	if !got.Balance.Equal(core.MustMoney("1454.80")) {
		t.Errorf("Balance = %s, want 1454.80", got.Balance)
	}

	// Importing the same file again inserts nothing.
	again, err := svc.ImportCSV(ctx, ImportRequest{UserID: "u1", BankAccountID: acct.ID, Filename: "jan.csv", Body: []byte(bankCSV)})
	if err != nil {
		t.Fatalf("second ImportCSV() error = %v", err)
	}
	// Both Woolworths rows match the stored one; a stored match wins over an
	// in-batch one.
	if len(again.InsertedIDs) != 0 || again.Counts.DuplicateExisting != 4 || again.Counts.DuplicateInBatch != 0 {
		t.Errorf("second import = %+v", again.Counts)
	}
	if again.Recalculation != RecalcSkipped {
		t.Errorf("second Recalculation = %q", again.Recalculation)
	}
}

func TestImportCSV_DryRun(t *testing.T) {
	archiver := &fakeArchiver{}
	ev := &fakeEvents{}
	svc, store, _ := newImportFixture(t, WithArchiver(archiver), WithEvents(ev))
	ctx := context.Background()

	report, err := svc.ImportCSV(ctx, ImportRequest{UserID: "u1", Body: []byte(bankCSV), DryRun: true})
	if err != nil {
		t.Fatalf("ImportCSV() error = %v", err)
	}
	if report.Counts.Unique != 3 || len(report.InsertedIDs) != 0 {
		t.Errorf("report = %+v", report)
	}
	txs, _ := store.ListTransactions(ctx, "u1", core.NewDate(2024, 1, 1), core.NewDate(2024, 12, 31))
	if len(txs) != 0 {
		t.Errorf("dry run stored %d transactions", len(txs))
	}
	if archiver.calls != 0 || len(ev.events) != 0 {
		t.Errorf("dry run archived %d, emitted %d events", archiver.calls, len(ev.events))
	}
}

func TestImportCSV_QueuesRecalculation(t *testing.T) {
	pub := &fakePublisher{}
	svc, store, _ := newImportFixture(t, WithRecalcPublisher(pub))
	ctx := context.Background()

	report, err := svc.ImportCSV(ctx, ImportRequest{UserID: "u1", Body: []byte(bankCSV)})
	if err != nil {
		t.Fatalf("ImportCSV() error = %v", err)
	}
	if report.Recalculation != RecalcQueued {
		t.Errorf("Recalculation = %q, want queued", report.Recalculation)
	}
	if len(pub.published) != 1 || pub.published[0].Start != "2024-01" || pub.published[0].End != "2024-02" {
		t.Fatalf("published = %+v", pub.published)
	}
	if _, err := store.GetMonthlyAggregate(ctx, "u1", core.NewDate(2024, 1, 1)); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("aggregate computed inline although queued: %v", err)
	}
}

func TestImportCSV_PublishFailureFallsBack(t *testing.T) {
	pub := &fakePublisher{PublishFn: func(context.Context, *amqp.RecalculateMessage) error {
		return amqp.ErrCircuitOpen
	}}
	svc, store, _ := newImportFixture(t, WithRecalcPublisher(pub))
	ctx := context.Background()

	report, err := svc.ImportCSV(ctx, ImportRequest{UserID: "u1", Body: []byte(bankCSV)})
	if err != nil {
		t.Fatalf("ImportCSV() error = %v", err)
	}
	if report.Recalculation != RecalcCompleted {
		t.Errorf("Recalculation = %q, want completed", report.Recalculation)
	}
	if _, err := store.GetMonthlyAggregate(ctx, "u1", core.NewDate(2024, 2, 1)); err != nil {
		t.Errorf("GetMonthlyAggregate() error = %v", err)
	}
}

func TestImportCSV_Errors(t *testing.T) {
	svc, _, _ := newImportFixture(t)
	ctx := context.Background()

	tests := []struct {
		name string
		req  ImportRequest
		want error
	}{
		{"missing user", ImportRequest{Body: []byte(bankCSV)}, core.ErrValidation},
		{"unknown account", ImportRequest{UserID: "u1", BankAccountID: "nope", Body: []byte(bankCSV)}, core.ErrNotFound},
		{"unmappable headers", ImportRequest{UserID: "u1", Body: []byte("foo,bar\n1,2\n")}, core.ErrValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.ImportCSV(ctx, tt.req)
			if !errors.Is(err, tt.want) {
				t.Errorf("error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestImportCSV_UploadLimit(t *testing.T) {
	notes := strings.Repeat("x", 1100)
	var b strings.Builder
	b.WriteString("Date,Description,Amount,Notes\n")
	for b.Len() <= csvimport.MaxUploadBytes+1<<20 {
		b.WriteString("2024-01-05,Woolworths,-45.20," + notes + "\n")
	}
	body := []byte(b.String())

	t.Run("configured limit above the parser default", func(t *testing.T) {
		svc, _, acct := newImportFixture(t, WithMaxUploadBytes(int64(len(body))+1))
		report, err := svc.ImportCSV(context.Background(), ImportRequest{UserID: "u1", BankAccountID: acct.ID, Body: body, DryRun: true})
		if err != nil {
			t.Fatalf("ImportCSV() error = %v", err)
		}
		if report.Counts.Unique != 1 {
			t.Errorf("Counts = %+v", report.Counts)
		}
	})

	t.Run("configured limit below the body", func(t *testing.T) {
		svc, _, acct := newImportFixture(t, WithMaxUploadBytes(64))
		_, err := svc.ImportCSV(context.Background(), ImportRequest{UserID: "u1", BankAccountID: acct.ID, Body: []byte(bankCSV)})
		if !errors.Is(err, csvimport.ErrTooLarge) || !errors.Is(err, core.ErrValidation) {
			t.Fatalf("ImportCSV() error = %v, want ErrTooLarge", err)
		}
	})
}

func TestImportSheet(t *testing.T) {
	src := sheetsmem.New(nil, []sheets.ExpenseRow{
		{Date: core.NewDate(2024, 3, 2), Description: "Coles", Amount: core.MustMoney("80"), Category: "Groceries"},
		{Date: core.NewDate(2024, 3, 9), Description: "Netflix", Amount: core.MustMoney("15.99"), Category: "groceries"},
		{Date: core.NewDate(2024, 3, 9), Description: "Zero", Amount: core.Zero, Category: ""},
	})
	svc, store, _ := newImportFixture(t, WithSheets(src))
	ctx := context.Background()

	report, err := svc.ImportSheet(ctx, ImportRequest{UserID: "u1"})
	if err != nil {
		t.Fatalf("ImportSheet() error = %v", err)
	}
	if report.Source != SourceSheet || len(report.InsertedIDs) != 2 {
		t.Errorf("report = %+v", report)
	}
	if len(report.Rejected) != 1 || report.Rejected[0].Line != 4 {
		t.Errorf("Rejected = %+v", report.Rejected)
	}

	cats, _ := store.ListCategories(ctx, "u1")
	if len(cats) != 1 {
		t.Fatalf("categories = %+v, want one case-insensitive Groceries", cats)
	}
	agg, err := store.GetMonthlyAggregate(ctx, "u1", core.NewDate(2024, 3, 1))
	if err != nil {
		t.Fatalf("GetMonthlyAggregate() error = %v", err)
	}
	if len(agg.CategoryExpenses) != 1 || agg.CategoryExpenses[0].CategoryID != cats[0].ID || !agg.Expenses.Equal(core.MustMoney("95.99")) {
		t.Errorf("aggregate = %+v", agg)
	}
}

func TestImportSheet_NotConfigured(t *testing.T) {
	svc, _, _ := newImportFixture(t)
	if _, err := svc.ImportSheet(context.Background(), ImportRequest{UserID: "u1"}); !errors.Is(err, core.ErrValidation) {
		t.Errorf("error = %v, want validation", err)
	}
}
