package services

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"tally/internal/amqp"
	"tally/internal/archive"
	"tally/internal/core"
	"tally/internal/csvimport"
	"tally/internal/dedupe"
	"tally/internal/events"
	applog "tally/internal/log"
	"tally/internal/sheets"
	"tally/internal/storage"
)

// Import sources.
const (
	SourceCSV   = "csv"
	SourceSheet = "sheet"
)

// Recalculation outcomes reported on an import.
const (
	RecalcQueued    = "queued"
	RecalcCompleted = "completed"
	RecalcPartial   = "partial"
	RecalcSkipped   = "skipped"
)

// ImportRequest is one upload.
type ImportRequest struct {
	UserID        string
	BankAccountID string
	Filename      string
	Body          []byte
	DryRun        bool
}

// DuplicateRow describes a row that was not inserted because it repeats a
// stored transaction or an earlier row of the same upload.
type DuplicateRow struct {
	Index       int         `json:"index"`
	Kind        dedupe.Kind `json:"kind"`
	Date        string      `json:"date"`
	Description string      `json:"description"`
	Amount      core.Money  `json:"amount"`
	MatchedIDs  []string    `json:"matched_ids,omitempty"`
	FirstIndex  *int        `json:"first_index,omitempty"`
}

// ImportReport is returned for every import, dry run or not.
type ImportReport struct {
	Source         string                   `json:"source"`
	Filename       string                   `json:"filename,omitempty"`
	DryRun         bool                     `json:"dry_run"`
	Rows           int                      `json:"rows"`
	Counts         dedupe.Counts            `json:"counts"`
	Duplicates     []DuplicateRow           `json:"duplicates"`
	Rejected       []csvimport.RejectedRow  `json:"rejected"`
	InsertedIDs    []string                 `json:"inserted_ids"`
	Months         []string                 `json:"months"`
	Mapping        *csvimport.ColumnMapping `json:"mapping,omitempty"`
	ArchivedObject string                   `json:"archived_object,omitempty"`
	Recalculation  string                   `json:"recalculation"`
}

// ImportService turns uploads into stored transactions: parse, drop
// duplicates, insert, then refresh the aggregates of the touched months.
type ImportService struct {
	store     storage.Store
	recalc    Recalculator
	publisher RecalcPublisher
	archiver  archive.Archiver
	events    events.Publisher
	sheets    sheets.ExpenseDetailReader
	mapper    csvimport.Mapper
	maxBytes  int64
	logger    *applog.Logger
}

type ImportOption func(*ImportService)

// WithRecalcPublisher queues recalculations instead of running them inline.
func WithRecalcPublisher(p RecalcPublisher) ImportOption {
	return func(s *ImportService) { s.publisher = p }
}

func WithArchiver(a archive.Archiver) ImportOption {
	return func(s *ImportService) { s.archiver = a }
}

func WithEvents(p events.Publisher) ImportOption {
	return func(s *ImportService) { s.events = p }
}

func WithSheets(r sheets.ExpenseDetailReader) ImportOption {
	return func(s *ImportService) { s.sheets = r }
}

// WithMapper replaces the heuristic column mapper.
func WithMapper(m csvimport.Mapper) ImportOption {
	return func(s *ImportService) { s.mapper = m }
}

// WithMaxUploadBytes sets the largest CSV body the parser accepts.
func WithMaxUploadBytes(n int64) ImportOption {
	return func(s *ImportService) { s.maxBytes = n }
}

func NewImportService(store storage.Store, recalc Recalculator, logger *applog.Logger, opts ...ImportOption) *ImportService {
	if logger == nil {
		logger = applog.Nop()
	}
	s := &ImportService{
		store:    store,
		recalc:   recalc,
		archiver: archive.Noop{},
		events:   events.Noop{},
		mapper:   csvimport.HeuristicMapper{},
		logger:   logger.WithComponent(applog.ComponentImport),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ImportCSV parses a bank export and stores the rows that are not duplicates.
func (s *ImportService) ImportCSV(ctx context.Context, req ImportRequest) (*ImportReport, error) {
	if err := s.checkAccount(ctx, req.UserID, req.BankAccountID); err != nil {
		return nil, err
	}

	parsed, err := csvimport.Parse(ctx, bytes.NewReader(req.Body), csvimport.Options{
		UserID:        req.UserID,
		BankAccountID: req.BankAccountID,
		Mapper:        s.mapper,
		MaxBytes:      s.maxBytes,
	})
	if err != nil {
		return nil, err
	}

	report := &ImportReport{
		Source:   SourceCSV,
		Filename: req.Filename,
		DryRun:   req.DryRun,
		Rows:     len(parsed.Transactions) + len(parsed.Rejected),
		Rejected: parsed.Rejected,
		Mapping:  &parsed.Mapping,
	}
	if err := s.ingest(ctx, req, parsed.Transactions, report); err != nil {
		return nil, err
	}

	if !req.DryRun {
		object, err := s.archiver.Archive(ctx, req.UserID, req.Filename, req.Body)
		if err != nil {
			s.logger.WarnContext(ctx, "Failed to archive upload",
				applog.FieldUserID, req.UserID, applog.FieldFilename, req.Filename, applog.FieldError, err)
		}
		report.ArchivedObject = object
	}

	s.publishImported(ctx, req.UserID, report)
	return report, nil
}

// ImportSheet imports the Expense-Detail tab. Category names are created on
// demand; dry runs create nothing.
func (s *ImportService) ImportSheet(ctx context.Context, req ImportRequest) (*ImportReport, error) {
	if s.sheets == nil {
		return nil, core.Validationf("spreadsheet source is not configured")
	}
	if err := s.checkAccount(ctx, req.UserID, req.BankAccountID); err != nil {
		return nil, err
	}

	rows, err := s.sheets.ReadExpenseDetail(ctx)
	if err != nil {
		return nil, err
	}

	report := &ImportReport{Source: SourceSheet, DryRun: req.DryRun, Rows: len(rows)}
	categories := map[string]string{}
	var txs []core.Transaction
	for i, row := range rows {
		// Header is line 1.
		line := i + 2
		t := row.Transaction()
		t.UserID = req.UserID
		t.BankAccountID = req.BankAccountID
		if err := t.Validate(); err != nil {
			report.Rejected = append(report.Rejected, csvimport.RejectedRow{
				Line:   line,
				Reason: err.Error(),
				Record: []string{row.Date.String(), row.Description, row.Amount.String(), row.Category},
			})
			continue
		}
		if name := strings.TrimSpace(row.Category); name != "" && !req.DryRun {
			id, ok := categories[strings.ToLower(name)]
			if !ok {
				c, err := s.store.EnsureCategory(ctx, req.UserID, name)
				if err != nil {
					return nil, fmt.Errorf("ensure category %q: %w", name, err)
				}
				id = c.ID
				categories[strings.ToLower(name)] = id
			}
			t.CategoryID = id
		}
		txs = append(txs, t)
	}

	if err := s.ingest(ctx, req, txs, report); err != nil {
		return nil, err
	}
	s.publishImported(ctx, req.UserID, report)
	return report, nil
}

func (s *ImportService) checkAccount(ctx context.Context, userID, accountID string) error {
	if strings.TrimSpace(userID) == "" {
		return core.Validationf("user id is required")
	}
	if accountID == "" {
		return nil
	}
	if _, err := s.store.GetBankAccount(ctx, userID, accountID); err != nil {
		return fmt.Errorf("bank account: %w", err)
	}
	return nil
}

// ingest deduplicates txs against the stored rows of the same date span and
// inserts the unique ones.
func (s *ImportService) ingest(ctx context.Context, req ImportRequest, txs []core.Transaction, report *ImportReport) error {
	report.Duplicates = []DuplicateRow{}
	report.InsertedIDs = []string{}
	report.Months = []string{}
	if report.Rejected == nil {
		report.Rejected = []csvimport.RejectedRow{}
	}
	report.Recalculation = RecalcSkipped

	if len(txs) == 0 {
		return nil
	}
	from, to := span(txs)

	existing, err := s.store.ListTransactions(ctx, req.UserID, from, to)
	if err != nil {
		return fmt.Errorf("load existing transactions: %w", err)
	}

	result := dedupe.Detect(txs, existing)
	report.Counts = result.Counts()
	report.Duplicates = duplicateRows(result)

	unique := result.UniqueTransactions()
	if len(unique) == 0 {
		return nil
	}
	from, to = span(unique)
	report.Months = monthKeys(from, to)

	if req.DryRun {
		return nil
	}

	ids, err := s.store.InsertTransactions(ctx, unique)
	if err != nil {
		return fmt.Errorf("insert transactions: %w", err)
	}
	report.InsertedIDs = ids

	s.logger.InfoContext(ctx, "Imported transactions",
		applog.FieldUserID, req.UserID,
		applog.FieldCount, len(ids),
		"duplicates", report.Counts.DuplicateExisting+report.Counts.DuplicateInBatch,
		"rejected", len(report.Rejected))

	report.Recalculation = s.refresh(ctx, req.UserID, report.Source, from, to)
	return nil
}

// refresh queues a recalculation of [from, to], running it inline when no
// queue is configured or publishing fails.
func (s *ImportService) refresh(ctx context.Context, userID, reason string, from, to core.Date) string {
	if s.publisher != nil {
		msg := amqp.NewRecalculateMessage(userID, from.Time, to.Time, "import:"+reason)
		err := s.publisher.PublishRecalculate(ctx, msg)
		if err == nil {
			return RecalcQueued
		}
		s.logger.WarnContext(ctx, "Failed to queue recalculation, running inline",
			applog.FieldUserID, userID, applog.FieldError, err)
	}

	res, err := s.recalc.RecalculateRange(ctx, userID, from.Time, to.Time)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to recalculate aggregates",
			applog.FieldUserID, userID, applog.FieldError, err)
		return RecalcPartial
	}
	if len(res.Failures) > 0 {
		return RecalcPartial
	}
	return RecalcCompleted
}

func (s *ImportService) publishImported(ctx context.Context, userID string, report *ImportReport) {
	if report.DryRun {
		return
	}
	e := events.New(events.TypeTransactionsImported, userID, events.TransactionsImported{
		Source:     report.Source,
		Filename:   report.Filename,
		Inserted:   len(report.InsertedIDs),
		Duplicates: report.Counts.DuplicateExisting + report.Counts.DuplicateInBatch,
		Rejected:   len(report.Rejected),
		Months:     report.Months,
	})
	if err := s.events.Publish(ctx, e); err != nil {
		s.logger.WarnContext(ctx, "Failed to publish import event",
			applog.FieldUserID, userID, applog.FieldError, err)
	}
}

func span(txs []core.Transaction) (from, to core.Date) {
	for i, t := range txs {
		if i == 0 || t.Date.Before(from.Time) {
			from = t.Date
		}
		if i == 0 || t.Date.After(to.Time) {
			to = t.Date
		}
	}
	return from, to
}

func duplicateRows(r dedupe.Report) []DuplicateRow {
	out := make([]DuplicateRow, 0, len(r.DuplicatesExisting)+len(r.DuplicatesInBatch))
	add := func(e dedupe.Entry) {
		row := DuplicateRow{
			Index:       e.Index,
			Kind:        e.Kind,
			Date:        e.Transaction.Date.String(),
			Description: e.Transaction.Description,
			Amount:      e.Transaction.Amount,
			MatchedIDs:  e.MatchedIDs,
		}
		if e.Kind == dedupe.DuplicateInBatch {
			first := e.FirstIndex
			row.FirstIndex = &first
		}
		out = append(out, row)
	}
	for _, e := range r.DuplicatesExisting {
		add(e)
	}
	for _, e := range r.DuplicatesInBatch {
		add(e)
	}
	return out
}
