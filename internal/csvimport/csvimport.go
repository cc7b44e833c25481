// Package csvimport turns bank CSV exports into transactions.
//
// Column layout is discovered by a Mapper: header synonyms first, optionally
// a language model for unfamiliar exports. Rows that cannot be read are
// reported with their line number rather than dropped.
package csvimport

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"tally/internal/core"
)

const (
	// MaxUploadBytes bounds the size of one CSV upload.
	MaxUploadBytes = 5 << 20
	// MaxRows bounds the number of data rows in one CSV upload.
	MaxRows = 10_000

	sampleRows = 5
)

var (
	ErrTooLarge    = errors.New("csv file too large")
	ErrTooManyRows = errors.New("csv file has too many rows")
	ErrNoHeader    = errors.New("csv file has no header row")
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Options controls Parse.
type Options struct {
	UserID        string
	BankAccountID string
	// Mapper defaults to HeuristicMapper.
	Mapper   Mapper
	MaxBytes int64
	MaxRows  int
	// Delimiter is sniffed from the header line when zero.
	Delimiter rune
}

// RejectedRow is a data row that could not be converted.
type RejectedRow struct {
	Line   int      `json:"line"`
	Reason string   `json:"reason"`
	Record []string `json:"record"`
}

// Result is the outcome of Parse.
type Result struct {
	Headers      []string           `json:"headers"`
	Mapping      ColumnMapping      `json:"mapping"`
	Delimiter    string             `json:"delimiter"`
	Transactions []core.Transaction `json:"-"`
	Rejected     []RejectedRow      `json:"rejected"`
	SkippedEmpty int                `json:"skipped_empty"`
}

// Span returns the earliest and latest transaction dates. ok is false when
// there are no transactions.
func (r *Result) Span() (from, to core.Date, ok bool) {
	for i, t := range r.Transactions {
		if i == 0 || t.Date.Before(from.Time) {
			from = t.Date
		}
		if i == 0 || t.Date.After(to.Time) {
			to = t.Date
		}
	}
	return from, to, len(r.Transactions) > 0
}

// Parse reads a CSV export and converts each data row into a transaction.
func Parse(ctx context.Context, r io.Reader, opts Options) (*Result, error) {
	if opts.Mapper == nil {
		opts.Mapper = HeuristicMapper{}
	}
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = MaxUploadBytes
	}
	if opts.MaxRows <= 0 {
		opts.MaxRows = MaxRows
	}

	data, err := io.ReadAll(io.LimitReader(r, opts.MaxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read csv: %w", err)
	}
	if int64(len(data)) > opts.MaxBytes {
		return nil, fmt.Errorf("%w: %w (limit %d bytes)", core.ErrValidation, ErrTooLarge, opts.MaxBytes)
	}
	data = bytes.TrimPrefix(data, utf8BOM)

	delim := opts.Delimiter
	if delim == 0 {
		delim = sniffDelimiter(data)
	}

	cr := csv.NewReader(bytes.NewReader(data))
	cr.Comma = delim
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	cr.LazyQuotes = true

	headers, err := readHeader(cr)
	if err != nil {
		return nil, err
	}

	var records [][]string
	var lines []int
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: malformed csv: %w", core.ErrValidation, err)
		}
		line, _ := cr.FieldPos(0)
		records = append(records, rec)
		lines = append(lines, line)
		if len(records) > opts.MaxRows {
			return nil, fmt.Errorf("%w: %w (limit %d rows)", core.ErrValidation, ErrTooManyRows, opts.MaxRows)
		}
	}

	res := &Result{Headers: headers, Delimiter: string(delim)}

	var sample [][]string
	for _, rec := range records {
		if len(sample) == sampleRows {
			break
		}
		if !blank(rec) {
			sample = append(sample, rec)
		}
	}
	mapping, err := opts.Mapper.Map(ctx, headers, sample)
	if err != nil {
		return nil, err
	}
	if !mapping.Valid() {
		return nil, unresolved(headers)
	}
	res.Mapping = mapping

	for i, rec := range records {
		if blank(rec) {
			res.SkippedEmpty++
			continue
		}
		t, err := convert(rec, mapping)
		if err != nil {
			res.Rejected = append(res.Rejected, RejectedRow{Line: lines[i], Reason: err.Error(), Record: rec})
			continue
		}
		t.UserID = opts.UserID
		t.BankAccountID = opts.BankAccountID
		res.Transactions = append(res.Transactions, t)
	}
	return res, nil
}

func readHeader(cr *csv.Reader) ([]string, error) {
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			return nil, fmt.Errorf("%w: %w", core.ErrValidation, ErrNoHeader)
		}
		if err != nil {
			return nil, fmt.Errorf("%w: malformed csv header: %w", core.ErrValidation, err)
		}
		if blank(rec) {
			continue
		}
		for i := range rec {
			rec[i] = strings.TrimSpace(rec[i])
		}
		return rec, nil
	}
}

// sniffDelimiter picks the most frequent of , ; and tab on the first line,
// ignoring quoted text.
func sniffDelimiter(data []byte) rune {
	counts := map[rune]int{}
	inQuotes := false
	for _, r := range string(data) {
		if r == '"' {
			inQuotes = !inQuotes
			continue
		}
		if r == '\n' && !inQuotes {
			break
		}
		if !inQuotes && (r == ',' || r == ';' || r == '\t') {
			counts[r]++
		}
	}
	best := ','
	for _, r := range []rune{';', '\t'} {
		if counts[r] > counts[best] {
			best = r
		}
	}
	return best
}

func blank(rec []string) bool {
	for _, f := range rec {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}

func cell(rec []string, i int) string {
	if i < 0 || i >= len(rec) {
		return ""
	}
	return strings.TrimSpace(rec[i])
}

// convert maps one record to a transaction. A signed amount column wins when
// filled; otherwise debit cells become negative and credit cells positive.
func convert(rec []string, m ColumnMapping) (core.Transaction, error) {
	date, err := core.ParseDate(cell(rec, m.Date))
	if err != nil {
		return core.Transaction{}, fmt.Errorf("date: %w", err)
	}

	amount, err := rowAmount(rec, m)
	if err != nil {
		return core.Transaction{}, err
	}

	t := core.NewTransaction(date, cell(rec, m.Description), amount)
	if err := t.Validate(); err != nil {
		return core.Transaction{}, err
	}
	return t, nil
}

func rowAmount(rec []string, m ColumnMapping) (core.Money, error) {
	if s := cell(rec, m.Amount); s != "" {
		a, err := core.ParseAmount(s)
		if err != nil {
			return core.Money{}, fmt.Errorf("amount %q: %w", s, err)
		}
		return a, nil
	}

	total := core.Zero
	found := false
	if s := cell(rec, m.Debit); s != "" {
		d, err := core.ParseAmount(s)
		if err != nil {
			return core.Money{}, fmt.Errorf("debit %q: %w", s, err)
		}
		total = total.Sub(d.Abs())
		found = true
	}
	if s := cell(rec, m.Credit); s != "" {
		c, err := core.ParseAmount(s)
		if err != nil {
			return core.Money{}, fmt.Errorf("credit %q: %w", s, err)
		}
		total = total.Add(c.Abs())
		found = true
	}
	if !found {
		return core.Money{}, fmt.Errorf("%w: no amount", core.ErrInvalidAmount)
	}
	return total, nil
}
