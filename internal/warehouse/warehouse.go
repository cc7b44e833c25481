// Package warehouse streams monthly aggregates into BigQuery for reporting.
package warehouse

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"

	"tally/internal/aggregate"
	"tally/internal/core"
	applog "tally/internal/log"
)

const DefaultTable = "monthly_aggregates"

// CategoryRow is one element of the repeated category_expenses column.
type CategoryRow struct {
	CategoryID string   `bigquery:"category_id"` // empty for uncategorized
	Amount     *big.Rat `bigquery:"amount"`      // NUMERIC
}

// AggregateRow mirrors core.MonthlyAggregate in the warehouse schema.
type AggregateRow struct {
	UserID           string        `bigquery:"user_id"`  // REQUIRED
	Month            civil.Date    `bigquery:"month"`    // REQUIRED, first of month
	Income           *big.Rat      `bigquery:"income"`   // NUMERIC
	Expenses         *big.Rat      `bigquery:"expenses"` // NUMERIC
	Net              *big.Rat      `bigquery:"net"`      // NUMERIC
	TransactionCount int64         `bigquery:"transaction_count"`
	CategoryExpenses []CategoryRow `bigquery:"category_expenses"` // REPEATED RECORD
	ExportedTS       time.Time     `bigquery:"exported_ts"`
}

// ToRow converts an aggregate for insertion.
func ToRow(agg core.MonthlyAggregate, exportedAt time.Time) *AggregateRow {
	row := &AggregateRow{
		UserID:           agg.UserID,
		Month:            civil.DateOf(agg.Month.Time),
		Income:           agg.Income.Rat(),
		Expenses:         agg.Expenses.Rat(),
		Net:              agg.Net().Rat(),
		TransactionCount: int64(agg.TransactionCount),
		ExportedTS:       exportedAt,
	}
	for _, c := range agg.CategoryExpenses {
		row.CategoryExpenses = append(row.CategoryExpenses, CategoryRow{CategoryID: c.CategoryID, Amount: c.Amount.Rat()})
	}
	return row
}

type putter interface {
	Put(ctx context.Context, src any) error
}

// Sink appends every recomputed aggregate to a BigQuery table. Rows are
// append-only; consumers take the latest exported_ts per (user_id, month).
type Sink struct {
	client   *bigquery.Client
	inserter putter
	logger   *applog.Logger
	now      func() time.Time
}

func NewSink(ctx context.Context, projectID, datasetID, tableID string, logger *applog.Logger) (*Sink, error) {
	client, err := bigquery.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("bigquery client: %w", err)
	}
	if tableID == "" {
		tableID = DefaultTable
	}
	s := newSink(client.DatasetInProject(projectID, datasetID).Table(tableID).Inserter(), logger)
	s.client = client
	return s, nil
}

func newSink(p putter, logger *applog.Logger) *Sink {
	if logger == nil {
		logger = applog.Nop()
	}
	return &Sink{inserter: p, logger: logger.WithComponent(applog.ComponentWarehouse), now: time.Now}
}

func (s *Sink) ExportAggregate(ctx context.Context, agg core.MonthlyAggregate) error {
	row := ToRow(agg, s.now().UTC())
	if err := s.inserter.Put(ctx, row); err != nil {
		return core.Upstream("bigquery", fmt.Errorf("insert aggregate %s/%s: %w", agg.UserID, agg.Month.MonthKey(), err))
	}
	s.logger.DebugContext(ctx, "Exported aggregate", applog.FieldUserID, agg.UserID, applog.FieldMonth, agg.Month.MonthKey())
	return nil
}

// Close closes the BigQuery client connection.
func (s *Sink) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

var _ aggregate.Sink = (*Sink)(nil)
