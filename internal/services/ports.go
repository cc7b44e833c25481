package services

import (
	"context"
	"time"

	"tally/internal/aggregate"
	"tally/internal/amqp"
	"tally/internal/classifier"
	"tally/internal/core"
)

// Ports used by the services. Concrete adapters live in their own packages.
type (
	// Recalculator recomputes monthly aggregates.
	Recalculator interface {
		AggregateMonth(ctx context.Context, userID string, month time.Time) (core.MonthlyAggregate, error)
		RecalculateRange(ctx context.Context, userID string, start, end time.Time) (aggregate.RangeResult, error)
	}

	// RecalcPublisher queues a recalculation for the worker.
	RecalcPublisher interface {
		PublishRecalculate(ctx context.Context, msg *amqp.RecalculateMessage) error
	}

	// Classifier is the external classification service.
	Classifier interface {
		Train(ctx context.Context, apiKey string, examples []classifier.Example) (string, error)
		Classify(ctx context.Context, apiKey string, items []classifier.Item) (string, error)
		Status(ctx context.Context, apiKey, jobID string) (classifier.JobStatus, error)
	}
)

// monthKeys lists "YYYY-MM" for every month in [from, to].
func monthKeys(from, to core.Date) []string {
	months := core.MonthsBetween(from.Time, to.Time)
	out := make([]string, 0, len(months))
	for _, m := range months {
		out = append(out, m.MonthKey())
	}
	return out
}
