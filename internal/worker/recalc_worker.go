// Package worker recomputes monthly aggregates off the request path.
package worker

import (
	"context"
	"fmt"
	"time"

	"tally/internal/amqp"
	"tally/internal/core"
	"tally/internal/events"
	applog "tally/internal/log"
	"tally/internal/services"
)

// ActiveUserLister returns users with transactions dated on or after since.
type ActiveUserLister interface {
	ActiveUsers(ctx context.Context, since core.Date) ([]string, error)
}

// Config controls the periodic sweep.
type Config struct {
	// Interval between sweeps; zero disables the periodic loop.
	Interval time.Duration
	// Lookback is how many months before the current one are recomputed.
	Lookback int
}

func DefaultConfig() Config {
	return Config{Interval: 15 * time.Minute, Lookback: 1}
}

// RecalcWorker handles queued recalculation requests and periodically
// recomputes recent months for active users, which covers lost messages.
type RecalcWorker struct {
	recalc services.Recalculator
	users  ActiveUserLister
	events events.Publisher
	config Config
	logger *applog.Logger
	now    func() time.Time
}

func NewRecalcWorker(recalc services.Recalculator, users ActiveUserLister, pub events.Publisher, config Config, logger *applog.Logger) *RecalcWorker {
	if logger == nil {
		logger = applog.Nop()
	}
	if pub == nil {
		pub = events.Noop{}
	}
	if config.Lookback < 0 {
		config.Lookback = 0
	}
	return &RecalcWorker{
		recalc: recalc,
		users:  users,
		events: pub,
		config: config,
		logger: logger.WithComponent(applog.ComponentWorker),
		now:    time.Now,
	}
}

// HandleRecalculateMessage recomputes the message's range. An error makes
// the consumer requeue the message, so it is only returned when no month
// could be recomputed.
func (w *RecalcWorker) HandleRecalculateMessage(ctx context.Context, msg *amqp.RecalculateMessage) error {
	start, end, err := msg.Range()
	if err != nil {
		return fmt.Errorf("message range: %w", err)
	}

	w.logger.InfoContext(ctx, "Processing recalculate message",
		applog.FieldUserID, msg.UserID, applog.FieldStart, msg.Start, applog.FieldEnd, msg.End, "reason", msg.Reason)

	return w.recalculate(ctx, msg.UserID, start, end)
}

func (w *RecalcWorker) recalculate(ctx context.Context, userID string, start, end core.Date) error {
	res, err := w.recalc.RecalculateRange(ctx, userID, start.Time, end.Time)
	if err != nil {
		return fmt.Errorf("recalculate %s..%s: %w", start.MonthKey(), end.MonthKey(), err)
	}

	e := events.New(events.TypeAggregatesRecalculated, userID, events.AggregatesRecalculated{
		Start:           start.MonthKey(),
		End:             end.MonthKey(),
		MonthsProcessed: res.MonthsProcessed,
		Failures:        len(res.Failures),
	})
	if err := w.events.Publish(ctx, e); err != nil {
		w.logger.WarnContext(ctx, "Failed to publish recalculated event", applog.FieldUserID, userID, applog.FieldError, err)
	}

	if res.MonthsProcessed == 0 && len(res.Failures) > 0 {
		return fmt.Errorf("recalculate %s..%s: all %d months failed, first: %s",
			start.MonthKey(), end.MonthKey(), len(res.Failures), res.Failures[0].Error)
	}
	return nil
}

// Sweep recomputes the current month and Lookback previous months for every
// user active in that window. It returns how many users were swept.
func (w *RecalcWorker) Sweep(ctx context.Context) (int, error) {
	end := core.MonthStart(w.now().UTC())
	start := core.DateOf(end.AddDate(0, -w.config.Lookback, 0))

	users, err := w.users.ActiveUsers(ctx, start)
	if err != nil {
		return 0, fmt.Errorf("list active users: %w", err)
	}

	swept, failed := 0, 0
	for _, userID := range users {
		if err := ctx.Err(); err != nil {
			return swept, err
		}
		if err := w.recalculate(ctx, userID, start, end); err != nil {
			w.logger.ErrorContext(ctx, "Periodic recalculation failed", applog.FieldUserID, userID, applog.FieldError, err)
			failed++
			continue
		}
		swept++
	}

	w.logger.InfoContext(ctx, "Periodic recalculation completed",
		"users", len(users), "swept", swept, "errors", failed,
		applog.FieldStart, start.MonthKey(), applog.FieldEnd, end.MonthKey())
	return swept, nil
}

// Run sweeps once at startup and then every Interval until ctx is done.
func (w *RecalcWorker) Run(ctx context.Context) error {
	if w.config.Interval <= 0 {
		w.logger.InfoContext(ctx, "Periodic recalculation disabled")
		<-ctx.Done()
		return nil
	}

	ticker := time.NewTicker(w.config.Interval)
	defer ticker.Stop()

	if _, err := w.Sweep(ctx); err != nil && ctx.Err() == nil {
		w.logger.ErrorContext(ctx, "Startup recalculation failed", applog.FieldError, err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := w.Sweep(ctx); err != nil && ctx.Err() == nil {
				w.logger.ErrorContext(ctx, "Periodic recalculation failed", applog.FieldError, err)
			}
		}
	}
}
