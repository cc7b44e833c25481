// Package events defines the domain events emitted after imports and
// aggregate recomputes.
package events

import (
	"context"
	"time"
)

// Event types.
const (
	TypeTransactionsImported   = "transactions.imported"
	TypeAggregatesRecalculated = "aggregates.recalculated"
)

// Event is the envelope written to the event stream.
type Event struct {
	Type       string    `json:"type"`
	UserID     string    `json:"user_id"`
	OccurredAt time.Time `json:"occurred_at"`
	Payload    any       `json:"payload"`
}

// TransactionsImported is the payload of a transactions.imported event.
type TransactionsImported struct {
	Source     string   `json:"source"`
	Filename   string   `json:"filename,omitempty"`
	Inserted   int      `json:"inserted"`
	Duplicates int      `json:"duplicates"`
	Rejected   int      `json:"rejected"`
	Months     []string `json:"months"`
}

// AggregatesRecalculated is the payload of an aggregates.recalculated event.
type AggregatesRecalculated struct {
	Start           string `json:"start"`
	End             string `json:"end"`
	MonthsProcessed int    `json:"months_processed"`
	Failures        int    `json:"failures"`
}

// Publisher delivers events. Implementations must be safe for concurrent use.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
	Close() error
}

// New stamps an event with the current time.
func New(eventType, userID string, payload any) Event {
	return Event{Type: eventType, UserID: userID, OccurredAt: time.Now().UTC(), Payload: payload}
}

// Noop discards events. Used when no broker is configured.
type Noop struct{}

func (Noop) Publish(context.Context, Event) error { return nil }
func (Noop) Close() error                        { return nil }
