package amqp

import (
	"encoding/json"
	"errors"
	"time"

	"tally/internal/core"
)

// RecalculateMessage asks a worker to recompute a user's monthly aggregates
// for every month from Start to End inclusive ("YYYY-MM").
type RecalculateMessage struct {
	UserID    string    `json:"user_id"`
	Start     string    `json:"start"`
	End       string    `json:"end"`
	Reason    string    `json:"reason,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// NewRecalculateMessage builds a message covering the months of start and end.
func NewRecalculateMessage(userID string, start, end time.Time, reason string) *RecalculateMessage {
	return &RecalculateMessage{
		UserID:    userID,
		Start:     core.MonthStart(start).MonthKey(),
		End:       core.MonthStart(end).MonthKey(),
		Reason:    reason,
		Timestamp: time.Now(),
	}
}

// Range parses Start and End into first-of-month dates.
func (m *RecalculateMessage) Range() (core.Date, core.Date, error) {
	start, err := core.ParseMonth(m.Start)
	if err != nil {
		return core.Date{}, core.Date{}, err
	}
	end, err := core.ParseMonth(m.End)
	if err != nil {
		return core.Date{}, core.Date{}, err
	}
	return start, end, nil
}

// Validate checks the message carries a user and a well-formed range.
func (m *RecalculateMessage) Validate() error {
	if m.UserID == "" {
		return errors.New("missing user_id")
	}
	start, end, err := m.Range()
	if err != nil {
		return err
	}
	if end.Before(start.Time) {
		return errors.New("end precedes start")
	}
	return nil
}

// ToJSON converts the message to JSON bytes
func (m *RecalculateMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// RecalculateMessageFromJSON decodes and validates a message.
func RecalculateMessageFromJSON(data []byte) (*RecalculateMessage, error) {
	var msg RecalculateMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	return &msg, nil
}
