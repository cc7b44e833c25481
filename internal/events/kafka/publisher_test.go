package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/segmentio/kafka-go"

	"tally/internal/events"
)

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error {
	f.closed = true
	return nil
}

func TestPublisher_Publish(t *testing.T) {
	w := &fakeWriter{}
	p := newPublisher(w, nil)

	e := events.New(events.TypeTransactionsImported, "u1", events.TransactionsImported{
		Source: "csv", Inserted: 3, Months: []string{"2024-01"},
	})
	if err := p.Publish(context.Background(), e); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	if len(w.msgs) != 1 {
		t.Fatalf("wrote %d messages, want 1", len(w.msgs))
	}
	msg := w.msgs[0]
	if string(msg.Key) != "u1" {
		t.Errorf("key = %q, want u1", msg.Key)
	}
	if len(msg.Headers) != 1 || string(msg.Headers[0].Value) != events.TypeTransactionsImported {
		t.Errorf("headers = %+v", msg.Headers)
	}

	var decoded struct {
		Type    string `json:"type"`
		UserID  string `json:"user_id"`
		Payload struct {
			Inserted int      `json:"inserted"`
			Months   []string `json:"months"`
		} `json:"payload"`
	}
	if err := json.Unmarshal(msg.Value, &decoded); err != nil {
		t.Fatalf("decode value: %v", err)
	}
	if decoded.Type != events.TypeTransactionsImported || decoded.UserID != "u1" || decoded.Payload.Inserted != 3 {
		t.Errorf("decoded = %+v", decoded)
	}

	if err := p.Close(); err != nil || !w.closed {
		t.Errorf("Close() err = %v, closed = %v", err, w.closed)
	}
}

func TestPublisher_PublishError(t *testing.T) {
	boom := errors.New("leader not available")
	p := newPublisher(&fakeWriter{err: boom}, nil)

	err := p.Publish(context.Background(), events.New(events.TypeAggregatesRecalculated, "u1", nil))
	if !errors.Is(err, boom) {
		t.Errorf("Publish() error = %v, want wrapped %v", err, boom)
	}
}
