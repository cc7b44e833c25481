package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"tally/internal/aggregate"
	"tally/internal/amqp"
	"tally/internal/core"
	"tally/internal/events"
)

type call struct {
	userID     string
	start, end string
}

type fakeRecalc struct {
	mu      sync.Mutex
	calls   []call
	RangeFn func(userID string, start, end time.Time) (aggregate.RangeResult, error)
}

func (f *fakeRecalc) AggregateMonth(context.Context, string, time.Time) (core.MonthlyAggregate, error) {
	return core.MonthlyAggregate{}, nil
}

func (f *fakeRecalc) RecalculateRange(_ context.Context, userID string, start, end time.Time) (aggregate.RangeResult, error) {
	f.mu.Lock()
	f.calls = append(f.calls, call{userID, start.Format("2006-01"), end.Format("2006-01")})
	f.mu.Unlock()
	if f.RangeFn != nil {
		return f.RangeFn(userID, start, end)
	}
	return aggregate.RangeResult{MonthsProcessed: 1}, nil
}

type fakeUsers struct {
	since core.Date
	users []string
	err   error
}

func (f *fakeUsers) ActiveUsers(_ context.Context, since core.Date) ([]string, error) {
	f.since = since
	return f.users, f.err
}

type recordingEvents struct {
	events []events.Event
}

func (r *recordingEvents) Publish(_ context.Context, e events.Event) error {
	r.events = append(r.events, e)
	return nil
}

func (r *recordingEvents) Close() error { return nil }

func TestHandleRecalculateMessage(t *testing.T) {
	rec := &fakeRecalc{}
	ev := &recordingEvents{}
	w := NewRecalcWorker(rec, &fakeUsers{}, ev, DefaultConfig(), nil)

	err := w.HandleRecalculateMessage(context.Background(), &amqp.RecalculateMessage{UserID: "u1", Start: "2024-01", End: "2024-03"})
	if err != nil {
		t.Fatalf("HandleRecalculateMessage() error = %v", err)
	}
	if len(rec.calls) != 1 || rec.calls[0] != (call{"u1", "2024-01", "2024-03"}) {
		t.Errorf("calls = %+v", rec.calls)
	}
	if len(ev.events) != 1 || ev.events[0].Type != events.TypeAggregatesRecalculated {
		t.Errorf("events = %+v", ev.events)
	}
}

func TestHandleRecalculateMessage_Failures(t *testing.T) {
	tests := []struct {
		name    string
		result  aggregate.RangeResult
		err     error
		wantErr bool
	}{
		{"partial failure is acked", aggregate.RangeResult{MonthsProcessed: 2, Failures: []aggregate.MonthFailure{{Month: "2024-02", Error: "locked"}}}, nil, false},
		{"total failure is retried", aggregate.RangeResult{Failures: []aggregate.MonthFailure{{Month: "2024-01", Error: "locked"}}}, nil, true},
		{"range error is retried", aggregate.RangeResult{}, errors.New("context canceled"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &fakeRecalc{RangeFn: func(string, time.Time, time.Time) (aggregate.RangeResult, error) {
				return tt.result, tt.err
			}}
			w := NewRecalcWorker(rec, &fakeUsers{}, nil, DefaultConfig(), nil)
			err := w.HandleRecalculateMessage(context.Background(), &amqp.RecalculateMessage{UserID: "u1", Start: "2024-01", End: "2024-03"})
			if (err != nil) != tt.wantErr {
				t.Errorf("error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestSweep(t *testing.T) {
	rec := &fakeRecalc{RangeFn: func(userID string, _, _ time.Time) (aggregate.RangeResult, error) {
		if userID == "bad" {
			return aggregate.RangeResult{}, errors.New("boom")
		}
		return aggregate.RangeResult{MonthsProcessed: 2}, nil
	}}
	users := &fakeUsers{users: []string{"u1", "bad", "u2"}}
	w := NewRecalcWorker(rec, users, nil, Config{Interval: time.Hour, Lookback: 1}, nil)
	w.now = func() time.Time { return time.Date(2024, 3, 10, 8, 0, 0, 0, time.UTC) }

	swept, err := w.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep() error = %v", err)
	}
	if swept != 2 {
		t.Errorf("swept = %d, want 2", swept)
	}
	if !users.since.Equal(core.NewDate(2024, 2, 1).Time) {
		t.Errorf("since = %s, want 2024-02-01", users.since)
	}
	for _, c := range rec.calls {
		if c.start != "2024-02" || c.end != "2024-03" {
			t.Errorf("call = %+v", c)
		}
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	rec := &fakeRecalc{}
	w := NewRecalcWorker(rec, &fakeUsers{users: []string{"u1"}}, nil, Config{Interval: 10 * time.Millisecond}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if err := w.Run(ctx); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.calls) < 2 {
		t.Errorf("swept %d times, want at least 2", len(rec.calls))
	}
}
