package services

import (
	"context"
	"sync"

	"tally/internal/amqp"
	"tally/internal/classifier"
	"tally/internal/events"
)

type fakePublisher struct {
	mu        sync.Mutex
	PublishFn func(ctx context.Context, msg *amqp.RecalculateMessage) error
	published []*amqp.RecalculateMessage
}

func (f *fakePublisher) PublishRecalculate(ctx context.Context, msg *amqp.RecalculateMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PublishFn != nil {
		if err := f.PublishFn(ctx, msg); err != nil {
			return err
		}
	}
	f.published = append(f.published, msg)
	return nil
}

type fakeArchiver struct {
	ArchiveFn func(ctx context.Context, userID, filename string, body []byte) (string, error)
	calls     int
}

func (f *fakeArchiver) Archive(ctx context.Context, userID, filename string, body []byte) (string, error) {
	f.calls++
	if f.ArchiveFn != nil {
		return f.ArchiveFn(ctx, userID, filename, body)
	}
	return "imports/" + userID + "/" + filename, nil
}

type fakeEvents struct {
	events []events.Event
}

func (f *fakeEvents) Publish(_ context.Context, e events.Event) error {
	f.events = append(f.events, e)
	return nil
}

func (f *fakeEvents) Close() error { return nil }

type fakeClassifier struct {
	TrainFn    func(ctx context.Context, apiKey string, examples []classifier.Example) (string, error)
	ClassifyFn func(ctx context.Context, apiKey string, items []classifier.Item) (string, error)
	StatusFn   func(ctx context.Context, apiKey, jobID string) (classifier.JobStatus, error)
}

func (f *fakeClassifier) Train(ctx context.Context, apiKey string, examples []classifier.Example) (string, error) {
	return f.TrainFn(ctx, apiKey, examples)
}

func (f *fakeClassifier) Classify(ctx context.Context, apiKey string, items []classifier.Item) (string, error) {
	return f.ClassifyFn(ctx, apiKey, items)
}

func (f *fakeClassifier) Status(ctx context.Context, apiKey, jobID string) (classifier.JobStatus, error) {
	return f.StatusFn(ctx, apiKey, jobID)
}
