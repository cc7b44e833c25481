package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"tally/internal/classifier"
	"tally/internal/core"
	applog "tally/internal/log"
	"tally/internal/storage"
)

// ClassifyJob is a started classification job.
type ClassifyJob struct {
	JobID string `json:"job_id"`
	Items int    `json:"items"`
}

// PollResult is the state of a job after a poll. Applied and Months are
// only set once the job completed.
type PollResult struct {
	JobID   string   `json:"job_id"`
	Status  string   `json:"status"`
	Error   string   `json:"error,omitempty"`
	Applied int      `json:"applied"`
	Months  []string `json:"months"`
}

// ClassificationService drives the external classifier with the user's
// own API key.
type ClassificationService struct {
	store      storage.Store
	classifier Classifier
	recalc     Recalculator
	logger     *applog.Logger
}

func NewClassificationService(store storage.Store, c Classifier, recalc Recalculator, logger *applog.Logger) *ClassificationService {
	if logger == nil {
		logger = applog.Nop()
	}
	return &ClassificationService{
		store:      store,
		classifier: c,
		recalc:     recalc,
		logger:     logger.WithComponent(applog.ComponentClassifier),
	}
}

// SetKey stores the user's classification API key.
func (s *ClassificationService) SetKey(ctx context.Context, userID, apiKey string) error {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return core.Validationf("api key is required")
	}
	return s.store.SetAPIKey(ctx, userID, apiKey)
}

func (s *ClassificationService) apiKey(ctx context.Context, userID string) (string, error) {
	key, err := s.store.APIKeyForUser(ctx, userID)
	if errors.Is(err, core.ErrNotFound) {
		return "", fmt.Errorf("%w: no classification api key configured", core.ErrUnauthorized)
	}
	if err != nil {
		return "", err
	}
	return key, nil
}

// Train sends every categorized training transaction of the user.
func (s *ClassificationService) Train(ctx context.Context, userID string) (string, error) {
	key, err := s.apiKey(ctx, userID)
	if err != nil {
		return "", err
	}

	txs, err := s.store.ListTrainingTransactions(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("list training transactions: %w", err)
	}
	cats, err := s.store.ListCategories(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("list categories: %w", err)
	}
	names := make(map[string]string, len(cats))
	for _, c := range cats {
		names[c.ID] = c.Name
	}

	var examples []classifier.Example
	for _, t := range txs {
		if name, ok := names[t.CategoryID]; ok {
			examples = append(examples, classifier.Example{Description: t.Description, Category: name})
		}
	}
	if len(examples) == 0 {
		return "", core.Validationf("no categorized training transactions")
	}

	jobID, err := s.classifier.Train(ctx, key, examples)
	if err != nil {
		return "", err
	}
	s.logger.InfoContext(ctx, "Started training job",
		applog.FieldUserID, userID, applog.FieldJobID, jobID, applog.FieldCount, len(examples))
	return jobID, nil
}

// Classify submits the uncategorized transactions dated in [from, to].
// Nothing is submitted when every transaction already has a category.
func (s *ClassificationService) Classify(ctx context.Context, userID string, from, to core.Date) (ClassifyJob, error) {
	key, err := s.apiKey(ctx, userID)
	if err != nil {
		return ClassifyJob{}, err
	}

	txs, err := s.store.ListTransactions(ctx, userID, from, to)
	if err != nil {
		return ClassifyJob{}, fmt.Errorf("list transactions: %w", err)
	}
	var items []classifier.Item
	for _, t := range txs {
		if t.CategoryID == "" {
			items = append(items, classifier.Item{ID: t.ID, Description: t.Description})
		}
	}
	if len(items) == 0 {
		return ClassifyJob{}, nil
	}

	jobID, err := s.classifier.Classify(ctx, key, items)
	if err != nil {
		return ClassifyJob{}, err
	}
	s.logger.InfoContext(ctx, "Started classification job",
		applog.FieldUserID, userID, applog.FieldJobID, jobID, applog.FieldCount, len(items))
	return ClassifyJob{JobID: jobID, Items: len(items)}, nil
}

// Poll checks a job and, once it completed, applies its predictions and
// recomputes the months whose breakdown changed. Polling a completed job
// again changes nothing.
func (s *ClassificationService) Poll(ctx context.Context, userID, jobID string) (PollResult, error) {
	key, err := s.apiKey(ctx, userID)
	if err != nil {
		return PollResult{}, err
	}

	status, err := s.classifier.Status(ctx, key, jobID)
	if err != nil {
		return PollResult{}, err
	}
	res := PollResult{JobID: jobID, Status: status.Status, Error: status.Error, Months: []string{}}
	if status.Status != classifier.StatusCompleted || len(status.Results) == 0 {
		return res, nil
	}

	var txs []core.Transaction
	for _, r := range status.Results {
		t, err := s.store.GetTransaction(ctx, userID, r.ID)
		if errors.Is(err, core.ErrNotFound) {
			continue
		}
		if err != nil {
			return PollResult{}, fmt.Errorf("load transaction %s: %w", r.ID, err)
		}
		txs = append(txs, t)
	}

	changed, applyErr := classifier.ApplyResults(ctx, txs, status.Results, func(ctx context.Context, name string) (string, error) {
		c, err := s.store.EnsureCategory(ctx, userID, name)
		return c.ID, err
	})

	months := map[string]core.Date{}
	var errs []error
	if applyErr != nil {
		errs = append(errs, applyErr)
	}
	for _, t := range changed {
		if _, err := s.store.UpdateTransactionCategory(ctx, userID, t.ID, t.CategoryID); err != nil {
			errs = append(errs, fmt.Errorf("update %s: %w", t.ID, err))
			continue
		}
		res.Applied++
		m := core.MonthStart(t.Date.Time)
		months[m.MonthKey()] = m
	}

	for mk, m := range months {
		if _, err := s.recalc.AggregateMonth(ctx, userID, m.Time); err != nil {
			errs = append(errs, fmt.Errorf("recompute %s: %w", mk, err))
			continue
		}
		res.Months = append(res.Months, mk)
	}
	sort.Strings(res.Months)

	if err := errors.Join(errs...); err != nil {
		s.logger.WarnContext(ctx, "Classification results partially applied",
			applog.FieldUserID, userID, applog.FieldJobID, jobID, applog.FieldError, err)
	}
	s.logger.InfoContext(ctx, "Applied classification results",
		applog.FieldUserID, userID, applog.FieldJobID, jobID, applog.FieldCount, res.Applied)
	return res, nil
}
