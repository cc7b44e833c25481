// Package classifier is a client for the external transaction
// classification service. Training and classification run as jobs on the
// service; callers poll Status until a job completes.
package classifier

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"tally/internal/core"
)

// DefaultTimeout bounds every request to the service.
const DefaultTimeout = 30 * time.Second

// Job states reported by the service.
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// Example is one labelled transaction used for training.
type Example struct {
	Description string `json:"description"`
	Category    string `json:"category"`
}

// Item is one transaction to classify.
type Item struct {
	ID          string `json:"id"`
	Description string `json:"description"`
}

// Result is the predicted category for one Item.
type Result struct {
	ID         string  `json:"id"`
	Category   string  `json:"category"`
	Confidence float64 `json:"confidence,omitempty"`
}

// JobStatus is the state of a training or classification job.
type JobStatus struct {
	ID      string   `json:"id"`
	Status  string   `json:"status"`
	Error   string   `json:"error,omitempty"`
	Results []Result `json:"results,omitempty"`
}

// Done reports whether the job reached a terminal state.
func (s JobStatus) Done() bool {
	return s.Status == StatusCompleted || s.Status == StatusFailed
}

type Client struct {
	baseURL string
	http    *http.Client
}

// New creates a client for the service at baseURL.
func New(baseURL string, timeout time.Duration) (*Client, error) {
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid classifier url %q", baseURL)
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		baseURL: strings.TrimRight(u.String(), "/"),
		http:    &http.Client{Timeout: timeout},
	}, nil
}

type jobResponse struct {
	ID string `json:"id"`
}

// Train starts a training job and returns its id.
func (c *Client) Train(ctx context.Context, apiKey string, examples []Example) (string, error) {
	if len(examples) == 0 {
		return "", core.Validationf("no training examples")
	}
	var resp jobResponse
	if err := c.do(ctx, http.MethodPost, "/train", apiKey, map[string]any{"data": examples}, &resp); err != nil {
		return "", err
	}
	return resp.ID, nil
}

// Classify starts a classification job and returns its id.
func (c *Client) Classify(ctx context.Context, apiKey string, items []Item) (string, error) {
	if len(items) == 0 {
		return "", core.Validationf("nothing to classify")
	}
	var resp jobResponse
	if err := c.do(ctx, http.MethodPost, "/classify", apiKey, map[string]any{"data": items}, &resp); err != nil {
		return "", err
	}
	return resp.ID, nil
}

// Status fetches the state of a job.
func (c *Client) Status(ctx context.Context, apiKey, jobID string) (JobStatus, error) {
	if strings.TrimSpace(jobID) == "" {
		return JobStatus{}, core.Validationf("job id is required")
	}
	var st JobStatus
	if err := c.do(ctx, http.MethodGet, "/status/"+url.PathEscape(jobID), apiKey, nil, &st); err != nil {
		return JobStatus{}, err
	}
	if st.ID == "" {
		st.ID = jobID
	}
	return st, nil
}

func (c *Client) do(ctx context.Context, method, path, apiKey string, body, out any) error {
	if apiKey == "" {
		return fmt.Errorf("%w: missing classification api key", core.ErrUnauthorized)
	}

	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("X-API-Key", apiKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return core.Upstream("classifier", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return core.Upstream("classifier", err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: classifier rejected api key (%d)", core.ErrUnauthorized, resp.StatusCode)
	case resp.StatusCode == http.StatusNotFound:
		return core.NotFoundf("classifier %s", path)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return core.Upstream("classifier", fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, snippet(payload)))
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return core.Upstream("classifier", fmt.Errorf("decode response: %w", err))
	}
	return nil
}

func snippet(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > 200 {
		s = s[:200] + "..."
	}
	return s
}

// ApplyResults maps classifier results onto txs by ID. resolve turns a
// category name into a category ID (creating it when needed). It returns
// the transactions whose category changed.
func ApplyResults(ctx context.Context, txs []core.Transaction, results []Result, resolve func(ctx context.Context, name string) (string, error)) ([]core.Transaction, error) {
	byID := make(map[string]int, len(txs))
	for i, t := range txs {
		byID[t.ID] = i
	}
	ids := map[string]string{}

	var changed []core.Transaction
	var errs []error
	for _, r := range results {
		i, ok := byID[r.ID]
		name := strings.TrimSpace(r.Category)
		if !ok || name == "" {
			continue
		}
		catID, ok := ids[strings.ToLower(name)]
		if !ok {
			id, err := resolve(ctx, name)
			if err != nil {
				errs = append(errs, fmt.Errorf("category %q: %w", name, err))
				continue
			}
			catID = id
			ids[strings.ToLower(name)] = id
		}
		if txs[i].CategoryID == catID {
			continue
		}
		txs[i].CategoryID = catID
		changed = append(changed, txs[i])
	}
	return changed, errors.Join(errs...)
}
