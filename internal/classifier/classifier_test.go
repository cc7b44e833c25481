package classifier

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"tally/internal/core"
)

func newTestServer(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := New(srv.URL, time.Second)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func TestTrainSendsExamplesAndKey(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/train" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("X-API-Key") != "secret" {
			t.Errorf("missing api key header")
		}
		var body struct {
			Data []Example `json:"data"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || len(body.Data) != 2 {
			t.Errorf("unexpected body: %+v (err=%v)", body, err)
		}
		w.Write([]byte(`{"id":"job-1"}`))
	})

	id, err := c.Train(context.Background(), "secret", []Example{
		{Description: "Woolworths", Category: "Groceries"},
		{Description: "Shell", Category: "Fuel"},
	})
	if err != nil || id != "job-1" {
		t.Fatalf("expected job-1, got %q (err=%v)", id, err)
	}
}

func TestStatusDecodesResults(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/status/job-2" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Write([]byte(`{"status":"completed","results":[{"id":"t1","category":"Groceries","confidence":0.92}]}`))
	})

	st, err := c.Status(context.Background(), "k", "job-2")
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if !st.Done() || st.ID != "job-2" || len(st.Results) != 1 || st.Results[0].Category != "Groceries" {
		t.Fatalf("unexpected status: %+v", st)
	}
}

func TestErrorMapping(t *testing.T) {
	cases := []struct {
		code int
		want error
	}{
		{http.StatusUnauthorized, core.ErrUnauthorized},
		{http.StatusForbidden, core.ErrUnauthorized},
		{http.StatusNotFound, core.ErrNotFound},
		{http.StatusInternalServerError, core.ErrUpstream},
		{http.StatusBadGateway, core.ErrUpstream},
	}
	for _, tc := range cases {
		c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "nope", tc.code)
		})
		_, err := c.Classify(context.Background(), "k", []Item{{ID: "1", Description: "x"}})
		if !errors.Is(err, tc.want) {
			t.Fatalf("status %d: expected %v, got %v", tc.code, tc.want, err)
		}
	}
}

func TestTimeoutIsUpstream(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	})
	c.http.Timeout = 20 * time.Millisecond
	if _, err := c.Status(context.Background(), "k", "slow"); !errors.Is(err, core.ErrUpstream) {
		t.Fatalf("expected upstream error, got %v", err)
	}
}

func TestMissingKey(t *testing.T) {
	c, _ := New("http://classifier.invalid", 0)
	if _, err := c.Train(context.Background(), "", []Example{{Description: "a", Category: "b"}}); !errors.Is(err, core.ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
}

func TestNewRejectsBadURL(t *testing.T) {
	if _, err := New("not a url", 0); err == nil {
		t.Fatalf("expected error")
	}
}

func TestApplyResults(t *testing.T) {
	txs := []core.Transaction{
		{ID: "t1", Description: "Woolworths"},
		{ID: "t2", Description: "Coles", CategoryID: "cat-groceries"},
		{ID: "t3", Description: "Shell"},
	}
	results := []Result{
		{ID: "t1", Category: "Groceries"},
		{ID: "t2", Category: "groceries"},
		{ID: "t3", Category: "Fuel"},
		{ID: "unknown", Category: "Other"},
		{ID: "t3", Category: ""},
	}
	calls := 0
	resolve := func(_ context.Context, name string) (string, error) {
		calls++
		switch strings.ToLower(name) {
		case "groceries":
			return "cat-groceries", nil
		case "fuel":
			return "", errors.New("db down")
		}
		return "cat-" + name, nil
	}

	changed, err := ApplyResults(context.Background(), txs, results, resolve)
	if err == nil || !strings.Contains(err.Error(), "Fuel") {
		t.Fatalf("expected resolve error for Fuel, got %v", err)
	}
	if len(changed) != 1 || changed[0].ID != "t1" || changed[0].CategoryID != "cat-groceries" {
		t.Fatalf("unexpected changed transactions: %+v", changed)
	}
	if calls != 2 {
		t.Fatalf("expected category names resolved once each, got %d calls", calls)
	}
}
