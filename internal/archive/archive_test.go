package archive

import (
	"bytes"
	"context"
	"errors"
	"io"
	"regexp"
	"testing"
	"time"

	"tally/internal/core"
)

type memWriter struct {
	buf      bytes.Buffer
	closeErr error
	closed   bool
}

func (m *memWriter) Write(p []byte) (int, error) { return m.buf.Write(p) }
func (m *memWriter) Close() error {
	m.closed = true
	return m.closeErr
}

func TestObjectName(t *testing.T) {
	got := ObjectName("u1", time.Date(2024, 3, 9, 0, 0, 0, 0, time.UTC), "abc")
	if got != "imports/u1/2024/03/abc.csv" {
		t.Errorf("ObjectName() = %q", got)
	}
}

func TestGCS_Archive(t *testing.T) {
	w := &memWriter{}
	var gotObject string
	g := newGCS("bucket", func(_ context.Context, object string) io.WriteCloser {
		gotObject = object
		return w
	}, nil)
	g.now = func() time.Time { return time.Date(2024, 1, 5, 10, 0, 0, 0, time.UTC) }

	body := []byte("Date,Description,Amount\n")
	object, err := g.Archive(context.Background(), "u1", "bank.csv", body)
	if err != nil {
		t.Fatalf("Archive() error = %v", err)
	}
	if object != gotObject {
		t.Errorf("returned %q, wrote %q", object, gotObject)
	}
	if !regexp.MustCompile(`^imports/u1/2024/01/[0-9a-f-]{36}\.csv$`).MatchString(object) {
		t.Errorf("object = %q", object)
	}
	if !w.closed || w.buf.String() != string(body) {
		t.Errorf("closed = %v, body = %q", w.closed, w.buf.String())
	}
}

func TestGCS_ArchiveFinalizeError(t *testing.T) {
	g := newGCS("bucket", func(context.Context, string) io.WriteCloser {
		return &memWriter{closeErr: errors.New("403 forbidden")}
	}, nil)

	_, err := g.Archive(context.Background(), "u1", "bank.csv", []byte("x"))
	if !errors.Is(err, core.ErrUpstream) {
		t.Errorf("Archive() error = %v, want upstream", err)
	}
}
