// Package archive keeps the raw bytes of uploaded imports in Cloud Storage.
package archive

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"cloud.google.com/go/storage"
	"github.com/google/uuid"

	"tally/internal/core"
	applog "tally/internal/log"
)

const uploadTimeout = 2 * time.Minute

// Archiver stores a raw upload and returns the object name it was written to.
type Archiver interface {
	Archive(ctx context.Context, userID, filename string, body []byte) (string, error)
}

// ObjectName builds imports/<user>/<yyyy>/<mm>/<id>.csv.
func ObjectName(userID string, at time.Time, id string) string {
	return fmt.Sprintf("imports/%s/%04d/%02d/%s.csv", userID, at.Year(), int(at.Month()), id)
}

type writerFunc func(ctx context.Context, object string) io.WriteCloser

type GCS struct {
	client    *storage.Client
	bucket    string
	newWriter writerFunc
	logger    *applog.Logger
	now       func() time.Time
}

// NewGCS uses Application Default Credentials.
func NewGCS(ctx context.Context, bucket string, logger *applog.Logger) (*GCS, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}
	bkt := client.Bucket(bucket)
	g := newGCS(bucket, func(ctx context.Context, object string) io.WriteCloser {
		w := bkt.Object(object).NewWriter(ctx)
		w.ContentType = "text/csv"
		return w
	}, logger)
	g.client = client
	return g, nil
}

func newGCS(bucket string, w writerFunc, logger *applog.Logger) *GCS {
	if logger == nil {
		logger = applog.Nop()
	}
	return &GCS{
		bucket:    bucket,
		newWriter: w,
		logger:    logger.WithComponent(applog.ComponentArchive),
		now:       time.Now,
	}
}

func (g *GCS) Archive(ctx context.Context, userID, filename string, body []byte) (string, error) {
	object := ObjectName(userID, g.now().UTC(), uuid.NewString())

	ctx, cancel := context.WithTimeout(ctx, uploadTimeout)
	defer cancel()

	w := g.newWriter(ctx, object)
	if _, err := io.Copy(w, bytes.NewReader(body)); err != nil {
		_ = w.Close()
		return "", core.Upstream("gcs", fmt.Errorf("copy %s to GCS writer: %w", object, err))
	}
	// Close finalizes the upload.
	if err := w.Close(); err != nil {
		return "", core.Upstream("gcs", fmt.Errorf("finalize upload %s: %w", object, err))
	}

	g.logger.InfoContext(ctx, "Archived upload",
		applog.FieldUserID, userID,
		applog.FieldFilename, filename,
		applog.FieldObject, "gs://"+g.bucket+"/"+object)
	return object, nil
}

func (g *GCS) Close() error {
	if g.client != nil {
		return g.client.Close()
	}
	return nil
}

// Noop archives nothing.
type Noop struct{}

func (Noop) Archive(context.Context, string, string, []byte) (string, error) { return "", nil }
