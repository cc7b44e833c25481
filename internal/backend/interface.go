// Package backend builds the storage and integration adapters selected by
// configuration.
package backend

import (
	"context"
	"errors"
	"time"

	"tally/internal/aggregate"
	"tally/internal/amqp"
	"tally/internal/archive"
	"tally/internal/csvimport"
	"tally/internal/events"
	"tally/internal/services"
	"tally/internal/sheets"
	gsheet "tally/internal/sheets/google"
	"tally/internal/storage"
)

// BackendType selects the transaction store.
type BackendType string

const (
	MemoryBackend   BackendType = "memory"
	SQLiteBackend   BackendType = "sqlite"
	PostgresBackend BackendType = "postgres"
)

func (t BackendType) IsValid() bool {
	switch t {
	case MemoryBackend, SQLiteBackend, PostgresBackend:
		return true
	}
	return false
}

func (t BackendType) String() string { return string(t) }

// CleanupFunc releases a resource.
type CleanupFunc func() error

// Result holds everything the binaries wire into the services. Optional
// adapters are nil (or a no-op) when not configured.
type Result struct {
	Store      storage.Store
	Sheets     sheets.Reader
	Publisher  *amqp.Client
	Events     events.Publisher
	Archiver   archive.Archiver
	Sinks      []aggregate.Sink
	Classifier services.Classifier
	Mapper     csvimport.Mapper

	cleanups []CleanupFunc
}

// Close runs the cleanups in reverse order of creation.
func (r *Result) Close() error {
	var errs []error
	for i := len(r.cleanups) - 1; i >= 0; i-- {
		if err := r.cleanups[i](); err != nil {
			errs = append(errs, err)
		}
	}
	r.cleanups = nil
	return errors.Join(errs...)
}

func (r *Result) onClose(f CleanupFunc) {
	r.cleanups = append(r.cleanups, f)
}

// Factory creates backends based on configuration
type Factory interface {
	CreateBackend(ctx context.Context, config Config) (*Result, error)
}

// Config holds configuration for backend creation
type Config struct {
	Type BackendType

	SQLiteDBPath string
	DatabaseURL  string

	// Sheets is used when SpreadsheetID is set; otherwise SheetsFixtureDir,
	// when set, loads CSV fixtures into memory.
	Sheets           gsheet.Config
	SheetsFixtureDir string

	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string

	KafkaBrokers []string
	KafkaTopic   string

	GCSBucket string

	BigQueryProject string
	BigQueryDataset string
	BigQueryTable   string

	ClassifierURL     string
	ClassifierTimeout time.Duration

	GeminiAPIKey string
	GeminiModel  string
}
