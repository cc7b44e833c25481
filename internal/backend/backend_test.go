package backend

import (
	"context"
	"path/filepath"
	"testing"

	"tally/internal/archive"
	"tally/internal/config"
	"tally/internal/csvimport"
	"tally/internal/events"
)

func TestCreateBackend_Memory(t *testing.T) {
	res, err := NewFactory(nil).CreateBackend(context.Background(), Config{Type: MemoryBackend})
	if err != nil {
		t.Fatalf("CreateBackend() error = %v", err)
	}
	defer res.Close()

	if res.Store == nil {
		t.Fatal("Store is nil")
	}
	if err := res.Store.Ping(context.Background()); err != nil {
		t.Errorf("Ping() error = %v", err)
	}
	if res.Sheets != nil || res.Publisher != nil || res.Classifier != nil || len(res.Sinks) != 0 {
		t.Errorf("unconfigured integrations were created: %+v", res)
	}
	if _, ok := res.Events.(events.Noop); !ok {
		t.Errorf("Events = %T, want events.Noop", res.Events)
	}
	if _, ok := res.Archiver.(archive.Noop); !ok {
		t.Errorf("Archiver = %T, want archive.Noop", res.Archiver)
	}
	if _, ok := res.Mapper.(csvimport.HeuristicMapper); !ok {
		t.Errorf("Mapper = %T, want HeuristicMapper", res.Mapper)
	}
}

func TestCreateBackend_SQLiteWithFixtures(t *testing.T) {
	dir := t.TempDir()
	res, err := NewFactory(nil).CreateBackend(context.Background(), Config{
		Type:             SQLiteBackend,
		SQLiteDBPath:     filepath.Join(dir, "db", "tally.db"),
		SheetsFixtureDir: dir,
		ClassifierURL:    "http://localhost:9000",
	})
	if err != nil {
		t.Fatalf("CreateBackend() error = %v", err)
	}
	if err := res.Store.Ping(context.Background()); err != nil {
		t.Errorf("Ping() error = %v", err)
	}
	if res.Sheets == nil {
		t.Error("fixture sheets not loaded")
	}
	if res.Classifier == nil {
		t.Error("classifier not created")
	}
	if err := res.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if err := res.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr bool
	}{
		{"memory", Config{Type: MemoryBackend}, false},
		{"unknown type", Config{Type: "sheets"}, true},
		{"sqlite without path", Config{Type: SQLiteBackend}, true},
		{"postgres without url", Config{Type: PostgresBackend}, true},
		{"postgres", Config{Type: PostgresBackend, DatabaseURL: "postgres://localhost/tally"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.config.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestFromAppConfig(t *testing.T) {
	if _, err := FromAppConfig(nil); err == nil {
		t.Error("expected error for nil config")
	}

	app := &config.Config{
		DataBackend:         "postgres",
		DatabaseURL:         "postgres://localhost/tally",
		GoogleSpreadsheetID: "sheet-1",
		GoogleSavingsSheet:  "Savings",
		KafkaBrokers:        []string{"k:9092"},
		KafkaTopic:          "tally.events",
	}
	got, err := FromAppConfig(app)
	if err != nil {
		t.Fatalf("FromAppConfig() error = %v", err)
	}
	if got.Type != PostgresBackend || got.Sheets.SpreadsheetID != "sheet-1" || got.KafkaTopic != "tally.events" {
		t.Errorf("FromAppConfig() = %+v", got)
	}

	app.DataBackend = "sheets"
	if _, err := FromAppConfig(app); err == nil {
		t.Error("expected error for unknown backend")
	}
}
