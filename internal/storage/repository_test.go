package storage_test

import (
	"os"
	"path/filepath"
	"testing"

	"tally/internal/storage"
	"tally/internal/storage/storetest"
)

func TestSQLiteRepository(t *testing.T) {
	storetest.Run(t, func(t *testing.T) storage.Store {
		repo, err := storage.NewSQLiteRepository(filepath.Join(t.TempDir(), "tally.db"), nil)
		if err != nil {
			t.Fatalf("NewSQLiteRepository: %v", err)
		}
		t.Cleanup(func() { repo.Close() })
		return repo
	})
}

func TestPostgresRepository(t *testing.T) {
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	storetest.Run(t, func(t *testing.T) storage.Store {
		repo, err := storage.NewPostgresRepository(dsn, nil)
		if err != nil {
			t.Fatalf("NewPostgresRepository: %v", err)
		}
		t.Cleanup(func() { repo.Close() })
		return repo
	})
}
