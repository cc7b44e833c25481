//go:build integration

package google

import (
	"context"
	"os"
	"testing"
	"time"
)

// Integration tests require real Google Sheets credentials
// Run with: go test -tags=integration ./internal/sheets/google

func TestIntegrationReadSavings(t *testing.T) {
	spreadsheetID := os.Getenv("GOOGLE_SPREADSHEET_ID")
	if spreadsheetID == "" {
		t.Skip("GOOGLE_SPREADSHEET_ID not set, skipping integration test")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	client, err := New(ctx, Config{
		SpreadsheetID:   spreadsheetID,
		CredentialsJSON: os.Getenv("GOOGLE_SERVICE_ACCOUNT_JSON"),
		CredentialsFile: os.Getenv("GOOGLE_SERVICE_ACCOUNT_FILE"),
	}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	rows, err := client.ReadSavings(ctx)
	if err != nil {
		t.Fatalf("ReadSavings: %v", err)
	}
	t.Logf("read %d savings rows", len(rows))
}
