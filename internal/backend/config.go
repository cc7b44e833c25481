package backend

import (
	"fmt"

	"tally/internal/config"
	gsheet "tally/internal/sheets/google"
)

// FromAppConfig converts the application config to backend config
func FromAppConfig(appConfig *config.Config) (Config, error) {
	if appConfig == nil {
		return Config{}, fmt.Errorf("app config is nil")
	}

	backendType := BackendType(appConfig.DataBackend)
	if !backendType.IsValid() {
		return Config{}, fmt.Errorf("invalid backend type in config: %s", appConfig.DataBackend)
	}

	return Config{
		Type:         backendType,
		SQLiteDBPath: appConfig.SQLiteDBPath,
		DatabaseURL:  appConfig.DatabaseURL,

		Sheets: gsheet.Config{
			SpreadsheetID:   appConfig.GoogleSpreadsheetID,
			SavingsSheet:    appConfig.GoogleSavingsSheet,
			ExpenseSheet:    appConfig.GoogleExpenseSheet,
			CredentialsJSON: appConfig.GoogleCredentialsJSON,
			CredentialsFile: appConfig.GoogleCredentialsFile,
		},
		SheetsFixtureDir: appConfig.SheetsFixtureDir,

		AMQPURL:      appConfig.AMQPURL,
		AMQPExchange: appConfig.AMQPExchange,
		AMQPQueue:    appConfig.AMQPQueue,

		KafkaBrokers: appConfig.KafkaBrokers,
		KafkaTopic:   appConfig.KafkaTopic,

		GCSBucket: appConfig.GCSBucket,

		BigQueryProject: appConfig.BigQueryProject,
		BigQueryDataset: appConfig.BigQueryDataset,
		BigQueryTable:   appConfig.BigQueryTable,

		ClassifierURL:     appConfig.ClassifierURL,
		ClassifierTimeout: appConfig.ClassifierTimeout,

		GeminiAPIKey: appConfig.GeminiAPIKey,
		GeminiModel:  appConfig.GeminiModel,
	}, nil
}

// Validate validates the backend configuration
func (c Config) Validate() error {
	if !c.Type.IsValid() {
		return fmt.Errorf("invalid backend type: %s", c.Type)
	}

	switch c.Type {
	case SQLiteBackend:
		if c.SQLiteDBPath == "" {
			return fmt.Errorf("SQLite database path is required for sqlite backend")
		}
	case PostgresBackend:
		if c.DatabaseURL == "" {
			return fmt.Errorf("database URL is required for postgres backend")
		}
	}
	if c.Sheets.SpreadsheetID != "" && c.SheetsFixtureDir != "" {
		return fmt.Errorf("spreadsheet ID and sheets fixture directory are mutually exclusive")
	}
	return nil
}

// GetBackendTypeStrings returns all valid backend type strings
func GetBackendTypeStrings() []string {
	return []string{MemoryBackend.String(), SQLiteBackend.String(), PostgresBackend.String()}
}
