package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Storage backends.
const (
	BackendMemory   = "memory"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
)

type Config struct {
	// HTTP Server
	Port               string
	RateLimitPerMinute int
	MaxUploadBytes     int64
	TrustedProxies     []string

	// Database
	DataBackend  string
	SQLiteDBPath string
	DatabaseURL  string

	// AMQP; empty URL means imports recalculate inline
	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string

	// Kafka domain events; no brokers means events are dropped
	KafkaBrokers []string
	KafkaTopic   string

	// Google Sheets
	GoogleSpreadsheetID   string
	GoogleSavingsSheet    string
	GoogleExpenseSheet    string
	GoogleCredentialsFile string
	GoogleCredentialsJSON string
	// SheetsFixtureDir points at savings.csv / expenses.csv used instead of
	// the Sheets API for local development.
	SheetsFixtureDir  string
	PortfolioCacheTTL time.Duration

	// Classification service
	ClassifierURL     string
	ClassifierTimeout time.Duration

	// Gemini column mapping for unrecognised CSV headers
	GeminiAPIKey string
	GeminiModel  string

	// Archive and warehouse
	GCSBucket       string
	BigQueryProject string
	BigQueryDataset string
	BigQueryTable   string

	// Worker
	RecalcInterval time.Duration
	RecalcLookback int

	RunwayMonths int

	LogLevel  string
	LogFormat string
}

func Load() *Config {
	return &Config{
		Port:               getEnv("PORT", "8080"),
		RateLimitPerMinute: getEnvInt("RATE_LIMIT_PER_MINUTE", 120),
		MaxUploadBytes:     int64(getEnvInt("MAX_UPLOAD_BYTES", 5<<20)),
		TrustedProxies:     getEnvList("TRUSTED_PROXIES"),

		DataBackend:  getEnv("DATA_BACKEND", BackendMemory),
		SQLiteDBPath: getEnv("SQLITE_DB_PATH", "./data/tally.db"),
		DatabaseURL:  getEnv("DATABASE_URL", ""),

		AMQPURL:      getEnv("AMQP_URL", ""),
		AMQPExchange: getEnv("AMQP_EXCHANGE", "tally"),
		AMQPQueue:    getEnv("AMQP_QUEUE", "recalculate_aggregates"),

		KafkaBrokers: getEnvList("KAFKA_BROKERS"),
		KafkaTopic:   getEnv("KAFKA_TOPIC", "tally.events"),

		GoogleSpreadsheetID:   getEnv("GOOGLE_SPREADSHEET_ID", ""),
		GoogleSavingsSheet:    getEnv("GOOGLE_SAVINGS_SHEET", "Savings"),
		GoogleExpenseSheet:    getEnv("GOOGLE_EXPENSE_SHEET", "Expense-Detail"),
		GoogleCredentialsFile: getEnv("GOOGLE_CREDENTIALS_FILE", ""),
		GoogleCredentialsJSON: getEnv("GOOGLE_CREDENTIALS_JSON", ""),
		SheetsFixtureDir:      getEnv("SHEETS_FIXTURE_DIR", ""),
		PortfolioCacheTTL:     getEnvDuration("PORTFOLIO_CACHE_TTL", 5*time.Minute),

		ClassifierURL:     getEnv("CLASSIFIER_URL", ""),
		ClassifierTimeout: getEnvDuration("CLASSIFIER_TIMEOUT", 30*time.Second),

		GeminiAPIKey: getEnv("GEMINI_API_KEY", ""),
		GeminiModel:  getEnv("GEMINI_MODEL", "gemini-2.5-flash"),

		GCSBucket:       getEnv("GCS_BUCKET", ""),
		BigQueryProject: getEnv("BIGQUERY_PROJECT", ""),
		BigQueryDataset: getEnv("BIGQUERY_DATASET", ""),
		BigQueryTable:   getEnv("BIGQUERY_TABLE", "monthly_aggregates"),

		RecalcInterval: getEnvDuration("RECALC_INTERVAL", 15*time.Minute),
		RecalcLookback: getEnvInt("RECALC_LOOKBACK_MONTHS", 1),

		RunwayMonths: getEnvInt("RUNWAY_MONTHS", 3),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "text"),
	}
}

// Validate validates the configuration and returns every problem at once.
func (c *Config) Validate() error {
	var errors []string

	if port, err := strconv.Atoi(c.Port); err != nil {
		errors = append(errors, fmt.Sprintf("invalid port '%s': must be a number", c.Port))
	} else if port < 1 || port > 65535 {
		errors = append(errors, fmt.Sprintf("invalid port %d: must be between 1 and 65535", port))
	}

	switch c.DataBackend {
	case BackendMemory:
	case BackendSQLite:
		if c.SQLiteDBPath == "" {
			errors = append(errors, "SQLite database path cannot be empty when using sqlite backend")
		} else if dir := filepath.Dir(c.SQLiteDBPath); dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0755); err != nil {
				errors = append(errors, fmt.Sprintf("cannot create SQLite database directory '%s': %v", dir, err))
			}
		}
	case BackendPostgres:
		if c.DatabaseURL == "" {
			errors = append(errors, "DATABASE_URL is required when using postgres backend")
		}
	default:
		errors = append(errors, fmt.Sprintf("invalid data backend '%s': must be one of %v",
			c.DataBackend, []string{BackendMemory, BackendSQLite, BackendPostgres}))
	}

	if c.AMQPURL != "" {
		if parsedURL, err := url.Parse(c.AMQPURL); err != nil {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL '%s': %v", c.AMQPURL, err))
		} else if parsedURL.Scheme != "amqp" && parsedURL.Scheme != "amqps" {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL scheme '%s': must be 'amqp' or 'amqps'", parsedURL.Scheme))
		}
		if c.AMQPExchange == "" {
			errors = append(errors, "AMQP exchange name cannot be empty when AMQP URL is provided")
		}
		if c.AMQPQueue == "" {
			errors = append(errors, "AMQP queue name cannot be empty when AMQP URL is provided")
		}
	}

	if len(c.KafkaBrokers) > 0 && c.KafkaTopic == "" {
		errors = append(errors, "KAFKA_TOPIC cannot be empty when KAFKA_BROKERS is set")
	}

	if c.GoogleCredentialsFile != "" {
		if _, err := os.Stat(c.GoogleCredentialsFile); os.IsNotExist(err) {
			errors = append(errors, fmt.Sprintf("Google credentials file does not exist: %s", c.GoogleCredentialsFile))
		}
	}
	if c.SheetsFixtureDir != "" && c.GoogleSpreadsheetID != "" {
		errors = append(errors, "set either SHEETS_FIXTURE_DIR or GOOGLE_SPREADSHEET_ID, not both")
	}

	if c.ClassifierURL != "" {
		if u, err := url.Parse(c.ClassifierURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errors = append(errors, fmt.Sprintf("invalid CLASSIFIER_URL '%s': must be an http(s) URL", c.ClassifierURL))
		}
	}
	if c.ClassifierTimeout <= 0 {
		errors = append(errors, fmt.Sprintf("invalid classifier timeout %v: must be positive", c.ClassifierTimeout))
	}

	if (c.BigQueryProject == "") != (c.BigQueryDataset == "") {
		errors = append(errors, "BIGQUERY_PROJECT and BIGQUERY_DATASET must be set together")
	}

	if c.RateLimitPerMinute < 1 {
		errors = append(errors, fmt.Sprintf("invalid rate limit %d: must be at least 1", c.RateLimitPerMinute))
	}
	if c.MaxUploadBytes < 1 {
		errors = append(errors, fmt.Sprintf("invalid max upload size %d: must be positive", c.MaxUploadBytes))
	}

	if c.RecalcInterval < time.Minute {
		errors = append(errors, fmt.Sprintf("invalid recalc interval %v: must be at least 1 minute", c.RecalcInterval))
	} else if c.RecalcInterval > 24*time.Hour {
		errors = append(errors, fmt.Sprintf("invalid recalc interval %v: must be at most 24 hours", c.RecalcInterval))
	}
	if c.RecalcLookback < 0 || c.RecalcLookback > 12 {
		errors = append(errors, fmt.Sprintf("invalid recalc lookback %d: must be between 0 and 12", c.RecalcLookback))
	}

	if c.RunwayMonths < 1 || c.RunwayMonths > 24 {
		errors = append(errors, fmt.Sprintf("invalid runway months %d: must be between 1 and 24", c.RunwayMonths))
	}

	if f := strings.ToLower(c.LogFormat); f != "text" && f != "json" {
		errors = append(errors, fmt.Sprintf("invalid log format '%s': must be 'text' or 'json'", c.LogFormat))
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errors, "\n- "))
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

// getEnvList splits a comma-separated value, dropping empty items.
func getEnvList(key string) []string {
	var out []string
	for _, v := range strings.Split(os.Getenv(key), ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
