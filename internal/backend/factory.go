package backend

import (
	"context"
	"fmt"

	"tally/internal/amqp"
	"tally/internal/archive"
	"tally/internal/classifier"
	"tally/internal/csvimport"
	"tally/internal/events"
	"tally/internal/events/kafka"
	applog "tally/internal/log"
	gsheet "tally/internal/sheets/google"
	sheetsmem "tally/internal/sheets/memory"
	"tally/internal/storage"
	"tally/internal/storage/memory"
	"tally/internal/warehouse"
)

// DefaultFactory implements the Factory interface
type DefaultFactory struct {
	logger *applog.Logger
}

func NewFactory(logger *applog.Logger) Factory {
	if logger == nil {
		logger = applog.Nop()
	}
	return &DefaultFactory{logger: logger.WithComponent(applog.ComponentBackend)}
}

// CreateBackend opens the store, then every configured integration. The
// store and Sheets are required to succeed; a broker that cannot be reached
// is logged and skipped so the API still serves with inline recalculation.
func (f *DefaultFactory) CreateBackend(ctx context.Context, config Config) (*Result, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	res := &Result{
		Events:   events.Noop{},
		Archiver: archive.Noop{},
		Mapper:   csvimport.HeuristicMapper{},
	}

	store, err := f.createStore(config)
	if err != nil {
		return nil, err
	}
	res.Store = store
	res.onClose(store.Close)

	if err := f.createSheets(ctx, config, res); err != nil {
		_ = res.Close()
		return nil, err
	}
	if err := f.createIntegrations(ctx, config, res); err != nil {
		_ = res.Close()
		return nil, err
	}
	return res, nil
}

func (f *DefaultFactory) createStore(config Config) (storage.Store, error) {
	switch config.Type {
	case SQLiteBackend:
		repo, err := storage.NewSQLiteRepository(config.SQLiteDBPath, f.logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize SQLite repository: %w", err)
		}
		f.logger.Info("Initialized SQLite backend", "db_path", config.SQLiteDBPath)
		return repo, nil
	case PostgresBackend:
		repo, err := storage.NewPostgresRepository(config.DatabaseURL, f.logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize Postgres repository: %w", err)
		}
		f.logger.Info("Initialized Postgres backend")
		return repo, nil
	default:
		f.logger.Info("Initialized memory backend")
		return memory.New(), nil
	}
}

func (f *DefaultFactory) createSheets(ctx context.Context, config Config, res *Result) error {
	switch {
	case config.Sheets.SpreadsheetID != "":
		cli, err := gsheet.New(ctx, config.Sheets, f.logger)
		if err != nil {
			return fmt.Errorf("failed to initialize Google Sheets client: %w", err)
		}
		res.Sheets = cli
		f.logger.Info("Initialized Google Sheets source")
	case config.SheetsFixtureDir != "":
		store, err := sheetsmem.NewFromFiles(config.SheetsFixtureDir)
		if err != nil {
			return fmt.Errorf("failed to load sheets fixtures: %w", err)
		}
		res.Sheets = store
		f.logger.Info("Loaded sheets fixtures", "data_directory", config.SheetsFixtureDir)
	}
	return nil
}

func (f *DefaultFactory) createIntegrations(ctx context.Context, config Config, res *Result) error {
	if config.AMQPURL != "" {
		client, err := amqp.NewClient(config.AMQPURL, config.AMQPExchange, config.AMQPQueue, f.logger)
		if err != nil {
			f.logger.Warn("Failed to initialize AMQP client, recalculating inline", applog.FieldError, err)
		} else {
			res.Publisher = client
			res.onClose(client.Close)
			f.logger.Info("Initialized AMQP client", "exchange", config.AMQPExchange, "queue", config.AMQPQueue)
		}
	}

	if len(config.KafkaBrokers) > 0 {
		pub := kafka.NewPublisher(config.KafkaBrokers, config.KafkaTopic, f.logger)
		res.Events = pub
		res.onClose(pub.Close)
		f.logger.Info("Initialized Kafka event publisher", "topic", config.KafkaTopic)
	}

	if config.GCSBucket != "" {
		gcs, err := archive.NewGCS(ctx, config.GCSBucket, f.logger)
		if err != nil {
			return fmt.Errorf("failed to initialize GCS archive: %w", err)
		}
		res.Archiver = gcs
		res.onClose(gcs.Close)
		f.logger.Info("Initialized GCS archive", "bucket", config.GCSBucket)
	}

	if config.BigQueryProject != "" {
		sink, err := warehouse.NewSink(ctx, config.BigQueryProject, config.BigQueryDataset, config.BigQueryTable, f.logger)
		if err != nil {
			return fmt.Errorf("failed to initialize BigQuery sink: %w", err)
		}
		res.Sinks = append(res.Sinks, sink)
		res.onClose(sink.Close)
		f.logger.Info("Initialized BigQuery sink", "dataset", config.BigQueryDataset)
	}

	if config.ClassifierURL != "" {
		c, err := classifier.New(config.ClassifierURL, config.ClassifierTimeout)
		if err != nil {
			return fmt.Errorf("failed to initialize classifier client: %w", err)
		}
		res.Classifier = c
	}

	if config.GeminiAPIKey != "" {
		gen, err := csvimport.NewGenaiGenerator(ctx, config.GeminiAPIKey, config.GeminiModel)
		if err != nil {
			return fmt.Errorf("failed to initialize Gemini client: %w", err)
		}
		res.Mapper = csvimport.ChainMapper{csvimport.HeuristicMapper{}, csvimport.NewGeminiMapper(gen)}
		f.logger.Info("Enabled Gemini column mapping", "model", config.GeminiModel)
	}
	return nil
}
