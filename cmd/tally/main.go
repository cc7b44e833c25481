package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"tally/internal/aggregate"
	"tally/internal/cache"
	"tally/internal/cli"
	apphttp "tally/internal/http"
	applog "tally/internal/log"
	"tally/internal/portfolio"
	"tally/internal/services"
)

func main() {
	cli.LoadEnvFile()
	cfg, logger := cli.LoadAndValidateConfig()
	logger.Info("Starting tally server", "port", cfg.Port, "backend", cfg.DataBackend)

	res := cli.InitBackend(context.Background(), logger, cfg)
	defer func() {
		if err := res.Close(); err != nil {
			logger.Error("Failed to release backend", applog.FieldError, err)
		}
	}()

	var aggOpts []aggregate.Option
	for _, sink := range res.Sinks {
		aggOpts = append(aggOpts, aggregate.WithSink(sink))
	}
	agg := aggregate.New(res.Store, logger, aggOpts...)

	importOpts := []services.ImportOption{
		services.WithArchiver(res.Archiver),
		services.WithEvents(res.Events),
		services.WithMapper(res.Mapper),
		services.WithMaxUploadBytes(cfg.MaxUploadBytes),
	}
	if res.Publisher != nil {
		importOpts = append(importOpts, services.WithRecalcPublisher(res.Publisher))
	}

	svc := apphttp.Services{
		Store:        res.Store,
		Recalc:       agg,
		Transactions: services.NewTransactionService(res.Store, agg, logger),
	}

	caches := cache.NewManager(logger)
	if res.Sheets != nil {
		importOpts = append(importOpts, services.WithSheets(res.Sheets))
		summaries := cache.NewLRUCache[portfolio.Summary](1, cfg.PortfolioCacheTTL)
		caches.Register(summaries)
		svc.Portfolio = services.NewPortfolioService(res.Sheets, res.Store, summaries, logger)
	} else {
		logger.Info("Portfolio endpoints disabled - no GOOGLE_SPREADSHEET_ID or SHEETS_FIXTURE_DIR")
	}
	if res.Classifier != nil {
		svc.Classification = services.NewClassificationService(res.Store, res.Classifier, agg, logger)
	} else {
		logger.Info("Classification endpoints disabled - no CLASSIFIER_URL")
	}
	svc.Imports = services.NewImportService(res.Store, agg, logger, importOpts...)

	srv := apphttp.NewServer(":"+cfg.Port, svc, apphttp.Options{
		RequestsPerMinute: cfg.RateLimitPerMinute,
		MaxUploadBytes:    cfg.MaxUploadBytes,
		RunwayMonths:      cfg.RunwayMonths,
		TrustedProxies:    cfg.TrustedProxies,
	}, logger)

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, func(ctx context.Context) {
		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("Server shutdown error", applog.FieldError, err)
		}
		caches.Stop()
	})
	caches.StartCleanup(ctx, time.Minute)

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Server error", applog.FieldError, err, "port", cfg.Port)
		os.Exit(1)
	}

	<-done
	logger.Info("Server stopped gracefully")
}
