package main

import (
	"context"
	"errors"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"tally/internal/aggregate"
	"tally/internal/cli"
	applog "tally/internal/log"
	"tally/internal/worker"
)

func main() {
	cli.LoadEnvFile()
	cfg, logger := cli.LoadAndValidateConfig()
	logger.Info("Starting tally-worker", "backend", cfg.DataBackend)

	if cfg.AMQPURL == "" {
		logger.Error("AMQP_URL is required for the worker")
		os.Exit(1)
	}

	res := cli.InitBackend(context.Background(), logger, cfg)
	defer func() {
		if err := res.Close(); err != nil {
			logger.Error("Failed to release backend", applog.FieldError, err)
		}
	}()
	if res.Publisher == nil {
		logger.Error("Failed to connect to AMQP broker")
		os.Exit(1)
	}

	var aggOpts []aggregate.Option
	for _, sink := range res.Sinks {
		aggOpts = append(aggOpts, aggregate.WithSink(sink))
	}
	agg := aggregate.New(res.Store, logger, aggOpts...)

	w := worker.NewRecalcWorker(agg, res.Store, res.Events, worker.Config{
		Interval: cfg.RecalcInterval,
		Lookback: cfg.RecalcLookback,
	}, logger)

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, nil)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return res.Publisher.ConsumeRecalculate(gctx, w.HandleRecalculateMessage)
	})
	g.Go(func() error {
		return w.Run(gctx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Worker stopped with error", applog.FieldError, err)
		os.Exit(1)
	}

	if ctx.Err() != nil {
		<-done
	}
	logger.Info("Worker stopped gracefully")
}
