package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/tkendall99/bedtime-solved/internal/bootstrap"
	"github.com/tkendall99/bedtime-solved/internal/infra"
	"github.com/tkendall99/bedtime-solved/internal/worker"
)

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	deps, err := bootstrap.Open(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: startup failed")
	}
	defer deps.Close()

	processor, err := deps.Processor(ctx)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: failed to configure pipeline")
	}

	w := worker.New(worker.Options{
		Processor:    processor,
		Reclaimer:    deps.Jobs,
		Notifier:     deps.Notifier,
		PollInterval: cfg.WorkerPollInterval,
		StaleAfter:   cfg.WorkerStaleAfter,
		Concurrency:  cfg.WorkerConcurrency,
		Logger:       &logger,
	})
	if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal().Err(err).Msg("worker: stopped with error")
	}
	logger.Info().Msg("worker: stopped")
}
