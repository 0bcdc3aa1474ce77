// Command creditos-mirror copies the upstream disbursement dataset into the
// SQLite mirror on a schedule and announces every new snapshot over AMQP.
package main

import (
	"context"
	"errors"
	"os"
	"time"

	"creditos/internal/amqp"
	"creditos/internal/cli"
	"creditos/internal/dashboard"
	"creditos/internal/log"
	"creditos/internal/source/socrata"
	"creditos/internal/worker"
)

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger(log.ComponentWorker)
	cfg := cli.LoadAndValidateConfig(logger)

	logger.Info("Starting creditos-mirror",
		"interval", cfg.MirrorInterval,
		"keep", cfg.MirrorKeep,
		log.FieldOperation, log.OpStartup)

	dashCfg := dashboard.Config{}
	var err error
	if cfg.ViewsFile != "" {
		dashCfg, err = dashboard.LoadConfig(cfg.ViewsFile)
	} else {
		dashCfg, err = dashboard.DefaultConfig()
	}
	if err != nil {
		logger.Error("Failed to load dashboard layout", log.FieldError, err)
		os.Exit(1)
	}

	upstream, err := socrata.New(cfg.SocrataURL, cfg.SocrataAppToken, cfg.FetchLimit,
		socrata.WithLogger(logger.WithComponent(log.ComponentSource).Slog()))
	if err != nil {
		logger.Error("Failed to initialize Socrata client", log.FieldError, err)
		os.Exit(1)
	}

	repo := cli.InitSQLite(logger, cfg.SQLiteDBPath)

	opts := worker.Options{
		Required: dashCfg.Columns(),
		Keep:     cfg.MirrorKeep,
		Timeout:  cfg.FetchTimeout,
		Logger:   logger,
	}
	var notices *amqp.Client
	if cfg.AMQPURL != "" {
		notices, err = amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue, logger.WithComponent(log.ComponentAMQP).Slog())
		if err != nil {
			logger.Error("Failed to initialize AMQP client", log.FieldError, err)
			os.Exit(1)
		}
		opts.Publisher = notices
	} else {
		logger.Info("AMQP disabled - snapshots will not be announced")
	}

	mirror := worker.NewMirrorWorker(upstream, repo, opts)

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, func() {
		if notices != nil {
			_ = notices.Close()
		}
		if err := repo.Close(); err != nil {
			logger.Error("Failed to close SQLite repository", log.FieldError, err)
		}
	})

	if err := mirror.Run(ctx, cfg.MirrorInterval); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Mirror worker stopped", log.FieldError, err)
		os.Exit(1)
	}

	cli.WaitForShutdown(ctx, done)
	logger.Info("Mirror stopped gracefully")
}
