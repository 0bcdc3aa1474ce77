package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"creditos/internal/amqp"
	"creditos/internal/backend"
	"creditos/internal/cli"
	"creditos/internal/config"
	"creditos/internal/dashboard"
	apphttp "creditos/internal/http"
	"creditos/internal/log"
)

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger(log.ComponentApp)
	cfg := cli.LoadAndValidateConfig(logger)

	dashCfg, err := loadDashboard(cfg)
	if err != nil {
		logger.Error("Failed to load dashboard layout", log.FieldError, err, "path", cfg.ViewsFile)
		os.Exit(1)
	}

	bcfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		logger.Error("Invalid backend configuration", log.FieldError, err)
		os.Exit(1)
	}
	factory := backend.NewFactory(logger.WithComponent(log.ComponentBackend).Slog())
	src, err := factory.CreateBackend(context.Background(), bcfg)
	if err != nil {
		logger.Error("Failed to initialize data source", log.FieldError, err, log.FieldSource, cfg.DataSource)
		os.Exit(1)
	}

	loader := dashboard.NewLoader(src.Fetcher, dashCfg, dashboard.LoaderOptions{
		TTL:     cfg.DatasetTTL,
		Timeout: cfg.FetchTimeout,
		Logger:  logger,
	})

	opts := apphttp.Options{Logger: logger, TrustedProxies: cfg.TrustedProxies}
	if p, ok := src.Fetcher.(interface{ Ping(context.Context) error }); ok {
		opts.ReadyChecks = map[string]func(context.Context) error{"mirror_db": p.Ping}
	}
	srv, err := apphttp.NewServer(":"+cfg.Port, dashCfg, loader, opts)
	if err != nil {
		logger.Error("Failed to create HTTP server", log.FieldError, err)
		os.Exit(1)
	}
	srv.ReadTimeout = 15 * time.Second
	// Leaves room for a cold upstream fetch.
	srv.WriteTimeout = cfg.FetchTimeout + 30*time.Second
	srv.MaxHeaderBytes = 1 << 16 // 64KB

	var notices *amqp.Client
	if cfg.AMQPURL != "" {
		notices, err = amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue, logger.WithComponent(log.ComponentAMQP).Slog())
		if err != nil {
			logger.Error("Failed to initialize AMQP client", log.FieldError, err)
			os.Exit(1)
		}
	}

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 25*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Server shutdown error", log.FieldError, err)
		}
		if notices != nil {
			_ = notices.Close()
		}
		if err := src.Close(); err != nil {
			logger.Error("Data source close error", log.FieldError, err)
		}
	})

	// Warm the snapshot so the first visitor does not wait for the upstream.
	go func() {
		if _, err := loader.Snapshot(ctx); err != nil && ctx.Err() == nil {
			logger.Warn("Initial dataset load failed; retrying on first request", log.FieldError, err)
		}
	}()

	if notices != nil {
		go func() {
			err := notices.Listen(ctx, func(ctx context.Context, msg *amqp.DatasetRefreshedMessage) error {
				logger.InfoContext(ctx, "Mirror published a new snapshot",
					log.FieldSnapshotID, msg.SnapshotID,
					log.FieldSource, msg.Source,
					log.FieldRows, msg.Rows)
				srv.InvalidateSnapshot()
				return nil
			})
			if err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("Dataset notice consumer stopped", log.FieldError, err)
			}
		}()
	}

	logger.Info("Starting creditos server",
		"port", cfg.Port,
		log.FieldSource, cfg.DataSource,
		log.FieldOperation, log.OpStartup)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Server error", log.FieldError, err, "port", cfg.Port)
		os.Exit(1)
	}

	cli.WaitForShutdown(ctx, done)
	logger.Info("Server stopped gracefully")
}

func loadDashboard(cfg *config.Config) (dashboard.Config, error) {
	if cfg.ViewsFile != "" {
		return dashboard.LoadConfig(cfg.ViewsFile)
	}
	return dashboard.DefaultConfig()
}
