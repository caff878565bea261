// Package main provides the entry point for the video note service: the HTTP
// job API and the Telegram bot, sharing one pipeline.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/maauso/videonote/internal/bootstrap"
	"github.com/maauso/videonote/internal/config"
	"github.com/maauso/videonote/internal/server"
)

const shutdownTimeout = 30 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Load configuration from .env and the environment
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// Create structured logger
	logger := cfg.NewLogger()
	slog.SetDefault(logger)

	logger.Info("starting video note service",
		slog.Bool("http_enabled", cfg.HTTPEnabled),
		slog.Bool("telegram_enabled", cfg.TelegramEnabled),
		slog.Int("port", cfg.Port),
		slog.String("log_format", cfg.LogFormat),
		slog.String("log_level", cfg.LogLevel),
		slog.String("temp_dir", cfg.TempDir),
		slog.Bool("s3_enabled", cfg.S3Enabled()),
	)
	logger.Debug("configuration", slog.String("config", cfg.String()))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	deps, err := bootstrap.NewDependencies(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initialize dependencies: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)

	if cfg.HTTPEnabled {
		handlers, serverCfg := deps.NewHandlers(gctx, cfg, logger)
		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Port),
			Handler:           server.NewRouter(handlers, logger, serverCfg),
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       30 * time.Second,
			WriteTimeout:      60 * time.Second,
			IdleTimeout:       60 * time.Second,
		}

		g.Go(func() error {
			logger.Info("HTTP server listening", slog.String("addr", srv.Addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("server failed: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()

			logger.Info("shutting down HTTP server...")
			if err := srv.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("shutdown failed: %w", err)
			}
			return handlers.Shutdown(shutdownCtx)
		})
	}

	if cfg.TelegramEnabled {
		api, bot, err := deps.NewTelegram(cfg, logger)
		if err != nil {
			stop()
			_ = g.Wait()
			return fmt.Errorf("initialize telegram: %w", err)
		}
		g.Go(func() error {
			logger.Info("telegram bot polling for updates")
			return bot.Run(gctx, api.Updates(gctx))
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}

	logger.Info("service stopped gracefully")
	return nil
}
