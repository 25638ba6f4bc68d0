// Package main is the entry point for the dinescout search server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/blueberrycongee/dinescout/internal/config"
	"github.com/blueberrycongee/dinescout/internal/observability"
)

func main() {
	configPath := flag.String("config", "", "path to configuration file (optional)")
	envFile := flag.String("env-file", ".env", "dotenv file loaded before the configuration")
	flag.Parse()

	if err := config.LoadDotEnv(*envFile); err != nil {
		fmt.Fprintln(os.Stderr, "load env file:", err)
		os.Exit(1)
	}

	// The level is shared with the handler so reloads change it in place.
	level := new(slog.LevelVar)
	bootstrap := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))

	cfgManager, err := config.NewManager(*configPath, bootstrap)
	if err != nil {
		bootstrap.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	cfg := cfgManager.Get()

	logger := observability.NewLogger(observability.LoggerConfig{
		Level:      level,
		Output:     os.Stdout,
		JSONFormat: cfg.Logging.Format != "text",
	}, observability.NewRedactor()).Slog()
	slog.SetDefault(logger)
	setLevel(level, cfg.Logging.Level, logger)

	logger.Info("starting dinescout", "job_store", cfg.JobStore.Driver, "places", cfg.Places.Provider, "redis", cfg.Redis.Enabled)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tracer, err := observability.InitTracing(ctx, cfg.Tracing)
	if err != nil {
		logger.Warn("tracing disabled", "error", err)
	} else if cfg.Tracing.Enabled {
		logger.Info("tracing enabled", "endpoint", cfg.Tracing.Endpoint, "sample_rate", cfg.Tracing.SampleRate)
	}

	application, err := buildApp(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to initialize", "error", err)
		os.Exit(1)
	}

	cfgManager.OnChange(func(next *config.Config) {
		setLevel(level, next.Logging.Level, logger)
		application.applyConfig(next)
	})
	if err := cfgManager.Watch(ctx); err != nil {
		logger.Warn("config hot-reload disabled", "error", err)
	}

	mux, err := buildMux(cfg, application.handler)
	if err != nil {
		logger.Error("failed to build routes", "error", err)
		os.Exit(1)
	}
	middleware, err := buildMiddlewareStack(cfg)
	if err != nil {
		logger.Error("failed to build middleware", "error", err)
		os.Exit(1)
	}

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      middleware(mux),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		logger.Info("server listening", "port", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}
	if err := application.shutdown(shutdownCtx); err != nil {
		logger.Error("search runner shutdown error", "error", err)
	}

	if tracer != nil {
		if err := tracer.Shutdown(shutdownCtx); err != nil {
			logger.Error("tracer shutdown error", "error", err)
		}
	}

	cancel()
	_ = cfgManager.Close()
	logger.Info("server stopped")
}

func setLevel(level *slog.LevelVar, name string, logger *slog.Logger) {
	parsed, err := observability.ParseLevel(name)
	if err != nil {
		logger.Warn("invalid log level, using info", "level", name)
	}
	level.Set(parsed)
}
