package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/blueberrycongee/dinescout/caches/redis"
	"github.com/blueberrycongee/dinescout/internal/api"
	"github.com/blueberrycongee/dinescout/internal/assistant"
	"github.com/blueberrycongee/dinescout/internal/cache"
	"github.com/blueberrycongee/dinescout/internal/config"
	"github.com/blueberrycongee/dinescout/internal/jobstore"
	"github.com/blueberrycongee/dinescout/internal/lock"
	"github.com/blueberrycongee/dinescout/internal/observability"
	"github.com/blueberrycongee/dinescout/internal/resilience"
	"github.com/blueberrycongee/dinescout/internal/search"
	"github.com/blueberrycongee/dinescout/internal/stream"
	"github.com/blueberrycongee/dinescout/pkg/types"
)

// app holds the wired components of a running server.
type app struct {
	handler *api.Handler
	runner  *search.Runner
	store   jobstore.Store
	redis   *redis.Client // nil when Redis is disabled
	sampler *observability.Sampler
	limiter *resilience.LocalLimiter
	stops   []func()
	logger  *slog.Logger
}

// buildApp wires every component from cfg. Background loops stop when ctx is done.
func buildApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	if cfg == nil {
		return nil, errNilConfig
	}
	a := &app{logger: logger}

	if cfg.Redis.Enabled {
		client, err := redis.New(cfg.Redis.Client, logger)
		switch {
		case err == nil:
			a.redis = client
			go client.Monitor(ctx, cfg.Redis.MonitorEvery)
			logger.Info("redis enabled", "addr", cfg.Redis.Client.Addr, "namespace", cfg.Redis.Client.Namespace)
		case cfg.JobStore.Driver == "redis":
			return nil, fmt.Errorf("connect redis: %w", err)
		default:
			// Cache and lock degrade to process-local operation.
			logger.Warn("redis unavailable, running memory-only", "addr", cfg.Redis.Client.Addr, "error", err)
		}
	}

	store, err := a.buildStore(ctx, cfg)
	if err != nil {
		a.close()
		return nil, err
	}
	a.store = store

	// Remote backends stay untyped nil when Redis is off.
	var (
		cacheBackend cache.RemoteBackend
		lockBackend  lock.Backend = lock.NewMemoryBackend()
	)
	if a.redis != nil {
		cacheBackend = a.redis
		lockBackend = a.redis
	}

	a.sampler = observability.NewSampler(logger, cfg.Cache.LogSampleRate)
	places := cache.NewOrchestrator[types.PlacesPage](cfg.Cache, cacheBackend, logger, cache.WithSampler(a.sampler))
	service := search.NewService(a.buildProvider(cfg), places, cache.NewKeyGenerator(""), cfg.Places.Timeout)
	a.runner = search.NewRunner(store, service, cfg.Search, logger)

	streams := stream.NewOrchestrator(cfg.Stream, stream.Deps{
		Jobs:      store,
		Lock:      lock.New(lockBackend, cfg.Lock, logger),
		Generator: buildGenerator(cfg, logger),
		Logger:    logger,
	})

	checks := map[string]api.Pinger{"job_store": store}
	if a.redis != nil {
		checks["redis"] = a.redis
	}
	a.handler = api.NewHandler(cfg.API, api.Deps{
		Searches: a.runner,
		Jobs:     store,
		Streams:  streams,
		Checks:   checks,
		Logger:   logger,
	})
	return a, nil
}

func (a *app) buildStore(ctx context.Context, cfg *config.Config) (jobstore.Store, error) {
	switch cfg.JobStore.Driver {
	case "redis":
		if a.redis == nil {
			return nil, errors.New("redis job store requires redis")
		}
		return jobstore.NewRedisStore(a.redis, cfg.JobStore.Retention), nil
	case "postgres":
		pg, err := jobstore.NewPostgresStore(ctx, cfg.JobStore.Postgres)
		if err != nil {
			return nil, fmt.Errorf("open postgres job store: %w", err)
		}
		if stop := startDBPoolMetrics(ctx, pg, a.logger, 30*time.Second); stop != nil {
			a.stops = append(a.stops, stop)
		}
		return pg, nil
	default:
		return jobstore.NewMemoryStore(), nil
	}
}

func (a *app) buildProvider(cfg *config.Config) search.Provider {
	var inner search.Provider
	switch cfg.Places.Provider {
	case "http":
		inner = search.NewHTTPProvider(cfg.Places.HTTP, nil)
	default:
		inner = search.NewStaticProvider(search.DefaultCatalog(), cfg.Places.StaticDelay)
	}

	a.limiter = resilience.NewLocalLimiter(cfg.Places.RequestsPerSec, cfg.Places.Burst, cfg.Places.MaxWait)
	limiters := resilience.Chain{a.limiter}
	if a.redis != nil && cfg.Places.SharedPerMinute > 0 {
		limiters = append(limiters, resilience.NewWindowLimiter(a.redis, "places", cfg.Places.SharedPerMinute, time.Minute, a.logger))
	}
	breaker := resilience.NewCircuitBreaker("places", cfg.Places.CircuitBreaker)
	return search.NewGuardedProvider(inner, limiters, breaker, a.logger)
}

func buildGenerator(cfg *config.Config, logger *slog.Logger) assistant.Generator {
	if cfg.LLM.Enabled() {
		logger.Info("assistant generation via model", "format", cfg.LLM.Format, "model", cfg.LLM.Model)
		return assistant.NewLLMGenerator(cfg.LLM, nil, logger)
	}
	logger.Info("assistant generation via templates")
	return assistant.NewTemplateGenerator()
}

// applyConfig applies the settings that can change without a restart.
func (a *app) applyConfig(cfg *config.Config) {
	a.sampler.SetRate(cfg.Cache.LogSampleRate)
	a.limiter.SetLimit(cfg.Places.RequestsPerSec)
}

// shutdown waits for running searches and releases the stores.
func (a *app) shutdown(ctx context.Context) error {
	err := a.runner.Shutdown(ctx)
	a.close()
	return err
}

func (a *app) close() {
	for _, stop := range a.stops {
		stop()
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Warn("close job store", "error", err)
		}
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Warn("close redis", "error", err)
		}
	}
}
