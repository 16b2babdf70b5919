// Command pager-proxy serves display pages of a paginated REST collection
// over HTTP, caching upstream pages for the lifetime of the process.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Sternrassler/pagedsource/pkg/cache"
	"github.com/Sternrassler/pagedsource/pkg/client"
	"github.com/Sternrassler/pagedsource/pkg/config"
	"github.com/Sternrassler/pagedsource/pkg/datasource"
	"github.com/Sternrassler/pagedsource/pkg/logging"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

func main() {
	cfg := config.Load()
	logger := logging.Setup(logging.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.LogPretty,
		Output: os.Stderr,
	})

	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	upstream, err := client.New(cfg.ClientConfig())
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create upstream client")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, ready, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open page cache")
	}
	defer closeStore()

	ds, err := datasource.New(upstream, store, cfg.DataSourceConfig(), logger)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create data source")
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           newServer(ds, ready, cfg.HTTPTimeout).routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().
			Str("addr", srv.Addr).
			Str("base_url", upstream.BaseURL()).
			Str("format", string(upstream.Format())).
			Str("cache_backend", cfg.CacheBackend).
			Int("display_page_size", ds.DisplayPageSize()).
			Msg("Starting pager proxy")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("HTTP server failed")
			stop()
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down pager proxy")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}
	if err := ds.Close(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("Failed to discard page cache")
	}
}

// openStore builds the configured page store and its readiness check.
func openStore(ctx context.Context, cfg *config.Config) (cache.Store, readyFunc, func(), error) {
	if cfg.CacheBackend != config.BackendRedis {
		return cache.NewMemoryStore().WithNamespace(cfg.CacheNamespace), nil, func() {}, nil
	}

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, nil, nil, err
	}
	redisClient := redis.NewClient(opts)

	if err := redisClient.Ping(ctx).Err(); err != nil {
		redisClient.Close()
		return nil, nil, nil, err
	}
	log.Info().Str("addr", opts.Addr).Int("db", opts.DB).Msg("Connected to Redis")

	ready := func(ctx context.Context) error {
		return redisClient.Ping(ctx).Err()
	}
	closeStore := func() {
		if err := redisClient.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close Redis client")
		}
	}
	return cache.NewRedisStore(redisClient, cfg.CacheNamespace), ready, closeStore, nil
}
