package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"geminimock/internal/assembler"
	"geminimock/internal/batch"
	"geminimock/internal/cache"
	"geminimock/internal/config"
	"geminimock/internal/files"
	"geminimock/internal/metrics"
	"geminimock/internal/preset"
	"geminimock/internal/ratelimit"
	"geminimock/internal/server"
	"geminimock/internal/storage"
	"geminimock/internal/synth"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	setupLogger(cfg.Log.Level)
	log.Info().
		Str("addr", cfg.HTTP.ListenAddr).
		Str("db_driver", cfg.DB.Driver).
		Str("default_project", cfg.Project.DefaultProjectID).
		Str("default_location", cfg.Project.DefaultLocation).
		Msg("starting geminimock")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, err := storage.Open(ctx, cfg.DB.Driver, cfg.DB.DSN, cfg.DB.AutoMigrate)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize storage")
	}
	defer store.Close()

	seed := preset.Defaults()
	if cfg.Mock.PresetsFile != "" {
		seed, err = preset.Load(cfg.Mock.PresetsFile)
		if err != nil {
			log.Fatal().Err(err).Str("file", cfg.Mock.PresetsFile).Msg("failed to load presets")
		}
	}
	seeded, err := store.SeedPresets(ctx, seed)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to seed presets")
	}
	log.Info().Int("seeded", seeded).Msg("preset table ready")

	var limiter *ratelimit.Limiter
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Fatal().Err(err).Msg("failed to connect redis")
		}
		defer rdb.Close()
		limiter = ratelimit.New(rdb, cfg.Rate.PerMinute)
		log.Info().Int64("per_minute", cfg.Rate.PerMinute).Msg("rate limiting enabled")
	}

	m := metrics.Global()
	contextCache := cache.New(cache.Config{
		DefaultTTL: cfg.Cache.DefaultTTL,
		Logger:     log.Logger,
		Metrics:    m,
	})
	go contextCache.Run(ctx, cfg.Cache.SweepInterval)

	asm := assembler.New(assembler.Config{
		Presets:            store,
		Cache:              contextCache,
		Generator:          synth.NewGenerator(nil),
		SystemInstructions: assembler.NewSystemInstructions(cfg.Mock.DefaultSystemInstruction, nil),
		StreamDelay:        cfg.Mock.Delay,
		Logger:             log.Logger,
		Metrics:            m,
	})
	runner := batch.New(batch.Config{
		Generator:      asm,
		MaxConcurrency: cfg.Batch.MaxConcurrency,
		Timeout:        cfg.Batch.Timeout,
		Logger:         log.Logger,
		Metrics:        m,
	})

	handler := server.New(server.Config{
		Assembler:         asm,
		Presets:           store,
		Cache:             contextCache,
		Files:             files.New(files.Config{}),
		Batches:           runner,
		Limiter:           limiter,
		DefaultProjectID:  cfg.Project.DefaultProjectID,
		DefaultLocation:   cfg.Project.DefaultLocation,
		EnforcedProjectID: cfg.Project.EnforcedProjectID,
		EnforcedLocation:  cfg.Project.EnforcedLocation,
		MaxUploadBytes:    cfg.HTTP.MaxUploadBytes,
		HealthPath:        cfg.HTTP.HealthPath,
		MetricsPath:       cfg.HTTP.MetricsPath,
		Logger:            log.Logger,
		Metrics:           m,
	})

	errCh := make(chan error, 1)
	httpServer := &http.Server{
		Addr:              cfg.HTTP.ListenAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       cfg.HTTP.ReadTimeout,
	}
	go func() {
		log.Info().Str("addr", cfg.HTTP.ListenAddr).Msg("http server started")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-errCh:
		log.Error().Err(err).Msg("runtime error")
		cancel()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("failed to stop http server")
	}
	runner.Close()

	log.Info().Msg("stopped")
}

func setupLogger(level string) {
	zerolog.TimeFieldFormat = time.RFC3339
	zerolog.SetGlobalLevel(parseLogLevel(level))
	log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
}

func parseLogLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
