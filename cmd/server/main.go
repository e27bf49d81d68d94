package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/npezzotti/go-consult/internal/api"
	"github.com/npezzotti/go-consult/internal/auth"
	"github.com/npezzotti/go-consult/internal/config"
	"github.com/npezzotti/go-consult/internal/consultation"
	"github.com/npezzotti/go-consult/internal/database"
	"github.com/npezzotti/go-consult/internal/server"
	"github.com/npezzotti/go-consult/internal/stats"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
)

const shutdownTimeout = 10 * time.Second

func newLogger(cfg *config.Config) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339Nano

	var logger zerolog.Logger
	if cfg.LogFormat == "json" {
		logger = zerolog.New(os.Stderr)
	} else {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	return logger.Level(level).With().Timestamp().Str("service", "go-consult").Logger()
}

func main() {
	configPath := pflag.StringP("config", "c", "", "path to a YAML config file")
	pflag.Parse()

	bootLog := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	cfg, err := config.Load(config.New(), *configPath)
	if err != nil {
		bootLog.Fatal().Err(err).Msg("failed to load config")
	}

	logger := newLogger(cfg)

	httpClient := &http.Client{Timeout: cfg.Coordinator.DependencyTimeout}
	recordsClient := consultation.NewClient(cfg.Records.BaseURL, cfg.Records.Token, httpClient, logger)
	records := consultation.NewCachedRecords(recordsClient, cfg.Records.CacheSize, cfg.Records.CacheTTL)

	var store database.Repository
	switch cfg.Store {
	case config.StoreRecords:
		store = recordsClient
	default:
		pg, err := database.NewPgRepository(cfg.DatabaseDSN)
		if err != nil {
			logger.Fatal().Err(err).Msg("db open")
		}
		defer func() {
			if err := pg.Close(); err != nil {
				logger.Error().Err(err).Msg("db close")
			}
		}()

		if cfg.Migrate {
			if err := pg.Migrate(); err != nil {
				logger.Fatal().Err(err).Msg("db migrate")
			}
		}
		store = pg
	}
	logger.Info().Str("store", cfg.Store).Msg("chat and notes store ready")

	mux := http.NewServeMux()

	statsUpdater := stats.NewStatsUpdater(mux)

	hub, err := server.NewHub(logger, records, store, statsUpdater, server.Options{
		GracePeriod:       cfg.Coordinator.GracePeriod,
		DependencyTimeout: cfg.Coordinator.DependencyTimeout,
		MaxTextLength:     cfg.Coordinator.MaxTextLength,
		IceBufferSize:     cfg.Coordinator.IceBufferSize,
		MarkEndedAttempts: cfg.Coordinator.MarkEndedAttempts,
		MarkEndedOnExpiry: cfg.Coordinator.MarkEndedOnExpiry,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("new hub")
	}

	srv := api.NewApp(mux, logger, hub, auth.NewVerifier(cfg.SigningKey), store, cfg)

	statsUpdater.Run()
	defer statsUpdater.Stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigs:
		logger.Info().Str("signal", sig.String()).Msg("received signal")
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("server")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("HTTP server shutdown")
	}

	logger.Info().Msg("shutting down coordinator")
	if err := hub.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("coordinator shutdown")
	}

	logger.Info().Msg("shutdown complete")
}
