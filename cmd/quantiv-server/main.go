// Package main is the entrypoint for the Quantiv license issuance server.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/quantivhq/quantiv/internal/api"
	"github.com/quantivhq/quantiv/internal/config"
	"github.com/quantivhq/quantiv/internal/releases"
	"github.com/quantivhq/quantiv/internal/store"
)

// Build-time variables set via ldflags.
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

func main() {
	os.Exit(run())
}

func run() int {
	logger := zerolog.New(os.Stdout).With().Timestamp().Str("version", Version).Logger()
	if os.Getenv("ENV") != string(config.EnvProduction) {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	logger.Info().
		Str("version", Version).
		Str("commit", Commit).
		Str("build_date", BuildDate).
		Msg("Starting Quantiv license server")

	cfg := config.LoadServerConfig()

	var st store.Store
	if cfg.StateDB != "" {
		sqlStore, err := store.NewSQLiteStore(cfg.StateDB)
		if err != nil {
			logger.Error().Err(err).Str("path", cfg.StateDB).Msg("Failed to open state database")
			return 1
		}
		st = sqlStore
		logger.Info().Str("path", cfg.StateDB).Msg("Using SQLite state store")
	} else {
		st = store.NewMemoryStore()
		logger.Warn().Msg("STATE_DB not set, issued licenses are lost on restart")
	}
	defer st.Close()

	resolver := releases.NewResolver(cfg.GitHubOwner, cfg.GitHubRepo, cfg.GitHubToken, logger)

	janitor := store.NewJanitor(st, time.Duration(cfg.TokenMaxAgeHrs)*time.Hour, logger)
	if err := janitor.Start(cfg.TokenJanitorCron); err != nil {
		logger.Error().Err(err).Str("spec", cfg.TokenJanitorCron).Msg("Failed to start token janitor")
		return 1
	}
	defer janitor.Stop()

	router, err := api.NewRouter(api.RouterConfig{
		Store:       st,
		Resolver:    resolver,
		Metrics:     api.NewMetrics(),
		Logger:      logger,
		Environment: cfg.Environment,
		CORSOrigins: cfg.CORSOrigins,
		RateLimit:   int64(cfg.RateLimit),
		RatePeriod:  fmt.Sprintf("%ds", cfg.RatePeriodSecs),
	})
	if err != nil {
		logger.Error().Err(err).Msg("Failed to build router")
		return 1
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Int("port", cfg.Port).Msg("License server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		logger.Error().Err(err).Msg("Server failed")
		return 1
	case sig := <-quit:
		logger.Info().Str("signal", sig.String()).Msg("Shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Graceful shutdown failed")
		return 1
	}
	logger.Info().Msg("Server stopped")
	return 0
}
