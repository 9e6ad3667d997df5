package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/p-blackswan/clnode/internal/broadcast"
	"github.com/p-blackswan/clnode/internal/config"
	"github.com/p-blackswan/clnode/internal/health"
	"github.com/p-blackswan/clnode/internal/hooks"
	"github.com/p-blackswan/clnode/internal/metrics"
	"github.com/p-blackswan/clnode/internal/ranker"
	"github.com/p-blackswan/clnode/internal/server"
	"github.com/p-blackswan/clnode/internal/store"
	"github.com/p-blackswan/clnode/internal/transcript"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the daemon in the foreground",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cfg, newLogger(cfg, os.Stdout))
		},
	}
}

func runServe(ctx context.Context, cfg *config.Config, logger zerolog.Logger) error {
	logger.Info().
		Str("environment", cfg.Environment).
		Str("addr", cfg.ListenAddr()).
		Str("db", cfg.DBPath).
		Msg("starting clnode")

	st, err := store.Shared(cfg.DBPath, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.CloseShared(); err != nil {
			logger.Error().Err(err).Msg("failed to close store")
		}
	}()

	m := metrics.New()
	hub := broadcast.NewHub(logger, m)
	rk := ranker.New(st, ranker.Limits(cfg.File.Ranker), logger, m)
	ex := transcript.NewExtractor(cfg.TranscriptDelay, logger)
	dispatcher := hooks.NewDispatcher(st, rk, hub, ex, logger, m,
		hooks.WithEditTools(cfg.File.Hooks.EditTools))

	checker := health.NewChecker(logger)
	checker.Register("store", health.PingCheck(st))

	srv := server.New(server.Config{
		ListenAddr:  cfg.ListenAddr(),
		CORSOrigins: strings.Join(cfg.CORSOriginList(), ","),
	}, st, dispatcher, hub, checker, m, logger)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Listen()
	}()

	if cfg.Retention > 0 {
		go runRetention(ctx, st, cfg.Retention, logger)
	}

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server stopped: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info().Msg("shutting down gracefully")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		logger.Error().Err(err).Msg("server shutdown error")
	}
	logger.Info().Msg("clnode stopped")
	return nil
}

// runRetention prunes old events and activity once at start and then hourly.
func runRetention(ctx context.Context, st *store.Store, maxAge time.Duration, logger zerolog.Logger) {
	logger = logger.With().Str("component", "retention").Logger()
	prune := func() {
		res, err := st.RunRetention(ctx, maxAge)
		if err != nil {
			logger.Error().Err(err).Msg("retention failed")
			return
		}
		if res.Events > 0 || res.Activities > 0 {
			logger.Info().Int64("events", res.Events).Int64("activities", res.Activities).Msg("retention pruned rows")
		}
	}

	prune()
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			prune()
		}
	}
}
