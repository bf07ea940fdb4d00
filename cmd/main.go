// cmd/main.go is the application entry point.
// It wires together all layers and starts the HTTP server.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Shivanand-hulikatti/hookdock/internal/archive"
	"github.com/Shivanand-hulikatti/hookdock/internal/config"
	"github.com/Shivanand-hulikatti/hookdock/internal/database"
	"github.com/Shivanand-hulikatti/hookdock/internal/handler"
	"github.com/Shivanand-hulikatti/hookdock/internal/logger"
	"github.com/Shivanand-hulikatti/hookdock/internal/metrics"
	"github.com/Shivanand-hulikatti/hookdock/internal/repository"
	"github.com/Shivanand-hulikatti/hookdock/internal/repository/memory"
	"github.com/Shivanand-hulikatti/hookdock/internal/service"
	"github.com/Shivanand-hulikatti/hookdock/internal/tunnel"
)

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:          "hookdock",
		Short:        "Capture HTTP requests in bins and replay them",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), configPath)
		},
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML config file (env: HOOKDOCK_CONFIG)")

	root.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server (default)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), configPath)
		},
	})
	root.AddCommand(&cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return migrate(cmd.Context(), configPath)
		},
	})
	return root
}

func migrate(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	log := logger.New(cfg.LogLevel, cfg.LogFormat)

	pool, err := database.NewPool(ctx, cfg.Database, log)
	if err != nil {
		return fmt.Errorf("database: %w", err)
	}
	defer pool.Close()

	if err := database.Migrate(ctx, pool); err != nil {
		return err
	}
	log.Info().Msg("schema applied")
	return nil
}

func serve(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	log := logger.New(cfg.LogLevel, cfg.LogFormat)
	m := metrics.New()

	// ── 1. Storage ────────────────────────────────────────────────────────
	var (
		bins   service.BinStore
		events service.EventStore
	)
	switch cfg.StoreDriver {
	case config.DriverMemory:
		store := memory.NewStore()
		bins, events = store.Bins(), store.Events()
		log.Warn().Msg("using in-memory store; captured requests are lost on exit")
	default:
		pool, err := database.NewPool(ctx, cfg.Database, log)
		if err != nil {
			return fmt.Errorf("database: %w", err)
		}
		defer pool.Close()
		if err := database.Migrate(ctx, pool); err != nil {
			return err
		}
		log.Info().Msg("connected to PostgreSQL")
		bins, events = repository.NewBinRepository(pool), repository.NewEventRepository(pool)
	}

	// ── 2. Wire up layers ────────────────────────────────────────────────
	var s3Client archive.ObjectPutter
	if cfg.Archive.Enabled() {
		client, err := archive.NewS3Client(ctx, cfg.Archive.Region)
		if err != nil {
			return err
		}
		s3Client = client
	}

	binSvc := service.NewBinService(bins, m, log)
	eventSvc := service.NewEventService(bins, events)
	ingester := service.NewIngester(bins, events, m, log)
	replayer := service.NewReplayer(events, service.ReplayOptions{
		Timeout:       cfg.ReplayTimeout,
		MaxConcurrent: cfg.ReplayMaxConcurrent,
	}, m, log)
	archiver := archive.NewArchiver(events, s3Client, cfg.Archive, m, log)

	// ── 3. Build the router ───────────────────────────────────────────────
	router := handler.NewRouter(handler.RouterConfig{
		AdminToken:        cfg.AdminToken,
		CORSAllowOrigin:   cfg.CORSAllowOrigin,
		TrustProxyHeaders: cfg.TrustProxyHeaders,
	}, handler.Deps{
		Bins:    handler.NewBinHandler(binSvc, eventSvc, archiver, log),
		Events:  handler.NewEventHandler(eventSvc, replayer, log),
		Ingest:  handler.NewIngestHandler(ingester, cfg.MaxBodyBytes, m, log),
		Metrics: m,
		Log:     log,
	})

	// ── 4. Start server(s) with graceful shutdown ─────────────────────────
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: cfg.ReplayTimeout + 15*time.Second, // a replay may use its full timeout
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 2)
	go func() {
		log.Info().Str("addr", srv.Addr).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	var tun *tunnel.Tunnel
	if cfg.Ngrok.Enabled {
		tun, err = tunnel.Start(ctx, cfg.Ngrok, router, log, errCh)
		if err != nil {
			_ = srv.Close()
			return err
		}
	}

	// Block until SIGINT/SIGTERM or a server failure.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-quit:
		log.Info().Str("signal", sig.String()).Msg("shutting down server")
	case err = <-errCh:
		log.Error().Err(err).Msg("server error, shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if tun != nil {
		if terr := tun.Shutdown(shutdownCtx); terr != nil {
			log.Warn().Err(terr).Msg("tunnel shutdown")
		}
	}
	if serr := srv.Shutdown(shutdownCtx); serr != nil {
		return fmt.Errorf("graceful shutdown failed: %w", serr)
	}
	log.Info().Msg("server stopped")
	return err
}
