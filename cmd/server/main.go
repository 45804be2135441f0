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
	"go.uber.org/zap"

	"github.com/shehryarbajwa/cdp-mini/internal/api"
	"github.com/shehryarbajwa/cdp-mini/internal/config"
	"github.com/shehryarbajwa/cdp-mini/internal/logging"
	"github.com/shehryarbajwa/cdp-mini/internal/profile"
	"github.com/shehryarbajwa/cdp-mini/internal/proxy"
	"github.com/shehryarbajwa/cdp-mini/internal/ratelimit"
	"github.com/shehryarbajwa/cdp-mini/internal/session"
)

var (
	configPath string
	verbose    bool
	addr       string
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "cdp-server",
		Short:        "HTTP API for driving a Chrome browser over DevTools",
		SilenceUsage: true,
		RunE:         run,
	}
	rootCmd.Flags().StringVarP(&configPath, "config", "c", "config.yaml", "config file")
	rootCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
	rootCmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides server.addr)")

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, _ []string) error {
	log, err := logging.New(verbose)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if addr != "" {
		cfg.Server.Addr = addr
	}

	launcher, closeLauncher, err := cfg.NewLauncher(log)
	if err != nil {
		return fmt.Errorf("failed to create launcher: %w", err)
	}
	defer func() { _ = closeLauncher() }()
	log.Info("launcher ready", zap.String("backend", cfg.Browser.Backend))

	store, err := profile.NewStore(cfg.Browser.ProfileDir)
	if err != nil {
		return fmt.Errorf("failed to open profile store: %w", err)
	}

	mcfg := cfg.ManagerConfig()
	mcfg.Profiles = store
	sessionMgr := session.NewManager(launcher, mcfg, log)

	handler := api.NewHandler(sessionMgr, log)
	router := handler.SetupRoutes(
		api.NewProfileHandler(store),
		proxy.NewServer(sessionMgr, log),
		ratelimit.NewLimiter(cfg.Server.RatePerHour, cfg.Server.Burst),
	)

	srv := &http.Server{
		Addr:        cfg.Server.Addr,
		Handler:     router,
		ReadTimeout: 15 * time.Second,
		// Navigations may legitimately wait up to their own timeout.
		WriteTimeout: cfg.GetNavigationTimeout() + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		log.Info("server starting",
			zap.String("addr", cfg.Server.Addr),
			zap.Int("max_sessions", cfg.Session.MaxSessions),
			zap.Int("rate_per_hour", cfg.Server.RatePerHour))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			_ = sessionMgr.CloseAll(context.Background())
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("server forced to shutdown", zap.Error(err))
	}
	if err := sessionMgr.CloseAll(shutdownCtx); err != nil {
		log.Warn("failed to close browser", zap.Error(err))
	}
	log.Info("server stopped")
	return nil
}
