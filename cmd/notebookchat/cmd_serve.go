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

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/codeready-toolchain/notebookchat/pkg/analytics"
	"github.com/codeready-toolchain/notebookchat/pkg/api"
	"github.com/codeready-toolchain/notebookchat/pkg/cleanup"
	"github.com/codeready-toolchain/notebookchat/pkg/config"
	"github.com/codeready-toolchain/notebookchat/pkg/events"
	"github.com/codeready-toolchain/notebookchat/pkg/session"
	"github.com/codeready-toolchain/notebookchat/pkg/version"
)

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the chat gateway",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 1. Initialize configuration
	cfg, err := config.Initialize(ctx, configDir)
	if err != nil {
		return fmt.Errorf("failed to initialize configuration: %w", err)
	}

	slog.Info("Starting "+version.AppName,
		"version", version.GitCommit,
		"http_port", cfg.Server.Port,
		"analytics_url", cfg.Upstream.BaseURL,
		"config_dir", cfg.ConfigDir())

	// 2. Upstream client and conversations
	client := analytics.NewClient(analytics.ClientConfig{
		BaseURL:        cfg.Upstream.BaseURL,
		Token:          cfg.Upstream.Token(),
		RequestTimeout: cfg.Upstream.RequestTimeout,
	})
	if cfg.Upstream.Token() == "" {
		slog.Warn("No analytics API token configured", "env", cfg.Upstream.TokenEnv)
	}

	conversations := session.NewManager(client, sessionConfig(cfg.Chat))
	defer conversations.Close()

	// 3. Streaming infrastructure
	connManager := events.NewConnectionManager(conversations, cfg.Server.WSWriteTimeout)
	publisher := events.NewPublisher(connManager)
	conversations.OnCreate(publisher.Attach)
	conversations.OnRemove(func(id string) {
		if err := publisher.PublishClosed(id); err != nil {
			slog.Warn("Failed to publish conversation close", "conversation_id", id, "error", err)
		}
	})
	slog.Info("Streaming infrastructure initialized")

	// 4. Retention
	cleanupService := cleanup.NewService(cfg.Retention, conversations)

	// 5. HTTP server
	httpServer := api.NewServer(cfg, conversations, connManager)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		addr := ":" + cfg.Server.Port
		slog.Info("HTTP server listening", "addr", addr)
		if err := httpServer.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		cleanupService.Start(gctx)
		<-gctx.Done()
		cleanupService.Stop()
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("Shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("HTTP server shutdown error", "error", err)
		}
		return nil
	})

	slog.Info(version.AppName+" started successfully", "pid", os.Getpid())

	if err := g.Wait(); err != nil {
		return err
	}
	slog.Info("Shutdown complete")
	return nil
}
