// notebookchat gateway: serves the chat API for notebooks and datasources
// in front of the analytics API, and offers a terminal client.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/codeready-toolchain/notebookchat/pkg/config"
	"github.com/codeready-toolchain/notebookchat/pkg/session"
	"github.com/codeready-toolchain/notebookchat/pkg/version"
)

var configDir string

var rootCmd = &cobra.Command{
	Use:           version.AppName,
	Short:         "Chat gateway for notebooks and datasources",
	Version:       version.Full(),
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		loadEnvFile(configDir)
		setupLogging(os.Getenv("LOG_LEVEL"))
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configDir, "config-dir",
		getEnv("CONFIG_DIR", "./deploy/config"),
		"Path to configuration directory")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// loadEnvFile loads .env from the config directory. Variables already set in
// the environment win.
func loadEnvFile(dir string) {
	envPath := filepath.Join(dir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		slog.Debug("Could not load .env file, continuing with existing environment",
			"path", envPath, "error", err)
		return
	}
	slog.Debug("Loaded environment", "path", envPath)
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func setupLogging(level string) {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: parseLogLevel(level)})))
}

// sessionConfig converts the chat section into per-conversation settings.
func sessionConfig(chat *config.ChatConfig) session.Config {
	cfg := session.Config{
		PageSize:          chat.PageSize,
		MaxQueryLength:    chat.MaxQueryLength,
		FirstEventTimeout: chat.FirstEventTimeout,
		StreamIdleTimeout: chat.StreamIdleTimeout,
		StopTimeout:       chat.StopTimeout,
	}
	if chat.Retry != nil {
		cfg.Retry = &session.RetryPolicy{
			MaxAttempts:  chat.Retry.MaxAttempts,
			InitialDelay: chat.Retry.InitialDelay,
			Multiplier:   chat.Retry.Multiplier,
			MaxDelay:     chat.Retry.MaxDelay,
		}
	}
	return cfg
}
