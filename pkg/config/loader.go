package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// ConfigFileName is the configuration file read from the config directory.
const ConfigFileName = "notebookchat.yaml"

// NotebookChatYAMLConfig represents the complete notebookchat.yaml file structure
type NotebookChatYAMLConfig struct {
	Server    *ServerConfig    `yaml:"server"`
	Upstream  *UpstreamConfig  `yaml:"upstream"`
	Chat      *ChatConfig      `yaml:"chat"`
	Retention *RetentionConfig `yaml:"retention"`
}

// Initialize loads, validates, and returns ready-to-use configuration.
// This is the primary entry point for configuration loading.
//
// Steps performed:
//  1. Load notebookchat.yaml from configDir (optional)
//  2. Expand environment variables
//  3. Parse YAML into structs
//  4. Merge over built-in defaults
//  5. Apply env overrides
//  6. Validate
func Initialize(ctx context.Context, configDir string) (*Config, error) {
	log := slog.With("config_dir", configDir)
	log.Info("Initializing configuration")

	cfg, err := load(ctx, configDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	log.Info("Configuration initialized successfully",
		"port", cfg.Server.Port,
		"upstream", cfg.Upstream.BaseURL,
		"page_size", cfg.Chat.PageSize,
		"conversation_ttl", cfg.Retention.ConversationTTL)

	return cfg, nil
}

// load is the internal loader (not exported)
func load(_ context.Context, configDir string) (*Config, error) {
	loader := &configLoader{configDir: configDir}

	var user NotebookChatYAMLConfig
	err := loader.loadYAML(ConfigFileName, &user)
	switch {
	case errors.Is(err, ErrConfigNotFound):
		slog.Warn("No configuration file, using built-in defaults",
			"file", filepath.Join(configDir, ConfigFileName))
	case err != nil:
		return nil, NewLoadError(ConfigFileName, err)
	}

	// Start with defaults, then merge user config on top to preserve unset defaults
	server := DefaultServerConfig()
	if err := mergeSection(server, user.Server); err != nil {
		return nil, fmt.Errorf("failed to merge server config: %w", err)
	}
	upstream := DefaultUpstreamConfig()
	if err := mergeSection(upstream, user.Upstream); err != nil {
		return nil, fmt.Errorf("failed to merge upstream config: %w", err)
	}
	chat := DefaultChatConfig()
	if err := mergeSection(chat, user.Chat); err != nil {
		return nil, fmt.Errorf("failed to merge chat config: %w", err)
	}
	retention := DefaultRetentionConfig()
	if err := mergeSection(retention, user.Retention); err != nil {
		return nil, fmt.Errorf("failed to merge retention config: %w", err)
	}

	applyEnvOverrides(server, upstream)

	return &Config{
		configDir: configDir,
		Server:    server,
		Upstream:  upstream,
		Chat:      chat,
		Retention: retention,
	}, nil
}

// mergeSection merges the non-zero fields of user into dst.
func mergeSection[T any](dst, user *T) error {
	if user == nil {
		return nil
	}
	return mergo.Merge(dst, user, mergo.WithOverride)
}

// applyEnvOverrides applies the env vars that win over the file.
func applyEnvOverrides(server *ServerConfig, upstream *UpstreamConfig) {
	if port := os.Getenv("HTTP_PORT"); port != "" {
		server.Port = port
	}
	if url := os.Getenv("ANALYTICS_API_URL"); url != "" {
		upstream.BaseURL = url
	}
}

// validate performs comprehensive validation on loaded configuration
func validate(cfg *Config) error {
	validator := NewValidator(cfg)
	return validator.ValidateAll()
}

type configLoader struct {
	configDir string
}

func (l *configLoader) loadYAML(filename string, target any) error {
	path := filepath.Join(l.configDir, filename)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}
		return err
	}

	// ExpandEnv passes through original data on template errors so the YAML
	// parser reports the real problem.
	data = ExpandEnv(data)

	if err := yaml.Unmarshal(data, target); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidYAML, err)
	}

	return nil
}

// Token returns the bearer token from the env var named by TokenEnv.
// Empty means unauthenticated.
func (u *UpstreamConfig) Token() string {
	if u.TokenEnv == "" {
		return ""
	}
	return os.Getenv(u.TokenEnv)
}
