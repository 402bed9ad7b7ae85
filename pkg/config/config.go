// Package config loads the gateway configuration from notebookchat.yaml.
package config

// Config is the umbrella configuration object returned by Initialize.
type Config struct {
	configDir string // Configuration directory path (for reference)

	// HTTP and WebSocket listener settings
	Server *ServerConfig

	// Remote analytics API connection
	Upstream *UpstreamConfig

	// Per-conversation turn behavior
	Chat *ChatConfig

	// Idle conversation eviction
	Retention *RetentionConfig
}

// Initialize is defined in loader.go

// ConfigDir returns the configuration directory path
func (c *Config) ConfigDir() string {
	return c.configDir
}
