package config

import "time"

// ServerConfig holds the gateway listener settings.
type ServerConfig struct {
	// Port is the HTTP listen port. HTTP_PORT overrides it.
	Port string `yaml:"port"`

	// AllowedWSOrigins are extra origin patterns accepted on /ws, in
	// addition to same-origin requests.
	AllowedWSOrigins []string `yaml:"allowed_ws_origins"`

	// WSWriteTimeout bounds each WebSocket send.
	WSWriteTimeout time.Duration `yaml:"ws_write_timeout"`

	// ShutdownTimeout bounds graceful HTTP shutdown.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// UpstreamConfig holds the analytics API connection settings.
type UpstreamConfig struct {
	// BaseURL of the analytics API. ANALYTICS_API_URL overrides it.
	BaseURL string `yaml:"base_url"`

	// TokenEnv names the env var holding the bearer token (default: "ANALYTICS_API_TOKEN").
	TokenEnv string `yaml:"token_env"`

	// RequestTimeout bounds every non-streaming call.
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// ChatConfig holds per-conversation turn settings.
type ChatConfig struct {
	PageSize          int           `yaml:"page_size"`
	MaxQueryLength    int           `yaml:"max_query_length"`
	FirstEventTimeout time.Duration `yaml:"first_event_timeout"`
	StreamIdleTimeout time.Duration `yaml:"stream_idle_timeout"`
	StopTimeout       time.Duration `yaml:"stop_timeout"`
	Retry             *RetryConfig  `yaml:"retry"`
}

// RetryConfig controls retries of the authoritative turn fetch.
type RetryConfig struct {
	MaxAttempts  int           `yaml:"max_attempts"`
	InitialDelay time.Duration `yaml:"initial_delay"`
	Multiplier   float64       `yaml:"multiplier"`
	MaxDelay     time.Duration `yaml:"max_delay"`
}

// DefaultServerConfig returns the built-in listener defaults.
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		Port:            "8080",
		WSWriteTimeout:  10 * time.Second,
		ShutdownTimeout: 5 * time.Second,
	}
}

// DefaultUpstreamConfig returns the built-in analytics API defaults.
func DefaultUpstreamConfig() *UpstreamConfig {
	return &UpstreamConfig{
		BaseURL:        "http://localhost:8000",
		TokenEnv:       "ANALYTICS_API_TOKEN",
		RequestTimeout: 30 * time.Second,
	}
}

// DefaultChatConfig returns the built-in turn defaults.
func DefaultChatConfig() *ChatConfig {
	return &ChatConfig{
		PageSize:          10,
		MaxQueryLength:    4000,
		FirstEventTimeout: 60 * time.Second,
		StreamIdleTimeout: 5 * time.Minute,
		StopTimeout:       10 * time.Second,
		Retry: &RetryConfig{
			MaxAttempts:  4,
			InitialDelay: 500 * time.Millisecond,
			Multiplier:   2,
			MaxDelay:     5 * time.Second,
		},
	}
}
