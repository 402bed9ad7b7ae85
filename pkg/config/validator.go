package config

import (
	"fmt"
	"net/url"
	"strconv"
)

// ConfigValidator validates configuration with clear error messages
type ConfigValidator struct {
	cfg *Config
}

// NewValidator creates a validator for the given configuration
func NewValidator(cfg *Config) *ConfigValidator {
	return &ConfigValidator{cfg: cfg}
}

// ValidateAll performs validation (fail-fast - stops at first error)
func (v *ConfigValidator) ValidateAll() error {
	if err := v.validateServer(); err != nil {
		return fmt.Errorf("server validation failed: %w", err)
	}
	if err := v.validateUpstream(); err != nil {
		return fmt.Errorf("upstream validation failed: %w", err)
	}
	if err := v.validateChat(); err != nil {
		return fmt.Errorf("chat validation failed: %w", err)
	}
	if err := v.validateRetention(); err != nil {
		return fmt.Errorf("retention validation failed: %w", err)
	}
	return nil
}

func (v *ConfigValidator) validateServer() error {
	s := v.cfg.Server
	port, err := strconv.Atoi(s.Port)
	if err != nil || port < 1 || port > 65535 {
		return NewValidationError("server", "port", fmt.Errorf("%w: %q is not a TCP port", ErrInvalidValue, s.Port))
	}
	if s.WSWriteTimeout <= 0 {
		return NewValidationError("server", "ws_write_timeout", fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	return nil
}

func (v *ConfigValidator) validateUpstream() error {
	u := v.cfg.Upstream
	if u.BaseURL == "" {
		return NewValidationError("upstream", "base_url", ErrMissingRequiredField)
	}
	parsed, err := url.Parse(u.BaseURL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return NewValidationError("upstream", "base_url", fmt.Errorf("%w: %q is not an http(s) URL", ErrInvalidValue, u.BaseURL))
	}
	if u.RequestTimeout <= 0 {
		return NewValidationError("upstream", "request_timeout", fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	return nil
}

func (v *ConfigValidator) validateChat() error {
	c := v.cfg.Chat
	if c.PageSize < 1 || c.PageSize > 100 {
		return NewValidationError("chat", "page_size", fmt.Errorf("%w: must be between 1 and 100", ErrInvalidValue))
	}
	if c.MaxQueryLength < 0 {
		return NewValidationError("chat", "max_query_length", fmt.Errorf("%w: must not be negative", ErrInvalidValue))
	}
	if c.FirstEventTimeout < 0 || c.StreamIdleTimeout < 0 {
		return NewValidationError("chat", "first_event_timeout", fmt.Errorf("%w: timeouts must not be negative", ErrInvalidValue))
	}
	if c.Retry != nil {
		if c.Retry.MaxAttempts < 1 {
			return NewValidationError("chat", "retry.max_attempts", fmt.Errorf("%w: must be at least 1", ErrInvalidValue))
		}
		if c.Retry.Multiplier < 1 {
			return NewValidationError("chat", "retry.multiplier", fmt.Errorf("%w: must be at least 1", ErrInvalidValue))
		}
	}
	return nil
}

func (v *ConfigValidator) validateRetention() error {
	r := v.cfg.Retention
	if r.ConversationTTL <= 0 {
		return NewValidationError("retention", "conversation_ttl", fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	if r.CleanupInterval <= 0 {
		return NewValidationError("retention", "cleanup_interval", fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	return nil
}
