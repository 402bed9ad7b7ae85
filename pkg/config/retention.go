package config

import "time"

// RetentionConfig controls eviction of idle conversations.
type RetentionConfig struct {
	// ConversationTTL is how long a conversation with no turn in flight may
	// stay idle before it is closed and forgotten.
	ConversationTTL time.Duration `yaml:"conversation_ttl"`

	// CleanupInterval is how often the cleanup loop runs.
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
}

// DefaultRetentionConfig returns the built-in retention defaults.
func DefaultRetentionConfig() *RetentionConfig {
	return &RetentionConfig{
		ConversationTTL: 2 * time.Hour,
		CleanupInterval: 10 * time.Minute,
	}
}
