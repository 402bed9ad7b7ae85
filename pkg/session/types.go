// Package session drives assistant turns for one conversation: submission,
// live streaming, cancellation and settlement into history.
package session

import (
	"context"
	"time"

	"github.com/codeready-toolchain/notebookchat/pkg/chatevent"
	"github.com/codeready-toolchain/notebookchat/pkg/history"
	"github.com/codeready-toolchain/notebookchat/pkg/models"
)

// API is the upstream analytics API a controller talks to.
type API interface {
	CreateSession(ctx context.Context, target models.Target) (string, error)
	SubmitQuery(ctx context.Context, chatID, text string) (Stream, error)
	StopGeneration(ctx context.Context, chatID, messageID string) error
	FetchTurn(ctx context.Context, chatID, messageID string) (*models.ChatRecord, error)
	FetchHistoryPage(ctx context.Context, chatID string, page models.PageRequest) ([]models.ChatRecord, error)
	SubmitFeedback(ctx context.Context, messageID string, fb models.Feedback) error
}

// Stream is one open server-sent event stream.
//
// Events delivers raw events in server emission order. The channel is closed
// when the connection closes, which is the "connection open" signal flipping
// to false. Err reports why, once Events is closed; nil means a clean end.
type Stream interface {
	Events() <-chan chatevent.RawEvent
	Err() error
	Close() error
}

// Phase is the lifecycle phase of the current turn.
type Phase string

// Turn phases.
const (
	PhaseIdle               Phase = "idle"
	PhaseAwaitingFirstEvent Phase = "awaiting_first_event"
	PhaseStreaming          Phase = "streaming"
	PhaseSettling           Phase = "settling"
	PhaseSettled            Phase = "settled"
)

// InFlight reports whether a turn is between submission and settlement.
func (p Phase) InFlight() bool {
	return p == PhaseAwaitingFirstEvent || p == PhaseStreaming || p == PhaseSettling
}

// Snapshot is a read-only view of a conversation for the presentation layer.
// Turns are oldest first and include the live turn while one is in flight.
type Snapshot struct {
	ConversationID string        `json:"conversation_id"`
	Scope          models.Scope  `json:"scope"`
	TargetID       string        `json:"target_id"`
	ChatID         string        `json:"chat_id,omitempty"`
	Version        uint64        `json:"version"`
	Phase          Phase         `json:"phase"`
	Pending        bool          `json:"pending"`
	ProgressLabel  string        `json:"progress_label"`
	ShowThinking   bool          `json:"show_thinking"`
	Banner         string        `json:"banner,omitempty"`
	HasMore        bool          `json:"has_more"`
	LoadingHistory bool          `json:"loading_history"`
	Turns          []models.Turn `json:"turns"`
}

// Summary describes a conversation in listings.
type Summary struct {
	ConversationID string       `json:"conversation_id"`
	Scope          models.Scope `json:"scope"`
	TargetID       string       `json:"target_id"`
	ChatID         string       `json:"chat_id,omitempty"`
	Phase          Phase        `json:"phase"`
	LastActivity   time.Time    `json:"last_activity"`
}

// Config holds per-conversation behavior settings.
type Config struct {
	PageSize          int           // history page size (default: 10)
	MaxQueryLength    int           // max query length in characters, 0 means unlimited
	FirstEventTimeout time.Duration // max wait for the first event of a turn, 0 disables
	StreamIdleTimeout time.Duration // max gap between events once streaming, 0 disables
	StopTimeout       time.Duration // timeout of the background stop call
	Retry             *RetryPolicy  // retry policy for authoritative fetches
}

// DefaultConfig returns the built-in conversation settings.
func DefaultConfig() Config {
	return Config{
		PageSize:          history.DefaultPageSize,
		MaxQueryLength:    4000,
		FirstEventTimeout: 60 * time.Second,
		StreamIdleTimeout: 5 * time.Minute,
		StopTimeout:       10 * time.Second,
		Retry:             DefaultRetryPolicy(),
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.PageSize <= 0 {
		c.PageSize = d.PageSize
	}
	if c.StopTimeout <= 0 {
		c.StopTimeout = d.StopTimeout
	}
	if c.Retry == nil {
		c.Retry = d.Retry
	}
	return c
}
