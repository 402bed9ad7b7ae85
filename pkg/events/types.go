// Package events delivers conversation state to browsers over WebSocket.
//
// Every state change of a conversation produces a full snapshot carrying a
// monotonically increasing version. Snapshots are pushed to the channel
// "conversation:{id}". A subscriber first receives subscription.confirmed
// and then the current snapshot, so a late subscriber never misses state.
//
// Broadcasts and catch-up replies may interleave. Clients keep the snapshot
// with the highest version and ignore anything older.
//
// The "conversations" channel carries a summary whenever a conversation
// changes phase, and a conversation.closed message when it is removed.
package events

// Server → client message types.
const (
	EventTypeConnectionEstablished = "connection.established"
	EventTypeSubscriptionConfirmed = "subscription.confirmed"
	EventTypeSubscriptionError     = "subscription.error"
	EventTypeError                 = "error"
	EventTypePong                  = "pong"

	// Full conversation state, versioned.
	EventTypeConversationSnapshot = "conversation.snapshot"

	// Phase change of one conversation, on the global channel.
	EventTypeConversationSummary = "conversation.summary"

	// Current conversation list, sent as catch-up on the global channel.
	EventTypeConversationList = "conversation.list"

	// A conversation was removed; sent on both channels.
	EventTypeConversationClosed = "conversation.closed"
)

// Client → server actions.
const (
	ActionSubscribe   = "subscribe"
	ActionUnsubscribe = "unsubscribe"
	ActionCatchup     = "catchup"
	ActionPing        = "ping"
)

// GlobalConversationsChannel is the channel for conversation-level summaries.
// The conversation list page subscribes to this for real-time updates.
const GlobalConversationsChannel = "conversations"

const conversationChannelPrefix = "conversation:"

// ConversationChannel returns the channel name for a specific conversation.
// Format: "conversation:{conversation_id}"
func ConversationChannel(conversationID string) string {
	return conversationChannelPrefix + conversationID
}

// ParseConversationChannel returns the conversation id of a conversation
// channel name.
func ParseConversationChannel(channel string) (string, bool) {
	if len(channel) <= len(conversationChannelPrefix) || channel[:len(conversationChannelPrefix)] != conversationChannelPrefix {
		return "", false
	}
	return channel[len(conversationChannelPrefix):], true
}

// ClientMessage is the JSON structure for client → server WebSocket messages.
type ClientMessage struct {
	Action      string  `json:"action"`                 // "subscribe", "unsubscribe", "catchup", "ping"
	Channel     string  `json:"channel,omitempty"`      // Channel name (e.g., "conversation:abc-123")
	LastVersion *uint64 `json:"last_version,omitempty"` // For catchup
}
