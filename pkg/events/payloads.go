package events

import (
	"time"

	"github.com/codeready-toolchain/notebookchat/pkg/session"
)

// SnapshotPayload is the payload for conversation.snapshot events.
type SnapshotPayload struct {
	Type     string           `json:"type"`    // always EventTypeConversationSnapshot
	Channel  string           `json:"channel"` // conversation channel
	Version  uint64           `json:"version"` // same as Snapshot.Version
	Snapshot session.Snapshot `json:"snapshot"`
}

// SummaryPayload is the payload for conversation.summary events.
type SummaryPayload struct {
	Type    string          `json:"type"` // always EventTypeConversationSummary
	Summary session.Summary `json:"summary"`
}

// ListPayload is the payload for conversation.list events.
type ListPayload struct {
	Type          string            `json:"type"` // always EventTypeConversationList
	Conversations []session.Summary `json:"conversations"`
}

// ClosedPayload is the payload for conversation.closed events.
type ClosedPayload struct {
	Type           string `json:"type"` // always EventTypeConversationClosed
	ConversationID string `json:"conversation_id"`
}

func newSnapshotPayload(snap session.Snapshot) SnapshotPayload {
	return SnapshotPayload{
		Type:     EventTypeConversationSnapshot,
		Channel:  ConversationChannel(snap.ConversationID),
		Version:  snap.Version,
		Snapshot: snap,
	}
}

// summaryOf derives a summary from a snapshot delivered at time at.
func summaryOf(snap session.Snapshot, at time.Time) session.Summary {
	return session.Summary{
		ConversationID: snap.ConversationID,
		Scope:          snap.Scope,
		TargetID:       snap.TargetID,
		ChatID:         snap.ChatID,
		Phase:          snap.Phase,
		LastActivity:   at,
	}
}
