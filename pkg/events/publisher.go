package events

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/codeready-toolchain/notebookchat/pkg/session"
)

// Broadcaster delivers an encoded event to every subscriber of a channel.
// Implemented by ConnectionManager.
type Broadcaster interface {
	Broadcast(channel string, event []byte)
}

// Publisher pushes conversation state changes to WebSocket subscribers.
//
// Every snapshot goes to its conversation channel. A summary goes to the
// global channel only when the phase changes, so streaming events do not
// flood the conversation list.
type Publisher struct {
	broadcaster Broadcaster

	mu       sync.Mutex
	phases   map[string]session.Phase
	detaches map[string]func()
}

// NewPublisher creates a new Publisher.
func NewPublisher(b Broadcaster) *Publisher {
	return &Publisher{
		broadcaster: b,
		phases:      make(map[string]session.Phase),
		detaches:    make(map[string]func()),
	}
}

// Attach starts publishing the snapshots of ctrl. Pass it to
// session.Manager.OnCreate.
func (p *Publisher) Attach(ctrl *session.Controller) {
	detach := ctrl.OnChange(func(snap session.Snapshot) {
		if err := p.PublishSnapshot(snap); err != nil {
			slog.Warn("Failed to publish conversation snapshot",
				"conversation_id", snap.ConversationID, "version", snap.Version, "error", err)
		}
	})

	p.mu.Lock()
	p.detaches[ctrl.ID()] = detach
	p.mu.Unlock()
}

// PublishSnapshot broadcasts snap to its conversation channel, plus a
// summary to the global channel when the phase changed.
func (p *Publisher) PublishSnapshot(snap session.Snapshot) error {
	payload, err := json.Marshal(newSnapshotPayload(snap))
	if err != nil {
		return fmt.Errorf("failed to marshal SnapshotPayload: %w", err)
	}
	p.broadcaster.Broadcast(ConversationChannel(snap.ConversationID), payload)

	p.mu.Lock()
	prev, seen := p.phases[snap.ConversationID]
	p.phases[snap.ConversationID] = snap.Phase
	p.mu.Unlock()
	if seen && prev == snap.Phase {
		return nil
	}

	summary, err := json.Marshal(SummaryPayload{
		Type:    EventTypeConversationSummary,
		Summary: summaryOf(snap, time.Now()),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal SummaryPayload: %w", err)
	}
	p.broadcaster.Broadcast(GlobalConversationsChannel, summary)
	return nil
}

// PublishClosed stops publishing a conversation and tells both its
// subscribers and the global channel that it is gone.
func (p *Publisher) PublishClosed(conversationID string) error {
	p.mu.Lock()
	detach := p.detaches[conversationID]
	delete(p.detaches, conversationID)
	delete(p.phases, conversationID)
	p.mu.Unlock()
	if detach != nil {
		detach()
	}

	payload, err := json.Marshal(ClosedPayload{
		Type:           EventTypeConversationClosed,
		ConversationID: conversationID,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal ClosedPayload: %w", err)
	}
	p.broadcaster.Broadcast(ConversationChannel(conversationID), payload)
	p.broadcaster.Broadcast(GlobalConversationsChannel, payload)
	return nil
}
