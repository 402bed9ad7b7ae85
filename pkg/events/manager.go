package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/codeready-toolchain/notebookchat/pkg/session"
)

// SnapshotSource provides current conversation state for catch-up.
// Implemented by session.Manager.
type SnapshotSource interface {
	Snapshot(conversationID string) (session.Snapshot, bool)
	List() []session.Summary
}

// ConnectionManager manages WebSocket connections and channel subscriptions.
// Each gateway process has one ConnectionManager instance.
type ConnectionManager struct {
	// Active connections: connection_id → *Connection
	connections map[string]*Connection
	mu          sync.RWMutex

	// Channel subscriptions: channel → set of connection_ids
	channels  map[string]map[string]bool
	channelMu sync.RWMutex

	source SnapshotSource

	// Write timeout for WebSocket sends
	writeTimeout time.Duration
}

// Connection represents a single WebSocket client.
//
// subscriptions is accessed WITHOUT a lock. All reads and writes happen on
// the goroutine that owns this connection (HandleConnection's read loop and
// its deferred cleanup).
type Connection struct {
	ID            string
	Conn          *websocket.Conn
	subscriptions map[string]bool // channels this connection is subscribed to
	ctx           context.Context
	cancel        context.CancelFunc
}

// NewConnectionManager creates a new ConnectionManager.
func NewConnectionManager(source SnapshotSource, writeTimeout time.Duration) *ConnectionManager {
	if writeTimeout <= 0 {
		writeTimeout = 10 * time.Second
	}
	return &ConnectionManager{
		connections:  make(map[string]*Connection),
		channels:     make(map[string]map[string]bool),
		source:       source,
		writeTimeout: writeTimeout,
	}
}

// HandleConnection manages the lifecycle of a single WebSocket connection.
// Called by the WebSocket HTTP handler after upgrade. Blocks until the
// connection closes.
func (m *ConnectionManager) HandleConnection(parentCtx context.Context, conn *websocket.Conn) {
	connID := uuid.New().String()
	ctx, cancel := context.WithCancel(parentCtx)

	c := &Connection{
		ID:            connID,
		Conn:          conn,
		subscriptions: make(map[string]bool),
		ctx:           ctx,
		cancel:        cancel,
	}

	m.registerConnection(c)
	defer m.unregisterConnection(c)

	m.sendJSON(c, map[string]string{
		"type":          EventTypeConnectionEstablished,
		"connection_id": connID,
	})

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}

		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			slog.Warn("Invalid WebSocket message",
				"connection_id", connID, "error", err)
			continue
		}

		m.handleClientMessage(c, &msg)
	}
}

// Broadcast sends an event payload to all connections subscribed to the given channel.
func (m *ConnectionManager) Broadcast(channel string, event []byte) {
	m.channelMu.RLock()
	connIDs, exists := m.channels[channel]
	if !exists {
		m.channelMu.RUnlock()
		return
	}
	ids := make([]string, 0, len(connIDs))
	for id := range connIDs {
		ids = append(ids, id)
	}
	m.channelMu.RUnlock()

	// Collect connection pointers, then send without holding mu so a slow
	// client cannot stall register/unregister.
	m.mu.RLock()
	conns := make([]*Connection, 0, len(ids))
	for _, id := range ids {
		if conn, ok := m.connections[id]; ok {
			conns = append(conns, conn)
		}
	}
	m.mu.RUnlock()

	for _, conn := range conns {
		if err := m.sendRaw(conn, event); err != nil {
			slog.Warn("Failed to send to WebSocket client",
				"connection_id", conn.ID, "channel", channel, "error", err)
		}
	}
}

// ActiveConnections returns the count of active WebSocket connections.
func (m *ConnectionManager) ActiveConnections() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.connections)
}

// subscriberCount returns the number of subscribers for a channel.
// Used by tests to poll instead of sleeping.
func (m *ConnectionManager) subscriberCount(channel string) int {
	m.channelMu.RLock()
	defer m.channelMu.RUnlock()
	return len(m.channels[channel])
}

// handleClientMessage dispatches a client message to the appropriate handler.
func (m *ConnectionManager) handleClientMessage(c *Connection, msg *ClientMessage) {
	switch msg.Action {
	case ActionSubscribe:
		if msg.Channel == "" {
			m.sendJSON(c, map[string]string{"type": EventTypeError, "message": "channel is required for subscribe"})
			return
		}
		if !m.channelExists(msg.Channel) {
			m.sendJSON(c, map[string]string{
				"type":    EventTypeSubscriptionError,
				"channel": msg.Channel,
				"message": "unknown channel",
			})
			return
		}
		m.subscribe(c, msg.Channel)
		m.sendJSON(c, map[string]string{
			"type":    EventTypeSubscriptionConfirmed,
			"channel": msg.Channel,
		})
		// Auto catch-up: deliver current state so late subscribers start complete.
		m.handleCatchup(c, msg.Channel, nil)

	case ActionUnsubscribe:
		if msg.Channel == "" {
			m.sendJSON(c, map[string]string{"type": EventTypeError, "message": "channel is required for unsubscribe"})
			return
		}
		m.unsubscribe(c, msg.Channel)

	case ActionCatchup:
		if msg.Channel == "" {
			m.sendJSON(c, map[string]string{"type": EventTypeError, "message": "channel is required for catchup"})
			return
		}
		m.handleCatchup(c, msg.Channel, msg.LastVersion)

	case ActionPing:
		m.sendJSON(c, map[string]string{"type": EventTypePong})

	default:
		m.sendJSON(c, map[string]string{"type": EventTypeError, "message": "unknown action " + msg.Action})
	}
}

// channelExists reports whether a subscription to channel can ever receive
// anything.
func (m *ConnectionManager) channelExists(channel string) bool {
	if channel == GlobalConversationsChannel {
		return true
	}
	id, ok := ParseConversationChannel(channel)
	if !ok {
		return false
	}
	if m.source == nil {
		return true
	}
	_, ok = m.source.Snapshot(id)
	return ok
}

// subscribe registers a connection for a channel.
func (m *ConnectionManager) subscribe(c *Connection, channel string) {
	m.channelMu.Lock()
	if _, exists := m.channels[channel]; !exists {
		m.channels[channel] = make(map[string]bool)
	}
	m.channels[channel][c.ID] = true
	m.channelMu.Unlock()

	c.subscriptions[channel] = true
}

// unsubscribe removes a connection from a channel.
func (m *ConnectionManager) unsubscribe(c *Connection, channel string) {
	m.channelMu.Lock()
	if subs, exists := m.channels[channel]; exists {
		delete(subs, c.ID)
		if len(subs) == 0 {
			delete(m.channels, channel)
		}
	}
	m.channelMu.Unlock()

	delete(c.subscriptions, channel)
}

// handleCatchup sends the current state of channel. For a conversation
// channel with lastVersion set, nothing is sent unless the current snapshot
// is newer.
func (m *ConnectionManager) handleCatchup(c *Connection, channel string, lastVersion *uint64) {
	if m.source == nil {
		return
	}

	if channel == GlobalConversationsChannel {
		m.sendJSON(c, ListPayload{
			Type:          EventTypeConversationList,
			Conversations: m.source.List(),
		})
		return
	}

	id, ok := ParseConversationChannel(channel)
	if !ok {
		return
	}
	snap, ok := m.source.Snapshot(id)
	if !ok {
		m.sendJSON(c, ClosedPayload{Type: EventTypeConversationClosed, ConversationID: id})
		return
	}
	if lastVersion != nil && snap.Version <= *lastVersion {
		return
	}
	m.sendJSON(c, newSnapshotPayload(snap))
}

// registerConnection adds a connection to the tracking map.
func (m *ConnectionManager) registerConnection(c *Connection) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connections[c.ID] = c
}

// unregisterConnection removes a connection and all its subscriptions.
func (m *ConnectionManager) unregisterConnection(c *Connection) {
	for ch := range c.subscriptions {
		m.unsubscribe(c, ch)
	}

	m.mu.Lock()
	delete(m.connections, c.ID)
	m.mu.Unlock()

	c.cancel()
	_ = c.Conn.Close(websocket.StatusNormalClosure, "")
}

// sendJSON marshals and sends a JSON message to a single connection.
func (m *ConnectionManager) sendJSON(c *Connection, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		slog.Warn("Failed to marshal WebSocket message",
			"connection_id", c.ID, "error", err)
		return
	}
	if err := m.sendRaw(c, data); err != nil {
		slog.Warn("Failed to send WebSocket message",
			"connection_id", c.ID, "error", err)
	}
}

// sendRaw sends raw bytes to a single connection with a write timeout.
func (m *ConnectionManager) sendRaw(c *Connection, data []byte) error {
	writeCtx, cancel := context.WithTimeout(c.ctx, m.writeTimeout)
	defer cancel()
	return c.Conn.Write(writeCtx, websocket.MessageText, data)
}
