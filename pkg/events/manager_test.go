package events

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/notebookchat/pkg/models"
	"github.com/codeready-toolchain/notebookchat/pkg/session"
)

// fakeSource implements SnapshotSource for tests.
type fakeSource struct {
	mu    sync.Mutex
	snaps map[string]session.Snapshot
}

func newFakeSource(snaps ...session.Snapshot) *fakeSource {
	s := &fakeSource{snaps: make(map[string]session.Snapshot)}
	for _, snap := range snaps {
		s.snaps[snap.ConversationID] = snap
	}
	return s
}

func (s *fakeSource) Snapshot(id string) (session.Snapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, ok := s.snaps[id]
	return snap, ok
}

func (s *fakeSource) List() []session.Summary {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]session.Summary, 0, len(s.snaps))
	for _, snap := range s.snaps {
		out = append(out, summaryOf(snap, time.Time{}))
	}
	return out
}

func (s *fakeSource) set(snap session.Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snaps[snap.ConversationID] = snap
}

func (s *fakeSource) remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.snaps, id)
}

func testSnapshot(id string, version uint64) session.Snapshot {
	return session.Snapshot{
		ConversationID: id,
		Scope:          models.ScopeNotebook,
		TargetID:       "nb-1",
		Version:        version,
		Phase:          session.PhaseIdle,
		Turns:          []models.Turn{},
	}
}

func setupTestManager(t *testing.T, source SnapshotSource) (*ConnectionManager, *httptest.Server) {
	t.Helper()

	manager := NewConnectionManager(source, 5*time.Second)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			InsecureSkipVerify: true,
		})
		if err != nil {
			t.Logf("WebSocket accept error: %v", err)
			return
		}
		manager.HandleConnection(r.Context(), conn)
	}))

	t.Cleanup(func() { server.Close() })
	return manager, server
}

func connectWS(t *testing.T, server *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + server.URL[len("http"):]
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

func readJSON(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, data, err := conn.Read(ctx)
	require.NoError(t, err)

	var msg map[string]any
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func writeJSON(t *testing.T, conn *websocket.Conn, msg ClientMessage) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	data, err := json.Marshal(msg)
	require.NoError(t, err)
	require.NoError(t, conn.Write(ctx, websocket.MessageText, data))
}

// subscribe subscribes conn to channel and consumes the confirmation and
// the catch-up message that follows it.
func subscribe(t *testing.T, manager *ConnectionManager, conn *websocket.Conn, channel string) map[string]any {
	t.Helper()
	writeJSON(t, conn, ClientMessage{Action: ActionSubscribe, Channel: channel})

	msg := readJSON(t, conn)
	require.Equal(t, EventTypeSubscriptionConfirmed, msg["type"])
	require.Equal(t, channel, msg["channel"])
	catchup := readJSON(t, conn)

	require.Eventually(t, func() bool { return manager.subscriberCount(channel) > 0 },
		2*time.Second, 5*time.Millisecond)
	return catchup
}

func assertNoMessage(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	_, _, err := conn.Read(ctx)
	assert.Error(t, err, "expected no message")
}

func TestConnectionManager_ConnectionEstablished(t *testing.T) {
	_, server := setupTestManager(t, newFakeSource())
	conn := connectWS(t, server)

	msg := readJSON(t, conn)
	assert.Equal(t, EventTypeConnectionEstablished, msg["type"])
	assert.NotEmpty(t, msg["connection_id"])
}

func TestConnectionManager_SubscribeSendsSnapshot(t *testing.T) {
	manager, server := setupTestManager(t, newFakeSource(testSnapshot("c1", 7)))
	conn := connectWS(t, server)
	readJSON(t, conn) // connection.established

	catchup := subscribe(t, manager, conn, ConversationChannel("c1"))
	assert.Equal(t, EventTypeConversationSnapshot, catchup["type"])
	assert.Equal(t, "conversation:c1", catchup["channel"])
	assert.Equal(t, float64(7), catchup["version"])

	snap, ok := catchup["snapshot"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "c1", snap["conversation_id"])
	assert.Equal(t, "idle", snap["phase"])
	assert.Equal(t, 1, manager.ActiveConnections())
}

func TestConnectionManager_SubscribeErrors(t *testing.T) {
	manager, server := setupTestManager(t, newFakeSource())
	conn := connectWS(t, server)
	readJSON(t, conn) // connection.established

	tests := []struct {
		name     string
		channel  string
		wantType string
	}{
		{"missing channel", "", EventTypeError},
		{"unknown conversation", ConversationChannel("missing"), EventTypeSubscriptionError},
		{"malformed channel", "session:abc", EventTypeSubscriptionError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			writeJSON(t, conn, ClientMessage{Action: ActionSubscribe, Channel: tt.channel})
			msg := readJSON(t, conn)
			assert.Equal(t, tt.wantType, msg["type"])
			assert.Zero(t, manager.subscriberCount(tt.channel))
		})
	}
}

func TestConnectionManager_GlobalChannelSendsList(t *testing.T) {
	manager, server := setupTestManager(t, newFakeSource(testSnapshot("c1", 1), testSnapshot("c2", 1)))
	conn := connectWS(t, server)
	readJSON(t, conn) // connection.established

	catchup := subscribe(t, manager, conn, GlobalConversationsChannel)
	assert.Equal(t, EventTypeConversationList, catchup["type"])
	list, ok := catchup["conversations"].([]any)
	require.True(t, ok)
	assert.Len(t, list, 2)
}

func TestConnectionManager_Catchup(t *testing.T) {
	source := newFakeSource(testSnapshot("c1", 3))
	manager, server := setupTestManager(t, source)
	conn := connectWS(t, server)
	readJSON(t, conn) // connection.established
	subscribe(t, manager, conn, ConversationChannel("c1"))

	version := func(v uint64) *uint64 { return &v }

	// Up to date: nothing is resent, a ping proves the order.
	writeJSON(t, conn, ClientMessage{Action: ActionCatchup, Channel: ConversationChannel("c1"), LastVersion: version(3)})
	writeJSON(t, conn, ClientMessage{Action: ActionPing})
	assert.Equal(t, EventTypePong, readJSON(t, conn)["type"])

	// Behind: the newer snapshot is resent.
	source.set(testSnapshot("c1", 5))
	writeJSON(t, conn, ClientMessage{Action: ActionCatchup, Channel: ConversationChannel("c1"), LastVersion: version(3)})
	msg := readJSON(t, conn)
	assert.Equal(t, EventTypeConversationSnapshot, msg["type"])
	assert.Equal(t, float64(5), msg["version"])

	// Without last_version the current snapshot is always sent.
	writeJSON(t, conn, ClientMessage{Action: ActionCatchup, Channel: ConversationChannel("c1")})
	assert.Equal(t, float64(5), readJSON(t, conn)["version"])

	// Gone: the client is told the conversation was closed.
	source.remove("c1")
	writeJSON(t, conn, ClientMessage{Action: ActionCatchup, Channel: ConversationChannel("c1"), LastVersion: version(5)})
	msg = readJSON(t, conn)
	assert.Equal(t, EventTypeConversationClosed, msg["type"])
	assert.Equal(t, "c1", msg["conversation_id"])
}

func TestConnectionManager_Broadcast(t *testing.T) {
	manager, server := setupTestManager(t, newFakeSource(testSnapshot("c1", 1)))
	channel := ConversationChannel("c1")

	conn1 := connectWS(t, server)
	conn2 := connectWS(t, server)
	readJSON(t, conn1)
	readJSON(t, conn2)
	subscribe(t, manager, conn1, channel)
	subscribe(t, manager, conn2, channel)

	payload, _ := json.Marshal(map[string]string{"type": "test", "data": "hello"})
	manager.Broadcast(channel, payload)

	msg1 := readJSON(t, conn1)
	msg2 := readJSON(t, conn2)

	assert.Equal(t, "test", msg1["type"])
	assert.Equal(t, "hello", msg1["data"])
	assert.Equal(t, "test", msg2["type"])
	assert.Equal(t, "hello", msg2["data"])
}

func TestConnectionManager_PingPong(t *testing.T) {
	_, server := setupTestManager(t, newFakeSource())
	conn := connectWS(t, server)
	readJSON(t, conn) // connection.established

	writeJSON(t, conn, ClientMessage{Action: ActionPing})
	assert.Equal(t, EventTypePong, readJSON(t, conn)["type"])
}

func TestConnectionManager_UnknownAction(t *testing.T) {
	_, server := setupTestManager(t, newFakeSource())
	conn := connectWS(t, server)
	readJSON(t, conn) // connection.established

	writeJSON(t, conn, ClientMessage{Action: "dance"})
	msg := readJSON(t, conn)
	assert.Equal(t, EventTypeError, msg["type"])
	assert.Contains(t, msg["message"], "dance")
}

func TestConnectionManager_InvalidMessageKeepsConnection(t *testing.T) {
	_, server := setupTestManager(t, newFakeSource())
	conn := connectWS(t, server)
	readJSON(t, conn) // connection.established

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, conn.Write(ctx, websocket.MessageText, []byte("{not json")))

	writeJSON(t, conn, ClientMessage{Action: ActionPing})
	assert.Equal(t, EventTypePong, readJSON(t, conn)["type"])
}

func TestConnectionManager_ConcurrentBroadcast(t *testing.T) {
	manager, server := setupTestManager(t, newFakeSource(testSnapshot("c1", 1)))
	channel := ConversationChannel("c1")
	conn := connectWS(t, server)
	readJSON(t, conn) // connection.established
	subscribe(t, manager, conn, channel)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			payload, _ := json.Marshal(map[string]any{"type": "concurrent", "idx": idx})
			manager.Broadcast(channel, payload)
		}(i)
	}
	wg.Wait()

	received := 0
	var firstErr error
	for i := 0; i < 20; i++ {
		readCtx, readCancel := context.WithTimeout(context.Background(), 5*time.Second)
		_, _, err := conn.Read(readCtx)
		readCancel()
		if err != nil {
			firstErr = err
			break
		}
		received++
	}
	assert.Equal(t, 20, received, "should receive all 20 broadcast messages; first error: %v", firstErr)
}

func TestConnectionManager_BroadcastToNonExistentChannel(t *testing.T) {
	manager, _ := setupTestManager(t, newFakeSource())

	// Should not panic
	payload, _ := json.Marshal(map[string]string{"type": "test"})
	manager.Broadcast("nonexistent-channel", payload)
}

func TestConnectionManager_MultipleChannels(t *testing.T) {
	manager, server := setupTestManager(t, newFakeSource(testSnapshot("ch1", 1), testSnapshot("ch2", 1)))
	conn := connectWS(t, server)
	readJSON(t, conn) // connection.established

	subscribe(t, manager, conn, ConversationChannel("ch1"))
	subscribe(t, manager, conn, ConversationChannel("ch2"))

	payload, _ := json.Marshal(map[string]string{"type": "test", "channel": "ch1"})
	manager.Broadcast(ConversationChannel("ch1"), payload)
	assert.Equal(t, "ch1", readJSON(t, conn)["channel"])

	payload2, _ := json.Marshal(map[string]string{"type": "test", "channel": "ch2"})
	manager.Broadcast(ConversationChannel("ch2"), payload2)
	assert.Equal(t, "ch2", readJSON(t, conn)["channel"])
}

func TestConnectionManager_Unsubscribe(t *testing.T) {
	manager, server := setupTestManager(t, newFakeSource(testSnapshot("c1", 1)))
	channel := ConversationChannel("c1")
	conn := connectWS(t, server)
	readJSON(t, conn) // connection.established
	subscribe(t, manager, conn, channel)

	writeJSON(t, conn, ClientMessage{Action: ActionUnsubscribe, Channel: channel})
	require.Eventually(t, func() bool { return manager.subscriberCount(channel) == 0 },
		2*time.Second, 5*time.Millisecond)

	payload, _ := json.Marshal(map[string]string{"type": "should-not-receive"})
	manager.Broadcast(channel, payload)
	assertNoMessage(t, conn)
}

func TestConnectionManager_DisconnectCleansUp(t *testing.T) {
	manager, server := setupTestManager(t, newFakeSource(testSnapshot("c1", 1)))
	channel := ConversationChannel("c1")
	conn := connectWS(t, server)
	readJSON(t, conn) // connection.established
	subscribe(t, manager, conn, channel)

	require.NoError(t, conn.Close(websocket.StatusNormalClosure, "bye"))

	require.Eventually(t, func() bool {
		return manager.ActiveConnections() == 0 && manager.subscriberCount(channel) == 0
	}, 2*time.Second, 10*time.Millisecond)
}
