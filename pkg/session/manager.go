package session

import (
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/codeready-toolchain/notebookchat/pkg/models"
)

// Manager keeps the conversations of this gateway in memory.
type Manager struct {
	api API
	cfg Config

	mu            sync.RWMutex
	conversations map[string]*Controller
	onCreate      []func(*Controller)
	onRemove      []func(id string)
}

// NewManager creates a new conversation manager
func NewManager(api API, cfg Config) *Manager {
	return &Manager{
		api:           api,
		cfg:           cfg,
		conversations: make(map[string]*Controller),
	}
}

// OnCreate registers fn to run for every conversation the manager creates,
// before Create returns it.
func (m *Manager) OnCreate(fn func(*Controller)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onCreate = append(m.onCreate, fn)
}

// OnRemove registers fn to run after a conversation is removed or evicted.
func (m *Manager) OnRemove(fn func(id string)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onRemove = append(m.onRemove, fn)
}

func (m *Manager) removed(ids ...string) {
	m.mu.RLock()
	hooks := append([]func(string){}, m.onRemove...)
	m.mu.RUnlock()
	for _, id := range ids {
		for _, fn := range hooks {
			fn(id)
		}
	}
}

// Create opens a conversation for the given target. chatID resumes an
// existing upstream chat and may be empty.
func (m *Manager) Create(req models.CreateConversationRequest) (*Controller, error) {
	if !req.Scope.Valid() {
		return nil, NewValidationError("scope", "must be \"notebook\" or \"datasource\"")
	}
	targetID := strings.TrimSpace(req.TargetID)
	if targetID == "" {
		return nil, NewValidationError("target_id", "required")
	}

	id := uuid.New().String()
	ctrl := NewController(id, models.Target{Scope: req.Scope, ID: targetID}, strings.TrimSpace(req.ChatID), m.api, m.cfg)

	m.mu.Lock()
	m.conversations[id] = ctrl
	hooks := append([]func(*Controller){}, m.onCreate...)
	m.mu.Unlock()

	for _, fn := range hooks {
		fn(ctrl)
	}
	slog.Info("Conversation created",
		"conversation_id", id,
		"scope", req.Scope,
		"target_id", targetID,
		"chat_id", req.ChatID)
	return ctrl, nil
}

// Get retrieves a conversation by ID
func (m *Manager) Get(id string) (*Controller, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ctrl, ok := m.conversations[id]
	if !ok {
		return nil, ErrConversationNotFound
	}
	return ctrl, nil
}

// Snapshot returns the current snapshot of a conversation.
func (m *Manager) Snapshot(id string) (Snapshot, bool) {
	ctrl, err := m.Get(id)
	if err != nil {
		return Snapshot{}, false
	}
	return ctrl.Snapshot(), true
}

// List returns all conversations, most recently active first.
func (m *Manager) List() []Summary {
	m.mu.RLock()
	ctrls := make([]*Controller, 0, len(m.conversations))
	for _, c := range m.conversations {
		ctrls = append(ctrls, c)
	}
	m.mu.RUnlock()

	out := make([]Summary, 0, len(ctrls))
	for _, c := range ctrls {
		out = append(out, c.Summary())
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].LastActivity.After(out[j].LastActivity)
	})
	return out
}

// Count returns the number of open conversations.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.conversations)
}

// Remove closes and removes a conversation.
func (m *Manager) Remove(id string) error {
	m.mu.Lock()
	ctrl, ok := m.conversations[id]
	if ok {
		delete(m.conversations, id)
	}
	m.mu.Unlock()

	if !ok {
		return ErrConversationNotFound
	}
	ctrl.Close()
	m.removed(id)
	slog.Info("Conversation removed", "conversation_id", id)
	return nil
}

// EvictIdle closes and removes conversations with no turn in flight and no
// activity for at least ttl. Returns the number evicted.
func (m *Manager) EvictIdle(ttl time.Duration) int {
	cutoff := time.Now().Add(-ttl)

	m.mu.Lock()
	var idle []*Controller
	var ids []string
	for id, c := range m.conversations {
		if c.IdleSince(cutoff) {
			idle = append(idle, c)
			ids = append(ids, id)
			delete(m.conversations, id)
		}
	}
	m.mu.Unlock()

	for _, c := range idle {
		c.Close()
	}
	m.removed(ids...)
	return len(idle)
}

// Close closes every conversation.
func (m *Manager) Close() {
	m.mu.Lock()
	ctrls := make([]*Controller, 0, len(m.conversations))
	for id, c := range m.conversations {
		ctrls = append(ctrls, c)
		delete(m.conversations, id)
	}
	m.mu.Unlock()

	for _, c := range ctrls {
		c.Close()
	}
}
