package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/notebookchat/pkg/models"
)

func TestManager_CreateValidates(t *testing.T) {
	m := NewManager(newFakeAPI(), testConfig())
	defer m.Close()

	tests := []struct {
		name  string
		req   models.CreateConversationRequest
		field string
	}{
		{"unknown scope", models.CreateConversationRequest{Scope: "dashboard", TargetID: "x"}, "scope"},
		{"missing target", models.CreateConversationRequest{Scope: models.ScopeNotebook, TargetID: "  "}, "target_id"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := m.Create(tt.req)
			var ve *ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tt.field, ve.Field)
		})
	}
	assert.Zero(t, m.Count())
}

func TestManager_Lifecycle(t *testing.T) {
	m := NewManager(newFakeAPI(), testConfig())
	defer m.Close()

	var hooked, removed []string
	m.OnCreate(func(c *Controller) { hooked = append(hooked, c.ID()) })
	m.OnRemove(func(id string) { removed = append(removed, id) })

	nb, err := m.Create(models.CreateConversationRequest{Scope: models.ScopeNotebook, TargetID: "nb-1"})
	require.NoError(t, err)
	ds, err := m.Create(models.CreateConversationRequest{Scope: models.ScopeDatasource, TargetID: "ds-1", ChatID: "chat-9"})
	require.NoError(t, err)

	assert.Equal(t, []string{nb.ID(), ds.ID()}, hooked)
	assert.Equal(t, 2, m.Count())

	got, err := m.Get(ds.ID())
	require.NoError(t, err)
	assert.Same(t, ds, got)
	assert.Equal(t, "chat-9", got.Snapshot().ChatID)
	assert.True(t, got.Snapshot().HasMore)

	snap, ok := m.Snapshot(nb.ID())
	require.True(t, ok)
	assert.Equal(t, models.ScopeNotebook, snap.Scope)
	assert.Equal(t, "nb-1", snap.TargetID)

	nb.mu.Lock()
	nb.lastActivity = time.Now().Add(-time.Minute)
	nb.mu.Unlock()

	list := m.List()
	require.Len(t, list, 2)
	assert.Equal(t, ds.ID(), list[0].ConversationID, "most recent first")

	require.NoError(t, m.Remove(nb.ID()))
	assert.ErrorIs(t, m.Remove(nb.ID()), ErrConversationNotFound)
	assert.Equal(t, []string{nb.ID()}, removed)
	_, err = m.Get(nb.ID())
	assert.ErrorIs(t, err, ErrConversationNotFound)
	_, ok = m.Snapshot(nb.ID())
	assert.False(t, ok)
	assert.ErrorIs(t, nb.Submit(context.Background(), "q"), ErrClosed)
}

func TestManager_EvictIdle(t *testing.T) {
	api := newFakeAPI()
	m := NewManager(api, testConfig())
	defer m.Close()
	var evicted []string
	m.OnRemove(func(id string) { evicted = append(evicted, id) })

	idle, err := m.Create(models.CreateConversationRequest{Scope: models.ScopeNotebook, TargetID: "nb-1"})
	require.NoError(t, err)
	busy, err := m.Create(models.CreateConversationRequest{Scope: models.ScopeNotebook, TargetID: "nb-2"})
	require.NoError(t, err)
	fresh, err := m.Create(models.CreateConversationRequest{Scope: models.ScopeNotebook, TargetID: "nb-3"})
	require.NoError(t, err)

	require.NoError(t, busy.Submit(context.Background(), "still running"))

	old := time.Now().Add(-2 * time.Hour)
	for _, c := range []*Controller{idle, busy} {
		c.mu.Lock()
		c.lastActivity = old
		c.mu.Unlock()
	}

	assert.Equal(t, 1, m.EvictIdle(time.Hour))
	assert.Equal(t, []string{idle.ID()}, evicted)
	_, err = m.Get(idle.ID())
	assert.ErrorIs(t, err, ErrConversationNotFound)
	_, err = m.Get(busy.ID())
	assert.NoError(t, err, "conversations with a turn in flight are kept")
	_, err = m.Get(fresh.ID())
	assert.NoError(t, err)
}
