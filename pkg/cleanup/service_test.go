package cleanup

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/codeready-toolchain/notebookchat/pkg/config"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeEvictor struct {
	mu    sync.Mutex
	calls []time.Duration
	evict int
}

func (f *fakeEvictor) EvictIdle(ttl time.Duration) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, ttl)
	return f.evict
}

func (f *fakeEvictor) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func TestService_EvictsOnEveryTick(t *testing.T) {
	evictor := &fakeEvictor{evict: 2}
	cfg := &config.RetentionConfig{
		ConversationTTL: 42 * time.Minute,
		CleanupInterval: 5 * time.Millisecond,
	}
	svc := NewService(cfg, evictor)
	svc.Start(context.Background())
	defer svc.Stop()

	require.Eventually(t, func() bool { return evictor.callCount() >= 3 },
		2*time.Second, 5*time.Millisecond)

	evictor.mu.Lock()
	defer evictor.mu.Unlock()
	for _, ttl := range evictor.calls {
		assert.Equal(t, 42*time.Minute, ttl)
	}
}

func TestService_StopIsIdempotent(t *testing.T) {
	evictor := &fakeEvictor{}
	svc := NewService(&config.RetentionConfig{ConversationTTL: time.Hour, CleanupInterval: time.Hour}, evictor)

	svc.Stop() // not started
	svc.Start(context.Background())
	svc.Start(context.Background()) // second start is a no-op
	svc.Stop()
	svc.Stop()

	assert.Zero(t, evictor.callCount(), "nothing runs before the first tick")
}

func TestService_StopsWithParentContext(t *testing.T) {
	evictor := &fakeEvictor{}
	svc := NewService(&config.RetentionConfig{ConversationTTL: time.Hour, CleanupInterval: time.Hour}, evictor)

	ctx, cancel := context.WithCancel(context.Background())
	svc.Start(ctx)
	cancel()
	svc.Stop()
}
