// Package cleanup evicts idle conversations from memory.
package cleanup

import (
	"context"
	"log/slog"
	"time"

	"github.com/codeready-toolchain/notebookchat/pkg/config"
)

// Evictor closes and forgets conversations idle for at least ttl.
// Implemented by session.Manager.
type Evictor interface {
	EvictIdle(ttl time.Duration) int
}

// Service periodically evicts conversations that have no turn in flight
// and no activity within the configured TTL.
type Service struct {
	config  *config.RetentionConfig
	evictor Evictor

	cancel context.CancelFunc
	done   chan struct{}
}

// NewService creates a new cleanup service.
func NewService(cfg *config.RetentionConfig, evictor Evictor) *Service {
	return &Service{
		config:  cfg,
		evictor: evictor,
	}
}

// Start launches the background cleanup loop.
func (s *Service) Start(ctx context.Context) {
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go s.run(ctx)

	slog.Info("Cleanup service started",
		"conversation_ttl", s.config.ConversationTTL,
		"interval", s.config.CleanupInterval)
}

// Stop signals the cleanup loop to exit and waits for it to finish.
func (s *Service) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	s.cancel = nil
	slog.Info("Cleanup service stopped")
}

func (s *Service) run(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.evictIdle()
		}
	}
}

func (s *Service) evictIdle() {
	count := s.evictor.EvictIdle(s.config.ConversationTTL)
	if count > 0 {
		slog.Info("Retention: evicted idle conversations", "count", count)
	}
}
