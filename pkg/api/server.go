// Package api serves the gateway HTTP API and the WebSocket endpoint.
package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/codeready-toolchain/notebookchat/pkg/config"
	"github.com/codeready-toolchain/notebookchat/pkg/events"
	"github.com/codeready-toolchain/notebookchat/pkg/session"
)

// Server is the gateway HTTP server.
type Server struct {
	cfg           *config.Config
	echo          *echo.Echo
	httpServer    *http.Server
	conversations *session.Manager
	connManager   *events.ConnectionManager
}

// NewServer creates the HTTP server and registers all routes.
// connManager may be nil, in which case /ws answers 503.
func NewServer(cfg *config.Config, conversations *session.Manager, connManager *events.ConnectionManager) *Server {
	e := echo.New()
	s := &Server{
		cfg:           cfg,
		echo:          e,
		conversations: conversations,
		connManager:   connManager,
		httpServer: &http.Server{
			Handler:           e,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.echo.Use(securityHeaders())
	s.echo.Use(requestLogger())

	s.echo.GET("/health", s.healthHandler)
	s.echo.GET("/ws", s.wsHandler)

	v1 := s.echo.Group("/api/v1")
	v1.POST("/conversations", s.createConversationHandler)
	v1.GET("/conversations", s.listConversationsHandler)
	v1.GET("/conversations/:id", s.getConversationHandler)
	v1.DELETE("/conversations/:id", s.deleteConversationHandler)
	v1.POST("/conversations/:id/messages", s.submitMessageHandler)
	v1.POST("/conversations/:id/cancel", s.cancelHandler)
	v1.POST("/conversations/:id/history", s.loadHistoryHandler)
	v1.POST("/conversations/:id/turns/:message_id/feedback", s.feedbackHandler)
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start listens on addr and serves until Shutdown. It returns
// http.ErrServerClosed after a graceful shutdown.
func (s *Server) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Serve serves on an existing listener until Shutdown.
func (s *Server) Serve(ln net.Listener) error {
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully stops the server. WebSocket connections are hijacked,
// so they are not waited on; closing the conversations ends them.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.httpServer.Shutdown(ctx)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}
