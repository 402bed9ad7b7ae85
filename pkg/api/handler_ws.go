package api

import (
	"net/http"

	"github.com/coder/websocket"
	echo "github.com/labstack/echo/v5"
)

// wsHandler upgrades HTTP connections to WebSocket and delegates to ConnectionManager.
func (s *Server) wsHandler(c *echo.Context) error {
	if s.connManager == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "WebSocket not available")
	}

	// Same-origin requests are always accepted; other origins must match
	// the configured patterns.
	var origins []string
	if s.cfg != nil && s.cfg.Server != nil {
		origins = s.cfg.Server.AllowedWSOrigins
	}
	conn, err := websocket.Accept(c.Response(), c.Request(), &websocket.AcceptOptions{
		OriginPatterns: origins,
	})
	if err != nil {
		// Accept has already written the HTTP error response.
		return nil
	}

	// HandleConnection blocks until the WebSocket closes.
	s.connManager.HandleConnection(c.Request().Context(), conn)
	return nil
}
