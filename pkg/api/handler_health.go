package api

import (
	"fmt"
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/codeready-toolchain/notebookchat/pkg/version"
)

const (
	healthStatusHealthy   = "healthy"
	healthStatusUnhealthy = "unhealthy"
)

// healthHandler handles GET /health.
// Only the gateway's own components are checked. The analytics API is
// excluded so an upstream outage does not get the gateway restarted.
func (s *Server) healthHandler(c *echo.Context) error {
	checks := make(map[string]HealthCheck)
	status := healthStatusHealthy

	if s.conversations == nil {
		status = healthStatusUnhealthy
		checks["conversations"] = HealthCheck{Status: healthStatusUnhealthy, Message: "conversation manager not initialized"}
	} else {
		checks["conversations"] = HealthCheck{
			Status:  healthStatusHealthy,
			Message: fmt.Sprintf("%d open", s.conversations.Count()),
		}
	}

	if s.connManager != nil {
		checks["websocket"] = HealthCheck{
			Status:  healthStatusHealthy,
			Message: fmt.Sprintf("%d connections", s.connManager.ActiveConnections()),
		}
	}

	httpStatus := http.StatusOK
	if status == healthStatusUnhealthy {
		httpStatus = http.StatusServiceUnavailable
	}

	return c.JSON(httpStatus, &HealthResponse{
		Status:  status,
		Version: version.GitCommit,
		Checks:  checks,
	})
}
