package api

import (
	"strings"

	echo "github.com/labstack/echo/v5"
)

// authorHeaders are the proxy headers that identify the caller, in priority
// order: oauth2-proxy user, oauth2-proxy email, kube-rbac-proxy user.
var authorHeaders = []string{"X-Forwarded-User", "X-Forwarded-Email", "X-Remote-User"}

// anonymousAuthor is recorded when no proxy identified the caller.
const anonymousAuthor = "api-client"

// extractAuthor extracts the feedback author from proxy headers.
func extractAuthor(c *echo.Context) string {
	for _, h := range authorHeaders {
		if v := strings.TrimSpace(c.Request().Header.Get(h)); v != "" {
			return v
		}
	}
	return anonymousAuthor
}
