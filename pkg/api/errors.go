package api

import (
	"errors"
	"log/slog"
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/codeready-toolchain/notebookchat/pkg/analytics"
	"github.com/codeready-toolchain/notebookchat/pkg/history"
	"github.com/codeready-toolchain/notebookchat/pkg/session"
)

// mapServiceError maps conversation errors to HTTP error responses.
func mapServiceError(err error) *echo.HTTPError {
	var validErr *session.ValidationError
	if errors.As(err, &validErr) {
		return echo.NewHTTPError(http.StatusBadRequest, validErr.Error())
	}
	switch {
	case errors.Is(err, session.ErrEmptyQuery):
		return echo.NewHTTPError(http.StatusBadRequest, "content is required")
	case errors.Is(err, session.ErrQueryTooLong):
		return echo.NewHTTPError(http.StatusBadRequest, "content exceeds the maximum length")
	case errors.Is(err, session.ErrConversationNotFound), errors.Is(err, session.ErrClosed):
		return echo.NewHTTPError(http.StatusNotFound, "conversation not found")
	case errors.Is(err, session.ErrTurnNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "turn not found")
	case errors.Is(err, session.ErrTurnInFlight):
		return echo.NewHTTPError(http.StatusConflict, "a turn is already in flight")
	case errors.Is(err, session.ErrNothingToCancel):
		return echo.NewHTTPError(http.StatusConflict, "no turn to cancel")
	case errors.Is(err, history.ErrLoadInProgress):
		return echo.NewHTTPError(http.StatusConflict, "history is already loading")
	}

	var apiErr *analytics.APIError
	if errors.As(err, &apiErr) {
		slog.Warn("Analytics API request failed", "status_code", apiErr.StatusCode, "error", err)
		return echo.NewHTTPError(http.StatusBadGateway, "analytics API error: "+apiErr.Message)
	}

	// Unexpected error
	slog.Error("Unexpected service error", "error", err)
	return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
}
