package api

import (
	"errors"
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/codeready-toolchain/notebookchat/pkg/history"
	"github.com/codeready-toolchain/notebookchat/pkg/models"
	"github.com/codeready-toolchain/notebookchat/pkg/session"
)

// createConversationHandler handles POST /api/v1/conversations.
func (s *Server) createConversationHandler(c *echo.Context) error {
	var req CreateConversationRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	ctrl, err := s.conversations.Create(models.CreateConversationRequest{
		Scope:    models.Scope(req.Scope),
		TargetID: req.TargetID,
		ChatID:   req.ChatID,
	})
	if err != nil {
		return mapServiceError(err)
	}

	return c.JSON(http.StatusCreated, &CreateConversationResponse{ConversationID: ctrl.ID()})
}

// listConversationsHandler handles GET /api/v1/conversations.
func (s *Server) listConversationsHandler(c *echo.Context) error {
	return c.JSON(http.StatusOK, &ListConversationsResponse{Conversations: s.conversations.List()})
}

// getConversationHandler handles GET /api/v1/conversations/:id.
func (s *Server) getConversationHandler(c *echo.Context) error {
	ctrl, err := s.conversation(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, ctrl.Snapshot())
}

// deleteConversationHandler handles DELETE /api/v1/conversations/:id.
// Any in-flight turn is abandoned without a stop request.
func (s *Server) deleteConversationHandler(c *echo.Context) error {
	id := c.Param("id")
	if id == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "conversation id is required")
	}
	if err := s.conversations.Remove(id); err != nil {
		return mapServiceError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// submitMessageHandler handles POST /api/v1/conversations/:id/messages.
// The turn continues in the background; progress arrives over WebSocket.
func (s *Server) submitMessageHandler(c *echo.Context) error {
	ctrl, err := s.conversation(c)
	if err != nil {
		return err
	}

	var req SubmitMessageRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	if err := ctrl.Submit(c.Request().Context(), req.Content); err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusAccepted, ctrl.Snapshot())
}

// cancelHandler handles POST /api/v1/conversations/:id/cancel.
func (s *Server) cancelHandler(c *echo.Context) error {
	ctrl, err := s.conversation(c)
	if err != nil {
		return err
	}

	if err := ctrl.Cancel(c.Request().Context()); err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusAccepted, ctrl.Snapshot())
}

// loadHistoryHandler handles POST /api/v1/conversations/:id/history.
// Loading past the oldest page is not an error; the snapshot reports
// has_more=false.
func (s *Server) loadHistoryHandler(c *echo.Context) error {
	ctrl, err := s.conversation(c)
	if err != nil {
		return err
	}

	if err := ctrl.LoadMore(c.Request().Context()); err != nil && !errors.Is(err, history.ErrNoMorePages) {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, ctrl.Snapshot())
}

// feedbackHandler handles POST /api/v1/conversations/:id/turns/:message_id/feedback.
func (s *Server) feedbackHandler(c *echo.Context) error {
	ctrl, err := s.conversation(c)
	if err != nil {
		return err
	}
	messageID := c.Param("message_id")
	if messageID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "message id is required")
	}

	var req FeedbackRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	fb := models.Feedback{
		Reaction:  models.Reaction(req.Reaction),
		Comment:   req.Comment,
		CreatedBy: extractAuthor(c),
	}
	if err := ctrl.SubmitFeedback(c.Request().Context(), messageID, fb); err != nil {
		return mapServiceError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// conversation resolves the :id path parameter.
func (s *Server) conversation(c *echo.Context) (*session.Controller, error) {
	id := c.Param("id")
	if id == "" {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "conversation id is required")
	}
	ctrl, err := s.conversations.Get(id)
	if err != nil {
		return nil, mapServiceError(err)
	}
	return ctrl, nil
}
