package api

import "github.com/codeready-toolchain/notebookchat/pkg/session"

// CreateConversationResponse is returned by POST /api/v1/conversations.
type CreateConversationResponse struct {
	ConversationID string `json:"conversation_id"`
}

// ListConversationsResponse is returned by GET /api/v1/conversations.
type ListConversationsResponse struct {
	Conversations []session.Summary `json:"conversations"`
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status  string                 `json:"status"`
	Version string                 `json:"version"`
	Checks  map[string]HealthCheck `json:"checks"`
}

// HealthCheck is one component check of HealthResponse.
type HealthCheck struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}
