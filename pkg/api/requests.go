package api

// CreateConversationRequest is the HTTP request body for POST /api/v1/conversations.
type CreateConversationRequest struct {
	Scope    string `json:"scope"`
	TargetID string `json:"target_id"`
	ChatID   string `json:"chat_id,omitempty"`
}

// SubmitMessageRequest is the HTTP request body for POST /api/v1/conversations/:id/messages.
type SubmitMessageRequest struct {
	Content string `json:"content"`
}

// FeedbackRequest is the HTTP request body for
// POST /api/v1/conversations/:id/turns/:message_id/feedback.
type FeedbackRequest struct {
	Reaction string `json:"reaction"`
	Comment  string `json:"comment,omitempty"`
}
