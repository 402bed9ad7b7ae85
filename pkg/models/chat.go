// Package models contains request/response models and business domain types.
package models

import (
	"time"

	"github.com/codeready-toolchain/notebookchat/pkg/chatevent"
)

// Scope selects which kind of upstream chat a conversation talks to.
type Scope string

// Chat scopes.
const (
	ScopeNotebook   Scope = "notebook"
	ScopeDatasource Scope = "datasource"
)

// Valid reports whether s is a known scope.
func (s Scope) Valid() bool {
	return s == ScopeNotebook || s == ScopeDatasource
}

// Target identifies the notebook or datasource a chat belongs to.
type Target struct {
	Scope Scope  `json:"scope"`
	ID    string `json:"target_id"`
}

// ChatRecord is one persisted exchange as returned by the analytics API: the
// user's query and the full event set of the assistant's answer.
type ChatRecord struct {
	ID           string               `json:"id"` // message id
	ChatID       string               `json:"chat_id,omitempty"`
	Query        string               `json:"query"`
	Events       []chatevent.RawEvent `json:"events"`
	Status       TurnStatus           `json:"status"`
	ErrorMessage string               `json:"error_message,omitempty"`
	Feedback     *Feedback            `json:"feedback,omitempty"`
	CreatedBy    string               `json:"created_by,omitempty"`
	CreatedAt    time.Time            `json:"created_at"`
}

// SortOrder is the sort direction of a history page request.
type SortOrder string

// Sort orders.
const (
	SortDesc SortOrder = "desc"
	SortAsc  SortOrder = "asc"
)

// PageRequest selects one page of chat history.
type PageRequest struct {
	Skip  int       `json:"skip"`
	Limit int       `json:"limit"`
	Sort  SortOrder `json:"sort"`
}

// CreateConversationRequest contains fields for opening a conversation.
// ChatID resumes an existing upstream chat; empty means one is created on the
// first submitted query.
type CreateConversationRequest struct {
	Scope    Scope  `json:"scope"`
	TargetID string `json:"target_id"`
	ChatID   string `json:"chat_id,omitempty"`
}

// SubmitQueryRequest contains fields for submitting a query to a conversation.
type SubmitQueryRequest struct {
	Content string `json:"content"`
}
