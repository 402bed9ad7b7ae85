package models

import (
	"strings"
	"time"

	"github.com/codeready-toolchain/notebookchat/pkg/aggregate"
	"github.com/codeready-toolchain/notebookchat/pkg/chatevent"
)

// TurnRole distinguishes user turns from assistant turns.
type TurnRole string

// Turn roles.
const (
	RoleUser      TurnRole = "user"
	RoleAssistant TurnRole = "assistant"
)

// TurnStatus is the lifecycle status of an assistant turn.
type TurnStatus string

// Turn statuses.
const (
	StatusPending TurnStatus = "pending"
	StatusSuccess TurnStatus = "success"
	StatusError   TurnStatus = "error"
	StatusStopped TurnStatus = "stopped"
)

// IsTerminal reports whether s is a settled status.
func (s TurnStatus) IsTerminal() bool {
	return s == StatusSuccess || s == StatusError || s == StatusStopped
}

// ParseTurnStatus normalizes a status string reported by the analytics API.
// Unrecognized values map to StatusPending.
func ParseTurnStatus(s string) TurnStatus {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "success", "succeeded", "completed", "done":
		return StatusSuccess
	case "error", "failed", "failure":
		return StatusError
	case "stopped", "cancelled", "canceled":
		return StatusStopped
	default:
		return StatusPending
	}
}

// Turn is one user or assistant contribution to a conversation.
//
// User turns carry Text only. Assistant turns carry the ordered events of the
// answer, its status and the aggregated view rendered from those events.
type Turn struct {
	ID        string   `json:"id"`
	Role      TurnRole `json:"role"`
	MessageID string   `json:"message_id,omitempty"`

	// User turns only.
	Text string `json:"text,omitempty"`

	// Assistant turns only.
	Events       []chatevent.RawEvent `json:"events,omitempty"`
	Status       TurnStatus           `json:"status,omitempty"`
	ErrorMessage string               `json:"error_message,omitempty"`
	Feedback     *Feedback            `json:"feedback,omitempty"`
	View         *aggregate.Result    `json:"view,omitempty"`

	CreatedBy string    `json:"created_by,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// UserTurnID is the display id of the user turn that asked messageID.
func UserTurnID(messageID string) string {
	return "user-" + messageID
}

// NewUserTurn returns a provisional user turn. id is a locally generated
// identifier used until the message id becomes known.
func NewUserTurn(id, text string, at time.Time) Turn {
	return Turn{
		ID:        id,
		Role:      RoleUser,
		Text:      text,
		CreatedAt: at,
	}
}

// NewAssistantTurn builds an assistant turn from events, aggregating them
// into the rendered view.
func NewAssistantTurn(messageID string, events []chatevent.RawEvent, status TurnStatus) Turn {
	view := aggregate.Fold(events)
	return Turn{
		ID:        messageID,
		Role:      RoleAssistant,
		MessageID: messageID,
		Events:    append([]chatevent.RawEvent(nil), events...),
		Status:    status,
		View:      &view,
	}
}

// TurnsFromRecord renders a persisted record as its user turn followed by its
// assistant turn.
func TurnsFromRecord(r ChatRecord) (user, assistant Turn) {
	user = Turn{
		ID:        UserTurnID(r.ID),
		Role:      RoleUser,
		MessageID: r.ID,
		Text:      r.Query,
		CreatedBy: r.CreatedBy,
		CreatedAt: r.CreatedAt,
	}

	status := r.Status
	if !status.IsTerminal() {
		status = ParseTurnStatus(string(status))
	}
	assistant = NewAssistantTurn(r.ID, r.Events, status)
	assistant.ErrorMessage = r.ErrorMessage
	assistant.Feedback = r.Feedback
	assistant.CreatedBy = r.CreatedBy
	assistant.CreatedAt = r.CreatedAt
	return user, assistant
}

// Clone returns a deep copy of the turn. Raw event payloads are shared since
// events are immutable once received.
func (t Turn) Clone() Turn {
	out := t
	if t.Events != nil {
		out.Events = append([]chatevent.RawEvent(nil), t.Events...)
	}
	if t.Feedback != nil {
		fb := *t.Feedback
		out.Feedback = &fb
	}
	if t.View != nil {
		v := *t.View
		v.Fragments = append([]aggregate.Fragment{}, t.View.Fragments...)
		v.Thoughts = append([]chatevent.RawEvent(nil), t.View.Thoughts...)
		v.Failures = append([]aggregate.Failure(nil), t.View.Failures...)
		out.View = &v
	}
	return out
}
