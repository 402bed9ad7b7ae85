package models

// Reaction is a user's rating of an assistant turn.
type Reaction string

// Reactions.
const (
	ReactionLike    Reaction = "like"
	ReactionDislike Reaction = "dislike"
)

// Valid reports whether r is a known reaction.
func (r Reaction) Valid() bool {
	return r == ReactionLike || r == ReactionDislike
}

// Feedback is attached to an assistant turn.
type Feedback struct {
	Reaction  Reaction `json:"reaction"`
	Comment   string   `json:"comment,omitempty"`
	CreatedBy string   `json:"created_by,omitempty"`
}

// SubmitFeedbackRequest contains fields for rating an assistant turn.
type SubmitFeedbackRequest struct {
	Reaction Reaction `json:"reaction"`
	Comment  string   `json:"comment,omitempty"`
}
