// Package chatevent defines the raw events emitted by the analytics assistant
// stream and the classifier that maps them to a closed set of kinds.
//
// The same event shape is used for the live server-sent event feed and for the
// per-message event lists stored on the server, so everything downstream
// (aggregation, reconciliation) works on one type regardless of source.
package chatevent

import (
	"encoding/json"
	"time"
)

// RawEvent is one unit of the assistant stream. Only the fields relevant to the
// event's kind are populated; the rest stay at their zero value.
type RawEvent struct {
	EventType    string          `json:"event_type"`
	MessageID    string          `json:"message_id,omitempty"`
	Content      string          `json:"content,omitempty"`       // assistant text or request text
	SQL          string          `json:"sql,omitempty"`           // generated / executed SQL
	ToolName     string          `json:"tool_name,omitempty"`     // tool routing metadata
	DatasourceID string          `json:"datasource_id,omitempty"` // datasource the tool ran against
	ErrorMessage *string         `json:"error_message,omitempty"` // null means no error
	Dataframe    json.RawMessage `json:"dataframe,omitempty"`
	Response     json.RawMessage `json:"response,omitempty"`
	Steps        json.RawMessage `json:"steps,omitempty"`
	Validation   json.RawMessage `json:"validation,omitempty"`
	CreatedAt    *time.Time      `json:"created_at,omitempty"`
}

// Kind returns the classified kind of the event.
func (e RawEvent) Kind() Kind {
	return Classify(e)
}

// HasError reports whether the event carries a non-empty error message.
func (e RawEvent) HasError() bool {
	return e.ErrorMessage != nil && *e.ErrorMessage != ""
}

// Error returns the error message, or "" when there is none.
func (e RawEvent) Error() string {
	if e.ErrorMessage == nil {
		return ""
	}
	return *e.ErrorMessage
}

// ResultTable extracts the result table attached to an execution event.
// Priority: direct dataframe field, then response.dataframe, then the whole
// response. Returns nil when none is present.
func (e RawEvent) ResultTable() json.RawMessage {
	if hasJSON(e.Dataframe) {
		return e.Dataframe
	}
	if !hasJSON(e.Response) {
		return nil
	}

	var wrapper struct {
		Dataframe json.RawMessage `json:"dataframe"`
	}
	// A response that is not an object (array, scalar) is itself the table.
	if err := json.Unmarshal(e.Response, &wrapper); err == nil && hasJSON(wrapper.Dataframe) {
		return wrapper.Dataframe
	}
	return e.Response
}

// hasJSON reports whether raw holds a value other than null.
func hasJSON(raw json.RawMessage) bool {
	if len(raw) == 0 {
		return false
	}
	return string(raw) != "null"
}

// StringPtr is a helper for building events with an error message.
func StringPtr(s string) *string {
	return &s
}
