package chatevent

import "strings"

// Kind is the semantic kind of a raw event.
type Kind string

// Recognised event kinds. Anything else classifies as KindUnknown.
const (
	KindAssistantRequest  Kind = "assistant_request"
	KindToolExecRequest   Kind = "tool_exec_request"
	KindToolExecResponse  Kind = "tool_exec_response"
	KindSQLGenerate       Kind = "sql_datasource_sql_generate"
	KindSQLExecution      Kind = "sql_datasource_sql_execution"
	KindSQLValidation     Kind = "sql_datasource_validation"
	KindAssistantResponse Kind = "assistant_response"

	// KindUnknown covers unrecognised and malformed event types.
	// The aggregator drops these silently.
	KindUnknown Kind = "unknown"
)

var knownKinds = map[string]Kind{
	string(KindAssistantRequest):  KindAssistantRequest,
	string(KindToolExecRequest):   KindToolExecRequest,
	string(KindToolExecResponse):  KindToolExecResponse,
	string(KindSQLGenerate):       KindSQLGenerate,
	string(KindSQLExecution):      KindSQLExecution,
	string(KindSQLValidation):     KindSQLValidation,
	string(KindAssistantResponse): KindAssistantResponse,
}

// Classify maps a raw event to its kind. It is total: every input yields a
// kind, possibly KindUnknown.
func Classify(e RawEvent) Kind {
	return ClassifyType(e.EventType)
}

// ClassifyType maps an event_type string to its kind.
// Matching ignores surrounding whitespace and letter case.
func ClassifyType(eventType string) Kind {
	if k, ok := knownKinds[strings.ToLower(strings.TrimSpace(eventType))]; ok {
		return k
	}
	return KindUnknown
}

// IsThought reports whether events of this kind are auxiliary detail that
// never gates group emission.
func (k Kind) IsThought() bool {
	switch k {
	case KindAssistantRequest, KindToolExecResponse, KindSQLGenerate:
		return true
	}
	return false
}

// ProgressLabel describes the step that follows an event of the given kind.
// It backs the "what is the assistant doing now" line shown while a turn is
// in flight. Returns "" once the assistant has answered.
func ProgressLabel(k Kind) string {
	switch k {
	case KindAssistantRequest:
		return "Understanding your question"
	case KindToolExecRequest:
		return "Generating SQL"
	case KindSQLGenerate:
		return "Running query"
	case KindSQLExecution:
		return "Validating results"
	case KindSQLValidation, KindToolExecResponse:
		return "Preparing answer"
	case KindAssistantResponse:
		return ""
	default:
		return "Thinking"
	}
}
