package chatevent

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyType(t *testing.T) {
	tests := []struct {
		eventType string
		want      Kind
	}{
		{"assistant_request", KindAssistantRequest},
		{"tool_exec_request", KindToolExecRequest},
		{"tool_exec_response", KindToolExecResponse},
		{"sql_datasource_sql_generate", KindSQLGenerate},
		{"sql_datasource_sql_execution", KindSQLExecution},
		{"sql_datasource_validation", KindSQLValidation},
		{"assistant_response", KindAssistantResponse},
		{"  Assistant_Response ", KindAssistantResponse},
		{"", KindUnknown},
		{"unknown", KindUnknown},
		{"chart_render", KindUnknown},
		{"\x00\xff", KindUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.eventType, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifyType(tt.eventType))
			assert.Equal(t, tt.want, Classify(RawEvent{EventType: tt.eventType}))
		})
	}
}

func TestClassify_TotalOverArbitraryStrings(t *testing.T) {
	inputs := []string{"a", "tool", "tool_exec", "sql_datasource", "ASSISTANT", "🙂", "assistant_response\n\n"}
	for _, in := range inputs {
		assert.NotPanics(t, func() {
			k := ClassifyType(in)
			assert.NotEmpty(t, k)
		})
	}
}

func TestKind_IsThought(t *testing.T) {
	assert.True(t, KindAssistantRequest.IsThought())
	assert.True(t, KindToolExecResponse.IsThought())
	assert.True(t, KindSQLGenerate.IsThought())
	assert.False(t, KindToolExecRequest.IsThought())
	assert.False(t, KindSQLExecution.IsThought())
	assert.False(t, KindSQLValidation.IsThought())
	assert.False(t, KindAssistantResponse.IsThought())
	assert.False(t, KindUnknown.IsThought())
}

func TestProgressLabel(t *testing.T) {
	assert.Equal(t, "Generating SQL", ProgressLabel(KindToolExecRequest))
	assert.Equal(t, "Validating results", ProgressLabel(KindSQLExecution))
	assert.Empty(t, ProgressLabel(KindAssistantResponse))
	assert.Equal(t, "Thinking", ProgressLabel(KindUnknown))
}

func TestRawEvent_HasError(t *testing.T) {
	assert.False(t, RawEvent{}.HasError())
	assert.False(t, RawEvent{ErrorMessage: StringPtr("")}.HasError())
	assert.True(t, RawEvent{ErrorMessage: StringPtr("syntax error")}.HasError())
	assert.Equal(t, "syntax error", RawEvent{ErrorMessage: StringPtr("syntax error")}.Error())
}

func TestRawEvent_ResultTable(t *testing.T) {
	tests := []struct {
		name  string
		event RawEvent
		want  string
	}{
		{
			name:  "direct dataframe wins",
			event: RawEvent{Dataframe: json.RawMessage(`{"a":[1]}`), Response: json.RawMessage(`{"dataframe":{"b":[2]}}`)},
			want:  `{"a":[1]}`,
		},
		{
			name:  "response dataframe",
			event: RawEvent{Response: json.RawMessage(`{"dataframe":{"b":[2]},"rows":1}`)},
			want:  `{"b":[2]}`,
		},
		{
			name:  "whole response",
			event: RawEvent{Response: json.RawMessage(`{"rows":[[1,2]]}`)},
			want:  `{"rows":[[1,2]]}`,
		},
		{
			name:  "array response",
			event: RawEvent{Response: json.RawMessage(`[1,2,3]`)},
			want:  `[1,2,3]`,
		},
		{
			name:  "null dataframe falls through",
			event: RawEvent{Dataframe: json.RawMessage(`null`), Response: json.RawMessage(`{"x":1}`)},
			want:  `{"x":1}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.JSONEq(t, tt.want, string(tt.event.ResultTable()))
		})
	}

	assert.Nil(t, RawEvent{}.ResultTable())
}

func TestRawEvent_DecodeNullError(t *testing.T) {
	var e RawEvent
	require.NoError(t, json.Unmarshal([]byte(`{"event_type":"sql_datasource_sql_execution","message_id":"m1","error_message":null,"dataframe":{"a":[1]}}`), &e))

	assert.Equal(t, KindSQLExecution, e.Kind())
	assert.Equal(t, "m1", e.MessageID)
	assert.False(t, e.HasError())
	assert.JSONEq(t, `{"a":[1]}`, string(e.ResultTable()))
}
