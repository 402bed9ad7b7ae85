package aggregate

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/notebookchat/pkg/chatevent"
)

func ev(eventType, messageID string) chatevent.RawEvent {
	return chatevent.RawEvent{EventType: eventType, MessageID: messageID}
}

func execOK(messageID, dataframe string) chatevent.RawEvent {
	e := ev(string(chatevent.KindSQLExecution), messageID)
	e.Dataframe = json.RawMessage(dataframe)
	return e
}

func execErr(messageID, msg string) chatevent.RawEvent {
	e := ev(string(chatevent.KindSQLExecution), messageID)
	e.ErrorMessage = chatevent.StringPtr(msg)
	return e
}

func request(messageID string) chatevent.RawEvent {
	return ev(string(chatevent.KindToolExecRequest), messageID)
}

func validation(messageID string) chatevent.RawEvent {
	return ev(string(chatevent.KindSQLValidation), messageID)
}

func answer(messageID, text string) chatevent.RawEvent {
	e := ev(string(chatevent.KindAssistantResponse), messageID)
	e.Content = text
	return e
}

func TestFold_ValidatedExecutionProducesOneGroup(t *testing.T) {
	events := []chatevent.RawEvent{
		request("m1"),
		execOK("m1", `{"a":[1]}`),
		validation("m1"),
	}

	res := Fold(events)

	require.Len(t, res.Fragments, 1)
	f := res.Fragments[0]
	assert.Equal(t, FragmentToolExecutionGroup, f.Type)
	assert.Equal(t, "m1", f.MessageID)
	assert.JSONEq(t, `{"a":[1]}`, string(f.ResultTable))
	require.NotNil(t, f.Request)
	require.NotNil(t, f.Execution)
	require.NotNil(t, f.Validation)
	assert.Equal(t, events, f.Events)
	assert.Empty(t, res.Failures)
}

func TestFold_ExecutionErrorIsDiscarded(t *testing.T) {
	res := Fold([]chatevent.RawEvent{
		request("m1"),
		execErr("m1", "syntax error"),
		validation("m1"),
	})

	assert.Empty(t, res.Fragments)
	require.Len(t, res.Failures, 1)
	assert.Equal(t, "syntax error", res.Failures[0].ErrorMessage)
	assert.Len(t, res.Failures[0].Events, 3)
}

func TestFold_ExecutionWithoutRequestIsDropped(t *testing.T) {
	res := Fold([]chatevent.RawEvent{
		execOK("m1", `{"a":[1]}`),
		validation("m1"),
	})

	assert.Empty(t, res.Fragments)
	assert.Empty(t, res.Failures)
}

func TestFold_EndOfStreamFlushesExecutedGroup(t *testing.T) {
	res := Fold([]chatevent.RawEvent{
		request("m1"),
		execOK("m1", `{"a":[1]}`),
	})

	require.Len(t, res.Fragments, 1)
	assert.Nil(t, res.Fragments[0].Validation)
	assert.Equal(t, FragmentToolExecutionGroup, res.Fragments[0].Type)
}

func TestFold_EndOfStreamDropsRequestOnlyGroup(t *testing.T) {
	res := Fold([]chatevent.RawEvent{request("m1")})
	assert.Empty(t, res.Fragments)
	assert.Empty(t, res.Failures)
}

func TestFold_NewRequestFlushesOpenGroup(t *testing.T) {
	res := Fold([]chatevent.RawEvent{
		request("m1"),
		execOK("m1", `{"first":true}`),
		request("m1"),
		execOK("m1", `{"second":true}`),
		validation("m1"),
	})

	require.Len(t, res.Fragments, 2)
	assert.JSONEq(t, `{"first":true}`, string(res.Fragments[0].ResultTable))
	assert.Nil(t, res.Fragments[0].Validation)
	assert.JSONEq(t, `{"second":true}`, string(res.Fragments[1].ResultTable))
	assert.NotNil(t, res.Fragments[1].Validation)
}

func TestFold_AssistantResponseFlushesOpenGroup(t *testing.T) {
	res := Fold([]chatevent.RawEvent{
		request("m1"),
		execOK("m1", `{"a":[1]}`),
		answer("m1", "There is one row."),
	})

	require.Len(t, res.Fragments, 2)
	assert.Equal(t, FragmentToolExecutionGroup, res.Fragments[0].Type)
	assert.Equal(t, FragmentAssistantResponse, res.Fragments[1].Type)
	assert.Equal(t, "There is one row.", res.Fragments[1].Text)
}

func TestFold_AssistantResponseDropsUnexecutedGroup(t *testing.T) {
	res := Fold([]chatevent.RawEvent{
		request("m1"),
		answer("m1", "I could not find a table for that."),
	})

	require.Len(t, res.Fragments, 1)
	assert.Equal(t, FragmentAssistantResponse, res.Fragments[0].Type)
}

func TestFold_ThoughtsAreRetainedAndDoNotGate(t *testing.T) {
	gen := ev(string(chatevent.KindSQLGenerate), "m1")
	gen.SQL = "SELECT 1"
	events := []chatevent.RawEvent{
		ev(string(chatevent.KindAssistantRequest), "m1"),
		request("m1"),
		gen,
		execOK("m1", `{"a":[1]}`),
		ev(string(chatevent.KindToolExecResponse), "m1"),
		validation("m1"),
		ev("chart_render", "m1"),
		answer("m1", "done"),
	}

	res := Fold(events)

	require.Len(t, res.Fragments, 2)
	assert.Len(t, res.Fragments[0].Events, 3)
	require.Len(t, res.Thoughts, 3)
	assert.Equal(t, chatevent.KindAssistantRequest, res.Thoughts[0].Kind())
	assert.Equal(t, chatevent.KindSQLGenerate, res.Thoughts[1].Kind())
	assert.Equal(t, chatevent.KindToolExecResponse, res.Thoughts[2].Kind())
}

func TestFold_ValidationWithoutExecutionIsDropped(t *testing.T) {
	res := Fold([]chatevent.RawEvent{request("m1"), validation("m1")})
	assert.Empty(t, res.Fragments)
}

func TestFold_FailureUsesExecutionSQL(t *testing.T) {
	e := execErr("m1", "relation does not exist")
	e.SQL = "SELECT * FROM missing"
	res := Fold([]chatevent.RawEvent{request("m1"), e})

	require.Len(t, res.Failures, 1)
	assert.Equal(t, "SELECT * FROM missing", res.Failures[0].SQL)
}

// Concatenating fragment events in emission order must yield a subsequence of
// the input in its original order.
func TestFold_FragmentEventsAreOrderedSubsequence(t *testing.T) {
	inputs := [][]chatevent.RawEvent{
		{request("a"), execOK("a", `1`), validation("a"), answer("a", "x")},
		{answer("a", "x"), request("b"), execOK("b", `2`), request("c"), execErr("c", "bad"), validation("c"), answer("c", "y")},
		{execOK("a", `1`), validation("a"), request("a"), execOK("a", `2`), execOK("a", `3`), answer("a", "z")},
		{validation("a"), answer("a", "1"), answer("a", "2"), request("b")},
	}

	for i, input := range inputs {
		// Tag each event so positions can be recovered.
		for j := range input {
			input[j].Content = input[j].Content + "#" + string(rune('A'+j))
		}
		res := Fold(input)

		var out []chatevent.RawEvent
		for _, f := range res.Fragments {
			out = append(out, f.Events...)
		}
		assert.Truef(t, isSubsequence(out, input), "case %d: fragment events are not an ordered subsequence", i)
	}
}

func isSubsequence(sub, seq []chatevent.RawEvent) bool {
	j := 0
	for _, e := range seq {
		if j < len(sub) && sub[j].Content == e.Content && sub[j].EventType == e.EventType {
			j++
		}
	}
	return j == len(sub)
}

func TestAggregator_SnapshotIncludesOpenGroup(t *testing.T) {
	a := New()
	a.Push(request("m1"))
	assert.Empty(t, a.Snapshot().Fragments)

	a.Push(execOK("m1", `{"a":[1]}`))
	snap := a.Snapshot()
	require.Len(t, snap.Fragments, 1)
	assert.Nil(t, snap.Fragments[0].Validation)

	a.Push(validation("m1"))
	res := a.Finish()
	require.Len(t, res.Fragments, 1)
	assert.NotNil(t, res.Fragments[0].Validation)
}

func TestFold_Empty(t *testing.T) {
	res := Fold(nil)
	assert.NotNil(t, res.Fragments)
	assert.Empty(t, res.Fragments)
}
