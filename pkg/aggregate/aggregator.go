// Package aggregate folds an ordered stream of raw assistant events into
// renderable turn fragments.
//
// Grouping state machine, applied strictly in arrival order:
//
//	tool_exec_request            flush any open group, open a new one
//	sql_datasource_sql_execution append to the open group (dropped if none);
//	                             success marks hasExecution, error marks discard
//	sql_datasource_validation    append, mark hasValidation, close the group
//	assistant_response           flush any open group, emit a text fragment
//	end of stream                flush any open group
//
// A group is emitted only when it has a successful execution and was not
// discarded. Discarded groups are reported as failures instead, so an errored
// execution is never shown as if it had succeeded.
package aggregate

import (
	"encoding/json"

	"github.com/codeready-toolchain/notebookchat/pkg/chatevent"
)

// FragmentType tags a fragment.
type FragmentType string

// Fragment types.
const (
	FragmentToolExecutionGroup FragmentType = "tool_execution_group"
	FragmentAssistantResponse  FragmentType = "assistant_response"
)

// Fragment is a renderable sub-unit of an assistant turn.
type Fragment struct {
	Type      FragmentType `json:"type"`
	MessageID string       `json:"message_id,omitempty"`

	// Tool execution groups only.
	Request     *chatevent.RawEvent `json:"request,omitempty"`
	Execution   *chatevent.RawEvent `json:"execution,omitempty"`
	Validation  *chatevent.RawEvent `json:"validation,omitempty"` // nil when the stream ended before validation
	ResultTable json.RawMessage     `json:"result_table,omitempty"`

	// Assistant responses only.
	Text string `json:"text,omitempty"`

	// Events holds the events that make up this fragment, in arrival order.
	Events []chatevent.RawEvent `json:"events"`
}

// Failure is a tool execution group dropped because its execution errored.
type Failure struct {
	MessageID    string               `json:"message_id,omitempty"`
	ErrorMessage string               `json:"error_message"`
	SQL          string               `json:"sql,omitempty"`
	Events       []chatevent.RawEvent `json:"events"`
}

// Result is the aggregated view of one event sequence.
type Result struct {
	Fragments []Fragment           `json:"fragments"`
	Thoughts  []chatevent.RawEvent `json:"thoughts,omitempty"`
	Failures  []Failure            `json:"failures,omitempty"`
}

// group is the open tool execution group.
type group struct {
	hasExecution  bool
	hasValidation bool
	discard       bool
	errorMessage  string

	request    *chatevent.RawEvent
	execution  *chatevent.RawEvent
	validation *chatevent.RawEvent
	table      json.RawMessage
	events     []chatevent.RawEvent
}

// Aggregator incrementally folds events. The zero value is ready to use.
// It is not safe for concurrent use; callers serialize access.
type Aggregator struct {
	current *group
	result  Result
}

// New returns an empty Aggregator.
func New() *Aggregator {
	return &Aggregator{}
}

// Fold aggregates a complete event sequence, such as the stored events of a
// persisted message.
func Fold(events []chatevent.RawEvent) Result {
	a := New()
	for _, e := range events {
		a.Push(e)
	}
	return a.Finish()
}

// Push feeds the next event in arrival order.
func (a *Aggregator) Push(e chatevent.RawEvent) {
	switch chatevent.Classify(e) {
	case chatevent.KindToolExecRequest:
		a.flush()
		ev := e
		a.current = &group{request: &ev, events: []chatevent.RawEvent{e}}

	case chatevent.KindSQLExecution:
		if a.current == nil {
			// No owning request: nothing to attach the execution to.
			return
		}
		ev := e
		a.current.events = append(a.current.events, e)
		a.current.execution = &ev
		if e.HasError() {
			a.current.discard = true
			a.current.errorMessage = e.Error()
			return
		}
		a.current.hasExecution = true
		a.current.table = e.ResultTable()

	case chatevent.KindSQLValidation:
		if a.current == nil {
			return
		}
		ev := e
		a.current.events = append(a.current.events, e)
		a.current.validation = &ev
		a.current.hasValidation = true
		a.flush()

	case chatevent.KindAssistantResponse:
		a.flush()
		a.result.Fragments = append(a.result.Fragments, Fragment{
			Type:      FragmentAssistantResponse,
			MessageID: e.MessageID,
			Text:      e.Content,
			Events:    []chatevent.RawEvent{e},
		})

	case chatevent.KindAssistantRequest, chatevent.KindToolExecResponse, chatevent.KindSQLGenerate:
		a.result.Thoughts = append(a.result.Thoughts, e)

	case chatevent.KindUnknown:
		// forward-compatible: ignore
	}
}

// Finish flushes any open group and returns the final result. The aggregator
// must not be used after Finish.
func (a *Aggregator) Finish() Result {
	a.flush()
	if a.result.Fragments == nil {
		a.result.Fragments = []Fragment{}
	}
	return a.result
}

// Snapshot returns the result so far, including the open group if it would be
// emitted were the stream to end now. The aggregator state is unchanged.
func (a *Aggregator) Snapshot() Result {
	out := Result{
		Fragments: append([]Fragment{}, a.result.Fragments...),
		Thoughts:  append([]chatevent.RawEvent(nil), a.result.Thoughts...),
		Failures:  append([]Failure(nil), a.result.Failures...),
	}
	if g := a.current; g != nil {
		if f, ok := g.fragment(); ok {
			out.Fragments = append(out.Fragments, f)
		}
	}
	return out
}

// flush closes the open group, emitting it as a fragment or a failure.
func (a *Aggregator) flush() {
	g := a.current
	if g == nil {
		return
	}
	a.current = nil

	if g.discard {
		a.result.Failures = append(a.result.Failures, g.failure())
		return
	}
	if f, ok := g.fragment(); ok {
		a.result.Fragments = append(a.result.Fragments, f)
	}
}

func (g *group) fragment() (Fragment, bool) {
	if g.discard || !g.hasExecution {
		return Fragment{}, false
	}
	return Fragment{
		Type:        FragmentToolExecutionGroup,
		MessageID:   g.request.MessageID,
		Request:     g.request,
		Execution:   g.execution,
		Validation:  g.validation,
		ResultTable: g.table,
		Events:      append([]chatevent.RawEvent(nil), g.events...),
	}, true
}

func (g *group) failure() Failure {
	f := Failure{
		MessageID:    g.request.MessageID,
		ErrorMessage: g.errorMessage,
		Events:       append([]chatevent.RawEvent(nil), g.events...),
	}
	if g.execution != nil {
		f.SQL = g.execution.SQL
	}
	if f.SQL == "" {
		f.SQL = g.request.SQL
	}
	return f
}
