package harness

import (
	"fmt"

	"github.com/roach88/uabridge/internal/journal"
)

// DirectionController marks records the controller received.
const DirectionController = "controller"

// ActionReceived is the trace action for a record read from the
// controller-bound queue.
const ActionReceived = "received"

// TraceEvent is one observed event: a journal entry or a record that
// reached the controller.
type TraceEvent struct {
	Seq       int64  `json:"seq"`
	Step      int    `json:"step"`
	Direction string `json:"direction"`
	Action    string `json:"action"`
	Variable  string `json:"variable,omitempty"`
	Kind      string `json:"kind,omitempty"`
	Slot      int    `json:"slot"`
	Value     string `json:"value,omitempty"`
	Status    string `json:"status,omitempty"`
	Detail    string `json:"detail,omitempty"`
}

// Key is the "action:variable" pair used by trace_order.
func (e TraceEvent) Key() string {
	return e.Action + ":" + e.Variable
}

func (e TraceEvent) String() string {
	s := fmt.Sprintf("#%d step=%d %s %s", e.Seq, e.Step, e.Direction, e.Action)
	if e.Variable != "" {
		s += " " + e.Variable
	}
	if e.Value != "" {
		s += "=" + e.Value
	}
	if e.Status != "" {
		s += " [" + e.Status + "]"
	}
	return s
}

// fromEntry converts a journal entry. Only fields that are stable across
// runs are kept: the status of address-space changes and the detail of
// rejections carry library-formatted text.
func fromEntry(step int, e journal.Entry) TraceEvent {
	ev := TraceEvent{
		Step:      step,
		Direction: string(e.Direction),
		Action:    string(e.Action),
		Variable:  e.Variable,
		Kind:      e.Kind,
		Slot:      e.Slot,
		Value:     e.Value,
	}
	switch e.Action {
	case journal.ActionRejected:
		ev.Status = e.Status
	case journal.ActionSession, journal.ActionRegistered:
		ev.Detail = e.Detail
	}
	return ev
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass indicates overall success: every expect clause and assertion held.
	Pass bool `json:"pass"`

	// Trace contains all observed events in a deterministic order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains validation error messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddErrorf is AddError with formatting.
func (r *Result) AddErrorf(format string, args ...any) {
	r.AddError(fmt.Sprintf(format, args...))
}
