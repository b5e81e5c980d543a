package harness

import (
	"context"
	"fmt"
	"strings"

	"github.com/roach88/uabridge/internal/bridge"
	"github.com/roach88/uabridge/internal/journal"
	"github.com/roach88/uabridge/internal/registry"
	"github.com/roach88/uabridge/internal/uaspace"
	"github.com/roach88/uabridge/internal/wire"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for _, event := range e.Trace {
			fmt.Fprintf(&buf, "  %s\n", event)
		}
	}
	return buf.String()
}

// matches reports whether event is an occurrence of action, narrowed to
// variable when one is given.
func matches(event TraceEvent, action, variable string) bool {
	if event.Action != action {
		return false
	}
	return variable == "" || event.Variable == variable
}

// assertTraceContains checks that the trace holds an event with the
// action, and the variable and value when given.
func assertTraceContains(trace []TraceEvent, assertion Assertion) error {
	for _, event := range trace {
		if !matches(event, assertion.Action, assertion.Variable) {
			continue
		}
		if assertion.Value == nil {
			return nil
		}
		kind, err := wire.ParseKind(event.Kind)
		if err != nil {
			continue
		}
		if want, err := formatExpected(kind, assertion.Value); err == nil && want == event.Value {
			return nil
		}
	}

	expected := "action " + assertion.Action
	if assertion.Variable != "" {
		expected += " on " + assertion.Variable
	}
	if assertion.Value != nil {
		expected += fmt.Sprintf(" with value %v", assertion.Value)
	}
	return &AssertionError{
		Type:     AssertTraceContains,
		Expected: expected,
		Actual:   "not found in trace",
		Trace:    trace,
	}
}

// assertTraceOrder checks if "action:variable" keys appear in the specified
// order. Keys don't need to be consecutive (intervening events are allowed);
// the first occurrence of each key counts.
func assertTraceOrder(trace []TraceEvent, assertion Assertion) error {
	// Step 1: Find first position of each expected key
	positions := make(map[string]int)
	for i, event := range trace {
		key := event.Key()
		if positions[key] == 0 {
			positions[key] = i + 1 // 1-indexed for readability
		}
	}

	// Step 2: Verify all keys found
	for _, key := range assertion.Actions {
		if positions[key] == 0 {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("all events present: %v", assertion.Actions),
				Actual:   fmt.Sprintf("missing event: %s", key),
				Trace:    trace,
			}
		}
	}

	// Step 3: Verify order
	for i := 1; i < len(assertion.Actions); i++ {
		prev := assertion.Actions[i-1]
		curr := assertion.Actions[i]
		if positions[prev] >= positions[curr] {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("events in order: %v", assertion.Actions),
				Actual: fmt.Sprintf("%s (pos %d) should be before %s (pos %d)",
					prev, positions[prev], curr, positions[curr]),
				Trace: trace,
			}
		}
	}
	return nil
}

// assertTraceCount checks if the action appears exactly the specified number of times.
func assertTraceCount(trace []TraceEvent, assertion Assertion) error {
	count := 0
	for _, event := range trace {
		if matches(event, assertion.Action, assertion.Variable) {
			count++
		}
	}

	if count != assertion.Count {
		return &AssertionError{
			Type:     AssertTraceCount,
			Expected: fmt.Sprintf("%d occurrences of %s", assertion.Count, describe(assertion)),
			Actual:   fmt.Sprintf("%d occurrences", count),
			Trace:    trace,
		}
	}
	return nil
}

// assertJournalCount counts persisted journal entries. It sees what the
// journal writer flushed, so it also catches entries lost on the way to the
// store.
func assertJournalCount(ctx context.Context, st *journal.Store, session string, assertion Assertion) error {
	entries, err := st.Read(ctx, journal.Filter{
		Session:  session,
		Variable: assertion.Variable,
		Action:   journal.Action(assertion.Action),
	})
	if err != nil {
		return fmt.Errorf("read journal: %w", err)
	}

	if len(entries) != assertion.Count {
		return &AssertionError{
			Type:     AssertJournalCount,
			Expected: fmt.Sprintf("%d journal entries for %s", assertion.Count, describe(assertion)),
			Actual:   fmt.Sprintf("%d entries", len(entries)),
		}
	}
	return nil
}

// assertFinalValue compares the value a node holds after the run.
func assertFinalValue(space *uaspace.Server, assertion Assertion) error {
	v, err := space.Read(assertion.Variable)
	if err != nil {
		return &AssertionError{
			Type:     AssertFinalValue,
			Expected: fmt.Sprintf("node %s", assertion.Variable),
			Actual:   fmt.Sprintf("read error: %v", err),
		}
	}
	kind, ok := bridge.KindOfType(v.Type())
	if !ok {
		return fmt.Errorf("final_value: node %s holds an unsupported type", assertion.Variable)
	}

	want, err := formatExpected(kind, assertion.Value)
	if err != nil {
		return fmt.Errorf("final_value: %s: %w", assertion.Variable, err)
	}
	if got := bridge.FormatValue(v); got != want {
		return &AssertionError{
			Type:     AssertFinalValue,
			Expected: fmt.Sprintf("%s = %s", assertion.Variable, want),
			Actual:   fmt.Sprintf("%s = %s", assertion.Variable, got),
		}
	}
	return nil
}

func assertMonitored(reg *registry.Registry, assertion Assertion) error {
	d, ok := reg.Lookup(assertion.Variable)
	if !ok {
		return &AssertionError{
			Type:     AssertMonitored,
			Expected: fmt.Sprintf("%s registered", assertion.Variable),
			Actual:   "not registered",
		}
	}
	if d.Monitored != *assertion.Monitored {
		return &AssertionError{
			Type:     AssertMonitored,
			Expected: fmt.Sprintf("%s monitored=%t", assertion.Variable, *assertion.Monitored),
			Actual:   fmt.Sprintf("monitored=%t", d.Monitored),
		}
	}
	return nil
}

func describe(a Assertion) string {
	if a.Variable == "" {
		return a.Action
	}
	return a.Action + " on " + a.Variable
}

// AssertionContext provides what assertions need beyond the trace.
type AssertionContext struct {
	Ctx      context.Context
	Store    *journal.Store
	Session  string
	Space    *uaspace.Server
	Registry *registry.Registry
}

// EvaluateAssertions evaluates all assertions against the result.
// Returns a slice of error messages for failed assertions.
// The actx parameter is required for journal_count, final_value and
// monitored; trace assertions work without it.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var errors []string

	for i, assertion := range assertions {
		var err error

		switch assertion.Type {
		case AssertTraceContains:
			err = assertTraceContains(result.Trace, assertion)
		case AssertTraceOrder:
			err = assertTraceOrder(result.Trace, assertion)
		case AssertTraceCount:
			err = assertTraceCount(result.Trace, assertion)
		case AssertJournalCount:
			if actx == nil || actx.Store == nil {
				err = fmt.Errorf("assertion[%d]: journal_count requires a journal", i)
			} else {
				err = assertJournalCount(actx.Ctx, actx.Store, actx.Session, assertion)
			}
		case AssertFinalValue:
			if actx == nil || actx.Space == nil {
				err = fmt.Errorf("assertion[%d]: final_value requires an address space", i)
			} else {
				err = assertFinalValue(actx.Space, assertion)
			}
		case AssertMonitored:
			if actx == nil || actx.Registry == nil {
				err = fmt.Errorf("assertion[%d]: monitored requires a registry", i)
			} else {
				err = assertMonitored(actx.Registry, assertion)
			}
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, assertion.Type)
		}

		if err != nil {
			errors = append(errors, err.Error())
		}
	}
	return errors
}
