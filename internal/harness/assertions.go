package harness

import (
	"fmt"
	"slices"
	"strings"

	"github.com/nbd-wtf/go-nostr"
)

// AssertionError is returned when an assertion fails.
// It includes the trace to help debug the failure.
type AssertionError struct {
	Type     string
	Expected string
	Actual   string
	Trace    []TraceEvent
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for _, ev := range e.Trace {
			fmt.Fprintf(&buf, "  [%d] %s", ev.Seq, ev.Type)
			if ev.Round > 0 {
				fmt.Fprintf(&buf, " round=%d", ev.Round)
			}
			if ev.Version > 0 {
				fmt.Fprintf(&buf, " version=%d", ev.Version)
			}
			if len(ev.IDs) > 0 {
				fmt.Fprintf(&buf, " %v", ev.IDs)
			}
			buf.WriteByte('\n')
		}
	}

	return buf.String()
}

// EvaluateAssertions checks every assertion and returns the failures as
// messages, in assertion order.
func EvaluateAssertions(result *Result, assertions []Assertion) []string {
	var errs []string
	for i, a := range assertions {
		if err := evaluate(result, a); err != nil {
			errs = append(errs, fmt.Sprintf("assertion[%d] %s", i, err.Error()))
		}
	}
	return errs
}

func evaluate(result *Result, a Assertion) error {
	switch a.Type {
	case AssertRoot:
		return assertSlot(result, a, result.Final.Root)
	case AssertParent:
		return assertSlot(result, a, result.Final.Parent)
	case AssertAncestors:
		return assertIDs(result, a, eventIDs(result.Final.Ancestors))
	case AssertThreadOrder:
		return assertIDs(result, a, result.Final.IDs())
	case AssertRequestCount:
		return assertRequestCount(result, a)
	case AssertNeverRequested:
		return assertNeverRequested(result, a)
	default:
		return fmt.Errorf("unknown assertion type: %s", a.Type)
	}
}

func assertSlot(result *Result, a Assertion, got *nostr.Event) error {
	switch {
	case a.Absent && got == nil:
		return nil
	case a.Absent:
		return &AssertionError{Type: a.Type, Expected: "empty", Actual: got.ID, Trace: result.Trace}
	case got == nil:
		return &AssertionError{Type: a.Type, Expected: a.ID, Actual: "empty", Trace: result.Trace}
	case got.ID != a.ID:
		return &AssertionError{Type: a.Type, Expected: a.ID, Actual: got.ID, Trace: result.Trace}
	}
	return nil
}

func assertIDs(result *Result, a Assertion, got []string) error {
	if slices.Equal(got, a.IDs) {
		return nil
	}
	return &AssertionError{
		Type:     a.Type,
		Expected: fmt.Sprintf("%v", a.IDs),
		Actual:   fmt.Sprintf("%v", got),
		Trace:    result.Trace,
	}
}

func assertRequestCount(result *Result, a Assertion) error {
	got := len(result.Requests())
	if got == *a.Count {
		return nil
	}
	return &AssertionError{
		Type:     a.Type,
		Expected: fmt.Sprintf("%d requests", *a.Count),
		Actual:   fmt.Sprintf("%d requests", got),
		Trace:    result.Trace,
	}
}

func assertNeverRequested(result *Result, a Assertion) error {
	for _, req := range result.Requests() {
		if slices.Contains(req.IDs, a.ID) {
			return &AssertionError{
				Type:     a.Type,
				Expected: fmt.Sprintf("%s never requested", a.ID),
				Actual:   fmt.Sprintf("requested in round %d", req.Round),
				Trace:    result.Trace,
			}
		}
	}
	return nil
}

func eventIDs(evts []*nostr.Event) []string {
	ids := make([]string, len(evts))
	for i, evt := range evts {
		ids[i] = evt.ID
	}
	return ids
}
