package harness

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/cp5337/sx9-sub010/internal/ring"
	"github.com/cp5337/sx9-sub010/internal/store"
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

// AssertionContext provides context for evaluating assertions.
type AssertionContext struct {
	Ctx   context.Context
	Store *store.Store
	Ring  *ring.Ring
	// Deliveries counts handler deliveries per node and payload type.
	Deliveries map[uint16]map[ring.Type]int
}

// observed collects one string per observe event of lineage.
func observed(trace []TraceEvent, lineage string, field func(TraceEvent) string) []string {
	out := []string{}
	for _, e := range trace {
		if e.Action == "observe" && e.Lineage == lineage {
			out = append(out, field(e))
		}
	}
	return out
}

// assertSequence compares the per-observation values of a lineage against
// the expected list, in order and in full.
func assertSequence(trace []TraceEvent, a Assertion, field func(TraceEvent) string) error {
	got := observed(trace, a.Lineage, field)
	if slices.Equal(got, a.Values) {
		return nil
	}
	return &AssertionError{
		Type:     a.Type,
		Expected: fmt.Sprintf("%s: %v", a.Lineage, a.Values),
		Actual:   fmt.Sprintf("%v", got),
		Trace:    trace,
	}
}

// assertIdentityChanges counts the identifiers recorded for a lineage.
// The first mint counts as a change.
func assertIdentityChanges(actx *AssertionContext, trace []TraceEvent, a Assertion) error {
	history, err := actx.Store.LineageHistory(actx.Ctx, a.Lineage)
	if err != nil {
		return fmt.Errorf("identity_changes: %w", err)
	}
	if len(history) == a.Count {
		return nil
	}
	return &AssertionError{
		Type:     AssertIdentityChanges,
		Expected: fmt.Sprintf("%d identifiers recorded for %s", a.Count, a.Lineage),
		Actual:   fmt.Sprintf("%d identifiers", len(history)),
		Trace:    trace,
	}
}

// assertDelivered counts handler deliveries of one payload type at a node,
// or across the ring when no node is given.
func assertDelivered(actx *AssertionContext, trace []TraceEvent, a Assertion) error {
	typ, err := ring.ParseType(a.Payload)
	if err != nil {
		return err
	}
	count := 0
	where := "ring-wide"
	if a.Node != nil {
		count = actx.Deliveries[*a.Node][typ]
		where = fmt.Sprintf("at node %d", *a.Node)
	} else {
		for _, byType := range actx.Deliveries {
			count += byType[typ]
		}
	}
	if count == a.Count {
		return nil
	}
	return &AssertionError{
		Type:     AssertDelivered,
		Expected: fmt.Sprintf("%d %s deliveries %s", a.Count, typ, where),
		Actual:   fmt.Sprintf("%d deliveries", count),
		Trace:    trace,
	}
}

// assertTokenHolders compares the final token holders, ignoring order.
func assertTokenHolders(actx *AssertionContext, trace []TraceEvent, a Assertion) error {
	got := actx.Ring.TokenHolders()
	want := slices.Clone(a.Nodes)
	slices.Sort(want)
	if slices.Equal(got, want) {
		return nil
	}
	return &AssertionError{
		Type:     AssertTokenHolders,
		Expected: fmt.Sprintf("holders %v", want),
		Actual:   fmt.Sprintf("holders %v", got),
		Trace:    trace,
	}
}

// EvaluateAssertions evaluates all assertions against the result.
// Returns a slice of error messages for failed assertions.
// The actx parameter provides the store, ring and delivery counts that
// identity_changes, delivered and token_holders need.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var errors []string

	for i, assertion := range assertions {
		var err error

		switch assertion.Type {
		case AssertClassSequence:
			err = assertSequence(result.Trace, assertion, func(e TraceEvent) string { return e.Class.String() })
		case AssertGateSequence:
			err = assertSequence(result.Trace, assertion, func(e TraceEvent) string { return e.Gate.String() })
		case AssertIdentityChanges:
			if actx == nil || actx.Store == nil {
				err = fmt.Errorf("assertion[%d]: identity_changes requires database context", i)
			} else {
				err = assertIdentityChanges(actx, result.Trace, assertion)
			}
		case AssertDelivered:
			if actx == nil {
				err = fmt.Errorf("assertion[%d]: delivered requires ring context", i)
			} else {
				err = assertDelivered(actx, result.Trace, assertion)
			}
		case AssertTokenHolders:
			if actx == nil || actx.Ring == nil {
				err = fmt.Errorf("assertion[%d]: token_holders requires ring context", i)
			} else {
				err = assertTokenHolders(actx, result.Trace, assertion)
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
