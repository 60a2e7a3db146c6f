package harness

import (
	"fmt"
	"strings"
	"time"

	"github.com/cp5337/sx9-sub010/internal/drift"
	"github.com/cp5337/sx9-sub010/internal/gate"
	"github.com/cp5337/sx9-sub010/internal/ring"
)

// Result is the outcome of running a scenario.
type Result struct {
	// Pass is true if all assertions passed.
	Pass bool

	// Trace has one event per executed step, in order.
	Trace []TraceEvent

	// Errors contains assertion failure messages (empty if Pass is true).
	Errors []string
}

// NewResult creates a new Result with Pass initialized to true.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError adds an error and marks the result as failed.
func (r *Result) AddError(msg string) {
	r.Errors = append(r.Errors, msg)
	r.Pass = false
}

// Identity outcomes of an observe step.
const (
	IdentityMinted      = "minted"
	IdentityRegenerated = "regenerated"
	IdentityKept        = "kept"
)

// TraceEvent records one executed step.
type TraceEvent struct {
	Step   int
	Action string
	// Elapsed is the manual clock's offset from the scenario start.
	Elapsed time.Duration

	// Observe fields.
	Lineage        string
	Node           uint16
	Class          drift.Class
	Magnitude      float64
	Phase          drift.Phase
	Gate           gate.Kind
	Transition     *gate.Transition
	Identity       string
	Published      []ring.Type
	DeliveryFailed bool

	// Tick, drain, kill and revive fields.
	Delivered int
	Holders   []uint16
}

// String renders the event as one golden-file line.
func (e TraceEvent) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "step %d t=%dms %s", e.Step, e.Elapsed.Milliseconds(), e.Action)

	switch e.Action {
	case "observe":
		fmt.Fprintf(&b, " %s@%d class=%s mag=%.2f phase=%s gate=%s",
			e.Lineage, e.Node, e.Class, e.Magnitude, e.Phase, e.Gate)
		if tr := e.Transition; tr != nil {
			fmt.Fprintf(&b, " (%s->%s)", tr.From.Kind, tr.To.Kind)
		}
		fmt.Fprintf(&b, " id=%s published=%s", e.Identity, typeList(e.Published))
		if e.DeliveryFailed {
			b.WriteString(" delivery=failed")
		}
	case "kill", "revive":
		fmt.Fprintf(&b, " node=%d holders=%v", e.Node, e.Holders)
	default:
		fmt.Fprintf(&b, " delivered=%d holders=%v", e.Delivered, e.Holders)
	}
	return b.String()
}

// FormatTrace renders a trace one event per line.
func FormatTrace(trace []TraceEvent) string {
	var b strings.Builder
	for _, e := range trace {
		b.WriteString(e.String())
		b.WriteByte('\n')
	}
	return b.String()
}

func typeList(types []ring.Type) string {
	if len(types) == 0 {
		return "-"
	}
	names := make([]string, len(types))
	for i, t := range types {
		names[i] = t.String()
	}
	return strings.Join(names, ",")
}
