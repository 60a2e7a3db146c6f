// Package gate implements a hysteresis latch that turns a noisy scalar
// signal into Off, On and Recovery states.
//
// A gate switches On at the activation threshold and only lets go below the
// lower hold threshold, so inputs wandering between the two never flap the
// output. Letting go enters Recovery, which ignores input until the recovery
// duration has passed and then settles Off.
//
// The gate knows nothing about operational phases. Callers that run
// per-phase parameter sets swap them in with SetParams.
package gate

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// HistoryCapacity is the number of recent inputs kept for diagnostics.
const HistoryCapacity = 64

// ErrInvalidParams is returned for parameter sets that would make the gate
// bistable or meaningless.
var ErrInvalidParams = errors.New("gate: invalid parameters")

// Kind is the discrete gate state.
type Kind uint8

const (
	Off Kind = iota
	On
	Recovery
)

var kindNames = [...]string{"off", "on", "recovery"}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Valid reports whether k is Off, On or Recovery.
func (k Kind) Valid() bool { return k <= Recovery }

// ParseKind maps a state name back to its Kind.
func ParseKind(s string) (Kind, error) {
	for i, name := range kindNames {
		if name == s {
			return Kind(i), nil
		}
	}
	return Off, fmt.Errorf("gate: unknown state %q", s)
}

// State is a Kind plus the time it was entered. For Recovery, Since is the
// recovery start.
type State struct {
	Kind  Kind
	Since time.Time
}

func (s State) String() string { return s.Kind.String() }

// Params configures one gate.
type Params struct {
	Activation float64
	Hold       float64
	Recovery   time.Duration
}

// Validate requires 0 <= hold < activation <= 1 and a non-negative
// recovery duration.
func (p Params) Validate() error {
	if math.IsNaN(p.Activation) || math.IsNaN(p.Hold) {
		return fmt.Errorf("%w: NaN threshold", ErrInvalidParams)
	}
	if p.Hold < 0 || p.Activation > 1 {
		return fmt.Errorf("%w: thresholds must lie in [0, 1] (activation=%v hold=%v)", ErrInvalidParams, p.Activation, p.Hold)
	}
	if p.Activation <= p.Hold {
		return fmt.Errorf("%w: activation %v must exceed hold %v", ErrInvalidParams, p.Activation, p.Hold)
	}
	if p.Recovery < 0 {
		return fmt.Errorf("%w: negative recovery %s", ErrInvalidParams, p.Recovery)
	}
	return nil
}

// Transition records a state change.
type Transition struct {
	From  State
	To    State
	Input float64
	At    time.Time
}

// Gate is a single-signal latch.
//
// Gate is not safe for concurrent use. Inputs for one signal must be
// serialized by its owner; separate gates share nothing.
type Gate struct {
	params  Params
	state   State
	history history
}

// New validates p and returns a gate in the Off state.
func New(p Params) (*Gate, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &Gate{params: p}, nil
}

// MustNew is like New but panics on error.
// Use only in tests or with literal parameters.
func MustNew(p Params) *Gate {
	g, err := New(p)
	if err != nil {
		panic(err)
	}
	return g
}

// Params returns the active parameter set.
func (g *Gate) Params() Params { return g.params }

// SetParams swaps the parameter set without touching the current state.
// An invalid set is rejected and the old one kept.
func (g *Gate) SetParams(p Params) error {
	if err := p.Validate(); err != nil {
		return err
	}
	g.params = p
	return nil
}

// State returns the current state.
func (g *Gate) State() State { return g.state }

// Process feeds one input and returns the resulting state.
func (g *Gate) Process(input float64, now time.Time) State {
	s, _ := g.Step(input, now)
	return s
}

// Step feeds one input and also reports the transition, if any. The input
// is clamped to [0, 1] (NaN reads as 0) and appended to the history before
// the transition is evaluated; the history never influences transitions.
func (g *Gate) Step(input float64, now time.Time) (State, *Transition) {
	x := clamp01(input)
	g.history.push(x)

	prev := g.state
	next := prev
	switch prev.Kind {
	case Off:
		if x >= g.params.Activation {
			next = State{Kind: On, Since: now}
		}
	case On:
		if x < g.params.Hold {
			next = State{Kind: Recovery, Since: now}
		}
	case Recovery:
		if now.Sub(prev.Since) >= g.params.Recovery {
			next = State{Kind: Off, Since: now}
		}
	}

	if next.Kind == prev.Kind {
		return prev, nil
	}
	g.state = next
	return next, &Transition{From: prev, To: next, Input: x, At: now}
}

// History returns the recent inputs, oldest first.
func (g *Gate) History() []float64 { return g.history.values() }

// Reset returns the gate to Off and clears the history.
func (g *Gate) Reset() {
	g.state = State{}
	g.history = history{}
}

func clamp01(x float64) float64 {
	switch {
	case math.IsNaN(x), x < 0:
		return 0
	case x > 1:
		return 1
	}
	return x
}

// history is a fixed ring of the last HistoryCapacity inputs.
type history struct {
	buf  [HistoryCapacity]float64
	next int
	full bool
}

func (h *history) push(x float64) {
	h.buf[h.next] = x
	h.next = (h.next + 1) % HistoryCapacity
	if h.next == 0 {
		h.full = true
	}
}

func (h *history) values() []float64 {
	if !h.full {
		return append([]float64(nil), h.buf[:h.next]...)
	}
	out := make([]float64, 0, HistoryCapacity)
	out = append(out, h.buf[h.next:]...)
	return append(out, h.buf[:h.next]...)
}
