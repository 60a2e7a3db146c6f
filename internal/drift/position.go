package drift

import (
	"errors"
	"fmt"
	"math"
)

// MicroUnits is the fixed-point scale: one axis unit is 1,000,000 micro-units.
const MicroUnits = 1_000_000

// ErrOutOfRange is returned when an axis value is outside [0, 1] or not a number.
var ErrOutOfRange = errors.New("drift: axis value out of range")

// Position is a point in the normalized semantic/operational/temporal space.
// Values are held at 6-decimal precision; construct with NewPosition or
// ClampPosition rather than a struct literal.
type Position struct {
	Semantic    float64 `json:"semantic" yaml:"semantic"`
	Operational float64 `json:"operational" yaml:"operational"`
	Temporal    float64 `json:"temporal" yaml:"temporal"`
}

// NewPosition validates and rounds the three axes. Any axis outside [0, 1]
// is rejected, never clamped.
func NewPosition(semantic, operational, temporal float64) (Position, error) {
	for _, axis := range []struct {
		name string
		v    float64
	}{
		{"semantic", semantic},
		{"operational", operational},
		{"temporal", temporal},
	} {
		if math.IsNaN(axis.v) || axis.v < 0 || axis.v > 1 {
			return Position{}, fmt.Errorf("%w: %s=%v", ErrOutOfRange, axis.name, axis.v)
		}
	}
	return Position{
		Semantic:    round6(semantic),
		Operational: round6(operational),
		Temporal:    round6(temporal),
	}, nil
}

// MustPosition is like NewPosition but panics on error.
// Use only in tests or with literal inputs.
func MustPosition(semantic, operational, temporal float64) Position {
	p, err := NewPosition(semantic, operational, temporal)
	if err != nil {
		panic(err)
	}
	return p
}

// ClampPosition forces each axis into [0, 1]. NaN becomes 0.
func ClampPosition(semantic, operational, temporal float64) Position {
	return Position{
		Semantic:    round6(clamp01(semantic)),
		Operational: round6(clamp01(operational)),
		Temporal:    round6(clamp01(temporal)),
	}
}

// Validate reports whether p satisfies the range invariant. Useful for
// positions that arrived by decoding rather than construction.
func (p Position) Validate() error {
	_, err := NewPosition(p.Semantic, p.Operational, p.Temporal)
	return err
}

// Sub returns the component-wise delta p - q.
func (p Position) Sub(q Position) [3]float64 {
	return [3]float64{
		p.Semantic - q.Semantic,
		p.Operational - q.Operational,
		p.Temporal - q.Temporal,
	}
}

// Distance is the Euclidean norm of the delta between p and q.
func (p Position) Distance(q Position) float64 {
	d := p.Sub(q)
	return math.Sqrt(d[0]*d[0] + d[1]*d[1] + d[2]*d[2])
}

// Equal compares at 6-decimal precision.
func (p Position) Equal(q Position) bool {
	return p.Fixed() == q.Fixed()
}

// String formats each axis with six decimals.
func (p Position) String() string {
	return fmt.Sprintf("(%.6f, %.6f, %.6f)", p.Semantic, p.Operational, p.Temporal)
}

// Fixed converts to the integer micro-unit mirror.
func (p Position) Fixed() FixedPosition {
	return FixedPosition{
		Semantic:    toMicro(p.Semantic),
		Operational: toMicro(p.Operational),
		Temporal:    toMicro(p.Temporal),
	}
}

// FixedPosition stores each axis as round(x * 1_000_000) for hot paths that
// avoid floating point. Conversion to and from Position is lossless.
type FixedPosition struct {
	Semantic    int32
	Operational int32
	Temporal    int32
}

// Position converts back to the floating representation.
func (f FixedPosition) Position() Position {
	return Position{
		Semantic:    float64(f.Semantic) / MicroUnits,
		Operational: float64(f.Operational) / MicroUnits,
		Temporal:    float64(f.Temporal) / MicroUnits,
	}
}

// Valid reports whether every axis lies in [0, MicroUnits].
func (f FixedPosition) Valid() bool {
	for _, v := range []int32{f.Semantic, f.Operational, f.Temporal} {
		if v < 0 || v > MicroUnits {
			return false
		}
	}
	return true
}

// DistanceSquared is the squared norm of f - g in micro-units squared.
func (f FixedPosition) DistanceSquared(g FixedPosition) int64 {
	ds := int64(f.Semantic) - int64(g.Semantic)
	do := int64(f.Operational) - int64(g.Operational)
	dt := int64(f.Temporal) - int64(g.Temporal)
	return ds*ds + do*do + dt*dt
}

func toMicro(x float64) int32 {
	return int32(math.Round(x * MicroUnits))
}

func round6(x float64) float64 {
	return float64(toMicro(x)) / MicroUnits
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
