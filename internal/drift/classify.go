package drift

import (
	"errors"
	"fmt"
	"math"
)

// DegreesScale converts a unit-space distance into degrees-equivalent
// magnitude for band comparison.
const DegreesScale = 180.0

// ErrInvalidBands is returned when band bounds are not strictly increasing
// positive finite numbers.
var ErrInvalidBands = errors.New("drift: invalid classification bands")

// Class is a classification band. Values are ordered None < Micro < Soft <
// Hard < Critical and may be compared with <.
type Class uint8

const (
	None Class = iota
	Micro
	Soft
	Hard
	Critical
)

var classNames = [...]string{"none", "micro", "soft", "hard", "critical"}

func (c Class) String() string {
	if int(c) < len(classNames) {
		return classNames[c]
	}
	return fmt.Sprintf("class(%d)", uint8(c))
}

// Valid reports whether c is one of the five bands.
func (c Class) Valid() bool { return c <= Critical }

// ParseClass maps a band name back to its Class.
func ParseClass(s string) (Class, error) {
	for i, name := range classNames {
		if name == s {
			return Class(i), nil
		}
	}
	return None, fmt.Errorf("drift: unknown class %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (c Class) MarshalText() ([]byte, error) {
	if !c.Valid() {
		return nil, fmt.Errorf("drift: invalid class %d", uint8(c))
	}
	return []byte(c.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (c *Class) UnmarshalText(b []byte) error {
	v, err := ParseClass(string(b))
	if err != nil {
		return err
	}
	*c = v
	return nil
}

// Bands holds the lower-inclusive bound of each band above None, in
// degrees-equivalent units. None covers [0, Micro) and Critical is unbounded.
type Bands struct {
	Micro    float64 `json:"micro" yaml:"micro"`
	Soft     float64 `json:"soft" yaml:"soft"`
	Hard     float64 `json:"hard" yaml:"hard"`
	Critical float64 `json:"critical" yaml:"critical"`
}

// DefaultBands returns the built-in band bounds.
func DefaultBands() Bands {
	return Bands{Micro: 2, Soft: 10, Hard: 25, Critical: 60}
}

// NewBands validates that 0 < micro < soft < hard < critical.
func NewBands(micro, soft, hard, critical float64) (Bands, error) {
	b := Bands{Micro: micro, Soft: soft, Hard: hard, Critical: critical}
	if err := b.Validate(); err != nil {
		return Bands{}, err
	}
	return b, nil
}

// Validate checks the ordering invariant.
func (b Bands) Validate() error {
	bounds := []float64{0, b.Micro, b.Soft, b.Hard, b.Critical}
	for i := 1; i < len(bounds); i++ {
		if math.IsNaN(bounds[i]) || math.IsInf(bounds[i], 0) {
			return fmt.Errorf("%w: %s bound is not finite", ErrInvalidBands, Class(i))
		}
		if bounds[i] <= bounds[i-1] {
			return fmt.Errorf("%w: %s bound %v must exceed %s bound %v",
				ErrInvalidBands, Class(i), bounds[i], Class(i-1), bounds[i-1])
		}
	}
	return nil
}

// Classify returns the band containing magnitude. Negative or NaN magnitudes
// classify as None.
func (b Bands) Classify(magnitude float64) Class {
	switch {
	case magnitude >= b.Critical:
		return Critical
	case magnitude >= b.Hard:
		return Hard
	case magnitude >= b.Soft:
		return Soft
	case magnitude >= b.Micro:
		return Micro
	}
	return None
}

// Magnitude is ||to - from|| scaled to degrees-equivalent.
func Magnitude(from, to Position) float64 {
	return from.Distance(to) * DegreesScale
}

// Result describes one tracker update.
type Result struct {
	Class     Class
	Magnitude float64
	// Delta is the unit-space Euclidean distance before degree scaling.
	Delta    float64
	Previous Position
	Current  Position
}

// Crossed reports whether the update left the None band and therefore
// requires identifier regeneration.
func (r Result) Crossed() bool { return r.Class > None }

// Tracker owns the current position of one lineage.
//
// Tracker is not safe for concurrent use. Updates for the same lineage must
// be serialized by whoever owns the tracker; distinct trackers need no
// shared lock.
type Tracker struct {
	bands    Bands
	position Position
}

// NewTracker starts a tracker at the given position.
func NewTracker(bands Bands, start Position) (*Tracker, error) {
	if err := bands.Validate(); err != nil {
		return nil, err
	}
	if err := start.Validate(); err != nil {
		return nil, err
	}
	return &Tracker{bands: bands, position: start}, nil
}

// Position returns the stored position.
func (t *Tracker) Position() Position { return t.position }

// Bands returns the tracker's classification bounds.
func (t *Tracker) Bands() Bands { return t.bands }

// Update classifies the move to next and stores next as the current position.
func (t *Tracker) Update(next Position) Result {
	prev := t.position
	delta := prev.Distance(next)
	magnitude := delta * DegreesScale
	t.position = next
	return Result{
		Class:     t.bands.Classify(magnitude),
		Magnitude: magnitude,
		Delta:     delta,
		Previous:  prev,
		Current:   next,
	}
}
