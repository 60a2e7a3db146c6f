package drift

import "fmt"

// Phase is one of five ordered operational phases derived from the
// operational axis.
type Phase uint8

const (
	Hunt Phase = iota
	Detect
	Disrupt
	Disable
	Dominate
)

// PhaseCount is the number of phases.
const PhaseCount = 5

var phaseNames = [PhaseCount]string{"hunt", "detect", "disrupt", "disable", "dominate"}

// phaseBreaks are the lower-inclusive bounds of phases 1..4.
var phaseBreaks = [PhaseCount - 1]float64{0.2, 0.4, 0.6, 0.8}

func (p Phase) String() string {
	if int(p) < len(phaseNames) {
		return phaseNames[p]
	}
	return fmt.Sprintf("phase(%d)", uint8(p))
}

// Phases lists every phase in order.
func Phases() []Phase {
	return []Phase{Hunt, Detect, Disrupt, Disable, Dominate}
}

// ParsePhase maps a phase name back to its Phase.
func ParsePhase(s string) (Phase, error) {
	for i, name := range phaseNames {
		if name == s {
			return Phase(i), nil
		}
	}
	return Hunt, fmt.Errorf("drift: unknown phase %q", s)
}

// AxisToPhase maps the operational axis onto a phase: below 0.2 is Hunt,
// 0.8 and above is Dominate.
func AxisToPhase(y float64) Phase {
	p := Hunt
	for i, b := range phaseBreaks {
		if y >= b {
			p = Phase(i + 1)
		}
	}
	return p
}

// Noise weights.
const (
	noiseDeltaWeight    = 0.4
	noiseDeltaScale     = 0.5
	noiseEntropyWeight  = 0.3
	noiseSemanticWeight = 0.3
)

// NoiseScore combines pre-normalized drift signals:
//
//	0.4*(delta/0.5) + 0.3*entropy + 0.3*semantic
//
// The result is not clamped. Anything above 1.0 is high noise, not an error.
func NoiseScore(deltaMagnitude, entropyDrift, semanticDrift float64) float64 {
	return noiseDeltaWeight*(deltaMagnitude/noiseDeltaScale) +
		noiseEntropyWeight*entropyDrift +
		noiseSemanticWeight*semanticDrift
}

// IsHighNoise reports whether a noise score exceeds 1.0.
func IsHighNoise(score float64) bool { return score > 1.0 }
