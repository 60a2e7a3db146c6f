package lineage

import (
	"fmt"
	"time"

	"github.com/cp5337/sx9-sub010/internal/drift"
	"github.com/cp5337/sx9-sub010/internal/gate"
	"github.com/cp5337/sx9-sub010/internal/identity"
)

// Config parameterizes a Processor.
type Config struct {
	Bands drift.Bands
	// Phases holds one gate parameter set per phase, indexed by drift.Phase.
	Phases [drift.PhaseCount]gate.Params
	// Seed is the content-hash seed shared by every lineage.
	Seed uint32
	// Environment is the 24-bit environment fingerprint packed into every
	// context code.
	Environment uint32
	Agent       uint16
}

// DefaultConfig returns the default bands and phase parameters. Activation
// and hold thresholds rise with the phase, as does the recovery period.
func DefaultConfig() Config {
	return Config{
		Bands: drift.DefaultBands(),
		Phases: [drift.PhaseCount]gate.Params{
			drift.Hunt:     {Activation: 0.55, Hold: 0.30, Recovery: 50 * time.Millisecond},
			drift.Detect:   {Activation: 0.62, Hold: 0.38, Recovery: 75 * time.Millisecond},
			drift.Disrupt:  {Activation: 0.70, Hold: 0.45, Recovery: 100 * time.Millisecond},
			drift.Disable:  {Activation: 0.78, Hold: 0.52, Recovery: 150 * time.Millisecond},
			drift.Dominate: {Activation: 0.85, Hold: 0.60, Recovery: 200 * time.Millisecond},
		},
		Environment: identity.EnvironmentFingerprint("default"),
	}
}

// Validate checks the bands, every phase's parameters and the environment
// fingerprint.
func (c Config) Validate() error {
	if err := c.Bands.Validate(); err != nil {
		return err
	}
	for i, p := range c.Phases {
		if err := p.Validate(); err != nil {
			return fmt.Errorf("phase %s: %w", drift.Phase(i), err)
		}
	}
	desc := identity.ContextDescriptor{Timestamp: time.Unix(0, 0), Environment: c.Environment}
	return desc.Validate()
}
