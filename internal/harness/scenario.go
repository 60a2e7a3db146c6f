package harness

import (
	"bytes"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/cp5337/sx9-sub010/internal/drift"
	"github.com/cp5337/sx9-sub010/internal/gate"
	"github.com/cp5337/sx9-sub010/internal/identity"
	"github.com/cp5337/sx9-sub010/internal/ring"
)

// Scenario defines a deterministic run of the lineage processor and the
// ring it publishes to, plus assertions on what happened.
type Scenario struct {
	// Name uniquely identifies this scenario. It also names the golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Config is an inline configuration document, parsed like a config
	// file: omitted fields keep their defaults.
	Config yaml.Node `yaml:"config,omitempty"`

	// Steps run in order against a manual clock starting at the epoch.
	Steps []Step `yaml:"steps"`

	// Assertions validate the final trace and state.
	// Supported types: class_sequence, gate_sequence, identity_changes,
	// delivered, token_holders
	Assertions []Assertion `yaml:"assertions"`
}

// Step advances the clock by AdvanceMS and then performs exactly one action.
type Step struct {
	AdvanceMS int64 `yaml:"advance_ms,omitempty"`

	// Observe feeds one observation to the processor.
	Observe *ObserveStep `yaml:"observe,omitempty"`

	// Tick advances every node's timers and drains the ring.
	Tick bool `yaml:"tick,omitempty"`

	// Drain delivers every frame in flight.
	Drain bool `yaml:"drain,omitempty"`

	// Kill crashes a node; Revive restarts it.
	Kill   *uint16 `yaml:"kill,omitempty"`
	Revive *uint16 `yaml:"revive,omitempty"`
}

// ObserveStep is an observation in scenario form.
type ObserveStep struct {
	Lineage string `yaml:"lineage"`
	// Position is [semantic, operational, temporal].
	Position []float64 `yaml:"position"`
	Content  string    `yaml:"content,omitempty"`
	Entropy  float64   `yaml:"entropy,omitempty"`
	// State is a state flag name (cold, warm, hot, fast-path). Default cold.
	State string `yaml:"state,omitempty"`
	// Node is the ring node that publishes the changes.
	Node uint16 `yaml:"node,omitempty"`
}

// Assertion validates the trace or final state.
type Assertion struct {
	// Type specifies the assertion type:
	// - "class_sequence": drift class of every observation of Lineage
	// - "gate_sequence": gate state after every observation of Lineage
	// - "identity_changes": identifiers recorded for Lineage
	// - "delivered": messages of Payload consumed at Node, or ring-wide
	// - "token_holders": nodes holding the token at the end
	Type string `yaml:"type"`

	Lineage string   `yaml:"lineage,omitempty"`
	Values  []string `yaml:"values,omitempty"`
	Count   int      `yaml:"count,omitempty"`
	Payload string   `yaml:"payload,omitempty"`
	Node    *uint16  `yaml:"node,omitempty"`
	Nodes   []uint16 `yaml:"nodes,omitempty"`
}

// Assertion type constants.
const (
	AssertClassSequence   = "class_sequence"
	AssertGateSequence    = "gate_sequence"
	AssertIdentityChanges = "identity_changes"
	AssertDelivered       = "delivered"
	AssertTokenHolders    = "token_holders"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses scenario YAML with the same checks as LoadScenario.
func ParseScenario(data []byte) (*Scenario, error) {
	// Strict decoding catches typos like "assertion:" vs "assertions:".
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return errors.New("name is required")
	}
	if s.Description == "" {
		return errors.New("description is required")
	}
	if len(s.Steps) == 0 {
		return errors.New("steps list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return errors.New("assertions list is required and must be non-empty")
	}

	for i, step := range s.Steps {
		if err := validateStep(step); err != nil {
			return fmt.Errorf("steps[%d]: %w", i, err)
		}
	}
	for i := range s.Assertions {
		if err := validateAssertion(i, &s.Assertions[i]); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(step Step) error {
	if step.AdvanceMS < 0 {
		return fmt.Errorf("advance_ms %d is negative", step.AdvanceMS)
	}
	actions := 0
	for _, set := range []bool{step.Observe != nil, step.Tick, step.Drain, step.Kill != nil, step.Revive != nil} {
		if set {
			actions++
		}
	}
	if actions != 1 {
		return fmt.Errorf("exactly one of observe, tick, drain, kill, revive is required, got %d", actions)
	}
	if o := step.Observe; o != nil {
		if o.Lineage == "" {
			return errors.New("observe: lineage is required")
		}
		if len(o.Position) != 3 {
			return fmt.Errorf("observe: position needs 3 axes, got %d", len(o.Position))
		}
		if _, err := drift.NewPosition(o.Position[0], o.Position[1], o.Position[2]); err != nil {
			return fmt.Errorf("observe: %w", err)
		}
		if o.State != "" {
			if _, err := identity.ParseStateFlag(o.State); err != nil {
				return fmt.Errorf("observe: %w", err)
			}
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertClassSequence:
		if a.Lineage == "" {
			return fmt.Errorf("assertions[%d]: lineage is required for class_sequence", index)
		}
		for _, v := range a.Values {
			if _, err := drift.ParseClass(v); err != nil {
				return fmt.Errorf("assertions[%d]: %w", index, err)
			}
		}
	case AssertGateSequence:
		if a.Lineage == "" {
			return fmt.Errorf("assertions[%d]: lineage is required for gate_sequence", index)
		}
		for _, v := range a.Values {
			if _, err := gate.ParseKind(v); err != nil {
				return fmt.Errorf("assertions[%d]: %w", index, err)
			}
		}
	case AssertIdentityChanges:
		if a.Lineage == "" {
			return fmt.Errorf("assertions[%d]: lineage is required for identity_changes", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for identity_changes", index)
		}
	case AssertDelivered:
		if _, err := ring.ParseType(a.Payload); err != nil {
			return fmt.Errorf("assertions[%d]: %w", index, err)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for delivered", index)
		}
	case AssertTokenHolders:
		// An empty list asserts that the token is lost.
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}

	return nil
}
