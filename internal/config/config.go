// Package config loads and validates sx9 configuration.
//
// A configuration file is YAML. Missing fields keep their defaults, unknown
// fields are rejected. Every file passes three checks in order: strict YAML
// decoding, the embedded CUE schema (types and ranges), then semantic
// validation by building the drift, gate and ring configurations the file
// describes.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/cp5337/sx9-sub010/internal/drift"
	"github.com/cp5337/sx9-sub010/internal/gate"
	"github.com/cp5337/sx9-sub010/internal/identity"
	"github.com/cp5337/sx9-sub010/internal/lineage"
	"github.com/cp5337/sx9-sub010/internal/ring"
)

// Config is the root of a configuration file.
type Config struct {
	Identity IdentityConfig `yaml:"identity" json:"identity"`
	Drift    DriftConfig    `yaml:"drift" json:"drift"`
	Gate     GateConfig     `yaml:"gate" json:"gate"`
	Ring     RingConfig     `yaml:"ring" json:"ring"`
}

// IdentityConfig feeds identifier generation.
type IdentityConfig struct {
	Seed        uint32 `yaml:"seed" json:"seed"`
	Environment string `yaml:"environment" json:"environment"`
	Agent       uint16 `yaml:"agent" json:"agent"`
}

// DriftConfig holds the classification bands in degrees-equivalent units.
type DriftConfig struct {
	Bands drift.Bands `yaml:"bands" json:"bands"`
}

// GateConfig holds one gate parameter set per phase.
type GateConfig struct {
	Phases PhaseSet `yaml:"phases" json:"phases"`
}

// PhaseSet names every phase explicitly so a file can override one phase
// and keep the defaults of the others.
type PhaseSet struct {
	Hunt     PhaseParams `yaml:"hunt" json:"hunt"`
	Detect   PhaseParams `yaml:"detect" json:"detect"`
	Disrupt  PhaseParams `yaml:"disrupt" json:"disrupt"`
	Disable  PhaseParams `yaml:"disable" json:"disable"`
	Dominate PhaseParams `yaml:"dominate" json:"dominate"`
}

// PhaseParams is gate.Params with the recovery period in milliseconds.
type PhaseParams struct {
	Activation float64 `yaml:"activation" json:"activation"`
	Hold       float64 `yaml:"hold" json:"hold"`
	RecoveryMS int64   `yaml:"recovery_ms" json:"recovery_ms"`
}

// RingConfig is ring.Config with durations in milliseconds. A zero TTL or
// token timeout derives the value from the node count.
type RingConfig struct {
	Nodes               int   `yaml:"nodes" json:"nodes"`
	TTL                 int   `yaml:"ttl" json:"ttl"`
	TokenHoldMS         int64 `yaml:"token_hold_ms" json:"token_hold_ms"`
	TokenTimeoutMS      int64 `yaml:"token_timeout_ms" json:"token_timeout_ms"`
	HeartbeatIntervalMS int64 `yaml:"heartbeat_interval_ms" json:"heartbeat_interval_ms"`
	DedupeWindow        int   `yaml:"dedupe_window" json:"dedupe_window"`
	MessagesPerToken    int   `yaml:"messages_per_token" json:"messages_per_token"`
	OutboxSize          int   `yaml:"outbox_size" json:"outbox_size"`
}

// DefaultEnvironment is the environment name used when none is configured.
const DefaultEnvironment = "default"

// Default returns the built-in configuration.
func Default() *Config {
	proc := lineage.DefaultConfig()
	rc := ring.DefaultConfig(ring.DefaultNodes)

	c := &Config{
		Identity: IdentityConfig{Environment: DefaultEnvironment},
		Drift:    DriftConfig{Bands: proc.Bands},
		Ring: RingConfig{
			Nodes:               rc.Nodes,
			TokenHoldMS:         rc.TokenHold.Milliseconds(),
			HeartbeatIntervalMS: rc.HeartbeatInterval.Milliseconds(),
			DedupeWindow:        rc.DedupeWindow,
			MessagesPerToken:    rc.MessagesPerToken,
			OutboxSize:          rc.OutboxSize,
		},
	}
	for _, ph := range drift.Phases() {
		p := proc.Phases[ph]
		*c.Gate.Phases.at(ph) = PhaseParams{
			Activation: p.Activation,
			Hold:       p.Hold,
			RecoveryMS: p.Recovery.Milliseconds(),
		}
	}
	return c
}

func (s *PhaseSet) at(p drift.Phase) *PhaseParams {
	switch p {
	case drift.Hunt:
		return &s.Hunt
	case drift.Detect:
		return &s.Detect
	case drift.Disrupt:
		return &s.Disrupt
	case drift.Disable:
		return &s.Disable
	default:
		return &s.Dominate
	}
}

// Params converts to gate.Params.
func (p PhaseParams) Params() gate.Params {
	return gate.Params{
		Activation: p.Activation,
		Hold:       p.Hold,
		Recovery:   time.Duration(p.RecoveryMS) * time.Millisecond,
	}
}

// Processor builds the lineage processor configuration.
func (c *Config) Processor() (lineage.Config, error) {
	env := c.Identity.Environment
	if env == "" {
		env = DefaultEnvironment
	}
	pc := lineage.Config{
		Bands:       c.Drift.Bands,
		Seed:        c.Identity.Seed,
		Environment: identity.EnvironmentFingerprint(env),
		Agent:       c.Identity.Agent,
	}
	for _, ph := range drift.Phases() {
		pc.Phases[ph] = c.Gate.Phases.at(ph).Params()
	}
	if err := pc.Validate(); err != nil {
		return lineage.Config{}, err
	}
	return pc, nil
}

// RingConfig builds the ring configuration.
func (c *Config) RingConfig() (ring.Config, error) {
	if c.Ring.TTL > 255 || c.Ring.TTL < 0 {
		return ring.Config{}, fmt.Errorf("%w: ttl %d outside 0..255", ring.ErrInvalidConfig, c.Ring.TTL)
	}
	rc := ring.DefaultConfig(c.Ring.Nodes)
	if c.Ring.TTL != 0 {
		rc.TTL = uint8(c.Ring.TTL)
	}
	rc.TokenHold = time.Duration(c.Ring.TokenHoldMS) * time.Millisecond
	if c.Ring.TokenTimeoutMS != 0 {
		rc.TokenTimeout = time.Duration(c.Ring.TokenTimeoutMS) * time.Millisecond
	} else {
		rc.TokenTimeout = time.Duration(c.Ring.Nodes+1) * rc.TokenHold * 2
	}
	rc.HeartbeatInterval = time.Duration(c.Ring.HeartbeatIntervalMS) * time.Millisecond
	rc.DedupeWindow = c.Ring.DedupeWindow
	rc.MessagesPerToken = c.Ring.MessagesPerToken
	rc.OutboxSize = c.Ring.OutboxSize
	if err := rc.Validate(); err != nil {
		return ring.Config{}, err
	}
	return rc, nil
}

// Validate runs the semantic checks: the processor and ring configurations
// must both build.
func (c *Config) Validate() error {
	var issues []Issue
	if _, err := c.Processor(); err != nil {
		issues = append(issues, Issue{Field: "identity/drift/gate", Message: err.Error()})
	}
	if _, err := c.RingConfig(); err != nil {
		issues = append(issues, Issue{Field: "ring", Message: err.Error()})
	}
	if len(issues) > 0 {
		return &ValidationError{Stage: StageSemantic, Issues: issues}
	}
	return nil
}

// Validation stages, in the order they run.
const (
	StageDecode   = "decode"
	StageSchema   = "schema"
	StageSemantic = "semantic"
)

// Issue is one problem found in a configuration.
type Issue struct {
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

// ValidationError reports every issue found by the first failing stage.
type ValidationError struct {
	Stage  string  `json:"stage"`
	Issues []Issue `json:"issues"`
}

func (e *ValidationError) Error() string {
	msgs := make([]string, len(e.Issues))
	for i, is := range e.Issues {
		if is.Field != "" {
			msgs[i] = is.Field + ": " + is.Message
		} else {
			msgs[i] = is.Message
		}
	}
	return fmt.Sprintf("config %s: %s", e.Stage, strings.Join(msgs, "; "))
}
