package lineage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/cp5337/sx9-sub010/internal/drift"
	"github.com/cp5337/sx9-sub010/internal/gate"
	"github.com/cp5337/sx9-sub010/internal/identity"
	"github.com/cp5337/sx9-sub010/internal/ring"
)

var (
	// ErrInvalidObservation is returned for observations rejected before
	// any lineage state changes.
	ErrInvalidObservation = errors.New("lineage: invalid observation")

	// ErrDelivery wraps publish and record failures. The observation has
	// been applied and the Outcome is valid when Observe returns it.
	ErrDelivery = errors.New("lineage: delivery failed")
)

// Publisher circulates payloads. *ring.Node implements it.
type Publisher interface {
	Submit(ctx context.Context, dst uint16, p ring.Payload, pos drift.Position) error
}

// Recorder keeps identifier and gate history. *store.Store implements it.
type Recorder interface {
	RecordIdentifier(ctx context.Context, lineage string, id identity.Identifier, class drift.Class) error
	RecordTransition(ctx context.Context, signal string, tr gate.Transition) error
}

// Observation is one input for a lineage.
type Observation struct {
	Lineage  string
	Content  []byte
	Position drift.Position
	// Entropy is the pre-normalized entropy drift in [0, 1].
	Entropy float64
	State   identity.StateFlag
	At      time.Time
}

// Validate rejects observations the processor cannot apply.
func (o Observation) Validate() error {
	if o.Lineage == "" {
		return fmt.Errorf("%w: empty lineage", ErrInvalidObservation)
	}
	if err := o.Position.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidObservation, err)
	}
	if math.IsNaN(o.Entropy) || o.Entropy < 0 || o.Entropy > 1 {
		return fmt.Errorf("%w: entropy %v outside [0, 1]", ErrInvalidObservation, o.Entropy)
	}
	desc := identity.ContextDescriptor{Timestamp: o.At, State: o.State}
	if err := desc.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidObservation, err)
	}
	return nil
}

// Outcome reports what one observation changed.
type Outcome struct {
	Lineage    string
	Drift      drift.Result
	Phase      drift.Phase
	Identifier identity.Identifier
	// Minted is set on a lineage's first observation and on Critical drift.
	Minted bool
	// Refreshed is set whenever Identifier differs from the previous one.
	Refreshed  bool
	Excitation float64
	Gate       gate.State
	Transition *gate.Transition
	// Published lists the payload types handed to the publisher, in order.
	Published []ring.Type
}

// Snapshot is the current state of one lineage.
type Snapshot struct {
	Lineage      string
	Identifier   identity.Identifier
	Position     drift.Position
	Gate         gate.State
	Observations uint64
}

// Processor applies observations to lineages.
//
// Thread-safety: Observe is safe for concurrent use. Observations of the
// same lineage are serialized by that lineage's lock; different lineages
// share nothing but the lookup map.
type Processor struct {
	cfg       Config
	gen       *identity.Generator
	publisher Publisher
	recorder  Recorder
	logger    *slog.Logger

	mu       sync.Mutex
	lineages map[string]*lineageState
}

type lineageState struct {
	mu           sync.Mutex
	tracker      *drift.Tracker
	gate         *gate.Gate
	id           identity.Identifier
	marker       uint16
	observations uint64
}

// Option configures a Processor.
type Option func(*Processor)

// WithGenerator sets the identifier generator. The default draws UUIDv7
// persistence codes.
func WithGenerator(g *identity.Generator) Option {
	return func(p *Processor) { p.gen = g }
}

// WithPublisher sets where changes are broadcast. Without one nothing is
// published.
func WithPublisher(pub Publisher) Option {
	return func(p *Processor) { p.publisher = pub }
}

// WithRecorder sets where identifiers and transitions are recorded.
func WithRecorder(r Recorder) Option {
	return func(p *Processor) { p.recorder = r }
}

// WithLogger sets the processor's logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Processor) { p.logger = l }
}

// New validates cfg and returns an empty processor.
func New(cfg Config, opts ...Option) (*Processor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	p := &Processor{
		cfg:      cfg,
		lineages: make(map[string]*lineageState),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.gen == nil {
		p.gen = identity.NewGenerator(nil)
	}
	if p.logger == nil {
		p.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return p, nil
}

// Config returns the processor configuration.
func (p *Processor) Config() Config { return p.cfg }

// Observe applies one observation to its lineage.
func (p *Processor) Observe(ctx context.Context, obs Observation) (Outcome, error) {
	if err := obs.Validate(); err != nil {
		return Outcome{}, err
	}

	st := p.state(obs.Lineage)
	st.mu.Lock()
	defer st.mu.Unlock()

	first := st.tracker == nil
	if first {
		tracker, err := drift.NewTracker(p.cfg.Bands, obs.Position)
		if err != nil {
			return Outcome{}, fmt.Errorf("observe %s: %w", obs.Lineage, err)
		}
		st.tracker = tracker
	}
	res := st.tracker.Update(obs.Position)
	phase := drift.AxisToPhase(obs.Position.Operational)

	desc := identity.ContextDescriptor{
		Timestamp:       obs.At,
		Environment:     p.cfg.Environment,
		Agent:           p.cfg.Agent,
		DriftDerivative: identity.DriftFingerprint(obs.Position),
		State:           obs.State,
		Lineage:         st.marker,
		Nonce:           observationNonce(st.observations + 1),
	}

	prev := st.id
	next := prev
	var err error
	switch {
	case first:
		next, err = p.gen.Mint(obs.Content, p.cfg.Seed, desc)
	case res.Crossed():
		next, err = p.gen.Regenerate(prev, obs.Content, p.cfg.Seed, desc, res.Class)
	}
	if err != nil {
		p.rollback(obs.Lineage, st, first, res)
		return Outcome{}, fmt.Errorf("observe %s: %w", obs.Lineage, err)
	}

	// Parameters were validated by New, so SetParams cannot fail here.
	if err := st.gate.SetParams(p.cfg.Phases[phase]); err != nil {
		p.rollback(obs.Lineage, st, first, res)
		return Outcome{}, fmt.Errorf("observe %s: %w", obs.Lineage, err)
	}

	excitation := drift.NoiseScore(
		res.Delta/math.Sqrt(3),
		obs.Entropy,
		math.Abs(res.Current.Semantic-res.Previous.Semantic),
	)
	state, tr := st.gate.Step(excitation, obs.At)

	st.id = next
	st.observations++

	out := Outcome{
		Lineage:    obs.Lineage,
		Drift:      res,
		Phase:      phase,
		Identifier: next,
		Minted:     first || res.Class == drift.Critical,
		Refreshed:  next != prev,
		Excitation: excitation,
		Gate:       state,
		Transition: tr,
	}

	if out.Refreshed || tr != nil || res.Crossed() {
		p.logger.Debug("lineage changed",
			"lineage", obs.Lineage,
			"class", res.Class,
			"magnitude", res.Magnitude,
			"phase", phase,
			"gate", state.Kind,
			"refreshed", out.Refreshed,
		)
	}
	if drift.IsHighNoise(excitation) {
		p.logger.Debug("high noise observation", "lineage", obs.Lineage, "excitation", excitation)
	}

	return out, p.deliver(ctx, obs, &out)
}

// deliver publishes and records the changes in out. Failures are
// collected; one failed publish does not stop the others.
func (p *Processor) deliver(ctx context.Context, obs Observation, out *Outcome) error {
	var errs []error

	publish := func(payload ring.Payload) {
		if p.publisher == nil {
			return
		}
		if err := p.publisher.Submit(ctx, ring.Broadcast, payload, obs.Position); err != nil {
			p.logger.Warn("publish failed",
				"lineage", obs.Lineage,
				"type", payload.Type(),
				"error", err,
			)
			errs = append(errs, fmt.Errorf("publish %s: %w", payload.Type(), err))
			return
		}
		out.Published = append(out.Published, payload.Type())
	}

	if out.Drift.Crossed() {
		publish(ring.DriftUpdate{
			Lineage:   obs.Lineage,
			Class:     out.Drift.Class,
			Magnitude: out.Drift.Magnitude,
		})
	}
	if out.Refreshed {
		publish(ring.IdentityRefresh{
			Lineage:    obs.Lineage,
			Class:      out.Drift.Class,
			Identifier: out.Identifier.String(),
		})
		if p.recorder != nil {
			if err := p.recorder.RecordIdentifier(ctx, obs.Lineage, out.Identifier, out.Drift.Class); err != nil {
				errs = append(errs, err)
			}
		}
	}
	if tr := out.Transition; tr != nil {
		publish(ring.StateChange{
			Signal: obs.Lineage,
			From:   tr.From.Kind,
			To:     tr.To.Kind,
			Phase:  out.Phase,
		})
		if p.recorder != nil {
			if err := p.recorder.RecordTransition(ctx, obs.Lineage, *tr); err != nil {
				errs = append(errs, err)
			}
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %s: %w", ErrDelivery, obs.Lineage, errors.Join(errs...))
	}
	return nil
}

// rollback undoes the tracker update of an observation that failed before
// any other state changed.
func (p *Processor) rollback(lineage string, st *lineageState, first bool, res drift.Result) {
	if first {
		st.tracker = nil
		return
	}
	tracker, err := drift.NewTracker(p.cfg.Bands, res.Previous)
	if err != nil {
		// A nil tracker makes the next observation mint afresh.
		p.logger.Error("restoring drift tracker failed, lineage restarts",
			"lineage", lineage,
			"previous", res.Previous.String(),
			"error", err,
		)
	}
	st.tracker = tracker
}

// observationNonce is the context nonce of a lineage's nth observation.
// The descriptor has 16 bits for it, so counts past 0xFFFF fold their high
// bits in and nonces eventually repeat. Identifiers stay distinct through
// the timestamp and persistence code.
func observationNonce(n uint64) uint16 {
	return uint16(n ^ n>>16 ^ n>>32 ^ n>>48)
}

func (p *Processor) state(lineage string) *lineageState {
	p.mu.Lock()
	defer p.mu.Unlock()

	st, ok := p.lineages[lineage]
	if !ok {
		st = &lineageState{
			gate:   gate.MustNew(p.cfg.Phases[drift.Hunt]),
			marker: identity.LineageMarker(lineage),
		}
		p.lineages[lineage] = st
	}
	return st
}

func (p *Processor) lookup(lineage string) (*lineageState, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	st, ok := p.lineages[lineage]
	return st, ok
}

// Identifier returns the current identifier of lineage.
func (p *Processor) Identifier(lineage string) (identity.Identifier, bool) {
	st, ok := p.lookup(lineage)
	if !ok {
		return identity.Identifier{}, false
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.id, !st.id.IsZero()
}

// Snapshot returns the current state of lineage.
func (p *Processor) Snapshot(lineage string) (Snapshot, bool) {
	st, ok := p.lookup(lineage)
	if !ok {
		return Snapshot{}, false
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.tracker == nil {
		return Snapshot{}, false
	}
	return Snapshot{
		Lineage:      lineage,
		Identifier:   st.id,
		Position:     st.tracker.Position(),
		Gate:         st.gate.State(),
		Observations: st.observations,
	}, true
}

// Lineages returns the names of every observed lineage, sorted.
func (p *Processor) Lineages() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	names := make([]string, 0, len(p.lineages))
	for name := range p.lineages {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
