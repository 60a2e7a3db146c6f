package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/cp5337/sx9-sub010/internal/config"
	"github.com/cp5337/sx9-sub010/internal/drift"
	"github.com/cp5337/sx9-sub010/internal/identity"
	"github.com/cp5337/sx9-sub010/internal/lineage"
	"github.com/cp5337/sx9-sub010/internal/ring"
	"github.com/cp5337/sx9-sub010/internal/store"
	"github.com/cp5337/sx9-sub010/internal/testutil"
)

// Harness is the scenario execution engine.
// It drives a lineage processor and a ring from a manual clock, so a
// scenario produces the same trace on every run.
type Harness struct {
	store     *store.Store
	ring      *ring.Ring
	processor *lineage.Processor
	publisher *routedPublisher
	clock     *testutil.ManualClock
	logger    *slog.Logger

	mu         sync.Mutex
	deliveries map[uint16]map[ring.Type]int
}

// routedPublisher submits through whichever node the current observe step
// names.
type routedPublisher struct {
	ring *ring.Ring
	node uint16
}

func (p *routedPublisher) Submit(ctx context.Context, dst uint16, payload ring.Payload, pos drift.Position) error {
	n, err := p.ring.Node(p.node)
	if err != nil {
		return err
	}
	return n.Submit(ctx, dst, payload, pos)
}

// Run executes a test scenario and returns the result.
//
// Each scenario runs in a fresh in-memory database for isolation. The
// database backs the identifier history, the gate transitions and every
// node's dedupe ledger.
//
// Execution flow:
// 1. Resolve configuration (defaults plus the inline config block)
// 2. Build the store, ring and processor on a manual clock
// 3. Execute steps in order
// 4. Return result with pass/fail, trace, and errors
func Run(scenario *Scenario) (*Result, error) {
	return RunContext(context.Background(), scenario, nil)
}

// RunContext is Run with a caller-supplied context and logger. A nil logger
// discards output.
func RunContext(ctx context.Context, scenario *Scenario, logger *slog.Logger) (*Result, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	cfg, err := scenarioConfig(scenario)
	if err != nil {
		return nil, err
	}
	procCfg, err := cfg.Processor()
	if err != nil {
		return nil, fmt.Errorf("processor config: %w", err)
	}
	ringCfg, err := cfg.RingConfig()
	if err != nil {
		return nil, fmt.Errorf("ring config: %w", err)
	}

	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	h := &Harness{
		store:      st,
		clock:      testutil.NewManualClock(),
		logger:     logger,
		deliveries: make(map[uint16]map[ring.Type]int),
	}

	h.ring, err = ring.New(ringCfg,
		ring.WithRingClock(h.clock.Now),
		ring.WithRingLogger(logger),
		ring.WithRingHandler(h.record),
		ring.WithLedgers(st.Ledger),
		ring.WithSequences(st.Sequence),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to build ring: %w", err)
	}
	defer h.ring.Close()

	h.publisher = &routedPublisher{ring: h.ring}
	h.processor, err = lineage.New(procCfg,
		lineage.WithGenerator(identity.NewGenerator(testutil.NewSequenceSource(testutil.Epoch))),
		lineage.WithPublisher(h.publisher),
		lineage.WithRecorder(st),
		lineage.WithLogger(logger),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to build processor: %w", err)
	}

	result := NewResult()
	for i, step := range scenario.Steps {
		ev, err := h.execute(ctx, i, step)
		if err != nil {
			return nil, fmt.Errorf("step %d: %w", i, err)
		}
		result.Trace = append(result.Trace, ev)
		h.logger.Debug("step completed", "step", i, "event", ev.String())
	}

	actx := &AssertionContext{
		Ctx:        ctx,
		Store:      st,
		Ring:       h.ring,
		Deliveries: h.deliveries,
	}
	for _, msg := range EvaluateAssertions(result, scenario.Assertions, actx) {
		result.AddError(msg)
	}
	return result, nil
}

// scenarioConfig decodes the inline config block over the defaults.
func scenarioConfig(s *Scenario) (*config.Config, error) {
	if s.Config.Kind == 0 {
		return config.Default(), nil
	}
	data, err := yaml.Marshal(&s.Config)
	if err != nil {
		return nil, fmt.Errorf("config block: %w", err)
	}
	cfg, err := config.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("config block: %w", err)
	}
	return cfg, nil
}

// record is the ring handler. It runs under the delivering node's lock and
// must not call back into the ring.
func (h *Harness) record(node uint16, m ring.Message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	byType := h.deliveries[node]
	if byType == nil {
		byType = make(map[ring.Type]int)
		h.deliveries[node] = byType
	}
	byType[m.Type()]++
}

func (h *Harness) execute(ctx context.Context, i int, step Step) (TraceEvent, error) {
	now := h.clock.Advance(time.Duration(step.AdvanceMS) * time.Millisecond)
	ev := TraceEvent{Step: i, Elapsed: now.Sub(testutil.Epoch)}

	switch {
	case step.Observe != nil:
		ev.Action = "observe"
		return ev, h.observe(ctx, step.Observe, now, &ev)

	case step.Tick:
		ev.Action = "tick"
		n, err := h.ring.Step(ctx, now)
		if err != nil {
			return ev, err
		}
		ev.Delivered = n

	case step.Drain:
		ev.Action = "drain"
		n, err := h.ring.Drain(ctx)
		if err != nil {
			return ev, err
		}
		ev.Delivered = n

	case step.Kill != nil:
		ev.Action = "kill"
		ev.Node = *step.Kill
		if err := h.ring.Kill(*step.Kill); err != nil {
			return ev, err
		}

	case step.Revive != nil:
		ev.Action = "revive"
		ev.Node = *step.Revive
		if err := h.ring.Revive(*step.Revive); err != nil {
			return ev, err
		}

	default:
		return ev, errors.New("step has no action")
	}

	ev.Holders = h.ring.TokenHolders()
	return ev, nil
}

func (h *Harness) observe(ctx context.Context, o *ObserveStep, now time.Time, ev *TraceEvent) error {
	pos, err := drift.NewPosition(o.Position[0], o.Position[1], o.Position[2])
	if err != nil {
		return err
	}
	state := identity.Cold
	if o.State != "" {
		if state, err = identity.ParseStateFlag(o.State); err != nil {
			return err
		}
	}
	if _, err := h.ring.Node(o.Node); err != nil {
		return err
	}
	h.publisher.node = o.Node

	out, err := h.processor.Observe(ctx, lineage.Observation{
		Lineage:  o.Lineage,
		Content:  []byte(o.Content),
		Position: pos,
		Entropy:  o.Entropy,
		State:    state,
		At:       now,
	})
	switch {
	case errors.Is(err, lineage.ErrDelivery):
		h.logger.Debug("observation applied with delivery failure", "lineage", o.Lineage, "error", err)
		ev.DeliveryFailed = true
	case err != nil:
		return err
	}

	ev.Lineage = out.Lineage
	ev.Node = o.Node
	ev.Class = out.Drift.Class
	ev.Magnitude = out.Drift.Magnitude
	ev.Phase = out.Phase
	ev.Gate = out.Gate.Kind
	ev.Transition = out.Transition
	ev.Published = out.Published
	switch {
	case out.Minted:
		ev.Identity = IdentityMinted
	case out.Refreshed:
		ev.Identity = IdentityRegenerated
	default:
		ev.Identity = IdentityKept
	}
	return nil
}
