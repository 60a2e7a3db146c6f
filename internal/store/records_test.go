package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cp5337/sx9-sub010/internal/drift"
	"github.com/cp5337/sx9-sub010/internal/gate"
	"github.com/cp5337/sx9-sub010/internal/identity"
	"github.com/cp5337/sx9-sub010/internal/ring"
	"github.com/cp5337/sx9-sub010/internal/testutil"
)

func TestRecordIdentifier_HistoryInOrder(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)
	gen := createTestGenerator()

	first, err := gen.Mint([]byte("payload"), 1, testContext(testutil.Epoch))
	require.NoError(t, err)
	micro, err := gen.Regenerate(first, []byte("payload"), 1, testContext(testutil.Epoch.Add(time.Second)), drift.Micro)
	require.NoError(t, err)
	critical, err := gen.Regenerate(micro, []byte("payload v2"), 1, testContext(testutil.Epoch.Add(2*time.Second)), drift.Critical)
	require.NoError(t, err)

	require.NoError(t, s.RecordIdentifier(ctx, "lineage-a", first, drift.None))
	require.NoError(t, s.RecordIdentifier(ctx, "lineage-b", first, drift.None))
	require.NoError(t, s.RecordIdentifier(ctx, "lineage-a", micro, drift.Micro))
	require.NoError(t, s.RecordIdentifier(ctx, "lineage-a", critical, drift.Critical))

	history, err := s.LineageHistory(ctx, "lineage-a")
	require.NoError(t, err)
	require.Len(t, history, 3)

	assert.Equal(t, []identity.Identifier{first, micro, critical},
		[]identity.Identifier{history[0].Identifier, history[1].Identifier, history[2].Identifier})
	assert.Equal(t, []drift.Class{drift.None, drift.Micro, drift.Critical},
		[]drift.Class{history[0].Class, history[1].Class, history[2].Class})
	assert.Less(t, history[0].Seq, history[1].Seq)
	assert.Less(t, history[1].Seq, history[2].Seq)

	assert.True(t, history[0].CreatedAt.Equal(first.CreatedAt()))
	assert.True(t, history[1].CreatedAt.Equal(history[0].CreatedAt), "micro keeps persistence")
	assert.True(t, history[2].CreatedAt.After(history[1].CreatedAt), "critical mints a new persistence code")
}

func TestLatest(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)
	gen := createTestGenerator()

	_, err := s.Latest(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	a, err := gen.Mint([]byte("a"), 0, testContext(testutil.Epoch))
	require.NoError(t, err)
	b, err := gen.Regenerate(a, []byte("b"), 0, testContext(testutil.Epoch), drift.Hard)
	require.NoError(t, err)

	require.NoError(t, s.RecordIdentifier(ctx, "l", a, drift.None))
	require.NoError(t, s.RecordIdentifier(ctx, "l", b, drift.Hard))

	latest, err := s.Latest(ctx, "l")
	require.NoError(t, err)
	assert.Equal(t, b, latest.Identifier)
	assert.Equal(t, drift.Hard, latest.Class)
	assert.Equal(t, "l", latest.Lineage)
}

func TestLineageHistory_UnknownIsEmpty(t *testing.T) {
	s := createTestStore(t)

	history, err := s.LineageHistory(context.Background(), "nobody")
	require.NoError(t, err)
	assert.NotNil(t, history)
	assert.Empty(t, history)
}

func TestLineages_Sorted(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)
	id, err := createTestGenerator().Mint([]byte("x"), 0, testContext(testutil.Epoch))
	require.NoError(t, err)

	for _, name := range []string{"zeta", "alpha", "mid", "alpha"} {
		require.NoError(t, s.RecordIdentifier(ctx, name, id, drift.None))
	}

	names, err := s.Lineages(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha", "mid", "zeta"}, names)
}

func TestRecordIdentifier_Rejects(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)

	err := s.RecordIdentifier(ctx, "l", identity.Identifier{}, drift.None)
	assert.ErrorIs(t, err, identity.ErrInvalidIdentifier)

	id, err := createTestGenerator().Mint([]byte("x"), 0, testContext(testutil.Epoch))
	require.NoError(t, err)
	assert.Error(t, s.RecordIdentifier(ctx, "l", id, drift.Class(9)))
}

func TestTransitions_RoundTrip(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)
	clock := testutil.NewManualClock()

	g := gate.MustNew(gate.Params{Activation: 0.7, Hold: 0.4, Recovery: 100 * time.Millisecond})
	var want []gate.Transition
	for _, in := range []float64{0.9, 0.2, 0.9} {
		_, tr := g.Step(in, clock.Advance(time.Millisecond))
		if tr != nil {
			want = append(want, *tr)
			require.NoError(t, s.RecordTransition(ctx, "sensor-1", *tr))
		}
	}
	_, tr := g.Step(0.1, clock.Advance(200*time.Millisecond))
	require.NotNil(t, tr)
	want = append(want, *tr)
	require.NoError(t, s.RecordTransition(ctx, "sensor-1", *tr))
	require.NoError(t, s.RecordTransition(ctx, "sensor-2", *tr))

	got, err := s.Transitions(ctx, "sensor-1")
	require.NoError(t, err)
	require.Len(t, got, len(want))
	for i, rec := range got {
		assert.Equal(t, "sensor-1", rec.Signal)
		assert.Equal(t, want[i].From.Kind, rec.From.Kind, "transition %d", i)
		assert.Equal(t, want[i].To.Kind, rec.To.Kind, "transition %d", i)
		assert.True(t, want[i].From.Since.Equal(rec.From.Since), "transition %d from since", i)
		assert.True(t, want[i].To.Since.Equal(rec.To.Since), "transition %d to since", i)
		assert.True(t, want[i].At.Equal(rec.At), "transition %d at", i)
		assert.InDelta(t, want[i].Input, rec.Input, 1e-12)
	}
	assert.Equal(t, gate.On, got[0].To.Kind)
	assert.Equal(t, gate.Recovery, got[1].To.Kind)
	assert.Equal(t, gate.Off, got[2].To.Kind)

	other, err := s.Transitions(ctx, "sensor-2")
	require.NoError(t, err)
	assert.Len(t, other, 1)
}

func TestRecordTransition_RejectsInvalidState(t *testing.T) {
	s := createTestStore(t)
	err := s.RecordTransition(context.Background(), "x", gate.Transition{To: gate.State{Kind: gate.Kind(7)}})
	assert.Error(t, err)
}

func TestClaimMessage_Idempotent(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)

	fresh, err := s.ClaimMessage(ctx, 3, ring.MessageID(1, 1))
	require.NoError(t, err)
	assert.True(t, fresh)

	fresh, err = s.ClaimMessage(ctx, 3, ring.MessageID(1, 1))
	require.NoError(t, err)
	assert.False(t, fresh)

	fresh, err = s.ClaimMessage(ctx, 4, ring.MessageID(1, 1))
	require.NoError(t, err)
	assert.True(t, fresh, "ledgers are per node")

	// Ids above 1<<63 are stored by bit pattern.
	fresh, err = s.ClaimMessage(ctx, 3, ^uint64(0))
	require.NoError(t, err)
	assert.True(t, fresh)
	fresh, err = s.ClaimMessage(ctx, 3, ^uint64(0))
	require.NoError(t, err)
	assert.False(t, fresh)

	n, err := s.ConsumedCount(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestLedger_RestartedRingResumesSequences(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "ring.db")
	cfg := ring.DefaultConfig(ring.DefaultNodes)
	clock := testutil.NewManualClock()

	type run struct {
		id      uint64
		updates map[uint16]int
		stats   ring.Stats
		holders []uint16
	}

	// Each run opens the ledger afresh, as a restarted process would.
	runRing := func(extra func(r *ring.Ring)) run {
		s, err := Open(path)
		require.NoError(t, err)
		defer s.Close()

		out := run{updates: map[uint16]int{}}
		r, err := ring.New(cfg,
			ring.WithRingClock(clock.Now),
			ring.WithLedgers(s.Ledger),
			ring.WithSequences(s.Sequence),
			ring.WithRingHandler(func(node uint16, m ring.Message) {
				if _, ok := m.Payload.(ring.DriftUpdate); ok {
					out.updates[node]++
				}
			}),
		)
		require.NoError(t, err)
		defer r.Close()

		origin, err := r.Node(0)
		require.NoError(t, err)
		out.id, err = origin.Originate(ctx, ring.Broadcast,
			ring.DriftUpdate{Lineage: "l", Class: drift.Soft, Magnitude: 12}, drift.Position{})
		require.NoError(t, err)
		_, err = r.Drain(ctx)
		require.NoError(t, err)

		for i := 0; i < 12; i++ {
			_, err := r.Step(ctx, clock.Advance(cfg.TokenHold))
			require.NoError(t, err)
		}
		out.stats = r.Stats()
		out.holders = r.TokenHolders()
		if extra != nil {
			extra(r)
		}
		return out
	}

	first := runRing(nil)
	require.Len(t, first.updates, cfg.Nodes-1)
	require.Equal(t, []uint16{3}, first.holders)

	var replayed ring.Stats
	second := runRing(func(r *ring.Ring) {
		// The first run's broadcast is still on record at every peer.
		msg := ring.Message{
			ID:          first.id,
			Source:      0,
			Destination: ring.Broadcast,
			Payload:     ring.DriftUpdate{Lineage: "l", Class: drift.Soft, Magnitude: 12},
			Hops:        cfg.TTL,
			Timestamp:   clock.Now(),
		}
		frame, err := msg.MarshalBinary()
		require.NoError(t, err)
		r.Inject(0, 1, frame)
		_, err = r.Drain(ctx)
		require.NoError(t, err)
		replayed = r.Stats()
	})

	assert.NotEqual(t, first.id, second.id, "restarted ring reissued a message id")
	for node := uint16(1); node < uint16(cfg.Nodes); node++ {
		assert.Equal(t, 1, second.updates[node], "node %d", node)
	}
	assert.Equal(t, []uint16{3}, second.holders, "token survives the restart")
	assert.Zero(t, second.stats.Claims)
	assert.Equal(t, first.stats, second.stats, "restarted ring behaves like a fresh one")
	assert.Equal(t, second.stats.Duplicates+1, replayed.Duplicates)
	assert.Equal(t, second.stats.Consumed, replayed.Consumed)

	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()
	_, firstSeq := ring.SplitMessageID(first.id)
	_, secondSeq := ring.SplitMessageID(second.id)
	assert.Greater(t, secondSeq, firstSeq)
	last, err := s.LastSequence(ctx, 0)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, last, secondSeq)
}

func TestClaimMessage_RaisesSourceMark(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)

	last, err := s.LastSequence(ctx, 5)
	require.NoError(t, err)
	assert.Zero(t, last, "unknown source")

	for _, claim := range []struct {
		node uint16
		seq  uint64
	}{{1, 7}, {2, 3}, {1, 3}, {3, 40}} {
		_, err := s.ClaimMessage(ctx, claim.node, ring.MessageID(5, claim.seq))
		require.NoError(t, err)
	}
	_, err = s.ClaimMessage(ctx, 1, ring.MessageID(6, 2))
	require.NoError(t, err)

	last, err = s.LastSequence(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, uint64(40), last, "mark never moves down")
	last, err = s.LastSequence(ctx, 6)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), last)

	clock, err := s.Sequence(5)
	require.NoError(t, err)
	assert.Equal(t, uint64(41), clock.Next())
}
