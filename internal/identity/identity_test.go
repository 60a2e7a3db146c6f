package identity

import (
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cp5337/sx9-sub010/internal/codec"
	"github.com/cp5337/sx9-sub010/internal/drift"
	"github.com/cp5337/sx9-sub010/internal/testutil"
)

func testContext() ContextDescriptor {
	return ContextDescriptor{
		Timestamp:       time.Date(2025, 3, 14, 15, 9, 26, 0, time.UTC),
		Environment:     EnvironmentFingerprint("edge-7"),
		Agent:           42,
		DriftDerivative: DriftFingerprint(drift.MustPosition(0.5, 0.5, 0.5)),
		State:           Warm,
		Lineage:         7,
		Nonce:           1,
	}
}

func newTestGenerator() *Generator {
	return NewGenerator(testutil.NewSequenceSource(testutil.Epoch))
}

func TestMint_Shape(t *testing.T) {
	id, err := newTestGenerator().Mint([]byte("payload"), 1, testContext())
	require.NoError(t, err)

	assert.Len(t, []rune(id.Content), ContentWidth)
	assert.Len(t, []rune(id.Context), ContextWidth)
	assert.Len(t, []rune(id.Persistence), PersistenceWidth)
	assert.True(t, strings.HasPrefix(id.String(), "id:"))
	assert.True(t, codec.Valid(id.Content+id.Context+id.Persistence))
	assert.True(t, strings.HasPrefix(id.Content, "!!!!"), "content code is left-padded with the zero symbol")
}

func TestMint_Deterministic(t *testing.T) {
	g := NewGenerator(nil)
	ctx := testContext()

	a, err := g.Mint([]byte("same content"), 99, ctx)
	require.NoError(t, err)
	b, err := g.Mint([]byte("same content"), 99, ctx)
	require.NoError(t, err)

	assert.Equal(t, a.Content, b.Content)
	assert.Equal(t, a.Context, b.Context)
	assert.NotEqual(t, a.Persistence, b.Persistence, "persistence codes are never reused")
}

func TestMint_SeedAndContentChangeContentCode(t *testing.T) {
	base := ContentCode([]byte("alpha"), 1)
	assert.NotEqual(t, base, ContentCode([]byte("alpha"), 2))
	assert.NotEqual(t, base, ContentCode([]byte("alphb"), 1))
	assert.Equal(t, base, ContentCode([]byte("alpha"), 1))
}

func TestMint_ConcurrentPersistenceUnique(t *testing.T) {
	g := NewGenerator(nil)
	const workers = 8
	const perWorker = 200

	var mu sync.Mutex
	seen := make(map[string]bool)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				id, err := g.Mint([]byte("x"), 0, testContext())
				assert.NoError(t, err)
				mu.Lock()
				assert.False(t, seen[id.Persistence], "duplicate persistence code")
				seen[id.Persistence] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Len(t, seen, workers*perWorker)
}

func TestMint_PersistenceSortsByCreation(t *testing.T) {
	g := NewGenerator(nil)
	var prev string
	for i := 0; i < 100; i++ {
		id, err := g.Mint([]byte("x"), 0, testContext())
		require.NoError(t, err)
		if prev != "" {
			assert.Less(t, prev, id.Persistence)
		}
		prev = id.Persistence
	}
}

func TestMint_RejectsInvalidContext(t *testing.T) {
	g := newTestGenerator()

	ctx := testContext()
	ctx.Environment = 1 << 24
	_, err := g.Mint(nil, 0, ctx)
	assert.ErrorIs(t, err, ErrInvalidContext)

	ctx = testContext()
	ctx.State = StateFlag(4)
	_, err = g.Mint(nil, 0, ctx)
	assert.ErrorIs(t, err, ErrInvalidContext)

	ctx = testContext()
	ctx.Timestamp = time.Unix(-1, 0)
	_, err = g.Mint(nil, 0, ctx)
	assert.ErrorIs(t, err, ErrInvalidContext)
}

type failingSource struct{}

func (failingSource) Next() ([16]byte, error) { return [16]byte{}, errors.New("entropy exhausted") }

func TestMint_SourceFailure(t *testing.T) {
	_, err := NewGenerator(failingSource{}).Mint(nil, 0, testContext())
	assert.ErrorContains(t, err, "entropy exhausted")
}

func TestContext_PackRoundTrip(t *testing.T) {
	ctx := testContext()
	b, err := ctx.Pack()
	require.NoError(t, err)

	back, err := UnpackContext(b)
	require.NoError(t, err)
	assert.Equal(t, ctx, back)
}

func TestContext_Layout(t *testing.T) {
	ctx := ContextDescriptor{
		Timestamp:       time.Unix(0x01020304, 0),
		Environment:     0x050607,
		Agent:           0x0809,
		DriftDerivative: 0x0A0B,
		State:           FastPath,
		Lineage:         0x0D0E,
		Nonce:           0x0F10,
	}
	b, err := ctx.Pack()
	require.NoError(t, err)
	assert.Equal(t, [ContextSize]byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 0x0A, 0x0B, 3, 0x0D, 0x0E, 0x0F, 0x10}, b)
}

func TestContext_MutationChangesCode(t *testing.T) {
	base, err := ContextCode(testContext())
	require.NoError(t, err)

	mutations := map[string]func(*ContextDescriptor){
		"timestamp": func(c *ContextDescriptor) { c.Timestamp = c.Timestamp.Add(time.Second) },
		"env":       func(c *ContextDescriptor) { c.Environment++ },
		"agent":     func(c *ContextDescriptor) { c.Agent++ },
		"drift":     func(c *ContextDescriptor) { c.DriftDerivative++ },
		"state":     func(c *ContextDescriptor) { c.State = Hot },
		"lineage":   func(c *ContextDescriptor) { c.Lineage++ },
		"nonce":     func(c *ContextDescriptor) { c.Nonce++ },
	}
	for name, mutate := range mutations {
		t.Run(name, func(t *testing.T) {
			ctx := testContext()
			mutate(&ctx)
			code, err := ContextCode(ctx)
			require.NoError(t, err)
			assert.NotEqual(t, base, code)
		})
	}
}

func TestStateFlag_Parse(t *testing.T) {
	for _, s := range []StateFlag{Cold, Warm, Hot, FastPath} {
		got, err := ParseStateFlag(s.String())
		require.NoError(t, err)
		assert.Equal(t, s, got)
	}
	_, err := ParseStateFlag("lukewarm")
	assert.ErrorIs(t, err, ErrInvalidContext)
}

func TestParse_RoundTrip(t *testing.T) {
	id, err := newTestGenerator().Mint([]byte("round trip"), 3, testContext())
	require.NoError(t, err)

	parsed, err := Parse(id.String())
	require.NoError(t, err)
	assert.Equal(t, id, parsed)

	ctx, err := parsed.ContextDescriptor()
	require.NoError(t, err)
	assert.Equal(t, testContext(), ctx)

	text, err := id.MarshalText()
	require.NoError(t, err)
	var back Identifier
	require.NoError(t, back.UnmarshalText(text))
	assert.Equal(t, id, back)
}

func TestParse_Rejects(t *testing.T) {
	id, err := newTestGenerator().Mint([]byte("x"), 0, testContext())
	require.NoError(t, err)
	good := id.String()
	runes := []rune(good)

	replace := func(pos int, r rune) string {
		out := append([]rune(nil), runes...)
		out[pos] = r
		return string(out)
	}

	tests := map[string]string{
		"no prefix":            "xx:" + good[3:],
		"too short":            good[:len(good)-1],
		"too long":             good + "!",
		"separator moved":      replace(3+ContentWidth, 'A'),
		"bad symbol":           replace(10, ' '),
		"nonzero pad":          replace(3, 'Z'),
		"bad state flag":       "id:" + id.Content + "_" + badStateContext(t) + "_" + id.Persistence,
		"empty":                "",
		"only prefix":          "id:",
		"persistence overflow": "id:" + id.Content + "_" + id.Context + "_" + strings.Repeat("§", PersistenceWidth),
	}
	for name, input := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Parse(input)
			assert.ErrorIs(t, err, ErrInvalidIdentifier)
		})
	}
}

func badStateContext(t *testing.T) string {
	t.Helper()
	b, err := testContext().Pack()
	require.NoError(t, err)
	b[11] = 9
	return codec.Encode(b[:])
}

func TestIdentifier_CreatedAt(t *testing.T) {
	id, err := newTestGenerator().Mint(nil, 0, testContext())
	require.NoError(t, err)
	assert.Equal(t, testutil.Epoch.Add(time.Millisecond), id.CreatedAt())

	u, err := id.PersistenceUUID()
	require.NoError(t, err)
	assert.Equal(t, 7, int(u.Version()))

	assert.True(t, Identifier{}.CreatedAt().IsZero())
}

func TestMintText_NFC(t *testing.T) {
	g := newTestGenerator()
	composed := "caf\u00e9"
	decomposed := "cafe\u0301"

	a, err := g.MintText(composed, 0, testContext())
	require.NoError(t, err)
	b, err := g.MintText(decomposed, 0, testContext())
	require.NoError(t, err)
	assert.Equal(t, a.Content, b.Content)

	raw, err := g.Mint([]byte(decomposed), 0, testContext())
	require.NoError(t, err)
	assert.NotEqual(t, raw.Content, b.Content, "raw bytes are hashed without normalization")
}

func TestDriftFingerprint_SixDecimalStable(t *testing.T) {
	a := DriftFingerprint(drift.Position{Semantic: 0.1000001, Operational: 0.2, Temporal: 0.3})
	b := DriftFingerprint(drift.Position{Semantic: 0.1000002, Operational: 0.2, Temporal: 0.3})
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, DriftFingerprint(drift.MustPosition(0.9, 0.2, 0.3)))
}

func TestEnvironmentFingerprint_Width(t *testing.T) {
	for _, name := range []string{"", "a", "edge-7", "a much longer environment name"} {
		assert.LessOrEqual(t, EnvironmentFingerprint(name), uint32(maxEnvironment))
	}
}

func TestLineageMarker_Deterministic(t *testing.T) {
	assert.Equal(t, LineageMarker("sensor-array-4"), LineageMarker("sensor-array-4"))
	assert.NotEqual(t, LineageMarker("sensor-array-4"), LineageMarker("sensor-array-5"))
}

// TestRegenerate_PolicyAcrossLineage drives one lineage through Micro, Hard
// and Critical drift and checks which codes each class replaces.
func TestRegenerate_PolicyAcrossLineage(t *testing.T) {
	g := newTestGenerator()
	tracker, err := drift.NewTracker(drift.DefaultBands(), drift.MustPosition(0.5, 0.5, 0.5))
	require.NoError(t, err)

	ctx := testContext()
	content := []byte("v1")
	id, err := g.Mint(content, 5, ctx)
	require.NoError(t, err)

	step := func(next drift.Position, newContent string) (drift.Class, Identifier) {
		r := tracker.Update(next)
		ctx.DriftDerivative = DriftFingerprint(r.Current)
		ctx.Nonce++
		content = []byte(newContent)
		regen, err := g.Regenerate(id, content, 5, ctx, r.Class)
		require.NoError(t, err)
		return r.Class, regen
	}

	// Micro: 0.02 on one axis, 3.6 degrees.
	class, micro := step(drift.MustPosition(0.52, 0.5, 0.5), "v2")
	require.Equal(t, drift.Micro, class)
	assert.Equal(t, id.Content, micro.Content, "micro keeps content even when content changed")
	assert.NotEqual(t, id.Context, micro.Context)
	assert.Equal(t, id.Persistence, micro.Persistence)
	id = micro

	// Hard: 0.2 on one axis, 36 degrees.
	class, hard := step(drift.MustPosition(0.52, 0.7, 0.5), "v3")
	require.Equal(t, drift.Hard, class)
	assert.NotEqual(t, id.Content, hard.Content)
	assert.Equal(t, ContentCode([]byte("v3"), 5), hard.Content)
	assert.NotEqual(t, id.Context, hard.Context)
	assert.Equal(t, id.Persistence, hard.Persistence, "hard keeps the lineage")
	id = hard

	// Critical: 0.5 on one axis, 90 degrees.
	class, critical := step(drift.MustPosition(0.52, 0.2, 0.5), "v4")
	require.Equal(t, drift.Critical, class)
	assert.NotEqual(t, id.Content, critical.Content)
	assert.NotEqual(t, id.Context, critical.Context)
	assert.NotEqual(t, id.Persistence, critical.Persistence, "critical starts a new lineage")
	assert.True(t, id.CreatedAt().Before(critical.CreatedAt()))
}

func TestRegenerate_SoftKeepsPersistence(t *testing.T) {
	g := newTestGenerator()
	old, err := g.Mint([]byte("a"), 0, testContext())
	require.NoError(t, err)

	ctx := testContext()
	ctx.Nonce = 99
	next, err := g.Regenerate(old, []byte("b"), 0, ctx, drift.Soft)
	require.NoError(t, err)
	assert.NotEqual(t, old.Content, next.Content)
	assert.NotEqual(t, old.Context, next.Context)
	assert.Equal(t, old.Persistence, next.Persistence)
}

func TestRegenerate_NoneIsIdentity(t *testing.T) {
	g := newTestGenerator()
	old, err := g.Mint([]byte("a"), 0, testContext())
	require.NoError(t, err)

	next, err := g.Regenerate(old, []byte("other"), 1, testContext(), drift.None)
	require.NoError(t, err)
	assert.Equal(t, old, next)
}

func TestRegenerate_Errors(t *testing.T) {
	g := newTestGenerator()

	_, err := g.Regenerate(Identifier{}, nil, 0, testContext(), drift.Micro)
	assert.ErrorIs(t, err, ErrZeroIdentifier)

	old, err := g.Mint(nil, 0, testContext())
	require.NoError(t, err)
	_, err = g.Regenerate(old, nil, 0, testContext(), drift.Class(7))
	assert.Error(t, err)

	// Critical does not need a previous identifier.
	fresh, err := g.Regenerate(Identifier{}, nil, 0, testContext(), drift.Critical)
	require.NoError(t, err)
	assert.False(t, fresh.IsZero())
}
