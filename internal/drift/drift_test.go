package drift

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPosition_RejectsOutOfRange(t *testing.T) {
	tests := []struct {
		name    string
		s, o, t float64
	}{
		{"negative semantic", -0.1, 0.5, 0.5},
		{"operational above one", 0.5, 1.000001, 0.5},
		{"temporal NaN", 0.5, 0.5, math.NaN()},
		{"temporal inf", 0.5, 0.5, math.Inf(1)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewPosition(tt.s, tt.o, tt.t)
			assert.ErrorIs(t, err, ErrOutOfRange)
		})
	}
}

func TestNewPosition_Bounds(t *testing.T) {
	p, err := NewPosition(0, 1, 0.5)
	require.NoError(t, err)
	assert.Equal(t, 0.0, p.Semantic)
	assert.Equal(t, 1.0, p.Operational)
}

func TestNewPosition_RoundsToSixDecimals(t *testing.T) {
	p := MustPosition(0.1234564, 0.1234566, 0.5)
	assert.Equal(t, 0.123456, p.Semantic)
	assert.Equal(t, 0.123457, p.Operational)
	assert.Equal(t, "(0.123456, 0.123457, 0.500000)", p.String())
}

func TestClampPosition(t *testing.T) {
	p := ClampPosition(-3, 2, math.NaN())
	assert.Equal(t, Position{Semantic: 0, Operational: 1, Temporal: 0}, p)
	assert.NoError(t, p.Validate())
}

func TestFixedPosition_LosslessRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	for i := 0; i < 1000; i++ {
		p := MustPosition(rng.Float64(), rng.Float64(), rng.Float64())
		f := p.Fixed()
		assert.True(t, f.Valid())
		assert.Equal(t, p, f.Position(), "float -> fixed -> float")
		assert.Equal(t, f, f.Position().Fixed(), "fixed -> float -> fixed")
	}
}

func TestFixedPosition_Extremes(t *testing.T) {
	f := MustPosition(0, 1, 0.000001).Fixed()
	assert.Equal(t, FixedPosition{Semantic: 0, Operational: MicroUnits, Temporal: 1}, f)
	assert.False(t, FixedPosition{Semantic: -1}.Valid())
	assert.False(t, FixedPosition{Temporal: MicroUnits + 1}.Valid())
}

func TestPosition_Equal(t *testing.T) {
	a := Position{Semantic: 0.1000001, Operational: 0.2, Temporal: 0.3}
	b := Position{Semantic: 0.1000002, Operational: 0.2, Temporal: 0.3}
	assert.True(t, a.Equal(b), "differences below 1e-6 are invisible")
	assert.False(t, a.Equal(MustPosition(0.100001, 0.2, 0.3)))
}

func TestFixedPosition_DistanceSquared(t *testing.T) {
	a := MustPosition(0, 0, 0).Fixed()
	b := MustPosition(0.3, 0.4, 0).Fixed()
	assert.Equal(t, int64(500_000*500_000), a.DistanceSquared(b))
}

func TestBands_Validate(t *testing.T) {
	_, err := NewBands(2, 10, 25, 60)
	require.NoError(t, err)

	tests := []struct {
		name                        string
		micro, soft, hard, critical float64
	}{
		{"zero micro", 0, 10, 25, 60},
		{"equal soft and micro", 2, 2, 25, 60},
		{"hard below soft", 2, 10, 5, 60},
		{"critical not increasing", 2, 10, 25, 25},
		{"infinite critical", 2, 10, 25, math.Inf(1)},
		{"NaN", 2, math.NaN(), 25, 60},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewBands(tt.micro, tt.soft, tt.hard, tt.critical)
			assert.ErrorIs(t, err, ErrInvalidBands)
		})
	}
}

func TestBands_Classify(t *testing.T) {
	b := DefaultBands()
	tests := []struct {
		m    float64
		want Class
	}{
		{0, None},
		{1.999, None},
		{2, Micro},
		{9.99, Micro},
		{10, Soft},
		{25, Hard},
		{59.9, Hard},
		{60, Critical},
		{1e9, Critical},
		{-1, None},
		{math.NaN(), None},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, b.Classify(tt.m), "Classify(%v)", tt.m)
	}
}

func TestBands_ClassifyMonotonic(t *testing.T) {
	b := DefaultBands()
	rng := rand.New(rand.NewSource(11))
	for i := 0; i < 5000; i++ {
		m1 := rng.Float64() * 320
		m2 := rng.Float64() * 320
		if m1 > m2 {
			m1, m2 = m2, m1
		}
		assert.LessOrEqual(t, b.Classify(m1), b.Classify(m2), "m1=%v m2=%v", m1, m2)
	}
}

func TestClass_Text(t *testing.T) {
	for _, c := range []Class{None, Micro, Soft, Hard, Critical} {
		text, err := c.MarshalText()
		require.NoError(t, err)
		var back Class
		require.NoError(t, back.UnmarshalText(text))
		assert.Equal(t, c, back)
	}
	_, err := Class(9).MarshalText()
	assert.Error(t, err)
	_, err = ParseClass("severe")
	assert.Error(t, err)
}

func TestTracker_Update(t *testing.T) {
	start := MustPosition(0.5, 0.5, 0.5)
	tr, err := NewTracker(DefaultBands(), start)
	require.NoError(t, err)

	// 0.02 * 180 = 3.6 degrees
	r := tr.Update(MustPosition(0.52, 0.5, 0.5))
	assert.Equal(t, Micro, r.Class)
	assert.InDelta(t, 3.6, r.Magnitude, 1e-9)
	assert.True(t, r.Crossed())
	assert.Equal(t, start, r.Previous)
	assert.Equal(t, MustPosition(0.52, 0.5, 0.5), tr.Position())

	// Same position again: no movement.
	r = tr.Update(MustPosition(0.52, 0.5, 0.5))
	assert.Equal(t, None, r.Class)
	assert.False(t, r.Crossed())

	// 0.3-0.4-0 triangle on two axes: distance 0.5, 90 degrees.
	r = tr.Update(MustPosition(0.82, 0.9, 0.5))
	assert.Equal(t, Critical, r.Class)
	assert.InDelta(t, 90, r.Magnitude, 1e-9)
	assert.InDelta(t, 0.5, r.Delta, 1e-12)
}

func TestNewTracker_Rejects(t *testing.T) {
	_, err := NewTracker(Bands{}, MustPosition(0, 0, 0))
	assert.ErrorIs(t, err, ErrInvalidBands)

	_, err = NewTracker(DefaultBands(), Position{Semantic: 2})
	assert.ErrorIs(t, err, ErrOutOfRange)
}

func TestAxisToPhase(t *testing.T) {
	tests := []struct {
		y    float64
		want Phase
	}{
		{0, Hunt},
		{0.199999, Hunt},
		{0.2, Detect},
		{0.39, Detect},
		{0.4, Disrupt},
		{0.6, Disable},
		{0.79, Disable},
		{0.8, Dominate},
		{1, Dominate},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, AxisToPhase(tt.y), "AxisToPhase(%v)", tt.y)
	}
}

func TestParsePhase(t *testing.T) {
	for _, p := range Phases() {
		got, err := ParsePhase(p.String())
		require.NoError(t, err)
		assert.Equal(t, p, got)
	}
	_, err := ParsePhase("observe")
	assert.Error(t, err)
}

func TestNoiseScore(t *testing.T) {
	assert.InDelta(t, 0.0, NoiseScore(0, 0, 0), 1e-12)
	assert.InDelta(t, 0.4, NoiseScore(0.5, 0, 0), 1e-12)
	assert.InDelta(t, 0.4*0.5+0.3*0.2+0.3*0.1, NoiseScore(0.25, 0.2, 0.1), 1e-12)

	high := NoiseScore(1, 1, 1)
	assert.InDelta(t, 1.4, high, 1e-12, "output is not clamped")
	assert.True(t, IsHighNoise(high))
	assert.False(t, IsHighNoise(1.0))
}
