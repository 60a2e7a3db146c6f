package testutil

import (
	"bytes"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManualClock_StartsAtEpoch(t *testing.T) {
	clock := NewManualClock()
	assert.Equal(t, Epoch, clock.Now())
}

func TestManualClock_Advance(t *testing.T) {
	clock := NewManualClock()

	assert.Equal(t, Epoch.Add(5*time.Millisecond), clock.Advance(5*time.Millisecond))
	assert.Equal(t, Epoch.Add(5*time.Millisecond), clock.Advance(-time.Second), "never runs backwards")
	assert.Equal(t, 5*time.Millisecond, clock.Since(Epoch))
}

func TestManualClock_SetAndReset(t *testing.T) {
	clock := NewManualClock()
	later := Epoch.Add(time.Hour)

	clock.Set(later)
	assert.Equal(t, later, clock.Now())

	clock.Set(Epoch)
	assert.Equal(t, later, clock.Now(), "Set ignores earlier times")

	clock.Reset()
	assert.Equal(t, Epoch, clock.Now())
}

func TestManualClock_ThreadSafe(t *testing.T) {
	clock := NewManualClock()
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				clock.Advance(time.Millisecond)
				_ = clock.Now()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, Epoch.Add(1000*time.Millisecond), clock.Now())
}

func TestSequenceSource_Increasing(t *testing.T) {
	src := NewSequenceSource(Epoch)

	prev, err := src.Next()
	require.NoError(t, err)
	for i := 0; i < 100; i++ {
		next, err := src.Next()
		require.NoError(t, err)
		assert.Equal(t, 1, bytes.Compare(next[:], prev[:]), "values must strictly increase")
		prev = next
	}
	assert.Equal(t, uint64(101), src.Count())
}

func TestSequenceSource_VersionBits(t *testing.T) {
	b, err := NewSequenceSource(Epoch).Next()
	require.NoError(t, err)
	assert.Equal(t, byte(0x70), b[6]&0xF0)
	assert.Equal(t, byte(0x80), b[8]&0xC0)
}
