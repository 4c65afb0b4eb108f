package clock

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManualClock(t *testing.T) {
	c := NewManualClock(time.Second)
	assert.Equal(t, time.Second, c.Now())

	c.Advance(500 * time.Millisecond)
	assert.Equal(t, 1500*time.Millisecond, c.Now())

	c.Advance(-time.Second)
	assert.Equal(t, 1500*time.Millisecond, c.Now(), "negative advance must be ignored")

	c.Set(time.Second)
	assert.Equal(t, 1500*time.Millisecond, c.Now(), "clock must never move backwards")

	c.Set(3 * time.Second)
	assert.Equal(t, 3*time.Second, c.Now())
}

func TestSystemClockMonotonic(t *testing.T) {
	c := NewSystemClock()
	a := c.Now()
	b := c.Now()
	assert.GreaterOrEqual(t, b, a)
}

func TestReference(t *testing.T) {
	var ref Reference
	_, ok := ref.Running()
	assert.False(t, ok)
	assert.False(t, ref.Captured())
	assert.True(t, ref.Wall(0).IsZero())

	c := NewManualClock(10 * time.Second)
	ref.Capture(c, 10*time.Second)
	require.True(t, ref.Captured())

	running, ok := ref.Running()
	require.True(t, ok)
	assert.Equal(t, time.Duration(0), running)

	c.Advance(250 * time.Millisecond)
	running, _ = ref.Running()
	assert.Equal(t, 250*time.Millisecond, running)

	w0 := ref.Wall(0)
	w1 := ref.Wall(time.Second)
	assert.Equal(t, time.Second, w1.Sub(w0))

	ref.Reset()
	assert.False(t, ref.Captured())
	_, ok = ref.Running()
	assert.False(t, ok)
}

func TestReferenceConcurrentReads(t *testing.T) {
	var ref Reference
	c := NewManualClock(0)
	ref.Capture(c, 0)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_, ok := ref.Running()
				assert.True(t, ok)
			}
		}()
	}
	for j := 0; j < 100; j++ {
		c.Advance(time.Millisecond)
	}
	wg.Wait()
}
