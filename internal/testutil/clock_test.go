package testutil

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func TestClock_FixedDoesNotMove(t *testing.T) {
	c := NewClock(t0)
	assert.Equal(t, t0, c.Now())
	assert.Equal(t, t0, c.Now())
}

func TestClock_SteppingMovesAfterEachNow(t *testing.T) {
	c := NewSteppingClock(t0, time.Second)
	assert.Equal(t, t0, c.Now())
	assert.Equal(t, t0.Add(time.Second), c.Now())
	assert.Equal(t, t0.Add(2*time.Second), c.Peek())
}

func TestClock_SetAndAdvance(t *testing.T) {
	c := NewClock(t0)
	c.Advance(time.Hour)
	assert.Equal(t, t0.Add(time.Hour), c.Now())

	later := t0.Add(24 * time.Hour)
	c.Set(later)
	assert.Equal(t, later, c.Now())
}

func TestClock_ConcurrentStepsAreDistinct(t *testing.T) {
	c := NewSteppingClock(t0, time.Millisecond)
	const goroutines = 50

	var mu sync.Mutex
	seen := make(map[time.Time]bool)
	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			now := c.Now()
			mu.Lock()
			seen[now] = true
			mu.Unlock()
		}()
	}
	wg.Wait()
	assert.Len(t, seen, goroutines)
}
