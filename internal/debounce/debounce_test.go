package debounce

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

const window = 20 * time.Millisecond

func TestTrigger_CoalescesBurst(t *testing.T) {
	d := New(window)
	var calls atomic.Int32
	var mu sync.Mutex
	var last int

	for i := 1; i <= 5; i++ {
		v := i
		d.Trigger(func() {
			mu.Lock()
			last = v
			mu.Unlock()
			calls.Add(1)
		})
	}

	assert.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	assert.Never(t, func() bool { return calls.Load() > 1 }, 5*window, 5*time.Millisecond)
	mu.Lock()
	assert.Equal(t, 5, last)
	mu.Unlock()
	assert.False(t, d.Pending())
}

func TestCancel_PreventsCall(t *testing.T) {
	d := New(window)
	var calls atomic.Int32
	d.Trigger(func() { calls.Add(1) })

	assert.True(t, d.Pending())
	assert.True(t, d.Cancel())
	assert.False(t, d.Cancel())
	assert.Never(t, func() bool { return calls.Load() > 0 }, 5*window, 5*time.Millisecond)
}

func TestClaim_RejectsStaleGeneration(t *testing.T) {
	d := New(time.Hour)
	first := d.Schedule(func(uint64) {})
	second := d.Schedule(func(uint64) {})

	assert.False(t, d.Claim(first))
	assert.True(t, d.Claim(second))
	assert.False(t, d.Claim(second), "a generation can only be claimed once")
	d.Cancel()
}

func TestClaim_AfterCancel(t *testing.T) {
	d := New(time.Hour)
	gen := d.Schedule(func(uint64) {})
	d.Cancel()
	assert.False(t, d.Claim(gen))
}
