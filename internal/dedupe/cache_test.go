// ABOUTME: Tests for the message id dedupe cache
// ABOUTME: TTL expiry on a fake clock, size eviction, forget and concurrency

package dedupe

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

func TestCache_CheckAndMark(t *testing.T) {
	c := New(time.Minute, 10)
	defer c.Close()

	assert.False(t, c.Seen("wamid.1"))
	assert.False(t, c.CheckAndMark("wamid.1"))
	assert.True(t, c.CheckAndMark("wamid.1"))
	assert.True(t, c.Seen("wamid.1"))
}

func TestCache_Expiry(t *testing.T) {
	clock := newFakeClock()
	c := New(10*time.Minute, 10, WithClock(clock.Now))
	defer c.Close()

	c.CheckAndMark("wamid.1")
	clock.Advance(9 * time.Minute)
	assert.True(t, c.Seen("wamid.1"))

	clock.Advance(time.Minute)
	assert.False(t, c.Seen("wamid.1"))
	assert.False(t, c.CheckAndMark("wamid.1"), "expired id counts as new")
	assert.True(t, c.Seen("wamid.1"))
}

func TestCache_EvictsOldestWhenFull(t *testing.T) {
	c := New(time.Hour, 3)
	defer c.Close()

	for i := range 4 {
		c.CheckAndMark(fmt.Sprintf("id-%d", i))
	}

	assert.Equal(t, 3, c.Len())
	assert.False(t, c.Seen("id-0"))
	assert.True(t, c.Seen("id-1"))
	assert.True(t, c.Seen("id-3"))
}

func TestCache_RemarkMovesToBack(t *testing.T) {
	clock := newFakeClock()
	c := New(time.Minute, 2, WithClock(clock.Now))
	defer c.Close()

	c.CheckAndMark("a")
	c.CheckAndMark("b")
	clock.Advance(2 * time.Minute)
	c.CheckAndMark("a") // expired, marked again at the back
	c.CheckAndMark("c") // evicts b

	assert.True(t, c.Seen("a"))
	assert.False(t, c.Seen("b"))
	assert.True(t, c.Seen("c"))
}

func TestCache_Forget(t *testing.T) {
	c := New(time.Hour, 10)
	defer c.Close()

	c.CheckAndMark("wamid.1")
	c.Forget("wamid.1")
	c.Forget("never-marked")

	assert.False(t, c.Seen("wamid.1"))
	assert.Equal(t, 0, c.Len())
}

func TestCache_Sweep(t *testing.T) {
	clock := newFakeClock()
	c := New(time.Minute, 10, WithClock(clock.Now))
	defer c.Close()

	c.CheckAndMark("old")
	clock.Advance(30 * time.Second)
	c.CheckAndMark("new")
	clock.Advance(45 * time.Second)

	c.sweep()

	assert.Equal(t, 1, c.Len())
	assert.True(t, c.Seen("new"))
}

func TestCache_ConcurrentCheckAndMark(t *testing.T) {
	c := New(time.Hour, 1000)
	defer c.Close()

	var fresh atomic.Int32
	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if !c.CheckAndMark("same-id") {
				fresh.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), fresh.Load())
}

func TestCache_CloseIsIdempotent(t *testing.T) {
	c := New(time.Minute, 10)
	c.Close()
	c.Close()
}
