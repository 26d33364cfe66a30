// ABOUTME: Tests for per-user lock bookkeeping
// ABOUTME: Same user serializes, different users proceed, entries are released

package relay

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestUserLocks_SerializesSameUser(t *testing.T) {
	l := newUserLocks()

	var inside, maxInside atomic.Int32
	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := l.lock("549")
			defer unlock()

			n := inside.Add(1)
			if n > maxInside.Load() {
				maxInside.Store(n)
			}
			time.Sleep(time.Millisecond)
			inside.Add(-1)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxInside.Load())
	assert.Equal(t, 0, l.len())
}

func TestUserLocks_DifferentUsersDoNotBlock(t *testing.T) {
	l := newUserLocks()
	unlockA := l.lock("a")
	defer unlockA()

	done := make(chan struct{})
	go func() {
		unlock := l.lock("b")
		unlock()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock for a different user blocked")
	}
	assert.Equal(t, 1, l.len())
}
