// ABOUTME: Per-user mutexes for optional serialization of inbound processing
// ABOUTME: Entries are reference counted and dropped when no goroutine holds them

package relay

import "sync"

type userLock struct {
	mu   sync.Mutex
	refs int
}

type userLocks struct {
	mu    sync.Mutex
	locks map[string]*userLock
}

func newUserLocks() *userLocks {
	return &userLocks{locks: make(map[string]*userLock)}
}

// lock blocks until user's lock is held and returns its release func.
func (l *userLocks) lock(user string) func() {
	l.mu.Lock()
	ul, ok := l.locks[user]
	if !ok {
		ul = &userLock{}
		l.locks[user] = ul
	}
	ul.refs++
	l.mu.Unlock()

	ul.mu.Lock()
	return func() {
		ul.mu.Unlock()

		l.mu.Lock()
		ul.refs--
		if ul.refs == 0 {
			delete(l.locks, user)
		}
		l.mu.Unlock()
	}
}

func (l *userLocks) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
