// ABOUTME: In-memory Store implementation for tests and the memory backend
// ABOUTME: Supports per-operation failure injection and inspection helpers

package store

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/google/uuid"

	"github.com/2389/switchboard/internal/notify"
)

// Op names a Store operation for failure injection.
type Op string

const (
	OpGetMode           Op = "GetMode"
	OpSetMode           Op = "SetMode"
	OpGetLastMessageRef Op = "GetLastMessageRef"
	OpSetLastMessageRef Op = "SetLastMessageRef"
	OpGetStoredEvent    Op = "GetStoredEvent"
	OpStoreEvent        Op = "StoreEvent"
	OpAppendActivity    Op = "AppendActivity"
	OpListActivity      Op = "ListActivity"
	OpGetDestinations   Op = "GetDestinations"
	OpSetDestinations   Op = "SetDestinations"
	OpPublish           Op = "Publish"
	OpPing              Op = "Ping"
)

// Published is a notification captured by MockStore.
type Published struct {
	Topic   string
	Payload []byte
}

// MockStore is an in-memory Store implementation.
type MockStore struct {
	mu        sync.RWMutex
	modes     map[string]int
	lastRefs  map[string]string
	events    map[string][]byte // keyed by EventKey
	routes    map[int][]string  // keyed by mode
	activity  []ActivityRecord  // append order
	published []Published       // publish order
	failures  map[Op]error      // injected failures
	bus       *notify.Broadcaster
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		modes:    make(map[string]int),
		lastRefs: make(map[string]string),
		events:   make(map[string][]byte),
		routes:   make(map[int][]string),
		failures: make(map[Op]error),
		bus:      notify.New(nil),
	}
}

// SetFailure makes every later call to op fail with err wrapped in
// ErrStore. A nil err clears the failure.
func (m *MockStore) SetFailure(op Op, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.failures, op)
		return
	}
	m.failures[op] = err
}

func (m *MockStore) fail(op Op) error {
	if err, ok := m.failures[op]; ok {
		return storeErr(string(op), err)
	}
	return nil
}

// System implements Store.
func (m *MockStore) System() string { return "MEMORY" }

// Close closes notification subscribers.
func (m *MockStore) Close() error {
	m.bus.Close()
	return nil
}

// Ping implements Store.
func (m *MockStore) Ping(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.fail(OpPing)
}

// GetMode implements Store.
func (m *MockStore) GetMode(ctx context.Context, user string) (int, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.fail(OpGetMode); err != nil {
		return 0, false, err
	}
	mode, ok := m.modes[user]
	return mode, ok, nil
}

// SetMode implements Store.
func (m *MockStore) SetMode(ctx context.Context, user string, mode int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail(OpSetMode); err != nil {
		return err
	}
	m.modes[user] = mode
	return nil
}

// GetLastMessageRef implements Store.
func (m *MockStore) GetLastMessageRef(ctx context.Context, user string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.fail(OpGetLastMessageRef); err != nil {
		return "", false, err
	}
	ref, ok := m.lastRefs[user]
	return ref, ok && ref != "", nil
}

// SetLastMessageRef implements Store.
func (m *MockStore) SetLastMessageRef(ctx context.Context, user, ref string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail(OpSetLastMessageRef); err != nil {
		return err
	}
	m.lastRefs[user] = ref
	return nil
}

// StoreEvent implements Store.
func (m *MockStore) StoreEvent(ctx context.Context, namespace, user, id string, raw []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail(OpStoreEvent); err != nil {
		return "", err
	}
	key := EventKey(namespace, user, id)
	m.events[key] = slices.Clone(raw)
	return key, nil
}

// GetStoredEvent implements Store.
func (m *MockStore) GetStoredEvent(ctx context.Context, namespace, user, id string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.fail(OpGetStoredEvent); err != nil {
		return nil, err
	}
	key := EventKey(namespace, user, id)
	raw, ok := m.events[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return slices.Clone(raw), nil
}

// AppendActivity implements Store.
func (m *MockStore) AppendActivity(ctx context.Context, r *ActivityRecord) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail(OpAppendActivity); err != nil {
		return "", err
	}
	prepareRecord(r)
	r.ID = uuid.New().String()

	rec := *r
	rec.DestinationSystems = slices.Clone(r.DestinationSystems)
	m.activity = append(m.activity, rec)
	return r.ID, nil
}

// ListActivity implements Store.
func (m *MockStore) ListActivity(ctx context.Context, f ActivityFilter) ([]ActivityRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.fail(OpListActivity); err != nil {
		return nil, err
	}
	limit := normalizeActivityLimit(f.Limit)
	out := []ActivityRecord{}
	for i := len(m.activity) - 1; i >= 0 && len(out) < limit; i-- {
		if f.matches(&m.activity[i]) {
			out = append(out, m.activity[i])
		}
	}
	return out, nil
}

// GetDestinations implements Store.
func (m *MockStore) GetDestinations(ctx context.Context, mode int) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.fail(OpGetDestinations); err != nil {
		return nil, err
	}
	systems := slices.Clone(m.routes[mode])
	if systems == nil {
		systems = []string{}
	}
	return systems, nil
}

// SetDestinations implements Store.
func (m *MockStore) SetDestinations(ctx context.Context, mode int, systems []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail(OpSetDestinations); err != nil {
		return err
	}
	m.routes[mode] = slices.Clone(systems)
	return nil
}

// Publish records the notification and delivers it to subscribers.
func (m *MockStore) Publish(ctx context.Context, topic string, payload []byte) error {
	m.mu.Lock()
	if err := m.fail(OpPublish); err != nil {
		m.mu.Unlock()
		return err
	}
	m.published = append(m.published, Published{Topic: topic, Payload: slices.Clone(payload)})
	m.mu.Unlock()

	m.bus.Publish(topic, payload)
	return nil
}

// Subscribe implements Store.
func (m *MockStore) Subscribe(ctx context.Context, pattern string) (<-chan notify.Message, error) {
	ch, _ := m.bus.Subscribe(ctx, pattern)
	return ch, nil
}

// Activity returns every appended record in append order.
func (m *MockStore) Activity() []ActivityRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.activity)
}

// PublishedMessages returns every published notification in order.
func (m *MockStore) PublishedMessages() []Published {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.published)
}
