// ABOUTME: In-memory fan-out broadcaster for routing notification topics
// ABOUTME: Subscribers register a topic or a prefix pattern ending in '*'

package notify

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// subscriberBufferSize is the channel buffer for each subscriber.
const subscriberBufferSize = 64

// Message is one published payload and the topic it was published on.
type Message struct {
	Topic   string
	Payload []byte
}

// Broadcaster provides in-process pub/sub for backends that have none.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[string]map[string]chan Message // pattern -> subID -> ch
	closed      bool
	logger      *slog.Logger
}

// New creates a broadcaster. Pass nil logger for default.
func New(logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{
		subscribers: make(map[string]map[string]chan Message),
		logger:      logger.With("component", "notify"),
	}
}

// Match reports whether topic is selected by pattern. A pattern ending in '*'
// matches every topic with that prefix; anything else must match exactly.
func Match(pattern, topic string) bool {
	if prefix, ok := strings.CutSuffix(pattern, "*"); ok {
		return strings.HasPrefix(topic, prefix)
	}
	return pattern == topic
}

// Subscribe registers a subscriber for topics matching pattern. The
// subscription is removed and its channel closed when ctx is cancelled.
func (b *Broadcaster) Subscribe(ctx context.Context, pattern string) (<-chan Message, string) {
	subID := uuid.New().String()
	ch := make(chan Message, subscriberBufferSize)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return ch, subID
	}
	if _, ok := b.subscribers[pattern]; !ok {
		b.subscribers[pattern] = make(map[string]chan Message)
	}
	b.subscribers[pattern][subID] = ch
	b.mu.Unlock()

	b.logger.Debug("subscriber added", "pattern", pattern, "sub_id", subID)

	go func() {
		<-ctx.Done()
		b.Unsubscribe(pattern, subID)
	}()

	return ch, subID
}

// Publish delivers payload to every matching subscriber and returns how many
// received it. Non-blocking: slow subscribers with full buffers miss it.
func (b *Broadcaster) Publish(topic string, payload []byte) int {
	b.mu.RLock()
	var targets []chan Message
	for pattern, subs := range b.subscribers {
		if !Match(pattern, topic) {
			continue
		}
		for _, ch := range subs {
			targets = append(targets, ch)
		}
	}
	// Sends happen under the read lock so Unsubscribe cannot close a
	// channel mid-send.
	delivered := 0
	for _, ch := range targets {
		select {
		case ch <- Message{Topic: topic, Payload: payload}:
			delivered++
		default:
			b.logger.Debug("dropped notification for slow subscriber", "topic", topic)
		}
	}
	b.mu.RUnlock()

	return delivered
}

// Unsubscribe removes a subscription and closes its channel.
func (b *Broadcaster) Unsubscribe(pattern, subID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs, ok := b.subscribers[pattern]
	if !ok {
		return
	}
	ch, exists := subs[subID]
	if !exists {
		return
	}

	delete(subs, subID)
	close(ch)
	if len(subs) == 0 {
		delete(b.subscribers, pattern)
	}

	b.logger.Debug("subscriber removed", "pattern", pattern, "sub_id", subID)
}

// Close closes all subscriber channels. Later subscriptions receive a closed
// channel.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for pattern, subs := range b.subscribers {
		for subID, ch := range subs {
			close(ch)
			delete(subs, subID)
		}
		delete(b.subscribers, pattern)
	}
	b.closed = true
}
