// ABOUTME: Store interface and key helpers for switchboard session persistence
// ABOUTME: Sessions, stored events, activity log, routing table and notifications

package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/2389/switchboard/internal/notify"
)

// ErrNotFound is returned when a requested key does not exist.
var ErrNotFound = errors.New("not found")

// ErrStore wraps every other backend failure.
var ErrStore = errors.New("store error")

// Namespaces for stored events.
const (
	NamespaceIncoming = "incoming-messages"
	NamespaceOutgoing = "outgoing-messages"
)

// NotificationTopicPrefix prefixes per-user routing notification topics.
const NotificationTopicPrefix = "whatsapp-notification:"

// EventKey returns the key an event is stored under.
func EventKey(namespace, user, id string) string {
	return namespace + ":" + user + ":" + id
}

// NotificationTopic returns the routing notification topic for a user.
func NotificationTopic(user string) string {
	return NotificationTopicPrefix + user
}

// Store is the session store adapter used by the relay.
//
// Absent values are reported explicitly: getters return ok=false for a
// missing session field and ErrNotFound for a missing stored event.
type Store interface {
	// System names the backend in result references, e.g. "SQLITE".
	System() string

	// Sessions
	GetMode(ctx context.Context, user string) (mode int, ok bool, err error)
	SetMode(ctx context.Context, user string, mode int) error
	GetLastMessageRef(ctx context.Context, user string) (ref string, ok bool, err error)
	SetLastMessageRef(ctx context.Context, user, ref string) error

	// Stored events are returned byte-for-byte as stored.
	GetStoredEvent(ctx context.Context, namespace, user, id string) ([]byte, error)
	StoreEvent(ctx context.Context, namespace, user, id string, raw []byte) (key string, err error)

	// Activity log
	AppendActivity(ctx context.Context, record *ActivityRecord) (id string, err error)
	ListActivity(ctx context.Context, f ActivityFilter) ([]ActivityRecord, error)

	// Routing table. A mode without a mapping has no destinations.
	GetDestinations(ctx context.Context, mode int) ([]string, error)
	SetDestinations(ctx context.Context, mode int, systems []string) error

	// Notifications. A pattern ending in '*' subscribes by prefix.
	Publish(ctx context.Context, topic string, payload []byte) error
	Subscribe(ctx context.Context, pattern string) (<-chan notify.Message, error)

	Ping(ctx context.Context) error
	Close() error
}

// storeErr wraps a backend failure with ErrStore and the failing operation.
func storeErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrStore, op, err)
}
