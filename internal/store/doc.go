// Package store persists switchboard sessions and routes notifications.
//
// # Architecture
//
// The relay talks to a single Store interface. Three backends implement it:
//
//   - SQLiteStore: embedded database, in-process notifications
//   - RedisStore: string keys, a log stream and native PUBLISH/PSUBSCRIBE
//   - MockStore: in-memory maps for tests and the "memory" backend, with
//     per-operation failure injection
//
// # Data Model
//
//   - Session: per-user mode and last message reference
//   - Stored event: raw bytes under "{namespace}:{user}:{id}"
//   - ActivityRecord: append-only audit entry, also the notification payload
//   - Routing table: mode to ordered destination system ids
//
// # Errors
//
// Missing stored events return ErrNotFound. Missing session fields are
// reported with ok=false rather than an error. Every other failure wraps
// ErrStore so callers can tell a miss from a broken backend:
//
//	raw, err := s.GetStoredEvent(ctx, store.NamespaceIncoming, user, id)
//	if errors.Is(err, store.ErrNotFound) {
//		// not recorded yet
//	}
//
// # Notifications
//
// Publish and Subscribe carry routing notifications on per-user topics
// ("whatsapp-notification:{user}"). Subscribe accepts a trailing '*' to
// receive every user's topic.
package store
