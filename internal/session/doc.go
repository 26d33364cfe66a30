// Package session decides how one inbound message moves a user's
// conversation forward.
//
// A session's mode is 100 (new), 0 (menu shown, waiting for a numeric
// choice) or N, the routed option whose destination systems receive the
// user's messages. Decide reads the routing table but never writes; the
// returned Decision lists the mode transitions, the replies to send and the
// notifications to publish, in order, and the caller performs them.
package session
