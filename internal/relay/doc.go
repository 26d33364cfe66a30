// Package relay connects the webhook, the session machine, the store and the
// provider client.
//
// Processor.Process handles one webhook delivery: it stores the raw event,
// loads the sender's session, asks the session machine for a decision, and
// performs the resulting mode changes, replies and routing notifications.
// Processor.Send delivers an outgoing message request to every recipient.
//
// Both return a Result that lists a reference for every side effect that
// happened and an error string for every one that failed. A failed step does
// not stop the steps after it.
package relay
