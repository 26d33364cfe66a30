// Package composer builds outbound WhatsApp Cloud API message payloads.
//
// # Overview
//
// A Composer is a draft for a single recipient. Its type must be chosen first,
// then the body, then any header or choices. Build validates the draft once and
// returns an immutable Payload:
//
//	c := composer.New("5491100000000")
//	_ = c.SetType(composer.PrimaryInteractive, composer.SecondaryButton)
//	_ = c.SetBody("Elegí una opción")
//	_ = c.AddReplyButton("Ver stock", "")
//	payload, err := c.Build()
//
// # Message Kinds
//
// Three kinds exist, each with its own payload shape:
//
//   - text: flat body, no header, no choices
//   - button: interactive body, optional header, reply buttons
//   - list: interactive body, optional header, list button title, sections of rows
//
// # Errors
//
// Misuse never panics. Mutators return ErrInvalidState, Build returns
// ErrIncompleteMessage, and ParseKind returns ErrUnrecognizedKind. All are
// wrapped with detail and can be matched with errors.Is.
//
// # Requests
//
// Compose turns a Request (the JSON body accepted by the outbound message API)
// into a Payload for one recipient using the same Composer rules.
package composer
