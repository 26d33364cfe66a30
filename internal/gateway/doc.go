// Package gateway serves the switchboard HTTP surface.
//
// # Overview
//
// The gateway owns the session store, the WhatsApp client and the relay
// processor, and exposes them over one HTTP server. New selects the store
// backend from configuration, seeds the routing table into it, and builds the
// processor; Run serves until its context is canceled.
//
// # Endpoints
//
//   - GET /webhook - provider subscription handshake (hub.challenge echo)
//   - POST /webhook - provider deliveries, answered with the result envelope
//   - POST /api/messages - send a text, button or list message to recipients
//   - GET /api/notifications - SSE stream of routing notifications (?system=)
//   - GET /api/activity - activity log query
//   - GET /health - liveness
//   - GET /health/ready - store ping
//   - GET /metrics - Prometheus metrics when enabled
//
// The /api endpoints require "Authorization: Bearer <api.token>". With no
// token configured they reject every request.
//
// # Result Envelope
//
// Webhook deliveries and send requests answer with
//
//	{"references":[{"system":"WHATSAPP","reference":"wamid..."}],"errors":["..."]}
//
// and status 200 when errors is empty, 500 otherwise. Deliveries with only
// status callbacks get 200 with a single "Not a user message" error.
package gateway
