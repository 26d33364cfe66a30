// ABOUTME: HTTP handlers for the provider webhook: subscription handshake and deliveries
// ABOUTME: Deliveries run through the relay processor and answer with its result envelope

package gateway

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/2389/switchboard/internal/config"
	"github.com/2389/switchboard/internal/relay"
	"github.com/2389/switchboard/internal/whatsapp"
)

// handleVerifyWebhook answers the provider's subscription handshake.
// It echoes hub.challenge when hub.verify_token matches the configured token.
func (g *Gateway) handleVerifyWebhook(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	expected := g.config.Webhook.VerifyToken

	if q.Get("hub.mode") != "subscribe" || expected == "" ||
		subtle.ConstantTimeCompare([]byte(q.Get("hub.verify_token")), []byte(expected)) != 1 {
		g.logger.Warn("webhook verification rejected", "mode", q.Get("hub.mode"))
		w.WriteHeader(http.StatusForbidden)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(q.Get("hub.challenge")))
}

// handleWebhook processes one provider delivery.
// Undecodable bodies get 400. Status-only deliveries get 200 so the provider
// stops retrying them. Otherwise the status is 200 when the envelope has no
// errors and 500 when it does.
func (g *Gateway) handleWebhook(w http.ResponseWriter, r *http.Request) {
	limit := g.config.Webhook.MaxBodyBytes
	if limit <= 0 {
		limit = config.DefaultMaxBodyBytes
	}
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, limit))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			g.sendJSONError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		g.sendJSONError(w, http.StatusBadRequest, "reading request body")
		return
	}

	event, err := whatsapp.ParseEvent(raw)
	if err != nil {
		g.logger.Warn("rejecting undecodable webhook", "error", err)
		g.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	// The provider may hang up before processing ends; finish the delivery anyway.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), processTimeout)
	defer cancel()

	res := g.processor.ProcessEvent(ctx, raw, event)

	status := http.StatusOK
	if len(event.Messages()) > 0 && !res.OK() {
		status = http.StatusInternalServerError
	}
	g.sendResult(w, status, res)
}

// sendResult writes a result envelope.
func (g *Gateway) sendResult(w http.ResponseWriter, status int, res *relay.Result) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(res); err != nil {
		g.logger.Error("failed to encode result", "error", err)
	}
}
