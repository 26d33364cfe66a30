// ABOUTME: HTTP API handlers for downstream systems: outbound messages, notifications, activity
// ABOUTME: All endpoints require the configured bearer token; notifications stream over SSE

package gateway

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/2389/switchboard/internal/composer"
	"github.com/2389/switchboard/internal/store"
)

// ActivityResponse is the JSON response for GET /api/activity.
type ActivityResponse struct {
	Records []store.ActivityRecord `json:"records"`
}

// requireToken rejects requests without the configured bearer token.
// An empty configured token rejects everything.
func (g *Gateway) requireToken(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		expected := g.config.API.Token
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if expected == "" || !ok || subtle.ConstantTimeCompare([]byte(token), []byte(expected)) != 1 {
			g.sendJSONError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r)
	}
}

// handleSendMessage handles POST /api/messages.
// The body is an outgoing message request; the response is the result
// envelope, 200 when every recipient succeeded and 500 otherwise.
func (g *Gateway) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	req, err := parseOutgoingRequest(r)
	if err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), processTimeout)
	defer cancel()

	res := g.processor.Send(ctx, req)

	status := http.StatusOK
	if !res.OK() {
		status = http.StatusInternalServerError
	}
	g.sendResult(w, status, res)
}

// parseOutgoingRequest decodes an outgoing message request body.
func parseOutgoingRequest(r *http.Request) (*composer.Request, error) {
	var req composer.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return nil, errors.New("invalid JSON body")
	}
	return &req, nil
}

// handleNotifications handles GET /api/notifications.
// It streams routing notifications as SSE "notification" events, filtered to
// those addressed to ?system= when given.
func (g *Gateway) handleNotifications(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		g.logger.Error("streaming not supported")
		g.sendJSONError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	system := r.URL.Query().Get("system")
	ctx := r.Context()

	sub, err := g.store.Subscribe(ctx, store.NotificationTopicPrefix+"*")
	if err != nil {
		g.logger.Error("failed to subscribe to notifications", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	g.writeSSEEvent(w, "ready", map[string]string{"system": system})
	flusher.Flush()

	heartbeat := time.NewTicker(g.heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-heartbeat.C:
			_, _ = fmt.Fprint(w, ": keepalive\n\n")
			flusher.Flush()

		case msg, ok := <-sub:
			if !ok {
				return
			}

			var record store.ActivityRecord
			if err := json.Unmarshal(msg.Payload, &record); err != nil {
				g.logger.Warn("skipping undecodable notification", "topic", msg.Topic, "error", err)
				continue
			}
			if system != "" && !record.HasDestination(system) {
				continue
			}

			g.writeSSEEvent(w, "notification", json.RawMessage(msg.Payload))
			flusher.Flush()
		}
	}
}

// handleListActivity handles GET /api/activity.
// Query parameters: phone_number, origin (INCOMING or OUTGOING), since
// (RFC 3339 or unix milliseconds) and limit.
func (g *Gateway) handleListActivity(w http.ResponseWriter, r *http.Request) {
	filter, err := parseActivityFilter(r)
	if err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	records, err := g.store.ListActivity(r.Context(), filter)
	if err != nil {
		g.logger.Error("failed to list activity", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if records == nil {
		records = []store.ActivityRecord{}
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(ActivityResponse{Records: records}); err != nil {
		g.logger.Error("failed to encode activity", "error", err)
	}
}

// parseActivityFilter reads the activity query parameters.
func parseActivityFilter(r *http.Request) (store.ActivityFilter, error) {
	q := r.URL.Query()
	filter := store.ActivityFilter{PhoneNumber: q.Get("phone_number")}

	switch origin := store.Origin(strings.ToUpper(q.Get("origin"))); origin {
	case "":
	case store.OriginIncoming, store.OriginOutgoing:
		filter.Origin = origin
	default:
		return filter, fmt.Errorf("origin must be %s or %s", store.OriginIncoming, store.OriginOutgoing)
	}

	if raw := q.Get("since"); raw != "" {
		since, err := parseSince(raw)
		if err != nil {
			return filter, err
		}
		filter.Since = &since
	}

	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			return filter, errors.New("limit must be a non-negative integer")
		}
		filter.Limit = limit
	}

	return filter, nil
}

func parseSince(raw string) (time.Time, error) {
	if ms, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return time.UnixMilli(ms), nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, errors.New("since must be RFC 3339 or unix milliseconds")
	}
	return t, nil
}

// writeSSEEvent writes a single SSE event to the response writer.
func (g *Gateway) writeSSEEvent(w http.ResponseWriter, event string, data any) {
	dataJSON, err := json.Marshal(data)
	if err != nil {
		g.logger.Error("failed to marshal SSE data", "error", err)
		return
	}

	fmt.Fprintf(w, "event: %s\n", event)
	fmt.Fprintf(w, "data: %s\n\n", dataJSON)
}

// sendJSONError writes a JSON error response.
func (g *Gateway) sendJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
