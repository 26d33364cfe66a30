// ABOUTME: Tests for the bearer-protected API: outbound messages, notification stream, activity
// ABOUTME: The notification stream is read through a real httptest.Server connection

package gateway

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/switchboard/internal/composer"
	"github.com/2389/switchboard/internal/relay"
	"github.com/2389/switchboard/internal/session"
	"github.com/2389/switchboard/internal/store"
)

func apiRequest(method, target, body string) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+testToken)
	req.Header.Set("Content-Type", "application/json")
	return req
}

func TestRequireToken(t *testing.T) {
	tg := newTestGateway(t, testConfig())

	tests := []struct {
		name   string
		header string
	}{
		{name: "missing", header: ""},
		{name: "wrong scheme", header: "Basic " + testToken},
		{name: "wrong token", header: "Bearer nope"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/activity", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := tg.do(req)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.JSONEq(t, `{"error":"unauthorized"}`, rec.Body.String())
		})
	}
}

func TestRequireToken_EmptyConfiguredToken(t *testing.T) {
	cfg := testConfig()
	cfg.API.Token = ""
	tg := newTestGateway(t, cfg)

	req := httptest.NewRequest(http.MethodGet, "/api/activity", nil)
	req.Header.Set("Authorization", "Bearer ")
	rec := tg.do(req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHandleSendMessage_Text(t *testing.T) {
	tg := newTestGateway(t, testConfig())

	rec := tg.do(apiRequest(http.MethodPost, "/api/messages",
		`{"system_id":"CRM","to":["5491100000001","5491100000002"],"type":"text","content":{"body":"Su pedido esta listo"}}`))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var res relay.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Empty(t, res.Errors)
	assert.Contains(t, res.References, relay.Reference{System: relay.SystemWhatsApp, Reference: "wamid.out1"})
	assert.Contains(t, res.References, relay.Reference{System: relay.SystemWhatsApp, Reference: "wamid.out2"})
	assert.Contains(t, res.References, relay.Reference{System: "MEMORY", Reference: "outgoing-messages:5491100000002:wamid.out2"})

	sent := tg.sender.payloads()
	require.Len(t, sent, 2)
	assert.Equal(t, "5491100000001", sent[0].To)
	assert.Equal(t, "Su pedido esta listo", sent[1].Text.Body)
}

func TestHandleSendMessage_ButtonUsesDefaultHeader(t *testing.T) {
	tg := newTestGateway(t, testConfig())

	rec := tg.do(apiRequest(http.MethodPost, "/api/messages",
		`{"system_id":"PARTS","to":["5491100000001"],"type":"button","content":{"body":"Que desea hacer?","choices":["Ver Stock","Salir"]}}`))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	sent := tg.sender.payloads()
	require.Len(t, sent, 1)
	require.NotNil(t, sent[0].Interactive)
	require.NotNil(t, sent[0].Interactive.Header)
	assert.Equal(t, "Elija una opcion", sent[0].Interactive.Header.Text)
}

func TestHandleSendMessage_UnknownType(t *testing.T) {
	tg := newTestGateway(t, testConfig())

	rec := tg.do(apiRequest(http.MethodPost, "/api/messages",
		`{"system_id":"CRM","to":["5491100000001"],"type":"carousel","content":{"body":"x"}}`))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	var res relay.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0], composer.ErrUnrecognizedKind.Error())
	assert.Empty(t, tg.sender.payloads())
}

func TestHandleSendMessage_ProviderFailure(t *testing.T) {
	tg := newTestGateway(t, testConfig())
	tg.sender.err = errors.New("provider down")

	rec := tg.do(apiRequest(http.MethodPost, "/api/messages",
		`{"system_id":"CRM","to":["5491100000001"],"type":"text","content":{"body":"x"}}`))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "provider down")
}

func TestHandleSendMessage_InvalidJSON(t *testing.T) {
	tg := newTestGateway(t, testConfig())

	rec := tg.do(apiRequest(http.MethodPost, "/api/messages", "{broken"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"error":"invalid JSON body"}`, rec.Body.String())
}

func TestHandleListActivity(t *testing.T) {
	tg := newTestGateway(t, testConfig())
	ctx := t.Context()

	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	for i, r := range []store.ActivityRecord{
		{Timestamp: base, PhoneNumber: "111", Origin: store.OriginIncoming, RegisterID: "incoming-messages:111:a"},
		{Timestamp: base.Add(time.Minute), PhoneNumber: "111", Origin: store.OriginOutgoing, RegisterID: "outgoing-messages:111:b"},
		{Timestamp: base.Add(2 * time.Minute), PhoneNumber: "222", Origin: store.OriginIncoming, RegisterID: "incoming-messages:222:c", DestinationSystems: []string{"CRM"}},
	} {
		_, err := tg.store.AppendActivity(ctx, &r)
		require.NoError(t, err, "record %d", i)
	}

	decode := func(rec *httptest.ResponseRecorder) []store.ActivityRecord {
		t.Helper()
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var resp ActivityResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		return resp.Records
	}

	all := decode(tg.do(apiRequest(http.MethodGet, "/api/activity", "")))
	assert.Len(t, all, 3)

	byUser := decode(tg.do(apiRequest(http.MethodGet, "/api/activity?phone_number=111", "")))
	assert.Len(t, byUser, 2)

	incoming := decode(tg.do(apiRequest(http.MethodGet, "/api/activity?origin=incoming", "")))
	require.Len(t, incoming, 2)
	for _, r := range incoming {
		assert.Equal(t, store.OriginIncoming, r.Origin)
	}

	since := decode(tg.do(apiRequest(http.MethodGet, "/api/activity?since=2024-03-01T12:01:00Z", "")))
	assert.Len(t, since, 2)

	limited := decode(tg.do(apiRequest(http.MethodGet, "/api/activity?limit=1", "")))
	assert.Len(t, limited, 1)

	none := tg.do(apiRequest(http.MethodGet, "/api/activity?phone_number=999", ""))
	assert.JSONEq(t, `{"records":[]}`, none.Body.String())
}

func TestHandleListActivity_BadQuery(t *testing.T) {
	tg := newTestGateway(t, testConfig())

	for _, q := range []string{"origin=sideways", "since=yesterday", "limit=-1", "limit=ten"} {
		rec := tg.do(apiRequest(http.MethodGet, "/api/activity?"+q, ""))
		assert.Equal(t, http.StatusBadRequest, rec.Code, q)
	}
}

func TestHandleListActivity_StoreFailure(t *testing.T) {
	tg := newTestGateway(t, testConfig())
	tg.store.SetFailure(store.OpListActivity, errors.New("boom"))

	rec := tg.do(apiRequest(http.MethodGet, "/api/activity", ""))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestParseSince(t *testing.T) {
	got, err := parseSince("1709294400000")
	require.NoError(t, err)
	assert.True(t, got.Equal(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)))

	got, err = parseSince("2024-03-01T12:00:00Z")
	require.NoError(t, err)
	assert.True(t, got.Equal(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)))

	_, err = parseSince("tomorrow")
	assert.Error(t, err)
}

// sseEvent is one parsed server-sent event.
type sseEvent struct {
	name string
	data string
}

// readEvents parses events from r onto the returned channel until r ends.
func readEvents(r *bufio.Reader) <-chan sseEvent {
	out := make(chan sseEvent, 16)
	go func() {
		defer close(out)
		var ev sseEvent
		for {
			line, err := r.ReadString('\n')
			if err != nil {
				return
			}
			line = strings.TrimRight(line, "\n")
			switch {
			case strings.HasPrefix(line, "event: "):
				ev.name = strings.TrimPrefix(line, "event: ")
			case strings.HasPrefix(line, "data: "):
				ev.data = strings.TrimPrefix(line, "data: ")
			case line == "" && ev.name != "":
				out <- ev
				ev = sseEvent{}
			}
		}
	}()
	return out
}

func nextEvent(t *testing.T, events <-chan sseEvent) sseEvent {
	t.Helper()
	select {
	case ev, ok := <-events:
		require.True(t, ok, "stream ended")
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return sseEvent{}
	}
}

func openStream(t *testing.T, srv *httptest.Server, query string) <-chan sseEvent {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/notifications"+query, nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+testToken)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	events := readEvents(bufio.NewReader(resp.Body))
	ready := nextEvent(t, events)
	require.Equal(t, "ready", ready.name)
	return events
}

func TestHandleNotifications_StreamsRoutedMessages(t *testing.T) {
	tg := newTestGateway(t, testConfig())
	srv := httptest.NewServer(tg.gw.Handler())
	t.Cleanup(srv.Close)

	crm := openStream(t, srv, "?system=CRM")
	all := openStream(t, srv, "")

	require.NoError(t, tg.store.SetMode(t.Context(), testUser, session.ModeSelecting))

	// Option 1 routes to PARTS, option 2 to CRM.
	require.NoError(t, tg.store.SetMode(t.Context(), "5491100000009", session.ModeSelecting))
	rec, _ := postWebhook(tg, textDelivery("5491100000009", "wamid.parts", "1"))
	require.Equal(t, http.StatusOK, rec.Code)
	rec, _ = postWebhook(tg, textDelivery(testUser, "wamid.crm", "2"))
	require.Equal(t, http.StatusOK, rec.Code)

	first := nextEvent(t, all)
	assert.Equal(t, "notification", first.name)
	var record store.ActivityRecord
	require.NoError(t, json.Unmarshal([]byte(first.data), &record))
	assert.Equal(t, "5491100000009", record.PhoneNumber)
	assert.Equal(t, []string{"PARTS"}, record.DestinationSystems)
	assert.Equal(t, "notification", nextEvent(t, all).name)

	only := nextEvent(t, crm)
	require.NoError(t, json.Unmarshal([]byte(only.data), &record))
	assert.Equal(t, testUser, record.PhoneNumber)
	assert.Equal(t, []string{"CRM"}, record.DestinationSystems)
	assert.Equal(t, store.OriginOutgoing, record.Origin)
	assert.Equal(t, "incoming-messages:"+testUser+":wamid.crm", record.RegisterID)
}

func TestHandleNotifications_Heartbeat(t *testing.T) {
	tg := newTestGateway(t, testConfig())
	tg.gw.heartbeat = 20 * time.Millisecond
	srv := httptest.NewServer(tg.gw.Handler())
	t.Cleanup(srv.Close)

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/api/notifications", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+testToken)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	r := bufio.NewReader(resp.Body)
	deadline := time.After(2 * time.Second)
	for {
		lineCh := make(chan string, 1)
		go func() {
			line, _ := r.ReadString('\n')
			lineCh <- line
		}()
		select {
		case line := <-lineCh:
			if strings.HasPrefix(line, ": keepalive") {
				return
			}
		case <-deadline:
			t.Fatal("no keepalive received")
		}
	}
}

func TestHandleNotifications_EndsWhenStoreCloses(t *testing.T) {
	tg := newTestGateway(t, testConfig())
	srv := httptest.NewServer(tg.gw.Handler())
	t.Cleanup(srv.Close)

	events := openStream(t, srv, "")
	require.NoError(t, tg.store.Close())

	select {
	case _, ok := <-events:
		assert.False(t, ok, "stream should end without further events")
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not end")
	}
}
