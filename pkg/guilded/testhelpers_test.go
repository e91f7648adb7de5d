// Copyright 2024-2026 Aiku AI

package guilded

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	waitTimeout = 5 * time.Second

	testMe = `{
		"user": {"id": "me-1", "name": "tester"},
		"teams": [{"id": "t1", "name": "Team One", "ownerId": "me-1", "rolesById": {
			"10": {"id": 10, "name": "Admin", "priority": 5},
			"11": {"id": 11, "name": "Member", "priority": 1}
		}}],
		"friends": [{"friendUserId": "u2", "friendStatus": "accepted"}]
	}`
	testDMChannels = `{"channels": [{"id": "dm-1", "type": "DM", "contentType": "chat", "name": ""}]}`
)

type apiCall struct {
	Method string
	Path   string
	Query  url.Values
	Body   []byte
}

// fakeAPI serves canned JSON per "METHOD /path" and records every call.
// Unrouted requests get a 404.
type fakeAPI struct {
	srv *httptest.Server

	mu     sync.Mutex
	routes map[string]http.HandlerFunc
	calls  []apiCall
}

func newFakeAPI(t *testing.T) *fakeAPI {
	t.Helper()
	f := &fakeAPI{routes: make(map[string]http.HandlerFunc)}
	f.srv = httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(f.srv.Close)
	f.json("GET /me", http.StatusOK, testMe)
	f.json("GET /users/me-1/channels", http.StatusOK, testDMChannels)
	f.json("GET /users/u2", http.StatusOK, `{"user": {"id": "u2", "name": "friend"}}`)
	f.json("GET /teams/t1", http.StatusOK, `{"team": {"id": "t1", "name": "Team One"}}`)
	return f
}

func (f *fakeAPI) serve(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	key := r.Method + " " + r.URL.Path
	f.mu.Lock()
	f.calls = append(f.calls, apiCall{Method: r.Method, Path: r.URL.Path, Query: r.URL.Query(), Body: body})
	h := f.routes[key]
	f.mu.Unlock()
	if h == nil {
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `{"code":"NotFound"}`)
		return
	}
	h(w, r)
}

func (f *fakeAPI) handle(key string, h http.HandlerFunc) {
	f.mu.Lock()
	f.routes[key] = h
	f.mu.Unlock()
}

func (f *fakeAPI) json(key string, status int, body string) {
	f.handle(key, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	})
}

// callsTo returns the recorded calls matching "METHOD /path".
func (f *fakeAPI) callsTo(key string) []apiCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []apiCall
	for _, c := range f.calls {
		if c.Method+" "+c.Path == key {
			out = append(out, c)
		}
	}
	return out
}

// fakeGateway accepts websocket connections, greets them with a hello and
// an ack and hands them to the test.
type fakeGateway struct {
	srv      *httptest.Server
	upgrader websocket.Upgrader
	accepted chan *websocket.Conn

	mu      sync.Mutex
	queries []url.Values
	conns   []*websocket.Conn
	reject  map[string]bool
}

func newFakeGateway(t *testing.T) *fakeGateway {
	t.Helper()
	gw := &fakeGateway{accepted: make(chan *websocket.Conn, 16)}
	gw.srv = httptest.NewServer(http.HandlerFunc(gw.serve))
	t.Cleanup(func() {
		gw.mu.Lock()
		for _, c := range gw.conns {
			_ = c.Close()
		}
		gw.mu.Unlock()
		gw.srv.Close()
	})
	return gw
}

// rejectTeam makes the gateway refuse handshakes for teamID.
func (gw *fakeGateway) rejectTeam(teamID string) {
	gw.mu.Lock()
	defer gw.mu.Unlock()
	if gw.reject == nil {
		gw.reject = make(map[string]bool)
	}
	gw.reject[teamID] = true
}

func (gw *fakeGateway) serve(w http.ResponseWriter, r *http.Request) {
	gw.mu.Lock()
	rejected := gw.reject[r.URL.Query().Get("teamId")]
	gw.mu.Unlock()
	if rejected {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	ws, err := gw.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	gw.mu.Lock()
	gw.queries = append(gw.queries, r.URL.Query())
	gw.conns = append(gw.conns, ws)
	gw.mu.Unlock()

	_ = ws.WriteMessage(websocket.TextMessage, []byte(`0{"sid":"s","upgrades":[],"pingInterval":25000,"pingTimeout":5000}`))
	_ = ws.WriteMessage(websocket.TextMessage, []byte("40"))
	gw.accepted <- ws
	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			return
		}
	}
}

func (gw *fakeGateway) url() string {
	return "ws" + strings.TrimPrefix(gw.srv.URL, "http") + "/socket.io/"
}

func (gw *fakeGateway) nextConn(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case c := <-gw.accepted:
		return c
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for a gateway connection")
		return nil
	}
}

func (gw *fakeGateway) teamQueries() []string {
	gw.mu.Lock()
	defer gw.mu.Unlock()
	var out []string
	for _, q := range gw.queries {
		out = append(out, q.Get("teamId"))
	}
	return out
}

// emit sends an event frame on conn.
func emit(t *testing.T, conn *websocket.Conn, name string, payload any) {
	t.Helper()
	data, err := json.Marshal([]any{name, payload})
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, append([]byte("42"), data...)); err != nil {
		t.Fatalf("write event: %v", err)
	}
}

type testEnv struct {
	client *Client
	api    *fakeAPI
	gw     *fakeGateway
	events *recorder
}

// newTestEnv builds a client wired to a fake API and gateway. The gateway
// is disabled unless mutate turns it back on.
func newTestEnv(t *testing.T, mutate func(*Config)) *testEnv {
	t.Helper()
	api := newFakeAPI(t)
	gw := newFakeGateway(t)
	cfg := DefaultConfig()
	cfg.BaseURL = api.srv.URL
	cfg.MediaURL = api.srv.URL
	cfg.GatewayURL = gw.url()
	cfg.RateLimitOffset = 1
	cfg.WS.Disable = true
	cfg.WS.RetryDelay = 10
	if mutate != nil {
		mutate(cfg)
	}
	c, err := New(Options{Token: "tok", Config: cfg, Logger: zerolog.Nop()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return &testEnv{client: c, api: api, gw: gw, events: record(c)}
}

// recorder collects every published event.
type recorder struct {
	events chan Event
}

func record(c *Client) *recorder {
	r := &recorder{events: make(chan Event, 256)}
	c.SubscribeAll(func(evt Event) {
		select {
		case r.events <- evt:
		default:
		}
	})
	return r
}

// waitEvent returns the next event of type T, skipping others.
func waitEvent[T Event](t *testing.T, r *recorder) T {
	t.Helper()
	deadline := time.After(waitTimeout)
	for {
		select {
		case evt := <-r.events:
			if typed, ok := evt.(T); ok {
				return typed
			}
		case <-deadline:
			var zero T
			t.Fatalf("timed out waiting for %s", zero.Type())
			return zero
		}
	}
}

// drain returns the events published so far without waiting.
func (r *recorder) drain() []Event {
	var out []Event
	for {
		select {
		case evt := <-r.events:
			out = append(out, evt)
		default:
			return out
		}
	}
}

func eventsOf[T Event](events []Event) []T {
	var out []T
	for _, evt := range events {
		if typed, ok := evt.(T); ok {
			out = append(out, typed)
		}
	}
	return out
}

func mustJSON(t *testing.T, v any) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return data
}
