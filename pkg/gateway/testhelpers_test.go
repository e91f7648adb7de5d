// Copyright 2024-2026 Aiku AI

package gateway

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	testHello   = `0{"sid":"sess-1","upgrades":[],"pingInterval":25000,"pingTimeout":5000}`
	testAck     = "40"
	waitTimeout = 5 * time.Second
)

// fakeGateway is an httptest server speaking just enough of the gateway
// protocol to drive a shard. Every accepted connection is greeted with
// the frames in greeting and then published on accepted.
type fakeGateway struct {
	t        *testing.T
	srv      *httptest.Server
	upgrader websocket.Upgrader
	greeting []string
	reject   atomic.Bool

	accepted chan *fakeConn

	mu      sync.Mutex
	conns   []*fakeConn
	queries []url.Values
}

type fakeConn struct {
	ws       *websocket.Conn
	writeMu  sync.Mutex
	received chan string
	closed   chan struct{}
}

func newFakeGateway(t *testing.T, greeting ...string) *fakeGateway {
	t.Helper()
	if greeting == nil {
		greeting = []string{testHello, testAck}
	}
	gw := &fakeGateway{
		t:        t,
		greeting: greeting,
		accepted: make(chan *fakeConn, 16),
	}
	gw.srv = httptest.NewServer(http.HandlerFunc(gw.serve))
	t.Cleanup(gw.close)
	return gw
}

func (gw *fakeGateway) serve(w http.ResponseWriter, r *http.Request) {
	if gw.reject.Load() {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	ws, err := gw.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	conn := &fakeConn{
		ws:       ws,
		received: make(chan string, 64),
		closed:   make(chan struct{}),
	}
	gw.mu.Lock()
	gw.conns = append(gw.conns, conn)
	gw.queries = append(gw.queries, r.URL.Query())
	gw.mu.Unlock()

	for _, frame := range gw.greeting {
		conn.send(frame)
	}
	gw.accepted <- conn

	defer close(conn.closed)
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return
		}
		select {
		case conn.received <- string(data):
		default:
		}
	}
}

func (gw *fakeGateway) url() string {
	return "ws" + strings.TrimPrefix(gw.srv.URL, "http") + "/socket.io/"
}

func (gw *fakeGateway) connCount() int {
	gw.mu.Lock()
	defer gw.mu.Unlock()
	return len(gw.conns)
}

func (gw *fakeGateway) query(i int) url.Values {
	gw.mu.Lock()
	defer gw.mu.Unlock()
	return gw.queries[i]
}

func (gw *fakeGateway) close() {
	gw.mu.Lock()
	conns := gw.conns
	gw.mu.Unlock()
	for _, c := range conns {
		_ = c.ws.Close()
	}
	gw.srv.Close()
}

// nextConn waits for the next accepted connection.
func (gw *fakeGateway) nextConn() *fakeConn {
	gw.t.Helper()
	select {
	case c := <-gw.accepted:
		return c
	case <-time.After(waitTimeout):
		gw.t.Fatal("timed out waiting for a gateway connection")
		return nil
	}
}

func (c *fakeConn) send(frame string) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.WriteMessage(websocket.TextMessage, []byte(frame))
}

func (c *fakeConn) closeWith(code int, reason string) {
	c.writeMu.Lock()
	_ = c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(time.Second))
	c.writeMu.Unlock()
	_ = c.ws.Close()
}

// expectMessage waits for the client to send want.
func (c *fakeConn) expectMessage(t *testing.T, want string) {
	t.Helper()
	select {
	case got := <-c.received:
		if got != want {
			t.Fatalf("client sent %q, want %q", got, want)
		}
	case <-time.After(waitTimeout):
		t.Fatalf("timed out waiting for client to send %q", want)
	}
}

// expectSilence asserts the client sends nothing for a short while.
func (c *fakeConn) expectSilence(t *testing.T, d time.Duration) {
	t.Helper()
	select {
	case got := <-c.received:
		t.Fatalf("unexpected client message %q", got)
	case <-time.After(d):
	}
}

type sinkEvent struct {
	kind    string
	shardID string
	name    string
	payload json.RawMessage
	err     error
}

// recordingSink captures shard callbacks and republishes them on events.
type recordingSink struct {
	mu     sync.Mutex
	all    []sinkEvent
	events chan sinkEvent
}

func newRecordingSink() *recordingSink {
	return &recordingSink{events: make(chan sinkEvent, 256)}
}

func (r *recordingSink) record(e sinkEvent) {
	r.mu.Lock()
	r.all = append(r.all, e)
	r.mu.Unlock()
	select {
	case r.events <- e:
	default:
	}
}

func (r *recordingSink) OnConnect(s *Shard) { r.record(sinkEvent{kind: "connect", shardID: s.ID()}) }
func (r *recordingSink) OnDisconnect(s *Shard, err error) {
	r.record(sinkEvent{kind: "disconnect", shardID: s.ID(), err: err})
}
func (r *recordingSink) OnReconnect(s *Shard) {
	r.record(sinkEvent{kind: "reconnect", shardID: s.ID()})
}
func (r *recordingSink) OnError(s *Shard, err error) {
	r.record(sinkEvent{kind: "error", shardID: s.ID(), err: err})
}
func (r *recordingSink) OnDebug(*Shard, string) {}
func (r *recordingSink) OnDispatch(s *Shard, name string, payload json.RawMessage) {
	r.record(sinkEvent{kind: "dispatch", shardID: s.ID(), name: name, payload: payload})
}

// waitFor returns the next event of kind, skipping others.
func (r *recordingSink) waitFor(t *testing.T, kind string) sinkEvent {
	t.Helper()
	deadline := time.After(waitTimeout)
	for {
		select {
		case e := <-r.events:
			if e.kind == kind {
				return e
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s event", kind)
			return sinkEvent{}
		}
	}
}

func (r *recordingSink) count(kind string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.all {
		if e.kind == kind {
			n++
		}
	}
	return n
}

func testOptions(gw *fakeGateway) Options {
	return Options{
		Token:      "test-token",
		GatewayURL: gw.url(),
		RetryDelay: 10 * time.Millisecond,
	}
}

func newTestShard(t *testing.T, id string, opts Options, sink EventSink) *Shard {
	t.Helper()
	s := NewShard(id, opts, sink, zerolog.Nop())
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// eventually polls cond until it holds or the wait times out.
func eventually(t *testing.T, msg string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(waitTimeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition never held: %s", msg)
		}
		time.Sleep(5 * time.Millisecond)
	}
}
