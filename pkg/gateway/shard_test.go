// Copyright 2024-2026 Aiku AI

package gateway

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/aiku/go-guilded/pkg/clock"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

// TestShardConnectReachesOpen verifies hello then ack opens the shard with
// the hello's session and the expected query parameters.
func TestShardConnectReachesOpen(t *testing.T) {
	t.Parallel()
	gw := newFakeGateway(t)
	sink := newRecordingSink()
	shard := newTestShard(t, MainShardID, testOptions(gw), sink)

	if shard.State() != StateIdle {
		t.Fatalf("initial state = %v, want idle", shard.State())
	}
	if err := shard.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if shard.State() != StateOpen {
		t.Errorf("state = %v, want open", shard.State())
	}
	session := shard.Session()
	if session.SID != "sess-1" || session.PingInterval != 25000 || session.PingTimeout != 5000 {
		t.Errorf("session = %+v", session)
	}
	if sink.count("connect") != 1 {
		t.Errorf("connect notifications = %d, want 1", sink.count("connect"))
	}

	q := gw.query(0)
	if q.Get("jwt") != "test-token" || q.Get("EIO") != "3" || q.Get("transport") != "websocket" {
		t.Errorf("query = %v", q)
	}
	if q.Has("teamId") {
		t.Errorf("main shard should not send teamId, got %q", q.Get("teamId"))
	}
}

// TestShardTeamQuery verifies team shards scope the connection.
func TestShardTeamQuery(t *testing.T) {
	t.Parallel()
	gw := newFakeGateway(t)
	opts := testOptions(gw)
	opts.TeamID = "team-42"
	shard := newTestShard(t, "team-42", opts, newRecordingSink())

	if err := shard.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if got := gw.query(0).Get("teamId"); got != "team-42" {
		t.Errorf("teamId = %q, want team-42", got)
	}
	if shard.TeamID() != "team-42" {
		t.Errorf("TeamID() = %q", shard.TeamID())
	}
}

// TestShardHeartbeat verifies one heartbeat per interval and none once the
// shard is closed.
func TestShardHeartbeat(t *testing.T) {
	t.Parallel()
	gw := newFakeGateway(t)
	fake := clock.Fake(epoch)
	opts := testOptions(gw)
	opts.Clock = fake
	shard := newTestShard(t, MainShardID, opts, newRecordingSink())

	if err := shard.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	conn := gw.nextConn()

	conn.expectSilence(t, 50*time.Millisecond)
	for i := 0; i < 3; i++ {
		fake.Advance(25 * time.Second)
		conn.expectMessage(t, HeartbeatMessage)
		conn.expectSilence(t, 50*time.Millisecond)
	}

	if err := shard.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	fake.Advance(time.Minute)
	conn.expectSilence(t, 100*time.Millisecond)
	if shard.State() != StateClosed {
		t.Errorf("state after Close = %v, want closed", shard.State())
	}
}

// TestShardAckBeforeHello verifies an ack with no prior hello still opens
// the shard, and a later hello starts the heartbeat.
func TestShardAckBeforeHello(t *testing.T) {
	t.Parallel()
	gw := newFakeGateway(t, testAck)
	fake := clock.Fake(epoch)
	opts := testOptions(gw)
	opts.Clock = fake
	shard := newTestShard(t, MainShardID, opts, newRecordingSink())

	if err := shard.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if shard.State() != StateOpen {
		t.Fatalf("state = %v, want open", shard.State())
	}
	conn := gw.nextConn()

	conn.send(`0{"sid":"late","pingInterval":1000,"pingTimeout":500}`)
	eventually(t, "late hello applied", func() bool { return shard.Session().SID == "late" })
	fake.Advance(time.Second)
	conn.expectMessage(t, HeartbeatMessage)
}

// TestShardHelloReplacesHeartbeat verifies a second hello replaces the
// session and the heartbeat interval rather than adding a second loop.
func TestShardHelloReplacesHeartbeat(t *testing.T) {
	t.Parallel()
	gw := newFakeGateway(t)
	fake := clock.Fake(epoch)
	opts := testOptions(gw)
	opts.Clock = fake
	opts.ConnectTimeout = time.Hour
	shard := newTestShard(t, MainShardID, opts, newRecordingSink())

	if err := shard.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	conn := gw.nextConn()
	conn.send(`0{"sid":"sess-2","pingInterval":10000,"pingTimeout":5000}`)
	eventually(t, "second hello applied", func() bool { return shard.Session().SID == "sess-2" })

	fake.Advance(10 * time.Second)
	conn.expectMessage(t, HeartbeatMessage)
	fake.Advance(10 * time.Second)
	conn.expectMessage(t, HeartbeatMessage)
	// 25s total: the replaced 25s ticker must not add a third beat.
	fake.Advance(5 * time.Second)
	conn.expectSilence(t, 100*time.Millisecond)
}

// TestShardZeroPingInterval verifies a hello without an interval disables
// the heartbeat instead of spinning.
func TestShardZeroPingInterval(t *testing.T) {
	t.Parallel()
	gw := newFakeGateway(t, `0{"sid":"s"}`, testAck)
	fake := clock.Fake(epoch)
	opts := testOptions(gw)
	opts.Clock = fake
	shard := newTestShard(t, MainShardID, opts, newRecordingSink())

	if err := shard.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	conn := gw.nextConn()
	fake.Advance(time.Minute)
	conn.expectSilence(t, 100*time.Millisecond)
}

// TestShardReconnectsAfterServerClose verifies exactly one reconnect after
// the server drops the connection and none after an operator close.
func TestShardReconnectsAfterServerClose(t *testing.T) {
	t.Parallel()
	gw := newFakeGateway(t)
	sink := newRecordingSink()
	opts := testOptions(gw)
	opts.Reconnect = true
	shard := newTestShard(t, MainShardID, opts, sink)

	if err := shard.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	first := gw.nextConn()
	first.closeWith(websocket.CloseNormalClosure, "bye")

	sink.waitFor(t, "disconnect")
	sink.waitFor(t, "reconnect")
	gw.nextConn()
	if gw.connCount() != 2 {
		t.Fatalf("connections = %d, want 2", gw.connCount())
	}
	if shard.State() != StateOpen {
		t.Errorf("state after reconnect = %v, want open", shard.State())
	}
	if n := sink.count("error"); n != 0 {
		t.Errorf("normal close raised %d errors", n)
	}

	if err := shard.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	sink.waitFor(t, "disconnect")
	time.Sleep(100 * time.Millisecond)
	if gw.connCount() != 2 {
		t.Errorf("connections after Close = %d, want 2", gw.connCount())
	}
	if n := sink.count("reconnect"); n != 1 {
		t.Errorf("reconnect notifications = %d, want 1", n)
	}
}

// TestShardAbnormalCloseReportsError verifies an unexpected close code is
// surfaced as a transport error.
func TestShardAbnormalCloseReportsError(t *testing.T) {
	t.Parallel()
	gw := newFakeGateway(t)
	sink := newRecordingSink()
	shard := newTestShard(t, MainShardID, testOptions(gw), sink)

	if err := shard.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	gw.nextConn().closeWith(websocket.CloseInternalServerErr, "boom")

	evt := sink.waitFor(t, "error")
	gwErr, ok := AsGatewayError(evt.err)
	if !ok || gwErr.Op != "read" || gwErr.ShardID != MainShardID {
		t.Fatalf("error = %v, want read GatewayError", evt.err)
	}
	sink.waitFor(t, "disconnect")
	eventually(t, "shard closed", func() bool { return shard.State() == StateClosed })
	time.Sleep(50 * time.Millisecond)
	if gw.connCount() != 1 {
		t.Errorf("reconnect disabled but got %d connections", gw.connCount())
	}
}

// TestShardCloseIsFinal verifies Close is idempotent and blocks reuse.
func TestShardCloseIsFinal(t *testing.T) {
	t.Parallel()
	gw := newFakeGateway(t)
	sink := newRecordingSink()
	opts := testOptions(gw)
	opts.Reconnect = true
	shard := newTestShard(t, MainShardID, opts, sink)

	if err := shard.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := shard.Connect(context.Background()); !errors.Is(err, ErrAlreadyConnected) {
		t.Errorf("second Connect error = %v, want ErrAlreadyConnected", err)
	}
	conn := gw.nextConn()

	if err := shard.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := shard.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	select {
	case <-conn.closed:
	case <-time.After(waitTimeout):
		t.Fatal("server never saw the socket close")
	}
	shard.Wait()

	if err := shard.Connect(context.Background()); !errors.Is(err, ErrShardClosed) {
		t.Errorf("Connect after Close error = %v, want ErrShardClosed", err)
	}
	if sink.count("error") != 0 {
		t.Errorf("operator close raised errors")
	}
	if sink.count("disconnect") != 1 {
		t.Errorf("disconnect notifications = %d, want 1", sink.count("disconnect"))
	}
}

// TestShardDispatch verifies events reach the sink in decoded form and
// malformed frames are reported without stopping the read loop.
func TestShardDispatch(t *testing.T) {
	t.Parallel()
	gw := newFakeGateway(t)
	sink := newRecordingSink()
	shard := newTestShard(t, "team-1", testOptions(gw), sink)

	if err := shard.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	conn := gw.nextConn()

	conn.send("3")
	conn.send(`7{"ignored":true}`)
	conn.send(`42{"not":"an array"}`)
	conn.send("garbage")
	conn.send(`42["ChatChannelTyping",{"userId":"u1","channelId":"c1"}]`)

	evt := sink.waitFor(t, "dispatch")
	if evt.name != "ChatChannelTyping" || evt.shardID != "team-1" {
		t.Errorf("dispatch = %+v", evt)
	}
	if string(evt.payload) != `{"userId":"u1","channelId":"c1"}` {
		t.Errorf("payload = %s", evt.payload)
	}

	eventually(t, "two decode errors", func() bool { return sink.count("error") == 2 })
	sink.mu.Lock()
	defer sink.mu.Unlock()
	for _, e := range sink.all {
		if e.kind == "error" && !errors.Is(e.err, ErrMalformedFrame) {
			t.Errorf("error %v does not wrap ErrMalformedFrame", e.err)
		}
	}
}

// TestShardHandshakeTimeout verifies Connect gives up when no ack arrives.
func TestShardHandshakeTimeout(t *testing.T) {
	t.Parallel()
	gw := newFakeGateway(t, testHello)
	fake := clock.Fake(epoch)
	opts := testOptions(gw)
	opts.Clock = fake
	opts.ConnectTimeout = 5 * time.Second
	shard := newTestShard(t, MainShardID, opts, newRecordingSink())

	result := make(chan error, 1)
	go func() { result <- shard.Connect(context.Background()) }()

	// Heartbeat ticker from the hello plus the handshake deadline.
	fake.WaitForTimers(2)
	fake.Advance(5 * time.Second)

	select {
	case err := <-result:
		if !errors.Is(err, ErrHandshakeTimeout) {
			t.Fatalf("Connect error = %v, want ErrHandshakeTimeout", err)
		}
	case <-time.After(waitTimeout):
		t.Fatal("Connect did not return after the timeout")
	}
	if shard.State() != StateClosed {
		t.Errorf("state = %v, want closed", shard.State())
	}
}

// TestShardHandshakeCancelled verifies Connect honors its context.
func TestShardHandshakeCancelled(t *testing.T) {
	t.Parallel()
	gw := newFakeGateway(t, testHello)
	shard := newTestShard(t, MainShardID, testOptions(gw), newRecordingSink())

	ctx, cancel := context.WithCancel(context.Background())
	result := make(chan error, 1)
	go func() { result <- shard.Connect(ctx) }()
	gw.nextConn()
	cancel()

	select {
	case err := <-result:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Connect error = %v, want context.Canceled", err)
		}
	case <-time.After(waitTimeout):
		t.Fatal("Connect ignored cancellation")
	}
}

// TestShardClosedBeforeAck verifies an early server close fails Connect
// without reconnecting.
func TestShardClosedBeforeAck(t *testing.T) {
	t.Parallel()
	gw := newFakeGateway(t, testHello)
	sink := newRecordingSink()
	opts := testOptions(gw)
	opts.Reconnect = true
	shard := newTestShard(t, MainShardID, opts, sink)

	result := make(chan error, 1)
	go func() { result <- shard.Connect(context.Background()) }()
	gw.nextConn().closeWith(websocket.CloseGoingAway, "")

	var err error
	select {
	case err = <-result:
	case <-time.After(waitTimeout):
		t.Fatal("Connect did not return after the server closed")
	}
	gwErr, ok := AsGatewayError(err)
	if !ok || gwErr.Op != "handshake" {
		t.Fatalf("Connect error = %v, want handshake GatewayError", err)
	}
	time.Sleep(50 * time.Millisecond)
	if gw.connCount() != 1 || sink.count("disconnect") != 0 {
		t.Errorf("connections = %d disconnects = %d, want 1 and 0", gw.connCount(), sink.count("disconnect"))
	}
}

// TestShardDialFailure verifies a rejected upgrade surfaces a dial error.
func TestShardDialFailure(t *testing.T) {
	t.Parallel()
	gw := newFakeGateway(t)
	gw.reject.Store(true)
	shard := newTestShard(t, MainShardID, testOptions(gw), newRecordingSink())

	err := shard.Connect(context.Background())
	gwErr, ok := AsGatewayError(err)
	if !ok || gwErr.Op != "dial" {
		t.Fatalf("Connect error = %v, want dial GatewayError", err)
	}
	if !errors.Is(err, websocket.ErrBadHandshake) {
		t.Errorf("error %v should wrap websocket.ErrBadHandshake", err)
	}
	if shard.State() != StateClosed {
		t.Errorf("state = %v, want closed", shard.State())
	}
}

// TestOptionsURL verifies gateway address construction.
func TestOptionsURL(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		opts    Options
		want    string
		wantErr bool
	}{
		{
			name: "default main",
			opts: Options{Token: "tok"},
			want: "wss://api.guilded.gg/socket.io/?EIO=3&jwt=tok&transport=websocket",
		},
		{
			name: "team",
			opts: Options{Token: "tok", TeamID: "t1"},
			want: "wss://api.guilded.gg/socket.io/?EIO=3&jwt=tok&teamId=t1&transport=websocket",
		},
		{
			name:    "http scheme",
			opts:    Options{GatewayURL: "https://api.guilded.gg/socket.io/"},
			wantErr: true,
		},
		{
			name:    "unparseable",
			opts:    Options{GatewayURL: "ws://[::1"},
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := tt.opts.URL()
			if (err != nil) != tt.wantErr {
				t.Fatalf("URL() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("URL() = %q, want %q", got, tt.want)
			}
		})
	}
}

// TestStateString verifies state names used in logs.
func TestStateString(t *testing.T) {
	t.Parallel()
	want := map[State]string{
		StateIdle:       "idle",
		StateConnecting: "connecting",
		StateOpen:       "open",
		StateClosing:    "closing",
		StateClosed:     "closed",
		State(9):        "state(9)",
	}
	for s, name := range want {
		if s.String() != name {
			t.Errorf("%d.String() = %q, want %q", s, s.String(), name)
		}
	}
}
