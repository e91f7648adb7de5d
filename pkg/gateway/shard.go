// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/aiku/go-guilded/pkg/clock"
)

const (
	DefaultGatewayURL     = "wss://api.guilded.gg/socket.io/"
	DefaultConnectTimeout = 30 * time.Second
	DefaultRetryDelay     = time.Second

	writeWait   = 10 * time.Second
	closeReason = "Clean close with no reconnection."
)

// State is the lifecycle position of a shard.
type State int32

const (
	StateIdle State = iota
	StateConnecting
	StateOpen
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// EventSink receives everything a shard observes. OnConnect, OnDisconnect
// and OnError run on the shard's read goroutine and must not block on
// Close; OnDispatch runs on its own goroutine per event.
type EventSink interface {
	OnConnect(s *Shard)
	OnDisconnect(s *Shard, err error)
	OnReconnect(s *Shard)
	OnError(s *Shard, err error)
	OnDebug(s *Shard, msg string)
	OnDispatch(s *Shard, name string, payload json.RawMessage)
}

// Options configures a shard. Zero values are replaced by defaults.
type Options struct {
	Token      string
	TeamID     string
	GatewayURL string

	// Reconnect enables automatic reconnection after a connection that
	// reached the open state is dropped by the server.
	Reconnect bool
	// ConnectTimeout bounds the wait for the handshake ack.
	ConnectTimeout time.Duration
	// RetryDelay is the pause between consecutive failed reconnect
	// attempts. The first attempt after a disconnect is immediate.
	RetryDelay time.Duration
	// MaxReconnectAttempts stops reconnecting after this many consecutive
	// failures. Zero means no limit.
	MaxReconnectAttempts int

	Dialer *websocket.Dialer
	Clock  clock.Clock
}

func (o Options) withDefaults() Options {
	if o.GatewayURL == "" {
		o.GatewayURL = DefaultGatewayURL
	}
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = DefaultConnectTimeout
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = DefaultRetryDelay
	}
	if o.Dialer == nil {
		o.Dialer = websocket.DefaultDialer
	}
	if o.Clock == nil {
		o.Clock = clock.Real()
	}
	return o
}

// URL returns the gateway address with the session query parameters.
func (o Options) URL() (string, error) {
	base := o.GatewayURL
	if base == "" {
		base = DefaultGatewayURL
	}
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid gateway url: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return "", fmt.Errorf("invalid gateway url: unsupported scheme %q", u.Scheme)
	}
	q := u.Query()
	q.Set("jwt", o.Token)
	q.Set("EIO", "3")
	q.Set("transport", "websocket")
	if o.TeamID != "" {
		q.Set("teamId", o.TeamID)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// connection is one socket and its handshake progress. isOpen and
// abandoned are guarded by the owning shard's mutex.
type connection struct {
	ws      *websocket.Conn
	writeMu sync.Mutex

	opened chan struct{}
	done   chan struct{}
	err    error

	isOpen    bool
	abandoned bool
}

func (c *connection) write(msg string) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteMessage(websocket.TextMessage, []byte(msg))
}

type heartbeat struct {
	mu      sync.Mutex
	stopped bool
	ticker  *clock.Ticker
	done    chan struct{}
}

// beat sends one heartbeat unless stop has been called. Holding mu across
// the write means no heartbeat can start after stop returns.
func (h *heartbeat) beat(cn *connection) (bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stopped {
		return false, nil
	}
	return true, cn.write(HeartbeatMessage)
}

func (h *heartbeat) stop() {
	h.mu.Lock()
	if h.stopped {
		h.mu.Unlock()
		return
	}
	h.stopped = true
	h.mu.Unlock()
	h.ticker.Stop()
	close(h.done)
}

// Shard is one gateway connection identified by "main" or a team id.
type Shard struct {
	id    string
	opts  Options
	sink  EventSink
	log   zerolog.Logger
	clock clock.Clock

	// ctx lives until Close and bounds every reconnect attempt.
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	state   State
	conn    *connection
	session Session
	hb      *heartbeat
	closed  bool

	wg sync.WaitGroup
}

// NewShard returns an idle shard. Call Connect to open it.
func NewShard(id string, opts Options, sink EventSink, log zerolog.Logger) *Shard {
	opts = opts.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &Shard{
		id:     id,
		opts:   opts,
		sink:   sink,
		log:    log.With().Str("component", "gateway").Str("shard_id", id).Logger(),
		clock:  opts.Clock,
		ctx:    ctx,
		cancel: cancel,
	}
}

// ID returns the shard id.
func (s *Shard) ID() string { return s.id }

// TeamID returns the team the shard is scoped to, or "".
func (s *Shard) TeamID() string { return s.opts.TeamID }

// State returns the current lifecycle state.
func (s *Shard) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Session returns the metadata from the most recent hello.
func (s *Shard) Session() Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session
}

// Connect dials the gateway and blocks until the handshake is
// acknowledged, ctx is done, ConnectTimeout elapses or the socket closes.
func (s *Shard) Connect(ctx context.Context) error {
	return s.connect(ctx)
}

func (s *Shard) connect(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrShardClosed
	}
	if s.state == StateConnecting || s.state == StateOpen {
		s.mu.Unlock()
		return ErrAlreadyConnected
	}
	s.state = StateConnecting
	s.mu.Unlock()

	err := s.open(ctx)
	if err != nil {
		s.mu.Lock()
		if s.state == StateConnecting {
			s.state = StateClosed
		}
		s.mu.Unlock()
	}
	return err
}

func (s *Shard) open(ctx context.Context) error {
	target, err := s.opts.URL()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(s.ctx, cancel)
	defer stop()

	s.log.Debug().Msg("Dialing gateway")
	s.sink.OnDebug(s, "Attempting to connect to the gateway")
	ws, resp, err := s.opts.Dialer.DialContext(ctx, target, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		if s.isClosed() {
			return ErrShardClosed
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("dial aborted: %w", ctxErr)
		}
		return &GatewayError{ShardID: s.id, Op: "dial", Err: err}
	}

	cn := &connection{
		ws:     ws,
		opened: make(chan struct{}),
		done:   make(chan struct{}),
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = ws.Close()
		return ErrShardClosed
	}
	s.conn = cn
	s.wg.Add(1)
	s.mu.Unlock()

	go s.readLoop(cn)

	select {
	case <-cn.opened:
		return nil
	case <-cn.done:
		select {
		case <-cn.opened:
			return nil
		default:
		}
		if s.isClosed() {
			return ErrShardClosed
		}
		cause := cn.err
		if cause == nil {
			cause = errors.New("connection closed before handshake")
		}
		return &GatewayError{ShardID: s.id, Op: "handshake", Err: cause}
	case <-ctx.Done():
		if !s.abandon(cn) {
			return nil
		}
		if s.isClosed() {
			return ErrShardClosed
		}
		return ctx.Err()
	case <-s.clock.After(s.opts.ConnectTimeout):
		if !s.abandon(cn) {
			return nil
		}
		s.log.Warn().Dur("timeout", s.opts.ConnectTimeout).Msg("Gateway handshake timed out")
		return &GatewayError{ShardID: s.id, Op: "handshake", Err: ErrHandshakeTimeout}
	}
}

// abandon gives up on a connection that has not been acknowledged. It
// returns false if the ack won the race, leaving the connection open.
func (s *Shard) abandon(cn *connection) bool {
	s.mu.Lock()
	if cn.isOpen {
		s.mu.Unlock()
		return false
	}
	cn.abandoned = true
	if s.conn == cn {
		s.stopHeartbeatLocked()
		s.conn = nil
	}
	s.mu.Unlock()
	_ = cn.ws.Close()
	return true
}

func (s *Shard) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Shard) readLoop(cn *connection) {
	defer s.wg.Done()
	var err error
	for {
		var data []byte
		_, data, err = cn.ws.ReadMessage()
		if err != nil {
			break
		}
		s.handleFrame(cn, string(data))
	}
	s.handleClose(cn, err)
}

func (s *Shard) handleFrame(cn *connection, raw string) {
	frame, err := Decode(raw)
	if err != nil {
		s.log.Warn().Err(err).Msg("Dropping malformed frame")
		s.sink.OnError(s, &GatewayError{ShardID: s.id, Op: "decode", Err: err})
		return
	}
	switch frame.Code {
	case CodeHello:
		s.handleHello(cn, frame.Data)
	case CodeConnected:
		s.handleConnected(cn)
	case CodeEvent:
		s.handleEvent(frame.Data)
	case CodePong:
		s.log.Trace().Msg("Heartbeat acknowledged")
	default:
		s.log.Trace().Int("code", frame.Code).Msg("Ignoring frame with unhandled code")
	}
}

func (s *Shard) handleHello(cn *connection, data json.RawMessage) {
	var session Session
	if err := json.Unmarshal(data, &session); err != nil {
		s.sink.OnError(s, &GatewayError{
			ShardID: s.id,
			Op:      "hello",
			Err:     fmt.Errorf("%w: %w", ErrMalformedFrame, err),
		})
		return
	}
	interval := time.Duration(session.PingInterval) * time.Millisecond

	s.mu.Lock()
	if s.conn != cn || cn.abandoned {
		s.mu.Unlock()
		return
	}
	s.session = session
	s.stopHeartbeatLocked()
	if interval > 0 {
		hb := &heartbeat{ticker: s.clock.NewTicker(interval), done: make(chan struct{})}
		s.hb = hb
		s.wg.Add(1)
		go s.heartbeatLoop(cn, hb)
	}
	s.mu.Unlock()

	if interval <= 0 {
		s.log.Warn().Int("ping_interval", session.PingInterval).Msg("Hello carried no usable ping interval, heartbeat disabled")
		return
	}
	s.log.Debug().Str("sid", session.SID).Dur("ping_interval", interval).Msg("Heartbeat started")
	s.sink.OnDebug(s, "Heartbeat started")
}

func (s *Shard) heartbeatLoop(cn *connection, hb *heartbeat) {
	defer s.wg.Done()
	for {
		select {
		case <-hb.done:
			return
		case <-hb.ticker.C:
			sent, err := hb.beat(cn)
			if err != nil {
				s.log.Warn().Err(err).Msg("Failed to send heartbeat")
				continue
			}
			if sent {
				s.log.Trace().Msg("Heartbeat sent")
				s.sink.OnDebug(s, "Heartbeat sent")
			}
		}
	}
}

// stopHeartbeatLocked must be called with s.mu held.
func (s *Shard) stopHeartbeatLocked() {
	if s.hb != nil {
		s.hb.stop()
		s.hb = nil
	}
}

func (s *Shard) handleConnected(cn *connection) {
	s.mu.Lock()
	if s.conn != cn || cn.abandoned || cn.isOpen {
		s.mu.Unlock()
		return
	}
	cn.isOpen = true
	s.state = StateOpen
	heartbeating := s.hb != nil
	s.mu.Unlock()

	if !heartbeating {
		s.log.Warn().Msg("Handshake acknowledged before hello, no heartbeat yet")
	}
	s.log.Info().Msg("Connected to gateway")
	s.sink.OnDebug(s, "Gateway sent a ready event")
	s.sink.OnConnect(s)
	close(cn.opened)
}

func (s *Shard) handleEvent(data json.RawMessage) {
	name, payload, err := DecodeEvent(data)
	if err != nil {
		s.log.Warn().Err(err).Msg("Dropping malformed event")
		s.sink.OnError(s, &GatewayError{ShardID: s.id, Op: "decode", Err: err})
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.sink.OnDispatch(s, name, payload)
	}()
}

func (s *Shard) handleClose(cn *connection, err error) {
	s.mu.Lock()
	cn.err = err
	if s.conn == cn {
		s.stopHeartbeatLocked()
		s.conn = nil
		s.state = StateClosed
	}
	wasOpen := cn.isOpen && !cn.abandoned
	operator := s.closed
	s.mu.Unlock()

	_ = cn.ws.Close()
	close(cn.done)

	if !wasOpen {
		return
	}
	if !operator && isAbnormalClose(err) {
		s.log.Warn().Err(err).Msg("Gateway connection failed")
		s.sink.OnDebug(s, "Error received on the gateway")
		s.sink.OnError(s, &GatewayError{ShardID: s.id, Op: "read", Err: err})
	}
	s.log.Info().Bool("operator", operator).Msg("Gateway connection closed")
	s.sink.OnDebug(s, "Gateway closed its socket")
	s.sink.OnDisconnect(s, err)

	if operator || !s.opts.Reconnect {
		return
	}
	s.wg.Add(1)
	go s.reconnect()
}

func isAbnormalClose(err error) bool {
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		return closeErr.Code != websocket.CloseNormalClosure && closeErr.Code != websocket.CloseGoingAway
	}
	return err != nil
}

func (s *Shard) reconnect() {
	defer s.wg.Done()
	s.sink.OnDebug(s, "Reconnecting to the gateway")

	for attempt := 1; ; attempt++ {
		if attempt > 1 {
			select {
			case <-s.ctx.Done():
				return
			case <-s.clock.After(s.opts.RetryDelay):
			}
		}

		err := s.connect(s.ctx)
		if err == nil {
			s.log.Info().Int("attempt", attempt).Msg("Reconnected to gateway")
			s.sink.OnDebug(s, "Reconnected to the gateway")
			s.sink.OnReconnect(s)
			return
		}
		if s.ctx.Err() != nil || errors.Is(err, ErrShardClosed) || errors.Is(err, ErrAlreadyConnected) {
			return
		}
		s.log.Warn().Err(err).Int("attempt", attempt).Msg("Reconnect attempt failed")
		s.sink.OnError(s, err)
		if limit := s.opts.MaxReconnectAttempts; limit > 0 && attempt >= limit {
			s.log.Error().Int("attempts", attempt).Msg("Giving up on reconnecting")
			return
		}
	}
}

// Close stops the heartbeat, closes the socket with a normal closure and
// cancels any reconnect in flight. The shard cannot be reopened.
func (s *Shard) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.cancel()
	s.stopHeartbeatLocked()
	cn := s.conn
	s.conn = nil
	if cn != nil {
		s.state = StateClosing
	}
	s.mu.Unlock()

	var err error
	if cn != nil {
		s.log.Debug().Msg("Closing gateway connection")
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, closeReason)
		if werr := cn.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait)); werr != nil {
			s.log.Debug().Err(werr).Msg("Failed to send close frame")
		}
		if cerr := cn.ws.Close(); cerr != nil {
			err = fmt.Errorf("failed to close gateway socket: %w", cerr)
		}
	}

	s.mu.Lock()
	s.state = StateClosed
	s.mu.Unlock()
	return err
}

// Wait blocks until the read loop, heartbeat, reconnect and in-flight
// dispatch goroutines of a closed shard have returned. It must not be
// called from an EventSink callback.
func (s *Shard) Wait() {
	s.wg.Wait()
}
