// Copyright 2024-2026 Aiku AI

package guilded

import (
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/aiku/go-guilded/pkg/clock"
	"github.com/aiku/go-guilded/pkg/gateway"
	"github.com/aiku/go-guilded/pkg/rest"
)

// DefaultMediaURL is the host webhooks are executed against when the
// config leaves media_url empty.
const DefaultMediaURL = "https://media.guilded.gg"

// Options configures a Client. Only Token is required.
type Options struct {
	Token string
	// Config defaults to the embedded example config.
	Config *Config
	Logger zerolog.Logger

	HTTPClient *http.Client
	Dialer     *websocket.Dialer
	Clock      clock.Clock
}

// Client is a logged in Guilded session: REST access, gateway shards, an
// entity cache and an event bus.
type Client struct {
	Bus      *Bus
	Cache    *Cache
	Gateway  *gateway.Manager
	Users    *UserManager
	Teams    *TeamManager
	Channels *ChannelManager
	Webhooks *WebhookManager

	cfg    *Config
	token  string
	api    *rest.Client
	media  *rest.Client
	dialer *websocket.Dialer
	clock  clock.Clock
	log    zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	closed atomic.Bool

	userMu sync.RWMutex
	user   *ClientUser
}

// New builds a client. Nothing is contacted until Start.
func New(opts Options) (*Client, error) {
	if opts.Token == "" {
		return nil, ErrMissingToken
	}
	cfg := opts.Config
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}

	c := &Client{
		cfg:    cfg,
		token:  opts.Token,
		dialer: opts.Dialer,
		clock:  opts.Clock,
		log:    opts.Logger.With().Str("component", "guilded_client").Logger(),
		Cache:  NewCache(cfg.Cache.MaxSize),
	}
	c.ctx, c.cancel = context.WithCancel(context.Background())
	c.Bus = NewBus(c.log)
	delay := time.Duration(cfg.RateLimitOffset) * time.Millisecond
	onRateLimit := func(resp *http.Response) {
		evt := RateLimitEvent{RetryAfter: delay, Response: resp}
		if resp != nil && resp.Request != nil {
			evt.Method = resp.Request.Method
			evt.Path = resp.Request.URL.Path
		}
		c.Bus.Publish(evt)
	}
	c.api = rest.New(rest.Options{
		BaseURL:           cfg.BaseURL,
		Token:             opts.Token,
		HTTPClient:        opts.HTTPClient,
		RateLimitDelay:    delay,
		RequestsPerSecond: float64(cfg.RequestsPerSecond),
		Breaker:           cfg.restBreaker(),
		Clock:             opts.Clock,
		OnRateLimit:       onRateLimit,
	}, opts.Logger)
	// Webhook execution is authenticated by the webhook token in the path.
	c.media = rest.New(rest.Options{
		BaseURL:        cmp.Or(cfg.MediaURL, DefaultMediaURL),
		HTTPClient:     opts.HTTPClient,
		RateLimitDelay: delay,
		Breaker:        cfg.restBreaker(),
		Clock:          opts.Clock,
		OnRateLimit:    onRateLimit,
	}, opts.Logger)
	c.Gateway = gateway.NewManager(&shardSink{c: c}, opts.Logger)
	c.Users = &UserManager{c: c}
	c.Teams = &TeamManager{c: c}
	c.Channels = &ChannelManager{c: c}
	c.Webhooks = &WebhookManager{c: c}
	return c, nil
}

// Config returns the configuration the client was built with.
func (c *Client) Config() *Config { return c.cfg }

// REST returns the underlying API client.
func (c *Client) REST() *rest.Client { return c.api }

// User returns the logged in user once Start has succeeded.
func (c *Client) User() (ClientUser, bool) {
	c.userMu.RLock()
	defer c.userMu.RUnlock()
	if c.user == nil {
		return ClientUser{}, false
	}
	return *c.user, true
}

func (c *Client) userID() string {
	c.userMu.RLock()
	defer c.userMu.RUnlock()
	if c.user == nil {
		return ""
	}
	return c.user.ID
}

type meResponse struct {
	User    User     `json:"user"`
	Teams   []Team   `json:"teams"`
	Friends []Friend `json:"friends"`
}

// Start logs in, warms the cache and opens the main shard plus one shard
// per configured team. ReadyEvent is published when everything is up.
func (c *Client) Start(ctx context.Context) error {
	if c.closed.Load() {
		return ErrClientClosed
	}
	var me meResponse
	if err := c.api.Get(ctx, "/me", &me); err != nil {
		return fmt.Errorf("failed to fetch logged in user: %w", err)
	}
	if me.User.ID == "" {
		return fmt.Errorf("failed to fetch logged in user: %w", ErrNotFound)
	}
	user := &ClientUser{User: me.User, Friends: me.Friends, Teams: me.Teams}
	c.userMu.Lock()
	c.user = user
	c.userMu.Unlock()
	c.log.Info().Str("user_id", me.User.ID).Str("name", me.User.Name).Msg("Authenticated")

	if c.cfg.Cache.Users {
		c.Cache.Users.Set(me.User.ID, me.User)
	}
	if c.cfg.Cache.Teams {
		for _, team := range me.Teams {
			c.Cache.putTeam(team, c.cfg.Cache.Roles)
		}
	}
	if c.cfg.Cache.Friends {
		for _, f := range me.Friends {
			c.Cache.Friends.Set(f.UserID, f)
		}
	}
	if c.cfg.Cache.Channels {
		if _, err := c.Channels.DMChannels(ctx); err != nil {
			return fmt.Errorf("failed to load dm channels: %w", err)
		}
	}

	if !c.cfg.WS.Disable {
		if err := c.openShards(ctx); err != nil {
			c.log.Warn().Err(err).Msg("Failed to open gateway shards, closing the ones already connected")
			for _, s := range c.Gateway.RemoveAllShards() {
				s.Wait()
			}
			return err
		}
	}

	c.Bus.Publish(ReadyEvent{User: *user})
	return nil
}

func (c *Client) openShards(ctx context.Context) error {
	if _, err := c.Gateway.CreateShard(ctx, gateway.MainShardID, c.shardOptions("")); err != nil {
		return err
	}
	// A failed team shard cancels the others; Start tears down whatever
	// got registered.
	g, gctx := errgroup.WithContext(ctx)
	for _, teamID := range c.cfg.TeamShards {
		g.Go(func() error {
			_, err := c.Gateway.CreateShard(gctx, teamID, c.shardOptions(teamID))
			return err
		})
	}
	return g.Wait()
}

func (c *Client) shardOptions(teamID string) gateway.Options {
	opts := c.cfg.shardOptions(c.token, teamID)
	opts.Dialer = c.dialer
	opts.Clock = c.clock
	return opts
}

// ConnectTeam opens a dedicated shard for teamID, replacing any shard
// already open for it.
func (c *Client) ConnectTeam(ctx context.Context, teamID string) (*gateway.Shard, error) {
	if c.closed.Load() {
		return nil, ErrClientClosed
	}
	if c.cfg.WS.Disable {
		return nil, ErrGatewayDisabled
	}
	return c.Gateway.CreateShard(ctx, teamID, c.shardOptions(teamID))
}

// Close shuts every shard down and waits for in-flight event handlers.
// It is safe to call more than once.
func (c *Client) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	c.cancel()
	for _, shard := range c.Gateway.RemoveAllShards() {
		shard.Wait()
	}
	c.log.Info().Msg("Client closed")
	return nil
}

// Subscribe registers handler for one event type.
func (c *Client) Subscribe(t EventType, handler func(Event)) func() {
	return c.Bus.Subscribe(t, handler)
}

// SubscribeAll registers handler for every event.
func (c *Client) SubscribeAll(handler func(Event)) func() {
	return c.Bus.SubscribeAll(handler)
}

// reportError logs err and publishes it as an ErrorEvent.
func (c *Client) reportError(shardID string, err error) {
	c.log.Warn().Err(err).Str("shard_id", shardID).Msg("Event handling failed")
	c.Bus.Publish(ErrorEvent{ShardID: shardID, Err: err})
}

// shardSink turns shard callbacks into bus events.
type shardSink struct {
	c *Client
}

var _ gateway.EventSink = (*shardSink)(nil)

func (s *shardSink) OnConnect(shard *gateway.Shard) {
	s.c.log.Info().Str("shard_id", shard.ID()).Msg("Shard connected")
	s.c.Bus.Publish(ConnectEvent{ShardID: shard.ID()})
}

func (s *shardSink) OnDisconnect(shard *gateway.Shard, err error) {
	s.c.log.Info().Err(err).Str("shard_id", shard.ID()).Msg("Shard disconnected")
	s.c.Bus.Publish(DisconnectEvent{ShardID: shard.ID(), Err: err})
}

func (s *shardSink) OnReconnect(shard *gateway.Shard) {
	s.c.Bus.Publish(ReconnectEvent{ShardID: shard.ID()})
}

func (s *shardSink) OnError(shard *gateway.Shard, err error) {
	s.c.log.Warn().Err(err).Str("shard_id", shard.ID()).Msg("Shard error")
	s.c.Bus.Publish(ErrorEvent{ShardID: shard.ID(), Err: err})
}

func (s *shardSink) OnDebug(shard *gateway.Shard, msg string) {
	s.c.Bus.Publish(DebugEvent{ShardID: shard.ID(), Message: msg})
}

func (s *shardSink) OnDispatch(shard *gateway.Shard, name string, payload json.RawMessage) {
	s.c.dispatch(shard.ID(), name, payload)
}
