// Copyright 2024-2026 Aiku AI

package guilded

import (
	_ "embed"
	"errors"
	"fmt"
	"time"

	up "go.mau.fi/util/configupgrade"
	"gopkg.in/yaml.v3"

	"github.com/aiku/go-guilded/pkg/gateway"
	"github.com/aiku/go-guilded/pkg/rest"
)

//go:embed example-config.yaml
var ExampleConfig string

// CacheConfig toggles caching per entity kind.
type CacheConfig struct {
	Users    bool `yaml:"users"`
	Teams    bool `yaml:"teams"`
	Channels bool `yaml:"channels"`
	Messages bool `yaml:"messages"`
	Roles    bool `yaml:"roles"`
	Friends  bool `yaml:"friends"`
	Groups   bool `yaml:"groups"`
	Emojis   bool `yaml:"emojis"`
	MaxSize  int  `yaml:"max_size"`
}

// WSConfig controls the gateway connection.
type WSConfig struct {
	Disable              bool `yaml:"disable"`
	Reconnect            bool `yaml:"reconnect"`
	ConnectTimeout       int  `yaml:"connect_timeout"`
	RetryDelay           int  `yaml:"retry_delay"`
	MaxReconnectAttempts int  `yaml:"max_reconnect_attempts"`
}

// BreakerConfig controls the REST circuit breaker.
type BreakerConfig struct {
	Disabled    bool `yaml:"disabled"`
	MaxFailures int  `yaml:"max_failures"`
	Timeout     int  `yaml:"timeout"`
}

// Config holds the client configuration.
type Config struct {
	BaseURL    string `yaml:"base_url"`
	GatewayURL string `yaml:"gateway_url"`
	MediaURL   string `yaml:"media_url"`
	// RateLimitOffset is the retry delay after a 429, in milliseconds.
	RateLimitOffset   int      `yaml:"ratelimit_offset"`
	RequestsPerSecond int      `yaml:"requests_per_second"`
	TeamShards        []string `yaml:"team_shards"`

	Cache   CacheConfig   `yaml:"cache"`
	WS      WSConfig      `yaml:"ws"`
	Breaker BreakerConfig `yaml:"breaker"`
}

func (c *Config) UnmarshalYAML(node *yaml.Node) error {
	type rawConfig Config
	return node.Decode((*rawConfig)(c))
}

// PostProcess validates the numeric settings.
func (c *Config) PostProcess() error {
	var errs []error
	if c.RateLimitOffset < 0 {
		errs = append(errs, fmt.Errorf("ratelimit_offset must not be negative, got %d", c.RateLimitOffset))
	}
	if c.RequestsPerSecond < 0 {
		errs = append(errs, fmt.Errorf("requests_per_second must not be negative, got %d", c.RequestsPerSecond))
	}
	if c.Cache.MaxSize < 0 {
		errs = append(errs, fmt.Errorf("cache.max_size must not be negative, got %d", c.Cache.MaxSize))
	}
	if c.WS.ConnectTimeout < 0 || c.WS.RetryDelay < 0 || c.WS.MaxReconnectAttempts < 0 {
		errs = append(errs, errors.New("ws timings must not be negative"))
	}
	if c.Breaker.MaxFailures < 0 || c.Breaker.Timeout < 0 {
		errs = append(errs, errors.New("breaker settings must not be negative"))
	}
	return errors.Join(errs...)
}

func upgradeConfig(helper up.Helper) {
	helper.Copy(up.Str, "base_url")
	helper.Copy(up.Str, "gateway_url")
	helper.Copy(up.Str, "media_url")
	helper.Copy(up.Int, "ratelimit_offset")
	helper.Copy(up.Int, "requests_per_second")
	helper.Copy(up.List, "team_shards")

	helper.Copy(up.Bool, "cache", "users")
	helper.Copy(up.Bool, "cache", "teams")
	helper.Copy(up.Bool, "cache", "channels")
	helper.Copy(up.Bool, "cache", "messages")
	helper.Copy(up.Bool, "cache", "roles")
	helper.Copy(up.Bool, "cache", "friends")
	helper.Copy(up.Bool, "cache", "groups")
	helper.Copy(up.Bool, "cache", "emojis")
	helper.Copy(up.Int, "cache", "max_size")

	helper.Copy(up.Bool, "ws", "disable")
	helper.Copy(up.Bool, "ws", "reconnect")
	helper.Copy(up.Int, "ws", "connect_timeout")
	helper.Copy(up.Int, "ws", "retry_delay")
	helper.Copy(up.Int, "ws", "max_reconnect_attempts")

	helper.Copy(up.Bool, "breaker", "disabled")
	helper.Copy(up.Int, "breaker", "max_failures")
	helper.Copy(up.Int, "breaker", "timeout")
}

// Upgrader returns the config upgrader that carries user values over onto
// the embedded example config.
func Upgrader() up.Upgrader {
	return &up.StructUpgrader{
		SimpleUpgrader: up.SimpleUpgrader(upgradeConfig),
		Base:           ExampleConfig,
	}
}

// DefaultConfig returns the embedded example config.
func DefaultConfig() *Config {
	cfg, err := LoadConfig(nil)
	if err != nil {
		panic(fmt.Errorf("embedded example config is invalid: %w", err))
	}
	return cfg
}

// LoadConfig merges data over the embedded example config. Keys missing
// from data keep their example values and unknown keys are dropped.
func LoadConfig(data []byte) (*Config, error) {
	var base yaml.Node
	if err := yaml.Unmarshal([]byte(ExampleConfig), &base); err != nil {
		return nil, fmt.Errorf("failed to parse example config: %w", err)
	}
	if len(data) > 0 {
		var user yaml.Node
		if err := yaml.Unmarshal(data, &user); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
		if user.Kind == yaml.DocumentNode && len(user.Content) > 0 {
			upgradeConfig(up.NewHelper(&base, &user))
		}
	}
	var cfg Config
	if err := base.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.PostProcess(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) restBreaker() rest.BreakerSettings {
	return rest.BreakerSettings{
		Disabled:    c.Breaker.Disabled,
		MaxFailures: uint32(c.Breaker.MaxFailures),
		Timeout:     time.Duration(c.Breaker.Timeout) * time.Second,
	}
}

func (c *Config) shardOptions(token, teamID string) gateway.Options {
	return gateway.Options{
		Token:                token,
		TeamID:               teamID,
		GatewayURL:           c.GatewayURL,
		Reconnect:            c.WS.Reconnect,
		ConnectTimeout:       time.Duration(c.WS.ConnectTimeout) * time.Second,
		RetryDelay:           time.Duration(c.WS.RetryDelay) * time.Millisecond,
		MaxReconnectAttempts: c.WS.MaxReconnectAttempts,
	}
}
