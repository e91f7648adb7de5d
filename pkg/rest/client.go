// Copyright 2024-2026 Aiku AI

// Package rest is the HTTP side of the Guilded client. It turns a method,
// path and optional body into decoded JSON, retries rate limited requests
// and reports every non-2xx response as an *APIError.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/aiku/go-guilded/pkg/clock"
)

const (
	DefaultBaseURL        = "https://api.guilded.gg"
	DefaultRateLimitDelay = 3500 * time.Millisecond
	DefaultTimeout        = 30 * time.Second

	defaultBreakerFailures = 5
	defaultBreakerTimeout  = 30 * time.Second

	sessionHeader = "hmac_signed_session"
	maxErrorBody  = 4096
)

// BreakerSettings configures the circuit breaker around the transport.
// Only transport failures and 5xx responses count against it.
type BreakerSettings struct {
	MaxFailures uint32
	Timeout     time.Duration
	// Disabled turns the breaker off entirely.
	Disabled bool
}

// Options configures a Client.
type Options struct {
	BaseURL string
	Token   string

	HTTPClient *http.Client
	// RateLimitDelay is slept after a 429 before retrying.
	RateLimitDelay time.Duration
	// RequestsPerSecond enables client-side throttling when positive.
	RequestsPerSecond float64
	Breaker           BreakerSettings
	Clock             clock.Clock

	// OnRateLimit is called with every 429 response before the retry wait.
	OnRateLimit func(*http.Response)
}

// Client performs authenticated requests against the Guilded API.
type Client struct {
	baseURL     string
	token       string
	http        *http.Client
	delay       time.Duration
	clock       clock.Clock
	limiter     *rate.Limiter
	breaker     *gobreaker.CircuitBreaker[*response]
	onRateLimit func(*http.Response)
	log         zerolog.Logger
}

type response struct {
	body json.RawMessage
	resp *http.Response
}

// New returns a Client. Zero options are replaced by defaults.
func New(opts Options, log zerolog.Logger) *Client {
	c := &Client{
		baseURL:     strings.TrimRight(opts.BaseURL, "/"),
		token:       opts.Token,
		http:        opts.HTTPClient,
		delay:       opts.RateLimitDelay,
		clock:       opts.Clock,
		onRateLimit: opts.OnRateLimit,
		log:         log.With().Str("component", "rest").Logger(),
	}
	if c.baseURL == "" {
		c.baseURL = DefaultBaseURL
	}
	if c.http == nil {
		c.http = &http.Client{Timeout: DefaultTimeout}
	}
	if c.delay <= 0 {
		c.delay = DefaultRateLimitDelay
	}
	if c.clock == nil {
		c.clock = clock.Real()
	}
	if opts.RequestsPerSecond > 0 {
		burst := int(opts.RequestsPerSecond)
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), burst)
	}
	if !opts.Breaker.Disabled {
		c.breaker = newBreaker(opts.Breaker, c.log)
	}
	return c
}

func newBreaker(cfg BreakerSettings, log zerolog.Logger) *gobreaker.CircuitBreaker[*response] {
	maxFailures := cfg.MaxFailures
	if maxFailures == 0 {
		maxFailures = defaultBreakerFailures
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultBreakerTimeout
	}
	return gobreaker.NewCircuitBreaker[*response](gobreaker.Settings{
		Name:        "guilded-rest",
		MaxRequests: 1,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Circuit breaker state change")
		},
		IsSuccessful: func(err error) bool {
			if err == nil || errors.Is(err, context.Canceled) {
				return true
			}
			apiErr, ok := AsAPIError(err)
			return ok && apiErr.StatusCode < http.StatusInternalServerError
		},
	})
}

// BreakerState returns the circuit breaker state, or StateClosed when the
// breaker is disabled.
func (c *Client) BreakerState() gobreaker.State {
	if c.breaker == nil {
		return gobreaker.StateClosed
	}
	return c.breaker.State()
}

// Request sends method to path with body encoded as JSON (nil for none)
// and returns the decoded response body. A 429 is retried after the rate
// limit delay until it succeeds or ctx is done. The returned response's
// body has already been consumed.
func (c *Client) Request(ctx context.Context, method, path string, body any) (json.RawMessage, *http.Response, error) {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return nil, nil, fmt.Errorf("failed to encode request body: %w", err)
		}
	}

	for {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return nil, nil, fmt.Errorf("rate limiter: %w", err)
			}
		}

		res, err := c.execute(ctx, method, path, payload)
		if err == nil {
			return res.body, res.resp, nil
		}
		if !IsRateLimited(err) {
			var resp *http.Response
			if res != nil {
				resp = res.resp
			}
			return nil, resp, err
		}

		c.log.Warn().Str("method", method).Str("path", path).Dur("delay", c.delay).Msg("Rate limited, retrying")
		if c.onRateLimit != nil && res != nil {
			c.onRateLimit(res.resp)
		}
		select {
		case <-ctx.Done():
			return nil, nil, ctx.Err()
		case <-c.clock.After(c.delay):
		}
	}
}

func (c *Client) execute(ctx context.Context, method, path string, payload []byte) (*response, error) {
	if c.breaker == nil {
		return c.do(ctx, method, path, payload)
	}
	// The breaker discards the result on error, so keep the raw response
	// for callers that need headers of a failed call.
	var last *response
	res, err := c.breaker.Execute(func() (*response, error) {
		r, err := c.do(ctx, method, path, payload)
		last = r
		return r, err
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("guilded api circuit open: %w", err)
		}
		return last, err
	}
	return res, nil
}

func (c *Client) do(ctx context.Context, method, path string, payload []byte) (*response, error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set(sessionHeader, c.token)
		req.AddCookie(&http.Cookie{Name: sessionHeader, Value: c.token})
	}

	start := c.clock.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s failed: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response of %s %s: %w", method, path, err)
	}
	c.log.Debug().
		Str("method", method).
		Str("path", path).
		Int("status", resp.StatusCode).
		Dur("elapsed", c.clock.Now().Sub(start)).
		Msg("API request")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		text := string(data)
		if len(text) > maxErrorBody {
			text = text[:maxErrorBody]
		}
		return &response{resp: resp}, &APIError{
			Method:     method,
			Path:       path,
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Body:       text,
		}
	}

	if len(bytes.TrimSpace(data)) == 0 {
		return &response{body: json.RawMessage(`{}`), resp: resp}, nil
	}
	if !json.Valid(data) {
		return nil, fmt.Errorf("%s %s returned invalid JSON", method, path)
	}
	return &response{body: json.RawMessage(data), resp: resp}, nil
}

// Do is Request followed by decoding the body into out when out is non-nil.
func (c *Client) Do(ctx context.Context, method, path string, body, out any) error {
	data, _, err := c.Request(ctx, method, path, body)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode %s %s response: %w", method, path, err)
	}
	return nil
}

// Get is Do with GET and no body.
func (c *Client) Get(ctx context.Context, path string, out any) error {
	return c.Do(ctx, http.MethodGet, path, nil, out)
}
