// Package rest composes the building blocks of a signed, rate limited REST
// API client: request ids, admission gates, server time synchronization,
// signing, transport and response decoding.
package rest

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"restkit/internal/circuitbreaker"
	transport "restkit/internal/http"
	"restkit/internal/idgen"
	"restkit/internal/ratelimit"
	"restkit/internal/timesync"
	"restkit/pkg/core"
	"restkit/pkg/decode"
)

// errorBodyDecoder does not log; error bodies are often not JSON.
var errorBodyDecoder = decode.New()

// backgroundSyncTimeout bounds a time sync started behind a request.
const backgroundSyncTimeout = 30 * time.Second

// Client sends requests to one REST API. It is safe for concurrent use.
type Client struct {
	config      *core.Config
	protocol    Protocol
	transport   *transport.Client
	gate        core.Gate
	breaker     *circuitbreaker.Breaker
	credentials CredentialSource
	ids         IDGenerator
	clock       timesync.Clock
	timeSync    *timesync.Coordinator
	decoder     *decode.Decoder
	logger      zerolog.Logger
	requests    atomic.Int64
	closed      atomic.Bool
}

// New creates a Client for protocol. The configuration is validated first.
func New(config *core.Config, protocol Protocol, opts ...Option) (*Client, error) {
	if config == nil {
		return nil, fmt.Errorf("config is required")
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	if protocol == nil {
		return nil, fmt.Errorf("protocol is required")
	}

	o := options{
		logger: zerolog.Nop(),
		ids:    idgen.Default,
		clock:  timesync.SystemClock{},
	}
	for _, opt := range opts {
		opt(&o)
	}

	logger := o.logger.With().Str("api", config.Name).Logger()
	if config.LogLevel != "" {
		level, err := zerolog.ParseLevel(config.LogLevel)
		if err != nil {
			level = zerolog.InfoLevel
		}
		logger = logger.Level(level)
	}

	httpClient, err := transport.NewClient(
		transport.FromConfig(config, protocol.BaseURL(config.Sandbox)),
		transport.WithLogger(logger),
	)
	if err != nil {
		return nil, fmt.Errorf("http client: %w", err)
	}

	c := &Client{
		config:    config,
		protocol:  protocol,
		transport: httpClient,
		ids:       o.ids,
		clock:     o.clock,
		logger:    logger,
		decoder: decode.New(
			decode.WithLogger(logger),
			decode.WithOutputOriginalData(config.OutputOriginalData),
		),
	}

	c.credentials = o.credentials
	if c.credentials == nil {
		c.credentials = staticCredentials{creds: config.Credentials}
	}

	var gates ratelimit.Chain
	if config.CircuitBreakerEnabled {
		c.breaker = circuitbreaker.New(circuitbreaker.FromConfig(config), circuitbreaker.WithLogger(logger))
		gates = append(gates, c.breaker)
	}
	if o.gate != nil {
		gates = append(gates, o.gate)
	} else {
		gates = append(gates, ratelimit.FromConfig(config, ratelimit.WithLogger(logger))...)
		for _, rule := range o.rules {
			gates = append(gates, ratelimit.NewWithRule(rule, ratelimit.WithLogger(logger)))
		}
	}
	c.gate = gates

	var state *timesync.State
	if o.shareTimeWith != nil {
		state = o.shareTimeWith.timeSync.State()
	}
	c.timeSync = timesync.New(
		timesync.Policy{Enabled: config.TimeSyncEnabled, RecalculationInterval: config.TimeSyncInterval},
		state,
		timesync.WithClock(c.clock),
		timesync.WithLogger(logger),
		timesync.WithRequestCounter(c),
	)

	return c, nil
}

// Name returns the name of the API.
func (c *Client) Name() string {
	return c.config.Name
}

// Config returns the configuration the client was created with.
func (c *Client) Config() *core.Config {
	return c.config
}

// TotalRequests returns the number of requests that passed admission,
// including server time requests.
func (c *Client) TotalRequests() int64 {
	return c.requests.Load()
}

// Offset returns the current estimate of server time minus local time.
func (c *Client) Offset() time.Duration {
	return c.timeSync.State().Offset()
}

// ServerNow returns the local time corrected by the current offset.
func (c *Client) ServerNow() time.Time {
	return c.timeSync.Now()
}

// TimeSyncInfo describes the time synchronization of a client.
type TimeSyncInfo struct {
	Enabled               bool
	RecalculationInterval time.Duration
	Offset                time.Duration
	// LastSync is zero until the first successful synchronization.
	LastSync time.Time
	Syncing  bool
}

func (c *Client) TimeSyncInfo() TimeSyncInfo {
	policy := c.timeSync.Policy()
	state := c.timeSync.State()
	return TimeSyncInfo{
		Enabled:               policy.Enabled,
		RecalculationInterval: policy.RecalculationInterval,
		Offset:                state.Offset(),
		LastSync:              state.LastSync(),
		Syncing:               state.Syncing(),
	}
}

// SyncTime recalculates the server time offset when it is due. It returns
// true without contacting the server when synchronization is disabled, not
// due, or already running elsewhere.
func (c *Client) SyncTime(ctx context.Context) (bool, error) {
	if c.closed.Load() {
		return false, core.ErrClientClosed
	}
	return c.timeSync.Synchronize(ctx, c.measureServerTime)
}

func (c *Client) measureServerTime(ctx context.Context) (timesync.Measurement, error) {
	id := c.ids.Next()
	var sent time.Time
	resp, err := c.execute(ctx, id, c.protocol.ServerTimeRequest(), func() { sent = c.clock.Now() })
	if err != nil {
		return timesync.Measurement{}, err
	}
	roundTrip := c.clock.Now().Sub(sent)

	body, err := resp.ReadBody()
	if err != nil {
		return timesync.Measurement{}, fmt.Errorf("read server time: %w", err)
	}

	tree := c.decoder.DecodeText(body)
	if !tree.OK() {
		return timesync.Measurement{}, tree.Err
	}
	serverTime, err := c.protocol.ParseServerTime(tree.Data)
	if err != nil {
		return timesync.Measurement{}, fmt.Errorf("parse server time: %w", err)
	}

	return timesync.Measurement{
		ServerTime: serverTime,
		RoundTrip:  roundTrip,
		SentAt:     sent,
	}, nil
}

// Close releases the transport. Requests sent afterwards fail with
// core.ErrClientClosed.
func (c *Client) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	return c.transport.Close()
}

// prepareTime makes sure a signed request carries a usable timestamp. The
// first synchronization is waited for and its failure fails the request;
// later ones run in the background while the previous offset stays in use.
func (c *Client) prepareTime(ctx context.Context, id int64) error {
	if !c.timeSync.Due() {
		return nil
	}

	if c.timeSync.State().LastSync().IsZero() {
		if _, err := c.SyncTime(ctx); err != nil {
			c.logger.Error().Err(err).Int64("request_id", id).Msg("initial time sync failed")
			return err
		}
		return nil
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), backgroundSyncTimeout)
		defer cancel()
		if _, err := c.SyncTime(ctx); err != nil {
			c.logger.Warn().Err(err).Msg("background time sync failed, keeping previous offset")
		}
	}()
	return nil
}

// execute runs req through admission, signing and transport. A non-2xx
// status is returned as *core.APIError with the body consumed. beforeSend,
// when set, is called right before the request leaves.
func (c *Client) execute(ctx context.Context, id int64, req *core.Request, beforeSend func()) (*transport.Response, error) {
	if c.closed.Load() {
		return nil, core.ErrClientClosed
	}

	var creds *core.Credentials
	if req.Signed {
		creds = c.credentials.Credentials()
		if creds == nil {
			return nil, fmt.Errorf("%s %s: %w", req.Method, req.Path, core.ErrNoCredentials)
		}
	}

	waited, err := c.gate.Admit(ctx, req.Admission(creds.Identity(), c.config.RateLimitOverflow))
	if err != nil {
		c.logger.Warn().
			Int64("request_id", id).
			Str("method", req.Method).
			Str("path", req.Path).
			Err(err).
			Msg("request not admitted")
		c.observe(creds, err)
		return nil, err
	}
	if waited > 0 {
		c.logger.Debug().
			Int64("request_id", id).
			Int64("waited_ms", waited.Milliseconds()).
			Msg("request admitted after waiting")
	}

	c.requests.Add(1)

	out := req
	if req.Signed {
		out = req.Clone()
		if err := c.protocol.Sign(out, *creds, c.ServerNow()); err != nil {
			return nil, fmt.Errorf("sign request: %w", err)
		}
	}

	if beforeSend != nil {
		beforeSend()
	}
	resp, err := c.transport.Execute(ctx, out)
	if err != nil {
		c.record(creds, err)
		return nil, err
	}

	c.logger.Debug().
		Int64("request_id", id).
		Str("method", req.Method).
		Str("path", req.Path).
		Int("status", resp.StatusCode).
		Int64("elapsed_ms", resp.Elapsed.Milliseconds()).
		Msg("response received")

	if !resp.IsSuccess() {
		apiErr := c.apiError(id, resp)
		c.record(creds, apiErr)
		return nil, apiErr
	}

	c.record(creds, nil)
	return resp, nil
}

func (c *Client) record(creds *core.Credentials, err error) {
	if c.breaker != nil {
		c.breaker.RecordError(err)
	}
	c.observe(creds, err)
}

func (c *Client) observe(creds *core.Credentials, err error) {
	if err == nil || creds == nil {
		return
	}
	if observer, ok := c.credentials.(ErrorObserver); ok {
		observer.OnError(err)
	}
}

// apiError builds the error for a non-2xx response. APIs commonly answer
// with {"code": ..., "msg": ...}; both are picked up when present.
func (c *Client) apiError(id int64, resp *transport.Response) *core.APIError {
	body, readErr := resp.ReadBody()
	text := strings.TrimSpace(string(body))

	message := text
	if readErr != nil {
		message = fmt.Sprintf("read error body: %v", readErr)
	}

	apiErr := core.NewAPIError(c.config.Name, core.ErrorTypeFromStatus(resp.StatusCode), resp.StatusCode, message)
	apiErr.RequestID = id
	apiErr.RawError = text

	if tree := errorBodyDecoder.DecodeText(body); tree.OK() && tree.Data.Kind() == decode.KindObject {
		if code, ok := tree.Data.Get("code"); ok {
			if s, ok := code.Text(); ok {
				apiErr.Code = s
			} else {
				apiErr.Code = code.Raw()
			}
		}
		for _, key := range []string{"msg", "message", "error"} {
			if msg, ok := tree.Data.Get(key); ok {
				if s, ok := msg.Text(); ok && s != "" {
					apiErr.Message = s
					break
				}
			}
		}
	}

	c.logger.Warn().
		Int64("request_id", id).
		Int("status", resp.StatusCode).
		Str("type", apiErr.Type.String()).
		Str("code", apiErr.Code).
		Msg(apiErr.Message)

	return apiErr
}

// Send executes req and decodes a successful response body into T.
//
// The returned error covers everything before decoding: a closed client,
// missing credentials, admission rejection, time sync failure, signing,
// transport and non-2xx statuses (*core.APIError). Decoding failures are
// reported in the Result.
func Send[T any](ctx context.Context, c *Client, req *core.Request) (core.Result[T], error) {
	id := c.ids.Next()

	if req.Signed && !c.closed.Load() {
		if err := c.prepareTime(ctx, id); err != nil {
			return core.Result[T]{CorrelationID: id}, err
		}
	}

	resp, err := c.execute(ctx, id, req, nil)
	if err != nil {
		return core.Result[T]{CorrelationID: id}, err
	}
	defer resp.Body.Close()

	res, err := decode.Stream[T](ctx, c.decoder, resp.Body, decode.StreamOptions{
		CorrelationID: id,
		Elapsed:       resp.Elapsed,
	})
	if err != nil {
		return res, fmt.Errorf("read response: %w", err)
	}
	return res, nil
}

// Do is Send for callers that want a single error value.
func Do[T any](ctx context.Context, c *Client, req *core.Request) (T, error) {
	res, err := Send[T](ctx, c, req)
	if err != nil {
		var zero T
		return zero, err
	}
	return res.Unwrap()
}

var _ timesync.RequestCounter = (*Client)(nil)
