// Package http executes core.Request values over HTTP and hands the response
// body to the caller unread, so it can be decoded as a stream.
package http

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"resty.dev/v3"

	"restkit/pkg/core"
)

type Client struct {
	client       *resty.Client
	name         string
	bufferBodies bool
	logger       zerolog.Logger
	mu           sync.RWMutex
	closed       bool
}

type Config struct {
	// Name identifies the API in errors.
	Name         string            `validate:"required"`
	BaseURL      string            `validate:"required,url"`
	Timeout      time.Duration     `validate:"min=1ms"`
	MaxRetries   int               `validate:"min=0"`
	RetryWaitMin time.Duration     `validate:"min=0"`
	RetryWaitMax time.Duration     `validate:"min=0"`
	Proxy        string            `validate:"omitempty,url"`
	Headers      map[string]string `validate:"omitempty"`
	// BufferBodies reads every body into memory so it can be re-read.
	BufferBodies bool
}

// FromConfig derives the transport settings of a client configuration.
func FromConfig(cfg *core.Config, baseURL string) *Config {
	return &Config{
		Name:         cfg.Name,
		BaseURL:      baseURL,
		Timeout:      cfg.Timeout,
		MaxRetries:   cfg.MaxRetries,
		RetryWaitMin: cfg.RetryWaitMin,
		RetryWaitMax: cfg.RetryWaitMax,
		Proxy:        cfg.Proxy,
		BufferBodies: cfg.BufferResponseBodies,
	}
}

// Response is an HTTP response whose body has not been read yet. The caller
// must close Body.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       io.ReadCloser
	// Elapsed is the time from sending the request until the headers arrived.
	Elapsed time.Duration
}

// IsSuccess returns true if the response status code indicates success (2xx).
func (r *Response) IsSuccess() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// ReadBody reads and closes the body.
func (r *Response) ReadBody() ([]byte, error) {
	defer r.Body.Close()
	return io.ReadAll(r.Body)
}

// bufferedBody keeps the Seeker of the underlying reader visible.
type bufferedBody struct {
	*bytes.Reader
}

func (bufferedBody) Close() error { return nil }

type Option func(*Client)

func WithLogger(logger zerolog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

var validate = validator.New()

func NewClient(config *Config, opts ...Option) (*Client, error) {
	if err := validate.Struct(config); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	c := &Client{
		name:         config.Name,
		bufferBodies: config.BufferBodies,
		logger:       zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}

	client := resty.New()
	client.SetBaseURL(config.BaseURL)
	client.SetTimeout(config.Timeout)
	client.SetRetryCount(config.MaxRetries)
	client.SetRetryWaitTime(config.RetryWaitMin)
	client.SetRetryMaxWaitTime(config.RetryWaitMax)
	if config.Proxy != "" {
		client.SetProxy(config.Proxy)
	}
	client.AddContentTypeEncoder("application/json", func(w io.Writer, v any) error {
		data, err := sonic.Marshal(v)
		if err != nil {
			return err
		}
		_, err = w.Write(data)
		return err
	})

	for k, v := range config.Headers {
		client.SetHeader(k, v)
	}

	logger := c.logger
	client.AddRequestMiddleware(func(_ *resty.Client, req *resty.Request) error {
		logger.Debug().
			Str("method", req.Method).
			Str("url", req.URL).
			Msg("http request")
		return nil
	})

	client.AddResponseMiddleware(func(_ *resty.Client, resp *resty.Response) error {
		logger.Debug().
			Str("method", resp.Request.Method).
			Str("url", resp.Request.URL).
			Int("status", resp.StatusCode()).
			Dur("duration", resp.Duration()).
			Msg("http response")
		return nil
	})

	c.client = client
	return c, nil
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.client.Close()
}

// Execute sends req. Transport failures are returned as *core.APIError of
// type Network or Timeout; a cancelled ctx is returned as is. HTTP error
// statuses are not errors here.
func (c *Client) Execute(ctx context.Context, req *core.Request) (*Response, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return nil, core.ErrClientClosed
	}

	r := c.client.R().
		SetContext(ctx).
		SetDoNotParseResponse(true)

	for k, v := range req.Headers {
		r.SetHeader(k, v)
	}
	if len(req.Query) > 0 {
		r.SetQueryParams(req.Query.Strings())
	}
	if req.Body != nil {
		r.SetHeader("Content-Type", "application/json")
		r.SetBody(req.Body)
	}

	start := time.Now()
	resp, err := r.Execute(req.Method, req.Path)
	elapsed := time.Since(start)
	if err != nil {
		if resp != nil && resp.Body != nil {
			resp.Body.Close()
		}
		c.logger.Error().Err(err).
			Str("method", req.Method).
			Str("path", req.Path).
			Msg("http request failed")
		return nil, c.transportError(ctx, err)
	}

	out := &Response{
		StatusCode: resp.StatusCode(),
		Header:     resp.Header(),
		Body:       resp.Body,
		Elapsed:    elapsed,
	}
	if out.Body == nil {
		out.Body = http.NoBody
	}

	if c.bufferBodies {
		data, err := out.ReadBody()
		if err != nil {
			return nil, c.transportError(ctx, err)
		}
		out.Body = bufferedBody{bytes.NewReader(data)}
	}

	return out, nil
}

func (c *Client) transportError(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); errors.Is(ctxErr, context.Canceled) {
		return fmt.Errorf("http request: %w", ctxErr)
	}

	errType := core.ErrorTypeNetwork
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		errType = core.ErrorTypeTimeout
	}

	apiErr := core.NewAPIError(c.name, errType, 0, err.Error())
	apiErr.RawError = err
	if errType == core.ErrorTypeTimeout {
		return apiErr.WithCode(core.ErrCodeTimeout)
	}
	return apiErr.WithCode(core.ErrCodeNetwork)
}
