// Package client is the rate limited, retrying HTTP client shared by the
// service adapters.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/wekeepgrowing/timesync/internal/domain/service"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

type Config struct {
	// Service names the remote side in errors and logs.
	Service string
	BaseURL string
	// Authorize sets credentials on every outgoing request.
	Authorize func(req *http.Request)

	Timeout    time.Duration
	MaxRetries int
	RateLimit  float64
	RateBurst  int
	// RateLimitBackoff is the fixed wait after a 429 response.
	RateLimitBackoff time.Duration

	Transport http.RoundTripper
	Logger    *zap.Logger
}

// Client is safe for concurrent use.
type Client struct {
	config      Config
	httpClient  *http.Client
	rateLimiter *rate.Limiter
	logger      *zap.Logger
}

func New(config Config) *Client {
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	if config.MaxRetries < 0 {
		config.MaxRetries = 0
	}
	if config.RateLimit <= 0 {
		config.RateLimit = 5
	}
	if config.RateBurst <= 0 {
		config.RateBurst = 5
	}
	if config.RateLimitBackoff <= 0 {
		config.RateLimitBackoff = time.Minute
	}
	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Client{
		config: config,
		httpClient: &http.Client{
			Timeout:   config.Timeout,
			Transport: config.Transport,
		},
		rateLimiter: rate.NewLimiter(rate.Limit(config.RateLimit), config.RateBurst),
		logger:      logger.With(zap.String("service", config.Service)),
	}
}

// Request describes one call relative to the base URL.
type Request struct {
	Method string
	Path   string
	Query  url.Values
	Body   interface{}
}

type Response struct {
	StatusCode int
	Body       []byte
}

// JSON unmarshals the response body into target.
func (r *Response) JSON(target interface{}) error {
	if target == nil || len(r.Body) == 0 {
		return nil
	}
	return json.Unmarshal(r.Body, target)
}

// Do executes the request. 429 responses wait the fixed backoff, 5xx
// responses back off exponentially, both up to MaxRetries times. A POST
// that failed with 5xx may have been applied, so it is not retried.
// Non-2xx results are returned as *service.Error.
func (c *Client) Do(ctx context.Context, req Request) (*Response, error) {
	var payload []byte
	if req.Body != nil {
		data, err := json.Marshal(req.Body)
		if err != nil {
			return nil, fmt.Errorf("marshal body: %w", err)
		}
		payload = data
	}

	var lastErr error
	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if err := c.rateLimiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter: %w", err)
		}

		resp, err := c.doOnce(ctx, req, payload)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		wait, retryable := c.backoff(req.Method, err, attempt)
		if !retryable || attempt == c.config.MaxRetries {
			break
		}

		c.logger.Warn("Retrying request",
			zap.String("method", req.Method),
			zap.String("path", req.Path),
			zap.Int("attempt", attempt+1),
			zap.Duration("wait", wait),
			zap.Error(err))

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}
	}

	return nil, lastErr
}

func (c *Client) backoff(method string, err error, attempt int) (time.Duration, bool) {
	svcErr, ok := err.(*service.Error)
	if !ok {
		return 0, false
	}
	switch {
	case svcErr.StatusCode == http.StatusTooManyRequests:
		return c.config.RateLimitBackoff, true
	case svcErr.StatusCode >= 500 && method != http.MethodPost:
		return time.Duration(1<<uint(attempt)) * 100 * time.Millisecond, true
	}
	return 0, false
}

func (c *Client) doOnce(ctx context.Context, req Request, payload []byte) (*Response, error) {
	fullURL := strings.TrimSuffix(c.config.BaseURL, "/") + "/" + strings.TrimPrefix(req.Path, "/")
	if len(req.Query) > 0 {
		fullURL += "?" + req.Query.Encode()
	}

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, fullURL, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")
	if payload != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if c.config.Authorize != nil {
		c.config.Authorize(httpReq)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%s request: %w", c.config.Service, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	if resp.StatusCode >= 400 {
		return nil, &service.Error{
			Service:    c.config.Service,
			StatusCode: resp.StatusCode,
			Message:    truncate(strings.TrimSpace(string(respBody)), 500),
		}
	}

	return &Response{StatusCode: resp.StatusCode, Body: respBody}, nil
}

func (c *Client) Get(ctx context.Context, path string, query url.Values, target interface{}) error {
	resp, err := c.Do(ctx, Request{Method: http.MethodGet, Path: path, Query: query})
	if err != nil {
		return err
	}
	return resp.JSON(target)
}

func (c *Client) Post(ctx context.Context, path string, body, target interface{}) error {
	resp, err := c.Do(ctx, Request{Method: http.MethodPost, Path: path, Body: body})
	if err != nil {
		return err
	}
	return resp.JSON(target)
}

func (c *Client) Put(ctx context.Context, path string, body, target interface{}) error {
	resp, err := c.Do(ctx, Request{Method: http.MethodPut, Path: path, Body: body})
	if err != nil {
		return err
	}
	return resp.JSON(target)
}

func (c *Client) Delete(ctx context.Context, path string) error {
	_, err := c.Do(ctx, Request{Method: http.MethodDelete, Path: path})
	return err
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
