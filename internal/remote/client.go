package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/oshokin/device-updater/internal/domain/update"
	"github.com/oshokin/device-updater/internal/logger"
	"github.com/oshokin/device-updater/internal/version"
)

const (
	// DefaultTimeout bounds metadata requests and response headers of streams.
	DefaultTimeout = 30 * time.Second
	// DefaultInitialInterval is the first backoff delay between attempts.
	DefaultInitialInterval = 500 * time.Millisecond

	// maxDocumentSize caps text, JSON and listing bodies.
	maxDocumentSize = 4 << 20
)

// HTTPClient is the part of *http.Client the remote client needs.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client performs GET requests with retries.
type Client struct {
	httpClient      HTTPClient
	timeout         time.Duration
	retries         int
	initialInterval time.Duration
	userAgent       string
}

// Option configures the client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(h HTTPClient) Option {
	return func(c *Client) {
		if h != nil {
			c.httpClient = h
		}
	}
}

// WithTimeout bounds metadata requests and the wait for response headers.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.timeout = timeout
		}
	}
}

// WithRetries sets the number of extra attempts after a failure.
func WithRetries(retries int) Option {
	return func(c *Client) {
		if retries >= 0 {
			c.retries = retries
		}
	}
}

// WithInitialInterval sets the first backoff delay.
func WithInitialInterval(interval time.Duration) Option {
	return func(c *Client) {
		if interval > 0 {
			c.initialInterval = interval
		}
	}
}

// RequestOption customizes a single request.
type RequestOption func(*http.Request)

// WithHeader sets a request header.
func WithHeader(key, value string) RequestOption {
	return func(req *http.Request) {
		req.Header.Set(key, value)
	}
}

// New creates a client. Without WithHTTPClient it uses a transport that
// bounds the wait for response headers but not the body transfer, so large
// artifacts can stream for as long as the context allows.
func New(opts ...Option) *Client {
	c := &Client{
		timeout:         DefaultTimeout,
		initialInterval: DefaultInitialInterval,
		userAgent:       version.UserAgent(),
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.httpClient == nil {
		transport := http.DefaultTransport.(*http.Transport).Clone() //nolint:forcetypeassert // Stdlib default.
		transport.ResponseHeaderTimeout = c.timeout
		c.httpClient = &http.Client{Transport: transport}
	}

	return c
}

// Open issues a GET and returns the response once a 2xx status arrives.
// The caller must close the body.
func (c *Client) Open(ctx context.Context, rawURL string, opts ...RequestOption) (*http.Response, error) {
	var response *http.Response

	operation := func() error {
		resp, err := c.do(ctx, rawURL, opts)
		if err != nil {
			return err
		}

		response = resp

		return nil
	}

	if err := c.retry(ctx, rawURL, operation); err != nil {
		return nil, err
	}

	return response, nil
}

// Text reads a small text document.
func (c *Client) Text(ctx context.Context, rawURL string) (string, error) {
	data, err := c.read(ctx, rawURL)
	if err != nil {
		return "", err
	}

	return string(data), nil
}

// JSON decodes a JSON document into v.
func (c *Client) JSON(ctx context.Context, rawURL string, v any, opts ...RequestOption) error {
	opts = append([]RequestOption{WithHeader("Accept", "application/json")}, opts...)

	data, err := c.read(ctx, rawURL, opts...)
	if err != nil {
		return err
	}

	if err = json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %s: %w: %w", rawURL, update.ErrParse, err)
	}

	return nil
}

func (c *Client) read(ctx context.Context, rawURL string, opts ...RequestOption) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	response, err := c.Open(ctx, rawURL, opts...)
	if err != nil {
		return nil, err
	}

	defer func() {
		_ = response.Body.Close()
	}()

	data, err := io.ReadAll(io.LimitReader(response.Body, maxDocumentSize))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w: %w", rawURL, update.ErrNetwork, err)
	}

	return data, nil
}

// do performs a single attempt. Errors that must not be retried are wrapped
// with backoff.Permanent.
func (c *Client) do(ctx context.Context, rawURL string, opts []RequestOption) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, http.NoBody)
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("build request: %w: %w", update.ErrNetwork, err))
	}

	req.Header.Set("User-Agent", c.userAgent)

	for _, opt := range opts {
		opt(req)
	}

	response, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w: %w", rawURL, update.ErrNetwork, err)
	}

	if response.StatusCode >= http.StatusOK && response.StatusCode < http.StatusMultipleChoices {
		return response, nil
	}

	_ = response.Body.Close()

	statusErr := fmt.Errorf("%s, %s: %w", rawURL, response.Status, update.ErrBadStatus)
	if retryableStatus(response.StatusCode) {
		return nil, statusErr
	}

	return nil, backoff.Permanent(statusErr)
}

func (c *Client) retry(ctx context.Context, rawURL string, operation backoff.Operation) error {
	exponential := backoff.NewExponentialBackOff()
	exponential.InitialInterval = c.initialInterval
	exponential.Reset()

	//nolint:gosec // Retries is validated to be non-negative.
	policy := backoff.WithContext(backoff.WithMaxRetries(exponential, uint64(c.retries)), ctx)

	err := backoff.RetryNotify(operation, policy, func(err error, wait time.Duration) {
		logger.WarnKV(ctx, "Request failed, retrying", "url", rawURL, "error", err, "wait", wait.String())
	})
	if err != nil && ctx.Err() != nil && !errors.Is(err, update.ErrNetwork) {
		return fmt.Errorf("get %s: %w: %w", rawURL, update.ErrNetwork, err)
	}

	return err
}

func retryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= http.StatusInternalServerError
}
