// Package fetch provides the rate-limited JSON HTTP client used by the
// polling paths.
package fetch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"
)

const (
	// DefaultTimeout is the per-request timeout.
	DefaultTimeout = 10 * time.Second

	// MaxResponseSize caps response bodies (10MB).
	MaxResponseSize = 10 * 1024 * 1024
)

// Client is a JSON GET client with a shared outbound rate limit.
// Polling many external APIs from one process needs a global budget so a
// misconfigured area cannot starve the others.
type Client struct {
	httpClient *http.Client
	limiter    *rate.Limiter
}

// Options configures a Client.
type Options struct {
	// Timeout is the per-request timeout. Default: DefaultTimeout.
	Timeout time.Duration

	// RatePerSecond limits outbound requests. Default: 5.
	RatePerSecond float64

	// Burst is the rate limiter burst size. Default: ceil(RatePerSecond).
	Burst int

	// Transport overrides the HTTP transport (used by tests).
	Transport http.RoundTripper
}

// NewClient creates a new fetch client.
func NewClient(opts Options) *Client {
	if opts.Timeout == 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.RatePerSecond == 0 {
		opts.RatePerSecond = 5
	}
	if opts.Burst == 0 {
		opts.Burst = int(opts.RatePerSecond) + 1
	}

	return &Client{
		httpClient: &http.Client{
			Timeout:   opts.Timeout,
			Transport: opts.Transport,
		},
		limiter: rate.NewLimiter(rate.Limit(opts.RatePerSecond), opts.Burst),
	}
}

// GetJSON performs a GET against rawURL with the given query parameters and
// decodes the JSON response body. Blocks on the rate limiter first.
func (c *Client) GetJSON(ctx context.Context, rawURL string, params map[string]string) (any, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid url %q: %w", rawURL, err)
	}
	if len(params) > 0 {
		q := u.Query()
		for k, v := range params {
			q.Set(k, v)
		}
		u.RawQuery = q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("unexpected status %d from %s", resp.StatusCode, u.Host)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var decoded any
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return decoded, nil
}
