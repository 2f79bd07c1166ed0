package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/goreview/gerritctl/pkg/gerritctl/credentials"
)

const requestIDHeader = "X-Request-Id"

// Client talks to one code review host. Requests are authenticated
// through a credentials.Source and read back with bounded retries.
type Client struct {
	scheme    string
	host      string
	creds     credentials.Source
	http      *http.Client
	log       *zap.SugaredLogger
	limiter   *rate.Limiter
	userAgent string

	maxAttempts int
	retryBase   time.Duration
	timeout     time.Duration
	sleep       func(context.Context, time.Duration) error
}

type Option func(*Client) error

// New builds a client for host. A bare host name is reached over https;
// a host with an explicit scheme (as httptest servers have) is used
// as given.
func New(host string, opts ...Option) (*Client, error) {
	if host == "" {
		return nil, errors.New("host is required")
	}
	c := &Client{
		scheme:      "https",
		host:        host,
		log:         zap.NewNop().Sugar(),
		maxAttempts: 5,
		retryBase:   500 * time.Millisecond,
	}
	if strings.Contains(host, "://") {
		parsed, err := url.Parse(host)
		if err != nil {
			return nil, fmt.Errorf("invalid host: %w", err)
		}
		if parsed.Host == "" {
			return nil, fmt.Errorf("invalid host: %s", host)
		}
		c.scheme = parsed.Scheme
		c.host = parsed.Host
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	if c.http == nil {
		timeout := c.timeout
		if timeout == 0 {
			timeout = 30 * time.Second
		}
		c.http = &http.Client{
			Timeout: timeout,
			// Redirects surface to the retry loop so a login redirect
			// can be recognized as an auth challenge.
			CheckRedirect: func(_ *http.Request, _ []*http.Request) error {
				return http.ErrUseLastResponse
			},
		}
	}
	if c.sleep == nil {
		c.sleep = sleepContext
	}
	return c, nil
}

func WithCredentials(src credentials.Source) Option {
	return func(c *Client) error {
		c.creds = src
		return nil
	}
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) error {
		if hc == nil {
			return errors.New("http client is nil")
		}
		c.http = hc
		return nil
	}
}

func WithLogger(logger *zap.SugaredLogger) Option {
	return func(c *Client) error {
		if logger == nil {
			return errors.New("logger is nil")
		}
		c.log = logger
		return nil
	}
}

func WithUserAgent(userAgent string) Option {
	return func(c *Client) error {
		c.userAgent = userAgent
		return nil
	}
}

// WithTimeout sets the per-request timeout of the default HTTP client.
// It has no effect when a custom client is supplied.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) error {
		if d < 0 {
			return errors.New("timeout must not be negative")
		}
		c.timeout = d
		return nil
	}
}

// WithRetry overrides the attempt budget and the initial backoff delay.
func WithRetry(maxAttempts int, base time.Duration) Option {
	return func(c *Client) error {
		if maxAttempts < 1 {
			return errors.New("max attempts must be at least 1")
		}
		c.maxAttempts = maxAttempts
		if base > 0 {
			c.retryBase = base
		}
		return nil
	}
}

// WithRateLimit caps outbound request attempts at rps with the given
// burst.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *Client) error {
		if rps <= 0 || burst < 1 {
			return errors.New("invalid rate limit")
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
		return nil
	}
}

// Host returns the host this client talks to.
func (c *Client) Host() string {
	return c.host
}

// BaseURL returns the root URL of the host.
func (c *Client) BaseURL() string {
	return fmt.Sprintf("%s://%s/", c.scheme, c.host)
}

// ChangePageURL returns the web UI URL for a change number.
func (c *Client) ChangePageURL(number int) string {
	return fmt.Sprintf("%s://%s/#/c/%d/", c.scheme, c.host, number)
}

// NewRequest builds an authenticated request. The credential header is
// resolved from the configured source unless the caller supplied an
// Authorization header; authenticated requests get the /a path prefix.
func (c *Client) NewRequest(ctx context.Context, method, path string, query url.Values, headers http.Header, body any) (*http.Request, error) {
	authHeader := headers.Get("Authorization")
	if authHeader == "" && c.creds != nil {
		bare := c.host
		if i := strings.IndexByte(bare, ':'); i >= 0 {
			bare = bare[:i]
		}
		resolved, err := c.creds.AuthHeader(ctx, bare)
		if err != nil {
			return nil, err
		}
		authHeader = resolved
	}

	cleaned := "/" + strings.TrimPrefix(path, "/")
	if authHeader != "" && !strings.HasPrefix(cleaned, "/a/") {
		cleaned = "/a" + cleaned
	}
	target := url.URL{Scheme: c.scheme, Host: c.host, Path: cleaned}
	if len(query) > 0 {
		target.RawQuery = query.Encode()
	}

	var payload *bytes.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		payload = bytes.NewReader(encoded)
	}

	var req *http.Request
	var err error
	if payload != nil {
		req, err = http.NewRequestWithContext(ctx, method, target.String(), payload)
	} else {
		req, err = http.NewRequestWithContext(ctx, method, target.String(), nil)
	}
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set(requestIDHeader, uuid.NewString())
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}
	for key, values := range headers {
		req.Header.Del(key)
		for _, value := range values {
			req.Header.Add(key, value)
		}
	}
	c.log.Debugw("created request",
		"method", method,
		"path", cleaned,
		"authenticated", authHeader != "",
		"requestID", req.Header.Get(requestIDHeader),
	)
	return req, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
