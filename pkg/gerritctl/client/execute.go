package client

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"

	"github.com/goreview/gerritctl/pkg/gerritctl/auth"
)

// jsonGuardPrefix is the line the service prepends to every JSON body to
// defeat cross-site script inclusion. Responses without it are not
// parsed.
const jsonGuardPrefix = ")]}'"

var realmPattern = regexp.MustCompile(`realm="([^"]*)"`)

// Response is a finished HTTP exchange with the body fully read.
type Response struct {
	StatusCode int
	Body       []byte
}

type callOptions struct {
	expect    map[int]bool
	ignore404 bool
}

type CallOption func(*callOptions)

// ExpectStatus replaces the set of accepted response statuses (the
// default accepts only 200).
func ExpectStatus(codes ...int) CallOption {
	return func(o *callOptions) {
		o.expect = make(map[int]bool, len(codes))
		for _, code := range codes {
			o.expect[code] = true
		}
	}
}

// Ignore404 turns a 404 response into an empty result instead of an
// error.
func Ignore404() CallOption {
	return func(o *callOptions) {
		o.ignore404 = true
	}
}

// Do sends the request and reads the whole response. Server errors are
// retried with doubling backoff on a fresh connection until the attempt
// budget runs out; an authentication challenge fails immediately.
func (c *Client) Do(req *http.Request, opts ...CallOption) (*Response, error) {
	options := callOptions{expect: map[int]bool{http.StatusOK: true}}
	for _, opt := range opts {
		opt(&options)
	}
	requestID := req.Header.Get(requestIDHeader)
	backoff := c.retryBase
	var status int
	var body []byte
	for attempt := 1; ; attempt++ {
		if c.limiter != nil {
			if err := c.limiter.Wait(req.Context()); err != nil {
				return nil, err
			}
		}
		if attempt > 1 {
			if req.GetBody != nil {
				replay, err := req.GetBody()
				if err != nil {
					return nil, err
				}
				req.Body = replay
			}
			// Retry on a fresh connection; the previous one may be the
			// reason the request failed.
			c.http.CloseIdleConnections()
		}
		resp, err := c.http.Do(req)
		if err != nil {
			return nil, fmt.Errorf("request failed: %w", err)
		}
		body, err = io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to read response: %w", err)
		}
		status = resp.StatusCode
		if challenged, realm := isAuthChallenge(resp); challenged {
			reason := fmt.Sprintf("credentials for %s were rejected", c.host)
			if realm != "" {
				reason = fmt.Sprintf("%s (realm %q)", reason, realm)
			}
			return nil, &auth.AuthenticationError{Reason: reason}
		}
		if status < http.StatusInternalServerError || attempt >= c.maxAttempts {
			break
		}
		c.log.Debugw("server error, retrying",
			"status", status,
			"attempt", attempt,
			"backoff", backoff.String(),
			"requestID", requestID,
		)
		if err := c.sleep(req.Context(), backoff); err != nil {
			return nil, err
		}
		backoff *= 2
	}
	if options.ignore404 && status == http.StatusNotFound {
		return &Response{StatusCode: status}, nil
	}
	if !options.expect[status] {
		return nil, &ResponseError{StatusCode: status, Method: req.Method, Path: req.URL.Path, Body: string(body)}
	}
	return &Response{StatusCode: status, Body: body}, nil
}

// DoJSON sends the request and decodes the guarded JSON body into out.
// Empty bodies (404 with Ignore404, 204, or a bare guard line) leave out
// untouched.
func (c *Client) DoJSON(req *http.Request, out any, opts ...CallOption) error {
	resp, err := c.Do(req, opts...)
	if err != nil {
		return err
	}
	if len(resp.Body) == 0 {
		return nil
	}
	payload, err := stripJSONGuard(resp.Body)
	if err != nil {
		return err
	}
	if out == nil || len(bytes.TrimSpace(payload)) == 0 {
		return nil
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func isAuthChallenge(resp *http.Response) (bool, string) {
	challenge := resp.Header.Get("WWW-Authenticate")
	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return true, extractRealm(challenge)
	case resp.StatusCode >= 300 && resp.StatusCode < 400 && challenge != "":
		return true, extractRealm(challenge)
	default:
		return false, ""
	}
}

func extractRealm(header string) string {
	match := realmPattern.FindStringSubmatch(header)
	if match == nil {
		return ""
	}
	return match[1]
}

func stripJSONGuard(body []byte) ([]byte, error) {
	line := body
	var rest []byte
	if i := bytes.IndexByte(body, '\n'); i >= 0 {
		line, rest = body[:i], body[i+1:]
	}
	if strings.TrimSpace(string(line)) != jsonGuardPrefix {
		return nil, &ProtocolError{Reason: fmt.Sprintf("response does not begin with %q", jsonGuardPrefix)}
	}
	return rest, nil
}
