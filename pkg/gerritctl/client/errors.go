package client

import (
	"fmt"
	"strings"
)

// ResponseError reports a response whose status was not accepted by the
// caller.
type ResponseError struct {
	StatusCode int
	Method     string
	Path       string
	Body       string
}

func (e *ResponseError) Error() string {
	body := strings.TrimSpace(e.Body)
	if len(body) > 200 {
		body = body[:200] + "..."
	}
	if body == "" {
		return fmt.Sprintf("%s %s: unexpected status %d", e.Method, e.Path, e.StatusCode)
	}
	return fmt.Sprintf("%s %s: unexpected status %d: %s", e.Method, e.Path, e.StatusCode, body)
}

// ProtocolError reports a response that violates the service's wire
// contract, such as a missing JSON guard prefix.
type ProtocolError struct {
	Reason string
}

func (e *ProtocolError) Error() string {
	return "protocol error: " + e.Reason
}
