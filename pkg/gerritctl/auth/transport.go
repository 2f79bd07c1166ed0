package auth

import (
	"io"
	"net/http"
)

// Transport wraps base so every outgoing request carries a bearer token
// for this authenticator. A 401 response forces one refresh and one
// retry; it never loops.
func (a *Authenticator) Transport(base http.RoundTripper) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	return &tokenTransport{auth: a, base: base}
}

type tokenTransport struct {
	auth *Authenticator
	base http.RoundTripper
}

func (t *tokenTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	token, err := t.auth.Token(req.Context(), TokenRequest{})
	if err != nil {
		return nil, err
	}
	resp, err := t.base.RoundTrip(t.withToken(req, token))
	if err != nil || resp.StatusCode != http.StatusUnauthorized {
		return resp, err
	}
	if req.Body != nil && req.GetBody == nil {
		// The body is already consumed and cannot be replayed.
		return resp, nil
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
	token, err = t.auth.Token(req.Context(), TokenRequest{ForceRefresh: true})
	if err != nil {
		return nil, err
	}
	retry := t.withToken(req, token)
	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, err
		}
		retry.Body = body
	}
	return t.base.RoundTrip(retry)
}

func (t *tokenTransport) withToken(req *http.Request, token AccessToken) *http.Request {
	out := req.Clone(req.Context())
	out.Header.Set("Authorization", "Bearer "+token.Token)
	return out
}
