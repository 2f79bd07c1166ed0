package auth

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startCallbackListener(t *testing.T) net.Listener {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	return listener
}

func TestRunListenerFlow(t *testing.T) {
	provider := newFakeProvider(t, withRotatedRefresh("granted-refresh"))
	output := &bytes.Buffer{}

	var pageBody string
	var authQuery url.Values
	a, _ := newTestAuthenticator(t, provider, func(o *Options) {
		o.UseLocalWebserver = true
		o.LoginOutput = output
		o.OpenBrowser = func(authURL string) error {
			parsed, err := url.Parse(authURL)
			if err != nil {
				return err
			}
			authQuery = parsed.Query()
			callback := authQuery.Get("redirect_uri") +
				"?state=" + url.QueryEscape(authQuery.Get("state")) +
				"&code=browser-code"
			resp, err := http.Get(callback)
			if err != nil {
				return err
			}
			defer func() {
				_ = resp.Body.Close()
			}()
			body, err := io.ReadAll(resp.Body)
			if err != nil {
				return err
			}
			pageBody = string(body)
			return nil
		}
	})

	listener := startCallbackListener(t)
	token, err := a.runListenerFlow(a.oauthContext(context.Background()), listener)
	require.NoError(t, err)
	assert.Equal(t, "minted-access", token.AccessToken)
	assert.Equal(t, "granted-refresh", token.RefreshToken)

	assert.Contains(t, output.String(), "Your browser has been opened to visit:")
	assert.Contains(t, pageBody, "You may close this window.")

	assert.Equal(t, "offline", authQuery.Get("access_type"))
	assert.Equal(t, "S256", authQuery.Get("code_challenge_method"))
	assert.NotEmpty(t, authQuery.Get("state"))

	code, verifier, redirect := provider.lastExchange()
	assert.Equal(t, "browser-code", code)
	assert.True(t, strings.HasPrefix(redirect, "http://127.0.0.1:"))
	assert.True(t, strings.HasSuffix(redirect, "/callback"))

	// The challenge in the authorize URL must match the verifier sent
	// during the exchange.
	sum := sha256.Sum256([]byte(verifier))
	assert.Equal(t, base64.RawURLEncoding.EncodeToString(sum[:]), authQuery.Get("code_challenge"))
}

func TestRunListenerFlowStateMismatch(t *testing.T) {
	provider := newFakeProvider(t)
	a, _ := newTestAuthenticator(t, provider, func(o *Options) {
		o.UseLocalWebserver = true
		o.LoginOutput = &bytes.Buffer{}
		o.OpenBrowser = func(authURL string) error {
			parsed, err := url.Parse(authURL)
			if err != nil {
				return err
			}
			resp, err := http.Get(parsed.Query().Get("redirect_uri") + "?state=forged&code=browser-code")
			if err != nil {
				return err
			}
			defer func() {
				_ = resp.Body.Close()
			}()
			if resp.StatusCode != http.StatusBadRequest {
				return fmt.Errorf("unexpected callback status %d", resp.StatusCode)
			}
			return nil
		}
	})

	listener := startCallbackListener(t)
	_, err := a.runListenerFlow(a.oauthContext(context.Background()), listener)
	require.Error(t, err)

	var authErr *AuthenticationError
	require.ErrorAs(t, err, &authErr)
	assert.Contains(t, err.Error(), "invalid state in callback")

	tokenCalls, _ := provider.calls()
	assert.Zero(t, tokenCalls)
}

func TestRunListenerFlowDenied(t *testing.T) {
	provider := newFakeProvider(t)
	a, _ := newTestAuthenticator(t, provider, func(o *Options) {
		o.UseLocalWebserver = true
		o.LoginOutput = &bytes.Buffer{}
		o.OpenBrowser = func(authURL string) error {
			parsed, err := url.Parse(authURL)
			if err != nil {
				return err
			}
			resp, err := http.Get(parsed.Query().Get("redirect_uri") + "?error=access_denied")
			if err != nil {
				return err
			}
			_ = resp.Body.Close()
			return nil
		}
	})

	listener := startCallbackListener(t)
	_, err := a.runListenerFlow(a.oauthContext(context.Background()), listener)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "authorization was denied: access_denied")
}

func TestRunManualFlowEmptyCode(t *testing.T) {
	provider := newFakeProvider(t)
	a, _ := newTestAuthenticator(t, provider, func(o *Options) {
		o.LoginInput = strings.NewReader("\n")
		o.LoginOutput = &bytes.Buffer{}
	})

	_, err := a.Login(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no verification code entered")
}

func TestRunManualFlowCanceled(t *testing.T) {
	provider := newFakeProvider(t)
	reader, writer := io.Pipe()
	defer func() {
		_ = writer.Close()
	}()
	a, _ := newTestAuthenticator(t, provider, func(o *Options) {
		o.LoginInput = reader
		o.LoginOutput = &bytes.Buffer{}
	})

	ctx, cancel := context.WithCancel(context.Background())
	timer := time.AfterFunc(20*time.Millisecond, cancel)
	defer timer.Stop()

	_, err := a.Login(ctx)
	require.Error(t, err)

	var authErr *AuthenticationError
	require.ErrorAs(t, err, &authErr)
	assert.Contains(t, err.Error(), "authentication was canceled")
}

func TestRunFlowFallsBackWhenPortBusy(t *testing.T) {
	provider := newFakeProvider(t, withRotatedRefresh("granted-refresh"))

	blocker := startCallbackListener(t)
	defer func() {
		_ = blocker.Close()
	}()
	port := blocker.Addr().(*net.TCPAddr).Port

	output := &bytes.Buffer{}
	a, _ := newTestAuthenticator(t, provider, func(o *Options) {
		o.UseLocalWebserver = true
		o.CallbackPort = port
		o.LoginInput = strings.NewReader("fallback-code\n")
		o.LoginOutput = output
	})

	token, err := a.Login(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "minted-access", token.Token)
	assert.Contains(t, output.String(), "Go to the following link in your browser:")
}

func TestOAuthConfigIssuerDiscovery(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/openid-configuration", func(w http.ResponseWriter, r *http.Request) {
		issuer := "http://" + r.Host
		w.Header().Set("Content-Type", "application/json")
		_, _ = fmt.Fprintf(w, `{"issuer":%q,"authorization_endpoint":%q,"token_endpoint":%q,"jwks_uri":%q}`,
			issuer, issuer+"/authorize", issuer+"/oauth/token", issuer+"/keys")
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	a, _ := newTestAuthenticator(t, newFakeProvider(t), func(o *Options) {
		o.Issuer = srv.URL
	})

	cfg, err := a.oauthConfig(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, srv.URL+"/authorize", cfg.Endpoint.AuthURL)
	assert.Equal(t, srv.URL+"/oauth/token", cfg.Endpoint.TokenURL)
}

func TestOAuthConfigIssuerUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	issuer := srv.URL
	srv.Close()

	a, _ := newTestAuthenticator(t, newFakeProvider(t), func(o *Options) {
		o.Issuer = issuer
	})

	_, err := a.oauthConfig(context.Background(), "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to discover issuer")
}

func TestNewPKCEPair(t *testing.T) {
	verifier, challenge, err := newPKCEPair()
	require.NoError(t, err)
	require.NotEmpty(t, verifier)

	sum := sha256.Sum256([]byte(verifier))
	assert.Equal(t, base64.RawURLEncoding.EncodeToString(sum[:]), challenge)
	assert.NotContains(t, challenge, "=")
}

func TestRandomToken(t *testing.T) {
	a, err := randomToken(24)
	require.NoError(t, err)
	b, err := randomToken(24)
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
	assert.Len(t, a, base64.RawURLEncoding.EncodedLen(24))
	assert.NotContains(t, a, "+")
	assert.NotContains(t, a, "/")
}
