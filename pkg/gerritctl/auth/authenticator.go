package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"
)

// Authenticator mints, caches and revokes access tokens for one host.
// All token operations are serialized on a single mutex so concurrent
// callers cannot trigger duplicate refreshes.
type Authenticator struct {
	opts Options
	key  string

	mu       sync.Mutex
	token    *AccessToken
	mintedAt time.Time

	external *RefreshCredential
}

// TokenRequest controls how Token obtains a usable access token.
type TokenRequest struct {
	// ForceRefresh skips cached tokens and mints a fresh one.
	ForceRefresh bool
	// AllowInteractive permits launching the login flow when no silent
	// path can produce a token.
	AllowInteractive bool
}

func New(opts Options) (*Authenticator, error) {
	if err := opts.setDefaults(); err != nil {
		return nil, err
	}
	a := &Authenticator{opts: opts}
	if opts.RefreshTokenFile != "" {
		cred, err := loadRefreshCredential(opts.RefreshTokenFile, opts.ClientID, opts.ClientSecret)
		if err != nil {
			return nil, err
		}
		a.external = cred
		a.key = CacheKey(opts.Host, cred.RefreshToken)
	} else {
		a.key = CacheKey(opts.Host, "")
	}
	return a, nil
}

// Key returns the token store key this authenticator caches under.
func (a *Authenticator) Key() string {
	return a.key
}

// Token returns a valid access token, minting one if needed. Without
// AllowInteractive it fails with LoginRequiredError once all silent
// paths are exhausted.
func (a *Authenticator) Token(ctx context.Context, req TokenRequest) (AccessToken, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.tokenLocked(ctx, req)
}

func (a *Authenticator) tokenLocked(ctx context.Context, req TokenRequest) (AccessToken, error) {
	now := a.opts.now()
	if !req.ForceRefresh && a.token != nil && a.token.Valid(now) && !a.reauthDue(*a.token, a.mintedAt, now) {
		return *a.token, nil
	}
	// A sibling process may have refreshed the entry since we last read it.
	entry, err := a.opts.Store.Load(a.key)
	if err != nil {
		return AccessToken{}, fmt.Errorf("failed to read token cache: %w", err)
	}
	if !req.ForceRefresh && entry != nil && entry.Token.Valid(now) && !a.reauthDue(entry.Token, entry.MintedAt, now) {
		a.token = &entry.Token
		a.mintedAt = entry.MintedAt
		return entry.Token, nil
	}
	return a.mintLocked(ctx, req, entry)
}

func (a *Authenticator) mintLocked(ctx context.Context, req TokenRequest, entry *Entry) (AccessToken, error) {
	switch {
	case a.external != nil:
		token, cred, err := a.refreshGrant(ctx, *a.external)
		if err != nil {
			return AccessToken{}, &AuthenticationError{Reason: "external refresh token was rejected", Err: err}
		}
		return token, a.persistLocked(cred, token)
	case a.opts.ServiceAccountFile != "":
		src, err := a.serviceAccountSource(ctx)
		if err != nil {
			return AccessToken{}, &AuthenticationError{Reason: "service account is unusable", Err: err}
		}
		minted, err := src.Token()
		if err != nil {
			return AccessToken{}, &AuthenticationError{Reason: "service account token request failed", Err: err}
		}
		token := AccessToken{Token: minted.AccessToken, ExpiresAt: minted.Expiry}
		return token, a.persistLocked(RefreshCredential{ClientID: a.opts.ClientID}, token)
	default:
		if entry != nil && entry.Credential.RefreshToken != "" {
			token, cred, err := a.refreshGrant(ctx, entry.Credential)
			if err == nil {
				return token, a.persistLocked(cred, token)
			}
			a.opts.Logger.Debugw("token refresh failed", "key", a.key, "error", err)
		}
		if !req.AllowInteractive {
			return AccessToken{}, NewLoginRequiredError(a.key)
		}
		return a.loginLocked(ctx)
	}
}

// Login always runs the interactive flow, replacing any cached
// credential for this host.
func (a *Authenticator) Login(ctx context.Context) (AccessToken, error) {
	if a.external != nil {
		return AccessToken{}, &AuthenticationError{Reason: "login is not allowed when an external refresh token is configured"}
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.loginLocked(ctx)
}

func (a *Authenticator) loginLocked(ctx context.Context) (AccessToken, error) {
	minted, err := a.runFlow(ctx)
	if err != nil {
		var authErr *AuthenticationError
		if errors.As(err, &authErr) {
			return AccessToken{}, err
		}
		return AccessToken{}, &AuthenticationError{Reason: "login flow failed", Err: err}
	}
	if minted.RefreshToken == "" {
		a.opts.Logger.Warnw("authorization response carried no refresh token; future runs will need to log in again", "key", a.key)
	}
	cred := RefreshCredential{
		ClientID:     a.opts.ClientID,
		ClientSecret: a.opts.ClientSecret,
		RefreshToken: minted.RefreshToken,
	}
	token := AccessToken{Token: minted.AccessToken, ExpiresAt: minted.Expiry}
	return token, a.persistLocked(cred, token)
}

// Logout revokes the cached refresh token on a best-effort basis and
// drops the cache entry. It reports whether credentials existed.
func (a *Authenticator) Logout(ctx context.Context) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	entry, err := a.opts.Store.Load(a.key)
	if err != nil {
		return false, fmt.Errorf("failed to read token cache: %w", err)
	}
	if entry != nil && entry.Credential.RefreshToken != "" {
		if err := a.revoke(ctx, entry.Credential.RefreshToken); err != nil {
			a.opts.Logger.Warnw("failed to revoke refresh token", "key", a.key, "error", err)
		}
	}
	a.token = nil
	a.mintedAt = time.Time{}
	return a.opts.Store.Delete(a.key)
}

// HasCachedCredentials reports whether the store holds an entry for this
// host. It never touches the network.
func (a *Authenticator) HasCachedCredentials() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	entry, err := a.opts.Store.Load(a.key)
	return err == nil && entry != nil
}

// TokenInfo asks the provider to describe the current access token.
func (a *Authenticator) TokenInfo(ctx context.Context) (map[string]any, error) {
	token, err := a.Token(ctx, TokenRequest{})
	if err != nil {
		return nil, err
	}
	form := url.Values{"access_token": {token.Token}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.opts.Endpoint.TokenInfoURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := a.opts.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("token info request failed: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("token info endpoint returned %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}
	var info map[string]any
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, fmt.Errorf("failed to parse token info: %w", err)
	}
	return info, nil
}

func (a *Authenticator) refreshGrant(ctx context.Context, cred RefreshCredential) (AccessToken, RefreshCredential, error) {
	cfg, err := a.oauthConfig(ctx, "")
	if err != nil {
		return AccessToken{}, cred, err
	}
	if cred.ClientID != "" {
		cfg.ClientID = cred.ClientID
		cfg.ClientSecret = cred.ClientSecret
	}
	src := cfg.TokenSource(a.oauthContext(ctx), &oauth2.Token{RefreshToken: cred.RefreshToken})
	minted, err := src.Token()
	if err != nil {
		return AccessToken{}, cred, fmt.Errorf("failed to refresh access token: %w", err)
	}
	if minted.RefreshToken != "" {
		cred.RefreshToken = minted.RefreshToken
	}
	return AccessToken{Token: minted.AccessToken, ExpiresAt: minted.Expiry}, cred, nil
}

func (a *Authenticator) persistLocked(cred RefreshCredential, token AccessToken) error {
	now := a.opts.now()
	a.token = &token
	a.mintedAt = now
	entry := &Entry{Credential: cred, Token: token, MintedAt: now}
	if err := a.opts.Store.Save(a.key, entry); err != nil {
		return fmt.Errorf("failed to write token cache: %w", err)
	}
	return nil
}

func (a *Authenticator) revoke(ctx context.Context, refreshToken string) error {
	form := url.Values{"token": {refreshToken}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.opts.Endpoint.RevokeURL, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := a.opts.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("revocation endpoint returned %s", resp.Status)
	}
	return nil
}

func (a *Authenticator) reauthDue(token AccessToken, mintedAt, now time.Time) bool {
	if a.opts.ReauthInterval <= 0 || !token.ExpiresAt.IsZero() || mintedAt.IsZero() {
		return false
	}
	return now.Sub(mintedAt) >= a.opts.ReauthInterval
}

func loadRefreshCredential(path, defaultID, defaultSecret string) (*RefreshCredential, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read refresh token file: %w", err)
	}
	var cred RefreshCredential
	if err := json.Unmarshal(data, &cred); err != nil {
		return nil, fmt.Errorf("failed to parse refresh token file: %w", err)
	}
	if cred.RefreshToken == "" {
		return nil, fmt.Errorf("refresh token file %s has no refresh_token", path)
	}
	if cred.ClientID == "" {
		cred.ClientID = defaultID
		cred.ClientSecret = defaultSecret
	}
	return &cred, nil
}
