package auth

import (
	"crypto/sha256"
	"fmt"
	"strings"
	"time"
)

// expirySkew is subtracted from the reported lifetime so a token is
// refreshed before the provider would actually reject it.
const expirySkew = 300 * time.Second

// AccessToken is a short-lived bearer token. A zero ExpiresAt means the
// provider did not report an expiry.
type AccessToken struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at,omitempty"`
}

// Valid reports whether the token can still be used at the given time,
// keeping the refresh skew in reserve.
func (t AccessToken) Valid(now time.Time) bool {
	if t.Token == "" {
		return false
	}
	if t.ExpiresAt.IsZero() {
		return true
	}
	return now.Add(expirySkew).Before(t.ExpiresAt)
}

// RefreshCredential is the long-lived grant used to mint access tokens.
type RefreshCredential struct {
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret,omitempty"`
	RefreshToken string `json:"refresh_token"`
}

// CacheKey derives the token store key for a host. Externally supplied
// refresh tokens get a hash suffix so different tokens for the same host
// do not collide.
func CacheKey(host, externalRefreshToken string) string {
	key := strings.ToLower(strings.TrimSpace(host))
	if externalRefreshToken != "" {
		sum := sha256.Sum256([]byte(externalRefreshToken))
		key = fmt.Sprintf("%s:refresh_tok:%x", key, sum[:8])
	}
	return key
}
