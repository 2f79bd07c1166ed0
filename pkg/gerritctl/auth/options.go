package auth

import (
	"errors"
	"io"
	"net/http"
	"os"
	"time"

	"go.uber.org/zap"
)

// Built-in OAuth client for the installed-app flow. The secret is not
// confidential for this grant type; per-host configs may override both.
const (
	defaultClientID     = "581937404314-gerritctl.apps.googleusercontent.com"
	defaultClientSecret = "Kp8dQLkqWHjyF0c2RmVt39Ax"
)

const defaultCallbackPort = 8090

var defaultScopes = []string{"https://www.googleapis.com/auth/userinfo.email"}

// Endpoint holds the identity provider URLs used outside of issuer
// discovery.
type Endpoint struct {
	AuthURL      string
	TokenURL     string
	RevokeURL    string
	TokenInfoURL string
}

func defaultEndpoint() Endpoint {
	return Endpoint{
		AuthURL:      "https://accounts.google.com/o/oauth2/auth",
		TokenURL:     "https://accounts.google.com/o/oauth2/token",
		RevokeURL:    "https://accounts.google.com/o/oauth2/revoke",
		TokenInfoURL: "https://www.googleapis.com/oauth2/v2/tokeninfo",
	}
}

// Options configures an Authenticator. Host is required; everything else
// has a usable default.
type Options struct {
	Host         string
	ClientID     string
	ClientSecret string
	Scopes       []string

	// Issuer enables OIDC discovery for the authorize and token URLs.
	Issuer   string
	Endpoint Endpoint

	UseLocalWebserver bool
	CallbackPort      int

	// RefreshTokenFile points at an externally managed refresh token.
	// When set, interactive login is disabled for this authenticator.
	RefreshTokenFile string

	// ServiceAccountFile points at a service account key used to mint
	// tokens with a signed assertion instead of a refresh grant.
	ServiceAccountFile string

	// ReauthInterval, when positive, treats tokens without a reported
	// expiry as stale once the interval since minting has elapsed.
	ReauthInterval time.Duration

	Store      TokenStore
	Logger     *zap.SugaredLogger
	HTTPClient *http.Client

	// LoginInput and LoginOutput carry the manual code-entry dialogue;
	// they default to the process stdin and stdout.
	LoginInput  io.Reader
	LoginOutput io.Writer

	// OpenBrowser launches the system browser for the authorize URL.
	OpenBrowser func(url string) error

	now func() time.Time
}

func (o *Options) setDefaults() error {
	if o.Host == "" {
		return errors.New("host is required")
	}
	if o.RefreshTokenFile != "" && o.ServiceAccountFile != "" {
		return errors.New("refresh token file and service account file are mutually exclusive")
	}
	if o.ClientID == "" {
		o.ClientID = defaultClientID
		if o.ClientSecret == "" {
			o.ClientSecret = defaultClientSecret
		}
	}
	if len(o.Scopes) == 0 {
		o.Scopes = defaultScopes
	}
	if o.Endpoint.AuthURL == "" {
		o.Endpoint.AuthURL = defaultEndpoint().AuthURL
	}
	if o.Endpoint.TokenURL == "" {
		o.Endpoint.TokenURL = defaultEndpoint().TokenURL
	}
	if o.Endpoint.RevokeURL == "" {
		o.Endpoint.RevokeURL = defaultEndpoint().RevokeURL
	}
	if o.Endpoint.TokenInfoURL == "" {
		o.Endpoint.TokenInfoURL = defaultEndpoint().TokenInfoURL
	}
	if o.CallbackPort == 0 {
		o.CallbackPort = defaultCallbackPort
	}
	if o.Store == nil {
		return errors.New("token store is required")
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop().Sugar()
	}
	if o.HTTPClient == nil {
		o.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if o.LoginInput == nil {
		o.LoginInput = os.Stdin
	}
	if o.LoginOutput == nil {
		o.LoginOutput = os.Stdout
	}
	if o.OpenBrowser == nil {
		o.OpenBrowser = openBrowser
	}
	if o.now == nil {
		o.now = time.Now
	}
	return nil
}
