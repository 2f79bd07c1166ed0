package auth

import (
	"bufio"
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/exec"
	"runtime"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
)

const oobRedirectURL = "urn:ietf:wg:oauth:2.0:oob"

const flowCompletePage = `<html><head><title>Sign in complete</title></head>` +
	`<body>The authentication flow has completed. You may close this window.</body></html>`

func (a *Authenticator) oauthConfig(ctx context.Context, redirectURL string) (*oauth2.Config, error) {
	endpoint := oauth2.Endpoint{
		AuthURL:  a.opts.Endpoint.AuthURL,
		TokenURL: a.opts.Endpoint.TokenURL,
	}
	if a.opts.Issuer != "" {
		ctx = oidc.ClientContext(ctx, a.opts.HTTPClient)
		provider, err := oidc.NewProvider(ctx, a.opts.Issuer)
		if err != nil {
			return nil, fmt.Errorf("failed to discover issuer %s: %w", a.opts.Issuer, err)
		}
		endpoint = provider.Endpoint()
	}
	return &oauth2.Config{
		ClientID:     a.opts.ClientID,
		ClientSecret: a.opts.ClientSecret,
		Endpoint:     endpoint,
		RedirectURL:  redirectURL,
		Scopes:       a.opts.Scopes,
	}, nil
}

// oauthContext routes all oauth2 traffic through the configured HTTP
// client.
func (a *Authenticator) oauthContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, a.opts.HTTPClient)
}

// runFlow walks the user through the authorization-code grant. It prefers
// a loopback listener on the configured port and falls back to manual
// code entry when the listener cannot bind or is disabled.
func (a *Authenticator) runFlow(ctx context.Context) (*oauth2.Token, error) {
	ctx = a.oauthContext(ctx)
	if !a.opts.UseLocalWebserver {
		return a.runManualFlow(ctx)
	}
	listener, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", a.opts.CallbackPort))
	if err != nil {
		a.opts.Logger.Debugw("callback listener unavailable, using manual code entry",
			"port", a.opts.CallbackPort, "error", err)
		return a.runManualFlow(ctx)
	}
	defer func() {
		_ = listener.Close()
	}()
	return a.runListenerFlow(ctx, listener)
}

func (a *Authenticator) runListenerFlow(ctx context.Context, listener net.Listener) (*oauth2.Token, error) {
	redirectURL := fmt.Sprintf("http://%s/callback", listener.Addr().String())
	oauthCfg, err := a.oauthConfig(ctx, redirectURL)
	if err != nil {
		return nil, err
	}
	codeVerifier, codeChallenge, err := newPKCEPair()
	if err != nil {
		return nil, err
	}
	state, err := randomToken(24)
	if err != nil {
		return nil, err
	}
	authURL := oauthCfg.AuthCodeURL(state,
		oauth2.AccessTypeOffline,
		oauth2.SetAuthURLParam("code_challenge", codeChallenge),
		oauth2.SetAuthURLParam("code_challenge_method", "S256"),
	)

	resultCh := make(chan *oauth2.Token, 1)
	errCh := make(chan error, 1)

	server := &http.Server{
		Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/callback" {
				http.NotFound(w, r)
				return
			}
			if errParam := r.URL.Query().Get("error"); errParam != "" {
				errCh <- &AuthenticationError{Reason: fmt.Sprintf("authorization was denied: %s", errParam)}
				http.Error(w, "authorization denied", http.StatusBadRequest)
				return
			}
			if r.URL.Query().Get("state") != state {
				errCh <- &AuthenticationError{Reason: "invalid state in callback"}
				http.Error(w, "invalid state", http.StatusBadRequest)
				return
			}
			code := r.URL.Query().Get("code")
			if code == "" {
				errCh <- &AuthenticationError{Reason: "missing code in callback"}
				http.Error(w, "missing code", http.StatusBadRequest)
				return
			}
			token, err := oauthCfg.Exchange(ctx, code, oauth2.SetAuthURLParam("code_verifier", codeVerifier))
			if err != nil {
				errCh <- fmt.Errorf("token exchange failed: %w", err)
				http.Error(w, "token exchange failed", http.StatusInternalServerError)
				return
			}
			w.Header().Set("Content-Type", "text/html")
			_, _ = fmt.Fprint(w, flowCompletePage)
			resultCh <- token
		}),
	}

	go func() {
		_ = server.Serve(listener)
	}()
	defer func() {
		_ = server.Close()
	}()

	_, _ = fmt.Fprintf(a.opts.LoginOutput, "Your browser has been opened to visit:\n\n  %s\n\n", authURL)
	if err := a.opts.OpenBrowser(authURL); err != nil {
		a.opts.Logger.Debugw("failed to open browser", "error", err)
	}

	select {
	case <-ctx.Done():
		return nil, &AuthenticationError{Reason: "authentication was canceled", Err: ctx.Err()}
	case err := <-errCh:
		return nil, err
	case token := <-resultCh:
		return token, nil
	}
}

func (a *Authenticator) runManualFlow(ctx context.Context) (*oauth2.Token, error) {
	oauthCfg, err := a.oauthConfig(ctx, oobRedirectURL)
	if err != nil {
		return nil, err
	}
	codeVerifier, codeChallenge, err := newPKCEPair()
	if err != nil {
		return nil, err
	}
	authURL := oauthCfg.AuthCodeURL("",
		oauth2.AccessTypeOffline,
		oauth2.SetAuthURLParam("code_challenge", codeChallenge),
		oauth2.SetAuthURLParam("code_challenge_method", "S256"),
	)
	_, _ = fmt.Fprintf(a.opts.LoginOutput, "Go to the following link in your browser:\n\n  %s\n\n", authURL)
	_, _ = fmt.Fprint(a.opts.LoginOutput, "Enter verification code: ")

	codeCh := make(chan string, 1)
	errCh := make(chan error, 1)
	go func() {
		line, err := bufio.NewReader(a.opts.LoginInput).ReadString('\n')
		if err != nil && line == "" {
			errCh <- fmt.Errorf("failed to read verification code: %w", err)
			return
		}
		codeCh <- strings.TrimSpace(line)
	}()

	var code string
	select {
	case <-ctx.Done():
		return nil, &AuthenticationError{Reason: "authentication was canceled", Err: ctx.Err()}
	case err := <-errCh:
		return nil, err
	case code = <-codeCh:
	}
	if code == "" {
		return nil, &AuthenticationError{Reason: "no verification code entered"}
	}
	token, err := oauthCfg.Exchange(ctx, code, oauth2.SetAuthURLParam("code_verifier", codeVerifier))
	if err != nil {
		return nil, fmt.Errorf("token exchange failed: %w", err)
	}
	return token, nil
}

func newPKCEPair() (string, string, error) {
	verifier, err := randomToken(32)
	if err != nil {
		return "", "", err
	}
	sum := sha256.Sum256([]byte(verifier))
	challenge := base64.RawURLEncoding.EncodeToString(sum[:])
	return verifier, challenge, nil
}

func randomToken(length int) (string, error) {
	bytes := make([]byte, length)
	if _, err := rand.Read(bytes); err != nil {
		return "", fmt.Errorf("failed to generate random token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(bytes), nil
}

func openBrowser(url string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	default:
		cmd = exec.Command("xdg-open", url)
	}
	if cmd == nil {
		return errors.New("no browser command available")
	}
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Start()
}
