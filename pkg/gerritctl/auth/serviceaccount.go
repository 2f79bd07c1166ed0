package auth

import (
	"context"
	"fmt"
	"os"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

// serviceAccountSource builds a token source that mints access tokens
// from a service account key via the signed-assertion grant.
func (a *Authenticator) serviceAccountSource(ctx context.Context) (oauth2.TokenSource, error) {
	data, err := os.ReadFile(a.opts.ServiceAccountFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read service account file: %w", err)
	}
	cfg, err := google.JWTConfigFromJSON(data, a.opts.Scopes...)
	if err != nil {
		return nil, fmt.Errorf("failed to parse service account file: %w", err)
	}
	return cfg.TokenSource(a.oauthContext(ctx)), nil
}
