package credentials

import (
	"context"

	"go.uber.org/zap"

	"github.com/goreview/gerritctl/pkg/gerritctl/auth"
)

// Source supplies the Authorization header value for a host. An empty
// header with a nil error means no credentials are available, which
// callers treat as anonymous access.
type Source interface {
	AuthHeader(ctx context.Context, host string) (string, error)
}

// Detect picks the credential source for this environment: the local
// metadata service when present, git cookie files otherwise. The probe
// result is memoized inside the returned source, so Detect should be
// called once and the result shared.
func Detect(ctx context.Context, logger *zap.SugaredLogger) Source {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	md := NewMetadataSource(logger)
	if md.Present(ctx) {
		logger.Debugw("using metadata service credentials")
		return md
	}
	logger.Debugw("using cookie file credentials")
	return &CookieSource{Logger: logger}
}

// OAuthSource adapts an Authenticator into a Source. It never starts an
// interactive login; callers see LoginRequiredError instead.
type OAuthSource struct {
	auth *auth.Authenticator
}

func NewOAuthSource(a *auth.Authenticator) *OAuthSource {
	return &OAuthSource{auth: a}
}

func (s *OAuthSource) AuthHeader(ctx context.Context, host string) (string, error) {
	token, err := s.auth.Token(ctx, auth.TokenRequest{})
	if err != nil {
		return "", err
	}
	return "Bearer " + token.Token, nil
}
