package cmd

import (
	"context"
	"fmt"

	"github.com/goreview/gerritctl/pkg/gerritctl/auth"
	"github.com/goreview/gerritctl/pkg/gerritctl/client"
	"github.com/goreview/gerritctl/pkg/gerritctl/config"
	"github.com/goreview/gerritctl/pkg/gerritctl/credentials"
	"github.com/goreview/gerritctl/pkg/version"
)

func buildTokenStore(resolved *config.ResolvedHost) auth.TokenStore {
	if resolved.TokenStorage == config.TokenStorageKeyring {
		return &auth.KeyringStore{}
	}
	return &auth.FileStore{Path: config.DefaultTokenPath()}
}

func buildAuthenticator(rt *runtimeState, resolved *config.ResolvedHost) (*auth.Authenticator, error) {
	return auth.New(auth.Options{
		Host:               resolved.Host,
		ClientID:           resolved.ClientID,
		ClientSecret:       resolved.ClientSecret,
		Scopes:             resolved.Scopes,
		Issuer:             resolved.Issuer,
		UseLocalWebserver:  resolved.UseLocalWebserver,
		CallbackPort:       resolved.CallbackPort,
		RefreshTokenFile:   resolved.RefreshTokenFile,
		ServiceAccountFile: resolved.ServiceAccountFile,
		ReauthInterval:     resolved.ReauthInterval,
		Store:              buildTokenStore(resolved),
		Logger:             rt.Logger(),
		LoginOutput:        rt.Writer(),
	})
}

func buildCredentials(ctx context.Context, rt *runtimeState, resolved *config.ResolvedHost) (credentials.Source, error) {
	switch resolved.Auth {
	case config.AuthModeOAuth:
		authn, err := buildAuthenticator(rt, resolved)
		if err != nil {
			return nil, err
		}
		return credentials.NewOAuthSource(authn), nil
	case config.AuthModeCookies:
		return &credentials.CookieSource{GitcookiesPath: resolved.GitcookiesFile, Logger: rt.Logger()}, nil
	case config.AuthModeMetadata:
		return credentials.NewMetadataSource(rt.Logger()), nil
	case "", config.AuthModeAuto:
		md := credentials.NewMetadataSource(rt.Logger())
		if md.Present(ctx) {
			return md, nil
		}
		authn, err := buildAuthenticator(rt, resolved)
		if err != nil {
			return nil, err
		}
		// An external credential file or a previous login means the
		// OAuth path can mint tokens without prompting.
		if resolved.RefreshTokenFile != "" || resolved.ServiceAccountFile != "" || authn.HasCachedCredentials() {
			return credentials.NewOAuthSource(authn), nil
		}
		return &credentials.CookieSource{GitcookiesPath: resolved.GitcookiesFile, Logger: rt.Logger()}, nil
	default:
		return nil, fmt.Errorf("unknown auth mode: %s", resolved.Auth)
	}
}

func buildClient(ctx context.Context, rt *runtimeState) (*client.Client, error) {
	resolved, err := rt.ResolveHost()
	if err != nil {
		return nil, err
	}
	src, err := buildCredentials(ctx, rt, resolved)
	if err != nil {
		return nil, err
	}
	options := []client.Option{
		client.WithCredentials(src),
		client.WithLogger(rt.Logger()),
		client.WithUserAgent(version.UserAgent()),
	}
	if resolved.RequestTimeout > 0 {
		options = append(options, client.WithTimeout(resolved.RequestTimeout))
	}
	return client.New(resolved.Host, options...)
}
