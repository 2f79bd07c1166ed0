package cmd

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"github.com/goreview/gerritctl/pkg/gerritctl/auth"
	"github.com/goreview/gerritctl/pkg/gerritctl/output"
)

func NewAuthCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Manage credentials for the review host",
	}
	cmd.AddCommand(
		newAuthLoginCommand(),
		newAuthStatusCommand(),
		newAuthInfoCommand(),
		newAuthLogoutCommand(),
	)
	return cmd
}

func newAuthLoginCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "Obtain and cache OAuth credentials",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			resolved, err := rt.ResolveHost()
			if err != nil {
				return err
			}
			if rt.nonInteractive {
				return errors.New("login needs an interactive session")
			}
			authn, err := buildAuthenticator(rt, resolved)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()
			token, err := authn.Login(ctx)
			if err != nil {
				return err
			}
			if token.ExpiresAt.IsZero() {
				_, _ = fmt.Fprintf(rt.Writer(), "Authenticated to %s\n", resolved.Host)
				return nil
			}
			_, _ = fmt.Fprintf(rt.Writer(), "Authenticated to %s. Token expires at %s\n",
				resolved.Host, token.ExpiresAt.UTC().Format(time.RFC3339))
			return nil
		},
	}
}

func newAuthStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show authentication status",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			resolved, err := rt.ResolveHost()
			if err != nil {
				return err
			}
			authn, err := buildAuthenticator(rt, resolved)
			if err != nil {
				return err
			}
			if !authn.HasCachedCredentials() {
				_, _ = fmt.Fprintf(rt.Writer(), "Not logged in to %s\n", resolved.Host)
				return nil
			}
			token, err := authn.Token(cmd.Context(), auth.TokenRequest{})
			if err != nil {
				var loginErr *auth.LoginRequiredError
				if errors.As(err, &loginErr) {
					_, _ = fmt.Fprintf(rt.Writer(), "Credentials for %s are stale; run `gerritctl auth login`\n", resolved.Host)
					return nil
				}
				return err
			}
			if token.ExpiresAt.IsZero() {
				_, _ = fmt.Fprintf(rt.Writer(), "Logged in to %s\n", resolved.Host)
				return nil
			}
			_, _ = fmt.Fprintf(rt.Writer(), "Logged in to %s. Token expires at %s\n",
				resolved.Host, token.ExpiresAt.UTC().Format(time.RFC3339))
			return nil
		},
	}
}

func newAuthInfoCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Show the identity behind the cached credentials",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			resolved, err := rt.ResolveHost()
			if err != nil {
				return err
			}
			authn, err := buildAuthenticator(rt, resolved)
			if err != nil {
				return err
			}
			token, err := authn.Token(cmd.Context(), auth.TokenRequest{})
			if err != nil {
				return err
			}
			info, infoErr := authn.TokenInfo(cmd.Context())
			format := output.Format(rt.OutputFormat())
			if format == output.FormatJSON || format == output.FormatYAML {
				if infoErr != nil {
					return infoErr
				}
				return output.WriteObject(rt.Writer(), format, info)
			}
			if infoErr != nil {
				rt.Logger().Debugw("token info lookup failed", "error", infoErr)
				info = nil
			}
			identity := identityFromTokenInfo(info)
			if identity == "" {
				identity = identityFromJWT(token.Token)
			}
			w := rt.Writer()
			_, _ = fmt.Fprintf(w, "Host: %s\n", resolved.Host)
			_, _ = fmt.Fprintf(w, "Cache key: %s\n", authn.Key())
			if identity != "" {
				_, _ = fmt.Fprintf(w, "Identity: %s\n", identity)
			}
			if scope, ok := info["scope"].(string); ok && scope != "" {
				_, _ = fmt.Fprintf(w, "Scopes: %s\n", scope)
			}
			if !token.ExpiresAt.IsZero() {
				_, _ = fmt.Fprintf(w, "Expires at: %s\n", token.ExpiresAt.UTC().Format(time.RFC3339))
			}
			return nil
		},
	}
}

func newAuthLogoutCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Revoke and remove cached credentials",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			resolved, err := rt.ResolveHost()
			if err != nil {
				return err
			}
			authn, err := buildAuthenticator(rt, resolved)
			if err != nil {
				return err
			}
			had, err := authn.Logout(cmd.Context())
			if err != nil {
				return err
			}
			if !had {
				_, _ = fmt.Fprintf(rt.Writer(), "No cached credentials for %s\n", resolved.Host)
				return nil
			}
			_, _ = fmt.Fprintf(rt.Writer(), "Logged out of %s\n", resolved.Host)
			return nil
		},
	}
}
