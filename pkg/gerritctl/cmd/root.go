package cmd

import (
	"context"
	"errors"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/goreview/gerritctl/pkg/gerritctl/config"
)

type Config struct {
	ConfigPath   string
	OutputWriter io.Writer
}

type runtimeState struct {
	configPath           string
	cfg                  *config.Config
	hostOverride         string
	outputFormat         string
	tokenStorageOverride string
	refreshTokenFile     string
	serviceAccountFile   string
	callbackPort         int
	noLocalWebserver     bool
	nonInteractive       bool
	verbose              bool
	writer               io.Writer
	logger               *zap.SugaredLogger
}

type runtimeKey struct{}

func DefaultConfig() Config {
	return Config{
		ConfigPath:   config.DefaultConfigPath(),
		OutputWriter: os.Stdout,
	}
}

func NewRootCommand(cfg Config) *cobra.Command {
	rt := &runtimeState{configPath: cfg.ConfigPath, writer: cfg.OutputWriter}

	root := &cobra.Command{
		Use:   "gerritctl",
		Short: "Gerrit code review CLI",
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if rt.writer == nil {
				rt.writer = os.Stdout
			}
			if rt.configPath == "" {
				rt.configPath = config.DefaultConfigPath()
			}
			if rt.hostOverride == "" {
				rt.hostOverride = os.Getenv("GERRITCTL_HOST")
			}
			if rt.outputFormat == "" {
				rt.outputFormat = os.Getenv("GERRITCTL_OUTPUT")
			}
			if rt.tokenStorageOverride == "" {
				rt.tokenStorageOverride = os.Getenv("GERRITCTL_TOKEN_STORAGE")
			}
			if !rt.nonInteractive {
				rt.nonInteractive = strings.EqualFold(os.Getenv("GERRITCTL_NON_INTERACTIVE"), "true")
			}
			if !rt.verbose {
				rt.verbose = strings.EqualFold(os.Getenv("GERRITCTL_VERBOSE"), "true")
			}
			rt.logger = newLogger(rt.verbose)

			if cmd.Name() == "version" || cmd.Name() == "completion" {
				return nil
			}

			loaded, err := config.Load(rt.configPath)
			if err != nil {
				// A host given via flag or env works without a config file.
				if os.IsNotExist(err) && rt.hostOverride != "" {
					def := config.DefaultConfig()
					rt.cfg = &def
					return nil
				}
				return err
			}
			if err := loaded.Validate(); err != nil {
				return err
			}
			rt.cfg = loaded
			return nil
		},
	}

	root.PersistentFlags().StringVar(&rt.configPath, "config", rt.configPath, "Path to config file")
	root.PersistentFlags().StringVar(&rt.hostOverride, "host", "", "Review host override")
	root.PersistentFlags().StringVarP(&rt.outputFormat, "output", "o", "", "Output format: table, json, yaml")
	root.PersistentFlags().StringVar(&rt.tokenStorageOverride, "token-storage", "", "Token storage backend: file or keyring")
	root.PersistentFlags().StringVar(&rt.refreshTokenFile, "auth-refresh-token-json", "", "Path to an externally managed refresh token file")
	root.PersistentFlags().StringVar(&rt.serviceAccountFile, "auth-service-account-json", "", "Path to a service account key file")
	root.PersistentFlags().IntVar(&rt.callbackPort, "auth-host-port", 0, "Localhost port for the login redirect")
	root.PersistentFlags().BoolVar(&rt.noLocalWebserver, "auth-no-local-webserver", false, "Use manual code entry instead of a local redirect")
	root.PersistentFlags().BoolVar(&rt.nonInteractive, "non-interactive", false, "Fail instead of prompting")
	root.PersistentFlags().BoolVarP(&rt.verbose, "verbose", "v", false, "Enable verbose logging")

	root.SetContext(context.WithValue(context.Background(), runtimeKey{}, rt))

	root.AddCommand(
		NewAuthCommand(),
		NewChangeCommand(),
		NewCompletionCommand(),
		NewVersionCommand(),
	)

	return root
}

func getRuntime(cmd *cobra.Command) (*runtimeState, error) {
	rt, ok := cmd.Context().Value(runtimeKey{}).(*runtimeState)
	if !ok || rt == nil {
		return nil, errors.New("runtime not initialized")
	}
	return rt, nil
}

func newLogger(verbose bool) *zap.SugaredLogger {
	if !verbose {
		return zap.NewNop().Sugar()
	}
	logger, err := zap.NewDevelopment()
	if err != nil {
		return zap.NewNop().Sugar()
	}
	return logger.Sugar()
}

func (rt *runtimeState) ResolveHostName() string {
	if rt.hostOverride != "" {
		return rt.hostOverride
	}
	if rt.cfg != nil {
		return rt.cfg.DefaultHostOrFirst()
	}
	return ""
}

func (rt *runtimeState) OutputFormat() string {
	if rt.outputFormat != "" {
		return rt.outputFormat
	}
	if rt.cfg != nil && rt.cfg.Settings.OutputFormat != "" {
		return rt.cfg.Settings.OutputFormat
	}
	return "table"
}

func (rt *runtimeState) Writer() io.Writer {
	if rt.writer != nil {
		return rt.writer
	}
	return os.Stdout
}

func (rt *runtimeState) Logger() *zap.SugaredLogger {
	if rt.logger != nil {
		return rt.logger
	}
	return zap.NewNop().Sugar()
}

func (rt *runtimeState) EnsureConfigLoaded() error {
	if rt.cfg != nil {
		return nil
	}
	loaded, err := config.Load(rt.configPath)
	if err != nil {
		return err
	}
	rt.cfg = loaded
	return nil
}

// ResolveHost merges the selected host's config with the command line
// overrides.
func (rt *runtimeState) ResolveHost() (*config.ResolvedHost, error) {
	if err := rt.EnsureConfigLoaded(); err != nil {
		return nil, err
	}
	resolved, err := rt.cfg.ResolveHost(rt.ResolveHostName())
	if err != nil {
		return nil, err
	}
	if rt.refreshTokenFile != "" && rt.serviceAccountFile != "" {
		return nil, errors.New("--auth-refresh-token-json and --auth-service-account-json are mutually exclusive")
	}
	if rt.tokenStorageOverride != "" {
		resolved.TokenStorage = rt.tokenStorageOverride
	}
	if rt.refreshTokenFile != "" {
		resolved.RefreshTokenFile = rt.refreshTokenFile
		resolved.ServiceAccountFile = ""
	}
	if rt.serviceAccountFile != "" {
		resolved.ServiceAccountFile = rt.serviceAccountFile
		resolved.RefreshTokenFile = ""
	}
	if rt.callbackPort != 0 {
		resolved.CallbackPort = rt.callbackPort
	}
	if rt.noLocalWebserver {
		resolved.UseLocalWebserver = false
	}
	return resolved, nil
}
