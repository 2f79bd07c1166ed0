package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"gopkg.in/yaml.v2"
)

const (
	VersionV1 = "v1"

	AuthModeAuto     = "auto"
	AuthModeOAuth    = "oauth"
	AuthModeCookies  = "cookies"
	AuthModeMetadata = "metadata"

	TokenStorageFile    = "file"
	TokenStorageKeyring = "keyring"
)

type Config struct {
	Version     string   `yaml:"version"`
	DefaultHost string   `yaml:"default-host,omitempty"`
	Hosts       []Host   `yaml:"hosts,omitempty"`
	Settings    Settings `yaml:"settings,omitempty"`
}

type Host struct {
	Name               string   `yaml:"name"`
	Auth               string   `yaml:"auth,omitempty"`
	ClientID           string   `yaml:"client-id,omitempty"`
	ClientSecret       string   `yaml:"client-secret,omitempty"`
	ClientSecretEnv    string   `yaml:"client-secret-env,omitempty"`
	Issuer             string   `yaml:"issuer,omitempty"`
	Scopes             []string `yaml:"scopes,omitempty"`
	CallbackPort       int      `yaml:"callback-port,omitempty"`
	NoLocalWebserver   bool     `yaml:"no-local-webserver,omitempty"`
	TokenStorage       string   `yaml:"token-storage,omitempty"`
	RefreshTokenFile   string   `yaml:"refresh-token-file,omitempty"`
	ServiceAccountFile string   `yaml:"service-account-file,omitempty"`
	ReauthInterval     string   `yaml:"reauth-interval,omitempty"`
	GitcookiesFile     string   `yaml:"gitcookies-file,omitempty"`
}

type Settings struct {
	OutputFormat   string `yaml:"output-format,omitempty"`
	PageSize       int    `yaml:"page-size,omitempty"`
	RequestTimeout string `yaml:"request-timeout,omitempty"`
	TokenStorage   string `yaml:"token-storage,omitempty"`
}

func DefaultConfig() Config {
	return Config{
		Version: VersionV1,
		Settings: Settings{
			OutputFormat: "table",
			PageSize:     100,
		},
	}
}

func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is required")
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(content, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if cfg.Version == "" {
		cfg.Version = VersionV1
	}
	return &cfg, nil
}

func Save(path string, cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	if cfg.Version == "" {
		cfg.Version = VersionV1
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("failed to create config dir: %w", err)
	}
	content, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	return os.WriteFile(path, content, 0o600)
}

func (c *Config) FindHost(name string) *Host {
	for i := range c.Hosts {
		if strings.EqualFold(c.Hosts[i].Name, name) {
			return &c.Hosts[i]
		}
	}
	return nil
}

func (c *Config) DefaultHostOrFirst() string {
	if c.DefaultHost != "" {
		return c.DefaultHost
	}
	if len(c.Hosts) > 0 {
		return c.Hosts[0].Name
	}
	return ""
}

func (c *Config) Validate() error {
	if c.Version == "" {
		return errors.New("config version missing")
	}
	for _, h := range c.Hosts {
		if strings.TrimSpace(h.Name) == "" {
			return errors.New("host name cannot be empty")
		}
		switch h.Auth {
		case "", AuthModeAuto, AuthModeOAuth, AuthModeCookies, AuthModeMetadata:
		default:
			return fmt.Errorf("host %s: unknown auth mode %q", h.Name, h.Auth)
		}
		switch h.TokenStorage {
		case "", TokenStorageFile, TokenStorageKeyring:
		default:
			return fmt.Errorf("host %s: unknown token storage %q", h.Name, h.TokenStorage)
		}
	}
	return nil
}

// ResolvedHost is the effective per-host configuration after merging host
// entries with global settings and built-in defaults.
type ResolvedHost struct {
	Host               string
	Auth               string
	ClientID           string
	ClientSecret       string
	Issuer             string
	Scopes             []string
	CallbackPort       int
	UseLocalWebserver  bool
	TokenStorage       string
	RefreshTokenFile   string
	ServiceAccountFile string
	ReauthInterval     time.Duration
	GitcookiesFile     string
	PageSize           int
	RequestTimeout     time.Duration
}

func (c *Config) ResolveHost(name string) (*ResolvedHost, error) {
	if strings.TrimSpace(name) == "" {
		name = c.DefaultHostOrFirst()
	}
	if name == "" {
		return nil, errors.New("no host given and no default-host configured")
	}
	resolved := &ResolvedHost{
		Host:              strings.ToLower(strings.TrimSpace(name)),
		Auth:              AuthModeAuto,
		UseLocalWebserver: !headless(),
		TokenStorage:      TokenStorageFile,
		PageSize:          100,
		RequestTimeout:    30 * time.Second,
	}
	if c.Settings.TokenStorage != "" {
		resolved.TokenStorage = c.Settings.TokenStorage
	}
	if c.Settings.PageSize > 0 {
		resolved.PageSize = c.Settings.PageSize
	}
	if c.Settings.RequestTimeout != "" {
		d, err := time.ParseDuration(c.Settings.RequestTimeout)
		if err != nil {
			return nil, fmt.Errorf("invalid request-timeout: %w", err)
		}
		resolved.RequestTimeout = d
	}
	host := c.FindHost(resolved.Host)
	if host == nil {
		return resolved, nil
	}
	if host.Auth != "" {
		resolved.Auth = host.Auth
	}
	resolved.ClientID = host.ClientID
	resolved.ClientSecret = host.ClientSecret
	if host.ClientSecret == "" && host.ClientSecretEnv != "" {
		resolved.ClientSecret = strings.TrimSpace(os.Getenv(host.ClientSecretEnv))
	}
	resolved.Issuer = host.Issuer
	resolved.Scopes = host.Scopes
	resolved.CallbackPort = host.CallbackPort
	if host.NoLocalWebserver {
		resolved.UseLocalWebserver = false
	}
	if host.TokenStorage != "" {
		resolved.TokenStorage = host.TokenStorage
	}
	resolved.RefreshTokenFile = host.RefreshTokenFile
	resolved.ServiceAccountFile = host.ServiceAccountFile
	resolved.GitcookiesFile = host.GitcookiesFile
	if host.ReauthInterval != "" {
		d, err := time.ParseDuration(host.ReauthInterval)
		if err != nil {
			return nil, fmt.Errorf("host %s: invalid reauth-interval: %w", host.Name, err)
		}
		resolved.ReauthInterval = d
	}
	return resolved, nil
}

// headless reports whether no graphical session is available, in which
// case the login flow defaults to manual code entry.
func headless() bool {
	switch runtime.GOOS {
	case "darwin", "windows":
		return false
	default:
		return os.Getenv("DISPLAY") == ""
	}
}
