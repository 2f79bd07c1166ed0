package config

import (
	"os"
	"path/filepath"
)

const (
	defaultConfigDirName = "gerritctl"
	defaultConfigFile    = "config.yaml"
	defaultTokenFile     = "tokens.json"
)

func DefaultConfigPath() string {
	if env := os.Getenv("GERRITCTL_CONFIG"); env != "" {
		return env
	}
	base, err := os.UserConfigDir()
	if err == nil {
		return filepath.Join(base, defaultConfigDirName, defaultConfigFile)
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".gerritctl", defaultConfigFile)
}

func DefaultTokenPath() string {
	if env := os.Getenv("GERRITCTL_TOKEN_CACHE"); env != "" {
		return env
	}
	base, err := os.UserConfigDir()
	if err == nil {
		return filepath.Join(base, defaultConfigDirName, defaultTokenFile)
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".gerritctl", defaultTokenFile)
}
