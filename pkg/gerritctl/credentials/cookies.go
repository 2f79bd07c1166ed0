package credentials

import (
	"context"
	"encoding/base64"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	"go.uber.org/zap"
)

type cookieCred struct {
	login  string
	secret string
}

// CookieSource reads credentials from git cookie files: the gitcookies
// file first, the netrc file as fallback. Files are parsed once on first
// use.
type CookieSource struct {
	// GitcookiesPath and NetrcPath override the default file locations.
	GitcookiesPath string
	NetrcPath      string
	Logger         *zap.SugaredLogger

	once       sync.Once
	gitcookies map[string]cookieCred
	netrc      map[string]cookieCred
}

func (s *CookieSource) AuthHeader(_ context.Context, host string) (string, error) {
	s.once.Do(s.load)
	bare := host
	if i := strings.IndexByte(bare, ':'); i >= 0 {
		bare = bare[:i]
	}
	if cred, ok := s.matchGitcookies(bare); ok {
		return cred.header(), nil
	}
	if cred, ok := s.netrc[bare]; ok {
		return cred.header(), nil
	}
	return "", nil
}

func (c cookieCred) header() string {
	if c.login == "" {
		return "Bearer " + c.secret
	}
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(c.login+":"+c.secret))
}

// matchGitcookies returns the credential whose cookie domain matches the
// host, preferring the most specific domain.
func (s *CookieSource) matchGitcookies(host string) (cookieCred, bool) {
	var best string
	var found bool
	var cred cookieCred
	for domain, c := range s.gitcookies {
		if !domainMatch(host, domain) {
			continue
		}
		if !found || len(domain) > len(best) {
			best = domain
			cred = c
			found = true
		}
	}
	return cred, found
}

func domainMatch(host, domain string) bool {
	if strings.HasPrefix(domain, ".") {
		return strings.HasSuffix(host, domain) || host == strings.TrimPrefix(domain, ".")
	}
	return host == domain
}

func (s *CookieSource) load() {
	if s.Logger == nil {
		s.Logger = zap.NewNop().Sugar()
	}
	s.gitcookies = s.loadGitcookies()
	s.netrc = s.loadNetrc()
}

func (s *CookieSource) gitcookiesPath() string {
	if s.GitcookiesPath != "" {
		return s.GitcookiesPath
	}
	if env := os.Getenv("GIT_COOKIES_PATH"); env != "" {
		return env
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".gitcookies")
}

func (s *CookieSource) loadGitcookies() map[string]cookieCred {
	creds := map[string]cookieCred{}
	path := s.gitcookiesPath()
	if path == "" {
		return creds
	}
	content, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.Logger.Warnw("failed to read gitcookies file", "path", path, "error", err)
		}
		return creds
	}
	for _, line := range strings.Split(string(content), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Split(line, "\t")
		if len(fields) != 7 {
			continue
		}
		domain, path, key, value := fields[0], fields[2], fields[5], fields[6]
		if path != "/" || key != "o" {
			continue
		}
		if strings.HasPrefix(value, "git-") && strings.Contains(value, "=") {
			parts := strings.SplitN(value, "=", 2)
			creds[domain] = cookieCred{login: parts[0], secret: parts[1]}
		} else {
			creds[domain] = cookieCred{secret: value}
		}
	}
	return creds
}

func (s *CookieSource) netrcPath() string {
	if s.NetrcPath != "" {
		return s.NetrcPath
	}
	name := ".netrc"
	if runtime.GOOS == "windows" {
		name = "_netrc"
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, name)
}

func (s *CookieSource) loadNetrc() map[string]cookieCred {
	creds := map[string]cookieCred{}
	path := s.netrcPath()
	if path == "" {
		return creds
	}
	info, err := os.Stat(path)
	if err != nil {
		return creds
	}
	if runtime.GOOS != "windows" && info.Mode().Perm()&0o077 != 0 {
		s.Logger.Warnw("netrc file ignored because its permissions allow access by other users",
			"path", path, "mode", info.Mode().Perm().String())
		return creds
	}
	content, err := os.ReadFile(path)
	if err != nil {
		s.Logger.Warnw("failed to read netrc file", "path", path, "error", err)
		return creds
	}
	tokens := strings.Fields(string(content))
	var machine string
	var cred cookieCred
	flush := func() {
		if machine != "" && cred.login != "" {
			creds[machine] = cred
		}
		machine = ""
		cred = cookieCred{}
	}
	for i := 0; i < len(tokens); i++ {
		switch tokens[i] {
		case "machine":
			flush()
			if i+1 < len(tokens) {
				i++
				machine = tokens[i]
			}
		case "default":
			flush()
		case "login":
			if i+1 < len(tokens) {
				i++
				cred.login = tokens[i]
			}
		case "password":
			if i+1 < len(tokens) {
				i++
				cred.secret = tokens[i]
			}
		case "account", "macdef":
			if i+1 < len(tokens) {
				i++
			}
		}
	}
	flush()
	return creds
}
