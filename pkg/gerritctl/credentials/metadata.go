package credentials

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

const (
	metadataBaseURL      = "http://metadata.google.internal"
	metadataTokenPath    = "/computeMetadata/v1/instance/service-accounts/default/token"
	metadataFlavorHeader = "Metadata-Flavor"
	metadataFlavorValue  = "Google"

	// metadataExpiryMargin is how long before the reported expiry a
	// cached metadata token is considered stale.
	metadataExpiryMargin = 25 * time.Second
)

// MetadataSource fetches tokens from the local instance metadata
// service. The availability probe runs once per instance; pass the same
// instance around instead of re-probing.
type MetadataSource struct {
	client *resty.Client
	log    *zap.SugaredLogger

	probeOnce sync.Once
	detected  bool

	mu      sync.Mutex
	header  string
	expires time.Time
	now     func() time.Time
}

func NewMetadataSource(logger *zap.SugaredLogger) *MetadataSource {
	return newMetadataSource(metadataBaseURL, logger)
}

func newMetadataSource(baseURL string, logger *zap.SugaredLogger) *MetadataSource {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(5 * time.Second).
		SetRetryCount(4).
		SetRetryWaitTime(1 * time.Second).
		SetRetryMaxWaitTime(8 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return err == nil && r.StatusCode() >= http.StatusInternalServerError
		})
	return &MetadataSource{client: client, log: logger, now: time.Now}
}

// Present reports whether the metadata service answers on this machine.
// The first call performs the probe; later calls reuse its result.
func (s *MetadataSource) Present(ctx context.Context) bool {
	s.probeOnce.Do(func() {
		resp, err := s.client.R().SetContext(ctx).Get("/")
		if err != nil {
			s.log.Debugw("metadata service not reachable", "error", err)
			return
		}
		s.detected = resp.Header().Get(metadataFlavorHeader) == metadataFlavorValue
		s.log.Debugw("metadata service probe finished", "present", s.detected)
	})
	return s.detected
}

func (s *MetadataSource) AuthHeader(ctx context.Context, host string) (string, error) {
	if !s.Present(ctx) {
		return "", nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	if s.header != "" && now.Before(s.expires) {
		return s.header, nil
	}
	var token struct {
		AccessToken string `json:"access_token"`
		TokenType   string `json:"token_type"`
		ExpiresIn   int    `json:"expires_in"`
	}
	resp, err := s.client.R().
		SetContext(ctx).
		SetHeader(metadataFlavorHeader, metadataFlavorValue).
		SetResult(&token).
		Get(metadataTokenPath)
	if err != nil {
		return "", fmt.Errorf("failed to fetch metadata token: %w", err)
	}
	if !resp.IsSuccess() {
		return "", fmt.Errorf("metadata token endpoint returned %s", resp.Status())
	}
	if token.AccessToken == "" {
		return "", errors.New("metadata token response has no access_token")
	}
	s.header = fmt.Sprintf("%s %s", token.TokenType, token.AccessToken)
	s.expires = now.Add(time.Duration(token.ExpiresIn)*time.Second - metadataExpiryMargin)
	return s.header, nil
}
