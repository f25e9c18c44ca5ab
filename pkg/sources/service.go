// Package sources fetches starter-source documents for agent instances,
// with domain allowlisting and TTL caching.
package sources

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/meridian-labs/surveyor/pkg/config"
)

// Service resolves starter-source URLs to document content. It satisfies
// the scheduler's fetcher seam: a URL outside the allowlist or a failed
// download is an error, and the caller decides whether that fails the
// task or rides along as a note.
type Service struct {
	client *webClient
	cache  *docCache
	cfg    *config.SourcesConfig
}

// NewService creates a Service from resolved configuration.
// githubToken is the resolved token value (empty string = no auth,
// public repositories only).
func NewService(cfg *config.SourcesConfig, githubToken string) *Service {
	cacheTTL := 1 * time.Minute
	if cfg != nil && cfg.CacheTTL > 0 {
		cacheTTL = cfg.CacheTTL
	}
	maxKB := 256
	if cfg != nil && cfg.MaxDocumentKB > 0 {
		maxKB = cfg.MaxDocumentKB
	}

	return &Service{
		client: newWebClient(githubToken, int64(maxKB)*1024),
		cache:  newDocCache(cacheTTL),
		cfg:    cfg,
	}
}

// Fetch returns the content behind rawURL, consulting the cache first.
// GitHub blob URLs are normalized to raw-content URLs before fetching,
// and the normalized URL doubles as the cache key.
func (s *Service) Fetch(ctx context.Context, rawURL string) (string, error) {
	var allowedDomains []string
	if s.cfg != nil {
		allowedDomains = s.cfg.AllowedDomains
	}
	if err := ValidateSourceURL(rawURL, allowedDomains); err != nil {
		return "", fmt.Errorf("reject source %s: %w", rawURL, err)
	}

	normalizedURL := ConvertToRawURL(rawURL)
	if content, ok := s.cache.get(normalizedURL); ok {
		return content, nil
	}

	content, err := s.client.download(ctx, normalizedURL)
	if err != nil {
		return "", err
	}

	s.cache.put(normalizedURL, content)
	return content, nil
}

// OverrideHTTPClientForTest replaces the internal HTTP client.
// For testing only.
func (s *Service) OverrideHTTPClientForTest(httpClient *http.Client) {
	s.client.httpClient = httpClient
}
