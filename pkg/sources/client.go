package sources

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// webClient downloads source documents over HTTP. An optional GitHub
// token raises rate limits and unlocks private repositories; it is sent
// to GitHub hosts only, never to other allowlisted domains.
type webClient struct {
	httpClient  *http.Client
	githubToken string
	maxBytes    int64
	logger      *slog.Logger
}

func newWebClient(githubToken string, maxBytes int64) *webClient {
	return &webClient{
		httpClient:  &http.Client{Timeout: 30 * time.Second},
		githubToken: githubToken,
		maxBytes:    maxBytes,
		logger:      slog.With("component", "sources"),
	}
}

// download fetches the document at url. Bodies larger than maxBytes are
// truncated at the cap; the agent still gets the head of the document.
func (c *webClient) download(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	if c.githubToken != "" && isGitHubHost(req.URL.Host) {
		req.Header.Set("Authorization", "Bearer "+c.githubToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch source from %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("source returned HTTP %d for %s", resp.StatusCode, url)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBytes))
	if err != nil {
		return "", fmt.Errorf("read response body: %w", err)
	}
	if int64(len(body)) == c.maxBytes {
		c.logger.Warn("Source document truncated at size cap", "url", url, "max_bytes", c.maxBytes)
	}

	return string(body), nil
}
