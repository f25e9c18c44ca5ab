// Package llm implements runtime.LLMClient on top of the Anthropic Messages
// API. Conversations are translated into Messages requests, streamed over
// SSE, and surfaced as runtime chunks; tool names cross the wire in the
// provider's "server__tool" form and come back canonical.
package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/meridian-labs/surveyor/pkg/config"
	"github.com/meridian-labs/surveyor/pkg/runtime"
)

const (
	// defaultAPIKeyEnv is consulted when the provider config does not name
	// an api_key_env.
	defaultAPIKeyEnv = "ANTHROPIC_API_KEY"

	// defaultMaxOutputTokens caps generation when the provider config does
	// not set max_output_tokens.
	defaultMaxOutputTokens = 8192

	// chunkBuffer is the capacity of the chunk channel handed to callers.
	chunkBuffer = 32
)

// messagesClient captures the subset of the Anthropic SDK used here.
// *sdk.MessageService satisfies it; tests substitute a stub.
type messagesClient interface {
	NewStreaming(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) *ssestream.Stream[sdk.MessageStreamEventUnion]
}

// AnthropicClient implements runtime.LLMClient against the Anthropic API.
// A single instance serves every provider config; SDK clients are cached
// per API-key-env + base URL so concurrent threads and mission tasks share
// the underlying HTTP client.
type AnthropicClient struct {
	mu      sync.Mutex
	clients map[string]messagesClient

	// newMessages overrides SDK client construction (test injection);
	// nil means the default sdk.NewClient path.
	newMessages func(apiKey, baseURL string) messagesClient

	logger *slog.Logger
}

var _ runtime.LLMClient = (*AnthropicClient)(nil)

// NewAnthropicClient creates a provider client. No network activity happens
// until the first Generate.
func NewAnthropicClient() *AnthropicClient {
	return &AnthropicClient{
		clients: make(map[string]messagesClient),
		logger:  slog.With("component", "llm"),
	}
}

// Generate sends the conversation to the Anthropic API and returns a channel
// of chunks. The channel is closed when the stream completes; stream-level
// failures are delivered as ErrorChunk values.
func (c *AnthropicClient) Generate(ctx context.Context, input *runtime.GenerateInput) (<-chan runtime.Chunk, error) {
	cfg := input.Config
	if cfg == nil {
		return nil, errors.New("provider config is required")
	}
	if cfg.Type != config.LLMProviderTypeAnthropic {
		return nil, fmt.Errorf("unsupported provider type %q", cfg.Type)
	}
	if cfg.Model == "" {
		return nil, errors.New("provider config is missing a model")
	}
	if len(input.Messages) == 0 {
		return nil, errors.New("at least one message is required")
	}

	messages, err := c.messagesFor(cfg)
	if err != nil {
		return nil, err
	}

	params, wireToCanon, err := buildParams(input)
	if err != nil {
		return nil, err
	}

	stream := messages.NewStreaming(ctx, *params)
	if err := stream.Err(); err != nil {
		code, retryable := classifyAPIError(err)
		c.logger.Warn("Failed to open LLM stream",
			"model", cfg.Model, "code", code, "retryable", retryable, "error", err)
		return nil, fmt.Errorf("failed to open stream: %w", err)
	}

	ch := make(chan runtime.Chunk, chunkBuffer)
	go c.pump(ctx, stream, wireToCanon, ch)
	return ch, nil
}

// messagesFor returns the cached SDK client for the config's credentials,
// creating it on first use.
func (c *AnthropicClient) messagesFor(cfg *config.LLMProviderConfig) (messagesClient, error) {
	env := cfg.APIKeyEnv
	if env == "" {
		env = defaultAPIKeyEnv
	}
	apiKey := os.Getenv(env)
	if apiKey == "" {
		return nil, fmt.Errorf("API key environment variable %s is not set", env)
	}

	key := env + "|" + cfg.BaseURL

	c.mu.Lock()
	defer c.mu.Unlock()

	if mc, ok := c.clients[key]; ok {
		return mc, nil
	}

	var mc messagesClient
	if c.newMessages != nil {
		mc = c.newMessages(apiKey, cfg.BaseURL)
	} else {
		opts := []option.RequestOption{option.WithAPIKey(apiKey)}
		if cfg.BaseURL != "" {
			opts = append(opts, option.WithBaseURL(cfg.BaseURL))
		}
		ac := sdk.NewClient(opts...)
		mc = &ac.Messages
	}
	c.clients[key] = mc
	return mc, nil
}

// Close releases provider resources. The SDK holds nothing beyond standard
// HTTP clients, so there is nothing to tear down.
func (c *AnthropicClient) Close() error {
	return nil
}
