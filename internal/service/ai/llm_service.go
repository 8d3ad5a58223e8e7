// Package ai wraps the hosted generative model used as the second answer tier.
package ai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	"github.com/digitalforce/flexi/backend/internal/config"
	"github.com/digitalforce/flexi/backend/internal/logging"
)

var (
	ErrNotConfigured = errors.New("primary model not configured")
	ErrEmptyResponse = errors.New("primary model returned an empty response")
)

// ModelFactory builds the chat model for a primary configuration.
type ModelFactory func(ctx context.Context, cfg config.PrimaryConfig) (model.BaseChatModel, error)

// DefaultModelFactory returns an Ark model when the ark provider is selected and Gemini otherwise.
func DefaultModelFactory(ctx context.Context, cfg config.PrimaryConfig) (model.BaseChatModel, error) {
	switch cfg.Provider {
	case config.ProviderArk:
		return cfg.Ark.NewChatModel(ctx)
	default:
		return NewGeminiChatModel(ctx, cfg.APIKey, cfg.Model)
	}
}

// Client sends a fully composed prompt to the primary model. The model and its
// chain are built on first use; a failed build is retried on the next call.
type Client struct {
	factory ModelFactory
	logger  *slog.Logger

	mu          sync.Mutex
	chain       compose.Runnable[map[string]any, *schema.Message]
	fingerprint string
}

// NewClient creates a lazily initialized client. A nil factory uses DefaultModelFactory.
func NewClient(logger *slog.Logger, factory ModelFactory) *Client {
	if factory == nil {
		factory = DefaultModelFactory
	}
	return &Client{factory: factory, logger: logging.OrDefault(logger)}
}

// Generate returns the model's answer to prompt. No retries are made.
func (c *Client) Generate(ctx context.Context, cfg config.PrimaryConfig, promptText string) (string, error) {
	if !cfg.Enabled() {
		return "", ErrNotConfigured
	}

	chain, err := c.runnable(ctx, cfg)
	if err != nil {
		return "", err
	}

	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	response, err := chain.Invoke(ctx, map[string]any{"prompt": promptText})
	if err != nil {
		return "", fmt.Errorf("failed to run primary chain: %w", err)
	}

	text := strings.TrimSpace(response.Content)
	if text == "" {
		return "", ErrEmptyResponse
	}

	c.logger.Debug("[ai] generated response", "provider", cfg.Provider, "length", len(text))
	return text, nil
}

func (c *Client) runnable(ctx context.Context, cfg config.PrimaryConfig) (compose.Runnable[map[string]any, *schema.Message], error) {
	fp := fingerprint(cfg)

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.chain != nil && c.fingerprint == fp {
		return c.chain, nil
	}

	chatModel, err := c.factory(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create chat model: %w", err)
	}

	template := prompt.FromMessages(
		schema.FString,
		schema.UserMessage("{prompt}"),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(template)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile primary chain: %w", err)
	}

	c.chain = runnable
	c.fingerprint = fp
	c.logger.Info("[ai] primary model initialized", "provider", cfg.Provider, "model", modelName(cfg))
	return runnable, nil
}

func modelName(cfg config.PrimaryConfig) string {
	if cfg.Provider == config.ProviderArk {
		return cfg.Ark.Model
	}
	return cfg.Model
}

func fingerprint(cfg config.PrimaryConfig) string {
	return strings.Join([]string{
		cfg.Provider, cfg.APIKey, cfg.Model,
		cfg.Ark.APIKey, cfg.Ark.AccessKey, cfg.Ark.Model, cfg.Ark.BaseURL, cfg.Ark.Region,
	}, "\x00")
}
