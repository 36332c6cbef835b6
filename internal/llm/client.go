package llm

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	sdk "github.com/github/copilot-sdk/go"

	"github.com/patchpilot/patchpilot/internal/config"
)

// CopilotClient wraps the GitHub Copilot SDK to implement Client.
type CopilotClient struct {
	sdk       *sdk.Client
	model     string
	retries   int
	retryWait time.Duration
	mu        sync.Mutex
	started   bool
}

var _ Client = (*CopilotClient)(nil)

// NewCopilotClient creates a CopilotClient from the LLM configuration.
func NewCopilotClient(cfg config.LLMConfig) *CopilotClient {
	return &CopilotClient{
		model:     cfg.Model,
		retries:   cfg.NumRetries,
		retryWait: cfg.ParseRetryWait(),
	}
}

// Start initializes the underlying Copilot SDK client.
func (c *CopilotClient) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return nil
	}
	c.sdk = sdk.NewClient(nil)
	if err := c.sdk.Start(ctx); err != nil {
		return fmt.Errorf("starting copilot SDK: %w", err)
	}
	c.started = true
	slog.Info("copilot LLM client started", "model", c.model)
	return nil
}

// Stop shuts down the SDK client.
func (c *CopilotClient) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sdk != nil {
		return c.sdk.Stop()
	}
	return nil
}

// Complete sends the prompt in a throwaway session, retrying transient
// failures with a fixed wait between attempts.
func (c *CopilotClient) Complete(ctx context.Context, prompt string) (string, error) {
	c.mu.Lock()
	started := c.started
	c.mu.Unlock()
	if !started {
		return "", fmt.Errorf("client not started")
	}

	attempts := c.retries + 1
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		content, err := c.completeOnce(ctx, prompt)
		if err == nil {
			return content, nil
		}
		lastErr = err
		if attempt < attempts {
			slog.Warn("LLM completion failed, retrying",
				"attempt", attempt, "wait", c.retryWait, "error", err)
			select {
			case <-time.After(c.retryWait):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}
	}
	return "", fmt.Errorf("completion failed after %d attempts: %w", attempts, lastErr)
}

func (c *CopilotClient) completeOnce(ctx context.Context, prompt string) (string, error) {
	session, err := c.sdk.CreateSession(ctx, &sdk.SessionConfig{
		Model:               c.model,
		OnPermissionRequest: sdk.PermissionHandler.ApproveAll,
	})
	if err != nil {
		return "", fmt.Errorf("creating session: %w", err)
	}
	defer func() { _ = session.Destroy() }()

	resp, err := session.SendAndWait(ctx, sdk.MessageOptions{Prompt: prompt})
	if err != nil {
		return "", fmt.Errorf("sending prompt: %w", err)
	}

	var content string
	if resp != nil && resp.Data.Content != nil {
		content = *resp.Data.Content
	}
	return content, nil
}
