package llm

import "context"

// Client abstracts single-shot LLM completions for testability.
type Client interface {
	// Complete sends a prompt and waits for the full model response.
	Complete(ctx context.Context, prompt string) (string, error)
}
