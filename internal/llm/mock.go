package llm

import (
	"context"
	"sync"
)

// MockClient is a test double for Client.
type MockClient struct {
	mu            sync.Mutex
	Responses     []string // consumed in order; DefaultResult after exhaustion
	DefaultResult string
	Err           error
	Prompts       []string
}

var _ Client = (*MockClient)(nil)

// NewMockClient creates a new MockClient with sensible defaults.
func NewMockClient() *MockClient {
	return &MockClient{DefaultResult: "Mock LLM response"}
}

func (m *MockClient) Complete(_ context.Context, prompt string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return "", m.Err
	}
	m.Prompts = append(m.Prompts, prompt)
	if len(m.Responses) > 0 {
		next := m.Responses[0]
		m.Responses = m.Responses[1:]
		return next, nil
	}
	return m.DefaultResult, nil
}

// PromptHistory returns a copy of all prompts sent to this mock.
func (m *MockClient) PromptHistory() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.Prompts))
	copy(out, m.Prompts)
	return out
}
