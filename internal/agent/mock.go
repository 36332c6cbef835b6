package agent

import (
	"context"
	"sync"
)

// RunCall records one invocation of MockAgent.Run.
type RunCall struct {
	Instruction string
	WorkDir     string
}

// MockAgent is a test double for Agent. When Apply is set it runs against
// the workspace before returning, so tests can simulate the agent editing
// files. Err, when set, is returned alongside Result, matching the partial
// result contract for stuck runs.
type MockAgent struct {
	mu     sync.Mutex
	Result *Result
	Err    error
	Apply  func(workDir string) error
	Calls  []RunCall
}

var _ Agent = (*MockAgent)(nil)

// NewMockAgent creates a MockAgent that reports a successful run.
func NewMockAgent() *MockAgent {
	msg := "I believe the issue is fixed."
	return &MockAgent{Result: &Result{LastMessage: msg, Transcript: []string{msg}}}
}

func (m *MockAgent) Run(_ context.Context, instruction, workDir string) (*Result, error) {
	m.mu.Lock()
	m.Calls = append(m.Calls, RunCall{Instruction: instruction, WorkDir: workDir})
	m.mu.Unlock()

	if m.Apply != nil {
		if err := m.Apply(workDir); err != nil {
			return nil, err
		}
	}
	return m.Result, m.Err
}

// CallHistory returns a copy of all recorded runs.
func (m *MockAgent) CallHistory() []RunCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]RunCall, len(m.Calls))
	copy(out, m.Calls)
	return out
}

// MockSandbox is a test double for Sandbox that records what ran in it.
type MockSandbox struct {
	mu        sync.Mutex
	Connected bool
	Closed    bool
	Copies    map[string]string
	Commands  []string
	Output    string
	Err       error
}

var _ Sandbox = (*MockSandbox)(nil)

func (m *MockSandbox) Connect(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.Connected = true
	return nil
}

func (m *MockSandbox) CopyTo(_ context.Context, localDir, remoteDir string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	if m.Copies == nil {
		m.Copies = map[string]string{}
	}
	m.Copies[localDir] = remoteDir
	return nil
}

func (m *MockSandbox) RunAction(_ context.Context, command string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return "", m.Err
	}
	m.Commands = append(m.Commands, command)
	return m.Output, nil
}

func (m *MockSandbox) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Closed = true
	return nil
}
