package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	sdk "github.com/github/copilot-sdk/go"
)

// ErrStuck is returned when the agent stopped making progress before
// finishing. It marks the run as failed without aborting the whole batch.
var ErrStuck = errors.New("agent got stuck in a loop")

// ErrFatal is returned when the agent runtime itself broke down, as opposed
// to the agent finishing without solving the task. Callers record a fixed
// diagnostic instead of classifying the run.
var ErrFatal = errors.New("agent runtime failure")

// Result is the outcome of one agent run.
type Result struct {
	// Transcript is the ordered assistant output observed during the run.
	Transcript []string
	// LastMessage is the agent's final message, fed to the success classifier.
	LastMessage string
	// Metrics is run accounting reported by the runtime.
	Metrics map[string]any
}

// Agent runs a coding agent against a workspace until it finishes or fails.
type Agent interface {
	// Run executes the instruction in workDir. A partial Result can
	// accompany ErrStuck, carrying whatever the agent produced before
	// stalling.
	Run(ctx context.Context, instruction, workDir string) (*Result, error)
}

// Sandbox is an isolated execution environment for agent runs. The Copilot
// agent works directly in the workspace directory and does not need one;
// the interface exists for runtimes that execute in a container or remote
// host.
type Sandbox interface {
	// Connect establishes the environment, creating it if needed.
	Connect(ctx context.Context) error
	// CopyTo transfers a local directory into the environment.
	CopyTo(ctx context.Context, localDir, remoteDir string) error
	// RunAction executes a shell command inside the environment.
	RunAction(ctx context.Context, command string) (string, error)
	// Close tears the environment down.
	Close() error
}

// CopilotAgent drives a GitHub Copilot session as the coding agent.
type CopilotAgent struct {
	sdk     *sdk.Client
	model   string
	mu      sync.Mutex
	started bool
}

var _ Agent = (*CopilotAgent)(nil)

// NewCopilotAgent creates an agent using the given model.
func NewCopilotAgent(model string) *CopilotAgent {
	return &CopilotAgent{model: model}
}

// Start initializes the underlying SDK client.
func (a *CopilotAgent) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.started {
		return nil
	}
	a.sdk = sdk.NewClient(nil)
	if err := a.sdk.Start(ctx); err != nil {
		return fmt.Errorf("starting agent SDK: %w", err)
	}
	a.started = true
	slog.Info("copilot agent started", "model", a.model)
	return nil
}

// Stop shuts down the SDK client.
func (a *CopilotAgent) Stop() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.sdk != nil {
		return a.sdk.Stop()
	}
	return nil
}

// Run sends the instruction in a fresh session rooted at workDir and waits
// for the agent to finish. An empty final message is treated as the agent
// having stalled; the partial Result is still returned so the run can be
// recorded and classified.
func (a *CopilotAgent) Run(ctx context.Context, instruction, workDir string) (*Result, error) {
	a.mu.Lock()
	started := a.started
	a.mu.Unlock()
	if !started {
		return nil, fmt.Errorf("agent not started")
	}

	start := time.Now()
	slog.Debug("starting agent session", "model", a.model, "workDir", workDir)
	session, err := a.sdk.CreateSession(ctx, &sdk.SessionConfig{
		Model:               a.model,
		OnPermissionRequest: sdk.PermissionHandler.ApproveAll,
	})
	if err != nil {
		return nil, fmt.Errorf("creating agent session: %w: %w", ErrFatal, err)
	}
	defer func() { _ = session.Destroy() }()

	resp, err := session.SendAndWait(ctx, sdk.MessageOptions{Prompt: instruction})
	if err != nil {
		return nil, fmt.Errorf("agent run failed: %w", err)
	}

	res := &Result{
		Metrics: map[string]any{
			"model":            a.model,
			"duration_seconds": time.Since(start).Seconds(),
		},
	}
	if resp != nil && resp.Data.Content != nil && *resp.Data.Content != "" {
		res.Transcript = append(res.Transcript, *resp.Data.Content)
	}
	if len(res.Transcript) == 0 {
		return res, ErrStuck
	}
	res.LastMessage = res.Transcript[len(res.Transcript)-1]
	return res, nil
}
