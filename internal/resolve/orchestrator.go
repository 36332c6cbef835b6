package resolve

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/patchpilot/patchpilot/internal/agent"
	"github.com/patchpilot/patchpilot/internal/classify"
	"github.com/patchpilot/patchpilot/internal/issue"
	"github.com/patchpilot/patchpilot/internal/provider"
	"github.com/patchpilot/patchpilot/internal/repo"
)

// State names the phases one issue moves through during resolution.
type State string

const (
	StateFetching       State = "fetching"
	StateInitializing   State = "initializing"
	StateAgentRunning   State = "agent_running"
	StateCapturingPatch State = "capturing_patch"
	StateClassifying    State = "classifying_success"
	StateDone           State = "done"
	StateFailed         State = "failed"
)

// Orchestrator drives issues through fetch, workspace setup, agent run,
// patch capture and success classification, logging one Output per issue.
type Orchestrator struct {
	Adapter      provider.Adapter
	Agent        agent.Agent
	Classifier   *classify.Classifier
	OutputDir    string
	Workers      int
	AgentTimeout time.Duration
}

// Run resolves the given issue numbers. Issues already present in the
// output log are skipped, so an interrupted batch can be rerun as-is.
func (o *Orchestrator) Run(ctx context.Context, numbers []int, commentID int64) ([]Output, error) {
	if err := os.MkdirAll(o.OutputDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating output dir: %w", err)
	}
	outputPath := OutputPath(o.OutputDir)

	done, err := ResolvedNumbers(outputPath)
	if err != nil {
		return nil, err
	}

	slog.Info("fetching issues", "state", StateFetching, "numbers", numbers)
	issues, err := o.Adapter.ConvertedIssues(ctx, numbers, commentID)
	if err != nil {
		return nil, fmt.Errorf("fetching issues: %w", err)
	}
	if commentID != 0 {
		for _, iss := range issues {
			if !hasCommentContext(iss) {
				return nil, fmt.Errorf("issue %d has no comment with id %d", iss.Number, commentID)
			}
		}
	}

	pending := issues[:0:0]
	for _, iss := range issues {
		if done[iss.Number] {
			slog.Info("issue already resolved in a previous run, skipping", "issue", iss.Number)
			continue
		}
		pending = append(pending, iss)
	}
	if len(pending) == 0 {
		return nil, nil
	}

	checkoutDir := filepath.Join(o.OutputDir, "repo")
	if _, err := os.Stat(checkoutDir); err != nil {
		slog.Info("cloning repository", "url", o.Adapter.BaseURL(), "dest", checkoutDir)
		if err := repo.Clone(ctx, o.Adapter.CloneURL(), checkoutDir); err != nil {
			return nil, fmt.Errorf("cloning repository: %w", err)
		}
	}
	repoInstruction := issue.LoadRepoInstruction(checkoutDir)

	workers := o.Workers
	if workers < 1 {
		workers = 1
	}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		results []Output
	)
	sem := make(chan struct{}, workers)

	for _, iss := range pending {
		wg.Add(1)
		go func(iss provider.Issue) {
			defer wg.Done()

			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				return
			}

			out := o.resolveOne(ctx, iss, checkoutDir, repoInstruction)
			if err := AppendOutput(outputPath, &out); err != nil {
				slog.Error("writing resolution output", "issue", iss.Number, "error", err)
			}
			mu.Lock()
			results = append(results, out)
			mu.Unlock()
		}(iss)
	}
	wg.Wait()

	return results, ctx.Err()
}

// hasCommentContext reports whether narrowing to a single comment left any
// feedback to work from.
func hasCommentContext(iss provider.Issue) bool {
	return len(iss.ThreadComments) > 0 || len(iss.ReviewThreads) > 0 || len(iss.ReviewComments) > 0
}

// resolveOne runs the full pipeline for a single issue. It always returns
// an Output; failures are recorded in its Error field.
func (o *Orchestrator) resolveOne(ctx context.Context, iss provider.Issue, checkoutDir, repoInstruction string) Output {
	mode := o.Adapter.IssueType()
	out := Output{Issue: iss, IssueType: string(mode)}
	log := slog.With("issue", iss.Number)

	fail := func(err error) Output {
		log.Error("resolution failed", "state", StateFailed, "error", err)
		out.Error = err.Error()
		return out
	}

	log.Info("preparing workspace", "state", StateInitializing)
	workspace := filepath.Join(o.OutputDir, "workspace", fmt.Sprintf("%s-%d", mode, iss.Number))
	if err := repo.CopyTree(checkoutDir, workspace); err != nil {
		return fail(fmt.Errorf("preparing workspace: %w", err))
	}
	if mode == provider.TypePR && iss.HeadBranch != "" {
		if err := repo.Fetch(ctx, workspace, iss.HeadBranch); err != nil {
			return fail(fmt.Errorf("fetching PR branch: %w", err))
		}
		if err := repo.Checkout(ctx, workspace, iss.HeadBranch); err != nil {
			return fail(fmt.Errorf("checking out PR branch: %w", err))
		}
	}

	baseCommit, err := repo.CurrentCommit(ctx, workspace)
	if err != nil {
		return fail(fmt.Errorf("reading base commit: %w", err))
	}
	out.BaseCommit = baseCommit

	instruction, err := issue.BuildInstruction(iss, mode, repoInstruction)
	if err != nil {
		return fail(fmt.Errorf("building instruction: %w", err))
	}
	out.Instruction = instruction

	log.Info("running agent", "state", StateAgentRunning)
	agentCtx := ctx
	if o.AgentTimeout > 0 {
		var cancel context.CancelFunc
		agentCtx, cancel = context.WithTimeout(ctx, o.AgentTimeout)
		defer cancel()
	}
	result, agentErr := o.Agent.Run(agentCtx, instruction, workspace)
	if result != nil {
		out.History = result.Transcript
		out.Metrics = result.Metrics
	}

	log.Info("capturing patch", "state", StateCapturingPatch)
	patch, patchErr := repo.CapturePatch(ctx, workspace, baseCommit)
	if patchErr == nil {
		out.GitPatch = patch
	}

	// A stuck agent is a normal terminal state: the error is recorded but
	// whatever it produced still gets classified. Only a runtime breakdown
	// skips classification.
	switch {
	case errors.Is(agentErr, agent.ErrFatal):
		out.ResultExplanation = "The agent runtime failed before producing a result"
		return fail(fmt.Errorf("agent run: %w", agentErr))
	case errors.Is(agentErr, agent.ErrStuck):
		log.Warn("agent got stuck in a loop, classifying what it produced")
		out.Error = agentErr.Error()
	case agentErr != nil:
		return fail(fmt.Errorf("agent run: %w", agentErr))
	}
	if patchErr != nil {
		return fail(fmt.Errorf("capturing patch: %w", patchErr))
	}

	var lastMessage string
	if result != nil {
		lastMessage = result.LastMessage
	}

	log.Info("classifying result", "state", StateClassifying)
	var verdict classify.Result
	if mode == provider.TypePR {
		verdict, err = o.Classifier.GuessPRSuccess(ctx, iss, lastMessage, patch)
	} else {
		verdict, err = o.Classifier.GuessIssueSuccess(ctx, iss, lastMessage, patch)
	}
	if err != nil {
		return fail(fmt.Errorf("classifying result: %w", err))
	}

	out.Success = verdict.Success
	out.CommentSuccess = verdict.SuccessList
	out.ResultExplanation = verdict.Explanation
	log.Info("resolution finished", "state", StateDone, "success", out.Success)
	return out
}
