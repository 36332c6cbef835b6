package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/patchpilot/patchpilot/internal/agent"
	"github.com/patchpilot/patchpilot/internal/classify"
	"github.com/patchpilot/patchpilot/internal/llm"
	"github.com/patchpilot/patchpilot/internal/provider"
	"github.com/patchpilot/patchpilot/internal/resolve"
)

var (
	resolveTarget    target
	resolveCommentID int64
	resolveOutputDir string

	batchTarget    target
	batchOutputDir string
	batchWorkers   int
)

func init() {
	resolveTarget.registerFlags(resolveCmd)
	resolveCmd.Flags().Int64Var(&resolveCommentID, "comment-id", 0, "Focus on a single comment by ID")
	resolveCmd.Flags().StringVar(&resolveOutputDir, "output-dir", "", "Directory for the workspace and resolution log")
	rootCmd.AddCommand(resolveCmd)

	batchTarget.registerFlags(batchCmd)
	batchCmd.Flags().StringVar(&batchOutputDir, "output-dir", "", "Directory for the workspace and resolution log")
	batchCmd.Flags().IntVar(&batchWorkers, "workers", 0, "Concurrent resolutions (default from config)")
	rootCmd.AddCommand(batchCmd)
}

var resolveCmd = &cobra.Command{
	Use:   "resolve <issue-number>",
	Short: "Resolve a single issue or pull request",
	Long: `Fetch one issue (or pull request, with --issue-type pr), run the coding
agent against a checkout, capture the resulting patch and classify whether
the feedback was addressed. The outcome is appended to output.jsonl.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		number, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid issue number %q", args[0])
		}
		return runResolve(cmd, resolveTarget, []int{number}, resolveCommentID, resolveOutputDir, 1)
	},
}

var batchCmd = &cobra.Command{
	Use:   "batch <issue-number>...",
	Short: "Resolve several issues with a worker pool",
	Long: `Resolve the given issue numbers concurrently. Issues already recorded in
output.jsonl are skipped, so an interrupted batch can be rerun as-is.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		numbers := make([]int, len(args))
		for i, arg := range args {
			n, err := strconv.Atoi(arg)
			if err != nil {
				return fmt.Errorf("invalid issue number %q", arg)
			}
			numbers[i] = n
		}
		return runResolve(cmd, batchTarget, numbers, 0, batchOutputDir, batchWorkers)
	},
}

func runResolve(cmd *cobra.Command, t target, numbers []int, commentID int64, outputDir string, workers int) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if outputDir == "" {
		outputDir = cfg.Resolver.OutputDir
	}
	if workers == 0 {
		workers = cfg.Resolver.Workers
	}

	adapter, err := t.adapter(cfg)
	if err != nil {
		return err
	}

	ctx := cmd.Context()

	client := llm.NewCopilotClient(cfg.LLM)
	if err := client.Start(ctx); err != nil {
		return fmt.Errorf("starting LLM client: %w", err)
	}
	defer client.Stop()

	coder := agent.NewCopilotAgent(cfg.LLM.Model)
	if err := coder.Start(ctx); err != nil {
		return fmt.Errorf("starting agent: %w", err)
	}
	defer coder.Stop()

	orch := &resolve.Orchestrator{
		Adapter:      adapter,
		Agent:        coder,
		Classifier:   classify.New(client),
		OutputDir:    outputDir,
		Workers:      workers,
		AgentTimeout: cfg.Resolver.ParseAgentTimeout(),
	}

	outputs, err := orch.Run(ctx, numbers, commentID)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	resolve.WriteSummary(out, outputs)
	if adapter.IssueType() == provider.TypePR {
		for _, o := range outputs {
			resolve.WriteThreadChecklist(out, o)
		}
	}
	return nil
}
