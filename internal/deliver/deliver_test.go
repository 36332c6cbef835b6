package deliver

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/patchpilot/patchpilot/internal/config"
	"github.com/patchpilot/patchpilot/internal/llm"
	"github.com/patchpilot/patchpilot/internal/provider"
	"github.com/patchpilot/patchpilot/internal/repo"
	"github.com/patchpilot/patchpilot/internal/resolve"
)

// recordingAdapter fakes a platform, pushing to a local bare repo and
// recording every write operation.
type recordingAdapter struct {
	platform provider.Platform
	owner    string
	bareRepo string

	existing map[string]bool

	createdPR *provider.NewPullRequest
	comments  []string
	replies   [][2]string // threadID, reply
	reviewers []string
}

func (r *recordingAdapter) Platform() provider.Platform   { return r.platform }
func (r *recordingAdapter) IssueType() provider.IssueType { return provider.TypeIssue }
func (r *recordingAdapter) SetOwner(owner string)         { r.owner = owner }
func (r *recordingAdapter) BaseURL() string               { return "" }
func (r *recordingAdapter) DownloadURL() string           { return "" }
func (r *recordingAdapter) CloneURL() string              { return r.bareRepo }
func (r *recordingAdapter) AuthorizeURL() string          { return "" }
func (r *recordingAdapter) GraphQLURL() string            { return "" }
func (r *recordingAdapter) PullURL(n int) string {
	return "https://example.test/pull/" + strconv.Itoa(n)
}
func (r *recordingAdapter) CompareURL(branch string) string {
	return "https://example.test/" + r.owner + "/compare/" + branch
}
func (r *recordingAdapter) DefaultBranch(context.Context) (string, error) { return "main", nil }
func (r *recordingAdapter) BranchExists(_ context.Context, branch string) (bool, error) {
	return r.existing[branch], nil
}
func (r *recordingAdapter) CreatePullRequest(_ context.Context, pr provider.NewPullRequest) (*provider.PullRequest, error) {
	r.createdPR = &pr
	return &provider.PullRequest{Number: 99, URL: "https://example.test/pull/99"}, nil
}
func (r *recordingAdapter) RequestReviewers(_ context.Context, reviewer string, _ int) error {
	r.reviewers = append(r.reviewers, reviewer)
	return nil
}
func (r *recordingAdapter) ReplyToComment(_ context.Context, _ int, threadID, reply string) error {
	r.replies = append(r.replies, [2]string{threadID, reply})
	return nil
}
func (r *recordingAdapter) SendComment(_ context.Context, _ int, msg string) error {
	r.comments = append(r.comments, msg)
	return nil
}
func (r *recordingAdapter) EnrichReferencedIssues(_ context.Context, bodies []string, _ []int, _ provider.Issue) []string {
	return bodies
}
func (r *recordingAdapter) ConvertedIssues(context.Context, []int, int64) ([]provider.Issue, error) {
	return nil, nil
}

var _ provider.Adapter = (*recordingAdapter)(nil)

// newWorkspace builds output/repo with one commit plus a bare repo to push
// to, returning (outputDir, bareDir).
func newWorkspace(t *testing.T) (string, string) {
	t.Helper()
	ctx := t.Context()
	outputDir := t.TempDir()

	src := filepath.Join(outputDir, "repo")
	require.NoError(t, repo.Init(ctx, src))
	require.NoError(t, repo.EnsureIdentity(ctx, src, "tester", "tester@example.com"))
	require.NoError(t, os.WriteFile(filepath.Join(src, "main.go"), []byte("package main\n"), 0o644))
	ok, err := repo.HasStagedChanges(ctx, src)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, repo.Commit(ctx, src, "initial"))

	bare := filepath.Join(t.TempDir(), "origin.git")
	out, err := exec.CommandContext(ctx, "git", "init", "--bare", bare).CombinedOutput()
	require.NoError(t, err, string(out))
	return outputDir, bare
}

func prConfig() config.PRConfig {
	return config.PRConfig{
		Type:         config.PRTypeDraft,
		BranchPrefix: "patchpilot/fix-issue-",
		GitUserName:  "patchpilot",
		GitUserEmail: "patchpilot@users.noreply.github.com",
	}
}

const testPatch = `diff --git a/fix.txt b/fix.txt
new file mode 100644
--- /dev/null
+++ b/fix.txt
@@ -0,0 +1,1 @@
+fixed
`

func TestInitializeRepo(t *testing.T) {
	outputDir, _ := newWorkspace(t)

	dest, err := InitializeRepo(t.Context(), outputDir, 4, "issue", "")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(outputDir, "patches", "issue_4"), dest)
	assert.FileExists(t, filepath.Join(dest, "main.go"))
}

func TestInitializeRepo_MissingSource(t *testing.T) {
	_, err := InitializeRepo(t.Context(), t.TempDir(), 1, "issue", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not exist")
}

func TestMakeCommit_NoChangesIsFatal(t *testing.T) {
	outputDir, _ := newWorkspace(t)
	dest, err := InitializeRepo(t.Context(), outputDir, 1, "issue", "")
	require.NoError(t, err)

	err = MakeCommit(t.Context(), dest, provider.Issue{Number: 1, Title: "t"}, "issue", prConfig())
	require.ErrorIs(t, err, ErrNoChanges)
	assert.Contains(t, err.Error(), "no changes to commit")
}

func TestProcessSingleIssue_OpensPullRequest(t *testing.T) {
	outputDir, bare := newWorkspace(t)
	adapter := &recordingAdapter{
		platform: provider.PlatformGitHub,
		owner:    "acme",
		bareRepo: bare,
		existing: map[string]bool{},
	}

	out := &resolve.Output{
		Issue:             provider.Issue{Owner: "acme", Repo: "widget", Number: 5, Title: "fix the crash"},
		IssueType:         "issue",
		GitPatch:          testPatch,
		Success:           true,
		ResultExplanation: "Guarded the nil case.",
	}

	url, err := ProcessSingleIssue(t.Context(), outputDir, out, adapter, Options{PR: prConfig()})
	require.NoError(t, err)
	assert.Equal(t, "https://example.test/pull/99", url)

	require.NotNil(t, adapter.createdPR)
	assert.Equal(t, "Fix issue #5: fix the crash", adapter.createdPR.Title)
	assert.Equal(t, "patchpilot/fix-issue-5", adapter.createdPR.Head)
	assert.Equal(t, "main", adapter.createdPR.Base)
	assert.True(t, adapter.createdPR.Draft)
	assert.Contains(t, adapter.createdPR.Body, "This pull request fixes #5.")
	assert.Contains(t, adapter.createdPR.Body, "Guarded the nil case.")
}

func TestProcessSingleIssue_SkipsFailures(t *testing.T) {
	adapter := &recordingAdapter{}
	url, err := ProcessSingleIssue(t.Context(), t.TempDir(), &resolve.Output{
		Issue:   provider.Issue{Number: 8},
		Success: false,
	}, adapter, Options{PR: prConfig()})
	require.NoError(t, err)
	assert.Empty(t, url)
	assert.Nil(t, adapter.createdPR)
}

func TestSendPullRequest_BranchNameProbing(t *testing.T) {
	outputDir, bare := newWorkspace(t)
	dest, err := InitializeRepo(t.Context(), outputDir, 5, "issue", "")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dest, "f.txt"), []byte("x\n"), 0o644))
	require.NoError(t, MakeCommit(t.Context(), dest, provider.Issue{Number: 5, Title: "t"}, "issue", prConfig()))

	adapter := &recordingAdapter{
		platform: provider.PlatformGitHub,
		owner:    "acme",
		bareRepo: bare,
		existing: map[string]bool{
			"patchpilot/fix-issue-5":      true,
			"patchpilot/fix-issue-5-try2": true,
		},
	}

	_, err = SendPullRequest(t.Context(), adapter, provider.Issue{Owner: "acme", Repo: "w", Number: 5, Title: "t"}, dest, "", Options{PR: prConfig()})
	require.NoError(t, err)
	assert.Equal(t, "patchpilot/fix-issue-5-try3", adapter.createdPR.Head)
}

func TestSendPullRequest_BranchModeReturnsCompareURL(t *testing.T) {
	outputDir, bare := newWorkspace(t)
	dest, err := InitializeRepo(t.Context(), outputDir, 2, "issue", "")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dest, "f.txt"), []byte("x\n"), 0o644))
	require.NoError(t, MakeCommit(t.Context(), dest, provider.Issue{Number: 2, Title: "t"}, "issue", prConfig()))

	adapter := &recordingAdapter{platform: provider.PlatformGitHub, owner: "acme", bareRepo: bare, existing: map[string]bool{}}

	cfg := prConfig()
	cfg.Type = config.PRTypeBranch
	url, err := SendPullRequest(t.Context(), adapter, provider.Issue{Owner: "acme", Repo: "w", Number: 2, Title: "t"}, dest, "", Options{PR: cfg})
	require.NoError(t, err)
	assert.Equal(t, "https://example.test/acme/compare/patchpilot/fix-issue-2", url)
	assert.Nil(t, adapter.createdPR)
}

func TestSendPullRequest_ForkHeadAndReviewer(t *testing.T) {
	outputDir, bare := newWorkspace(t)
	dest, err := InitializeRepo(t.Context(), outputDir, 3, "issue", "")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dest, "f.txt"), []byte("x\n"), 0o644))
	require.NoError(t, MakeCommit(t.Context(), dest, provider.Issue{Number: 3, Title: "t"}, "issue", prConfig()))

	adapter := &recordingAdapter{platform: provider.PlatformGitHub, owner: "acme", bareRepo: bare, existing: map[string]bool{}}

	_, err = SendPullRequest(t.Context(), adapter, provider.Issue{Owner: "acme", Repo: "w", Number: 3, Title: "t"}, dest, "", Options{
		PR:        prConfig(),
		ForkOwner: "contributor",
		Reviewer:  "maintainer",
	})
	require.NoError(t, err)
	assert.Equal(t, "contributor:patchpilot/fix-issue-3", adapter.createdPR.Head)
	assert.Equal(t, []string{"maintainer"}, adapter.reviewers)
	assert.Equal(t, "contributor", adapter.owner)
}

func TestSendPullRequest_MissingTargetBranch(t *testing.T) {
	outputDir, bare := newWorkspace(t)
	dest, err := InitializeRepo(t.Context(), outputDir, 6, "issue", "")
	require.NoError(t, err)

	adapter := &recordingAdapter{platform: provider.PlatformGitHub, owner: "acme", bareRepo: bare, existing: map[string]bool{}}

	_, err = SendPullRequest(t.Context(), adapter, provider.Issue{Owner: "acme", Repo: "w", Number: 6, Title: "t"}, dest, "", Options{
		PR:           prConfig(),
		TargetBranch: "release-1.0",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "target branch release-1.0 does not exist")
}

func TestUpdateExistingPullRequest_RepliesMatchThreadOrder(t *testing.T) {
	outputDir, bare := newWorkspace(t)
	ctx := t.Context()

	// Give the workspace a head branch with a commit to push.
	src := filepath.Join(outputDir, "repo")
	require.NoError(t, repo.CheckoutNewBranch(ctx, src, "feature-1"))
	dest, err := InitializeRepo(ctx, outputDir, 7, "pr", "feature-1")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dest, "f.txt"), []byte("x\n"), 0o644))
	require.NoError(t, MakeCommit(ctx, dest, provider.Issue{Number: 7, Title: "t"}, "pr", prConfig()))

	adapter := &recordingAdapter{platform: provider.PlatformGitHub, owner: "acme", bareRepo: bare}
	iss := provider.Issue{
		Owner:      "acme",
		Repo:       "w",
		Number:     7,
		Title:      "t",
		HeadBranch: "feature-1",
		ThreadIDs:  []string{"thread-a", "thread-b"},
	}

	url, err := UpdateExistingPullRequest(ctx, adapter, iss, dest,
		`["Added the nil check.","Renamed the variable."]`, nil)
	require.NoError(t, err)
	assert.Equal(t, "https://example.test/pull/7", url)

	require.Len(t, adapter.replies, 2)
	assert.Equal(t, [2]string{"thread-a", "Added the nil check."}, adapter.replies[0])
	assert.Equal(t, [2]string{"thread-b", "Renamed the variable."}, adapter.replies[1])

	require.Len(t, adapter.comments, 1)
	assert.Contains(t, adapter.comments[0], "Added the nil check.")
	assert.Contains(t, adapter.comments[0], "Renamed the variable.")
}

func TestUpdateExistingPullRequest_MalformedExplanation(t *testing.T) {
	outputDir, bare := newWorkspace(t)
	ctx := t.Context()

	src := filepath.Join(outputDir, "repo")
	require.NoError(t, repo.CheckoutNewBranch(ctx, src, "feature-2"))
	dest, err := InitializeRepo(ctx, outputDir, 9, "pr", "feature-2")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dest, "f.txt"), []byte("x\n"), 0o644))
	require.NoError(t, MakeCommit(ctx, dest, provider.Issue{Number: 9, Title: "t"}, "pr", prConfig()))

	adapter := &recordingAdapter{platform: provider.PlatformGitHub, owner: "acme", bareRepo: bare}
	iss := provider.Issue{
		Owner: "acme", Repo: "w", Number: 9, Title: "t",
		HeadBranch: "feature-2",
		ThreadIDs:  []string{"thread-a"},
	}

	_, err = UpdateExistingPullRequest(ctx, adapter, iss, dest, "not json at all", nil)
	require.NoError(t, err)

	assert.Empty(t, adapter.replies)
	require.Len(t, adapter.comments, 2)
	assert.Contains(t, adapter.comments[0], "could not be parsed or summarized")
	assert.Contains(t, adapter.comments[1], "Error occurred when replying to threads")
}

func TestUpdateExistingPullRequest_SummarizerUsed(t *testing.T) {
	outputDir, bare := newWorkspace(t)
	ctx := t.Context()

	src := filepath.Join(outputDir, "repo")
	require.NoError(t, repo.CheckoutNewBranch(ctx, src, "feature-3"))
	dest, err := InitializeRepo(ctx, outputDir, 11, "pr", "feature-3")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dest, "f.txt"), []byte("x\n"), 0o644))
	require.NoError(t, MakeCommit(ctx, dest, provider.Issue{Number: 11, Title: "t"}, "pr", prConfig()))

	mock := llm.NewMockClient()
	mock.DefaultResult = "Tightened up error handling per review."

	adapter := &recordingAdapter{platform: provider.PlatformGitHub, owner: "acme", bareRepo: bare}
	iss := provider.Issue{Owner: "acme", Repo: "w", Number: 11, Title: "t", HeadBranch: "feature-3"}

	_, err = UpdateExistingPullRequest(ctx, adapter, iss, dest, `["Improved error handling."]`, mock)
	require.NoError(t, err)

	require.Len(t, adapter.comments, 1)
	assert.Equal(t, "Tightened up error handling per review.", adapter.comments[0])
	assert.Contains(t, mock.PromptHistory()[0], "Improved error handling.")
}
