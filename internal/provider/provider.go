package provider

import (
	"context"
	"errors"
	"fmt"
)

// ErrPermissionDenied is returned when the hosting platform rejects a write
// operation with HTTP 403. The token almost always lacks push scope for the
// target repository.
var ErrPermissionDenied = errors.New(
	"permission denied: make sure the provided token has push permissions for the repository")

// ErrUnsupported is returned when a platform doesn't support a given operation.
var ErrUnsupported = errors.New("operation not supported by this platform")

// Platform identifies a Git hosting service.
type Platform string

const (
	PlatformGitHub      Platform = "github"
	PlatformGitLab      Platform = "gitlab"
	PlatformBitbucket   Platform = "bitbucket"
	PlatformAzureDevOps Platform = "azuredevops"
	PlatformForgejo     Platform = "forgejo"
)

// IssueType distinguishes plain tracker issues from pull requests.
type IssueType string

const (
	TypeIssue IssueType = "issue"
	TypePR    IssueType = "pr"
)

// Issue is the canonical cross-platform representation of a tracker item or
// pull request. Adapters build it once at the API boundary; the rest of the
// pipeline passes it by value and never mutates it.
type Issue struct {
	Owner          string         `json:"owner"`
	Repo           string         `json:"repo"`
	Number         int            `json:"number"`
	Title          string         `json:"title"`
	Body           string         `json:"body"`
	ThreadComments []string       `json:"thread_comments,omitempty"`
	ClosingIssues  []string       `json:"closing_issues,omitempty"`
	ReviewComments []string       `json:"review_comments,omitempty"`
	ReviewThreads  []ReviewThread `json:"review_threads,omitempty"`
	ThreadIDs      []string       `json:"thread_ids,omitempty"`
	HeadBranch     string         `json:"head_branch,omitempty"`
	BaseBranch     string         `json:"base_branch,omitempty"`
}

// ReviewThread is a file-scoped review conversation. Comment holds all
// comments joined by newlines with the final entry prefixed
// "latest feedback:"; Files lists the distinct paths the thread touches,
// in first-seen order.
type ReviewThread struct {
	Comment string   `json:"comment"`
	Files   []string `json:"files"`
}

// PRMetadata is the per-pull-request detail a PR-mode adapter retrieves:
// referenced closing issues, top-level review bodies (nil on platforms that
// have no such concept), and the unresolved review threads with their opaque
// reply targets. ThreadIDs[i] is the reply target for ReviewThreads[i].
type PRMetadata struct {
	ClosingIssueBodies  []string
	ClosingIssueNumbers []int
	ReviewBodies        []string
	ReviewThreads       []ReviewThread
	ThreadIDs           []string
}

// NewPullRequest carries the fields needed to open a pull request.
type NewPullRequest struct {
	Title string
	Body  string
	Head  string
	Base  string
	Draft bool
}

// PullRequest is the result of creating a pull request.
type PullRequest struct {
	Number int
	URL    string
}

// Adapter is the full capability set every platform implements. One concrete
// type exists per platform; PR-mode variants additionally implement PRAdapter.
type Adapter interface {
	// Platform returns the platform identifier.
	Platform() Platform

	// IssueType reports whether this adapter operates on issues or PRs.
	IssueType() IssueType

	// SetOwner switches the owner used to build URLs, e.g. to push to a fork.
	SetOwner(owner string)

	// BaseURL returns the API root for the configured repository.
	BaseURL() string

	// DownloadURL returns the listing endpoint for issues or PRs.
	DownloadURL() string

	// CloneURL returns an authenticated HTTPS clone URL.
	CloneURL() string

	// AuthorizeURL returns the credential-bearing URL prefix for git pushes.
	AuthorizeURL() string

	// GraphQLURL returns the platform GraphQL endpoint, or "" if none exists.
	GraphQLURL() string

	// PullURL returns the web URL of a pull request.
	PullURL(prNumber int) string

	// CompareURL returns the web URL for comparing a branch against the base.
	CompareURL(branch string) string

	// DefaultBranch returns the repository's default branch name.
	DefaultBranch(ctx context.Context) (string, error)

	// BranchExists reports whether the branch exists in the repository.
	BranchExists(ctx context.Context, branch string) (bool, error)

	// CreatePullRequest opens a pull request. A 403 from the platform is
	// surfaced as ErrPermissionDenied.
	CreatePullRequest(ctx context.Context, pr NewPullRequest) (*PullRequest, error)

	// RequestReviewers asks the given user to review the pull request.
	// Failures are non-fatal and logged by implementations.
	RequestReviewers(ctx context.Context, reviewer string, prNumber int) error

	// ReplyToComment posts a reply on a review thread. threadID is the opaque
	// reply target recorded in Issue.ThreadIDs.
	ReplyToComment(ctx context.Context, prNumber int, threadID, reply string) error

	// SendComment posts a plain comment on an issue or pull request.
	SendComment(ctx context.Context, issueNumber int, msg string) error

	// EnrichReferencedIssues scans the issue body, review comments and thread
	// text for #N references that are not already in closingNumbers, fetches
	// each referenced issue body best-effort, and returns closingBodies
	// extended with them. Fetch failures are logged and skipped; this never
	// returns an error.
	EnrichReferencedIssues(ctx context.Context, closingBodies []string, closingNumbers []int, issue Issue) []string

	// ConvertedIssues downloads the given issue/PR numbers and converts them
	// to canonical Issues. Fails when numbers is empty. Items missing a
	// number or title are skipped with a warning; a missing body becomes "".
	// When commentID is non-zero, thread comments are narrowed to that
	// comment and review threads are kept only if they contain it.
	ConvertedIssues(ctx context.Context, numbers []int, commentID int64) ([]Issue, error)
}

// PRAdapter is implemented by adapters operating in PR mode.
type PRAdapter interface {
	Adapter

	// DownloadPRMetadata retrieves closing-issue references, review bodies and
	// unresolved review threads for one pull request.
	DownloadPRMetadata(ctx context.Context, prNumber int, commentID int64) (*PRMetadata, error)
}

// maxBranchProbes bounds branch-name probing so a pathological remote can't
// spin the loop forever.
const maxBranchProbes = 100

// UniqueBranchName probes base, base-try2, base-try3, … against BranchExists
// and returns the first free name. It never returns a name that exists.
func UniqueBranchName(ctx context.Context, a Adapter, base string) (string, error) {
	name := base
	for attempt := 1; attempt <= maxBranchProbes; attempt++ {
		exists, err := a.BranchExists(ctx, name)
		if err != nil {
			return "", fmt.Errorf("checking branch %s: %w", name, err)
		}
		if !exists {
			return name, nil
		}
		name = fmt.Sprintf("%s-try%d", base, attempt+1)
	}
	return "", fmt.Errorf("no free branch name for %s after %d attempts", base, maxBranchProbes)
}
