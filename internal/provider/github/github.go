package github

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	github_ratelimit "github.com/gofri/go-github-ratelimit/v2/github_ratelimit"
	gh "github.com/google/go-github/v82/github"
	"github.com/shurcooL/githubv4"
	"golang.org/x/oauth2"

	"github.com/patchpilot/patchpilot/internal/provider"
)

// replyPrefix heads every threaded reply so reviewers can tell automated
// responses apart from human ones.
const replyPrefix = "PatchPilot fix success summary\n\n\n"

// Adapter implements provider.Adapter (and provider.PRAdapter in PR mode)
// for GitHub. REST calls go through go-github with rate-limit middleware;
// review threads and thread replies need GraphQL, which the REST API does
// not expose.
type Adapter struct {
	client    *gh.Client
	gqlOnce   sync.Once
	gqlClient *githubv4.Client
	gqlURL    string // override for testing

	owner     string
	repo      string
	token     string
	username  string
	issueType provider.IssueType
}

// New creates a GitHub adapter for the given owner/repo operating in the
// given mode. Uses go-github-ratelimit middleware for automatic rate limit
// handling.
func New(owner, repo, token, username string, mode provider.IssueType) *Adapter {
	rateLimiter := github_ratelimit.NewClient(nil)
	client := gh.NewClient(rateLimiter).WithAuthToken(token)
	return &Adapter{
		client:    client,
		owner:     owner,
		repo:      repo,
		token:     token,
		username:  username,
		issueType: mode,
	}
}

func (a *Adapter) Platform() provider.Platform   { return provider.PlatformGitHub }
func (a *Adapter) IssueType() provider.IssueType { return a.issueType }

func (a *Adapter) SetOwner(owner string) {
	a.owner = owner
}

func (a *Adapter) BaseURL() string {
	return fmt.Sprintf("https://api.github.com/repos/%s/%s", a.owner, a.repo)
}

func (a *Adapter) DownloadURL() string {
	if a.issueType == provider.TypePR {
		return a.BaseURL() + "/pulls"
	}
	return a.BaseURL() + "/issues"
}

func (a *Adapter) CloneURL() string {
	credential := "x-auth-token:" + a.token
	if a.username != "" {
		credential = a.username + ":" + a.token
	}
	return fmt.Sprintf("https://%s@github.com/%s/%s.git", credential, a.owner, a.repo)
}

func (a *Adapter) AuthorizeURL() string {
	return fmt.Sprintf("https://%s:%s@github.com/", a.username, a.token)
}

func (a *Adapter) GraphQLURL() string {
	return "https://api.github.com/graphql"
}

func (a *Adapter) PullURL(prNumber int) string {
	return fmt.Sprintf("https://github.com/%s/%s/pull/%d", a.owner, a.repo, prNumber)
}

func (a *Adapter) CompareURL(branch string) string {
	return fmt.Sprintf("https://github.com/%s/%s/compare/%s?expand=1", a.owner, a.repo, branch)
}

// DefaultBranch returns the repository's default branch name.
func (a *Adapter) DefaultBranch(ctx context.Context) (string, error) {
	repo, _, err := a.client.Repositories.Get(ctx, a.owner, a.repo)
	if err != nil {
		return "", fmt.Errorf("getting repository: %w", err)
	}
	return repo.GetDefaultBranch(), nil
}

// BranchExists reports whether the branch exists in the repository.
func (a *Adapter) BranchExists(ctx context.Context, branch string) (bool, error) {
	_, resp, err := a.client.Repositories.GetBranch(ctx, a.owner, a.repo, branch, 0)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return false, nil
		}
		return false, fmt.Errorf("checking branch %s: %w", branch, err)
	}
	return true, nil
}

// CreatePullRequest opens a pull request. HTTP 403 is surfaced as
// provider.ErrPermissionDenied.
func (a *Adapter) CreatePullRequest(ctx context.Context, pr provider.NewPullRequest) (*provider.PullRequest, error) {
	created, resp, err := a.client.PullRequests.Create(ctx, a.owner, a.repo, &gh.NewPullRequest{
		Title: gh.Ptr(pr.Title),
		Body:  gh.Ptr(pr.Body),
		Head:  gh.Ptr(pr.Head),
		Base:  gh.Ptr(pr.Base),
		Draft: gh.Ptr(pr.Draft),
	})
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusForbidden {
			return nil, provider.ErrPermissionDenied
		}
		return nil, fmt.Errorf("creating pull request: %w", err)
	}
	return &provider.PullRequest{
		Number: created.GetNumber(),
		URL:    created.GetHTMLURL(),
	}, nil
}

func (a *Adapter) RequestReviewers(ctx context.Context, reviewer string, prNumber int) error {
	_, _, err := a.client.PullRequests.RequestReviewers(ctx, a.owner, a.repo, prNumber, gh.ReviewersRequest{
		Reviewers: []string{reviewer},
	})
	if err != nil {
		return fmt.Errorf("requesting review from %s: %w", reviewer, err)
	}
	return nil
}

func (a *Adapter) SendComment(ctx context.Context, issueNumber int, msg string) error {
	_, _, err := a.client.Issues.CreateComment(ctx, a.owner, a.repo, issueNumber, &gh.IssueComment{
		Body: gh.Ptr(msg),
	})
	if err != nil {
		return fmt.Errorf("posting comment: %w", err)
	}
	return nil
}

// EnrichReferencedIssues fetches bodies of issues referenced as #N outside
// the closing set. Issue mode has no closing set to extend, so it returns
// the input unchanged.
func (a *Adapter) EnrichReferencedIssues(ctx context.Context, closingBodies []string, closingNumbers []int, iss provider.Issue) []string {
	if a.issueType != provider.TypePR {
		return closingBodies
	}
	for _, number := range provider.CollectIssueReferences(iss, closingNumbers) {
		referenced, _, err := a.client.Issues.Get(ctx, a.owner, a.repo, number)
		if err != nil {
			slog.Warn("could not fetch referenced issue", "number", number, "error", err)
			continue
		}
		if body := referenced.GetBody(); body != "" {
			closingBodies = append(closingBodies, body)
		}
	}
	return closingBodies
}

// ConvertedIssues downloads the given issue or PR numbers and converts them
// to the canonical form.
func (a *Adapter) ConvertedIssues(ctx context.Context, numbers []int, commentID int64) ([]provider.Issue, error) {
	if len(numbers) == 0 {
		return nil, errors.New("unspecified issue numbers")
	}
	if a.issueType == provider.TypePR {
		return a.convertedPRs(ctx, numbers, commentID)
	}
	return a.convertedIssues(ctx, numbers, commentID)
}

func (a *Adapter) convertedIssues(ctx context.Context, numbers []int, commentID int64) ([]provider.Issue, error) {
	wanted := numberSet(numbers)

	opts := &gh.IssueListByRepoOptions{
		State:       "open",
		ListOptions: gh.ListOptions{PerPage: 100},
	}
	var selected []*gh.Issue
	for {
		issues, resp, err := a.client.Issues.ListByRepo(ctx, a.owner, a.repo, opts)
		if err != nil {
			return nil, fmt.Errorf("listing issues: %w", err)
		}
		for _, iss := range issues {
			if iss.IsPullRequest() || !wanted[iss.GetNumber()] {
				continue
			}
			selected = append(selected, iss)
		}
		if resp.NextPage == 0 {
			break
		}
		opts.ListOptions.Page = resp.NextPage
	}

	if len(numbers) == 1 && len(selected) == 0 {
		return nil, fmt.Errorf("issue %d not found", numbers[0])
	}

	var converted []provider.Issue
	for _, iss := range selected {
		if iss.Number == nil || iss.Title == nil {
			slog.Warn("skipping issue missing number or title", "issue", iss.GetNumber())
			continue
		}

		comments, err := a.issueComments(ctx, iss.GetNumber(), commentID)
		if err != nil {
			return nil, err
		}

		converted = append(converted, provider.Issue{
			Owner:          a.owner,
			Repo:           a.repo,
			Number:         iss.GetNumber(),
			Title:          iss.GetTitle(),
			Body:           iss.GetBody(),
			ThreadComments: comments,
		})
	}
	return converted, nil
}

func (a *Adapter) convertedPRs(ctx context.Context, numbers []int, commentID int64) ([]provider.Issue, error) {
	wanted := numberSet(numbers)

	opts := &gh.PullRequestListOptions{
		State:       "open",
		ListOptions: gh.ListOptions{PerPage: 100},
	}
	var selected []*gh.PullRequest
	for {
		prs, resp, err := a.client.PullRequests.List(ctx, a.owner, a.repo, opts)
		if err != nil {
			return nil, fmt.Errorf("listing pull requests: %w", err)
		}
		for _, pr := range prs {
			if wanted[pr.GetNumber()] {
				selected = append(selected, pr)
			}
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	var converted []provider.Issue
	for _, pr := range selected {
		if pr.Number == nil || pr.Title == nil {
			slog.Warn("skipping pull request missing number or title", "pr", pr.GetNumber())
			continue
		}

		meta, err := a.DownloadPRMetadata(ctx, pr.GetNumber(), commentID)
		if err != nil {
			return nil, err
		}

		comments, err := a.issueComments(ctx, pr.GetNumber(), commentID)
		if err != nil {
			return nil, err
		}

		iss := provider.Issue{
			Owner:          a.owner,
			Repo:           a.repo,
			Number:         pr.GetNumber(),
			Title:          pr.GetTitle(),
			Body:           pr.GetBody(),
			ThreadComments: comments,
			ClosingIssues:  meta.ClosingIssueBodies,
			ReviewComments: meta.ReviewBodies,
			ReviewThreads:  meta.ReviewThreads,
			ThreadIDs:      meta.ThreadIDs,
			HeadBranch:     pr.GetHead().GetRef(),
			BaseBranch:     pr.GetBase().GetRef(),
		}
		iss.ClosingIssues = a.EnrichReferencedIssues(ctx, iss.ClosingIssues, meta.ClosingIssueNumbers, iss)
		converted = append(converted, iss)
	}
	return converted, nil
}

// issueComments downloads the general comment bodies for an issue or PR.
// When commentID is non-zero, only the matching comment is returned.
func (a *Adapter) issueComments(ctx context.Context, number int, commentID int64) ([]string, error) {
	opts := &gh.IssueListCommentsOptions{
		ListOptions: gh.ListOptions{PerPage: 100},
	}
	var bodies []string
	for {
		comments, resp, err := a.client.Issues.ListComments(ctx, a.owner, a.repo, number, opts)
		if err != nil {
			return nil, fmt.Errorf("listing comments for #%d: %w", number, err)
		}
		for _, c := range comments {
			if commentID != 0 {
				if c.GetID() == commentID {
					return []string{c.GetBody()}, nil
				}
				continue
			}
			bodies = append(bodies, c.GetBody())
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	if commentID != 0 {
		return nil, nil
	}
	return bodies, nil
}

func numberSet(numbers []int) map[int]bool {
	set := make(map[int]bool, len(numbers))
	for _, n := range numbers {
		set[n] = true
	}
	return set
}

// gql returns (and lazily creates) the GitHub GraphQL client.
func (a *Adapter) gql(ctx context.Context) *githubv4.Client {
	a.gqlOnce.Do(func() {
		ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: a.token})
		httpClient := oauth2.NewClient(ctx, ts)
		if a.gqlURL != "" {
			a.gqlClient = githubv4.NewEnterpriseClient(a.gqlURL, httpClient)
			return
		}
		a.gqlClient = githubv4.NewClient(httpClient)
	})
	return a.gqlClient
}

var (
	_ provider.Adapter   = (*Adapter)(nil)
	_ provider.PRAdapter = (*Adapter)(nil)
)
