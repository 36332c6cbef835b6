package forgejo

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/patchpilot/patchpilot/internal/provider"
)

// DefaultDomain is used when no instance domain is configured. Codeberg is
// the largest public Forgejo instance.
const DefaultDomain = "codeberg.org"

const pageSize = 50

// Adapter implements provider.Adapter (and provider.PRAdapter in PR mode)
// for Forgejo instances. Forgejo has no GraphQL endpoint and no threaded
// review replies, so everything is plain REST.
type Adapter struct {
	httpClient *http.Client
	owner      string
	repo       string
	token      string
	username   string
	domain     string
	issueType  provider.IssueType
	apiBase    string // override for testing
}

// New creates a Forgejo adapter. domain selects the instance; empty means
// codeberg.org.
func New(owner, repo, token, username, domain string, mode provider.IssueType) *Adapter {
	if domain == "" {
		domain = DefaultDomain
	}
	return &Adapter{
		httpClient: &http.Client{Timeout: 120 * time.Second},
		owner:      owner,
		repo:       repo,
		token:      token,
		username:   username,
		domain:     domain,
		issueType:  mode,
	}
}

func (a *Adapter) Platform() provider.Platform   { return provider.PlatformForgejo }
func (a *Adapter) IssueType() provider.IssueType { return a.issueType }

func (a *Adapter) SetOwner(owner string) {
	a.owner = owner
}

func (a *Adapter) apiRoot() string {
	if a.apiBase != "" {
		return a.apiBase
	}
	return fmt.Sprintf("https://%s/api/v1", a.domain)
}

func (a *Adapter) BaseURL() string {
	return fmt.Sprintf("%s/repos/%s/%s", a.apiRoot(), a.owner, a.repo)
}

func (a *Adapter) DownloadURL() string {
	if a.issueType == provider.TypePR {
		return a.BaseURL() + "/pulls"
	}
	return a.BaseURL() + "/issues"
}

func (a *Adapter) CloneURL() string {
	credential := "x-access-token:" + a.token
	if a.username != "" {
		credential = a.username + ":" + a.token
	}
	return fmt.Sprintf("https://%s@%s/%s/%s.git", credential, a.domain, a.owner, a.repo)
}

func (a *Adapter) AuthorizeURL() string {
	credential := "x-auth-token:" + a.token
	if a.username != "" {
		credential = a.username + ":" + a.token
	}
	return fmt.Sprintf("https://%s@%s/", credential, a.domain)
}

// GraphQLURL returns "": Forgejo does not expose a GraphQL endpoint.
func (a *Adapter) GraphQLURL() string {
	return ""
}

func (a *Adapter) PullURL(prNumber int) string {
	return fmt.Sprintf("https://%s/%s/%s/pulls/%d", a.domain, a.owner, a.repo, prNumber)
}

func (a *Adapter) CompareURL(branch string) string {
	return fmt.Sprintf("https://%s/%s/%s/compare/%s", a.domain, a.owner, a.repo, branch)
}

func (a *Adapter) DefaultBranch(ctx context.Context) (string, error) {
	var repo fjRepository
	if err := a.getJSON(ctx, a.BaseURL(), &repo); err != nil {
		return "", fmt.Errorf("getting repository: %w", err)
	}
	return repo.DefaultBranch, nil
}

func (a *Adapter) BranchExists(ctx context.Context, branch string) (bool, error) {
	endpoint := fmt.Sprintf("%s/branches/%s", a.BaseURL(), url.PathEscape(branch))
	resp, err := a.do(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return false, fmt.Errorf("checking branch %s: %w", branch, err)
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK, nil
}

// CreatePullRequest opens a pull request. Forgejo has no draft flag on this
// endpoint; the draft state is conveyed with the title prefix convention.
func (a *Adapter) CreatePullRequest(ctx context.Context, pr provider.NewPullRequest) (*provider.PullRequest, error) {
	title := pr.Title
	if pr.Draft {
		title = "WIP: " + title
	}
	resp, err := a.do(ctx, http.MethodPost, a.BaseURL()+"/pulls", fjCreatePullRequest{
		Title: title,
		Body:  pr.Body,
		Head:  pr.Head,
		Base:  pr.Base,
	})
	if err != nil {
		return nil, fmt.Errorf("creating pull request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusForbidden {
		return nil, provider.ErrPermissionDenied
	}
	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return nil, a.parseError(resp)
	}

	var created fjPullRequest
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		return nil, fmt.Errorf("decoding pull request response: %w", err)
	}
	number := created.Number
	if number == 0 {
		number = created.Index
	}
	htmlURL := created.HTMLURL
	if htmlURL == "" {
		htmlURL = a.PullURL(number)
	}
	return &provider.PullRequest{Number: number, URL: htmlURL}, nil
}

func (a *Adapter) RequestReviewers(ctx context.Context, reviewer string, prNumber int) error {
	endpoint := fmt.Sprintf("%s/pulls/%d/requested_reviewers", a.BaseURL(), prNumber)
	resp, err := a.do(ctx, http.MethodPost, endpoint, map[string]any{
		"reviewers": []string{reviewer},
	})
	if err != nil {
		return fmt.Errorf("requesting review from %s: %w", reviewer, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusNoContent {
		return a.parseError(resp)
	}
	return nil
}

// ReplyToComment posts a regular comment referencing the original comment
// ID. Forgejo's API has no threaded replies.
func (a *Adapter) ReplyToComment(ctx context.Context, prNumber int, threadID, reply string) error {
	msg := fmt.Sprintf("PatchPilot reply to comment %s\n\n%s", threadID, reply)
	return a.SendComment(ctx, prNumber, msg)
}

func (a *Adapter) SendComment(ctx context.Context, issueNumber int, msg string) error {
	endpoint := fmt.Sprintf("%s/issues/%d/comments", a.BaseURL(), issueNumber)
	resp, err := a.do(ctx, http.MethodPost, endpoint, map[string]string{"body": msg})
	if err != nil {
		return fmt.Errorf("posting comment: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return a.parseError(resp)
	}
	return nil
}

func (a *Adapter) EnrichReferencedIssues(ctx context.Context, closingBodies []string, closingNumbers []int, iss provider.Issue) []string {
	if a.issueType != provider.TypePR {
		return closingBodies
	}
	for _, number := range provider.CollectIssueReferences(iss, closingNumbers) {
		var referenced fjIssue
		endpoint := fmt.Sprintf("%s/issues/%d", a.BaseURL(), number)
		if err := a.getJSON(ctx, endpoint, &referenced); err != nil {
			slog.Warn("could not fetch referenced issue", "number", number, "error", err)
			continue
		}
		if referenced.Body != "" {
			closingBodies = append(closingBodies, referenced.Body)
		}
	}
	return closingBodies
}

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
	wanted := make(map[int]bool, len(numbers))
	for _, n := range numbers {
		wanted[n] = true
	}

	var selected []fjIssue
	for page := 1; ; page++ {
		endpoint := fmt.Sprintf("%s/issues?state=open&limit=%d&page=%d", a.BaseURL(), pageSize, page)
		var issues []fjIssue
		if err := a.getJSON(ctx, endpoint, &issues); err != nil {
			return nil, fmt.Errorf("listing issues: %w", err)
		}
		if len(issues) == 0 {
			break
		}
		for _, iss := range issues {
			if wanted[iss.Number] {
				selected = append(selected, iss)
			}
		}
	}

	if len(numbers) == 1 && len(selected) == 0 {
		return nil, fmt.Errorf("issue %d not found", numbers[0])
	}

	var converted []provider.Issue
	for _, iss := range selected {
		if iss.Number == 0 || iss.Title == "" {
			slog.Warn("skipping issue missing number or title", "issue", iss.Number)
			continue
		}
		comments, err := a.comments(ctx, "issues", iss.Number, commentID)
		if err != nil {
			return nil, err
		}
		converted = append(converted, provider.Issue{
			Owner:          a.owner,
			Repo:           a.repo,
			Number:         iss.Number,
			Title:          iss.Title,
			Body:           iss.Body,
			ThreadComments: comments,
		})
	}
	return converted, nil
}

func (a *Adapter) convertedPRs(ctx context.Context, numbers []int, commentID int64) ([]provider.Issue, error) {
	wanted := make(map[int]bool, len(numbers))
	for _, n := range numbers {
		wanted[n] = true
	}

	var prs []fjPullRequest
	if err := a.getJSON(ctx, a.BaseURL()+"/pulls", &prs); err != nil {
		return nil, fmt.Errorf("listing pull requests: %w", err)
	}

	var converted []provider.Issue
	for _, pr := range prs {
		number := pr.Number
		if number == 0 {
			number = pr.Index
		}
		if !wanted[number] {
			continue
		}
		if pr.Title == "" {
			slog.Warn("skipping pull request missing title", "pr", number)
			continue
		}

		meta, err := a.DownloadPRMetadata(ctx, number, commentID)
		if err != nil {
			return nil, err
		}

		comments, err := a.comments(ctx, "issues", number, commentID)
		if err != nil {
			return nil, err
		}

		iss := provider.Issue{
			Owner:          a.owner,
			Repo:           a.repo,
			Number:         number,
			Title:          pr.Title,
			Body:           pr.Body,
			ThreadComments: comments,
			ClosingIssues:  meta.ClosingIssueBodies,
			ReviewComments: meta.ReviewBodies,
			ReviewThreads:  meta.ReviewThreads,
			ThreadIDs:      meta.ThreadIDs,
			HeadBranch:     pr.Head.Ref,
			BaseBranch:     pr.Base.Ref,
		}
		iss.ClosingIssues = a.EnrichReferencedIssues(ctx, iss.ClosingIssues, meta.ClosingIssueNumbers, iss)
		converted = append(converted, iss)
	}
	return converted, nil
}

// DownloadPRMetadata builds metadata from the PR body and its review
// comments. Forgejo exposes neither closing-issue references nor thread
// resolution state, so references come from #N mentions in the body and
// the thread list is always empty.
func (a *Adapter) DownloadPRMetadata(ctx context.Context, prNumber int, commentID int64) (*provider.PRMetadata, error) {
	meta := &provider.PRMetadata{}

	var pr fjPullRequest
	endpoint := fmt.Sprintf("%s/pulls/%d", a.BaseURL(), prNumber)
	if err := a.getJSON(ctx, endpoint, &pr); err != nil {
		slog.Warn("could not fetch pull request metadata", "pr", prNumber, "error", err)
	} else if pr.Body != "" {
		meta.ClosingIssueBodies = append(meta.ClosingIssueBodies, pr.Body)
		meta.ClosingIssueNumbers = provider.ExtractIssueReferences(pr.Body)
	}

	reviewComments, err := a.comments(ctx, "pulls", prNumber, commentID)
	if err != nil {
		return nil, err
	}
	meta.ReviewBodies = reviewComments

	return meta, nil
}

// comments pages through the comment list of an issue or PR, skipping
// system comments. kind is "issues" or "pulls".
func (a *Adapter) comments(ctx context.Context, kind string, number int, commentID int64) ([]string, error) {
	var bodies []string
	for page := 1; ; page++ {
		endpoint := fmt.Sprintf("%s/%s/%d/comments?limit=%d&page=%d", a.BaseURL(), kind, number, pageSize, page)
		var comments []fjComment
		if err := a.getJSON(ctx, endpoint, &comments); err != nil {
			return nil, fmt.Errorf("listing comments for #%d: %w", number, err)
		}
		if len(comments) == 0 {
			break
		}
		for _, c := range comments {
			if c.IsSystem {
				continue
			}
			if commentID != 0 {
				if c.ID == commentID {
					return []string{c.Body}, nil
				}
				continue
			}
			if c.Body != "" {
				bodies = append(bodies, c.Body)
			}
		}
	}
	if commentID != 0 {
		return nil, nil
	}
	return bodies, nil
}

func (a *Adapter) getJSON(ctx context.Context, endpoint string, out any) error {
	resp, err := a.do(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return a.parseError(resp)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (a *Adapter) do(ctx context.Context, method, endpoint string, body any) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encoding request body: %w", err)
		}
		bodyReader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", "token "+a.token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	return resp, nil
}

// parseError extracts error information from a Forgejo API error response.
func (a *Adapter) parseError(resp *http.Response) error {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("forgejo API error (status %d): could not read response body", resp.StatusCode)
	}
	var apiErr fjError
	if err := json.Unmarshal(body, &apiErr); err != nil || apiErr.Message == "" {
		truncated := string(body)
		if len(truncated) > 200 {
			truncated = truncated[:200] + "... (truncated)"
		}
		return fmt.Errorf("forgejo API error (status %d): %s", resp.StatusCode, truncated)
	}
	return fmt.Errorf("forgejo API error (status %d): %s", resp.StatusCode, apiErr.Message)
}

var (
	_ provider.Adapter   = (*Adapter)(nil)
	_ provider.PRAdapter = (*Adapter)(nil)
)
