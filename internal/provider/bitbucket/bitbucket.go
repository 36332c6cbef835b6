// Package bitbucket talks to the Bitbucket Cloud 2.0 REST API. Listing
// endpoints return {values, next} envelopes; pagination follows the next
// link until it is empty.
package bitbucket

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
	"strconv"
	"time"

	"github.com/patchpilot/patchpilot/internal/provider"
)

// replyPrefix heads every threaded reply so reviewers can tell automated
// responses apart from human ones.
const replyPrefix = "PatchPilot fix success summary\n\n\n"

const pageLen = 50

// Adapter implements provider.Adapter (and provider.PRAdapter in PR mode)
// for Bitbucket Cloud. Authentication is basic auth with username plus app
// password when a username is configured, bearer token otherwise.
type Adapter struct {
	httpClient *http.Client
	owner      string
	repo       string
	token      string
	username   string
	issueType  provider.IssueType
	apiBase    string // override for testing
}

// New creates a Bitbucket adapter. owner is the workspace slug.
func New(owner, repo, token, username string, mode provider.IssueType) *Adapter {
	return &Adapter{
		httpClient: &http.Client{Timeout: 120 * time.Second},
		owner:      owner,
		repo:       repo,
		token:      token,
		username:   username,
		issueType:  mode,
	}
}

func (a *Adapter) Platform() provider.Platform   { return provider.PlatformBitbucket }
func (a *Adapter) IssueType() provider.IssueType { return a.issueType }

func (a *Adapter) SetOwner(owner string) {
	a.owner = owner
}

func (a *Adapter) apiRoot() string {
	if a.apiBase != "" {
		return a.apiBase
	}
	return "https://api.bitbucket.org/2.0"
}

func (a *Adapter) BaseURL() string {
	return fmt.Sprintf("%s/repositories/%s/%s", a.apiRoot(), a.owner, a.repo)
}

func (a *Adapter) DownloadURL() string {
	if a.issueType == provider.TypePR {
		return a.BaseURL() + "/pullrequests"
	}
	return a.BaseURL() + "/issues"
}

func (a *Adapter) CloneURL() string {
	credential := "x-token-auth:" + a.token
	if a.username != "" {
		credential = a.username + ":" + a.token
	}
	return fmt.Sprintf("https://%s@bitbucket.org/%s/%s.git", credential, a.owner, a.repo)
}

func (a *Adapter) AuthorizeURL() string {
	credential := "x-token-auth:" + a.token
	if a.username != "" {
		credential = a.username + ":" + a.token
	}
	return fmt.Sprintf("https://%s@bitbucket.org/", credential)
}

// GraphQLURL returns "": Bitbucket Cloud has no GraphQL endpoint.
func (a *Adapter) GraphQLURL() string {
	return ""
}

func (a *Adapter) PullURL(prNumber int) string {
	return fmt.Sprintf("https://bitbucket.org/%s/%s/pull-requests/%d", a.owner, a.repo, prNumber)
}

func (a *Adapter) CompareURL(branch string) string {
	return fmt.Sprintf("https://bitbucket.org/%s/%s/branch/%s", a.owner, a.repo, branch)
}

func (a *Adapter) DefaultBranch(ctx context.Context) (string, error) {
	var repo bbRepository
	if err := a.getJSON(ctx, a.BaseURL(), &repo); err != nil {
		return "", fmt.Errorf("getting repository: %w", err)
	}
	return repo.MainBranch.Name, nil
}

func (a *Adapter) BranchExists(ctx context.Context, branch string) (bool, error) {
	endpoint := fmt.Sprintf("%s/refs/branches/%s", a.BaseURL(), url.PathEscape(branch))
	resp, err := a.do(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return false, fmt.Errorf("checking branch %s: %w", branch, err)
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK, nil
}

func (a *Adapter) CreatePullRequest(ctx context.Context, pr provider.NewPullRequest) (*provider.PullRequest, error) {
	body := bbCreatePullRequest{
		Title:       pr.Title,
		Description: pr.Body,
		Draft:       pr.Draft,
	}
	body.Source.Branch.Name = pr.Head
	body.Destination.Branch.Name = pr.Base

	resp, err := a.do(ctx, http.MethodPost, a.BaseURL()+"/pullrequests", body)
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

	var created bbPullRequest
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		return nil, fmt.Errorf("decoding pull request response: %w", err)
	}
	htmlURL := created.Links.HTML.Href
	if htmlURL == "" {
		htmlURL = a.PullURL(created.ID)
	}
	return &provider.PullRequest{Number: created.ID, URL: htmlURL}, nil
}

// RequestReviewers resolves the reviewer's nickname to a workspace member
// UUID and adds it to the pull request's reviewer list.
func (a *Adapter) RequestReviewers(ctx context.Context, reviewer string, prNumber int) error {
	endpoint := fmt.Sprintf("%s/workspaces/%s/members", a.apiRoot(), a.owner)
	members, err := listAll[bbMember](ctx, a, endpoint)
	if err != nil {
		return fmt.Errorf("listing workspace members: %w", err)
	}

	uuid := ""
	for _, m := range members {
		if m.User.Nickname == reviewer {
			uuid = m.User.UUID
			break
		}
	}
	if uuid == "" {
		return fmt.Errorf("user %s not found in workspace %s", reviewer, a.owner)
	}

	update := map[string]any{
		"reviewers": []map[string]string{{"uuid": uuid}},
	}
	resp, err := a.do(ctx, http.MethodPut, fmt.Sprintf("%s/pullrequests/%d", a.BaseURL(), prNumber), update)
	if err != nil {
		return fmt.Errorf("requesting review from %s: %w", reviewer, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return a.parseError(resp)
	}
	return nil
}

// ReplyToComment posts a threaded reply under the root comment identified
// by threadID.
func (a *Adapter) ReplyToComment(ctx context.Context, prNumber int, threadID, reply string) error {
	parentID, err := strconv.ParseInt(threadID, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid thread id %q: %w", threadID, err)
	}
	payload := map[string]any{
		"content": map[string]string{"raw": replyPrefix + reply},
		"parent":  map[string]int64{"id": parentID},
	}
	endpoint := fmt.Sprintf("%s/pullrequests/%d/comments", a.BaseURL(), prNumber)
	resp, err := a.do(ctx, http.MethodPost, endpoint, payload)
	if err != nil {
		return fmt.Errorf("replying to comment %s: %w", threadID, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return a.parseError(resp)
	}
	return nil
}

func (a *Adapter) SendComment(ctx context.Context, issueNumber int, msg string) error {
	kind := "issues"
	if a.issueType == provider.TypePR {
		kind = "pullrequests"
	}
	endpoint := fmt.Sprintf("%s/%s/%d/comments", a.BaseURL(), kind, issueNumber)
	payload := map[string]any{"content": map[string]string{"raw": msg}}
	resp, err := a.do(ctx, http.MethodPost, endpoint, payload)
	if err != nil {
		return fmt.Errorf("posting comment: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return a.parseError(resp)
	}
	return nil
}

func (a *Adapter) EnrichReferencedIssues(ctx context.Context, closingBodies []string, closingNumbers []int, iss provider.Issue) []string {
	if a.issueType != provider.TypePR {
		return closingBodies
	}
	for _, number := range provider.CollectIssueReferences(iss, closingNumbers) {
		var referenced bbIssue
		endpoint := fmt.Sprintf("%s/issues/%d", a.BaseURL(), number)
		if err := a.getJSON(ctx, endpoint, &referenced); err != nil {
			slog.Warn("could not fetch referenced issue", "number", number, "error", err)
			continue
		}
		if referenced.Content.Raw != "" {
			closingBodies = append(closingBodies, referenced.Content.Raw)
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

	endpoint := fmt.Sprintf("%s/issues?pagelen=%d", a.BaseURL(), pageLen)
	issues, err := listAll[bbIssue](ctx, a, endpoint)
	if err != nil {
		return nil, fmt.Errorf("listing issues: %w", err)
	}

	var selected []bbIssue
	for _, iss := range issues {
		if !wanted[iss.ID] {
			continue
		}
		if iss.State != "new" && iss.State != "open" {
			continue
		}
		selected = append(selected, iss)
	}

	if len(numbers) == 1 && len(selected) == 0 {
		return nil, fmt.Errorf("issue %d not found", numbers[0])
	}

	var converted []provider.Issue
	for _, iss := range selected {
		if iss.ID == 0 || iss.Title == "" {
			slog.Warn("skipping issue missing number or title", "issue", iss.ID)
			continue
		}
		comments, err := a.issueComments(ctx, iss.ID, commentID)
		if err != nil {
			return nil, err
		}
		converted = append(converted, provider.Issue{
			Owner:          a.owner,
			Repo:           a.repo,
			Number:         iss.ID,
			Title:          iss.Title,
			Body:           iss.Content.Raw,
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

	endpoint := fmt.Sprintf("%s/pullrequests?state=OPEN&pagelen=%d", a.BaseURL(), pageLen)
	prs, err := listAll[bbPullRequest](ctx, a, endpoint)
	if err != nil {
		return nil, fmt.Errorf("listing pull requests: %w", err)
	}

	var converted []provider.Issue
	for _, pr := range prs {
		if !wanted[pr.ID] {
			continue
		}
		if pr.Title == "" {
			slog.Warn("skipping pull request missing title", "pr", pr.ID)
			continue
		}

		meta, err := a.DownloadPRMetadata(ctx, pr.ID, commentID)
		if err != nil {
			return nil, err
		}

		iss := provider.Issue{
			Owner:          a.owner,
			Repo:           a.repo,
			Number:         pr.ID,
			Title:          pr.Title,
			Body:           pr.Description,
			ThreadComments: meta.ReviewBodies,
			ClosingIssues:  meta.ClosingIssueBodies,
			ReviewThreads:  meta.ReviewThreads,
			ThreadIDs:      meta.ThreadIDs,
			HeadBranch:     pr.Source.Branch.Name,
			BaseBranch:     pr.Destination.Branch.Name,
		}
		iss.ClosingIssues = a.EnrichReferencedIssues(ctx, iss.ClosingIssues, meta.ClosingIssueNumbers, iss)
		converted = append(converted, iss)
	}
	return converted, nil
}

// DownloadPRMetadata builds metadata from the PR description and its comment
// list. Bitbucket has no closing-issue relation, so referenced numbers come
// from #N mentions in the description. Inline comments are grouped into
// review threads keyed by their root comment; top-level comments become
// review bodies.
func (a *Adapter) DownloadPRMetadata(ctx context.Context, prNumber int, commentID int64) (*provider.PRMetadata, error) {
	meta := &provider.PRMetadata{}

	var pr bbPullRequest
	endpoint := fmt.Sprintf("%s/pullrequests/%d", a.BaseURL(), prNumber)
	if err := a.getJSON(ctx, endpoint, &pr); err != nil {
		slog.Warn("could not fetch pull request metadata", "pr", prNumber, "error", err)
	} else if pr.Description != "" {
		meta.ClosingIssueBodies = append(meta.ClosingIssueBodies, pr.Description)
		meta.ClosingIssueNumbers = provider.ExtractIssueReferences(pr.Description)
	}

	commentsURL := fmt.Sprintf("%s/pullrequests/%d/comments?pagelen=%d", a.BaseURL(), prNumber, pageLen)
	comments, err := listAll[bbComment](ctx, a, commentsURL)
	if err != nil {
		return nil, fmt.Errorf("listing comments for pull request %d: %w", prNumber, err)
	}

	meta.ReviewBodies = topLevelBodies(comments, commentID)
	meta.ReviewThreads, meta.ThreadIDs = buildThreads(comments, commentID)
	return meta, nil
}

// topLevelBodies returns the bodies of non-inline root comments. When
// commentID is non-zero only the matching comment is returned.
func topLevelBodies(comments []bbComment, commentID int64) []string {
	var bodies []string
	for _, c := range comments {
		if c.Deleted || c.Inline != nil || c.Parent != nil {
			continue
		}
		if commentID != 0 {
			if c.ID == commentID {
				return []string{c.Content.Raw}
			}
			continue
		}
		if c.Content.Raw != "" {
			bodies = append(bodies, c.Content.Raw)
		}
	}
	if commentID != 0 {
		return nil
	}
	return bodies
}

// buildThreads groups inline comments into threads by their root comment.
// A thread is kept when its root has no resolution; when commentID is
// non-zero only the thread containing that comment is kept.
func buildThreads(comments []bbComment, commentID int64) ([]provider.ReviewThread, []string) {
	byID := make(map[int64]bbComment, len(comments))
	for _, c := range comments {
		byID[c.ID] = c
	}
	rootOf := func(c bbComment) int64 {
		for c.Parent != nil {
			parent, ok := byID[c.Parent.ID]
			if !ok {
				return c.Parent.ID
			}
			c = parent
		}
		return c.ID
	}

	var rootOrder []int64
	grouped := make(map[int64][]bbComment)
	for _, c := range comments {
		if c.Deleted {
			continue
		}
		root := rootOf(c)
		if byID[root].Inline == nil {
			continue
		}
		if _, seen := grouped[root]; !seen {
			rootOrder = append(rootOrder, root)
		}
		grouped[root] = append(grouped[root], c)
	}

	var threads []provider.ReviewThread
	var threadIDs []string
	for _, root := range rootOrder {
		if byID[root].Resolution != nil {
			continue
		}

		var bodies []string
		var files []string
		contains := false
		for _, c := range grouped[root] {
			if c.ID == commentID {
				contains = true
			}
			if c.Content.Raw != "" {
				bodies = append(bodies, c.Content.Raw)
			}
			if c.Inline != nil {
				files = provider.AppendThreadFile(files, c.Inline.Path)
			}
		}
		if commentID != 0 && !contains {
			continue
		}
		if len(bodies) == 0 {
			continue
		}
		threads = append(threads, provider.ReviewThread{
			Comment: provider.BuildThreadComment(bodies),
			Files:   files,
		})
		threadIDs = append(threadIDs, strconv.FormatInt(root, 10))
	}
	return threads, threadIDs
}

// issueComments pages through an issue's comments. When commentID is
// non-zero only the matching comment body is returned.
func (a *Adapter) issueComments(ctx context.Context, number int, commentID int64) ([]string, error) {
	endpoint := fmt.Sprintf("%s/issues/%d/comments?pagelen=%d", a.BaseURL(), number, pageLen)
	comments, err := listAll[bbComment](ctx, a, endpoint)
	if err != nil {
		return nil, fmt.Errorf("listing comments for issue %d: %w", number, err)
	}

	var bodies []string
	for _, c := range comments {
		if c.Deleted {
			continue
		}
		if commentID != 0 {
			if c.ID == commentID {
				return []string{c.Content.Raw}, nil
			}
			continue
		}
		if c.Content.Raw != "" {
			bodies = append(bodies, c.Content.Raw)
		}
	}
	if commentID != 0 {
		return nil, nil
	}
	return bodies, nil
}

// listAll follows the next links of a paginated listing endpoint and
// collects every value.
func listAll[T any](ctx context.Context, a *Adapter, endpoint string) ([]T, error) {
	var values []T
	for endpoint != "" {
		var page struct {
			Values []T    `json:"values"`
			Next   string `json:"next"`
		}
		if err := a.getJSON(ctx, endpoint, &page); err != nil {
			return nil, err
		}
		values = append(values, page.Values...)
		endpoint = page.Next
	}
	return values, nil
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
	if a.username != "" {
		req.SetBasicAuth(a.username, a.token)
	} else {
		req.Header.Set("Authorization", "Bearer "+a.token)
	}
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

// parseError extracts error information from a Bitbucket API error response.
func (a *Adapter) parseError(resp *http.Response) error {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("bitbucket API error (status %d): could not read response body", resp.StatusCode)
	}
	var apiErr bbError
	if err := json.Unmarshal(body, &apiErr); err != nil || apiErr.Error.Message == "" {
		truncated := string(body)
		if len(truncated) > 200 {
			truncated = truncated[:200] + "... (truncated)"
		}
		return fmt.Errorf("bitbucket API error (status %d): %s", resp.StatusCode, truncated)
	}
	return fmt.Errorf("bitbucket API error (status %d): %s", resp.StatusCode, apiErr.Error.Message)
}

var (
	_ provider.Adapter   = (*Adapter)(nil)
	_ provider.PRAdapter = (*Adapter)(nil)
)
