// Package azuredevops talks to the Azure DevOps REST API. Issues are work
// items queried through WIQL; pull requests, refs and threads go through the
// git API. Every request carries an api-version query parameter.
package azuredevops

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/patchpilot/patchpilot/internal/provider"
)

// replyPrefix heads every threaded reply so reviewers can tell automated
// responses apart from human ones.
const replyPrefix = "PatchPilot fix success summary\n\n\n"

// DefaultDomain is used when no instance domain is configured.
const DefaultDomain = "dev.azure.com"

// Adapter implements provider.Adapter (and provider.PRAdapter in PR mode)
// for Azure DevOps. owner is the organization; the repository is addressed
// as project/repo.
type Adapter struct {
	httpClient *http.Client
	owner      string
	project    string
	repoName   string
	token      string
	username   string
	domain     string
	issueType  provider.IssueType
	apiBase    string // override for testing

	repoID        string // cached repository GUID
	defaultBranch string // cached by DefaultBranch for CompareURL
}

// New creates an Azure DevOps adapter. repo must be in project/repo format.
func New(owner, repo, token, username, domain string, mode provider.IssueType) (*Adapter, error) {
	parts := strings.Split(repo, "/")
	if len(parts) != 2 {
		return nil, fmt.Errorf("invalid repository name %q: expected project/repo", repo)
	}
	if domain == "" {
		domain = DefaultDomain
	}
	return &Adapter{
		httpClient: &http.Client{Timeout: 120 * time.Second},
		owner:      owner,
		project:    parts[0],
		repoName:   parts[1],
		token:      token,
		username:   username,
		domain:     domain,
		issueType:  mode,
	}, nil
}

func (a *Adapter) Platform() provider.Platform   { return provider.PlatformAzureDevOps }
func (a *Adapter) IssueType() provider.IssueType { return a.issueType }

func (a *Adapter) SetOwner(owner string) {
	a.owner = owner
	a.repoID = ""
}

func (a *Adapter) BaseURL() string {
	return fmt.Sprintf("https://%s/%s/%s/_apis/git/repositories/%s",
		a.domain, a.owner, a.project, a.repoName)
}

// DownloadURL returns the work item API root. Azure DevOps has no separate
// listing endpoint for PR mode; PRs are listed under the git repository.
func (a *Adapter) DownloadURL() string {
	return fmt.Sprintf("https://%s/%s/%s/_apis/wit/workitems", a.domain, a.owner, a.project)
}

func (a *Adapter) CloneURL() string {
	return fmt.Sprintf("https://%s:%s@%s/%s/%s/_git/%s",
		a.username, a.token, a.domain, a.owner, a.project, a.repoName)
}

func (a *Adapter) AuthorizeURL() string {
	return fmt.Sprintf("https://%s:%s@%s/", a.username, a.token, a.domain)
}

// GraphQLURL returns "": Azure DevOps has no GraphQL endpoint.
func (a *Adapter) GraphQLURL() string {
	return ""
}

func (a *Adapter) PullURL(prNumber int) string {
	return fmt.Sprintf("https://%s/%s/%s/_git/%s/pullrequest/%d",
		a.domain, a.owner, a.project, a.repoName, prNumber)
}

// CompareURL builds the branch comparison page URL. The base side uses the
// default branch cached by DefaultBranch, falling back to main when it has
// not been resolved yet.
func (a *Adapter) CompareURL(branch string) string {
	base := a.defaultBranch
	if base == "" {
		base = "main"
	}
	return fmt.Sprintf("https://%s/%s/%s/_git/%s/branchCompare?baseVersion=GC%s&targetVersion=GC%s",
		a.domain, a.owner, a.project, a.repoName, base, branch)
}

// repository resolves and caches the repository record. Most git API calls
// address the repository by its GUID rather than its name.
func (a *Adapter) repository(ctx context.Context) (string, error) {
	if a.repoID != "" {
		return a.repoID, nil
	}

	path := fmt.Sprintf("/%s/%s/_apis/git/repositories", a.owner, a.project)
	var listing struct {
		Value []azRepository `json:"value"`
	}
	if err := a.getJSON(ctx, path, &listing); err != nil {
		return "", fmt.Errorf("listing repositories: %w", err)
	}

	for _, repo := range listing.Value {
		if strings.EqualFold(repo.Name, a.repoName) {
			a.repoID = repo.ID
			a.defaultBranch = strings.TrimPrefix(repo.DefaultBranch, "refs/heads/")
			return a.repoID, nil
		}
	}
	return "", fmt.Errorf("repository %s not found in project %s", a.repoName, a.project)
}

func (a *Adapter) DefaultBranch(ctx context.Context) (string, error) {
	if _, err := a.repository(ctx); err != nil {
		return "", err
	}
	if a.defaultBranch == "" {
		return "", fmt.Errorf("repository %s has no default branch", a.repoName)
	}
	return a.defaultBranch, nil
}

func (a *Adapter) BranchExists(ctx context.Context, branch string) (bool, error) {
	repoID, err := a.repository(ctx)
	if err != nil {
		return false, err
	}

	path := fmt.Sprintf("/%s/%s/_apis/git/repositories/%s/refs?filter=heads/%s",
		a.owner, a.project, repoID, url.QueryEscape(branch))
	var refs struct {
		Value []azRef `json:"value"`
	}
	if err := a.getJSON(ctx, path, &refs); err != nil {
		return false, fmt.Errorf("checking branch %s: %w", branch, err)
	}

	// The filter matches prefixes, so require the exact ref name.
	for _, ref := range refs.Value {
		if ref.Name == "refs/heads/"+branch {
			return true, nil
		}
	}
	return false, nil
}

func (a *Adapter) CreatePullRequest(ctx context.Context, pr provider.NewPullRequest) (*provider.PullRequest, error) {
	repoID, err := a.repository(ctx)
	if err != nil {
		return nil, err
	}

	path := fmt.Sprintf("/%s/%s/_apis/git/repositories/%s/pullrequests", a.owner, a.project, repoID)
	resp, err := a.do(ctx, http.MethodPost, path, azCreatePullRequest{
		SourceRefName: "refs/heads/" + pr.Head,
		TargetRefName: "refs/heads/" + pr.Base,
		Title:         pr.Title,
		Description:   pr.Body,
		IsDraft:       pr.Draft,
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

	var created azPullRequest
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		return nil, fmt.Errorf("decoding pull request response: %w", err)
	}
	return &provider.PullRequest{
		Number: created.PullRequestID,
		URL:    a.PullURL(created.PullRequestID),
	}, nil
}

// RequestReviewers opens an active thread mentioning the reviewer. Azure
// DevOps has no request-review API comparable to the other platforms.
func (a *Adapter) RequestReviewers(ctx context.Context, reviewer string, prNumber int) error {
	repoID, err := a.repository(ctx)
	if err != nil {
		return err
	}

	thread := map[string]any{
		"comments": []map[string]string{
			{"content": fmt.Sprintf("@%s Please review this pull request.", reviewer)},
		},
		"status": "active",
	}
	path := fmt.Sprintf("/%s/%s/_apis/git/repositories/%s/pullrequests/%d/threads",
		a.owner, a.project, repoID, prNumber)
	resp, err := a.do(ctx, http.MethodPost, path, thread)
	if err != nil {
		return fmt.Errorf("requesting review from %s: %w", reviewer, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return a.parseError(resp)
	}
	return nil
}

func (a *Adapter) ReplyToComment(ctx context.Context, prNumber int, threadID, reply string) error {
	repoID, err := a.repository(ctx)
	if err != nil {
		return err
	}
	thread, err := strconv.Atoi(threadID)
	if err != nil {
		return fmt.Errorf("invalid thread id %q: %w", threadID, err)
	}

	path := fmt.Sprintf("/%s/%s/_apis/git/repositories/%s/pullrequests/%d/threads/%d/comments",
		a.owner, a.project, repoID, prNumber, thread)
	resp, err := a.do(ctx, http.MethodPost, path, map[string]any{
		"content":         replyPrefix + reply,
		"parentCommentId": 1,
		"commentType":     "text",
	})
	if err != nil {
		return fmt.Errorf("replying to thread %s: %w", threadID, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return a.parseError(resp)
	}
	return nil
}

// SendComment posts a comment on the work item with the given number.
func (a *Adapter) SendComment(ctx context.Context, issueNumber int, msg string) error {
	path := fmt.Sprintf("/%s/%s/_apis/wit/workItems/%d/comments", a.owner, a.project, issueNumber)
	resp, err := a.do(ctx, http.MethodPost, path, map[string]string{"text": msg})
	if err != nil {
		return fmt.Errorf("posting comment: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return a.parseError(resp)
	}
	return nil
}

// EnrichReferencedIssues returns closingBodies unchanged. Work items are
// already linked to pull requests explicitly, so there is no #N reference
// convention to chase.
func (a *Adapter) EnrichReferencedIssues(ctx context.Context, closingBodies []string, closingNumbers []int, iss provider.Issue) []string {
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
	items, err := a.openWorkItems(ctx)
	if err != nil {
		return nil, err
	}

	wanted := make(map[int]bool, len(numbers))
	for _, n := range numbers {
		wanted[n] = true
	}
	var selected []azWorkItem
	for _, item := range items {
		if wanted[item.ID] {
			selected = append(selected, item)
		}
	}

	if len(numbers) == 1 && len(selected) == 0 {
		return nil, fmt.Errorf("issue %d not found", numbers[0])
	}

	var converted []provider.Issue
	for _, item := range selected {
		if item.ID == 0 || item.Fields.Title == "" {
			slog.Warn("skipping work item missing id or title", "id", item.ID)
			continue
		}
		comments, err := a.workItemComments(ctx, item.ID, commentID)
		if err != nil {
			return nil, err
		}
		converted = append(converted, provider.Issue{
			Owner:          a.owner,
			Repo:           a.project + "/" + a.repoName,
			Number:         item.ID,
			Title:          item.Fields.Title,
			Body:           item.Fields.Description,
			ThreadComments: comments,
		})
	}
	return converted, nil
}

// openWorkItems runs a WIQL query for open issues in the project and
// fetches the matching work items.
func (a *Adapter) openWorkItems(ctx context.Context) ([]azWorkItem, error) {
	query := fmt.Sprintf(`select [System.Id], [System.Title], [System.State], [System.Description] `+
		`from WorkItems where [System.TeamProject] = '%s' and [System.WorkItemType] = 'Issue' `+
		`and [System.State] <> 'Closed' and [System.State] <> 'Resolved' `+
		`order by [System.ChangedDate] desc`, a.project)

	path := fmt.Sprintf("/%s/%s/_apis/wit/wiql", a.owner, a.project)
	resp, err := a.do(ctx, http.MethodPost, path, map[string]string{"query": query})
	if err != nil {
		return nil, fmt.Errorf("querying work items: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, a.parseError(resp)
	}

	var wiql struct {
		WorkItems []struct {
			ID int `json:"id"`
		} `json:"workItems"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&wiql); err != nil {
		return nil, fmt.Errorf("decoding WIQL response: %w", err)
	}
	if len(wiql.WorkItems) == 0 {
		return nil, nil
	}

	ids := make([]string, len(wiql.WorkItems))
	for i, item := range wiql.WorkItems {
		ids[i] = strconv.Itoa(item.ID)
	}
	return a.workItems(ctx, ids)
}

// workItems fetches full work item records for the given ids.
func (a *Adapter) workItems(ctx context.Context, ids []string) ([]azWorkItem, error) {
	path := fmt.Sprintf("/%s/%s/_apis/wit/workitems?ids=%s", a.owner, a.project, strings.Join(ids, ","))
	var listing struct {
		Value []azWorkItem `json:"value"`
	}
	if err := a.getJSON(ctx, path, &listing); err != nil {
		return nil, fmt.Errorf("fetching work items: %w", err)
	}
	return listing.Value, nil
}

// workItemComments downloads a work item's comments. When commentID is
// non-zero only the matching comment text is returned.
func (a *Adapter) workItemComments(ctx context.Context, number int, commentID int64) ([]string, error) {
	path := fmt.Sprintf("/%s/%s/_apis/wit/workItems/%d/comments", a.owner, a.project, number)
	var listing struct {
		Comments []azWitComment `json:"comments"`
	}
	if err := a.getJSON(ctx, path, &listing); err != nil {
		return nil, fmt.Errorf("listing comments for work item %d: %w", number, err)
	}

	var texts []string
	for _, c := range listing.Comments {
		if commentID != 0 {
			if c.ID == commentID {
				return []string{c.Text}, nil
			}
			continue
		}
		if c.Text != "" {
			texts = append(texts, c.Text)
		}
	}
	if commentID != 0 {
		return nil, nil
	}
	return texts, nil
}

func (a *Adapter) convertedPRs(ctx context.Context, numbers []int, commentID int64) ([]provider.Issue, error) {
	repoID, err := a.repository(ctx)
	if err != nil {
		return nil, err
	}

	wanted := make(map[int]bool, len(numbers))
	for _, n := range numbers {
		wanted[n] = true
	}

	path := fmt.Sprintf("/%s/%s/_apis/git/repositories/%s/pullrequests?searchCriteria.status=active",
		a.owner, a.project, repoID)
	var listing struct {
		Value []azPullRequest `json:"value"`
	}
	if err := a.getJSON(ctx, path, &listing); err != nil {
		return nil, fmt.Errorf("listing pull requests: %w", err)
	}

	var selected []azPullRequest
	for _, pr := range listing.Value {
		if wanted[pr.PullRequestID] {
			selected = append(selected, pr)
		}
	}
	if len(numbers) == 1 && len(selected) == 0 {
		return nil, fmt.Errorf("issue %d not found", numbers[0])
	}

	var converted []provider.Issue
	for _, pr := range selected {
		if pr.Title == "" {
			slog.Warn("skipping pull request missing title", "pr", pr.PullRequestID)
			continue
		}

		meta, err := a.DownloadPRMetadata(ctx, pr.PullRequestID, commentID)
		if err != nil {
			return nil, err
		}

		converted = append(converted, provider.Issue{
			Owner:         a.owner,
			Repo:          a.project + "/" + a.repoName,
			Number:        pr.PullRequestID,
			Title:         pr.Title,
			Body:          pr.Description,
			ClosingIssues: meta.ClosingIssueBodies,
			ReviewThreads: meta.ReviewThreads,
			ThreadIDs:     meta.ThreadIDs,
			HeadBranch:    strings.TrimPrefix(pr.SourceRefName, "refs/heads/"),
			BaseBranch:    strings.TrimPrefix(pr.TargetRefName, "refs/heads/"),
		})
	}
	return converted, nil
}

// DownloadPRMetadata retrieves the work items linked to a pull request as
// closing issues and the active comment threads as review threads.
func (a *Adapter) DownloadPRMetadata(ctx context.Context, prNumber int, commentID int64) (*provider.PRMetadata, error) {
	repoID, err := a.repository(ctx)
	if err != nil {
		return nil, err
	}

	meta := &provider.PRMetadata{}

	// Linked work items; ids come back as strings here.
	linkedPath := fmt.Sprintf("/%s/%s/_apis/git/repositories/%s/pullrequests/%d/workitems",
		a.owner, a.project, repoID, prNumber)
	var linked struct {
		Value []struct {
			ID string `json:"id"`
		} `json:"value"`
	}
	if err := a.getJSON(ctx, linkedPath, &linked); err != nil {
		slog.Warn("could not fetch linked work items", "pr", prNumber, "error", err)
	} else if len(linked.Value) > 0 {
		ids := make([]string, len(linked.Value))
		for i, ref := range linked.Value {
			ids[i] = ref.ID
		}
		items, err := a.workItems(ctx, ids)
		if err != nil {
			return nil, err
		}
		for _, item := range items {
			meta.ClosingIssueBodies = append(meta.ClosingIssueBodies, item.Fields.Description)
			meta.ClosingIssueNumbers = append(meta.ClosingIssueNumbers, item.ID)
		}
	}

	threadsPath := fmt.Sprintf("/%s/%s/_apis/git/repositories/%s/pullrequests/%d/threads",
		a.owner, a.project, repoID, prNumber)
	var threads struct {
		Value []azThread `json:"value"`
	}
	if err := a.getJSON(ctx, threadsPath, &threads); err != nil {
		return nil, fmt.Errorf("listing threads for pull request %d: %w", prNumber, err)
	}

	for _, thread := range threads.Value {
		if thread.Status != "active" || thread.IsDeleted {
			continue
		}

		var bodies []string
		contains := false
		for _, c := range thread.Comments {
			if c.ID == commentID {
				contains = true
			}
			if !c.IsDeleted && c.Content != "" {
				bodies = append(bodies, c.Content)
			}
		}
		if commentID != 0 && !contains {
			continue
		}
		if len(bodies) == 0 {
			continue
		}

		var files []string
		if thread.ThreadContext != nil && thread.ThreadContext.FilePath != "" {
			files = provider.AppendThreadFile(files, thread.ThreadContext.FilePath)
		}
		meta.ReviewThreads = append(meta.ReviewThreads, provider.ReviewThread{
			Comment: provider.BuildThreadComment(bodies),
			Files:   files,
		})
		meta.ThreadIDs = append(meta.ThreadIDs, strconv.Itoa(thread.ID))
	}
	return meta, nil
}

func (a *Adapter) getJSON(ctx context.Context, path string, out any) error {
	resp, err := a.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return a.parseError(resp)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// do makes an authenticated request. PATs go over basic auth with an empty
// username; the api-version parameter is appended to every call. Rate limit
// responses are retried with the server-provided delay.
func (a *Adapter) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	baseURL := a.apiBase
	if baseURL == "" {
		baseURL = "https://" + a.domain
	}
	separator := "?"
	if strings.Contains(path, "?") {
		separator = "&"
	}
	fullURL := baseURL + path + separator + "api-version=7.1-preview"

	const maxRetries = 3
	for attempt := 0; attempt <= maxRetries; attempt++ {
		var bodyReader io.Reader
		if body != nil {
			payload, err := json.Marshal(body)
			if err != nil {
				return nil, fmt.Errorf("encoding request body: %w", err)
			}
			bodyReader = bytes.NewReader(payload)
		}

		req, err := http.NewRequestWithContext(ctx, method, fullURL, bodyReader)
		if err != nil {
			return nil, fmt.Errorf("creating request: %w", err)
		}
		credential := base64.StdEncoding.EncodeToString([]byte(":" + a.token))
		req.Header.Set("Authorization", "Basic "+credential)
		req.Header.Set("Accept", "application/json")
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := a.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("request failed: %w", err)
		}
		if resp.StatusCode != http.StatusTooManyRequests {
			return resp, nil
		}
		resp.Body.Close()

		if attempt == maxRetries {
			return nil, fmt.Errorf("rate limited after %d retries", maxRetries)
		}
		delay := retryDelay(resp, attempt)
		slog.Warn("rate limited by Azure DevOps API, retrying", "attempt", attempt+1, "delay", delay)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}
	return nil, errors.New("unexpected: exhausted retries")
}

// retryDelay honors a Retry-After header when present, otherwise backs off
// exponentially from one second.
func retryDelay(resp *http.Response, attempt int) time.Duration {
	if header := resp.Header.Get("Retry-After"); header != "" {
		if seconds, err := strconv.Atoi(header); err == nil && seconds > 0 {
			return time.Duration(seconds) * time.Second
		}
	}
	return time.Second << attempt
}

// parseError extracts error information from an Azure DevOps API error
// response.
func (a *Adapter) parseError(resp *http.Response) error {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("azure devops API error (status %d): could not read response body", resp.StatusCode)
	}
	var apiErr azError
	if err := json.Unmarshal(body, &apiErr); err != nil || apiErr.Message == "" {
		truncated := string(body)
		if len(truncated) > 200 {
			truncated = truncated[:200] + "... (truncated)"
		}
		return fmt.Errorf("azure devops API error (status %d): %s", resp.StatusCode, truncated)
	}
	return fmt.Errorf("azure devops API error (status %d): %s", resp.StatusCode, apiErr.Message)
}

var (
	_ provider.Adapter   = (*Adapter)(nil)
	_ provider.PRAdapter = (*Adapter)(nil)
)
