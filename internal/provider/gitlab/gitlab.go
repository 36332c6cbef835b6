package gitlab

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"

	gl "gitlab.com/gitlab-org/api/client-go"

	"github.com/patchpilot/patchpilot/internal/provider"
)

const replyPrefix = "PatchPilot fix success summary\n\n\n"

// Adapter implements provider.Adapter (and provider.PRAdapter in PR mode)
// for GitLab. Merge requests take the place of pull requests; review
// threads map to resolvable discussions.
type Adapter struct {
	client    *gl.Client
	owner     string
	repo      string
	token     string
	username  string
	issueType provider.IssueType
}

// New creates a GitLab adapter for the given owner/repo operating in the
// given mode.
func New(owner, repo, token, username string, mode provider.IssueType) (*Adapter, error) {
	client, err := gl.NewClient(token)
	if err != nil {
		return nil, fmt.Errorf("creating gitlab client: %w", err)
	}
	return &Adapter{
		client:    client,
		owner:     owner,
		repo:      repo,
		token:     token,
		username:  username,
		issueType: mode,
	}, nil
}

func (a *Adapter) Platform() provider.Platform   { return provider.PlatformGitLab }
func (a *Adapter) IssueType() provider.IssueType { return a.issueType }

func (a *Adapter) SetOwner(owner string) {
	a.owner = owner
}

// projectID is the URL-encoded owner/repo path GitLab uses as project key.
func (a *Adapter) projectID() string {
	return a.owner + "/" + a.repo
}

func (a *Adapter) BaseURL() string {
	return "https://gitlab.com/api/v4/projects/" + url.QueryEscape(a.projectID())
}

func (a *Adapter) DownloadURL() string {
	if a.issueType == provider.TypePR {
		return a.BaseURL() + "/merge_requests"
	}
	return a.BaseURL() + "/issues"
}

func (a *Adapter) CloneURL() string {
	credential := a.token
	if a.username != "" {
		credential = a.username + ":" + a.token
	}
	return fmt.Sprintf("https://%s@gitlab.com/%s/%s.git", credential, a.owner, a.repo)
}

func (a *Adapter) AuthorizeURL() string {
	return fmt.Sprintf("https://%s:%s@gitlab.com/", a.username, a.token)
}

func (a *Adapter) GraphQLURL() string {
	return "https://gitlab.com/api/graphql"
}

func (a *Adapter) PullURL(prNumber int) string {
	return fmt.Sprintf("https://gitlab.com/%s/%s/-/merge_requests/%d", a.owner, a.repo, prNumber)
}

func (a *Adapter) CompareURL(branch string) string {
	return fmt.Sprintf("https://gitlab.com/%s/%s/-/compare/%s", a.owner, a.repo, branch)
}

func (a *Adapter) DefaultBranch(ctx context.Context) (string, error) {
	project, _, err := a.client.Projects.GetProject(a.projectID(), nil, gl.WithContext(ctx))
	if err != nil {
		return "", fmt.Errorf("getting project: %w", err)
	}
	return project.DefaultBranch, nil
}

func (a *Adapter) BranchExists(ctx context.Context, branch string) (bool, error) {
	_, resp, err := a.client.Branches.GetBranch(a.projectID(), branch, gl.WithContext(ctx))
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return false, nil
		}
		return false, fmt.Errorf("checking branch %s: %w", branch, err)
	}
	return true, nil
}

// CreatePullRequest opens a merge request. The draft flag maps to GitLab's
// "Draft:" title convention.
func (a *Adapter) CreatePullRequest(ctx context.Context, pr provider.NewPullRequest) (*provider.PullRequest, error) {
	title := pr.Title
	if pr.Draft {
		title = "Draft: " + title
	}
	mr, resp, err := a.client.MergeRequests.CreateMergeRequest(a.projectID(), &gl.CreateMergeRequestOptions{
		Title:        gl.Ptr(title),
		Description:  gl.Ptr(pr.Body),
		SourceBranch: gl.Ptr(pr.Head),
		TargetBranch: gl.Ptr(pr.Base),
	}, gl.WithContext(ctx))
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusForbidden {
			return nil, provider.ErrPermissionDenied
		}
		return nil, fmt.Errorf("creating merge request: %w", err)
	}
	return &provider.PullRequest{
		Number: mr.IID,
		URL:    mr.WebURL,
	}, nil
}

// RequestReviewers resolves the username to a user ID and sets it as a
// reviewer on the merge request.
func (a *Adapter) RequestReviewers(ctx context.Context, reviewer string, prNumber int) error {
	users, _, err := a.client.Users.ListUsers(&gl.ListUsersOptions{
		Username: gl.Ptr(reviewer),
	}, gl.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("looking up user %s: %w", reviewer, err)
	}
	if len(users) == 0 {
		return fmt.Errorf("user %s not found", reviewer)
	}
	_, _, err = a.client.MergeRequests.UpdateMergeRequest(a.projectID(), prNumber, &gl.UpdateMergeRequestOptions{
		ReviewerIDs: gl.Ptr([]int{users[0].ID}),
	}, gl.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("requesting review from %s: %w", reviewer, err)
	}
	return nil
}

// ReplyToComment appends a note to the given discussion on a merge request.
func (a *Adapter) ReplyToComment(ctx context.Context, prNumber int, threadID, reply string) error {
	_, _, err := a.client.Discussions.AddMergeRequestDiscussionNote(a.projectID(), prNumber, threadID, &gl.AddMergeRequestDiscussionNoteOptions{
		Body: gl.Ptr(replyPrefix + reply),
	}, gl.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("replying to discussion %s: %w", threadID, err)
	}
	return nil
}

func (a *Adapter) SendComment(ctx context.Context, issueNumber int, msg string) error {
	var err error
	if a.issueType == provider.TypePR {
		_, _, err = a.client.Notes.CreateMergeRequestNote(a.projectID(), issueNumber, &gl.CreateMergeRequestNoteOptions{
			Body: gl.Ptr(msg),
		}, gl.WithContext(ctx))
	} else {
		_, _, err = a.client.Notes.CreateIssueNote(a.projectID(), issueNumber, &gl.CreateIssueNoteOptions{
			Body: gl.Ptr(msg),
		}, gl.WithContext(ctx))
	}
	if err != nil {
		return fmt.Errorf("posting comment: %w", err)
	}
	return nil
}

// EnrichReferencedIssues fetches descriptions of issues referenced as #N
// outside the closing set. Only meaningful in PR mode.
func (a *Adapter) EnrichReferencedIssues(ctx context.Context, closingBodies []string, closingNumbers []int, iss provider.Issue) []string {
	if a.issueType != provider.TypePR {
		return closingBodies
	}
	for _, number := range provider.CollectIssueReferences(iss, closingNumbers) {
		referenced, _, err := a.client.Issues.GetIssue(a.projectID(), number, gl.WithContext(ctx))
		if err != nil {
			slog.Warn("could not fetch referenced issue", "number", number, "error", err)
			continue
		}
		if referenced.Description != "" {
			closingBodies = append(closingBodies, referenced.Description)
		}
	}
	return closingBodies
}

func (a *Adapter) ConvertedIssues(ctx context.Context, numbers []int, commentID int64) ([]provider.Issue, error) {
	if len(numbers) == 0 {
		return nil, errors.New("unspecified issue numbers")
	}
	if a.issueType == provider.TypePR {
		return a.convertedMRs(ctx, numbers, commentID)
	}
	return a.convertedIssues(ctx, numbers, commentID)
}

func (a *Adapter) convertedIssues(ctx context.Context, numbers []int, commentID int64) ([]provider.Issue, error) {
	wanted := make(map[int]bool, len(numbers))
	for _, n := range numbers {
		wanted[n] = true
	}

	opts := &gl.ListProjectIssuesOptions{
		State:       gl.Ptr("opened"),
		ListOptions: gl.ListOptions{PerPage: 100, Page: 1},
	}
	var selected []*gl.Issue
	for {
		issues, resp, err := a.client.Issues.ListProjectIssues(a.projectID(), opts, gl.WithContext(ctx))
		if err != nil {
			return nil, fmt.Errorf("listing issues: %w", err)
		}
		for _, iss := range issues {
			if wanted[iss.IID] {
				selected = append(selected, iss)
			}
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	if len(numbers) == 1 && len(selected) == 0 {
		return nil, fmt.Errorf("issue %d not found", numbers[0])
	}

	var converted []provider.Issue
	for _, iss := range selected {
		if iss.Title == "" {
			slog.Warn("skipping issue missing title", "issue", iss.IID)
			continue
		}
		comments, err := a.issueNotes(ctx, iss.IID, commentID)
		if err != nil {
			return nil, err
		}
		converted = append(converted, provider.Issue{
			Owner:          a.owner,
			Repo:           a.repo,
			Number:         iss.IID,
			Title:          iss.Title,
			Body:           iss.Description,
			ThreadComments: comments,
		})
	}
	return converted, nil
}

func (a *Adapter) convertedMRs(ctx context.Context, numbers []int, commentID int64) ([]provider.Issue, error) {
	var converted []provider.Issue
	for _, number := range numbers {
		mr, resp, err := a.client.MergeRequests.GetMergeRequest(a.projectID(), number, nil, gl.WithContext(ctx))
		if err != nil {
			if resp != nil && resp.StatusCode == http.StatusNotFound && len(numbers) > 1 {
				slog.Warn("merge request not found, skipping", "number", number)
				continue
			}
			return nil, fmt.Errorf("getting merge request %d: %w", number, err)
		}
		if mr.Title == "" {
			slog.Warn("skipping merge request missing title", "mr", number)
			continue
		}

		meta, err := a.DownloadPRMetadata(ctx, number, commentID)
		if err != nil {
			return nil, err
		}

		comments, err := a.mergeRequestNotes(ctx, number, commentID)
		if err != nil {
			return nil, err
		}

		iss := provider.Issue{
			Owner:          a.owner,
			Repo:           a.repo,
			Number:         number,
			Title:          mr.Title,
			Body:           mr.Description,
			ThreadComments: comments,
			ClosingIssues:  meta.ClosingIssueBodies,
			ReviewComments: meta.ReviewBodies,
			ReviewThreads:  meta.ReviewThreads,
			ThreadIDs:      meta.ThreadIDs,
			HeadBranch:     mr.SourceBranch,
			BaseBranch:     mr.TargetBranch,
		}
		iss.ClosingIssues = a.EnrichReferencedIssues(ctx, iss.ClosingIssues, meta.ClosingIssueNumbers, iss)
		converted = append(converted, iss)
	}
	return converted, nil
}

// DownloadPRMetadata retrieves the issues this merge request closes and its
// unresolved resolvable discussions. GitLab's REST API carries resolution
// state on notes, so no GraphQL round trip is needed.
func (a *Adapter) DownloadPRMetadata(ctx context.Context, prNumber int, commentID int64) (*provider.PRMetadata, error) {
	meta := &provider.PRMetadata{}

	closing, _, err := a.client.MergeRequests.GetIssuesClosedOnMerge(a.projectID(), prNumber, &gl.GetIssuesClosedOnMergeOptions{
		PerPage: 100,
	}, gl.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("getting closing issues: %w", err)
	}
	for _, iss := range closing {
		meta.ClosingIssueBodies = append(meta.ClosingIssueBodies, iss.Description)
		meta.ClosingIssueNumbers = append(meta.ClosingIssueNumbers, iss.IID)
	}

	opts := &gl.ListMergeRequestDiscussionsOptions{PerPage: 100, Page: 1}
	for {
		discussions, resp, err := a.client.Discussions.ListMergeRequestDiscussions(a.projectID(), prNumber, opts, gl.WithContext(ctx))
		if err != nil {
			return nil, fmt.Errorf("listing discussions: %w", err)
		}
		for _, discussion := range discussions {
			thread, threadID, ok := a.convertDiscussion(discussion, commentID)
			if !ok {
				continue
			}
			meta.ReviewThreads = append(meta.ReviewThreads, thread)
			meta.ThreadIDs = append(meta.ThreadIDs, threadID)
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	return meta, nil
}

// convertDiscussion maps a discussion to a canonical review thread. Only
// unresolved resolvable discussions survive; when commentID is set the
// discussion must contain that note.
func (a *Adapter) convertDiscussion(discussion *gl.Discussion, commentID int64) (provider.ReviewThread, string, bool) {
	unresolved := false
	containsComment := false
	var bodies []string
	var files []string

	for _, note := range discussion.Notes {
		if note.System {
			continue
		}
		if note.Resolvable && !note.Resolved {
			unresolved = true
		}
		if commentID != 0 && int64(note.ID) == commentID {
			containsComment = true
		}
		bodies = append(bodies, note.Body)
		if note.Position != nil {
			files = provider.AppendThreadFile(files, note.Position.NewPath)
		}
	}

	if !unresolved || len(bodies) == 0 {
		return provider.ReviewThread{}, "", false
	}
	if commentID != 0 && !containsComment {
		return provider.ReviewThread{}, "", false
	}
	return provider.ReviewThread{
		Comment: provider.BuildThreadComment(bodies),
		Files:   files,
	}, discussion.ID, true
}

// issueNotes downloads note bodies of an issue, narrowed to one note when
// commentID is set.
func (a *Adapter) issueNotes(ctx context.Context, iid int, commentID int64) ([]string, error) {
	opts := &gl.ListIssueNotesOptions{
		ListOptions: gl.ListOptions{PerPage: 100, Page: 1},
	}
	var bodies []string
	for {
		notes, resp, err := a.client.Notes.ListIssueNotes(a.projectID(), iid, opts, gl.WithContext(ctx))
		if err != nil {
			return nil, fmt.Errorf("listing notes for issue %d: %w", iid, err)
		}
		for _, note := range notes {
			if note.System {
				continue
			}
			if commentID != 0 {
				if int64(note.ID) == commentID {
					return []string{note.Body}, nil
				}
				continue
			}
			bodies = append(bodies, note.Body)
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

// mergeRequestNotes downloads top-level resolvable note bodies of a merge
// request, skipping system notes.
func (a *Adapter) mergeRequestNotes(ctx context.Context, iid int, commentID int64) ([]string, error) {
	opts := &gl.ListMergeRequestNotesOptions{
		ListOptions: gl.ListOptions{PerPage: 100, Page: 1},
	}
	var bodies []string
	for {
		notes, resp, err := a.client.Notes.ListMergeRequestNotes(a.projectID(), iid, opts, gl.WithContext(ctx))
		if err != nil {
			return nil, fmt.Errorf("listing notes for merge request %d: %w", iid, err)
		}
		for _, note := range notes {
			if note.System || !note.Resolvable {
				continue
			}
			if commentID != 0 {
				if int64(note.ID) == commentID {
					return []string{note.Body}, nil
				}
				continue
			}
			bodies = append(bodies, note.Body)
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

var (
	_ provider.Adapter   = (*Adapter)(nil)
	_ provider.PRAdapter = (*Adapter)(nil)
)
