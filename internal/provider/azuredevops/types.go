package azuredevops

// azRepository maps a repository from the git repositories API.
type azRepository struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	DefaultBranch string `json:"defaultBranch"`
}

// azRef maps one entry of a refs listing.
type azRef struct {
	Name string `json:"name"`
}

// azPullRequest maps a pull request JSON response.
type azPullRequest struct {
	PullRequestID int    `json:"pullRequestId"`
	Title         string `json:"title"`
	Description   string `json:"description"`
	Status        string `json:"status"`
	SourceRefName string `json:"sourceRefName"`
	TargetRefName string `json:"targetRefName"`
	IsDraft       bool   `json:"isDraft"`
}

// azCreatePullRequest is the request body for creating a pull request.
type azCreatePullRequest struct {
	SourceRefName string `json:"sourceRefName"`
	TargetRefName string `json:"targetRefName"`
	Title         string `json:"title"`
	Description   string `json:"description"`
	IsDraft       bool   `json:"isDraft"`
}

// azThread represents a comment thread on a pull request.
type azThread struct {
	ID            int              `json:"id"`
	Status        string           `json:"status"`
	IsDeleted     bool             `json:"isDeleted"`
	ThreadContext *azThreadContext `json:"threadContext"`
	Comments      []azComment      `json:"comments"`
}

// azThreadContext provides file location context for inline comments.
type azThreadContext struct {
	FilePath string `json:"filePath"`
}

// azComment represents a single comment within a thread.
type azComment struct {
	ID        int64  `json:"id"`
	Content   string `json:"content"`
	IsDeleted bool   `json:"isDeleted"`
}

// azWorkItem maps a work item with the fields this adapter reads.
type azWorkItem struct {
	ID     int `json:"id"`
	Fields struct {
		Title       string `json:"System.Title"`
		Description string `json:"System.Description"`
		State       string `json:"System.State"`
	} `json:"fields"`
}

// azWitComment is one comment on a work item.
type azWitComment struct {
	ID   int64  `json:"id"`
	Text string `json:"text"`
}

// azError maps an Azure DevOps API error response.
type azError struct {
	Message string `json:"message"`
}
