package forgejo

// fjRepository maps the Forgejo repository JSON response.
type fjRepository struct {
	DefaultBranch string `json:"default_branch"`
}

// fjIssue maps an issue from the Forgejo issues API.
type fjIssue struct {
	Number int    `json:"number"`
	Title  string `json:"title"`
	Body   string `json:"body"`
}

// fjComment maps an issue or PR comment.
type fjComment struct {
	ID       int64  `json:"id"`
	Body     string `json:"body"`
	IsSystem bool   `json:"is_system"`
}

// fjPullRequest maps a pull request from the Forgejo pulls API.
type fjPullRequest struct {
	Number int    `json:"number"`
	Index  int    `json:"index"`
	Title  string `json:"title"`
	Body   string `json:"body"`
	URL    string `json:"url"`
	Head   struct {
		Ref string `json:"ref"`
	} `json:"head"`
	Base struct {
		Ref string `json:"ref"`
	} `json:"base"`
	HTMLURL string `json:"html_url"`
}

// fjCreatePullRequest is the request body for creating a pull request.
type fjCreatePullRequest struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	Head  string `json:"head"`
	Base  string `json:"base"`
}

// fjError maps a Forgejo API error response.
type fjError struct {
	Message string `json:"message"`
}
