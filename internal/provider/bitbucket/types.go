package bitbucket

// bbContent is the rendered-content wrapper Bitbucket uses on issue and
// comment bodies.
type bbContent struct {
	Raw string `json:"raw"`
}

// bbRepository maps the repository JSON response.
type bbRepository struct {
	MainBranch struct {
		Name string `json:"name"`
	} `json:"mainbranch"`
}

// bbIssue maps an issue from the issue tracker API.
type bbIssue struct {
	ID      int       `json:"id"`
	Title   string    `json:"title"`
	Content bbContent `json:"content"`
	State   string    `json:"state"`
}

// bbComment maps an issue or pull request comment. Inline is set on review
// comments anchored to a file; Parent is set on replies.
type bbComment struct {
	ID      int64     `json:"id"`
	Content bbContent `json:"content"`
	Deleted bool      `json:"deleted"`
	Parent  *struct {
		ID int64 `json:"id"`
	} `json:"parent"`
	Inline *struct {
		Path string `json:"path"`
	} `json:"inline"`
	Resolution *struct {
		Type string `json:"type"`
	} `json:"resolution"`
}

// bbBranchRef names a branch inside a pull request endpoint.
type bbBranchRef struct {
	Branch struct {
		Name string `json:"name"`
	} `json:"branch"`
}

// bbPullRequest maps a pull request.
type bbPullRequest struct {
	ID          int         `json:"id"`
	Title       string      `json:"title"`
	Description string      `json:"description"`
	Source      bbBranchRef `json:"source"`
	Destination bbBranchRef `json:"destination"`
	Links       struct {
		HTML struct {
			Href string `json:"href"`
		} `json:"html"`
	} `json:"links"`
}

// bbCreatePullRequest is the request body for creating a pull request.
type bbCreatePullRequest struct {
	Title       string      `json:"title"`
	Description string      `json:"description"`
	Source      bbBranchRef `json:"source"`
	Destination bbBranchRef `json:"destination"`
	Draft       bool        `json:"draft,omitempty"`
}

// bbMember is one entry of a workspace member listing.
type bbMember struct {
	User struct {
		UUID     string `json:"uuid"`
		Nickname string `json:"nickname"`
	} `json:"user"`
}

// bbError maps a Bitbucket API error response.
type bbError struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}
