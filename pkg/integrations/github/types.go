package github

// PullRequest describes a pull request to open.
type PullRequest struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	Head  string `json:"head"` // "branch" or "fork-owner:branch"
	Base  string `json:"base"`
}

// CreatedPullRequest is the subset of the API response nixupdate records.
type CreatedPullRequest struct {
	URL    string `json:"html_url"`
	Number int    `json:"number"`
}

// releaseResponse is one item of GET /repos/{owner}/{repo}/releases.
type releaseResponse struct {
	TagName    string `json:"tag_name"`
	Prerelease bool   `json:"prerelease"`
	Draft      bool   `json:"draft"`
}

// tagResponse is one item of GET /repos/{owner}/{repo}/tags.
type tagResponse struct {
	Name string `json:"name"`
}
