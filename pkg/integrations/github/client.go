package github

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/matzehuels/nixupdate/pkg/cache"
	"github.com/matzehuels/nixupdate/pkg/integrations"
)

// RepoURLPattern matches GitHub repository URLs in HTTPS, SSH and archive
// forms. Group 1 is the owner, group 2 the repository name without ".git".
var RepoURLPattern = regexp.MustCompile(`github\.com[:/]([^/]+)/([^/]+?)(?:\.git|/|$)`)

// Client provides access to the GitHub API for release listing and pull
// request creation. It handles HTTP requests with caching, automatic retries,
// and optional authentication.
//
// All methods are safe for concurrent use by multiple goroutines.
type Client struct {
	*integrations.Client
	baseURL string
}

// NewClient creates a GitHub API client with optional authentication.
// Pass an empty string for token to use unauthenticated requests (lower rate limits).
func NewClient(backend cache.Cache, token string, cacheTTL time.Duration) *Client {
	return &Client{
		Client:  integrations.NewClient(backend, "github:", cacheTTL, headers(token)),
		baseURL: "https://api.github.com",
	}
}

func headers(token string) map[string]string {
	h := map[string]string{
		"Accept":               "application/vnd.github+json",
		"X-GitHub-Api-Version": "2022-11-28",
	}
	if token != "" {
		h["Authorization"] = "Bearer " + token
	}
	return h
}

// ListReleases returns the repository's published releases, newest first.
// Draft releases are reported as prereleases so they are never selected.
// Returns [integrations.ErrNotFound] when the repository has no releases
// endpoint (or does not exist); callers fall back to [Client.ListTags].
func (c *Client) ListReleases(ctx context.Context, owner, repo string) ([]integrations.Release, error) {
	if err := ValidateRepoRef(owner, repo); err != nil {
		return nil, err
	}

	var releases []integrations.Release
	err := c.Cached(ctx, "releases:"+owner+"/"+repo, false, &releases, func() error {
		var data []releaseResponse
		url := fmt.Sprintf("%s/repos/%s/%s/releases?per_page=100", c.baseURL, owner, repo)
		if err := c.Get(ctx, url, &data); err != nil {
			return err
		}
		releases = make([]integrations.Release, 0, len(data))
		for _, r := range data {
			releases = append(releases, integrations.Release{
				Tag:        r.TagName,
				Prerelease: r.Prerelease || r.Draft,
			})
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, integrations.ErrNotFound) {
			return nil, fmt.Errorf("%w: github releases %s/%s", err, owner, repo)
		}
		return nil, err
	}
	return releases, nil
}

// ListTags returns the repository's tags. Tags carry no prerelease flag,
// so every tag is reported as a regular release.
func (c *Client) ListTags(ctx context.Context, owner, repo string) ([]integrations.Release, error) {
	if err := ValidateRepoRef(owner, repo); err != nil {
		return nil, err
	}

	var tags []integrations.Release
	err := c.Cached(ctx, "tags:"+owner+"/"+repo, false, &tags, func() error {
		var data []tagResponse
		url := fmt.Sprintf("%s/repos/%s/%s/tags?per_page=100", c.baseURL, owner, repo)
		if err := c.Get(ctx, url, &data); err != nil {
			return err
		}
		tags = make([]integrations.Release, 0, len(data))
		for _, t := range data {
			tags = append(tags, integrations.Release{Tag: t.Name})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return tags, nil
}

// CreatePullRequest opens a pull request on owner/repo and returns its URL
// and number. The request is neither cached nor retried.
func (c *Client) CreatePullRequest(ctx context.Context, owner, repo string, pr PullRequest) (*CreatedPullRequest, error) {
	if err := ValidateRepoRef(owner, repo); err != nil {
		return nil, err
	}
	if pr.Head == "" || pr.Base == "" {
		return nil, errors.New("pull request head and base are required")
	}

	var created CreatedPullRequest
	url := fmt.Sprintf("%s/repos/%s/%s/pulls", c.baseURL, owner, repo)
	if err := c.PostJSON(ctx, url, pr, &created); err != nil {
		return nil, fmt.Errorf("create pull request on %s/%s: %w", owner, repo, err)
	}
	return &created, nil
}

// ParseRepoURL extracts owner and repository from a GitHub URL.
func ParseRepoURL(raw string) (owner, repo string, ok bool) {
	m := RepoURLPattern.FindStringSubmatch(raw)
	if len(m) < 3 || m[1] == "" || m[2] == "" {
		return "", "", false
	}
	return m[1], m[2], true
}
