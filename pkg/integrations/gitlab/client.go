package gitlab

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/matzehuels/nixupdate/pkg/cache"
	"github.com/matzehuels/nixupdate/pkg/integrations"
)

// RepoURLPattern matches gitlab.com project URLs, including SSH remotes and
// "/-/archive/..." download links. Group 1 is the owner, group 2 the project.
var RepoURLPattern = regexp.MustCompile(`gitlab\.com[:/]([^/]+)/([^/]+?)(?:\.git|/-|/|$)`)

// Client provides access to the GitLab API.
// It handles HTTP requests with caching, automatic retries, and optional authentication.
//
// All methods are safe for concurrent use by multiple goroutines.
type Client struct {
	*integrations.Client
	baseURL string
}

// NewClient creates a GitLab API client with optional authentication.
//
// Parameters:
//   - backend: Cache backend for HTTP response caching (use cache.NewNullCache() for no caching)
//   - token: GitLab personal access token (empty string for unauthenticated)
//   - cacheTTL: How long responses are cached
func NewClient(backend cache.Cache, token string, cacheTTL time.Duration) *Client {
	headers := map[string]string{"User-Agent": "nixupdate"}
	if token != "" {
		headers["PRIVATE-TOKEN"] = token
	}

	return &Client{
		Client:  integrations.NewClient(backend, "gitlab:", cacheTTL, headers),
		baseURL: "https://gitlab.com/api/v4",
	}
}

type releaseResponse struct {
	TagName         string `json:"tag_name"`
	UpcomingRelease bool   `json:"upcoming_release"`
}

type tagResponse struct {
	Name string `json:"name"`
}

func (c *Client) projectURL(owner, project string) string {
	return fmt.Sprintf("%s/projects/%s", c.baseURL, integrations.URLEncode(owner+"/"+project))
}

// ListReleases returns the project's releases, newest first.
// Returns [integrations.ErrNotFound] if the project does not exist.
func (c *Client) ListReleases(ctx context.Context, owner, project string) ([]integrations.Release, error) {
	var releases []integrations.Release
	err := c.Cached(ctx, "releases:"+owner+"/"+project, false, &releases, func() error {
		var data []releaseResponse
		if err := c.Get(ctx, c.projectURL(owner, project)+"/releases", &data); err != nil {
			return err
		}
		releases = make([]integrations.Release, 0, len(data))
		for _, r := range data {
			releases = append(releases, integrations.Release{Tag: r.TagName, Prerelease: r.UpcomingRelease})
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, integrations.ErrNotFound) {
			return nil, fmt.Errorf("%w: gitlab project %s/%s", err, owner, project)
		}
		return nil, err
	}
	return releases, nil
}

// ListTags returns the project's tags ordered by last update, newest first.
func (c *Client) ListTags(ctx context.Context, owner, project string) ([]integrations.Release, error) {
	var tags []integrations.Release
	err := c.Cached(ctx, "tags:"+owner+"/"+project, false, &tags, func() error {
		var data []tagResponse
		url := c.projectURL(owner, project) + "/repository/tags?order_by=updated&sort=desc"
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

// ParseRepoURL extracts owner and project from a GitLab URL.
// For nested groups only the first two path segments are used.
func ParseRepoURL(raw string) (owner, project string, ok bool) {
	m := RepoURLPattern.FindStringSubmatch(raw)
	if len(m) < 3 || m[1] == "" || m[2] == "" {
		return "", "", false
	}
	return m[1], m[2], true
}
