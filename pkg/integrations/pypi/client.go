package pypi

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"time"

	"github.com/matzehuels/nixupdate/pkg/cache"
	"github.com/matzehuels/nixupdate/pkg/integrations"
)

// preMarkerRE matches PEP 440 pre-release and development segments that
// follow a numeric component: 1.0a1, 2.0.0rc1, 1.5.dev3, 3.0b2.
var preMarkerRE = regexp.MustCompile(`(?i)\d[._-]?(a|b|c|rc|alpha|beta|pre|preview|dev)[._-]?\d*$`)

// Client provides access to the PyPI package registry API.
// It handles HTTP requests with caching and automatic retries.
//
// All methods are safe for concurrent use by multiple goroutines.
type Client struct {
	*integrations.Client
	baseURL string
}

// NewClient creates a PyPI client with the given cache backend.
func NewClient(backend cache.Cache, cacheTTL time.Duration) *Client {
	return &Client{
		Client:  integrations.NewClient(backend, "pypi:", cacheTTL, map[string]string{"User-Agent": "nixupdate"}),
		baseURL: "https://pypi.org/pypi",
	}
}

type apiResponse struct {
	Info struct {
		Version string `json:"version"`
	} `json:"info"`
	Releases map[string][]artifact `json:"releases"`
}

type artifact struct {
	Yanked bool `json:"yanked"`
}

// ListReleases returns all versions published for pkg, sorted by version
// string so results are deterministic. The name is normalized per PEP 503.
//
// Returns [integrations.ErrNotFound] if the project doesn't exist.
func (c *Client) ListReleases(ctx context.Context, pkg string) ([]integrations.Release, error) {
	pkg = integrations.NormalizePkgName(pkg)

	var releases []integrations.Release
	err := c.Cached(ctx, pkg, false, &releases, func() error {
		var data apiResponse
		if err := c.Get(ctx, fmt.Sprintf("%s/%s/json", c.baseURL, pkg), &data); err != nil {
			return err
		}
		releases = toReleases(data.Releases)
		return nil
	})
	if err != nil {
		if errors.Is(err, integrations.ErrNotFound) {
			return nil, fmt.Errorf("%w: pypi package %s", err, pkg)
		}
		return nil, err
	}
	return releases, nil
}

func toReleases(versions map[string][]artifact) []integrations.Release {
	releases := make([]integrations.Release, 0, len(versions))
	for version, artifacts := range versions {
		yanked := false
		for _, a := range artifacts {
			if a.Yanked {
				yanked = true
				break
			}
		}
		releases = append(releases, integrations.Release{
			Tag:        version,
			Prerelease: yanked || IsPreVersion(version),
		})
	}
	sort.Slice(releases, func(i, j int) bool { return releases[i].Tag < releases[j].Tag })
	return releases
}

// IsPreVersion reports whether a PEP 440 version string is a pre-release
// or development release.
func IsPreVersion(version string) bool {
	return preMarkerRE.MatchString(version)
}
