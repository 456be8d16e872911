package integrations

import (
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const httpTimeout = 10 * time.Second

var (
	// ErrNotFound is returned when a project or listing doesn't exist upstream.
	// The resolver relies on it to fall back from releases to tags.
	ErrNotFound = errors.New("resource not found")

	// ErrNetwork is returned for HTTP failures (timeouts, connection errors, 5xx responses).
	ErrNetwork = errors.New("network error")

	// ErrRateLimited is returned for 403 and 429 responses.
	ErrRateLimited = errors.New("rate limited")
)

// Release is one candidate upstream version as reported by a platform.
type Release struct {
	Tag        string `json:"tag"`        // Raw tag or version string (e.g. "v1.2.3")
	Prerelease bool   `json:"prerelease"` // Marked as prerelease, draft or yanked upstream
}

// NewHTTPClient creates an HTTP client with a standard timeout for API requests.
func NewHTTPClient() *http.Client {
	return &http.Client{Timeout: httpTimeout}
}

// NormalizePkgName converts a package name to its canonical form.
// Applies lowercase and replaces underscores with hyphens, following PEP 503
// normalization rules used by PyPI.
func NormalizePkgName(name string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), "_", "-")
}

// URLEncode percent-encodes a string for use in URL paths and queries.
// GitLab project IDs ("group/project") must go through this.
func URLEncode(s string) string { return url.QueryEscape(s) }
