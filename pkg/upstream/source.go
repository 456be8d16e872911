package upstream

import (
	"fmt"
	"regexp"
	"strings"

	nixerrors "github.com/matzehuels/nixupdate/pkg/errors"
	"github.com/matzehuels/nixupdate/pkg/integrations/github"
	"github.com/matzehuels/nixupdate/pkg/integrations/gitlab"
)

// Source identifies where a package's releases are published.
//
// The set of implementations is closed: [GitHub], [GitLab] and [PyPI].
// Consumers switch on the concrete type and treat anything else as a bug.
type Source interface {
	fmt.Stringer
	source()
}

// GitHub is a repository on github.com.
type GitHub struct {
	Owner string
	Repo  string
}

// GitLab is a project on gitlab.com.
type GitLab struct {
	Owner   string
	Project string
}

// PyPI is a package on the Python Package Index.
type PyPI struct {
	Name string
}

func (GitHub) source() {}
func (GitLab) source() {}
func (PyPI) source()   {}

func (s GitHub) String() string { return "GitHub repo: " + s.Owner + "/" + s.Repo }
func (s GitLab) String() string { return "GitLab project: " + s.Owner + "/" + s.Project }
func (s PyPI) String() string   { return "PyPI package: " + s.Name }

var pypiProjectRE = regexp.MustCompile(`pypi\.(?:python\.)?org/project/([^/]+)`)

// ParseURL classifies a single source URL.
func ParseURL(url string) (Source, bool) {
	if owner, repo, ok := github.ParseRepoURL(url); ok {
		return GitHub{Owner: owner, Repo: repo}, true
	}
	if owner, project, ok := gitlab.ParseRepoURL(url); ok {
		return GitLab{Owner: owner, Project: project}, true
	}
	if name, ok := parsePyPIURL(url); ok {
		return PyPI{Name: name}, true
	}
	return nil, false
}

// Classify picks the upstream for a package from its source URL, or from
// its pname when the package has no URL. The URL field may hold several
// space-separated mirrors; the first classifiable one wins.
//
// The returned error carries UNSUPPORTED_SOURCE when a URL exists but none
// of its entries is recognized, and NO_SOURCE_INFO when there is neither a
// URL nor a pname.
func Classify(srcURL, pname string) (Source, error) {
	if urls := strings.Fields(srcURL); len(urls) > 0 {
		for _, u := range urls {
			if s, ok := ParseURL(u); ok {
				return s, nil
			}
		}
		return nil, nixerrors.New(nixerrors.ErrCodeUnsupportedSource, "Unsupported source")
	}
	if pname != "" {
		return PyPI{Name: pname}, nil
	}
	return nil, nixerrors.New(nixerrors.ErrCodeNoSourceInfo, "No source info")
}

// parsePyPIURL extracts a package name from the URL shapes nixpkgs uses for
// PyPI sources:
//
//	mirror://pypi/r/requests/requests-2.31.0.tar.gz
//	https://pypi.org/project/requests/
//	https://files.pythonhosted.org/packages/.../requests-2.31.0.tar.gz
func parsePyPIURL(url string) (string, bool) {
	if strings.HasPrefix(url, "mirror://pypi/") {
		parts := strings.Split(url, "/")
		if len(parts) >= 5 && parts[4] != "" {
			return parts[4], true
		}
	}

	if m := pypiProjectRE.FindStringSubmatch(url); m != nil {
		return m[1], true
	}

	if strings.Contains(url, "pythonhosted.org") || strings.Contains(url, "pypi.python.org") {
		filename := url[strings.LastIndex(url, "/")+1:]
		stem, _, _ := strings.Cut(filename, ".")
		if idx := strings.LastIndex(stem, "-"); idx >= 0 && idx+1 < len(stem) && isDigit(stem[idx+1]) {
			return stem[:idx], true
		}
	}

	return "", false
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }
