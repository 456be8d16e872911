package github

import (
	"regexp"

	nixerrors "github.com/matzehuels/nixupdate/pkg/errors"
)

// Owner and repository come from source URLs in package recipes and are
// spliced into API paths, so they must follow GitHub's naming rules.
var (
	ownerRE = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9-]{0,38}$`)
	repoRE  = regexp.MustCompile(`^[A-Za-z0-9._-]{1,100}$`)
)

// ValidateRepoRef checks an owner/repo pair before it is used in a request.
func ValidateRepoRef(owner, repo string) error {
	switch {
	case owner == "":
		return nixerrors.New(nixerrors.ErrCodeInvalidInput, "owner is required")
	case !ownerRE.MatchString(owner):
		return nixerrors.New(nixerrors.ErrCodeInvalidInput, "invalid GitHub owner %q", owner)
	case repo == "":
		return nixerrors.New(nixerrors.ErrCodeInvalidInput, "repo is required")
	case repo == "." || repo == ".." || !repoRE.MatchString(repo):
		return nixerrors.New(nixerrors.ErrCodeInvalidInput, "invalid GitHub repo %q", repo)
	}
	return nil
}
