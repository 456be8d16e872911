package upstream

import (
	"sort"
	"strings"

	"github.com/Masterminds/semver/v3"

	nixerrors "github.com/matzehuels/nixupdate/pkg/errors"
	"github.com/matzehuels/nixupdate/pkg/integrations"
)

// Release is a candidate upstream version.
type Release = integrations.Release

// Policy limits how far an update may move.
type Policy int

const (
	// PolicyLatest accepts any newer version.
	PolicyLatest Policy = iota
	// PolicyMajor is the same as PolicyLatest.
	PolicyMajor
	// PolicyMinor stays within the current major version.
	PolicyMinor
	// PolicyPatch stays within the current major.minor version.
	PolicyPatch
)

func (p Policy) String() string {
	switch p {
	case PolicyMajor:
		return "major"
	case PolicyMinor:
		return "minor"
	case PolicyPatch:
		return "patch"
	default:
		return "latest"
	}
}

// ParsePolicy parses a policy name, case-insensitively.
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "latest":
		return PolicyLatest, nil
	case "major":
		return PolicyMajor, nil
	case "minor":
		return PolicyMinor, nil
	case "patch":
		return PolicyPatch, nil
	}
	return PolicyLatest, nixerrors.New(nixerrors.ErrCodeInvalidPolicy,
		"invalid policy %q (valid: latest, major, minor, patch)", s)
}

// ExtractVersion reduces a tag to a version: it drops everything before the
// first ASCII digit and everything from "-unstable" on. A tag without
// digits is returned unchanged.
func ExtractVersion(tag string) string {
	i := strings.IndexFunc(tag, func(r rune) bool { return r >= '0' && r <= '9' })
	if i < 0 {
		return tag
	}
	v := tag[i:]
	if j := strings.Index(v, "-unstable"); j >= 0 {
		v = v[:j]
	}
	return v
}

// NormalizeVersion pads the numeric part of a version to three components.
// Anything from the first '-' on is kept as is.
//
//	NormalizeVersion("1.25")     == "1.25.0"
//	NormalizeVersion("2")        == "2.0.0"
//	NormalizeVersion("1.0-beta") == "1.0.0-beta"
func NormalizeVersion(version string) string {
	base, suffix := version, ""
	if i := strings.IndexByte(version, '-'); i >= 0 {
		base, suffix = version[:i], version[i:]
	}
	switch strings.Count(base, ".") {
	case 0:
		base += ".0.0"
	case 1:
		base += ".0"
	}
	return base + suffix
}

func cleanVersion(v string) string {
	v = strings.TrimPrefix(v, "version-")
	return strings.TrimLeft(v, "v")
}

func parseSemver(v string) (*semver.Version, bool) {
	sv, err := semver.StrictNewVersion(NormalizeVersion(cleanVersion(v)))
	if err != nil {
		return nil, false
	}
	return sv, true
}

// IsVersionAcceptable reports whether moving from current to next is an
// upgrade allowed by policy.
func IsVersionAcceptable(current, next string, policy Policy) bool {
	cur, okCur := parseSemver(current)
	nxt, okNext := parseSemver(next)
	if !okCur || !okNext {
		switch policy {
		case PolicyLatest, PolicyMajor:
			return cleanVersion(next) > cleanVersion(current)
		default:
			return false
		}
	}

	if !nxt.GreaterThan(cur) {
		return false
	}
	switch policy {
	case PolicyMinor:
		return nxt.Major() == cur.Major()
	case PolicyPatch:
		return nxt.Major() == cur.Major() && nxt.Minor() == cur.Minor()
	default:
		return true
	}
}

// compareVersions orders two versions semantically when both parse and
// lexicographically otherwise.
func compareVersions(a, b string) int {
	va, okA := parseSemver(a)
	vb, okB := parseSemver(b)
	if okA && okB {
		return va.Compare(vb)
	}
	return strings.Compare(a, b)
}

// FindBest returns the greatest non-prerelease in releases that policy
// accepts as an upgrade from current. The error carries
// NO_ACCEPTABLE_RELEASE when there is none.
func FindBest(releases []Release, current string, policy Policy) (Release, error) {
	var candidates []Release
	for _, r := range releases {
		if r.Prerelease {
			continue
		}
		if IsVersionAcceptable(current, ExtractVersion(r.Tag), policy) {
			candidates = append(candidates, r)
		}
	}
	if len(candidates) == 0 {
		return Release{}, nixerrors.New(nixerrors.ErrCodeNoRelease,
			"no compatible releases found for version %s with policy %s", current, policy)
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return compareVersions(ExtractVersion(candidates[i].Tag), ExtractVersion(candidates[j].Tag)) > 0
	})
	return candidates[0], nil
}
