// Package pypi provides an HTTP client for the PyPI JSON API.
//
// [Client.ListReleases] returns every version PyPI knows for a project.
// A version counts as a prerelease when any of its uploaded artifacts is
// yanked, or when its version string carries a PEP 440 pre-release or
// development marker ("2.0.0rc1", "1.5.dev3").
package pypi
