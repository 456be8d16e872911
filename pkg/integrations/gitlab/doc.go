// Package gitlab provides an HTTP client for the GitLab REST API (v4).
//
// # Overview
//
// The client lists releases and tags for packages whose source is hosted
// on gitlab.com. Releases flagged as upcoming are reported as prereleases.
//
// # Usage
//
//	client := gitlab.NewClient(backend, token, time.Hour)
//	releases, err := client.ListReleases(ctx, "inkscape", "inkscape")
//
// # Authentication
//
// A GitLab personal access token is optional and sent as PRIVATE-TOKEN.
// Without a token, only public projects can be accessed.
package gitlab
