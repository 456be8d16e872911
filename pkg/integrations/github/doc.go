// Package github provides an HTTP client for the GitHub REST API.
//
// # Overview
//
// The client serves two purposes in nixupdate:
//
//   - Listing upstream releases and tags for packages whose source lives on
//     github.com ([Client.ListReleases], [Client.ListTags]).
//   - Opening pull requests against the nixpkgs checkout's upstream
//     repository once an update has been verified ([Client.CreatePullRequest]).
//
// # Usage
//
//	client := github.NewClient(cache.NewNullCache(), token, time.Hour)
//
//	releases, err := client.ListReleases(ctx, "NixOS", "nix")
//	if errors.Is(err, integrations.ErrNotFound) {
//	    releases, err = client.ListTags(ctx, "NixOS", "nix")
//	}
//
// # Authentication
//
// A GitHub token is optional for listing but required for pull requests.
// Without a token, the client is limited to 60 requests/hour.
// With a token, the limit is 5000 requests/hour.
package github
