// Package integrations provides HTTP clients for the upstream release APIs.
//
// # Overview
//
// Each platform nixupdate can track has its own subpackage:
//
//   - [github]: GitHub releases, tags and pull request creation
//   - [gitlab]: GitLab releases and tags
//   - [pypi]: Python Package Index version listing
//
// # Client Pattern
//
// All clients embed [Client] and follow a consistent pattern:
//
//	client := github.NewClient(backend, token, time.Hour)  // Cache TTL
//	releases, err := client.ListReleases(ctx, "NixOS", "nix")
//
// Clients handle:
//   - HTTP requests with retry for transient failures
//   - Response caching through any [cache.Cache] backend
//   - Coalescing of concurrent requests for the same listing
//   - Mapping of HTTP status codes onto [ErrNotFound], [ErrNetwork]
//     and [ErrRateLimited]
//
// # Error Handling
//
// A 404 is never retried: the upstream resolver uses [ErrNotFound] from a
// releases listing as the signal to fall back to tags. 5xx responses and
// connection failures are retried with exponential backoff. 403 and 429
// responses carry the RATE_LIMITED error code.
package integrations
