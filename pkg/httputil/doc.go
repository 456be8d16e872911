// Package httputil provides retry helpers for the upstream release clients.
//
// Upstream APIs (GitHub, GitLab, PyPI) fail transiently: connection resets,
// 5xx responses during deploys, gateway timeouts. Wrap such failures with
// [Retryable] and run the request through [Retry] or [RetryWithBackoff]:
//
//	err := httputil.RetryWithBackoff(ctx, func() error {
//	    resp, err := client.Do(req)
//	    if err != nil {
//	        return httputil.Retryable(err)
//	    }
//	    ...
//	})
//
// Errors that are not wrapped are returned immediately. 404 responses in
// particular must not be retried: the resolver uses them to fall back from
// the releases listing to the tags listing.
package httputil
