package integrations

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/matzehuels/nixupdate/pkg/cache"
	nixerrors "github.com/matzehuels/nixupdate/pkg/errors"
	"github.com/matzehuels/nixupdate/pkg/httputil"
	"github.com/matzehuels/nixupdate/pkg/observability"
)

// Client provides shared HTTP functionality for the upstream release clients.
// It handles caching, retry logic, request coalescing and common headers.
//
// All methods are safe for concurrent use. Concurrent Cached calls for the
// same key share a single fetch, so parallel update pipelines asking for
// the same upstream listing hit the API once.
type Client struct {
	http    *http.Client
	cache   cache.Cache
	prefix  string
	ttl     time.Duration
	headers map[string]string
	group   singleflight.Group
}

// NewClient creates a Client with the given cache and default headers.
// Cache keys are namespaced with prefix (e.g. "github:"). Headers are
// applied to all requests made through this client; pass nil if none are
// needed. A nil backend disables caching.
func NewClient(backend cache.Cache, prefix string, ttl time.Duration, headers map[string]string) *Client {
	if backend == nil {
		backend = cache.NewNullCache()
	}
	return &Client{
		http:    NewHTTPClient(),
		cache:   backend,
		prefix:  prefix,
		ttl:     ttl,
		headers: headers,
	}
}

// Cached retrieves a value from cache or executes fetch and caches the result.
// If refresh is true, the cache is bypassed and fetch is always called.
// The fetch function should populate v; on success, v is stored in the cache.
func (c *Client) Cached(ctx context.Context, key string, refresh bool, v any, fetch func() error) error {
	key = c.prefix + key
	keyType := strings.TrimSuffix(c.prefix, ":")

	if !refresh {
		if data, ok, _ := c.cache.Get(ctx, key); ok {
			if json.Unmarshal(data, v) == nil {
				observability.Cache().OnCacheHit(ctx, keyType)
				return nil
			}
		}
		observability.Cache().OnCacheMiss(ctx, keyType)
	}

	data, err, _ := c.group.Do(key, func() (any, error) {
		if err := httputil.RetryWithBackoff(ctx, fetch); err != nil {
			return nil, err
		}
		data, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		if err := c.cache.Set(ctx, key, data, c.ttl); err == nil {
			observability.Cache().OnCacheSet(ctx, keyType, len(data))
		}
		return data, nil
	})
	if err != nil {
		return err
	}
	// Callers that joined an in-flight fetch did not run their own fetch,
	// so v is populated from the shared result.
	return json.Unmarshal(data.([]byte), v)
}

// Get performs an HTTP GET request and JSON-decodes the response into v.
// It uses the client's default headers and handles retries automatically.
func (c *Client) Get(ctx context.Context, url string, v any) error {
	return c.GetWithHeaders(ctx, url, nil, v)
}

// GetWithHeaders performs an HTTP GET with additional headers merged with defaults.
// Request-specific headers override client defaults for the same key.
func (c *Client) GetWithHeaders(ctx context.Context, url string, headers map[string]string, v any) error {
	body, err := c.doRequest(ctx, http.MethodGet, url, nil, headers)
	if err != nil {
		return err
	}
	defer body.Close()
	return json.NewDecoder(body).Decode(v)
}

// GetText performs an HTTP GET request and returns the response body as a string.
func (c *Client) GetText(ctx context.Context, url string) (string, error) {
	body, err := c.doRequest(ctx, http.MethodGet, url, nil, nil)
	if err != nil {
		return "", err
	}
	defer body.Close()
	data, err := io.ReadAll(body)
	return string(data), err
}

// PostJSON sends payload as a JSON body and decodes the response into v.
// It is neither cached nor retried: a POST that reached the server may have
// taken effect even when the response was lost.
func (c *Client) PostJSON(ctx context.Context, url string, payload, v any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	body, err := c.doRequest(ctx, http.MethodPost, url, data, map[string]string{"Content-Type": "application/json"})
	if err != nil {
		return err
	}
	defer body.Close()
	if v == nil {
		return nil
	}
	return json.NewDecoder(body).Decode(v)
}

func (c *Client) doRequest(ctx context.Context, method, url string, payload []byte, headers map[string]string) (io.ReadCloser, error) {
	var reqBody io.Reader
	if payload != nil {
		reqBody = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		return nil, err
	}
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	hooks := observability.HTTP()
	host, path := req.URL.Host, req.URL.Path
	hooks.OnRequest(ctx, method, host, path)
	start := time.Now()

	resp, err := c.http.Do(req)
	if err != nil {
		hooks.OnError(ctx, method, host, path, err)
		return nil, httputil.Retryable(fmt.Errorf("%w: %v", ErrNetwork, err))
	}
	hooks.OnResponse(ctx, method, host, path, resp.StatusCode, time.Since(start))

	if err := checkStatus(resp); err != nil {
		resp.Body.Close()
		return nil, err
	}
	return resp.Body, nil
}

// checkStatus maps a response to the package's error values. A rate limit
// with a short Retry-After is retried; longer ones fail the request.
func checkStatus(resp *http.Response) error {
	code := resp.StatusCode
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusNotFound:
		return ErrNotFound
	case code == http.StatusTooManyRequests, code == http.StatusForbidden:
		err := nixerrors.Wrap(nixerrors.ErrCodeRateLimited, ErrRateLimited, "status %d", code)
		if after := httputil.ParseRetryAfter(resp.Header); after > 0 && after <= httputil.MaxRetryAfter {
			return httputil.RetryAfter(err, after)
		}
		return err
	case code >= 500:
		return httputil.Retryable(fmt.Errorf("%w: status %d", ErrNetwork, code))
	default:
		return fmt.Errorf("%w: status %d", ErrNetwork, code)
	}
}
