// Package observability provides hooks for metrics, tracing, and logging.
//
// This package enables optional instrumentation without adding hard dependencies
// on specific observability backends. Consumers can register hooks at startup
// to receive events about update runs, cache operations, and API calls.
//
// # Architecture
//
// The package uses a simple hooks pattern:
//   - Define hook interfaces for different event categories
//   - Provide no-op default implementations
//   - Allow registration of custom implementations at startup
//
// Hooks are registered by main, not by libraries, so library packages never
// import a metrics backend. [Prometheus] is the implementation the CLI
// installs for `nixupdate serve`.
//
// # Usage
//
// Register hooks at application startup:
//
//	func main() {
//	    prom := observability.NewPrometheus(prometheus.NewRegistry())
//	    observability.SetUpdateHooks(prom)
//	    observability.SetHTTPHooks(prom)
//	    // ... run application
//	}
//
// Libraries call hooks to emit events:
//
//	observability.Update().OnCheckStart(ctx, attr)
//	// ... run the pipeline ...
//	observability.Update().OnCheckComplete(ctx, attr, observability.OutcomeUpdated, duration)
package observability

import (
	"context"
	"sync"
	"time"
)

// Outcome labels reported through [UpdateHooks.OnCheckComplete].
const (
	OutcomeUpdated  = "updated"
	OutcomeNoUpdate = "no_update"
	OutcomeSkipped  = "skipped"
	OutcomeDryRun   = "dry_run"
	OutcomeFailed   = "failed"
	OutcomePanicked = "panicked"
)

// =============================================================================
// Update Hooks
// =============================================================================

// UpdateHooks receives events from the update orchestrator.
type UpdateHooks interface {
	// OnCheckStart fires when a package is dispatched to a pipeline.
	OnCheckStart(ctx context.Context, attr string)

	// OnCheckComplete fires when a pipeline finishes with one of the Outcome labels.
	OnCheckComplete(ctx context.Context, attr, outcome string, duration time.Duration)

	// OnPoolActive reports the number of pipelines currently running.
	OnPoolActive(ctx context.Context, active int)

	// OnGroupComplete fires after a group batch has been processed.
	OnGroupComplete(ctx context.Context, group string, updated, failed int)
}

// =============================================================================
// Cache Hooks
// =============================================================================

// CacheHooks receives events from cache operations.
type CacheHooks interface {
	// OnCacheHit records a cache hit.
	OnCacheHit(ctx context.Context, keyType string)

	// OnCacheMiss records a cache miss.
	OnCacheMiss(ctx context.Context, keyType string)

	// OnCacheSet records a cache write.
	OnCacheSet(ctx context.Context, keyType string, size int)
}

// =============================================================================
// HTTP Hooks
// =============================================================================

// HTTPHooks receives events from HTTP client operations.
type HTTPHooks interface {
	// OnRequest records an outgoing HTTP request.
	OnRequest(ctx context.Context, method, host, path string)

	// OnResponse records an HTTP response.
	OnResponse(ctx context.Context, method, host, path string, statusCode int, duration time.Duration)

	// OnError records an HTTP error (network failure, timeout).
	OnError(ctx context.Context, method, host, path string, err error)
}

// =============================================================================
// No-op Implementations
// =============================================================================

// NoopUpdateHooks is a no-op implementation of UpdateHooks.
type NoopUpdateHooks struct{}

func (NoopUpdateHooks) OnCheckStart(context.Context, string)                          {}
func (NoopUpdateHooks) OnCheckComplete(context.Context, string, string, time.Duration) {}
func (NoopUpdateHooks) OnPoolActive(context.Context, int)                             {}
func (NoopUpdateHooks) OnGroupComplete(context.Context, string, int, int)             {}

// NoopCacheHooks is a no-op implementation of CacheHooks.
type NoopCacheHooks struct{}

func (NoopCacheHooks) OnCacheHit(context.Context, string)      {}
func (NoopCacheHooks) OnCacheMiss(context.Context, string)     {}
func (NoopCacheHooks) OnCacheSet(context.Context, string, int) {}

// NoopHTTPHooks is a no-op implementation of HTTPHooks.
type NoopHTTPHooks struct{}

func (NoopHTTPHooks) OnRequest(context.Context, string, string, string)                      {}
func (NoopHTTPHooks) OnResponse(context.Context, string, string, string, int, time.Duration) {}
func (NoopHTTPHooks) OnError(context.Context, string, string, string, error)                 {}

// =============================================================================
// Global Hook Registry
// =============================================================================

var (
	updateHooks UpdateHooks = NoopUpdateHooks{}
	cacheHooks  CacheHooks  = NoopCacheHooks{}
	httpHooks   HTTPHooks   = NoopHTTPHooks{}
	hooksMu     sync.RWMutex
)

// SetUpdateHooks registers custom update hooks.
// This should be called once at application startup before any run starts.
func SetUpdateHooks(h UpdateHooks) {
	hooksMu.Lock()
	defer hooksMu.Unlock()
	if h != nil {
		updateHooks = h
	}
}

// SetCacheHooks registers custom cache hooks.
// This should be called once at application startup before any cache operations.
func SetCacheHooks(h CacheHooks) {
	hooksMu.Lock()
	defer hooksMu.Unlock()
	if h != nil {
		cacheHooks = h
	}
}

// SetHTTPHooks registers custom HTTP hooks.
// This should be called once at application startup before any HTTP operations.
func SetHTTPHooks(h HTTPHooks) {
	hooksMu.Lock()
	defer hooksMu.Unlock()
	if h != nil {
		httpHooks = h
	}
}

// Update returns the registered update hooks.
func Update() UpdateHooks {
	hooksMu.RLock()
	defer hooksMu.RUnlock()
	return updateHooks
}

// Cache returns the registered cache hooks.
func Cache() CacheHooks {
	hooksMu.RLock()
	defer hooksMu.RUnlock()
	return cacheHooks
}

// HTTP returns the registered HTTP hooks.
func HTTP() HTTPHooks {
	hooksMu.RLock()
	defer hooksMu.RUnlock()
	return httpHooks
}

// Reset restores all hooks to their no-op defaults.
// This is primarily useful for testing.
func Reset() {
	hooksMu.Lock()
	defer hooksMu.Unlock()
	updateHooks = NoopUpdateHooks{}
	cacheHooks = NoopCacheHooks{}
	httpHooks = NoopHTTPHooks{}
}
