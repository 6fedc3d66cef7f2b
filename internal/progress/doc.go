// Package progress provides the event primitives, non-blocking hub, and emitter
// interface the runner and extractor use to report sync progress. Events are
// batched on a background goroutine and fanned out to sinks such as
// Prometheus metrics or the run history store.
package progress
