// Package api hosts the HTTP server, middleware, and REST handlers for
// serve mode. Notable routes:
//   - GET /healthz and /readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/streams lists the catalog.
//   - POST /v1/runs queues a sync; GET /v1/runs and /v1/runs/{run_id} report
//     on it; POST /v1/runs/{run_id}/cancel stops it.
//   - GET /v1/progress/runs... reads per-stream progress through the
//     ProgressRepository interface when a database is configured.
package api
