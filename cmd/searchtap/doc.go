// Package main hosts the searchtap entrypoint.
//
// Architecture overview:
//   - CLI: cmd builds a cobra tree with discover, sync and serve. The root command loads config through viper
//     (file plus TAP_* env overrides) and a zap logger that writes to stderr, since stdout carries Singer messages.
//   - Streams: internal/streams holds the seven performance report descriptors and the fan-out controller that expands
//     a stream into one pass per property and, for the search appearance stream, per appearance value.
//   - Extraction: internal/extract walks each pass in date windows, pages through searchAnalytics.query through
//     internal/searchconsole (OAuth2, per-property token bucket, retry with jittered backoff), validates every record
//     against the catalog schema and advances bookmarks only after a window is fully written.
//   - Runs: internal/runner selects streams, emits SCHEMA messages, resumes an interrupted stream first and saves
//     state after every stream. State lives in a file, memory, Postgres or Redis.
//   - Output: records go to stdout and optionally to Pub/Sub, NATS and an NDJSON archive on GCS, S3 or local disk.
//   - Serve mode: internal/api exposes health, metrics, stream listing and run management. Runs flow through a bounded
//     in-memory queue to a single worker so two runs never share the state document at once.
//   - Observability: Prometheus collectors cover API calls, records and runs; the progress hub batches run events to
//     the log, Prometheus and, when db.dsn is set, Postgres for the /v1/progress endpoints.
//
// Quick checklist:
//   - Write a config with site_urls, start_date and oauth credentials (or TAP_OAUTH_* env vars).
//   - searchtap discover > catalog.json, edit "selected", then searchtap sync --config config.yaml --catalog catalog.json.
//   - searchtap serve --config config.yaml starts the API on server.port and drains on SIGTERM.
package main
