// Package api hosts the status HTTP server that runs alongside a crawl.
// Routes:
//   - GET /healthz and /readyz for liveness and store readiness probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/state for the engine's current run state.
//   - GET /v1/checkpoints and /v1/checkpoints/{keyword} for resumable progress.
package api
