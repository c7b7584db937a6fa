// Package api hosts the status server that runs next to a crawl. Routes:
//   - GET /healthz and /readyz for liveness and readiness checks.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/progress for the persisted checkpoint.
//   - GET /v1/stats for the live run statistics.
package api
