// Package api hosts the operator HTTP server of a harvest process. Routes:
//   - GET /healthz and /readyz for probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/status for live run counters and stored collection sizes.
//   - GET /v1/queue?limit= to preview the shared work queue.
package api
