// Package api hosts the HTTP server, middleware, and REST handlers for operator
// access. Notable routes:
//   - GET /healthz / readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/stacks/{stack}/hosts and .../hosts/{host_hash}/requests for queue inspection.
//   - POST /v1/profiles and DELETE /v1/profiles/{handle} for crawl job lifecycle.
//   - POST /v1/crawls to feed start URLs into the acceptance pipeline.
//   - GET /v1/errors for recently rejected URLs.
package api
