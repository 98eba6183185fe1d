// Package server ties the gateway's HTTP surface together: routes, the
// middleware chain, and listener lifecycle.
//
// # Routes
//
//   - POST /v1/messages            Anthropic-dialect completions
//   - POST /v1/chat/completions    OpenAI-dialect completions
//   - GET  /v1/models              model catalogue, shaped per dialect
//   - GET  /v1/models/{id}         single model lookup
//   - GET  /healthz                liveness and credential state (no auth)
//   - GET  /metrics                Prometheus exposition (no auth, optional)
//
// # Middleware Chain
//
// Requests pass through Recovery, RequestID, Logging, then Auth before
// reaching the mux. Rejected requests still produce an access-log line
// because Auth sits inside Logging.
//
// # Lifecycle
//
// Start blocks until the context is canceled, SIGTERM or SIGINT arrives,
// Stop is called, or the listener fails. Shutdown drains in-flight requests
// within the configured timeout. WriteTimeout defaults to zero because
// streamed completions hold the response open for unbounded stretches.
package server
