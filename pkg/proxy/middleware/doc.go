// Package middleware provides the HTTP middleware chain for the gateway.
//
// Middleware is applied outermost to innermost:
//
//	handler = Recovery(RequestID(Logging(Auth(mux))))
//
// Recovery runs first so a panic anywhere below it still produces a JSON 500.
// RequestID runs before Logging so the correlation id is present in every log
// line. Auth runs last, after logging, so rejected requests are still visible
// in the access log.
//
// # Request ID
//
// RequestIDMiddleware honors an inbound X-Request-ID header or generates a
// UUID v4 when absent. The id is stored in the request context, echoed in the
// response header, and attached to every log line for the request.
//
// # Logging
//
// LoggingMiddleware writes one structured line per request via log/slog. The
// response wrapper forwards Flush to the underlying writer, which streaming
// handlers depend on.
//
// # Auth
//
// AuthMiddleware compares the presented key against the configured gateway
// key in constant time. Clients may send Authorization: Bearer <key> or
// x-api-key: <key>. /healthz and /metrics are exempt. ClientDialect also
// lives here: requests carrying x-api-key or anthropic-version are answered
// with Anthropic-shaped bodies, everything else with OpenAI-shaped ones.
//
// # Recovery
//
// RecoveryMiddleware converts panics into a dialect-shaped 500 and logs the
// stack trace. The trace is never sent to the client.
package middleware
