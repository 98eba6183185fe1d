// Package telemetry groups the gateway's observability subpackages.
//
// The metrics subpackage owns the Prometheus registry served on /metrics.
// Structured logging is plain log/slog, configured once in cmd/ganymede and
// passed down explicitly; it needs no package here.
package telemetry
