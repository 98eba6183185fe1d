// Package metrics provides Prometheus metrics collection for Ganymede.
//
// # Overview
//
// The package owns a private Prometheus registry and the gateway's
// instrument set: request counts and durations per client API dialect,
// upstream attempt results, credential-refresh outcomes, and truncation
// detections. When a recovery cache is supplied, gauges report the number
// of live recovery records at scrape time.
//
// # Metrics
//
//   - ganymede_requests_total{api,outcome}: completed client requests
//   - ganymede_request_duration_seconds{api}: end-to-end latency histogram
//   - ganymede_upstream_attempts_total{result}: outbound upstream calls
//   - ganymede_credential_refreshes_total{provider,result}: token refreshes
//   - ganymede_truncations_total{kind}: detected tool/content truncations
//   - ganymede_recovery_records{kind}: live recovery-cache records
//
// # Usage
//
//	m := metrics.New(cache)
//
//	m.RecordRequest(metrics.APIAnthropic, metrics.OutcomeSuccess, elapsed)
//	m.RecordUpstreamAttempt("success")
//	m.RecordCredentialRefresh("desktop", "success")
//
//	mux.Handle("/metrics", m.Handler())
//
// A nil *Metrics is a valid no-op recorder, so components can take one
// unconditionally and tests can leave it unset.
//
// # Prometheus Endpoint
//
// All metrics are exposed on the /metrics endpoint in standard Prometheus
// format:
//
//	# HELP ganymede_requests_total Completed client requests by API dialect and outcome.
//	# TYPE ganymede_requests_total counter
//	ganymede_requests_total{api="anthropic",outcome="success"} 1234
package metrics
