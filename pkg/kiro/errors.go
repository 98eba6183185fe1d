package kiro

import (
	"fmt"
	"strings"
	"time"
)

// UpstreamError is a non-2xx response to an upstream call. Message holds the
// response body text, truncated, so handlers can surface it; it never
// includes the request URL or the bearer token.
type UpstreamError struct {
	StatusCode int
	Message    string

	// CredentialsExpired is set when a 403 body indicates the access token
	// aged out server-side, which is worth one invalidate-and-retry.
	CredentialsExpired bool
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream returned %d: %s", e.StatusCode, e.Message)
}

// newUpstreamError classifies a status/body pair.
func newUpstreamError(status int, body []byte) *UpstreamError {
	msg := strings.TrimSpace(string(body))
	if len(msg) > 512 {
		msg = msg[:512]
	}
	return &UpstreamError{
		StatusCode:         status,
		Message:            msg,
		CredentialsExpired: status == 403 && strings.Contains(strings.ToLower(msg), "expired"),
	}
}

// TransportError is a network-level failure before any response arrived:
// DNS, dial, TLS, or a dropped connection mid-request. Error() is static
// because Go transport errors embed the full request URL, which must not
// reach clients; the cause stays reachable through Unwrap for logs.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string { return "upstream connection failed" }

func (e *TransportError) Unwrap() error { return e.Err }

// FirstTokenTimeoutError means the upstream accepted the request but emitted
// no meaningful event within the deadline. Nothing has been written to the
// client, so the whole attempt may be retried. Every other stream error
// means bytes may already be on the wire.
type FirstTokenTimeoutError struct {
	Timeout time.Duration
}

func (e *FirstTokenTimeoutError) Error() string {
	return fmt.Sprintf("no first token within %s", e.Timeout)
}

// FramingError is a violation of the length-prefix framing: a short read or
// an implausible frame length. Not retryable; the stream position is lost.
type FramingError struct {
	Reason string
}

func (e *FramingError) Error() string {
	return "stream framing broken: " + e.Reason
}

// ProtocolError means frames keep arriving but their payloads stopped making
// sense (several consecutive undecodable frames, or an upstream error
// envelope inside the stream).
type ProtocolError struct {
	Reason string
}

func (e *ProtocolError) Error() string {
	return "stream protocol error: " + e.Reason
}

// StreamError wraps a network-level failure while reading an established
// stream, such as an idle timeout or a reset connection.
type StreamError struct {
	Reason string
	Err    error
}

func (e *StreamError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("stream read failed: %s: %v", e.Reason, e.Err)
	}
	return "stream read failed: " + e.Reason
}

func (e *StreamError) Unwrap() error { return e.Err }
