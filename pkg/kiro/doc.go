// Package kiro speaks the upstream streaming API: envelope construction
// types, the length-prefixed frame protocol, and the model listing endpoints.
//
// The wire protocol is one HTTP response body carrying a sequence of binary
// frames, each a 4-byte big-endian length followed by that many bytes of
// JSON. Each JSON payload holds at most one event discriminator
// (assistantResponseEvent, toolUseEvent, codeReferenceEvent,
// messageMetadataEvent, or an error envelope). ParseStream demultiplexes
// frames into an ordered channel of semantic events with a first-token
// watchdog, an idle timeout, and tool-argument reassembly.
//
// Errors carry their retry semantics in their type: FirstTokenTimeoutError
// is the only stream error safe to retry, because it guarantees nothing was
// forwarded to the client yet.
package kiro
