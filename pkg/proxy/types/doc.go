// Package types defines the wire schema for both inbound API dialects and the
// logical message model shared by the translation pipeline.
//
// The gateway accepts two request shapes:
//
//   - Anthropic Messages API (POST /v1/messages), version 2023-06-01
//   - OpenAI Chat Completions API (POST /v1/chat/completions)
//
// Both are decoded into dialect-specific structs (AnthropicRequest,
// ChatCompletionRequest) and then normalized into a UnifiedRequest whose
// messages carry tagged content Blocks (text, image, tool use, tool result,
// thinking). The translator consumes only the unified form; response encoding
// walks back out through the dialect-specific response types in this package.
//
// # JSON handling
//
// Several fields are unions on the wire (message content may be a bare string
// or an array of blocks, tool_choice may be a string or an object). These are
// modeled as small structs with custom UnmarshalJSON rather than interface{}
// so downstream code never type-asserts raw decoded values.
//
// # Errors
//
// RequestError is the canonical client-facing error. Handlers render it as
// {"type":"error","error":{...}} for Anthropic callers and {"error":{...}}
// for OpenAI callers; see the proxy package for the writers.
package types
