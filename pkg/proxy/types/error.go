package types

import "fmt"

// Error type strings shared across both dialects. Anthropic and OpenAI use
// the same identifiers for the cases the gateway produces.
const (
	ErrInvalidRequest = "invalid_request_error"
	ErrAuthentication = "authentication_error"
	ErrPermission     = "permission_error"
	ErrNotFound       = "not_found_error"
	ErrRateLimit      = "rate_limit_error"
	ErrAPI            = "api_error"
	ErrOverloaded     = "overloaded_error"
	ErrTimeout        = "timeout_error"
)

// RequestError is the canonical client-facing error. It carries the HTTP
// status, the dialect-neutral error type identifier, and a sanitized message.
// Handlers render it into the caller's dialect; nothing in it may reference
// upstream URLs or bearer tokens.
type RequestError struct {
	Status  int
	Code    string
	Message string
}

// NewRequestError builds a RequestError.
func NewRequestError(status int, code, message string) *RequestError {
	return &RequestError{Status: status, Code: code, Message: message}
}

// Error implements the error interface.
func (e *RequestError) Error() string {
	return fmt.Sprintf("%s (%d): %s", e.Code, e.Status, e.Message)
}

// AnthropicErrorDetail is the inner object of an Anthropic error body.
type AnthropicErrorDetail struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// AnthropicError is the Anthropic-dialect error envelope:
// {"type":"error","error":{"type":...,"message":...}}.
type AnthropicError struct {
	Type  string               `json:"type"` // always "error"
	Error AnthropicErrorDetail `json:"error"`
}

// NewAnthropicError wraps a type/message pair in the Anthropic envelope.
func NewAnthropicError(errType, message string) AnthropicError {
	return AnthropicError{Type: "error", Error: AnthropicErrorDetail{Type: errType, Message: message}}
}

// OpenAIErrorDetail is the inner object of an OpenAI error body.
type OpenAIErrorDetail struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Param   string `json:"param,omitempty"`
	Code    string `json:"code,omitempty"`
}

// OpenAIError is the OpenAI-dialect error envelope: {"error":{...}}.
type OpenAIError struct {
	Error OpenAIErrorDetail `json:"error"`
}

// NewOpenAIError wraps a type/message pair in the OpenAI envelope.
func NewOpenAIError(errType, message string) OpenAIError {
	return OpenAIError{Error: OpenAIErrorDetail{Message: message, Type: errType}}
}
