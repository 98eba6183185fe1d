// Package handlers implements the gateway's client-facing endpoints.
//
// Two completion routes translate between client dialects and the upstream:
// POST /v1/messages speaks the Anthropic Messages API and POST
// /v1/chat/completions speaks OpenAI chat. Both normalize the request into
// the shared logical form, hand it to the gateway engine, and render the
// resulting event stream back in the caller's dialect, streamed as SSE or
// aggregated per the request's stream flag.
//
// GET /v1/models and /v1/models/{id} project the upstream catalogue into
// whichever dialect the client's headers suggest. GET /healthz reports
// credential, recovery-cache, and model-cache state, answering 503 once the
// refresh token has been rejected.
//
// Every failure is classified into a RequestError before it reaches the
// client, so responses carry sanitized messages in the caller's own error
// envelope and never reference upstream hosts or tokens.
package handlers
