// Package gateway orchestrates one logical client request against the
// upstream streaming API.
//
// # Overview
//
// The Engine owns the request pipeline between the HTTP handlers and the
// wire: resolve the model, build the conversation envelope, acquire a
// bearer, post upstream, and hand back an ordered semantic-event stream.
// Response translation back into the client's dialect stays with the
// handlers, which know whether the caller wants SSE or an aggregate body.
//
// # Retry policy
//
// The dial loop spends a total-attempt budget (MAX_RETRIES, default 3):
//
//   - 401, or a 403 naming expired credentials: invalidate the cached
//     access token and retry, once per request
//   - 413: summarize the conversation history and retry, once per request
//   - 5xx and network failures: exponential full-jitter backoff
//     (base 250ms, cap 4s) while attempts remain, else surfaced
//   - first-token timeout: retried while attempts remain; nothing has
//     been written to the client yet
//   - every other failure: surfaced immediately
//
// The loop inspects the stream's first event before returning, so an
// Exchange handed to a response translator can no longer fail in a
// retryable way. Retried attempts reuse the built envelope with a fresh
// continuation id; the conversation id stays stable.
package gateway
