// Package translate converts between the client dialects and the upstream
// conversation protocol, in both directions.
//
// # Request side
//
// BuildEnvelope turns a normalized UnifiedRequest into the upstream
// conversation envelope: the system prompt folds into a labeled preamble on
// the first user turn, URL images are fetched and transcoded to base64,
// orphaned tool results degrade to plain text, and the history is merged
// into the strict user/assistant alternation the upstream replays. When the
// estimated prompt exceeds the model's window the history summarizer
// collapses the oldest turns into a single summary block before anything is
// sent. InjectRecovery consults the truncation cache and splices synthetic
// acknowledgements into the request history exactly once per record.
//
// # Response side
//
// StreamAnthropic and StreamOpenAI re-emit the semantic event stream as
// Anthropic or OpenAI server-sent events; Drain aggregates it for the
// non-streaming forms. All three apply the configured reasoning handling to
// <thinking> spans embedded in upstream text and detect truncated tool
// arguments and truncated replies at end of stream, recording them for the
// next turn's recovery pass.
package translate
