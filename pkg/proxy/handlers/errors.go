package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"mercator-hq/ganymede/pkg/auth"
	"mercator-hq/ganymede/pkg/kiro"
	"mercator-hq/ganymede/pkg/proxy/types"
	"mercator-hq/ganymede/pkg/translate"
)

// classify maps an internal failure onto the client-facing error. Messages
// stay free of upstream URLs, bearer tokens, and stack traces; what the
// client needs to know is whether its request was wrong, the gateway's
// credential is dead, or the upstream misbehaved.
func classify(err error) *types.RequestError {
	var re *types.RequestError
	if errors.As(err, &re) {
		return re
	}

	var oe *translate.OverflowError
	if errors.As(err, &oe) {
		return types.NewRequestError(http.StatusRequestEntityTooLarge, types.ErrInvalidRequest, oe.Error())
	}

	if errors.Is(err, kiro.ErrUnknownModel) {
		return types.NewRequestError(http.StatusNotFound, types.ErrNotFound, err.Error())
	}

	var fe *auth.FatalError
	if errors.As(err, &fe) || errors.Is(err, auth.ErrNoCredential) {
		return types.NewRequestError(http.StatusServiceUnavailable, types.ErrAPI,
			"gateway credential is no longer valid; a new refresh token is required")
	}
	var te *auth.TransientError
	if errors.As(err, &te) {
		return types.NewRequestError(http.StatusBadGateway, types.ErrAPI,
			"could not reach the identity provider")
	}

	var ftt *kiro.FirstTokenTimeoutError
	if errors.As(err, &ftt) {
		return types.NewRequestError(http.StatusBadGateway, types.ErrTimeout,
			"upstream did not begin responding in time")
	}
	var tre *kiro.TransportError
	if errors.As(err, &tre) {
		return types.NewRequestError(http.StatusBadGateway, types.ErrAPI, tre.Error())
	}

	var ue *kiro.UpstreamError
	if errors.As(err, &ue) {
		return classifyUpstream(ue)
	}

	var frame *kiro.FramingError
	var proto *kiro.ProtocolError
	var stream *kiro.StreamError
	if errors.As(err, &frame) || errors.As(err, &proto) || errors.As(err, &stream) {
		return types.NewRequestError(http.StatusBadGateway, types.ErrAPI,
			"upstream response stream failed")
	}

	return types.NewRequestError(http.StatusInternalServerError, types.ErrAPI,
		"internal gateway error")
}

// classifyUpstream maps a non-2xx upstream status that survived the retry
// loop. The body text is already truncated and carries no secrets; it is the
// only clue an operator gets for a profile or quota problem.
func classifyUpstream(ue *kiro.UpstreamError) *types.RequestError {
	msg := ue.Message
	switch {
	case ue.StatusCode == http.StatusUnauthorized || ue.StatusCode == http.StatusForbidden:
		// The client's key was fine; it is the gateway's upstream credential
		// or profile that was refused.
		if msg == "" {
			msg = "upstream rejected the gateway's credentials"
		}
		return types.NewRequestError(http.StatusServiceUnavailable, types.ErrAPI, msg)
	case ue.StatusCode == http.StatusRequestEntityTooLarge:
		return types.NewRequestError(http.StatusRequestEntityTooLarge, types.ErrInvalidRequest,
			"request exceeds the model's context window")
	case ue.StatusCode == http.StatusTooManyRequests:
		if msg == "" {
			msg = "upstream rate limit exceeded"
		}
		return types.NewRequestError(http.StatusTooManyRequests, types.ErrRateLimit, msg)
	case ue.StatusCode >= 500:
		return types.NewRequestError(http.StatusBadGateway, types.ErrAPI,
			"upstream service error")
	default:
		if msg == "" {
			msg = "upstream rejected the request"
		}
		return types.NewRequestError(ue.StatusCode, types.ErrInvalidRequest, msg)
	}
}

// writeError renders a RequestError in the client's dialect.
func writeError(w http.ResponseWriter, dialect types.Dialect, re *types.RequestError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(re.Status)
	enc := json.NewEncoder(w)
	if dialect == types.DialectAnthropic {
		_ = enc.Encode(types.NewAnthropicError(re.Code, re.Message))
		return
	}
	_ = enc.Encode(types.NewOpenAIError(re.Code, re.Message))
}

// writeJSON renders a success body.
func writeJSON(w http.ResponseWriter, status int, v interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(v)
}

// setSSEHeaders prepares the response for an event stream. X-Accel-Buffering
// stops nginx-style proxies from absorbing the flushes.
func setSSEHeaders(w http.ResponseWriter) {
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
}

// maxBodyBytes caps inbound request bodies. Conversations with inline images
// run large; 10 MB covers them with room to spare.
const maxBodyBytes = 10 << 20

// decodeBody reads and decodes a JSON request body under the size cap.
func decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) *types.RequestError {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			return types.NewRequestError(http.StatusRequestEntityTooLarge, types.ErrInvalidRequest,
				"request body exceeds the 10 MB limit")
		}
		return types.NewRequestError(http.StatusBadRequest, types.ErrInvalidRequest,
			"request body is not valid JSON: "+err.Error())
	}
	return nil
}
