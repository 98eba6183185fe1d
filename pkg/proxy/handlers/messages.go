package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"mercator-hq/ganymede/pkg/gateway"
	"mercator-hq/ganymede/pkg/proxy/middleware"
	"mercator-hq/ganymede/pkg/proxy/types"
	"mercator-hq/ganymede/pkg/telemetry/metrics"
	"mercator-hq/ganymede/pkg/translate"
)

// MessagesHandler serves POST /v1/messages, the Anthropic Messages dialect.
type MessagesHandler struct {
	engine     *gateway.Engine
	translator *translate.Translator
	metrics    *metrics.Metrics
	logger     *slog.Logger
}

// NewMessagesHandler creates the /v1/messages handler.
func NewMessagesHandler(opts Options) *MessagesHandler {
	return &MessagesHandler{
		engine:     opts.Engine,
		translator: opts.Translator,
		metrics:    opts.Metrics,
		logger:     opts.logger().With("handler", "messages"),
	}
}

// ServeHTTP implements http.Handler.
func (h *MessagesHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)

	fail := func(re *types.RequestError) {
		writeError(w, types.DialectAnthropic, re)
		h.metrics.RecordRequest(metrics.APIAnthropic, outcomeFor(re.Status), time.Since(start))
	}

	if r.Method != http.MethodPost {
		fail(types.NewRequestError(http.StatusMethodNotAllowed, types.ErrInvalidRequest,
			"method not allowed; use POST"))
		return
	}

	var req types.AnthropicRequest
	if re := decodeBody(w, r, &req); re != nil {
		fail(re)
		return
	}
	u, err := req.ToUnified()
	if err != nil {
		fail(classify(err))
		return
	}

	h.logger.InfoContext(ctx, "messages request",
		"request_id", requestID,
		"model", u.Model,
		"messages", len(u.Messages),
		"stream", u.Stream)

	ex, err := h.engine.Run(ctx, u)
	if err != nil {
		if ctx.Err() != nil {
			h.metrics.RecordRequest(metrics.APIAnthropic, metrics.OutcomeCanceled, time.Since(start))
			return
		}
		re := classify(err)
		h.logger.ErrorContext(ctx, "messages request failed",
			"request_id", requestID,
			"model", u.Model,
			"status", re.Status,
			"error", err)
		fail(re)
		return
	}

	params := translate.StreamParams{Model: u.Model, InputTokens: ex.InputTokens}
	if u.Stream {
		h.stream(w, r, ex, params, start)
		return
	}

	agg, err := h.translator.Drain(ctx, ex.Events)
	if err != nil {
		if ctx.Err() != nil {
			h.metrics.RecordRequest(metrics.APIAnthropic, metrics.OutcomeCanceled, time.Since(start))
			return
		}
		re := classify(err)
		h.logger.ErrorContext(ctx, "upstream stream failed mid-response",
			"request_id", requestID,
			"model", u.Model,
			"error", err)
		fail(re)
		return
	}

	body := h.translator.AnthropicMessage(agg, params)
	if err := writeJSON(w, http.StatusOK, body); err != nil {
		h.logger.WarnContext(ctx, "client went away before the response was written",
			"request_id", requestID, "error", err)
	}
	h.logger.InfoContext(ctx, "messages request completed",
		"request_id", requestID,
		"model", u.Model,
		"stop_reason", body.StopReason,
		"input_tokens", body.Usage.InputTokens,
		"output_tokens", body.Usage.OutputTokens,
		"latency_ms", time.Since(start).Milliseconds())
	h.metrics.RecordRequest(metrics.APIAnthropic, metrics.OutcomeSuccess, time.Since(start))
}

// stream emits the exchange as Anthropic SSE. Once headers flush there is no
// way to change the status; failures terminate the stream with an error
// event and are only logged here.
func (h *MessagesHandler) stream(w http.ResponseWriter, r *http.Request, ex *gateway.Exchange, params translate.StreamParams, start time.Time) {
	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)

	setSSEHeaders(w)
	w.WriteHeader(http.StatusOK)
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}

	res, err := h.translator.StreamAnthropic(ctx, w, ex.Events, params)
	if err != nil {
		outcome := metrics.OutcomeUpstreamError
		if ctx.Err() != nil {
			outcome = metrics.OutcomeCanceled
		}
		h.logger.WarnContext(ctx, "messages stream ended early",
			"request_id", requestID,
			"model", params.Model,
			"error", err)
		h.metrics.RecordRequest(metrics.APIAnthropic, outcome, time.Since(start))
		return
	}

	h.logger.InfoContext(ctx, "messages stream completed",
		"request_id", requestID,
		"model", params.Model,
		"stop_reason", res.StopReason,
		"input_tokens", params.InputTokens,
		"output_tokens", res.OutputTokens,
		"latency_ms", time.Since(start).Milliseconds())
	h.metrics.RecordRequest(metrics.APIAnthropic, metrics.OutcomeSuccess, time.Since(start))
}
