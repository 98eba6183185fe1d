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

// CompletionsHandler serves POST /v1/chat/completions, the OpenAI dialect.
type CompletionsHandler struct {
	engine     *gateway.Engine
	translator *translate.Translator
	metrics    *metrics.Metrics
	logger     *slog.Logger
}

// NewCompletionsHandler creates the /v1/chat/completions handler.
func NewCompletionsHandler(opts Options) *CompletionsHandler {
	return &CompletionsHandler{
		engine:     opts.Engine,
		translator: opts.Translator,
		metrics:    opts.Metrics,
		logger:     opts.logger().With("handler", "completions"),
	}
}

// ServeHTTP implements http.Handler.
func (h *CompletionsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)

	fail := func(re *types.RequestError) {
		writeError(w, types.DialectOpenAI, re)
		h.metrics.RecordRequest(metrics.APIOpenAI, outcomeFor(re.Status), time.Since(start))
	}

	if r.Method != http.MethodPost {
		fail(types.NewRequestError(http.StatusMethodNotAllowed, types.ErrInvalidRequest,
			"method not allowed; use POST"))
		return
	}

	var req types.ChatCompletionRequest
	if re := decodeBody(w, r, &req); re != nil {
		fail(re)
		return
	}
	u, err := req.ToUnified()
	if err != nil {
		fail(classify(err))
		return
	}

	h.logger.InfoContext(ctx, "chat completion request",
		"request_id", requestID,
		"model", u.Model,
		"messages", len(u.Messages),
		"stream", u.Stream)

	ex, err := h.engine.Run(ctx, u)
	if err != nil {
		if ctx.Err() != nil {
			h.metrics.RecordRequest(metrics.APIOpenAI, metrics.OutcomeCanceled, time.Since(start))
			return
		}
		re := classify(err)
		h.logger.ErrorContext(ctx, "chat completion failed",
			"request_id", requestID,
			"model", u.Model,
			"status", re.Status,
			"error", err)
		fail(re)
		return
	}

	params := translate.StreamParams{
		Model:        u.Model,
		InputTokens:  ex.InputTokens,
		IncludeUsage: req.StreamOptions != nil && req.StreamOptions.IncludeUsage,
	}
	if u.Stream {
		h.stream(w, r, ex, params, start)
		return
	}

	agg, err := h.translator.Drain(ctx, ex.Events)
	if err != nil {
		if ctx.Err() != nil {
			h.metrics.RecordRequest(metrics.APIOpenAI, metrics.OutcomeCanceled, time.Since(start))
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

	body := h.translator.ChatCompletion(agg, params)
	if err := writeJSON(w, http.StatusOK, body); err != nil {
		h.logger.WarnContext(ctx, "client went away before the response was written",
			"request_id", requestID, "error", err)
	}
	finish := ""
	if len(body.Choices) > 0 && body.Choices[0].FinishReason != nil {
		finish = *body.Choices[0].FinishReason
	}
	h.logger.InfoContext(ctx, "chat completion completed",
		"request_id", requestID,
		"model", u.Model,
		"finish_reason", finish,
		"prompt_tokens", body.Usage.PromptTokens,
		"completion_tokens", body.Usage.CompletionTokens,
		"latency_ms", time.Since(start).Milliseconds())
	h.metrics.RecordRequest(metrics.APIOpenAI, metrics.OutcomeSuccess, time.Since(start))
}

// stream emits the exchange as chat.completion.chunk SSE.
func (h *CompletionsHandler) stream(w http.ResponseWriter, r *http.Request, ex *gateway.Exchange, params translate.StreamParams, start time.Time) {
	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)

	setSSEHeaders(w)
	w.WriteHeader(http.StatusOK)
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}

	res, err := h.translator.StreamOpenAI(ctx, w, ex.Events, params)
	if err != nil {
		outcome := metrics.OutcomeUpstreamError
		if ctx.Err() != nil {
			outcome = metrics.OutcomeCanceled
		}
		h.logger.WarnContext(ctx, "chat completion stream ended early",
			"request_id", requestID,
			"model", params.Model,
			"error", err)
		h.metrics.RecordRequest(metrics.APIOpenAI, outcome, time.Since(start))
		return
	}

	h.logger.InfoContext(ctx, "chat completion stream completed",
		"request_id", requestID,
		"model", params.Model,
		"finish_reason", res.StopReason,
		"output_tokens", res.OutputTokens,
		"latency_ms", time.Since(start).Milliseconds())
	h.metrics.RecordRequest(metrics.APIOpenAI, metrics.OutcomeSuccess, time.Since(start))
}
