package handlers

import (
	"log/slog"

	"mercator-hq/ganymede/pkg/gateway"
	"mercator-hq/ganymede/pkg/telemetry/metrics"
	"mercator-hq/ganymede/pkg/translate"
)

// Options carries the shared dependencies of the completion handlers.
// Metrics and Logger may be nil.
type Options struct {
	Engine     *gateway.Engine
	Translator *translate.Translator
	Metrics    *metrics.Metrics
	Logger     *slog.Logger
}

func (o Options) logger() *slog.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return slog.Default()
}

// outcomeFor maps a response status onto the request metric's outcome label.
func outcomeFor(status int) string {
	switch {
	case status >= 500:
		return metrics.OutcomeUpstreamError
	case status >= 400:
		return metrics.OutcomeClientError
	default:
		return metrics.OutcomeSuccess
	}
}
