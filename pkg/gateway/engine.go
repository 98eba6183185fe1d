package gateway

import (
	"context"
	"log/slog"

	"mercator-hq/ganymede/pkg/auth"
	"mercator-hq/ganymede/pkg/config"
	"mercator-hq/ganymede/pkg/kiro"
	"mercator-hq/ganymede/pkg/proxy/types"
	"mercator-hq/ganymede/pkg/telemetry/metrics"
	"mercator-hq/ganymede/pkg/translate"
)

// Options wires an Engine. Metrics and Logger may be nil.
type Options struct {
	Config      *config.Config
	Credentials *auth.Manager
	Client      *kiro.Client
	Models      *kiro.ModelCache
	Translator  *translate.Translator
	Metrics     *metrics.Metrics
	Logger      *slog.Logger
}

// Engine executes one logical client request end to end: model resolution,
// envelope construction, and the upstream dial under the retry policy.
type Engine struct {
	cfg        *config.Config
	creds      *auth.Manager
	client     *kiro.Client
	models     *kiro.ModelCache
	translator *translate.Translator
	metrics    *metrics.Metrics
	logger     *slog.Logger
}

// New builds an Engine from its wiring.
func New(opts Options) *Engine {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		cfg:        opts.Config,
		creds:      opts.Credentials,
		client:     opts.Client,
		models:     opts.Models,
		translator: opts.Translator,
		metrics:    opts.Metrics,
		logger:     logger.With("component", "gateway"),
	}
}

// Exchange is one accepted upstream stream, ready for a response translator.
// The first event was already inspected by the dial loop, so consumers never
// observe a retryable failure.
type Exchange struct {
	// Events yields the semantic stream in upstream arrival order.
	Events <-chan kiro.Event

	// Model is the resolved upstream model id.
	Model string

	// InputTokens is the estimator's count for the dialed envelope, for
	// usage reporting.
	InputTokens int
}

// Run executes one request. Every returned error is terminal: retryable
// failures were consumed inside the dial loop.
func (e *Engine) Run(ctx context.Context, req *types.UnifiedRequest) (*Exchange, error) {
	info, err := e.models.Resolve(ctx, req.Model)
	if err != nil {
		return nil, err
	}
	env, err := e.translator.BuildEnvelope(ctx, req, info)
	if err != nil {
		return nil, err
	}
	e.applyProfile(env)
	return e.dial(ctx, env, info)
}

// applyProfile sets the envelope's profile for desktop credentials. IdC
// envelopes never carry one; the upstream rejects it.
func (e *Engine) applyProfile(env *kiro.Envelope) {
	if e.creds.IsOIDC() {
		return
	}
	switch {
	case e.cfg.LiveProfileARN() != "":
		env.ProfileARN = e.cfg.LiveProfileARN()
	case e.creds.ProfileARN() != "":
		env.ProfileARN = e.creds.ProfileARN()
	default:
		env.ProfileARN = kiro.DefaultProfileARN
	}
}
