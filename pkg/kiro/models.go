package kiro

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

const (
	// DefaultModelTTL is how long a fetched catalogue stays fresh.
	DefaultModelTTL = time.Hour

	// defaultMaxInputTokens is the context window assumed when a listing
	// entry omits limits.
	defaultMaxInputTokens = 200000

	// modelFetchTimeout bounds one catalogue fetch. The fetch runs
	// detached from request contexts because its result is shared.
	modelFetchTimeout = 15 * time.Second

	// staleRetryInterval is how soon to retry after a refresh failure
	// when stale entries are still servable.
	staleRetryInterval = time.Minute
)

// ErrUnknownModel wraps model ids found in neither the live catalogue nor
// the builtin table.
var ErrUnknownModel = errors.New("unknown model")

// ModelInfo describes one upstream model.
type ModelInfo struct {
	ID               string
	DisplayName      string
	MaxInputTokens   int
	SupportsTools    bool
	SupportsThinking bool
}

// TokenSource supplies ready Authorization header values plus enough
// credential provenance to pick a profile for catalogue queries. The
// credential manager implements it.
type TokenSource interface {
	AuthHeader(ctx context.Context) (string, error)

	// ProfileARN is the profile carried by the credential itself, or "".
	ProfileARN() string

	// IsOIDC reports whether the credential refreshes through the IdC
	// token endpoint. IdC callers discover their profile instead of
	// using the shared desktop one.
	IsOIDC() bool
}

// builtinModels keeps known ids servable when the listing endpoint is
// down or the catalogue has never been fetched.
var builtinModels = []ModelInfo{
	{ID: "claude-haiku-4.5", DisplayName: "Claude Haiku 4.5", MaxInputTokens: defaultMaxInputTokens, SupportsTools: true, SupportsThinking: true},
	{ID: "claude-sonnet-4.5", DisplayName: "Claude Sonnet 4.5", MaxInputTokens: defaultMaxInputTokens, SupportsTools: true, SupportsThinking: true},
	{ID: "claude-sonnet-4", DisplayName: "Claude Sonnet 4", MaxInputTokens: defaultMaxInputTokens, SupportsTools: true, SupportsThinking: true},
	{ID: "claude-3-7-sonnet", DisplayName: "Claude 3.7 Sonnet", MaxInputTokens: defaultMaxInputTokens, SupportsTools: true, SupportsThinking: true},
}

// ModelCacheStats is a point-in-time view for health reporting.
type ModelCacheStats struct {
	Models       int
	FromFallback bool
	ExpiresAt    time.Time
}

// ModelCacheOptions configures a ModelCache.
type ModelCacheOptions struct {
	Client *Client
	Tokens TokenSource

	// ProfileARN overrides profile resolution for catalogue queries.
	ProfileARN string

	// TTL defaults to DefaultModelTTL.
	TTL time.Duration
}

// fetchCall is the latch shared by callers waiting on one catalogue fetch.
type fetchCall struct {
	done chan struct{}
}

// ModelCache resolves model ids against the upstream catalogue. Fetches
// are single-flight: concurrent misses share one request. When the
// listing endpoint fails the cache falls back to the builtin table so
// chat traffic keeps flowing.
type ModelCache struct {
	client        *Client
	tokens        TokenSource
	configuredARN string
	ttl           time.Duration

	mu            sync.Mutex
	models        map[string]ModelInfo
	expires       time.Time
	fromFallback  bool
	discoveredARN string
	fetch         *fetchCall
}

// NewModelCache creates an empty cache; the first Resolve or List fetches.
func NewModelCache(opts ModelCacheOptions) *ModelCache {
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = DefaultModelTTL
	}
	return &ModelCache{
		client:        opts.Client,
		tokens:        opts.Tokens,
		configuredARN: opts.ProfileARN,
		ttl:           ttl,
	}
}

// Resolve returns the info for one model id, fetching or falling back as
// needed. Unknown ids return an error wrapping ErrUnknownModel.
func (mc *ModelCache) Resolve(ctx context.Context, modelID string) (ModelInfo, error) {
	if err := mc.ensureFresh(ctx); err != nil {
		return ModelInfo{}, err
	}

	mc.mu.Lock()
	info, ok := mc.models[modelID]
	mc.mu.Unlock()
	if ok {
		return info, nil
	}
	// The listing omits ids it still accepts during rollouts; the builtin
	// table covers those.
	for _, b := range builtinModels {
		if b.ID == modelID {
			return b, nil
		}
	}
	return ModelInfo{}, fmt.Errorf("%w: %s", ErrUnknownModel, modelID)
}

// List returns the current catalogue sorted by id.
func (mc *ModelCache) List(ctx context.Context) ([]ModelInfo, error) {
	if err := mc.ensureFresh(ctx); err != nil {
		return nil, err
	}

	mc.mu.Lock()
	out := make([]ModelInfo, 0, len(mc.models))
	for _, info := range mc.models {
		out = append(out, info)
	}
	mc.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Stats reports the cache's current shape.
func (mc *ModelCache) Stats() ModelCacheStats {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	return ModelCacheStats{
		Models:       len(mc.models),
		FromFallback: mc.fromFallback,
		ExpiresAt:    mc.expires,
	}
}

// Purge drops an expired catalogue so the next request refetches. Wired
// to the janitor schedule.
func (mc *ModelCache) Purge() {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	if len(mc.models) > 0 && !time.Now().Before(mc.expires) {
		mc.models = nil
		mc.fromFallback = false
	}
}

// ensureFresh returns once a servable catalogue is installed. Only caller
// cancellation produces an error: fetch failures install the fallback.
func (mc *ModelCache) ensureFresh(ctx context.Context) error {
	mc.mu.Lock()
	if len(mc.models) > 0 && time.Now().Before(mc.expires) {
		mc.mu.Unlock()
		return nil
	}
	call := mc.fetch
	if call == nil {
		call = &fetchCall{done: make(chan struct{})}
		mc.fetch = call
		go mc.refresh(call)
	}
	mc.mu.Unlock()

	select {
	case <-call.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// refresh performs one detached catalogue fetch and installs the result.
func (mc *ModelCache) refresh(call *fetchCall) {
	ctx, cancel := context.WithTimeout(context.Background(), modelFetchTimeout)
	defer cancel()

	models, err := mc.fetchCatalogue(ctx)

	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.fetch = nil
	switch {
	case err == nil:
		mc.models = indexByID(models)
		mc.fromFallback = false
		mc.expires = time.Now().Add(mc.ttl)
		slog.Debug("model catalogue refreshed", "models", len(models))
	case len(mc.models) > 0:
		slog.Warn("model catalogue refresh failed, serving stale entries", "error", err)
		mc.expires = time.Now().Add(staleRetryInterval)
	default:
		slog.Warn("model catalogue unavailable, using builtin table", "error", err)
		mc.models = indexByID(builtinModels)
		mc.fromFallback = true
		mc.expires = time.Now().Add(mc.ttl)
	}
	close(call.done)
}

func (mc *ModelCache) fetchCatalogue(ctx context.Context) ([]ModelInfo, error) {
	authHeader, err := mc.tokens.AuthHeader(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolving bearer for model listing: %w", err)
	}
	return mc.client.ListModels(ctx, authHeader, mc.queryProfileARN(ctx, authHeader))
}

// queryProfileARN picks the profile for catalogue queries: configured
// override, then the credential's own, then discovery for IdC callers,
// then the shared desktop profile.
func (mc *ModelCache) queryProfileARN(ctx context.Context, authHeader string) string {
	if mc.configuredARN != "" {
		return mc.configuredARN
	}
	if arn := mc.tokens.ProfileARN(); arn != "" {
		return arn
	}
	if mc.tokens.IsOIDC() {
		mc.mu.Lock()
		arn := mc.discoveredARN
		mc.mu.Unlock()
		if arn != "" {
			return arn
		}
		arn, err := mc.client.DiscoverProfileARN(ctx, authHeader)
		if err != nil {
			slog.Warn("profile discovery failed", "error", err)
		} else {
			mc.mu.Lock()
			mc.discoveredARN = arn
			mc.mu.Unlock()
			return arn
		}
	}
	return DefaultProfileARN
}

func indexByID(models []ModelInfo) map[string]ModelInfo {
	m := make(map[string]ModelInfo, len(models))
	for _, info := range models {
		m[info.ID] = info
	}
	return m
}
