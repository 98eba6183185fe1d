package server

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/tidwall/gjson"

	"mercator-hq/ganymede/internal/testutil"
	"mercator-hq/ganymede/pkg/auth"
	"mercator-hq/ganymede/pkg/config"
	"mercator-hq/ganymede/pkg/gateway"
	"mercator-hq/ganymede/pkg/kiro"
	"mercator-hq/ganymede/pkg/recovery"
	"mercator-hq/ganymede/pkg/telemetry/metrics"
	"mercator-hq/ganymede/pkg/tokens"
	"mercator-hq/ganymede/pkg/translate"
)

const testKey = "sk-gateway-test"

// env runs the fully wired gateway against scripted upstream and identity
// servers, exercising the same route table and middleware chain production
// uses.
type env struct {
	ts       *httptest.Server
	upstream *testutil.Upstream
	identity *testutil.Identity
	cfg      *config.Config
}

func newEnv(t *testing.T, steps ...testutil.Step) *env {
	t.Helper()
	t.Setenv("GATEWAY_KEY", "")

	up := testutil.NewUpstream(t, steps...)
	id := testutil.NewIdentity(t)

	cfg := &config.Config{}
	config.ApplyDefaults(cfg)
	cfg.Server.GatewayKey = testKey
	cfg.Upstream.BaseURL = up.URL()
	cfg.Upstream.FirstTokenTimeout = 2 * time.Second
	cfg.Upstream.StreamIdleTimeout = 5 * time.Second

	mgr := auth.NewManager(
		&auth.Credential{Source: auth.SourceEnv, RefreshToken: "rt-test"},
		&auth.EnvStore{},
		auth.Options{DesktopEndpoint: id.DesktopURL(), OIDCEndpoint: id.OIDCURL()},
	)

	client := kiro.NewClient(kiro.ClientOptions{BaseURL: up.URL()})
	models := kiro.NewModelCache(kiro.ModelCacheOptions{Client: client, Tokens: mgr})
	cache := recovery.NewCache(0)
	translator := translate.NewTranslator(cfg, tokens.NewEstimator(), cache, slog.Default())
	eng := gateway.New(gateway.Options{
		Config:      cfg,
		Credentials: mgr,
		Client:      client,
		Models:      models,
		Translator:  translator,
	})

	srv := New(cfg, Deps{
		Engine:      eng,
		Translator:  translator,
		Credentials: mgr,
		Models:      models,
		Recovery:    cache,
		Metrics:     metrics.New(cache),
		Logger:      slog.Default(),
	})

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return &env{ts: ts, upstream: up, identity: id, cfg: cfg}
}

// do sends one request with the gateway key preapplied; extra headers may
// override it.
func (e *env) do(t *testing.T, method, path, body string, headers map[string]string) (*http.Response, string) {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, e.ts.URL+path, rd)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+testKey)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp, string(b)
}

func anthropicHeaders() map[string]string {
	return map[string]string{"x-api-key": testKey, "anthropic-version": "2023-06-01"}
}

func TestAnthropicMessageRoundTrip(t *testing.T) {
	e := newEnv(t, testutil.Step{
		Frames: []string{testutil.TextEvent("Hello "), testutil.TextEvent("world")},
	})

	resp, body := e.do(t, http.MethodPost, "/v1/messages",
		`{"model":"claude-sonnet-4.5","max_tokens":128,"messages":[{"role":"user","content":"greet me"}]}`,
		anthropicHeaders())

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, body %s", resp.StatusCode, body)
	}
	if resp.Header.Get("X-Request-ID") == "" {
		t.Error("response missing X-Request-ID")
	}
	if got := gjson.Get(body, "type").String(); got != "message" {
		t.Errorf("type = %q", got)
	}
	if got := gjson.Get(body, "role").String(); got != "assistant" {
		t.Errorf("role = %q", got)
	}
	if got := gjson.Get(body, "model").String(); got != "claude-sonnet-4.5" {
		t.Errorf("model = %q, should echo the requested id", got)
	}
	if got := gjson.Get(body, "content.0.text").String(); got != "Hello world" {
		t.Errorf("content = %q", got)
	}
	if got := gjson.Get(body, "stop_reason").String(); got != "end_turn" {
		t.Errorf("stop_reason = %q", got)
	}
	if gjson.Get(body, "usage.input_tokens").Int() <= 0 {
		t.Error("usage.input_tokens missing")
	}
	if gjson.Get(body, "usage.output_tokens").Int() <= 0 {
		t.Error("usage.output_tokens missing")
	}
}

func TestOpenAIStreamingRoundTrip(t *testing.T) {
	e := newEnv(t, testutil.Step{
		Frames: []string{testutil.TextEvent("str"), testutil.TextEvent("eam")},
	})

	resp, body := e.do(t, http.MethodPost, "/v1/chat/completions",
		`{"model":"claude-sonnet-4.5","stream":true,"messages":[{"role":"user","content":"go"}]}`,
		nil)

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, body %s", resp.StatusCode, body)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		t.Errorf("Content-Type = %q", ct)
	}
	if !strings.Contains(body, `"content":"str"`) || !strings.Contains(body, `"content":"eam"`) {
		t.Errorf("stream missing content deltas:\n%s", body)
	}
	if !strings.Contains(body, `"finish_reason":"stop"`) {
		t.Errorf("stream missing finish chunk:\n%s", body)
	}
	if !strings.HasSuffix(strings.TrimSpace(body), "data: [DONE]") {
		t.Errorf("stream not terminated with [DONE]:\n%s", body)
	}
}

func TestAnthropicStreamingRoundTrip(t *testing.T) {
	e := newEnv(t, testutil.Step{
		Frames: []string{testutil.TextEvent("hi")},
	})

	resp, body := e.do(t, http.MethodPost, "/v1/messages",
		`{"model":"claude-sonnet-4.5","max_tokens":64,"stream":true,"messages":[{"role":"user","content":"hi"}]}`,
		anthropicHeaders())

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, body %s", resp.StatusCode, body)
	}
	for _, want := range []string{
		"event: message_start",
		"event: content_block_start",
		"event: content_block_delta",
		"event: content_block_stop",
		"event: message_delta",
		"event: message_stop",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("stream missing %q:\n%s", want, body)
		}
	}
	if strings.Contains(body, "event: error") {
		t.Errorf("clean stream carried an error event:\n%s", body)
	}
}

func TestUpstreamAuthFailureRetriedInvisibly(t *testing.T) {
	e := newEnv(t,
		testutil.Step{Status: http.StatusUnauthorized, Body: "token expired"},
		testutil.Step{Frames: []string{testutil.TextEvent("after refresh")}},
	)

	resp, body := e.do(t, http.MethodPost, "/v1/messages",
		`{"model":"claude-sonnet-4.5","max_tokens":64,"messages":[{"role":"user","content":"hi"}]}`,
		anthropicHeaders())

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, body %s", resp.StatusCode, body)
	}
	if got := gjson.Get(body, "content.0.text").String(); got != "after refresh" {
		t.Errorf("content = %q", got)
	}
	if e.upstream.Calls() != 2 {
		t.Errorf("upstream calls = %d, want 2", e.upstream.Calls())
	}
	// One refresh feeds the catalogue fetch, one follows the invalidate.
	if e.identity.DesktopCalls() != 2 {
		t.Errorf("desktop refreshes = %d, want 2", e.identity.DesktopCalls())
	}
}

func TestOverflowSummarizedInvisibly(t *testing.T) {
	e := newEnv(t,
		testutil.Step{Status: http.StatusRequestEntityTooLarge, Body: "Input is too long for requested model."},
		testutil.Step{Frames: []string{testutil.TextEvent("condensed answer")}},
	)

	resp, body := e.do(t, http.MethodPost, "/v1/messages",
		`{"model":"claude-sonnet-4.5","max_tokens":64,"messages":[{"role":"user","content":"the big question"}]}`,
		anthropicHeaders())

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, body %s", resp.StatusCode, body)
	}
	if got := gjson.Get(body, "content.0.text").String(); got != "condensed answer" {
		t.Errorf("content = %q", got)
	}
	if e.upstream.Calls() != 2 {
		t.Errorf("upstream calls = %d, want 2", e.upstream.Calls())
	}
}

func TestFirstTokenTimeoutRetriedBeforeClientSeesBytes(t *testing.T) {
	e := newEnv(t,
		testutil.Step{Hold: 2 * time.Second, Frames: []string{testutil.TextEvent("too late")}},
		testutil.Step{Frames: []string{testutil.TextEvent("prompt reply")}},
	)
	e.cfg.Upstream.FirstTokenTimeout = 150 * time.Millisecond

	resp, body := e.do(t, http.MethodPost, "/v1/chat/completions",
		`{"model":"claude-sonnet-4.5","stream":true,"messages":[{"role":"user","content":"hi"}]}`,
		nil)

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, body %s", resp.StatusCode, body)
	}
	if !strings.Contains(body, `"content":"prompt reply"`) {
		t.Errorf("stream missing retried content:\n%s", body)
	}
	if strings.Contains(body, "too late") {
		t.Errorf("stalled attempt leaked into the client stream:\n%s", body)
	}
	if !strings.HasSuffix(strings.TrimSpace(body), "data: [DONE]") {
		t.Errorf("stream not terminated cleanly:\n%s", body)
	}
	if e.upstream.Calls() != 2 {
		t.Errorf("upstream calls = %d, want 2", e.upstream.Calls())
	}
}

func TestModelListingBothDialects(t *testing.T) {
	e := newEnv(t)

	t.Run("anthropic shape", func(t *testing.T) {
		resp, body := e.do(t, http.MethodGet, "/v1/models", "", anthropicHeaders())
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status = %d, body %s", resp.StatusCode, body)
		}
		if n := gjson.Get(body, "data.#").Int(); n < 2 {
			t.Fatalf("models = %d, want at least 2", n)
		}
		if got := gjson.Get(body, "data.0.type").String(); got != "model" {
			t.Errorf("data.0.type = %q", got)
		}
		if gjson.Get(body, "first_id").String() == "" {
			t.Error("first_id missing")
		}
	})

	t.Run("openai shape", func(t *testing.T) {
		resp, body := e.do(t, http.MethodGet, "/v1/models", "", nil)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status = %d, body %s", resp.StatusCode, body)
		}
		if got := gjson.Get(body, "object").String(); got != "list" {
			t.Errorf("object = %q", got)
		}
		if got := gjson.Get(body, "data.0.object").String(); got != "model" {
			t.Errorf("data.0.object = %q", got)
		}
	})

	t.Run("single model", func(t *testing.T) {
		resp, body := e.do(t, http.MethodGet, "/v1/models/claude-sonnet-4.5", "", nil)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status = %d, body %s", resp.StatusCode, body)
		}
		if got := gjson.Get(body, "id").String(); got != "claude-sonnet-4.5" {
			t.Errorf("id = %q", got)
		}
	})

	t.Run("unknown model", func(t *testing.T) {
		resp, body := e.do(t, http.MethodGet, "/v1/models/gpt-9000", "", nil)
		if resp.StatusCode != http.StatusNotFound {
			t.Fatalf("status = %d, body %s", resp.StatusCode, body)
		}
		if got := gjson.Get(body, "error.type").String(); got != "not_found_error" {
			t.Errorf("error.type = %q", got)
		}
	})
}

func TestAuthRequiredOnCompletionRoutes(t *testing.T) {
	e := newEnv(t)

	for _, path := range []string{"/v1/messages", "/v1/chat/completions"} {
		resp, body := e.do(t, http.MethodPost, path, `{}`,
			map[string]string{"Authorization": "Bearer wrong-key"})
		if resp.StatusCode != http.StatusUnauthorized {
			t.Errorf("%s: status = %d, want 401 (body %s)", path, resp.StatusCode, body)
		}
	}
	if e.upstream.Calls() != 0 {
		t.Errorf("rejected requests reached the upstream %d times", e.upstream.Calls())
	}
}

func TestHealthzServedWithoutKey(t *testing.T) {
	e := newEnv(t)

	resp, body := e.do(t, http.MethodGet, "/healthz", "",
		map[string]string{"Authorization": ""})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, body %s", resp.StatusCode, body)
	}
	if got := gjson.Get(body, "status").String(); got != "ok" {
		t.Errorf("status = %q, body %s", got, body)
	}
	if got := gjson.Get(body, "credential.provider").String(); got != "desktop" {
		t.Errorf("credential.provider = %q", got)
	}
}

func TestMetricsServedWithoutKey(t *testing.T) {
	e := newEnv(t, testutil.Step{Frames: []string{testutil.TextEvent("ok")}})

	// One completed request so the counters have something to say.
	e.do(t, http.MethodPost, "/v1/messages",
		`{"model":"claude-sonnet-4.5","max_tokens":64,"messages":[{"role":"user","content":"hi"}]}`,
		anthropicHeaders())

	resp, body := e.do(t, http.MethodGet, "/metrics", "",
		map[string]string{"Authorization": ""})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if !strings.Contains(body, "ganymede_requests_total") {
		t.Errorf("exposition missing request counter:\n%s", body[:min(len(body), 400)])
	}
}

func TestMethodNotAllowed(t *testing.T) {
	e := newEnv(t)

	resp, body := e.do(t, http.MethodGet, "/v1/messages", "", anthropicHeaders())
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, body %s", resp.StatusCode, body)
	}
	if got := gjson.Get(body, "type").String(); got != "error" {
		t.Errorf("anthropic error envelope missing, body %s", body)
	}
}

func TestMalformedBodyRejected(t *testing.T) {
	e := newEnv(t)

	resp, body := e.do(t, http.MethodPost, "/v1/chat/completions", `{"model": nope`, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, body %s", resp.StatusCode, body)
	}
	if got := gjson.Get(body, "error.type").String(); got != "invalid_request_error" {
		t.Errorf("error.type = %q", got)
	}
	if e.upstream.Calls() != 0 {
		t.Errorf("malformed request reached the upstream")
	}
}

func TestUpstreamFailureExhaustsRetries(t *testing.T) {
	e := newEnv(t,
		testutil.Step{Status: http.StatusInternalServerError, Body: "wedged"},
		testutil.Step{Status: http.StatusInternalServerError, Body: "wedged"},
		testutil.Step{Status: http.StatusInternalServerError, Body: "wedged"},
	)

	resp, body := e.do(t, http.MethodPost, "/v1/messages",
		`{"model":"claude-sonnet-4.5","max_tokens":64,"messages":[{"role":"user","content":"hi"}]}`,
		anthropicHeaders())

	if resp.StatusCode != http.StatusBadGateway {
		t.Fatalf("status = %d, body %s", resp.StatusCode, body)
	}
	if got := gjson.Get(body, "error.type").String(); got != "api_error" {
		t.Errorf("error.type = %q, body %s", got, body)
	}
	if e.upstream.Calls() != 3 {
		t.Errorf("upstream calls = %d, want the full budget of 3", e.upstream.Calls())
	}
}

func TestServerLifecycle(t *testing.T) {
	cfg := &config.Config{}
	config.ApplyDefaults(cfg)
	cfg.Server.ListenAddress = "127.0.0.1:0"
	cfg.Server.GatewayKey = testKey
	cfg.Server.ShutdownTimeout = time.Second

	srv := New(cfg, Deps{Logger: slog.Default()})
	if srv.IsRunning() {
		t.Fatal("server claims to run before Start")
	}

	done := make(chan error, 1)
	go func() { done <- srv.Start(t.Context()) }()

	// Give the listener a beat, then ask it to stop.
	time.Sleep(50 * time.Millisecond)
	srv.Stop()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Start returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
	if srv.IsRunning() {
		t.Error("server still claims to run after shutdown")
	}
}
