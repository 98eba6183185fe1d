package kiro

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/tidwall/gjson"
)

const (
	// DefaultBaseURL is the CodeWhisperer streaming endpoint the Kiro IDE
	// talks to.
	DefaultBaseURL = "https://q.us-east-1.amazonaws.com"

	// DefaultProfileARN is the shared desktop profile. Desktop credentials
	// without their own profile use it; IdC credentials discover theirs.
	DefaultProfileARN = "arn:aws:codewhisperer:us-east-1:699475941385:profile/EHGA3GRVQMUK"

	// ideBuildToken names the IDE build the upstream expects to see. The
	// service fingerprints callers on it.
	ideBuildToken = "KiroIDE-0.7.45-31c325a0ff0a9c8dec5d13048f4257462d751fe5b8af4cb1088f1fca45856c64"

	userAgent    = "aws-sdk-js/1.0.27 ua/2.1 os/win32#10.0.19044 lang/js md/nodejs#22.21.1 api/codewhispererstreaming#1.0.27 m/E " + ideBuildToken
	amzUserAgent = "aws-sdk-js/1.0.27 " + ideBuildToken

	// errorBodyLimit caps how much of a non-2xx body is read for the
	// error message.
	errorBodyLimit = 4 << 10
)

// Client issues requests to the upstream streaming API. It carries no
// credentials itself; callers pass the Authorization header value per
// request so token refresh stays the manager's concern.
type Client struct {
	httpClient *http.Client
	baseURL    string
}

// ClientOptions configures a Client. Zero values take the defaults.
type ClientOptions struct {
	// BaseURL overrides DefaultBaseURL, mainly for tests.
	BaseURL string

	// HTTPClient overrides the pooled default. The default carries no
	// overall timeout: responses stream for minutes and the frame
	// parser's watchdogs own the deadlines.
	HTTPClient *http.Client
}

// NewClient creates a client with connection pooling and HTTP/2.
func NewClient(opts ClientOptions) *Client {
	c := &Client{
		httpClient: opts.HTTPClient,
		baseURL:    opts.BaseURL,
	}
	if c.baseURL == "" {
		c.baseURL = DefaultBaseURL
	}
	if c.httpClient == nil {
		transport := &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
			ForceAttemptHTTP2:   true,
		}
		c.httpClient = &http.Client{Transport: transport}
	}
	return c
}

// setCommonHeaders applies the identification headers every upstream call
// must carry.
func setCommonHeaders(req *http.Request, authHeader string) {
	req.Header.Set("Authorization", authHeader)
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("x-amz-user-agent", amzUserAgent)
	req.Header.Set("x-amzn-codewhisperer-optout", "true")
	req.Header.Set("x-amzn-kiro-agent-mode", AgentTaskTypeVibe)
}

// SendMessage posts one conversation envelope to generateAssistantResponse
// and, on 2xx, returns the framed streaming body for ParseStream. Non-2xx
// responses are drained into an *UpstreamError; network failures become
// *TransportError.
func (c *Client) SendMessage(ctx context.Context, authHeader string, env *Envelope) (io.ReadCloser, error) {
	payload, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("encoding conversation envelope: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/generateAssistantResponse", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("building upstream request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	setCommonHeaders(req, authHeader)

	slog.Debug("sending conversation upstream",
		"model", env.ConversationState.CurrentMessage.UserInputMessage.ModelID,
		"history_len", len(env.ConversationState.History),
		"payload_bytes", len(payload),
	)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		slog.Warn("upstream request failed", "error", err)
		return nil, &TransportError{Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyLimit))
		resp.Body.Close()
		return nil, newUpstreamError(resp.StatusCode, body)
	}
	return resp.Body, nil
}

// ListModels fetches the model catalogue for one profile.
func (c *Client) ListModels(ctx context.Context, authHeader, profileARN string) ([]ModelInfo, error) {
	q := url.Values{}
	q.Set("origin", OriginAIEditor)
	q.Set("profileArn", profileARN)

	body, err := c.getJSON(ctx, authHeader, "/ListAvailableModels?"+q.Encode())
	if err != nil {
		return nil, err
	}
	models := parseModelList(body)
	if len(models) == 0 {
		return nil, errors.New("model listing returned no models")
	}
	return models, nil
}

// DiscoverProfileARN returns the caller's first available profile. IdC
// users have per-account profiles instead of the shared desktop one, and
// the models query needs one.
func (c *Client) DiscoverProfileARN(ctx context.Context, authHeader string) (string, error) {
	body, err := c.getJSON(ctx, authHeader, "/ListAvailableProfiles")
	if err != nil {
		return "", err
	}
	arn := gjson.GetBytes(body, "profiles.0.arn").String()
	if arn == "" {
		return "", errors.New("profile listing returned no profiles")
	}
	slog.Debug("discovered profile", "arn", arn)
	return arn, nil
}

func (c *Client) getJSON(ctx context.Context, authHeader, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("building upstream request: %w", err)
	}
	setCommonHeaders(req, authHeader)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &TransportError{Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, &TransportError{Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, newUpstreamError(resp.StatusCode, body)
	}
	return body, nil
}

// parseModelList tolerates the field drift seen across deployments: ids
// arrive as modelId or id, limits under tokenLimits or flat. Entries
// missing an id are skipped; missing limits take the builtin default.
func parseModelList(body []byte) []ModelInfo {
	var models []ModelInfo
	gjson.GetBytes(body, "models").ForEach(func(_, m gjson.Result) bool {
		id := firstString(m, "modelId", "id")
		if id == "" {
			return true
		}
		info := ModelInfo{
			ID:               id,
			DisplayName:      firstString(m, "modelName", "name", "displayName"),
			MaxInputTokens:   int(firstInt(m, "tokenLimits.maxInputTokens", "maxInputTokens", "contextWindow")),
			SupportsTools:    true,
			SupportsThinking: true,
		}
		if v := m.Get("supportsTools"); v.Exists() {
			info.SupportsTools = v.Bool()
		}
		if v := m.Get("supportsReasoning"); v.Exists() {
			info.SupportsThinking = v.Bool()
		}
		if info.DisplayName == "" {
			info.DisplayName = id
		}
		if info.MaxInputTokens <= 0 {
			info.MaxInputTokens = defaultMaxInputTokens
		}
		models = append(models, info)
		return true
	})
	return models
}

func firstString(r gjson.Result, paths ...string) string {
	for _, p := range paths {
		if v := r.Get(p); v.Exists() {
			return v.String()
		}
	}
	return ""
}

func firstInt(r gjson.Result, paths ...string) int64 {
	for _, p := range paths {
		if v := r.Get(p); v.Exists() {
			return v.Int()
		}
	}
	return 0
}
