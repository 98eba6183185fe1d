// Package testutil hosts scripted upstream and identity-provider servers
// shared by gateway and handler tests.
package testutil

import (
	"encoding/binary"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

// Frame length-prefixes one payload the way the upstream frames its stream.
func Frame(payload string) []byte {
	buf := make([]byte, 4+len(payload))
	binary.BigEndian.PutUint32(buf, uint32(len(payload)))
	copy(buf[4:], payload)
	return buf
}

// FramedBody concatenates frames for the given JSON payloads.
func FramedBody(payloads ...string) []byte {
	var body []byte
	for _, p := range payloads {
		body = append(body, Frame(p)...)
	}
	return body
}

// TextEvent is an assistantResponseEvent payload carrying text.
func TextEvent(text string) string {
	return fmt.Sprintf(`{"assistantResponseEvent":{"content":%q}}`, text)
}

// ToolEvent is one toolUseEvent fragment; stop closes the call.
func ToolEvent(id, name, input string, stop bool) string {
	if stop {
		return fmt.Sprintf(`{"toolUseEvent":{"toolUseId":%q,"name":%q,"input":%q,"stop":true}}`, id, name, input)
	}
	return fmt.Sprintf(`{"toolUseEvent":{"toolUseId":%q,"name":%q,"input":%q}}`, id, name, input)
}

// UsageEvent reports context consumption percent.
func UsageEvent(pct float64) string {
	return fmt.Sprintf(`{"messageMetadataEvent":{"contextUsage":%g}}`, pct)
}

// Step scripts one reply from the conversation endpoint.
type Step struct {
	// Status defaults to 200.
	Status int

	// Body is the response body for non-2xx steps.
	Body string

	// Frames are JSON payloads streamed as length-prefixed frames.
	Frames []string

	// Raw is streamed verbatim instead of Frames, for framing-violation
	// scripts.
	Raw []byte

	// Hold delays the first frame after the headers went out, to exercise
	// first-token timeouts. The wait aborts when the caller hangs up.
	Hold time.Duration
}

// Upstream is a scripted stand-in for the streaming API. Each POST to the
// conversation endpoint consumes the next step; model and profile listings
// answer statically.
type Upstream struct {
	t      *testing.T
	Server *httptest.Server

	// ModelsBody and ProfilesBody override the static listing responses.
	ModelsBody   string
	ProfilesBody string

	mu        sync.Mutex
	steps     []Step
	envelopes [][]byte
	headers   []http.Header
}

// NewUpstream starts a scripted upstream; it closes with the test.
func NewUpstream(t *testing.T, steps ...Step) *Upstream {
	u := &Upstream{t: t, steps: steps}
	u.Server = httptest.NewServer(http.HandlerFunc(u.serve))
	t.Cleanup(u.Server.Close)
	return u
}

// URL is the base address for the kiro client.
func (u *Upstream) URL() string { return u.Server.URL }

// Calls reports how many conversation posts arrived.
func (u *Upstream) Calls() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return len(u.envelopes)
}

// Envelope returns the i-th captured conversation body.
func (u *Upstream) Envelope(i int) []byte {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.envelopes[i]
}

// Header returns the headers of the i-th conversation post.
func (u *Upstream) Header(i int) http.Header {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.headers[i]
}

func (u *Upstream) serve(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/generateAssistantResponse":
		u.serveConversation(w, r)

	case "/ListAvailableModels":
		body := u.ModelsBody
		if body == "" {
			body = `{"models":[` +
				`{"modelId":"claude-sonnet-4.5","modelName":"Claude Sonnet 4.5","tokenLimits":{"maxInputTokens":200000}},` +
				`{"modelId":"claude-haiku-4.5","modelName":"Claude Haiku 4.5","tokenLimits":{"maxInputTokens":200000}}]}`
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, body)

	case "/ListAvailableProfiles":
		body := u.ProfilesBody
		if body == "" {
			body = `{"profiles":[{"arn":"arn:aws:codewhisperer:us-east-1:000000000000:profile/TESTPROF"}]}`
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, body)

	default:
		http.NotFound(w, r)
	}
}

func (u *Upstream) serveConversation(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)

	u.mu.Lock()
	u.envelopes = append(u.envelopes, body)
	u.headers = append(u.headers, r.Header.Clone())
	var step Step
	if len(u.steps) > 0 {
		step = u.steps[0]
		u.steps = u.steps[1:]
	} else {
		u.t.Errorf("upstream called %d times with no step scripted", len(u.envelopes))
		step = Step{Status: http.StatusInternalServerError, Body: "no step scripted"}
	}
	u.mu.Unlock()

	status := step.Status
	if status == 0 {
		status = http.StatusOK
	}
	if status < 200 || status >= 300 {
		w.WriteHeader(status)
		io.WriteString(w, step.Body)
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(status)
	flusher, _ := w.(http.Flusher)
	if flusher != nil {
		flusher.Flush()
	}

	if step.Hold > 0 {
		select {
		case <-time.After(step.Hold):
		case <-r.Context().Done():
			return
		}
	}

	if step.Raw != nil {
		w.Write(step.Raw)
		if flusher != nil {
			flusher.Flush()
		}
		return
	}
	for _, p := range step.Frames {
		w.Write(Frame(p))
		if flusher != nil {
			flusher.Flush()
		}
	}
}
