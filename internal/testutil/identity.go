package testutil

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
)

// Identity is a scripted stand-in for the desktop and IdC token endpoints.
// The zero script mints "at-test-1" valid for an hour on every refresh.
type Identity struct {
	Server *httptest.Server

	mu           sync.Mutex
	accessToken  string
	expiresIn    int
	rotateTo     string
	failStatus   int
	failBody     string
	desktopCalls int
	oidcCalls    int
}

// NewIdentity starts a scripted identity provider; it closes with the test.
func NewIdentity(t *testing.T) *Identity {
	id := &Identity{accessToken: "at-test-1", expiresIn: 3600}
	id.Server = httptest.NewServer(http.HandlerFunc(id.serve))
	t.Cleanup(id.Server.Close)
	return id
}

// DesktopURL is the endpoint for auth.Options.DesktopEndpoint.
func (id *Identity) DesktopURL() string { return id.Server.URL + "/refreshToken" }

// OIDCURL is the endpoint for auth.Options.OIDCEndpoint.
func (id *Identity) OIDCURL() string { return id.Server.URL + "/token" }

// Mint sets the token returned by subsequent refreshes.
func (id *Identity) Mint(accessToken string, expiresIn int) {
	id.mu.Lock()
	defer id.mu.Unlock()
	id.accessToken = accessToken
	id.expiresIn = expiresIn
	id.failStatus = 0
}

// RotateTo makes OIDC refreshes return a rotated refresh token.
func (id *Identity) RotateTo(refreshToken string) {
	id.mu.Lock()
	defer id.mu.Unlock()
	id.rotateTo = refreshToken
}

// FailWith makes every refresh answer status/body until Mint is called.
func (id *Identity) FailWith(status int, body string) {
	id.mu.Lock()
	defer id.mu.Unlock()
	id.failStatus = status
	id.failBody = body
}

// DesktopCalls reports how many desktop refreshes arrived.
func (id *Identity) DesktopCalls() int {
	id.mu.Lock()
	defer id.mu.Unlock()
	return id.desktopCalls
}

// OIDCCalls reports how many IdC refreshes arrived.
func (id *Identity) OIDCCalls() int {
	id.mu.Lock()
	defer id.mu.Unlock()
	return id.oidcCalls
}

func (id *Identity) serve(w http.ResponseWriter, r *http.Request) {
	id.mu.Lock()
	oidc := r.URL.Path == "/token"
	switch r.URL.Path {
	case "/refreshToken":
		id.desktopCalls++
	case "/token":
		id.oidcCalls++
	default:
		id.mu.Unlock()
		http.NotFound(w, r)
		return
	}
	fail, body := id.failStatus, id.failBody
	token, expires, rotate := id.accessToken, id.expiresIn, id.rotateTo
	id.mu.Unlock()

	if fail != 0 {
		w.WriteHeader(fail)
		io.WriteString(w, body)
		return
	}

	resp := map[string]interface{}{"accessToken": token, "expiresIn": expires}
	if oidc && rotate != "" {
		resp["refreshToken"] = rotate
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}
