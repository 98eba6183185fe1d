package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	// desktopRefreshURL is the fixed Kiro desktop auth endpoint. It is not
	// regional.
	desktopRefreshURL = "https://prod.us-east-1.auth.desktop.kiro.dev/refreshToken"

	// desktopUserAgent mirrors the IDE build string the desktop endpoint
	// expects. The bare build token is used here; the composite SDK string is
	// only for the streaming API.
	desktopUserAgent = "KiroIDE-0.7.45-31c325a0ff0a9c8dec5d13048f4257462d751fe5b8af4cb1088f1fca45856c64"
)

// RefreshResult is a freshly issued access token. RefreshToken is non-empty
// only when the identity provider rotated it, in which case the caller must
// persist the new value or the old one stops working.
type RefreshResult struct {
	AccessToken  string
	ExpiresAt    time.Time
	RefreshToken string
}

// refresher exchanges a refresh token for an access token.
type refresher interface {
	Refresh(ctx context.Context, cred *Credential) (*RefreshResult, error)
}

// tokenResponse is the wire shape both identity providers answer with. The
// OIDC endpoint also uses these camelCase names rather than the RFC 6749
// snake_case ones.
type tokenResponse struct {
	AccessToken  string `json:"accessToken"`
	ExpiresIn    int64  `json:"expiresIn"`
	RefreshToken string `json:"refreshToken"`
}

// DesktopProvider refreshes social-login credentials against the Kiro
// desktop auth service.
type DesktopProvider struct {
	Client *http.Client

	// Endpoint overrides the production URL, for tests.
	Endpoint string
}

// Refresh posts the refresh token as JSON and returns the issued access
// token. Client errors mean the refresh token is dead and are fatal; server
// and network errors are transient.
func (p *DesktopProvider) Refresh(ctx context.Context, cred *Credential) (*RefreshResult, error) {
	endpoint := p.Endpoint
	if endpoint == "" {
		endpoint = desktopRefreshURL
	}

	body, err := json.Marshal(map[string]string{"refreshToken": cred.RefreshToken})
	if err != nil {
		return nil, fmt.Errorf("encode refresh body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create refresh request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", desktopUserAgent)

	resp, err := p.Client.Do(req)
	if err != nil {
		return nil, &TransientError{Provider: ProviderDesktop, Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, &TransientError{Provider: ProviderDesktop, Err: err}
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return parseTokenResponse(ProviderDesktop, respBody)

	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		// The desktop endpoint only rejects for a dead or malformed refresh
		// token; there is nothing to retry.
		return nil, &FatalError{
			Provider:     ProviderDesktop,
			StatusCode:   resp.StatusCode,
			Message:      "refresh token rejected",
			InvalidGrant: true,
		}

	default:
		return nil, &TransientError{
			Provider: ProviderDesktop,
			Err:      fmt.Errorf("identity server returned %d", resp.StatusCode),
		}
	}
}

// parseTokenResponse decodes a 2xx token body and normalizes the expiry.
func parseTokenResponse(provider Provider, body []byte) (*RefreshResult, error) {
	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return nil, &TransientError{Provider: provider, Err: fmt.Errorf("decode token response: %w", err)}
	}
	if tr.AccessToken == "" {
		return nil, &TransientError{Provider: provider, Err: fmt.Errorf("token response missing accessToken")}
	}
	// Missing expiresIn leaves the token usable but unbounded; cap reuse at
	// an hour so it still cycles.
	expiresIn := tr.ExpiresIn
	if expiresIn <= 0 {
		expiresIn = 3600
	}
	return &RefreshResult{
		AccessToken:  tr.AccessToken,
		ExpiresAt:    time.Now().Add(time.Duration(expiresIn) * time.Second),
		RefreshToken: tr.RefreshToken,
	}, nil
}
