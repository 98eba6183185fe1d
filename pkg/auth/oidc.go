package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// OIDCProvider refreshes IdC credentials against the regional AWS SSO OIDC
// token endpoint using the OAuth 2.0 refresh_token grant.
type OIDCProvider struct {
	Client *http.Client

	// Endpoint overrides the derived regional URL, for tests.
	Endpoint string
}

// oidcErrorBody is the endpoint's error shape.
type oidcErrorBody struct {
	Error       string `json:"error"`
	Description string `json:"error_description"`
}

// oidcTokenURL returns the SSO token endpoint for a region. Only the token
// exchange is regional; the streaming API host never moves.
func oidcTokenURL(region string) string {
	return fmt.Sprintf("https://oidc.%s.amazonaws.com/token", region)
}

// Refresh posts a form-urlencoded refresh_token grant. No scope parameter is
// sent: the endpoint rejects scoped refreshes, the original registration's
// scopes carry over. The success body uses camelCase field names.
func (p *OIDCProvider) Refresh(ctx context.Context, cred *Credential) (*RefreshResult, error) {
	endpoint := p.Endpoint
	if endpoint == "" {
		endpoint = oidcTokenURL(cred.region())
	}

	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("client_id", cred.ClientID)
	form.Set("client_secret", cred.ClientSecret)
	form.Set("refresh_token", cred.RefreshToken)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("create refresh request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.Client.Do(req)
	if err != nil {
		return nil, &TransientError{Provider: ProviderOIDC, Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, &TransientError{Provider: ProviderOIDC, Err: err}
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return parseTokenResponse(ProviderOIDC, respBody)

	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		var eb oidcErrorBody
		_ = json.Unmarshal(respBody, &eb)
		return nil, &FatalError{
			Provider:     ProviderOIDC,
			StatusCode:   resp.StatusCode,
			Code:         eb.Error,
			Message:      eb.Description,
			InvalidGrant: eb.Error == "invalid_grant" || strings.Contains(string(respBody), "invalid_grant"),
		}

	default:
		return nil, &TransientError{
			Provider: ProviderOIDC,
			Err:      fmt.Errorf("identity server returned %d", resp.StatusCode),
		}
	}
}
