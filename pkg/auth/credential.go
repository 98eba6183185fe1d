package auth

import (
	"time"
)

// Provider identifies which identity endpoint refreshes a credential.
type Provider string

const (
	// ProviderDesktop refreshes against the Kiro desktop auth service with a
	// JSON body.
	ProviderDesktop Provider = "desktop"

	// ProviderOIDC refreshes against the regional AWS SSO OIDC token endpoint
	// with an OAuth 2.0 refresh_token grant.
	ProviderOIDC Provider = "oidc"
)

// Source identifies where a credential was discovered.
type Source string

const (
	SourceEnv    Source = "env"
	SourceFile   Source = "file"
	SourceSQLite Source = "sqlite"
)

// Credential is a refresh credential plus whatever access token state was
// persisted alongside it. RefreshToken is the only required field.
type Credential struct {
	Source Source

	RefreshToken string

	// ClientID and ClientSecret select the OIDC provider when both are set.
	ClientID     string
	ClientSecret string

	// Region is the SSO region for the OIDC token endpoint. Empty means
	// us-east-1.
	Region string

	// ProfileARN is the CodeWhisperer profile stored with the credential,
	// if any. It can be overridden by configuration.
	ProfileARN string

	// AccessToken and ExpiresAt carry a previously issued token so a fresh
	// process can serve requests without an immediate refresh.
	AccessToken string
	ExpiresAt   time.Time
}

// Provider returns the identity provider governing this credential. A
// credential is OIDC exactly when it carries both halves of a client
// registration; anything else refreshes through the desktop endpoint.
func (c *Credential) Provider() Provider {
	if c.ClientID != "" && c.ClientSecret != "" {
		return ProviderOIDC
	}
	return ProviderDesktop
}

// region returns the SSO region, defaulting to us-east-1.
func (c *Credential) region() string {
	if c.Region != "" {
		return c.Region
	}
	return "us-east-1"
}
