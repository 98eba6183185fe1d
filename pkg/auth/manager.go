package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

const (
	// expirySkew treats a token as expired this long before its real expiry
	// so in-flight upstream calls do not race the deadline.
	expirySkew = 60 * time.Second

	// refreshTimeout bounds one refresh attempt. The refresh runs on its own
	// clock: a caller abandoning the wait never cancels it.
	refreshTimeout = 30 * time.Second
)

// refreshCall is the latch shared by every caller waiting on one refresh.
type refreshCall struct {
	done  chan struct{}
	token string
	err   error
}

// Options tunes a Manager. The zero value is production configuration.
type Options struct {
	// HTTPClient performs identity-provider requests. Defaults to a client
	// with the refresh timeout.
	HTTPClient *http.Client

	// DesktopEndpoint and OIDCEndpoint override the identity URLs, for
	// tests.
	DesktopEndpoint string
	OIDCEndpoint    string

	// OnRefresh observes every refresh outcome, err nil on success. Called
	// outside the manager's lock.
	OnRefresh func(provider Provider, err error)
}

// Manager owns the credential lifecycle: it hands out Bearer headers, fills
// the token cache through single-flight refreshes, persists rotations, and
// goes permanently failed when the refresh token is rejected.
type Manager struct {
	store     Store
	desktop   *DesktopProvider
	oidc      *OIDCProvider
	onRefresh func(Provider, error)

	mu        sync.Mutex
	cred      *Credential
	failedErr error
	inflight  *refreshCall
}

// NewManager wraps a discovered credential. The credential's cached access
// token, if any, is served until it nears expiry.
func NewManager(cred *Credential, store Store, opts Options) *Manager {
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: refreshTimeout}
	}
	c := *cred
	return &Manager{
		store:     store,
		desktop:   &DesktopProvider{Client: client, Endpoint: opts.DesktopEndpoint},
		oidc:      &OIDCProvider{Client: client, Endpoint: opts.OIDCEndpoint},
		onRefresh: opts.OnRefresh,
		cred:      &c,
	}
}

// AuthHeader returns an Authorization header value with a non-expired access
// token, refreshing first when needed. Concurrent callers during a refresh
// window share a single outbound refresh. ctx cancels only this caller's
// wait; the refresh itself completes in the background and its result serves
// the next caller.
func (m *Manager) AuthHeader(ctx context.Context) (string, error) {
	m.mu.Lock()
	if m.failedErr != nil {
		err := m.failedErr
		m.mu.Unlock()
		return "", err
	}
	if m.cred.AccessToken != "" && time.Now().Add(expirySkew).Before(m.cred.ExpiresAt) {
		header := "Bearer " + m.cred.AccessToken
		m.mu.Unlock()
		return header, nil
	}
	if m.inflight == nil {
		call := &refreshCall{done: make(chan struct{})}
		m.inflight = call
		snapshot := *m.cred
		go m.refresh(call, snapshot)
	}
	call := m.inflight
	m.mu.Unlock()

	select {
	case <-call.done:
		if call.err != nil {
			return "", call.err
		}
		return "Bearer " + call.token, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// refresh performs one token exchange and publishes the result to every
// waiter on call.
func (m *Manager) refresh(call *refreshCall, cred Credential) {
	ctx, cancel := context.WithTimeout(context.Background(), refreshTimeout)
	defer cancel()

	provider := cred.Provider()
	slog.Info("refreshing access token", "provider", provider, "source", cred.Source)

	var res *RefreshResult
	var err error
	switch provider {
	case ProviderOIDC:
		res, err = m.oidc.Refresh(ctx, &cred)
	default:
		res, err = m.desktop.Refresh(ctx, &cred)
	}

	m.mu.Lock()
	if err != nil {
		var fe *FatalError
		if errors.As(err, &fe) && fe.InvalidGrant {
			m.failedErr = err
			slog.Error("refresh token rejected, credential manager disabled until credentials change",
				"provider", provider, "status", fe.StatusCode)
		} else {
			slog.Warn("access token refresh failed", "provider", provider, "error", err)
		}
		call.err = err
		m.inflight = nil
		close(call.done)
		m.mu.Unlock()
		if m.onRefresh != nil {
			m.onRefresh(provider, err)
		}
		return
	}

	m.cred.AccessToken = res.AccessToken
	m.cred.ExpiresAt = res.ExpiresAt
	rotated := false
	if res.RefreshToken != "" && res.RefreshToken != m.cred.RefreshToken {
		m.cred.RefreshToken = res.RefreshToken
		rotated = true
	}
	saveCopy := *m.cred
	call.token = res.AccessToken
	m.inflight = nil
	close(call.done)
	m.mu.Unlock()

	if m.onRefresh != nil {
		m.onRefresh(provider, nil)
	}

	slog.Info("access token refreshed",
		"provider", provider,
		"expires_at", res.ExpiresAt.UTC().Format(time.RFC3339),
		"rotated_refresh_token", rotated)

	if err := m.store.Save(ctx, &saveCopy); err != nil {
		slog.Warn("could not persist refreshed credential", "source", m.store.Source(), "error", err)
	}
}

// Invalidate discards the cached access token so the next AuthHeader call
// refreshes. Called when upstream rejects a token that looked valid locally.
func (m *Manager) Invalidate() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cred.AccessToken = ""
	m.cred.ExpiresAt = time.Time{}
}

// IsHealthy reports whether the manager can still mint tokens. False means
// the refresh token was rejected and every request is answered with the
// stored failure.
func (m *Manager) IsHealthy() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.failedErr == nil
}

// State describes the credential lifecycle for health reporting: "ok" while
// a usable token is cached, "stale" when the next request must refresh,
// "failed" after an unrecoverable rejection.
func (m *Manager) State() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch {
	case m.failedErr != nil:
		return "failed"
	case m.cred.AccessToken != "" && time.Now().Add(expirySkew).Before(m.cred.ExpiresAt):
		return "ok"
	default:
		return "stale"
	}
}

// Provider returns the identity provider governing the current credential.
func (m *Manager) Provider() Provider {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cred.Provider()
}

// Source returns where the current credential was discovered.
func (m *Manager) Source() Source {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cred.Source
}

// ProfileARN returns the profile stored with the credential, if any.
func (m *Manager) ProfileARN() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cred.ProfileARN
}

// IsOIDC reports whether the current credential refreshes through the IdC
// token endpoint rather than the desktop refresher.
func (m *Manager) IsOIDC() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cred.Provider() == ProviderOIDC
}

// ReplaceCredential swaps in externally updated credentials, typically after
// the credentials file changed on disk. It keeps whichever access token
// expires later, clears a permanent failure, and reports whether anything
// changed.
func (m *Manager) ReplaceCredential(next *Credential) bool {
	if next == nil || next.RefreshToken == "" {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	cur := m.cred
	changed := next.RefreshToken != cur.RefreshToken ||
		next.ClientID != cur.ClientID ||
		next.ClientSecret != cur.ClientSecret ||
		next.Region != cur.Region ||
		next.ProfileARN != cur.ProfileARN
	if !changed && m.failedErr == nil {
		return false
	}

	replacement := *next
	if cur.AccessToken != "" && cur.ExpiresAt.After(replacement.ExpiresAt) {
		replacement.AccessToken = cur.AccessToken
		replacement.ExpiresAt = cur.ExpiresAt
	}
	m.cred = &replacement
	m.failedErr = nil

	slog.Info("credential replaced", "provider", replacement.Provider(), "source", replacement.Source)
	return true
}
