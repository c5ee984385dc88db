// Package oauth drives the three-legged authorization-code flow against
// the remote ticketing provider and holds the resulting credential.
//
// The credential slot is process-wide and single-slot: one outstanding
// ticketing-API identity is usable at a time across all technicians.
// Every successful exchange overwrites it; it is never persisted.
package oauth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"golang.org/x/oauth2"
)

var (
	// ErrTokenAbsent is returned before any successful exchange, and
	// after the held credential has expired.
	ErrTokenAbsent = errors.New("oauth: no usable access token")

	// ErrExchangeFailed is returned when the provider rejects the
	// authorization code or returns no access token. The code is
	// single-use, so exchanges are never retried.
	ErrExchangeFailed = errors.New("oauth: token exchange failed")
)

// Credential is the provider-issued bearer credential
type Credential struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

// Expired reports whether the credential is past its expiry; credentials
// without a recorded expiry never expire locally.
func (c *Credential) Expired(now time.Time) bool {
	return !c.ExpiresAt.IsZero() && now.After(c.ExpiresAt)
}

// Config holds the provider registration
type Config struct {
	ClientID     string
	ClientSecret string
	AuthURL      string
	TokenURL     string
	RedirectURL  string
	Scopes       []string
	// Timeout bounds the server-to-server exchange call
	Timeout time.Duration
}

// Manager drives the authorization-code flow and holds the credential slot
type Manager struct {
	oauth2Config *oauth2.Config
	httpClient   *http.Client
	slot         atomic.Pointer[Credential]
	now          func() time.Time
}

// NewManager creates a token manager for the given provider
func NewManager(cfg Config) (*Manager, error) {
	if cfg.ClientID == "" {
		return nil, fmt.Errorf("client_id is required")
	}
	if cfg.ClientSecret == "" {
		return nil, fmt.Errorf("client_secret is required")
	}
	if cfg.AuthURL == "" || cfg.TokenURL == "" {
		return nil, fmt.Errorf("auth_url and token_url are required")
	}
	if cfg.RedirectURL == "" {
		return nil, fmt.Errorf("redirect_url is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}

	return &Manager{
		oauth2Config: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint: oauth2.Endpoint{
				AuthURL:  cfg.AuthURL,
				TokenURL: cfg.TokenURL,
			},
			RedirectURL: cfg.RedirectURL,
			Scopes:      cfg.Scopes,
		},
		httpClient: &http.Client{Timeout: cfg.Timeout},
		now:        time.Now,
	}, nil
}

// AuthorizationURL builds the provider consent URL embedding the
// caller-supplied correlation state, so the eventual callback can be
// attributed to the session that initiated it.
func (m *Manager) AuthorizationURL(state string) string {
	return m.oauth2Config.AuthCodeURL(state,
		oauth2.AccessTypeOffline,
		oauth2.SetAuthURLParam("prompt", "consent"),
	)
}

// Exchange trades an authorization code for a credential and overwrites
// the slot on success. Failures surface as ErrExchangeFailed and are
// never retried: the provider invalidates a code on first use.
func (m *Manager) Exchange(ctx context.Context, code string) (*Credential, error) {
	if code == "" {
		return nil, fmt.Errorf("%w: no authorization code", ErrExchangeFailed)
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, m.httpClient)

	token, err := m.oauth2Config.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrExchangeFailed, err)
	}
	if token.AccessToken == "" {
		return nil, fmt.Errorf("%w: provider returned no access token", ErrExchangeFailed)
	}

	cred := &Credential{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		ExpiresAt:    token.Expiry,
	}
	m.slot.Store(cred)

	return cred, nil
}

// Current returns the held credential, or ErrTokenAbsent when no
// successful exchange has happened yet or the credential has expired.
func (m *Manager) Current() (*Credential, error) {
	cred := m.slot.Load()
	if cred == nil || cred.Expired(m.now()) {
		return nil, ErrTokenAbsent
	}
	return cred, nil
}

// Clear drops the held credential. Used by tests and by operators
// forcing a re-authorization.
func (m *Manager) Clear() {
	m.slot.Store(nil)
}
