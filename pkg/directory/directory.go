// Package directory verifies technician credentials against an LDAP
// directory. The directory is a pure credential verifier: a successful
// bind is the only signal used, no attributes are read back.
package directory

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/go-ldap/ldap/v3"
)

// ErrInvalidCredentials is returned when the directory rejects the bind.
var ErrInvalidCredentials = errors.New("directory: invalid credentials")

// Authenticator verifies a username/password pair
type Authenticator interface {
	Authenticate(ctx context.Context, username, password string) error
}

// Config holds LDAP connection settings
type Config struct {
	// URL is the directory address, e.g. ldap://ldap.example.com:389
	URL string
	// BaseDN is appended to the uid RDN when building the bind DN,
	// e.g. dc=example,dc=com
	BaseDN string
	// Timeout bounds the dial and each directory operation
	Timeout time.Duration
}

// LDAPAuthenticator authenticates by attempting a directory bind
type LDAPAuthenticator struct {
	cfg Config
}

// NewLDAPAuthenticator creates an authenticator for the given directory
func NewLDAPAuthenticator(cfg Config) (*LDAPAuthenticator, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("directory URL is required")
	}
	if cfg.BaseDN == "" {
		return nil, fmt.Errorf("directory base DN is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &LDAPAuthenticator{cfg: cfg}, nil
}

// BindDN builds the distinguished name for a username
func (a *LDAPAuthenticator) BindDN(username string) string {
	return fmt.Sprintf("uid=%s,%s", ldap.EscapeDN(username), a.cfg.BaseDN)
}

// Authenticate performs a directory bind with the given credentials.
// It returns ErrInvalidCredentials when the directory rejects the pair
// and a wrapped transport error when the directory is unreachable.
func (a *LDAPAuthenticator) Authenticate(ctx context.Context, username, password string) error {
	if username == "" {
		return ErrInvalidCredentials
	}
	// An empty password would be treated as an anonymous bind by most
	// directories and succeed, so reject it before dialing.
	if password == "" {
		return ErrInvalidCredentials
	}

	deadline := a.cfg.Timeout
	if d, ok := ctx.Deadline(); ok {
		if remaining := time.Until(d); remaining < deadline {
			deadline = remaining
		}
	}

	conn, err := ldap.DialURL(a.cfg.URL, ldap.DialWithDialer(&net.Dialer{Timeout: deadline}))
	if err != nil {
		return fmt.Errorf("directory unreachable: %w", err)
	}
	defer conn.Close()

	conn.SetTimeout(deadline)

	if err := conn.Bind(a.BindDN(username), password); err != nil {
		if ldap.IsErrorWithCode(err, ldap.LDAPResultInvalidCredentials) {
			return ErrInvalidCredentials
		}
		return fmt.Errorf("directory bind failed: %w", err)
	}

	return nil
}
