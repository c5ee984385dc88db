// Package session manages ephemeral authenticated-session records and
// the pending-authorization correlation used to resume the OAuth
// redirect flow in the context of a logged-in technician.
package session

import (
	"context"
	"errors"
	"time"
)

// DefaultTTL is the fixed session lifetime applied at creation
const DefaultTTL = time.Hour

// ErrInvalid is returned by Validate for unknown, expired and destroyed
// tokens alike. Callers must not distinguish the cases: all of them are
// an authorization failure.
var ErrInvalid = errors.New("session: invalid or expired")

// Session is an ephemeral authenticated-session record
type Session struct {
	Token     string    `json:"token"`
	Username  string    `json:"username"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Expired reports whether the session is past its expiry at the given time
func (s *Session) Expired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// Store holds session records keyed by opaque token
type Store interface {
	// Create issues a new session for the username and returns it
	Create(ctx context.Context, username string) (*Session, error)

	// Validate returns the session if present and unexpired, ErrInvalid otherwise
	Validate(ctx context.Context, token string) (*Session, error)

	// Destroy removes the session. Destroying an absent token is not an error.
	Destroy(ctx context.Context, token string) error
}
