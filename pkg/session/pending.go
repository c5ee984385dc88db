package session

import (
	"sync"
	"time"
)

// DefaultPendingTTL bounds how long an authorization redirect may take
// before its correlation state stops being consumable.
const DefaultPendingTTL = 10 * time.Minute

type pendingEntry struct {
	sessionToken string
	expiresAt    time.Time
}

// PendingAuthorizations correlates an opaque OAuth state value with the
// session that initiated the authorization redirect. A state is created
// at login and consumed exactly once when the provider calls back; the
// state is a fresh random value, never the session token itself.
type PendingAuthorizations struct {
	mu      sync.Mutex
	entries map[string]pendingEntry
	ttl     time.Duration
	now     func() time.Time
}

// NewPendingAuthorizations creates a correlation table with the given TTL
func NewPendingAuthorizations(ttl time.Duration) *PendingAuthorizations {
	if ttl <= 0 {
		ttl = DefaultPendingTTL
	}
	return &PendingAuthorizations{
		entries: make(map[string]pendingEntry),
		ttl:     ttl,
		now:     time.Now,
	}
}

// Begin registers a new correlation state for the session and returns it
func (p *PendingAuthorizations) Begin(sessionToken string) (string, error) {
	state, err := GenerateToken()
	if err != nil {
		return "", err
	}

	p.mu.Lock()
	p.entries[state] = pendingEntry{
		sessionToken: sessionToken,
		expiresAt:    p.now().Add(p.ttl),
	}
	p.mu.Unlock()

	return state, nil
}

// Consume resolves a state to its session token and discards it.
// Unknown and expired states both report !ok.
func (p *PendingAuthorizations) Consume(state string) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	entry, ok := p.entries[state]
	if !ok {
		return "", false
	}
	delete(p.entries, state)

	if p.now().After(entry.expiresAt) {
		return "", false
	}
	return entry.sessionToken, true
}

// Sweep removes expired states and returns how many were removed
func (p *PendingAuthorizations) Sweep() int {
	now := p.now()

	p.mu.Lock()
	defer p.mu.Unlock()

	removed := 0
	for state, entry := range p.entries {
		if now.After(entry.expiresAt) {
			delete(p.entries, state)
			removed++
		}
	}
	return removed
}
