package directory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLDAPAuthenticator_Validation(t *testing.T) {
	_, err := NewLDAPAuthenticator(Config{BaseDN: "dc=example,dc=com"})
	assert.Error(t, err)

	_, err = NewLDAPAuthenticator(Config{URL: "ldap://localhost:389"})
	assert.Error(t, err)

	a, err := NewLDAPAuthenticator(Config{URL: "ldap://localhost:389", BaseDN: "dc=example,dc=com"})
	require.NoError(t, err)
	assert.NotNil(t, a)
}

func TestBindDN(t *testing.T) {
	a, err := NewLDAPAuthenticator(Config{
		URL:    "ldap://localhost:389",
		BaseDN: "dc=example,dc=com",
	})
	require.NoError(t, err)

	assert.Equal(t, "uid=jsmith,dc=example,dc=com", a.BindDN("jsmith"))
	// DN metacharacters in the username must not change the DN structure.
	assert.Equal(t, `uid=j\,smith,dc=example,dc=com`, a.BindDN("j,smith"))
}

func TestAuthenticate_EmptyCredentials(t *testing.T) {
	a, err := NewLDAPAuthenticator(Config{
		URL:    "ldap://localhost:389",
		BaseDN: "dc=example,dc=com",
	})
	require.NoError(t, err)

	// Rejected before any directory traffic.
	assert.ErrorIs(t, a.Authenticate(context.Background(), "", "secret"), ErrInvalidCredentials)
	assert.ErrorIs(t, a.Authenticate(context.Background(), "jsmith", ""), ErrInvalidCredentials)
}

func TestAuthenticate_Unreachable(t *testing.T) {
	a, err := NewLDAPAuthenticator(Config{
		URL:     "ldap://127.0.0.1:1",
		BaseDN:  "dc=example,dc=com",
		Timeout: time.Second,
	})
	require.NoError(t, err)

	err = a.Authenticate(context.Background(), "jsmith", "secret")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrInvalidCredentials)
}
