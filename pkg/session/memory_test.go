package session

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_CreateAndValidate(t *testing.T) {
	store := NewMemoryStore(time.Hour)

	sess, err := store.Create(context.Background(), "jsmith")
	require.NoError(t, err)
	require.NotNil(t, sess)
	assert.Equal(t, "jsmith", sess.Username)
	assert.True(t, strings.HasPrefix(sess.Token, TokenPrefix))

	got, err := store.Validate(context.Background(), sess.Token)
	require.NoError(t, err)
	assert.Equal(t, "jsmith", got.Username)
	assert.Equal(t, sess.Token, got.Token)
}

func TestMemoryStore_UniqueTokens(t *testing.T) {
	store := NewMemoryStore(time.Hour)

	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		sess, err := store.Create(context.Background(), "jsmith")
		require.NoError(t, err)
		assert.False(t, seen[sess.Token], "token issued twice")
		seen[sess.Token] = true
	}
}

func TestMemoryStore_UnknownToken(t *testing.T) {
	store := NewMemoryStore(time.Hour)

	_, err := store.Validate(context.Background(), "drs_doesnotexist")
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestMemoryStore_ExpiredToken(t *testing.T) {
	current := time.Now()
	store := NewMemoryStore(time.Hour)
	store.now = func() time.Time { return current }

	sess, err := store.Create(context.Background(), "jsmith")
	require.NoError(t, err)

	// Just before expiry the session is still valid.
	current = current.Add(time.Hour - time.Second)
	_, err = store.Validate(context.Background(), sess.Token)
	require.NoError(t, err)

	// Past expiry it is indistinguishable from an unknown token.
	current = current.Add(2 * time.Second)
	_, err = store.Validate(context.Background(), sess.Token)
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestMemoryStore_DestroyIsIdempotent(t *testing.T) {
	store := NewMemoryStore(time.Hour)

	sess, err := store.Create(context.Background(), "jsmith")
	require.NoError(t, err)

	require.NoError(t, store.Destroy(context.Background(), sess.Token))
	_, err = store.Validate(context.Background(), sess.Token)
	assert.ErrorIs(t, err, ErrInvalid)

	// Destroying again still succeeds.
	require.NoError(t, store.Destroy(context.Background(), sess.Token))
	require.NoError(t, store.Destroy(context.Background(), "drs_neverexisted"))
}

func TestMemoryStore_ConcurrentCreateValidate(t *testing.T) {
	store := NewMemoryStore(time.Hour)

	const workers = 16
	tokens := make([]string, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			sess, err := store.Create(context.Background(), "jsmith")
			if !assert.NoError(t, err) {
				return
			}
			tokens[n] = sess.Token
			// Validate and Destroy race against the other creators.
			_, err = store.Validate(context.Background(), sess.Token)
			assert.NoError(t, err)
			assert.NoError(t, store.Destroy(context.Background(), sess.Token))
		}(i)
	}
	wg.Wait()

	assert.Zero(t, store.Len())
	seen := make(map[string]bool)
	for _, token := range tokens {
		assert.False(t, seen[token], "token issued twice")
		seen[token] = true
	}
}

func TestMemoryStore_Sweep(t *testing.T) {
	current := time.Now()
	store := NewMemoryStore(time.Hour)
	store.now = func() time.Time { return current }

	for i := 0; i < 3; i++ {
		_, err := store.Create(context.Background(), "jsmith")
		require.NoError(t, err)
	}
	current = current.Add(30 * time.Minute)
	live, err := store.Create(context.Background(), "adoe")
	require.NoError(t, err)

	current = current.Add(45 * time.Minute)
	evicted := store.Sweep(context.Background())
	assert.Equal(t, 3, evicted)
	assert.Equal(t, 1, store.Len())

	_, err = store.Validate(context.Background(), live.Token)
	assert.NoError(t, err)
}
