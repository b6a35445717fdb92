package credential

import (
	"context"
	"fmt"
	"sync"
)

// RefreshFunc obtains a new access token from the authentication
// collaborator (an OAuth refresh-token exchange, device flow, etc.).
type RefreshFunc func(ctx context.Context) (string, error)

// secretBackend is the slice of the keyring the token store reads and
// writes through.
type secretBackend interface {
	Get(key string) (string, error)
	Set(key string, value string) error
}

// keyringBackend adapts the package-level keyring helpers.
type keyringBackend struct{}

func (keyringBackend) Get(key string) (string, error) { return Get(key) }
func (keyringBackend) Set(key, value string) error    { return Set(key, value) }

// TokenStore implements mailapi.TokenSource on top of the system keyring.
// The current token is cached in memory; a refresh replaces the cache and
// persists the new token under the configured key.
type TokenStore struct {
	key     string
	refresh RefreshFunc
	backend secretBackend

	mu    sync.Mutex
	token string
}

// NewTokenStore creates a TokenStore persisting under key, refreshing via
// refresh.
func NewTokenStore(key string, refresh RefreshFunc) *TokenStore {
	return &TokenStore{key: key, refresh: refresh, backend: keyringBackend{}}
}

// Token returns the cached access token, loading it from the keyring on
// first use.
func (t *TokenStore) Token(ctx context.Context) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.token != "" {
		return t.token, nil
	}

	stored, err := t.backend.Get(t.key)
	if err != nil {
		return "", fmt.Errorf("loading stored token: %w", err)
	}
	t.token = stored
	return t.token, nil
}

// Refresh obtains a new token, persists it, and returns it. The protocol
// client calls this at most once per logical request.
func (t *TokenStore) Refresh(ctx context.Context) (string, error) {
	fresh, err := t.refresh(ctx)
	if err != nil {
		return "", fmt.Errorf("refreshing token: %w", err)
	}

	t.mu.Lock()
	t.token = fresh
	t.mu.Unlock()

	if err := t.backend.Set(t.key, fresh); err != nil {
		return "", fmt.Errorf("persisting refreshed token: %w", err)
	}

	return fresh, nil
}
