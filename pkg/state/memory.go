package state

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps state entries in process memory behind a mutex.
// Suitable for single-instance deployments; multi-instance deployments
// should use RedisStore so any instance can consume a callback.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]*Entry
	ttl     time.Duration
	now     func() time.Time
}

// NewMemoryStore creates an in-memory store with the given TTL. Zero means
// DefaultTTL.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryStore{
		entries: make(map[string]*Entry),
		ttl:     ttl,
		now:     time.Now,
	}
}

// Issue mints a token and records its entry.
func (s *MemoryStore) Issue(_ context.Context, provider string, loginContext map[string]string, codeVerifier string) (string, error) {
	token, err := newToken()
	if err != nil {
		return "", err
	}

	entry := &Entry{
		Token:        token,
		Provider:     provider,
		Context:      loginContext,
		CodeVerifier: codeVerifier,
		ExpiresAt:    s.now().Add(s.ttl),
	}

	s.mu.Lock()
	s.entries[token] = entry
	s.mu.Unlock()

	return token, nil
}

// VerifyAndConsume atomically removes and returns the entry. Expired
// entries are deleted on lookup and reported as not found.
func (s *MemoryStore) VerifyAndConsume(_ context.Context, token string) (*Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[token]
	if !ok {
		return nil, ErrNotFound
	}
	// Delete unconditionally: even an expired entry is gone after one
	// lookup.
	delete(s.entries, token)

	if s.now().After(entry.ExpiresAt) {
		return nil, ErrNotFound
	}
	return entry, nil
}

// Sweep removes expired entries and returns how many were dropped. Run it
// periodically; lookups already expire lazily, so the sweep only bounds
// memory held by abandoned login attempts.
func (s *MemoryStore) Sweep() int {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for token, entry := range s.entries {
		if now.After(entry.ExpiresAt) {
			delete(s.entries, token)
			removed++
		}
	}
	return removed
}

// Len reports the number of live entries, for metrics.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
