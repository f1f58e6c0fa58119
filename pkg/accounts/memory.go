package accounts

import (
	"context"
	"strings"
	"sync"
	"time"
)

// MemoryStore is an in-process account store for development and tests.
// It enforces the same link uniqueness the Postgres schema does.
type MemoryStore struct {
	mu       sync.Mutex
	accounts map[string]*Account // keyed by account ID
	links    map[string]string   // provider "\x00" providerUserID -> account ID
}

// NewMemoryStore creates an empty in-memory account store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts: make(map[string]*Account),
		links:    make(map[string]string),
	}
}

func linkKey(provider, providerUserID string) string {
	return provider + "\x00" + providerUserID
}

// FindByProviderLink returns the account holding the given provider link.
func (s *MemoryStore) FindByProviderLink(_ context.Context, provider, providerUserID string) (*Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	accountID, ok := s.links[linkKey(provider, providerUserID)]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneAccount(s.accounts[accountID]), nil
}

// FindByEmail returns the account with the given email.
func (s *MemoryStore) FindByEmail(_ context.Context, email string) (*Account, error) {
	if email == "" {
		return nil, ErrNotFound
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, account := range s.accounts {
		if strings.EqualFold(account.Email, email) {
			return cloneAccount(account), nil
		}
	}
	return nil, ErrNotFound
}

// Create stores a new account with its first provider link.
func (s *MemoryStore) Create(_ context.Context, account *Account, link *ProviderLink) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := linkKey(link.Provider, link.ProviderUserID)
	if _, ok := s.links[key]; ok {
		return ErrDuplicateLink
	}

	stored := cloneAccount(account)
	stored.Links = []ProviderLink{*link}
	s.accounts[account.ID] = stored
	s.links[key] = account.ID
	return nil
}

// AttachLink adds a provider link to an existing account.
func (s *MemoryStore) AttachLink(_ context.Context, accountID string, link *ProviderLink) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := linkKey(link.Provider, link.ProviderUserID)
	if _, ok := s.links[key]; ok {
		return ErrDuplicateLink
	}
	account, ok := s.accounts[accountID]
	if !ok {
		return ErrNotFound
	}

	account.Links = append(account.Links, *link)
	account.UpdatedAt = link.LastLoginAt
	at := link.LastLoginAt
	account.LastLoginAt = &at
	s.links[key] = accountID
	return nil
}

// TouchLink refreshes a link's metadata and last-login timestamps.
func (s *MemoryStore) TouchLink(_ context.Context, accountID, provider, providerUserID string, metadata map[string]string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	account, ok := s.accounts[accountID]
	if !ok {
		return ErrNotFound
	}
	for i := range account.Links {
		if account.Links[i].Provider == provider && account.Links[i].ProviderUserID == providerUserID {
			account.Links[i].Metadata = metadata
			account.Links[i].LastLoginAt = at
		}
	}
	account.UpdatedAt = at
	t := at
	account.LastLoginAt = &t
	return nil
}

// UpdateProfile overwrites the account's profile fields.
func (s *MemoryStore) UpdateProfile(_ context.Context, accountID string, profile Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	account, ok := s.accounts[accountID]
	if !ok {
		return ErrNotFound
	}
	applyProfile(account, profile)
	return nil
}

// SetPrimaryProvider records the account's primary provider.
func (s *MemoryStore) SetPrimaryProvider(_ context.Context, accountID, provider string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	account, ok := s.accounts[accountID]
	if !ok {
		return ErrNotFound
	}
	account.PrimaryProvider = provider
	return nil
}

// Len reports the number of accounts, for tests.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.accounts)
}

func cloneAccount(account *Account) *Account {
	if account == nil {
		return nil
	}
	out := *account
	if account.LastLoginAt != nil {
		t := *account.LastLoginAt
		out.LastLoginAt = &t
	}
	out.Links = append([]ProviderLink(nil), account.Links...)
	return &out
}
