// Package accounts maps normalized external identities onto local
// accounts: by existing provider link, by email match, or by
// auto-provisioning under the configured policy.
package accounts

import (
	"context"
	"errors"
	"time"
)

// Account is a local user account. The persistent store is an external
// collaborator; this package only depends on the Store contract below.
type Account struct {
	ID          string     `json:"id"`
	Email       string     `json:"email,omitempty"`
	FirstName   string     `json:"first_name,omitempty"`
	LastName    string     `json:"last_name,omitempty"`
	DisplayName string     `json:"display_name,omitempty"`
	Role        string     `json:"role"`
	// PrimaryProvider is the provider the account first authenticated
	// with, empty for accounts created outside SSO.
	PrimaryProvider string     `json:"primary_provider,omitempty"`
	IsActive        bool       `json:"is_active"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
	LastLoginAt     *time.Time `json:"last_login_at,omitempty"`

	Links []ProviderLink `json:"links,omitempty"`
}

// ProviderLink associates an account with one external identity at one
// provider. At most one account may hold a link for a given
// (provider, provider user id) pair.
type ProviderLink struct {
	Provider       string            `json:"provider"`
	ProviderUserID string            `json:"provider_user_id"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	LastLoginAt    time.Time         `json:"last_login_at"`
	CreatedAt      time.Time         `json:"created_at"`
}

// Profile is the subset of account fields refreshed from provider claims
// when profile sync on login is enabled.
type Profile struct {
	Email       string
	FirstName   string
	LastName    string
	DisplayName string
}

var (
	// ErrNotFound is returned by lookups that match no account.
	ErrNotFound = errors.New("accounts: not found")
	// ErrDuplicateLink is returned when a create or attach collides with
	// an existing link for the same (provider, provider user id). The
	// resolver treats it as "someone else linked this concurrently".
	ErrDuplicateLink = errors.New("accounts: provider link already exists")
)

// Store is the persistent account collaborator. Writes are expected to be
// transactional: a failed Create leaves neither an account nor a link
// behind.
type Store interface {
	// FindByProviderLink returns the account holding a link for the pair,
	// or ErrNotFound.
	FindByProviderLink(ctx context.Context, provider, providerUserID string) (*Account, error)

	// FindByEmail returns the account with the given email, or
	// ErrNotFound.
	FindByEmail(ctx context.Context, email string) (*Account, error)

	// Create persists a new account together with its first provider
	// link in one transaction. Returns ErrDuplicateLink when the link
	// already exists.
	Create(ctx context.Context, account *Account, link *ProviderLink) error

	// AttachLink adds a provider link to an existing account. Returns
	// ErrDuplicateLink when the link already exists.
	AttachLink(ctx context.Context, accountID string, link *ProviderLink) error

	// TouchLink refreshes a link's metadata and last-login timestamp.
	TouchLink(ctx context.Context, accountID, provider, providerUserID string, metadata map[string]string, at time.Time) error

	// UpdateProfile overwrites the account's profile fields.
	UpdateProfile(ctx context.Context, accountID string, profile Profile) error

	// SetPrimaryProvider records the account's primary provider.
	SetPrimaryProvider(ctx context.Context, accountID, provider string) error
}
