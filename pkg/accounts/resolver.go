package accounts

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/keygate/keygate/pkg/sso"
)

// RoleMapping assigns a role to identities whose email matches one of the
// rules. A rule is either a full email address or a bare domain. Mappings
// are evaluated in order; the first match wins.
type RoleMapping struct {
	Role    string   `json:"role" yaml:"role"`
	Matches []string `json:"matches" yaml:"matches"`
}

// Policy controls how external identities become local accounts.
type Policy struct {
	// AutoProvision enables creating accounts for unknown identities.
	AutoProvision bool `json:"auto_provision" yaml:"auto_provision"`

	// AllowedEmailDomains restricts auto-provisioning to the listed email
	// domains. Empty means no restriction.
	AllowedEmailDomains []string `json:"allowed_email_domains" yaml:"allowed_email_domains"`

	// UpdateProfileOnLogin overwrites profile fields from fresh claims on
	// every login through an existing link.
	UpdateProfileOnLogin bool `json:"update_profile_on_login" yaml:"update_profile_on_login"`

	// AllowEmptyEmail permits provisioning identities that carry no email
	// claim. Domain and email-based role rules are skipped for them.
	AllowEmptyEmail bool `json:"allow_empty_email" yaml:"allow_empty_email"`

	// DefaultRole is assigned when neither the provider role hint nor a
	// role mapping applies.
	DefaultRole string `json:"default_role" yaml:"default_role"`

	// RoleMappings assign roles by email or domain, in order.
	RoleMappings []RoleMapping `json:"role_mappings" yaml:"role_mappings"`
}

// Outcome reports which precedence step resolved an identity.
type Outcome string

const (
	// OutcomeExisting means an existing provider link matched.
	OutcomeExisting Outcome = "existing"
	// OutcomeLinked means an account matched by email and gained a new
	// provider link.
	OutcomeLinked Outcome = "linked"
	// OutcomeProvisioned means a new account was created.
	OutcomeProvisioned Outcome = "provisioned"
)

// Resolver deterministically maps an external identity to exactly one
// local account. It is the only place identity-to-account decisions live.
type Resolver struct {
	store  Store
	policy Policy
	now    func() time.Time
}

// NewResolver creates a resolver over the given account store.
func NewResolver(store Store, policy Policy) *Resolver {
	return &Resolver{store: store, policy: policy, now: time.Now}
}

// Resolve applies the precedence: existing provider link, then email
// match, then auto-provisioning. A duplicate-link race during the write
// is retried once as a fresh lookup before surfacing a conflict.
func (r *Resolver) Resolve(ctx context.Context, identity *sso.ExternalIdentity) (*Account, Outcome, error) {
	if identity == nil || identity.ProviderUserID == "" {
		return nil, "", sso.NewError(sso.KindMissingRequiredClaim, "identity lacks a provider user id")
	}

	account, outcome, err := r.resolveOnce(ctx, identity)
	if errors.Is(err, ErrDuplicateLink) {
		// Someone else linked this identity between our lookup and write.
		// The link exists now, so a second pass resolves through step 1.
		account, outcome, err = r.resolveOnce(ctx, identity)
		if errors.Is(err, ErrDuplicateLink) {
			return nil, "", sso.WrapError(sso.KindAccountLinkConflict, "provider link conflict persisted after retry", err)
		}
	}
	return account, outcome, err
}

func (r *Resolver) resolveOnce(ctx context.Context, identity *sso.ExternalIdentity) (*Account, Outcome, error) {
	now := r.now()

	// 1. Existing provider link.
	account, err := r.store.FindByProviderLink(ctx, identity.Provider, identity.ProviderUserID)
	if err == nil {
		if err := r.store.TouchLink(ctx, account.ID, identity.Provider, identity.ProviderUserID, identity.Metadata, now); err != nil {
			return nil, "", fmt.Errorf("failed to update provider link: %w", err)
		}
		if r.policy.UpdateProfileOnLogin {
			profile := profileFromIdentity(identity)
			if err := r.store.UpdateProfile(ctx, account.ID, profile); err != nil {
				return nil, "", fmt.Errorf("failed to sync profile: %w", err)
			}
			applyProfile(account, profile)
		}
		return account, OutcomeExisting, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, "", fmt.Errorf("provider link lookup failed: %w", err)
	}

	// 2. Email match: attach a new link to the existing account.
	if identity.Email != "" {
		account, err = r.store.FindByEmail(ctx, identity.Email)
		if err == nil {
			link := linkFromIdentity(identity, now)
			if err := r.store.AttachLink(ctx, account.ID, link); err != nil {
				if errors.Is(err, ErrDuplicateLink) {
					return nil, "", err
				}
				return nil, "", fmt.Errorf("failed to attach provider link: %w", err)
			}
			if account.PrimaryProvider == "" {
				if err := r.store.SetPrimaryProvider(ctx, account.ID, identity.Provider); err != nil {
					return nil, "", fmt.Errorf("failed to set primary provider: %w", err)
				}
				account.PrimaryProvider = identity.Provider
			}
			account.Links = append(account.Links, *link)
			return account, OutcomeLinked, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, "", fmt.Errorf("email lookup failed: %w", err)
		}
	}

	// 3. Auto-provision.
	if !r.policy.AutoProvision {
		return nil, "", sso.NewError(sso.KindProvisioningDisabled, "no matching account and provisioning is disabled")
	}
	account, err = r.provision(ctx, identity, now)
	if err != nil {
		return nil, "", err
	}
	return account, OutcomeProvisioned, nil
}

// provision gathers every policy decision first, then performs the single
// transactional create. A failure at any decision leaves no account
// behind.
func (r *Resolver) provision(ctx context.Context, identity *sso.ExternalIdentity, now time.Time) (*Account, error) {
	if identity.Email == "" && !r.policy.AllowEmptyEmail {
		return nil, sso.NewError(sso.KindMissingRequiredClaim, "an email claim is required for provisioning")
	}
	if identity.Email != "" && len(r.policy.AllowedEmailDomains) > 0 {
		if !domainAllowed(identity.Email, r.policy.AllowedEmailDomains) {
			return nil, sso.NewError(sso.KindDomainNotAllowed, "email domain is not allowed to auto-provision")
		}
	}

	link := linkFromIdentity(identity, now)
	account := &Account{
		ID:              uuid.NewString(),
		Email:           identity.Email,
		FirstName:       identity.FirstName,
		LastName:        identity.LastName,
		DisplayName:     displayName(identity),
		Role:            r.assignRole(identity),
		PrimaryProvider: identity.Provider,
		IsActive:        true,
		CreatedAt:       now,
		UpdatedAt:       now,
		LastLoginAt:     &now,
		Links:           []ProviderLink{*link},
	}

	if err := r.store.Create(ctx, account, link); err != nil {
		if errors.Is(err, ErrDuplicateLink) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to create account: %w", err)
	}
	return account, nil
}

// assignRole picks the role for a new account: provider hint first, then
// the first matching role-mapping rule, then the default.
func (r *Resolver) assignRole(identity *sso.ExternalIdentity) string {
	if identity.RoleHint != "" {
		return identity.RoleHint
	}
	if identity.Email != "" {
		email := strings.ToLower(identity.Email)
		domain := emailDomain(email)
		for _, mapping := range r.policy.RoleMappings {
			for _, match := range mapping.Matches {
				m := strings.ToLower(match)
				if m == email || m == domain {
					return mapping.Role
				}
			}
		}
	}
	return r.policy.DefaultRole
}

func domainAllowed(email string, allowed []string) bool {
	domain := emailDomain(strings.ToLower(email))
	if domain == "" {
		return false
	}
	for _, d := range allowed {
		if strings.ToLower(d) == domain {
			return true
		}
	}
	return false
}

func emailDomain(email string) string {
	at := strings.LastIndex(email, "@")
	if at < 0 || at == len(email)-1 {
		return ""
	}
	return email[at+1:]
}

func linkFromIdentity(identity *sso.ExternalIdentity, now time.Time) *ProviderLink {
	return &ProviderLink{
		Provider:       identity.Provider,
		ProviderUserID: identity.ProviderUserID,
		Metadata:       identity.Metadata,
		LastLoginAt:    now,
		CreatedAt:      now,
	}
}

func profileFromIdentity(identity *sso.ExternalIdentity) Profile {
	return Profile{
		Email:       identity.Email,
		FirstName:   identity.FirstName,
		LastName:    identity.LastName,
		DisplayName: displayName(identity),
	}
}

func applyProfile(account *Account, profile Profile) {
	if profile.Email != "" {
		account.Email = profile.Email
	}
	account.FirstName = profile.FirstName
	account.LastName = profile.LastName
	account.DisplayName = profile.DisplayName
}

func displayName(identity *sso.ExternalIdentity) string {
	if identity.DisplayName != "" {
		return identity.DisplayName
	}
	if identity.FirstName != "" && identity.LastName != "" {
		return identity.FirstName + " " + identity.LastName
	}
	return ""
}
