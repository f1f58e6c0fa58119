// Package state issues and verifies the short-lived anti-forgery tokens
// that bind a login attempt's redirect to its callback. Entries optionally
// carry the PKCE code verifier and caller context across the round-trip so
// no secret is ever client-visible.
package state

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"
)

// DefaultTTL is how long an issued state token stays valid.
const DefaultTTL = 10 * time.Minute

// tokenBytes gives 256 bits of entropy per token.
const tokenBytes = 32

// ErrNotFound is returned by VerifyAndConsume for absent, expired and
// already-consumed tokens alike. Callers must treat all three identically.
var ErrNotFound = errors.New("state: token not found")

// Entry is one issued anti-forgery state record. It exists from Issue
// until the first VerifyAndConsume or expiry, whichever comes first.
type Entry struct {
	Token        string            `json:"token"`
	Provider     string            `json:"provider"`
	Context      map[string]string `json:"context,omitempty"`
	CodeVerifier string            `json:"code_verifier,omitempty"`
	ExpiresAt    time.Time         `json:"expires_at"`
}

// Store issues single-use state tokens. Implementations must make
// VerifyAndConsume atomic: two concurrent callbacks presenting the same
// token can never both succeed.
type Store interface {
	// Issue mints a token and stores an entry for it. codeVerifier may be
	// empty for providers that do not use PKCE.
	Issue(ctx context.Context, provider string, loginContext map[string]string, codeVerifier string) (string, error)

	// VerifyAndConsume looks up the entry and deletes it before returning.
	// Absent, expired and consumed tokens all yield ErrNotFound.
	VerifyAndConsume(ctx context.Context, token string) (*Entry, error)
}

// newToken returns a fresh high-entropy opaque token.
func newToken() (string, error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate state token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
