// Package sessiontoken mints and verifies the signed first-party session
// tokens handed out after a successful SSO login. Tokens are self-contained
// JWTs; no session state is stored server-side.
package sessiontoken

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// DefaultTTL is the session token lifetime when none is configured.
const DefaultTTL = 24 * time.Hour

// minKeyBytes rejects signing keys too short to resist brute force.
const minKeyBytes = 32

var (
	// ErrInvalidToken is returned for tokens that fail signature or time
	// validation.
	ErrInvalidToken = errors.New("sessiontoken: invalid token")
	// ErrKeyTooShort is returned by NewIssuer for undersized signing keys.
	ErrKeyTooShort = fmt.Errorf("sessiontoken: signing key must be at least %d bytes", minKeyBytes)
)

// Claims is the session token payload. Provider names which identity
// provider authenticated this session.
type Claims struct {
	Role     string `json:"role,omitempty"`
	Provider string `json:"idp,omitempty"`
	Email    string `json:"email,omitempty"`

	jwt.RegisteredClaims
}

// KeyProvider supplies the current HMAC signing key. Implementations may
// rotate the key between calls; a token is always verified against the
// key current at parse time.
type KeyProvider interface {
	SigningKey() []byte
}

// StaticKey is a KeyProvider over a fixed key.
type StaticKey []byte

// SigningKey returns the key.
func (k StaticKey) SigningKey() []byte { return []byte(k) }

// Issuer signs and verifies session tokens with an HMAC-SHA256 key.
type Issuer struct {
	keys   KeyProvider
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

// NewIssuer creates an issuer. issuer becomes the "iss" claim; ttl of zero
// means DefaultTTL.
func NewIssuer(keys KeyProvider, issuer string, ttl time.Duration) (*Issuer, error) {
	if keys == nil || len(keys.SigningKey()) < minKeyBytes {
		return nil, ErrKeyTooShort
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Issuer{keys: keys, issuer: issuer, ttl: ttl, now: time.Now}, nil
}

// Session describes the account a token is issued for.
type Session struct {
	AccountID string
	Role      string
	Provider  string
	Email     string
}

// Issue signs a token for the session and returns it with its expiry.
// Every token carries a fresh "jti" so individual tokens can be audited.
func (i *Issuer) Issue(session Session) (string, time.Time, error) {
	if session.AccountID == "" {
		return "", time.Time{}, errors.New("sessiontoken: account ID is required")
	}

	now := i.now().UTC()
	exp := now.Add(i.ttl)

	claims := Claims{
		Role:     session.Role,
		Provider: session.Provider,
		Email:    session.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.issuer,
			Subject:   session.AccountID,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        uuid.NewString(),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(i.keys.SigningKey())
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign session token: %w", err)
	}
	return signed, exp, nil
}

// Parse verifies the signature and time claims and returns the payload.
// Only HS256 is accepted; tokens signed with any other method fail.
func (i *Issuer) Parse(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %q", t.Header["alg"])
		}
		return i.keys.SigningKey(), nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(i.issuer),
		jwt.WithTimeFunc(func() time.Time { return i.now() }),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
