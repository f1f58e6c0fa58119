package sso

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
)

// PKCEChallengeMethod is the only challenge method we send. Plain is not
// supported.
const PKCEChallengeMethod = "S256"

// GeneratePKCE returns a fresh code verifier and its S256 challenge. The
// verifier is 32 random bytes base64url-encoded (43 chars), within the
// RFC 7636 43-128 character bounds.
func GeneratePKCE() (verifier, challenge string, err error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", "", fmt.Errorf("failed to generate code verifier: %w", err)
	}
	verifier = base64.RawURLEncoding.EncodeToString(b)
	return verifier, ChallengeS256(verifier), nil
}

// ChallengeS256 derives the S256 code challenge for a verifier.
func ChallengeS256(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}
