package sso

import (
	"errors"
	"fmt"
)

// ErrorKind is the coarse failure classification surfaced to callers. The
// kind plus a safe message is all the facade ever leaks; provider-internal
// detail stays in the wrapped error and goes only to the logger.
type ErrorKind string

const (
	// KindInvalidState covers missing, expired, already-consumed and
	// provider-mismatched state tokens. Callers must not be able to tell
	// which of those occurred.
	KindInvalidState ErrorKind = "invalid_state"
	// KindProviderDisabled is returned when the provider is unknown or
	// administratively disabled.
	KindProviderDisabled ErrorKind = "provider_disabled"
	// KindProviderExchangeFailed covers network failures and provider-side
	// rejections during the code or assertion exchange.
	KindProviderExchangeFailed ErrorKind = "provider_exchange_failed"
	// KindMissingRequiredClaim is returned when the provider response lacks
	// a stable user identifier.
	KindMissingRequiredClaim ErrorKind = "missing_required_claim"
	// KindDomainNotAllowed is returned when auto-provisioning is blocked by
	// the email domain allow-list.
	KindDomainNotAllowed ErrorKind = "domain_not_allowed"
	// KindProvisioningDisabled is returned when no account matched and
	// auto-provisioning is off.
	KindProvisioningDisabled ErrorKind = "provisioning_disabled"
	// KindAccountLinkConflict is returned when the duplicate-link race was
	// retried and still conflicts.
	KindAccountLinkConflict ErrorKind = "account_link_conflict"
)

// Error is the typed authentication error returned by the facade and its
// components. Every failure is terminal for the current login attempt.
type Error struct {
	Kind    ErrorKind
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// NewError creates an authentication error with a caller-safe message.
func NewError(kind ErrorKind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// WrapError creates an authentication error wrapping an internal cause.
// The cause is available via errors.Unwrap for logging but is not part of
// the caller-facing message.
func WrapError(kind ErrorKind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, cause: cause}
}

// KindOf extracts the error kind, or empty string for non-auth errors.
func KindOf(err error) ErrorKind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return ""
}

// IsKind reports whether err is an authentication error of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	return KindOf(err) == kind
}
