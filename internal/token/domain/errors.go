package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for the token lifecycle; callers match with errors.Is.
var (
	// ErrInvalidToken covers bad signatures, malformed encodings, blacklisted tokens, and type mismatches.
	ErrInvalidToken = errors.New("invalid token")
	// ErrTokenExpired is returned when the exp claim has elapsed.
	ErrTokenExpired = errors.New("token expired")
	// ErrTokenGeneration is returned when signing or persisting an issued token fails.
	ErrTokenGeneration = errors.New("token generation failed")
	// ErrAuthentication covers bad credentials, disabled accounts, and device mismatches.
	ErrAuthentication = errors.New("authentication failed")
	// ErrRefreshToken is returned when refresh token creation or rotation fails.
	ErrRefreshToken = errors.New("refresh token error")
	// ErrValidation is returned by value-object constructors.
	ErrValidation = errors.New("validation failed")
	// ErrRefreshReuse is wrapped together with ErrInvalidToken when a rotated-out refresh token is replayed.
	ErrRefreshReuse = errors.New("refresh token reuse detected")
)

// Authentication failure reasons exposed to callers.
const (
	ReasonInvalidCredentials = "INVALID_CREDENTIALS"
	ReasonAccountDisabled    = "ACCOUNT_DISABLED"
	ReasonDeviceMismatch     = "DEVICE_MISMATCH"
)

// AuthError is an authentication failure with a machine-readable reason.
// It unwraps to ErrAuthentication.
type AuthError struct {
	Reason  string
	Message string
}

func (e *AuthError) Error() string {
	return e.Message
}

func (e *AuthError) Unwrap() error {
	return ErrAuthentication
}

// NewAuthError returns an AuthError for reason. The message is the user-visible text.
func NewAuthError(reason string) *AuthError {
	switch reason {
	case ReasonAccountDisabled:
		return &AuthError{Reason: reason, Message: "account is disabled"}
	case ReasonDeviceMismatch:
		return &AuthError{Reason: reason, Message: "device mismatch"}
	default:
		return &AuthError{Reason: ReasonInvalidCredentials, Message: "invalid credentials"}
	}
}

func validationErr(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}
