// Package autherr defines the error taxonomy shared by the credential, token, session and auth layers.
// Handlers map these to transport codes; storage errors are never converted into them.
package autherr

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors. Typed errors below match them through errors.Is.
var (
	ErrInvalidCredentials     = errors.New("invalid credentials")
	ErrAccountLocked          = errors.New("account locked")
	ErrAccountNotActive       = errors.New("account is not active")
	ErrWeakPassword           = errors.New("password does not meet strength requirements")
	ErrEmailAlreadyRegistered = errors.New("email already registered")
	ErrUsernameTaken          = errors.New("username already taken")
	ErrInvalidToken           = errors.New("invalid token")
	ErrExpiredToken           = errors.New("token expired")
	ErrSessionNotFound        = errors.New("session not found")
	ErrSessionEntityMismatch  = errors.New("session does not belong to this auth entity")
	ErrIdentityNotFound       = errors.New("identity not found")
	ErrConfiguration          = errors.New("configuration error")

	ErrInvalidEmail            = errors.New("invalid email address")
	ErrInvalidResetToken       = errors.New("invalid or expired password reset token")
	ErrInvalidVerificationCode = errors.New("invalid or expired verification code")
	ErrEmailAlreadyVerified    = errors.New("email already verified")
	ErrEmailNotVerified        = errors.New("email is not verified")
	ErrSamePassword            = errors.New("new password must differ from the current password")
)

// AccountLockedError reports a lockout with the whole minutes left (rounded up).
type AccountLockedError struct {
	MinutesRemaining int
}

func (e *AccountLockedError) Error() string {
	unit := "minutes"
	if e.MinutesRemaining == 1 {
		unit = "minute"
	}
	return fmt.Sprintf("account locked; try again in %d %s", e.MinutesRemaining, unit)
}

func (e *AccountLockedError) Is(target error) bool { return target == ErrAccountLocked }

// WeakPasswordError carries the itemized policy violations.
type WeakPasswordError struct {
	Errors []string
	Score  int
}

func (e *WeakPasswordError) Error() string {
	if len(e.Errors) == 0 {
		return ErrWeakPassword.Error()
	}
	return ErrWeakPassword.Error() + ": " + strings.Join(e.Errors, "; ")
}

func (e *WeakPasswordError) Is(target error) bool { return target == ErrWeakPassword }

// ConfigurationError is fatal at startup (missing signing secret, unknown auth entity, ...).
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error: %s: %s", e.Field, e.Reason)
}

func (e *ConfigurationError) Is(target error) bool { return target == ErrConfiguration }

// NewConfigurationError returns a ConfigurationError for field.
func NewConfigurationError(field, reason string) error {
	return &ConfigurationError{Field: field, Reason: reason}
}
