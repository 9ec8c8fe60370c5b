package autherr

import (
	"errors"
	"fmt"
	"testing"
)

func TestAccountLockedError(t *testing.T) {
	err := error(&AccountLockedError{MinutesRemaining: 12})
	if !errors.Is(err, ErrAccountLocked) {
		t.Fatal("AccountLockedError should match ErrAccountLocked")
	}
	if err.Error() != "account locked; try again in 12 minutes" {
		t.Errorf("Error() = %q", err.Error())
	}
	one := &AccountLockedError{MinutesRemaining: 1}
	if one.Error() != "account locked; try again in 1 minute" {
		t.Errorf("Error() = %q", one.Error())
	}
	var locked *AccountLockedError
	wrapped := fmt.Errorf("login: %w", err)
	if !errors.As(wrapped, &locked) || locked.MinutesRemaining != 12 {
		t.Errorf("errors.As through wrap failed: %+v", locked)
	}
}

func TestWeakPasswordError(t *testing.T) {
	err := &WeakPasswordError{Errors: []string{"a", "b"}, Score: 2}
	if !errors.Is(err, ErrWeakPassword) {
		t.Fatal("WeakPasswordError should match ErrWeakPassword")
	}
	if got := err.Error(); got != "password does not meet strength requirements: a; b" {
		t.Errorf("Error() = %q", got)
	}
	if errors.Is(err, ErrInvalidCredentials) {
		t.Error("WeakPasswordError must not match ErrInvalidCredentials")
	}
}

func TestConfigurationError(t *testing.T) {
	err := NewConfigurationError("AUTH_ENTITY", `unknown auth entity "robots"`)
	if !errors.Is(err, ErrConfiguration) {
		t.Fatal("ConfigurationError should match ErrConfiguration")
	}
	if err.Error() != `configuration error: AUTH_ENTITY: unknown auth entity "robots"` {
		t.Errorf("Error() = %q", err.Error())
	}
}
