package domain

import (
	"strings"
	"time"
)

// Identity is one principal (user, admin, vendor, ...) in one auth entity's identity table.
type Identity struct {
	ID           string
	AuthEntity   string
	Email        string // unique per entity, lower-cased
	Username     string // optional; unique per entity, case-insensitive
	FirstName    string
	LastName     string
	PasswordHash string
	Status       Status
	Role         string
	Level        int // entity default; admins start elevated

	EmailVerified bool

	LoginAttempts int
	LockUntil     *time.Time

	ResetTokenHash       string
	ResetTokenExpiresAt  *time.Time
	VerificationCodeHash string
	VerificationExpires  *time.Time

	LastLoginAt        *time.Time
	LastLoginIP        string
	LastLoginUserAgent string
	PasswordChangedAt  *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Status is the account status of an identity.
type Status string

const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
	StatusLocked   Status = "locked"
)

// NormalizeEmail trims and lower-cases an email for storage and lookup.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// IsLocked reports whether the lock-until timestamp is in the future relative to now.
func (i *Identity) IsLocked(now time.Time) bool {
	return i.LockUntil != nil && i.LockUntil.After(now)
}

// LockRemaining returns the lock time left at now (zero when not locked).
func (i *Identity) LockRemaining(now time.Time) time.Duration {
	if !i.IsLocked(now) {
		return 0
	}
	return i.LockUntil.Sub(now)
}

// SafeView is the outward representation of an identity. It never carries the password digest,
// reset or verification secrets, lock/attempt counters or last IP/user agent.
type SafeView struct {
	ID            string     `json:"id"`
	AuthEntity    string     `json:"authEntity"`
	Email         string     `json:"email"`
	Username      string     `json:"username,omitempty"`
	FirstName     string     `json:"firstName,omitempty"`
	LastName      string     `json:"lastName,omitempty"`
	Status        Status     `json:"status"`
	Role          string     `json:"role,omitempty"`
	Level         int        `json:"level,omitempty"`
	EmailVerified bool       `json:"emailVerified"`
	LastLoginAt   *time.Time `json:"lastLoginAt,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`
}

// Sanitize returns the safe view of i.
func (i *Identity) Sanitize() *SafeView {
	if i == nil {
		return nil
	}
	return &SafeView{
		ID:            i.ID,
		AuthEntity:    i.AuthEntity,
		Email:         i.Email,
		Username:      i.Username,
		FirstName:     i.FirstName,
		LastName:      i.LastName,
		Status:        i.Status,
		Role:          i.Role,
		Level:         i.Level,
		EmailVerified: i.EmailVerified,
		LastLoginAt:   i.LastLoginAt,
		CreatedAt:     i.CreatedAt,
		UpdatedAt:     i.UpdatedAt,
	}
}
