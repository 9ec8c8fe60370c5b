package repository

import (
	"context"
	"time"

	"multi-entity-auth/backend/internal/identity/domain"
)

// Repository defines persistence for the identities of one auth entity.
// Lookups return (nil, nil) when no row matches; errors are storage failures only.
type Repository interface {
	GetByID(ctx context.Context, id string) (*domain.Identity, error)
	// FindByEmail returns the identity without its password digest.
	FindByEmail(ctx context.Context, email string) (*domain.Identity, error)
	FindByEmailWithDigest(ctx context.Context, email string) (*domain.Identity, error)
	FindByUsername(ctx context.Context, username string) (*domain.Identity, error)
	// FindByResetToken matches on the stored token digest; expiry is checked by the caller.
	FindByResetToken(ctx context.Context, tokenHash string) (*domain.Identity, error)
	// FindByVerificationCode matches on email and the stored code digest; expiry is checked by the caller.
	FindByVerificationCode(ctx context.Context, email, codeHash string) (*domain.Identity, error)
	EmailExists(ctx context.Context, email string) (bool, error)
	UsernameExists(ctx context.Context, username string) (bool, error)
	Create(ctx context.Context, i *domain.Identity) error
	// Update writes the profile, status and token fields of i.
	Update(ctx context.Context, i *domain.Identity) error
	// IncrementLoginAttempts records one failed login at now. When the counter reaches maxAttempts the
	// identity is locked until now+lockFor. A lapsed lock restarts the counter at 1.
	IncrementLoginAttempts(ctx context.Context, id string, maxAttempts int, lockFor time.Duration, now time.Time) (attempts int, lockUntil *time.Time, err error)
	RecordSuccessfulLogin(ctx context.Context, id, ip, userAgent string, at time.Time) error
	// UpdatePassword replaces the digest and clears any pending reset token.
	UpdatePassword(ctx context.Context, id, passwordHash string, at time.Time) error
	MarkEmailVerified(ctx context.Context, id string, at time.Time) error
	SetResetToken(ctx context.Context, id, tokenHash string, expiresAt time.Time) error
	SetVerificationCode(ctx context.Context, id, codeHash string, expiresAt time.Time) error
}

// lockState applies one failed attempt to (attempts, lockUntil) at now.
func lockState(attempts int, lockUntil *time.Time, maxAttempts int, lockFor time.Duration, now time.Time) (int, *time.Time) {
	if lockUntil != nil && !lockUntil.After(now) {
		attempts, lockUntil = 0, nil
	}
	attempts++
	if maxAttempts > 0 && attempts >= maxAttempts && lockUntil == nil {
		until := now.Add(lockFor)
		lockUntil = &until
	}
	return attempts, lockUntil
}
