package repository

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"multi-entity-auth/backend/internal/identity/domain"
)

// ErrDuplicate is returned by MemoryRepository.Create for a taken email or username,
// mirroring the unique indexes of the Postgres tables.
var ErrDuplicate = errors.New("identity: duplicate email or username")

// MemoryRepository is an in-memory Repository for dev mode and tests. Records are copied in and out.
type MemoryRepository struct {
	mu     sync.RWMutex
	entity string
	byID   map[string]*domain.Identity
}

// NewMemoryRepository returns an empty in-memory repository for entity.
func NewMemoryRepository(entity string) *MemoryRepository {
	return &MemoryRepository{entity: entity, byID: make(map[string]*domain.Identity)}
}

func (r *MemoryRepository) GetByID(ctx context.Context, id string) (*domain.Identity, error) {
	return r.find(func(i *domain.Identity) bool { return i.ID == id }), nil
}

func (r *MemoryRepository) FindByEmail(ctx context.Context, email string) (*domain.Identity, error) {
	i, _ := r.FindByEmailWithDigest(ctx, email)
	if i != nil {
		i.PasswordHash = ""
	}
	return i, nil
}

func (r *MemoryRepository) FindByEmailWithDigest(ctx context.Context, email string) (*domain.Identity, error) {
	email = domain.NormalizeEmail(email)
	return r.find(func(i *domain.Identity) bool { return i.Email == email }), nil
}

func (r *MemoryRepository) FindByUsername(ctx context.Context, username string) (*domain.Identity, error) {
	if username == "" {
		return nil, nil
	}
	return r.find(func(i *domain.Identity) bool { return strings.EqualFold(i.Username, username) }), nil
}

func (r *MemoryRepository) FindByResetToken(ctx context.Context, tokenHash string) (*domain.Identity, error) {
	if tokenHash == "" {
		return nil, nil
	}
	return r.find(func(i *domain.Identity) bool { return i.ResetTokenHash == tokenHash }), nil
}

func (r *MemoryRepository) FindByVerificationCode(ctx context.Context, email, codeHash string) (*domain.Identity, error) {
	if codeHash == "" {
		return nil, nil
	}
	email = domain.NormalizeEmail(email)
	return r.find(func(i *domain.Identity) bool {
		return i.Email == email && i.VerificationCodeHash == codeHash
	}), nil
}

func (r *MemoryRepository) EmailExists(ctx context.Context, email string) (bool, error) {
	i, _ := r.FindByEmailWithDigest(ctx, email)
	return i != nil, nil
}

func (r *MemoryRepository) UsernameExists(ctx context.Context, username string) (bool, error) {
	i, _ := r.FindByUsername(ctx, username)
	return i != nil, nil
}

func (r *MemoryRepository) Create(ctx context.Context, i *domain.Identity) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	email := domain.NormalizeEmail(i.Email)
	for _, existing := range r.byID {
		if existing.ID == i.ID || existing.Email == email ||
			(i.Username != "" && strings.EqualFold(existing.Username, i.Username)) {
			return ErrDuplicate
		}
	}
	c := *i
	c.Email = email
	c.AuthEntity = r.entity
	r.byID[c.ID] = &c
	return nil
}

func (r *MemoryRepository) Update(ctx context.Context, i *domain.Identity) error {
	return r.mutate(i.ID, func(cur *domain.Identity) {
		cur.Username = i.Username
		cur.FirstName = i.FirstName
		cur.LastName = i.LastName
		cur.Status = i.Status
		cur.Role = i.Role
		cur.Level = i.Level
		cur.EmailVerified = i.EmailVerified
		cur.ResetTokenHash = i.ResetTokenHash
		cur.ResetTokenExpiresAt = i.ResetTokenExpiresAt
		cur.VerificationCodeHash = i.VerificationCodeHash
		cur.VerificationExpires = i.VerificationExpires
		cur.UpdatedAt = i.UpdatedAt
	})
}

func (r *MemoryRepository) IncrementLoginAttempts(ctx context.Context, id string, maxAttempts int, lockFor time.Duration, now time.Time) (int, *time.Time, error) {
	var (
		attempts  int
		lockUntil *time.Time
	)
	err := r.mutate(id, func(cur *domain.Identity) {
		cur.LoginAttempts, cur.LockUntil = lockState(cur.LoginAttempts, cur.LockUntil, maxAttempts, lockFor, now)
		cur.UpdatedAt = now
		attempts, lockUntil = cur.LoginAttempts, copyTime(cur.LockUntil)
	})
	return attempts, lockUntil, err
}

func (r *MemoryRepository) RecordSuccessfulLogin(ctx context.Context, id, ip, userAgent string, at time.Time) error {
	return r.mutate(id, func(cur *domain.Identity) {
		cur.LoginAttempts = 0
		cur.LockUntil = nil
		cur.LastLoginAt = &at
		cur.LastLoginIP = ip
		cur.LastLoginUserAgent = userAgent
		cur.UpdatedAt = at
	})
}

func (r *MemoryRepository) UpdatePassword(ctx context.Context, id, passwordHash string, at time.Time) error {
	return r.mutate(id, func(cur *domain.Identity) {
		cur.PasswordHash = passwordHash
		cur.PasswordChangedAt = &at
		cur.ResetTokenHash = ""
		cur.ResetTokenExpiresAt = nil
		cur.LoginAttempts = 0
		cur.LockUntil = nil
		cur.UpdatedAt = at
	})
}

func (r *MemoryRepository) MarkEmailVerified(ctx context.Context, id string, at time.Time) error {
	return r.mutate(id, func(cur *domain.Identity) {
		cur.EmailVerified = true
		cur.VerificationCodeHash = ""
		cur.VerificationExpires = nil
		cur.UpdatedAt = at
	})
}

func (r *MemoryRepository) SetResetToken(ctx context.Context, id, tokenHash string, expiresAt time.Time) error {
	return r.mutate(id, func(cur *domain.Identity) {
		cur.ResetTokenHash = tokenHash
		cur.ResetTokenExpiresAt = &expiresAt
	})
}

func (r *MemoryRepository) SetVerificationCode(ctx context.Context, id, codeHash string, expiresAt time.Time) error {
	return r.mutate(id, func(cur *domain.Identity) {
		cur.VerificationCodeHash = codeHash
		cur.VerificationExpires = &expiresAt
	})
}

// mutate applies fn to the stored record for id. A missing id is a no-op, like an UPDATE matching no rows.
func (r *MemoryRepository) mutate(id string, fn func(*domain.Identity)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.byID[id]; ok {
		fn(cur)
	}
	return nil
}

func (r *MemoryRepository) find(match func(*domain.Identity) bool) *domain.Identity {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, i := range r.byID {
		if match(i) {
			c := *i
			return &c
		}
	}
	return nil
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
