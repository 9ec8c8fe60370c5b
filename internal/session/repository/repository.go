package repository

import (
	"context"
	"time"

	"multi-entity-auth/backend/internal/session/domain"
)

// TokenUpdate carries new token digests for UpdateTokens. Empty/zero optional fields are left unchanged.
type TokenUpdate struct {
	AccessHash       string
	AccessExpiresAt  time.Time
	RefreshHash      string    // optional
	RefreshExpiresAt time.Time // optional; also moves ExpiresAt
}

// Repository is the session store shared by every auth entity. It holds no business rules:
// lookups return (nil, nil) when nothing matches and storage errors are returned unmodified.
// Bulk deactivations return the number of sessions they moved to inactive.
type Repository interface {
	Create(ctx context.Context, s *domain.Session) error
	// GetByID returns the session in any state.
	GetByID(ctx context.Context, id string) (*domain.Session, error)
	FindActiveByID(ctx context.Context, id string) (*domain.Session, error)
	FindActiveByEmailAndEntity(ctx context.Context, email, entity string) (*domain.Session, error)
	// FindByRefreshToken looks a session up by the raw refresh token, in any state.
	FindByRefreshToken(ctx context.Context, refreshToken string) (*domain.Session, error)
	ListActiveByIdentity(ctx context.Context, identityID, entity string) ([]*domain.Session, error)
	DeactivateAllForEmailInEntity(ctx context.Context, email, entity string, now time.Time) (int64, error)
	// DeactivateOthersForEmailInEntity deactivates every active session of the pair except keepID.
	DeactivateOthersForEmailInEntity(ctx context.Context, email, entity, keepID string, now time.Time) (int64, error)
	DeactivateAllForEmail(ctx context.Context, email string, now time.Time) (int64, error)
	Deactivate(ctx context.Context, id string, now time.Time) (int64, error)
	// UpdateTokens rotates the digests of an active session and returns the rows updated: 0 when the
	// session is missing or inactive.
	UpdateTokens(ctx context.Context, id string, u TokenUpdate, now time.Time) (int64, error)
	UpdateActivity(ctx context.Context, id, ip, userAgent string, now time.Time) error
	// PurgeExpired deletes sessions whose overall expiry is before now.
	PurgeExpired(ctx context.Context, now time.Time) (int64, error)
	// PurgeInactiveOlderThan deletes inactive sessions last updated more than days ago.
	PurgeInactiveOlderThan(ctx context.Context, days int, now time.Time) (int64, error)
	CountActiveByEntity(ctx context.Context, entity string) (int64, error)
	// Stats summarises active sessions for entity, or for all entities when entity is empty.
	Stats(ctx context.Context, entity string) (*domain.Stats, error)
}

func inactiveCutoff(days int, now time.Time) time.Time {
	if days < 0 {
		days = 0
	}
	return now.AddDate(0, 0, -days)
}
