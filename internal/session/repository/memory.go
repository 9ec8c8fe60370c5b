package repository

import (
	"context"
	"maps"
	"sort"
	"sync"
	"time"

	"multi-entity-auth/backend/internal/security"
	"multi-entity-auth/backend/internal/session/domain"
)

// MemoryRepository is an in-memory session store for dev mode and tests.
type MemoryRepository struct {
	mu   sync.RWMutex
	byID map[string]*domain.Session
}

// NewMemoryRepository returns an empty in-memory session store.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{byID: make(map[string]*domain.Session)}
}

func (r *MemoryRepository) Create(ctx context.Context, s *domain.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[s.ID] = clone(s)
	return nil
}

func (r *MemoryRepository) GetByID(ctx context.Context, id string) (*domain.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if s, ok := r.byID[id]; ok {
		return clone(s), nil
	}
	return nil, nil
}

func (r *MemoryRepository) FindActiveByID(ctx context.Context, id string) (*domain.Session, error) {
	s, _ := r.GetByID(ctx, id)
	if s == nil || !s.IsActive() {
		return nil, nil
	}
	return s, nil
}

func (r *MemoryRepository) FindActiveByEmailAndEntity(ctx context.Context, email, entity string) (*domain.Session, error) {
	list := r.filter(func(s *domain.Session) bool {
		return s.IsActive() && s.Email == email && s.AuthEntity == entity
	})
	if len(list) == 0 {
		return nil, nil
	}
	sort.Slice(list, func(i, j int) bool { return list[i].CreatedAt.After(list[j].CreatedAt) })
	return list[0], nil
}

func (r *MemoryRepository) FindByRefreshToken(ctx context.Context, refreshToken string) (*domain.Session, error) {
	if refreshToken == "" {
		return nil, nil
	}
	digest := security.HashToken(refreshToken)
	list := r.filter(func(s *domain.Session) bool { return s.RefreshTokenHash == digest })
	if len(list) == 0 {
		return nil, nil
	}
	return list[0], nil
}

func (r *MemoryRepository) ListActiveByIdentity(ctx context.Context, identityID, entity string) ([]*domain.Session, error) {
	list := r.filter(func(s *domain.Session) bool {
		return s.IsActive() && s.IdentityID == identityID && s.AuthEntity == entity
	})
	sort.Slice(list, func(i, j int) bool { return list[i].LastActivityAt.After(list[j].LastActivityAt) })
	return list, nil
}

func (r *MemoryRepository) DeactivateAllForEmailInEntity(ctx context.Context, email, entity string, now time.Time) (int64, error) {
	return r.deactivateWhere(now, func(s *domain.Session) bool { return s.Email == email && s.AuthEntity == entity }), nil
}

func (r *MemoryRepository) DeactivateOthersForEmailInEntity(ctx context.Context, email, entity, keepID string, now time.Time) (int64, error) {
	return r.deactivateWhere(now, func(s *domain.Session) bool {
		return s.Email == email && s.AuthEntity == entity && s.ID != keepID
	}), nil
}

func (r *MemoryRepository) DeactivateAllForEmail(ctx context.Context, email string, now time.Time) (int64, error) {
	return r.deactivateWhere(now, func(s *domain.Session) bool { return s.Email == email }), nil
}

func (r *MemoryRepository) Deactivate(ctx context.Context, id string, now time.Time) (int64, error) {
	return r.deactivateWhere(now, func(s *domain.Session) bool { return s.ID == id }), nil
}

func (r *MemoryRepository) UpdateTokens(ctx context.Context, id string, u TokenUpdate, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.byID[id]
	if !ok {
		return 0, nil
	}
	refreshHash, refreshExp := s.RefreshTokenHash, s.RefreshExpiresAt
	if u.RefreshHash != "" {
		refreshHash = u.RefreshHash
	}
	if !u.RefreshExpiresAt.IsZero() {
		refreshExp = u.RefreshExpiresAt
	}
	// Rotate refuses inactive sessions, matching the active predicate of the SQL update.
	if err := s.Rotate(u.AccessHash, refreshHash, u.AccessExpiresAt, refreshExp, now); err != nil {
		return 0, nil
	}
	return 1, nil
}

func (r *MemoryRepository) UpdateActivity(ctx context.Context, id, ip, userAgent string, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.byID[id]; ok {
		s.Touch(now, ip, userAgent)
	}
	return nil
}

func (r *MemoryRepository) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	return r.deleteWhere(func(s *domain.Session) bool { return s.ExpiresAt.Before(now) }), nil
}

func (r *MemoryRepository) PurgeInactiveOlderThan(ctx context.Context, days int, now time.Time) (int64, error) {
	cutoff := inactiveCutoff(days, now)
	return r.deleteWhere(func(s *domain.Session) bool { return !s.IsActive() && s.UpdatedAt.Before(cutoff) }), nil
}

func (r *MemoryRepository) CountActiveByEntity(ctx context.Context, entity string) (int64, error) {
	return int64(len(r.filter(func(s *domain.Session) bool { return s.IsActive() && s.AuthEntity == entity }))), nil
}

func (r *MemoryRepository) Stats(ctx context.Context, entity string) (*domain.Stats, error) {
	st := &domain.Stats{ByEntity: map[string]int64{}}
	users := map[[2]string]struct{}{}
	for _, s := range r.filter(func(s *domain.Session) bool {
		return s.IsActive() && (entity == "" || s.AuthEntity == entity)
	}) {
		st.TotalActive++
		st.ByEntity[s.AuthEntity]++
		users[[2]string{s.AuthEntity, s.Email}] = struct{}{}
	}
	st.UniqueUsers = int64(len(users))
	return st, nil
}

func (r *MemoryRepository) filter(match func(*domain.Session) bool) []*domain.Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*domain.Session
	for _, s := range r.byID {
		if match(s) {
			out = append(out, clone(s))
		}
	}
	return out
}

func (r *MemoryRepository) deactivateWhere(now time.Time, match func(*domain.Session) bool) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, s := range r.byID {
		if match(s) && s.Deactivate(now) {
			n++
		}
	}
	return n
}

func (r *MemoryRepository) deleteWhere(match func(*domain.Session) bool) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for id, s := range r.byID {
		if match(s) {
			delete(r.byID, id)
			n++
		}
	}
	return n
}

func clone(s *domain.Session) *domain.Session {
	c := *s
	if s.DeactivatedAt != nil {
		t := *s.DeactivatedAt
		c.DeactivatedAt = &t
	}
	c.Metadata = maps.Clone(s.Metadata)
	return &c
}
