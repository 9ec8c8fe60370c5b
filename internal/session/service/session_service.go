package service

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"multi-entity-auth/backend/internal/audit"
	"multi-entity-auth/backend/internal/metrics"
	"multi-entity-auth/backend/internal/security"
	"multi-entity-auth/backend/internal/session/domain"
	sessionrepo "multi-entity-auth/backend/internal/session/repository"
)

// Deactivation reasons reported to metrics.
const (
	ReasonSuperseded     = "superseded"
	ReasonLogout         = "logout"
	ReasonLogoutEntity   = "logout_entity"
	ReasonLogoutAll      = "logout_all"
	ReasonPasswordChange = "password_change"
	ReasonExpired        = "expired"
	ReasonRefreshReuse   = "refresh_reuse"
)

// TokenIssuer is the token primitive the session service needs. *security.TokenProvider implements it.
type TokenIssuer interface {
	IssuePair(ctx context.Context, sub security.Subject) (*security.TokenPair, error)
	Verify(token string) (*security.Claims, error)
}

// CreateParams identifies whom a session is created for.
type CreateParams struct {
	IdentityID string
	Email      string
	AuthEntity string
	Role       string
	Device     domain.DeviceInfo
	Metadata   map[string]string
}

// ClientInfo is the caller address recorded on validated sessions. Empty fields are ignored.
type ClientInfo struct {
	IP        string
	UserAgent string
}

// Issued is a session together with the token pair just issued for it. The raw tokens exist only here.
type Issued struct {
	Session *domain.Session
	Tokens  *security.TokenPair
}

// Validated is the outcome of a successful access token validation.
type Validated struct {
	Session *domain.Session
	Claims  *security.Claims
}

// SessionService runs the session lifecycle: single-session enforcement, validation, rotation and logout.
// It holds no locks; correctness under concurrent logins relies on every reader filtering on active sessions.
type SessionService struct {
	repo    sessionrepo.Repository
	tokens  TokenIssuer
	events  audit.Recorder
	metrics *metrics.Metrics
	log     *slog.Logger
	now     func() time.Time
}

// Option configures a SessionService.
type Option func(*SessionService)

// WithRecorder sets the security event recorder.
func WithRecorder(r audit.Recorder) Option { return func(s *SessionService) { s.events = r } }

// WithMetrics sets the Prometheus collectors.
func WithMetrics(m *metrics.Metrics) Option { return func(s *SessionService) { s.metrics = m } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(s *SessionService) { s.log = l } }

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option { return func(s *SessionService) { s.now = now } }

// NewSessionService returns a SessionService over repo issuing tokens with tokens.
func NewSessionService(repo sessionrepo.Repository, tokens TokenIssuer, opts ...Option) *SessionService {
	s := &SessionService{
		repo:   repo,
		tokens: tokens,
		events: audit.Nop{},
		log:    slog.Default(),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// CreateSession deactivates any active session of (email, entity) and then creates the new one.
// The session id is generated up front so the pair is issued once and embeds the persisted id.
func (s *SessionService) CreateSession(ctx context.Context, p CreateParams) (*Issued, error) {
	email := normalizeEmail(p.Email)
	now := s.now()

	n, err := s.repo.DeactivateAllForEmailInEntity(ctx, email, p.AuthEntity, now)
	if err != nil {
		return nil, err
	}
	s.metrics.SessionsDeactivated(p.AuthEntity, ReasonSuperseded, n)

	id := uuid.New().String()
	pair, err := s.tokens.IssuePair(ctx, security.Subject{
		IdentityID: p.IdentityID,
		SessionID:  id,
		Email:      email,
		AuthEntity: p.AuthEntity,
		Role:       p.Role,
	})
	if err != nil {
		return nil, err
	}
	sess := &domain.Session{
		ID:               id,
		IdentityID:       p.IdentityID,
		Email:            email,
		AuthEntity:       p.AuthEntity,
		Role:             p.Role,
		AccessTokenHash:  security.HashToken(pair.AccessToken),
		RefreshTokenHash: security.HashToken(pair.RefreshToken),
		AccessExpiresAt:  pair.AccessExpiresAt,
		RefreshExpiresAt: pair.RefreshExpiresAt,
		ExpiresAt:        pair.RefreshExpiresAt,
		State:            domain.StateActive,
		LastActivityAt:   now,
		Device:           p.Device,
		Metadata:         p.Metadata,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := s.repo.Create(ctx, sess); err != nil {
		return nil, err
	}
	s.metrics.SessionCreated(p.AuthEntity)
	s.events.Record(ctx, audit.Event{
		Action:     audit.ActionSessionCreated,
		AuthEntity: p.AuthEntity,
		IdentityID: p.IdentityID,
		SessionID:  id,
		Metadata:   map[string]string{"superseded": formatCount(n)},
	})
	return &Issued{Session: sess, Tokens: pair}, nil
}

// ValidateTokenAndSession authenticates an access token against its session. Every failure, including
// storage errors, yields ok=false. A session whose overall expiry has passed is deactivated on the way.
func (s *SessionService) ValidateTokenAndSession(ctx context.Context, token string, client ClientInfo) (*Validated, bool) {
	claims, err := s.tokens.Verify(token)
	if err != nil || claims.Type != security.TokenTypeAccess {
		return nil, false
	}
	sess, err := s.repo.GetByID(ctx, claims.SessionID)
	if err != nil {
		s.log.ErrorContext(ctx, "session lookup failed", "session_id", claims.SessionID, "error", err)
		return nil, false
	}
	if sess == nil || !sess.IsActive() {
		return nil, false
	}
	if sess.AuthEntity != claims.AuthEntity || sess.Email != claims.Email || sess.IdentityID != claims.IdentityID() {
		return nil, false
	}
	if !security.TokenHashEqual(token, sess.AccessTokenHash) {
		return nil, false
	}
	now := s.now()
	if !sess.ExpiresAt.After(now) {
		if n, err := s.repo.Deactivate(ctx, sess.ID, now); err != nil {
			s.log.ErrorContext(ctx, "deactivate expired session failed", "session_id", sess.ID, "error", err)
		} else {
			s.metrics.SessionsDeactivated(sess.AuthEntity, ReasonExpired, n)
		}
		return nil, false
	}
	if err := s.repo.UpdateActivity(ctx, sess.ID, client.IP, client.UserAgent, now); err != nil {
		s.log.WarnContext(ctx, "update session activity failed", "session_id", sess.ID, "error", err)
	} else {
		sess.Touch(now, client.IP, client.UserAgent)
	}
	return &Validated{Session: sess, Claims: claims}, true
}

// RefreshTokens rotates both tokens of the session owning refreshToken. The old refresh token stops
// matching once the rotation is stored. A correctly signed refresh token for an active session that no
// longer matches the stored digest is treated as reuse and ends that session. This is deliberate: a
// client that sends two refreshes concurrently is logged out and must sign in again, in exchange for
// a stolen refresh token being unusable once its owner has rotated. A session deactivated while the
// rotation is in flight yields (nil, false).
func (s *SessionService) RefreshTokens(ctx context.Context, refreshToken string) (*Issued, bool) {
	issued, ok := s.refresh(ctx, refreshToken)
	if ok {
		s.metrics.TokenRefresh(metrics.ResultSuccess)
	} else {
		s.metrics.TokenRefresh(metrics.ResultFailure)
	}
	return issued, ok
}

func (s *SessionService) refresh(ctx context.Context, refreshToken string) (*Issued, bool) {
	claims, err := s.tokens.Verify(refreshToken)
	if err != nil || claims.Type != security.TokenTypeRefresh {
		return nil, false
	}
	sess, err := s.repo.FindByRefreshToken(ctx, refreshToken)
	if err != nil {
		s.log.ErrorContext(ctx, "refresh lookup failed", "error", err)
		return nil, false
	}
	now := s.now()
	if sess == nil {
		s.handleReuse(ctx, claims, now)
		return nil, false
	}
	if !sess.IsActive() || sess.ID != claims.SessionID || sess.RefreshExpired(now) {
		return nil, false
	}

	pair, err := s.tokens.IssuePair(ctx, security.Subject{
		IdentityID: sess.IdentityID,
		SessionID:  sess.ID,
		Email:      sess.Email,
		AuthEntity: sess.AuthEntity,
		Role:       sess.Role,
	})
	if err != nil {
		s.log.ErrorContext(ctx, "issue refreshed pair failed", "session_id", sess.ID, "error", err)
		return nil, false
	}
	update := sessionrepo.TokenUpdate{
		AccessHash:       security.HashToken(pair.AccessToken),
		AccessExpiresAt:  pair.AccessExpiresAt,
		RefreshHash:      security.HashToken(pair.RefreshToken),
		RefreshExpiresAt: pair.RefreshExpiresAt,
	}
	n, err := s.repo.UpdateTokens(ctx, sess.ID, update, now)
	if err != nil {
		s.log.ErrorContext(ctx, "store refreshed pair failed", "session_id", sess.ID, "error", err)
		return nil, false
	}
	if n == 0 {
		// Deactivated between the lookup and the rotation.
		return nil, false
	}
	_ = sess.Rotate(update.AccessHash, update.RefreshHash, update.AccessExpiresAt, update.RefreshExpiresAt, now)
	s.events.Record(ctx, audit.Event{
		Action:     audit.ActionSessionRefreshed,
		AuthEntity: sess.AuthEntity,
		IdentityID: sess.IdentityID,
		SessionID:  sess.ID,
	})
	return &Issued{Session: sess, Tokens: pair}, true
}

func (s *SessionService) handleReuse(ctx context.Context, claims *security.Claims, now time.Time) {
	sess, err := s.repo.FindActiveByID(ctx, claims.SessionID)
	if err != nil || sess == nil || sess.IdentityID != claims.IdentityID() || sess.AuthEntity != claims.AuthEntity {
		return
	}
	n, err := s.repo.Deactivate(ctx, sess.ID, now)
	if err != nil {
		s.log.ErrorContext(ctx, "deactivate reused session failed", "session_id", sess.ID, "error", err)
		return
	}
	s.metrics.SessionsDeactivated(sess.AuthEntity, ReasonRefreshReuse, n)
	s.log.WarnContext(ctx, "refresh token reuse detected", "session_id", sess.ID, "entity", sess.AuthEntity)
	s.events.Record(ctx, audit.Event{
		Action:     audit.ActionLogout,
		AuthEntity: sess.AuthEntity,
		IdentityID: sess.IdentityID,
		SessionID:  sess.ID,
		Metadata:   map[string]string{"reason": ReasonRefreshReuse},
	})
}

// Logout deactivates one session. Unknown or already inactive sessions are not an error.
func (s *SessionService) Logout(ctx context.Context, sessionID string) error {
	sess, err := s.repo.GetByID(ctx, sessionID)
	if err != nil {
		return err
	}
	if sess == nil {
		return nil
	}
	n, err := s.repo.Deactivate(ctx, sessionID, s.now())
	if err != nil {
		return err
	}
	s.metrics.SessionsDeactivated(sess.AuthEntity, ReasonLogout, n)
	if n > 0 {
		s.events.Record(ctx, audit.Event{
			Action:     audit.ActionLogout,
			AuthEntity: sess.AuthEntity,
			IdentityID: sess.IdentityID,
			SessionID:  sess.ID,
		})
	}
	return nil
}

// LogoutEntity deactivates every active session of email in entity.
func (s *SessionService) LogoutEntity(ctx context.Context, email, entity string) (int64, error) {
	n, err := s.repo.DeactivateAllForEmailInEntity(ctx, normalizeEmail(email), entity, s.now())
	if err != nil {
		return 0, err
	}
	s.metrics.SessionsDeactivated(entity, ReasonLogoutEntity, n)
	return n, nil
}

// LogoutAllEntities deactivates every active session of email in every entity.
func (s *SessionService) LogoutAllEntities(ctx context.Context, email string) (int64, error) {
	n, err := s.repo.DeactivateAllForEmail(ctx, normalizeEmail(email), s.now())
	if err != nil {
		return 0, err
	}
	s.metrics.SessionsDeactivated("*", ReasonLogoutAll, n)
	return n, nil
}

// LogoutOthersInEntity deactivates the active sessions of email in entity except keepSessionID.
// An empty keepSessionID deactivates all of them.
func (s *SessionService) LogoutOthersInEntity(ctx context.Context, email, entity, keepSessionID string) (int64, error) {
	if keepSessionID == "" {
		n, err := s.repo.DeactivateAllForEmailInEntity(ctx, normalizeEmail(email), entity, s.now())
		if err == nil {
			s.metrics.SessionsDeactivated(entity, ReasonPasswordChange, n)
		}
		return n, err
	}
	n, err := s.repo.DeactivateOthersForEmailInEntity(ctx, normalizeEmail(email), entity, keepSessionID, s.now())
	if err != nil {
		return 0, err
	}
	s.metrics.SessionsDeactivated(entity, ReasonPasswordChange, n)
	return n, nil
}

// ActiveSessionsForUser lists the active sessions of an identity in entity, most recently used first.
func (s *SessionService) ActiveSessionsForUser(ctx context.Context, identityID, entity string) ([]*domain.Session, error) {
	return s.repo.ListActiveByIdentity(ctx, identityID, entity)
}

// Stats summarises active sessions for entity ("" for all entities).
func (s *SessionService) Stats(ctx context.Context, entity string) (*domain.Stats, error) {
	return s.repo.Stats(ctx, entity)
}

// PurgeExpired deletes sessions past their overall expiry.
func (s *SessionService) PurgeExpired(ctx context.Context) (int64, error) {
	n, err := s.repo.PurgeExpired(ctx, s.now())
	if err != nil {
		return 0, err
	}
	s.metrics.SessionsPurged("expired", n)
	s.events.Record(ctx, audit.Event{
		Action:   audit.ActionSessionsPurged,
		Metadata: map[string]string{"kind": "expired", "count": formatCount(n)},
	})
	return n, nil
}

// PurgeInactive deletes inactive sessions untouched for more than daysOld days.
func (s *SessionService) PurgeInactive(ctx context.Context, daysOld int) (int64, error) {
	n, err := s.repo.PurgeInactiveOlderThan(ctx, daysOld, s.now())
	if err != nil {
		return 0, err
	}
	s.metrics.SessionsPurged("inactive", n)
	s.events.Record(ctx, audit.Event{
		Action:   audit.ActionSessionsPurged,
		Metadata: map[string]string{"kind": "inactive", "count": formatCount(n)},
	})
	return n, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func formatCount(n int64) string { return strconv.FormatInt(n, 10) }
