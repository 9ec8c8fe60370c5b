// Package handler serves the auth.v1.AuthService gRPC API over the identity and session services.
package handler

import (
	"context"
	"log/slog"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"multi-entity-auth/backend/internal/devoutbox"
	identitydomain "multi-entity-auth/backend/internal/identity/domain"
	identityservice "multi-entity-auth/backend/internal/identity/service"
	"multi-entity-auth/backend/internal/platform/rbac"
	"multi-entity-auth/backend/internal/server/interceptors"
	"multi-entity-auth/backend/internal/session/domain"
	"multi-entity-auth/backend/internal/session/purge"
	sessionservice "multi-entity-auth/backend/internal/session/service"
)

// Sessions is the part of the session service the RPCs use.
type Sessions interface {
	ValidateTokenAndSession(ctx context.Context, token string, client sessionservice.ClientInfo) (*sessionservice.Validated, bool)
	RefreshTokens(ctx context.Context, refreshToken string) (*sessionservice.Issued, bool)
	Logout(ctx context.Context, sessionID string) error
	LogoutEntity(ctx context.Context, email, entity string) (int64, error)
	LogoutAllEntities(ctx context.Context, email string) (int64, error)
	ActiveSessionsForUser(ctx context.Context, identityID, entity string) ([]*domain.Session, error)
	Stats(ctx context.Context, entity string) (*domain.Stats, error)
	PurgeExpired(ctx context.Context) (int64, error)
	PurgeInactive(ctx context.Context, daysOld int) (int64, error)
}

// Server implements Service for one auth entity.
type Server struct {
	auth     *identityservice.AuthService
	sessions Sessions
	outbox   *devoutbox.MemoryStore
	log      *slog.Logger
}

var _ Service = (*Server)(nil)

// NewServer returns the AuthService server. If auth or sessions is nil, every RPC returns Unimplemented.
// outbox enables GetDevOutbox and must be nil in production.
func NewServer(auth *identityservice.AuthService, sessions Sessions, outbox *devoutbox.MemoryStore, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{auth: auth, sessions: sessions, outbox: outbox, log: log}
}

func (s *Server) ready(method string) error {
	if s.auth == nil || s.sessions == nil {
		return status.Errorf(codes.Unimplemented, "method %s not implemented", method)
	}
	return nil
}

func (s *Server) device(ctx context.Context, d *Device) domain.DeviceInfo {
	info := domain.DeviceInfo{IP: interceptors.ClientIP(ctx), UserAgent: interceptors.UserAgent(ctx)}
	if d != nil {
		info.Name, info.Type = d.Name, d.Type
	}
	return info
}

// Register creates an identity. A session is opened only when the request names a device.
func (s *Server) Register(ctx context.Context, req *RegisterRequest) (*RegisterResponse, error) {
	if err := s.ready("Register"); err != nil {
		return nil, err
	}
	if err := required("email", req.Email); err != nil {
		return nil, err
	}
	if err := required("password", req.Password); err != nil {
		return nil, err
	}
	in := identityservice.RegisterInput{
		Email:     req.Email,
		Password:  req.Password,
		Username:  req.Username,
		FirstName: req.FirstName,
		LastName:  req.LastName,
	}
	if req.Device != nil {
		d := s.device(ctx, req.Device)
		in.Device = &d
	}
	res, err := s.auth.Register(ctx, in)
	if err != nil {
		return nil, toStatus(err)
	}
	return &RegisterResponse{
		Identity:      res.Identity,
		Session:       res.Session,
		Tokens:        tokensFrom(res.Tokens),
		PasswordScore: res.PasswordScore,
	}, nil
}

// Login authenticates with email and password and opens the single active session for this entity.
func (s *Server) Login(ctx context.Context, req *LoginRequest) (*LoginResponse, error) {
	if err := s.ready("Login"); err != nil {
		return nil, err
	}
	if err := required("email", req.Email); err != nil {
		return nil, err
	}
	res, err := s.auth.Login(ctx, identityservice.LoginInput{
		Email:    req.Email,
		Password: req.Password,
		Device:   s.device(ctx, req.Device),
		Metadata: req.Metadata,
	})
	if err != nil {
		return nil, toStatus(err)
	}
	return &LoginResponse{Identity: res.Identity, Session: res.Session, Tokens: tokensFrom(res.Tokens)}, nil
}

// Logout ends the calling session.
func (s *Server) Logout(ctx context.Context, _ *Empty) (*Empty, error) {
	if err := s.ready("Logout"); err != nil {
		return nil, err
	}
	p, err := rbac.RequireAuthenticated(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.sessions.Logout(ctx, p.SessionID); err != nil {
		return nil, toStatus(err)
	}
	return &Empty{}, nil
}

// LogoutEntity ends every session of the caller in the caller's entity.
func (s *Server) LogoutEntity(ctx context.Context, _ *Empty) (*CountResponse, error) {
	if err := s.ready("LogoutEntity"); err != nil {
		return nil, err
	}
	p, err := rbac.RequireAuthenticated(ctx)
	if err != nil {
		return nil, err
	}
	n, err := s.sessions.LogoutEntity(ctx, p.Email, p.AuthEntity)
	if err != nil {
		return nil, toStatus(err)
	}
	return &CountResponse{Count: n}, nil
}

// LogoutAllEntities ends every session of the caller's email in every entity.
func (s *Server) LogoutAllEntities(ctx context.Context, _ *Empty) (*CountResponse, error) {
	if err := s.ready("LogoutAllEntities"); err != nil {
		return nil, err
	}
	p, err := rbac.RequireAuthenticated(ctx)
	if err != nil {
		return nil, err
	}
	n, err := s.sessions.LogoutAllEntities(ctx, p.Email)
	if err != nil {
		return nil, toStatus(err)
	}
	return &CountResponse{Count: n}, nil
}

// Refresh rotates the token pair. Every rejection is the same Unauthenticated error.
func (s *Server) Refresh(ctx context.Context, req *RefreshRequest) (*RefreshResponse, error) {
	if err := s.ready("Refresh"); err != nil {
		return nil, err
	}
	issued, ok := s.sessions.RefreshTokens(ctx, req.RefreshToken)
	if !ok {
		return nil, status.Error(codes.Unauthenticated, "invalid refresh token")
	}
	return &RefreshResponse{Session: issued.Session.View(), Tokens: tokensFrom(issued.Tokens)}, nil
}

// ValidateToken checks an access token against its session in this entity.
func (s *Server) ValidateToken(ctx context.Context, req *ValidateTokenRequest) (*ValidateTokenResponse, error) {
	if err := s.ready("ValidateToken"); err != nil {
		return nil, err
	}
	v, ok := s.sessions.ValidateTokenAndSession(ctx, req.Token, sessionservice.ClientInfo{
		IP:        interceptors.ClientIP(ctx),
		UserAgent: interceptors.UserAgent(ctx),
	})
	if !ok || v.Session.AuthEntity != s.auth.Entity() {
		return &ValidateTokenResponse{}, nil
	}
	return &ValidateTokenResponse{
		Valid:      true,
		IdentityID: v.Claims.IdentityID(),
		Email:      v.Claims.Email,
		AuthEntity: v.Claims.AuthEntity,
		Role:       v.Claims.Role,
		Session:    v.Session.View(),
	}, nil
}

// RequestPasswordReset answers the same whether or not the email is registered.
func (s *Server) RequestPasswordReset(ctx context.Context, req *EmailRequest) (*Empty, error) {
	if err := s.ready("RequestPasswordReset"); err != nil {
		return nil, err
	}
	if err := required("email", req.Email); err != nil {
		return nil, err
	}
	if err := s.auth.RequestPasswordReset(ctx, req.Email); err != nil {
		return nil, toStatus(err)
	}
	return &Empty{}, nil
}

func (s *Server) ResetPassword(ctx context.Context, req *ResetPasswordRequest) (*Empty, error) {
	if err := s.ready("ResetPassword"); err != nil {
		return nil, err
	}
	if err := required("token", req.Token); err != nil {
		return nil, err
	}
	if err := s.auth.ResetPassword(ctx, req.Token, req.NewPassword); err != nil {
		return nil, toStatus(err)
	}
	return &Empty{}, nil
}

// ChangePassword verifies the current password, sets the new one and ends the caller's other sessions
// in this entity. The calling session stays active.
func (s *Server) ChangePassword(ctx context.Context, req *ChangePasswordRequest) (*CountResponse, error) {
	if err := s.ready("ChangePassword"); err != nil {
		return nil, err
	}
	p, err := rbac.RequireAuthenticated(ctx)
	if err != nil {
		return nil, err
	}
	n, err := s.auth.ChangePassword(ctx, identityservice.ChangePasswordInput{
		IdentityID:      p.IdentityID,
		SessionID:       p.SessionID,
		CurrentPassword: req.CurrentPassword,
		NewPassword:     req.NewPassword,
	})
	if err != nil {
		return nil, toStatus(err)
	}
	return &CountResponse{Count: n}, nil
}

// RequestEmailVerification answers the same whether or not the email is registered.
func (s *Server) RequestEmailVerification(ctx context.Context, req *EmailRequest) (*Empty, error) {
	if err := s.ready("RequestEmailVerification"); err != nil {
		return nil, err
	}
	if err := required("email", req.Email); err != nil {
		return nil, err
	}
	if err := s.auth.RequestEmailVerification(ctx, req.Email); err != nil {
		return nil, toStatus(err)
	}
	return &Empty{}, nil
}

func (s *Server) VerifyEmail(ctx context.Context, req *VerifyEmailRequest) (*Empty, error) {
	if err := s.ready("VerifyEmail"); err != nil {
		return nil, err
	}
	if err := required("email", req.Email); err != nil {
		return nil, err
	}
	if err := s.auth.VerifyEmail(ctx, req.Email, req.Code); err != nil {
		return nil, toStatus(err)
	}
	return &Empty{}, nil
}

// Me returns the caller's identity.
func (s *Server) Me(ctx context.Context, _ *Empty) (*IdentityResponse, error) {
	if err := s.ready("Me"); err != nil {
		return nil, err
	}
	p, err := rbac.RequireAuthenticated(ctx)
	if err != nil {
		return nil, err
	}
	ident, err := s.auth.Identity(ctx, p.IdentityID)
	if err != nil {
		return nil, toStatus(err)
	}
	return &IdentityResponse{Identity: ident}, nil
}

// GetActiveSessions lists the caller's active sessions in the caller's entity, most recent first.
func (s *Server) GetActiveSessions(ctx context.Context, _ *Empty) (*SessionsResponse, error) {
	if err := s.ready("GetActiveSessions"); err != nil {
		return nil, err
	}
	p, err := rbac.RequireAuthenticated(ctx)
	if err != nil {
		return nil, err
	}
	list, err := s.sessions.ActiveSessionsForUser(ctx, p.IdentityID, p.AuthEntity)
	if err != nil {
		return nil, toStatus(err)
	}
	out := make([]*domain.SafeView, len(list))
	for i := range list {
		out[i] = list[i].View()
	}
	return &SessionsResponse{Sessions: out}, nil
}

func (s *Server) GetSessionStats(ctx context.Context, req *SessionStatsRequest) (*SessionStatsResponse, error) {
	if err := s.ready("GetSessionStats"); err != nil {
		return nil, err
	}
	if _, err := rbac.RequireAdmin(ctx); err != nil {
		return nil, err
	}
	st, err := s.sessions.Stats(ctx, req.Entity)
	if err != nil {
		return nil, toStatus(err)
	}
	return &SessionStatsResponse{Stats: st}, nil
}

func (s *Server) PurgeExpiredSessions(ctx context.Context, _ *Empty) (*CountResponse, error) {
	if err := s.ready("PurgeExpiredSessions"); err != nil {
		return nil, err
	}
	if _, err := rbac.RequireAdmin(ctx); err != nil {
		return nil, err
	}
	n, err := s.sessions.PurgeExpired(ctx)
	if err != nil {
		return nil, toStatus(err)
	}
	return &CountResponse{Count: n}, nil
}

// PurgeInactiveSessions deletes inactive sessions older than DaysOld days (default 30).
func (s *Server) PurgeInactiveSessions(ctx context.Context, req *PurgeInactiveRequest) (*CountResponse, error) {
	if err := s.ready("PurgeInactiveSessions"); err != nil {
		return nil, err
	}
	if _, err := rbac.RequireAdmin(ctx); err != nil {
		return nil, err
	}
	days := req.DaysOld
	if days < 0 {
		return nil, status.Error(codes.InvalidArgument, "daysOld must not be negative")
	}
	if days == 0 {
		days = purge.DefaultRetentionDays
	}
	n, err := s.sessions.PurgeInactive(ctx, days)
	if err != nil {
		return nil, toStatus(err)
	}
	return &CountResponse{Count: n}, nil
}

// GetDevOutbox returns the latest reset token or verification code sent to an email. Dev only.
func (s *Server) GetDevOutbox(ctx context.Context, req *DevOutboxRequest) (*DevOutboxResponse, error) {
	if s.outbox == nil || s.auth == nil {
		return nil, status.Error(codes.Unimplemented, "method GetDevOutbox not implemented")
	}
	if err := required("email", req.Email); err != nil {
		return nil, err
	}
	kind := devoutbox.Kind(req.Kind)
	if kind != devoutbox.KindPasswordReset && kind != devoutbox.KindEmailVerification {
		return nil, status.Error(codes.InvalidArgument, "kind must be password_reset or email_verification")
	}
	msg, ok := s.outbox.Get(ctx, s.auth.Entity(), identitydomain.NormalizeEmail(req.Email), kind)
	if !ok {
		return nil, status.Error(codes.NotFound, "no message for this email")
	}
	return &DevOutboxResponse{Secret: msg.Secret, ExpiresAt: msg.ExpiresAt}, nil
}
