package service

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"multi-entity-auth/backend/internal/audit"
	"multi-entity-auth/backend/internal/autherr"
	"multi-entity-auth/backend/internal/db"
	"multi-entity-auth/backend/internal/entity"
	"multi-entity-auth/backend/internal/identity/domain"
	identityrepo "multi-entity-auth/backend/internal/identity/repository"
	"multi-entity-auth/backend/internal/metrics"
	"multi-entity-auth/backend/internal/notify"
	policyengine "multi-entity-auth/backend/internal/policy/engine"
	"multi-entity-auth/backend/internal/security"
	sessiondomain "multi-entity-auth/backend/internal/session/domain"
	sessionservice "multi-entity-auth/backend/internal/session/service"
)

// Defaults for Config fields left at zero.
const (
	DefaultMaxLoginAttempts    = 5
	DefaultLockDuration        = 15 * time.Minute
	DefaultResetTokenTTL       = time.Hour
	DefaultVerificationCodeTTL = 24 * time.Hour
)

// Sessions is the part of the session service the auth flows need.
type Sessions interface {
	CreateSession(ctx context.Context, p sessionservice.CreateParams) (*sessionservice.Issued, error)
	LogoutOthersInEntity(ctx context.Context, email, entity, keepSessionID string) (int64, error)
	LogoutAllEntities(ctx context.Context, email string) (int64, error)
}

// Config holds the lockout and secret lifetimes.
type Config struct {
	MaxLoginAttempts    int
	LockDuration        time.Duration
	ResetTokenTTL       time.Duration
	VerificationCodeTTL time.Duration
	// BcryptCost is the target cost for rehash-on-login; 0 uses the hasher's cost.
	BcryptCost int
}

func (c Config) withDefaults() Config {
	if c.MaxLoginAttempts <= 0 {
		c.MaxLoginAttempts = DefaultMaxLoginAttempts
	}
	if c.LockDuration <= 0 {
		c.LockDuration = DefaultLockDuration
	}
	if c.ResetTokenTTL <= 0 {
		c.ResetTokenTTL = DefaultResetTokenTTL
	}
	if c.VerificationCodeTTL <= 0 {
		c.VerificationCodeTTL = DefaultVerificationCodeTTL
	}
	return c
}

// RegisterInput is the data for Register. Device is optional; when set a session is created.
type RegisterInput struct {
	Email     string
	Password  string
	Username  string
	FirstName string
	LastName  string
	Device    *sessiondomain.DeviceInfo
}

// RegisterResult is the outcome of Register. Session and Tokens are nil unless a device was supplied.
type RegisterResult struct {
	Identity      *domain.SafeView
	Session       *sessiondomain.SafeView
	Tokens        *security.TokenPair
	PasswordScore int
}

// LoginInput is the data for Login.
type LoginInput struct {
	Email    string
	Password string
	Device   sessiondomain.DeviceInfo
	Metadata map[string]string
}

// LoginResult is the outcome of a successful Login.
type LoginResult struct {
	Identity *domain.SafeView
	Session  *sessiondomain.SafeView
	Tokens   *security.TokenPair
}

// ChangePasswordInput is the data for ChangePassword. SessionID is the requesting session, kept active.
type ChangePasswordInput struct {
	IdentityID      string
	SessionID       string
	CurrentPassword string
	NewPassword     string
}

// AuthService implements the credential flows of one auth entity.
type AuthService struct {
	def        entity.Definition
	identities identityrepo.Repository
	sessions   Sessions
	hasher     *security.Hasher
	cfg        Config

	policy   policyengine.Evaluator
	notifier notify.Notifier
	events   audit.Recorder
	metrics  *metrics.Metrics
	log      *slog.Logger
	now      func() time.Time
}

// Option configures an AuthService.
type Option func(*AuthService)

// WithPolicy sets the login admission policy. Without one only active identities may log in.
func WithPolicy(p policyengine.Evaluator) Option { return func(s *AuthService) { s.policy = p } }

// WithNotifier sets where reset tokens and verification codes are delivered.
func WithNotifier(n notify.Notifier) Option { return func(s *AuthService) { s.notifier = n } }

// WithRecorder sets the security event recorder.
func WithRecorder(r audit.Recorder) Option { return func(s *AuthService) { s.events = r } }

// WithMetrics sets the Prometheus collectors.
func WithMetrics(m *metrics.Metrics) Option { return func(s *AuthService) { s.metrics = m } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(s *AuthService) { s.log = l } }

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option { return func(s *AuthService) { s.now = now } }

// NewAuthService returns an AuthService for the resolved entity.
func NewAuthService(resolved *entity.Resolved, sessions Sessions, hasher *security.Hasher, cfg Config, opts ...Option) *AuthService {
	s := &AuthService{
		def:        resolved.Definition,
		identities: resolved.Repository,
		sessions:   sessions,
		hasher:     hasher,
		cfg:        cfg.withDefaults(),
		events:     audit.Nop{},
		log:        slog.Default(),
		now:        func() time.Time { return time.Now().UTC() },
	}
	for _, o := range opts {
		o(s)
	}
	if s.notifier == nil {
		s.notifier = notify.NewLogNotifier(s.log)
	}
	return s
}

// Entity returns the name of the auth entity this service serves.
func (s *AuthService) Entity() string { return s.def.Name }

// Register creates an identity with the entity defaults. The identity starts active with an unverified email.
func (s *AuthService) Register(ctx context.Context, in RegisterInput) (*RegisterResult, error) {
	email := domain.NormalizeEmail(in.Email)
	if err := validateEmail(email); err != nil {
		return nil, err
	}
	strength, err := security.CheckPassword(in.Password)
	if err != nil {
		return nil, err
	}
	exists, err := s.identities.EmailExists(ctx, email)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, autherr.ErrEmailAlreadyRegistered
	}
	username := strings.TrimSpace(in.Username)
	if username != "" {
		taken, err := s.identities.UsernameExists(ctx, username)
		if err != nil {
			return nil, err
		}
		if taken {
			return nil, autherr.ErrUsernameTaken
		}
	}
	digest, err := s.hasher.Hash([]byte(in.Password))
	if err != nil {
		return nil, err
	}
	now := s.now()
	ident := &domain.Identity{
		ID:           uuid.New().String(),
		AuthEntity:   s.def.Name,
		Email:        email,
		Username:     username,
		FirstName:    strings.TrimSpace(in.FirstName),
		LastName:     strings.TrimSpace(in.LastName),
		PasswordHash: digest,
		Status:       domain.StatusActive,
		Role:         s.def.Defaults.Role,
		Level:        s.def.Defaults.Level,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.identities.Create(ctx, ident); err != nil {
		if db.IsUniqueViolation(err) || errors.Is(err, identityrepo.ErrDuplicate) {
			return nil, autherr.ErrEmailAlreadyRegistered
		}
		return nil, err
	}
	s.events.Record(ctx, audit.Event{Action: audit.ActionRegister, AuthEntity: s.def.Name, IdentityID: ident.ID})

	res := &RegisterResult{Identity: ident.Sanitize(), PasswordScore: strength.Score}
	if in.Device == nil {
		return res, nil
	}
	issued, err := s.sessions.CreateSession(ctx, sessionservice.CreateParams{
		IdentityID: ident.ID,
		Email:      ident.Email,
		AuthEntity: s.def.Name,
		Role:       ident.Role,
		Device:     *in.Device,
	})
	if err != nil {
		return nil, err
	}
	res.Session, res.Tokens = issued.Session.View(), issued.Tokens
	return res, nil
}

// Login authenticates email/password and creates a new session, superseding any active one in this entity.
func (s *AuthService) Login(ctx context.Context, in LoginInput) (*LoginResult, error) {
	email := domain.NormalizeEmail(in.Email)
	ident, err := s.identities.FindByEmailWithDigest(ctx, email)
	if err != nil {
		return nil, err
	}
	if ident == nil || in.Password == "" {
		s.loginFailed(ctx, "", "unknown_identity")
		return nil, autherr.ErrInvalidCredentials
	}
	now := s.now()
	if ident.IsLocked(now) {
		s.metrics.Login(s.def.Name, metrics.ResultLocked)
		return nil, &autherr.AccountLockedError{MinutesRemaining: minutesCeil(ident.LockRemaining(now))}
	}
	if err := s.admit(ctx, ident); err != nil {
		s.metrics.Login(s.def.Name, metrics.ResultDenied)
		return nil, err
	}
	if err := s.hasher.Compare(ident.PasswordHash, []byte(in.Password)); err != nil {
		attempts, lockUntil, ierr := s.identities.IncrementLoginAttempts(ctx, ident.ID, s.cfg.MaxLoginAttempts, s.cfg.LockDuration, now)
		if ierr != nil {
			return nil, ierr
		}
		s.loginFailed(ctx, ident.ID, "bad_password")
		if lockUntil != nil && lockUntil.After(now) && attempts >= s.cfg.MaxLoginAttempts {
			s.log.WarnContext(ctx, "account locked", "entity", s.def.Name, "identity_id", ident.ID, "attempts", attempts)
			s.events.Record(ctx, audit.Event{
				Action:     audit.ActionAccountLocked,
				AuthEntity: s.def.Name,
				IdentityID: ident.ID,
				Metadata:   map[string]string{"attempts": strconv.Itoa(attempts), "lock_until": lockUntil.Format(time.RFC3339)},
			})
		}
		return nil, autherr.ErrInvalidCredentials
	}

	if err := s.identities.RecordSuccessfulLogin(ctx, ident.ID, in.Device.IP, in.Device.UserAgent, now); err != nil {
		return nil, err
	}
	s.maybeRehash(ctx, ident, in.Password, now)

	issued, err := s.sessions.CreateSession(ctx, sessionservice.CreateParams{
		IdentityID: ident.ID,
		Email:      ident.Email,
		AuthEntity: s.def.Name,
		Role:       ident.Role,
		Device:     in.Device,
		Metadata:   in.Metadata,
	})
	if err != nil {
		return nil, err
	}
	s.metrics.Login(s.def.Name, metrics.ResultSuccess)
	s.events.Record(ctx, audit.Event{
		Action:     audit.ActionLoginSuccess,
		AuthEntity: s.def.Name,
		IdentityID: ident.ID,
		SessionID:  issued.Session.ID,
	})

	ident.LoginAttempts, ident.LockUntil, ident.LastLoginAt = 0, nil, &now
	return &LoginResult{Identity: ident.Sanitize(), Session: issued.Session.View(), Tokens: issued.Tokens}, nil
}

// admit applies the login admission policy, or the plain status check when no policy is configured.
func (s *AuthService) admit(ctx context.Context, ident *domain.Identity) error {
	if s.policy == nil {
		if ident.Status != domain.StatusActive {
			return autherr.ErrAccountNotActive
		}
		return nil
	}
	d, err := s.policy.EvaluateLogin(ctx, policyengine.LoginInput{
		Entity:               s.def.Name,
		RequireVerifiedEmail: s.def.Defaults.RequireVerifiedEmail,
		IdentityID:           ident.ID,
		Status:               string(ident.Status),
		Role:                 ident.Role,
		EmailVerified:        ident.EmailVerified,
	})
	if err != nil {
		return err
	}
	if d.Allow {
		return nil
	}
	if d.DenyReason == policyengine.DenyEmailNotVerified {
		return autherr.ErrEmailNotVerified
	}
	return autherr.ErrAccountNotActive
}

func (s *AuthService) loginFailed(ctx context.Context, identityID, reason string) {
	s.metrics.Login(s.def.Name, metrics.ResultFailure)
	s.events.Record(ctx, audit.Event{
		Action:     audit.ActionLoginFailure,
		AuthEntity: s.def.Name,
		IdentityID: identityID,
		Metadata:   map[string]string{"reason": reason},
	})
}

// maybeRehash upgrades a digest made with a different cost. Failures are logged only.
func (s *AuthService) maybeRehash(ctx context.Context, ident *domain.Identity, password string, now time.Time) {
	target := s.cfg.BcryptCost
	if target == 0 {
		target = s.hasher.Cost
	}
	if !s.hasher.NeedsRehash(ident.PasswordHash, target) {
		return
	}
	digest, err := security.NewHasher(target).Hash([]byte(password))
	if err == nil {
		err = s.identities.UpdatePassword(ctx, ident.ID, digest, now)
	}
	if err != nil {
		s.log.WarnContext(ctx, "password rehash failed", "identity_id", ident.ID, "error", err)
	}
}

// ChangePassword replaces the password after checking the current one, then ends every other session of the
// identity in this entity. It returns how many sessions were deactivated.
func (s *AuthService) ChangePassword(ctx context.Context, in ChangePasswordInput) (int64, error) {
	ident, err := s.identities.GetByID(ctx, in.IdentityID)
	if err != nil {
		return 0, err
	}
	if ident == nil {
		return 0, autherr.ErrIdentityNotFound
	}
	if !s.hasher.Matches(ident.PasswordHash, []byte(in.CurrentPassword)) {
		return 0, autherr.ErrInvalidCredentials
	}
	if _, err := security.CheckPassword(in.NewPassword); err != nil {
		return 0, err
	}
	if s.hasher.Matches(ident.PasswordHash, []byte(in.NewPassword)) {
		return 0, autherr.ErrSamePassword
	}
	if err := s.setPassword(ctx, ident.ID, in.NewPassword); err != nil {
		return 0, err
	}
	n, err := s.sessions.LogoutOthersInEntity(ctx, ident.Email, s.def.Name, in.SessionID)
	if err != nil {
		return 0, err
	}
	s.events.Record(ctx, audit.Event{
		Action:     audit.ActionPasswordChanged,
		AuthEntity: s.def.Name,
		IdentityID: ident.ID,
		SessionID:  in.SessionID,
		Metadata:   map[string]string{"sessions_ended": strconv.FormatInt(n, 10)},
	})
	return n, nil
}

// RequestPasswordReset issues a reset token for email and hands it to the notifier. It returns nil whether
// or not the email is registered.
func (s *AuthService) RequestPasswordReset(ctx context.Context, email string) error {
	ident, err := s.identities.FindByEmail(ctx, domain.NormalizeEmail(email))
	if err != nil {
		return err
	}
	if ident == nil || ident.Status != domain.StatusActive {
		return nil
	}
	token, err := security.GenerateResetToken()
	if err != nil {
		return err
	}
	if err := s.identities.SetResetToken(ctx, ident.ID, security.HashToken(token), s.now().Add(s.cfg.ResetTokenTTL)); err != nil {
		return err
	}
	if err := s.notifier.SendPasswordReset(ctx, s.def.Name, ident.Email, token); err != nil {
		s.log.ErrorContext(ctx, "password reset delivery failed", "identity_id", ident.ID, "error", err)
	}
	s.events.Record(ctx, audit.Event{Action: audit.ActionPasswordResetReq, AuthEntity: s.def.Name, IdentityID: ident.ID})
	return nil
}

// ResetPassword sets a new password using a reset token and ends the identity's sessions in every entity.
func (s *AuthService) ResetPassword(ctx context.Context, token, newPassword string) error {
	if token == "" {
		return autherr.ErrInvalidResetToken
	}
	ident, err := s.identities.FindByResetToken(ctx, security.HashToken(token))
	if err != nil {
		return err
	}
	now := s.now()
	if ident == nil || ident.ResetTokenExpiresAt == nil || !ident.ResetTokenExpiresAt.After(now) {
		return autherr.ErrInvalidResetToken
	}
	if err := s.setPassword(ctx, ident.ID, newPassword); err != nil {
		return err
	}
	n, err := s.sessions.LogoutAllEntities(ctx, ident.Email)
	if err != nil {
		return err
	}
	s.events.Record(ctx, audit.Event{
		Action:     audit.ActionPasswordReset,
		AuthEntity: s.def.Name,
		IdentityID: ident.ID,
		Metadata:   map[string]string{"sessions_ended": strconv.FormatInt(n, 10)},
	})
	return nil
}

// RequestEmailVerification issues a verification code for email. Unknown or already verified emails are a
// silent no-op.
func (s *AuthService) RequestEmailVerification(ctx context.Context, email string) error {
	ident, err := s.identities.FindByEmail(ctx, domain.NormalizeEmail(email))
	if err != nil {
		return err
	}
	if ident == nil || ident.EmailVerified {
		return nil
	}
	code, err := security.GenerateCode()
	if err != nil {
		return err
	}
	if err := s.identities.SetVerificationCode(ctx, ident.ID, security.HashToken(code), s.now().Add(s.cfg.VerificationCodeTTL)); err != nil {
		return err
	}
	if err := s.notifier.SendEmailVerification(ctx, s.def.Name, ident.Email, code); err != nil {
		s.log.ErrorContext(ctx, "verification delivery failed", "identity_id", ident.ID, "error", err)
	}
	s.events.Record(ctx, audit.Event{Action: audit.ActionVerificationReq, AuthEntity: s.def.Name, IdentityID: ident.ID})
	return nil
}

// VerifyEmail marks the email verified when code matches and has not expired.
func (s *AuthService) VerifyEmail(ctx context.Context, email, code string) error {
	email = domain.NormalizeEmail(email)
	if code == "" {
		return autherr.ErrInvalidVerificationCode
	}
	ident, err := s.identities.FindByVerificationCode(ctx, email, security.HashToken(code))
	if err != nil {
		return err
	}
	now := s.now()
	if ident == nil || ident.VerificationExpires == nil || !ident.VerificationExpires.After(now) {
		return autherr.ErrInvalidVerificationCode
	}
	if ident.EmailVerified {
		return autherr.ErrEmailAlreadyVerified
	}
	if err := s.identities.MarkEmailVerified(ctx, ident.ID, now); err != nil {
		return err
	}
	s.events.Record(ctx, audit.Event{Action: audit.ActionEmailVerified, AuthEntity: s.def.Name, IdentityID: ident.ID})
	return nil
}

// Identity returns the safe view of an identity of this entity.
func (s *AuthService) Identity(ctx context.Context, id string) (*domain.SafeView, error) {
	ident, err := s.identities.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if ident == nil {
		return nil, autherr.ErrIdentityNotFound
	}
	return ident.Sanitize(), nil
}

func (s *AuthService) setPassword(ctx context.Context, id, password string) error {
	if _, err := security.CheckPassword(password); err != nil {
		return err
	}
	digest, err := s.hasher.Hash([]byte(password))
	if err != nil {
		return err
	}
	return s.identities.UpdatePassword(ctx, id, digest, s.now())
}

var emailPattern = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)

func validateEmail(email string) error {
	if !emailPattern.MatchString(email) {
		return autherr.ErrInvalidEmail
	}
	return nil
}

func minutesCeil(d time.Duration) int {
	m := int(math.Ceil(d.Minutes()))
	if m < 1 {
		m = 1
	}
	return m
}
