package handler

import (
	"time"

	"multi-entity-auth/backend/internal/identity/domain"
	"multi-entity-auth/backend/internal/security"
	sessiondomain "multi-entity-auth/backend/internal/session/domain"
)

// Device is the optional client description sent with Register and Login.
type Device struct {
	Name string `json:"name,omitempty"`
	Type string `json:"type,omitempty"`
}

// Tokens is an issued access/refresh pair.
type Tokens struct {
	AccessToken           string    `json:"accessToken"`
	RefreshToken          string    `json:"refreshToken"`
	AccessTokenExpiresAt  time.Time `json:"accessTokenExpiresAt"`
	RefreshTokenExpiresAt time.Time `json:"refreshTokenExpiresAt"`
}

func tokensFrom(p *security.TokenPair) *Tokens {
	if p == nil {
		return nil
	}
	return &Tokens{
		AccessToken:           p.AccessToken,
		RefreshToken:          p.RefreshToken,
		AccessTokenExpiresAt:  p.AccessExpiresAt,
		RefreshTokenExpiresAt: p.RefreshExpiresAt,
	}
}

type RegisterRequest struct {
	Email     string  `json:"email"`
	Password  string  `json:"password"`
	Username  string  `json:"username,omitempty"`
	FirstName string  `json:"firstName,omitempty"`
	LastName  string  `json:"lastName,omitempty"`
	Device    *Device `json:"device,omitempty"`
}

type RegisterResponse struct {
	Identity      *domain.SafeView        `json:"identity"`
	Session       *sessiondomain.SafeView `json:"session,omitempty"`
	Tokens        *Tokens                 `json:"tokens,omitempty"`
	PasswordScore int                     `json:"passwordScore"`
}

type LoginRequest struct {
	Email    string            `json:"email"`
	Password string            `json:"password"`
	Device   *Device           `json:"device,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

type LoginResponse struct {
	Identity *domain.SafeView        `json:"identity"`
	Session  *sessiondomain.SafeView `json:"session"`
	Tokens   *Tokens                 `json:"tokens"`
}

type Empty struct{}

// CountResponse reports how many sessions or rows an operation affected.
type CountResponse struct {
	Count int64 `json:"count"`
}

type RefreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type RefreshResponse struct {
	Session *sessiondomain.SafeView `json:"session"`
	Tokens  *Tokens                 `json:"tokens"`
}

type ValidateTokenRequest struct {
	Token string `json:"token"`
}

// ValidateTokenResponse is Valid=false with nothing else for every rejected token.
type ValidateTokenResponse struct {
	Valid      bool                    `json:"valid"`
	IdentityID string                  `json:"identityId,omitempty"`
	Email      string                  `json:"email,omitempty"`
	AuthEntity string                  `json:"authEntity,omitempty"`
	Role       string                  `json:"role,omitempty"`
	Session    *sessiondomain.SafeView `json:"session,omitempty"`
}

type EmailRequest struct {
	Email string `json:"email"`
}

type ResetPasswordRequest struct {
	Token       string `json:"token"`
	NewPassword string `json:"newPassword"`
}

type ChangePasswordRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

type VerifyEmailRequest struct {
	Email string `json:"email"`
	Code  string `json:"code"`
}

type IdentityResponse struct {
	Identity *domain.SafeView `json:"identity"`
}

type SessionsResponse struct {
	Sessions []*sessiondomain.SafeView `json:"sessions"`
}

type SessionStatsRequest struct {
	// Entity filters the stats; empty covers every entity.
	Entity string `json:"entity,omitempty"`
}

type PurgeInactiveRequest struct {
	DaysOld int `json:"daysOld"`
}

type DevOutboxRequest struct {
	Email string `json:"email"`
	// Kind is password_reset or email_verification.
	Kind string `json:"kind"`
}

type DevOutboxResponse struct {
	Secret    string    `json:"secret"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type SessionStatsResponse struct {
	Stats *sessiondomain.Stats `json:"stats"`
}
