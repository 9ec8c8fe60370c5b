package domain

import (
	"errors"
	"time"
)

// ErrNotActive is returned when a transition requires an active session.
var ErrNotActive = errors.New("session: not active")

// State is the lifecycle state of a session. Inactive is terminal.
type State uint8

const (
	StateActive State = iota + 1
	StateInactive
)

func (s State) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateInactive:
		return "inactive"
	default:
		return "unknown"
	}
}

// StateFromActive maps the stored active flag to a State.
func StateFromActive(active bool) State {
	if active {
		return StateActive
	}
	return StateInactive
}

// DeviceInfo is the optional client context a session is created with.
type DeviceInfo struct {
	Name      string
	Type      string
	IP        string
	UserAgent string
}

// Session is one logged-in client for one identity in one auth entity. Only digests of the
// current token pair are kept.
type Session struct {
	ID               string
	IdentityID       string
	Email            string
	AuthEntity       string
	Role             string // embedded in access tokens issued on refresh
	AccessTokenHash  string
	RefreshTokenHash string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
	ExpiresAt        time.Time // mirrors RefreshExpiresAt
	State            State
	LastActivityAt   time.Time
	DeactivatedAt    *time.Time
	Device           DeviceInfo
	Metadata         map[string]string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// IsActive reports whether the session is in the Active state.
func (s *Session) IsActive() bool { return s.State == StateActive }

// RefreshExpired reports whether the refresh token has expired at now.
func (s *Session) RefreshExpired(now time.Time) bool { return !s.RefreshExpiresAt.After(now) }

// Deactivate moves an active session to Inactive and reports whether it changed anything.
func (s *Session) Deactivate(now time.Time) bool {
	if s.State != StateActive {
		return false
	}
	s.State = StateInactive
	s.DeactivatedAt = &now
	s.LastActivityAt = now
	s.UpdatedAt = now
	return true
}

// Rotate replaces the token digests and expiries. Only an active session can rotate.
func (s *Session) Rotate(accessHash, refreshHash string, accessExp, refreshExp, now time.Time) error {
	if s.State != StateActive {
		return ErrNotActive
	}
	s.AccessTokenHash = accessHash
	s.RefreshTokenHash = refreshHash
	s.AccessExpiresAt = accessExp
	s.RefreshExpiresAt = refreshExp
	s.ExpiresAt = refreshExp
	s.LastActivityAt = now
	s.UpdatedAt = now
	return nil
}

// Touch bumps last activity and records the latest client address when given.
func (s *Session) Touch(now time.Time, ip, userAgent string) {
	s.LastActivityAt = now
	s.UpdatedAt = now
	if ip != "" {
		s.Device.IP = ip
	}
	if userAgent != "" {
		s.Device.UserAgent = userAgent
	}
}

// SafeView is a session without token material.
type SafeView struct {
	ID               string            `json:"id"`
	IdentityID       string            `json:"identityId"`
	Email            string            `json:"email"`
	AuthEntity       string            `json:"authEntity"`
	Active           bool              `json:"active"`
	AccessExpiresAt  time.Time         `json:"accessTokenExpiresAt"`
	RefreshExpiresAt time.Time         `json:"refreshTokenExpiresAt"`
	ExpiresAt        time.Time         `json:"expiresAt"`
	LastActivityAt   time.Time         `json:"lastActivity"`
	DeviceName       string            `json:"deviceName,omitempty"`
	DeviceType       string            `json:"deviceType,omitempty"`
	IPAddress        string            `json:"ipAddress,omitempty"`
	UserAgent        string            `json:"userAgent,omitempty"`
	Metadata         map[string]string `json:"metadata,omitempty"`
	CreatedAt        time.Time         `json:"createdAt"`
}

// View returns the safe view of s.
func (s *Session) View() *SafeView {
	if s == nil {
		return nil
	}
	return &SafeView{
		ID:               s.ID,
		IdentityID:       s.IdentityID,
		Email:            s.Email,
		AuthEntity:       s.AuthEntity,
		Active:           s.IsActive(),
		AccessExpiresAt:  s.AccessExpiresAt,
		RefreshExpiresAt: s.RefreshExpiresAt,
		ExpiresAt:        s.ExpiresAt,
		LastActivityAt:   s.LastActivityAt,
		DeviceName:       s.Device.Name,
		DeviceType:       s.Device.Type,
		IPAddress:        s.Device.IP,
		UserAgent:        s.Device.UserAgent,
		Metadata:         s.Metadata,
		CreatedAt:        s.CreatedAt,
	}
}

// Stats summarises active sessions.
type Stats struct {
	TotalActive int64            `json:"totalActive"`
	UniqueUsers int64            `json:"uniqueUsers"`
	ByEntity    map[string]int64 `json:"byEntity"`
}
