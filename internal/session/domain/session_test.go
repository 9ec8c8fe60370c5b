package domain

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
)

func activeSession(now time.Time) *Session {
	return &Session{
		ID:               "s1",
		State:            StateActive,
		AccessTokenHash:  "access-digest",
		RefreshTokenHash: "refresh-digest",
		RefreshExpiresAt: now.Add(time.Hour),
	}
}

func TestSession_DeactivateIsTerminal(t *testing.T) {
	now := time.Now()
	s := activeSession(now)
	if !s.Deactivate(now) {
		t.Fatal("first Deactivate should transition")
	}
	if s.IsActive() || s.DeactivatedAt == nil {
		t.Fatalf("unexpected state after deactivate: %+v", s)
	}
	if s.Deactivate(now.Add(time.Minute)) {
		t.Error("second Deactivate must be a no-op")
	}
	if !s.DeactivatedAt.Equal(now) {
		t.Error("DeactivatedAt must keep the first transition time")
	}
}

func TestSession_RotateRequiresActive(t *testing.T) {
	now := time.Now()
	s := activeSession(now)
	exp := now.Add(2 * time.Hour)
	if err := s.Rotate("a2", "r2", now.Add(time.Hour), exp, now); err != nil {
		t.Fatalf("Rotate: %v", err)
	}
	if s.RefreshTokenHash != "r2" || !s.ExpiresAt.Equal(exp) {
		t.Errorf("rotate did not apply: %+v", s)
	}
	s.Deactivate(now)
	if err := s.Rotate("a3", "r3", now, now, now); !errors.Is(err, ErrNotActive) {
		t.Errorf("Rotate on inactive: want ErrNotActive, got %v", err)
	}
	if s.RefreshTokenHash != "r2" {
		t.Error("inactive session must not change tokens")
	}
}

func TestSession_RefreshExpired(t *testing.T) {
	now := time.Now()
	s := activeSession(now)
	if s.RefreshExpired(now) {
		t.Error("refresh should not be expired")
	}
	if !s.RefreshExpired(now.Add(time.Hour)) {
		t.Error("refresh at exact expiry is expired")
	}
}

func TestSession_Touch(t *testing.T) {
	now := time.Now()
	s := activeSession(now)
	s.Device.IP = "10.0.0.1"
	s.Touch(now, "", "curl/8")
	if s.Device.IP != "10.0.0.1" || s.Device.UserAgent != "curl/8" || !s.LastActivityAt.Equal(now) {
		t.Errorf("unexpected touch result: %+v", s.Device)
	}
}

func TestSession_ViewOmitsTokens(t *testing.T) {
	s := activeSession(time.Now())
	b, err := json.Marshal(s.View())
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(b), "digest") {
		t.Errorf("view leaks token material: %s", b)
	}
	if !strings.Contains(string(b), `"active":true`) {
		t.Errorf("view should carry active flag: %s", b)
	}
}

func TestState_String(t *testing.T) {
	if StateFromActive(true).String() != "active" || StateFromActive(false).String() != "inactive" {
		t.Error("unexpected state names")
	}
	if State(0).String() != "unknown" {
		t.Error("zero state should be unknown")
	}
}
