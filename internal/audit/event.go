package audit

import "context"

// Security event actions.
const (
	ActionRegister         = "register"
	ActionLoginSuccess     = "login_success"
	ActionLoginFailure     = "login_failure"
	ActionAccountLocked    = "account_locked"
	ActionLogout           = "logout"
	ActionSessionCreated   = "session_created"
	ActionSessionRefreshed = "session_refreshed"
	ActionPasswordChanged  = "password_changed"
	ActionPasswordResetReq = "password_reset_requested"
	ActionPasswordReset    = "password_reset"
	ActionVerificationReq  = "email_verification_requested"
	ActionEmailVerified    = "email_verified"
	ActionSessionsPurged   = "sessions_purged"
	ActionAdminRPC         = "admin_rpc"
)

// Event is a security event raised by the auth and session services.
type Event struct {
	Action     string
	AuthEntity string
	IdentityID string
	SessionID  string
	Metadata   map[string]string
}

// Recorder receives security events. Recording is best-effort and never fails the caller.
type Recorder interface {
	Record(ctx context.Context, e Event)
}

// Multi fans an event out to every non-nil recorder.
func Multi(recorders ...Recorder) Recorder {
	var out multi
	for _, r := range recorders {
		if r != nil {
			out = append(out, r)
		}
	}
	return out
}

type multi []Recorder

func (m multi) Record(ctx context.Context, e Event) {
	for _, r := range m {
		r.Record(ctx, e)
	}
}

// Nop discards events.
type Nop struct{}

func (Nop) Record(context.Context, Event) {}
