package interceptors

import "context"

type contextKey struct{ name string }

var principalKey = contextKey{"principal"}

// Principal is the caller resolved from a validated access token and its active session.
type Principal struct {
	IdentityID string
	Email      string
	AuthEntity string
	SessionID  string
	Role       string
}

// WithPrincipal returns a context carrying p.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

// PrincipalFrom returns the caller set by AuthUnary and true, or a zero Principal and false.
func PrincipalFrom(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey).(Principal)
	if !ok || p.IdentityID == "" || p.SessionID == "" {
		return Principal{}, false
	}
	return p, true
}

// GetIdentityID returns the caller's identity id, or "", false.
func GetIdentityID(ctx context.Context) (string, bool) {
	p, ok := PrincipalFrom(ctx)
	return p.IdentityID, ok
}

// GetSessionID returns the caller's session id, or "", false.
func GetSessionID(ctx context.Context) (string, bool) {
	p, ok := PrincipalFrom(ctx)
	return p.SessionID, ok
}
