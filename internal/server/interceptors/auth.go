package interceptors

import (
	"context"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	sessionservice "multi-entity-auth/backend/internal/session/service"
)

const bearerPrefix = "bearer "

// SessionValidator checks an access token against its session record.
type SessionValidator interface {
	ValidateTokenAndSession(ctx context.Context, token string, client sessionservice.ClientInfo) (*sessionservice.Validated, bool)
}

// AuthUnary returns a unary server interceptor that validates the Bearer access token and its
// session, and sets the caller Principal in context for protected RPCs. Tokens issued for an auth
// entity other than entity are rejected; an empty entity accepts any. publicMethods is the set of
// full method names that do not require a token; a bad token on a public method is ignored.
// Every rejection reads the same so callers cannot tell why a token failed.
func AuthUnary(sessions SessionValidator, entity string, publicMethods map[string]bool) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		token := extractBearer(ctx)
		public := publicMethods[info.FullMethod]

		if token == "" {
			if public {
				return handler(ctx, req)
			}
			return nil, status.Error(codes.Unauthenticated, "missing or invalid authorization")
		}

		v, ok := sessions.ValidateTokenAndSession(ctx, token, sessionservice.ClientInfo{
			IP:        ClientIP(ctx),
			UserAgent: UserAgent(ctx),
		})
		if ok && entity != "" && v.Session.AuthEntity != entity {
			ok = false
		}
		if !ok {
			if public {
				return handler(ctx, req)
			}
			return nil, status.Error(codes.Unauthenticated, "missing or invalid authorization")
		}

		ctx = WithPrincipal(ctx, Principal{
			IdentityID: v.Claims.IdentityID(),
			Email:      v.Session.Email,
			AuthEntity: v.Session.AuthEntity,
			SessionID:  v.Session.ID,
			Role:       v.Claims.Role,
		})
		return handler(ctx, req)
	}
}

// extractBearer returns the Bearer token from ctx metadata, or "" if missing or malformed.
func extractBearer(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	vals := md.Get("authorization")
	if len(vals) == 0 {
		return ""
	}
	v := strings.TrimSpace(vals[0])
	if len(v) < len(bearerPrefix) || !strings.EqualFold(v[:len(bearerPrefix)], bearerPrefix) {
		return ""
	}
	return strings.TrimSpace(v[len(bearerPrefix):])
}

// UserAgent returns the client's user-agent metadata, or "".
func UserAgent(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	if vals := md.Get("user-agent"); len(vals) > 0 {
		return vals[0]
	}
	return ""
}
