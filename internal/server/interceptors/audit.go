package interceptors

import (
	"context"
	"net"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"

	"multi-entity-auth/backend/internal/audit"
)

// AuditUnary returns a unary server interceptor that records an admin_rpc event after each call to
// one of methods. Only authenticated calls are recorded; recording never fails the RPC.
func AuditUnary(recorder audit.Recorder, methods map[string]bool) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		resp, err := handler(ctx, req)
		if recorder == nil || !methods[info.FullMethod] {
			return resp, err
		}
		p, ok := PrincipalFrom(ctx)
		if !ok {
			return resp, err
		}
		recorder.Record(ctx, audit.Event{
			Action:     audit.ActionAdminRPC,
			AuthEntity: p.AuthEntity,
			IdentityID: p.IdentityID,
			SessionID:  p.SessionID,
			Metadata: map[string]string{
				"method": audit.MethodName(info.FullMethod),
				"code":   status.Code(err).String(),
				"ip":     ClientIP(ctx),
			},
		})
		return resp, err
	}
}

// ClientIP returns the client IP from gRPC metadata (x-forwarded-for, x-real-ip) or peer, or "unknown".
func ClientIP(ctx context.Context) string {
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if vals := md.Get("x-forwarded-for"); len(vals) > 0 {
			if s := strings.TrimSpace(vals[0]); s != "" {
				if i := strings.Index(s, ","); i > 0 {
					s = strings.TrimSpace(s[:i])
				}
				return s
			}
		}
		if vals := md.Get("x-real-ip"); len(vals) > 0 {
			if s := strings.TrimSpace(vals[0]); s != "" {
				return s
			}
		}
	}
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		if host, _, err := net.SplitHostPort(p.Addr.String()); err == nil {
			return host
		}
		return p.Addr.String()
	}
	return "unknown"
}
