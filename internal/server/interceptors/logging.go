package interceptors

import (
	"context"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// LoggingUnary returns a unary server interceptor that logs one line per RPC. Server-side failures
// log at error, client errors at warn, and skipMethods (e.g. health checks) are not logged.
func LoggingUnary(log *slog.Logger, skipMethods map[string]bool) grpc.UnaryServerInterceptor {
	if log == nil {
		log = slog.Default()
	}
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		if skipMethods[info.FullMethod] {
			return resp, err
		}
		code := status.Code(err)
		attrs := []any{
			"method", info.FullMethod,
			"code", code.String(),
			"duration_ms", time.Since(start).Milliseconds(),
			"client_ip", ClientIP(ctx),
		}
		if p, ok := PrincipalFrom(ctx); ok {
			attrs = append(attrs, "identity_id", p.IdentityID, "session_id", p.SessionID)
		}
		switch code {
		case codes.OK:
			log.InfoContext(ctx, "rpc", attrs...)
		case codes.Internal, codes.Unknown, codes.Unavailable, codes.DataLoss:
			log.ErrorContext(ctx, "rpc", append(attrs, "error", err)...)
		default:
			log.WarnContext(ctx, "rpc", attrs...)
		}
		return resp, err
	}
}
