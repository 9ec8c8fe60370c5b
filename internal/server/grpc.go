// Package server assembles the gRPC server: interceptor chain, OpenTelemetry stats handler,
// AuthService and the standard health service.
package server

import (
	"log/slog"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"multi-entity-auth/backend/internal/audit"
	identityhandler "multi-entity-auth/backend/internal/identity/handler"
	"multi-entity-auth/backend/internal/server/interceptors"
)

// healthCheckMethod is not logged.
const healthCheckMethod = "/grpc.health.v1.Health/Check"

// Deps holds what the server needs to serve AuthService.
type Deps struct {
	// Auth serves AuthService. If nil, only the health service is registered.
	Auth *identityhandler.Server
	// Sessions validates access tokens for protected RPCs.
	Sessions interceptors.SessionValidator
	// Entity restricts accepted tokens to one auth entity.
	Entity string
	// Events records admin RPCs. Nil disables auditing.
	Events audit.Recorder
	// Limiter throttles credential RPCs per client IP. Nil disables limiting.
	Limiter *interceptors.LimiterRegistry
	Log     *slog.Logger
}

// NewGRPCServer builds a server with the interceptor chain in this order: logging, rate limit,
// auth, audit. It returns the health server so the caller can drive it.
func NewGRPCServer(deps Deps, opts ...grpc.ServerOption) (*grpc.Server, *grpchealth.Server) {
	base := []grpc.ServerOption{
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(UnaryInterceptors(deps)...),
	}
	s := grpc.NewServer(append(base, opts...)...)
	return s, RegisterServices(s, deps)
}

// UnaryInterceptors returns the interceptor chain for deps.
func UnaryInterceptors(deps Deps) []grpc.UnaryServerInterceptor {
	return []grpc.UnaryServerInterceptor{
		interceptors.LoggingUnary(deps.Log, map[string]bool{healthCheckMethod: true}),
		interceptors.RateLimitUnary(deps.Limiter, identityhandler.RateLimitedMethods),
		interceptors.AuthUnary(deps.Sessions, deps.Entity, publicMethods()),
		interceptors.AuditUnary(deps.Events, identityhandler.AdminMethods),
	}
}

func publicMethods() map[string]bool {
	m := make(map[string]bool, len(identityhandler.PublicMethods)+2)
	for k, v := range identityhandler.PublicMethods {
		m[k] = v
	}
	m[healthCheckMethod] = true
	m["/grpc.health.v1.Health/List"] = true
	return m
}

// RegisterServices registers AuthService (when configured) and the health service.
//
//   - auth.v1.AuthService   → internal/identity/handler
//   - grpc.health.v1.Health → google.golang.org/grpc/health, driven by internal/health
func RegisterServices(s grpc.ServiceRegistrar, deps Deps) *grpchealth.Server {
	hs := grpchealth.NewServer()
	healthpb.RegisterHealthServer(s, hs)
	if deps.Auth != nil {
		s.RegisterService(&identityhandler.ServiceDesc, deps.Auth)
		hs.SetServingStatus(identityhandler.ServiceName, healthpb.HealthCheckResponse_SERVING)
	}
	return hs
}
