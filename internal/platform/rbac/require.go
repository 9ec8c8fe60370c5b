// Package rbac holds the role checks handlers apply to the caller set by the auth interceptor.
package rbac

import (
	"context"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"multi-entity-auth/backend/internal/server/interceptors"
)

// RoleAdmin is the role carried by access tokens of administrators.
const RoleAdmin = "admin"

// RequireAuthenticated returns the caller, or Unauthenticated when the context has none.
func RequireAuthenticated(ctx context.Context) (interceptors.Principal, error) {
	p, ok := interceptors.PrincipalFrom(ctx)
	if !ok {
		return interceptors.Principal{}, status.Error(codes.Unauthenticated, "authenticated session required")
	}
	return p, nil
}

// RequireRole ensures the caller is authenticated and holds one of roles.
// Returns Unauthenticated or PermissionDenied on failure.
func RequireRole(ctx context.Context, roles ...string) (interceptors.Principal, error) {
	p, err := RequireAuthenticated(ctx)
	if err != nil {
		return interceptors.Principal{}, err
	}
	for _, r := range roles {
		if p.Role == r {
			return p, nil
		}
	}
	return interceptors.Principal{}, status.Error(codes.PermissionDenied, "insufficient role")
}

// RequireAdmin is RequireRole(ctx, RoleAdmin).
func RequireAdmin(ctx context.Context) (interceptors.Principal, error) {
	return RequireRole(ctx, RoleAdmin)
}
